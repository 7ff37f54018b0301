package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/domain"
)

// LeaderboardService derives ranked views from the score ledger
type LeaderboardService struct {
	scores ScoreStore
	cache  LeaderboardCache
	config *config.LeaderboardConfig
	logger *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service. cache may be nil.
func NewLeaderboardService(
	scores ScoreStore,
	cache LeaderboardCache,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		scores: scores,
		cache:  cache,
		config: cfg,
		logger: logger,
	}
}

// Normalize applies defaults and silently clamps the limit and offset
func (s *LeaderboardService) Normalize(req domain.LeaderboardRequest) domain.LeaderboardQuery {
	q := domain.LeaderboardQuery{
		GameMode: req.GameMode,
		Limit:    clampLimit(req.Limit, s.config.DefaultLimit, s.config.MaxLimit),
		Offset:   req.Offset,
	}
	if q.GameMode == "" {
		q.GameMode = domain.DefaultGameMode
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// GetLeaderboard returns one page of a game mode's leaderboard ordered by
// score descending, earlier submissions first among equal scores.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, req domain.LeaderboardRequest) (*domain.LeaderboardPage, error) {
	q := s.Normalize(req)

	if len([]rune(q.GameMode)) > domain.MaxGameModeLength {
		verr := domain.NewValidationError("invalid query")
		verr.Add("gameMode", fmt.Sprintf("must be at most %d characters", domain.MaxGameModeLength))
		return nil, verr
	}

	entries, err := s.load(ctx, q)
	if err != nil {
		return nil, err
	}

	return &domain.LeaderboardPage{
		Leaderboard: entries,
		Limit:       q.Limit,
		Offset:      q.Offset,
		GameMode:    q.GameMode,
	}, nil
}

// load reads through the cache when one is configured. The cache version
// is read before storage so a submission landing mid-load orphans the
// page instead of hiding behind it.
func (s *LeaderboardService) load(ctx context.Context, q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, error) {
	if s.cache == nil {
		return s.page(ctx, q)
	}

	version, err := s.cache.Version(ctx, q.GameMode)
	if err != nil {
		s.logger.Warn("leaderboard cache read failed", "game_mode", q.GameMode, "error", err)
		return s.page(ctx, q)
	}

	entries, ok, err := s.cache.GetPage(ctx, q, version)
	if err != nil {
		s.logger.Warn("leaderboard cache read failed", "game_mode", q.GameMode, "error", err)
	} else if ok {
		return entries, nil
	}

	entries, err = s.page(ctx, q)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetPage(ctx, q, version, entries); err != nil {
		s.logger.Warn("leaderboard cache write failed", "game_mode", q.GameMode, "error", err)
	}
	return entries, nil
}

func (s *LeaderboardService) page(ctx context.Context, q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, error) {
	entries, err := s.scores.LeaderboardPage(ctx, q.GameMode, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard page: %w", err)
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return entries, nil
}

// Refresh reloads a page from storage and stores it in the cache
func (s *LeaderboardService) Refresh(ctx context.Context, q domain.LeaderboardQuery) error {
	if s.cache == nil {
		return nil
	}
	q = s.Normalize(domain.LeaderboardRequest{GameMode: q.GameMode, Limit: &q.Limit, Offset: q.Offset})

	version, err := s.cache.Version(ctx, q.GameMode)
	if err != nil {
		return err
	}

	entries, err := s.page(ctx, q)
	if err != nil {
		return err
	}
	return s.cache.SetPage(ctx, q, version, entries)
}

// ListGameModes returns every game mode that has at least one score
func (s *LeaderboardService) ListGameModes(ctx context.Context) ([]string, error) {
	return s.scores.ListGameModes(ctx)
}
