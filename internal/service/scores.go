package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/domain"
)

type scoreInput struct {
	CharacterID *string `json:"characterId" validate:"omitempty,uuid"`
	Score       *int64  `json:"score" validate:"required,gte=0,lte=2147483647"`
	Distance    *int64  `json:"distance" validate:"required,gte=0,lte=2147483647"`
	GameMode    string  `json:"gameMode" validate:"max=50"`
}

// ScoreService validates and records score submissions
type ScoreService struct {
	scores     ScoreStore
	characters CharacterStore
	cache      LeaderboardCache
	publisher  ScorePublisher
	config     *config.LeaderboardConfig
	logger     *slog.Logger
}

// NewScoreService creates a new score service. cache and publisher may be nil.
func NewScoreService(
	scores ScoreStore,
	characters CharacterStore,
	cache LeaderboardCache,
	publisher ScorePublisher,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *ScoreService {
	return &ScoreService{
		scores:     scores,
		characters: characters,
		cache:      cache,
		publisher:  publisher,
		config:     cfg,
		logger:     logger,
	}
}

// SetPublisher replaces the live score publisher
func (s *ScoreService) SetPublisher(publisher ScorePublisher) {
	s.publisher = publisher
}

// SubmitScore records a score for submitterID and returns it with its rank.
// The rank is one plus the number of scores in the same game mode that are
// strictly greater, counted right after the insert. A concurrent submission
// landing between the insert and the count may shift it by one.
func (s *ScoreService) SubmitScore(ctx context.Context, submitterID string, submission domain.ScoreSubmission) (*domain.SubmissionResult, error) {
	gameMode := submission.GameMode
	if gameMode == "" {
		gameMode = domain.DefaultGameMode
	}

	characterID := submission.CharacterID
	if characterID != nil && *characterID == "" {
		characterID = nil
	}

	in := scoreInput{
		CharacterID: characterID,
		Score:       submission.Score,
		Distance:    submission.Distance,
		GameMode:    gameMode,
	}
	if err := validateStruct("invalid input", in); err != nil {
		return nil, err
	}

	if characterID != nil {
		if _, err := s.characters.FindCharacterByOwner(ctx, submitterID, *characterID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("character not found or does not belong to user: %w", domain.ErrNotFound)
			}
			return nil, fmt.Errorf("checking character ownership: %w", err)
		}
	}

	stored, err := s.scores.InsertScore(ctx, domain.Score{
		UserID:      submitterID,
		CharacterID: characterID,
		Score:       *in.Score,
		Distance:    *in.Distance,
		GameMode:    gameMode,
	})
	if err != nil {
		return nil, fmt.Errorf("inserting score: %w", err)
	}

	greater, err := s.scores.CountGreaterScores(ctx, gameMode, stored.Score)
	if err != nil {
		return nil, fmt.Errorf("computing rank: %w", err)
	}
	rank := greater + 1

	s.afterInsert(ctx, stored, rank)

	return &domain.SubmissionResult{Score: *stored, Rank: rank}, nil
}

// afterInsert invalidates cached pages and announces the score. Neither
// step can fail the submission.
func (s *ScoreService) afterInsert(ctx context.Context, stored *domain.Score, rank int64) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, stored.GameMode); err != nil {
			s.logger.Warn("failed to invalidate leaderboard cache",
				"game_mode", stored.GameMode,
				"error", err,
			)
		}
	}

	if s.publisher != nil {
		event := domain.ScoreEvent{
			ScoreID:   stored.ID,
			UserID:    stored.UserID,
			GameMode:  stored.GameMode,
			Score:     stored.Score,
			Distance:  stored.Distance,
			Rank:      rank,
			Timestamp: time.Now(),
		}
		if err := s.publisher.PublishScore(ctx, event); err != nil {
			s.logger.Warn("failed to publish score event",
				"score_id", stored.ID,
				"error", err,
			)
		}
	}

	s.logger.Info("score recorded",
		"user_id", stored.UserID,
		"game_mode", stored.GameMode,
		"score", stored.Score,
		"rank", rank,
	)
}

// GetMyScores returns the user's own scores across all game modes, newest
// first. A nil limit uses the configured history default.
func (s *ScoreService) GetMyScores(ctx context.Context, userID string, requested *int) ([]domain.ScoreHistoryEntry, error) {
	limit := clampLimit(requested, s.config.DefaultHistoryLimit, s.config.MaxLimit)

	scores, err := s.scores.ScoresByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scores: %w", err)
	}
	if scores == nil {
		scores = []domain.ScoreHistoryEntry{}
	}
	return scores, nil
}

// clampLimit applies defaultLimit when no limit was requested and clamps
// the result to [1, maxLimit], never above domain.MaxLeaderboardLimit.
func clampLimit(requested *int, defaultLimit, maxLimit int) int {
	if maxLimit <= 0 || maxLimit > domain.MaxLeaderboardLimit {
		maxLimit = domain.MaxLeaderboardLimit
	}
	limit := defaultLimit
	if requested != nil {
		limit = *requested
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}
