package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/domain"
)

// LeaderboardRefresher is the slice of the leaderboard service the warmer needs
type LeaderboardRefresher interface {
	ListGameModes(ctx context.Context) ([]string, error)
	Refresh(ctx context.Context, q domain.LeaderboardQuery) error
}

// CacheWarmer periodically reloads the first leaderboard page of every
// game mode into the cache, so the common request rarely hits the database
type CacheWarmer struct {
	leaderboards LeaderboardRefresher
	config       *config.CacheConfig
	pageLimit    int
	logger       *slog.Logger
	stopCh       chan struct{}
	doneCh       chan struct{}
	mu           sync.Mutex
	running      bool
}

// NewCacheWarmer creates a new cache warmer. pageLimit is the page size
// clients request by default.
func NewCacheWarmer(
	leaderboards LeaderboardRefresher,
	cfg *config.CacheConfig,
	pageLimit int,
	logger *slog.Logger,
) *CacheWarmer {
	return &CacheWarmer{
		leaderboards: leaderboards,
		config:       cfg,
		pageLimit:    pageLimit,
		logger:       logger,
	}
}

// Start warms once and then keeps warming on every interval tick
func (w *CacheWarmer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("cache warmer started", "interval", w.config.WarmInterval)

	go w.run(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop stops the background loop and waits for it to exit
func (w *CacheWarmer) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.logger.Info("cache warmer stopped")
	return nil
}

// run is the main worker loop
func (w *CacheWarmer) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	w.warmAll(ctx)

	ticker := time.NewTicker(w.config.WarmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.warmAll(ctx)
		}
	}
}

// warmAll refreshes the first page of each game mode and returns how many succeeded
func (w *CacheWarmer) warmAll(ctx context.Context) int {
	startTime := time.Now()

	modes, err := w.leaderboards.ListGameModes(ctx)
	if err != nil {
		w.logger.Error("failed to list game modes for warming", "error", err)
		return 0
	}

	warmed := 0
	errorCount := 0
	for _, mode := range modes {
		q := domain.LeaderboardQuery{GameMode: mode, Limit: w.pageLimit}
		if err := w.leaderboards.Refresh(ctx, q); err != nil {
			w.logger.Warn("failed to warm leaderboard", "game_mode", mode, "error", err)
			errorCount++
			continue
		}
		warmed++
	}

	w.logger.Info("cache warm cycle completed",
		"duration", time.Since(startTime),
		"warmed", warmed,
		"errors", errorCount,
	)
	return warmed
}

// IsRunning returns whether the worker is currently running
func (w *CacheWarmer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single warm cycle
func (w *CacheWarmer) RunOnce(ctx context.Context) int {
	return w.warmAll(ctx)
}
