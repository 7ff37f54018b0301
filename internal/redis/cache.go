package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/domain"
)

// LeaderboardCache caches leaderboard pages in Redis. Page keys embed a
// global version and a per-game-mode version; bumping a version orphans
// the old pages, which then expire through their TTL.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLeaderboardCache connects to Redis and creates a cache
func NewLeaderboardCache(cfg *config.RedisConfig, ttl time.Duration, logger *slog.Logger) (*LeaderboardCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewLeaderboardCacheWithClient(client, ttl, logger), nil
}

// NewLeaderboardCacheWithClient wraps an existing client
func NewLeaderboardCacheWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}

// Ping checks Redis connectivity
func (c *LeaderboardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// globalVersionKey returns the key bumped when every page must go
func (c *LeaderboardCache) globalVersionKey() string {
	return "leaderboard:version"
}

// modeVersionKey returns the key bumped when a game mode's pages must go
func (c *LeaderboardCache) modeVersionKey(gameMode string) string {
	return fmt.Sprintf("leaderboard:%s:version", gameMode)
}

// pageKey returns the key of one cached page
func (c *LeaderboardCache) pageKey(q domain.LeaderboardQuery, v domain.CacheVersion) string {
	return fmt.Sprintf("leaderboard:%s:page:%d:%d:%d:%d", q.GameMode, v.Global, v.Mode, q.Limit, q.Offset)
}

// Version reads the global and game mode versions in one round trip
func (c *LeaderboardCache) Version(ctx context.Context, gameMode string) (domain.CacheVersion, error) {
	vals, err := c.client.MGet(ctx, c.globalVersionKey(), c.modeVersionKey(gameMode)).Result()
	if err != nil {
		return domain.CacheVersion{}, fmt.Errorf("getting cache versions: %w", err)
	}
	return domain.CacheVersion{Global: parseVersion(vals[0]), Mode: parseVersion(vals[1])}, nil
}

func parseVersion(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// GetPage returns the page cached under version v; ok is false on a miss
func (c *LeaderboardCache) GetPage(ctx context.Context, q domain.LeaderboardQuery, v domain.CacheVersion) ([]domain.LeaderboardEntry, bool, error) {
	data, err := c.client.Get(ctx, c.pageKey(q, v)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getting cached page: %w", err)
	}

	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, fmt.Errorf("decoding cached page: %w", err)
	}
	return entries, true, nil
}

// SetPage stores a page under version v, which must have been read before
// the page was loaded. If an invalidation happened since, the page lands
// under a dead version and is never read.
func (c *LeaderboardCache) SetPage(ctx context.Context, q domain.LeaderboardQuery, v domain.CacheVersion, entries []domain.LeaderboardEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding page: %w", err)
	}

	if err := c.client.Set(ctx, c.pageKey(q, v), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("setting cached page: %w", err)
	}
	return nil
}

// Invalidate drops every cached page of a game mode
func (c *LeaderboardCache) Invalidate(ctx context.Context, gameMode string) error {
	if err := c.client.Incr(ctx, c.modeVersionKey(gameMode)).Err(); err != nil {
		return fmt.Errorf("invalidating game mode: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached page of every game mode
func (c *LeaderboardCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.globalVersionKey()).Err(); err != nil {
		return fmt.Errorf("invalidating leaderboards: %w", err)
	}
	return nil
}
