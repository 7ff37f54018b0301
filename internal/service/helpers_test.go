package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/racingrun/backend/internal/auth"
	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/domain"
	"github.com/racingrun/backend/internal/memory"
)

var (
	pngImage  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	jpegImage = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleteErr error
	putErr    error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(_ context.Context, path, _ string, data []byte) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "https://blobs.test/" + path
	f.objects[url] = data
	return url, nil
}

func (f *fakeBlobs) Delete(_ context.Context, url string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[url]; !ok {
		return errors.New("no such blob")
	}
	delete(f.objects, url)
	return nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.ScoreEvent
	err    error
}

func (f *fakePublisher) PublishScore(_ context.Context, event domain.ScoreEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

// fakeCache is a map-backed LeaderboardCache with the same versioning
// as the Redis cache. It records invalidations.
type fakeCache struct {
	mu            sync.Mutex
	pages         map[cachedPageKey][]domain.LeaderboardEntry
	global        int64
	modes         map[string]int64
	invalidated   []string
	invalidateAll int
	getErr        error
}

type cachedPageKey struct {
	q domain.LeaderboardQuery
	v domain.CacheVersion
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		pages: make(map[cachedPageKey][]domain.LeaderboardEntry),
		modes: make(map[string]int64),
	}
}

func (f *fakeCache) Version(_ context.Context, gameMode string) (domain.CacheVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.CacheVersion{}, f.getErr
	}
	return domain.CacheVersion{Global: f.global, Mode: f.modes[gameMode]}, nil
}

func (f *fakeCache) GetPage(_ context.Context, q domain.LeaderboardQuery, v domain.CacheVersion) ([]domain.LeaderboardEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	entries, ok := f.pages[cachedPageKey{q: q, v: v}]
	return entries, ok, nil
}

func (f *fakeCache) SetPage(_ context.Context, q domain.LeaderboardQuery, v domain.CacheVersion, entries []domain.LeaderboardEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[cachedPageKey{q: q, v: v}] = entries
	return nil
}

// current returns the page a reader would be served right now
func (f *fakeCache) current(q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, bool) {
	v, _ := f.Version(context.Background(), q.GameMode)
	entries, ok, _ := f.GetPage(context.Background(), q, v)
	return entries, ok
}

func (f *fakeCache) Invalidate(_ context.Context, gameMode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, gameMode)
	f.modes[gameMode]++
	return nil
}

func (f *fakeCache) InvalidateAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidateAll++
	f.global++
	return nil
}

type testEnv struct {
	store        *memory.Store
	blobs        *fakeBlobs
	publisher    *fakePublisher
	cache        *fakeCache
	identity     *IdentityService
	characters   *CharacterService
	scores       *ScoreService
	leaderboards *LeaderboardService
	content      *ContentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.LeaderboardConfig{DefaultLimit: 10, MaxLimit: 100, DefaultHistoryLimit: 20}
	logger := discardLogger()
	store := memory.NewStore()
	blobs := newFakeBlobs()
	publisher := &fakePublisher{}
	cache := newFakeCache()
	tokens := auth.NewTokenProvider("test-secret", time.Hour, "racingrun")

	return &testEnv{
		store:        store,
		blobs:        blobs,
		publisher:    publisher,
		cache:        cache,
		identity:     NewIdentityService(store, auth.NewBcryptHasher(4), tokens, logger),
		characters:   NewCharacterService(store, blobs, cache, logger),
		scores:       NewScoreService(store, store, cache, publisher, cfg, logger),
		leaderboards: NewLeaderboardService(store, cache, cfg, logger),
		content:      NewContentService(store, logger),
	}
}

func (e *testEnv) register(t *testing.T, username string) domain.User {
	t.Helper()
	result, err := e.identity.Register(context.Background(), domain.RegisterRequest{
		Email:    username + "@example.com",
		Username: username,
		Password: "secret123",
	})
	require.NoError(t, err)
	return result.User
}

func (e *testEnv) createCharacter(t *testing.T, ownerID, name string) *domain.Character {
	t.Helper()
	character, err := e.characters.CreateCharacter(context.Background(), ownerID, name, pngImage)
	require.NoError(t, err)
	return character
}

func (e *testEnv) submit(t *testing.T, userID string, characterID *string, score, distance int64, gameMode string) *domain.SubmissionResult {
	t.Helper()
	result, err := e.scores.SubmitScore(context.Background(), userID, domain.ScoreSubmission{
		CharacterID: characterID,
		Score:       &score,
		Distance:    &distance,
		GameMode:    gameMode,
	})
	require.NoError(t, err)
	return result
}

func ptr[T any](v T) *T {
	return &v
}

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	return names
}
