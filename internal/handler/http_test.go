package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racingrun/backend/internal/auth"
	"github.com/racingrun/backend/internal/blob"
	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/domain"
	"github.com/racingrun/backend/internal/memory"
	"github.com/racingrun/backend/internal/service"
	"github.com/racingrun/backend/internal/websocket"
)

var (
	pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	gifImage = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	t      *testing.T
	store   *memory.Store
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, deps map[string]Pinger) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.LeaderboardConfig{DefaultLimit: 10, MaxLimit: 100, DefaultHistoryLimit: 20}

	store := memory.NewStore()
	blobs, err := blob.NewFileStore(t.TempDir(), "http://example.test/blobs", logger)
	require.NoError(t, err)
	tokens := auth.NewTokenProvider("handler-secret", time.Hour, "racingrun")

	hub := websocket.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	h := NewHandler(
		Services{
			Identity:     service.NewIdentityService(store, auth.NewBcryptHasher(4), tokens, logger),
			Characters:   service.NewCharacterService(store, blobs, nil, logger),
			Scores:       service.NewScoreService(store, store, nil, hub, cfg, logger),
			Leaderboards: service.NewLeaderboardService(store, nil, cfg, logger),
			Content:      service.NewContentService(store, logger),
		},
		tokens,
		hub,
		Options{MaxUploadBytes: 10 << 20, Blobs: blobs.Handler(), Dependencies: deps},
		logger,
	)

	return &testServer{t: t, store: store, handler: h, router: h.Router()}
}

func (s *testServer) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) json(method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return s.do(method, path, token, r, "application/json")
}

func (s *testServer) register(username string) domain.AuthResult {
	s.t.Helper()
	rec := s.json(http.MethodPost, "/api/auth/register", "",
		fmt.Sprintf(`{"email":"%s@example.com","username":"%s","password":"secret123"}`, username, username))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	var result domain.AuthResult
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func imageForm(t *testing.T, name string, image []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if name != "" {
		require.NoError(t, w.WriteField("name", name))
	}
	if image != nil {
		part, err := w.CreateFormFile("image", "face.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (s *testServer) createCharacter(token, name string) domain.Character {
	s.t.Helper()
	body, contentType := imageForm(s.t, name, pngImage)
	rec := s.do(http.MethodPost, "/api/characters", token, body, contentType)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Character domain.Character `json:"character"`
	}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Character
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	registered := s.register("ada")
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, "ada", registered.User.Username)

	rec := s.json(http.MethodPost, "/api/auth/register", "", `{"email":"ada@example.com","username":"other","password":"secret123"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.json(http.MethodPost, "/api/auth/register", "", `{"email":"nope","username":"ab","password":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeError(t, rec).Details, 3)

	rec = s.json(http.MethodPost, "/api/auth/login", "", `{"email":"ada@example.com","password":"secret123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.json(http.MethodPost, "/api/auth/login", "", `{"email":"ada@example.com","password":"wrong-pass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decodeError(t, rec).Error)

	rec = s.json(http.MethodGet, "/api/auth/me", registered.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), registered.User.ID)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/scores"},
		{http.MethodGet, "/api/scores"},
		{http.MethodGet, "/api/characters"},
		{http.MethodPost, "/api/characters"},
		{http.MethodGet, "/api/characters/123"},
		{http.MethodDelete, "/api/characters/123"},
	} {
		rec := s.json(route.method, route.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)

		rec = s.json(route.method, route.path, "garbage", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
	}
}

func TestScoreEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.register("playerA")
	b := s.register("playerB")
	character := s.createCharacter(a.Token, "Zoe")

	rec := s.json(http.MethodPost, "/api/scores", a.Token,
		fmt.Sprintf(`{"characterId":%q,"score":1500,"distance":320,"gameMode":"endless"}`, character.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result domain.SubmissionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(1), result.Rank)
	assert.Equal(t, int64(1500), result.Score.Score)

	rec = s.json(http.MethodPost, "/api/scores", b.Token, `{"score":2000,"distance":400}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.json(http.MethodPost, "/api/scores", b.Token,
		fmt.Sprintf(`{"characterId":%q,"score":10,"distance":1}`, character.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Character not found or does not belong to user", decodeError(t, rec).Error)

	rec = s.json(http.MethodPost, "/api/scores", a.Token, `{"score":"lots","distance":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	require.Len(t, resp.Details, 1)
	assert.Equal(t, "score", resp.Details[0].Field)

	rec = s.json(http.MethodPost, "/api/scores", a.Token, `{"score":-5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeError(t, rec).Details, 2)

	rec = s.json(http.MethodPost, "/api/scores", a.Token, `{"score":5000000000,"distance":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp = decodeError(t, rec)
	require.Len(t, resp.Details, 1)
	assert.Equal(t, "score", resp.Details[0].Field)

	rec = s.json(http.MethodPost, "/api/scores", a.Token, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(http.MethodGet, "/api/scores", a.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Scores []domain.ScoreHistoryEntry `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Scores, 1)
	require.NotNil(t, history.Scores[0].CharacterName)
	assert.Equal(t, "Zoe", *history.Scores[0].CharacterName)
}

func TestScoreEndpoint_DeletedAccount(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.register("ghost")
	require.NoError(t, s.store.DeleteUser(context.Background(), a.User.ID))

	rec := s.json(http.MethodPost, "/api/scores", a.Token, `{"score":10,"distance":1}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeError(t, rec).Error)
}

func TestWriteError_HidesUnexpectedErrors(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/scores", nil)
	rec := httptest.NewRecorder()

	s.handler.writeError(rec, req, fmt.Errorf("inserting score: %w", errors.New("connection reset")), "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, domain.ErrInternal.Error(), decodeError(t, rec).Error)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestLeaderboardEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.register("racer")
	for i := 1; i <= 120; i++ {
		rec := s.json(http.MethodPost, "/api/scores", a.Token, fmt.Sprintf(`{"score":%d,"distance":1}`, i))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	tests := []struct {
		query     string
		wantLen   int
		wantLimit int
		wantTop   int64
	}{
		{query: "", wantLen: 10, wantLimit: 10, wantTop: 120},
		{query: "?limit=500", wantLen: 100, wantLimit: 100, wantTop: 120},
		{query: "?limit=abc", wantLen: 10, wantLimit: 10, wantTop: 120},
		{query: "?limit=0", wantLen: 1, wantLimit: 1, wantTop: 120},
		{query: "?limit=-5", wantLen: 1, wantLimit: 1, wantTop: 120},
		{query: "?limit=5&offset=20", wantLen: 5, wantLimit: 5, wantTop: 100},
		{query: "?gameMode=endless&offset=1000", wantLen: 0, wantLimit: 10},
		{query: "?gameMode=sprint", wantLen: 0, wantLimit: 10},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := s.json(http.MethodGet, "/api/leaderboard"+tt.query, "", "")
			require.Equal(t, http.StatusOK, rec.Code)

			var page domain.LeaderboardPage
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
			assert.NotNil(t, page.Leaderboard)
			assert.Len(t, page.Leaderboard, tt.wantLen)
			assert.Equal(t, tt.wantLimit, page.Limit)
			if tt.wantLen > 0 {
				assert.Equal(t, tt.wantTop, page.Leaderboard[0].Score)
				assert.Equal(t, "racer", page.Leaderboard[0].Username)
			}
		})
	}

	rec := s.json(http.MethodGet, "/api/leaderboard?gameMode="+strings.Repeat("m", 51), "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCharacterEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.register("alice")
	b := s.register("bobby")

	character := s.createCharacter(a.Token, "Zoe")
	assert.Equal(t, "Zoe", character.Name)
	assert.True(t, strings.HasPrefix(character.ImageURL, "http://example.test/blobs/characters/"))

	// The image is served under /blobs
	blobPath := strings.TrimPrefix(character.ImageURL, "http://example.test")
	rec := s.json(http.MethodGet, blobPath, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngImage, rec.Body.Bytes())

	rec = s.json(http.MethodGet, "/api/characters", a.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), character.ID)

	rec = s.json(http.MethodGet, "/api/characters", b.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"characters":[]}`, rec.Body.String())

	rec = s.json(http.MethodGet, "/api/characters/"+character.ID, a.Token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.json(http.MethodGet, "/api/characters/"+character.ID, b.Token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Character not found", decodeError(t, rec).Error)

	rec = s.json(http.MethodDelete, "/api/characters/"+character.ID, b.Token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.json(http.MethodDelete, "/api/characters/"+character.ID, a.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Character deleted successfully"}`, rec.Body.String())

	rec = s.json(http.MethodGet, blobPath, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.json(http.MethodDelete, "/api/characters/"+character.ID, a.Token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCharacterValidation(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.register("alice")

	body, contentType := imageForm(t, "", pngImage)
	rec := s.do(http.MethodPost, "/api/characters", a.Token, body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType = imageForm(t, "Zoe", nil)
	rec = s.do(http.MethodPost, "/api/characters", a.Token, body, contentType)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "image", decodeError(t, rec).Details[0].Field)

	body, contentType = imageForm(t, "Zoe", []byte("plain text"))
	rec = s.do(http.MethodPost, "/api/characters", a.Token, body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(http.MethodPost, "/api/characters", a.Token, `{"name":"Zoe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := append(append([]byte{}, pngImage...), bytes.Repeat([]byte{0}, 11<<20)...)
	body, contentType = imageForm(t, "Zoe", big)
	rec = s.do(http.MethodPost, "/api/characters", a.Token, body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContentEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.AddContent(domain.ContentItem{Type: domain.ContentTypeTrack, Name: "Desert Loop", DataURL: "https://cdn.test/desert.json"})

	rec := s.json(http.MethodGet, "/api/content?type=track", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Desert Loop")

	rec = s.json(http.MethodGet, "/api/content?type=costume", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content":[]}`, rec.Body.String())

	rec = s.json(http.MethodGet, "/api/content?type=weapon", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(http.MethodGet, "/api/content/daily-challenge", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Challenge domain.DailyChallenge `json:"challenge"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Challenge.Name)
	assert.NotEmpty(t, resp.Challenge.ExpiresAt)
}

func TestModerateEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	body, contentType := imageForm(t, "", pngImage)
	rec := s.do(http.MethodPost, "/api/face/moderate", "", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.ModerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Approved)

	body, contentType = imageForm(t, "", gifImage)
	rec = s.do(http.MethodPost, "/api/face/moderate", "", body, contentType)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Approved)

	body, contentType = imageForm(t, "", nil)
	rec = s.do(http.MethodPost, "/api/face/moderate", "", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Valid image file is required", decodeError(t, rec).Error)
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := newTestServer(t, map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
	})

	rec := healthy.json(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = healthy.json(http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)

	degraded := newTestServer(t, map[string]Pinger{
		"redis": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	rec = degraded.json(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"unavailable"`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodOptions, "/api/scores", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
