package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/racingrun/backend/internal/auth"
	"github.com/racingrun/backend/internal/domain"
	"github.com/racingrun/backend/internal/service"
	"github.com/racingrun/backend/internal/websocket"
)

// Pinger is a dependency that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the application services the API exposes
type Services struct {
	Identity     *service.IdentityService
	Characters   *service.CharacterService
	Scores       *service.ScoreService
	Leaderboards *service.LeaderboardService
	Content      *service.ContentService
}

// Options configures the router
type Options struct {
	// MaxUploadBytes bounds an uploaded image
	MaxUploadBytes int64
	// Blobs serves stored images under /blobs when set
	Blobs http.Handler
	// Dependencies are pinged by the readiness check
	Dependencies map[string]Pinger
}

// Handler provides HTTP handlers for the Racing Run API
type Handler struct {
	services Services
	verifier auth.TokenVerifier
	hub      *websocket.Hub
	options  Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(services Services, verifier auth.TokenVerifier, hub *websocket.Hub, opts Options, logger *slog.Logger) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		services: services,
		verifier: verifier,
		hub:      hub,
		options:  opts,
		logger:   logger,
		now:      time.Now,
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string              `json:"error"`
	Details []domain.FieldError `json:"details,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// Live score feed
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	if h.options.Blobs != nil {
		r.Handle("/blobs/*", http.StripPrefix("/blobs/", h.options.Blobs))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Get("/leaderboard", h.GetLeaderboard)

		r.Get("/content", h.ListContent)
		r.Get("/content/daily-challenge", h.GetDailyChallenge)
		r.Post("/face/moderate", h.ModerateImage)

		// Player routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(h.verifier))

			r.Get("/auth/me", h.Me)

			r.Route("/characters", func(r chi.Router) {
				r.Post("/", h.CreateCharacter)
				r.Get("/", h.ListCharacters)
				r.Get("/{characterID}", h.GetCharacter)
				r.Delete("/{characterID}", h.DeleteCharacter)
			})

			r.Post("/scores", h.SubmitScore)
			r.Get("/scores", h.GetMyScores)
		})

		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeMessage writes an error body with a fixed message
func (h *Handler) writeMessage(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

// writeError maps a service error to its status code. notFound is the
// message used for domain.ErrNotFound.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Message, Details: verr.Fields})
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeMessage(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		h.writeMessage(w, http.StatusNotFound, notFound)
	case errors.Is(err, domain.ErrConflict):
		h.writeMessage(w, http.StatusConflict, "User with this email or username already exists")
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeMessage(w, http.StatusInternalServerError, domain.ErrInternal.Error())
	}
}

// decodeJSON decodes a request body, reporting malformed JSON and
// mistyped fields as validation errors
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}

	verr := domain.NewValidationError("invalid input")
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		verr.Add(typeErr.Field, "must be "+jsonKind(typeErr.Type.Kind()))
	case errors.Is(err, io.EOF):
		verr.Add("body", "is required")
	default:
		verr.Add("body", "must be valid JSON")
	}
	return verr
}

// queryInt parses an integer query parameter. Missing or unparseable
// values yield nil so the service applies its default.
func queryInt(r *http.Request, name string) *int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return nil
	}
	return &v
}

// userID returns the id placed in the context by auth.RequireUser
func userID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// ReadyCheck pings every dependency and reports 503 if any is down
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.options.Dependencies))
	status := http.StatusOK
	for name, dep := range h.options.Dependencies {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	h.writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}

func jsonKind(kind reflect.Kind) string {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "a list"
	case reflect.Map, reflect.Struct:
		return "an object"
	default:
		return "a string"
	}
}
