package handler

import (
	"errors"
	"net/http"

	"github.com/racingrun/backend/internal/domain"
)

// Register creates an account and returns it with a bearer token
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	result, err := h.services.Identity.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// Login exchanges email and password for a bearer token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	result, err := h.services.Identity.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			h.writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.writeError(w, r, err, "")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// Me returns the authenticated user
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.services.Identity.GetUser(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err, "User not found")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}
