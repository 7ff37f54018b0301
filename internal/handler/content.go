package handler

import (
	"net/http"
)

// ListContent returns catalog items, optionally filtered by ?type=
func (h *Handler) ListContent(w http.ResponseWriter, r *http.Request) {
	items, err := h.services.Content.ListContent(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"content": items})
}

// GetDailyChallenge returns today's challenge
func (h *Handler) GetDailyChallenge(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"challenge": h.services.Content.DailyChallenge(h.now()),
	})
}

// ModerateImage runs the basic checks on an uploaded image
func (h *Handler) ModerateImage(w http.ResponseWriter, r *http.Request) {
	_, image, err := h.readImageForm(w, r, false)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	if len(image) == 0 {
		h.writeMessage(w, http.StatusBadRequest, "Valid image file is required")
		return
	}

	result := h.services.Content.ModerateImage(image)
	if !result.Approved {
		h.writeJSON(w, http.StatusBadRequest, result)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}
