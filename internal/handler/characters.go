package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/racingrun/backend/internal/domain"
)

const characterNotFound = "Character not found"

// multipartOverhead leaves room for form fields and boundaries around the image
const multipartOverhead = 1 << 20

// CreateCharacter handles multipart uploads with a name and an image
func (h *Handler) CreateCharacter(w http.ResponseWriter, r *http.Request) {
	name, image, err := h.readImageForm(w, r, true)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	character, err := h.services.Characters.CreateCharacter(r.Context(), userID(r), name, image)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"character": character})
}

// ListCharacters returns the caller's characters
func (h *Handler) ListCharacters(w http.ResponseWriter, r *http.Request) {
	characters, err := h.services.Characters.ListCharacters(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"characters": characters})
}

// GetCharacter returns one of the caller's characters
func (h *Handler) GetCharacter(w http.ResponseWriter, r *http.Request) {
	characterID := chi.URLParam(r, "characterID")

	character, err := h.services.Characters.GetCharacter(r.Context(), userID(r), characterID)
	if err != nil {
		h.writeError(w, r, err, characterNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"character": character})
}

// DeleteCharacter deletes one of the caller's characters
func (h *Handler) DeleteCharacter(w http.ResponseWriter, r *http.Request) {
	characterID := chi.URLParam(r, "characterID")

	if err := h.services.Characters.DeleteCharacter(r.Context(), userID(r), characterID); err != nil {
		h.writeError(w, r, err, characterNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Character deleted successfully"})
}

// readImageForm parses a multipart form carrying an "image" file and,
// when withName is set, a "name" field. A missing image yields nil bytes
// and is left to the service to reject.
func (h *Handler) readImageForm(w http.ResponseWriter, r *http.Request, withName bool) (string, []byte, error) {
	limit := h.options.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	verr := domain.NewValidationError("invalid input")
	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			verr.Add("image", "must be at most 10MB")
		} else {
			verr.Add("body", "must be a multipart form")
		}
		return "", nil, verr
	}

	var name string
	if withName {
		name = r.FormValue("name")
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return name, nil, nil
		}
		verr.Add("image", "could not be read")
		return "", nil, verr
	}
	defer file.Close()

	if header.Size > limit {
		verr.Add("image", "must be at most 10MB")
		return "", nil, verr
	}

	image, err := io.ReadAll(io.LimitReader(file, limit))
	if err != nil {
		return "", nil, err
	}
	return name, image, nil
}
