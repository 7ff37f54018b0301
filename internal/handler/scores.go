package handler

import (
	"net/http"

	"github.com/racingrun/backend/internal/domain"
)

// SubmitScore records a score for the caller
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var submission domain.ScoreSubmission
	if err := decodeJSON(r, &submission); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	result, err := h.services.Scores.SubmitScore(r.Context(), userID(r), submission)
	if err != nil {
		h.writeError(w, r, err, "Character not found or does not belong to user")
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// GetMyScores returns the caller's score history
func (h *Handler) GetMyScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.services.Scores.GetMyScores(r.Context(), userID(r), queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"scores": scores})
}

// GetLeaderboard returns one page of a game mode's leaderboard
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := domain.LeaderboardRequest{
		GameMode: r.URL.Query().Get("gameMode"),
		Limit:    queryInt(r, "limit"),
	}
	if offset := queryInt(r, "offset"); offset != nil {
		q.Offset = *offset
	}

	page, err := h.services.Leaderboards.GetLeaderboard(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}
