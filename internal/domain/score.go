package domain

import "time"

const (
	// DefaultGameMode is used when a submission or query names no game mode.
	DefaultGameMode = "endless"

	// MaxGameModeLength is the longest accepted game mode tag.
	MaxGameModeLength = 50
)

// Score is an immutable ledger row. CharacterID is nil when the score was
// submitted without a character or the character was deleted since.
type Score struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CharacterID *string   `json:"character_id"`
	Score       int64     `json:"score"`
	Distance    int64     `json:"distance"`
	GameMode    string    `json:"game_mode"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScoreSubmission represents a request to submit a score.
// Score and Distance are pointers so a missing field can be told apart from zero.
type ScoreSubmission struct {
	CharacterID *string `json:"characterId,omitempty"`
	Score       *int64  `json:"score"`
	Distance    *int64  `json:"distance"`
	GameMode    string  `json:"gameMode,omitempty"`
}

// SubmissionResult is the stored score plus the rank computed right after insertion
type SubmissionResult struct {
	Score Score `json:"score"`
	Rank  int64 `json:"rank"`
}

// ScoreHistoryEntry is one row of a player's personal history
type ScoreHistoryEntry struct {
	ID             string    `json:"id"`
	Score          int64     `json:"score"`
	Distance       int64     `json:"distance"`
	GameMode       string    `json:"game_mode"`
	CreatedAt      time.Time `json:"created_at"`
	CharacterName  *string   `json:"character_name"`
	CharacterImage *string   `json:"character_image"`
}

// ScoreEvent is published after a score has been recorded
type ScoreEvent struct {
	ScoreID   string    `json:"score_id"`
	UserID    string    `json:"user_id"`
	GameMode  string    `json:"game_mode"`
	Score     int64     `json:"score"`
	Distance  int64     `json:"distance"`
	Rank      int64     `json:"rank"`
	Timestamp time.Time `json:"timestamp"`
}
