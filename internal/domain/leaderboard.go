package domain

import "time"

const (
	// DefaultLeaderboardLimit applies when no limit is requested.
	DefaultLeaderboardLimit = 10
	// MaxLeaderboardLimit is the hard upper bound for a leaderboard page.
	MaxLeaderboardLimit = 100
	// DefaultHistoryLimit applies to a player's own score history.
	DefaultHistoryLimit = 20
)

// LeaderboardEntry is a read-only projection of Score joined with its
// user and, if still present, its character. Names reflect query time.
type LeaderboardEntry struct {
	ID             string    `json:"id"`
	Score          int64     `json:"score"`
	Distance       int64     `json:"distance"`
	GameMode       string    `json:"game_mode"`
	CreatedAt      time.Time `json:"created_at"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	CharacterID    *string   `json:"character_id"`
	CharacterName  *string   `json:"character_name"`
	CharacterImage *string   `json:"character_image"`
}

// LeaderboardRequest is a leaderboard read as the caller asked for it.
// A nil Limit means no limit was requested.
type LeaderboardRequest struct {
	GameMode string
	Limit    *int
	Offset   int
}

// LeaderboardQuery selects one resolved page of a game mode's leaderboard
type LeaderboardQuery struct {
	GameMode string
	Limit    int
	Offset   int
}

// CacheVersion identifies a generation of cached leaderboard pages. Any
// invalidation produces a new version.
type CacheVersion struct {
	Global int64
	Mode   int64
}

// LeaderboardPage is the response shape of a leaderboard read
type LeaderboardPage struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
	GameMode    string             `json:"gameMode"`
}
