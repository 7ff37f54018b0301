package domain

import "time"

// ContentType classifies downloadable content
type ContentType string

const (
	ContentTypeCostume   ContentType = "costume"
	ContentTypeTrack     ContentType = "track"
	ContentTypeChallenge ContentType = "challenge"
)

// ContentItem is a catalog entry the client can download
type ContentItem struct {
	ID          string      `json:"id"`
	Type        ContentType `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	DataURL     string      `json:"data_url"`
	IsPremium   bool        `json:"is_premium"`
	CreatedAt   time.Time   `json:"created_at"`
}

// DailyChallenge is the challenge of the day
type DailyChallenge struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Target      int    `json:"target"`
	Reward      string `json:"reward"`
	Date        string `json:"date"`
	ExpiresAt   string `json:"expiresAt"`
}

// ModerationResult is the outcome of an image moderation check
type ModerationResult struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
	Note     string `json:"note,omitempty"`
}
