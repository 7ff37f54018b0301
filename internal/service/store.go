package service

import (
	"context"

	"github.com/racingrun/backend/internal/domain"
)

// UserStore persists accounts. CreateUser returns domain.ErrConflict when
// the email or username is already taken.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID string) (*domain.User, error)
}

// CharacterStore persists characters. Every lookup and delete carries the
// owner as part of the predicate, so a character owned by someone else is
// reported exactly like a missing one (domain.ErrNotFound). Inserting for
// a user that no longer exists fails with domain.ErrUnauthorized.
type CharacterStore interface {
	InsertCharacter(ctx context.Context, character domain.Character) (*domain.Character, error)
	ListCharactersByOwner(ctx context.Context, ownerID string) ([]domain.Character, error)
	FindCharacterByOwner(ctx context.Context, ownerID, characterID string) (*domain.Character, error)
	// DeleteCharacterByOwner deletes in a single conditional command and
	// returns the deleted row. Scores referencing it lose their reference.
	DeleteCharacterByOwner(ctx context.Context, ownerID, characterID string) (*domain.Character, error)
}

// ScoreStore is the append-only score ledger
type ScoreStore interface {
	// InsertScore fails with domain.ErrUnauthorized when the submitter no
	// longer exists and domain.ErrNotFound when the character is gone.
	InsertScore(ctx context.Context, score domain.Score) (*domain.Score, error)
	// CountGreaterScores counts scores in gameMode strictly greater than score.
	CountGreaterScores(ctx context.Context, gameMode string, score int64) (int64, error)
	// LeaderboardPage orders by score desc, created_at asc.
	LeaderboardPage(ctx context.Context, gameMode string, limit, offset int) ([]domain.LeaderboardEntry, error)
	ScoresByUser(ctx context.Context, userID string, limit int) ([]domain.ScoreHistoryEntry, error)
	ListGameModes(ctx context.Context) ([]string, error)
}

// ContentStore exposes the downloadable content catalog
type ContentStore interface {
	ListContent(ctx context.Context, contentType domain.ContentType) ([]domain.ContentItem, error)
}

// Store groups every persistence capability the services need
type Store interface {
	UserStore
	CharacterStore
	ScoreStore
	ContentStore
}

// BlobStore stores opaque image payloads addressed by path
type BlobStore interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

// LeaderboardCache caches leaderboard pages per game mode. Callers read the
// Version before loading a page from storage and store the page under that
// version, so a page loaded across an invalidation is never served.
// Misses return ok=false.
type LeaderboardCache interface {
	Version(ctx context.Context, gameMode string) (domain.CacheVersion, error)
	GetPage(ctx context.Context, q domain.LeaderboardQuery, v domain.CacheVersion) ([]domain.LeaderboardEntry, bool, error)
	SetPage(ctx context.Context, q domain.LeaderboardQuery, v domain.CacheVersion, entries []domain.LeaderboardEntry) error
	Invalidate(ctx context.Context, gameMode string) error
	InvalidateAll(ctx context.Context) error
}

// ScorePublisher announces recorded scores to live subscribers
type ScorePublisher interface {
	PublishScore(ctx context.Context, event domain.ScoreEvent) error
}

// TokenIssuer issues bearer credentials encoding a user id
type TokenIssuer interface {
	IssueToken(userID string) (string, error)
}

// PasswordHasher hashes and verifies password credentials
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}
