// Package memory is an in-process implementation of the service storage
// interfaces. It mirrors the relational rules of the Postgres schema:
// unique email and username, owner-scoped character lookups, and scores
// losing their character reference when the character is deleted.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/racingrun/backend/internal/domain"
)

type scoreRow struct {
	domain.Score
	seq int64
}

// Store keeps all rows in maps guarded by a single RWMutex
type Store struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	characters map[string]domain.Character
	scores     []scoreRow
	content    []domain.ContentItem
	seq        int64

	// Now is the clock used for created_at and updated_at
	Now func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users:      make(map[string]domain.User),
		characters: make(map[string]domain.Character),
		Now:        time.Now,
	}
}

// CreateUser inserts a user, rejecting duplicate emails or usernames
func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) || u.Username == user.Username {
			return nil, domain.ErrConflict
		}
	}

	user.ID = uuid.NewString()
	user.CreatedAt = s.Now().UTC()
	s.users[user.ID] = user
	return &user, nil
}

// FindUserByEmail looks a user up by email, case-insensitively
func (s *Store) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

// FindUserByID looks a user up by id
func (s *Store) FindUserByID(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

// DeleteUser removes a user together with their characters and scores
func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.users, userID)

	for id, c := range s.characters {
		if c.UserID == userID {
			s.detachCharacter(id)
			delete(s.characters, id)
		}
	}

	kept := s.scores[:0]
	for _, row := range s.scores {
		if row.UserID != userID {
			kept = append(kept, row)
		}
	}
	s.scores = kept
	return nil
}

// InsertCharacter stores a new character
func (s *Store) InsertCharacter(_ context.Context, character domain.Character) (*domain.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[character.UserID]; !ok {
		return nil, domain.ErrUnauthorized
	}

	now := s.Now().UTC()
	character.ID = uuid.NewString()
	character.CreatedAt = now
	character.UpdatedAt = now
	s.characters[character.ID] = character
	return &character, nil
}

// RenameCharacter changes a character's display name
func (s *Store) RenameCharacter(_ context.Context, ownerID, characterID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.characters[characterID]
	if !ok || c.UserID != ownerID {
		return domain.ErrNotFound
	}
	c.Name = name
	c.UpdatedAt = s.Now().UTC()
	s.characters[characterID] = c
	return nil
}

// ListCharactersByOwner returns the owner's characters, newest first
func (s *Store) ListCharactersByOwner(_ context.Context, ownerID string) ([]domain.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Character
	for _, c := range s.characters {
		if c.UserID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// FindCharacterByOwner returns the character only when ownerID owns it
func (s *Store) FindCharacterByOwner(_ context.Context, ownerID, characterID string) (*domain.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[characterID]
	if !ok || c.UserID != ownerID {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

// DeleteCharacterByOwner deletes the character when ownerID owns it and
// clears the reference on every score pointing at it
func (s *Store) DeleteCharacterByOwner(_ context.Context, ownerID, characterID string) (*domain.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.characters[characterID]
	if !ok || c.UserID != ownerID {
		return nil, domain.ErrNotFound
	}
	delete(s.characters, characterID)
	s.detachCharacter(characterID)
	return &c, nil
}

// detachCharacter must be called with the write lock held
func (s *Store) detachCharacter(characterID string) {
	for i := range s.scores {
		if ref := s.scores[i].CharacterID; ref != nil && *ref == characterID {
			s.scores[i].CharacterID = nil
		}
	}
}

// InsertScore appends a score to the ledger
func (s *Store) InsertScore(_ context.Context, score domain.Score) (*domain.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[score.UserID]; !ok {
		return nil, domain.ErrUnauthorized
	}
	if score.CharacterID != nil {
		if _, ok := s.characters[*score.CharacterID]; !ok {
			return nil, domain.ErrNotFound
		}
		id := *score.CharacterID
		score.CharacterID = &id
	}

	s.seq++
	score.ID = uuid.NewString()
	score.CreatedAt = s.Now().UTC()
	s.scores = append(s.scores, scoreRow{Score: score, seq: s.seq})
	return &score, nil
}

// CountGreaterScores counts scores in gameMode strictly greater than score
func (s *Store) CountGreaterScores(_ context.Context, gameMode string, score int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, row := range s.scores {
		if row.GameMode == gameMode && row.Score.Score > score {
			n++
		}
	}
	return n, nil
}

// LeaderboardPage returns one ordered page of a game mode
func (s *Store) LeaderboardPage(_ context.Context, gameMode string, limit, offset int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []scoreRow
	for _, row := range s.scores {
		if row.GameMode == gameMode {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Score.Score != b.Score.Score {
			return a.Score.Score > b.Score.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.seq < b.seq
	})

	if offset >= len(rows) {
		return []domain.LeaderboardEntry{}, nil
	}
	rows = rows[offset:]
	if limit < len(rows) {
		rows = rows[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		user, ok := s.users[row.UserID]
		if !ok {
			continue
		}
		entry := domain.LeaderboardEntry{
			ID:        row.ID,
			Score:     row.Score.Score,
			Distance:  row.Distance,
			GameMode:  row.GameMode,
			CreatedAt: row.CreatedAt,
			UserID:    user.ID,
			Username:  user.Username,
		}
		if row.CharacterID != nil {
			if c, ok := s.characters[*row.CharacterID]; ok {
				id, name, image := c.ID, c.Name, c.ImageURL
				entry.CharacterID = &id
				entry.CharacterName = &name
				entry.CharacterImage = &image
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ScoresByUser returns a user's scores, newest first
func (s *Store) ScoresByUser(_ context.Context, userID string, limit int) ([]domain.ScoreHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ScoreHistoryEntry
	for i := len(s.scores) - 1; i >= 0 && len(out) < limit; i-- {
		row := s.scores[i]
		if row.UserID != userID {
			continue
		}
		entry := domain.ScoreHistoryEntry{
			ID:        row.ID,
			Score:     row.Score.Score,
			Distance:  row.Distance,
			GameMode:  row.GameMode,
			CreatedAt: row.CreatedAt,
		}
		if row.CharacterID != nil {
			if c, ok := s.characters[*row.CharacterID]; ok {
				name, image := c.Name, c.ImageURL
				entry.CharacterName = &name
				entry.CharacterImage = &image
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// ListGameModes returns the distinct game modes present in the ledger
func (s *Store) ListGameModes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var modes []string
	for _, row := range s.scores {
		if !seen[row.GameMode] {
			seen[row.GameMode] = true
			modes = append(modes, row.GameMode)
		}
	}
	sort.Strings(modes)
	return modes, nil
}

// AddContent seeds a catalog item
func (s *Store) AddContent(item domain.ContentItem) domain.ContentItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.Now().UTC()
	}
	s.content = append(s.content, item)
	return item
}

// ListContent returns catalog items ordered by type, newest first within a type
func (s *Store) ListContent(_ context.Context, contentType domain.ContentType) ([]domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ContentItem
	for _, item := range s.content {
		if contentType == "" || item.Type == contentType {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
