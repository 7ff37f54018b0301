package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racingrun/backend/internal/domain"
)

func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newUser(t *testing.T, s *Store, name string) *domain.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), domain.User{Email: name + "@example.com", Username: name, PasswordHash: "x"})
	require.NoError(t, err)
	return u
}

func TestStore_CreateUserConflicts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newUser(t, s, "ada")

	_, err := s.CreateUser(ctx, domain.User{Email: "ADA@example.com", Username: "other"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.CreateUser(ctx, domain.User{Email: "new@example.com", Username: "ada"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	found, err := s.FindUserByEmail(ctx, "Ada@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "ada", found.Username)

	_, err = s.FindUserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_CharacterOwnership(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newUser(t, s, "alice")
	b := newUser(t, s, "bobby")

	c, err := s.InsertCharacter(ctx, domain.Character{UserID: a.ID, Name: "Zoe", ImageURL: "u"})
	require.NoError(t, err)

	_, err = s.FindCharacterByOwner(ctx, b.ID, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.DeleteCharacterByOwner(ctx, b.ID, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, s.RenameCharacter(ctx, b.ID, c.ID, "Nope"), domain.ErrNotFound)

	deleted, err := s.DeleteCharacterByOwner(ctx, a.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "u", deleted.ImageURL)

	_, err = s.InsertCharacter(ctx, domain.Character{UserID: uuid.NewString(), Name: "Ghost"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestStore_InsertScoreReferences(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newUser(t, s, "alice")

	_, err := s.InsertScore(ctx, domain.Score{UserID: uuid.NewString(), Score: 1, GameMode: "endless"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "submitter no longer exists")

	missing := uuid.NewString()
	_, err = s.InsertScore(ctx, domain.Score{UserID: a.ID, CharacterID: &missing, Score: 1, GameMode: "endless"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ListCharactersNewestFirst(t *testing.T) {
	s := NewStore()
	s.Now = fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	a := newUser(t, s, "alice")

	for _, name := range []string{"one", "two", "three"} {
		_, err := s.InsertCharacter(ctx, domain.Character{UserID: a.ID, Name: name})
		require.NoError(t, err)
	}

	list, err := s.ListCharactersByOwner(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "three", list[0].Name)
	assert.Equal(t, "one", list[2].Name)
}

func TestStore_DeleteCharacterClearsScoreReferences(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newUser(t, s, "alice")
	c, err := s.InsertCharacter(ctx, domain.Character{UserID: a.ID, Name: "Zoe", ImageURL: "img"})
	require.NoError(t, err)

	id := c.ID
	_, err = s.InsertScore(ctx, domain.Score{UserID: a.ID, CharacterID: &id, Score: 10, GameMode: "endless"})
	require.NoError(t, err)

	_, err = s.DeleteCharacterByOwner(ctx, a.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, id, "caller's id must not be mutated")

	page, err := s.LeaderboardPage(ctx, "endless", 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Nil(t, page[0].CharacterID)
}

func TestStore_DeleteUserCascades(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := newUser(t, s, "alice")
	b := newUser(t, s, "bobby")
	c, err := s.InsertCharacter(ctx, domain.Character{UserID: a.ID, Name: "Zoe"})
	require.NoError(t, err)
	_, err = s.InsertScore(ctx, domain.Score{UserID: a.ID, CharacterID: &c.ID, Score: 10, GameMode: "endless"})
	require.NoError(t, err)
	_, err = s.InsertScore(ctx, domain.Score{UserID: b.ID, Score: 5, GameMode: "endless"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser(ctx, a.ID))
	assert.ErrorIs(t, s.DeleteUser(ctx, a.ID), domain.ErrNotFound)

	page, err := s.LeaderboardPage(ctx, "endless", 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "bobby", page[0].Username)

	list, err := s.ListCharactersByOwner(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_LeaderboardOrderingAndCounts(t *testing.T) {
	s := NewStore()
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return frozen }
	ctx := context.Background()
	a := newUser(t, s, "alice")

	var ids []string
	for _, score := range []int64{50, 80, 50, 10} {
		stored, err := s.InsertScore(ctx, domain.Score{UserID: a.ID, Score: score, GameMode: "endless"})
		require.NoError(t, err)
		ids = append(ids, stored.ID)
	}
	_, err := s.InsertScore(ctx, domain.Score{UserID: a.ID, Score: 1000, GameMode: "sprint"})
	require.NoError(t, err)

	page, err := s.LeaderboardPage(ctx, "endless", 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 4)
	// Same timestamp: insertion order decides among equal scores
	assert.Equal(t, []string{ids[1], ids[0], ids[2], ids[3]}, []string{page[0].ID, page[1].ID, page[2].ID, page[3].ID})

	n, err := s.CountGreaterScores(ctx, "endless", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.CountGreaterScores(ctx, "endless", 80)
	require.NoError(t, err)
	assert.Zero(t, n)

	page, err = s.LeaderboardPage(ctx, "endless", 2, 3)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	modes, err := s.ListGameModes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"endless", "sprint"}, modes)
}
