package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/racingrun/backend/internal/domain"
)

type characterInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

// CharacterService manages user-owned characters and their face images
type CharacterService struct {
	store  CharacterStore
	blobs  BlobStore
	cache  LeaderboardCache
	logger *slog.Logger
	now    func() time.Time
}

// NewCharacterService creates a new character service. cache may be nil.
func NewCharacterService(store CharacterStore, blobs BlobStore, cache LeaderboardCache, logger *slog.Logger) *CharacterService {
	return &CharacterService{
		store:  store,
		blobs:  blobs,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// CreateCharacter validates the name and image, uploads the image and
// records the character. The upload and the insert are not transactional:
// if the insert fails the uploaded blob stays behind.
func (s *CharacterService) CreateCharacter(ctx context.Context, ownerID, name string, image []byte) (*domain.Character, error) {
	verr := domain.NewValidationError("invalid character")
	if err := validateStruct("invalid character", characterInput{Name: name}); err != nil {
		var nameErr *domain.ValidationError
		if !errors.As(err, &nameErr) {
			return nil, err
		}
		verr.Fields = append(verr.Fields, nameErr.Fields...)
	}

	var mime *mimetype.MIME
	if len(image) == 0 {
		verr.Add("image", "is required")
	} else {
		mime = mimetype.Detect(image)
		if !strings.HasPrefix(mime.String(), "image/") {
			verr.Add("image", "must be an image")
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	path := s.imagePath(ownerID, mime.Extension())
	url, err := s.blobs.Put(ctx, path, mime.String(), image)
	if err != nil {
		return nil, fmt.Errorf("storing character image: %w", err)
	}

	character, err := s.store.InsertCharacter(ctx, domain.Character{
		UserID:   ownerID,
		Name:     name,
		ImageURL: url,
	})
	if err != nil {
		s.logger.Error("character insert failed after image upload",
			"user_id", ownerID,
			"image_url", url,
			"error", err,
		)
		return nil, fmt.Errorf("inserting character: %w", err)
	}

	s.logger.Info("character created", "user_id", ownerID, "character_id", character.ID)
	return character, nil
}

// imagePath namespaces the blob by owner and makes it unique with a
// timestamp plus a short random suffix.
func (s *CharacterService) imagePath(ownerID, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("characters/%s/%d-%s%s", ownerID, s.now().UnixNano(), suffix, ext)
}

// ListCharacters returns the owner's characters, newest first
func (s *CharacterService) ListCharacters(ctx context.Context, ownerID string) ([]domain.Character, error) {
	characters, err := s.store.ListCharactersByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	if characters == nil {
		characters = []domain.Character{}
	}
	return characters, nil
}

// GetCharacter returns a character owned by ownerID
func (s *CharacterService) GetCharacter(ctx context.Context, ownerID, characterID string) (*domain.Character, error) {
	if _, err := uuid.Parse(characterID); err != nil {
		return nil, domain.ErrNotFound
	}
	character, err := s.store.FindCharacterByOwner(ctx, ownerID, characterID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("finding character: %w", err)
	}
	return character, nil
}

// DeleteCharacter removes a character owned by ownerID. Missing and
// foreign characters both yield domain.ErrNotFound. Failing to delete the
// image blob is logged and otherwise ignored.
func (s *CharacterService) DeleteCharacter(ctx context.Context, ownerID, characterID string) error {
	if _, err := uuid.Parse(characterID); err != nil {
		return domain.ErrNotFound
	}

	deleted, err := s.store.DeleteCharacterByOwner(ctx, ownerID, characterID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("deleting character: %w", err)
	}

	if err := s.blobs.Delete(ctx, deleted.ImageURL); err != nil {
		s.logger.Warn("failed to delete character image",
			"character_id", characterID,
			"image_url", deleted.ImageURL,
			"error", err,
		)
	}

	// Cached leaderboard pages may still show the deleted character.
	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			s.logger.Warn("failed to invalidate leaderboard cache", "error", err)
		}
	}

	s.logger.Info("character deleted", "user_id", ownerID, "character_id", characterID)
	return nil
}
