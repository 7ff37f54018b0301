package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/racingrun/backend/internal/domain"
)

type registerInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Username string `json:"username" validate:"required,min=3,max=100"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// IdentityService registers and authenticates players
type IdentityService struct {
	users  UserStore
	hasher PasswordHasher
	tokens TokenIssuer
	logger *slog.Logger
}

// NewIdentityService creates a new identity service
func NewIdentityService(users UserStore, hasher PasswordHasher, tokens TokenIssuer, logger *slog.Logger) *IdentityService {
	return &IdentityService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
	}
}

// normalizeEmail gives every spelling of an address one stored form
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and returns it with a fresh bearer token.
// Emails are stored lower-cased so uniqueness ignores case.
func (s *IdentityService) Register(ctx context.Context, req domain.RegisterRequest) (*domain.AuthResult, error) {
	in := registerInput{
		Email:    normalizeEmail(req.Email),
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
	}
	if err := validateStruct("invalid input", in); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, domain.User{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	token, err := s.tokens.IssueToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return &domain.AuthResult{User: *user, Token: token}, nil
}

// Login verifies credentials. An unknown email and a wrong password both
// yield domain.ErrUnauthorized.
func (s *IdentityService) Login(ctx context.Context, req domain.LoginRequest) (*domain.AuthResult, error) {
	in := loginInput{Email: normalizeEmail(req.Email), Password: req.Password}
	if err := validateStruct("invalid input", in); err != nil {
		return nil, err
	}

	user, err := s.users.FindUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, in.Password); err != nil {
		return nil, domain.ErrUnauthorized
	}

	token, err := s.tokens.IssueToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	return &domain.AuthResult{User: *user, Token: token}, nil
}

// GetUser returns the account for an authenticated user id
func (s *IdentityService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.FindUserByID(ctx, userID)
}
