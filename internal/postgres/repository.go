package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/domain"
)

// SQLSTATE codes mapped to domain errors
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// referenceError maps a foreign key failure on insert. A missing user means
// the credential outlived its account; a missing character was deleted
// after the ownership check.
func referenceError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != foreignKeyViolation {
		return nil
	}
	if strings.Contains(pgErr.ConstraintName, "user_id") {
		return domain.ErrUnauthorized
	}
	return domain.ErrNotFound
}

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations creates the schema. The foreign keys carry the cascade
// rules: deleting a user removes their characters and scores, deleting a
// character only clears the reference on its scores.
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) UNIQUE NOT NULL,
			username VARCHAR(100) UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS characters (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(100) NOT NULL,
			image_url TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			character_id UUID REFERENCES characters(id) ON DELETE SET NULL,
			score INTEGER NOT NULL CHECK (score >= 0),
			distance INTEGER NOT NULL CHECK (distance >= 0),
			game_mode VARCHAR(50) NOT NULL DEFAULT 'endless',
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		)`,
		`CREATE TABLE IF NOT EXISTS content (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			type VARCHAR(20) NOT NULL,
			name VARCHAR(100) NOT NULL,
			description TEXT,
			data_url TEXT NOT NULL,
			is_premium BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower ON users (lower(email))`,
		`CREATE INDEX IF NOT EXISTS idx_characters_user_id ON characters(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_user_id ON scores(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_ranking ON scores(game_mode, score DESC, created_at ASC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreateUser inserts a new account
func (r *Repository) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	query := `
		INSERT INTO users (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, username, password_hash, created_at
	`
	var created domain.User
	err := r.pool.QueryRow(ctx, query, user.Email, user.Username, user.PasswordHash).Scan(
		&created.ID,
		&created.Email,
		&created.Username,
		&created.PasswordHash,
		&created.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return &created, nil
}

// FindUserByEmail retrieves a user by email
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, username, password_hash, created_at
		FROM users
		WHERE lower(email) = lower($1)
	`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// FindUserByID retrieves a user by id
func (r *Repository) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT id, email, username, password_hash, created_at
		FROM users
		WHERE id = $1
	`
	return r.scanUser(r.pool.QueryRow(ctx, query, userID))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &user, nil
}

// InsertCharacter creates a character row
func (r *Repository) InsertCharacter(ctx context.Context, character domain.Character) (*domain.Character, error) {
	query := `
		INSERT INTO characters (user_id, name, image_url)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, name, image_url, created_at, updated_at
	`
	created, err := scanCharacter(r.pool.QueryRow(ctx, query, character.UserID, character.Name, character.ImageURL))
	if err != nil {
		if refErr := referenceError(err); refErr != nil {
			return nil, refErr
		}
		return nil, fmt.Errorf("inserting character: %w", err)
	}
	return created, nil
}

// ListCharactersByOwner retrieves the owner's characters, newest first
func (r *Repository) ListCharactersByOwner(ctx context.Context, ownerID string) ([]domain.Character, error) {
	query := `
		SELECT id, user_id, name, image_url, created_at, updated_at
		FROM characters
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	defer rows.Close()

	var characters []domain.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning character: %w", err)
		}
		characters = append(characters, *c)
	}
	return characters, rows.Err()
}

// FindCharacterByOwner retrieves a character only if ownerID owns it
func (r *Repository) FindCharacterByOwner(ctx context.Context, ownerID, characterID string) (*domain.Character, error) {
	query := `
		SELECT id, user_id, name, image_url, created_at, updated_at
		FROM characters
		WHERE id = $1 AND user_id = $2
	`
	c, err := scanCharacter(r.pool.QueryRow(ctx, query, characterID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting character: %w", err)
	}
	return c, nil
}

// DeleteCharacterByOwner deletes a character in one conditional statement
// and returns the deleted row
func (r *Repository) DeleteCharacterByOwner(ctx context.Context, ownerID, characterID string) (*domain.Character, error) {
	query := `
		DELETE FROM characters
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, name, image_url, created_at, updated_at
	`
	c, err := scanCharacter(r.pool.QueryRow(ctx, query, characterID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("deleting character: %w", err)
	}
	return c, nil
}

func scanCharacter(row pgx.Row) (*domain.Character, error) {
	var c domain.Character
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.ImageURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertScore appends a score to the ledger
func (r *Repository) InsertScore(ctx context.Context, score domain.Score) (*domain.Score, error) {
	query := `
		INSERT INTO scores (user_id, character_id, score, distance, game_mode)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, character_id, score, distance, game_mode, created_at
	`
	var s domain.Score
	err := r.pool.QueryRow(ctx, query,
		score.UserID,
		score.CharacterID,
		score.Score,
		score.Distance,
		score.GameMode,
	).Scan(
		&s.ID,
		&s.UserID,
		&s.CharacterID,
		&s.Score,
		&s.Distance,
		&s.GameMode,
		&s.CreatedAt,
	)
	if err != nil {
		if refErr := referenceError(err); refErr != nil {
			return nil, refErr
		}
		return nil, fmt.Errorf("inserting score: %w", err)
	}
	return &s, nil
}

// CountGreaterScores counts scores in gameMode strictly greater than score
func (r *Repository) CountGreaterScores(ctx context.Context, gameMode string, score int64) (int64, error) {
	query := `SELECT COUNT(*) FROM scores WHERE game_mode = $1 AND score > $2`
	var count int64
	err := r.pool.QueryRow(ctx, query, gameMode, score).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting greater scores: %w", err)
	}
	return count, nil
}

// LeaderboardPage retrieves one page of a game mode's leaderboard. User
// and character details are joined at read time.
func (r *Repository) LeaderboardPage(ctx context.Context, gameMode string, limit, offset int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT
			s.id, s.score, s.distance, s.game_mode, s.created_at,
			u.id, u.username,
			c.id, c.name, c.image_url
		FROM scores s
		JOIN users u ON s.user_id = u.id
		LEFT JOIN characters c ON s.character_id = c.id
		WHERE s.game_mode = $1
		ORDER BY s.score DESC, s.created_at ASC, s.id ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, gameMode, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		err := rows.Scan(
			&e.ID, &e.Score, &e.Distance, &e.GameMode, &e.CreatedAt,
			&e.UserID, &e.Username,
			&e.CharacterID, &e.CharacterName, &e.CharacterImage,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ScoresByUser retrieves a user's scores across game modes, newest first
func (r *Repository) ScoresByUser(ctx context.Context, userID string, limit int) ([]domain.ScoreHistoryEntry, error) {
	query := `
		SELECT
			s.id, s.score, s.distance, s.game_mode, s.created_at,
			c.name, c.image_url
		FROM scores s
		LEFT JOIN characters c ON s.character_id = c.id
		WHERE s.user_id = $1
		ORDER BY s.created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing user scores: %w", err)
	}
	defer rows.Close()

	var scores []domain.ScoreHistoryEntry
	for rows.Next() {
		var e domain.ScoreHistoryEntry
		err := rows.Scan(
			&e.ID, &e.Score, &e.Distance, &e.GameMode, &e.CreatedAt,
			&e.CharacterName, &e.CharacterImage,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores = append(scores, e)
	}
	return scores, rows.Err()
}

// ListGameModes returns the distinct game modes present in the ledger
func (r *Repository) ListGameModes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT game_mode FROM scores ORDER BY game_mode`)
	if err != nil {
		return nil, fmt.Errorf("listing game modes: %w", err)
	}
	defer rows.Close()

	var modes []string
	for rows.Next() {
		var mode string
		if err := rows.Scan(&mode); err != nil {
			return nil, fmt.Errorf("scanning game mode: %w", err)
		}
		modes = append(modes, mode)
	}
	return modes, rows.Err()
}

// ListContent retrieves catalog items, optionally filtered by type
func (r *Repository) ListContent(ctx context.Context, contentType domain.ContentType) ([]domain.ContentItem, error) {
	query := `
		SELECT id, type, name, COALESCE(description, ''), data_url, is_premium, created_at
		FROM content
		WHERE $1 = '' OR type = $1
		ORDER BY type, created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, string(contentType))
	if err != nil {
		return nil, fmt.Errorf("listing content: %w", err)
	}
	defer rows.Close()

	var items []domain.ContentItem
	for rows.Next() {
		var item domain.ContentItem
		err := rows.Scan(
			&item.ID,
			&item.Type,
			&item.Name,
			&item.Description,
			&item.DataURL,
			&item.IsPremium,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning content: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// InsertContent adds a catalog item
func (r *Repository) InsertContent(ctx context.Context, item domain.ContentItem) (*domain.ContentItem, error) {
	query := `
		INSERT INTO content (type, name, description, data_url, is_premium)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		string(item.Type),
		item.Name,
		item.Description,
		item.DataURL,
		item.IsPremium,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting content: %w", err)
	}
	return &item, nil
}

// DeleteUser removes an account; the schema cascades to characters and scores
func (r *Repository) DeleteUser(ctx context.Context, userID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
