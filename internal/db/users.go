package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/taskhive/backend/internal/model"
)

func (db *Postgres) EnsureAuthSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			password_hash TEXT,
			provider TEXT NOT NULL DEFAULT '',
			premium BOOLEAN NOT NULL DEFAULT FALSE,
			session_hash TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS users_email_idx ON users(email)`,
	}

	for _, query := range queries {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

const userColumns = `id, email, name, password_hash, provider, premium, session_hash, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Provider,
		&user.Premium,
		&user.SessionHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *Postgres) CreateUser(ctx context.Context, id, email, name, passwordHash string) (*model.User, error) {
	query := `
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING ` + userColumns
	return scanUser(db.Pool.QueryRow(ctx, query, id, email, name, passwordHash))
}

// UpsertFederatedUser creates or updates an account backed by an OAuth
// provider. An existing password account with the same email is linked to
// the provider; its password hash is left in place.
func (db *Postgres) UpsertFederatedUser(ctx context.Context, id, email, name, provider string) (*model.User, error) {
	query := `
		INSERT INTO users (id, email, name, provider, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE
		SET provider = EXCLUDED.provider, updated_at = NOW()
		RETURNING ` + userColumns
	return scanUser(db.Pool.QueryRow(ctx, query, id, email, name, provider))
}

func (db *Postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(db.Pool.QueryRow(ctx, query, email))
}

func (db *Postgres) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.Pool.QueryRow(ctx, query, userID))
}

// SetSessionHash overwrites the account's session slot. A concurrent
// login simply wins the write; the superseded session identifier stops
// verifying.
func (db *Postgres) SetSessionHash(ctx context.Context, userID, sessionHash string) error {
	query := `
		UPDATE users
		SET session_hash = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := db.Pool.Exec(ctx, query, userID, sessionHash)
	return err
}

func (db *Postgres) ClearSessionHash(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET session_hash = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := db.Pool.Exec(ctx, query, userID)
	return err
}

func (db *Postgres) DeleteUser(ctx context.Context, userID string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

func IsNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
