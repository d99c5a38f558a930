package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"newsletter/internal/publisher/models"
	"newsletter/pkg/platform/sentinel"
)

// PostgresStore persists publishers in the users table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByUsername returns the publisher or sentinel.ErrNotFound.
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*models.Publisher, error) {
	query := `SELECT user_id, username, password_hash FROM users WHERE username = $1`
	var p models.Publisher
	err := s.db.QueryRowContext(ctx, query, username).Scan(&p.ID, &p.Username, &p.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find publisher by username: %w", err)
	}
	return &p, nil
}

// Upsert inserts the publisher or replaces the password hash of the row
// with the same username. The stored id is written back to p.
func (s *PostgresStore) Upsert(ctx context.Context, p *models.Publisher) error {
	query := `
		INSERT INTO users (user_id, username, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET
			password_hash = EXCLUDED.password_hash
		RETURNING user_id
	`
	if err := s.db.QueryRowContext(ctx, query, p.ID, p.Username, p.PasswordHash).Scan(&p.ID); err != nil {
		return fmt.Errorf("upsert publisher: %w", err)
	}
	return nil
}
