package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"newsletter/internal/subscription/models"
	"newsletter/pkg/platform/sentinel"
)

const (
	pqUniqueViolation     = pq.ErrorCode("23505")
	pqForeignKeyViolation = pq.ErrorCode("23503")
)

// lockTokenOwnerAttempts bounds how often LockTokenOwner re-resolves a
// binding that moved while it waited for the row lock.
const lockTokenOwnerAttempts = 2

// dbExecutor is the subset of *sql.DB and *sql.Tx the store uses.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists subscribers and their confirmation tokens.
// This store is pure I/O; status rules live in the service.
//
// Email identity is case-insensitive: the unique index is on lower(email)
// and the stored spelling is the first one registered.
type PostgresStore struct {
	db dbExecutor
}

// NewPostgres constructs a store on the connection pool.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a store bound to an open transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{db: tx}
}

// UpsertPending inserts a pending subscriber keyed by email, ignoring case,
// or rotates the id of an existing row that is still pending. It returns the id now stored
// for the email. When the existing row is already confirmed nothing is
// written and sentinel.ErrAlreadyUsed is returned.
func (s *PostgresStore) UpsertPending(ctx context.Context, sub models.NewSubscriber, id models.SubscriberID, now time.Time) (models.SubscriberID, error) {
	query := `
		INSERT INTO subscriptions (id, email, name, subscribed_at, status)
		VALUES ($1, $2, $3, $4, 'pending_confirmation')
		ON CONFLICT ((lower(email))) DO UPDATE SET
			id = EXCLUDED.id
		WHERE subscriptions.status = 'pending_confirmation'
		RETURNING id
	`
	var stored uuid.UUID
	err := s.db.QueryRowContext(ctx, query,
		uuid.UUID(id),
		sub.Email.String(),
		sub.Name.String(),
		now,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SubscriberID{}, sentinel.ErrAlreadyUsed
		}
		return models.SubscriberID{}, fmt.Errorf("upsert pending subscriber: %w", err)
	}
	return models.SubscriberID(stored), nil
}

// InsertToken binds token to the subscriber.
func (s *PostgresStore) InsertToken(ctx context.Context, id models.SubscriberID, token models.SubscriptionToken) error {
	query := `
		INSERT INTO subscription_tokens (subscription_token, subscriber_id)
		VALUES ($1, $2)
	`
	_, err := s.db.ExecContext(ctx, query, token.String(), uuid.UUID(id))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case pqUniqueViolation:
				return fmt.Errorf("insert subscription token: %w", sentinel.ErrConflict)
			case pqForeignKeyViolation:
				return fmt.Errorf("insert subscription token for %s: %w", id, sentinel.ErrNotFound)
			}
		}
		return fmt.Errorf("insert subscription token: %w", err)
	}
	return nil
}

// FindSubscriberIDByToken returns the subscriber bound to token, or
// sentinel.ErrNotFound.
func (s *PostgresStore) FindSubscriberIDByToken(ctx context.Context, token models.SubscriptionToken) (models.SubscriberID, error) {
	query := `SELECT subscriber_id FROM subscription_tokens WHERE subscription_token = $1`
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, query, token.String()).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SubscriberID{}, sentinel.ErrNotFound
		}
		return models.SubscriberID{}, fmt.Errorf("find subscriber by token: %w", err)
	}
	return models.SubscriberID(id), nil
}

// LockTokenOwner resolves token to its subscriber and locks that subscriber
// row for the rest of the transaction. The token row itself is read without
// a lock, so locks are taken subscriber first, the same order UpsertPending
// takes them through the ON UPDATE CASCADE of the token foreign key.
//
// A pending re-registration may rotate the subscriber id while the lock is
// awaited; the lookup is then repeated once. Once locked, the binding is
// read again so a token consumed by a concurrent confirmation is reported
// as sentinel.ErrNotFound.
func (s *PostgresStore) LockTokenOwner(ctx context.Context, token models.SubscriptionToken) (models.SubscriberID, error) {
	for range lockTokenOwnerAttempts {
		id, err := s.FindSubscriberIDByToken(ctx, token)
		if err != nil {
			return models.SubscriberID{}, err
		}
		err = s.lockSubscriber(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return models.SubscriberID{}, err
		}
		bound, err := s.FindSubscriberIDByToken(ctx, token)
		if err != nil {
			return models.SubscriberID{}, err
		}
		if bound == id {
			return id, nil
		}
	}
	return models.SubscriberID{}, fmt.Errorf("lock token owner: binding kept moving: %w", sentinel.ErrConflict)
}

func (s *PostgresStore) lockSubscriber(ctx context.Context, id models.SubscriberID) error {
	var locked uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM subscriptions WHERE id = $1 FOR UPDATE`,
		uuid.UUID(id),
	).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("lock subscriber: %w", err)
	}
	return nil
}

// MarkConfirmed sets the subscriber's status to confirmed. Confirming an
// already confirmed subscriber is a no-op; a missing row is ErrNotFound.
func (s *PostgresStore) MarkConfirmed(ctx context.Context, id models.SubscriberID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = 'confirmed' WHERE id = $1`,
		uuid.UUID(id),
	)
	if err != nil {
		return fmt.Errorf("mark subscriber confirmed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark subscriber confirmed rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// DeleteTokensForSubscriber removes every token bound to the subscriber and
// returns how many were removed.
func (s *PostgresStore) DeleteTokensForSubscriber(ctx context.Context, id models.SubscriberID) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM subscription_tokens WHERE subscriber_id = $1`,
		uuid.UUID(id),
	)
	if err != nil {
		return 0, fmt.Errorf("delete subscription tokens: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete subscription tokens rows affected: %w", err)
	}
	return rows, nil
}

// ListConfirmedEmails returns the stored address of every confirmed
// subscriber, oldest subscription first.
func (s *PostgresStore) ListConfirmedEmails(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email
		FROM subscriptions
		WHERE status = 'confirmed'
		ORDER BY subscribed_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query confirmed subscribers: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan confirmed subscriber: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confirmed subscribers: %w", err)
	}
	return emails, nil
}

// FindByEmail returns the subscriber stored for email, ignoring case.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	query := `
		SELECT id, email, name, status, subscribed_at
		FROM subscriptions
		WHERE lower(email) = lower($1)
	`
	var (
		sub    models.Subscriber
		id     uuid.UUID
		status string
	)
	err := s.db.QueryRowContext(ctx, query, email).Scan(&id, &sub.Email, &sub.Name, &status, &sub.SubscribedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find subscriber by email: %w", err)
	}
	sub.ID = models.SubscriberID(id)
	sub.Status = models.Status(status)
	return &sub, nil
}

// ListTokens returns the outstanding tokens bound to the subscriber.
func (s *PostgresStore) ListTokens(ctx context.Context, id models.SubscriberID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscription_token FROM subscription_tokens WHERE subscriber_id = $1 ORDER BY subscription_token`,
		uuid.UUID(id),
	)
	if err != nil {
		return nil, fmt.Errorf("query subscription tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan subscription token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscription tokens: %w", err)
	}
	return tokens, nil
}
