package main

import (
	"context"
	"database/sql"
	"time"

	subscriptionservice "newsletter/internal/subscription/service"
	subscriptionstore "newsletter/internal/subscription/store"
	dErrors "newsletter/pkg/domain-errors"
)

const defaultSubscriptionTxTimeout = 5 * time.Second

type subscriptionPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newSubscriptionPostgresTx(db *sql.DB, timeout time.Duration) *subscriptionPostgresTx {
	return &subscriptionPostgresTx{db: db, timeout: timeout}
}

func (t *subscriptionPostgresTx) RunInTx(ctx context.Context, fn func(store subscriptionservice.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultSubscriptionTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(subscriptionstore.NewPostgresTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

var _ subscriptionservice.SubscriptionTx = (*subscriptionPostgresTx)(nil)
