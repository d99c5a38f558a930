package service

import (
	"context"
	"time"

	"newsletter/internal/subscription/store"
	dErrors "newsletter/pkg/domain-errors"
)

// SubscriptionTx provides the transactional boundary for store mutations.
// Implementations wrap a database transaction or, in memory, a copy-on-write
// snapshot.
type SubscriptionTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// defaultTxTimeout bounds a transaction whose context has no deadline.
const defaultTxTimeout = 5 * time.Second

// InMemoryTx runs transactions against a store.InMemory. Writes made by fn
// are discarded when it returns an error.
type InMemoryTx struct {
	store   *store.InMemory
	timeout time.Duration
}

func NewInMemoryTx(s *store.InMemory) *InMemoryTx {
	return &InMemoryTx{store: s, timeout: defaultTxTimeout}
}

func (t *InMemoryTx) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	return t.store.Atomically(func(view *store.InMemory) error {
		// Check again after acquiring the lock.
		if err := ctx.Err(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
		}
		if err := fn(view); err != nil {
			return err
		}
		return ctx.Err()
	})
}
