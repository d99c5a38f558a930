//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/stretchr/testify/suite"

	"newsletter/internal/subscription/models"
	"newsletter/internal/subscription/store"
	"newsletter/pkg/platform/sentinel"
	"newsletter/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "subscription_tokens", "subscriptions")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newSubscriber(email string) models.NewSubscriber {
	sub, err := models.ParseNewSubscriber(email, "le guin")
	s.Require().NoError(err)
	return sub
}

func (s *PostgresStoreSuite) newToken() models.SubscriptionToken {
	token, err := models.GenerateSubscriptionToken()
	s.Require().NoError(err)
	return token
}

func (s *PostgresStoreSuite) TestUpsertPending() {
	ctx := context.Background()
	sub := s.newSubscriber("ursula_le_guin@gmail.com")

	s.Run("rotating a pending id keeps earlier tokens bound", func() {
		first := models.NewSubscriberID()
		_, err := s.store.UpsertPending(ctx, sub, first, time.Now())
		s.Require().NoError(err)
		firstToken := s.newToken()
		s.Require().NoError(s.store.InsertToken(ctx, first, firstToken))

		second := models.NewSubscriberID()
		stored, err := s.store.UpsertPending(ctx, sub, second, time.Now())
		s.Require().NoError(err)
		s.Equal(second, stored)
		s.Require().NoError(s.store.InsertToken(ctx, second, s.newToken()))

		owner, err := s.store.FindSubscriberIDByToken(ctx, firstToken)
		s.Require().NoError(err)
		s.Equal(second, owner)

		tokens, err := s.store.ListTokens(ctx, second)
		s.Require().NoError(err)
		s.Len(tokens, 2)
	})

	s.Run("confirmed rows are left untouched", func() {
		got, err := s.store.FindByEmail(ctx, "ursula_le_guin@gmail.com")
		s.Require().NoError(err)
		s.Require().NoError(s.store.MarkConfirmed(ctx, got.ID))

		_, err = s.store.UpsertPending(ctx, sub, models.NewSubscriberID(), time.Now())
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)

		after, err := s.store.FindByEmail(ctx, "ursula_le_guin@gmail.com")
		s.Require().NoError(err)
		s.Equal(got.ID, after.ID)
		s.Equal(models.StatusConfirmed, after.Status)
	})
}

func (s *PostgresStoreSuite) TestTokenErrors() {
	ctx := context.Background()

	s.Run("unknown subscriber", func() {
		err := s.store.InsertToken(ctx, models.NewSubscriberID(), s.newToken())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("duplicate token", func() {
		id, err := s.store.UpsertPending(ctx, s.newSubscriber("dup@example.com"), models.NewSubscriberID(), time.Now())
		s.Require().NoError(err)
		token := s.newToken()
		s.Require().NoError(s.store.InsertToken(ctx, id, token))
		s.ErrorIs(s.store.InsertToken(ctx, id, token), sentinel.ErrConflict)
	})

	s.Run("unknown token", func() {
		_, err := s.store.FindSubscriberIDByToken(ctx, s.newToken())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestTransactionRollback() {
	ctx := context.Background()

	sqlTx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	txStore := store.NewPostgresTx(sqlTx)

	id, err := txStore.UpsertPending(ctx, s.newSubscriber("rollback@example.com"), models.NewSubscriberID(), time.Now())
	s.Require().NoError(err)
	s.Require().NoError(txStore.InsertToken(ctx, id, s.newToken()))
	s.Require().NoError(sqlTx.Rollback())

	_, err = s.store.FindByEmail(ctx, "rollback@example.com")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentConfirmation() {
	ctx := context.Background()
	id, err := s.store.UpsertPending(ctx, s.newSubscriber("race@example.com"), models.NewSubscriberID(), time.Now())
	s.Require().NoError(err)
	token := s.newToken()
	s.Require().NoError(s.store.InsertToken(ctx, id, token))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sqlTx, err := s.postgres.DB.BeginTx(ctx, &sql.TxOptions{})
			if err != nil {
				return
			}
			defer func() { _ = sqlTx.Rollback() }()

			txStore := store.NewPostgresTx(sqlTx)
			owner, err := txStore.LockTokenOwner(ctx, token)
			if err != nil {
				return
			}
			if err := txStore.MarkConfirmed(ctx, owner); err != nil {
				return
			}
			if _, err := txStore.DeleteTokensForSubscriber(ctx, owner); err != nil {
				return
			}
			if sqlTx.Commit() == nil {
				mu.Lock()
				confirmed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, confirmed)
	emails, err := s.store.ListConfirmedEmails(ctx)
	s.Require().NoError(err)
	s.Equal([]string{"race@example.com"}, emails)
}

func (s *PostgresStoreSuite) TestEmailIdentityIgnoresCase() {
	ctx := context.Background()
	first, err := s.store.UpsertPending(ctx, s.newSubscriber("Ann@Example.com"), models.NewSubscriberID(), time.Now())
	s.Require().NoError(err)

	second, err := s.store.UpsertPending(ctx, s.newSubscriber("ann@example.com"), models.NewSubscriberID(), time.Now())
	s.Require().NoError(err)
	s.NotEqual(first, second)

	got, err := s.store.FindByEmail(ctx, "ANN@example.com")
	s.Require().NoError(err)
	s.Equal(second, got.ID)
	s.Equal("Ann@Example.com", got.Email)

	s.Require().NoError(s.store.MarkConfirmed(ctx, second))
	_, err = s.store.UpsertPending(ctx, s.newSubscriber("ANN@EXAMPLE.COM"), models.NewSubscriberID(), time.Now())
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	emails, err := s.store.ListConfirmedEmails(ctx)
	s.Require().NoError(err)
	s.Equal([]string{"Ann@Example.com"}, emails)
}

// confirmInTx runs the confirmation writes on an open transaction.
func (s *PostgresStoreSuite) confirmInTx(ctx context.Context, txStore *store.PostgresStore, id models.SubscriberID) error {
	if err := txStore.MarkConfirmed(ctx, id); err != nil {
		return err
	}
	_, err := txStore.DeleteTokensForSubscriber(ctx, id)
	return err
}

func (s *PostgresStoreSuite) requireNoDeadlock(err error) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		s.Require().NotEqual(pq.ErrorCode("40P01"), pqErr.Code, "deadlock detected")
	}
}

func (s *PostgresStoreSuite) TestConfirmRacesPendingReregistration() {
	ctx := context.Background()
	const waitFor = 10 * time.Second

	s.Run("re-registration waits for a confirmation holding the lock", func() {
		s.Require().NoError(s.postgres.TruncateTables(ctx, "subscription_tokens", "subscriptions"))
		sub := s.newSubscriber("waits@example.com")
		id, err := s.store.UpsertPending(ctx, sub, models.NewSubscriberID(), time.Now())
		s.Require().NoError(err)
		token := s.newToken()
		s.Require().NoError(s.store.InsertToken(ctx, id, token))

		confirmTx, err := s.postgres.DB.BeginTx(ctx, nil)
		s.Require().NoError(err)
		defer func() { _ = confirmTx.Rollback() }()
		confirmStore := store.NewPostgresTx(confirmTx)
		owner, err := confirmStore.LockTokenOwner(ctx, token)
		s.Require().NoError(err)
		s.Equal(id, owner)

		upserted := make(chan error, 1)
		go func() {
			regTx, err := s.postgres.DB.BeginTx(ctx, nil)
			if err != nil {
				upserted <- err
				return
			}
			defer func() { _ = regTx.Rollback() }()
			_, err = store.NewPostgresTx(regTx).UpsertPending(ctx, sub, models.NewSubscriberID(), time.Now())
			if err == nil {
				err = regTx.Commit()
			}
			upserted <- err
		}()

		err = s.confirmInTx(ctx, confirmStore, owner)
		s.requireNoDeadlock(err)
		s.Require().NoError(err)
		s.Require().NoError(confirmTx.Commit())

		select {
		case err := <-upserted:
			s.requireNoDeadlock(err)
			s.ErrorIs(err, sentinel.ErrAlreadyUsed)
		case <-time.After(waitFor):
			s.FailNow("re-registration did not finish")
		}

		got, err := s.store.FindByEmail(ctx, "waits@example.com")
		s.Require().NoError(err)
		s.Equal(models.StatusConfirmed, got.Status)
		s.Equal(id, got.ID)
	})

	s.Run("confirmation follows an id rotated while it waited", func() {
		s.Require().NoError(s.postgres.TruncateTables(ctx, "subscription_tokens", "subscriptions"))
		sub := s.newSubscriber("rotates@example.com")
		id, err := s.store.UpsertPending(ctx, sub, models.NewSubscriberID(), time.Now())
		s.Require().NoError(err)
		token := s.newToken()
		s.Require().NoError(s.store.InsertToken(ctx, id, token))

		regTx, err := s.postgres.DB.BeginTx(ctx, nil)
		s.Require().NoError(err)
		defer func() { _ = regTx.Rollback() }()
		rotated, err := store.NewPostgresTx(regTx).UpsertPending(ctx, sub, models.NewSubscriberID(), time.Now())
		s.Require().NoError(err)
		s.NotEqual(id, rotated)

		type result struct {
			owner models.SubscriberID
			err   error
		}
		confirmed := make(chan result, 1)
		go func() {
			confirmTx, err := s.postgres.DB.BeginTx(ctx, nil)
			if err != nil {
				confirmed <- result{err: err}
				return
			}
			defer func() { _ = confirmTx.Rollback() }()
			confirmStore := store.NewPostgresTx(confirmTx)
			owner, err := confirmStore.LockTokenOwner(ctx, token)
			if err == nil {
				err = s.confirmInTx(ctx, confirmStore, owner)
			}
			if err == nil {
				err = confirmTx.Commit()
			}
			confirmed <- result{owner: owner, err: err}
		}()

		s.Require().NoError(regTx.Commit())

		select {
		case res := <-confirmed:
			s.requireNoDeadlock(res.err)
			s.Require().NoError(res.err)
			s.Equal(rotated, res.owner)
		case <-time.After(waitFor):
			s.FailNow("confirmation did not finish")
		}

		got, err := s.store.FindByEmail(ctx, "rotates@example.com")
		s.Require().NoError(err)
		s.Equal(models.StatusConfirmed, got.Status)
		tokens, err := s.store.ListTokens(ctx, rotated)
		s.Require().NoError(err)
		s.Empty(tokens)
	})
}
