//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"newsletter/internal/publisher/models"
	"newsletter/internal/publisher/store"
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
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "users"))
}

func (s *PostgresStoreSuite) TestUpsertAndFind() {
	ctx := context.Background()

	_, err := s.store.FindByUsername(ctx, "editor")
	s.ErrorIs(err, sentinel.ErrNotFound)

	first := &models.Publisher{ID: uuid.New(), Username: "editor", PasswordHash: "h1"}
	s.Require().NoError(s.store.Upsert(ctx, first))

	second := &models.Publisher{ID: uuid.New(), Username: "editor", PasswordHash: "h2"}
	s.Require().NoError(s.store.Upsert(ctx, second))
	s.Equal(first.ID, second.ID)

	found, err := s.store.FindByUsername(ctx, "editor")
	s.Require().NoError(err)
	s.Equal("h2", found.PasswordHash)
}
