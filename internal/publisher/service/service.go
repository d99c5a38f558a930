package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"newsletter/internal/publisher/models"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/audit"
	"newsletter/pkg/platform/sentinel"
	"newsletter/pkg/requestcontext"
	"newsletter/pkg/secrets"
)

type Store interface {
	FindByUsername(ctx context.Context, username string) (*models.Publisher, error)
	Upsert(ctx context.Context, p *models.Publisher) error
}

// Auditor records credential events.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service authenticates publishers against stored bcrypt hashes.
type Service struct {
	store     Store
	logger    *slog.Logger
	auditor   Auditor
	dummyHash string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditor(auditor Auditor) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("publisher store is required")
	}
	// Unknown usernames are compared against this hash so the response time
	// does not reveal which usernames exist.
	dummy, err := secrets.Generate()
	if err != nil {
		return nil, err
	}
	dummyHash, err := secrets.Hash(dummy)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:     store,
		logger:    slog.New(slog.DiscardHandler),
		dummyHash: dummyHash,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authenticate returns nil when password matches the stored hash for
// username. Unknown users and wrong passwords both yield CodeUnauthorized.
func (s *Service) Authenticate(ctx context.Context, username, password string) error {
	p, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			_ = secrets.Verify(password, s.dummyHash)
			s.emitAudit(ctx, audit.EventPublisherAuthFailed, username, "unknown_user")
			return dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load publisher")
	}
	if err := secrets.Verify(password, p.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.emitAudit(ctx, audit.EventPublisherAuthFailed, username, "wrong_password")
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify credentials")
	}
	return nil
}

// EnsurePublisher creates the publisher or resets its password. It runs at
// startup with the configured credentials.
func (s *Service) EnsurePublisher(ctx context.Context, username, password string) error {
	if username == "" {
		return dErrors.New(dErrors.CodeValidation, "publisher username is required")
	}
	hash, err := secrets.Hash(password)
	if err != nil {
		return err
	}
	p := &models.Publisher{ID: uuid.New(), Username: username, PasswordHash: hash}
	if err := s.store.Upsert(ctx, p); err != nil {
		return fmt.Errorf("ensure publisher: %w", err)
	}
	s.logger.InfoContext(ctx, "publisher credentials ensured", "username", username, "user_id", p.ID.String())
	s.emitAudit(ctx, audit.EventPublisherProvisioned, username, "")
	return nil
}

func (s *Service) emitAudit(ctx context.Context, action audit.AuditEvent, username, reason string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		SubjectID: username,
		Action:    string(action),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record audit event",
			"action", string(action),
			"error", err.Error(),
		)
	}
}
