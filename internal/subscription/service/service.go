package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"newsletter/internal/email"
	"newsletter/internal/platform/metrics"
	"newsletter/internal/subscription/models"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/audit"
	"newsletter/pkg/platform/sentinel"
	"newsletter/pkg/requestcontext"
)

// Store is the persistence surface the workflows need. Every call made by
// the service happens inside RunInTx.
type Store interface {
	UpsertPending(ctx context.Context, sub models.NewSubscriber, id models.SubscriberID, now time.Time) (models.SubscriberID, error)
	InsertToken(ctx context.Context, id models.SubscriberID, token models.SubscriptionToken) error
	// LockTokenOwner resolves token to its subscriber and locks the
	// subscriber row until the transaction ends.
	LockTokenOwner(ctx context.Context, token models.SubscriptionToken) (models.SubscriberID, error)
	MarkConfirmed(ctx context.Context, id models.SubscriberID) error
	DeleteTokensForSubscriber(ctx context.Context, id models.SubscriberID) (int64, error)
}

// EmailSender delivers the confirmation email.
type EmailSender interface {
	Send(ctx context.Context, msg email.Message) error
}

// Auditor records subscription lifecycle events.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// RegistrationOutcome tells the caller what Register did. Both outcomes are
// successes and map to the same HTTP response.
type RegistrationOutcome string

const (
	OutcomeConfirmationSent RegistrationOutcome = "confirmation_sent"
	OutcomeAlreadyConfirmed RegistrationOutcome = "already_confirmed"
)

const confirmPath = "/subscriptions/confirm"

// Service runs the subscribe and confirm workflows.
type Service struct {
	tx      SubscriptionTx
	sender  EmailSender
	baseURL string
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	auditor Auditor
	newID   func() models.SubscriberID
	token   func() (models.SubscriptionToken, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithAuditor(auditor Auditor) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

// WithTokenGenerator overrides token generation.
func WithTokenGenerator(gen func() (models.SubscriptionToken, error)) Option {
	return func(s *Service) {
		s.token = gen
	}
}

// New constructs a Service. baseURL is the public origin used to build
// confirmation links.
func New(tx SubscriptionTx, sender EmailSender, baseURL string, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, errors.New("subscription tx is required")
	}
	if sender == nil {
		return nil, errors.New("email sender is required")
	}
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	s := &Service{
		tx:      tx,
		sender:  sender,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  slog.New(slog.DiscardHandler),
		tracer:  otel.Tracer("newsletter/subscription"),
		newID:   models.NewSubscriberID,
		token:   models.GenerateSubscriptionToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register validates the visitor's input, records a pending subscription
// with a fresh token and emails the confirmation link.
//
// A confirmed address is left untouched and reported as
// OutcomeAlreadyConfirmed without sending anything. If the email cannot be
// sent after commit the rows stay committed and an internal error is returned.
func (s *Service) Register(ctx context.Context, rawEmail, rawName string) (RegistrationOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.Register")
	defer span.End()

	sub, err := models.ParseNewSubscriber(rawEmail, rawName)
	if err != nil {
		span.SetStatus(codes.Error, "invalid subscriber")
		return "", err
	}

	var (
		subscriberID models.SubscriberID
		token        models.SubscriptionToken
	)
	err = s.tx.RunInTx(ctx, func(store Store) error {
		id, err := store.UpsertPending(ctx, sub, s.newID(), requestcontext.Now(ctx).UTC())
		if err != nil {
			return err
		}
		tok, err := s.token()
		if err != nil {
			return err
		}
		if err := store.InsertToken(ctx, id, tok); err != nil {
			return err
		}
		subscriberID, token = id, tok
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.logger.InfoContext(ctx, "subscription already confirmed")
			s.metrics.IncrementRegistered(metrics.OutcomeAlreadyConfirmed)
			return OutcomeAlreadyConfirmed, nil
		}
		s.fail(ctx, span, "failed to store pending subscriber", err)
		s.metrics.IncrementRegistered(metrics.OutcomeFailed)
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store subscriber")
	}
	span.SetAttributes(attribute.String("subscriber_id", subscriberID.String()))

	if err := s.sendConfirmation(ctx, sub, token); err != nil {
		s.fail(ctx, span, "failed to send confirmation email", err, "subscriber_id", subscriberID.String())
		s.metrics.IncrementRegistered(metrics.OutcomeFailed)
		s.metrics.IncrementDelivery(metrics.KindConfirmation, metrics.DeliveryFailed)
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to send confirmation email")
	}
	s.metrics.IncrementDelivery(metrics.KindConfirmation, metrics.DeliverySent)
	s.metrics.IncrementRegistered(metrics.OutcomeTokenIssued)
	s.logger.InfoContext(ctx, "confirmation email sent", "subscriber_id", subscriberID.String())
	s.emitAudit(ctx, audit.Event{
		SubjectID: subscriberID.String(),
		Subject:   sub.Name.String(),
		Action:    string(audit.EventSubscriptionRequested),
		Email:     sub.Email.String(),
	})
	return OutcomeConfirmationSent, nil
}

// Confirm consumes a token: the bound subscriber becomes confirmed and every
// token it holds is deleted, all in one transaction.
func (s *Service) Confirm(ctx context.Context, rawToken string) error {
	ctx, span := s.tracer.Start(ctx, "subscription.Confirm")
	defer span.End()

	token, err := models.ParseSubscriptionToken(rawToken)
	if err != nil {
		span.SetStatus(codes.Error, "malformed token")
		return err
	}

	var subscriberID models.SubscriberID
	err = s.tx.RunInTx(ctx, func(store Store) error {
		id, err := store.LockTokenOwner(ctx, token)
		if err != nil {
			return err
		}
		if err := store.MarkConfirmed(ctx, id); err != nil {
			return err
		}
		if _, err := store.DeleteTokensForSubscriber(ctx, id); err != nil {
			return err
		}
		subscriberID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			span.SetStatus(codes.Error, "unknown token")
			s.emitAudit(ctx, audit.Event{
				Action: string(audit.EventConfirmationRejected),
				Reason: "unknown_token",
			})
			return dErrors.New(dErrors.CodeUnauthorized, "unknown subscription token")
		}
		s.fail(ctx, span, "failed to confirm subscriber", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to confirm subscriber")
	}

	s.metrics.IncrementConfirmed()
	s.logger.InfoContext(ctx, "subscriber confirmed", "subscriber_id", subscriberID.String())
	s.emitAudit(ctx, audit.Event{
		SubjectID: subscriberID.String(),
		Action:    string(audit.EventSubscriptionConfirmed),
	})
	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, sub models.NewSubscriber, token models.SubscriptionToken) error {
	ctx, span := s.tracer.Start(ctx, "subscription.SendConfirmation")
	defer span.End()

	msg, err := renderConfirmation(sub.Email.String(), s.confirmationLink(token))
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, msg)
}

func (s *Service) confirmationLink(token models.SubscriptionToken) string {
	q := url.Values{}
	q.Set("subscription_token", token.String())
	return s.baseURL + confirmPath + "?" + q.Encode()
}

func (s *Service) fail(ctx context.Context, span trace.Span, msg string, err error, attrs ...any) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.ErrorContext(ctx, msg, append(attrs, "error", err)...)
}

// emitAudit records event after the workflow has committed. A failed write
// is logged and does not fail the request.
func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to record audit event",
			"action", event.Action,
			"error", err.Error(),
		)
	}
}
