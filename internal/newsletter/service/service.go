package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"newsletter/internal/email"
	"newsletter/internal/newsletter/models"
	"newsletter/internal/platform/metrics"
	subscription "newsletter/internal/subscription/models"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/audit"
	pkgstrings "newsletter/pkg/platform/strings"
	"newsletter/pkg/requestcontext"
)

// SubscriberLister returns the stored address of every confirmed subscriber.
type SubscriberLister interface {
	ListConfirmedEmails(ctx context.Context) ([]string, error)
}

// EmailSender delivers one newsletter copy.
type EmailSender interface {
	Send(ctx context.Context, msg email.Message) error
}

// Auditor records publishing events.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

const defaultConcurrency = 8

// Service fans an issue out to confirmed subscribers.
type Service struct {
	subscribers SubscriberLister
	sender      EmailSender
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	auditor     Auditor
	concurrency int
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

func WithAuditor(auditor Auditor) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithConcurrency bounds the number of sends in flight. Values below 1 are
// ignored.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(subscribers SubscriberLister, sender EmailSender, opts ...Option) (*Service, error) {
	if subscribers == nil {
		return nil, errors.New("subscriber lister is required")
	}
	if sender == nil {
		return nil, errors.New("email sender is required")
	}
	s := &Service{
		subscribers: subscribers,
		sender:      sender,
		logger:      slog.New(slog.DiscardHandler),
		tracer:      otel.Tracer("newsletter/newsletter"),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type delivery struct {
	recipient string
	skipped   bool
	err       error
}

// Publish sends issue to every confirmed subscriber. Only a failure to read
// the recipient list fails the call; per-recipient send errors and invalid
// stored addresses are logged and reported.
func (s *Service) Publish(ctx context.Context, issue models.Issue) (*models.Report, error) {
	ctx, span := s.tracer.Start(ctx, "newsletter.Publish")
	defer span.End()

	if err := issue.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid issue")
		return nil, err
	}

	recipients, err := s.subscribers.ListConfirmedEmails(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list subscribers")
		s.logger.ErrorContext(ctx, "failed to list confirmed subscribers", "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list confirmed subscribers")
	}
	// Addresses equal ignoring case are one subscriber, as in the store.
	recipients = pkgstrings.DedupeFold(recipients)
	span.SetAttributes(attribute.Int("newsletter.recipients", len(recipients)))

	results := make([]delivery, len(recipients))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, raw := range recipients {
		addr, err := subscription.ParseSubscriberEmail(raw)
		if err != nil {
			results[i] = delivery{recipient: raw, skipped: true}
			continue
		}
		g.Go(func() error {
			results[i] = delivery{
				recipient: addr.String(),
				err: s.sender.Send(ctx, email.Message{
					To:       addr.String(),
					Subject:  issue.Title,
					HTMLBody: issue.HTML,
					TextBody: issue.Text,
				}),
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &models.Report{Recipients: len(recipients), Failed: []models.FailedDelivery{}}
	for _, d := range results {
		switch {
		case d.skipped:
			report.Skipped++
			s.metrics.IncrementDelivery(metrics.KindNewsletter, metrics.DeliverySkipped)
			s.logger.WarnContext(ctx, "skipping confirmed subscriber with invalid stored email")
		case d.err != nil:
			report.Failed = append(report.Failed, models.FailedDelivery{Recipient: d.recipient, Err: d.err})
			s.metrics.IncrementDelivery(metrics.KindNewsletter, metrics.DeliveryFailed)
			s.logger.ErrorContext(ctx, "failed to deliver newsletter issue", "error", d.err)
		default:
			report.Delivered++
			s.metrics.IncrementDelivery(metrics.KindNewsletter, metrics.DeliverySent)
		}
	}

	span.SetAttributes(
		attribute.Int("newsletter.delivered", report.Delivered),
		attribute.Int("newsletter.failed", len(report.Failed)),
		attribute.Int("newsletter.skipped", report.Skipped),
	)
	s.logger.InfoContext(ctx, "newsletter issue published",
		"recipients", report.Recipients,
		"delivered", report.Delivered,
		"failed", len(report.Failed),
		"skipped", report.Skipped,
	)
	s.emitAudit(ctx, issue, report)
	return report, nil
}

func (s *Service) emitAudit(ctx context.Context, issue models.Issue, report *models.Report) {
	if s.auditor == nil {
		return
	}
	event := audit.Event{
		Timestamp: requestcontext.Now(ctx),
		Subject:   issue.Title,
		Action:    string(audit.EventNewsletterPublished),
		Reason:    fmt.Sprintf("delivered=%d failed=%d skipped=%d", report.Delivered, len(report.Failed), report.Skipped),
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   requestcontext.Publisher(ctx),
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to record audit event",
			"action", event.Action,
			"error", err.Error(),
		)
	}
}
