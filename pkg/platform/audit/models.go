package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers consent records: a subscriber asking for and
	// confirming a subscription.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected credentials and tokens.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity such as publishing.
	CategoryOperations EventCategory = "operations"
)

type AuditEvent string

const (
	// Subscription events
	EventSubscriptionRequested AuditEvent = "subscription_requested"
	EventSubscriptionConfirmed AuditEvent = "subscription_confirmed"
	EventConfirmationRejected  AuditEvent = "confirmation_rejected"

	// Publishing events
	EventNewsletterPublished  AuditEvent = "newsletter_published"
	EventPublisherProvisioned AuditEvent = "publisher_provisioned"
	EventPublisherAuthFailed  AuditEvent = "publisher_auth_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventSubscriptionRequested: CategoryCompliance,
	EventSubscriptionConfirmed: CategoryCompliance,

	EventConfirmationRejected: CategorySecurity,
	EventPublisherAuthFailed:  CategorySecurity,

	EventNewsletterPublished:  CategoryOperations,
	EventPublisherProvisioned: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores can be swapped.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// SubjectID is the subscriber id or publisher username the event is about.
	SubjectID string
	Subject   string
	Action    string
	Email     string
	Reason    string
	RequestID string
	// ActorID is the authenticated publisher when one acted.
	ActorID string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subjectID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
