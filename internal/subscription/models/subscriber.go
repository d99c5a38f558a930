package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriberID identifies a subscriber row. A pending re-registration
// replaces it, so callers must not cache it across registrations.
type SubscriberID uuid.UUID

func NewSubscriberID() SubscriberID {
	return SubscriberID(uuid.New())
}

func (id SubscriberID) String() string {
	return uuid.UUID(id).String()
}

// Status is the subscriber lifecycle state. It only moves forward.
type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
)

// NewSubscriber is a validated registration request.
type NewSubscriber struct {
	Email SubscriberEmail
	Name  SubscriberName
}

// ParseNewSubscriber validates the raw form fields of a registration.
func ParseNewSubscriber(rawEmail, rawName string) (NewSubscriber, error) {
	name, err := ParseSubscriberName(rawName)
	if err != nil {
		return NewSubscriber{}, err
	}
	email, err := ParseSubscriberEmail(rawEmail)
	if err != nil {
		return NewSubscriber{}, err
	}
	return NewSubscriber{Email: email, Name: name}, nil
}

// Subscriber is a persisted subscriber row.
type Subscriber struct {
	ID           SubscriberID
	Email        string
	Name         string
	Status       Status
	SubscribedAt time.Time
}

// IsConfirmed reports whether the subscriber may receive newsletters.
func (s Subscriber) IsConfirmed() bool {
	return s.Status == StatusConfirmed
}
