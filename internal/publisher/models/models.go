package models

import "github.com/google/uuid"

// Publisher is an account allowed to send newsletter issues.
type Publisher struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string `json:"-"`
}
