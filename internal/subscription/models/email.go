package models

import (
	"github.com/go-playground/validator/v10"

	dErrors "newsletter/pkg/domain-errors"
)

var validate = validator.New()

// SubscriberEmail is an address that passed the email grammar check.
type SubscriberEmail struct {
	value string
}

// ParseSubscriberEmail validates raw as an email address.
func ParseSubscriberEmail(raw string) (SubscriberEmail, error) {
	if err := validate.Var(raw, "required,email"); err != nil {
		return SubscriberEmail{}, dErrors.New(dErrors.CodeValidation, "email is not a valid address")
	}
	return SubscriberEmail{value: raw}, nil
}

func (e SubscriberEmail) String() string {
	return e.value
}
