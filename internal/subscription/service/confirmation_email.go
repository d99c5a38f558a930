package service

import (
	"bytes"
	"fmt"
	"html/template"

	"newsletter/internal/email"
)

const confirmationSubject = "Welcome!"

var confirmationHTML = template.Must(template.New("confirmation").Parse(
	`Welcome to our newsletter!<br />Click <a href="{{.}}">here</a> to confirm your subscription.`,
))

func renderConfirmation(to, link string) (email.Message, error) {
	var html bytes.Buffer
	if err := confirmationHTML.Execute(&html, link); err != nil {
		return email.Message{}, fmt.Errorf("render confirmation email: %w", err)
	}
	return email.Message{
		To:       to,
		Subject:  confirmationSubject,
		HTMLBody: html.String(),
		TextBody: fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link),
	}, nil
}
