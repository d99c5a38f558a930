package models

import (
	"strings"

	dErrors "newsletter/pkg/domain-errors"
)

// Issue is one newsletter edition with HTML and plain-text bodies.
type Issue struct {
	Title string
	HTML  string
	Text  string
}

// Validate rejects an issue without a title.
func (i Issue) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	return nil
}

// Report summarises one fan-out.
type Report struct {
	Recipients int              `json:"recipients"`
	Delivered  int              `json:"delivered"`
	Failed     []FailedDelivery `json:"failed"`
	Skipped    int              `json:"skipped"`
}

// FailedDelivery names a recipient whose send returned an error.
type FailedDelivery struct {
	Recipient string `json:"recipient"`
	Err       error  `json:"-"`
}
