package models

import (
	"strings"

	"github.com/rivo/uniseg"

	dErrors "newsletter/pkg/domain-errors"
)

// MaxNameGraphemes bounds a display name in user-perceived characters.
const MaxNameGraphemes = 256

const forbiddenNameChars = `/()"<>\{}`

// SubscriberName is a display name safe to render in emails.
type SubscriberName struct {
	value string
}

// ParseSubscriberName rejects blank names, names longer than
// MaxNameGraphemes grapheme clusters, and names containing any of
// / ( ) " < > \ { }.
func ParseSubscriberName(raw string) (SubscriberName, error) {
	switch {
	case strings.TrimSpace(raw) == "":
		return SubscriberName{}, dErrors.New(dErrors.CodeValidation, "subscriber name must not be empty")
	case uniseg.GraphemeClusterCount(raw) > MaxNameGraphemes:
		return SubscriberName{}, dErrors.New(dErrors.CodeValidation, "subscriber name is too long")
	case strings.ContainsAny(raw, forbiddenNameChars):
		return SubscriberName{}, dErrors.New(dErrors.CodeValidation, "subscriber name contains forbidden characters")
	}
	return SubscriberName{value: raw}, nil
}

func (n SubscriberName) String() string {
	return n.value
}
