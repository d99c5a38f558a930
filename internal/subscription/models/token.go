package models

import (
	"crypto/rand"
	"fmt"
	"math/big"

	dErrors "newsletter/pkg/domain-errors"
)

// TokenLength is the number of characters in every subscription token.
const TokenLength = 25

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// SubscriptionToken is a one-time bearer value bound to a subscriber. Holding
// it is enough to confirm the subscription.
type SubscriptionToken struct {
	value string
}

// ParseSubscriptionToken validates the shape of an externally supplied token
// before it reaches a lookup.
func ParseSubscriptionToken(raw string) (SubscriptionToken, error) {
	if raw == "" {
		return SubscriptionToken{}, dErrors.New(dErrors.CodeValidation, "subscription token is required")
	}
	if len(raw) != TokenLength {
		return SubscriptionToken{}, dErrors.New(dErrors.CodeValidation, "subscription token is malformed")
	}
	for i := 0; i < len(raw); i++ {
		if !isAlphanumeric(raw[i]) {
			return SubscriptionToken{}, dErrors.New(dErrors.CodeValidation, "subscription token is malformed")
		}
	}
	return SubscriptionToken{value: raw}, nil
}

// GenerateSubscriptionToken draws TokenLength alphanumerics from crypto/rand.
func GenerateSubscriptionToken() (SubscriptionToken, error) {
	buf := make([]byte, TokenLength)
	limit := big.NewInt(int64(len(tokenAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return SubscriptionToken{}, fmt.Errorf("generate subscription token: %w", err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return SubscriptionToken{value: string(buf)}, nil
}

func (t SubscriptionToken) String() string {
	return t.value
}

func isAlphanumeric(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
