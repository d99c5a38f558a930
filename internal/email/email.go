// Package email delivers transactional mail through a Postmark-compatible
// HTTP API or plain SMTP.
package email

import (
	"context"
	"fmt"
	"time"
)

// Message is a single outbound email with text and HTML alternatives.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender delivers one message. Implementations must honour ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const (
	TransportPostmark = "postmark"
	TransportSMTP     = "smtp"
)

// Config selects and configures a transport.
type Config struct {
	Transport string
	Sender    string
	Timeout   time.Duration

	BaseURL   string
	AuthToken string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
}

// NewSender builds the transport named by cfg.Transport.
func NewSender(cfg Config) (Sender, error) {
	switch cfg.Transport {
	case TransportPostmark, "":
		return NewPostmarkClient(cfg.BaseURL, cfg.Sender, cfg.AuthToken, cfg.Timeout)
	case TransportSMTP:
		return NewSMTPSender(cfg)
	default:
		return nil, fmt.Errorf("unknown email transport %q", cfg.Transport)
	}
}
