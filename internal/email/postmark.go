package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout    = 10 * time.Second
	serverTokenHeader = "X-Postmark-Server-Token"
)

// PostmarkClient posts messages to {baseURL}/email.
type PostmarkClient struct {
	http      *http.Client
	endpoint  string
	sender    string
	authToken string
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// NewPostmarkClient validates baseURL and sets a per-request timeout.
func NewPostmarkClient(baseURL, sender, authToken string, timeout time.Duration) (*PostmarkClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid email API base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &PostmarkClient{
		http:      &http.Client{Timeout: timeout},
		endpoint:  strings.TrimSuffix(base.String(), "/") + "/email",
		sender:    sender,
		authToken: authToken,
	}, nil
}

// Send delivers msg. Any non-2xx response is an error.
func (c *PostmarkClient) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(sendEmailRequest{
		From:     c.sender,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return fmt.Errorf("encode email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(serverTokenHeader, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("email API responded %d", resp.StatusCode)
	}
	return nil
}
