package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("EMAIL_SENDER", "newsletter@example.com")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8000", cfg.Addr)
		assert.Equal(t, "postmark", cfg.EmailTransport)
		assert.Equal(t, 10*time.Second, cfg.EmailTimeout)
		assert.Equal(t, 5*time.Second, cfg.TxTimeout)
		assert.Equal(t, 8, cfg.FanoutConcurrency)
		assert.Equal(t, "newsletter@example.com", cfg.Email().Sender)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("EMAIL_SENDER", "newsletter@example.com")
		t.Setenv("NEWSLETTER_ADDR", ":9000")
		t.Setenv("APP_BASE_URL", "https://news.example.com")
		t.Setenv("FANOUT_CONCURRENCY", "3")
		t.Setenv("EMAIL_TRANSPORT", "smtp")
		t.Setenv("SMTP_HOST", "mail.example.com")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Addr)
		assert.Equal(t, "https://news.example.com", cfg.AppBaseURL)
		assert.Equal(t, 3, cfg.FanoutConcurrency)
		assert.Equal(t, "mail.example.com", cfg.Email().SMTPHost)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			AppBaseURL:        "http://127.0.0.1:8000",
			DBMaxOpenConns:    1,
			TxTimeout:         time.Second,
			EmailTransport:    "postmark",
			EmailSender:       "newsletter@example.com",
			EmailBaseURL:      "http://localhost:8080",
			EmailTimeout:      time.Second,
			FanoutConcurrency: 1,
			LogFormat:         "json",
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.AppBaseURL = "" }},
		{"invalid sender", func(c *Config) { c.EmailSender = "not-an-email" }},
		{"unknown transport", func(c *Config) { c.EmailTransport = "pigeon" }},
		{"smtp without host", func(c *Config) { c.EmailTransport = "smtp" }},
		{"postmark without base url", func(c *Config) { c.EmailBaseURL = "" }},
		{"zero concurrency", func(c *Config) { c.FanoutConcurrency = 0 }},
		{"publisher username without password", func(c *Config) { c.PublisherUsername = "admin" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
