package email

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/smallbiznis/creditkit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSMTPProviderBuildsMessage(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.example.com", Port: 2525, Username: "u", Password: "p", From: "creditkit@example.com"})

	var gotAddr string
	var got *email.Email
	p.send = func(e *email.Email, addr string, auth smtp.Auth) error {
		gotAddr = addr
		got = e
		assert.NotNil(t, auth)
		return nil
	}

	msg, err := MagicLink("ada@example.com", MagicLinkData{Name: "Ada", Link: "https://app.example.com/auth/magic-link/verify?token=abc", ExpiresIn: "15 minutes"})
	require.NoError(t, err)
	require.NoError(t, p.Send(context.Background(), msg))

	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, "creditkit@example.com", got.From)
	assert.Equal(t, []string{"ada@example.com"}, got.To)
	assert.Contains(t, string(got.HTML), "Hi Ada")
	assert.Contains(t, string(got.HTML), "token=abc")
	assert.Contains(t, string(got.Text), "15 minutes")
}

func TestSMTPProviderWrapsErrors(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.example.com", Port: 25})
	p.send = func(*email.Email, string, smtp.Auth) error { return errors.New("connection refused") }

	err := p.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.ErrorIs(t, p.Send(context.Background(), Message{}), ErrNoRecipients)
}

func TestNewFromConfigFallsBackToLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	provider := NewFromConfig(config.Config{}, zap.New(core))
	require.IsType(t, &LogProvider{}, provider)

	require.NoError(t, provider.Send(context.Background(), Message{To: []string{"grace@example.com"}, Subject: "Your sign-in link"}))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ContextMap()["to"], "grace@example.com")

	smtpProvider := NewFromConfig(config.Config{SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587}}, zap.NewNop())
	assert.IsType(t, &SMTPProvider{}, smtpProvider)
}
