package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// Provider is the outbound delivery port for one channel. Any returned error
// is treated as a failed attempt.
type Provider interface {
	Send(ctx context.Context, recipient, message string, metadata map[string]any) error
}

// Kind selects a Provider implementation.
type Kind string

const (
	KindMock     Kind = "mock"
	KindWebhook  Kind = "webhook"
	KindPostmark Kind = "postmark"
)

// Config carries the settings every provider kind may need.
type Config struct {
	Kind                 Kind
	MockFailureRate      float64
	WebhookURL           string
	PostmarkServerToken  string
	PostmarkAccountToken string
	PostmarkSender       string
}

// ForChannel returns the config to use for channel. Postmark only sends
// email, so other channels fall back to the mock provider; fellBack reports
// that substitution.
func (c Config) ForChannel(channel domain.Channel) (cfg Config, fellBack bool) {
	if Kind(strings.ToLower(strings.TrimSpace(string(c.Kind)))) == KindPostmark && channel != domain.ChannelEmail {
		c.Kind = KindMock
		return c, true
	}
	return c, false
}

// New builds the provider configured for channel.
func New(channel domain.Channel, cfg Config) (Provider, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}

	switch Kind(strings.ToLower(strings.TrimSpace(string(cfg.Kind)))) {
	case KindMock, "":
		return NewMockProvider(channel, WithFailureRate(cfg.MockFailureRate)), nil
	case KindWebhook:
		return NewWebhookProvider(channel, cfg.WebhookURL)
	case KindPostmark:
		if channel != domain.ChannelEmail {
			return nil, fmt.Errorf("postmark provider only supports the email channel, got %q", channel)
		}
		return NewPostmarkProvider(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.PostmarkSender)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
