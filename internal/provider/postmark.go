package provider

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/mrz1836/postmark"
)

const (
	defaultEmailSubject = "Notification"
	postmarkTag         = "notification"
)

type postmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkProvider delivers email notifications through Postmark's
// transactional API. metadata["subject"] overrides the default subject and
// metadata["html"] switches the body to HTML.
type PostmarkProvider struct {
	client postmarkSender
	from   string
}

func NewPostmarkProvider(serverToken, accountToken, sender string) (*PostmarkProvider, error) {
	if strings.TrimSpace(serverToken) == "" {
		return nil, fmt.Errorf("postmark server token is required")
	}
	if strings.TrimSpace(accountToken) == "" {
		return nil, fmt.Errorf("postmark account token is required")
	}
	if _, err := mail.ParseAddress(sender); err != nil {
		return nil, fmt.Errorf("invalid postmark sender %q: %w", sender, err)
	}

	return &PostmarkProvider{
		client: postmark.NewClient(serverToken, accountToken),
		from:   sender,
	}, nil
}

func (p *PostmarkProvider) Send(ctx context.Context, recipient, message string, metadata map[string]any) error {
	email := postmark.Email{
		From:    p.from,
		To:      recipient,
		Subject: metadataString(metadata, "subject", defaultEmailSubject),
		Tag:     postmarkTag,
	}
	if html, _ := metadata["html"].(bool); html {
		email.HTMLBody = message
		email.TrackOpens = true
	} else {
		email.TextBody = message
	}

	resp, err := p.client.SendEmail(ctx, email)
	if err != nil {
		return &ProviderError{Provider: "postmark", Message: "request failed", Transient: true, Cause: err}
	}
	if resp.ErrorCode > 0 {
		return &ProviderError{
			Provider:  "postmark",
			Message:   fmt.Sprintf("code %d: %s", resp.ErrorCode, resp.Message),
			Transient: false,
		}
	}
	return nil
}

func metadataString(metadata map[string]any, key, fallback string) string {
	if v, ok := metadata[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
