package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusSent       Status = "Sent"
	StatusFailed     Status = "Failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Channels returns every supported channel.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}

// Field limits (in characters).
const (
	MaxRecipientLength = 500
	MaxMessageLength   = 5000
)

// ErrorSeparator joins entries of Notification.Errors.
const ErrorSeparator = "; "

// Notification is a single request to deliver a message over one channel.
type Notification struct {
	ID        string
	Channel   Channel
	Recipient string
	Message   string
	Status    Status
	Retries   int
	Errors    *string
	Metadata  []byte
	CreatedAt time.Time
	UpdatedAt *time.Time
	Attempts  []NotificationAttempt
}

func (n *Notification) Validate() error {
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: channel must be one of email, sms, push (got %q)", ErrValidation, n.Channel)
	}
	if strings.TrimSpace(n.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if l := len([]rune(n.Recipient)); l > MaxRecipientLength {
		return fmt.Errorf("%w: recipient exceeds %d characters (got %d)", ErrValidation, MaxRecipientLength, l)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if l := len([]rune(n.Message)); l > MaxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters (got %d)", ErrValidation, MaxMessageLength, l)
	}
	return nil
}
