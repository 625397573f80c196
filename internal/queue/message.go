package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// NotificationMessage is the broker payload for notification processing.
type NotificationMessage struct {
	NotificationID string         `json:"notificationId"`
	Channel        domain.Channel `json:"channel"`
	Recipient      string         `json:"recipient"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata"`
	RetryCount     int            `json:"retryCount"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// NewNotificationMessage builds the initial broker payload for a stored notification.
func NewNotificationMessage(n *domain.Notification) (NotificationMessage, error) {
	msg := NotificationMessage{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Recipient:      n.Recipient,
		Message:        n.Message,
		CreatedAt:      n.CreatedAt,
	}
	if len(n.Metadata) > 0 {
		if err := json.Unmarshal(n.Metadata, &msg.Metadata); err != nil {
			return NotificationMessage{}, fmt.Errorf("%w: metadata must be a JSON object: %v", domain.ErrValidation, err)
		}
	}
	return msg, nil
}

func (m NotificationMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if _, err := uuid.Parse(m.NotificationID); err != nil {
		return fmt.Errorf("notificationId must be a uuid (got %q)", m.NotificationID)
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if m.RetryCount < 0 {
		return fmt.Errorf("retryCount must not be negative (got %d)", m.RetryCount)
	}
	return nil
}

// DecodeMessage parses and validates a delivery body.
func DecodeMessage(body []byte) (NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return NotificationMessage{}, &MalformedMessageError{Err: err}
	}
	msg.Channel = domain.Channel(strings.ToLower(msg.Channel.String()))
	if err := msg.Validate(); err != nil {
		return NotificationMessage{}, &MalformedMessageError{Err: err}
	}
	return msg, nil
}
