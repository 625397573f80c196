package domain

import "time"

// NotificationAttempt is one append-only entry in a notification's delivery history.
type NotificationAttempt struct {
	ID             string
	NotificationID string
	AttemptedAt    time.Time
	Status         Status
	ErrorMessage   *string
	RetryNumber    int
}
