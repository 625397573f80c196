package repository

import (
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"gorm.io/datatypes"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	Channel   domain.Channel `gorm:"type:varchar(10);not null"`
	Recipient string         `gorm:"type:varchar(500);not null"`
	Message   string         `gorm:"type:varchar(5000);not null"`
	Status    domain.Status  `gorm:"type:varchar(20);not null;index:idx_notifications_status"`
	Retries   int            `gorm:"not null;default:0"`
	Errors    *string        `gorm:"type:text"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index:idx_notifications_created_at"`
	UpdatedAt *time.Time     `gorm:"autoUpdateTime:false"`

	Attempts []NotificationAttemptModel `gorm:"foreignKey:NotificationID;constraint:OnDelete:CASCADE"`
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// NotificationAttemptModel is the persistence model for notification_attempts.
type NotificationAttemptModel struct {
	ID             string        `gorm:"type:uuid;primaryKey"`
	NotificationID string        `gorm:"type:uuid;not null;index:idx_attempts_notification_id"`
	AttemptedAt    time.Time     `gorm:"not null;index:idx_attempts_attempted_at"`
	Status         domain.Status `gorm:"type:varchar(20);not null"`
	ErrorMessage   *string       `gorm:"type:text"`
	RetryNumber    int           `gorm:"not null;default:0"`
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:        n.ID,
		Channel:   n.Channel,
		Recipient: n.Recipient,
		Message:   n.Message,
		Status:    n.Status,
		Retries:   n.Retries,
		Errors:    n.Errors,
		Metadata:  datatypes.JSON(n.Metadata),
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	n := &domain.Notification{
		ID:        m.ID,
		Channel:   m.Channel,
		Recipient: m.Recipient,
		Message:   m.Message,
		Status:    m.Status,
		Retries:   m.Retries,
		Errors:    m.Errors,
		Metadata:  []byte(m.Metadata),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.Attempts) > 0 {
		n.Attempts = make([]domain.NotificationAttempt, 0, len(m.Attempts))
		for i := range m.Attempts {
			n.Attempts = append(n.Attempts, *attemptModelToDomain(&m.Attempts[i]))
		}
	}
	return n
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	return &NotificationAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptedAt:    a.AttemptedAt,
		Status:         a.Status,
		ErrorMessage:   a.ErrorMessage,
		RetryNumber:    a.RetryNumber,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptedAt:    m.AttemptedAt,
		Status:         m.Status,
		ErrorMessage:   m.ErrorMessage,
		RetryNumber:    m.RetryNumber,
	}
}
