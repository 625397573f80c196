package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	"github.com/kursadbilgin/notification-dispatcher/internal/queue"
	"github.com/kursadbilgin/notification-dispatcher/internal/repository"
	"go.uber.org/zap"
)

// NotificationService accepts notification requests and reports their
// delivery state.
type NotificationService struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	newID         func() string
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil || attempts == nil {
		return nil, fmt.Errorf("notification and attempt repositories are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		attempts:      attempts,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create stores notification as Pending and publishes it to its channel
// queue. The record is persisted before the message is published; a publish
// failure is returned and leaves the record Pending.
func (s *NotificationService) Create(ctx context.Context, notification *domain.Notification) (*domain.Notification, error) {
	if notification == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	notification.Channel = domain.Channel(strings.ToLower(strings.TrimSpace(notification.Channel.String())))
	notification.Recipient = strings.TrimSpace(notification.Recipient)
	if err := notification.Validate(); err != nil {
		return nil, err
	}

	notification.ID = s.newID()
	notification.Status = domain.StatusPending
	notification.Retries = 0
	notification.Errors = nil
	notification.UpdatedAt = nil
	notification.Attempts = nil
	notification.CreatedAt = s.now().UTC()

	msg, err := queue.NewNotificationMessage(notification)
	if err != nil {
		return nil, err
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}

	logger := s.logger.With(
		zap.String("notificationId", notification.ID),
		zap.String("channel", notification.Channel.String()),
	)

	if err := s.publisher.Publish(ctx, queue.QueueName(notification.Channel), msg); err != nil {
		logger.Error("failed to publish notification", zap.Error(err))
		return nil, fmt.Errorf("failed to publish notification %s: %w", notification.ID, err)
	}

	s.metrics.IncNotificationPublished(notification.Channel.String())
	logger.Info("notification accepted")

	return notification, nil
}

// GetStatus returns the notification with its attempts ordered by attempt time.
func (s *NotificationService) GetStatus(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	// Ids are uuids; anything else cannot name a stored notification.
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: notification %q", domain.ErrNotFound, id)
	}

	notification, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	attempts, err := s.attempts.ListByNotificationID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}
	notification.Attempts = attempts

	return notification, nil
}
