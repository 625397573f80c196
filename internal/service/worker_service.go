package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	"github.com/kursadbilgin/notification-dispatcher/internal/provider"
	"github.com/kursadbilgin/notification-dispatcher/internal/queue"
	"github.com/kursadbilgin/notification-dispatcher/internal/ratelimit"
	"github.com/kursadbilgin/notification-dispatcher/internal/repository"
	"github.com/kursadbilgin/notification-dispatcher/internal/retry"
	"go.uber.org/zap"
)

var errUnknownNotification = errors.New("notification not found")

// WorkerService delivers the messages of one channel queue through a
// provider, recording every status change and attempt.
type WorkerService struct {
	channel       domain.Channel
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	consumer      queue.Consumer
	provider      provider.Provider
	rateLimiter   ratelimit.RateLimiter
	policy        retry.Policy
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewWorkerService(
	channel domain.Channel,
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	provider provider.Provider,
	policy retry.Policy,
	logger *zap.Logger,
) (*WorkerService, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}
	if notifications == nil || attempts == nil {
		return nil, fmt.Errorf("notification and attempt repositories are required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		channel:       channel,
		notifications: notifications,
		attempts:      attempts,
		consumer:      consumer,
		provider:      provider,
		policy:        policy,
		logger:        logger.With(zap.String("channel", channel.String())),
		now:           time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetRateLimiter throttles provider sends. A nil limiter disables throttling.
func (s *WorkerService) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if s == nil {
		return
	}
	s.rateLimiter = limiter
}

// Start consumes the channel queue until ctx is cancelled.
func (s *WorkerService) Start(ctx context.Context) error {
	queueName := queue.QueueName(s.channel)
	s.logger.Info("worker started", zap.String("queue", queueName))

	if err := s.consumer.Consume(ctx, queueName, s.processMessage); err != nil {
		s.logger.Error("worker stopped with error", zap.String("queue", queueName), zap.Error(err))
		return err
	}

	s.logger.Info("worker stopped", zap.String("queue", queueName))
	return nil
}

// processMessage runs one delivery cycle. It returns nil once the outcome,
// success or exhausted retries, is persisted; store failures are returned so
// the message is requeued.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.NotificationMessage) error {
	ctx = observability.WithNotificationID(ctx, msg.NotificationID)
	logger := observability.WithContextLogger(s.logger, ctx)
	channelName := s.channel.String()

	if msg.Channel != s.channel {
		logger.Warn("message channel does not match worker channel", zap.String("messageChannel", msg.Channel.String()))
	}

	s.metrics.IncWorkerInFlight(channelName)
	defer s.metrics.DecWorkerInFlight(channelName)

	policy := s.policy
	policy.OnRetry = func(try int, delay time.Duration, err error) {
		s.metrics.IncRetryScheduled(channelName)
		logger.Info("retrying delivery",
			zap.Int("try", try),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := policy.Do(ctx, func(ctx context.Context, try int) error {
		return s.attempt(ctx, logger, msg, try)
	})

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		s.metrics.IncNotificationSent(channelName)
		logger.Info("notification sent")
		return nil
	case errors.Is(err, errUnknownNotification):
		logger.Warn("notification not found, skipping message")
		return nil
	case errors.As(err, &exhausted):
		return s.markFailed(ctx, logger, msg, exhausted)
	default:
		return err
	}
}

// attempt performs a single try. Store and rate limiter errors are permanent
// for the retry policy; provider errors are retried.
func (s *WorkerService) attempt(ctx context.Context, logger *zap.Logger, msg queue.NotificationMessage, try int) error {
	channelName := s.channel.String()
	retryNumber := msg.RetryCount + try

	if err := s.notifications.UpdateStatus(ctx, msg.NotificationID, domain.StatusProcessing, ""); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return retry.Permanent(errUnknownNotification)
		}
		return retry.Permanent(fmt.Errorf("failed to mark notification processing: %w", err))
	}
	if err := s.recordAttempt(ctx, msg.NotificationID, domain.StatusProcessing, retryNumber, ""); err != nil {
		return retry.Permanent(err)
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, s.channel); err != nil {
			return retry.Permanent(fmt.Errorf("rate limiter wait failed: %w", err))
		}
	}

	sendStart := s.now()
	sendErr := s.provider.Send(ctx, msg.Recipient, msg.Message, msg.Metadata)
	s.metrics.ObserveNotificationSendDuration(channelName, s.now().Sub(sendStart))

	if sendErr == nil {
		s.metrics.IncDeliveryAttempt(channelName, "sent")
		if err := s.notifications.UpdateStatus(ctx, msg.NotificationID, domain.StatusSent, ""); err != nil {
			return retry.Permanent(fmt.Errorf("failed to mark notification sent: %w", err))
		}
		if err := s.recordAttempt(ctx, msg.NotificationID, domain.StatusSent, retryNumber, ""); err != nil {
			return retry.Permanent(err)
		}
		return nil
	}

	s.metrics.IncDeliveryAttempt(channelName, "failed")
	logger.Warn("delivery attempt failed",
		zap.Int("try", try),
		zap.Int("retryNumber", retryNumber),
		zap.Bool("transient", provider.IsTransient(sendErr)),
		zap.Error(sendErr),
	)

	if err := s.recordAttempt(ctx, msg.NotificationID, domain.StatusFailed, retryNumber, sendErr.Error()); err != nil {
		return retry.Permanent(err)
	}
	if uint64(try) <= s.policy.MaxRetries {
		if err := s.notifications.IncrementRetries(ctx, msg.NotificationID); err != nil {
			return retry.Permanent(fmt.Errorf("failed to increment retries: %w", err))
		}
	}

	return sendErr
}

func (s *WorkerService) markFailed(ctx context.Context, logger *zap.Logger, msg queue.NotificationMessage, exhausted *retry.ExhaustedError) error {
	errMsg := exhausted.Err.Error()

	if err := s.notifications.UpdateStatus(ctx, msg.NotificationID, domain.StatusFailed, errMsg); err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	if err := s.recordAttempt(ctx, msg.NotificationID, domain.StatusFailed, msg.RetryCount, errMsg); err != nil {
		return err
	}

	s.metrics.IncNotificationFailed(s.channel.String(), "retries_exhausted")
	logger.Error("notification delivery failed",
		zap.Int("attempts", exhausted.Attempts),
		zap.String("lastError", errMsg),
	)
	return nil
}

func (s *WorkerService) recordAttempt(ctx context.Context, notificationID string, status domain.Status, retryNumber int, errMsg string) error {
	attempt := &domain.NotificationAttempt{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		AttemptedAt:    s.now().UTC(),
		Status:         status,
		RetryNumber:    retryNumber,
	}
	if errMsg != "" {
		attempt.ErrorMessage = &errMsg
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record %s attempt: %w", status, err)
	}
	return nil
}
