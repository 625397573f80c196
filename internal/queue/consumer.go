package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client          *RabbitMQ
	prefetch        int
	logger          *zap.Logger
	metrics         *observability.Metrics
	tracker         RedeliveryTracker
	maxRedeliveries int
}

type ConsumerOption func(*RabbitMQConsumer)

// WithRedeliveryLimit dead-letters a message once it has been negatively
// acknowledged more than max times. A max of 0 leaves requeueing unbounded.
func WithRedeliveryLimit(tracker RedeliveryTracker, max int) ConsumerOption {
	return func(c *RabbitMQConsumer) {
		c.tracker = tracker
		c.maxRedeliveries = max
	}
}

func WithConsumerMetrics(metrics *observability.Metrics) ConsumerOption {
	return func(c *RabbitMQConsumer) {
		c.metrics = metrics
	}
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger, opts ...ConsumerOption) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume delivers messages from queue to handler one at a time until ctx is
// cancelled. A handler already running when ctx is cancelled completes and its
// delivery is acknowledged normally.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	c.logger.Info("consuming", zap.String("queue", queue), zap.Int("prefetch", c.prefetch))

	return c.dispatch(ctx, queue, deliveries, handler)
}

// dispatch hands deliveries to handler one at a time until ctx is cancelled.
// A delivery received after cancellation is left unacknowledged; the broker
// requeues it once the channel closes.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if ctx.Err() != nil {
				return nil
			}

			if err := c.handleDelivery(context.WithoutCancel(ctx), queue, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler MessageHandler) error {
	key := redeliveryKey(d)

	msg, err := DecodeMessage(d.Body)
	if err != nil {
		c.logger.Warn("malformed message",
			zap.Error(err),
			zap.String("queue", queue),
			zap.String("messageId", d.MessageId),
		)
		return c.negativeAck(ctx, queue, key, d, "malformed")
	}

	if err := invokeHandler(ctx, handler, msg); err != nil {
		c.logger.Error("message handler failed",
			zap.Error(err),
			zap.String("queue", queue),
			zap.String("notificationId", msg.NotificationID),
		)
		return c.negativeAck(ctx, queue, key, d, "handler_error")
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	if c.tracker != nil && c.maxRedeliveries > 0 {
		if err := c.tracker.Reset(ctx, key); err != nil {
			c.logger.Warn("failed to reset redelivery counter", zap.String("key", key), zap.Error(err))
		}
	}

	return nil
}

// negativeAck requeues d, or rejects it to the dead-letter exchange once its
// redelivery budget is spent.
func (c *RabbitMQConsumer) negativeAck(ctx context.Context, queue string, key string, d amqp.Delivery, reason string) error {
	if c.tracker != nil && c.maxRedeliveries > 0 {
		count, err := c.tracker.Increment(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("failed to count redelivery, requeueing", zap.String("key", key), zap.Error(err))
		case count > int64(c.maxRedeliveries):
			if rejectErr := d.Reject(false); rejectErr != nil {
				return fmt.Errorf("failed to dead-letter delivery: %w", rejectErr)
			}
			if err := c.tracker.Reset(ctx, key); err != nil {
				c.logger.Warn("failed to reset redelivery counter", zap.String("key", key), zap.Error(err))
			}
			c.metrics.IncMessageDeadLettered(queue)
			c.logger.Warn("message dead-lettered",
				zap.String("queue", queue),
				zap.String("key", key),
				zap.Int64("deliveries", count),
				zap.String("reason", reason),
			)
			return nil
		}
	}

	if err := d.Nack(false, true); err != nil {
		return fmt.Errorf("failed to nack delivery: %w", err)
	}
	c.metrics.IncMessageRequeued(queue, reason)
	return nil
}

func invokeHandler(ctx context.Context, handler MessageHandler, msg NotificationMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// redeliveryKey identifies a delivery across requeues. Publishers always set a
// message id; bodies without one fall back to a content hash.
func redeliveryKey(d amqp.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	return "body-" + strconv.FormatUint(xxhash.Sum64(d.Body), 16)
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

