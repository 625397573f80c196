package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// Publisher publishes notification messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg NotificationMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. Returning an error
// negatively acknowledges the delivery with requeue.
type MessageHandler func(ctx context.Context, msg NotificationMessage) error

// Consumer consumes notification messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// RedeliveryTracker counts negative acknowledgements per message so poison
// messages can be dead-lettered.
type RedeliveryTracker interface {
	Increment(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

const (
	// DeadLetterExchange receives rejected deliveries from every work queue.
	DeadLetterExchange = "notifications.dlx"

	queueSuffix = ".queue"
	dlqSuffix   = ".dlq"
)

var (
	ErrBroker           = errors.New("broker error")
	ErrMalformedMessage = errors.New("malformed message")
)

// BrokerError reports a failed broker operation.
type BrokerError struct {
	Op    string
	Queue string
	Err   error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s on %q: %v", e.Op, e.Queue, e.Err)
}

func (e *BrokerError) Unwrap() []error { return []error{ErrBroker, e.Err} }

// MalformedMessageError reports a delivery body that cannot be decoded into a
// NotificationMessage.
type MalformedMessageError struct {
	Err error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *MalformedMessageError) Unwrap() []error { return []error{ErrMalformedMessage, e.Err} }

// QueueName returns the channel work queue name, e.g. email.queue.
func QueueName(channel domain.Channel) string {
	return channel.String() + queueSuffix
}

// DLQName returns the dead-letter queue bound to DeadLetterExchange for a
// channel, e.g. email.queue.dlq.
func DLQName(channel domain.Channel) string {
	return QueueName(channel) + dlqSuffix
}

// WorkQueueNames returns all channel work queues.
func WorkQueueNames() []string {
	channels := domain.Channels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	channels := domain.Channels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}
