package queue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type recordingAcknowledger struct {
	acks    int
	nacks   []bool
	rejects []bool
}

func (a *recordingAcknowledger) Ack(uint64, bool) error {
	a.acks++
	return nil
}

func (a *recordingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks = append(a.nacks, requeue)
	return nil
}

func (a *recordingAcknowledger) Reject(_ uint64, requeue bool) error {
	a.rejects = append(a.rejects, requeue)
	return nil
}

type memoryTracker struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newMemoryTracker() *memoryTracker {
	return &memoryTracker{counts: map[string]int64{}}
}

func (m *memoryTracker) Increment(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryTracker) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	return nil
}

const validBody = `{"notificationId":"9b2f6c1e-4d3a-4f8e-9a57-1c2d3e4f5a6b","channel":"sms","recipient":"+15550000000","message":"hi","retryCount":0}`

func newDelivery(ack amqp.Acknowledger, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, MessageId: "m1", Body: []byte(body)}
}

func TestHandleDeliveryAcksAfterHandlerReturns(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())
	ack := &recordingAcknowledger{}

	var got NotificationMessage
	err := c.handleDelivery(context.Background(), "sms.queue", newDelivery(ack, validBody), func(_ context.Context, msg NotificationMessage) error {
		got = msg
		return nil
	})
	if err != nil {
		t.Fatalf("handleDelivery() unexpected error: %v", err)
	}
	if ack.acks != 1 || len(ack.nacks) != 0 {
		t.Fatalf("acks=%d nacks=%v, want one ack", ack.acks, ack.nacks)
	}
	if got.NotificationID != testNotificationID {
		t.Fatalf("handler got %+v", got)
	}
}

func TestHandleDeliveryRequeuesMalformedMessage(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop(), WithConsumerMetrics(metrics))
	ack := &recordingAcknowledger{}

	called := false
	err := c.handleDelivery(context.Background(), "sms.queue", newDelivery(ack, "{"), func(context.Context, NotificationMessage) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("handleDelivery() unexpected error: %v", err)
	}
	if called {
		t.Fatal("handler must not be invoked for malformed payload")
	}
	if len(ack.nacks) != 1 || !ack.nacks[0] {
		t.Fatalf("nacks = %v, want one requeue nack", ack.nacks)
	}
}

func TestHandleDeliveryRequeuesOnHandlerErrorAndPanic(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())

	handlers := map[string]MessageHandler{
		"error": func(context.Context, NotificationMessage) error { return errors.New("store down") },
		"panic": func(context.Context, NotificationMessage) error { panic("boom") },
	}

	for name, handler := range handlers {
		ack := &recordingAcknowledger{}
		if err := c.handleDelivery(context.Background(), "sms.queue", newDelivery(ack, validBody), handler); err != nil {
			t.Fatalf("%s: handleDelivery() unexpected error: %v", name, err)
		}
		if ack.acks != 0 || len(ack.nacks) != 1 || !ack.nacks[0] {
			t.Fatalf("%s: acks=%d nacks=%v, want one requeue nack", name, ack.acks, ack.nacks)
		}
	}
}

func TestHandleDeliveryDeadLettersAfterRedeliveryLimit(t *testing.T) {
	t.Parallel()

	tracker := newMemoryTracker()
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop(), WithRedeliveryLimit(tracker, 2))
	ack := &recordingAcknowledger{}
	failing := func(context.Context, NotificationMessage) error { return errors.New("store down") }

	for i := 0; i < 3; i++ {
		if err := c.handleDelivery(context.Background(), "sms.queue", newDelivery(ack, validBody), failing); err != nil {
			t.Fatalf("handleDelivery() unexpected error: %v", err)
		}
	}

	if len(ack.nacks) != 2 {
		t.Fatalf("nacks = %d, want 2", len(ack.nacks))
	}
	if len(ack.rejects) != 1 || ack.rejects[0] {
		t.Fatalf("rejects = %v, want one reject without requeue", ack.rejects)
	}
	if _, ok := tracker.counts["m1"]; ok {
		t.Fatal("counter must be cleared after dead-lettering")
	}
}

func TestHandleDeliveryUnboundedWhenLimitZero(t *testing.T) {
	t.Parallel()

	tracker := newMemoryTracker()
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop(), WithRedeliveryLimit(tracker, 0))
	ack := &recordingAcknowledger{}

	for i := 0; i < 10; i++ {
		_ = c.handleDelivery(context.Background(), "sms.queue", newDelivery(ack, "{"), nil)
	}

	if len(ack.nacks) != 10 || len(ack.rejects) != 0 {
		t.Fatalf("nacks=%d rejects=%d, want 10 nacks", len(ack.nacks), len(ack.rejects))
	}
}

func TestHandleDeliveryRequeuesWhenTrackerFails(t *testing.T) {
	t.Parallel()

	tracker := newMemoryTracker()
	tracker.err = errors.New("redis down")
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop(), WithRedeliveryLimit(tracker, 1))
	ack := &recordingAcknowledger{}

	for i := 0; i < 3; i++ {
		_ = c.handleDelivery(context.Background(), "sms.queue", newDelivery(ack, "{"), nil)
	}

	if len(ack.nacks) != 3 || len(ack.rejects) != 0 {
		t.Fatalf("nacks=%d rejects=%d, want 3 nacks", len(ack.nacks), len(ack.rejects))
	}
}

func TestHandleDeliverySuccessResetsCounter(t *testing.T) {
	t.Parallel()

	tracker := newMemoryTracker()
	tracker.counts["m1"] = 1
	c := NewRabbitMQConsumer(nil, 1, zap.NewNop(), WithRedeliveryLimit(tracker, 3))
	ack := &recordingAcknowledger{}

	err := c.handleDelivery(context.Background(), "sms.queue", newDelivery(ack, validBody), func(context.Context, NotificationMessage) error {
		return nil
	})
	if err != nil {
		t.Fatalf("handleDelivery() unexpected error: %v", err)
	}
	if _, ok := tracker.counts["m1"]; ok {
		t.Fatal("counter must be cleared after ack")
	}
}

func TestRedeliveryKeyFallsBackToBodyHash(t *testing.T) {
	t.Parallel()

	a := redeliveryKey(amqp.Delivery{Body: []byte("x")})
	b := redeliveryKey(amqp.Delivery{Body: []byte("x")})
	c := redeliveryKey(amqp.Delivery{Body: []byte("y")})
	if a != b || a == c {
		t.Fatalf("keys a=%s b=%s c=%s", a, b, c)
	}
	if got := redeliveryKey(amqp.Delivery{MessageId: "m1", Body: []byte("x")}); got != "m1" {
		t.Fatalf("key = %s, want m1", got)
	}
}

func TestConsumeRequiresHandler(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(&RabbitMQ{}, 1, nil)
	if err := c.Consume(context.Background(), "sms.queue", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestDispatchStopsAfterCancellation(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())

	// Run many times: select picks randomly between ready cases.
	for i := 0; i < 50; i++ {
		ack := &recordingAcknowledger{}
		deliveries := make(chan amqp.Delivery, 1)
		deliveries <- newDelivery(ack, validBody)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := c.dispatch(ctx, "sms.queue", deliveries, func(context.Context, NotificationMessage) error {
			called = true
			return nil
		})
		if err != nil {
			t.Fatalf("dispatch() unexpected error: %v", err)
		}
		if called {
			t.Fatal("handler must not run after shutdown was signalled")
		}
		if ack.acks != 0 || len(ack.nacks) != 0 || len(ack.rejects) != 0 {
			t.Fatalf("acks=%d nacks=%v rejects=%v, want delivery left unacknowledged", ack.acks, ack.nacks, ack.rejects)
		}
	}
}

func TestDispatchHandlesDeliveriesUntilChannelCloses(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())
	ack := &recordingAcknowledger{}

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- newDelivery(ack, validBody)
	deliveries <- newDelivery(ack, validBody)
	close(deliveries)

	handled := 0
	err := c.dispatch(context.Background(), "sms.queue", deliveries, func(context.Context, NotificationMessage) error {
		handled++
		return nil
	})
	if err == nil {
		t.Fatal("expected error once the delivery channel closes")
	}
	if handled != 2 || ack.acks != 2 {
		t.Fatalf("handled=%d acks=%d, want 2 and 2", handled, ack.acks)
	}
}
