package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/queue"
	"go.uber.org/zap"
)

func newTestNotificationService(t *testing.T, store *memoryStore, publisher queue.Publisher) *NotificationService {
	t.Helper()

	svc, err := NewNotificationService(store.notificationRepo(), store.attemptRepo(), publisher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}
	svc.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	svc.newID = func() string { return "11111111-2222-3333-4444-555555555555" }
	return svc
}

func TestNotificationServiceCreate(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	var (
		published queue.NotificationMessage
		queueName string
		publishes int
	)
	publisher := &fakePublisher{
		publishFn: func(_ context.Context, name string, msg queue.NotificationMessage) error {
			publishes++
			queueName = name
			published = msg

			stored := store.get(msg.NotificationID)
			if stored.Status != domain.StatusPending {
				t.Errorf("stored status at publish = %s, want Pending", stored.Status)
			}
			return nil
		},
	}
	svc := newTestNotificationService(t, store, publisher)

	created, err := svc.Create(context.Background(), &domain.Notification{
		Channel:   "EMAIL",
		Recipient: " user@example.com ",
		Message:   "welcome",
		Metadata:  []byte(`{"subject":"Hi"}`),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created.ID != "11111111-2222-3333-4444-555555555555" {
		t.Fatalf("id = %q", created.ID)
	}
	if created.Status != domain.StatusPending || created.Retries != 0 {
		t.Fatalf("created = %+v", created)
	}
	if !created.CreatedAt.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("createdAt = %v", created.CreatedAt)
	}

	if publishes != 1 {
		t.Fatalf("publishes = %d, want 1", publishes)
	}
	if queueName != "email.queue" {
		t.Fatalf("queue = %q, want email.queue", queueName)
	}
	if published.NotificationID != created.ID {
		t.Fatalf("message id = %q, want %q", published.NotificationID, created.ID)
	}
	if published.Channel != domain.ChannelEmail || published.Recipient != "user@example.com" || published.Message != "welcome" {
		t.Fatalf("message = %+v", published)
	}
	if published.RetryCount != 0 {
		t.Fatalf("retryCount = %d, want 0", published.RetryCount)
	}
	if published.Metadata["subject"] != "Hi" {
		t.Fatalf("metadata = %v", published.Metadata)
	}
}

func TestNotificationServiceCreateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   *domain.Notification
	}{
		{name: "nil", in: nil},
		{name: "unknown channel", in: &domain.Notification{Channel: "fax", Recipient: "r", Message: "m"}},
		{name: "empty recipient", in: &domain.Notification{Channel: domain.ChannelSMS, Recipient: "  ", Message: "m"}},
		{name: "empty message", in: &domain.Notification{Channel: domain.ChannelSMS, Recipient: "r"}},
		{name: "metadata not an object", in: &domain.Notification{Channel: domain.ChannelPush, Recipient: "r", Message: "m", Metadata: []byte(`[1,2]`)}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := newMemoryStore()
			publisher := &fakePublisher{
				publishFn: func(context.Context, string, queue.NotificationMessage) error {
					t.Error("publish must not be called")
					return nil
				},
			}
			svc := newTestNotificationService(t, store, publisher)

			_, err := svc.Create(context.Background(), tc.in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Create() error = %v, want ErrValidation", err)
			}
			if len(store.events) != 0 {
				t.Fatalf("store events = %v, want none", store.events)
			}
		})
	}
}

func TestNotificationServiceCreatePublishFailureKeepsPending(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	publisher := &fakePublisher{
		publishFn: func(context.Context, string, queue.NotificationMessage) error {
			return &queue.BrokerError{Op: "publish", Err: errors.New("connection refused")}
		},
	}
	svc := newTestNotificationService(t, store, publisher)

	_, err := svc.Create(context.Background(), &domain.Notification{
		Channel:   domain.ChannelSMS,
		Recipient: "+905551112233",
		Message:   "code 1234",
	})
	if !errors.Is(err, queue.ErrBroker) {
		t.Fatalf("Create() error = %v, want ErrBroker", err)
	}

	stored := store.get("11111111-2222-3333-4444-555555555555")
	if stored.Status != domain.StatusPending {
		t.Fatalf("status = %s, want Pending", stored.Status)
	}
}

func TestNotificationServiceCreateStoreFailureSkipsPublish(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	storeErr := errors.New("insert failed")
	store.createFn = func(*domain.Notification) error { return storeErr }

	published := false
	svc := newTestNotificationService(t, store, &fakePublisher{
		publishFn: func(context.Context, string, queue.NotificationMessage) error {
			published = true
			return nil
		},
	})

	_, err := svc.Create(context.Background(), &domain.Notification{
		Channel:   domain.ChannelPush,
		Recipient: "device-token",
		Message:   "ping",
	})
	if !errors.Is(err, storeErr) {
		t.Fatalf("Create() error = %v, want %v", err, storeErr)
	}
	if published {
		t.Fatal("publish must not be called when the store fails")
	}
}

func TestNotificationServiceGetStatus(t *testing.T) {
	t.Parallel()

	const (
		id      = "0f8fad5b-d9cb-469f-a165-70867728950e"
		otherID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	)

	n := pendingNotification(id, domain.ChannelEmail)
	n.Status = domain.StatusSent
	store := newMemoryStore(n)

	base := time.Unix(1_700_000_000, 0).UTC()
	store.attempts = []domain.NotificationAttempt{
		{ID: "a2", NotificationID: id, AttemptedAt: base.Add(2 * time.Second), Status: domain.StatusSent, RetryNumber: 1},
		{ID: "x", NotificationID: otherID, AttemptedAt: base, Status: domain.StatusFailed, RetryNumber: 1},
		{ID: "a1", NotificationID: id, AttemptedAt: base.Add(time.Second), Status: domain.StatusProcessing, RetryNumber: 1},
	}

	svc := newTestNotificationService(t, store, &fakePublisher{})

	got, err := svc.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if got.Status != domain.StatusSent {
		t.Fatalf("status = %s, want Sent", got.Status)
	}
	if len(got.Attempts) != 2 || got.Attempts[0].ID != "a1" || got.Attempts[1].ID != "a2" {
		t.Fatalf("attempts = %+v, want [a1 a2]", got.Attempts)
	}

	if _, err := svc.GetStatus(context.Background(), otherID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetStatus(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := svc.GetStatus(context.Background(), " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("GetStatus(blank) error = %v, want ErrValidation", err)
	}
}

func TestNotificationServiceGetStatusNonUUIDIsNotFound(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	lookups := 0
	repo := &countingNotificationRepo{memoryNotificationRepo: store.notificationRepo(), getByID: &lookups}

	svc, err := NewNotificationService(repo, store.attemptRepo(), &fakePublisher{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}

	for _, id := range []string{"abc", "n1", "1234", "0f8fad5b-d9cb-469f-a165"} {
		if _, err := svc.GetStatus(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetStatus(%q) error = %v, want ErrNotFound", id, err)
		}
	}
	if lookups != 0 {
		t.Fatalf("store lookups = %d, want 0", lookups)
	}
}

type countingNotificationRepo struct {
	*memoryNotificationRepo
	getByID *int
}

func (r *countingNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	*r.getByID++
	return r.memoryNotificationRepo.GetByID(ctx, id)
}
