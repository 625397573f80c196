package service

import (
	"context"
	"sort"
	"sync"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/queue"
)

// memoryStore backs both repositories in tests and keeps the order of writes.
type memoryStore struct {
	mu            sync.Mutex
	notifications map[string]*domain.Notification
	attempts      []domain.NotificationAttempt
	events        []string

	createFn         func(n *domain.Notification) error
	updateStatusFn   func(id string, status domain.Status) error
	createAttemptFn  func(a *domain.NotificationAttempt) error
	incrementRetryFn func(id string) error
}

func newMemoryStore(seed ...domain.Notification) *memoryStore {
	s := &memoryStore{notifications: map[string]*domain.Notification{}}
	for i := range seed {
		n := seed[i]
		s.notifications[n.ID] = &n
	}
	return s
}

func (s *memoryStore) notificationRepo() *memoryNotificationRepo { return &memoryNotificationRepo{s: s} }

func (s *memoryStore) attemptRepo() *memoryAttemptRepo { return &memoryAttemptRepo{s: s} }

func (s *memoryStore) get(id string) domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.notifications[id]
}

func (s *memoryStore) attemptsFor(id string) []domain.NotificationAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.NotificationAttempt
	for _, a := range s.attempts {
		if a.NotificationID == id {
			out = append(out, a)
		}
	}
	return out
}

type memoryNotificationRepo struct {
	s *memoryStore
}

func (r *memoryNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createFn != nil {
		if err := r.s.createFn(n); err != nil {
			return err
		}
	}
	if _, ok := r.s.notifications[n.ID]; ok {
		return domain.ErrConflict
	}
	stored := *n
	r.s.notifications[n.ID] = &stored
	r.s.events = append(r.s.events, "create:"+n.ID)
	return nil
}

func (r *memoryNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *n
	return &out, nil
}

func (r *memoryNotificationRepo) UpdateStatus(ctx context.Context, id string, status domain.Status, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.updateStatusFn != nil {
		if err := r.s.updateStatusFn(id, status); err != nil {
			return err
		}
	}
	n, ok := r.s.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = status
	if errMsg != "" {
		joined := appendError(n.Errors, errMsg)
		n.Errors = &joined
	}
	r.s.events = append(r.s.events, "status:"+status.String())
	return nil
}

// appendError mirrors the repository's SQL append of error text.
func appendError(existing *string, msg string) string {
	if existing == nil || *existing == "" {
		return msg
	}
	return *existing + domain.ErrorSeparator + msg
}

func (r *memoryNotificationRepo) IncrementRetries(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.incrementRetryFn != nil {
		if err := r.s.incrementRetryFn(id); err != nil {
			return err
		}
	}
	n, ok := r.s.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Retries++
	r.s.events = append(r.s.events, "retries++")
	return nil
}

type memoryAttemptRepo struct {
	s *memoryStore
}

func (r *memoryAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createAttemptFn != nil {
		if err := r.s.createAttemptFn(a); err != nil {
			return err
		}
	}
	for _, existing := range r.s.attempts {
		if existing.ID == a.ID {
			return domain.ErrConflict
		}
	}
	r.s.attempts = append(r.s.attempts, *a)
	r.s.events = append(r.s.events, "attempt:"+a.Status.String())
	return nil
}

func (r *memoryAttemptRepo) ListByNotificationID(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.NotificationAttempt
	for _, a := range r.s.attempts {
		if a.NotificationID == notificationID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.Before(out[j].AttemptedAt) })
	return out, nil
}

type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	sendFn func(ctx context.Context, recipient, message string, metadata map[string]any) error
}

func (f *fakeProvider) Send(ctx context.Context, recipient, message string, metadata map[string]any) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.sendFn == nil {
		return nil
	}
	return f.sendFn(ctx, recipient, message, metadata)
}

// scriptedProvider returns results in order, then succeeds.
func scriptedProvider(results ...error) *fakeProvider {
	var mu sync.Mutex
	return &fakeProvider{
		sendFn: func(context.Context, string, string, map[string]any) error {
			mu.Lock()
			defer mu.Unlock()
			if len(results) == 0 {
				return nil
			}
			err := results[0]
			results = results[1:]
			return err
		},
	}
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel domain.Channel) (bool, error)
	waitFn  func(ctx context.Context, channel domain.Channel) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel domain.Channel) (bool, error) {
	if f.allowFn == nil {
		return true, nil
	}
	return f.allowFn(ctx, channel)
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	if f.waitFn == nil {
		return nil
	}
	return f.waitFn(ctx, channel)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn == nil {
		return nil
	}
	return f.consumeFn(ctx, queueName, handler)
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.NotificationMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.NotificationMessage) error {
	if f.publishFn == nil {
		return nil
	}
	return f.publishFn(ctx, queueName, msg)
}

func (f *fakePublisher) Close() error {
	return nil
}
