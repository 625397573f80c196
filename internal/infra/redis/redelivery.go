package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/queue"
	goredis "github.com/redis/go-redis/v9"
)

const defaultRedeliveryTTL = 24 * time.Hour

var _ queue.RedeliveryTracker = (*RedeliveryTracker)(nil)

// RedeliveryTracker counts requeues per broker message id. Counters expire
// after ttl so abandoned keys do not accumulate.
type RedeliveryTracker struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedeliveryTracker(client *goredis.Client, ttl time.Duration) (*RedeliveryTracker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultRedeliveryTTL
	}
	return &RedeliveryTracker{client: client, ttl: ttl}, nil
}

func (t *RedeliveryTracker) Increment(ctx context.Context, messageKey string) (int64, error) {
	key := t.key(messageKey)

	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count redelivery: %w", err)
	}
	return incr.Val(), nil
}

func (t *RedeliveryTracker) Reset(ctx context.Context, messageKey string) error {
	if err := t.client.Del(ctx, t.key(messageKey)).Err(); err != nil {
		return fmt.Errorf("failed to reset redelivery count: %w", err)
	}
	return nil
}

func (t *RedeliveryTracker) key(messageKey string) string {
	return fmt.Sprintf("%s:redelivery:%s", keyPrefix, messageKey)
}
