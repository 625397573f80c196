package ratelimit

import (
	"context"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// RateLimiter throttles provider sends per channel across all worker
// processes.
type RateLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	// Wait blocks until a send on channel is permitted or ctx is done.
	Wait(ctx context.Context, channel domain.Channel) error
}
