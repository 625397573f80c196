package provider

import (
	"context"
	"math/rand"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

const DefaultMockFailureRate = 0.10

// MockProvider simulates a channel gateway with random latency and a
// configurable failure probability.
type MockProvider struct {
	name        string
	failureRate float64
	baseLatency time.Duration
	jitter      time.Duration
	failureMsg  string
	random      func() float64
	sleep       func(ctx context.Context, d time.Duration) error
}

type MockOption func(*MockProvider)

// WithFailureRate sets the probability in [0,1] that a send fails.
func WithFailureRate(rate float64) MockOption {
	return func(p *MockProvider) {
		switch {
		case rate < 0:
			rate = 0
		case rate > 1:
			rate = 1
		}
		p.failureRate = rate
	}
}

// WithLatency sets the simulated latency to base plus a uniform jitter.
func WithLatency(base, jitter time.Duration) MockOption {
	return func(p *MockProvider) {
		p.baseLatency = base
		p.jitter = jitter
	}
}

// WithRandom replaces the source of uniform values in [0,1).
func WithRandom(random func() float64) MockOption {
	return func(p *MockProvider) {
		p.random = random
	}
}

// NewMockProvider returns a mock with the latency profile of channel's real
// gateway and a 10% failure rate.
func NewMockProvider(channel domain.Channel, opts ...MockOption) *MockProvider {
	p := &MockProvider{
		failureRate: DefaultMockFailureRate,
		random:      rand.Float64,
		sleep:       sleepContext,
	}

	switch channel {
	case domain.ChannelEmail:
		p.name, p.failureMsg = "smtp", "Simulated SMTP server error"
		p.baseLatency, p.jitter = 100*time.Millisecond, 200*time.Millisecond
	case domain.ChannelSMS:
		p.name, p.failureMsg = "twilio", "Simulated Twilio API error"
		p.baseLatency, p.jitter = 150*time.Millisecond, 300*time.Millisecond
	case domain.ChannelPush:
		p.name, p.failureMsg = "fcm", "Simulated FCM API error"
		p.baseLatency, p.jitter = 80*time.Millisecond, 150*time.Millisecond
	default:
		p.name, p.failureMsg = "mock", "Simulated provider error"
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MockProvider) Send(ctx context.Context, recipient, message string, metadata map[string]any) error {
	latency := p.baseLatency + time.Duration(p.random()*float64(p.jitter))
	if err := p.sleep(ctx, latency); err != nil {
		return &ProviderError{Provider: p.name, Message: "send interrupted", Cause: err}
	}

	if p.random() < p.failureRate {
		return &ProviderError{Provider: p.name, Message: p.failureMsg, Transient: true}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
