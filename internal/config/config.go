package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/notification-dispatcher/internal/provider"
	"github.com/kursadbilgin/notification-dispatcher/internal/retry"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	APIPort           int    `env:"API_PORT,default=8080"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9091"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	Provider             string  `env:"PROVIDER,default=mock"`
	MockFailureRate      float64 `env:"MOCK_FAILURE_RATE,default=0.1"`
	WebhookURL           string  `env:"WEBHOOK_URL"`
	PostmarkServerToken  string  `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string  `env:"POSTMARK_ACCOUNT_TOKEN"`
	PostmarkSender       string  `env:"POSTMARK_SENDER"`

	RetryMaxRetries  int `env:"RETRY_MAX_RETRIES,default=3"`
	RetryBaseDelayMS int `env:"RETRY_BASE_DELAY_MS,default=1000"`
	MaxRedeliveries  int `env:"MAX_REDELIVERIES,default=5"`
	// 0 disables rate limiting.
	RateLimitPerSec int `env:"RATE_LIMIT_PER_SEC,default=100"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RetryMaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must be >= 0")
	}
	if c.RetryBaseDelayMS <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY_MS must be > 0")
	}
	if c.MaxRedeliveries < 0 {
		return fmt.Errorf("MAX_REDELIVERIES must be >= 0")
	}
	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must be >= 0")
	}
	if c.MockFailureRate < 0 || c.MockFailureRate > 1 {
		return fmt.Errorf("MOCK_FAILURE_RATE must be between 0 and 1")
	}

	switch provider.Kind(strings.ToLower(c.Provider)) {
	case provider.KindMock:
	case provider.KindWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required for the webhook provider")
		}
	case provider.KindPostmark:
		if c.PostmarkServerToken == "" || c.PostmarkSender == "" {
			return fmt.Errorf("POSTMARK_SERVER_TOKEN and POSTMARK_SENDER are required for the postmark provider")
		}
	default:
		return fmt.Errorf("PROVIDER must be one of mock, webhook, postmark (got %q)", c.Provider)
	}
	return nil
}

func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Kind:                 provider.Kind(strings.ToLower(c.Provider)),
		MockFailureRate:      c.MockFailureRate,
		WebhookURL:           c.WebhookURL,
		PostmarkServerToken:  c.PostmarkServerToken,
		PostmarkAccountToken: c.PostmarkAccountToken,
		PostmarkSender:       c.PostmarkSender,
	}
}

func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: uint64(c.RetryMaxRetries),
		BaseDelay:  time.Duration(c.RetryBaseDelayMS) * time.Millisecond,
	}
}
