package main

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/handler"
	infraredis "github.com/kursadbilgin/notification-dispatcher/internal/infra/redis"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	"github.com/kursadbilgin/notification-dispatcher/internal/provider"
	"github.com/kursadbilgin/notification-dispatcher/internal/queue"
	"github.com/kursadbilgin/notification-dispatcher/internal/repository"
	"github.com/kursadbilgin/notification-dispatcher/internal/service"
	"github.com/kursadbilgin/notification-dispatcher/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const workerPrefetch = 1

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "worker [channel...]",
		Short:     "Run channel workers (all channels when none are given)",
		ValidArgs: []string{"email", "sms", "push"},
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			channels, err := parseChannels(args)
			if err != nil {
				return err
			}
			return runWorkers(channels)
		},
	}
}

func parseChannels(args []string) ([]domain.Channel, error) {
	if len(args) == 0 {
		return domain.Channels(), nil
	}

	seen := make(map[domain.Channel]bool, len(args))
	channels := make([]domain.Channel, 0, len(args))
	for _, arg := range args {
		ch, err := domain.ParseChannelFromString(arg)
		if err != nil {
			return nil, err
		}
		if seen[ch] {
			continue
		}
		seen[ch] = true
		channels = append(channels, ch)
	}
	return channels, nil
}

func runWorkers(channels []domain.Channel) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signalContext()
	defer stop()

	db, closeDB, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	defer broker.Close()

	metrics := observability.NewMetrics()

	tracker, err := infraredis.NewRedeliveryTracker(rdb, 0)
	if err != nil {
		return err
	}
	consumer := queue.NewRabbitMQConsumer(broker, workerPrefetch, logger,
		queue.WithRedeliveryLimit(tracker, cfg.MaxRedeliveries),
		queue.WithConsumerMetrics(metrics),
	)

	var limiter *infraredis.RedisRateLimiter
	if cfg.RateLimitPerSec > 0 {
		limiter, err = infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			return err
		}
	}

	notifications := repository.NewGormNotificationRepo(db)
	attempts := repository.NewGormAttemptRepo(db)
	policy := cfg.RetryPolicy()

	workers := make([]*service.WorkerService, 0, len(channels))
	for _, ch := range channels {
		pcfg, fellBack := cfg.ProviderConfig().ForChannel(ch)
		if fellBack {
			logger.Warn("provider does not support channel, using mock provider",
				zap.String("provider", cfg.Provider),
				zap.String("channel", ch.String()),
			)
		}

		p, err := provider.New(ch, pcfg)
		if err != nil {
			return fmt.Errorf("failed to build %s provider: %w", ch, err)
		}

		w, err := service.NewWorkerService(ch, notifications, attempts, consumer, p, policy, logger)
		if err != nil {
			return err
		}
		w.SetMetrics(metrics)
		if limiter != nil {
			w.SetRateLimiter(limiter)
		}
		workers = append(workers, w)
	}

	app := fiber.New(fiber.Config{
		AppName:               "notification-dispatcher-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	handler.RegisterHealthRoutes(app,
		handler.RedisCheck(rdb),
		handler.RabbitMQCheck(broker),
	)
	handler.RegisterMetricsRoute(app, metrics)

	logger.Info("starting workers",
		zap.Int("channels", len(workers)),
		zap.String("provider", cfg.Provider),
		zap.Int("maxRedeliveries", cfg.MaxRedeliveries),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			return w.Start(gctx)
		})
	}
	g.Go(func() error {
		return serve(gctx, app, cfg.WorkerMetricsPort, logger)
	})

	return g.Wait()
}
