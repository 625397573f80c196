package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/handler"
	"github.com/kursadbilgin/notification-dispatcher/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-dispatcher/internal/infra/redis"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	"github.com/kursadbilgin/notification-dispatcher/internal/queue"
	"github.com/kursadbilgin/notification-dispatcher/internal/repository"
	"github.com/kursadbilgin/notification-dispatcher/internal/service"
	"github.com/kursadbilgin/notification-dispatcher/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAPICmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP intake API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAPI(skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply database migrations on startup")

	return cmd
}

func runAPI(skipMigrations bool) error {
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

	if !skipMigrations {
		if err := migrations.Migrate(db); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}

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

	publisher := queue.NewRabbitMQPublisher(broker)
	metrics := observability.NewMetrics()

	notificationService, err := service.NewNotificationService(
		repository.NewGormNotificationRepo(db),
		repository.NewGormAttemptRepo(db),
		publisher,
		logger,
	)
	if err != nil {
		return err
	}
	notificationService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "notification-dispatcher",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.RabbitMQCheck(broker),
	)
	handler.RegisterMetricsRoute(app, metrics)
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		return err
	}

	return serve(ctx, app, cfg.APIPort, logger)
}

// serve runs app on port until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, app *fiber.App, port int, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down http server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server exited: %w", err)
		}
		return nil
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
