// cmd/plan-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"plan-generator/internal/api"
	"plan-generator/internal/common/agent"
	awsclient "plan-generator/internal/common/aws"
	"plan-generator/internal/common/camunda"
	"plan-generator/internal/common/config"
	"plan-generator/internal/common/database"
	"plan-generator/internal/common/logger"
	"plan-generator/internal/common/observability"
	"plan-generator/internal/plan/delivery"
	"plan-generator/internal/plan/generator"
	"plan-generator/internal/plan/history"
	"plan-generator/internal/plan/session"
	"plan-generator/internal/plan/store"
	generateplan "plan-generator/internal/workers/plan/generate-plan"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console", "stderr")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLog); err != nil {
		zapLog.Error("plan server stopped with error", zap.Error(err))
		zapLog.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) error {
	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting plan server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("sessionId", cfg.App.SessionID),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		return fmt.Errorf("observability init: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			zapLog.Error("observability shutdown failed", zap.Error(err))
		}
	}()

	gen := generator.New(agent.NewClient(cfg.Agent, log), generator.ConfigFrom(cfg), log)

	storeOpts := []store.Option{
		store.WithObserver(func(ctx context.Context, r store.CycleResult) {
			obs.RecordCycle(ctx, r.Outcome, r.Duration())
		}),
	}
	var apiOpts []api.Option

	// --- PostgreSQL generation history ---
	if cfg.Database.Postgres.Enabled {
		var pg *database.PostgresClient
		err = retryWithBackoff(ctx, func() error {
			var err error
			pg, err = database.ConnectPostgres(ctx, cfg.Database.Postgres)
			return err
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			return err
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")

		recorder := history.NewRecorder(pg.DB, log)
		if err := recorder.EnsureSchema(ctx); err != nil {
			return err
		}
		storeOpts = append(storeOpts, store.WithObserver(recorder.Observe))
		apiOpts = append(apiOpts,
			api.WithHistory(recorder),
			api.WithReadinessCheck("postgres", pg.Ping),
		)
	}

	st := store.New(gen, log, storeOpts...)

	// --- Redis session snapshots ---
	if cfg.Database.Redis.Enabled {
		rdb := database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(ctx, func() error {
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			rdb.Close()
			return err
		}
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")

		ttl := time.Duration(cfg.Database.Redis.SnapshotTTL) * time.Second
		snapshotter := session.NewRedisSnapshotter(rdb.Client, cfg.App.SessionID, ttl, log)
		snap, found, err := snapshotter.LoadOrDiscard(ctx)
		switch {
		case err != nil:
			zapLog.Warn("session snapshot not restored", zap.Error(err))
		case found:
			st.Restore(snap)
			zapLog.Info("session snapshot restored", zap.String("status", string(snap.Status)))
		}
		detach := snapshotter.Attach(st)
		defer detach()
		apiOpts = append(apiOpts, api.WithReadinessCheck("redis", rdb.Ping))
	}

	// --- SNS plan delivery ---
	if cfg.Notifications.SMS.Enabled {
		snsClient, err := awsclient.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			return err
		}
		sms := cfg.Notifications.SMS
		apiOpts = append(apiOpts, api.WithSender(delivery.NewSMSSender(snsClient, sms.SenderID, sms.DefaultCountryCode, log)))
		zapLog.Info("SMS delivery enabled", zap.String("region", cfg.Notifications.AWS.Region))
	}

	// --- Zeebe generate-plan worker ---
	var jobWorker *camunda.Worker
	if cfg.Camunda.Enabled {
		zeebe, err := camunda.NewClient(ctx, cfg.Camunda, log)
		if err != nil {
			return err
		}
		defer zeebe.Close()
		zapLog.Info("Zeebe client connected successfully")

		wcfg := config.GetWorkerConfig(cfg, config.GeneratePlanWorker)
		handler := generateplan.NewHandler(generateplan.LoadConfig(wcfg), gen, log)
		jobWorker = camunda.StartWorker(zeebe.GetClient(), generateplan.TaskType, wcfg, handler.Handle, log)
		apiOpts = append(apiOpts, api.WithReadinessCheck("zeebe", zeebe.HealthCheck))
	}

	// --- HTTP API ---
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           obs.Middleware(api.NewServer(st, log, apiOpts...).Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// --- Graceful Shutdown ---
	select {
	case <-ctx.Done():
		zapLog.Info("Shutdown signal received, stopping...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	if jobWorker != nil {
		jobWorker.Stop()
	}

	zapLog.Info("Plan server stopped gracefully")
	return nil
}
