package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripledger/commission/internal/app"
	"github.com/tripledger/commission/internal/auth"
	"github.com/tripledger/commission/internal/infra"
	"github.com/tripledger/commission/internal/projection"
	"github.com/tripledger/commission/internal/repository"
	"github.com/tripledger/commission/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if err := infra.RunMigrations(cfg.DSN(), cfg.MigrationsDir, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	var store projection.Store
	if cfg.RedisEnabled {
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		store = projection.NewRedisStore(rdb)
		logger.Info("balance projection backed by redis", "ttl", cfg.RedisTTL)
	}

	agentExpiry, err := time.ParseDuration(cfg.JWTAgentExpiry)
	if err != nil {
		return fmt.Errorf("parse agent JWT expiry: %w", err)
	}
	affiliateExpiry, err := time.ParseDuration(cfg.JWTAffiliateExpiry)
	if err != nil {
		return fmt.Errorf("parse affiliate JWT expiry: %w", err)
	}
	adminExpiry, err := time.ParseDuration(cfg.JWTAdminExpiry)
	if err != nil {
		return fmt.Errorf("parse admin JWT expiry: %w", err)
	}

	a, err := app.New(app.Deps{
		Pool:          pool,
		Config:        cfg,
		JWTMgr:        auth.NewJWTManager(cfg.JWTSecret, agentExpiry, affiliateExpiry, adminExpiry),
		ServiceTokens: auth.NewServiceTokenManager(cfg.ServiceTokenSecret),
		Projection:    store,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("wire app: %w", err)
	}

	// Background work
	a.Reconciler.Start(ctx, cfg.ReconcileInterval)
	a.Commissions.StartReleaseLoop(ctx, cfg.ReleaseDueInterval, 100)
	go pruneLimiter(ctx, a, cfg.PayoutRateWindow)

	if cfg.OutboxInProcess {
		producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, cfg.KafkaEnabled, logger)
		defer producer.Close()
		notifier := service.NewNotificationDispatcher(infra.NewMailer(cfg, logger), logger)
		poller := infra.NewOutboxPoller(
			repository.BindOutbox(repository.NewOutboxRepository(), pool),
			producer, logger, cfg.OutboxInterval, cfg.OutboxBatchSize, notifier,
		)
		poller.Start(ctx)
	}

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// pruneLimiter drops idle rate-limit windows so the map does not grow with
// every owner ever seen.
func pruneLimiter(ctx context.Context, a *app.App, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Limiter.Prune(); n > 0 {
				slog.Debug("rate limiter pruned", "keys", n)
			}
		}
	}
}
