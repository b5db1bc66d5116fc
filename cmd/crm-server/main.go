// cmd/crm-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"solar-salesops/internal/api"
	"solar-salesops/internal/common/config"
	"solar-salesops/internal/common/database"
	"solar-salesops/internal/common/logger"
	"solar-salesops/internal/common/notify"
	"solar-salesops/internal/common/observability"
	"solar-salesops/internal/dealstage"
	"solar-salesops/internal/financing"
	"solar-salesops/internal/gates"
	"solar-salesops/internal/pricing"
	"solar-salesops/internal/proposals"
	"solar-salesops/internal/submission"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
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
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting crm server...",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init notification senders ---
	var email notify.EmailSender
	var sms notify.SMSSender
	if cfg.Notifications.Email.Enabled {
		ses, err := notify.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		email = ses
	}
	if cfg.Notifications.SMS.Enabled {
		sns, err := notify.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		sms = sns
	}
	notifier := notify.NewNotifier(cfg.Notifications, email, sms, log)

	// --- Build domain services ---
	calculator, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		zapLog.Fatal("pricing config invalid", zap.Error(err))
	}

	gateCache := gates.NewStatusCache(redis.Client, time.Duration(cfg.Gates.CacheTTLSeconds)*time.Second)
	gateEvaluator := gates.NewEvaluator(pg.DB, gateCache, log)
	stageService := dealstage.NewService(pg.DB, gateEvaluator, log)
	financingService := financing.NewService(pg.DB, log)
	proposalService := proposals.NewService(pg.DB, calculator, log)
	coordinator := submission.NewCoordinator(pg.DB, gateEvaluator, notifier, log)

	zapLog.Info("All domain services initialized")

	// --- API server ---
	server := api.NewServer(cfg.Server.Address, api.Deps{
		Gates:       gateEvaluator,
		Stages:      stageService,
		Financing:   financingService,
		Proposals:   proposalService,
		Submissions: coordinator,
		Calculator:  calculator,
		Obs:         obs,
		Log:         log,
	})
	if err := server.Start(ctx); err != nil {
		zapLog.Fatal("api server failed to start", zap.Error(err))
	}

	// --- Debug/pprof server ---
	if cfg.Server.MetricsAddress != "" {
		go func() {
			zapLog.Info("Debug server listening", zap.String("addr", cfg.Server.MetricsAddress))
			if err := http.ListenAndServe(cfg.Server.MetricsAddress, nil); err != nil {
				zapLog.Error("Debug server failed", zap.Error(err))
			}
		}()
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down api server", zap.Error(err))
	}

	zapLog.Info("crm server stopped gracefully")
}
