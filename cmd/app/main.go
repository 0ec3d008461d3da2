package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialboost/internal/admin"
	"socialboost/internal/auth"
	"socialboost/internal/cache"
	"socialboost/internal/catalog"
	"socialboost/internal/config"
	"socialboost/internal/e2p"
	"socialboost/internal/httpserver"
	"socialboost/internal/ledger"
	"socialboost/internal/logging"
	"socialboost/internal/metrics"
	"socialboost/internal/notify"
	"socialboost/internal/orders"
	"socialboost/internal/payments"
	"socialboost/internal/repo"
	"socialboost/internal/wa"
	"socialboost/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting socialboost", "env", cfg.AppEnv, "database_driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed, running without cache", "error", err)
		_ = redisClient.Close()
		redisClient = nil
	}

	if !cfg.GatewayConfigured() {
		logger.Warn("E2P_CLIENT_ID/E2P_CLIENT_SECRET not set, recharges will fail")
	}
	gateway := e2p.New(e2p.Config{
		BaseURL:        cfg.E2PBaseURL,
		ClientID:       cfg.E2PClientID,
		ClientSecret:   cfg.E2PClientSecret,
		MpesaShortcode: cfg.E2PMpesaShortcode,
		EmolaShortcode: cfg.E2PEmolaShortcode,
		Timeout:        cfg.E2PTimeout,
	}, logger, metricRegistry, redisClient)

	var sinks []notify.Sink
	if cfg.PushcutWebhookURL != "" {
		sinks = append(sinks, notify.NewPushcutSink(cfg.PushcutWebhookURL))
	}
	if cfg.ResendAPIKey != "" && cfg.AdminEmail != "" {
		resend, err := notify.NewResendSink(notify.ResendConfig{
			APIKey: cfg.ResendAPIKey,
			From:   cfg.ResendFrom,
			To:     cfg.AdminEmail,
		})
		if err != nil {
			return fmt.Errorf("init resend sink: %w", err)
		}
		sinks = append(sinks, resend)
	}
	if cfg.AMQPURL != "" {
		amqpSink, err := notify.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("amqp sink disabled", "error", err)
		} else {
			defer func() {
				if err := amqpSink.Close(); err != nil {
					logger.Warn("failed closing amqp sink", "error", err)
				}
			}()
			sinks = append(sinks, amqpSink)
		}
	}

	waCtx, waCancel := context.WithCancel(ctx)
	defer waCancel()
	if cfg.WhatsAppOperatorJID != "" {
		waClient, err := wa.New(ctx, wa.Config{
			StorePath:   cfg.WhatsAppStorePath,
			LogLevel:    cfg.WhatsAppLogLevel,
			OperatorJID: cfg.WhatsAppOperatorJID,
			Metrics:     metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()
		go func() {
			if err := waClient.Start(waCtx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
			}
		}()
		sinks = append(sinks, notify.NewWhatsAppSink(waClient))
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		QueueSize: cfg.NotifyQueueSize,
		Attempts:  cfg.NotifyAttempts,
	}, logger, metricRegistry, sinks...)
	go dispatcher.Run(ctx)
	logger.Info("operator notifications configured", "sinks", dispatcher.Sinks())

	ledgerSvc := ledger.New(repository, logger, metricRegistry, ledger.Config{SignupBonus: cfg.SignupBonus})
	catalogSvc := catalog.New(repository, redisClient, logger)
	orderFlow := orders.New(repository, ledgerSvc, dispatcher, logger, metricRegistry)
	paymentFlow := payments.New(repository, ledgerSvc, gateway, dispatcher, logger, metricRegistry)
	adminSvc := admin.New(repository, ledgerSvc, logger)

	if n, err := catalogSvc.Reload(ctx); err != nil {
		logger.Warn("initial catalog load failed", "error", err)
	} else {
		logger.Info("catalog loaded", "services", n)
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Storage:        repository,
		Ledger:         ledgerSvc,
		Orders:         orderFlow,
		Payments:       paymentFlow,
		Catalog:        catalogSvc,
		Admin:          adminSvc,
		Auth:           auth.NewJWTVerifier(cfg.AuthJWTSecret),
		Redis:          redisClient,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", "error", err)
	}

	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	if cfg.DatabaseDriver == "sqlite" {
		return repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	}
	return repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
}
