package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/auraops/relay/internal/ai"
	"github.com/auraops/relay/internal/api"
	"github.com/auraops/relay/internal/breaker"
	"github.com/auraops/relay/internal/bridge"
	"github.com/auraops/relay/internal/channel"
	"github.com/auraops/relay/internal/config"
	"github.com/auraops/relay/internal/db"
	"github.com/auraops/relay/internal/dispatch"
	"github.com/auraops/relay/internal/ghost"
	"github.com/auraops/relay/internal/observ"
	"github.com/auraops/relay/internal/redis"
	"github.com/auraops/relay/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting relayd",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis is load-bearing here: idempotency, shared circuit state, and
	// rate limiting all live in it.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	ledger := redis.NewLedger(redisClient, logger)
	rateLimiter := redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
		Limit:  100,
		Window: 1 * time.Minute,
	})

	breakers := breaker.NewRegistry(
		breaker.DefaultConfig(),
		breaker.NewRedisStore(redisClient.Raw()),
		logger,
	)

	senders := buildSenders(ctx, cfg, logger)
	guarded := channel.NewGuarded(senders, breakers, logger)

	var exporter dispatch.Exporter
	if cfg.SQSDLQURL != "" {
		dlq, err := sqs.NewExporter(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SQSDLQURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs exporter unavailable, exhausted messages stay local",
				zap.Error(err),
			)
		} else {
			exporter = dlq
		}
	}

	var aiCfg ai.Config
	if cfg.AIEnabled {
		aiCfg = ai.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}
	}
	generator := ai.NewGenerator(aiCfg, logger)

	dispatcher := dispatch.New(repo, guarded, exporter, cfg.DispatchBatch, logger)
	detector := ghost.New(repo, guarded, generator, cfg.DetectorBatch, logger)
	deliverer := bridge.New(guarded, logger)

	// Both loops also run on internal tickers so delivery continues even if
	// the external cron scheduler stalls.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go runEvery(workerCtx, cfg.DispatchInterval, func(now time.Time) {
		if _, err := dispatcher.Run(workerCtx, now); err != nil {
			logger.Error("scheduled dispatch run failed", zap.Error(err))
		}
	})
	go runEvery(workerCtx, cfg.DetectorInterval, func(now time.Time) {
		if _, err := detector.Run(workerCtx, now); err != nil {
			logger.Error("scheduled detection run failed", zap.Error(err))
		}
	})

	logger.Info("background workers started",
		zap.Duration("dispatch_interval", cfg.DispatchInterval),
		zap.Duration("detector_interval", cfg.DetectorInterval),
	)

	handler := api.NewHandler(
		logger,
		repo,
		dispatcher,
		detector,
		deliverer,
		ledger,
		breakers,
		cfg.CronSecret,
		cfg.WebhookSecret,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Router(rateLimiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		workerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildSenders wires one adapter per channel, falling back to log-only
// senders where a provider is not configured so development environments
// work without any credentials.
func buildSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) *channel.Registry {
	registry := channel.NewRegistry(logger)

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		registry.Register(channel.NewTwilioSender(channel.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioWhatsAppNumber,
		}, logger))
	} else {
		logger.Warn("twilio not configured, whatsapp messages will be logged only")
		registry.Register(channel.NewLogSender(channel.ChannelWhatsApp, logger))
	}

	if snsSender, err := channel.NewSNSSender(ctx, channel.SNSConfig{Region: cfg.AWSRegion}, logger); err != nil {
		logger.Warn("sns unavailable, sms messages will be logged only", zap.Error(err))
		registry.Register(channel.NewLogSender(channel.ChannelSMS, logger))
	} else {
		registry.Register(snsSender)
	}

	if cfg.TelegramBotToken != "" {
		registry.Register(channel.NewTelegramSender(channel.TelegramConfig{
			BotToken: cfg.TelegramBotToken,
		}, logger))
	} else {
		logger.Warn("telegram not configured, telegram messages will be logged only")
		registry.Register(channel.NewLogSender(channel.ChannelTelegram, logger))
	}

	if sesSender, err := channel.NewSESSender(ctx, channel.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger); err != nil {
		logger.Warn("ses unavailable, email messages will be logged only", zap.Error(err))
		registry.Register(channel.NewLogSender(channel.ChannelEmail, logger))
	} else {
		registry.Register(sesSender)
	}

	return registry
}

// runEvery invokes fn on a fixed period until the context is cancelled.
func runEvery(ctx context.Context, period time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}
