package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/api"
	"github.com/ayo6706/marketplace-settlement/internal/api/middleware"
	"github.com/ayo6706/marketplace-settlement/internal/config"
	"github.com/ayo6706/marketplace-settlement/internal/db"
	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/gateway/pushpay"
	"github.com/ayo6706/marketplace-settlement/internal/gateway/splitpay"
	"github.com/ayo6706/marketplace-settlement/internal/idempotency"
	"github.com/ayo6706/marketplace-settlement/internal/notify"
	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/ayo6706/marketplace-settlement/internal/retry"
	"github.com/ayo6706/marketplace-settlement/internal/service"
	"github.com/ayo6706/marketplace-settlement/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	var rdb redis.Cmdable
	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		rdb = client
	} else {
		logger.Warn("REDIS_URL not set, idempotency cache disabled")
	}

	store := repository.NewStore(pool)
	idemStore := idempotency.NewStore(rdb, store, cfg.IdempotencyTTL)
	settings := buildSettings(cfg)
	split, push := newGateways(cfg, logger)

	notifier, closeNotifier := newNotifier(cfg, logger)
	dispatcher := notify.NewDispatcher(notifier, cfg.GatewayTimeout)
	defer closeNotifier()
	defer dispatcher.Wait()

	settlementSvc, err := service.NewSettlementService(store, split, push, dispatcher, settings)
	if err != nil {
		return fmt.Errorf("init settlement service: %w", err)
	}
	payoutSvc, err := service.NewPayoutService(store, split, dispatcher, settings)
	if err != nil {
		return fmt.Errorf("init payout service: %w", err)
	}
	services := api.Services{
		Accounts:   service.NewAccountService(store),
		Orders:     service.NewOrderService(store, settings),
		Settlement: settlementSvc,
		Webhooks:   service.NewWebhookService(settlementSvc, cfg.WebhookSkipSignature),
		Payouts:    payoutSvc,
	}
	if cfg.WebhookSkipSignature {
		logger.Warn("webhook signature verification disabled")
	}

	stopPayouts := worker.NewPayoutWorker(payoutSvc).
		WithPollInterval(cfg.PayoutPollInterval).
		WithBatchSize(cfg.PayoutBatchSize).
		Run(ctx)
	stopPendingPushes := worker.NewPendingPushWorker(settlementSvc).
		WithInterval(cfg.PendingSweepInterval).
		Run(ctx)
	stopReconciliation := worker.NewReconciliationWorker(service.NewReconciliationService(store)).
		WithInterval(cfg.ReconciliationInterval).
		Run(ctx)

	auth := middleware.NewAuth(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	router := api.NewRouter(cfg, logger, store, idemStore, rdb, auth, services)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopPayouts()
	stopPendingPushes()
	stopReconciliation()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return runErr
}

func buildSettings(cfg *config.Config) service.Settings {
	return service.Settings{
		Currency: cfg.Currency,
		Split: domain.SplitPolicy{
			CommissionRate: cfg.CommissionRate,
			TransferFees:   cfg.TransferFees,
			Tolerance:      cfg.AmountTolerance,
		},
		PlatformAccountID: cfg.PlatformAccountID,
		ClearingAccountID: cfg.ClearingAccountID,
		UnitRetry:         retry.Exponential(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		TxTimeout:         cfg.TxTimeout,
		PushCallbackURL:   cfg.PushCallbackURL,
		StalePayoutAfter:  cfg.PayoutStaleAfter,
		PendingPushExpiry: cfg.PendingPushExpiry,
	}
}

// newGateways picks live adapters when credentials are configured and
// simulated gateways otherwise.
func newGateways(cfg *config.Config, logger *zap.Logger) (gateway.SplitGateway, gateway.PushGateway) {
	var split gateway.SplitGateway
	if cfg.SplitLive() {
		split = splitpay.New(splitpay.Config{
			KeyID:         cfg.SplitKeyID,
			KeySecret:     cfg.SplitKeySecret,
			WebhookSecret: cfg.SplitWebhookSecret,
			CheckoutURL:   cfg.SplitCheckoutURL,
			Timeout:       cfg.GatewayTimeout,
			RetryAttempts: cfg.GatewayRetryAttempts,
			RetryBackoff:  cfg.GatewayRetryBackoff,
		})
	} else {
		logger.Warn("split gateway credentials not set, using simulated gateway")
		split = gateway.NewMockSplitGateway(cfg.SplitWebhookSecret)
	}

	var push gateway.PushGateway
	if cfg.PushLive() {
		push = pushpay.New(pushpay.Config{
			BaseURL:       cfg.PushBaseURL,
			APIKey:        cfg.PushAPIKey,
			ShortCode:     cfg.PushShortCode,
			WebhookSecret: cfg.PushWebhookSecret,
			Timeout:       cfg.GatewayTimeout,
			RetryAttempts: cfg.GatewayRetryAttempts,
			RetryBackoff:  cfg.GatewayRetryBackoff,
		}, &http.Client{Timeout: cfg.GatewayTimeout})
	} else {
		logger.Warn("push gateway endpoint not set, using simulated gateway")
		push = gateway.NewMockPushGateway(cfg.PushWebhookSecret)
	}
	return split, push
}

// newNotifier publishes to Kafka when brokers are configured and logs
// notifications otherwise.
func newNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		return notify.NewLogNotifier(logger.Named("notify")), func() {}
	}
	kafka := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.NotifyTopic)
	logger.Info("kafka notifications enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.NotifyTopic))
	return kafka, func() {
		if err := kafka.Close(); err != nil {
			logger.Warn("close kafka writer", zap.Error(err))
		}
	}
}

// newLogger builds a JSON production logger. With a log file set, output is
// also written to a size-rotated file.
func newLogger(level, file string) (*zap.Logger, func(), error) {
	lvl := parseLevel(level)
	if file == "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		logger, err := cfg.Build()
		return logger, func() {}, err
	}

	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	logger := zap.New(newTee(lvl, zapcore.Lock(os.Stdout), zapcore.AddSync(rotator)), zap.AddCaller())
	return logger, func() { _ = rotator.Close() }, nil
}

func newTee(lvl zapcore.Level, sinks ...zapcore.WriteSyncer) zapcore.Core {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := make([]zapcore.Core, 0, len(sinks))
	for _, sink := range sinks {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, lvl))
	}
	return zapcore.NewTee(cores...)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
