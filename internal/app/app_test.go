package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/config"
	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/gateway/pushpay"
	"github.com/ayo6706/marketplace-settlement/internal/gateway/splitpay"
	"github.com/ayo6706/marketplace-settlement/internal/notify"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func testConfig() *config.Config {
	return &config.Config{
		Currency:             "KES",
		CommissionRate:       decimal.RequireFromString("0.12"),
		AmountTolerance:      2,
		TransferFees:         domain.DefaultTransferFees(),
		PlatformAccountID:    uuid.MustParse(domain.PlatformAccountID),
		ClearingAccountID:    uuid.MustParse(domain.ClearingAccountID),
		RetryMaxAttempts:     4,
		RetryBaseDelay:       10 * time.Millisecond,
		RetryMaxDelay:        time.Second,
		TxTimeout:            3 * time.Second,
		GatewayTimeout:       5 * time.Second,
		GatewayRetryAttempts: 2,
		PayoutStaleAfter:     time.Minute,
		PendingPushExpiry:    15 * time.Minute,
		PushCallbackURL:      "https://api.example.test/v1/webhooks/push",
		SplitWebhookSecret:   "split-secret",
		PushWebhookSecret:    "push-secret",
	}
}

func TestBuildSettings(t *testing.T) {
	settings := buildSettings(testConfig())

	assert.Equal(t, "KES", settings.Currency)
	assert.True(t, settings.Split.CommissionRate.Equal(decimal.RequireFromString("0.12")))
	assert.Equal(t, int64(2), settings.Split.Tolerance)
	assert.Equal(t, 4, settings.UnitRetry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, settings.UnitRetry.BaseDelay)
	assert.Equal(t, 3*time.Second, settings.TxTimeout)
	assert.Equal(t, time.Minute, settings.StalePayoutAfter)
	assert.Equal(t, 15*time.Minute, settings.PendingPushExpiry)
	assert.Equal(t, "https://api.example.test/v1/webhooks/push", settings.PushCallbackURL)
}

func TestNewGatewaysFallsBackToSimulation(t *testing.T) {
	split, push := newGateways(testConfig(), zap.NewNop())
	assert.IsType(t, &gateway.MockSplitGateway{}, split)
	assert.IsType(t, &gateway.MockPushGateway{}, push)

	cfg := testConfig()
	cfg.SplitKeyID = "rzp_test_key"
	cfg.SplitKeySecret = "rzp_test_secret"
	cfg.PushBaseURL = "https://push.example.test"
	split, push = newGateways(cfg, zap.NewNop())
	assert.IsType(t, &splitpay.Client{}, split)
	assert.IsType(t, &pushpay.Client{}, push)
}

func TestNewNotifier(t *testing.T) {
	n, closeFn := newNotifier(testConfig(), zap.NewNop())
	assert.IsType(t, &notify.LogNotifier{}, n)
	closeFn()

	cfg := testConfig()
	cfg.KafkaBrokers = []string{"localhost:9092"}
	cfg.NotifyTopic = "settlement.notifications"
	n, closeFn = newNotifier(cfg, zap.NewNop())
	assert.IsType(t, &notify.KafkaNotifier{}, n)
	closeFn()
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.log")
	logger, closeFn, err := newLogger("debug", path)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger.Info("ledger balanced")
	_ = logger.Sync()
	closeFn()
	assert.FileExists(t, path)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, parseLevel(" WARN "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}
