package config

import (
	"testing"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-0123456789-test-secret"

func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WEBHOOK_SKIP_SIG", "true")
	for _, name := range []string{
		"COMMISSION_RATE", "SETTLE_COMMISSION_RATE", "TRANSFER_FEE_BANDS", "CURRENCY",
		"KAFKA_BROKERS", "SETTLE_KAFKA_BROKERS", "NOTIFY_TOPIC", "SPLIT_KEY_ID", "SPLIT_KEY_SECRET",
		"PUSH_BASE_URL", "PAYOUT_BATCH_SIZE", "RETRY_BASE_DELAY", "RETRY_MAX_DELAY",
		"PLATFORM_ACCOUNT_ID", "CLEARING_ACCOUNT_ID", "PAYOUT_STALE_AFTER", "PENDING_PUSH_EXPIRY",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "KES", cfg.Currency)
	assert.Equal(t, "0.1", cfg.CommissionRate.String())
	assert.Equal(t, domain.DefaultTransferFees(), cfg.TransferFees)
	assert.Equal(t, domain.PlatformAccountID, cfg.PlatformAccountID.String())
	assert.Equal(t, domain.ClearingAccountID, cfg.ClearingAccountID.String())
	assert.Equal(t, 10*time.Minute, cfg.PayoutStaleAfter)
	assert.Equal(t, 30*time.Minute, cfg.PendingPushExpiry)
	assert.Equal(t, time.Minute, cfg.PendingSweepInterval)
	assert.Equal(t, int32(10), cfg.PayoutBatchSize)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.SplitLive())
	assert.False(t, cfg.PushLive())
}

func TestLoadPrefixedAliases(t *testing.T) {
	baseEnv(t)
	t.Setenv("SETTLE_COMMISSION_RATE", "0.15")
	t.Setenv("SETTLE_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("TRANSFER_FEE_BANDS", "100000:500,*:1500")
	t.Setenv("PUSH_BASE_URL", "https://push.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.15", cfg.CommissionRate.String())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, int64(500), cfg.TransferFees.For(100_000))
	assert.Equal(t, int64(1500), cfg.TransferFees.For(100_001))
	assert.Equal(t, "https://push.example.com", cfg.PushBaseURL)
	assert.True(t, cfg.PushLive())
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "short secret", env: map[string]string{"JWT_SECRET": "short"}, want: "JWT_SECRET must be at least 32"},
		{name: "commission of one", env: map[string]string{"COMMISSION_RATE": "1"}, want: "COMMISSION_RATE"},
		{name: "bad commission", env: map[string]string{"COMMISSION_RATE": "ten"}, want: "invalid COMMISSION_RATE"},
		{name: "descending fee bands", env: map[string]string{"TRANSFER_FEE_BANDS": "5000:10,100:20"}, want: "invalid TRANSFER_FEE_BANDS"},
		{name: "currency", env: map[string]string{"CURRENCY": "SHILLING"}, want: "CURRENCY"},
		{name: "bad duration", env: map[string]string{"PAYOUT_STALE_AFTER": "soon"}, want: "invalid PAYOUT_STALE_AFTER"},
		{name: "same system accounts", env: map[string]string{"CLEARING_ACCOUNT_ID": domain.PlatformAccountID}, want: "must differ"},
		{name: "zero push expiry", env: map[string]string{"PENDING_PUSH_EXPIRY": "0s"}, want: "PENDING_PUSH_EXPIRY"},
		{name: "retry delays", env: map[string]string{"RETRY_BASE_DELAY": "2s", "RETRY_MAX_DELAY": "1s"}, want: "RETRY_BASE_DELAY"},
		{name: "split key without secret", env: map[string]string{"SPLIT_KEY_ID": "rzp_test_key"}, want: "SPLIT_KEY_SECRET"},
		{
			name: "webhook secrets",
			env:  map[string]string{"WEBHOOK_SKIP_SIG": "false", "SPLIT_WEBHOOK_SECRET": "", "PUSH_WEBHOOK_SECRET": ""},
			want: "SPLIT_WEBHOOK_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
