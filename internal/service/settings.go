package service

import (
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/retry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settings carries the commercial terms and system accounts the engine runs with.
type Settings struct {
	Currency          string
	Split             domain.SplitPolicy
	PlatformAccountID uuid.UUID
	ClearingAccountID uuid.UUID
	// UnitRetry bounds how often a conflicted unit of work is retried.
	UnitRetry retry.Policy
	// TxTimeout caps a single attempt of a unit of work.
	TxTimeout       time.Duration
	PushCallbackURL string
	// StalePayoutAfter is how long a payout may sit in processing before
	// the worker hands it to manual review.
	StalePayoutAfter time.Duration
	// PendingPushExpiry is how long a push transaction may stay pending with
	// no callback before it is failed.
	PendingPushExpiry time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Currency: "KES",
		Split: domain.SplitPolicy{
			CommissionRate: decimal.RequireFromString("0.10"),
			TransferFees:   domain.DefaultTransferFees(),
			Tolerance:      1,
		},
		PlatformAccountID: uuid.MustParse(domain.PlatformAccountID),
		ClearingAccountID: uuid.MustParse(domain.ClearingAccountID),
		UnitRetry:         retry.Exponential(5, 20*time.Millisecond, 500*time.Millisecond),
		TxTimeout:         5 * time.Second,
		StalePayoutAfter:  10 * time.Minute,
		PendingPushExpiry: 30 * time.Minute,
	}
}
