package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/ayo6706/marketplace-settlement/internal/service"
	"go.uber.org/zap"
)

// PayoutWorker sends transfer payouts for sellers with payable items and
// hands stale processing payouts to manual review. Concurrent instances are
// safe: each seller is claimed under a row lock.
type PayoutWorker struct {
	payoutService *service.PayoutService
	pollInterval  time.Duration
	batchSize     int32
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewPayoutWorker creates a worker polling every 10 seconds for up to 10 sellers.
func NewPayoutWorker(payoutSvc *service.PayoutService) *PayoutWorker {
	return &PayoutWorker{
		payoutService: payoutSvc,
		pollInterval:  10 * time.Second,
		batchSize:     10,
		stopCh:        make(chan struct{}),
	}
}

func (w *PayoutWorker) WithPollInterval(interval time.Duration) *PayoutWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

func (w *PayoutWorker) WithBatchSize(size int32) *PayoutWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is canceled.
func (w *PayoutWorker) Start(ctx context.Context) {
	zap.L().Info("payout worker starting", zap.Duration("interval", w.pollInterval), zap.Int32("batch", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("payout worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("payout worker stop signal received")
			return
		case <-ticker.C:
			_ = w.ProcessOnce(ctx)
		}
	}
}

func (w *PayoutWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce runs a single batch and refreshes the manual review gauge.
func (w *PayoutWorker) ProcessOnce(ctx context.Context) error {
	err := w.payoutService.ProcessPayouts(ctx, w.batchSize)
	switch {
	case err == nil:
		observability.IncrementWorkerRun("payout", "success")
	case errors.Is(err, context.Canceled):
		observability.IncrementWorkerRun("payout", "canceled")
	default:
		observability.IncrementWorkerRun("payout", "failed")
		zap.L().Error("payout batch failed", zap.Error(err))
	}

	if size, qerr := w.payoutService.ManualReviewQueueSize(ctx); qerr == nil {
		observability.SetManualReviewQueueSize(size)
	} else if ctx.Err() == nil {
		zap.L().Warn("manual review queue size unavailable", zap.Error(qerr))
	}
	return err
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *PayoutWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *PayoutWorker) String() string {
	return fmt.Sprintf("PayoutWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
