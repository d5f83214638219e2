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

// PendingPushWorker fails push transactions whose initiation outcome was
// never learned and whose callback never arrived.
type PendingPushWorker struct {
	settlement *service.SettlementService
	interval   time.Duration
	batchSize  int32
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewPendingPushWorker creates a worker sweeping every minute, 50 rows at a time.
func NewPendingPushWorker(settlement *service.SettlementService) *PendingPushWorker {
	return &PendingPushWorker{
		settlement: settlement,
		interval:   time.Minute,
		batchSize:  50,
		stopCh:     make(chan struct{}),
	}
}

func (w *PendingPushWorker) WithInterval(interval time.Duration) *PendingPushWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *PendingPushWorker) WithBatchSize(size int32) *PendingPushWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is canceled.
func (w *PendingPushWorker) Start(ctx context.Context) {
	zap.L().Info("pending push worker starting", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			_, _ = w.ProcessOnce(ctx)
		}
	}
}

func (w *PendingPushWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce runs one sweep and returns how many transactions it failed.
func (w *PendingPushWorker) ProcessOnce(ctx context.Context) (int, error) {
	expired, err := w.settlement.ExpireUnconfirmedPushes(ctx, w.batchSize)
	switch {
	case err == nil:
		observability.IncrementWorkerRun("pending_push", "success")
	case errors.Is(err, context.Canceled):
		observability.IncrementWorkerRun("pending_push", "canceled")
	default:
		observability.IncrementWorkerRun("pending_push", "failed")
		zap.L().Error("pending push sweep failed", zap.Error(err))
	}
	return expired, err
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *PendingPushWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *PendingPushWorker) String() string {
	return fmt.Sprintf("PendingPushWorker(interval=%v, batch=%d)", w.interval, w.batchSize)
}
