package service

import (
	"context"

	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/ayo6706/marketplace-settlement/internal/retry"
	"go.uber.org/zap"
)

// unitRunner executes an atomic unit of work, retrying it from scratch when
// the database reports a write conflict. fn may run several times, so it must
// reset anything it captures.
type unitRunner struct {
	store  QueryStore
	policy retry.Policy
}

func newUnitRunner(store QueryStore, cfg Settings) unitRunner {
	return unitRunner{store: store, policy: cfg.UnitRetry.WithAttemptTimeout(cfg.TxTimeout)}
}

func (u unitRunner) run(ctx context.Context, unit string, fn func(ctx context.Context, q repository.Querier) error) error {
	attempt := 0
	return retry.Do(ctx, u.policy, func(err error) bool {
		if !repository.IsTransient(err) {
			return false
		}
		observability.IncrementUnitRetry(unit)
		zap.L().Debug("retrying unit after conflict", zap.String("unit", unit), zap.Int("attempt", attempt), zap.Error(err))
		return true
	}, func(ctx context.Context) error {
		attempt++
		return u.store.RunInTx(ctx, func(q repository.Querier) error {
			return fn(ctx, q)
		})
	})
}
