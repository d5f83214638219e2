package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"go.uber.org/zap"
)

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// ReconciliationReport lists every invariant the last run found broken.
type ReconciliationReport struct {
	LedgerNet         int64                              `json:"ledger_net"`
	UnbalancedEvents  []repository.UnbalancedEvent       `json:"unbalanced_events"`
	AccountMismatches []repository.AccountLedgerMismatch `json:"account_mismatches"`
}

func (r *ReconciliationReport) Balanced() bool {
	return r.LedgerNet == 0 && len(r.UnbalancedEvents) == 0 && len(r.AccountMismatches) == 0
}

// Run checks that all ledger entries net to zero, that each settlement event
// nets to zero on its own, and that every stored balance equals its entries.
func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	queries := s.store.Queries()
	report := &ReconciliationReport{}

	net, err := queries.GetLedgerNet(ctx)
	if err != nil {
		return nil, fmt.Errorf("run ledger net query: %w", err)
	}
	report.LedgerNet = net
	if net != 0 {
		observability.IncrementLedgerImbalance("global")
		zap.L().Error("CRITICAL: ledger imbalance detected", zap.Int64("net_amount", net))
	}

	events, err := queries.GetUnbalancedEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load unbalanced events: %w", err)
	}
	report.UnbalancedEvents = events
	for _, ev := range events {
		observability.IncrementLedgerImbalance("event")
		zap.L().Error("unbalanced ledger event",
			zap.String("event_id", repository.FromPgUUID(ev.EventID).String()),
			zap.Int64("net_amount", ev.NetAmount),
		)
	}

	mismatches, err := queries.GetAccountLedgerMismatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("load account mismatches: %w", err)
	}
	report.AccountMismatches = mismatches
	for _, m := range mismatches {
		observability.IncrementLedgerImbalance("account")
		zap.L().Error("account balance disagrees with ledger",
			zap.String("account_id", repository.FromPgUUID(m.AccountID).String()),
			zap.Int64("balance", m.Balance),
			zap.Int64("ledger_sum", m.LedgerSum),
		)
	}

	if report.Balanced() {
		zap.L().Info("Ledger Balanced")
	}
	return report, nil
}
