package service

import (
	"testing"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestReconciliationRun(t *testing.T) {
	f := newFixture(t)
	f.paidOrder(domain.MethodSplit, 5_400)

	report, err := f.recon.Run(f.ctx)
	require.NoError(t, err)
	require.True(t, report.Balanced())
	require.Equal(t, int64(0), report.LedgerNet)

	// A stray entry with no counterpart and no balance update breaks all
	// three checks at once.
	eventID := uuid.New()
	_, err = f.store.Queries().InsertPayoutHistory(f.ctx, repository.InsertPayoutHistoryParams{
		ID:        repository.ToPgUUID(uuid.New()),
		EventID:   repository.ToPgUUID(eventID),
		AccountID: repository.ToPgUUID(f.sellerA),
		Amount:    5_000,
		Kind:      domain.EntrySale,
		Method:    domain.MethodSplit,
		Status:    domain.EntryStatusPosted,
	})
	require.NoError(t, err)

	report, err = f.recon.Run(f.ctx)
	require.NoError(t, err)
	require.False(t, report.Balanced())
	require.Equal(t, int64(5_000), report.LedgerNet)
	require.Len(t, report.UnbalancedEvents, 1)
	require.Equal(t, repository.ToPgUUID(eventID), report.UnbalancedEvents[0].EventID)
	require.Len(t, report.AccountMismatches, 1)
	require.Equal(t, repository.ToPgUUID(f.sellerA), report.AccountMismatches[0].AccountID)
	require.Equal(t, int64(185_000), report.AccountMismatches[0].LedgerSum)
}
