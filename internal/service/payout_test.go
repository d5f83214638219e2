package service

import (
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/notify"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deliveredOrder pays for and delivers one order, leaving both sellers with
// payable items.
func (f *fixture) deliveredOrder(method string) (*OrderView, *InitiateResult) {
	f.t.Helper()
	order, init := f.paidOrder(method, 0)
	f.deliverAll(order)
	return order, init
}

func (f *fixture) payoutItems(payoutID uuid.UUID) []repository.TransactionItem {
	f.t.Helper()
	items, err := f.store.Queries().ListPayoutItems(f.ctx, repository.ToPgUUID(payoutID))
	require.NoError(f.t, err)
	return items
}

func TestTransferPayoutSendsNetOfFee(t *testing.T) {
	f := newFixture(t)
	f.deliveredOrder(domain.MethodSplit)

	payout, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, payout.Status)
	assert.Equal(t, domain.PayoutMethodTransfer, payout.Method)
	assert.Equal(t, int64(180_000), payout.GrossAmount)
	assert.Equal(t, int64(1_000), payout.TransferFee)
	assert.Equal(t, int64(179_000), payout.NetAmount)
	assert.Equal(t, int32(1), payout.ItemCount)
	assert.True(t, strings.HasPrefix(payout.Reference, "PO-"))
	require.NotNil(t, payout.GatewayRef)

	transfers := f.split.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, "ACCT_seller_a", transfers[0].Subaccount)
	assert.Equal(t, int64(179_000), transfers[0].Amount)
	assert.Equal(t, payout.Reference, transfers[0].Reference)

	assert.Equal(t, int64(0), f.balance(f.sellerA))
	assert.Equal(t, int64(45_000), f.balance(f.sellerB))
	f.requireBalanced()

	for _, item := range f.payoutItems(payout.ID) {
		assert.Equal(t, domain.PayoutItemTransferred, item.PayoutStatus)
	}
	assert.Contains(t, f.templates(), notify.TemplatePayoutSent)

	_, err = f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.ErrorIs(t, err, ErrNothingToPayout)
}

func TestPayoutWaitsForDelivery(t *testing.T) {
	f := newFixture(t)
	f.paidOrder(domain.MethodSplit, 0)

	_, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.ErrorIs(t, err, ErrNothingToPayout)
	assert.Empty(t, f.split.Transfers())
}

func TestPayoutValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA, Method: "cheque"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.buyer})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: uuid.New()})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestManualPayoutForPushSettlement(t *testing.T) {
	f := newFixture(t)
	f.deliveredOrder(domain.MethodPush)

	_, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.ErrorIs(t, err, ErrNothingToPayout, "push items are paid out manually")

	entries := len(f.store.History())
	payout, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA, Method: domain.PayoutMethodManual})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, payout.Status)
	assert.Equal(t, int64(0), payout.TransferFee)
	assert.Equal(t, int64(180_000), payout.NetAmount)
	assert.Empty(t, f.split.Transfers())

	for _, entry := range f.store.History()[entries:] {
		assert.Equal(t, domain.EntryStatusPending, entry.Status)
		assert.Equal(t, repository.ToPgUUID(payout.ID), entry.PayoutID)
	}
	assert.Equal(t, int64(0), f.balance(f.sellerA))
	f.requireBalanced()
	assert.Contains(t, f.templates(), notify.TemplatePayoutManual)
}

func TestPayoutGatewayOutageReleasesItems(t *testing.T) {
	f := newFixture(t)
	f.deliveredOrder(domain.MethodSplit)
	f.split.TransferErr = gateway.ErrUnavailable

	_, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Equal(t, int64(180_000), f.balance(f.sellerA))

	f.split.TransferErr = nil
	payout, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, payout.Status)
	assert.Equal(t, int64(0), f.balance(f.sellerA))
	f.requireBalanced()
}

func TestPayoutGatewayRejectionFailsItems(t *testing.T) {
	f := newFixture(t)
	f.deliveredOrder(domain.MethodSplit)
	f.split.TransferErr = gateway.ErrRejected

	_, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.ErrorIs(t, err, gateway.ErrRejected)

	f.split.TransferErr = nil
	_, err = f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.ErrorIs(t, err, ErrNothingToPayout)
	assert.Equal(t, int64(180_000), f.balance(f.sellerA))
}

func TestOnlyOneProcessingPayoutPerSeller(t *testing.T) {
	f := newFixture(t)
	f.deliveredOrder(domain.MethodSplit)

	first, err := f.payouts.claim(f.ctx, f.sellerA, domain.PayoutMethodTransfer, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, first.payout.Status)

	f.deliveredOrder(domain.MethodSplit)
	_, err = f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.ErrorIs(t, err, ErrPayoutInProgress)
}

func TestProcessPayoutsSweepsEverySeller(t *testing.T) {
	f := newFixture(t)
	f.deliveredOrder(domain.MethodSplit)

	require.NoError(t, f.payouts.ProcessPayouts(f.ctx, 10))
	assert.Len(t, f.split.Transfers(), 2)
	assert.Equal(t, int64(0), f.balance(f.sellerA))
	assert.Equal(t, int64(0), f.balance(f.sellerB))
	// fees: 1000 on each seller
	assert.Equal(t, int64(-270_000+179_000+1_000+44_000+1_000), f.balance(f.cfg.ClearingAccountID))
	f.requireBalanced()

	require.NoError(t, f.payouts.ProcessPayouts(f.ctx, 10))
	assert.Len(t, f.split.Transfers(), 2)
}

// stalePayout claims a payout whose last update is an hour old, as if the
// process died between claiming and sending it.
func (f *fixture) stalePayout(sellerID uuid.UUID) uuid.UUID {
	f.t.Helper()
	f.store.Now = func() time.Time { return time.Now().Add(-time.Hour) }
	claimed, err := f.payouts.claim(f.ctx, sellerID, domain.PayoutMethodTransfer, nil)
	f.store.Now = time.Now
	require.NoError(f.t, err)
	return repository.FromPgUUID(claimed.payout.ID)
}

func TestStalePayoutGoesToManualReview(t *testing.T) {
	f := newFixture(t)
	f.deliveredOrder(domain.MethodSplit)
	payoutID := f.stalePayout(f.sellerA)

	require.NoError(t, f.payouts.ProcessPayouts(f.ctx, 10))

	payout, err := f.payouts.GetPayout(f.ctx, payoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusManualReview, payout.Status)
	assert.Equal(t, int64(180_000), f.balance(f.sellerA), "a stale payout is never resent")

	size, err := f.payouts.ManualReviewQueueSize(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
	queue, err := f.payouts.ListManualReviewPayouts(f.ctx, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, payoutID, queue[0].ID)

	ref := "TRF-CONFIRMED-1"
	resolved, err := f.payouts.ResolveManualReviewPayout(f.ctx, ResolveManualReviewRequest{
		PayoutID:   payoutID,
		Decision:   DecisionConfirmSent,
		Reason:     "bank statement shows transfer",
		GatewayRef: &ref,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, resolved.Status)
	require.NotNil(t, resolved.GatewayRef)
	assert.Equal(t, ref, *resolved.GatewayRef)
	assert.Equal(t, int64(0), f.balance(f.sellerA))
	f.requireBalanced()

	_, err = f.payouts.ResolveManualReviewPayout(f.ctx, ResolveManualReviewRequest{PayoutID: payoutID, Decision: DecisionRelease})
	require.ErrorIs(t, err, ErrPayoutNotInManualReview)
}

func TestManualReviewReleaseFreesItems(t *testing.T) {
	f := newFixture(t)
	f.deliveredOrder(domain.MethodSplit)
	payoutID := f.stalePayout(f.sellerA)
	require.NoError(t, f.payouts.recoverStaleProcessingPayouts(f.ctx, 10))

	resolved, err := f.payouts.ResolveManualReviewPayout(f.ctx, ResolveManualReviewRequest{
		PayoutID: payoutID,
		Decision: DecisionRelease,
		Reason:   "transfer never left the bank",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, resolved.Status)
	assert.Empty(t, f.payoutItems(payoutID))

	payout, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, payout.Status)
}

func TestResolveManualReviewValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.payouts.ResolveManualReviewPayout(f.ctx, ResolveManualReviewRequest{PayoutID: uuid.New(), Decision: "refund_failed"})
	require.ErrorIs(t, err, ErrInvalidManualReviewDecision)

	_, err = f.payouts.ResolveManualReviewPayout(f.ctx, ResolveManualReviewRequest{PayoutID: uuid.New(), Decision: DecisionRelease})
	require.ErrorIs(t, err, ErrPayoutNotFound)
}

func TestRefundAfterPayoutLeavesSellerOwing(t *testing.T) {
	f := newFixture(t)
	_, init := f.deliveredOrder(domain.MethodSplit)
	_, err := f.payouts.RequestPayout(f.ctx, RequestPayoutRequest{SellerID: f.sellerA})
	require.NoError(t, err)

	f.split.RefundStatus = gateway.RefundProcessed
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)
	f.refund(init.TransactionID, itemA.ItemID)

	assert.Equal(t, int64(-180_000), f.balance(f.sellerA))
	f.requireBalanced()
}
