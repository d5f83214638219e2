package service

import (
	"fmt"
	"testing"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/notify"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) refund(txID, itemID uuid.UUID) *RefundResult {
	f.t.Helper()
	res, err := f.settlement.RefundItem(f.ctx, RefundRequest{TransactionID: txID, ItemID: itemID, Reason: "damaged"})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) refundEvent(txID, itemID uuid.UUID, refundID string, failed bool) *ConfirmResult {
	f.t.Helper()
	res, err := f.settlement.Confirm(f.ctx, ConfirmEvent{
		Gateway:          domain.MethodSplit,
		Kind:             EventRefund,
		AccountReference: txID.String(),
		ItemID:           itemID,
		RefundID:         refundID,
		RefundFailed:     failed,
	})
	require.NoError(f.t, err)
	return res
}

func TestSplitRefundDebitsOnGatewayConfirmation(t *testing.T) {
	f := newFixture(t)
	_, init := f.paidOrder(domain.MethodSplit, 0)
	itemB := f.itemFor(f.transaction(init.TransactionID), f.sellerB)

	res := f.refund(init.TransactionID, itemB.ItemID)
	assert.Equal(t, domain.RefundPending, res.RefundStatus)
	assert.Equal(t, int64(50_000), res.Amount)
	assert.NotEmpty(t, res.Reference)

	refunds := f.split.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(50_000), refunds[0].Amount)
	assert.Equal(t, fmt.Sprintf("refund-%s-%s", init.TransactionID, itemB.ItemID), refunds[0].IdempotencyKey)
	assert.Equal(t, "pay_"+init.Reference, refunds[0].PaymentID)

	// Nothing moves until the gateway confirms.
	assert.Equal(t, int64(45_000), f.balance(f.sellerB))

	ev := f.refundEvent(init.TransactionID, itemB.ItemID, res.Reference, false)
	assert.Equal(t, BranchRefund, ev.Branch)
	assert.Equal(t, domain.RefundCompleted, ev.Status)

	assert.Equal(t, int64(0), f.balance(f.sellerB))
	assert.Equal(t, int64(180_000), f.balance(f.sellerA))
	assert.Equal(t, int64(40_000), f.balance(f.cfg.PlatformAccountID))
	assert.Equal(t, int64(-220_000), f.balance(f.cfg.ClearingAccountID))
	f.requireBalanced()

	item := f.itemFor(f.transaction(init.TransactionID), f.sellerB)
	assert.Equal(t, domain.RefundCompleted, item.RefundStatus)
	assert.Equal(t, int64(50_000), item.RefundedAmount)

	replay := f.refundEvent(init.TransactionID, itemB.ItemID, res.Reference, false)
	assert.Equal(t, BranchDuplicate, replay.Branch)
	f.requireBalanced()

	assert.ElementsMatch(t, []string{
		notify.TemplatePaymentReceived,
		notify.TemplateSaleCredited,
		notify.TemplateSaleCredited,
		notify.TemplateCommissionEarned,
		notify.TemplateRefundInitiated,
		notify.TemplateRefundCompleted,
		notify.TemplateSaleRefunded,
		notify.TemplateCommissionRefunded,
	}, f.templates())

	// Seller and platform hear about the debit once, when it posts.
	debited := f.sentTo(notify.TemplateSaleRefunded, notify.PartySeller)
	require.Len(t, debited, 1)
	assert.Equal(t, f.sellerB, debited[0].AccountID)
	assert.Equal(t, int64(45_000), debited[0].Amount)
	assert.Equal(t, res.Reference, debited[0].Reference)
	commission := f.sentTo(notify.TemplateCommissionRefunded, notify.PartyPlatform)
	require.Len(t, commission, 1)
	assert.Equal(t, int64(5_000), commission[0].Amount)
}

func TestSplitRefundProcessedImmediately(t *testing.T) {
	f := newFixture(t)
	f.split.RefundStatus = gateway.RefundProcessed
	_, init := f.paidOrder(domain.MethodSplit, 0)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)

	res := f.refund(init.TransactionID, itemA.ItemID)
	assert.Equal(t, domain.RefundCompleted, res.RefundStatus)
	assert.Equal(t, int64(0), f.balance(f.sellerA))
	f.requireBalanced()

	assert.Subset(t, f.deliveries(), []string{
		"refund_completed->buyer",
		"sale_refunded->seller",
		"commission_refunded->platform",
	})
}

func TestRefundTwiceReturnsCurrentState(t *testing.T) {
	f := newFixture(t)
	_, init := f.paidOrder(domain.MethodSplit, 0)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)

	f.refund(init.TransactionID, itemA.ItemID)
	res := f.refund(init.TransactionID, itemA.ItemID)
	assert.Equal(t, domain.RefundPending, res.RefundStatus)
	assert.Equal(t, "refund already requested", res.Message)
	assert.Len(t, f.split.Refunds(), 1)
}

func TestRefundRejections(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder()
	init := f.initiate(order.ID, domain.MethodSplit)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)

	_, err := f.settlement.RefundItem(f.ctx, RefundRequest{TransactionID: init.TransactionID, ItemID: itemA.ItemID})
	require.ErrorIs(t, err, ErrTransactionNotSettled)

	_, err = f.settlement.RefundItem(f.ctx, RefundRequest{TransactionID: uuid.New(), ItemID: itemA.ItemID})
	require.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = f.settlement.RefundItem(f.ctx, RefundRequest{TransactionID: init.TransactionID, ItemID: uuid.New()})
	require.ErrorIs(t, err, ErrItemNotFound)

	f.split.RefundErr = gateway.ErrUnavailable
	f.confirmSuccess(domain.MethodSplit, init.Reference, 270_000, 0)
	_, err = f.settlement.RefundItem(f.ctx, RefundRequest{TransactionID: init.TransactionID, ItemID: itemA.ItemID})
	require.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Equal(t, domain.RefundNone, f.itemFor(f.transaction(init.TransactionID), f.sellerA).RefundStatus)
}

func TestFailedGatewayRefundStaysPending(t *testing.T) {
	f := newFixture(t)
	_, init := f.paidOrder(domain.MethodSplit, 0)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)
	res := f.refund(init.TransactionID, itemA.ItemID)
	entries := len(f.store.History())

	ev := f.refundEvent(init.TransactionID, itemA.ItemID, res.Reference, true)
	assert.Equal(t, BranchRefund, ev.Branch)
	assert.Equal(t, "refund failed at gateway", ev.Message)
	assert.Equal(t, domain.RefundPending, f.itemFor(f.transaction(init.TransactionID), f.sellerA).RefundStatus)
	assert.Len(t, f.store.History(), entries)
}

func TestPushRefundIsDebitedAndCompletedManually(t *testing.T) {
	f := newFixture(t)
	_, init := f.paidOrder(domain.MethodPush, 0)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)
	entries := len(f.store.History())

	res := f.refund(init.TransactionID, itemA.ItemID)
	assert.Equal(t, domain.RefundPending, res.RefundStatus)
	assert.Equal(t, "refund must be sent manually", res.Message)
	assert.Empty(t, f.split.Refunds())
	assert.Equal(t, int64(0), f.balance(f.sellerA))
	f.requireBalanced()

	for _, entry := range f.store.History()[entries:] {
		assert.Equal(t, domain.EntryStatusPending, entry.Status)
	}

	done, err := f.settlement.CompleteManualRefund(f.ctx, init.TransactionID, itemA.ItemID, "MPESA-RFND-1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundCompleted, done.RefundStatus)
	assert.Equal(t, "MPESA-RFND-1", done.Reference)
	assert.Equal(t, int64(0), f.balance(f.sellerA))

	_, err = f.settlement.CompleteManualRefund(f.ctx, init.TransactionID, itemA.ItemID, "again", nil)
	require.ErrorIs(t, err, ErrRefundNotPending)

	assert.ElementsMatch(t, []string{
		"payment_received->buyer",
		"sale_credited->seller",
		"sale_credited->seller",
		"commission_earned->platform",
		"refund_offline->buyer",
		"sale_refunded->seller",
		"refund_offline->platform",
		"refund_completed->buyer",
	}, f.deliveries())

	debited := f.sentTo(notify.TemplateSaleRefunded, notify.PartySeller)
	require.Len(t, debited, 1)
	assert.Equal(t, f.sellerA, debited[0].AccountID)
	assert.Equal(t, int64(180_000), debited[0].Amount)
	offline := f.sentTo(notify.TemplateRefundOffline, notify.PartyPlatform)
	require.Len(t, offline, 1)
	assert.Equal(t, f.cfg.PlatformAccountID, offline[0].AccountID)
	assert.Equal(t, int64(20_000), offline[0].Amount)
}

func TestReversalSkipsItemsAlreadyDebited(t *testing.T) {
	f := newFixture(t)
	_, init := f.paidOrder(domain.MethodPush, 0)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)
	f.refund(init.TransactionID, itemA.ItemID)

	res, err := f.settlement.Confirm(f.ctx, ConfirmEvent{
		Gateway:   domain.MethodPush,
		Kind:      EventReversal,
		Reference: init.Reference,
	})
	require.NoError(t, err)
	assert.Equal(t, BranchReversal, res.Branch)

	assert.Equal(t, int64(0), f.balance(f.sellerA))
	assert.Equal(t, int64(0), f.balance(f.sellerB))
	assert.Equal(t, int64(0), f.balance(f.cfg.PlatformAccountID))
	assert.Equal(t, int64(0), f.balance(f.cfg.ClearingAccountID))
	f.requireBalanced()

	// Seller A was debited by the earlier refund; only seller B loses money here.
	reversed := f.sentTo(notify.TemplateSaleReversed, notify.PartySeller)
	require.Len(t, reversed, 1)
	assert.Equal(t, f.sellerB, reversed[0].AccountID)
	assert.Equal(t, int64(45_000), reversed[0].Amount)
	platform := f.sentTo(notify.TemplatePaymentReversed, notify.PartyPlatform)
	require.Len(t, platform, 1)
	assert.Equal(t, int64(25_000), platform[0].Amount)
	assert.Len(t, f.sentTo(notify.TemplatePaymentReversed, notify.PartyBuyer), 1)
}

func TestReversalCoversPendingGatewayRefund(t *testing.T) {
	f := newFixture(t)
	_, init := f.paidOrder(domain.MethodSplit, 0)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)
	refund := f.refund(init.TransactionID, itemA.ItemID)

	_, err := f.settlement.Confirm(f.ctx, ConfirmEvent{Gateway: domain.MethodSplit, Kind: EventReversal, Reference: init.Reference})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.balance(f.sellerA))

	// The late refund confirmation must not debit the seller again.
	ev := f.refundEvent(init.TransactionID, itemA.ItemID, refund.Reference, false)
	assert.Equal(t, BranchDuplicate, ev.Branch)
	assert.Equal(t, int64(0), f.balance(f.sellerA))
	f.requireBalanced()
}

func TestReturnApprovedRefundsThroughGateway(t *testing.T) {
	f := newFixture(t)
	order, init := f.paidOrder(domain.MethodSplit, 0)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)

	_, err := f.settlement.RequestReturn(f.ctx, init.TransactionID, itemA.ItemID, "wrong size", nil)
	require.ErrorIs(t, err, ErrReturnNotAllowed, "undelivered items cannot be returned")

	f.deliverAll(order)
	res, err := f.settlement.RequestReturn(f.ctx, init.TransactionID, itemA.ItemID, "wrong size", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnPending, res.ReturnStatus)

	again, err := f.settlement.RequestReturn(f.ctx, init.TransactionID, itemA.ItemID, "wrong size", nil)
	require.NoError(t, err)
	assert.Equal(t, "return already requested", again.Message)

	_, err = f.settlement.RefundItem(f.ctx, RefundRequest{TransactionID: init.TransactionID, ItemID: itemA.ItemID})
	require.ErrorIs(t, err, ErrReturnNotAllowed)

	done, err := f.settlement.ResolveReturn(f.ctx, init.TransactionID, itemA.ItemID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnConfirmed, done.ReturnStatus)
	assert.Equal(t, domain.RefundReturned, done.RefundStatus)

	refunds := f.split.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, fmt.Sprintf("return-%s-%s", init.TransactionID, itemA.ItemID), refunds[0].IdempotencyKey)
	assert.Equal(t, int64(0), f.balance(f.sellerA))
	f.requireBalanced()
	returned := f.sentTo(notify.TemplateSaleRefunded, notify.PartySeller)
	require.Len(t, returned, 1)
	assert.Equal(t, int64(180_000), returned[0].Amount)
	assert.Len(t, f.sentTo(notify.TemplateCommissionRefunded, notify.PartyPlatform), 1)

	// Approving twice is a no-op.
	_, err = f.settlement.ResolveReturn(f.ctx, init.TransactionID, itemA.ItemID, true, nil)
	require.NoError(t, err)
	assert.Len(t, f.split.Refunds(), 1)
	assert.Equal(t, int64(0), f.balance(f.sellerA))
}

func TestReturnRejectedLeavesLedgerAlone(t *testing.T) {
	f := newFixture(t)
	order, init := f.paidOrder(domain.MethodSplit, 0)
	f.deliverAll(order)
	itemB := f.itemFor(f.transaction(init.TransactionID), f.sellerB)

	_, err := f.settlement.RequestReturn(f.ctx, init.TransactionID, itemB.ItemID, "", nil)
	require.NoError(t, err)
	res, err := f.settlement.ResolveReturn(f.ctx, init.TransactionID, itemB.ItemID, false, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnRejected, res.ReturnStatus)
	assert.Equal(t, domain.RefundNone, res.RefundStatus)
	assert.Equal(t, int64(45_000), f.balance(f.sellerB))

	_, err = f.settlement.ResolveReturn(f.ctx, init.TransactionID, itemB.ItemID, true, nil)
	require.ErrorIs(t, err, ErrReturnNotAllowed)
}

func TestRefundBlockedWhilePayoutInFlight(t *testing.T) {
	f := newFixture(t)
	order, init := f.paidOrder(domain.MethodSplit, 0)
	f.deliverAll(order)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)

	_, err := f.payouts.claim(f.ctx, f.sellerA, domain.PayoutMethodTransfer, nil)
	require.NoError(t, err)

	_, err = f.settlement.RefundItem(f.ctx, RefundRequest{TransactionID: init.TransactionID, ItemID: itemA.ItemID})
	require.ErrorIs(t, err, ErrPayoutInProgress)
	_, err = f.settlement.RequestReturn(f.ctx, init.TransactionID, itemA.ItemID, "", nil)
	require.ErrorIs(t, err, ErrPayoutInProgress)
	assert.Empty(t, f.split.Refunds())
}

func TestRefundBudget(t *testing.T) {
	a := repository.ToPgUUID(uuid.New())
	b := repository.ToPgUUID(uuid.New())
	tx := repository.Transaction{TotalAmount: 100}

	items := []repository.TransactionItem{
		{ItemID: a, ItemAmount: 60, RefundedAmount: 60},
		{ItemID: b, ItemAmount: 40},
	}
	require.NoError(t, refundBudget(tx, items, items[1]))

	items[1].ItemAmount = 41
	require.ErrorIs(t, refundBudget(tx, items, items[1]), ErrRefundExceedsTotal)

	// The item's own earlier refund does not count against it.
	require.NoError(t, refundBudget(tx, items, items[0]))
}
