package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/notify"
	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventKind is the gateway outcome a webhook reports.
type EventKind string

const (
	EventSuccess  EventKind = "success"
	EventFailure  EventKind = "failure"
	EventReversal EventKind = "reversal"
	EventRefund   EventKind = "refund"
)

// Branch is the path Confirm took.
type Branch string

const (
	BranchDuplicate Branch = "duplicate"
	BranchFailure   Branch = "failure"
	BranchSuccess   Branch = "success"
	BranchNotFound  Branch = "not_found"
	BranchReversal  Branch = "reversal"
	BranchRefund    Branch = "refund"
)

// ConfirmEvent is a parsed, signature-checked gateway notification.
type ConfirmEvent struct {
	Gateway string
	Kind    EventKind
	// Reference is the gateway's reference for the charge.
	Reference string
	// AccountReference is our transaction id, echoed back by gateways that
	// can report before we stored their reference.
	AccountReference string
	// Amount and Fee are in minor units. A zero Amount was not reported.
	Amount    int64
	Fee       int64
	PaymentID string
	Channel   string
	PaidAt    string
	Reason    string

	// Refund events only.
	ItemID       uuid.UUID
	RefundID     string
	RefundFailed bool
}

type ConfirmResult struct {
	Branch        Branch     `json:"branch"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Status        string     `json:"status,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// Confirm applies a gateway event in one retried unit and notifies the
// affected parties once it has committed. Replaying an event is a no-op.
func (s *SettlementService) Confirm(ctx context.Context, ev ConfirmEvent) (*ConfirmResult, error) {
	switch ev.Kind {
	case EventSuccess, EventFailure, EventReversal, EventRefund:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
	ev.Reference = strings.TrimSpace(ev.Reference)
	ev.AccountReference = strings.TrimSpace(ev.AccountReference)
	if ev.Reference == "" && ev.AccountReference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrInvalidPayload)
	}

	var (
		res    ConfirmResult
		events []notify.Event
	)
	err := s.units.run(ctx, "confirm", func(ctx context.Context, qtx repository.Querier) error {
		res = ConfirmResult{}
		events = nil

		tx, found, err := findTransaction(ctx, qtx, ev)
		if err != nil {
			return err
		}
		if !found {
			res.Branch = BranchNotFound
			res.Message = "no transaction for reference"
			return nil
		}
		id := repository.FromPgUUID(tx.ID)
		res.TransactionID = &id

		switch ev.Kind {
		case EventSuccess:
			events, err = s.applySuccess(ctx, qtx, tx, ev, &res)
		case EventFailure:
			events, err = s.applyFailure(ctx, qtx, tx, ev, &res)
		case EventReversal:
			events, err = s.applyReversal(ctx, qtx, tx, ev, &res)
		case EventRefund:
			events, err = s.applyRefundEvent(ctx, qtx, tx, ev, &res)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementWebhook(ev.Gateway, string(res.Branch))
	zap.L().Info("gateway event applied",
		zap.String("gateway", ev.Gateway),
		zap.String("kind", string(ev.Kind)),
		zap.String("reference", ev.Reference),
		zap.String("branch", string(res.Branch)),
	)
	s.notifier.Dispatch(events...)
	return &res, nil
}

func findTransaction(ctx context.Context, qtx repository.Querier, ev ConfirmEvent) (repository.Transaction, bool, error) {
	if ev.Reference != "" {
		tx, err := qtx.GetTransactionByReferenceForUpdate(ctx, ev.Reference)
		if err == nil {
			return tx, true, nil
		}
		if !repository.IsNotFound(err) {
			return repository.Transaction{}, false, fmt.Errorf("get transaction by reference: %w", err)
		}
	}
	if ev.AccountReference != "" {
		id, parseErr := uuid.Parse(ev.AccountReference)
		if parseErr != nil {
			return repository.Transaction{}, false, nil
		}
		tx, err := qtx.GetTransactionForUpdate(ctx, repository.ToPgUUID(id))
		if err == nil {
			return tx, true, nil
		}
		if !repository.IsNotFound(err) {
			return repository.Transaction{}, false, fmt.Errorf("get transaction by account reference: %w", err)
		}
	}
	return repository.Transaction{}, false, nil
}

func (s *SettlementService) applySuccess(ctx context.Context, qtx repository.Querier, tx repository.Transaction, ev ConfirmEvent, res *ConfirmResult) ([]notify.Event, error) {
	res.Status = tx.Status
	switch tx.Status {
	case domain.TxStatusCompleted, domain.TxStatusReversed:
		res.Branch = BranchDuplicate
		res.Message = "payment already confirmed"
		return nil, nil
	case domain.TxStatusFailed:
		zap.L().Error("success reported for a failed transaction; needs manual review",
			zap.String("transaction_id", repository.FromPgUUID(tx.ID).String()),
			zap.String("reference", ev.Reference),
		)
		res.Branch = BranchDuplicate
		res.Message = "transaction already failed"
		return nil, nil
	}

	if ev.Amount > 0 && ev.Amount != tx.TotalAmount {
		return nil, fmt.Errorf("%w: reported %d, expected %d", ErrPaymentMismatch, ev.Amount, tx.TotalAmount)
	}
	if ev.Fee < 0 || ev.Fee > tx.TotalAmount {
		return nil, fmt.Errorf("%w: fee %d", ErrPaymentMismatch, ev.Fee)
	}

	order, err := qtx.GetOrderForUpdate(ctx, tx.OrderID)
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	items, err := qtx.ListTransactionItems(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("list transaction items: %w", err)
	}

	// The gateway fee is shared by items only; the delivery fee carries none.
	amounts := make([]int64, len(items))
	var itemsTotal int64
	for i, item := range items {
		amounts[i] = item.ItemAmount
		itemsTotal += item.ItemAmount
	}
	fees := domain.ProrateFee(ev.Fee, amounts)
	for i, item := range items {
		rows, err := qtx.UpdateTransactionItemSplit(ctx, repository.UpdateTransactionItemSplitParams{
			TransactionID:      item.TransactionID,
			ItemID:             item.ItemID,
			PlatformCommission: item.PlatformCommission,
			SellerShare:        item.SellerShare,
			ProratedFee:        fees[i],
			TransferFee:        item.TransferFee,
			NetCommission:      max(item.PlatformCommission-fees[i], 0),
			OwedAmount:         item.OwedAmount,
		})
		if err != nil {
			return nil, fmt.Errorf("update item split: %w", err)
		}
		if err := requireExactlyOne(rows, "update item split"); err != nil {
			return nil, err
		}
	}

	paidAt := parsePaidAt(ev.PaidAt, time.Now())
	rows, err := qtx.SetTransactionSettlement(ctx, repository.SetTransactionSettlementParams{
		ID:          tx.ID,
		GatewayFee:  ev.Fee,
		NetReceived: tx.TotalAmount - ev.Fee,
		PaidAt:      repository.ToTimestamptz(paidAt),
		PaymentID:   repository.StringPtr(ev.PaymentID),
	})
	if err != nil {
		return nil, fmt.Errorf("record settlement: %w", err)
	}
	if err := requireExactlyOne(rows, "record settlement"); err != nil {
		return nil, err
	}

	transactionID := repository.FromPgUUID(tx.ID)
	if err := transitionTransactionState(ctx, qtx, s.audit, transactionID, domain.TxStatusCompleted, nil, "payment_confirmed",
		marshalMetadata(map[string]any{
			"gateway":    ev.Gateway,
			"reference":  ev.Reference,
			"fee":        ev.Fee,
			"channel":    ev.Channel,
			"payment_id": ev.PaymentID,
		})); err != nil {
		return nil, err
	}

	if order.Status == domain.OrderStatusPending {
		if _, err := qtx.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{ID: order.ID, Status: domain.OrderStatusPaid}); err != nil {
			return nil, fmt.Errorf("mark order paid: %w", err)
		}
	}
	if order.TransactionID != tx.ID {
		if _, err := qtx.LinkOrderTransaction(ctx, repository.LinkOrderTransactionParams{ID: order.ID, TransactionID: tx.ID}); err != nil {
			return nil, fmt.Errorf("link order transaction: %w", err)
		}
	}

	platform, clearing := s.cfg.PlatformAccountID, s.cfg.ClearingAccountID
	j := newJournal(tx.PaymentMethod, domain.EntryStatusPosted).forTransaction(tx)
	j.post(clearing, -tx.TotalAmount, domain.EntryCharge, uuid.Nil)
	sellerTotals := make(map[uuid.UUID]int64)
	var sellerOrder []uuid.UUID
	for _, item := range items {
		itemID := repository.FromPgUUID(item.ItemID)
		seller := repository.FromPgUUID(item.SellerID)
		j.post(seller, item.SellerShare, domain.EntrySale, itemID)
		j.post(platform, item.PlatformCommission, domain.EntryCommission, itemID)
		if _, ok := sellerTotals[seller]; !ok {
			sellerOrder = append(sellerOrder, seller)
		}
		sellerTotals[seller] += item.SellerShare
	}
	j.post(platform, tx.DeliveryFee, domain.EntryDeliveryFee, uuid.Nil)
	j.post(platform, tx.TotalAmount-itemsTotal-tx.DeliveryFee, domain.EntryRounding, uuid.Nil)
	j.post(platform, -ev.Fee, domain.EntryGatewayFee, uuid.Nil)
	j.post(clearing, ev.Fee, domain.EntryGatewayFee, uuid.Nil)
	if err := j.commit(ctx, qtx); err != nil {
		return nil, err
	}

	res.Branch = BranchSuccess
	res.Status = domain.TxStatusCompleted

	orderID := repository.FromPgUUID(order.ID)
	events := []notify.Event{{
		Party:         notify.PartyBuyer,
		AccountID:     repository.FromPgUUID(order.CustomerID),
		Template:      notify.TemplatePaymentReceived,
		Amount:        tx.TotalAmount,
		Currency:      s.cfg.Currency,
		OrderID:       orderID,
		TransactionID: transactionID,
		Reference:     tx.GatewayReference,
	}}
	for _, seller := range sellerOrder {
		events = append(events, notify.Event{
			Party:         notify.PartySeller,
			AccountID:     seller,
			Template:      notify.TemplateSaleCredited,
			Amount:        sellerTotals[seller],
			Currency:      s.cfg.Currency,
			OrderID:       orderID,
			TransactionID: transactionID,
		})
	}
	var sellersTotal int64
	for _, share := range sellerTotals {
		sellersTotal += share
	}
	events = append(events, notify.Event{
		Party:         notify.PartyPlatform,
		AccountID:     platform,
		Template:      notify.TemplateCommissionEarned,
		Amount:        tx.TotalAmount - sellersTotal - ev.Fee,
		Currency:      s.cfg.Currency,
		OrderID:       orderID,
		TransactionID: transactionID,
		Reference:     tx.GatewayReference,
	})
	return events, nil
}

// applyFailure rolls back an unpaid initiation: stock and pending-order
// counters are restored and the order is unlinked so it can be paid again.
// It only touches what exists, so half-initialised push rows are safe.
func (s *SettlementService) applyFailure(ctx context.Context, qtx repository.Querier, tx repository.Transaction, ev ConfirmEvent, res *ConfirmResult) ([]notify.Event, error) {
	res.Status = tx.Status
	switch tx.Status {
	case domain.TxStatusFailed, domain.TxStatusReversed:
		res.Branch = BranchDuplicate
		res.Message = "failure already applied"
		return nil, nil
	case domain.TxStatusCompleted:
		zap.L().Warn("failure reported for a completed transaction; ignored",
			zap.String("transaction_id", repository.FromPgUUID(tx.ID).String()),
		)
		res.Branch = BranchDuplicate
		res.Message = "payment already confirmed"
		return nil, nil
	}

	order, err := qtx.GetOrderForUpdate(ctx, tx.OrderID)
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if order.Status != domain.OrderStatusPaid {
		items, err := qtx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("list order items: %w", err)
		}
		if err := s.adjustReservation(ctx, qtx, order, items, 1); err != nil {
			return nil, err
		}
		if order.Status != domain.OrderStatusPending {
			if _, err := qtx.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{ID: order.ID, Status: domain.OrderStatusPending}); err != nil {
				return nil, fmt.Errorf("reset order status: %w", err)
			}
		}
	}
	if _, err := qtx.UnlinkOrderTransaction(ctx, repository.UnlinkOrderTransactionParams{ID: order.ID, TransactionID: tx.ID}); err != nil {
		return nil, fmt.Errorf("unlink order transaction: %w", err)
	}

	reason, _ := marshalReasonMetadata(ev.Reason)
	if err := transitionTransactionState(ctx, qtx, s.audit, repository.FromPgUUID(tx.ID), domain.TxStatusFailed, nil, "payment_failed", reason); err != nil {
		return nil, err
	}

	res.Branch = BranchFailure
	res.Status = domain.TxStatusFailed
	return []notify.Event{{
		Party:         notify.PartyBuyer,
		AccountID:     repository.FromPgUUID(order.CustomerID),
		Template:      notify.TemplatePaymentFailed,
		Amount:        tx.TotalAmount,
		Currency:      s.cfg.Currency,
		OrderID:       repository.FromPgUUID(order.ID),
		TransactionID: repository.FromPgUUID(tx.ID),
		Reference:     tx.GatewayReference,
	}}, nil
}

// applyReversal claws back a completed payment: every item not yet debited
// for a refund is refunded in full, and the delivery fee is returned.
func (s *SettlementService) applyReversal(ctx context.Context, qtx repository.Querier, tx repository.Transaction, ev ConfirmEvent, res *ConfirmResult) ([]notify.Event, error) {
	res.Status = tx.Status
	switch tx.Status {
	case domain.TxStatusReversed, domain.TxStatusFailed:
		res.Branch = BranchDuplicate
		res.Message = "reversal already applied"
		return nil, nil
	case domain.TxStatusPending, domain.TxStatusGatewayInitiated:
		return s.applyFailure(ctx, qtx, tx, ev, res)
	}

	order, err := qtx.GetOrderForUpdate(ctx, tx.OrderID)
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	items, err := qtx.ListTransactionItems(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("list transaction items: %w", err)
	}

	j := newJournal(tx.PaymentMethod, domain.EntryStatusPosted).forTransaction(tx)
	var refunded, commission int64
	sellerDebits := make(map[uuid.UUID]int64)
	var sellerOrder []uuid.UUID
	for _, item := range items {
		if refundDebited(tx, item) {
			continue
		}
		s.postItemRefund(j, item)
		if err := setItemRefund(ctx, qtx, item, domain.RefundCompleted, "reversal:"+ev.Reference); err != nil {
			return nil, err
		}
		refunded += item.ItemAmount
		commission += item.PlatformCommission
		seller := repository.FromPgUUID(item.SellerID)
		if _, ok := sellerDebits[seller]; !ok {
			sellerOrder = append(sellerOrder, seller)
		}
		sellerDebits[seller] += item.SellerShare
	}
	j.post(s.cfg.PlatformAccountID, -tx.DeliveryFee, domain.EntryDeliveryReversal, uuid.Nil)
	j.post(s.cfg.ClearingAccountID, tx.DeliveryFee, domain.EntryDeliveryReversal, uuid.Nil)
	if err := j.commit(ctx, qtx); err != nil {
		return nil, err
	}

	reason, _ := marshalReasonMetadata(ev.Reason)
	if err := transitionTransactionState(ctx, qtx, s.audit, repository.FromPgUUID(tx.ID), domain.TxStatusReversed, nil, "payment_reversed", reason); err != nil {
		return nil, err
	}

	res.Branch = BranchReversal
	res.Status = domain.TxStatusReversed
	orderID, transactionID := repository.FromPgUUID(order.ID), repository.FromPgUUID(tx.ID)
	events := []notify.Event{{
		Party:         notify.PartyBuyer,
		AccountID:     repository.FromPgUUID(order.CustomerID),
		Template:      notify.TemplatePaymentReversed,
		Amount:        refunded + tx.DeliveryFee,
		Currency:      s.cfg.Currency,
		OrderID:       orderID,
		TransactionID: transactionID,
		Reference:     tx.GatewayReference,
	}}
	for _, seller := range sellerOrder {
		events = append(events, notify.Event{
			Party:         notify.PartySeller,
			AccountID:     seller,
			Template:      notify.TemplateSaleReversed,
			Amount:        sellerDebits[seller],
			Currency:      s.cfg.Currency,
			OrderID:       orderID,
			TransactionID: transactionID,
			Reference:     tx.GatewayReference,
		})
	}
	events = append(events, notify.Event{
		Party:         notify.PartyPlatform,
		AccountID:     s.cfg.PlatformAccountID,
		Template:      notify.TemplatePaymentReversed,
		Amount:        commission + tx.DeliveryFee,
		Currency:      s.cfg.Currency,
		OrderID:       orderID,
		TransactionID: transactionID,
		Reference:     tx.GatewayReference,
	})
	return events, nil
}

// applyRefundEvent settles a gateway refund requested earlier. A failed
// refund stays pending for an operator; refund status never moves back.
func (s *SettlementService) applyRefundEvent(ctx context.Context, qtx repository.Querier, tx repository.Transaction, ev ConfirmEvent, res *ConfirmResult) ([]notify.Event, error) {
	if ev.ItemID == uuid.Nil {
		return nil, fmt.Errorf("%w: refund event without item", ErrInvalidPayload)
	}
	item, err := qtx.GetTransactionItemForUpdate(ctx, repository.GetTransactionItemParams{
		TransactionID: tx.ID,
		ItemID:        repository.ToPgUUID(ev.ItemID),
	})
	if err != nil {
		if repository.IsNotFound(err) {
			res.Branch = BranchNotFound
			res.Message = "no such item on transaction"
			return nil, nil
		}
		return nil, fmt.Errorf("lock transaction item: %w", err)
	}

	res.Status = item.RefundStatus
	if item.RefundStatus == domain.RefundCompleted || item.RefundStatus == domain.RefundReturned {
		res.Branch = BranchDuplicate
		res.Message = "refund already settled"
		return nil, nil
	}
	if tx.Status != domain.TxStatusCompleted {
		return nil, fmt.Errorf("%w: refund on %s transaction", ErrTransactionNotSettled, tx.Status)
	}

	if ev.RefundFailed {
		zap.L().Error("gateway refund failed; needs manual follow-up",
			zap.String("transaction_id", repository.FromPgUUID(tx.ID).String()),
			zap.String("item_id", ev.ItemID.String()),
			zap.String("refund_id", ev.RefundID),
		)
		if err := s.audit.Write(ctx, qtx, entityTransactionItem, ev.ItemID, nil, "refund_failed", item.RefundStatus, item.RefundStatus,
			marshalMetadata(map[string]any{"refund_id": ev.RefundID, "reason": ev.Reason})); err != nil {
			return nil, err
		}
		res.Branch = BranchRefund
		res.Message = "refund failed at gateway"
		return nil, nil
	}

	j := newJournal(tx.PaymentMethod, domain.EntryStatusPosted).forTransaction(tx)
	s.postItemRefund(j, item)
	if err := j.commit(ctx, qtx); err != nil {
		return nil, err
	}
	if err := setItemRefund(ctx, qtx, item, domain.RefundCompleted, ev.RefundID); err != nil {
		return nil, err
	}
	if err := s.audit.Write(ctx, qtx, entityTransactionItem, ev.ItemID, nil, "refund_completed", item.RefundStatus, domain.RefundCompleted,
		marshalMetadata(map[string]any{"refund_id": ev.RefundID})); err != nil {
		return nil, err
	}

	order, err := qtx.GetOrder(ctx, tx.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	res.Branch = BranchRefund
	res.Status = domain.RefundCompleted
	events := []notify.Event{{
		Party:         notify.PartyBuyer,
		AccountID:     repository.FromPgUUID(order.CustomerID),
		Template:      notify.TemplateRefundCompleted,
		Amount:        item.ItemAmount,
		Currency:      s.cfg.Currency,
		OrderID:       repository.FromPgUUID(order.ID),
		TransactionID: repository.FromPgUUID(tx.ID),
		Reference:     ev.RefundID,
	}}
	return append(events, s.refundDebitEvents(tx, item, notify.TemplateCommissionRefunded, ev.RefundID)...), nil
}

// postItemRefund returns an item's full amount to the buyer: the seller gives
// back its share and the platform its commission.
func (s *SettlementService) postItemRefund(j *journal, item repository.TransactionItem) {
	itemID := repository.FromPgUUID(item.ItemID)
	j.post(repository.FromPgUUID(item.SellerID), -item.SellerShare, domain.EntryRefund, itemID)
	j.post(s.cfg.PlatformAccountID, -item.PlatformCommission, domain.EntryRefundCommission, itemID)
	j.post(s.cfg.ClearingAccountID, item.ItemAmount, domain.EntryRefundPaid, itemID)
}

// refundDebited reports whether the item's refund has already hit the
// ledger. Manual refunds are debited when they are opened, gateway refunds
// when the gateway confirms them.
func refundDebited(tx repository.Transaction, item repository.TransactionItem) bool {
	switch item.RefundStatus {
	case domain.RefundCompleted, domain.RefundReturned:
		return true
	case domain.RefundPending:
		return tx.PaymentMethod == domain.MethodPush
	}
	return false
}

var gatewayLocation = time.FixedZone("EAT", 3*60*60)

// parsePaidAt accepts a 14-digit YYYYMMDDHHMMSS stamp in gateway local time,
// RFC 3339 or unix seconds, falling back to now.
func parsePaidAt(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC()
	}
	if len(raw) == 14 {
		if t, err := time.ParseInLocation("20060102150405", raw, gatewayLocation); err == nil {
			return t.UTC()
		}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return now.UTC()
}
