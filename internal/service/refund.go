package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/notify"
	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// RefundRequest refunds one item of a settled transaction in full.
type RefundRequest struct {
	TransactionID uuid.UUID
	ItemID        uuid.UUID
	Reason        string
	ActorID       *uuid.UUID
}

type RefundResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ItemID        uuid.UUID `json:"item_id"`
	Amount        int64     `json:"amount"`
	RefundStatus  string    `json:"refund_status"`
	ReturnStatus  string    `json:"return_status"`
	Reference     string    `json:"reference,omitempty"`
	Message       string    `json:"message,omitempty"`
}

func newRefundResult(item repository.TransactionItem) *RefundResult {
	return &RefundResult{
		TransactionID: repository.FromPgUUID(item.TransactionID),
		ItemID:        repository.FromPgUUID(item.ItemID),
		Amount:        item.ItemAmount,
		RefundStatus:  item.RefundStatus,
		ReturnStatus:  item.ReturnStatus,
		Reference:     repository.StringValue(item.RefundReference),
	}
}

// RefundItem refunds an item. Split payments go back through the gateway and
// hit the ledger once the gateway confirms. Push payments are refunded by an
// operator, so the ledger is debited now and the entries stay pending_offline
// until CompleteManualRefund. Refunding an item twice returns its current state.
func (s *SettlementService) RefundItem(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	tx, item, err := s.loadRefundable(ctx, req.TransactionID, req.ItemID)
	if err != nil {
		return nil, err
	}
	if item.RefundStatus != domain.RefundNone {
		res := newRefundResult(item)
		res.Message = "refund already requested"
		return res, nil
	}

	if tx.PaymentMethod == domain.MethodPush {
		return s.refundOffline(ctx, req)
	}

	if s.split == nil {
		return nil, validationError("split payments are not enabled")
	}
	start := time.Now()
	resp, err := s.split.Refund(ctx, gateway.RefundRequest{
		PaymentID:      repository.StringValue(tx.PaymentID),
		Amount:         item.ItemAmount,
		TransactionID:  req.TransactionID.String(),
		ItemID:         req.ItemID.String(),
		IdempotencyKey: fmt.Sprintf("refund-%s-%s", req.TransactionID, req.ItemID),
	})
	observability.ObserveGatewayCall(domain.MethodSplit, "refund", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("gateway refund: %w", err)
	}

	var (
		res    *RefundResult
		events []notify.Event
	)
	err = s.units.run(ctx, "refund", func(ctx context.Context, qtx repository.Querier) error {
		res, events = nil, nil
		tx, item, err := lockRefundable(ctx, qtx, req.TransactionID, req.ItemID)
		if err != nil {
			return err
		}
		if item.RefundStatus != domain.RefundNone {
			res = newRefundResult(item)
			res.Message = "refund already requested"
			return nil
		}

		next := domain.RefundPending
		template := notify.TemplateRefundInitiated
		if resp.Status == gateway.RefundProcessed {
			next = domain.RefundCompleted
			template = notify.TemplateRefundCompleted
			j := newJournal(tx.PaymentMethod, domain.EntryStatusPosted).forTransaction(tx)
			s.postItemRefund(j, item)
			if err := j.commit(ctx, qtx); err != nil {
				return err
			}
		}
		if err := setItemRefund(ctx, qtx, item, next, resp.RefundID); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, entityTransactionItem, req.ItemID, req.ActorID, "refund_requested", item.RefundStatus, next,
			marshalMetadata(map[string]any{"refund_id": resp.RefundID, "reason": req.Reason})); err != nil {
			return err
		}

		item.RefundStatus = next
		item.RefundReference = repository.StringPtr(resp.RefundID)
		res = newRefundResult(item)
		event, err := s.buyerEvent(ctx, qtx, tx, template, item.ItemAmount, resp.RefundID)
		if err != nil {
			return err
		}
		events = []notify.Event{event}
		if next == domain.RefundCompleted {
			events = append(events, s.refundDebitEvents(tx, item, notify.TemplateCommissionRefunded, resp.RefundID)...)
		}
		return nil
	})
	if err != nil {
		zap.L().Error("gateway refund accepted but not recorded",
			zap.Error(err),
			zap.String("transaction_id", req.TransactionID.String()),
			zap.String("item_id", req.ItemID.String()),
			zap.String("refund_id", resp.RefundID),
		)
		return nil, err
	}
	s.notifier.Dispatch(events...)
	return res, nil
}

func (s *SettlementService) refundOffline(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var (
		res    *RefundResult
		events []notify.Event
	)
	err := s.units.run(ctx, "refund", func(ctx context.Context, qtx repository.Querier) error {
		res, events = nil, nil
		tx, item, err := lockRefundable(ctx, qtx, req.TransactionID, req.ItemID)
		if err != nil {
			return err
		}
		if item.RefundStatus != domain.RefundNone {
			res = newRefundResult(item)
			res.Message = "refund already requested"
			return nil
		}

		j := newJournal(tx.PaymentMethod, domain.EntryStatusPending).forTransaction(tx)
		s.postItemRefund(j, item)
		if err := j.commit(ctx, qtx); err != nil {
			return err
		}
		if err := setItemRefund(ctx, qtx, item, domain.RefundPending, ""); err != nil {
			return err
		}
		reason, _ := marshalReasonMetadata(req.Reason)
		if err := s.audit.Write(ctx, qtx, entityTransactionItem, req.ItemID, req.ActorID, "refund_requested", item.RefundStatus, domain.RefundPending, reason); err != nil {
			return err
		}

		item.RefundStatus = domain.RefundPending
		res = newRefundResult(item)
		res.Message = "refund must be sent manually"
		event, err := s.buyerEvent(ctx, qtx, tx, notify.TemplateRefundOffline, item.ItemAmount, "")
		if err != nil {
			return err
		}
		// The platform account is told to send the money out of band.
		events = append([]notify.Event{event}, s.refundDebitEvents(tx, item, notify.TemplateRefundOffline, "")...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(events...)
	return res, nil
}

// CompleteManualRefund records that an operator sent a push refund. The
// ledger already carries the debit.
func (s *SettlementService) CompleteManualRefund(ctx context.Context, transactionID, itemID uuid.UUID, reference string, actorID *uuid.UUID) (*RefundResult, error) {
	var (
		res    *RefundResult
		events []notify.Event
	)
	err := s.units.run(ctx, "refund_manual", func(ctx context.Context, qtx repository.Querier) error {
		res, events = nil, nil
		tx, item, err := lockItem(ctx, qtx, transactionID, itemID)
		if err != nil {
			return err
		}
		if tx.PaymentMethod != domain.MethodPush || item.RefundStatus != domain.RefundPending {
			return ErrRefundNotPending
		}
		if err := setItemRefund(ctx, qtx, item, domain.RefundCompleted, reference); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, entityTransactionItem, itemID, actorID, "refund_completed", item.RefundStatus, domain.RefundCompleted,
			marshalMetadata(map[string]any{"reference": reference})); err != nil {
			return err
		}

		item.RefundStatus = domain.RefundCompleted
		item.RefundReference = repository.StringPtr(reference)
		res = newRefundResult(item)
		event, err := s.buyerEvent(ctx, qtx, tx, notify.TemplateRefundCompleted, item.ItemAmount, reference)
		if err != nil {
			return err
		}
		events = []notify.Event{event}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(events...)
	return res, nil
}

// RequestReturn opens a return for a delivered item of a settled payment.
func (s *SettlementService) RequestReturn(ctx context.Context, transactionID, itemID uuid.UUID, reason string, actorID *uuid.UUID) (*RefundResult, error) {
	var res *RefundResult
	err := s.units.run(ctx, "return_request", func(ctx context.Context, qtx repository.Querier) error {
		res = nil
		tx, item, err := lockItem(ctx, qtx, transactionID, itemID)
		if err != nil {
			return err
		}
		if tx.Status != domain.TxStatusCompleted {
			return ErrTransactionNotSettled
		}
		if item.ReturnStatus == domain.ReturnPending {
			res = newRefundResult(item)
			res.Message = "return already requested"
			return nil
		}
		if item.ReturnStatus != domain.ReturnNone || item.RefundStatus != domain.RefundNone {
			return ErrReturnNotAllowed
		}
		if err := checkNotInPayout(item); err != nil {
			return err
		}
		line, err := qtx.GetOrderItem(ctx, item.ItemID)
		if err != nil {
			return fmt.Errorf("get order item: %w", err)
		}
		if line.Status != domain.ItemStatusDelivered {
			return fmt.Errorf("%w: item is %s", ErrReturnNotAllowed, line.Status)
		}

		if err := setItemReturn(ctx, qtx, item, domain.ReturnPending); err != nil {
			return err
		}
		meta, _ := marshalReasonMetadata(reason)
		if err := s.audit.Write(ctx, qtx, entityTransactionItem, itemID, actorID, "return_requested", item.ReturnStatus, domain.ReturnPending, meta); err != nil {
			return err
		}
		item.ReturnStatus = domain.ReturnPending
		res = newRefundResult(item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ResolveReturn approves or rejects a pending return. Approval refunds the
// item in full, through the gateway for split payments.
func (s *SettlementService) ResolveReturn(ctx context.Context, transactionID, itemID uuid.UUID, approve bool, actorID *uuid.UUID) (*RefundResult, error) {
	if !approve {
		return s.rejectReturn(ctx, transactionID, itemID, actorID)
	}

	q := s.store.Queries()
	tx, err := q.GetTransaction(ctx, repository.ToPgUUID(transactionID))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	item, err := findItem(ctx, q, tx.ID, itemID)
	if err != nil {
		return nil, err
	}
	if item.ReturnStatus == domain.ReturnConfirmed {
		return newRefundResult(item), nil
	}
	if item.ReturnStatus != domain.ReturnPending {
		return nil, fmt.Errorf("%w: return is %s", ErrReturnNotAllowed, item.ReturnStatus)
	}

	var refundID string
	entryStatus := domain.EntryStatusPending
	template := notify.TemplateRefundOffline
	if tx.PaymentMethod == domain.MethodSplit {
		if s.split == nil {
			return nil, validationError("split payments are not enabled")
		}
		start := time.Now()
		resp, err := s.split.Refund(ctx, gateway.RefundRequest{
			PaymentID:      repository.StringValue(tx.PaymentID),
			Amount:         item.ItemAmount,
			TransactionID:  transactionID.String(),
			ItemID:         itemID.String(),
			IdempotencyKey: fmt.Sprintf("return-%s-%s", transactionID, itemID),
		})
		observability.ObserveGatewayCall(domain.MethodSplit, "refund", err, time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("gateway refund: %w", err)
		}
		refundID = resp.RefundID
		entryStatus = domain.EntryStatusPosted
		template = notify.TemplateRefundCompleted
	}

	var (
		res    *RefundResult
		events []notify.Event
	)
	err = s.units.run(ctx, "return_confirm", func(ctx context.Context, qtx repository.Querier) error {
		res, events = nil, nil
		tx, item, err := lockItem(ctx, qtx, transactionID, itemID)
		if err != nil {
			return err
		}
		if item.ReturnStatus == domain.ReturnConfirmed {
			res = newRefundResult(item)
			return nil
		}
		if item.ReturnStatus != domain.ReturnPending || tx.Status != domain.TxStatusCompleted {
			return ErrReturnNotAllowed
		}
		if err := checkRefundBudget(ctx, qtx, tx, item); err != nil {
			return err
		}

		j := newJournal(tx.PaymentMethod, entryStatus).forTransaction(tx)
		s.postItemRefund(j, item)
		if err := j.commit(ctx, qtx); err != nil {
			return err
		}
		if err := setItemReturn(ctx, qtx, item, domain.ReturnConfirmed); err != nil {
			return err
		}
		if err := setItemRefund(ctx, qtx, item, domain.RefundReturned, refundID); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, entityTransactionItem, itemID, actorID, "return_confirmed", item.ReturnStatus, domain.ReturnConfirmed,
			marshalMetadata(map[string]any{"refund_id": refundID})); err != nil {
			return err
		}

		item.ReturnStatus = domain.ReturnConfirmed
		item.RefundStatus = domain.RefundReturned
		item.RefundReference = repository.StringPtr(refundID)
		res = newRefundResult(item)
		event, err := s.buyerEvent(ctx, qtx, tx, template, item.ItemAmount, refundID)
		if err != nil {
			return err
		}
		platformTemplate := notify.TemplateCommissionRefunded
		if tx.PaymentMethod == domain.MethodPush {
			platformTemplate = notify.TemplateRefundOffline
		}
		events = append([]notify.Event{event}, s.refundDebitEvents(tx, item, platformTemplate, refundID)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(events...)
	return res, nil
}

func (s *SettlementService) rejectReturn(ctx context.Context, transactionID, itemID uuid.UUID, actorID *uuid.UUID) (*RefundResult, error) {
	var res *RefundResult
	err := s.units.run(ctx, "return_reject", func(ctx context.Context, qtx repository.Querier) error {
		res = nil
		_, item, err := lockItem(ctx, qtx, transactionID, itemID)
		if err != nil {
			return err
		}
		if item.ReturnStatus == domain.ReturnRejected {
			res = newRefundResult(item)
			return nil
		}
		if err := setItemReturn(ctx, qtx, item, domain.ReturnRejected); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				return fmt.Errorf("%w: return is %s", ErrReturnNotAllowed, item.ReturnStatus)
			}
			return err
		}
		if err := s.audit.Write(ctx, qtx, entityTransactionItem, itemID, actorID, "return_rejected", item.ReturnStatus, domain.ReturnRejected, nil); err != nil {
			return err
		}
		item.ReturnStatus = domain.ReturnRejected
		res = newRefundResult(item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// loadRefundable reads the transaction and item outside any unit so the
// gateway can be called without holding locks.
func (s *SettlementService) loadRefundable(ctx context.Context, transactionID, itemID uuid.UUID) (repository.Transaction, repository.TransactionItem, error) {
	q := s.store.Queries()
	tx, err := q.GetTransaction(ctx, repository.ToPgUUID(transactionID))
	if err != nil {
		if repository.IsNotFound(err) {
			return tx, repository.TransactionItem{}, ErrTransactionNotFound
		}
		return tx, repository.TransactionItem{}, fmt.Errorf("get transaction: %w", err)
	}
	item, err := findItem(ctx, q, tx.ID, itemID)
	if err != nil {
		return tx, item, err
	}
	if item.RefundStatus != domain.RefundNone {
		return tx, item, nil
	}
	if err := checkRefundable(tx, item); err != nil {
		return tx, item, err
	}
	items, err := q.ListTransactionItems(ctx, tx.ID)
	if err != nil {
		return tx, item, fmt.Errorf("list transaction items: %w", err)
	}
	return tx, item, refundBudget(tx, items, item)
}

func lockRefundable(ctx context.Context, qtx repository.Querier, transactionID, itemID uuid.UUID) (repository.Transaction, repository.TransactionItem, error) {
	tx, item, err := lockItem(ctx, qtx, transactionID, itemID)
	if err != nil {
		return tx, item, err
	}
	if item.RefundStatus != domain.RefundNone {
		return tx, item, nil
	}
	if err := checkRefundable(tx, item); err != nil {
		return tx, item, err
	}
	return tx, item, checkRefundBudget(ctx, qtx, tx, item)
}

func checkRefundable(tx repository.Transaction, item repository.TransactionItem) error {
	if tx.Status != domain.TxStatusCompleted {
		return fmt.Errorf("%w: transaction is %s", ErrTransactionNotSettled, tx.Status)
	}
	if item.ReturnStatus == domain.ReturnPending {
		return fmt.Errorf("%w: a return is open for this item", ErrReturnNotAllowed)
	}
	return checkNotInPayout(item)
}

// checkNotInPayout refuses items claimed by a payout that has not finished.
func checkNotInPayout(item repository.TransactionItem) error {
	if item.PayoutID.Valid && item.PayoutStatus != domain.PayoutItemTransferred {
		return ErrPayoutInProgress
	}
	return nil
}

func checkRefundBudget(ctx context.Context, qtx repository.Querier, tx repository.Transaction, item repository.TransactionItem) error {
	items, err := qtx.ListTransactionItems(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("list transaction items: %w", err)
	}
	return refundBudget(tx, items, item)
}

// refundBudget keeps the sum of refunds within what the buyer paid.
func refundBudget(tx repository.Transaction, items []repository.TransactionItem, item repository.TransactionItem) error {
	var refunded int64
	for _, other := range items {
		if other.ItemID == item.ItemID {
			continue
		}
		refunded += other.RefundedAmount
	}
	if refunded+item.ItemAmount > tx.TotalAmount {
		return fmt.Errorf("%w: %d already refunded of %d", ErrRefundExceedsTotal, refunded, tx.TotalAmount)
	}
	return nil
}

func lockItem(ctx context.Context, qtx repository.Querier, transactionID, itemID uuid.UUID) (repository.Transaction, repository.TransactionItem, error) {
	tx, err := qtx.GetTransactionForUpdate(ctx, repository.ToPgUUID(transactionID))
	if err != nil {
		if repository.IsNotFound(err) {
			return tx, repository.TransactionItem{}, ErrTransactionNotFound
		}
		return tx, repository.TransactionItem{}, fmt.Errorf("lock transaction: %w", err)
	}
	item, err := qtx.GetTransactionItemForUpdate(ctx, repository.GetTransactionItemParams{
		TransactionID: tx.ID,
		ItemID:        repository.ToPgUUID(itemID),
	})
	if err != nil {
		if repository.IsNotFound(err) {
			return tx, item, ErrItemNotFound
		}
		return tx, item, fmt.Errorf("lock transaction item: %w", err)
	}
	return tx, item, nil
}

func findItem(ctx context.Context, q repository.Querier, transactionID pgtype.UUID, itemID uuid.UUID) (repository.TransactionItem, error) {
	items, err := q.ListTransactionItems(ctx, transactionID)
	if err != nil {
		return repository.TransactionItem{}, fmt.Errorf("list transaction items: %w", err)
	}
	for _, item := range items {
		if repository.FromPgUUID(item.ItemID) == itemID {
			return item, nil
		}
	}
	return repository.TransactionItem{}, ErrItemNotFound
}

func (s *SettlementService) buyerEvent(ctx context.Context, qtx repository.Querier, tx repository.Transaction, template string, amount int64, reference string) (notify.Event, error) {
	order, err := qtx.GetOrder(ctx, tx.OrderID)
	if err != nil {
		return notify.Event{}, fmt.Errorf("get order: %w", err)
	}
	return notify.Event{
		Party:         notify.PartyBuyer,
		AccountID:     repository.FromPgUUID(order.CustomerID),
		Template:      template,
		Amount:        amount,
		Currency:      s.cfg.Currency,
		OrderID:       repository.FromPgUUID(order.ID),
		TransactionID: repository.FromPgUUID(tx.ID),
		Reference:     reference,
	}, nil
}

// refundDebitEvents tells the seller and the platform what an item refund
// took from their balances.
func (s *SettlementService) refundDebitEvents(tx repository.Transaction, item repository.TransactionItem, platformTemplate, reference string) []notify.Event {
	orderID, transactionID := repository.FromPgUUID(tx.OrderID), repository.FromPgUUID(tx.ID)
	return []notify.Event{{
		Party:         notify.PartySeller,
		AccountID:     repository.FromPgUUID(item.SellerID),
		Template:      notify.TemplateSaleRefunded,
		Amount:        item.SellerShare,
		Currency:      s.cfg.Currency,
		OrderID:       orderID,
		TransactionID: transactionID,
		Reference:     reference,
	}, {
		Party:         notify.PartyPlatform,
		AccountID:     s.cfg.PlatformAccountID,
		Template:      platformTemplate,
		Amount:        item.PlatformCommission,
		Currency:      s.cfg.Currency,
		OrderID:       orderID,
		TransactionID: transactionID,
		Reference:     reference,
	}}
}
