package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type transitions map[string]map[string]struct{}

func (t transitions) allows(current, next string) bool {
	nextStates, ok := t[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// Transaction status only moves forward, except the failure rollback out of
// gateway_initiated. A push charge may complete before its checkout
// reference is stored, hence pending -> completed.
var transactionTransitions = transitions{
	domain.TxStatusPending: {
		domain.TxStatusGatewayInitiated: {},
		domain.TxStatusCompleted:        {},
		domain.TxStatusFailed:           {},
	},
	domain.TxStatusGatewayInitiated: {
		domain.TxStatusCompleted: {},
		domain.TxStatusFailed:    {},
	},
	domain.TxStatusCompleted: {
		domain.TxStatusReversed: {},
	},
	domain.TxStatusFailed:   {},
	domain.TxStatusReversed: {},
}

var payoutItemTransitions = transitions{
	domain.PayoutItemManualPending: {
		domain.PayoutItemTransferred: {},
		domain.PayoutItemFailed:      {},
	},
	domain.PayoutItemPending: {
		domain.PayoutItemTransferred: {},
		domain.PayoutItemFailed:      {},
	},
}

// A refund that settles synchronously may skip pending.
var refundTransitions = transitions{
	domain.RefundNone: {
		domain.RefundPending:   {},
		domain.RefundCompleted: {},
		domain.RefundReturned:  {},
	},
	domain.RefundPending: {
		domain.RefundCompleted: {},
		domain.RefundReturned:  {},
	},
}

var returnTransitions = transitions{
	domain.ReturnNone: {
		domain.ReturnPending: {},
	},
	domain.ReturnPending: {
		domain.ReturnConfirmed: {},
		domain.ReturnRejected:  {},
	},
}

func canTransition(current, next string) bool {
	return transactionTransitions.allows(current, next)
}

func checkTransition(t transitions, kind, current, next string) error {
	if !t.allows(current, next) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, kind, current, next)
	}
	return nil
}

// transitionTransactionState locks the transaction, moves it to nextState
// and records the change. Moving to the current state is a no-op.
func transitionTransactionState(ctx context.Context, qtx repository.Querier, audit *AuditService, transactionID uuid.UUID, nextState string, actorID *uuid.UUID, action string, metadata []byte) error {
	current, err := qtx.GetTransactionForUpdate(ctx, repository.ToPgUUID(transactionID))
	if err != nil {
		return fmt.Errorf("get current transaction state: %w", err)
	}

	if current.Status == nextState {
		return nil
	}
	if !canTransition(current.Status, nextState) {
		return fmt.Errorf("%w: transaction %s -> %s", ErrInvalidTransition, current.Status, nextState)
	}

	rows, err := qtx.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
		Status: nextState,
		ID:     repository.ToPgUUID(transactionID),
	})
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}
	if err := requireExactlyOne(rows, "update transaction state"); err != nil {
		return err
	}

	return audit.Write(ctx, qtx, entityTransaction, transactionID, actorID, action, current.Status, nextState, metadata)
}

func setItemRefund(ctx context.Context, qtx repository.Querier, item repository.TransactionItem, next string, reference string) error {
	if err := checkTransition(refundTransitions, "refund", item.RefundStatus, next); err != nil {
		return err
	}
	rows, err := qtx.UpdateTransactionItemRefund(ctx, repository.UpdateTransactionItemRefundParams{
		TransactionID:   item.TransactionID,
		ItemID:          item.ItemID,
		RefundStatus:    next,
		RefundedAmount:  item.ItemAmount,
		RefundReference: repository.StringPtr(reference),
	})
	if err != nil {
		return fmt.Errorf("update item refund: %w", err)
	}
	return requireExactlyOne(rows, "update item refund")
}

func setItemReturn(ctx context.Context, qtx repository.Querier, item repository.TransactionItem, next string) error {
	if err := checkTransition(returnTransitions, "return", item.ReturnStatus, next); err != nil {
		return err
	}
	rows, err := qtx.UpdateTransactionItemReturn(ctx, repository.UpdateTransactionItemReturnParams{
		TransactionID: item.TransactionID,
		ItemID:        item.ItemID,
		ReturnStatus:  next,
	})
	if err != nil {
		return fmt.Errorf("update item return: %w", err)
	}
	return requireExactlyOne(rows, "update item return")
}
