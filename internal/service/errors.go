package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")

	ErrAccountNotFound     = errors.New("account not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrItemNotFound        = errors.New("order item not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrOrderNotPending       = errors.New("order is not awaiting payment")
	ErrSettlementInProgress  = errors.New("a settlement is already in progress for this order")
	ErrOutOfStock            = errors.New("insufficient stock")
	ErrInvalidItemStatus     = errors.New("invalid order item status change")
	ErrTransactionNotSettled = errors.New("transaction is not settled")
	ErrPaymentMismatch       = errors.New("gateway reported amount does not match the transaction")
	// ErrOutcomeUnknown means the gateway may have taken the request; the
	// transaction stays pending until a callback or expiry settles it.
	ErrOutcomeUnknown = errors.New("payment outcome unknown")

	ErrRefundExceedsTotal = errors.New("refunds would exceed the transaction total")
	ErrRefundNotPending   = errors.New("refund is not awaiting manual completion")
	ErrReturnNotAllowed   = errors.New("item cannot be returned")

	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrUnknownEvent     = errors.New("unknown webhook event")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
