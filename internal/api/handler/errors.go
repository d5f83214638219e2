package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/retry"
	"github.com/ayo6706/marketplace-settlement/internal/service"
	"go.uber.org/zap"
)

type errorMapping struct {
	err         error
	status      int
	problemType string
}

// Order matters: exhaustion wraps the last transient cause.
var serviceErrors = []errorMapping{
	{service.ErrOutcomeUnknown, http.StatusGatewayTimeout, "settlement/outcome-unknown"},
	{retry.ErrExhausted, http.StatusServiceUnavailable, "settlement/retry-exhausted"},
	{gateway.ErrUnavailable, http.StatusServiceUnavailable, "gateway/unavailable"},
	{gateway.ErrRejected, http.StatusUnprocessableEntity, "gateway/rejected"},

	{service.ErrValidation, http.StatusBadRequest, "request/validation"},
	{service.ErrInvalidManualReviewDecision, http.StatusBadRequest, "payout/invalid-decision"},

	{service.ErrAccountNotFound, http.StatusNotFound, "account/not-found"},
	{service.ErrProductNotFound, http.StatusNotFound, "product/not-found"},
	{service.ErrOrderNotFound, http.StatusNotFound, "order/not-found"},
	{service.ErrItemNotFound, http.StatusNotFound, "order/item-not-found"},
	{service.ErrTransactionNotFound, http.StatusNotFound, "transaction/not-found"},
	{service.ErrPayoutNotFound, http.StatusNotFound, "payout/not-found"},

	{service.ErrOrderNotPending, http.StatusConflict, "order/not-pending"},
	{service.ErrSettlementInProgress, http.StatusConflict, "settlement/in-progress"},
	{service.ErrInvalidItemStatus, http.StatusConflict, "order/invalid-item-status"},
	{service.ErrInvalidTransition, http.StatusConflict, "transaction/invalid-transition"},
	{service.ErrTransactionNotSettled, http.StatusConflict, "transaction/not-settled"},
	{service.ErrRefundNotPending, http.StatusConflict, "refund/not-pending"},
	{service.ErrReturnNotAllowed, http.StatusConflict, "return/not-allowed"},
	{service.ErrPayoutInProgress, http.StatusConflict, "payout/in-progress"},
	{service.ErrPayoutNotInManualReview, http.StatusConflict, "payout/not-in-manual-review"},

	{service.ErrOutOfStock, http.StatusUnprocessableEntity, "order/out-of-stock"},
	{service.ErrPaymentMismatch, http.StatusUnprocessableEntity, "settlement/payment-mismatch"},
	{service.ErrRefundExceedsTotal, http.StatusUnprocessableEntity, "refund/exceeds-total"},
	{service.ErrNothingToPayout, http.StatusUnprocessableEntity, "payout/nothing-payable"},
	{service.ErrInsufficientBalance, http.StatusUnprocessableEntity, "payout/insufficient-balance"},
}

// respondServiceError maps a service failure onto a problem document. Only
// unmapped errors are logged as failures of op.
func respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if m, ok := classify(err); ok {
		if m.status >= http.StatusInternalServerError {
			zap.L().Warn(op+" unavailable", zap.Error(err))
		}
		RespondError(w, r, m.status, m.problemType, err.Error())
		return
	}
	if status, pType, msg, ok := mapDBError(err); ok {
		RespondError(w, r, status, pType, msg)
		return
	}
	zap.L().Error(op+" failed", zap.Error(err))
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
}

func classify(err error) (errorMapping, bool) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			return m, true
		}
	}
	return errorMapping{}, false
}
