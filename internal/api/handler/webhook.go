package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/ayo6706/marketplace-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives gateway callbacks.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

type confirmFunc func(r *http.Request, body []byte, signature string) (*service.ConfirmResult, error)

// HandleSplitWebhook handles POST /v1/webhooks/split.
func (h *WebhookHandler) HandleSplitWebhook(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.MethodSplit, "X-Razorpay-Signature", func(r *http.Request, body []byte, sig string) (*service.ConfirmResult, error) {
		return h.webhookSvc.HandleSplitWebhook(r.Context(), body, sig)
	})
}

// HandlePushWebhook handles POST /v1/webhooks/push.
func (h *WebhookHandler) HandlePushWebhook(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.MethodPush, "X-Signature", func(r *http.Request, body []byte, sig string) (*service.ConfirmResult, error) {
		return h.webhookSvc.HandlePushWebhook(r.Context(), body, sig)
	})
}

// handle acknowledges every event the gateway should not redeliver.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, gw, sigHeader string, confirm confirmFunc) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	res, err := confirm(r, body, r.Header.Get(sigHeader))
	switch {
	case err == nil:
		RespondJSON(w, http.StatusOK, res)
	case errors.Is(err, service.ErrInvalidSignature):
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
	case errors.Is(err, service.ErrInvalidPayload), errors.Is(err, service.ErrUnknownEvent):
		observability.IncrementWebhook(gw, "rejected_payload")
		RespondError(w, r, http.StatusBadRequest, "webhook/invalid-payload", err.Error())
	default:
		m, known := classify(err)
		if !known || m.status >= http.StatusInternalServerError {
			respondServiceError(w, r, gw+" webhook", err)
			return
		}
		// Business rejections are acknowledged.
		zap.L().Warn("webhook rejected", zap.String("gateway", gw), zap.Error(err))
		observability.IncrementWebhook(gw, "rejected")
		RespondJSON(w, http.StatusOK, map[string]string{
			"branch":  "rejected",
			"error":   m.problemType,
			"message": err.Error(),
		})
	}
}

// VerifyTransaction handles POST /v1/transactions/{reference}/verify.
func (h *WebhookHandler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	res, err := h.webhookSvc.VerifyTransaction(r.Context(), reference)
	if err != nil {
		respondServiceError(w, r, "verify transaction", err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
