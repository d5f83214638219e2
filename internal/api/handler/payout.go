package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/marketplace-settlement/internal/service"
	"go.uber.org/zap"
)

// PayoutHandler handles HTTP requests for payouts. Every route is admin only.
type PayoutHandler struct {
	payoutSvc *service.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler instance.
func NewPayoutHandler(payoutSvc *service.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc}
}

type createPayoutBody struct {
	SellerID string `json:"seller_id"`
	Method   string `json:"method"`
}

// CreatePayout handles POST /v1/payouts. Transfer payouts are sent before the
// response; manual payouts come back processing until resolved.
func (h *PayoutHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	var body createPayoutBody
	if !decodeJSON(w, r, &body) {
		return
	}
	sellerID, ok := parseUUIDField(w, r, body.SellerID, "seller_id")
	if !ok {
		return
	}

	payout, err := h.payoutSvc.RequestPayout(r.Context(), service.RequestPayoutRequest{
		SellerID: sellerID,
		Method:   body.Method,
		ActorID:  &actorID,
	})
	if err != nil {
		respondServiceError(w, r, "create payout", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, payout)
}

// GetPayout handles GET /v1/payouts/{id}.
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	payoutID, ok := uuidParam(w, r, "id", "payout id")
	if !ok {
		return
	}
	payout, err := h.payoutSvc.GetPayout(r.Context(), payoutID)
	if err != nil {
		respondServiceError(w, r, "get payout", err)
		return
	}
	RespondJSON(w, http.StatusOK, payout)
}

// ListManualReviewPayouts handles GET /v1/payouts/manual-review.
func (h *PayoutHandler) ListManualReviewPayouts(w http.ResponseWriter, r *http.Request) {
	limit := int32(50)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return
		}
		limit = int32(parsed)
	}

	payouts, err := h.payoutSvc.ListManualReviewPayouts(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, "list manual review payouts", err)
		return
	}
	total, err := h.payoutSvc.ManualReviewQueueSize(r.Context())
	if err != nil {
		zap.L().Warn("failed to compute manual review queue size", zap.Error(err))
		total = int64(len(payouts))
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":       payouts,
		"limit":       limit,
		"count":       len(payouts),
		"total_count": total,
	})
}

type resolveManualReviewBody struct {
	Decision   string  `json:"decision"`
	Reason     string  `json:"reason"`
	GatewayRef *string `json:"gateway_ref,omitempty"`
}

// ResolveManualReviewPayout handles POST /v1/payouts/{id}/resolve.
func (h *PayoutHandler) ResolveManualReviewPayout(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	payoutID, ok := uuidParam(w, r, "id", "payout id")
	if !ok {
		return
	}

	var body resolveManualReviewBody
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Decision = strings.TrimSpace(strings.ToLower(body.Decision))
	body.Reason = strings.TrimSpace(body.Reason)
	if body.Decision == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-decision", "decision is required")
		return
	}
	if body.Reason == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	result, err := h.payoutSvc.ResolveManualReviewPayout(r.Context(), service.ResolveManualReviewRequest{
		PayoutID:   payoutID,
		Decision:   service.ResolveManualReviewDecision(body.Decision),
		Reason:     body.Reason,
		ActorID:    &actorID,
		GatewayRef: body.GatewayRef,
	})
	if err != nil {
		respondServiceError(w, r, "resolve manual review payout", err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
