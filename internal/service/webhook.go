package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WebhookService authenticates and decodes gateway notifications and hands
// them to the settlement engine.
type WebhookService struct {
	settlement *SettlementService
	skipSig    bool
}

// NewWebhookService creates a new WebhookService. skipSignature is for local
// runs against the mock gateways only.
func NewWebhookService(settlement *SettlementService, skipSignature bool) *WebhookService {
	return &WebhookService{settlement: settlement, skipSig: skipSignature}
}

type splitEntity struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	PaymentID        string            `json:"payment_id"`
	Amount           int64             `json:"amount"`
	Fee              int64             `json:"fee"`
	Method           string            `json:"method"`
	Status           string            `json:"status"`
	CreatedAt        int64             `json:"created_at"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"notes"`
}

// splitWebhookPayload is the envelope the split gateway posts.
type splitWebhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity splitEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity splitEntity `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity splitEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// HandleSplitWebhook applies a signed split gateway event.
func (s *WebhookService) HandleSplitWebhook(ctx context.Context, payload []byte, signature string) (*ConfirmResult, error) {
	split := s.settlement.split
	if split == nil {
		return nil, validationError("split payments are not enabled")
	}
	if !s.skipSig && !split.VerifySignature(payload, signature) {
		observability.IncrementWebhook(domain.MethodSplit, "bad_signature")
		return nil, ErrInvalidSignature
	}

	ev, err := parseSplitEvent(payload)
	if err != nil {
		return nil, err
	}
	return s.settlement.Confirm(ctx, ev)
}

func parseSplitEvent(payload []byte) (ConfirmEvent, error) {
	var body splitWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return ConfirmEvent{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	ev := ConfirmEvent{Gateway: domain.MethodSplit}
	switch body.Event {
	case "payment.captured", "order.paid", "payment.failed", "payment.dispute.lost":
		if body.Payload.Payment == nil {
			return ConfirmEvent{}, fmt.Errorf("%w: %s without payment entity", ErrInvalidPayload, body.Event)
		}
		p := body.Payload.Payment.Entity
		ev.Reference = p.OrderID
		if ev.Reference == "" && body.Payload.Order != nil {
			ev.Reference = body.Payload.Order.Entity.ID
		}
		ev.AccountReference = p.Notes["transaction_id"]
		ev.Amount = p.Amount
		ev.Fee = p.Fee
		ev.PaymentID = p.ID
		ev.Channel = p.Method
		ev.Reason = p.ErrorDescription
		if p.CreatedAt > 0 {
			ev.PaidAt = strconv.FormatInt(p.CreatedAt, 10)
		}
		switch body.Event {
		case "payment.failed":
			ev.Kind = EventFailure
		case "payment.dispute.lost":
			ev.Kind = EventReversal
		default:
			ev.Kind = EventSuccess
		}
	case "refund.processed", "refund.failed":
		if body.Payload.Refund == nil {
			return ConfirmEvent{}, fmt.Errorf("%w: %s without refund entity", ErrInvalidPayload, body.Event)
		}
		r := body.Payload.Refund.Entity
		itemID, err := uuid.Parse(r.Notes["item_id"])
		if err != nil {
			return ConfirmEvent{}, fmt.Errorf("%w: refund without item id", ErrInvalidPayload)
		}
		ev.Kind = EventRefund
		ev.AccountReference = r.Notes["transaction_id"]
		ev.ItemID = itemID
		ev.RefundID = r.ID
		ev.RefundFailed = body.Event == "refund.failed"
		ev.Amount = r.Amount
		ev.Reason = r.ErrorDescription
	default:
		return ConfirmEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, body.Event)
	}
	return ev, nil
}

// pushWebhookPayload is the push gateway callback. Amounts are major units.
type pushWebhookPayload struct {
	TransactionID     string           `json:"transaction_id"`
	ExternalReference string           `json:"external_reference"`
	Status            string           `json:"status"`
	ResultCode        json.RawMessage  `json:"result_code"`
	ResultDesc        string           `json:"result_desc"`
	Timestamp         string           `json:"timestamp"`
	Amount            *decimal.Decimal `json:"amount"`
	Fee               *decimal.Decimal `json:"fee"`
	Receipt           string           `json:"receipt"`
	Channel           string           `json:"channel"`
}

// HandlePushWebhook applies a signed push gateway callback.
func (s *WebhookService) HandlePushWebhook(ctx context.Context, payload []byte, signature string) (*ConfirmResult, error) {
	push := s.settlement.push
	if push == nil {
		return nil, validationError("push payments are not enabled")
	}
	if !s.skipSig && !push.VerifySignature(payload, signature) {
		observability.IncrementWebhook(domain.MethodPush, "bad_signature")
		return nil, ErrInvalidSignature
	}

	ev, err := parsePushEvent(payload)
	if err != nil {
		return nil, err
	}
	return s.settlement.Confirm(ctx, ev)
}

func parsePushEvent(payload []byte) (ConfirmEvent, error) {
	var body pushWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return ConfirmEvent{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	ev := ConfirmEvent{
		Gateway:          domain.MethodPush,
		Reference:        body.TransactionID,
		AccountReference: body.ExternalReference,
		PaymentID:        body.Receipt,
		PaidAt:           body.Timestamp,
		Channel:          body.Channel,
		Reason:           body.ResultDesc,
	}
	if ev.Channel == "" {
		ev.Channel = "mobile_money"
	}
	if body.Amount != nil {
		ev.Amount = domain.FromDecimal(*body.Amount)
	}
	if body.Fee != nil {
		ev.Fee = domain.FromDecimal(*body.Fee)
	}

	resultCode := strings.Trim(string(bytes.TrimSpace(body.ResultCode)), `"`)
	switch strings.ToLower(strings.TrimSpace(body.Status)) {
	case "completed", "success", "successful":
		ev.Kind = EventSuccess
	case "failed", "cancelled", "canceled", "timeout":
		ev.Kind = EventFailure
	case "reversed":
		ev.Kind = EventReversal
	case "":
		if resultCode == "" {
			return ConfirmEvent{}, fmt.Errorf("%w: missing status", ErrInvalidPayload)
		}
		ev.Kind = EventFailure
		if resultCode == "0" {
			ev.Kind = EventSuccess
		}
	default:
		return ConfirmEvent{}, fmt.Errorf("%w: status %q", ErrUnknownEvent, body.Status)
	}
	if ev.Kind == EventSuccess && resultCode != "" && resultCode != "0" {
		ev.Kind = EventFailure
	}
	return ev, nil
}

// VerifyTransaction asks the split gateway for the authoritative state of a
// charge and applies it as if the webhook had arrived.
func (s *WebhookService) VerifyTransaction(ctx context.Context, reference string) (*ConfirmResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, validationError("reference is required")
	}
	split := s.settlement.split
	if split == nil {
		return nil, validationError("split payments are not enabled")
	}

	tx, err := s.settlement.store.Queries().GetTransactionByReference(ctx, reference)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx.PaymentMethod != domain.MethodSplit {
		return nil, validationError("only split payments can be verified")
	}

	start := time.Now()
	v, err := split.Verify(ctx, reference)
	observability.ObserveGatewayCall(domain.MethodSplit, "verify", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}

	ev := ConfirmEvent{
		Gateway:   domain.MethodSplit,
		Reference: reference,
		Amount:    v.Amount,
		Fee:       v.Fee,
		PaymentID: v.PaymentID,
		Channel:   v.Channel,
	}
	if !v.PaidAt.IsZero() {
		ev.PaidAt = v.PaidAt.Format(time.RFC3339)
	}
	switch v.Status {
	case gateway.VerifySuccess:
		ev.Kind = EventSuccess
	case gateway.VerifyFailed:
		ev.Kind = EventFailure
		ev.Reason = "verification reported failure"
	default:
		zap.L().Info("payment still pending at gateway", zap.String("reference", reference))
		return &ConfirmResult{
			Branch:        BranchDuplicate,
			TransactionID: optionalUUID(tx.ID),
			Status:        tx.Status,
			Message:       "payment pending at gateway",
		}, nil
	}
	return s.settlement.Confirm(ctx, ev)
}
