// Package gateway defines the payment gateways the settlement engine drives.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
)

var (
	// ErrUnavailable covers timeouts, 5xx answers and network failures. The
	// call may or may not have taken effect.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrRejected means the gateway refused the request and nothing moved.
	ErrRejected = errors.New("gateway rejected request")
)

const (
	VerifySuccess = "success"
	VerifyFailed  = "failed"
	VerifyPending = "pending"

	RefundProcessed = "processed"
	RefundPending   = "pending"
)

type InitiateRequest struct {
	Reference string
	Amount    int64
	Currency  string
	Email     string
	// Shares is the validated payee breakdown. Funds reach sellers only
	// through payout transfers.
	Shares []domain.Share
}

type InitiateResponse struct {
	Reference        string
	AuthorizationURL string
}

// Verification is the gateway's authoritative view of a charge.
type Verification struct {
	Reference string
	Status    string
	Amount    int64
	Fee       int64
	Channel   string
	PaymentID string
	PaidAt    time.Time
}

type RefundRequest struct {
	PaymentID      string
	Amount         int64
	TransactionID  string
	ItemID         string
	IdempotencyKey string
}

type RefundResponse struct {
	RefundID string
	Status   string
}

type TransferRequest struct {
	Subaccount string
	Amount     int64
	Currency   string
	Reference  string
}

// SplitGateway charges the buyer into the platform balance, confirms through
// signed webhooks and pays sellers out by transfer.
type SplitGateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	Verify(ctx context.Context, reference string) (Verification, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResponse, error)
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	VerifySignature(body []byte, signature string) bool
}

type PushRequest struct {
	Amount           int64
	Currency         string
	Phone            string
	CallbackURL      string
	AccountReference string
	Description      string
}

type PushResponse struct {
	CheckoutReference string
}

// PushGateway prompts the buyer's phone and reports the outcome only by webhook.
type PushGateway interface {
	Push(ctx context.Context, req PushRequest) (PushResponse, error)
	VerifySignature(body []byte, signature string) bool
}
