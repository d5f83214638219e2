package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// simulation injects latency and random unavailability into the mocks.
type simulation struct {
	// FailureRate is the probability of ErrUnavailable (0.0 to 1.0).
	FailureRate float64
	// MaxDelay bounds the simulated network latency.
	MaxDelay time.Duration
}

func (s simulation) run(ctx context.Context, op string) error {
	if s.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(s.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		}
	}
	if s.FailureRate > 0 && rand.Float64() < s.FailureRate {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return nil
}

func mockRef(prefix string) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, time.Now().Format("20060102-150405"), rand.Intn(100000))
}

func hmacHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// MockSplitGateway is an in-process SplitGateway for local runs and tests.
// Forced errors take precedence over the random simulation.
type MockSplitGateway struct {
	simulation

	Secret      string
	CheckoutURL string

	InitiateErr error
	RefundErr   error
	TransferErr error
	VerifyErr   error
	// RefundStatus is returned by Refund; defaults to RefundPending.
	RefundStatus string

	mu            sync.Mutex
	verifications map[string]Verification
	initiated     []InitiateRequest
	refunds       []RefundRequest
	transfers     []TransferRequest
}

// NewMockSplitGateway creates a mock that fails ~10% of calls after up to 2s.
func NewMockSplitGateway(secret string) *MockSplitGateway {
	return &MockSplitGateway{
		simulation:    simulation{FailureRate: 0.1, MaxDelay: 2 * time.Second},
		Secret:        secret,
		CheckoutURL:   "https://checkout.invalid/pay",
		verifications: make(map[string]Verification),
	}
}

// NewStaticSplitGateway creates a deterministic mock with no latency or failures.
func NewStaticSplitGateway(secret string) *MockSplitGateway {
	g := NewMockSplitGateway(secret)
	g.simulation = simulation{}
	return g
}

func (g *MockSplitGateway) Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	if g.InitiateErr != nil {
		return InitiateResponse{}, g.InitiateErr
	}
	if err := g.run(ctx, "initiate"); err != nil {
		return InitiateResponse{}, err
	}
	ref := mockRef("order")
	g.mu.Lock()
	g.initiated = append(g.initiated, req)
	g.verifications[ref] = Verification{Reference: ref, Status: VerifyPending, Amount: req.Amount}
	g.mu.Unlock()
	return InitiateResponse{Reference: ref, AuthorizationURL: g.CheckoutURL + "?order_id=" + ref}, nil
}

// SetVerification records what Verify returns for a reference.
func (g *MockSplitGateway) SetVerification(v Verification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifications[v.Reference] = v
}

func (g *MockSplitGateway) Verify(ctx context.Context, reference string) (Verification, error) {
	if g.VerifyErr != nil {
		return Verification{}, g.VerifyErr
	}
	if err := g.run(ctx, "verify"); err != nil {
		return Verification{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.verifications[reference]
	if !ok {
		return Verification{}, fmt.Errorf("verify %s: %w", reference, ErrRejected)
	}
	return v, nil
}

func (g *MockSplitGateway) Refund(ctx context.Context, req RefundRequest) (RefundResponse, error) {
	if g.RefundErr != nil {
		return RefundResponse{}, g.RefundErr
	}
	if err := g.run(ctx, "refund"); err != nil {
		return RefundResponse{}, err
	}
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	g.mu.Unlock()
	status := g.RefundStatus
	if status == "" {
		status = RefundPending
	}
	return RefundResponse{RefundID: mockRef("rfnd"), Status: status}, nil
}

func (g *MockSplitGateway) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if g.TransferErr != nil {
		return "", g.TransferErr
	}
	if err := g.run(ctx, "transfer"); err != nil {
		return "", err
	}
	g.mu.Lock()
	g.transfers = append(g.transfers, req)
	g.mu.Unlock()
	return mockRef("trf"), nil
}

func (g *MockSplitGateway) VerifySignature(body []byte, signature string) bool {
	return hmac.Equal([]byte(hmacHex(g.Secret, body)), []byte(signature))
}

// Sign produces the signature a real webhook for body would carry.
func (g *MockSplitGateway) Sign(body []byte) string {
	return hmacHex(g.Secret, body)
}

func (g *MockSplitGateway) Initiated() []InitiateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]InitiateRequest(nil), g.initiated...)
}

func (g *MockSplitGateway) Refunds() []RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]RefundRequest(nil), g.refunds...)
}

func (g *MockSplitGateway) Transfers() []TransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TransferRequest(nil), g.transfers...)
}

// MockPushGateway is an in-process PushGateway.
type MockPushGateway struct {
	simulation

	Secret  string
	PushErr error

	mu     sync.Mutex
	pushes []PushRequest
}

func NewMockPushGateway(secret string) *MockPushGateway {
	return &MockPushGateway{
		simulation: simulation{FailureRate: 0.1, MaxDelay: 2 * time.Second},
		Secret:     secret,
	}
}

func NewStaticPushGateway(secret string) *MockPushGateway {
	g := NewMockPushGateway(secret)
	g.simulation = simulation{}
	return g
}

func (g *MockPushGateway) Push(ctx context.Context, req PushRequest) (PushResponse, error) {
	if g.PushErr != nil {
		return PushResponse{}, g.PushErr
	}
	if err := g.run(ctx, "push"); err != nil {
		return PushResponse{}, err
	}
	g.mu.Lock()
	g.pushes = append(g.pushes, req)
	g.mu.Unlock()
	return PushResponse{CheckoutReference: mockRef("ws_CO")}, nil
}

func (g *MockPushGateway) VerifySignature(body []byte, signature string) bool {
	return hmac.Equal([]byte("sha256="+hmacHex(g.Secret, body)), []byte(signature))
}

func (g *MockPushGateway) Sign(body []byte) string {
	return "sha256=" + hmacHex(g.Secret, body)
}

func (g *MockPushGateway) Pushes() []PushRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]PushRequest(nil), g.pushes...)
}
