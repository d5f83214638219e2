package splitpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	orders    []map[string]interface{}
	payments  map[string]interface{}
	refundErr []error
	refunds   int
	headers   map[string]string
	transfers []map[string]interface{}
	block     chan struct{}
}

func (f *fakeAPI) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	f.orders = append(f.orders, data)
	return map[string]interface{}{"id": "order_123", "status": "created"}, nil
}

func (f *fakeAPI) OrderPayments(string) (map[string]interface{}, error) {
	if f.block != nil {
		<-f.block
	}
	return f.payments, nil
}

func (f *fakeAPI) RefundPayment(paymentID string, amount int, data map[string]interface{}, headers map[string]string) (map[string]interface{}, error) {
	f.refunds++
	f.headers = headers
	if len(f.refundErr) > 0 {
		err := f.refundErr[0]
		f.refundErr = f.refundErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{"id": "rfnd_1", "status": "processed", "amount": float64(amount)}, nil
}

func (f *fakeAPI) CreateTransfer(data map[string]interface{}) (map[string]interface{}, error) {
	f.transfers = append(f.transfers, data)
	return map[string]interface{}{"id": "trf_1"}, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestSellerShareMovesOnlyAtPayout(t *testing.T) {
	api := &fakeAPI{}
	client := NewWithAPI(api, Config{CheckoutURL: "https://pay.example.com/checkout"})

	seller := uuid.New()
	resp, err := client.Initiate(context.Background(), gateway.InitiateRequest{
		Reference: "tx-1",
		Amount:    10_000,
		Currency:  "KES",
		Email:     "buyer@example.com",
		Shares: []domain.Share{{
			SellerID:   seller,
			Subaccount: "acc_A",
			Percentage: decimal.RequireFromString("85.5"),
			Amount:     8_550,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_123", resp.Reference)
	assert.Equal(t, "https://pay.example.com/checkout?order_id=order_123", resp.AuthorizationURL)

	require.Len(t, api.orders, 1)
	assert.NotContains(t, api.orders[0], "transfers")
	assert.Equal(t, int64(10_000), api.orders[0]["amount"])
	assert.Equal(t, "1", api.orders[0]["notes"].(map[string]interface{})["sellers"])
	assert.Empty(t, api.transfers)

	id, err := client.Transfer(context.Background(), gateway.TransferRequest{
		Subaccount: "acc_A",
		Amount:     8_300,
		Currency:   "KES",
		Reference:  "payout-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "trf_1", id)

	require.Len(t, api.transfers, 1)
	assert.Equal(t, "acc_A", api.transfers[0]["account"])
	assert.Equal(t, int64(8_300), api.transfers[0]["amount"])
	assert.NotContains(t, api.transfers[0], "on_hold")
}

func TestVerifyReadsCapturedPayment(t *testing.T) {
	api := &fakeAPI{payments: map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": "pay_failed", "status": "failed"},
			map[string]interface{}{
				"id":         "pay_ok",
				"status":     "captured",
				"amount":     float64(10_000),
				"fee":        float64(236),
				"method":     "upi",
				"created_at": float64(1_700_000_000),
			},
		},
	}}
	client := NewWithAPI(api, Config{})

	v, err := client.Verify(context.Background(), "order_123")
	require.NoError(t, err)
	assert.Equal(t, gateway.VerifySuccess, v.Status)
	assert.Equal(t, "pay_ok", v.PaymentID)
	assert.Equal(t, int64(236), v.Fee)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), v.PaidAt)

	api.payments = map[string]interface{}{"items": []interface{}{
		map[string]interface{}{"id": "pay_failed", "status": "failed"},
	}}
	v, err = client.Verify(context.Background(), "order_123")
	require.NoError(t, err)
	assert.Equal(t, gateway.VerifyFailed, v.Status)
}

func TestRefundRetriesUnavailableWithSameIdempotencyKey(t *testing.T) {
	api := &fakeAPI{refundErr: []error{timeoutErr{}, nil}}
	client := NewWithAPI(api, Config{RetryAttempts: 3})

	resp, err := client.Refund(context.Background(), gateway.RefundRequest{
		PaymentID:      "pay_ok",
		Amount:         900,
		TransactionID:  "tx-1",
		ItemID:         "item-1",
		IdempotencyKey: "refund-tx-1-item-1",
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.RefundProcessed, resp.Status)
	assert.Equal(t, 2, api.refunds)
	assert.Equal(t, "refund-tx-1-item-1", api.headers["X-Refund-Idempotency"])
}

func TestRefundRejectionIsNotRetried(t *testing.T) {
	api := &fakeAPI{refundErr: []error{errors.New("BAD_REQUEST_ERROR: amount exceeds captured")}}
	client := NewWithAPI(api, Config{RetryAttempts: 3})

	_, err := client.Refund(context.Background(), gateway.RefundRequest{PaymentID: "pay_ok", Amount: 1, IdempotencyKey: "k"})
	require.ErrorIs(t, err, gateway.ErrRejected)
	assert.Equal(t, 1, api.refunds)
}

func TestCallTimesOutAsUnavailable(t *testing.T) {
	api := &fakeAPI{block: make(chan struct{})}
	defer close(api.block)
	client := NewWithAPI(api, Config{Timeout: 10 * time.Millisecond, RetryAttempts: 1})

	_, err := client.Verify(context.Background(), "order_123")
	require.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestVerifySignature(t *testing.T) {
	client := NewWithAPI(&fakeAPI{}, Config{WebhookSecret: "whsec"})
	body := []byte(`{"event":"payment.captured"}`)

	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, client.VerifySignature(body, sig))
	assert.False(t, client.VerifySignature(body, "deadbeef"))
	assert.False(t, client.VerifySignature(body, ""))
}
