package pushpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushNormalisesPhoneAndReturnsCheckoutReference(t *testing.T) {
	var got pushPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/push", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "tx-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(pushResult{CheckoutReference: "ws_CO_1", ResponseCode: "0"})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, APIKey: "key", ShortCode: "174379"}, srv.Client())
	resp, err := client.Push(context.Background(), gateway.PushRequest{
		Amount:           123_450,
		Currency:         "KES",
		Phone:            "0712 345 678",
		AccountReference: "tx-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", resp.CheckoutReference)
	assert.Equal(t, "254712345678", got.Phone)
	assert.Equal(t, "1234.50", got.Amount)
	assert.Equal(t, "174379", got.ShortCode)
}

func TestPushRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(pushResult{CheckoutReference: "ws_CO_2", ResponseCode: "0"})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, RetryAttempts: 3}, srv.Client())
	resp, err := client.Push(context.Background(), gateway.PushRequest{Amount: 100, Phone: "254712345678", AccountReference: "tx-2"})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_2", resp.CheckoutReference)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPushRejections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Idempotency-Key") == "bad-request" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(pushResult{ResponseCode: "1032", ResponseDescription: "cancelled by user"})
	}))
	defer srv.Close()
	client := New(Config{BaseURL: srv.URL, RetryAttempts: 3}, srv.Client())

	_, err := client.Push(context.Background(), gateway.PushRequest{Amount: 100, Phone: "254712345678", AccountReference: "bad-request"})
	require.ErrorIs(t, err, gateway.ErrRejected)
	assert.Equal(t, int32(1), calls.Load())

	_, err = client.Push(context.Background(), gateway.PushRequest{Amount: 100, Phone: "254712345678", AccountReference: "tx-3"})
	require.ErrorIs(t, err, gateway.ErrRejected)

	_, err = client.Push(context.Background(), gateway.PushRequest{Amount: 100, Phone: "12345", AccountReference: "tx-4"})
	require.ErrorIs(t, err, gateway.ErrRejected)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPushUnavailableAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, RetryAttempts: 2}, srv.Client())
	_, err := client.Push(context.Background(), gateway.PushRequest{Amount: 100, Phone: "254712345678", AccountReference: "tx-5"})
	require.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestVerifySignature(t *testing.T) {
	client := New(Config{WebhookSecret: "secret"}, nil)
	mock := gateway.NewStaticPushGateway("secret")
	body := []byte(`{"transaction_id":"abc"}`)

	assert.True(t, client.VerifySignature(body, mock.Sign(body)))
	assert.False(t, client.VerifySignature(body, "sha256=00"))
	assert.False(t, client.VerifySignature(body, "nope"))
}
