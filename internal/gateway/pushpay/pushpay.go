// Package pushpay talks to a phone-push (STK) payment gateway over HTTP.
package pushpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/retry"
	"go.uber.org/zap"
)

const signaturePrefix = "sha256="

type Config struct {
	BaseURL       string
	APIKey        string
	ShortCode     string
	WebhookSecret string
	Timeout       time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
}

var _ gateway.PushGateway = (*Client)(nil)

func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		policy: retry.Fixed(max(cfg.RetryAttempts, 1), cfg.RetryBackoff).WithAttemptTimeout(cfg.Timeout),
	}
}

type pushPayload struct {
	ShortCode        string `json:"short_code"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Phone            string `json:"phone"`
	CallbackURL      string `json:"callback_url"`
	AccountReference string `json:"account_reference"`
	Description      string `json:"description"`
}

type pushResult struct {
	CheckoutReference   string `json:"checkout_reference"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
}

// Push sends the payment prompt. The account reference doubles as the
// idempotency key so a retried prompt is not charged twice.
func (c *Client) Push(ctx context.Context, req gateway.PushRequest) (gateway.PushResponse, error) {
	phone, err := domain.NormalizePhone(req.Phone)
	if err != nil {
		return gateway.PushResponse{}, fmt.Errorf("push: %w: %w", gateway.ErrRejected, err)
	}
	if req.Amount <= 0 {
		return gateway.PushResponse{}, fmt.Errorf("push: %w: non-positive amount", gateway.ErrRejected)
	}

	body, err := json.Marshal(pushPayload{
		ShortCode:        c.cfg.ShortCode,
		Amount:           domain.NewMoney(req.Amount, req.Currency).ToDecimal().StringFixed(2),
		Currency:         req.Currency,
		Phone:            phone,
		CallbackURL:      req.CallbackURL,
		AccountReference: req.AccountReference,
		Description:      req.Description,
	})
	if err != nil {
		return gateway.PushResponse{}, fmt.Errorf("encode push request: %w", err)
	}

	var result pushResult
	err = retry.Do(ctx, c.policy, isUnavailable, func(ctx context.Context) error {
		return c.post(ctx, "/v1/push", req.AccountReference, body, &result)
	})
	if err != nil {
		return gateway.PushResponse{}, err
	}
	if result.ResponseCode != "0" || result.CheckoutReference == "" {
		return gateway.PushResponse{}, fmt.Errorf("push: %w: code %s: %s", gateway.ErrRejected, result.ResponseCode, result.ResponseDescription)
	}
	return gateway.PushResponse{CheckoutReference: result.CheckoutReference}, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w: %w", gateway.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read push response: %w: %w", gateway.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		zap.L().Warn("push gateway server error", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("push request: %w: status %d", gateway.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("push request: %w: status %d: %s", gateway.ErrRejected, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode push response: %w: %w", gateway.ErrRejected, err)
	}
	return nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, gateway.ErrUnavailable)
}

// VerifySignature checks "sha256=<hex>" HMAC of the raw body in constant time.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if c.cfg.WebhookSecret == "" || !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(body)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
