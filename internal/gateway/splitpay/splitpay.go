// Package splitpay drives card payments and seller transfers through Razorpay.
package splitpay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/retry"
	"github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

// API is the slice of the Razorpay SDK this adapter uses.
type API interface {
	CreateOrder(data map[string]interface{}) (map[string]interface{}, error)
	OrderPayments(orderID string) (map[string]interface{}, error)
	RefundPayment(paymentID string, amount int, data map[string]interface{}, headers map[string]string) (map[string]interface{}, error)
	CreateTransfer(data map[string]interface{}) (map[string]interface{}, error)
}

type sdkClient struct {
	client *razorpay.Client
}

func (c sdkClient) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	return c.client.Order.Create(data, nil)
}

func (c sdkClient) OrderPayments(orderID string) (map[string]interface{}, error) {
	return c.client.Order.Payments(orderID, nil, nil)
}

func (c sdkClient) RefundPayment(paymentID string, amount int, data map[string]interface{}, headers map[string]string) (map[string]interface{}, error) {
	return c.client.Payment.Refund(paymentID, amount, data, headers)
}

func (c sdkClient) CreateTransfer(data map[string]interface{}) (map[string]interface{}, error) {
	return c.client.Transfer.Create(data, nil)
}

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	CheckoutURL   string
	Timeout       time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

type Client struct {
	api    API
	cfg    Config
	policy retry.Policy
}

var _ gateway.SplitGateway = (*Client)(nil)

// New builds a client on the Razorpay SDK.
func New(cfg Config) *Client {
	return NewWithAPI(sdkClient{client: razorpay.NewClient(cfg.KeyID, cfg.KeySecret)}, cfg)
}

func NewWithAPI(api API, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		api:    api,
		cfg:    cfg,
		policy: retry.Fixed(max(cfg.RetryAttempts, 1), cfg.RetryBackoff).WithAttemptTimeout(cfg.Timeout),
	}
}

// call runs an SDK request under the attempt deadline. The SDK is not
// context aware, so an abandoned request finishes in the background.
func (c *Client) call(ctx context.Context, op string, retryable bool, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	policy := c.policy
	if !retryable {
		policy.MaxAttempts = 1
	}
	var out map[string]interface{}
	err := retry.Do(ctx, policy, isUnavailable, func(ctx context.Context) error {
		type result struct {
			body map[string]interface{}
			err  error
		}
		done := make(chan result, 1)
		go func() {
			body, err := fn()
			done <- result{body: body, err: err}
		}()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w: %w", op, gateway.ErrUnavailable, ctx.Err())
		case res := <-done:
			if res.err != nil {
				return fmt.Errorf("%s: %w", op, classify(res.err))
			}
			out = res.body
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, gateway.ErrUnavailable)
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", gateway.ErrRejected, err)
}

// Initiate creates a plain order. The charge lands on the platform balance;
// seller shares move later as payout transfers, so the order carries no
// route transfers of its own.
func (c *Client) Initiate(ctx context.Context, req gateway.InitiateRequest) (gateway.InitiateResponse, error) {
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Reference,
		"notes": map[string]interface{}{
			"transaction_id": req.Reference,
			"email":          req.Email,
			"sellers":        strconv.Itoa(len(req.Shares)),
		},
	}

	// Order creation is not idempotent on the gateway side; never retried.
	body, err := c.call(ctx, "create order", false, func() (map[string]interface{}, error) {
		return c.api.CreateOrder(data)
	})
	if err != nil {
		return gateway.InitiateResponse{}, err
	}
	orderID := stringField(body, "id")
	if orderID == "" {
		return gateway.InitiateResponse{}, fmt.Errorf("create order: %w: response without id", gateway.ErrRejected)
	}
	return gateway.InitiateResponse{
		Reference:        orderID,
		AuthorizationURL: c.checkoutURL(orderID),
	}, nil
}

func (c *Client) checkoutURL(orderID string) string {
	if c.cfg.CheckoutURL == "" {
		return ""
	}
	u, err := url.Parse(c.cfg.CheckoutURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Verify reports the order as paid when any of its payments was captured.
func (c *Client) Verify(ctx context.Context, reference string) (gateway.Verification, error) {
	body, err := c.call(ctx, "fetch order payments", true, func() (map[string]interface{}, error) {
		return c.api.OrderPayments(reference)
	})
	if err != nil {
		return gateway.Verification{}, err
	}

	v := gateway.Verification{Reference: reference, Status: gateway.VerifyPending}
	items, _ := body["items"].([]interface{})
	failed := 0
	for _, raw := range items {
		payment, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		switch stringField(payment, "status") {
		case "captured":
			v.Status = gateway.VerifySuccess
			v.PaymentID = stringField(payment, "id")
			v.Amount = intField(payment, "amount")
			v.Fee = intField(payment, "fee")
			v.Channel = stringField(payment, "method")
			if created := intField(payment, "created_at"); created > 0 {
				v.PaidAt = time.Unix(created, 0).UTC()
			}
			return v, nil
		case "failed":
			failed++
		}
	}
	if len(items) > 0 && failed == len(items) {
		v.Status = gateway.VerifyFailed
	}
	return v, nil
}

// Refund issues a partial refund. The idempotency header lets a retried
// request resolve to the same refund.
func (c *Client) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResponse, error) {
	if req.PaymentID == "" {
		return gateway.RefundResponse{}, fmt.Errorf("refund: %w: missing payment id", gateway.ErrRejected)
	}
	data := map[string]interface{}{
		"speed":   "normal",
		"receipt": req.IdempotencyKey,
		"notes": map[string]interface{}{
			"transaction_id": req.TransactionID,
			"item_id":        req.ItemID,
		},
	}
	headers := map[string]string{"X-Refund-Idempotency": req.IdempotencyKey}

	body, err := c.call(ctx, "refund payment", true, func() (map[string]interface{}, error) {
		return c.api.RefundPayment(req.PaymentID, int(req.Amount), data, headers)
	})
	if err != nil {
		return gateway.RefundResponse{}, err
	}
	status := stringField(body, "status")
	switch status {
	case "processed":
		status = gateway.RefundProcessed
	case "failed":
		return gateway.RefundResponse{}, fmt.Errorf("refund payment: %w: refund failed", gateway.ErrRejected)
	default:
		status = gateway.RefundPending
	}
	return gateway.RefundResponse{RefundID: stringField(body, "id"), Status: status}, nil
}

// Transfer moves funds from the platform balance to a linked account.
func (c *Client) Transfer(ctx context.Context, req gateway.TransferRequest) (string, error) {
	data := map[string]interface{}{
		"account":  req.Subaccount,
		"amount":   req.Amount,
		"currency": req.Currency,
		"notes": map[string]interface{}{
			"reference": req.Reference,
		},
	}
	body, err := c.call(ctx, "create transfer", false, func() (map[string]interface{}, error) {
		return c.api.CreateTransfer(data)
	})
	if err != nil {
		return "", err
	}
	id := stringField(body, "id")
	if id == "" {
		return "", fmt.Errorf("create transfer: %w: response without id", gateway.ErrRejected)
	}
	return id, nil
}

func (c *Client) VerifySignature(body []byte, signature string) bool {
	if signature == "" || c.cfg.WebhookSecret == "" {
		return false
	}
	return utils.VerifyWebhookSignature(string(body), signature, c.cfg.WebhookSecret)
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField reads a JSON number, which the SDK decodes as float64.
func intField(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}
