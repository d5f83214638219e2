package service

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitPaymentBody(t *testing.T, event, orderID string, amount, fee int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":         "pay_" + orderID,
					"order_id":   orderID,
					"amount":     amount,
					"fee":        fee,
					"method":     "card",
					"status":     "captured",
					"created_at": int64(1_717_236_000),
				},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestHandleSplitWebhookSettlesPayment(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder()
	init := f.initiate(order.ID, domain.MethodSplit)

	body := splitPaymentBody(t, "payment.captured", init.Reference, 270_000, 5_400)
	res, err := f.webhooks.HandleSplitWebhook(f.ctx, body, f.split.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, BranchSuccess, res.Branch)
	require.NotNil(t, res.TransactionID)
	assert.Equal(t, init.TransactionID, *res.TransactionID)

	tx := f.transaction(init.TransactionID)
	assert.Equal(t, int64(5_400), tx.GatewayFee)
	require.NotNil(t, tx.PaidAt)
	assert.Equal(t, time.Unix(1_717_236_000, 0).UTC(), *tx.PaidAt)
	f.requireBalanced()

	res, err = f.webhooks.HandleSplitWebhook(f.ctx, body, f.split.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, BranchDuplicate, res.Branch)
}

func TestHandleSplitWebhookRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	body := splitPaymentBody(t, "payment.captured", "order-x", 100, 0)

	_, err := f.webhooks.HandleSplitWebhook(f.ctx, body, "deadbeef")
	require.ErrorIs(t, err, ErrInvalidSignature)

	garbage := []byte(`{"event":`)
	_, err = f.webhooks.HandleSplitWebhook(f.ctx, garbage, f.split.Sign(garbage))
	require.ErrorIs(t, err, ErrInvalidPayload)

	unknown := splitPaymentBody(t, "payment.authorized", "order-x", 100, 0)
	_, err = f.webhooks.HandleSplitWebhook(f.ctx, unknown, f.split.Sign(unknown))
	require.ErrorIs(t, err, ErrUnknownEvent)

	noRefund := []byte(`{"event":"refund.processed","payload":{}}`)
	_, err = f.webhooks.HandleSplitWebhook(f.ctx, noRefund, f.split.Sign(noRefund))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestHandleSplitWebhookFailureAndDispute(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder()
	init := f.initiate(order.ID, domain.MethodSplit)

	failed := splitPaymentBody(t, "payment.failed", init.Reference, 270_000, 0)
	res, err := f.webhooks.HandleSplitWebhook(f.ctx, failed, f.split.Sign(failed))
	require.NoError(t, err)
	assert.Equal(t, BranchFailure, res.Branch)

	_, paid := f.paidOrder(domain.MethodSplit, 0)
	dispute := splitPaymentBody(t, "payment.dispute.lost", paid.Reference, 270_000, 0)
	res, err = f.webhooks.HandleSplitWebhook(f.ctx, dispute, f.split.Sign(dispute))
	require.NoError(t, err)
	assert.Equal(t, BranchReversal, res.Branch)
	f.requireBalanced()
}

func TestHandleSplitWebhookRefundProcessed(t *testing.T) {
	f := newFixture(t)
	_, init := f.paidOrder(domain.MethodSplit, 0)
	itemA := f.itemFor(f.transaction(init.TransactionID), f.sellerA)
	refund := f.refund(init.TransactionID, itemA.ItemID)

	body := []byte(fmt.Sprintf(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":%q,"payment_id":"pay_x","amount":200000,"notes":{"transaction_id":%q,"item_id":%q}}}}}`,
		refund.Reference, init.TransactionID, itemA.ItemID))
	res, err := f.webhooks.HandleSplitWebhook(f.ctx, body, f.split.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, BranchRefund, res.Branch)
	assert.Equal(t, int64(0), f.balance(f.sellerA))
	f.requireBalanced()
}

func TestHandlePushWebhook(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder()
	init := f.initiate(order.ID, domain.MethodPush)

	body := []byte(fmt.Sprintf(`{"transaction_id":%q,"external_reference":%q,"status":"","result_code":0,"result_desc":"The service request is processed successfully.","timestamp":"20240601120000","amount":"2700.00","fee":"27.50","receipt":"SFD12AB34C"}`,
		init.Reference, init.TransactionID))

	_, err := f.webhooks.HandlePushWebhook(f.ctx, body, f.split.Sign(body))
	require.ErrorIs(t, err, ErrInvalidSignature, "split signatures are not valid for push")

	res, err := f.webhooks.HandlePushWebhook(f.ctx, body, f.push.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, BranchSuccess, res.Branch)

	tx := f.transaction(init.TransactionID)
	assert.Equal(t, int64(2_750), tx.GatewayFee)
	assert.Equal(t, int64(267_250), tx.NetReceived)
	f.requireBalanced()
}

func TestHandlePushWebhookCancelledByUser(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder()
	init := f.initiate(order.ID, domain.MethodPush)

	body := []byte(fmt.Sprintf(`{"transaction_id":%q,"external_reference":%q,"result_code":"1032","result_desc":"Request cancelled by user"}`,
		init.Reference, init.TransactionID))
	res, err := f.webhooks.HandlePushWebhook(f.ctx, body, f.push.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, BranchFailure, res.Branch)
	assert.Equal(t, int32(10), f.stock(f.productA))
}

func TestParsePushEvent(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		kind    EventKind
		amount  int64
		wantErr error
	}{
		{name: "completed_status", body: `{"transaction_id":"ws_CO-1","status":"Completed","amount":"10.5"}`, kind: EventSuccess, amount: 1_050},
		{name: "result_code_zero", body: `{"transaction_id":"ws_CO-1","result_code":"0","amount":1}`, kind: EventSuccess, amount: 100},
		{name: "success_with_error_code", body: `{"transaction_id":"ws_CO-1","status":"success","result_code":"1"}`, kind: EventFailure},
		{name: "timeout", body: `{"transaction_id":"ws_CO-1","status":"timeout"}`, kind: EventFailure},
		{name: "reversed", body: `{"transaction_id":"ws_CO-1","status":"reversed"}`, kind: EventReversal},
		{name: "no_status", body: `{"transaction_id":"ws_CO-1"}`, wantErr: ErrInvalidPayload},
		{name: "unknown_status", body: `{"transaction_id":"ws_CO-1","status":"queued"}`, wantErr: ErrUnknownEvent},
		{name: "bad_amount", body: `{"transaction_id":"ws_CO-1","status":"completed","amount":"ten"}`, wantErr: ErrInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := parsePushEvent([]byte(tc.body))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, ev.Kind)
			assert.Equal(t, tc.amount, ev.Amount)
			assert.Equal(t, domain.MethodPush, ev.Gateway)
		})
	}
}

func TestVerifyTransaction(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder()
	init := f.initiate(order.ID, domain.MethodSplit)

	res, err := f.webhooks.VerifyTransaction(f.ctx, init.Reference)
	require.NoError(t, err)
	assert.Equal(t, "payment pending at gateway", res.Message)
	assert.Equal(t, domain.TxStatusGatewayInitiated, res.Status)

	f.split.SetVerification(gateway.Verification{
		Reference: init.Reference,
		Status:    gateway.VerifySuccess,
		Amount:    270_000,
		Fee:       5_400,
		PaymentID: "pay_verified",
		Channel:   "card",
		PaidAt:    time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	})
	res, err = f.webhooks.VerifyTransaction(f.ctx, init.Reference)
	require.NoError(t, err)
	assert.Equal(t, BranchSuccess, res.Branch)
	assert.Equal(t, int64(39_600), f.balance(f.cfg.PlatformAccountID))

	_, err = f.webhooks.VerifyTransaction(f.ctx, "order-missing")
	require.ErrorIs(t, err, ErrTransactionNotFound)
	_, err = f.webhooks.VerifyTransaction(f.ctx, " ")
	require.ErrorIs(t, err, ErrValidation)
}

func TestSkipSignatureForLocalRuns(t *testing.T) {
	f := newFixture(t)
	order := f.newOrder()
	init := f.initiate(order.ID, domain.MethodSplit)

	insecure := NewWebhookService(f.settlement, true)
	body := splitPaymentBody(t, "order.paid", init.Reference, 270_000, 0)
	res, err := insecure.HandleSplitWebhook(f.ctx, body, "")
	require.NoError(t, err)
	assert.Equal(t, BranchSuccess, res.Branch)
}

func TestSplitRefundEventNeedsItemID(t *testing.T) {
	body := []byte(fmt.Sprintf(`{"event":"refund.failed","payload":{"refund":{"entity":{"id":"rfnd_1","notes":{"transaction_id":%q}}}}}`, uuid.New()))
	_, err := parseSplitEvent(body)
	require.ErrorIs(t, err, ErrInvalidPayload)
}
