package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/notify"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/ayo6706/marketplace-settlement/internal/retry"
	"github.com/ayo6706/marketplace-settlement/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	priceA      = int64(100_000)
	priceB      = int64(50_000)
	deliveryFee = int64(20_000)
)

// fixture wires every service against one in-memory store with seeded
// system accounts, a buyer, two sellers and one product per seller.
type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memstore.Store
	split    *gateway.MockSplitGateway
	push     *gateway.MockPushGateway
	recorder *notify.Recorder
	notifier *notify.Dispatcher
	cfg      Settings

	settlement *SettlementService
	orders     *OrderService
	payouts    *PayoutService
	accounts   *AccountService
	webhooks   *WebhookService
	recon      *ReconciliationService

	buyer    uuid.UUID
	sellerA  uuid.UUID
	sellerB  uuid.UUID
	productA uuid.UUID
	productB uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := DefaultSettings()
	cfg.UnitRetry = retry.Exponential(5, time.Millisecond, 2*time.Millisecond)
	cfg.PushCallbackURL = "https://example.test/v1/webhooks/push"

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    memstore.New(),
		split:    gateway.NewStaticSplitGateway("split-secret"),
		push:     gateway.NewStaticPushGateway("push-secret"),
		recorder: &notify.Recorder{},
		cfg:      cfg,
	}
	f.notifier = notify.NewDispatcher(f.recorder, time.Second)

	var err error
	f.settlement, err = NewSettlementService(f.store, f.split, f.push, f.notifier, cfg)
	require.NoError(t, err)
	f.payouts, err = NewPayoutService(f.store, f.split, f.notifier, cfg)
	require.NoError(t, err)
	f.orders = NewOrderService(f.store, cfg)
	f.accounts = NewAccountService(f.store)
	f.webhooks = NewWebhookService(f.settlement, false)
	f.recon = NewReconciliationService(f.store)

	f.seedAccount(cfg.PlatformAccountID, domain.RolePlatform, "platform", nil)
	f.seedAccount(cfg.ClearingAccountID, domain.RoleClearing, "clearing", nil)
	f.buyer = f.seedAccount(uuid.New(), domain.RoleBuyer, "buyer", nil)
	f.sellerA = f.seedAccount(uuid.New(), domain.RoleSeller, "seller-a", repository.StringPtr("ACCT_seller_a"))
	f.sellerB = f.seedAccount(uuid.New(), domain.RoleSeller, "seller-b", repository.StringPtr("ACCT_seller_b"))
	f.productA = f.seedProduct(f.sellerA, priceA, 10)
	f.productB = f.seedProduct(f.sellerB, priceB, 5)
	return f
}

func (f *fixture) seedAccount(id uuid.UUID, role, name string, subaccount *string) uuid.UUID {
	f.t.Helper()
	_, err := f.store.Queries().CreateAccount(f.ctx, repository.CreateAccountParams{
		ID:             repository.ToPgUUID(id),
		Role:           role,
		Name:           name,
		Email:          name + "@example.test",
		SubaccountCode: subaccount,
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) seedProduct(sellerID uuid.UUID, price int64, stock int32) uuid.UUID {
	f.t.Helper()
	id := uuid.New()
	_, err := f.store.Queries().CreateProduct(f.ctx, repository.CreateProductParams{
		ID:        repository.ToPgUUID(id),
		SellerID:  repository.ToPgUUID(sellerID),
		Name:      "product",
		UnitPrice: price,
		Stock:     stock,
	})
	require.NoError(f.t, err)
	return id
}

// newOrder creates two units of product A and one of product B: 250000
// in items before delivery.
func (f *fixture) newOrder() *OrderView {
	f.t.Helper()
	order, err := f.orders.CreateOrder(f.ctx, CreateOrderRequest{
		CustomerID:      f.buyer,
		DeliveryAddress: "12 Moi Avenue, Nairobi",
		Items: []OrderLineRequest{
			{ProductID: f.productA, Quantity: 2},
			{ProductID: f.productB, Quantity: 1},
		},
	})
	require.NoError(f.t, err)
	return order
}

func (f *fixture) initiate(orderID uuid.UUID, method string) *InitiateResult {
	f.t.Helper()
	res, err := f.settlement.Initiate(f.ctx, InitiateRequest{
		OrderID:     orderID,
		Method:      method,
		Email:       "buyer@example.test",
		Phone:       "0712345678",
		DeliveryFee: deliveryFee,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) confirmSuccess(method, reference string, amount, fee int64) *ConfirmResult {
	f.t.Helper()
	res, err := f.settlement.Confirm(f.ctx, ConfirmEvent{
		Gateway:   method,
		Kind:      EventSuccess,
		Reference: reference,
		Amount:    amount,
		Fee:       fee,
		PaymentID: "pay_" + reference,
		Channel:   "card",
	})
	require.NoError(f.t, err)
	return res
}

// paidOrder runs an order through initiation and a successful confirmation.
func (f *fixture) paidOrder(method string, fee int64) (*OrderView, *InitiateResult) {
	f.t.Helper()
	order := f.newOrder()
	init := f.initiate(order.ID, method)
	res := f.confirmSuccess(method, init.Reference, order.TotalAmount+deliveryFee, fee)
	require.Equal(f.t, BranchSuccess, res.Branch)
	return order, init
}

func (f *fixture) deliverAll(order *OrderView) {
	f.t.Helper()
	for _, item := range order.Items {
		_, err := f.orders.UpdateItemStatus(f.ctx, item.ID, domain.ItemStatusShipped, nil)
		require.NoError(f.t, err)
		_, err = f.orders.UpdateItemStatus(f.ctx, item.ID, domain.ItemStatusDelivered, nil)
		require.NoError(f.t, err)
	}
}

func (f *fixture) account(id uuid.UUID) repository.Account {
	f.t.Helper()
	account, err := f.store.Queries().GetAccount(f.ctx, repository.ToPgUUID(id))
	require.NoError(f.t, err)
	return account
}

func (f *fixture) balance(id uuid.UUID) int64 {
	return f.account(id).Balance
}

func (f *fixture) stock(id uuid.UUID) int32 {
	f.t.Helper()
	product, err := f.store.Queries().GetProduct(f.ctx, repository.ToPgUUID(id))
	require.NoError(f.t, err)
	return product.Stock
}

func (f *fixture) transaction(id uuid.UUID) *TransactionView {
	f.t.Helper()
	tx, err := f.settlement.GetTransaction(f.ctx, id)
	require.NoError(f.t, err)
	return tx
}

func (f *fixture) itemFor(tx *TransactionView, productSeller uuid.UUID) TransactionItemView {
	f.t.Helper()
	for _, item := range tx.Items {
		if item.SellerID == productSeller {
			return item
		}
	}
	f.t.Fatalf("no item for seller %s", productSeller)
	return TransactionItemView{}
}

// requireBalanced asserts the ledger nets to zero overall, per event and
// per account.
func (f *fixture) requireBalanced() {
	f.t.Helper()
	report, err := f.recon.Run(f.ctx)
	require.NoError(f.t, err)
	require.True(f.t, report.Balanced(), "ledger out of balance: %+v", report)
}

func (f *fixture) templates() []string {
	f.notifier.Wait()
	return f.recorder.Templates()
}

// deliveries lists every event sent as "template->party", in order.
func (f *fixture) deliveries() []string {
	f.notifier.Wait()
	var out []string
	for _, e := range f.recorder.Events() {
		out = append(out, e.Template+"->"+e.Party)
	}
	return out
}

// sentTo returns the events with the given template addressed to party.
func (f *fixture) sentTo(template, party string) []notify.Event {
	f.notifier.Wait()
	var out []notify.Event
	for _, e := range f.recorder.Events() {
		if e.Template == template && e.Party == party {
			out = append(out, e)
		}
	}
	return out
}
