// Package memstore is an in-memory repository.Querier with transactional
// rollback, for unit tests that should not need Postgres.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type row[T any] struct {
	seq int64
	v   T
}

type itemKey struct {
	tx   uuid.UUID
	item uuid.UUID
}

type state struct {
	seq          int64
	accounts     map[uuid.UUID]row[repository.Account]
	products     map[uuid.UUID]row[repository.Product]
	orders       map[uuid.UUID]row[repository.Order]
	orderItems   map[uuid.UUID]row[repository.OrderItem]
	transactions map[uuid.UUID]row[repository.Transaction]
	txItems      map[itemKey]row[repository.TransactionItem]
	payouts      map[uuid.UUID]row[repository.Payout]
	history      []repository.PayoutHistory
	audit        []repository.AuditLog
	idempotency  map[string]repository.IdempotencyKey
}

func newState() *state {
	return &state{
		accounts:     make(map[uuid.UUID]row[repository.Account]),
		products:     make(map[uuid.UUID]row[repository.Product]),
		orders:       make(map[uuid.UUID]row[repository.Order]),
		orderItems:   make(map[uuid.UUID]row[repository.OrderItem]),
		transactions: make(map[uuid.UUID]row[repository.Transaction]),
		txItems:      make(map[itemKey]row[repository.TransactionItem]),
		payouts:      make(map[uuid.UUID]row[repository.Payout]),
		idempotency:  make(map[string]repository.IdempotencyKey),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		seq:          s.seq,
		accounts:     cloneMap(s.accounts),
		products:     cloneMap(s.products),
		orders:       cloneMap(s.orders),
		orderItems:   cloneMap(s.orderItems),
		transactions: cloneMap(s.transactions),
		txItems:      cloneMap(s.txItems),
		payouts:      cloneMap(s.payouts),
		history:      append([]repository.PayoutHistory(nil), s.history...),
		audit:        append([]repository.AuditLog(nil), s.audit...),
		idempotency:  cloneMap(s.idempotency),
	}
}

// Store implements the service layer's store contract in memory. Transactions
// are serialised; a failed or conflicted transaction restores the snapshot
// taken when it began.
type Store struct {
	mu        sync.Mutex
	st        *state
	conflicts int
	txCount   int

	// Now stamps created_at and updated_at columns.
	Now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), Now: time.Now}
}

// InjectConflicts makes the next n transactions fail at commit with
// repository.ErrWriteConflict after running their body.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// Transactions counts RunInTx calls, conflicted attempts included.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *Store) Queries() repository.Querier {
	return &querier{s: s}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	snapshot := s.st.clone()
	if err := fn(&querier{s: s, inTx: true}); err != nil {
		s.st = snapshot
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		s.st = snapshot
		return repository.ErrWriteConflict
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// History returns every ledger entry in insertion order.
func (s *Store) History() []repository.PayoutHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.PayoutHistory(nil), s.st.history...)
}

// AuditLog returns every audit row in insertion order.
func (s *Store) AuditLog() []repository.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.AuditLog(nil), s.st.audit...)
}

type querier struct {
	s    *Store
	inTx bool
}

var _ repository.Querier = (*querier)(nil)

func (q *querier) lock() func() {
	if q.inTx {
		return func() {}
	}
	q.s.mu.Lock()
	return q.s.mu.Unlock
}

func (q *querier) now() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: q.s.Now(), Valid: true}
}

func (q *querier) next() int64 {
	q.s.st.seq++
	return q.s.st.seq
}

func id(v pgtype.UUID) uuid.UUID { return uuid.UUID(v.Bytes) }

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func checkViolation(constraint string) error {
	return &pgconn.PgError{Code: "23514", ConstraintName: constraint, Message: "new row violates check constraint"}
}

func sortedBySeq[T any](rows []row[T]) []T {
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.v
	}
	return out
}

func lessUUID(a, b pgtype.UUID) bool {
	return id(a).String() < id(b).String()
}

// accounts

func (q *querier) CreateAccount(_ context.Context, arg repository.CreateAccountParams) (repository.Account, error) {
	defer q.lock()()
	if _, ok := q.s.st.accounts[id(arg.ID)]; ok {
		return repository.Account{}, uniqueViolation("accounts_pkey")
	}
	a := repository.Account{
		ID:             arg.ID,
		Role:           arg.Role,
		Name:           arg.Name,
		Email:          arg.Email,
		Phone:          arg.Phone,
		SubaccountCode: arg.SubaccountCode,
		CreatedAt:      q.now(),
		UpdatedAt:      q.now(),
	}
	q.s.st.accounts[id(arg.ID)] = row[repository.Account]{seq: q.next(), v: a}
	return a, nil
}

func (q *querier) GetAccount(_ context.Context, accountID pgtype.UUID) (repository.Account, error) {
	defer q.lock()()
	r, ok := q.s.st.accounts[id(accountID)]
	if !ok {
		return repository.Account{}, pgx.ErrNoRows
	}
	return r.v, nil
}

func (q *querier) GetAccountForUpdate(ctx context.Context, accountID pgtype.UUID) (repository.Account, error) {
	return q.GetAccount(ctx, accountID)
}

func (q *querier) AddAccountBalance(_ context.Context, arg repository.AddAccountBalanceParams) (int64, error) {
	defer q.lock()()
	r, ok := q.s.st.accounts[id(arg.ID)]
	if !ok {
		return 0, nil
	}
	r.v.Balance += arg.Delta
	r.v.UpdatedAt = q.now()
	q.s.st.accounts[id(arg.ID)] = r
	return 1, nil
}

func (q *querier) AdjustPendingOrders(_ context.Context, arg repository.AdjustPendingOrdersParams) (int64, error) {
	defer q.lock()()
	r, ok := q.s.st.accounts[id(arg.ID)]
	if !ok {
		return 0, nil
	}
	r.v.PendingOrders = max(r.v.PendingOrders+arg.Delta, 0)
	r.v.UpdatedAt = q.now()
	q.s.st.accounts[id(arg.ID)] = r
	return 1, nil
}

func (q *querier) GetAccountLedgerMismatches(context.Context) ([]repository.AccountLedgerMismatch, error) {
	defer q.lock()()
	sums := make(map[uuid.UUID]int64)
	for _, h := range q.s.st.history {
		sums[id(h.AccountID)] += h.Amount
	}
	var out []repository.AccountLedgerMismatch
	for key, r := range q.s.st.accounts {
		if r.v.Balance != sums[key] {
			out = append(out, repository.AccountLedgerMismatch{AccountID: r.v.ID, Balance: r.v.Balance, LedgerSum: sums[key]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessUUID(out[i].AccountID, out[j].AccountID) })
	return out, nil
}

// products

func (q *querier) CreateProduct(_ context.Context, arg repository.CreateProductParams) (repository.Product, error) {
	defer q.lock()()
	if arg.Stock < 0 {
		return repository.Product{}, checkViolation("products_stock_check")
	}
	p := repository.Product{
		ID:        arg.ID,
		SellerID:  arg.SellerID,
		Name:      arg.Name,
		UnitPrice: arg.UnitPrice,
		Stock:     arg.Stock,
		Available: arg.Stock > 0,
		CreatedAt: q.now(),
	}
	q.s.st.products[id(arg.ID)] = row[repository.Product]{seq: q.next(), v: p}
	return p, nil
}

func (q *querier) GetProduct(_ context.Context, productID pgtype.UUID) (repository.Product, error) {
	defer q.lock()()
	r, ok := q.s.st.products[id(productID)]
	if !ok {
		return repository.Product{}, pgx.ErrNoRows
	}
	return r.v, nil
}

func (q *querier) AdjustProductStock(_ context.Context, arg repository.AdjustProductStockParams) (int64, error) {
	defer q.lock()()
	r, ok := q.s.st.products[id(arg.ID)]
	if !ok || r.v.Stock+arg.Delta < 0 {
		return 0, nil
	}
	r.v.Stock += arg.Delta
	r.v.Available = r.v.Stock > 0
	q.s.st.products[id(arg.ID)] = r
	return 1, nil
}

// orders

func (q *querier) CreateOrder(_ context.Context, arg repository.CreateOrderParams) (repository.Order, error) {
	defer q.lock()()
	o := repository.Order{
		ID:              arg.ID,
		CustomerID:      arg.CustomerID,
		TotalAmount:     arg.TotalAmount,
		Status:          arg.Status,
		DeliveryAddress: arg.DeliveryAddress,
		CreatedAt:       q.now(),
		UpdatedAt:       q.now(),
	}
	q.s.st.orders[id(arg.ID)] = row[repository.Order]{seq: q.next(), v: o}
	return o, nil
}

func (q *querier) GetOrder(_ context.Context, orderID pgtype.UUID) (repository.Order, error) {
	defer q.lock()()
	r, ok := q.s.st.orders[id(orderID)]
	if !ok {
		return repository.Order{}, pgx.ErrNoRows
	}
	return r.v, nil
}

func (q *querier) GetOrderForUpdate(ctx context.Context, orderID pgtype.UUID) (repository.Order, error) {
	return q.GetOrder(ctx, orderID)
}

func (q *querier) updateOrder(orderID pgtype.UUID, mutate func(o *repository.Order) bool) int64 {
	r, ok := q.s.st.orders[id(orderID)]
	if !ok || !mutate(&r.v) {
		return 0
	}
	r.v.UpdatedAt = q.now()
	q.s.st.orders[id(orderID)] = r
	return 1
}

func (q *querier) UpdateOrderStatus(_ context.Context, arg repository.UpdateOrderStatusParams) (int64, error) {
	defer q.lock()()
	return q.updateOrder(arg.ID, func(o *repository.Order) bool {
		o.Status = arg.Status
		return true
	}), nil
}

func (q *querier) UpdateOrderTotal(_ context.Context, arg repository.UpdateOrderTotalParams) (int64, error) {
	defer q.lock()()
	return q.updateOrder(arg.ID, func(o *repository.Order) bool {
		o.TotalAmount = arg.TotalAmount
		return true
	}), nil
}

func (q *querier) LinkOrderTransaction(_ context.Context, arg repository.LinkOrderTransactionParams) (int64, error) {
	defer q.lock()()
	return q.updateOrder(arg.ID, func(o *repository.Order) bool {
		o.TransactionID = arg.TransactionID
		return true
	}), nil
}

func (q *querier) UnlinkOrderTransaction(_ context.Context, arg repository.UnlinkOrderTransactionParams) (int64, error) {
	defer q.lock()()
	return q.updateOrder(arg.ID, func(o *repository.Order) bool {
		if !o.TransactionID.Valid || o.TransactionID != arg.TransactionID {
			return false
		}
		o.TransactionID = pgtype.UUID{}
		return true
	}), nil
}

func (q *querier) CreateOrderItem(_ context.Context, arg repository.CreateOrderItemParams) (repository.OrderItem, error) {
	defer q.lock()()
	if arg.Quantity <= 0 {
		return repository.OrderItem{}, checkViolation("order_items_quantity_check")
	}
	item := repository.OrderItem{
		ID:        arg.ID,
		OrderID:   arg.OrderID,
		SellerID:  arg.SellerID,
		ProductID: arg.ProductID,
		Quantity:  arg.Quantity,
		UnitPrice: arg.UnitPrice,
		Status:    arg.Status,
		CreatedAt: q.now(),
		UpdatedAt: q.now(),
	}
	q.s.st.orderItems[id(arg.ID)] = row[repository.OrderItem]{seq: q.next(), v: item}
	return item, nil
}

func (q *querier) GetOrderItem(_ context.Context, itemID pgtype.UUID) (repository.OrderItem, error) {
	defer q.lock()()
	r, ok := q.s.st.orderItems[id(itemID)]
	if !ok {
		return repository.OrderItem{}, pgx.ErrNoRows
	}
	return r.v, nil
}

func (q *querier) ListOrderItems(_ context.Context, orderID pgtype.UUID) ([]repository.OrderItem, error) {
	defer q.lock()()
	var rows []row[repository.OrderItem]
	for _, r := range q.s.st.orderItems {
		if r.v.OrderID == orderID {
			rows = append(rows, r)
		}
	}
	return sortedBySeq(rows), nil
}

func (q *querier) UpdateOrderItemStatus(_ context.Context, arg repository.UpdateOrderItemStatusParams) (int64, error) {
	defer q.lock()()
	r, ok := q.s.st.orderItems[id(arg.ID)]
	if !ok {
		return 0, nil
	}
	r.v.Status = arg.Status
	r.v.Cancelled = arg.Cancelled
	r.v.UpdatedAt = q.now()
	q.s.st.orderItems[id(arg.ID)] = r
	return 1, nil
}

// transactions

func activeStatus(status string) bool {
	switch status {
	case "pending", "gateway_initiated", "completed", "reversed":
		return true
	}
	return false
}

func (q *querier) CreateTransaction(_ context.Context, arg repository.CreateTransactionParams) (repository.Transaction, error) {
	defer q.lock()()
	for _, r := range q.s.st.transactions {
		if r.v.GatewayReference == arg.GatewayReference {
			return repository.Transaction{}, uniqueViolation("transactions_gateway_reference_key")
		}
		if r.v.OrderID == arg.OrderID && activeStatus(r.v.Status) && activeStatus(arg.Status) {
			return repository.Transaction{}, uniqueViolation("uq_transactions_active_order")
		}
	}
	if arg.TotalAmount <= 0 {
		return repository.Transaction{}, checkViolation("transactions_total_amount_check")
	}
	t := repository.Transaction{
		ID:               arg.ID,
		OrderID:          arg.OrderID,
		GatewayReference: arg.GatewayReference,
		TotalAmount:      arg.TotalAmount,
		DeliveryFee:      arg.DeliveryFee,
		Status:           arg.Status,
		PaymentMethod:    arg.PaymentMethod,
		BuyerEmail:       arg.BuyerEmail,
		BuyerPhone:       arg.BuyerPhone,
		CreatedAt:        q.now(),
		UpdatedAt:        q.now(),
	}
	q.s.st.transactions[id(arg.ID)] = row[repository.Transaction]{seq: q.next(), v: t}
	return t, nil
}

func (q *querier) GetTransaction(_ context.Context, txID pgtype.UUID) (repository.Transaction, error) {
	defer q.lock()()
	r, ok := q.s.st.transactions[id(txID)]
	if !ok {
		return repository.Transaction{}, pgx.ErrNoRows
	}
	return r.v, nil
}

func (q *querier) GetTransactionForUpdate(ctx context.Context, txID pgtype.UUID) (repository.Transaction, error) {
	return q.GetTransaction(ctx, txID)
}

func (q *querier) GetTransactionByReference(_ context.Context, ref string) (repository.Transaction, error) {
	defer q.lock()()
	for _, r := range q.s.st.transactions {
		if r.v.GatewayReference == ref {
			return r.v, nil
		}
	}
	return repository.Transaction{}, pgx.ErrNoRows
}

func (q *querier) GetTransactionByReferenceForUpdate(ctx context.Context, ref string) (repository.Transaction, error) {
	return q.GetTransactionByReference(ctx, ref)
}

func (q *querier) GetActiveTransactionForOrder(_ context.Context, orderID pgtype.UUID) (repository.Transaction, error) {
	defer q.lock()()
	var latest *row[repository.Transaction]
	for _, r := range q.s.st.transactions {
		if r.v.OrderID != orderID || !activeStatus(r.v.Status) {
			continue
		}
		if latest == nil || r.seq > latest.seq {
			r := r
			latest = &r
		}
	}
	if latest == nil {
		return repository.Transaction{}, pgx.ErrNoRows
	}
	return latest.v, nil
}

func (q *querier) updateTransaction(txID pgtype.UUID, mutate func(t *repository.Transaction) bool) int64 {
	r, ok := q.s.st.transactions[id(txID)]
	if !ok || !mutate(&r.v) {
		return 0
	}
	r.v.UpdatedAt = q.now()
	q.s.st.transactions[id(txID)] = r
	return 1
}

func (q *querier) UpdateTransactionStatus(_ context.Context, arg repository.UpdateTransactionStatusParams) (int64, error) {
	defer q.lock()()
	return q.updateTransaction(arg.ID, func(t *repository.Transaction) bool {
		t.Status = arg.Status
		return true
	}), nil
}

func (q *querier) ListStalePendingTransactions(_ context.Context, arg repository.ListStalePendingTransactionsParams) ([]repository.Transaction, error) {
	defer q.lock()()
	var rows []row[repository.Transaction]
	for _, r := range q.s.st.transactions {
		if r.v.Status == "pending" && r.v.PaymentMethod == arg.PaymentMethod && r.v.UpdatedAt.Time.Before(arg.UpdatedBefore.Time) {
			rows = append(rows, r)
		}
	}
	out := sortedBySeq(rows)
	if len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (q *querier) UpdateTransactionReference(_ context.Context, arg repository.UpdateTransactionReferenceParams) (int64, error) {
	defer q.lock()()
	for key, r := range q.s.st.transactions {
		if key != id(arg.ID) && r.v.GatewayReference == arg.GatewayReference {
			return 0, uniqueViolation("transactions_gateway_reference_key")
		}
	}
	return q.updateTransaction(arg.ID, func(t *repository.Transaction) bool {
		if t.Status != "pending" {
			return false
		}
		t.GatewayReference = arg.GatewayReference
		t.Status = "gateway_initiated"
		return true
	}), nil
}

func (q *querier) SetTransactionSettlement(_ context.Context, arg repository.SetTransactionSettlementParams) (int64, error) {
	defer q.lock()()
	return q.updateTransaction(arg.ID, func(t *repository.Transaction) bool {
		t.GatewayFee = arg.GatewayFee
		t.NetReceived = arg.NetReceived
		t.PaidAt = arg.PaidAt
		if arg.PaymentID != nil {
			t.PaymentID = arg.PaymentID
		}
		return true
	}), nil
}

func (q *querier) DeletePendingTransaction(_ context.Context, txID pgtype.UUID) (int64, error) {
	defer q.lock()()
	r, ok := q.s.st.transactions[id(txID)]
	if !ok || r.v.Status != "pending" {
		return 0, nil
	}
	delete(q.s.st.transactions, id(txID))
	for key := range q.s.st.txItems {
		if key.tx == id(txID) {
			delete(q.s.st.txItems, key)
		}
	}
	for key, o := range q.s.st.orders {
		if o.v.TransactionID == txID {
			o.v.TransactionID = pgtype.UUID{}
			q.s.st.orders[key] = o
		}
	}
	return 1, nil
}

// transaction items

func (q *querier) CreateTransactionItem(_ context.Context, arg repository.CreateTransactionItemParams) (repository.TransactionItem, error) {
	defer q.lock()()
	key := itemKey{tx: id(arg.TransactionID), item: id(arg.ItemID)}
	if _, ok := q.s.st.txItems[key]; ok {
		return repository.TransactionItem{}, uniqueViolation("transaction_items_pkey")
	}
	if arg.SellerShare+arg.PlatformCommission != arg.ItemAmount {
		return repository.TransactionItem{}, checkViolation("transaction_items_check")
	}
	item := repository.TransactionItem{
		TransactionID:      arg.TransactionID,
		ItemID:             arg.ItemID,
		SellerID:           arg.SellerID,
		ItemAmount:         arg.ItemAmount,
		PlatformCommission: arg.PlatformCommission,
		SellerShare:        arg.SellerShare,
		ProratedFee:        arg.ProratedFee,
		TransferFee:        arg.TransferFee,
		NetCommission:      arg.NetCommission,
		OwedAmount:         arg.OwedAmount,
		PayoutStatus:       arg.PayoutStatus,
		RefundStatus:       "none",
		ReturnStatus:       "none",
		UpdatedAt:          q.now(),
	}
	q.s.st.txItems[key] = row[repository.TransactionItem]{seq: q.next(), v: item}
	return item, nil
}

func (q *querier) GetTransactionItemForUpdate(_ context.Context, arg repository.GetTransactionItemParams) (repository.TransactionItem, error) {
	defer q.lock()()
	r, ok := q.s.st.txItems[itemKey{tx: id(arg.TransactionID), item: id(arg.ItemID)}]
	if !ok {
		return repository.TransactionItem{}, pgx.ErrNoRows
	}
	return r.v, nil
}

func sortItems(items []repository.TransactionItem) []repository.TransactionItem {
	sort.Slice(items, func(i, j int) bool {
		if items[i].TransactionID != items[j].TransactionID {
			return lessUUID(items[i].TransactionID, items[j].TransactionID)
		}
		return lessUUID(items[i].ItemID, items[j].ItemID)
	})
	return items
}

func (q *querier) ListTransactionItems(_ context.Context, txID pgtype.UUID) ([]repository.TransactionItem, error) {
	defer q.lock()()
	var items []repository.TransactionItem
	for key, r := range q.s.st.txItems {
		if key.tx == id(txID) {
			items = append(items, r.v)
		}
	}
	return sortItems(items), nil
}

func (q *querier) updateItem(txID, itemID pgtype.UUID, mutate func(i *repository.TransactionItem) error) (int64, error) {
	key := itemKey{tx: id(txID), item: id(itemID)}
	r, ok := q.s.st.txItems[key]
	if !ok {
		return 0, nil
	}
	if err := mutate(&r.v); err != nil {
		return 0, err
	}
	r.v.UpdatedAt = q.now()
	q.s.st.txItems[key] = r
	return 1, nil
}

func (q *querier) UpdateTransactionItemSplit(_ context.Context, arg repository.UpdateTransactionItemSplitParams) (int64, error) {
	defer q.lock()()
	return q.updateItem(arg.TransactionID, arg.ItemID, func(i *repository.TransactionItem) error {
		if arg.SellerShare+arg.PlatformCommission != i.ItemAmount {
			return checkViolation("transaction_items_check")
		}
		i.PlatformCommission = arg.PlatformCommission
		i.SellerShare = arg.SellerShare
		i.ProratedFee = arg.ProratedFee
		i.TransferFee = arg.TransferFee
		i.NetCommission = arg.NetCommission
		i.OwedAmount = arg.OwedAmount
		return nil
	})
}

func (q *querier) UpdateTransactionItemRefund(_ context.Context, arg repository.UpdateTransactionItemRefundParams) (int64, error) {
	defer q.lock()()
	return q.updateItem(arg.TransactionID, arg.ItemID, func(i *repository.TransactionItem) error {
		i.RefundStatus = arg.RefundStatus
		i.RefundedAmount = arg.RefundedAmount
		if arg.RefundReference != nil {
			i.RefundReference = arg.RefundReference
		}
		return nil
	})
}

func (q *querier) UpdateTransactionItemReturn(_ context.Context, arg repository.UpdateTransactionItemReturnParams) (int64, error) {
	defer q.lock()()
	return q.updateItem(arg.TransactionID, arg.ItemID, func(i *repository.TransactionItem) error {
		i.ReturnStatus = arg.ReturnStatus
		return nil
	})
}

func (q *querier) UpdateTransactionItemPayout(_ context.Context, arg repository.UpdateTransactionItemPayoutParams) (int64, error) {
	defer q.lock()()
	return q.updateItem(arg.TransactionID, arg.ItemID, func(i *repository.TransactionItem) error {
		i.PayoutStatus = arg.PayoutStatus
		i.PayoutID = arg.PayoutID
		return nil
	})
}

func (q *querier) payable(item repository.TransactionItem, payoutStatus string) bool {
	tx, ok := q.s.st.transactions[id(item.TransactionID)]
	if !ok || tx.v.Status != "completed" {
		return false
	}
	line, ok := q.s.st.orderItems[id(item.ItemID)]
	if !ok || line.v.Status != "delivered" {
		return false
	}
	return item.PayoutStatus == payoutStatus &&
		!item.PayoutID.Valid &&
		item.RefundStatus == "none" &&
		(item.ReturnStatus == "none" || item.ReturnStatus == "rejected")
}

func (q *querier) ListPayableItems(_ context.Context, arg repository.ListPayableItemsParams) ([]repository.TransactionItem, error) {
	defer q.lock()()
	var items []repository.TransactionItem
	for _, r := range q.s.st.txItems {
		if r.v.SellerID == arg.SellerID && q.payable(r.v, arg.PayoutStatus) {
			items = append(items, r.v)
		}
	}
	return sortItems(items), nil
}

func (q *querier) ListSellersWithPayableItems(_ context.Context, arg repository.ListSellersWithPayableItemsParams) ([]pgtype.UUID, error) {
	defer q.lock()()
	busy := make(map[pgtype.UUID]bool)
	for _, p := range q.s.st.payouts {
		if p.v.Status == "processing" {
			busy[p.v.SellerID] = true
		}
	}
	seen := make(map[pgtype.UUID]bool)
	var sellers []pgtype.UUID
	for _, r := range q.s.st.txItems {
		if seen[r.v.SellerID] || busy[r.v.SellerID] || !q.payable(r.v, arg.PayoutStatus) {
			continue
		}
		seen[r.v.SellerID] = true
		sellers = append(sellers, r.v.SellerID)
	}
	sort.Slice(sellers, func(i, j int) bool { return lessUUID(sellers[i], sellers[j]) })
	if arg.Limit >= 0 && len(sellers) > int(arg.Limit) {
		sellers = sellers[:arg.Limit]
	}
	return sellers, nil
}

func (q *querier) ListPayoutItems(_ context.Context, payoutID pgtype.UUID) ([]repository.TransactionItem, error) {
	defer q.lock()()
	var items []repository.TransactionItem
	for _, r := range q.s.st.txItems {
		if r.v.PayoutID.Valid && r.v.PayoutID == payoutID {
			items = append(items, r.v)
		}
	}
	return sortItems(items), nil
}

func (q *querier) SetPayoutItemsStatus(_ context.Context, arg repository.SetPayoutItemsStatusParams) (int64, error) {
	defer q.lock()()
	var n int64
	for key, r := range q.s.st.txItems {
		if r.v.PayoutID.Valid && r.v.PayoutID == arg.PayoutID {
			r.v.PayoutStatus = arg.PayoutStatus
			r.v.UpdatedAt = q.now()
			q.s.st.txItems[key] = r
			n++
		}
	}
	return n, nil
}

func (q *querier) ReleasePayoutItems(_ context.Context, arg repository.ReleasePayoutItemsParams) (int64, error) {
	defer q.lock()()
	var n int64
	for key, r := range q.s.st.txItems {
		if r.v.PayoutID.Valid && r.v.PayoutID == arg.PayoutID && r.v.PayoutStatus == arg.PayoutStatus {
			r.v.PayoutID = pgtype.UUID{}
			r.v.UpdatedAt = q.now()
			q.s.st.txItems[key] = r
			n++
		}
	}
	return n, nil
}

// ledger

func (q *querier) InsertPayoutHistory(_ context.Context, arg repository.InsertPayoutHistoryParams) (repository.PayoutHistory, error) {
	defer q.lock()()
	if _, ok := q.s.st.accounts[id(arg.AccountID)]; !ok {
		return repository.PayoutHistory{}, &pgconn.PgError{Code: "23503", Message: fmt.Sprintf("account %s does not exist", id(arg.AccountID))}
	}
	h := repository.PayoutHistory{
		ID:            arg.ID,
		EventID:       arg.EventID,
		AccountID:     arg.AccountID,
		Amount:        arg.Amount,
		Kind:          arg.Kind,
		Method:        arg.Method,
		Status:        arg.Status,
		TransactionID: arg.TransactionID,
		OrderID:       arg.OrderID,
		ItemID:        arg.ItemID,
		PayoutID:      arg.PayoutID,
		CreatedAt:     q.now(),
	}
	q.s.st.history = append(q.s.st.history, h)
	return h, nil
}

func (q *querier) ListPayoutHistoryByAccount(_ context.Context, arg repository.ListPayoutHistoryByAccountParams) ([]repository.PayoutHistory, error) {
	defer q.lock()()
	var out []repository.PayoutHistory
	for i := len(q.s.st.history) - 1; i >= 0; i-- {
		if q.s.st.history[i].AccountID == arg.AccountID {
			out = append(out, q.s.st.history[i])
		}
	}
	start := min(int(arg.Offset), len(out))
	end := min(start+int(arg.Limit), len(out))
	return out[start:end], nil
}

func (q *querier) GetLedgerNet(context.Context) (int64, error) {
	defer q.lock()()
	var net int64
	for _, h := range q.s.st.history {
		net += h.Amount
	}
	return net, nil
}

func (q *querier) GetUnbalancedEvents(context.Context) ([]repository.UnbalancedEvent, error) {
	defer q.lock()()
	sums := make(map[pgtype.UUID]int64)
	for _, h := range q.s.st.history {
		sums[h.EventID] += h.Amount
	}
	var out []repository.UnbalancedEvent
	for eventID, net := range sums {
		if net != 0 {
			out = append(out, repository.UnbalancedEvent{EventID: eventID, NetAmount: net})
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessUUID(out[i].EventID, out[j].EventID) })
	return out, nil
}

// payouts

func (q *querier) InsertPayout(_ context.Context, arg repository.InsertPayoutParams) (repository.Payout, error) {
	defer q.lock()()
	for _, r := range q.s.st.payouts {
		if r.v.Reference == arg.Reference {
			return repository.Payout{}, uniqueViolation("payouts_reference_key")
		}
		if r.v.SellerID == arg.SellerID && r.v.Status == "processing" && arg.Status == "processing" {
			return repository.Payout{}, uniqueViolation("uq_payouts_processing_seller")
		}
	}
	p := repository.Payout{
		ID:          arg.ID,
		SellerID:    arg.SellerID,
		Method:      arg.Method,
		GrossAmount: arg.GrossAmount,
		TransferFee: arg.TransferFee,
		NetAmount:   arg.NetAmount,
		ItemCount:   arg.ItemCount,
		Status:      arg.Status,
		Reference:   arg.Reference,
		CreatedAt:   q.now(),
		UpdatedAt:   q.now(),
	}
	q.s.st.payouts[id(arg.ID)] = row[repository.Payout]{seq: q.next(), v: p}
	return p, nil
}

func (q *querier) GetPayout(_ context.Context, payoutID pgtype.UUID) (repository.Payout, error) {
	defer q.lock()()
	r, ok := q.s.st.payouts[id(payoutID)]
	if !ok {
		return repository.Payout{}, pgx.ErrNoRows
	}
	return r.v, nil
}

func (q *querier) GetPayoutForUpdate(ctx context.Context, payoutID pgtype.UUID) (repository.Payout, error) {
	return q.GetPayout(ctx, payoutID)
}

func (q *querier) UpdatePayoutStatus(_ context.Context, arg repository.UpdatePayoutStatusParams) (int64, error) {
	defer q.lock()()
	r, ok := q.s.st.payouts[id(arg.ID)]
	if !ok {
		return 0, nil
	}
	r.v.Status = arg.Status
	if arg.GatewayRef != nil {
		r.v.GatewayRef = arg.GatewayRef
	}
	r.v.UpdatedAt = q.now()
	q.s.st.payouts[id(arg.ID)] = r
	return 1, nil
}

func (q *querier) GetStaleProcessingPayouts(_ context.Context, arg repository.GetStaleProcessingPayoutsParams) ([]repository.Payout, error) {
	defer q.lock()()
	var rows []row[repository.Payout]
	for _, r := range q.s.st.payouts {
		if r.v.Status == "processing" && r.v.UpdatedAt.Time.Before(arg.UpdatedBefore.Time) {
			rows = append(rows, r)
		}
	}
	out := sortedBySeq(rows)
	if len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (q *querier) ListPayoutsByStatus(_ context.Context, arg repository.ListPayoutsByStatusParams) ([]repository.Payout, error) {
	defer q.lock()()
	var rows []row[repository.Payout]
	for _, r := range q.s.st.payouts {
		if r.v.Status == arg.Status {
			rows = append(rows, r)
		}
	}
	out := sortedBySeq(rows)
	if len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (q *querier) CountPayoutsByStatus(_ context.Context, status string) (int64, error) {
	defer q.lock()()
	var n int64
	for _, r := range q.s.st.payouts {
		if r.v.Status == status {
			n++
		}
	}
	return n, nil
}

// audit

func (q *querier) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) (repository.AuditLog, error) {
	defer q.lock()()
	entry := repository.AuditLog{
		ID:         int64(len(q.s.st.audit) + 1),
		EntityType: arg.EntityType,
		EntityID:   arg.EntityID,
		ActorID:    arg.ActorID,
		Action:     arg.Action,
		PrevState:  arg.PrevState,
		NextState:  arg.NextState,
		Metadata:   arg.Metadata,
		CreatedAt:  q.now(),
	}
	q.s.st.audit = append(q.s.st.audit, entry)
	return entry, nil
}

// idempotency

func (q *querier) GetIdempotencyKey(_ context.Context, key string) (repository.IdempotencyKey, error) {
	defer q.lock()()
	rec, ok := q.s.st.idempotency[key]
	if !ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	return rec, nil
}

func (q *querier) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	defer q.lock()()
	if _, ok := q.s.st.idempotency[arg.IdempotencyKey]; ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	rec := repository.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		Method:         arg.Method,
		Path:           arg.Path,
		InProgress:     true,
		CreatedAt:      q.now(),
		UpdatedAt:      q.now(),
	}
	q.s.st.idempotency[arg.IdempotencyKey] = rec
	return rec, nil
}

func (q *querier) ReleaseIdempotencyKey(_ context.Context, arg repository.ReleaseIdempotencyKeyParams) (int64, error) {
	defer q.lock()()
	rec, ok := q.s.st.idempotency[arg.IdempotencyKey]
	if !ok || rec.RequestHash != arg.RequestHash || !rec.InProgress {
		return 0, nil
	}
	delete(q.s.st.idempotency, arg.IdempotencyKey)
	return 1, nil
}

func (q *querier) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	defer q.lock()()
	rec, ok := q.s.st.idempotency[arg.IdempotencyKey]
	if !ok || rec.RequestHash != arg.RequestHash {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	rec.ResponseStatus = arg.ResponseStatus
	rec.ResponseBody = arg.ResponseBody
	rec.ContentType = arg.ContentType
	rec.InProgress = false
	rec.UpdatedAt = q.now()
	q.s.st.idempotency[arg.IdempotencyKey] = rec
	return rec, nil
}
