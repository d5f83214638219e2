package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	AddAccountBalance(ctx context.Context, arg AddAccountBalanceParams) (int64, error)
	AdjustPendingOrders(ctx context.Context, arg AdjustPendingOrdersParams) (int64, error)
	AdjustProductStock(ctx context.Context, arg AdjustProductStockParams) (int64, error)
	CountPayoutsByStatus(ctx context.Context, status string) (int64, error)
	CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error)
	CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error)
	CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error)
	CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error)
	CreateTransaction(ctx context.Context, arg CreateTransactionParams) (Transaction, error)
	CreateTransactionItem(ctx context.Context, arg CreateTransactionItemParams) (TransactionItem, error)
	DeletePendingTransaction(ctx context.Context, id pgtype.UUID) (int64, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error)
	GetAccount(ctx context.Context, id pgtype.UUID) (Account, error)
	GetAccountForUpdate(ctx context.Context, id pgtype.UUID) (Account, error)
	GetAccountLedgerMismatches(ctx context.Context) ([]AccountLedgerMismatch, error)
	GetActiveTransactionForOrder(ctx context.Context, orderID pgtype.UUID) (Transaction, error)
	GetIdempotencyKey(ctx context.Context, idempotencyKey string) (IdempotencyKey, error)
	GetLedgerNet(ctx context.Context) (int64, error)
	GetOrder(ctx context.Context, id pgtype.UUID) (Order, error)
	GetOrderForUpdate(ctx context.Context, id pgtype.UUID) (Order, error)
	GetOrderItem(ctx context.Context, id pgtype.UUID) (OrderItem, error)
	GetPayout(ctx context.Context, id pgtype.UUID) (Payout, error)
	GetPayoutForUpdate(ctx context.Context, id pgtype.UUID) (Payout, error)
	GetProduct(ctx context.Context, id pgtype.UUID) (Product, error)
	GetStaleProcessingPayouts(ctx context.Context, arg GetStaleProcessingPayoutsParams) ([]Payout, error)
	GetTransaction(ctx context.Context, id pgtype.UUID) (Transaction, error)
	GetTransactionByReference(ctx context.Context, gatewayReference string) (Transaction, error)
	GetTransactionByReferenceForUpdate(ctx context.Context, gatewayReference string) (Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id pgtype.UUID) (Transaction, error)
	GetTransactionItemForUpdate(ctx context.Context, arg GetTransactionItemParams) (TransactionItem, error)
	GetUnbalancedEvents(ctx context.Context) ([]UnbalancedEvent, error)
	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (AuditLog, error)
	InsertPayout(ctx context.Context, arg InsertPayoutParams) (Payout, error)
	InsertPayoutHistory(ctx context.Context, arg InsertPayoutHistoryParams) (PayoutHistory, error)
	LinkOrderTransaction(ctx context.Context, arg LinkOrderTransactionParams) (int64, error)
	ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]OrderItem, error)
	ListPayableItems(ctx context.Context, arg ListPayableItemsParams) ([]TransactionItem, error)
	ListPayoutHistoryByAccount(ctx context.Context, arg ListPayoutHistoryByAccountParams) ([]PayoutHistory, error)
	ListPayoutItems(ctx context.Context, payoutID pgtype.UUID) ([]TransactionItem, error)
	ListPayoutsByStatus(ctx context.Context, arg ListPayoutsByStatusParams) ([]Payout, error)
	ListSellersWithPayableItems(ctx context.Context, arg ListSellersWithPayableItemsParams) ([]pgtype.UUID, error)
	ListStalePendingTransactions(ctx context.Context, arg ListStalePendingTransactionsParams) ([]Transaction, error)
	ListTransactionItems(ctx context.Context, transactionID pgtype.UUID) ([]TransactionItem, error)
	ReleaseIdempotencyKey(ctx context.Context, arg ReleaseIdempotencyKeyParams) (int64, error)
	ReleasePayoutItems(ctx context.Context, arg ReleasePayoutItemsParams) (int64, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKey, error)
	SetPayoutItemsStatus(ctx context.Context, arg SetPayoutItemsStatusParams) (int64, error)
	SetTransactionSettlement(ctx context.Context, arg SetTransactionSettlementParams) (int64, error)
	UnlinkOrderTransaction(ctx context.Context, arg UnlinkOrderTransactionParams) (int64, error)
	UpdateOrderItemStatus(ctx context.Context, arg UpdateOrderItemStatusParams) (int64, error)
	UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (int64, error)
	UpdateOrderTotal(ctx context.Context, arg UpdateOrderTotalParams) (int64, error)
	UpdatePayoutStatus(ctx context.Context, arg UpdatePayoutStatusParams) (int64, error)
	UpdateTransactionItemPayout(ctx context.Context, arg UpdateTransactionItemPayoutParams) (int64, error)
	UpdateTransactionItemRefund(ctx context.Context, arg UpdateTransactionItemRefundParams) (int64, error)
	UpdateTransactionItemReturn(ctx context.Context, arg UpdateTransactionItemReturnParams) (int64, error)
	UpdateTransactionItemSplit(ctx context.Context, arg UpdateTransactionItemSplitParams) (int64, error)
	UpdateTransactionReference(ctx context.Context, arg UpdateTransactionReferenceParams) (int64, error)
	UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error)
}
