package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const transactionColumns = `id, order_id, gateway_reference, payment_id, total_amount, delivery_fee, gateway_fee, net_received,
	status, payment_method, buyer_email, buyer_phone, paid_at, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (Transaction, error) {
	var i Transaction
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.GatewayReference,
		&i.PaymentID,
		&i.TotalAmount,
		&i.DeliveryFee,
		&i.GatewayFee,
		&i.NetReceived,
		&i.Status,
		&i.PaymentMethod,
		&i.BuyerEmail,
		&i.BuyerPhone,
		&i.PaidAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createTransaction = `-- name: CreateTransaction :one
INSERT INTO transactions (id, order_id, gateway_reference, total_amount, delivery_fee, status, payment_method, buyer_email, buyer_phone)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + transactionColumns

type CreateTransactionParams struct {
	ID               pgtype.UUID `json:"id"`
	OrderID          pgtype.UUID `json:"order_id"`
	GatewayReference string      `json:"gateway_reference"`
	TotalAmount      int64       `json:"total_amount"`
	DeliveryFee      int64       `json:"delivery_fee"`
	Status           string      `json:"status"`
	PaymentMethod    string      `json:"payment_method"`
	BuyerEmail       *string     `json:"buyer_email"`
	BuyerPhone       *string     `json:"buyer_phone"`
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (Transaction, error) {
	row := q.db.QueryRow(ctx, createTransaction,
		arg.ID,
		arg.OrderID,
		arg.GatewayReference,
		arg.TotalAmount,
		arg.DeliveryFee,
		arg.Status,
		arg.PaymentMethod,
		arg.BuyerEmail,
		arg.BuyerPhone,
	)
	return scanTransaction(row)
}

const getTransaction = `-- name: GetTransaction :one
SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

func (q *Queries) GetTransaction(ctx context.Context, id pgtype.UUID) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransaction, id))
}

const getTransactionForUpdate = `-- name: GetTransactionForUpdate :one
SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

func (q *Queries) GetTransactionForUpdate(ctx context.Context, id pgtype.UUID) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionForUpdate, id))
}

const getTransactionByReference = `-- name: GetTransactionByReference :one
SELECT ` + transactionColumns + ` FROM transactions WHERE gateway_reference = $1`

func (q *Queries) GetTransactionByReference(ctx context.Context, gatewayReference string) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionByReference, gatewayReference))
}

const getTransactionByReferenceForUpdate = `-- name: GetTransactionByReferenceForUpdate :one
SELECT ` + transactionColumns + ` FROM transactions WHERE gateway_reference = $1 FOR UPDATE`

func (q *Queries) GetTransactionByReferenceForUpdate(ctx context.Context, gatewayReference string) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionByReferenceForUpdate, gatewayReference))
}

const getActiveTransactionForOrder = `-- name: GetActiveTransactionForOrder :one
SELECT ` + transactionColumns + ` FROM transactions
WHERE order_id = $1 AND status IN ('pending', 'gateway_initiated', 'completed', 'reversed')
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) GetActiveTransactionForOrder(ctx context.Context, orderID pgtype.UUID) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getActiveTransactionForOrder, orderID))
}

const listStalePendingTransactions = `-- name: ListStalePendingTransactions :many
SELECT ` + transactionColumns + ` FROM transactions
WHERE status = 'pending' AND payment_method = $1 AND updated_at < $2
ORDER BY updated_at
LIMIT $3
FOR UPDATE SKIP LOCKED`

type ListStalePendingTransactionsParams struct {
	PaymentMethod string             `json:"payment_method"`
	UpdatedBefore pgtype.Timestamptz `json:"updated_before"`
	Limit         int32              `json:"limit"`
}

func (q *Queries) ListStalePendingTransactions(ctx context.Context, arg ListStalePendingTransactionsParams) ([]Transaction, error) {
	rows, err := q.db.Query(ctx, listStalePendingTransactions, arg.PaymentMethod, arg.UpdatedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const updateTransactionStatus = `-- name: UpdateTransactionStatus :execrows
UPDATE transactions SET status = $2, updated_at = NOW() WHERE id = $1`

type UpdateTransactionStatusParams struct {
	ID     pgtype.UUID `json:"id"`
	Status string      `json:"status"`
}

func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateTransactionStatus, arg.ID, arg.Status)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateTransactionReference = `-- name: UpdateTransactionReference :execrows
UPDATE transactions
SET gateway_reference = $2, status = 'gateway_initiated', updated_at = NOW()
WHERE id = $1 AND status = 'pending'`

type UpdateTransactionReferenceParams struct {
	ID               pgtype.UUID `json:"id"`
	GatewayReference string      `json:"gateway_reference"`
}

// UpdateTransactionReference records the gateway's reference and moves a pending row to gateway_initiated.
func (q *Queries) UpdateTransactionReference(ctx context.Context, arg UpdateTransactionReferenceParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateTransactionReference, arg.ID, arg.GatewayReference)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const setTransactionSettlement = `-- name: SetTransactionSettlement :execrows
UPDATE transactions
SET gateway_fee = $2, net_received = $3, paid_at = $4, payment_id = COALESCE($5, payment_id), updated_at = NOW()
WHERE id = $1`

type SetTransactionSettlementParams struct {
	ID          pgtype.UUID        `json:"id"`
	GatewayFee  int64              `json:"gateway_fee"`
	NetReceived int64              `json:"net_received"`
	PaidAt      pgtype.Timestamptz `json:"paid_at"`
	PaymentID   *string            `json:"payment_id"`
}

func (q *Queries) SetTransactionSettlement(ctx context.Context, arg SetTransactionSettlementParams) (int64, error) {
	result, err := q.db.Exec(ctx, setTransactionSettlement,
		arg.ID,
		arg.GatewayFee,
		arg.NetReceived,
		arg.PaidAt,
		arg.PaymentID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deletePendingTransaction = `-- name: DeletePendingTransaction :execrows
DELETE FROM transactions WHERE id = $1 AND status = 'pending'`

func (q *Queries) DeletePendingTransaction(ctx context.Context, id pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deletePendingTransaction, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
