package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, customer_id, total_amount, status, delivery_address, transaction_id, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.CustomerID,
		&i.TotalAmount,
		&i.Status,
		&i.DeliveryAddress,
		&i.TransactionID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (id, customer_id, total_amount, status, delivery_address)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	ID              pgtype.UUID `json:"id"`
	CustomerID      pgtype.UUID `json:"customer_id"`
	TotalAmount     int64       `json:"total_amount"`
	Status          string      `json:"status"`
	DeliveryAddress string      `json:"delivery_address"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.ID,
		arg.CustomerID,
		arg.TotalAmount,
		arg.Status,
		arg.DeliveryAddress,
	)
	return scanOrder(row)
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id pgtype.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderForUpdate = `-- name: GetOrderForUpdate :one
SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id pgtype.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

const updateOrderStatus = `-- name: UpdateOrderStatus :execrows
UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`

type UpdateOrderStatusParams struct {
	ID     pgtype.UUID `json:"id"`
	Status string      `json:"status"`
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateOrderStatus, arg.ID, arg.Status)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateOrderTotal = `-- name: UpdateOrderTotal :execrows
UPDATE orders SET total_amount = $2, updated_at = NOW() WHERE id = $1`

type UpdateOrderTotalParams struct {
	ID          pgtype.UUID `json:"id"`
	TotalAmount int64       `json:"total_amount"`
}

func (q *Queries) UpdateOrderTotal(ctx context.Context, arg UpdateOrderTotalParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateOrderTotal, arg.ID, arg.TotalAmount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const linkOrderTransaction = `-- name: LinkOrderTransaction :execrows
UPDATE orders SET transaction_id = $2, updated_at = NOW() WHERE id = $1`

type LinkOrderTransactionParams struct {
	ID            pgtype.UUID `json:"id"`
	TransactionID pgtype.UUID `json:"transaction_id"`
}

func (q *Queries) LinkOrderTransaction(ctx context.Context, arg LinkOrderTransactionParams) (int64, error) {
	result, err := q.db.Exec(ctx, linkOrderTransaction, arg.ID, arg.TransactionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const unlinkOrderTransaction = `-- name: UnlinkOrderTransaction :execrows
UPDATE orders SET transaction_id = NULL, updated_at = NOW()
WHERE id = $1 AND transaction_id = $2`

type UnlinkOrderTransactionParams struct {
	ID            pgtype.UUID `json:"id"`
	TransactionID pgtype.UUID `json:"transaction_id"`
}

// UnlinkOrderTransaction only clears the link when it still points at TransactionID.
func (q *Queries) UnlinkOrderTransaction(ctx context.Context, arg UnlinkOrderTransactionParams) (int64, error) {
	result, err := q.db.Exec(ctx, unlinkOrderTransaction, arg.ID, arg.TransactionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const orderItemColumns = `id, order_id, seller_id, product_id, quantity, unit_price, status, cancelled, created_at, updated_at`

func scanOrderItem(row interface{ Scan(...any) error }) (OrderItem, error) {
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.SellerID,
		&i.ProductID,
		&i.Quantity,
		&i.UnitPrice,
		&i.Status,
		&i.Cancelled,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (id, order_id, seller_id, product_id, quantity, unit_price, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + orderItemColumns

type CreateOrderItemParams struct {
	ID        pgtype.UUID `json:"id"`
	OrderID   pgtype.UUID `json:"order_id"`
	SellerID  pgtype.UUID `json:"seller_id"`
	ProductID pgtype.UUID `json:"product_id"`
	Quantity  int32       `json:"quantity"`
	UnitPrice int64       `json:"unit_price"`
	Status    string      `json:"status"`
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.ID,
		arg.OrderID,
		arg.SellerID,
		arg.ProductID,
		arg.Quantity,
		arg.UnitPrice,
		arg.Status,
	)
	return scanOrderItem(row)
}

const getOrderItem = `-- name: GetOrderItem :one
SELECT ` + orderItemColumns + ` FROM order_items WHERE id = $1`

func (q *Queries) GetOrderItem(ctx context.Context, id pgtype.UUID) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, getOrderItem, id))
}

const listOrderItems = `-- name: ListOrderItems :many
SELECT ` + orderItemColumns + ` FROM order_items
WHERE order_id = $1
ORDER BY created_at, id`

func (q *Queries) ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItems, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		i, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateOrderItemStatus = `-- name: UpdateOrderItemStatus :execrows
UPDATE order_items SET status = $2, cancelled = $3, updated_at = NOW() WHERE id = $1`

type UpdateOrderItemStatusParams struct {
	ID        pgtype.UUID `json:"id"`
	Status    string      `json:"status"`
	Cancelled bool        `json:"cancelled"`
}

func (q *Queries) UpdateOrderItemStatus(ctx context.Context, arg UpdateOrderItemStatusParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateOrderItemStatus, arg.ID, arg.Status, arg.Cancelled)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
