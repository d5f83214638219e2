package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const accountColumns = `id, role, name, email, phone, subaccount_code, balance, pending_orders, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var i Account
	err := row.Scan(
		&i.ID,
		&i.Role,
		&i.Name,
		&i.Email,
		&i.Phone,
		&i.SubaccountCode,
		&i.Balance,
		&i.PendingOrders,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createAccount = `-- name: CreateAccount :one
INSERT INTO accounts (id, role, name, email, phone, subaccount_code)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + accountColumns

type CreateAccountParams struct {
	ID             pgtype.UUID `json:"id"`
	Role           string      `json:"role"`
	Name           string      `json:"name"`
	Email          string      `json:"email"`
	Phone          *string     `json:"phone"`
	SubaccountCode *string     `json:"subaccount_code"`
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error) {
	row := q.db.QueryRow(ctx, createAccount,
		arg.ID,
		arg.Role,
		arg.Name,
		arg.Email,
		arg.Phone,
		arg.SubaccountCode,
	)
	return scanAccount(row)
}

const getAccount = `-- name: GetAccount :one
SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

func (q *Queries) GetAccount(ctx context.Context, id pgtype.UUID) (Account, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccount, id))
}

const getAccountForUpdate = `-- name: GetAccountForUpdate :one
SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

func (q *Queries) GetAccountForUpdate(ctx context.Context, id pgtype.UUID) (Account, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccountForUpdate, id))
}

const addAccountBalance = `-- name: AddAccountBalance :execrows
UPDATE accounts
SET balance = balance + $2, updated_at = NOW()
WHERE id = $1`

type AddAccountBalanceParams struct {
	ID    pgtype.UUID `json:"id"`
	Delta int64       `json:"delta"`
}

func (q *Queries) AddAccountBalance(ctx context.Context, arg AddAccountBalanceParams) (int64, error) {
	result, err := q.db.Exec(ctx, addAccountBalance, arg.ID, arg.Delta)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const adjustPendingOrders = `-- name: AdjustPendingOrders :execrows
UPDATE accounts
SET pending_orders = GREATEST(pending_orders + $2, 0), updated_at = NOW()
WHERE id = $1`

type AdjustPendingOrdersParams struct {
	ID    pgtype.UUID `json:"id"`
	Delta int32       `json:"delta"`
}

func (q *Queries) AdjustPendingOrders(ctx context.Context, arg AdjustPendingOrdersParams) (int64, error) {
	result, err := q.db.Exec(ctx, adjustPendingOrders, arg.ID, arg.Delta)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const productColumns = `id, seller_id, name, unit_price, stock, available, created_at`

func scanProduct(row interface{ Scan(...any) error }) (Product, error) {
	var i Product
	err := row.Scan(
		&i.ID,
		&i.SellerID,
		&i.Name,
		&i.UnitPrice,
		&i.Stock,
		&i.Available,
		&i.CreatedAt,
	)
	return i, err
}

const createProduct = `-- name: CreateProduct :one
INSERT INTO products (id, seller_id, name, unit_price, stock, available)
VALUES ($1, $2, $3, $4, $5, $5 > 0)
RETURNING ` + productColumns

type CreateProductParams struct {
	ID        pgtype.UUID `json:"id"`
	SellerID  pgtype.UUID `json:"seller_id"`
	Name      string      `json:"name"`
	UnitPrice int64       `json:"unit_price"`
	Stock     int32       `json:"stock"`
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, createProduct,
		arg.ID,
		arg.SellerID,
		arg.Name,
		arg.UnitPrice,
		arg.Stock,
	)
	return scanProduct(row)
}

const getProduct = `-- name: GetProduct :one
SELECT ` + productColumns + ` FROM products WHERE id = $1`

func (q *Queries) GetProduct(ctx context.Context, id pgtype.UUID) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, getProduct, id))
}

const adjustProductStock = `-- name: AdjustProductStock :execrows
UPDATE products
SET stock = stock + $2, available = (stock + $2) > 0
WHERE id = $1 AND stock + $2 >= 0`

type AdjustProductStockParams struct {
	ID    pgtype.UUID `json:"id"`
	Delta int32       `json:"delta"`
}

// AdjustProductStock affects no rows when the change would take stock below zero.
func (q *Queries) AdjustProductStock(ctx context.Context, arg AdjustProductStockParams) (int64, error) {
	result, err := q.db.Exec(ctx, adjustProductStock, arg.ID, arg.Delta)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
