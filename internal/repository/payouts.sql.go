package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const payoutColumns = `id, seller_id, method, gross_amount, transfer_fee, net_amount, item_count, status, reference, gateway_ref, created_at, updated_at`

func scanPayout(row interface{ Scan(...any) error }) (Payout, error) {
	var i Payout
	err := row.Scan(
		&i.ID,
		&i.SellerID,
		&i.Method,
		&i.GrossAmount,
		&i.TransferFee,
		&i.NetAmount,
		&i.ItemCount,
		&i.Status,
		&i.Reference,
		&i.GatewayRef,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectPayouts(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]Payout, error) {
	defer rows.Close()
	var items []Payout
	for rows.Next() {
		i, err := scanPayout(rows)
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

const insertPayout = `-- name: InsertPayout :one
INSERT INTO payouts (id, seller_id, method, gross_amount, transfer_fee, net_amount, item_count, status, reference)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + payoutColumns

type InsertPayoutParams struct {
	ID          pgtype.UUID `json:"id"`
	SellerID    pgtype.UUID `json:"seller_id"`
	Method      string      `json:"method"`
	GrossAmount int64       `json:"gross_amount"`
	TransferFee int64       `json:"transfer_fee"`
	NetAmount   int64       `json:"net_amount"`
	ItemCount   int32       `json:"item_count"`
	Status      string      `json:"status"`
	Reference   string      `json:"reference"`
}

func (q *Queries) InsertPayout(ctx context.Context, arg InsertPayoutParams) (Payout, error) {
	row := q.db.QueryRow(ctx, insertPayout,
		arg.ID,
		arg.SellerID,
		arg.Method,
		arg.GrossAmount,
		arg.TransferFee,
		arg.NetAmount,
		arg.ItemCount,
		arg.Status,
		arg.Reference,
	)
	return scanPayout(row)
}

const getPayout = `-- name: GetPayout :one
SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`

func (q *Queries) GetPayout(ctx context.Context, id pgtype.UUID) (Payout, error) {
	return scanPayout(q.db.QueryRow(ctx, getPayout, id))
}

const getPayoutForUpdate = `-- name: GetPayoutForUpdate :one
SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1 FOR UPDATE`

func (q *Queries) GetPayoutForUpdate(ctx context.Context, id pgtype.UUID) (Payout, error) {
	return scanPayout(q.db.QueryRow(ctx, getPayoutForUpdate, id))
}

const updatePayoutStatus = `-- name: UpdatePayoutStatus :execrows
UPDATE payouts
SET status = $2, gateway_ref = COALESCE($3, gateway_ref), updated_at = NOW()
WHERE id = $1`

type UpdatePayoutStatusParams struct {
	ID         pgtype.UUID `json:"id"`
	Status     string      `json:"status"`
	GatewayRef *string     `json:"gateway_ref"`
}

func (q *Queries) UpdatePayoutStatus(ctx context.Context, arg UpdatePayoutStatusParams) (int64, error) {
	result, err := q.db.Exec(ctx, updatePayoutStatus, arg.ID, arg.Status, arg.GatewayRef)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getStaleProcessingPayouts = `-- name: GetStaleProcessingPayouts :many
SELECT ` + payoutColumns + ` FROM payouts
WHERE status = 'processing' AND updated_at < $1
ORDER BY updated_at
LIMIT $2
FOR UPDATE SKIP LOCKED`

type GetStaleProcessingPayoutsParams struct {
	UpdatedBefore pgtype.Timestamptz `json:"updated_before"`
	Limit         int32              `json:"limit"`
}

func (q *Queries) GetStaleProcessingPayouts(ctx context.Context, arg GetStaleProcessingPayoutsParams) ([]Payout, error) {
	rows, err := q.db.Query(ctx, getStaleProcessingPayouts, arg.UpdatedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

const listPayoutsByStatus = `-- name: ListPayoutsByStatus :many
SELECT ` + payoutColumns + ` FROM payouts
WHERE status = $1
ORDER BY created_at
LIMIT $2`

type ListPayoutsByStatusParams struct {
	Status string `json:"status"`
	Limit  int32  `json:"limit"`
}

func (q *Queries) ListPayoutsByStatus(ctx context.Context, arg ListPayoutsByStatusParams) ([]Payout, error) {
	rows, err := q.db.Query(ctx, listPayoutsByStatus, arg.Status, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

const countPayoutsByStatus = `-- name: CountPayoutsByStatus :one
SELECT COUNT(*) FROM payouts WHERE status = $1`

func (q *Queries) CountPayoutsByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countPayoutsByStatus, status).Scan(&count)
	return count, err
}
