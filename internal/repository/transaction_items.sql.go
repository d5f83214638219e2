package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const transactionItemColumns = `ti.transaction_id, ti.item_id, ti.seller_id, ti.item_amount, ti.platform_commission, ti.seller_share,
	ti.prorated_fee, ti.transfer_fee, ti.net_commission, ti.owed_amount, ti.payout_status, ti.refund_status,
	ti.refunded_amount, ti.refund_reference, ti.return_status, ti.payout_id, ti.updated_at`

func scanTransactionItem(row interface{ Scan(...any) error }) (TransactionItem, error) {
	var i TransactionItem
	err := row.Scan(
		&i.TransactionID,
		&i.ItemID,
		&i.SellerID,
		&i.ItemAmount,
		&i.PlatformCommission,
		&i.SellerShare,
		&i.ProratedFee,
		&i.TransferFee,
		&i.NetCommission,
		&i.OwedAmount,
		&i.PayoutStatus,
		&i.RefundStatus,
		&i.RefundedAmount,
		&i.RefundReference,
		&i.ReturnStatus,
		&i.PayoutID,
		&i.UpdatedAt,
	)
	return i, err
}

func collectTransactionItems(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]TransactionItem, error) {
	defer rows.Close()
	var items []TransactionItem
	for rows.Next() {
		i, err := scanTransactionItem(rows)
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

const createTransactionItem = `-- name: CreateTransactionItem :one
INSERT INTO transaction_items AS ti (
	transaction_id, item_id, seller_id, item_amount, platform_commission, seller_share,
	prorated_fee, transfer_fee, net_commission, owed_amount, payout_status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + transactionItemColumns

type CreateTransactionItemParams struct {
	TransactionID      pgtype.UUID `json:"transaction_id"`
	ItemID             pgtype.UUID `json:"item_id"`
	SellerID           pgtype.UUID `json:"seller_id"`
	ItemAmount         int64       `json:"item_amount"`
	PlatformCommission int64       `json:"platform_commission"`
	SellerShare        int64       `json:"seller_share"`
	ProratedFee        int64       `json:"prorated_fee"`
	TransferFee        int64       `json:"transfer_fee"`
	NetCommission      int64       `json:"net_commission"`
	OwedAmount         int64       `json:"owed_amount"`
	PayoutStatus       string      `json:"payout_status"`
}

func (q *Queries) CreateTransactionItem(ctx context.Context, arg CreateTransactionItemParams) (TransactionItem, error) {
	row := q.db.QueryRow(ctx, createTransactionItem,
		arg.TransactionID,
		arg.ItemID,
		arg.SellerID,
		arg.ItemAmount,
		arg.PlatformCommission,
		arg.SellerShare,
		arg.ProratedFee,
		arg.TransferFee,
		arg.NetCommission,
		arg.OwedAmount,
		arg.PayoutStatus,
	)
	return scanTransactionItem(row)
}

const getTransactionItemForUpdate = `-- name: GetTransactionItemForUpdate :one
SELECT ` + transactionItemColumns + ` FROM transaction_items ti
WHERE ti.transaction_id = $1 AND ti.item_id = $2
FOR UPDATE`

type GetTransactionItemParams struct {
	TransactionID pgtype.UUID `json:"transaction_id"`
	ItemID        pgtype.UUID `json:"item_id"`
}

func (q *Queries) GetTransactionItemForUpdate(ctx context.Context, arg GetTransactionItemParams) (TransactionItem, error) {
	return scanTransactionItem(q.db.QueryRow(ctx, getTransactionItemForUpdate, arg.TransactionID, arg.ItemID))
}

const listTransactionItems = `-- name: ListTransactionItems :many
SELECT ` + transactionItemColumns + ` FROM transaction_items ti
WHERE ti.transaction_id = $1
ORDER BY ti.item_id`

func (q *Queries) ListTransactionItems(ctx context.Context, transactionID pgtype.UUID) ([]TransactionItem, error) {
	rows, err := q.db.Query(ctx, listTransactionItems, transactionID)
	if err != nil {
		return nil, err
	}
	return collectTransactionItems(rows)
}

const updateTransactionItemSplit = `-- name: UpdateTransactionItemSplit :execrows
UPDATE transaction_items
SET platform_commission = $3, seller_share = $4, prorated_fee = $5, transfer_fee = $6,
	net_commission = $7, owed_amount = $8, updated_at = NOW()
WHERE transaction_id = $1 AND item_id = $2`

type UpdateTransactionItemSplitParams struct {
	TransactionID      pgtype.UUID `json:"transaction_id"`
	ItemID             pgtype.UUID `json:"item_id"`
	PlatformCommission int64       `json:"platform_commission"`
	SellerShare        int64       `json:"seller_share"`
	ProratedFee        int64       `json:"prorated_fee"`
	TransferFee        int64       `json:"transfer_fee"`
	NetCommission      int64       `json:"net_commission"`
	OwedAmount         int64       `json:"owed_amount"`
}

func (q *Queries) UpdateTransactionItemSplit(ctx context.Context, arg UpdateTransactionItemSplitParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateTransactionItemSplit,
		arg.TransactionID,
		arg.ItemID,
		arg.PlatformCommission,
		arg.SellerShare,
		arg.ProratedFee,
		arg.TransferFee,
		arg.NetCommission,
		arg.OwedAmount,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateTransactionItemRefund = `-- name: UpdateTransactionItemRefund :execrows
UPDATE transaction_items
SET refund_status = $3, refunded_amount = $4, refund_reference = COALESCE($5, refund_reference), updated_at = NOW()
WHERE transaction_id = $1 AND item_id = $2`

type UpdateTransactionItemRefundParams struct {
	TransactionID   pgtype.UUID `json:"transaction_id"`
	ItemID          pgtype.UUID `json:"item_id"`
	RefundStatus    string      `json:"refund_status"`
	RefundedAmount  int64       `json:"refunded_amount"`
	RefundReference *string     `json:"refund_reference"`
}

func (q *Queries) UpdateTransactionItemRefund(ctx context.Context, arg UpdateTransactionItemRefundParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateTransactionItemRefund,
		arg.TransactionID,
		arg.ItemID,
		arg.RefundStatus,
		arg.RefundedAmount,
		arg.RefundReference,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateTransactionItemReturn = `-- name: UpdateTransactionItemReturn :execrows
UPDATE transaction_items SET return_status = $3, updated_at = NOW()
WHERE transaction_id = $1 AND item_id = $2`

type UpdateTransactionItemReturnParams struct {
	TransactionID pgtype.UUID `json:"transaction_id"`
	ItemID        pgtype.UUID `json:"item_id"`
	ReturnStatus  string      `json:"return_status"`
}

func (q *Queries) UpdateTransactionItemReturn(ctx context.Context, arg UpdateTransactionItemReturnParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateTransactionItemReturn, arg.TransactionID, arg.ItemID, arg.ReturnStatus)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateTransactionItemPayout = `-- name: UpdateTransactionItemPayout :execrows
UPDATE transaction_items SET payout_status = $3, payout_id = $4, updated_at = NOW()
WHERE transaction_id = $1 AND item_id = $2`

type UpdateTransactionItemPayoutParams struct {
	TransactionID pgtype.UUID `json:"transaction_id"`
	ItemID        pgtype.UUID `json:"item_id"`
	PayoutStatus  string      `json:"payout_status"`
	PayoutID      pgtype.UUID `json:"payout_id"`
}

func (q *Queries) UpdateTransactionItemPayout(ctx context.Context, arg UpdateTransactionItemPayoutParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateTransactionItemPayout, arg.TransactionID, arg.ItemID, arg.PayoutStatus, arg.PayoutID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const payableItemsFilter = `
	JOIN transactions t ON t.id = ti.transaction_id
	JOIN order_items oi ON oi.id = ti.item_id
	WHERE t.status = 'completed'
	  AND oi.status = 'delivered'
	  AND ti.payout_status = $2
	  AND ti.payout_id IS NULL
	  AND ti.refund_status = 'none'
	  AND ti.return_status IN ('none', 'rejected')`

const listPayableItems = `-- name: ListPayableItems :many
SELECT ` + transactionItemColumns + ` FROM transaction_items ti` + payableItemsFilter + `
	  AND ti.seller_id = $1
ORDER BY ti.transaction_id, ti.item_id
FOR UPDATE OF ti`

type ListPayableItemsParams struct {
	SellerID     pgtype.UUID `json:"seller_id"`
	PayoutStatus string      `json:"payout_status"`
}

// ListPayableItems locks a seller's paid, delivered, unrefunded items that are not yet in a payout.
func (q *Queries) ListPayableItems(ctx context.Context, arg ListPayableItemsParams) ([]TransactionItem, error) {
	rows, err := q.db.Query(ctx, listPayableItems, arg.SellerID, arg.PayoutStatus)
	if err != nil {
		return nil, err
	}
	return collectTransactionItems(rows)
}

const listSellersWithPayableItems = `-- name: ListSellersWithPayableItems :many
SELECT DISTINCT ti.seller_id FROM transaction_items ti` + payableItemsFilter + `
	  AND NOT EXISTS (
		SELECT 1 FROM payouts p WHERE p.seller_id = ti.seller_id AND p.status = 'processing'
	  )
ORDER BY ti.seller_id
LIMIT $1`

type ListSellersWithPayableItemsParams struct {
	Limit        int32  `json:"limit"`
	PayoutStatus string `json:"payout_status"`
}

func (q *Queries) ListSellersWithPayableItems(ctx context.Context, arg ListSellersWithPayableItemsParams) ([]pgtype.UUID, error) {
	rows, err := q.db.Query(ctx, listSellersWithPayableItems, arg.Limit, arg.PayoutStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []pgtype.UUID
	for rows.Next() {
		var sellerID pgtype.UUID
		if err := rows.Scan(&sellerID); err != nil {
			return nil, err
		}
		items = append(items, sellerID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPayoutItems = `-- name: ListPayoutItems :many
SELECT ` + transactionItemColumns + ` FROM transaction_items ti
WHERE ti.payout_id = $1
ORDER BY ti.transaction_id, ti.item_id
FOR UPDATE`

func (q *Queries) ListPayoutItems(ctx context.Context, payoutID pgtype.UUID) ([]TransactionItem, error) {
	rows, err := q.db.Query(ctx, listPayoutItems, payoutID)
	if err != nil {
		return nil, err
	}
	return collectTransactionItems(rows)
}

const setPayoutItemsStatus = `-- name: SetPayoutItemsStatus :execrows
UPDATE transaction_items SET payout_status = $2, updated_at = NOW()
WHERE payout_id = $1`

type SetPayoutItemsStatusParams struct {
	PayoutID     pgtype.UUID `json:"payout_id"`
	PayoutStatus string      `json:"payout_status"`
}

func (q *Queries) SetPayoutItemsStatus(ctx context.Context, arg SetPayoutItemsStatusParams) (int64, error) {
	result, err := q.db.Exec(ctx, setPayoutItemsStatus, arg.PayoutID, arg.PayoutStatus)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const releasePayoutItems = `-- name: ReleasePayoutItems :execrows
UPDATE transaction_items SET payout_id = NULL, updated_at = NOW()
WHERE payout_id = $1 AND payout_status = $2`

type ReleasePayoutItemsParams struct {
	PayoutID     pgtype.UUID `json:"payout_id"`
	PayoutStatus string      `json:"payout_status"`
}

// ReleasePayoutItems detaches items still in PayoutStatus so a later payout can claim them.
func (q *Queries) ReleasePayoutItems(ctx context.Context, arg ReleasePayoutItemsParams) (int64, error) {
	result, err := q.db.Exec(ctx, releasePayoutItems, arg.PayoutID, arg.PayoutStatus)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
