package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const payoutHistoryColumns = `id, event_id, account_id, amount, kind, method, status, transaction_id, order_id, item_id, payout_id, created_at`

func scanPayoutHistory(row interface{ Scan(...any) error }) (PayoutHistory, error) {
	var i PayoutHistory
	err := row.Scan(
		&i.ID,
		&i.EventID,
		&i.AccountID,
		&i.Amount,
		&i.Kind,
		&i.Method,
		&i.Status,
		&i.TransactionID,
		&i.OrderID,
		&i.ItemID,
		&i.PayoutID,
		&i.CreatedAt,
	)
	return i, err
}

const insertPayoutHistory = `-- name: InsertPayoutHistory :one
INSERT INTO payout_history (id, event_id, account_id, amount, kind, method, status, transaction_id, order_id, item_id, payout_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + payoutHistoryColumns

type InsertPayoutHistoryParams struct {
	ID            pgtype.UUID `json:"id"`
	EventID       pgtype.UUID `json:"event_id"`
	AccountID     pgtype.UUID `json:"account_id"`
	Amount        int64       `json:"amount"`
	Kind          string      `json:"kind"`
	Method        string      `json:"method"`
	Status        string      `json:"status"`
	TransactionID pgtype.UUID `json:"transaction_id"`
	OrderID       pgtype.UUID `json:"order_id"`
	ItemID        pgtype.UUID `json:"item_id"`
	PayoutID      pgtype.UUID `json:"payout_id"`
}

func (q *Queries) InsertPayoutHistory(ctx context.Context, arg InsertPayoutHistoryParams) (PayoutHistory, error) {
	row := q.db.QueryRow(ctx, insertPayoutHistory,
		arg.ID,
		arg.EventID,
		arg.AccountID,
		arg.Amount,
		arg.Kind,
		arg.Method,
		arg.Status,
		arg.TransactionID,
		arg.OrderID,
		arg.ItemID,
		arg.PayoutID,
	)
	return scanPayoutHistory(row)
}

const listPayoutHistoryByAccount = `-- name: ListPayoutHistoryByAccount :many
SELECT ` + payoutHistoryColumns + ` FROM payout_history
WHERE account_id = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`

type ListPayoutHistoryByAccountParams struct {
	AccountID pgtype.UUID `json:"account_id"`
	Limit     int32       `json:"limit"`
	Offset    int32       `json:"offset"`
}

func (q *Queries) ListPayoutHistoryByAccount(ctx context.Context, arg ListPayoutHistoryByAccountParams) ([]PayoutHistory, error) {
	rows, err := q.db.Query(ctx, listPayoutHistoryByAccount, arg.AccountID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PayoutHistory
	for rows.Next() {
		i, err := scanPayoutHistory(rows)
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

const getLedgerNet = `-- name: GetLedgerNet :one
SELECT COALESCE(SUM(amount), 0)::bigint FROM payout_history`

// GetLedgerNet is the signed sum of every history entry; a balanced ledger returns zero.
func (q *Queries) GetLedgerNet(ctx context.Context) (int64, error) {
	var net int64
	err := q.db.QueryRow(ctx, getLedgerNet).Scan(&net)
	return net, err
}

const getUnbalancedEvents = `-- name: GetUnbalancedEvents :many
SELECT event_id, SUM(amount)::bigint AS net_amount
FROM payout_history
GROUP BY event_id
HAVING SUM(amount) <> 0
ORDER BY event_id`

func (q *Queries) GetUnbalancedEvents(ctx context.Context) ([]UnbalancedEvent, error) {
	rows, err := q.db.Query(ctx, getUnbalancedEvents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UnbalancedEvent
	for rows.Next() {
		var i UnbalancedEvent
		if err := rows.Scan(&i.EventID, &i.NetAmount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getAccountLedgerMismatches = `-- name: GetAccountLedgerMismatches :many
SELECT a.id, a.balance, COALESCE(SUM(h.amount), 0)::bigint AS ledger_sum
FROM accounts a
LEFT JOIN payout_history h ON h.account_id = a.id
GROUP BY a.id, a.balance
HAVING a.balance <> COALESCE(SUM(h.amount), 0)
ORDER BY a.id`

type AccountLedgerMismatch struct {
	AccountID pgtype.UUID `json:"account_id"`
	Balance   int64       `json:"balance"`
	LedgerSum int64       `json:"ledger_sum"`
}

// GetAccountLedgerMismatches lists accounts whose running balance disagrees with their history.
func (q *Queries) GetAccountLedgerMismatches(ctx context.Context) ([]AccountLedgerMismatch, error) {
	rows, err := q.db.Query(ctx, getAccountLedgerMismatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AccountLedgerMismatch
	for rows.Next() {
		var i AccountLedgerMismatch
		if err := rows.Scan(&i.AccountID, &i.Balance, &i.LedgerSum); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
