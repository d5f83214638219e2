package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
)

var ErrUnbalancedJournal = errors.New("journal entries do not net to zero")

type posting struct {
	account uuid.UUID
	amount  int64
	kind    string
	itemID  uuid.UUID
}

// journal collects the signed entries of one settlement event. Committing it
// writes one history row per posting under a shared event id and applies the
// net balance change per account.
type journal struct {
	eventID       uuid.UUID
	method        string
	status        string
	transactionID uuid.UUID
	orderID       uuid.UUID
	payoutID      uuid.UUID
	postings      []posting
}

func newJournal(method, status string) *journal {
	return &journal{eventID: uuid.New(), method: method, status: status}
}

func (j *journal) forTransaction(tx repository.Transaction) *journal {
	j.transactionID = repository.FromPgUUID(tx.ID)
	j.orderID = repository.FromPgUUID(tx.OrderID)
	return j
}

func (j *journal) post(account uuid.UUID, amount int64, kind string, itemID uuid.UUID) {
	if amount == 0 {
		return
	}
	j.postings = append(j.postings, posting{account: account, amount: amount, kind: kind, itemID: itemID})
}

func (j *journal) net() int64 {
	var total int64
	for _, p := range j.postings {
		total += p.amount
	}
	return total
}

// deltas sums postings per account, ordered by account id so concurrent
// units lock balance rows in the same order.
func (j *journal) deltas() []repository.AddAccountBalanceParams {
	sums := make(map[uuid.UUID]int64)
	for _, p := range j.postings {
		sums[p.account] += p.amount
	}
	out := make([]repository.AddAccountBalanceParams, 0, len(sums))
	for account, delta := range sums {
		if delta == 0 {
			continue
		}
		out = append(out, repository.AddAccountBalanceParams{ID: repository.ToPgUUID(account), Delta: delta})
	}
	sort.Slice(out, func(a, b int) bool {
		return repository.FromPgUUID(out[a].ID).String() < repository.FromPgUUID(out[b].ID).String()
	})
	return out
}

func (j *journal) commit(ctx context.Context, qtx repository.Querier) error {
	if len(j.postings) == 0 {
		return nil
	}
	if net := j.net(); net != 0 {
		return fmt.Errorf("%w: event %s nets %d", ErrUnbalancedJournal, j.eventID, net)
	}

	for _, d := range j.deltas() {
		rows, err := qtx.AddAccountBalance(ctx, d)
		if err != nil {
			return fmt.Errorf("apply balance delta: %w", err)
		}
		if err := requireExactlyOne(rows, "apply balance delta"); err != nil {
			return fmt.Errorf("account %s: %w", repository.FromPgUUID(d.ID), err)
		}
	}

	for _, p := range j.postings {
		_, err := qtx.InsertPayoutHistory(ctx, repository.InsertPayoutHistoryParams{
			ID:            repository.ToPgUUID(uuid.New()),
			EventID:       repository.ToPgUUID(j.eventID),
			AccountID:     repository.ToPgUUID(p.account),
			Amount:        p.amount,
			Kind:          p.kind,
			Method:        j.method,
			Status:        j.status,
			TransactionID: repository.NullableUUID(j.transactionID),
			OrderID:       repository.NullableUUID(j.orderID),
			ItemID:        repository.NullableUUID(p.itemID),
			PayoutID:      repository.NullableUUID(j.payoutID),
		})
		if err != nil {
			return fmt.Errorf("insert %s entry: %w", p.kind, err)
		}
	}
	return nil
}
