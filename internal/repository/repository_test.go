package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/ayo6706/marketplace-settlement/internal/db"
	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/ayo6706/marketplace-settlement/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env")
}

// openStore connects to DATABASE_URL and applies migrations, skipping the
// test when no database is configured.
func openStore(t *testing.T) *repository.Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	dblock.Acquire(t)

	pool, err := db.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(pool))
	return repository.NewStore(pool)
}

func createSeller(t *testing.T, ctx context.Context, q repository.Querier) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := q.CreateAccount(ctx, repository.CreateAccountParams{
		ID:    repository.ToPgUUID(id),
		Role:  domain.RoleSeller,
		Name:  "Seller " + id.String()[:8],
		Email: "seller_" + id.String()[:8] + "@example.com",
	})
	require.NoError(t, err)
	return id
}

func TestLedgerEventStaysBalanced(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sellerID := createSeller(t, ctx, store.Queries())
	clearing := uuid.MustParse(domain.ClearingAccountID)

	before, err := store.Queries().GetLedgerNet(ctx)
	require.NoError(t, err)

	eventID := uuid.New()
	err = store.RunInTx(ctx, func(q repository.Querier) error {
		for _, leg := range []struct {
			account uuid.UUID
			amount  int64
		}{{sellerID, 7_500}, {clearing, -7_500}} {
			if _, err := q.InsertPayoutHistory(ctx, repository.InsertPayoutHistoryParams{
				ID:        repository.ToPgUUID(uuid.New()),
				EventID:   repository.ToPgUUID(eventID),
				AccountID: repository.ToPgUUID(leg.account),
				Amount:    leg.amount,
				Kind:      domain.EntrySale,
				Method:    domain.MethodSplit,
				Status:    domain.EntryStatusPosted,
			}); err != nil {
				return err
			}
			if _, err := q.AddAccountBalance(ctx, repository.AddAccountBalanceParams{
				ID:    repository.ToPgUUID(leg.account),
				Delta: leg.amount,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	after, err := store.Queries().GetLedgerNet(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)

	account, err := store.Queries().GetAccount(ctx, repository.ToPgUUID(sellerID))
	require.NoError(t, err)
	require.Equal(t, int64(7_500), account.Balance)

	entries, err := store.Queries().ListPayoutHistoryByAccount(ctx, repository.ListPayoutHistoryByAccountParams{
		AccountID: repository.ToPgUUID(sellerID),
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, repository.ToPgUUID(eventID), entries[0].EventID)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sellerID := createSeller(t, ctx, store.Queries())

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := q.AddAccountBalance(ctx, repository.AddAccountBalanceParams{
			ID:    repository.ToPgUUID(sellerID),
			Delta: 1_000,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	account, err := store.Queries().GetAccount(ctx, repository.ToPgUUID(sellerID))
	require.NoError(t, err)
	require.Zero(t, account.Balance)
}

func TestErrorClassification(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	sellerID := createSeller(t, ctx, store.Queries())

	_, err := store.Queries().CreateAccount(ctx, repository.CreateAccountParams{
		ID:    repository.ToPgUUID(sellerID),
		Role:  domain.RoleSeller,
		Name:  "Duplicate",
		Email: "duplicate@example.com",
	})
	require.True(t, repository.IsUniqueViolation(err))
	require.False(t, repository.IsTransient(err))

	_, err = store.Queries().GetAccount(ctx, repository.ToPgUUID(uuid.New()))
	require.True(t, repository.IsNotFound(err))
}

func TestIdempotencyKeyReservation(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	q := store.Queries()
	key := "it:" + uuid.NewString()

	_, err := q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key, RequestHash: "h1", Method: "POST", Path: "/v1/payouts",
	})
	require.NoError(t, err)
	_, err = q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key, RequestHash: "h1", Method: "POST", Path: "/v1/payouts",
	})
	require.True(t, repository.IsNotFound(err))

	released, err := q.ReleaseIdempotencyKey(ctx, repository.ReleaseIdempotencyKeyParams{IdempotencyKey: key, RequestHash: "h1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), released)

	_, err = q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key, RequestHash: "h1", Method: "POST", Path: "/v1/payouts",
	})
	require.NoError(t, err)
	row, err := q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: 202,
		ResponseBody:   []byte(`{"status":"processing"}`),
		ContentType:    "application/json",
		IdempotencyKey: key,
		RequestHash:    "h1",
	})
	require.NoError(t, err)
	require.False(t, row.InProgress)

	released, err = q.ReleaseIdempotencyKey(ctx, repository.ReleaseIdempotencyKeyParams{IdempotencyKey: key, RequestHash: "h1"})
	require.NoError(t, err)
	require.Zero(t, released)
}
