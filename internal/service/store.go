package service

import (
	"context"

	"github.com/ayo6706/marketplace-settlement/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
// A RunInTx callback must only use the querier it is handed.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}
