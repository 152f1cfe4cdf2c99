package service

import (
	"context"

	"github.com/ayo6706/deposit-settlement/internal/repository"
)

// QueryStore is the data access the services need. Tests wrap it to inject
// failures between ledger steps.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

var _ QueryStore = (*repository.Store)(nil)
