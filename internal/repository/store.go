package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store scopes ledger mutations. Units of work run at READ COMMITTED and rely
// on deposit row locks (GetDepositForUpdate) and conditional updates.
type Store struct {
	db        *pgxpool.Pool
	queries   *Queries
	txOptions pgx.TxOptions
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:        db,
		queries:   New(db),
		txOptions: pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// RunInTx executes fn within a database transaction. Any error from fn rolls
// the whole unit back; balance and ledger rows are never committed apart.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, s.txOptions)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			zap.L().Warn("transaction rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
