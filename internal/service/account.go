package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/ayo6706/deposit-settlement/internal/models"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Balance struct {
	UserID   uuid.UUID       `json:"user_id"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type StatementEntry struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AccountService reads a profile's ledger balance and transaction history.
type AccountService struct {
	repo *repository.Repository
}

func NewAccountService(repo *repository.Repository) *AccountService {
	return &AccountService{
		repo: repo,
	}
}

func (s *AccountService) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, err
	}
	return &Balance{
		UserID:   p.UserID,
		Currency: domain.CurrencyUSD,
		Balance:  domain.FromMicros(p.Balance),
	}, nil
}

func (s *AccountService) GetStatement(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]StatementEntry, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	txs, err := s.repo.GetTransactions(ctx, userID, pageSize, offset)
	if err != nil {
		return nil, err
	}
	return statementEntries(txs), nil
}

func statementEntries(txs []models.Transaction) []StatementEntry {
	out := make([]StatementEntry, 0, len(txs))
	for _, tx := range txs {
		out = append(out, StatementEntry{
			ID:          tx.ID,
			Type:        tx.Type,
			Amount:      domain.FromMicros(tx.Amount),
			ReferenceID: tx.ReferenceID,
			CreatedAt:   tx.CreatedAt,
		})
	}
	return out
}
