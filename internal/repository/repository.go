package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/ayo6706/deposit-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository holds the profile helpers used outside of a unit of work.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateProfile(ctx context.Context, p *models.Profile) error {
	if p.Role == "" {
		p.Role = domain.RoleUser
	}
	query := `INSERT INTO profiles (user_id, username, email, role, referrer_id, balance_micros, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING created_at`
	err := r.db.QueryRow(ctx, query, p.UserID, p.Username, p.Email, p.Role, p.ReferrerID, p.Balance).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

func (r *Repository) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	p, err := New(r.db).GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (r *Repository) GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	txs, err := New(r.db).ListTransactions(ctx, ListTransactionsParams{
		UserID: userID,
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return txs, nil
}
