package repository

import (
	"context"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/models"
	"github.com/google/uuid"
)

// IncrementBalance applies delta in a single atomic statement. The
// non-negative guard makes an overdrawing debit affect 0 rows.
func (q *Queries) IncrementBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE profiles
		SET balance_micros = balance_micros + $2
		WHERE user_id = $1 AND balance_micros + $2 >= 0`,
		userID, delta)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := q.db.QueryRow(ctx, `SELECT balance_micros FROM profiles WHERE user_id = $1`, userID).Scan(&balance)
	return balance, err
}

func (q *Queries) GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error) {
	var p models.Profile
	err := q.db.QueryRow(ctx, `
		SELECT user_id, username, email, role, referrer_id, balance_micros, created_at
		FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.Username, &p.Email, &p.Role, &p.ReferrerID, &p.Balance, &p.CreatedAt)
	return p, err
}

// GetReferrer returns the direct referrer, or nil when the chain ends here.
func (q *Queries) GetReferrer(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error) {
	var referrer *uuid.UUID
	err := q.db.QueryRow(ctx, `SELECT referrer_id FROM profiles WHERE user_id = $1`, userID).Scan(&referrer)
	return referrer, err
}

type InsertTransactionParams struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AmountMicros int64
	Type         string
	ReferenceID  string
}

func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (models.Transaction, error) {
	var t models.Transaction
	err := q.db.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, amount_micros, type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, user_id, amount_micros, type, reference_id, created_at`,
		arg.ID, arg.UserID, arg.AmountMicros, arg.Type, arg.ReferenceID).
		Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.ReferenceID, &t.CreatedAt)
	return t, err
}

type ListTransactionsParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, user_id, amount_micros, type, reference_id, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) CountTransactionsByReference(ctx context.Context, txType, referenceID string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions WHERE type = $1 AND reference_id = $2`,
		txType, referenceID).Scan(&n)
	return n, err
}

type BalanceDriftRow struct {
	UserID          uuid.UUID
	BalanceMicros   int64
	LedgerSumMicros int64
}

// GetBalanceDrift lists profiles whose stored balance differs from the sum
// of their transaction log.
func (q *Queries) GetBalanceDrift(ctx context.Context) ([]BalanceDriftRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT p.user_id, p.balance_micros, COALESCE(SUM(t.amount_micros), 0)::BIGINT AS ledger_sum
		FROM profiles p
		LEFT JOIN transactions t ON t.user_id = p.user_id
		GROUP BY p.user_id, p.balance_micros
		HAVING p.balance_micros <> COALESCE(SUM(t.amount_micros), 0)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceDriftRow
	for rows.Next() {
		var r BalanceDriftRow
		if err := rows.Scan(&r.UserID, &r.BalanceMicros, &r.LedgerSumMicros); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type InsertCommissionParams struct {
	ID            uuid.UUID
	DepositID     uuid.UUID
	BeneficiaryID uuid.UUID
	SourceUserID  uuid.UUID
	Level         int
	Percentage    string
	AmountMicros  int64
}

// InsertCommission returns pgx.ErrNoRows when (deposit_id, level) already exists.
func (q *Queries) InsertCommission(ctx context.Context, arg InsertCommissionParams) (models.ReferralCommission, error) {
	var c models.ReferralCommission
	err := q.db.QueryRow(ctx, `
		INSERT INTO referral_commissions (id, deposit_id, beneficiary_id, source_user_id, level, percentage, amount_micros, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::TEXT::NUMERIC, $7, NOW())
		ON CONFLICT (deposit_id, level) DO NOTHING
		RETURNING id, deposit_id, beneficiary_id, source_user_id, level, percentage::TEXT, amount_micros, created_at`,
		arg.ID, arg.DepositID, arg.BeneficiaryID, arg.SourceUserID, arg.Level, arg.Percentage, arg.AmountMicros).
		Scan(&c.ID, &c.DepositID, &c.BeneficiaryID, &c.SourceUserID, &c.Level, &c.Percentage, &c.AmountMicros, &c.CreatedAt)
	return c, err
}

func (q *Queries) ListCommissionsByDeposit(ctx context.Context, depositID uuid.UUID) ([]models.ReferralCommission, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, deposit_id, beneficiary_id, source_user_id, level, percentage::TEXT, amount_micros, created_at
		FROM referral_commissions
		WHERE deposit_id = $1
		ORDER BY level ASC`, depositID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ReferralCommission
	for rows.Next() {
		var c models.ReferralCommission
		if err := rows.Scan(&c.ID, &c.DepositID, &c.BeneficiaryID, &c.SourceUserID, &c.Level, &c.Percentage, &c.AmountMicros, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id`,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata).Scan(&id)
	return id, err
}

type AuditLogRow struct {
	Action    string
	PrevState *string
	NextState *string
	Metadata  []byte
	CreatedAt time.Time
}

func (q *Queries) ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]AuditLogRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT action, prev_state, next_state, metadata, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id ASC`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditLogRow
	for rows.Next() {
		var r AuditLogRow
		if err := rows.Scan(&r.Action, &r.PrevState, &r.NextState, &r.Metadata, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
