package repository

import (
	"context"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const depositColumns = `id, user_id, amount_micros, credited_micros, status, gateway_status, track_id, pay_link,
	gateway_expires_at, pay_currency, network, address, tx_id, admin_note, processed_by, processed_at,
	commission_distributed_at, created_at, updated_at`

func scanDeposit(row pgx.Row) (models.Deposit, error) {
	var d models.Deposit
	err := row.Scan(
		&d.ID, &d.UserID, &d.AmountMicros, &d.CreditedMicros, &d.Status, &d.GatewayStatus, &d.TrackID, &d.PayLink,
		&d.GatewayExpiresAt, &d.PayCurrency, &d.Network, &d.Address, &d.TxID, &d.AdminNote, &d.ProcessedBy, &d.ProcessedAt,
		&d.CommissionDistributedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func collectDeposits(rows pgx.Rows) ([]models.Deposit, error) {
	defer rows.Close()
	var out []models.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type CreateDepositParams struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AmountMicros int64
}

func (q *Queries) CreateDeposit(ctx context.Context, arg CreateDepositParams) (models.Deposit, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO deposits (id, user_id, amount_micros, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', NOW(), NOW())
		RETURNING `+depositColumns,
		arg.ID, arg.UserID, arg.AmountMicros)
	return scanDeposit(row)
}

func (q *Queries) GetDeposit(ctx context.Context, id uuid.UUID) (models.Deposit, error) {
	row := q.db.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id)
	return scanDeposit(row)
}

// GetDepositForUpdate row-locks the deposit until the surrounding tx ends.
func (q *Queries) GetDepositForUpdate(ctx context.Context, id uuid.UUID) (models.Deposit, error) {
	row := q.db.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id)
	return scanDeposit(row)
}

type ListDepositsByUserParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListDepositsByUser(ctx context.Context, arg ListDepositsByUserParams) ([]models.Deposit, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectDeposits(rows)
}

type AttachInvoiceParams struct {
	ID               uuid.UUID
	TrackID          string
	PayLink          string
	GatewayExpiresAt *time.Time
}

// AttachInvoice sets the gateway tracking id once; a deposit that already
// carries one is left untouched and 0 rows are reported.
func (q *Queries) AttachInvoice(ctx context.Context, arg AttachInvoiceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE deposits
		SET track_id = $2, pay_link = $3, gateway_expires_at = $4, updated_at = NOW()
		WHERE id = $1 AND track_id IS NULL AND status = 'pending'`,
		arg.ID, arg.TrackID, arg.PayLink, arg.GatewayExpiresAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CompleteAdoptedInvoice fills the payment link of a deposit whose track id
// was adopted from a gateway callback before the invoice response was
// stored. Status is not checked: the link stays valid for display.
func (q *Queries) CompleteAdoptedInvoice(ctx context.Context, arg AttachInvoiceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE deposits
		SET pay_link = $3, gateway_expires_at = COALESCE(gateway_expires_at, $4), updated_at = NOW()
		WHERE id = $1 AND track_id = $2 AND pay_link IS NULL`,
		arg.ID, arg.TrackID, arg.PayLink, arg.GatewayExpiresAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) AttachTrackID(ctx context.Context, id uuid.UUID, trackID string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE deposits SET track_id = $2, updated_at = NOW()
		WHERE id = $1 AND track_id IS NULL`,
		id, trackID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type RecordObservationParams struct {
	ID            uuid.UUID
	Status        string
	GatewayStatus string
	PayCurrency   *string
	Network       *string
	Address       *string
	TxID          *string
}

// RecordObservation stores display-only gateway progress. Absent fields keep
// their previous value.
func (q *Queries) RecordObservation(ctx context.Context, arg RecordObservationParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE deposits
		SET status = $2,
			gateway_status = $3,
			pay_currency = COALESCE($4, pay_currency),
			network = COALESCE($5, network),
			address = COALESCE($6, address),
			tx_id = COALESCE($7, tx_id),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('approved', 'expired', 'failed')`,
		arg.ID, arg.Status, arg.GatewayStatus, arg.PayCurrency, arg.Network, arg.Address, arg.TxID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ApproveDepositParams struct {
	ID             uuid.UUID
	CreditedMicros int64
	GatewayStatus  string
	AdminNote      string
	ProcessedBy    string
	PayCurrency    *string
	Network        *string
	TxID           *string
}

// ApproveDeposit is the only statement that moves a deposit to approved.
// The status predicate makes a second approval affect 0 rows.
func (q *Queries) ApproveDeposit(ctx context.Context, arg ApproveDepositParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE deposits
		SET status = 'approved',
			credited_micros = $2,
			gateway_status = $3,
			admin_note = $4,
			processed_by = $5,
			processed_at = NOW(),
			pay_currency = COALESCE($6, pay_currency),
			network = COALESCE($7, network),
			tx_id = COALESCE($8, tx_id),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'waiting', 'confirming')`,
		arg.ID, arg.CreditedMicros, arg.GatewayStatus, arg.AdminNote, arg.ProcessedBy, arg.PayCurrency, arg.Network, arg.TxID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) MarkCommissionDistributed(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE deposits SET commission_distributed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'approved' AND commission_distributed_at IS NULL`,
		id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ListSettleableDepositsParams struct {
	CreatedAfter time.Time
	Limit        int32
}

// ListSettleableDeposits returns open deposits that have a gateway invoice,
// oldest first.
func (q *Queries) ListSettleableDeposits(ctx context.Context, arg ListSettleableDepositsParams) ([]models.Deposit, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE status IN ('pending', 'waiting', 'confirming')
			AND track_id IS NOT NULL
			AND created_at >= $1
		ORDER BY updated_at ASC
		LIMIT $2`,
		arg.CreatedAfter, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectDeposits(rows)
}

type ListUndistributedDepositsParams struct {
	ProcessedBefore time.Time
	Limit           int32
}

func (q *Queries) ListUndistributedDeposits(ctx context.Context, arg ListUndistributedDepositsParams) ([]models.Deposit, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE status = 'approved'
			AND commission_distributed_at IS NULL
			AND processed_at < $1
		ORDER BY processed_at ASC
		LIMIT $2`,
		arg.ProcessedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectDeposits(rows)
}
