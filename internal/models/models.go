package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the user record the ledger balance and referral edge hang off.
type Profile struct {
	UserID     uuid.UUID  `json:"user_id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	ReferrerID *uuid.UUID `json:"referrer_id,omitempty"`
	Balance    int64      `json:"balance"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Deposit struct {
	ID                      uuid.UUID  `json:"id"`
	UserID                  uuid.UUID  `json:"user_id"`
	AmountMicros            int64      `json:"amount_micros"`
	CreditedMicros          *int64     `json:"credited_micros,omitempty"`
	Status                  string     `json:"status"`
	GatewayStatus           string     `json:"gateway_status,omitempty"`
	TrackID                 *string    `json:"track_id,omitempty"`
	PayLink                 *string    `json:"pay_link,omitempty"`
	GatewayExpiresAt        *time.Time `json:"gateway_expires_at,omitempty"`
	PayCurrency             *string    `json:"pay_currency,omitempty"`
	Network                 *string    `json:"network,omitempty"`
	Address                 *string    `json:"address,omitempty"`
	TxID                    *string    `json:"tx_id,omitempty"`
	AdminNote               *string    `json:"admin_note,omitempty"`
	ProcessedBy             *string    `json:"processed_by,omitempty"`
	ProcessedAt             *time.Time `json:"processed_at,omitempty"`
	CommissionDistributedAt *time.Time `json:"commission_distributed_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

type Transaction struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      int64     `json:"amount"` // signed micros, positive = credit
	Type        string    `json:"type"`
	ReferenceID string    `json:"reference_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ReferralCommission struct {
	ID            uuid.UUID `json:"id"`
	DepositID     uuid.UUID `json:"deposit_id"`
	BeneficiaryID uuid.UUID `json:"beneficiary_id"`
	SourceUserID  uuid.UUID `json:"source_user_id"`
	Level         int       `json:"level"`
	Percentage    string    `json:"percentage"`
	AmountMicros  int64     `json:"amount_micros"`
	CreatedAt     time.Time `json:"created_at"`
}
