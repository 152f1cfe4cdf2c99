package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ResultOK is the gateway's success code on every merchant call.
const ResultOK = 100

// ErrUnavailable marks transport-level failures (timeouts, 5xx, bad JSON).
// These are transient and safe to retry for read calls.
var ErrUnavailable = errors.New("gateway unavailable")

// Error is a non-success result returned by the gateway.
type Error struct {
	Result  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway result %d", e.Result)
	}
	return fmt.Sprintf("gateway result %d: %s", e.Result, e.Message)
}

// Gateway represents the external payment gateway interface.
type Gateway interface {
	// CreateInvoice opens a hosted invoice for orderID.
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
	// Inquire returns the gateway's current view of an invoice.
	Inquire(ctx context.Context, trackID string) (*Inquiry, error)
}

type InvoiceRequest struct {
	Amount          decimal.Decimal
	Currency        string
	CallbackURL     string
	ReturnURL       string
	OrderID         string
	Description     string
	LifetimeMinutes int
	FeePaidByPayer  bool
}

type Invoice struct {
	TrackID   string
	PayLink   string
	ExpiresAt *time.Time
}

type Inquiry struct {
	TrackID     string          `json:"track_id"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	PayAmount   decimal.Decimal `json:"pay_amount"`
	PayCurrency string          `json:"pay_currency"`
	Network     string          `json:"network"`
	Address     string          `json:"address"`
	TxID        string          `json:"tx_id"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

// NormalizeStatus maps any casing of a gateway status onto the canonical
// spelling. Unknown values are returned trimmed but otherwise unchanged.
func NormalizeStatus(s string) string {
	s = strings.TrimSpace(s)
	for _, known := range []string{"New", "Waiting", "Confirming", "Paid", "Expired", "Failed"} {
		if strings.EqualFold(s, known) {
			return known
		}
	}
	return s
}
