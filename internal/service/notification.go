package service

import (
	"strings"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/ayo6706/deposit-settlement/internal/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NotificationMeta carries the fields every gateway status shares.
type NotificationMeta struct {
	OrderID       string
	TrackID       string
	GatewayStatus string
	PayCurrency   string
	Network       string
	Address       string
	TxID          string
}

func (m NotificationMeta) Meta() NotificationMeta { return m }

// Notification is one gateway report about a deposit. The concrete type
// decides what settlement may do with it: only PaidNotification credits.
type Notification interface {
	Meta() NotificationMeta
	notification()
}

// PaidNotification reports final success.
type PaidNotification struct {
	NotificationMeta
	Amount    decimal.Decimal
	PayAmount decimal.Decimal
	Rate      decimal.Decimal
}

// ProgressNotification covers New, Waiting and Confirming.
type ProgressNotification struct {
	NotificationMeta
}

// ClosedNotification covers Expired and Failed.
type ClosedNotification struct {
	NotificationMeta
}

func (PaidNotification) notification()     {}
func (ProgressNotification) notification() {}
func (ClosedNotification) notification()   {}

// ParseNotification turns a webhook body into its status-specific variant.
func ParseNotification(p gateway.WebhookPayload) (Notification, error) {
	meta := NotificationMeta{
		OrderID:       strings.TrimSpace(p.OrderID),
		TrackID:       strings.TrimSpace(p.TrackID.String()),
		GatewayStatus: gateway.NormalizeStatus(p.Status),
		PayCurrency:   strings.TrimSpace(p.PayCurrency),
		Network:       strings.TrimSpace(p.Network),
		Address:       strings.TrimSpace(p.Address),
		TxID:          strings.TrimSpace(p.TxID),
	}
	return newNotification(meta, p.Amount, p.PayAmount, p.Rate)
}

// NotificationFromInquiry adapts a pulled gateway status to the same
// variants the webhook produces. Inquiries carry no rate, so a Paid inquiry
// credits the invoiced amount and the note records the paid amount as
// not reported.
func NotificationFromInquiry(depositID uuid.UUID, inq *gateway.Inquiry) (Notification, error) {
	meta := NotificationMeta{
		OrderID:       depositID.String(),
		TrackID:       inq.TrackID,
		GatewayStatus: gateway.NormalizeStatus(inq.Status),
		PayCurrency:   inq.PayCurrency,
		Network:       inq.Network,
		Address:       inq.Address,
		TxID:          inq.TxID,
	}
	return newNotification(meta, inq.Amount, inq.PayAmount, decimal.Zero)
}

func newNotification(meta NotificationMeta, amount, payAmount, rate decimal.Decimal) (Notification, error) {
	if meta.TrackID == "" {
		return nil, validationError("trackId is required")
	}
	switch meta.GatewayStatus {
	case domain.GatewayStatusPaid:
		return PaidNotification{NotificationMeta: meta, Amount: amount, PayAmount: payAmount, Rate: rate}, nil
	case domain.GatewayStatusNew, domain.GatewayStatusWaiting, domain.GatewayStatusConfirming:
		return ProgressNotification{NotificationMeta: meta}, nil
	case domain.GatewayStatusExpired, domain.GatewayStatusFailed:
		return ClosedNotification{NotificationMeta: meta}, nil
	default:
		return nil, validationError("unsupported gateway status %q", meta.GatewayStatus)
	}
}
