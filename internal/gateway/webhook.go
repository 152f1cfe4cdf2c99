package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw callback body.
const SignatureHeader = "HMAC"

// WebhookPayload is the callback body pushed by the gateway. Fields beyond
// trackId/status/orderId may be absent depending on status.
type WebhookPayload struct {
	TrackID     FlexString      `json:"trackId"`
	Status      string          `json:"status"`
	OrderID     string          `json:"orderId"`
	Amount      decimal.Decimal `json:"amount"`
	PayCurrency string          `json:"payCurrency"`
	Network     string          `json:"network"`
	TxID        string          `json:"txID"`
	PayAmount   decimal.Decimal `json:"payAmount"`
	Rate        decimal.Decimal `json:"rate"`
	Address     string          `json:"address"`
}

// VerifySignature checks the callback HMAC in constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// Sign returns the signature VerifySignature expects. Used by the mock
// gateway and tests.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
