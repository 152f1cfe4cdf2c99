package domain

const (
	CurrencyUSD = "USD"

	// Deposit lifecycle. Only approved moves money.
	DepositStatusPending    = "pending"
	DepositStatusWaiting    = "waiting"
	DepositStatusConfirming = "confirming"
	DepositStatusApproved   = "approved"
	DepositStatusExpired    = "expired"
	DepositStatusFailed     = "failed"

	// Gateway-reported statuses (Oxapay vocabulary).
	GatewayStatusNew        = "New"
	GatewayStatusWaiting    = "Waiting"
	GatewayStatusConfirming = "Confirming"
	GatewayStatusPaid       = "Paid"
	GatewayStatusExpired    = "Expired"
	GatewayStatusFailed     = "Failed"

	TxTypeDeposit            = "deposit"
	TxTypeWithdrawal         = "withdrawal"
	TxTypeInvestment         = "investment"
	TxTypeProfit             = "profit"
	TxTypeRefund             = "refund"
	TxTypeReferralCommission = "referral_commission"

	RoleUser  = "user"
	RoleAdmin = "admin"

	// MaxCommissionDepth caps the referral fan-out; ancestors beyond it are not paid.
	MaxCommissionDepth = 4
)

// IsTerminalDeposit reports whether no further lifecycle transition is expected.
func IsTerminalDeposit(status string) bool {
	switch status {
	case DepositStatusApproved, DepositStatusExpired, DepositStatusFailed:
		return true
	default:
		return false
	}
}
