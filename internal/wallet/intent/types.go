package intent

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultConfirmationTTL is how long a confirmation token stays executable.
const DefaultConfirmationTTL = 10 * time.Minute

type Config struct {
	ChainID         int64
	ConfirmationTTL time.Duration
	// Limits are in USD over the UTC calendar day and month; zero disables.
	DailyLimitUSD   decimal.Decimal
	MonthlyLimitUSD decimal.Decimal
	// SecondaryAuthThresholdUSD flags intents at or above it; zero disables.
	SecondaryAuthThresholdUSD decimal.Decimal
	// Assets are the symbols whose transfers count toward the limits.
	Assets []string
}

type InitiateRequest struct {
	UserID string
	// Recipient is an address or "user:<id>" for another custodial user.
	Recipient string
	Amount    decimal.Decimal
	Currency  string
}

type ExecuteRequest struct {
	UserID string
	Token  string
	// Confirm must be true; anything else is errs.ErrConfirmationRequired.
	Confirm bool
}

// Confirmation is handed back by Initiate. Presenting Token to Execute before
// ExpiresAt performs the transfer.
type Confirmation struct {
	TransactionID         string          `json:"transaction_id"`
	Token                 string          `json:"confirmation_token"`
	Recipient             string          `json:"recipient"`
	ToAddress             string          `json:"to_address"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	ExpiresAt             time.Time       `json:"expires_at"`
	ExpiresIn             int64           `json:"expires_in"`
	EstimatedFee          decimal.Decimal `json:"estimated_fee"`
	EstimatedFeeUSD       decimal.Decimal `json:"estimated_fee_usd"`
	AmountUSD             decimal.Decimal `json:"amount_usd"`
	TotalUSD              decimal.Decimal `json:"total_usd"`
	DailyUsedUSD          decimal.Decimal `json:"daily_used_usd"`
	MonthlyUsedUSD        decimal.Decimal `json:"monthly_used_usd"`
	DailyLimitUSD         decimal.Decimal `json:"daily_limit_usd"`
	MonthlyLimitUSD       decimal.Decimal `json:"monthly_limit_usd"`
	RequiresSecondaryAuth bool            `json:"requires_secondary_auth"`
}

// Usage is the USD value already sent in the current UTC day and month.
type Usage struct {
	DailyUSD   decimal.Decimal
	MonthlyUSD decimal.Decimal
}
