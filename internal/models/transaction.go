package models

import (
	"time"

	"github.com/aarondl/null/v8"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a transaction record.
type TransactionStatus string

const (
	StatusPending          TransactionStatus = "pending"
	StatusBroadcasting     TransactionStatus = "broadcasting"
	StatusBroadcastPending TransactionStatus = "broadcast-pending"
	StatusConfirmed        TransactionStatus = "confirmed"
	StatusFailed           TransactionStatus = "failed"
	StatusCancelled        TransactionStatus = "cancelled"
)

// TransactionType distinguishes outgoing from incoming transfers.
type TransactionType string

const (
	TypeSend    TransactionType = "send"
	TypeReceive TransactionType = "receive"
)

var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:          {StatusFailed, StatusCancelled, StatusBroadcasting},
	StatusBroadcasting:     {StatusBroadcastPending, StatusFailed},
	StatusBroadcastPending: {StatusConfirmed, StatusFailed},
}

// CanTransition reports whether moving from one status to another is allowed.
// Statuses only ever move forward.
func CanTransition(from, to TransactionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s TransactionStatus) String() string {
	return string(s)
}

// Transaction is one attempted transfer, from intent to on-chain finality.
type Transaction struct {
	ID                string
	UserID            string
	ChainID           int64
	Type              TransactionType
	Status            TransactionStatus
	Amount            decimal.Decimal
	Currency          string
	FromAddress       string
	ToAddress         string
	ConfirmationToken string
	TxHash            null.String
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ExecutedAt        null.Time
	ConfirmedAt       null.Time
	FailedAt          null.Time
	Metadata          TransactionMetadata
}

// TransactionMetadata is the bag of derived facts stored next to a transaction.
type TransactionMetadata struct {
	Recipient             string          `json:"recipient,omitempty"`
	ExpiresAt             time.Time       `json:"expires_at"`
	EstimatedFee          decimal.Decimal `json:"estimated_fee"`
	EstimatedFeeUSD       decimal.Decimal `json:"estimated_fee_usd"`
	AmountUSD             decimal.Decimal `json:"amount_usd"`
	RequiresSecondaryAuth bool            `json:"requires_secondary_auth"`
	Nonce                 null.Uint64     `json:"nonce"`
	GasPrice              string          `json:"gas_price,omitempty"`
	GasLimit              uint64          `json:"gas_limit,omitempty"`
	BlockNumber           null.Uint64     `json:"block_number"`
	Confirmations         uint64          `json:"confirmations,omitempty"`
	GasUsed               uint64          `json:"gas_used,omitempty"`
	Error                 string          `json:"error,omitempty"`
	// BroadcastUncertain marks a broadcast whose node never answered.
	BroadcastUncertain    bool            `json:"broadcast_uncertain,omitempty"`
	LastCheckedAt         null.Time       `json:"last_checked_at"`
}

// IsExpired reports whether the confirmation window has passed at now.
func (t *Transaction) IsExpired(now time.Time) bool {
	return !t.Metadata.ExpiresAt.IsZero() && !now.Before(t.Metadata.ExpiresAt)
}
