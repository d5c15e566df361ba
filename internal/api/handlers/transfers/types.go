package transfers

import (
	"time"

	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/models"
)

type initiatePayload struct {
	// Recipient is an address or "user:<id>".
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type executePayload struct {
	Token   string `json:"confirmation_token"`
	Confirm *bool  `json:"confirm"`
}

type transactionResponse struct {
	ID          string                     `json:"id"`
	Type        models.TransactionType     `json:"type"`
	Status      models.TransactionStatus   `json:"status"`
	Amount      decimal.Decimal            `json:"amount"`
	Currency    string                     `json:"currency"`
	FromAddress string                     `json:"from_address"`
	ToAddress   string                     `json:"to_address"`
	TxHash      *string                    `json:"tx_hash"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	ExecutedAt  *time.Time                 `json:"executed_at"`
	ConfirmedAt *time.Time                 `json:"confirmed_at"`
	FailedAt    *time.Time                 `json:"failed_at"`
	Metadata    models.TransactionMetadata `json:"metadata"`
}

type transactionsResponse struct {
	Transactions []*transactionResponse `json:"transactions"`
}

func toResponse(tx *models.Transaction) *transactionResponse {
	return &transactionResponse{
		ID:          tx.ID,
		Type:        tx.Type,
		Status:      tx.Status,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		FromAddress: tx.FromAddress,
		ToAddress:   tx.ToAddress,
		TxHash:      tx.TxHash.Ptr(),
		CreatedAt:   tx.CreatedAt,
		UpdatedAt:   tx.UpdatedAt,
		ExecutedAt:  tx.ExecutedAt.Ptr(),
		ConfirmedAt: tx.ConfirmedAt.Ptr(),
		FailedAt:    tx.FailedAt.Ptr(),
		Metadata:    tx.Metadata,
	}
}
