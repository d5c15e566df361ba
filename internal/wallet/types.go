package wallet

import (
	"time"

	"github/chapool/go-custody/internal/models"
)

// Wallet is the public view of a custodial wallet.
type Wallet struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ChainID        int64     `json:"chain_id"`
	Address        string    `json:"address"`
	DerivationPath string    `json:"derivation_path"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// FromModel drops the encrypted seed and key reference.
//
//nolint:varnamelen // m is a common abbreviation for model
func FromModel(m *models.Wallet) *Wallet {
	return &Wallet{
		ID:             m.ID,
		UserID:         m.UserID,
		ChainID:        m.ChainID,
		Address:        m.Address,
		DerivationPath: m.DerivationPath,
		CreatedAt:      m.CreatedAt,
		LastAccessedAt: m.LastAccessedAt,
	}
}
