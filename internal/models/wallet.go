package models

import (
	"time"
)

// DefaultDerivationPath is the fixed BIP44 path every custodial wallet is derived on.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// Wallet is the custodial wallet of a user on one chain. Only the encrypted
// seed is ever stored.
type Wallet struct {
	ID             string
	UserID         string
	ChainID        int64
	Address        string
	DerivationPath string
	EncryptedSeed  []byte
	KeyReference   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
}

// NonceRecord holds the next nonce to hand out for a (user, chain) pair.
type NonceRecord struct {
	UserID    string
	ChainID   int64
	NextNonce uint64
	UpdatedAt time.Time
}

// AuditEvent is an append-only record of a security relevant action.
type AuditEvent struct {
	ID        string
	UserID    string
	Action    string
	Details   map[string]any
	CreatedAt time.Time
}
