// Package store is the persistence boundary of the custody engine. Postgres
// backs production; Memory backs tests and single-process development.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	// ErrStaleStatus is returned by UpdateTransactionStatus when the stored
	// status no longer matches the expected one.
	ErrStaleStatus = errors.New("transaction status changed concurrently")
	// ErrInvalidTransition is returned for a status move the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
)

// WalletStore persists custodial wallets.
type WalletStore interface {
	// InsertWallet returns ErrConflict if the user already owns a wallet on the chain.
	InsertWallet(ctx context.Context, wallet *models.Wallet) error
	GetWallet(ctx context.Context, userID string, chainID int64) (*models.Wallet, error)
	GetWalletByAddress(ctx context.Context, address string, chainID int64) (*models.Wallet, error)
	ListWallets(ctx context.Context, userID string) ([]*models.Wallet, error)
	TouchWallet(ctx context.Context, walletID string, at time.Time) error
}

// TransactionStore persists transaction records.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactionByToken(ctx context.Context, token string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
	// ListTransactionsByStatus returns the least recently written records in
	// status first, so rewriting a record moves it to the back of the queue.
	ListTransactionsByStatus(ctx context.Context, status models.TransactionStatus, limit int) ([]*models.Transaction, error)
	// UpdateTransactionStatus persists tx only if the stored status still equals
	// from. It returns ErrStaleStatus otherwise.
	UpdateTransactionStatus(ctx context.Context, tx *models.Transaction, from models.TransactionStatus) error
	// SumOutgoing totals executed (broadcasting or later, not failed) send
	// amounts in currency created at or after since.
	SumOutgoing(ctx context.Context, userID string, currency string, since time.Time) (decimal.Decimal, error)
}

// BootstrapFn yields the initial nonce when no record exists yet.
type BootstrapFn func(ctx context.Context) (uint64, error)

// NonceStore persists per (user, chain) nonce counters.
type NonceStore interface {
	// AllocateNonce returns the current nonce and stores current+1, atomically
	// with respect to every other caller for the same pair. bootstrap runs
	// inside the critical section when no record exists.
	AllocateNonce(ctx context.Context, userID string, chainID int64, bootstrap BootstrapFn) (uint64, error)
	SetNonce(ctx context.Context, userID string, chainID int64, next uint64) error
	GetNonce(ctx context.Context, userID string, chainID int64) (*models.NonceRecord, error)
}

// AuditStore appends audit events.
type AuditStore interface {
	InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error
}

// Store is the full persistence interface.
type Store interface {
	WalletStore
	TransactionStore
	NonceStore
	AuditStore

	Ping(ctx context.Context) error
}

// executedStatuses count towards usage limits.
var executedStatuses = []models.TransactionStatus{
	models.StatusBroadcasting,
	models.StatusBroadcastPending,
	models.StatusConfirmed,
}

func checkTransition(from, to models.TransactionStatus) error {
	if from == to || models.CanTransition(from, to) {
		return nil
	}

	return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
}
