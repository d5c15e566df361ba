package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/models"
)

type nonceKey struct {
	userID  string
	chainID int64
}

// Memory is an in-process Store. The nonce critical section is a per
// (user, chain) mutex, so it is only safe within a single process.
type Memory struct {
	mu           sync.RWMutex
	wallets      map[string]*models.Wallet
	transactions map[string]*models.Transaction
	nonces       map[nonceKey]*models.NonceRecord
	audit        []*models.AuditEvent

	// writes orders transactions by their last write
	writes  uint64
	written map[string]uint64

	nonceMu    sync.Mutex
	nonceLocks map[nonceKey]*sync.Mutex

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		wallets:      make(map[string]*models.Wallet),
		transactions: make(map[string]*models.Transaction),
		nonces:       make(map[nonceKey]*models.NonceRecord),
		written:      make(map[string]uint64),
		nonceLocks:   make(map[nonceKey]*sync.Mutex),
		now:          time.Now,
	}
}

func (m *Memory) Ping(_ context.Context) error {
	return nil
}

func (m *Memory) InsertWallet(_ context.Context, wallet *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.wallets {
		if w.ChainID != wallet.ChainID {
			continue
		}
		if w.UserID == wallet.UserID || strings.EqualFold(w.Address, wallet.Address) {
			return errors.Wrap(ErrConflict, "wallet")
		}
	}

	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	now := m.now().UTC()
	if wallet.CreatedAt.IsZero() {
		wallet.CreatedAt = now
	}
	wallet.UpdatedAt = now
	if wallet.LastAccessedAt.IsZero() {
		wallet.LastAccessedAt = now
	}

	m.wallets[wallet.ID] = cloneWallet(wallet)
	return nil
}

func (m *Memory) GetWallet(_ context.Context, userID string, chainID int64) (*models.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.wallets {
		if w.UserID == userID && w.ChainID == chainID {
			return cloneWallet(w), nil
		}
	}

	return nil, ErrNotFound
}

func (m *Memory) GetWalletByAddress(_ context.Context, address string, chainID int64) (*models.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.wallets {
		if w.ChainID == chainID && strings.EqualFold(w.Address, address) {
			return cloneWallet(w), nil
		}
	}

	return nil, ErrNotFound
}

func (m *Memory) ListWallets(_ context.Context, userID string) ([]*models.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var wallets []*models.Wallet
	for _, w := range m.wallets {
		if w.UserID == userID {
			wallets = append(wallets, cloneWallet(w))
		}
	}

	sort.Slice(wallets, func(i, j int) bool { return wallets[i].ChainID < wallets[j].ChainID })
	return wallets, nil
}

func (m *Memory) TouchWallet(_ context.Context, walletID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return ErrNotFound
	}
	w.LastAccessedAt = at
	return nil
}

func (m *Memory) InsertTransaction(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.transactions {
		if existing.ConfirmationToken == tx.ConfirmationToken {
			return errors.Wrap(ErrConflict, "confirmation token")
		}
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := m.now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	m.transactions[tx.ID] = cloneTransaction(tx)
	m.markWritten(tx.ID)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (m *Memory) GetTransactionByToken(_ context.Context, token string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tx := range m.transactions {
		if tx.ConfirmationToken == token {
			return cloneTransaction(tx), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListTransactions(_ context.Context, userID string, limit int) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txs []*models.Transaction
	for _, tx := range m.transactions {
		if tx.UserID == userID {
			txs = append(txs, cloneTransaction(tx))
		}
	}

	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	return truncate(txs, limit), nil
}

func (m *Memory) ListTransactionsByStatus(_ context.Context, status models.TransactionStatus, limit int) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txs []*models.Transaction
	for _, tx := range m.transactions {
		if tx.Status == status {
			txs = append(txs, cloneTransaction(tx))
		}
	}

	sort.Slice(txs, func(i, j int) bool { return m.written[txs[i].ID] < m.written[txs[j].ID] })
	return truncate(txs, limit), nil
}

// markWritten must be called with mu held.
func (m *Memory) markWritten(id string) {
	m.writes++
	m.written[id] = m.writes
}

func (m *Memory) UpdateTransactionStatus(_ context.Context, tx *models.Transaction, from models.TransactionStatus) error {
	if err := checkTransition(from, tx.Status); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.transactions[tx.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return errors.Wrapf(ErrStaleStatus, "expected %s, found %s", from, stored.Status)
	}

	tx.UpdatedAt = m.now().UTC()
	m.transactions[tx.ID] = cloneTransaction(tx)
	m.markWritten(tx.ID)
	return nil
}

func (m *Memory) SumOutgoing(_ context.Context, userID string, currency string, since time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, tx := range m.transactions {
		if tx.UserID != userID || tx.Type != models.TypeSend || tx.Currency != currency || tx.CreatedAt.Before(since) {
			continue
		}
		for _, s := range executedStatuses {
			if tx.Status == s {
				sum = sum.Add(tx.Amount)
				break
			}
		}
	}

	return sum, nil
}

func (m *Memory) nonceLock(key nonceKey) *sync.Mutex {
	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()

	l, ok := m.nonceLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.nonceLocks[key] = l
	}
	return l
}

func (m *Memory) AllocateNonce(ctx context.Context, userID string, chainID int64, bootstrap BootstrapFn) (uint64, error) {
	key := nonceKey{userID: userID, chainID: chainID}
	lock := m.nonceLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	record, ok := m.nonces[key]
	m.mu.RUnlock()

	var current uint64
	if ok {
		current = record.NextNonce
	} else {
		start, err := bootstrap(ctx)
		if err != nil {
			return 0, errors.Wrap(err, "failed to bootstrap nonce")
		}
		current = start
	}

	m.mu.Lock()
	m.nonces[key] = &models.NonceRecord{
		UserID:    userID,
		ChainID:   chainID,
		NextNonce: current + 1,
		UpdatedAt: m.now().UTC(),
	}
	m.mu.Unlock()

	return current, nil
}

func (m *Memory) SetNonce(_ context.Context, userID string, chainID int64, next uint64) error {
	key := nonceKey{userID: userID, chainID: chainID}
	lock := m.nonceLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nonces[key] = &models.NonceRecord{
		UserID:    userID,
		ChainID:   chainID,
		NextNonce: next,
		UpdatedAt: m.now().UTC(),
	}
	return nil
}

func (m *Memory) GetNonce(_ context.Context, userID string, chainID int64) (*models.NonceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.nonces[nonceKey{userID: userID, chainID: chainID}]
	if !ok {
		return nil, ErrNotFound
	}

	r := *record
	return &r, nil
}

func (m *Memory) InsertAuditEvent(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now().UTC()
	}

	e := *event
	m.audit = append(m.audit, &e)
	return nil
}

// AuditEvents returns a snapshot of the recorded audit events.
func (m *Memory) AuditEvents() []*models.AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*models.AuditEvent, len(m.audit))
	copy(events, m.audit)
	return events
}

func cloneWallet(w *models.Wallet) *models.Wallet {
	c := *w
	c.EncryptedSeed = append([]byte(nil), w.EncryptedSeed...)
	return &c
}

func cloneTransaction(tx *models.Transaction) *models.Transaction {
	c := *tx
	return &c
}

func truncate(txs []*models.Transaction, limit int) []*models.Transaction {
	if limit > 0 && len(txs) > limit {
		return txs[:limit]
	}
	return txs
}
