package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
)

// runContract exercises behaviour every Store implementation must share.
func runContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("wallets", func(t *testing.T) { testWallets(t, newStore(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("status compare and set", func(t *testing.T) { testStatusCAS(t, newStore(t)) })
	t.Run("status queue order", func(t *testing.T) { testStatusQueueOrder(t, newStore(t)) })
	t.Run("sum outgoing", func(t *testing.T) { testSumOutgoing(t, newStore(t)) })
	t.Run("concurrent nonces", func(t *testing.T) { testConcurrentNonces(t, newStore(t)) })
	t.Run("nonce bootstrap error", func(t *testing.T) { testNonceBootstrapError(t, newStore(t)) })
	t.Run("audit", func(t *testing.T) { testAudit(t, newStore(t)) })
}

func newWallet(userID string, addr string) *models.Wallet {
	return &models.Wallet{
		UserID:         userID,
		ChainID:        1,
		Address:        addr,
		DerivationPath: models.DefaultDerivationPath,
		EncryptedSeed:  []byte(`{"version":1}`),
		KeyReference:   "local/test",
	}
}

func newTransaction(userID string, status models.TransactionStatus, amount string) *models.Transaction {
	return &models.Transaction{
		UserID:            userID,
		ChainID:           1,
		Type:              models.TypeSend,
		Status:            status,
		Amount:            decimal.RequireFromString(amount),
		Currency:          "USDC",
		FromAddress:       "0x1111111111111111111111111111111111111111",
		ToAddress:         "0x2222222222222222222222222222222222222222",
		ConfirmationToken: uuid.NewString(),
		Metadata: models.TransactionMetadata{
			ExpiresAt: time.Now().Add(10 * time.Minute).UTC().Truncate(time.Microsecond),
		},
	}
}

func testWallets(t *testing.T, s store.Store) {
	ctx := t.Context()

	w := newWallet("user-1", "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa")
	require.NoError(t, s.InsertWallet(ctx, w))
	require.NotEmpty(t, w.ID)

	err := s.InsertWallet(ctx, newWallet("user-1", "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))
	require.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetWallet(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, []byte(`{"version":1}`), got.EncryptedSeed)

	byAddr, err := s.GetWalletByAddress(ctx, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 1)
	require.NoError(t, err)
	assert.Equal(t, w.ID, byAddr.ID)

	_, err = s.GetWallet(ctx, "user-2", 1)
	require.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListWallets(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	require.NoError(t, s.TouchWallet(ctx, w.ID, at))
	got, err = s.GetWallet(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.LastAccessedAt))

	require.ErrorIs(t, s.TouchWallet(ctx, uuid.NewString(), at), store.ErrNotFound)
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := t.Context()

	tx := newTransaction("user-1", models.StatusPending, "10.5")
	tx.Metadata.EstimatedFee = decimal.RequireFromString("0.0021")
	require.NoError(t, s.InsertTransaction(ctx, tx))

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(got.Amount))
	assert.Equal(t, tx.ConfirmationToken, got.ConfirmationToken)
	assert.True(t, tx.Metadata.ExpiresAt.Equal(got.Metadata.ExpiresAt))
	assert.True(t, tx.Metadata.EstimatedFee.Equal(got.Metadata.EstimatedFee))
	assert.False(t, got.TxHash.Valid)

	byToken, err := s.GetTransactionByToken(ctx, tx.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byToken.ID)

	_, err = s.GetTransactionByToken(ctx, uuid.NewString())
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTransaction(ctx, uuid.NewString())
	require.ErrorIs(t, err, store.ErrNotFound)

	dup := newTransaction("user-1", models.StatusPending, "1")
	dup.ConfirmationToken = tx.ConfirmationToken
	require.ErrorIs(t, s.InsertTransaction(ctx, dup), store.ErrConflict)

	second := newTransaction("user-1", models.StatusBroadcastPending, "2")
	second.CreatedAt = tx.CreatedAt.Add(time.Second)
	require.NoError(t, s.InsertTransaction(ctx, second))

	list, err := s.ListTransactions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	list, err = s.ListTransactions(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	pending, err := s.ListTransactionsByStatus(ctx, models.StatusBroadcastPending, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func testStatusCAS(t *testing.T, s store.Store) {
	ctx := t.Context()

	tx := newTransaction("user-1", models.StatusPending, "1")
	require.NoError(t, s.InsertTransaction(ctx, tx))

	tx.Status = models.StatusBroadcasting
	require.NoError(t, s.UpdateTransactionStatus(ctx, tx, models.StatusPending))

	// a second claim from pending loses
	tx.Status = models.StatusBroadcasting
	require.ErrorIs(t, s.UpdateTransactionStatus(ctx, tx, models.StatusPending), store.ErrStaleStatus)

	tx.Status = models.StatusBroadcastPending
	tx.TxHash = null.StringFrom("0xabc")
	tx.Metadata.Nonce = null.Uint64From(7)
	require.NoError(t, s.UpdateTransactionStatus(ctx, tx, models.StatusBroadcasting))

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroadcastPending, got.Status)
	assert.Equal(t, "0xabc", got.TxHash.String)
	assert.Equal(t, uint64(7), got.Metadata.Nonce.Uint64)

	// never back to pending
	tx.Status = models.StatusPending
	require.ErrorIs(t, s.UpdateTransactionStatus(ctx, tx, models.StatusBroadcastPending), store.ErrInvalidTransition)
}

func testStatusQueueOrder(t *testing.T, s store.Store) {
	ctx := t.Context()

	var ids []string
	for range 3 {
		tx := newTransaction("user-1", models.StatusBroadcastPending, "1")
		tx.TxHash = null.StringFrom("0xabc")
		require.NoError(t, s.InsertTransaction(ctx, tx))
		ids = append(ids, tx.ID)
	}

	first, err := s.GetTransaction(ctx, ids[0])
	require.NoError(t, err)

	// rewriting the same status moves the record to the back
	first.Metadata.LastCheckedAt = null.TimeFrom(time.Now().UTC())
	require.NoError(t, s.UpdateTransactionStatus(ctx, first, models.StatusBroadcastPending))

	listed, err := s.ListTransactionsByStatus(ctx, models.StatusBroadcastPending, 10)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, []string{ids[1], ids[2], ids[0]}, []string{listed[0].ID, listed[1].ID, listed[2].ID})

	batch, err := s.ListTransactionsByStatus(ctx, models.StatusBroadcastPending, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, ids[1], batch[0].ID)
	assert.True(t, listed[2].Metadata.LastCheckedAt.Valid)
}

func testSumOutgoing(t *testing.T, s store.Store) {
	ctx := t.Context()
	since := time.Now().Add(-time.Hour)

	for status, amount := range map[models.TransactionStatus]string{
		models.StatusPending:          "100",
		models.StatusBroadcasting:     "1.25",
		models.StatusBroadcastPending: "2",
		models.StatusConfirmed:        "3",
		models.StatusFailed:           "200",
		models.StatusCancelled:        "300",
	} {
		require.NoError(t, s.InsertTransaction(ctx, newTransaction("user-1", status, amount)))
	}

	old := newTransaction("user-1", models.StatusConfirmed, "1000")
	old.CreatedAt = since.Add(-time.Hour)
	require.NoError(t, s.InsertTransaction(ctx, old))

	require.NoError(t, s.InsertTransaction(ctx, newTransaction("user-2", models.StatusConfirmed, "5000")))

	sum, err := s.SumOutgoing(ctx, "user-1", "USDC", since)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("6.25").Equal(sum), sum.String())

	sum, err = s.SumOutgoing(ctx, "user-1", "ETH", since)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func testConcurrentNonces(t *testing.T, s store.Store) {
	ctx := t.Context()
	const n = 25
	const base = uint64(42)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		got        = make(map[uint64]int)
		bootstraps int
	)

	bootstrap := func(context.Context) (uint64, error) {
		mu.Lock()
		bootstraps++
		mu.Unlock()
		return base, nil
	}

	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nonce, err := s.AllocateNonce(ctx, "user-1", 1, bootstrap)
			assert.NoError(t, err)

			mu.Lock()
			got[nonce]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, got, n)
	for i := range uint64(n) {
		assert.Equal(t, 1, got[base+i], "nonce %d", base+i)
	}

	record, err := s.GetNonce(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, base+n, record.NextNonce)

	require.NoError(t, s.SetNonce(ctx, "user-1", 1, 3))
	nonce, err := s.AllocateNonce(ctx, "user-1", 1, bootstrap)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nonce)

	// another chain is an independent counter
	nonce, err = s.AllocateNonce(ctx, "user-1", 2, func(context.Context) (uint64, error) { return 0, nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
}

func testNonceBootstrapError(t *testing.T, s store.Store) {
	ctx := t.Context()

	_, err := s.AllocateNonce(ctx, "user-9", 1, func(context.Context) (uint64, error) {
		return 0, errors.New("rpc down")
	})
	require.Error(t, err)

	_, err = s.GetNonce(ctx, "user-9", 1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testAudit(t *testing.T, s store.Store) {
	require.NoError(t, s.InsertAuditEvent(t.Context(), &models.AuditEvent{
		UserID:  "user-1",
		Action:  "sign.requested",
		Details: map[string]any{"to": "0xabc", "value": "1"},
	}))
}
