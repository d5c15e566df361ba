package wallet_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/test"
	"github/chapool/go-custody/internal/wallet"
)

func newWalletService(t *testing.T) (wallet.Service, *store.Memory, *clock.TestClock) {
	t.Helper()

	s := store.NewMemory()
	clk := clock.NewTestClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := wallet.NewService(s, wallet.NewGenerator(test.NewKeystore(t)), audit.NewStoreSink(s, clk), 1, clk, nil)

	return svc, s, clk
}

func TestCreateWalletIsIdempotent(t *testing.T) {
	svc, s, _ := newWalletService(t)
	ctx := context.Background()

	first, err := svc.CreateWallet(ctx, "user-1")
	require.NoError(t, err)
	second, err := svc.CreateWallet(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Address, second.Address)

	events := s.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionWalletCreated, events[0].Action)
	assert.NotContains(t, events[0].Details, "encrypted_seed")
}

func TestCreateWalletConcurrent(t *testing.T) {
	svc, _, _ := newWalletService(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	addrs := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := svc.CreateWallet(ctx, "user-1")
			assert.NoError(t, err)
			if w != nil {
				addrs[i] = w.Address
			}
		}()
	}
	wg.Wait()

	for _, a := range addrs {
		assert.Equal(t, addrs[0], a)
	}

	list, err := svc.ListWallets(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetWallet(t *testing.T) {
	svc, _, clk := newWalletService(t)
	ctx := context.Background()

	_, err := svc.GetWallet(ctx, "user-1")
	require.ErrorIs(t, err, errs.ErrWalletNotFound)

	created, err := svc.CreateWallet(ctx, "user-1")
	require.NoError(t, err)

	got, err := svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	byAddr, err := svc.GetWalletByAddress(ctx, created.Address)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byAddr.ID)

	_, err = svc.GetWalletByAddress(ctx, "0x0000000000000000000000000000000000000001")
	require.ErrorIs(t, err, errs.ErrWalletNotFound)
	_, err = svc.GetWalletByAddress(ctx, "bob.eth")
	require.ErrorIs(t, err, errs.ErrInvalidRecipient)

	clk.SetTime(clk.Now().Add(time.Hour))
	require.NoError(t, svc.Touch(ctx, created.ID))
	got, err = svc.GetWallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, clk.Now().UTC(), got.LastAccessedAt)

	require.ErrorIs(t, svc.Touch(ctx, "missing"), errs.ErrWalletNotFound)
}
