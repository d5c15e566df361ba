// Package nonce hands out per (user, chain) transaction nonces. Allocation is
// serialised by the store; the chain is only consulted to bootstrap a counter
// and for manual resets.
package nonce

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/metrics"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/chain"
)

// Store is what the allocator needs from persistence.
type Store interface {
	store.NonceStore
	store.WalletStore
}

// Allocator is safe for concurrent use. It keeps no state of its own, so
// several processes may share one store.
type Allocator struct {
	store   Store
	client  chain.Client
	metrics *metrics.Service
}

func NewAllocator(s Store, client chain.Client, m *metrics.Service) *Allocator {
	return &Allocator{
		store:   s,
		client:  client,
		metrics: m,
	}
}

func (a *Allocator) walletAddress(ctx context.Context, userID string, chainID int64) (common.Address, error) {
	wallet, err := a.store.GetWallet(ctx, userID, chainID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return common.Address{}, errors.Wrapf(errs.ErrWalletNotFound, "user %s chain %d", userID, chainID)
		}
		return common.Address{}, errors.Wrap(err, "failed to load wallet")
	}

	return common.HexToAddress(wallet.Address), nil
}

// NextNonce returns the nonce to use for the next transaction of the user and
// durably advances the counter. The first call for a pair bootstraps from the
// chain's pending transaction count.
func (a *Allocator) NextNonce(ctx context.Context, userID string, chainID int64) (uint64, error) {
	log := util.LogFromContext(ctx).With().Str("component", "nonce").Str("user_id", userID).Int64("chain_id", chainID).Logger()

	bootstrap := func(ctx context.Context) (uint64, error) {
		account, err := a.walletAddress(ctx, userID, chainID)
		if err != nil {
			return 0, err
		}

		pending, err := a.client.PendingNonceAt(ctx, account)
		if err != nil {
			return 0, errors.Wrap(err, "failed to read pending nonce")
		}

		log.Info().Uint64("nonce", pending).Msg("Bootstrapped nonce from chain")
		a.metrics.Nonce("bootstrap")
		return pending, nil
	}

	n, err := a.store.AllocateNonce(ctx, userID, chainID, bootstrap)
	if err != nil {
		return 0, err
	}

	a.metrics.Nonce("allocate")
	log.Debug().Uint64("nonce", n).Msg("Allocated nonce")

	return n, nil
}

// ResetNonce overwrites the stored counter with the chain's pending count and
// returns it. Manual desync repair only; nothing calls it automatically.
func (a *Allocator) ResetNonce(ctx context.Context, userID string, chainID int64) (uint64, error) {
	account, err := a.walletAddress(ctx, userID, chainID)
	if err != nil {
		return 0, err
	}

	pending, err := a.client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read pending nonce")
	}

	if err := a.store.SetNonce(ctx, userID, chainID, pending); err != nil {
		return 0, err
	}

	a.metrics.Nonce("reset")
	util.LogFromContext(ctx).Warn().Str("user_id", userID).Int64("chain_id", chainID).Uint64("nonce", pending).Msg("Nonce reset from chain")

	return pending, nil
}
