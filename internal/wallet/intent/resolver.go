package intent

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/wallet/address"
)

// userRecipientPrefix addresses another custodial user by id.
const userRecipientPrefix = "user:"

// Resolver turns recipient input into a chain address.
type Resolver interface {
	Resolve(ctx context.Context, input string) (string, error)
}

// WalletResolver accepts raw addresses and "user:<id>" references to other
// custodial wallets on the same chain.
type WalletResolver struct {
	wallets store.WalletStore
	chainID int64
}

func NewWalletResolver(wallets store.WalletStore, chainID int64) *WalletResolver {
	return &WalletResolver{wallets: wallets, chainID: chainID}
}

func (r *WalletResolver) Resolve(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)

	if address.IsValidAddress(input) {
		return address.Normalize(input), nil
	}

	if userID, ok := strings.CutPrefix(input, userRecipientPrefix); ok && userID != "" {
		w, err := r.wallets.GetWallet(ctx, userID, r.chainID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", errors.Wrapf(errs.ErrInvalidRecipient, "user %s has no wallet", userID)
			}
			return "", errors.Wrap(err, "failed to resolve recipient")
		}
		return w.Address, nil
	}

	return "", errors.Wrapf(errs.ErrInvalidRecipient, "cannot resolve %q", input)
}
