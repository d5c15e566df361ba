package wallet

import (
	"context"
	"crypto/ecdsa"

	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/address"
	"github/chapool/go-custody/internal/wallet/keystore"
)

// ErrAddressMismatch means the stored seed no longer derives the stored address.
var ErrAddressMismatch = errors.New("derived address does not match wallet address")

// UnlockSigningKey decrypts the wallet's seed, derives its key and verifies the
// key controls the stored address. The decrypted mnemonic is wiped before
// returning.
// WARNING: caller must address.WipeKey the result.
func UnlockSigningKey(ctx context.Context, ks keystore.Service, w *models.Wallet) (*ecdsa.PrivateKey, error) {
	log := util.LogFromContext(ctx).With().Str("component", "wallet_unlock").Str("wallet_id", w.ID).Logger()

	envelope, err := keystore.ParseEnvelope(w.EncryptedSeed)
	if err != nil {
		return nil, err
	}

	mnemonic, err := ks.Decrypt(ctx, envelope)
	if err != nil {
		return nil, err
	}
	defer mnemonic.Wipe()

	key, err := DeriveSigningKey(mnemonic)
	if err != nil {
		return nil, errors.Wrap(errs.ErrDecryptionFailure, "seed does not derive a key")
	}

	if derived := address.Normalize(address.FromPrivateKey(key).Hex()); derived != address.Normalize(w.Address) {
		address.WipeKey(key)
		log.Error().Str("derived", derived).Str("stored", w.Address).Msg("Wallet verification failed: addresses do not match")
		return nil, ErrAddressMismatch
	}

	return key, nil
}

// Verify checks that the wallet's encrypted seed round-trips to its address.
func Verify(ctx context.Context, ks keystore.Service, w *models.Wallet) error {
	key, err := UnlockSigningKey(ctx, ks, w)
	if err != nil {
		return err
	}
	address.WipeKey(key)

	return nil
}
