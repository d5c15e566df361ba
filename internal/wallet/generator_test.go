package wallet_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/test"
	"github/chapool/go-custody/internal/wallet"
	"github/chapool/go-custody/internal/wallet/address"
	"github/chapool/go-custody/internal/wallet/keystore"
	"github/chapool/go-custody/internal/wallet/seed"
)

func TestGenerateRoundTrip(t *testing.T) {
	ctx := t.Context()
	ks := test.NewKeystore(t)
	g := wallet.NewGenerator(ks)

	seen := make(map[string]bool)
	for range 5 {
		generated, err := g.Generate(ctx, 1)
		require.NoError(t, err)

		assert.True(t, address.IsValidAddress(generated.Address))
		assert.Equal(t, strings.ToLower(generated.Address), generated.Address)
		assert.Equal(t, int64(1), generated.ChainID)
		assert.Equal(t, models.DefaultDerivationPath, generated.DerivationPath)
		assert.Equal(t, test.KeyReference, generated.KeyReference)
		assert.False(t, seen[generated.Address], "addresses must be unique")
		seen[generated.Address] = true

		envelope, err := keystore.ParseEnvelope(generated.EncryptedSeed)
		require.NoError(t, err)
		mnemonic, err := ks.Decrypt(ctx, envelope)
		require.NoError(t, err)
		assert.Len(t, strings.Fields(string(mnemonic.Bytes())), seed.MnemonicWords)

		key, err := wallet.DeriveSigningKey(mnemonic)
		require.NoError(t, err)
		assert.Equal(t, generated.Address, address.Normalize(address.FromPrivateKey(key).Hex()))

		address.WipeKey(key)
		mnemonic.Wipe()
	}
}

func TestDeriveSigningKeyKnownVector(t *testing.T) {
	//nolint:dupword
	mnemonic := seed.NewSecret([]byte("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"))
	defer mnemonic.Wipe()

	key, err := wallet.DeriveSigningKey(mnemonic)
	require.NoError(t, err)
	defer address.WipeKey(key)

	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", address.FromPrivateKey(key).Hex())
}

func TestDeriveSigningKeyRejectsInvalidMnemonic(t *testing.T) {
	_, err := wallet.DeriveSigningKey(seed.NewSecret([]byte("not a mnemonic")))
	require.ErrorIs(t, err, seed.ErrInvalidMnemonic)
}

func TestUnlockSigningKeyDetectsMismatch(t *testing.T) {
	ctx := t.Context()
	ks := test.NewKeystore(t)

	generated, err := wallet.NewGenerator(ks).Generate(ctx, 1)
	require.NoError(t, err)

	w := &models.Wallet{
		ID:            "w-1",
		Address:       generated.Address,
		EncryptedSeed: generated.EncryptedSeed,
		KeyReference:  generated.KeyReference,
	}
	require.NoError(t, wallet.Verify(ctx, ks, w))

	w.Address = "0x0000000000000000000000000000000000000001"
	_, err = wallet.UnlockSigningKey(ctx, ks, w)
	require.ErrorIs(t, err, wallet.ErrAddressMismatch)
}
