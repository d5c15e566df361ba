package address_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/wallet/address"
	"github/chapool/go-custody/internal/wallet/seed"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestDerivePrivateKeyKnownVector(t *testing.T) {
	s, err := seed.ToSeed(seed.NewSecret([]byte(testMnemonic)))
	require.NoError(t, err)
	defer s.Wipe()

	key, err := address.DerivePrivateKey(s, models.DefaultDerivationPath)
	require.NoError(t, err)

	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", address.FromPrivateKey(key).Hex())

	address.WipeKey(key)
	assert.Zero(t, key.D.Sign())
}

func TestIsValidAddress(t *testing.T) {
	valid := []string{
		"0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
		"0x9858effd232b4033e47d90003d41ec34ecaeda94",
		"0x0000000000000000000000000000000000000000",
	}
	for _, v := range valid {
		assert.True(t, address.IsValidAddress(v), v)
	}

	invalid := []string{
		"",
		"9858EfFD232B4033E47d90003D41EC34EcaEda94",
		"0x9858EfFD232B4033E47d90003D41EC34EcaEda9",
		"0x9858EfFD232B4033E47d90003D41EC34EcaEda944",
		"0xZZ58EfFD232B4033E47d90003D41EC34EcaEda94",
		"alice@example.com",
	}
	for _, v := range invalid {
		assert.False(t, address.IsValidAddress(v), v)
	}
}
