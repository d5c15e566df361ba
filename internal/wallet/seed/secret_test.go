package seed_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/wallet/seed"
)

func TestSecretWipe(t *testing.T) {
	buf := []byte("correct horse battery staple")
	s := seed.NewSecret(buf)

	assert.Equal(t, "correct horse battery staple", string(s.Bytes()))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))

	s.Wipe()
	assert.Nil(t, s.Bytes())
	assert.Equal(t, make([]byte, len(buf)), buf)

	// idempotent
	s.Wipe()

	var nilSecret *seed.Secret
	nilSecret.Wipe()
	assert.Nil(t, nilSecret.Bytes())
}

func TestNewMnemonic(t *testing.T) {
	m, err := seed.NewMnemonic()
	require.NoError(t, err)
	defer m.Wipe()

	assert.Len(t, strings.Fields(string(m.Bytes())), seed.MnemonicWords)

	s, err := seed.ToSeed(m)
	require.NoError(t, err)
	defer s.Wipe()
	assert.Equal(t, 64, s.Len())
}

func TestToSeedInvalid(t *testing.T) {
	_, err := seed.ToSeed(seed.NewSecret([]byte("not a mnemonic at all")))
	require.ErrorIs(t, err, seed.ErrInvalidMnemonic)
}
