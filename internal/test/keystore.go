// Package test holds helpers shared by package tests.
package test

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/wallet/keystore"
)

const KeyReference = "local/test-seed"

// NewKeystore returns a keystore backed by a LocalKMS with random keys.
//
//nolint:ireturn
func NewKeystore(t *testing.T) keystore.Service {
	t.Helper()

	master := make([]byte, 32)
	_, err := rand.Read(master)
	require.NoError(t, err)

	kms, err := keystore.NewLocalKMS(master)
	require.NoError(t, err)

	appKey := make([]byte, 32)
	_, err = rand.Read(appKey)
	require.NoError(t, err)

	ks, err := keystore.NewService(hex.EncodeToString(appKey), KeyReference, kms, 0)
	require.NoError(t, err)

	return ks
}
