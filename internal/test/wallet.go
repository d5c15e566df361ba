package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/wallet"
	"github/chapool/go-custody/internal/wallet/keystore"
)

// CreateWallet generates a wallet for userID through ks and stores it.
func CreateWallet(t *testing.T, s store.WalletStore, ks keystore.Service, userID string, chainID int64) *models.Wallet {
	t.Helper()

	generated, err := wallet.NewGenerator(ks).Generate(context.Background(), chainID)
	require.NoError(t, err)

	w := &models.Wallet{
		UserID:         userID,
		ChainID:        chainID,
		Address:        generated.Address,
		DerivationPath: generated.DerivationPath,
		EncryptedSeed:  generated.EncryptedSeed,
		KeyReference:   generated.KeyReference,
	}
	require.NoError(t, s.InsertWallet(context.Background(), w))

	return w
}
