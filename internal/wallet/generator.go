package wallet

import (
	"context"
	"crypto/ecdsa"

	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/models"
	"github/chapool/go-custody/internal/wallet/address"
	"github/chapool/go-custody/internal/wallet/keystore"
	"github/chapool/go-custody/internal/wallet/seed"
)

// Generated is the public outcome of a key generation plus the encrypted
// mnemonic. It never holds plaintext key material.
type Generated struct {
	Address        string
	ChainID        int64
	DerivationPath string
	EncryptedSeed  []byte
	KeyReference   string
}

// Generator creates HD wallets: one fresh mnemonic per wallet, key at the
// fixed path models.DefaultDerivationPath.
type Generator struct {
	keystore keystore.Service
}

func NewGenerator(ks keystore.Service) *Generator {
	return &Generator{keystore: ks}
}

// Generate draws 256 bits of entropy, derives the address and encrypts the
// mnemonic. Mnemonic, seed and key are wiped before returning on every path.
func (g *Generator) Generate(ctx context.Context, chainID int64) (*Generated, error) {
	mnemonic, err := seed.NewMnemonic()
	if err != nil {
		return nil, err
	}
	defer mnemonic.Wipe()

	key, err := DeriveSigningKey(mnemonic)
	if err != nil {
		return nil, err
	}
	defer address.WipeKey(key)

	envelope, err := g.keystore.Encrypt(ctx, mnemonic.Bytes())
	if err != nil {
		return nil, err
	}

	blob, err := envelope.Marshal()
	if err != nil {
		return nil, err
	}

	return &Generated{
		Address:        address.Normalize(address.FromPrivateKey(key).Hex()),
		ChainID:        chainID,
		DerivationPath: models.DefaultDerivationPath,
		EncryptedSeed:  blob,
		KeyReference:   envelope.KeyReference,
	}, nil
}

// DeriveSigningKey re-derives the wallet key from a decrypted mnemonic.
// WARNING: caller must address.WipeKey the result.
func DeriveSigningKey(mnemonic *seed.Secret) (*ecdsa.PrivateKey, error) {
	bip39Seed, err := seed.ToSeed(mnemonic)
	if err != nil {
		return nil, err
	}
	defer bip39Seed.Wipe()

	key, err := address.DerivePrivateKey(bip39Seed, models.DefaultDerivationPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive signing key")
	}

	return key, nil
}
