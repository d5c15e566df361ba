package address

import (
	"crypto/ecdsa"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"github/chapool/go-custody/internal/wallet/seed"
)

const hardenedOffset = 0x80000000

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValidAddress checks syntax only: 0x followed by 40 hex digits. Checksum
// casing is not enforced.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Normalize returns the lower-case form used for storage and lookups.
func Normalize(s string) string {
	return strings.ToLower(s)
}

// DerivePrivateKey derives the secp256k1 key at path from a BIP39 seed.
// WARNING: caller must WipeKey the result.
func DerivePrivateKey(bip39Seed *seed.Secret, path string) (*ecdsa.PrivateKey, error) {
	indices, err := parseBIP44Path(path)
	if err != nil {
		return nil, err
	}

	masterKey, err := bip32.NewMasterKey(bip39Seed.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}
	defer seed.Wipe(masterKey.Key)

	key := masterKey
	for _, index := range indices {
		child, err := key.NewChildKey(index)
		if key != masterKey {
			seed.Wipe(key.Key)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
		key = child
	}
	defer seed.Wipe(key.Key)

	privateKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert to ECDSA private key")
	}

	return privateKey, nil
}

// FromPrivateKey returns the address controlled by key.
func FromPrivateKey(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// WipeKey zeroes the private scalar of key in place.
func WipeKey(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}

	words := key.D.Bits()
	for i := range words {
		words[i] = 0
	}
	key.D.SetInt64(0)
}

// parseBIP44Path parses "m/44'/60'/0'/0/0" into child indices.
func parseBIP44Path(path string) ([]uint32, error) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] != "m" {
		return nil, errors.Errorf("invalid BIP44 path: %s", path)
	}

	indices := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'")
		part = strings.TrimSuffix(part, "'")

		index, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, errors.Errorf("invalid path segment: %s", part)
		}

		//nolint:gosec // bounded to 31 bits above
		value := uint32(index)
		if hardened {
			value += hardenedOffset
		}

		indices = append(indices, value)
	}

	return indices, nil
}
