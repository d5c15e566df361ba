package seed

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

const (
	// EntropyBits yields a 24 word mnemonic.
	EntropyBits   = 256
	MnemonicWords = 24
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// NewMnemonic draws fresh entropy and returns a validated 24 word mnemonic.
func NewMnemonic() (*Secret, error) {
	entropy, err := bip39.NewEntropy(EntropyBits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate entropy")
	}
	defer Wipe(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate mnemonic")
	}

	if !bip39.IsMnemonicValid(mnemonic) || len(strings.Fields(mnemonic)) != MnemonicWords {
		return nil, ErrInvalidMnemonic
	}

	return NewSecret([]byte(mnemonic)), nil
}

// ToSeed converts a mnemonic into its 64 byte BIP39 seed (empty passphrase).
func ToSeed(mnemonic *Secret) (*Secret, error) {
	phrase := string(mnemonic.Bytes())
	if !bip39.IsMnemonicValid(phrase) {
		return nil, ErrInvalidMnemonic
	}

	return NewSecret(bip39.NewSeed(phrase, "")), nil
}
