package keystore

import (
	"fmt"
)

// openStageOne authenticates and decrypts a stage-one envelope. The caller
// owns and must wipe the returned plaintext.
func openStageOne(key []byte, env *stageOne) ([]byte, error) {
	if len(env.IV) != ivSize || len(env.Tag) != tagSize {
		return nil, fmt.Errorf("malformed stage one envelope")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+tagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := gcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open stage one envelope: %w", err)
	}

	return plaintext, nil
}
