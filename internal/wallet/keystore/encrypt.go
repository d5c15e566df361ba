package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	keySize = 32
	ivSize  = 16
	tagSize = 16
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key length %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}

// sealStageOne encrypts plaintext with AES-256-GCM under key with a random
// 128-bit IV.
//
//nolint:varnamelen // iv is a common abbreviation for initialization vector
func sealStageOne(key []byte, plaintext []byte) (*stageOne, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - tagSize

	return &stageOne{
		IV:         iv,
		Tag:        sealed[split:],
		Ciphertext: sealed[:split],
	}, nil
}
