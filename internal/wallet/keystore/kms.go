package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
	"google.golang.org/api/cloudkms/v1"
	"google.golang.org/api/option"
)

// KMS is the remote key-management stage. keyRef names the key, e.g.
// projects/p/locations/l/keyRings/r/cryptoKeys/k for Google Cloud KMS.
type KMS interface {
	Encrypt(ctx context.Context, keyRef string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, keyRef string, ciphertext []byte) ([]byte, error)
}

var errEmptyKMSResult = errors.New("kms returned an empty result")

// GoogleKMS calls Cloud KMS through the REST client.
type GoogleKMS struct {
	svc *cloudkms.Service
}

// NewGoogleKMS uses application default credentials unless opts say otherwise.
func NewGoogleKMS(ctx context.Context, opts ...option.ClientOption) (*GoogleKMS, error) {
	svc, err := cloudkms.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cloud kms client")
	}

	return &GoogleKMS{svc: svc}, nil
}

func (k *GoogleKMS) Encrypt(ctx context.Context, keyRef string, plaintext []byte) ([]byte, error) {
	resp, err := k.svc.Projects.Locations.KeyRings.CryptoKeys.
		Encrypt(keyRef, &cloudkms.EncryptRequest{Plaintext: base64.StdEncoding.EncodeToString(plaintext)}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, errors.Wrap(err, "cloud kms encrypt")
	}
	if resp.Ciphertext == "" {
		return nil, errEmptyKMSResult
	}

	return base64.StdEncoding.DecodeString(resp.Ciphertext)
}

func (k *GoogleKMS) Decrypt(ctx context.Context, keyRef string, ciphertext []byte) ([]byte, error) {
	resp, err := k.svc.Projects.Locations.KeyRings.CryptoKeys.
		Decrypt(keyRef, &cloudkms.DecryptRequest{Ciphertext: base64.StdEncoding.EncodeToString(ciphertext)}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, errors.Wrap(err, "cloud kms decrypt")
	}
	if resp.Plaintext == "" {
		return nil, errEmptyKMSResult
	}

	return base64.StdEncoding.DecodeString(resp.Plaintext)
}

// LocalKMS stands in for Cloud KMS in development and tests. Each key
// reference gets its own AES-256-GCM key, expanded from the master key with
// HKDF-SHA256.
type LocalKMS struct {
	master []byte
}

// NewLocalKMS requires a 32 byte master key.
func NewLocalKMS(master []byte) (*LocalKMS, error) {
	if len(master) != keySize {
		return nil, errors.Errorf("local kms master key must be %d bytes, got %d", keySize, len(master))
	}

	return &LocalKMS{master: append([]byte(nil), master...)}, nil
}

func (k *LocalKMS) aead(keyRef string) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	defer wipe(key)

	if _, err := io.ReadFull(hkdf.New(sha256.New, k.master, nil, []byte(keyRef)), key); err != nil {
		return nil, errors.Wrap(err, "failed to expand key")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}

	return cipher.NewGCM(block)
}

func (k *LocalKMS) Encrypt(_ context.Context, keyRef string, plaintext []byte) ([]byte, error) {
	gcm, err := k.aead(keyRef)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (k *LocalKMS) Decrypt(_ context.Context, keyRef string, ciphertext []byte) ([]byte, error) {
	gcm, err := k.aead(keyRef)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize()+gcm.Overhead() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "local kms decrypt")
	}

	return plaintext, nil
}
