package keystore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/util"
	"github/chapool/go-custody/internal/wallet/seed"
)

// DefaultKMSTimeout bounds every remote KMS call.
const DefaultKMSTimeout = 10 * time.Second

// Service encrypts seed phrases in two stages: AES-256-GCM under the
// application key, then the KMS.
type Service interface {
	Encrypt(ctx context.Context, plaintext []byte) (*Envelope, error)
	// Decrypt returns the plaintext as a Secret; callers defer its Wipe.
	Decrypt(ctx context.Context, envelope *Envelope) (*seed.Secret, error)
	KeyReference() string
}

type service struct {
	appKey  []byte
	keyRef  string
	kms     KMS
	timeout time.Duration
}

// NewService validates the hex encoded 32 byte application key and the KMS
// key reference. Any problem is an errs.ErrConfiguration.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(applicationKeyHex string, keyRef string, kms KMS, timeout time.Duration) (Service, error) {
	key, err := hex.DecodeString(strings.TrimPrefix(applicationKeyHex, "0x"))
	if err != nil || len(key) != keySize {
		return nil, errors.Wrap(errs.ErrConfiguration, "wallet encryption key must be 64 hex characters")
	}
	if keyRef == "" {
		return nil, errors.Wrap(errs.ErrConfiguration, "kms key reference is required")
	}
	if kms == nil {
		return nil, errors.Wrap(errs.ErrConfiguration, "kms client is required")
	}
	if timeout <= 0 {
		timeout = DefaultKMSTimeout
	}

	return &service{
		appKey:  key,
		keyRef:  keyRef,
		kms:     kms,
		timeout: timeout,
	}, nil
}

func (s *service) KeyReference() string {
	return s.keyRef
}

func (s *service) Encrypt(ctx context.Context, plaintext []byte) (*Envelope, error) {
	log := util.LogFromContext(ctx)

	first, err := sealStageOne(s.appKey, plaintext)
	if err != nil {
		return nil, errors.Wrap(errs.ErrEncryptionFailure, "stage one")
	}

	blob, err := json.Marshal(first)
	if err != nil {
		return nil, errors.Wrap(errs.ErrEncryptionFailure, "stage one marshal")
	}
	defer wipe(blob)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ciphertext, err := s.kms.Encrypt(ctx, s.keyRef, blob)
	if err != nil {
		log.Error().Err(err).Str("key_ref", s.keyRef).Msg("KMS encrypt failed")
		return nil, errors.Wrap(errs.ErrEncryptionFailure, "kms encrypt")
	}
	if len(ciphertext) == 0 {
		return nil, errors.Wrap(errs.ErrEncryptionFailure, "kms returned no ciphertext")
	}

	return &Envelope{
		Version:      EnvelopeVersion,
		KeyReference: s.keyRef,
		Ciphertext:   ciphertext,
	}, nil
}

func (s *service) Decrypt(ctx context.Context, envelope *Envelope) (*seed.Secret, error) {
	log := util.LogFromContext(ctx)

	if envelope == nil || len(envelope.Ciphertext) == 0 {
		return nil, errors.Wrap(errs.ErrDecryptionFailure, "empty envelope")
	}

	keyRef := envelope.KeyReference
	if keyRef == "" {
		keyRef = s.keyRef
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	blob, err := s.kms.Decrypt(ctx, keyRef, envelope.Ciphertext)
	if err != nil {
		log.Error().Err(err).Str("key_ref", keyRef).Msg("KMS decrypt failed")
		return nil, errors.Wrap(errs.ErrDecryptionFailure, "kms decrypt")
	}
	defer wipe(blob)

	if len(blob) == 0 {
		return nil, errors.Wrap(errs.ErrDecryptionFailure, "kms returned no plaintext")
	}

	var first stageOne
	if err := json.Unmarshal(blob, &first); err != nil {
		return nil, errors.Wrap(errs.ErrDecryptionFailure, "malformed stage one envelope")
	}

	plaintext, err := openStageOne(s.appKey, &first)
	if err != nil {
		return nil, errors.Wrap(errs.ErrDecryptionFailure, "stage one")
	}

	return seed.NewSecret(plaintext), nil
}

func wipe(b []byte) {
	seed.Wipe(b)
}
