package keystore

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github/chapool/go-custody/internal/errs"
)

// EnvelopeVersion identifies the two-stage layout: AES-256-GCM under the
// application key, then a KMS encrypt pass.
const EnvelopeVersion = 1

// Envelope is the stored form of an encrypted secret.
type Envelope struct {
	Version      int    `json:"version"`
	KeyReference string `json:"key_ref"`
	// Ciphertext is the KMS ciphertext of the marshalled stage-one envelope.
	Ciphertext []byte `json:"ciphertext"`
}

// stageOne is the local AES-256-GCM output.
type stageOne struct {
	IV         []byte `json:"iv"`
	Tag        []byte `json:"tag"`
	Ciphertext []byte `json:"ciphertext"`
}

// Marshal serialises the envelope for the wallets table.
func (e *Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal envelope")
	}
	return b, nil
}

// ParseEnvelope reverses Marshal.
func ParseEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(errs.ErrDecryptionFailure, "malformed envelope")
	}

	if e.Version != EnvelopeVersion {
		return nil, errors.Wrapf(errs.ErrDecryptionFailure, "unsupported envelope version %d", e.Version)
	}
	if e.KeyReference == "" || len(e.Ciphertext) == 0 {
		return nil, errors.Wrap(errs.ErrDecryptionFailure, "incomplete envelope")
	}

	return &e, nil
}
