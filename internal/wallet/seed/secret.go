package seed

import (
	"crypto/rand"
	"sync"
)

// Secret wraps transient plaintext key material (mnemonics, BIP39 seeds).
// Callers defer Wipe as soon as they obtain one. Wiping is best effort: copies
// made by third-party libraries (strings passed to go-bip39, big.Int words in
// ECDSA keys) are outside its reach.
type Secret struct {
	mu    sync.Mutex
	b     []byte
	wiped bool
}

// NewSecret takes ownership of b.
func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes returns the underlying buffer, nil once wiped. Do not retain it.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wiped {
		return nil
	}
	return s.b
}

// Len is the number of plaintext bytes held.
func (s *Secret) Len() int {
	return len(s.Bytes())
}

// Wipe scrubs the buffer. Safe to call more than once and on nil.
func (s *Secret) Wipe() {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wiped {
		return
	}
	Wipe(s.b)
	s.b = nil
	s.wiped = true
}

// String never reveals the content, so a Secret is safe in log fields and %v.
func (s *Secret) String() string {
	return "[REDACTED]"
}

// Wipe overwrites b with random bytes, then with zeros.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}

	_, _ = rand.Read(b)
	clear(b)
}
