package keystore_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/wallet/keystore"
	"google.golang.org/api/option"
)

const testKeyRef = "projects/test/locations/global/keyRings/custody/cryptoKeys/seed"

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func newService(t *testing.T, kms keystore.KMS) keystore.Service {
	t.Helper()
	svc, err := keystore.NewService(hex.EncodeToString(randomBytes(t, 32)), testKeyRef, kms, 0)
	require.NoError(t, err)
	return svc
}

func newLocalKMS(t *testing.T) *keystore.LocalKMS {
	t.Helper()
	kms, err := keystore.NewLocalKMS(randomBytes(t, 32))
	require.NoError(t, err)
	return kms
}

// passthroughKMS leaves the stage-one blob readable so tests can tamper with it.
type passthroughKMS struct{}

func (passthroughKMS) Encrypt(_ context.Context, _ string, p []byte) ([]byte, error) {
	return append([]byte(nil), p...), nil
}

func (passthroughKMS) Decrypt(_ context.Context, _ string, c []byte) ([]byte, error) {
	return append([]byte(nil), c...), nil
}

type failingKMS struct{ empty bool }

func (f failingKMS) Encrypt(context.Context, string, []byte) ([]byte, error) {
	if f.empty {
		return nil, nil
	}
	return nil, errors.New("kms unavailable")
}

func (f failingKMS) Decrypt(context.Context, string, []byte) ([]byte, error) {
	if f.empty {
		return nil, nil
	}
	return nil, errors.New("kms unavailable")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := t.Context()
	svc := newService(t, newLocalKMS(t))

	for _, size := range []int{0, 1, 15, 16, 17, 255, 4096} {
		plaintext := randomBytes(t, size)

		env, err := svc.Encrypt(ctx, plaintext)
		require.NoError(t, err)
		assert.Equal(t, testKeyRef, env.KeyReference)
		assert.Equal(t, keystore.EnvelopeVersion, env.Version)

		raw, err := env.Marshal()
		require.NoError(t, err)
		parsed, err := keystore.ParseEnvelope(raw)
		require.NoError(t, err)

		secret, err := svc.Decrypt(ctx, parsed)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, secret.Bytes()), "size %d", size)
		secret.Wipe()
	}
}

func TestDecryptTamperedKMSLayer(t *testing.T) {
	ctx := t.Context()
	svc := newService(t, newLocalKMS(t))

	env, err := svc.Encrypt(ctx, []byte("seed words"))
	require.NoError(t, err)

	env.Ciphertext[len(env.Ciphertext)-1] ^= 0x01

	_, err = svc.Decrypt(ctx, env)
	require.ErrorIs(t, err, errs.ErrDecryptionFailure)
}

func TestDecryptTamperedStageOne(t *testing.T) {
	ctx := t.Context()
	svc := newService(t, passthroughKMS{})

	for _, field := range []string{"iv", "tag", "ciphertext"} {
		env, err := svc.Encrypt(ctx, []byte("seed words"))
		require.NoError(t, err)

		var blob map[string][]byte
		require.NoError(t, json.Unmarshal(env.Ciphertext, &blob))
		blob[field][0] ^= 0x01
		env.Ciphertext, err = json.Marshal(blob)
		require.NoError(t, err)

		_, err = svc.Decrypt(ctx, env)
		require.ErrorIs(t, err, errs.ErrDecryptionFailure, field)
	}
}

func TestDecryptWithOtherApplicationKey(t *testing.T) {
	ctx := t.Context()
	kms := newLocalKMS(t)

	env, err := newService(t, kms).Encrypt(ctx, []byte("seed words"))
	require.NoError(t, err)

	_, err = newService(t, kms).Decrypt(ctx, env)
	require.ErrorIs(t, err, errs.ErrDecryptionFailure)
}

func TestKMSFailures(t *testing.T) {
	ctx := t.Context()

	for _, kms := range []failingKMS{{empty: false}, {empty: true}} {
		svc := newService(t, kms)

		_, err := svc.Encrypt(ctx, []byte("seed words"))
		require.ErrorIs(t, err, errs.ErrEncryptionFailure)
		assert.NotContains(t, err.Error(), "seed words")

		_, err = svc.Decrypt(ctx, &keystore.Envelope{Version: 1, KeyReference: testKeyRef, Ciphertext: []byte{1}})
		require.ErrorIs(t, err, errs.ErrDecryptionFailure)
	}
}

func TestNewServiceConfiguration(t *testing.T) {
	kms := newLocalKMS(t)
	key := hex.EncodeToString(randomBytes(t, 32))

	_, err := keystore.NewService("", testKeyRef, kms, 0)
	require.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = keystore.NewService("zz"+key[2:], testKeyRef, kms, 0)
	require.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = keystore.NewService(key[:62], testKeyRef, kms, 0)
	require.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = keystore.NewService(key, "", kms, 0)
	require.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = keystore.NewService(key, testKeyRef, nil, 0)
	require.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = keystore.NewService("0x"+key, testKeyRef, kms, 0)
	require.NoError(t, err)
}

func TestParseEnvelope(t *testing.T) {
	_, err := keystore.ParseEnvelope([]byte("{"))
	require.ErrorIs(t, err, errs.ErrDecryptionFailure)

	_, err = keystore.ParseEnvelope([]byte(`{"version":2,"key_ref":"k","ciphertext":"AQ=="}`))
	require.ErrorIs(t, err, errs.ErrDecryptionFailure)

	_, err = keystore.ParseEnvelope([]byte(`{"version":1,"key_ref":"","ciphertext":"AQ=="}`))
	require.ErrorIs(t, err, errs.ErrDecryptionFailure)
}

func TestLocalKMSKeySeparation(t *testing.T) {
	ctx := t.Context()
	kms := newLocalKMS(t)

	c, err := kms.Encrypt(ctx, "key-a", []byte("blob"))
	require.NoError(t, err)

	p, err := kms.Decrypt(ctx, "key-a", c)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), p)

	_, err = kms.Decrypt(ctx, "key-b", c)
	require.Error(t, err)

	_, err = keystore.NewLocalKMS([]byte("short"))
	require.Error(t, err)
}

func TestGoogleKMS(t *testing.T) {
	var calls []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, ":encrypt"):
			_ = json.NewEncoder(w).Encode(map[string]string{"name": testKeyRef, "ciphertext": body["plaintext"]})
		case strings.HasSuffix(r.URL.Path, ":decrypt"):
			_ = json.NewEncoder(w).Encode(map[string]string{"plaintext": body["ciphertext"]})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := t.Context()
	kms, err := keystore.NewGoogleKMS(ctx,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	svc := newService(t, kms)

	env, err := svc.Encrypt(ctx, []byte("seed words"))
	require.NoError(t, err)

	secret, err := svc.Decrypt(ctx, env)
	require.NoError(t, err)
	defer secret.Wipe()

	assert.Equal(t, "seed words", string(secret.Bytes()))
	require.Len(t, calls, 2)
	assert.Equal(t, "/v1/"+testKeyRef+":encrypt", calls[0])
	assert.Equal(t, "/v1/"+testKeyRef+":decrypt", calls[1])
}
