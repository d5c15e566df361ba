package nonce_test

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/cmd/nonce"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/test"
)

func TestResetAndShow(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		ctx := t.Context()

		w, err := s.Wallet.CreateWallet(ctx, "user-1")
		require.NoError(t, err)
		test.Chain(t, s).SetPendingNonce(common.HexToAddress(w.Address), 7)

		var out bytes.Buffer
		err = nonce.Show(ctx, s, "user-1", &out)
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, nonce.Reset(ctx, s, "user-1", &out))
		assert.Equal(t, "user-1\t7\n", out.String())

		out.Reset()
		require.NoError(t, nonce.Show(ctx, s, "user-1", &out))
		assert.Equal(t, "user-1\t7\n", out.String())

		mem, ok := s.Store.(*store.Memory)
		require.True(t, ok)

		var resets int
		for _, e := range mem.AuditEvents() {
			if e.Action == audit.ActionNonceReset {
				resets++
			}
		}
		assert.Equal(t, 1, resets)
	})
}

func TestResetUnknownUser(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		var out bytes.Buffer
		require.Error(t, nonce.Reset(t.Context(), s, "nobody", &out))
		assert.Empty(t, out.String())
	})
}
