package wallet_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/cmd/wallet"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/test"
)

func TestCreateAndVerify(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		ctx := t.Context()

		var out bytes.Buffer
		require.NoError(t, wallet.Create(ctx, s, "user-1", &out))

		fields := strings.Split(strings.TrimSpace(out.String()), "\t")
		require.Len(t, fields, 3)
		assert.Equal(t, "user-1", fields[0])
		assert.True(t, strings.HasPrefix(fields[2], "0x"))

		out.Reset()
		require.NoError(t, wallet.Create(ctx, s, "user-1", &out))
		assert.Contains(t, out.String(), fields[2])

		out.Reset()
		require.NoError(t, wallet.Verify(ctx, s, "user-1", &out))
		assert.Equal(t, "user-1\t"+fields[2]+"\tok\n", out.String())
	})
}

func TestVerifyUnknownUser(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		var out bytes.Buffer
		require.ErrorIs(t, wallet.Verify(t.Context(), s, "nobody", &out), errs.ErrWalletNotFound)
	})
}
