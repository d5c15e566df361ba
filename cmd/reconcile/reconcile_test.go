package reconcile_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/cmd/reconcile"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/test"
)

func TestRunBatch(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		test.Chain(t, s).SetBlockNumber(42)

		var out bytes.Buffer
		require.NoError(t, reconcile.Run(t.Context(), s, "", &out))

		var summary map[string]int
		require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
		assert.Equal(t, 0, summary["checked"])
		assert.Equal(t, 0, summary["errors"])
	})
}

func TestRunUnknownTransaction(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		var out bytes.Buffer
		err := reconcile.Run(t.Context(), s, "00000000-0000-0000-0000-000000000000", &out)
		require.ErrorIs(t, err, errs.ErrTransactionNotFound)
		assert.Empty(t, out.String())
	})
}
