package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/test"
	"github/chapool/go-custody/internal/test/chainmock"
	"github/chapool/go-custody/internal/util/command"
)

func memoryServer(cfg config.Server) (*api.Server, error) {
	return api.InitNewServerWithDeps(cfg, nil, store.NewMemory(), chainmock.New(cfg.Chain.ChainID))
}

func TestWithServer(t *testing.T) {
	ctx := t.Context()
	cfg := test.TestConfig(t)

	var testError = errors.New("test error")

	resultErr := command.WithServerFrom(ctx, cfg, memoryServer, func(ctx context.Context, s *api.Server) error {
		require.NoError(t, s.Store.Ping(ctx))

		w, err := s.Wallet.CreateWallet(ctx, "cli-user")
		require.NoError(t, err)
		assert.NotEmpty(t, w.Address)

		return testError
	})

	assert.Equal(t, testError, resultErr)
}

func TestWithServerInitError(t *testing.T) {
	cfg := test.TestConfig(t)

	called := false
	err := command.WithServerFrom(t.Context(), cfg, func(config.Server) (*api.Server, error) {
		return nil, errors.New("boom")
	}, func(context.Context, *api.Server) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, called)
}

func TestNewSubcommandGroup(t *testing.T) {
	child := command.NewSubcommandGroup("child")
	group := command.NewSubcommandGroup("group", child)

	assert.Equal(t, "group", group.Use)
	require.Len(t, group.Commands(), 1)
	assert.Equal(t, "child", group.Commands()[0].Use)
}
