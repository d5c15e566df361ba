package wallet

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util/command"
	"github/chapool/go-custody/internal/wallet"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("wallet",
		newCreate(),
		newVerify(),
	)
}

func withServer(cmd *cobra.Command, f func(ctx context.Context, s *api.Server) error) error {
	config.LoadEnvFiles()

	return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), f)
}

func newCreate() *cobra.Command {
	return &cobra.Command{
		Use:   "create <user-id>",
		Short: "Creates the custodial wallet of a user, if missing, and prints its address.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd, func(ctx context.Context, s *api.Server) error {
				return Create(ctx, s, args[0], cmd.OutOrStdout())
			})
		},
	}
}

func newVerify() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <user-id>",
		Short: "Decrypts a user's seed and checks it still derives the stored address.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd, func(ctx context.Context, s *api.Server) error {
				return Verify(ctx, s, args[0], cmd.OutOrStdout())
			})
		},
	}
}

func Create(ctx context.Context, s *api.Server, userID string, out io.Writer) error {
	w, err := s.Wallet.CreateWallet(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\t%d\t%s\n", w.UserID, w.ChainID, w.Address)

	return nil
}

func Verify(ctx context.Context, s *api.Server, userID string, out io.Writer) error {
	w, err := s.Store.GetWallet(ctx, userID, s.Config.Chain.ChainID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.ErrWalletNotFound
		}
		return err
	}

	if err := wallet.Verify(ctx, s.Keystore, w); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Wallet verification failed")
		return err
	}

	fmt.Fprintf(out, "%s\t%s\tok\n", userID, w.Address)

	return nil
}
