package nonce

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/audit"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/util/command"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("nonce",
		newShow(),
		newReset(),
	)
}

func withServer(cmd *cobra.Command, f func(ctx context.Context, s *api.Server) error) error {
	config.LoadEnvFiles()

	return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), f)
}

func newShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Prints the next nonce stored for a user's wallet.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd, func(ctx context.Context, s *api.Server) error {
				return Show(ctx, s, args[0], cmd.OutOrStdout())
			})
		},
	}
}

func newReset() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Re-syncs a user's stored nonce with the chain's pending nonce.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd, func(ctx context.Context, s *api.Server) error {
				return Reset(ctx, s, args[0], cmd.OutOrStdout())
			})
		},
	}
}

func Show(ctx context.Context, s *api.Server, userID string, out io.Writer) error {
	rec, err := s.Store.GetNonce(ctx, userID, s.Config.Chain.ChainID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\t%d\n", userID, rec.NextNonce)

	return nil
}

func Reset(ctx context.Context, s *api.Server, userID string, out io.Writer) error {
	next, err := s.Nonces.ResetNonce(ctx, userID, s.Config.Chain.ChainID)
	if err != nil {
		return err
	}

	s.Audit.Record(ctx, userID, audit.ActionNonceReset, map[string]any{"nonce": next, "source": "cli"})
	fmt.Fprintf(out, "%s\t%d\n", userID, next)

	return nil
}
