package probe

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/util/command"
	"github/chapool/go-custody/internal/wallet/chain"
)

func newLiveness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liveness",
		Short: "Checks readiness and that a chain node answers on the configured chain.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, err := cmd.Flags().GetBool(verboseFlag)
			if err != nil {
				return errors.Wrap(err, "failed to read verbose flag")
			}

			config.LoadEnvFiles()
			cfg := config.DefaultServiceConfigFromEnv()
			command.SetupLogging(cfg.Logger)

			if err := readinessCmdFunc(cmd.Context(), cfg, verbose); err != nil {
				return err
			}

			return livenessCmdFunc(cmd.Context(), cfg, verbose)
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")

	return cmd
}

func livenessCmdFunc(ctx context.Context, cfg config.Server, verbose bool) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client, err := chain.NewRPCClient(cfg.Chain.RPCURLs, cfg.Chain.RequestTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Chain node is not reachable")
		return err
	}

	if id.Int64() != cfg.Chain.ChainID {
		return errors.Errorf("node reports chain %d, configured %d", id.Int64(), cfg.Chain.ChainID)
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	report(verbose, fmt.Sprintf("chain %d: head %d", cfg.Chain.ChainID, head))

	return nil
}
