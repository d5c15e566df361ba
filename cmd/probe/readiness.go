package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/util/command"
)

const probeTimeout = 5 * time.Second

func newReadiness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Checks the database and cache are reachable.",
		Long: `Exits 0 when the database and the configured cache answer a ping.
Does not require the server to be running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, err := cmd.Flags().GetBool(verboseFlag)
			if err != nil {
				return errors.Wrap(err, "failed to read verbose flag")
			}

			config.LoadEnvFiles()
			cfg := config.DefaultServiceConfigFromEnv()
			command.SetupLogging(cfg.Logger)

			return readinessCmdFunc(cmd.Context(), cfg, verbose)
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")

	return cmd
}

func readinessCmdFunc(ctx context.Context, cfg config.Server, verbose bool) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	db, err := api.NewDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("Database is not reachable")
		return errors.Wrap(err, "database ping failed")
	}
	report(verbose, "database: ok")

	c, err := api.NewCache(cfg, api.NewClock())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("Cache is not reachable")
		return errors.Wrap(err, "cache ping failed")
	}
	report(verbose, "cache: ok")

	return nil
}

func report(verbose bool, line string) {
	if verbose {
		fmt.Println(line)
	}
}
