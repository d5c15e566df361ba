package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util/command"
)

const (
	downFlag    = "down"
	pingTimeout = 10 * time.Second
)

func newMigrate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Executes all migrations which are not yet applied.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			down, err := cmd.Flags().GetBool(downFlag)
			if err != nil {
				return errors.Wrap(err, "failed to read down flag")
			}

			return migrateCmdFunc(cmd.Context(), down)
		},
	}

	cmd.Flags().Bool(downFlag, false, "Roll back all applied migrations instead")

	return cmd
}

func migrateCmdFunc(ctx context.Context, down bool) error {
	config.LoadEnvFiles()
	cfg := config.DefaultServiceConfigFromEnv()
	command.SetupLogging(cfg.Logger)

	db, err := api.NewDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return errors.Wrap(err, "failed to ping database")
	}

	direction := migrate.Up
	if down {
		direction = migrate.Down
	}

	n, err := store.Migrate(db, direction)
	if err != nil {
		log.Error().Err(err).Int("applied", n).Msg("Failed to run migrations")
		return err
	}

	log.Info().Int("applied", n).Bool("down", down).Msg("Migrations executed")

	return nil
}
