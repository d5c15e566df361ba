package server

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/router"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/store"
	"github/chapool/go-custody/internal/util/command"
)

const (
	migrateFlag     = "migrate"
	shutdownTimeout = 30 * time.Second
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Starts the server",
		Long: `Starts the HTTP API and, if enabled, the background reconciler.

Requires configuration through ENV.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyMigrations, err := cmd.Flags().GetBool(migrateFlag)
			if err != nil {
				return err
			}

			return runServer(cmd.Context(), applyMigrations)
		},
	}

	cmd.Flags().BoolP(migrateFlag, "m", false, "Apply pending migrations before starting the server")

	return cmd
}

func runServer(ctx context.Context, applyMigrations bool) error {
	config.LoadEnvFiles()
	cfg := config.DefaultServiceConfigFromEnv()
	command.SetupLogging(cfg.Logger)

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return err
	}

	s, err := api.InitNewServer(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize server")
		return err
	}

	if applyMigrations {
		n, err := store.Migrate(s.DB, migrate.Up)
		if err != nil {
			log.Error().Err(err).Msg("Failed to apply migrations")
			return err
		}
		log.Info().Int("applied", n).Msg("Migrations applied")
	}

	if err := router.Init(s); err != nil {
		log.Error().Err(err).Msg("Failed to initialize router")
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = log.Logger.WithContext(ctx)
	startReconcileWorker(ctx, s)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Echo.ListenAddress).Msg("Starting server")
		serveErr <- s.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to start server")
			stop()
			shutdown(s)
			return err
		}
	}

	stop()
	shutdown(s)

	return nil
}

func shutdown(s *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if errs := s.Shutdown(ctx); len(errs) > 0 {
		log.Error().Errs("errs", errs).Msg("Failed to gracefully shut down server")
		return
	}

	log.Info().Msg("Server shut down")
}
