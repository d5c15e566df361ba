package command

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/config"
)

const shutdownTimeout = 30 * time.Second

// InitFunc builds a server from its configuration.
type InitFunc func(cfg config.Server) (*api.Server, error)

// NewSubcommandGroup returns a command that only groups subcommands and prints
// its help when invoked on its own.
func NewSubcommandGroup(name string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: name + " related subcommands",
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(subcommands...)

	return cmd
}

// SetupLogging configures the global zerolog logger from cfg.
func SetupLogging(cfg config.LoggerServer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(cfg.Level)

	if cfg.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.TimeFormat = "15:04:05"
		}))
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// WithServer wires a server against the configured database and chain, runs f
// and shuts the server down again.
func WithServer(ctx context.Context, cfg config.Server, f func(ctx context.Context, s *api.Server) error) error {
	return WithServerFrom(ctx, cfg, api.InitNewServer, f)
}

// WithServerFrom is WithServer with a custom server initializer.
func WithServerFrom(ctx context.Context, cfg config.Server, initFn InitFunc, f func(ctx context.Context, s *api.Server) error) error {
	SetupLogging(cfg.Logger)

	s, err := initFn(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize server")
		return errors.Wrap(err, "failed to initialize server")
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if errs := s.Shutdown(shutdownCtx); len(errs) > 0 {
			log.Error().Errs("errs", errs).Msg("Failed to gracefully shut down server")
		}
	}()

	return f(log.Logger.WithContext(ctx), s)
}
