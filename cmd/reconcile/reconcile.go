package reconcile

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/config"
	"github/chapool/go-custody/internal/util/command"
)

const idFlag = "id"

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Runs a single reconciliation pass against the chain.",
		Long: `Expires stale transfer intents and settles broadcast transfers whose
receipts are available. With --id only the given transaction is checked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := cmd.Flags().GetString(idFlag)
			if err != nil {
				return errors.Wrap(err, "failed to read id flag")
			}

			config.LoadEnvFiles()
			cfg := config.DefaultServiceConfigFromEnv()

			return command.WithServer(cmd.Context(), cfg, func(ctx context.Context, s *api.Server) error {
				return Run(ctx, s, id, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().String(idFlag, "", "Only reconcile the transaction with this id")

	return cmd
}

// Run reconciles one transaction (id set) or a full batch and writes the
// result as JSON to out.
func Run(ctx context.Context, s *api.Server, id string, out io.Writer) error {
	var result any

	if id != "" {
		tx, err := s.Reconciler.ReconcileOne(ctx, id)
		if err != nil {
			return err
		}
		result = tx
	} else {
		summary, err := s.Reconciler.Reconcile(ctx)
		if err != nil {
			return err
		}
		result = summary
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return errors.Wrap(enc.Encode(result), "failed to write result")
}
