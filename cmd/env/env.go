package env

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/go-custody/internal/config"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Prints the env",
		Long: `Prints the currently applied env

Sensitive values (keys, tokens, passwords) are omitted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config.LoadEnvFiles()
			cfg := config.DefaultServiceConfigFromEnv()

			c, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal config")
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(c))

			return nil
		},
	}
}
