package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-custody/cmd/db"
	"github/chapool/go-custody/cmd/env"
	"github/chapool/go-custody/cmd/nonce"
	"github/chapool/go-custody/cmd/probe"
	"github/chapool/go-custody/cmd/reconcile"
	"github/chapool/go-custody/cmd/server"
	"github/chapool/go-custody/cmd/wallet"
	"github/chapool/go-custody/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

Custodial EVM wallet service: wallet generation, balances, confirmed
transfers and on-chain reconciliation.
Requires configuration through ENV.`, config.ModuleName),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// attach the subcommands
	rootCmd.AddCommand(
		db.New(),
		env.New(),
		nonce.New(),
		probe.New(),
		reconcile.New(),
		server.New(),
		wallet.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
