// Command trellis links CRM accounts to product tracker tickets and serves
// the resulting links and rollups.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "trellis",
		Short:         "Trellis - account to ticket reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.toml", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&opts.fixturesPath, "fixtures", "", "Run against an in-memory store loaded from this YAML file")

	rootCmd.AddCommand(reconcileCmd(opts))
	rootCmd.AddCommand(wipeCmd(opts))
	rootCmd.AddCommand(linksCmd(opts))
	rootCmd.AddCommand(rollupCmd(opts))
	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))
	rootCmd.AddCommand(loadCmd(opts))

	return rootCmd
}
