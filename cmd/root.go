package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "auctions",
	Short: "Auction settlement engine",
	Long: `Runs timed auctions for listed equipment.

Commands:
- api: serve bids, offers, buy now and admin overrides over HTTP
- worker: fire scheduled auction jobs, dispatch the outbox and reconcile
- migrate: create or update the database schema
- auctions: inspect an auction or retry its settlement`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml or app.env")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging and SQL tracing")
}
