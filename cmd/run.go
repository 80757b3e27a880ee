package cmd

import (
	"fmt"
	"github.com/arcward/guildsteward/steward"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the bot, and (optionally) the admin API and interactions webhook server",
	Args:  cobra.NoArgs,
	RunE:  runBot,
}

// runBot validates the config and runs the bot until interrupted. Invalid
// config is reported all at once.
func runBot(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	bot, err := steward.New(cfg)
	if err != nil {
		return fmt.Errorf("error creating bot: %w", err)
	}
	if err = bot.Run(cmd.Context()); err != nil {
		return fmt.Errorf("error running bot: %w", err)
	}
	return nil
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
