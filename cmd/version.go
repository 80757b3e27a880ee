package cmd

import (
	"fmt"
	"github.com/arcward/guildsteward/steward"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"guildsteward version=%s commit=%s built: %s\n",
			steward.Version,
			steward.CommitSHA,
			steward.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
