package cmd

import (
	"errors"
	"fmt"
	"github.com/arcward/guildsteward/steward"
	"github.com/spf13/cobra"
)

var generateInviteURLCmd = &cobra.Command{
	Use:   "generate-invite-url <application_id> [guild_id]",
	Short: "Print the URL used to add the bot to the guild",
	Long: "Print the URL used to add the bot to the guild, with every permission " +
		"the bot needs. guild_id defaults to DISCORD_GUILD_ID.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID := ""
		if len(args) > 1 {
			guildID = args[1]
		} else if cfg.Discord != nil {
			guildID = cfg.Discord.GuildID
		}
		if guildID == "" {
			return errors.New("no guild ID given, and DISCORD_GUILD_ID is not set")
		}

		inviteURL, err := steward.GenerateInviteURL(args[0], guildID)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), inviteURL)
		return err
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(generateInviteURLCmd)
}
