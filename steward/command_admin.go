package steward

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

const sourceRepositoryURL = "https://github.com/arcward/guildsteward"

func runPingCommand(c *commandContext) error {
	if c.s.randFloat() < c.s.config.PingCommandEasterEggProbability {
		name := "bot"
		if u := c.s.discord.BotUser(); u != nil {
			name = u.Username
		}
		return c.reply(
			fmt.Sprintf("`64 bytes from %s: icmp_seq=1 ttl=63 time=0.01 ms`", name),
		)
	}
	return c.reply("Pong!")
}

func runSourceCommand(c *commandContext) error {
	return c.reply(
		fmt.Sprintf(
			"This bot is an open-source project made specifically for the %s Discord server!\n"+
				"You can see and contribute to the source code at [guildsteward](%s).",
			c.s.groupShortName(c.ctx),
			sourceRepositoryURL,
		),
	)
}

func runDeleteAllCommand(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	var (
		model any
		name  string
	)
	switch sub := discordSubcommandName(c.interaction); sub {
	case "reminders":
		c.activity = "delete_all_reminders"
		model = &DiscordReminder{}
		name = "Reminders"
	case "group-made-members":
		c.activity = "delete_all_group_made_members"
		model = &GroupMadeMember{}
		name = "Group Made Members"
	default:
		return fmt.Errorf("unknown subcommand %q", sub)
	}

	deleted, err := s.writeDB.Delete(ctx, model, "1 = 1")
	if err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}
	if _, ok := model.(*DiscordReminder); ok {
		s.reminders.cancelAll()
	}
	c.logger.InfoContext(ctx, "deleted all records", "model", name, "count", deleted)
	return c.reply(fmt.Sprintf("All %s deleted successfully.", name))
}

func runKillCommand(c *commandContext) error {
	greeting := "A"
	if mention := c.s.committeeMention(c.ctx); mention != "" {
		greeting = "Hi " + mention + ", a"
	}
	return c.reply(
		greeting+"re you sure you want to kill me?\n"+
			"This action is irreversible and will prevent me from performing any further "+
			"actions until I am manually restarted.\n\n"+
			"Please confirm using the buttons below.",
		ephemeralButtonRow(
			discordgo.Button{
				Label:    "SHUTDOWN",
				Style:    discordgo.DangerButton,
				CustomID: newCustomID(customIDShutdownConfirm, c.user.ID),
			},
			discordgo.Button{
				Label:    "CANCEL",
				Style:    discordgo.SuccessButton,
				CustomID: newCustomID(customIDShutdownCancel, c.user.ID),
			},
		)...,
	)
}

// checkShutdownButton verifies the button was pressed by a Committee member
func checkShutdownButton(c *commandContext) error {
	c.activity = "kill"
	member, err := c.s.mainGuildMember(c.ctx, c.user.ID)
	if err != nil {
		return userError("Only %s members can run this command.", c.s.committeeMention(c.ctx))
	}
	isCommittee, err := c.s.hasCommitteeRole(c.ctx, member)
	if err != nil {
		return err
	}
	if !isCommittee {
		return userError("Only %s members can run this command.", c.s.committeeMention(c.ctx))
	}
	c.member = member
	return nil
}

func handleShutdownConfirmButton(c *commandContext, args []string) error {
	if err := checkShutdownButton(c); err != nil {
		return err
	}
	if err := c.update("My battery is low and it's getting dark..."); err != nil {
		return err
	}
	attrs := []any{slog.Group("initiated_by", userLogAttrs(c.user)...)}
	if len(args) > 0 {
		attrs = append(attrs, "requested_by_id", args[0])
	}
	c.logger.InfoContext(c.ctx, "manual shutdown initiated", attrs...)
	c.s.Stop()
	return nil
}

func handleShutdownCancelButton(c *commandContext, _ []string) error {
	if err := checkShutdownButton(c); err != nil {
		return err
	}
	c.logger.InfoContext(c.ctx, "manual shutdown cancelled")
	return c.update("Shutdown has been cancelled.")
}
