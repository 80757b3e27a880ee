package steward

import (
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strconv"
)

func runStrikeCommand(c *commandContext) error {
	member, err := c.s.memberFromStrID(c.ctx, optionString(c.options(), "user"))
	if err != nil {
		return err
	}
	return c.s.strike(c, member)
}

func runStrikeUserCommand(c *commandContext) error {
	target := c.targetUser()
	if target == nil {
		return errors.New("no target user")
	}
	member, err := c.s.memberFromStrID(c.ctx, target.ID)
	if err != nil {
		return err
	}
	return c.s.strike(c, member)
}

// strike increases the member's strikes, DMs them the strike notice,
// and offers to perform the suggested moderation action
func (s *Steward) strike(c *commandContext, member *discordgo.Member) error {
	ctx := c.ctx
	if isBot(member) {
		return userError("Member cannot be given an additional strike because they are a bot.")
	}

	strikes, err := s.incrementStrikes(ctx, member.User.ID)
	if err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}
	c.logger.InfoContext(ctx, "member strikes increased", "strikes", strikes.Strikes)

	if err = s.sendStrikeNotice(ctx, member.User, strikes.Strikes); err != nil {
		return err
	}

	action := strconv.Itoa(min(strikes.Strikes, maxStrikes))
	return c.reply(
		strikeConfirmation(member.User.ID, strikes.Strikes, true),
		ephemeralButtonRow(
			discordgo.Button{
				Label:    "Yes",
				Style:    discordgo.DangerButton,
				CustomID: newCustomID(customIDStrikeConfirm, action, c.user.ID, member.User.ID),
			},
			discordgo.Button{
				Label:    "No",
				Style:    discordgo.SecondaryButton,
				CustomID: newCustomID(customIDStrikeCancel, action, c.user.ID, member.User.ID),
			},
		)...,
	)
}

// parseStrikeButtonArgs returns the strike count, the ID of the committee
// member who gave the strike, and the ID of the struck member
func parseStrikeButtonArgs(args []string) (strikes int, invokerID, targetID string, err error) {
	if len(args) != 3 {
		return 0, "", "", fmt.Errorf("expected 3 strike button arguments, got %d", len(args))
	}
	strikes, err = strconv.Atoi(args[0])
	if err != nil || strikes < 1 || strikes > maxStrikes {
		return 0, "", "", fmt.Errorf("invalid strike count %q", args[0])
	}
	return strikes, args[1], args[2], nil
}

func handleStrikeConfirmButton(c *commandContext, args []string) error {
	strikes, invokerID, targetID, err := parseStrikeButtonArgs(args)
	if err != nil {
		return err
	}
	c.activity = "strike"
	if c.user.ID != invokerID {
		return userError("Only the committee member who gave the strike can confirm this action.")
	}

	invoker := c.user.Username
	if c.interaction.Member != nil {
		invoker = memberDisplayName(c.interaction.Member)
	}
	reason := fmt.Sprintf("**%s** used `/%s`", invoker, CommandStrike)
	if err = c.s.performModerationAction(c.ctx, targetID, strikes, reason); err != nil {
		return err
	}
	return c.update(
		fmt.Sprintf(
			"Successfully performed %s action on <@%s>.",
			suggestedActions[strikes],
			targetID,
		),
	)
}

func handleStrikeCancelButton(c *commandContext, args []string) error {
	strikes, invokerID, targetID, err := parseStrikeButtonArgs(args)
	if err != nil {
		return err
	}
	c.activity = "strike"
	if c.user.ID != invokerID {
		return userError("Only the committee member who gave the strike can cancel this action.")
	}
	return c.update(
		fmt.Sprintf(
			"Aborted performing %s action on <@%s>.",
			suggestedActions[strikes],
			targetID,
		),
	)
}

// parseOutOfSyncBanButtonArgs returns the ID of the manually moderated
// member, the ID of whoever moderated them, and whether that was a bot
func parseOutOfSyncBanButtonArgs(args []string) (targetID, actorID string, actorIsBot bool, err error) {
	if len(args) != 3 {
		return "", "", false, fmt.Errorf("expected 3 out of sync ban button arguments, got %d", len(args))
	}
	switch args[2] {
	case outOfSyncActorUser:
	case outOfSyncActorBot:
		actorIsBot = true
	default:
		return "", "", false, fmt.Errorf("invalid actor kind %q", args[2])
	}
	return args[0], args[1], actorIsBot, nil
}

// checkOutOfSyncBanButton allows the user who moderated the member to
// respond, or any committee member when a bot did the moderating
func checkOutOfSyncBanButton(c *commandContext, actorID string, actorIsBot bool) error {
	c.activity = "strike"
	if !actorIsBot {
		if c.user.ID != actorID {
			return userError("Only the user who applied the moderation action can respond to this message.")
		}
		return nil
	}
	member, err := c.s.mainGuildMember(c.ctx, c.user.ID)
	if errors.Is(err, errMemberNotInMainGuild) {
		return userError("Only %s members can respond to this message.", c.s.committeeMention(c.ctx))
	}
	if err != nil {
		return err
	}
	isCommittee, err := c.s.hasCommitteeRole(c.ctx, member)
	if err != nil {
		return err
	}
	if !isCommittee {
		return userError("Only %s members can respond to this message.", c.s.committeeMention(c.ctx))
	}
	return nil
}

// handleOutOfSyncBanConfirmButton bans a manually moderated member whose
// strikes already called for a ban
func handleOutOfSyncBanConfirmButton(c *commandContext, args []string) error {
	targetID, actorID, actorIsBot, err := parseOutOfSyncBanButtonArgs(args)
	if err != nil {
		return err
	}
	if err = checkOutOfSyncBanButton(c, actorID, actorIsBot); err != nil {
		return err
	}
	ctx := c.ctx
	s := c.s

	strikes, err := getOrCreateStrikes(ctx, s.writeDB, targetID)
	if err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}
	if err = s.sendStrikeNotice(ctx, &discordgo.User{ID: targetID}, strikes.Strikes); err != nil {
		return err
	}

	name := c.user.Username
	if c.interaction.Member != nil {
		name = memberDisplayName(c.interaction.Member)
	}
	reason := fmt.Sprintf("**%s synced moderation action with number of strikes**", name)
	if err = s.discord.session.GuildBanCreateWithReason(
		s.config.Discord.GuildID,
		targetID,
		reason,
		0,
		discordgo.WithContext(ctx),
		discordgo.WithAuditLogReason(reason),
	); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "banned member with out of sync strikes", "strikes", strikes.Strikes)

	deleteAt := s.now().Add(manualModerationMessageLifetime)
	if err = c.update(
		fmt.Sprintf(
			"Successfully banned <@%s>.\n"+
				"**Please ensure you use the `/strike` command in future!**\n"+
				"ᴛʜɪs ᴍᴇssᴀɢᴇ ᴡɪʟʟ ʙᴇ ᴅᴇʟᴇᴛᴇᴅ <t:%d:R>",
			targetID,
			deleteAt.Unix(),
		),
	); err != nil {
		return err
	}
	s.deleteMessageAfter(ctx, c.interaction.Message, manualModerationMessageLifetime)
	return nil
}

// handleOutOfSyncBanCancelButton leaves the manual moderation untracked
func handleOutOfSyncBanCancelButton(c *commandContext, args []string) error {
	targetID, actorID, actorIsBot, err := parseOutOfSyncBanButtonArgs(args)
	if err != nil {
		return err
	}
	if err = checkOutOfSyncBanButton(c, actorID, actorIsBot); err != nil {
		return err
	}

	deleteAt := c.s.now().Add(manualModerationMessageLifetime)
	if err = c.update(
		fmt.Sprintf(
			"Aborted performing ban action upon <@%s>. "+
				"(This manual moderation action has not been tracked.)\n"+
				"ᴛʜɪs ᴍᴇssᴀɢᴇ ᴡɪʟʟ ʙᴇ ᴅᴇʟᴇᴛᴇᴅ <t:%d:R>",
			targetID,
			deleteAt.Unix(),
		),
	); err != nil {
		return err
	}
	c.s.deleteMessageAfter(c.ctx, c.interaction.Message, manualModerationMessageLifetime)
	return nil
}
