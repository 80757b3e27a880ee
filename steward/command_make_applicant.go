package steward

import (
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
)

const (
	applicantAlreadyMessage  = "User is already an applicant! Command aborted."
	applicantProcessing      = ":hourglass: Attempting to make user an applicant... :hourglass:"
	applicantSuccessMessage  = ":white_check_mark: User is now an applicant."
	applicantAuthorLeftReply = ":information_source: No changes made. User cannot be made " +
		"into an applicant because they have left the server :information_source:"
)

func runMakeApplicantCommand(c *commandContext) error {
	member, err := c.s.memberFromStrID(c.ctx, optionString(c.options(), "user"))
	if err != nil {
		return err
	}
	return c.s.makeApplicant(c, member)
}

func runMakeApplicantUserCommand(c *commandContext) error {
	target := c.targetUser()
	if target == nil {
		return errors.New("no target user")
	}
	member, err := c.s.mainGuildMember(c.ctx, target.ID)
	if errors.Is(err, errMemberNotInMainGuild) {
		return c.reply(applicantAuthorLeftReply)
	}
	if err != nil {
		return err
	}
	return c.s.makeApplicant(c, member)
}

func runMakeApplicantMessageAuthorCommand(c *commandContext) error {
	msg := c.targetMessage()
	if msg == nil || msg.Author == nil {
		return errors.New("no target message")
	}
	member, err := c.s.mainGuildMember(c.ctx, msg.Author.ID)
	if errors.Is(err, errMemberNotInMainGuild) {
		return c.reply(applicantAuthorLeftReply)
	}
	if err != nil {
		return err
	}
	return c.s.makeApplicant(c, member)
}

// makeApplicant swaps the member's Guest role for the Applicant role and
// reacts to their introduction
func (s *Steward) makeApplicant(c *commandContext, member *discordgo.Member) error {
	ctx := c.ctx
	applicant, err := s.role(ctx, roleNameApplicant)
	if err != nil {
		return err
	}
	guest, err := s.role(ctx, roleNameGuest)
	if err != nil {
		return err
	}

	if hasRole(member, applicant) {
		return c.reply(applicantAlreadyMessage)
	}
	if isBot(member) {
		return userError("Cannot make a bot user an applicant!")
	}

	if err = c.reply(applicantProcessing); err != nil {
		return err
	}

	logger := c.logger.With(slog.Group("member", userLogAttrs(member.User)...))
	reason := discordgo.WithAuditLogReason(
		fmt.Sprintf(`%s used command "Make User Applicant"`, c.user.Username),
	)

	if hasRole(member, guest) {
		if err = s.discord.session.GuildMemberRoleRemove(
			s.config.Discord.GuildID,
			member.User.ID,
			guest.ID,
			discordgo.WithContext(ctx),
			reason,
		); err != nil {
			return err
		}
		logger.DebugContext(ctx, "removed Guest role")
	}

	if err = s.discord.session.GuildMemberRoleAdd(
		s.config.Discord.GuildID,
		member.User.ID,
		applicant.ID,
		discordgo.WithContext(ctx),
		reason,
	); err != nil {
		return err
	}
	logger.DebugContext(ctx, "Applicant role given")

	if err = s.reactToIntroduction(ctx, member); err != nil {
		return err
	}
	return c.edit(applicantSuccessMessage)
}

// autocompleteNonApplicantMembers suggests non-bot members without the
// Applicant role
func autocompleteNonApplicantMembers(
	c *commandContext,
) []*discordgo.ApplicationCommandOptionChoice {
	applicant, err := c.s.role(c.ctx, roleNameApplicant)
	if err != nil {
		return nil
	}
	return c.s.memberChoices(
		c, func(m *discordgo.Member) bool {
			return !hasRole(m, applicant)
		},
	)
}

// autocompleteAllMembers suggests every non-bot member
func autocompleteAllMembers(c *commandContext) []*discordgo.ApplicationCommandOptionChoice {
	return c.s.memberChoices(
		c, func(*discordgo.Member) bool {
			return true
		},
	)
}
