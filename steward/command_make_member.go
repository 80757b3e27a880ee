package steward

import (
	"errors"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"strings"
)

func runMakeMemberCommand(c *commandContext) error {
	ctx := c.ctx
	s := c.s
	groupMemberID := strings.TrimSpace(optionString(c.options(), "groupmemberid"))

	memberRole, err := s.role(ctx, roleNameMember)
	if err != nil {
		return err
	}

	if hasRole(c.member, memberRole) {
		c.logger.InfoContext(ctx, "user already had the member role")
		return c.reply(
			":information_source: No changes made. You're already a member " +
				"- why are you trying this again? :information_source:",
		)
	}

	hashed, err := hashGroupMemberID(groupMemberID)
	if err != nil {
		return userError(
			"'%s' is not a valid %s member ID.",
			groupMemberID,
			s.groupShortName(ctx),
		)
	}

	var count int64
	if err = s.db.WithContext(ctx).Model(&GroupMadeMember{}).Where(
		columnHashedGroupMemberID+" = ?",
		hashed,
	).Count(&count).Error; err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}
	if count > 0 {
		committee := s.committeeMention(ctx)
		if committee == "" {
			committee = errorMessageNoCommitteeMention
		}
		c.logger.InfoContext(ctx, "group member ID has already been used")
		return c.reply(
			":information_source: No changes made. This student ID has already been used. " +
				"Please contact a " + committee + " member if this is an error. " +
				":information_source:",
		)
	}

	groupMembers, err := s.membersList.FetchMembers(ctx)
	if err != nil {
		return &CommandError{
			Code:       ErrorCodeMembersListUnavailable,
			LogMessage: "The guild member IDs could not be retrieved from the MEMBERS_LIST_URL.",
			Err:        err,
		}
	}
	ids := groupMemberIDs(groupMembers)
	if len(ids) == 0 {
		return &CommandError{
			Code:       ErrorCodeMembersListUnavailable,
			LogMessage: "The guild member IDs could not be retrieved from the MEMBERS_LIST_URL.",
		}
	}
	if _, ok := ids[groupMemberID]; !ok {
		return userError(
			"You must be a member of %s to use this command.\n"+
				"The provided groupmemberid must match the member ID "+
				"that you purchased your %s membership with.",
			s.groupFullName(ctx),
			s.groupShortName(ctx),
		)
	}

	reason := discordgo.WithAuditLogReason(`slash-command: "/` + CommandMakeMember + `"`)
	if err = s.discord.session.GuildMemberRoleAdd(
		s.config.Discord.GuildID,
		c.user.ID,
		memberRole.ID,
		discordgo.WithContext(ctx),
		reason,
	); err != nil {
		return err
	}

	if _, err = s.writeDB.Create(
		ctx,
		&GroupMadeMember{HashedGroupMemberID: hashed},
	); err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}

	if err = c.reply("Successfully made you a member!"); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "user used the make member command successfully")

	roles, err := s.guildRoles(ctx)
	if err != nil {
		return err
	}

	guest := findRoleByName(roles, roleNameGuest)
	switch {
	case guest == nil:
		c.logger.WarnContext(
			ctx,
			`"/makemember" command used but the "Guest" role does not exist. `+
				`Some user's may now have the "Member" role without the "Guest" role. `+
				`Use the "/ensure-members-inducted" command to fix this issue.`,
		)
	case !hasRole(c.member, guest):
		if err = s.discord.session.GuildMemberRoleAdd(
			s.config.Discord.GuildID,
			c.user.ID,
			guest.ID,
			discordgo.WithContext(ctx),
			reason,
		); err != nil {
			return err
		}
		c.logger.DebugContext(ctx, "user given the Guest role as well as the Member role")
	}

	if applicant := findRoleByName(roles, roleNameApplicant); hasRole(c.member, applicant) {
		if err = s.discord.session.GuildMemberRoleRemove(
			s.config.Discord.GuildID,
			c.user.ID,
			applicant.ID,
			discordgo.WithContext(ctx),
			reason,
		); err != nil {
			return err
		}
	}
	return nil
}
