package steward

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strconv"
	"strings"
)

const (
	roleNameAutomod = "Automod"

	channelNameHandover     = "handover"
	channelNameFirstYears   = "first-years"
	channelNameSecondYears  = "second-years"
	channelNameFinalYears   = "final-years"
	categoryNameArchived    = "Archived"
	categoryNameYearChats   = "Year Chats"
	handoverCategoryKeyword = "committee"
)

// academicYearRoleNames are removed from everyone by /annual-roles-reset
var academicYearRoleNames = []string{
	"Foundation Year",
	"First Year",
	"Second Year",
	"Final Year",
	"Year In Industry",
	"Year Abroad",
	"PGT",
	"Student Rep",
}

// auditReason is the audit log reason for changes made by the command
func (c *commandContext) auditReason() string {
	return fmt.Sprintf(`%s used slash-command: "/%s"`, c.user.Username, c.name)
}

// botTopRolePosition returns the position of the highest role the bot
// holds in the main guild
func (c *commandContext) botTopRolePosition() (int, error) {
	bot, err := c.s.mainGuildMember(c.ctx, c.s.discord.botUserID())
	if err != nil {
		return 0, err
	}
	roles, err := c.s.guildRoles(c.ctx)
	if err != nil {
		return 0, err
	}
	byID := rolesByID(roles)
	top := 0
	for _, id := range bot.Roles {
		if r, ok := byID[id]; ok && r.Position > top {
			top = r.Position
		}
	}
	return top, nil
}

// runCommitteeHandoverCommand promotes Committee-Elect to Committee.
// Outgoing committee members lose the Committee role but keep access to
// #handover.
func runCommitteeHandoverCommand(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	committee, err := s.role(ctx, roleNameCommittee)
	if err != nil {
		return err
	}
	committeeElect, err := s.role(ctx, roleNameCommitteeElect)
	if err != nil {
		return err
	}

	if err = c.reply(":hourglass: Running handover procedures... :hourglass:"); err != nil {
		return err
	}

	top, err := c.botTopRolePosition()
	if err != nil {
		return err
	}
	if top < committee.Position {
		c.logger.WarnContext(
			ctx,
			"handover aborted, bot does not hold a role above the committee role",
			"bot_top_role_position", top,
			"committee_position", committee.Position,
		)
		return c.edit(
			":warning: This command requires the bot to hold a role higher than " +
				`that of the "Committee" role to perform this action. Operation aborted. :warning:`,
		)
	}

	channels, err := s.guildChannels(ctx)
	if err != nil {
		return err
	}
	reasonText := c.auditReason()
	reason := discordgo.WithAuditLogReason(reasonText)
	for _, category := range channels {
		name := strings.ToLower(category.Name)
		if category.Type != discordgo.ChannelTypeGuildCategory ||
			!strings.Contains(name, handoverCategoryKeyword) ||
			strings.Contains(name, "archive") {
			continue
		}
		if err = c.edit(
			fmt.Sprintf(":hourglass: Updating channels in category: %s :hourglass:", category.Name),
		); err != nil {
			return err
		}
		for _, ch := range channels {
			if ch.ParentID != category.ID {
				continue
			}
			c.logger.DebugContext(ctx, "resetting committee-elect permissions", "channel", ch.Name)
			if err = s.deleteOverwrite(ctx, ch, committeeElect.ID, reasonText); err != nil {
				return err
			}
		}
	}

	if err = c.edit(
		":hourglass: Giving committee users access to the #handover channel and " +
			`removing the "Committee" role... :hourglass:`,
	); err != nil {
		return err
	}

	var handover *discordgo.Channel
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == channelNameHandover {
			handover = ch
			break
		}
	}
	roles, err := s.guildRoles(ctx)
	if err != nil {
		return err
	}
	automod := findRoleByName(roles, roleNameAutomod)

	members, err := s.allMembers(ctx)
	if err != nil {
		return err
	}
	guildID := s.config.Discord.GuildID
	for _, m := range members {
		if isBot(m) || !hasRole(m, committee) {
			continue
		}
		if handover != nil {
			if err = s.discord.session.ChannelPermissionSet(
				handover.ID,
				m.User.ID,
				discordgo.PermissionOverwriteTypeMember,
				discordgo.PermissionViewChannel|discordgo.PermissionSendMessages,
				0,
				discordgo.WithContext(ctx),
				reason,
			); err != nil {
				return err
			}
		}
		if err = s.discord.session.GuildMemberRoleRemove(
			guildID, m.User.ID, committee.ID, discordgo.WithContext(ctx), reason,
		); err != nil {
			return err
		}
		if hasRole(m, automod) {
			if err = s.discord.session.GuildMemberRoleRemove(
				guildID, m.User.ID, automod.ID, discordgo.WithContext(ctx), reason,
			); err != nil {
				return err
			}
		}
	}

	if err = c.edit(
		`:hourglass: Giving committee-elect users the "Committee" role ` +
			`and removing their "Committee-Elect" role... :hourglass:`,
	); err != nil {
		return err
	}

	for _, m := range members {
		if isBot(m) || !hasRole(m, committeeElect) {
			continue
		}
		if err = s.discord.session.GuildMemberRoleAdd(
			guildID, m.User.ID, committee.ID, discordgo.WithContext(ctx), reason,
		); err != nil {
			return err
		}
		if err = s.discord.session.GuildMemberRoleRemove(
			guildID, m.User.ID, committeeElect.ID, discordgo.WithContext(ctx), reason,
		); err != nil {
			return err
		}
	}

	c.logger.InfoContext(ctx, "committee handover complete")
	return c.edit(":white_check_mark: Handover procedure complete!")
}

// runAnnualRolesResetCommand removes the Member and academic year roles
// from everyone, and forgets every group member ID used with /makemember
func runAnnualRolesResetCommand(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	memberRole, err := s.role(ctx, roleNameMember)
	if err != nil {
		return err
	}

	if err = c.reply(":hourglass: Resetting membership and year roles... :hourglass:"); err != nil {
		return err
	}

	members, err := s.allMembers(ctx)
	if err != nil {
		return err
	}
	guildID := s.config.Discord.GuildID
	reason := discordgo.WithAuditLogReason(c.auditReason())
	for _, m := range members {
		if !hasRole(m, memberRole) {
			continue
		}
		if err = s.discord.session.GuildMemberRoleRemove(
			guildID, m.User.ID, memberRole.ID, discordgo.WithContext(ctx), reason,
		); err != nil {
			return err
		}
	}
	if err = c.edit(":hourglass: Removed Member role from all users..."); err != nil {
		return err
	}

	deleted, err := s.writeDB.Delete(ctx, &GroupMadeMember{}, "1 = 1")
	if err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}
	c.logger.InfoContext(ctx, "deleted all group made members", "count", deleted)
	if err = c.edit(":white_check_mark: Deleted all members from the database..."); err != nil {
		return err
	}

	roles, err := s.guildRoles(ctx)
	if err != nil {
		return err
	}
	for _, name := range academicYearRoleNames {
		yearRole := findRoleByName(roles, name)
		if yearRole == nil {
			continue
		}
		c.logger.DebugContext(ctx, "removing all members from role", "role", name)
		for _, m := range members {
			if !hasRole(m, yearRole) {
				continue
			}
			if err = s.discord.session.GuildMemberRoleRemove(
				guildID, m.User.ID, yearRole.ID, discordgo.WithContext(ctx), reason,
			); err != nil {
				return err
			}
		}
	}
	return c.edit(":white_check_mark: Role reset complete!")
}

// runIncrementYearChannelsCommand archives #final-years, moves every
// other year channel up a year, then creates a fresh #first-years
func runIncrementYearChannelsCommand(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	guest, err := s.role(ctx, roleNameGuest)
	if err != nil {
		return err
	}

	if err = c.reply(":hourglass: Processing year channel iteration... :hourglass:"); err != nil {
		return err
	}

	channels, err := s.guildChannels(ctx)
	if err != nil {
		return err
	}
	textChannel := func(name string) *discordgo.Channel {
		for _, ch := range channels {
			if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
				return ch
			}
		}
		return nil
	}
	category := func(name string) *discordgo.Channel {
		for _, ch := range channels {
			if ch.Type == discordgo.ChannelTypeGuildCategory && ch.Name == name {
				return ch
			}
		}
		return nil
	}
	reasonText := c.auditReason()
	reason := discordgo.WithAuditLogReason(reasonText)
	rename := func(ch *discordgo.Channel, name string) error {
		_, err := s.discord.session.ChannelEditComplex(
			ch.ID,
			&discordgo.ChannelEdit{Name: name},
			discordgo.WithContext(ctx),
			reason,
		)
		return err
	}

	// resolved before renaming, since renames reuse these names
	finalYears := textChannel(channelNameFinalYears)
	secondYears := textChannel(channelNameSecondYears)
	firstYears := textChannel(channelNameFirstYears)

	if finalYears != nil {
		if err = c.edit(":hourglass: Archiving final year channel... :hourglass:"); err != nil {
			return err
		}
		var archivist *discordgo.Role
		if archivist, err = s.role(ctx, roleNameArchivist); err != nil {
			return err
		}
		if err = s.deleteOverwrite(ctx, finalYears, guest.ID, reasonText); err != nil {
			return err
		}
		if err = s.setViewOverwrite(ctx, finalYears, archivist.ID, true, reasonText); err != nil {
			return err
		}
		if err = rename(
			finalYears,
			channelNameFinalYears+"-"+strconv.Itoa(s.now().Year()),
		); err != nil {
			return err
		}
		if archived := category(categoryNameArchived); archived != nil {
			if _, err = s.discord.session.ChannelEditComplex(
				finalYears.ID,
				&discordgo.ChannelEdit{
					ParentID:             archived.ID,
					PermissionOverwrites: syncedOverwrites(archived),
				},
				discordgo.WithContext(ctx),
				reason,
			); err != nil {
				return err
			}
		}
	}
	if secondYears != nil {
		if err = rename(secondYears, channelNameFinalYears); err != nil {
			return err
		}
	}
	if firstYears != nil {
		if err = rename(firstYears, channelNameSecondYears); err != nil {
			return err
		}
	}

	if err = c.edit(
		":hourglass: Creating new first year channel and setting permissions... :hourglass:",
	); err != nil {
		return err
	}
	created, err := s.discord.session.GuildChannelCreateComplex(
		s.config.Discord.GuildID,
		discordgo.GuildChannelCreateData{
			Name: channelNameFirstYears,
			Type: discordgo.ChannelTypeGuildText,
		},
		discordgo.WithContext(ctx),
		reason,
	)
	if err != nil {
		return err
	}

	if yearChats := category(categoryNameYearChats); yearChats != nil {
		position := 0
		if _, err = s.discord.session.ChannelEditComplex(
			created.ID,
			&discordgo.ChannelEdit{
				ParentID:             yearChats.ID,
				PermissionOverwrites: syncedOverwrites(yearChats),
				Position:             &position,
			},
			discordgo.WithContext(ctx),
			reason,
		); err != nil {
			return err
		}
		return c.edit(":white_check_mark: Year channel iterations complete!")
	}

	if err = s.discord.session.ChannelPermissionSet(
		created.ID,
		guest.ID,
		discordgo.PermissionOverwriteTypeRole,
		discordgo.PermissionViewChannel|discordgo.PermissionSendMessages,
		0,
		discordgo.WithContext(ctx),
		reason,
	); err != nil {
		return err
	}
	return c.edit(
		":white_check_mark: Year channel iterations complete " +
			"but no year channel category was found!",
	)
}

// syncedOverwrites copies a category's overwrites, for a child channel
// whose permissions should match it
func syncedOverwrites(category *discordgo.Channel) []*discordgo.PermissionOverwrite {
	overwrites := make([]*discordgo.PermissionOverwrite, 0, len(category.PermissionOverwrites))
	for _, ow := range category.PermissionOverwrites {
		cp := *ow
		overwrites = append(overwrites, &cp)
	}
	return overwrites
}
