package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
)

var errChannelInvalidPermissions = errors.New("channel had invalid permissions")

// archiveRoles are the roles whose overwrites /archive rewrites
type archiveRoles struct {
	everyone  *discordgo.Role
	committee *discordgo.Role
	guest     *discordgo.Role
	member    *discordgo.Role
	archivist *discordgo.Role
}

func runArchiveCommand(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	var roles archiveRoles
	var err error
	for _, r := range []struct {
		name string
		dst  **discordgo.Role
	}{
		{roleNameCommittee, &roles.committee},
		{roleNameGuest, &roles.guest},
		{roleNameMember, &roles.member},
		{roleNameArchivist, &roles.archivist},
	} {
		if *r.dst, err = s.role(ctx, r.name); err != nil {
			return err
		}
	}
	if roles.everyone, err = s.everyoneRole(ctx); err != nil {
		return err
	}

	categoryID := strings.TrimSpace(optionString(c.options(), "category"))
	if !snowflakePattern.MatchString(categoryID) {
		return userError("'%s' is not a valid category ID.", categoryID)
	}

	channels, err := s.guildChannels(ctx)
	if err != nil {
		return err
	}
	var category *discordgo.Channel
	for _, ch := range channels {
		if ch.ID == categoryID && ch.Type == discordgo.ChannelTypeGuildCategory {
			category = ch
			break
		}
	}
	if category == nil {
		return userError("Category with ID '%s' does not exist.", categoryID)
	}
	if strings.Contains(category.Name, "archive") {
		return c.reply(
			":information_source: No changes made. " +
				"Category has already been archived. :information_source:",
		)
	}

	reason := fmt.Sprintf(`%s used "/%s".`, memberDisplayName(c.member), CommandArchive)
	var skipped []string
	for _, ch := range channels {
		if ch.ParentID != category.ID {
			continue
		}
		if err = s.archiveChannel(ctx, ch, roles, reason); err != nil {
			if errors.Is(err, errChannelInvalidPermissions) {
				skipped = append(skipped, "<#"+ch.ID+">")
				continue
			}
			if isForbidden(err) {
				c.logger.ErrorContext(
					ctx,
					"bot did not have access to the channels in the selected category",
					"category", category.Name,
				)
				return userError("Bot does not have access to the channels in the selected category.")
			}
			return err
		}
	}
	if len(skipped) > 0 {
		return userError(
			"Category archived, but %s had invalid permissions so could not be archived.",
			humanJoin(skipped),
		)
	}
	return c.reply("Category successfully archived")
}

// archiveChannel hides ch from everyone but Committee (for committee-only
// channels) or Archivists (for channels guests could see)
func (s *Steward) archiveChannel(
	ctx context.Context,
	ch *discordgo.Channel,
	roles archiveRoles,
	reason string,
) error {
	committeeCanView := channelRoleCanView(ch, roles.committee, roles.everyone)
	guestCanView := channelRoleCanView(ch, roles.guest, roles.everyone)

	var steps []func() error
	hideFromEveryone := func() error {
		return s.setViewOverwrite(ctx, ch, roles.everyone.ID, false, reason)
	}
	removeOverwrite := func(r *discordgo.Role) func() error {
		return func() error {
			return s.deleteOverwrite(ctx, ch, r.ID, reason)
		}
	}

	switch {
	case committeeCanView && !guestCanView:
		steps = []func() error{
			hideFromEveryone,
			removeOverwrite(roles.guest),
			removeOverwrite(roles.member),
			removeOverwrite(roles.committee),
		}
	case guestCanView:
		steps = []func() error{
			hideFromEveryone,
			removeOverwrite(roles.guest),
			removeOverwrite(roles.member),
			func() error {
				return s.setViewOverwrite(ctx, ch, roles.committee.ID, false, reason)
			},
			func() error {
				return s.setViewOverwrite(ctx, ch, roles.archivist.ID, true, reason)
			},
		}
	default:
		_, logger := s.getLogger(ctx)
		logger.ErrorContext(
			ctx,
			"Channel had invalid permissions, so could not be archived.",
			"channel", ch.Name,
		)
		return errChannelInvalidPermissions
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// setViewOverwrite allows or denies View Channel for the role, keeping the
// rest of any existing overwrite
func (s *Steward) setViewOverwrite(
	ctx context.Context,
	ch *discordgo.Channel,
	roleID string,
	allow bool,
	reason string,
) error {
	var allowBits, denyBits int64
	if ow := findOverwrite(ch, roleID); ow != nil {
		allowBits, denyBits = ow.Allow, ow.Deny
	}
	if allow {
		allowBits |= discordgo.PermissionViewChannel
		denyBits &^= discordgo.PermissionViewChannel
	} else {
		allowBits &^= discordgo.PermissionViewChannel
		denyBits |= discordgo.PermissionViewChannel
	}
	return s.discord.session.ChannelPermissionSet(
		ch.ID,
		roleID,
		discordgo.PermissionOverwriteTypeRole,
		allowBits,
		denyBits,
		discordgo.WithContext(ctx),
		discordgo.WithAuditLogReason(reason),
	)
}

func (s *Steward) deleteOverwrite(
	ctx context.Context,
	ch *discordgo.Channel,
	roleID string,
	reason string,
) error {
	if findOverwrite(ch, roleID) == nil {
		return nil
	}
	return s.discord.session.ChannelPermissionDelete(
		ch.ID,
		roleID,
		discordgo.WithContext(ctx),
		discordgo.WithAuditLogReason(reason),
	)
}

func findOverwrite(ch *discordgo.Channel, id string) *discordgo.PermissionOverwrite {
	for _, ow := range ch.PermissionOverwrites {
		if ow.ID == id {
			return ow
		}
	}
	return nil
}

// channelRoleCanView reports whether holders of role can see ch
func channelRoleCanView(ch *discordgo.Channel, role, everyone *discordgo.Role) bool {
	return channelRolePermissions(ch, role, everyone)&discordgo.PermissionViewChannel != 0
}

// channelRolePermissions computes the permissions holders of role have in
// ch. Base permissions come from @everyone and the role, then the
// @everyone overwrite and the role's overwrite are applied in that order.
// Member overwrites are ignored.
func channelRolePermissions(ch *discordgo.Channel, role, everyone *discordgo.Role) int64 {
	perms := everyone.Permissions | role.Permissions
	if perms&discordgo.PermissionAdministrator != 0 {
		return discordgo.PermissionAll
	}
	for _, id := range []string{everyone.ID, role.ID} {
		if ow := findOverwrite(ch, id); ow != nil {
			perms &^= ow.Deny
			perms |= ow.Allow
		}
	}
	return perms
}
