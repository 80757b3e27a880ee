package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"slices"
	"strings"
)

// discord JSON error code for an unknown guild member
const discordErrorCodeUnknownMember = 10007

// ignoredInductionRoleNames are roles that don't count towards a member
// being inducted
var ignoredInductionRoleNames = []string{"news"}

// mainGuild fetches the guild the bot is configured to manage
func (s *Steward) mainGuild(ctx context.Context) (*discordgo.Guild, error) {
	guild, err := s.discord.session.Guild(s.config.Discord.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) || isForbidden(err) {
			return nil, errGuildDoesNotExist()
		}
		return nil, fmt.Errorf("error fetching main guild: %w", err)
	}
	return guild, nil
}

// guildName returns the main guild's name, or an empty string if it can't
// be retrieved
func (s *Steward) guildName(ctx context.Context) string {
	guild, err := s.mainGuild(ctx)
	if err != nil {
		return ""
	}
	return guild.Name
}

func (s *Steward) groupFullName(ctx context.Context) string {
	if s.config.Group.Name != "" {
		return s.config.Group.Name
	}
	return s.config.Group.FullName(s.guildName(ctx))
}

func (s *Steward) groupShortName(ctx context.Context) string {
	if s.config.Group.ShortName != "" {
		return s.config.Group.ShortName
	}
	return s.config.Group.Short(s.guildName(ctx))
}

func (s *Steward) guildRoles(ctx context.Context) ([]*discordgo.Role, error) {
	roles, err := s.discord.session.GuildRoles(
		s.config.Discord.GuildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if isNotFound(err) {
			return nil, errGuildDoesNotExist()
		}
		return nil, fmt.Errorf("error fetching roles: %w", err)
	}
	return roles, nil
}

// role returns the main guild's role with the given name
func (s *Steward) role(ctx context.Context, name string) (*discordgo.Role, error) {
	roles, err := s.guildRoles(ctx)
	if err != nil {
		return nil, err
	}
	if r := findRoleByName(roles, name); r != nil {
		return r, nil
	}
	return nil, errRoleDoesNotExist(name)
}

// everyoneRole returns the @everyone role, which shares the guild's ID
func (s *Steward) everyoneRole(ctx context.Context) (*discordgo.Role, error) {
	roles, err := s.guildRoles(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if r.ID == s.config.Discord.GuildID {
			return r, nil
		}
	}
	return nil, &CommandError{
		Code:       ErrorCodeEveryoneRoleUnavailable,
		LogMessage: `The reference to the "@everyone" role could not be correctly retrieved.`,
	}
}

func (s *Steward) guildChannels(ctx context.Context) ([]*discordgo.Channel, error) {
	channels, err := s.discord.session.GuildChannels(
		s.config.Discord.GuildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if isNotFound(err) {
			return nil, errGuildDoesNotExist()
		}
		return nil, fmt.Errorf("error fetching channels: %w", err)
	}
	return channels, nil
}

// textChannel returns the main guild's text channel with the given name
func (s *Steward) textChannel(ctx context.Context, name string) (*discordgo.Channel, error) {
	channels, err := s.guildChannels(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range channels {
		if c.Type == discordgo.ChannelTypeGuildText && c.Name == name {
			return c, nil
		}
	}
	return nil, errChannelDoesNotExist(name)
}

// channelMention returns a mention for the named channel, or the name in
// backticks when it doesn't exist
func (s *Steward) channelMention(ctx context.Context, name string) string {
	c, err := s.textChannel(ctx, name)
	if err != nil {
		return "`#" + name + "`"
	}
	return c.Mention()
}

// committeeMention returns a mention of the Committee role, or an empty
// string if it doesn't exist
func (s *Steward) committeeMention(ctx context.Context) string {
	r, err := s.role(ctx, roleNameCommittee)
	if err != nil {
		return ""
	}
	return r.Mention()
}

// mainGuildMember fetches a member of the main guild
func (s *Steward) mainGuildMember(ctx context.Context, userID string) (*discordgo.Member, error) {
	member, err := s.discord.session.GuildMember(
		s.config.Discord.GuildID,
		userID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if isNotFound(err) || discordErrorCode(err) == discordErrorCodeUnknownMember {
			return nil, errMemberNotInMainGuild
		}
		return nil, fmt.Errorf("error fetching member: %w", err)
	}
	return member, nil
}

// memberFromStrID resolves a user ID argument (optionally wrapped in a
// mention) to a member of the main guild
func (s *Steward) memberFromStrID(ctx context.Context, str string) (*discordgo.Member, error) {
	id := parseUserIDArgument(str)
	if !isSnowflake(id) {
		return nil, userError("'%s' is not a valid user ID.", id)
	}
	member, err := s.mainGuildMember(ctx, id)
	if errors.Is(err, errMemberNotInMainGuild) {
		return nil, userError("'%s' is not a member of your group's Discord guild.", id)
	}
	return member, err
}

// allMembers pages through every member of the main guild
func (s *Steward) allMembers(ctx context.Context) ([]*discordgo.Member, error) {
	var members []*discordgo.Member
	after := ""
	for {
		page, err := s.discord.session.GuildMembers(
			s.config.Discord.GuildID,
			after,
			guildMembersPageSize,
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return members, fmt.Errorf("error listing members: %w", err)
		}
		members = append(members, page...)
		if len(page) < guildMembersPageSize {
			return members, nil
		}
		last := page[len(page)-1]
		if last.User == nil {
			return members, nil
		}
		after = last.User.ID
	}
}

func findRoleByName(roles []*discordgo.Role, name string) *discordgo.Role {
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func rolesByID(roles []*discordgo.Role) map[string]*discordgo.Role {
	m := make(map[string]*discordgo.Role, len(roles))
	for _, r := range roles {
		m[r.ID] = r
	}
	return m
}

func hasRole(member *discordgo.Member, role *discordgo.Role) bool {
	if member == nil || role == nil {
		return false
	}
	return slices.Contains(member.Roles, role.ID)
}

// memberRoleNames returns the names of the member's roles, skipping IDs
// not present in roles
func memberRoleNames(member *discordgo.Member, roles map[string]*discordgo.Role) []string {
	names := make([]string, 0, len(member.Roles))
	for _, id := range member.Roles {
		if r, ok := roles[id]; ok {
			names = append(names, r.Name)
		}
	}
	return names
}

// isMemberInducted reports whether the member holds any role other than
// the ignored ones (ex: "@News")
func isMemberInducted(member *discordgo.Member, roles map[string]*discordgo.Role) bool {
	for _, name := range memberRoleNames(member, roles) {
		normalized := strings.ToLower(strings.Trim(name, "@ \n\t"))
		if !slices.Contains(ignoredInductionRoleNames, normalized) {
			return true
		}
	}
	return false
}

// hasCommitteeRole reports whether the member holds the Committee role
func (s *Steward) hasCommitteeRole(ctx context.Context, member *discordgo.Member) (bool, error) {
	committee, err := s.role(ctx, roleNameCommittee)
	if err != nil {
		return false, err
	}
	return hasRole(member, committee), nil
}

func isBot(member *discordgo.Member) bool {
	return member != nil && member.User != nil && member.User.Bot
}
