package steward

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"net/url"
	"strconv"
)

const discordOAuthAuthorizeURL = "https://discord.com/oauth2/authorize"

// permissionUseApplicationCommands is the "Use Application Commands"
// permission bit
const permissionUseApplicationCommands int64 = 1 << 31

// invitePermissions are the permissions the bot requests when added to a
// guild
var invitePermissions = []int64{
	discordgo.PermissionManageRoles,
	discordgo.PermissionViewChannel,
	discordgo.PermissionSendMessages,
	discordgo.PermissionManageMessages,
	discordgo.PermissionEmbedLinks,
	discordgo.PermissionReadMessageHistory,
	discordgo.PermissionMentionEveryone,
	discordgo.PermissionAddReactions,
	permissionUseApplicationCommands,
	discordgo.PermissionKickMembers,
	discordgo.PermissionBanMembers,
	discordgo.PermissionModerateMembers,
	discordgo.PermissionManageChannels,
	discordgo.PermissionViewAuditLogs,
}

// InvitePermissions returns the combined permission bits requested by
// the invite URL
func InvitePermissions() int64 {
	var perms int64
	for _, p := range invitePermissions {
		perms |= p
	}
	return perms
}

// GenerateInviteURL returns the URL used to add the bot to the guild.
// Both IDs must be discord snowflakes.
func GenerateInviteURL(applicationID string, guildID string) (string, error) {
	if !snowflakePattern.MatchString(applicationID) {
		return "", fmt.Errorf("%q is not a valid Discord application ID", applicationID)
	}
	if !snowflakePattern.MatchString(guildID) {
		return "", fmt.Errorf("%q is not a valid Discord guild ID", guildID)
	}

	// built by hand so the query keeps its documented order
	// (url.Values.Encode sorts keys and escapes '+')
	u, err := url.Parse(discordOAuthAuthorizeURL)
	if err != nil {
		return "", err
	}
	u.RawQuery = "client_id=" + applicationID +
		"&scope=bot+applications.commands" +
		"&permissions=" + strconv.FormatInt(InvitePermissions(), 10) +
		"&guild_id=" + guildID +
		"&disable_guild_select=true"
	return u.String(), nil
}
