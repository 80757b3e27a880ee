package steward

import (
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestGenerateInviteURL(t *testing.T) {
	u, err := GenerateInviteURL(testAppID, testGuildID)
	require.NoError(t, err)
	assert.Equal(
		t,
		"https://discord.com/oauth2/authorize?client_id="+testAppID+
			"&scope=bot+applications.commands&permissions=1101927771350"+
			"&guild_id="+testGuildID+"&disable_guild_select=true",
		u,
	)

	_, err = GenerateInviteURL("app", testGuildID)
	assert.ErrorContains(t, err, "not a valid Discord application ID")
	_, err = GenerateInviteURL(testAppID, "")
	assert.ErrorContains(t, err, "not a valid Discord guild ID")
}

func TestInvitePermissions(t *testing.T) {
	perms := InvitePermissions()
	assert.EqualValues(t, 1101927771350, perms)
	for _, p := range []int64{
		discordgo.PermissionManageRoles,
		discordgo.PermissionKickMembers,
		discordgo.PermissionBanMembers,
		discordgo.PermissionModerateMembers,
		discordgo.PermissionViewAuditLogs,
	} {
		assert.Equal(t, p, perms&p)
	}
	assert.Zero(t, perms&discordgo.PermissionAdministrator)
}
