package cmd

import (
	"bytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func executeGenerateInviteURL(t testing.TB, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(
		func() {
			rootCmd.SetOut(nil)
			rootCmd.SetErr(nil)
		},
	)
	rootCmd.SetArgs(append([]string{"generate-invite-url"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestGenerateInviteURL(t *testing.T) {
	loadTestEnvFile(t, "GUILDSTEWARD_TEST_UNUSED=1\n")

	output, err := executeGenerateInviteURL(t, "123456789012345678", "876543210987654321")
	require.NoError(t, err)
	assert.Equal(
		t,
		"https://discord.com/oauth2/authorize?client_id=123456789012345678"+
			"&scope=bot+applications.commands&permissions=1101927771350"+
			"&guild_id=876543210987654321&disable_guild_select=true",
		strings.TrimSpace(output),
	)
}

func TestGenerateInviteURLGuildFromEnv(t *testing.T) {
	loadTestEnvFile(t, "DISCORD_GUILD_ID=876543210987654321\n")

	output, err := executeGenerateInviteURL(t, "123456789012345678")
	require.NoError(t, err)
	assert.Contains(t, output, "&guild_id=876543210987654321&")
}

func TestGenerateInviteURLInvalidID(t *testing.T) {
	loadTestEnvFile(t, "GUILDSTEWARD_TEST_UNUSED=1\n")

	_, err := executeGenerateInviteURL(t, "1234", "876543210987654321")
	assert.ErrorContains(t, err, "not a valid Discord application ID")
}
