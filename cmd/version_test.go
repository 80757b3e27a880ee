package cmd

import (
	"bytes"
	"github.com/arcward/guildsteward/steward"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := steward.Version
	originalCommitSHA := steward.CommitSHA
	originalBuildTime := steward.BuildTime

	t.Cleanup(
		func() {
			steward.Version = originalVersion
			steward.CommitSHA = originalCommitSHA
			steward.BuildTime = originalBuildTime
		},
	)

	steward.Version = "1.0.0"
	steward.CommitSHA = "abc123"
	steward.BuildTime = "2023-10-01T12:00:00Z"

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)

	assert.Equal(
		t,
		"guildsteward version=1.0.0 commit=abc123 built: 2023-10-01T12:00:00Z\n",
		out.String(),
	)
}
