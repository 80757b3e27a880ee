package steward

import (
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestMakeApplicantCommand(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("440000000000000001", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	target := session.addMember("440000000000000002", "hopeful", testGuestID)
	intro := session.addMessage(testIntrosID, target.User, "I'd like to join", time.Now())

	h := runInteraction(
		t,
		s,
		newSlashInteraction(committee, CommandMakeApplicant, stringOption("user", target.User.ID)),
	)
	assert.Equal(t, []string{applicantProcessing, applicantSuccessMessage}, h.responses())

	roles := session.member(target.User.ID).Roles
	assert.Equal(t, []string{testApplicantID}, roles)
	require.Len(t, session.reactions, 1)
	assert.Equal(t, intro.ID, session.reactions[0].MessageID)

	h = runInteraction(
		t,
		s,
		newSlashInteraction(committee, CommandMakeApplicant, stringOption("user", target.User.ID)),
	)
	assert.Equal(t, applicantAlreadyMessage, h.lastResponse(t))
}

func TestMakeApplicantContextMenus(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("440000000000000003", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	target := session.addMember("440000000000000004", "hopeful")

	h := runInteraction(t, s, newUserCommandInteraction(committee, UserCommandMakeApplicant, target.User))
	assert.Equal(t, applicantSuccessMessage, h.lastResponse(t))
	assert.Contains(t, session.member(target.User.ID).Roles, testApplicantID)

	gone := testUser("440000000000000005", "gone")
	msg := session.addMessage(testGeneralID, gone, "bye", time.Now())
	h = runInteraction(t, s, newMessageCommandInteraction(committee, MessageCommandMakeApplicant, msg))
	assert.Equal(t, applicantAuthorLeftReply, h.lastResponse(t))
}

func TestMakeApplicantBot(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("440000000000000006", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	bot := session.addMember("440000000000000007", "robot")
	bot.User.Bot = true

	h := runInteraction(t, s, newUserCommandInteraction(committee, UserCommandMakeApplicant, bot.User))
	assert.Contains(t, h.lastResponse(t), "Cannot make a bot user an applicant!")
	assert.Empty(t, session.roleAdds)
}

func TestMakeApplicantMissingRole(t *testing.T) {
	s, session := newTestSteward(t)
	var roles []*discordgo.Role
	for _, r := range session.roles {
		if r.ID != testApplicantID {
			roles = append(roles, r)
		}
	}
	session.roles = roles

	committee := testUser("440000000000000008", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	target := session.addMember("440000000000000009", "hopeful")

	h := runInteraction(
		t,
		s,
		newSlashInteraction(committee, CommandMakeApplicant, stringOption("user", target.User.ID)),
	)
	resp := h.lastResponse(t)
	assert.Contains(t, resp, ErrorCodeApplicantRoleDoesNotExist)
	assert.Contains(t, resp, "when trying to make user an applicant")
}
