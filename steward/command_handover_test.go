package steward

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

const (
	testCommitteeElectID   = "200000000000000010"
	testAutomodID          = "200000000000000011"
	testCommitteeCatID     = "300000000000000020"
	testCommitteeChatID    = "300000000000000021"
	testCommitteeArchiveID = "300000000000000022"
	testArchivedChatID     = "300000000000000023"
	testHandoverID         = "300000000000000024"
)

func addHandoverFixtures(session *mockDiscordSession) {
	session.roles = append(
		session.roles,
		&discordgo.Role{ID: testCommitteeElectID, Name: roleNameCommitteeElect},
		&discordgo.Role{ID: testAutomodID, Name: roleNameAutomod},
	)
	electOverwrite := func() []*discordgo.PermissionOverwrite {
		return []*discordgo.PermissionOverwrite{
			{
				ID:    testCommitteeElectID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: discordgo.PermissionViewChannel,
			},
		}
	}
	session.channels = append(
		session.channels,
		&discordgo.Channel{
			ID:      testCommitteeCatID,
			GuildID: testGuildID,
			Name:    "Committee Stuff",
			Type:    discordgo.ChannelTypeGuildCategory,
		},
		&discordgo.Channel{
			ID:                   testCommitteeChatID,
			GuildID:              testGuildID,
			Name:                 "committee-chat",
			Type:                 discordgo.ChannelTypeGuildText,
			ParentID:             testCommitteeCatID,
			PermissionOverwrites: electOverwrite(),
		},
		&discordgo.Channel{
			ID:      testCommitteeArchiveID,
			GuildID: testGuildID,
			Name:    "Committee Archive",
			Type:    discordgo.ChannelTypeGuildCategory,
		},
		&discordgo.Channel{
			ID:                   testArchivedChatID,
			GuildID:              testGuildID,
			Name:                 "old-committee-chat",
			Type:                 discordgo.ChannelTypeGuildText,
			ParentID:             testCommitteeArchiveID,
			PermissionOverwrites: electOverwrite(),
		},
		&discordgo.Channel{
			ID:       testHandoverID,
			GuildID:  testGuildID,
			Name:     channelNameHandover,
			Type:     discordgo.ChannelTypeGuildText,
			ParentID: testCommitteeCatID,
		},
	)
	session.addMember(testBotUserID, testBotUser.Username).User.Bot = true
}

func TestCommitteeHandoverCommand(t *testing.T) {
	s, session := newTestSteward(t)
	addHandoverFixtures(session)

	outgoing := testUser("490000000000000001", "outgoing")
	session.addMember(outgoing.ID, outgoing.Username, testCommitteeID, testAutomodID)
	staying := testUser("490000000000000002", "staying")
	session.addMember(staying.ID, staying.Username, testCommitteeID)
	elect := testUser("490000000000000003", "elect")
	session.addMember(elect.ID, elect.Username, testCommitteeElectID)
	electBot := session.addMember("490000000000000004", "electbot", testCommitteeElectID)
	electBot.User.Bot = true

	h := runInteraction(t, s, newSlashInteraction(outgoing, CommandCommitteeHandover))
	responses := h.responses()
	require.NotEmpty(t, responses)
	assert.Equal(t, ":hourglass: Running handover procedures... :hourglass:", responses[0])
	assert.Contains(t, responses, ":hourglass: Updating channels in category: Committee Stuff :hourglass:")
	assert.NotContains(t, responses, ":hourglass: Updating channels in category: Committee Archive :hourglass:")
	assert.Equal(t, ":white_check_mark: Handover procedure complete!", responses[len(responses)-1])

	assert.Equal(t, []string{testCommitteeChatID + ":" + testCommitteeElectID}, session.permissionDels)

	handoverAccess := discordgo.PermissionViewChannel | discordgo.PermissionSendMessages
	assert.Equal(
		t,
		[]permissionSet{
			{
				ChannelID:  testHandoverID,
				TargetID:   outgoing.ID,
				TargetType: discordgo.PermissionOverwriteTypeMember,
				Allow:      int64(handoverAccess),
			},
			{
				ChannelID:  testHandoverID,
				TargetID:   staying.ID,
				TargetType: discordgo.PermissionOverwriteTypeMember,
				Allow:      int64(handoverAccess),
			},
		},
		session.permissionSets,
	)

	assert.ElementsMatch(
		t,
		[]roleChange{
			{UserID: outgoing.ID, RoleID: testCommitteeID},
			{UserID: outgoing.ID, RoleID: testAutomodID},
			{UserID: staying.ID, RoleID: testCommitteeID},
			{UserID: elect.ID, RoleID: testCommitteeElectID},
		},
		session.roleRemoves,
	)
	assert.Equal(t, []roleChange{{UserID: elect.ID, RoleID: testCommitteeID}}, session.roleAdds)
	assert.Equal(t, []string{testCommitteeElectID}, session.member(electBot.User.ID).Roles)
}

func TestCommitteeHandoverCommandBotRoleTooLow(t *testing.T) {
	s, session := newTestSteward(t)
	addHandoverFixtures(session)
	for _, r := range session.roles {
		if r.ID == testCommitteeID {
			r.Position = 5
		}
	}

	committee := testUser("490000000000000005", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)

	h := runInteraction(t, s, newSlashInteraction(committee, CommandCommitteeHandover))
	assert.Equal(
		t,
		":warning: This command requires the bot to hold a role higher than "+
			`that of the "Committee" role to perform this action. Operation aborted. :warning:`,
		h.lastResponse(t),
	)
	assert.Empty(t, session.roleRemoves)
	assert.Empty(t, session.permissionDels)
}

func TestCommitteeHandoverCommandNoCommitteeElectRole(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("490000000000000006", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)

	h := runInteraction(t, s, newSlashInteraction(committee, CommandCommitteeHandover))
	resp := h.lastResponse(t)
	assert.Contains(t, resp, "referencing error code: "+ErrorCodeCommitteeElectRoleDoesNotExist)
	assert.Contains(t, resp, "when trying to run the committee handover")
}

func TestAnnualRolesResetCommand(t *testing.T) {
	s, session := newTestSteward(t)
	ctx := context.Background()

	committee := testUser("490000000000000010", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	firstYear := session.addMember("490000000000000011", "fresher", testMemberRoleID, testYearRoleID, testGuestID)
	member := session.addMember("490000000000000012", "member", testMemberRoleID)
	guest := session.addMember("490000000000000013", "guest", testGuestID)

	for _, id := range []string{"1234567", "7654321"} {
		_, err := s.writeDB.Create(ctx, &GroupMadeMember{HashedGroupMemberID: sha256Hex(id)})
		require.NoError(t, err)
	}

	h := runInteraction(t, s, newSlashInteraction(committee, CommandAnnualRolesReset))
	assert.Equal(
		t,
		[]string{
			":hourglass: Resetting membership and year roles... :hourglass:",
			":hourglass: Removed Member role from all users...",
			":white_check_mark: Deleted all members from the database...",
			":white_check_mark: Role reset complete!",
		},
		h.responses(),
	)

	assert.ElementsMatch(
		t,
		[]roleChange{
			{UserID: firstYear.User.ID, RoleID: testMemberRoleID},
			{UserID: member.User.ID, RoleID: testMemberRoleID},
			{UserID: firstYear.User.ID, RoleID: testYearRoleID},
		},
		session.roleRemoves,
	)
	assert.Equal(t, []string{testGuestID}, session.member(firstYear.User.ID).Roles)
	assert.Equal(t, []string{testGuestID}, session.member(guest.User.ID).Roles)

	var count int64
	require.NoError(t, s.db.Model(&GroupMadeMember{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIncrementYearChannelsCommand(t *testing.T) {
	const (
		finalYearsID  = "300000000000000030"
		secondYearsID = "300000000000000031"
		firstYearsID  = "300000000000000032"
		archivedID    = "300000000000000033"
		yearChatsID   = "300000000000000034"
	)
	s, session := newTestSteward(t)
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	archivedOverwrites := []*discordgo.PermissionOverwrite{
		{ID: testGuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
	}
	yearChatsOverwrites := []*discordgo.PermissionOverwrite{
		{ID: testGuestID, Type: discordgo.PermissionOverwriteTypeRole, Allow: discordgo.PermissionViewChannel},
	}
	session.channels = append(
		session.channels,
		&discordgo.Channel{
			ID:                   archivedID,
			Name:                 categoryNameArchived,
			Type:                 discordgo.ChannelTypeGuildCategory,
			PermissionOverwrites: archivedOverwrites,
		},
		&discordgo.Channel{
			ID:                   yearChatsID,
			Name:                 categoryNameYearChats,
			Type:                 discordgo.ChannelTypeGuildCategory,
			PermissionOverwrites: yearChatsOverwrites,
		},
		&discordgo.Channel{
			ID:       finalYearsID,
			Name:     channelNameFinalYears,
			Type:     discordgo.ChannelTypeGuildText,
			ParentID: yearChatsID,
			PermissionOverwrites: []*discordgo.PermissionOverwrite{
				{ID: testGuestID, Type: discordgo.PermissionOverwriteTypeRole, Allow: discordgo.PermissionViewChannel},
			},
		},
		&discordgo.Channel{ID: secondYearsID, Name: channelNameSecondYears, Type: discordgo.ChannelTypeGuildText},
		&discordgo.Channel{ID: firstYearsID, Name: channelNameFirstYears, Type: discordgo.ChannelTypeGuildText},
	)
	committee := testUser("490000000000000020", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)

	h := runInteraction(t, s, newSlashInteraction(committee, CommandIncrementYearChannels))
	assert.Equal(t, ":white_check_mark: Year channel iterations complete!", h.lastResponse(t))

	assert.Equal(t, []string{finalYearsID + ":" + testGuestID}, session.permissionDels)
	assert.Equal(
		t,
		[]permissionSet{
			{
				ChannelID:  finalYearsID,
				TargetID:   testArchivistID,
				TargetType: discordgo.PermissionOverwriteTypeRole,
				Allow:      discordgo.PermissionViewChannel,
			},
		},
		session.permissionSets,
	)

	archived := session.channel(finalYearsID)
	assert.Equal(t, "final-years-2025", archived.Name)
	assert.Equal(t, archivedID, archived.ParentID)
	assert.Equal(t, archivedOverwrites, archived.PermissionOverwrites)

	assert.Equal(t, channelNameFinalYears, session.channel(secondYearsID).Name)
	assert.Equal(t, channelNameSecondYears, session.channel(firstYearsID).Name)

	require.Len(t, session.createdChans, 1)
	created := session.createdChans[0]
	assert.Equal(t, channelNameFirstYears, created.Name)
	assert.Equal(t, yearChatsID, created.ParentID)
	assert.Equal(t, 0, created.Position)
	assert.Equal(t, yearChatsOverwrites, created.PermissionOverwrites)
}

func TestIncrementYearChannelsCommandNoCategory(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("490000000000000021", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)

	h := runInteraction(t, s, newSlashInteraction(committee, CommandIncrementYearChannels))
	assert.Equal(
		t,
		":white_check_mark: Year channel iterations complete but no year channel category was found!",
		h.lastResponse(t),
	)
	assert.Empty(t, session.permissionDels)

	require.Len(t, session.createdChans, 1)
	created := session.createdChans[0]
	assert.Equal(t, channelNameFirstYears, created.Name)
	assert.Empty(t, created.ParentID)
	assert.Equal(
		t,
		[]permissionSet{
			{
				ChannelID:  created.ID,
				TargetID:   testGuestID,
				TargetType: discordgo.PermissionOverwriteTypeRole,
				Allow:      discordgo.PermissionViewChannel | discordgo.PermissionSendMessages,
			},
		},
		session.permissionSets,
	)
}

func TestIncrementYearChannelsCommandRequiresCommittee(t *testing.T) {
	s, session := newTestSteward(t)
	guest := testUser("490000000000000022", "guest")
	session.addMember(guest.ID, guest.Username, testGuestID)

	h := runInteraction(t, s, newSlashInteraction(guest, CommandIncrementYearChannels))
	assert.Contains(t, h.lastResponse(t), "members can run this command.")
	assert.Empty(t, session.createdChans)
}
