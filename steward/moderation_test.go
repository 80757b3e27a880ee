package steward

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"
)

// snowflakeAt returns a snowflake ID created at t
func snowflakeAt(t time.Time) string {
	return strconv.FormatInt((t.UnixMilli()-1420070400000)<<22, 10)
}

func auditLogEntry(
	action discordgo.AuditLogAction,
	targetID string,
	actorID string,
	created time.Time,
	changes ...*discordgo.AuditLogChange,
) *discordgo.AuditLogEntry {
	return &discordgo.AuditLogEntry{
		ID:         snowflakeAt(created),
		TargetID:   targetID,
		UserID:     actorID,
		ActionType: &action,
		Changes:    changes,
	}
}

func timeoutChange() *discordgo.AuditLogChange {
	key := discordgo.AuditLogChangeKey(auditLogChangeTimeout)
	return &discordgo.AuditLogChange{Key: &key}
}

func memberStrikes(t *testing.T, s *Steward, userID string) int {
	t.Helper()
	var strikes DiscordMemberStrikes
	err := s.db.Where("hashed_member_id = ?", sha256Hex(userID)).First(&strikes).Error
	if err != nil {
		return 0
	}
	return strikes.Strikes
}

func TestStrikeCommand(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("480000000000000001", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	target := session.addMember("480000000000000002", "rulebreaker", testGuestID)

	h := runInteraction(t, s, newSlashInteraction(committee, CommandStrike, stringOption("user", target.User.ID)))
	resp := <-h.callRespond
	assert.Equal(
		t,
		"Successfully increased <@480000000000000002>'s strikes to 1.\n"+
			"The suggested moderation action is to time-out the user. "+
			"Would you like me to perform this action for you?",
		resp.Data.Content,
	)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	require.Len(t, resp.Data.Components, 1)
	row, ok := resp.Data.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 2)
	assert.Equal(
		t,
		newCustomID(customIDStrikeConfirm, "1", committee.ID, target.User.ID),
		row.Components[0].(discordgo.Button).CustomID,
	)
	assert.Equal(
		t,
		newCustomID(customIDStrikeCancel, "1", committee.ID, target.User.ID),
		row.Components[1].(discordgo.Button).CustomID,
	)

	assert.Equal(t, 1, memberStrikes(t, s, target.User.ID))
	dms := session.sentDMs(target.User.ID)
	require.Len(t, dms, 1)
	assert.Contains(t, dms[0].Content, "the TS Discord server's rules")
	assert.Contains(t, dms[0].Content, "to 1 and the corresponding moderation action")
	assert.Contains(t, dms[0].Content, "[here](<https://example.com/moderation>)")
	assert.NotContains(t, dms[0].Content, "you have been banned")

	// no action is taken until the button is pressed
	assert.Empty(t, session.timeouts)
}

func TestStrikeCommandEscalates(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("480000000000000003", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	target := session.addMember("480000000000000004", "repeat", testGuestID)

	strike := func() string {
		h := runInteraction(t, s, newUserCommandInteraction(committee, UserCommandStrike, target.User))
		return h.lastResponse(t)
	}

	assert.Contains(t, strike(), "to 1.")
	assert.Contains(t, strike(), "is to kick the user.")
	assert.Contains(t, strike(), "is to ban the user.")

	// the maximum is never exceeded
	assert.Contains(t, strike(), "strikes to 3.")
	assert.Equal(t, 3, memberStrikes(t, s, target.User.ID))

	dms := session.sentDMs(target.User.ID)
	require.Len(t, dms, 4)
	assert.Contains(t, dms[2].Content, "you have been banned from the TS Discord server")
	assert.Contains(t, dms[2].Content, "contacted our community moderators")
}

func TestStrikeCommandRejects(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("480000000000000005", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	bot := session.addMember("480000000000000006", "robot")
	bot.User.Bot = true

	h := runInteraction(t, s, newSlashInteraction(committee, CommandStrike, stringOption("user", bot.User.ID)))
	assert.Contains(t, h.lastResponse(t), "Member cannot be given an additional strike because they are a bot.")

	h = runInteraction(t, s, newSlashInteraction(committee, CommandStrike, stringOption("user", "bogus")))
	assert.Contains(t, h.lastResponse(t), "'bogus' is not a valid user ID.")

	h = runInteraction(
		t,
		s,
		newSlashInteraction(committee, CommandStrike, stringOption("user", "<@480000000000000099>")),
	)
	assert.Contains(t, h.lastResponse(t), "is not a member of your group's Discord guild.")

	guest := testUser("480000000000000007", "guest")
	session.addMember(guest.ID, guest.Username, testGuestID)
	h = runInteraction(t, s, newSlashInteraction(guest, CommandStrike, stringOption("user", committee.ID)))
	h.responses()
	assert.Zero(t, memberStrikes(t, s, committee.ID))
}

func TestStrikeCommandDMsBlocked(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("480000000000000008", "committee")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	target := session.addMember("480000000000000009", "private", testGuestID)
	session.setError("UserChannelCreate", restError(403, 50007))

	h := runInteraction(t, s, newSlashInteraction(committee, CommandStrike, stringOption("user", target.User.ID)))
	assert.Contains(t, h.lastResponse(t), "Successfully increased <@480000000000000009>'s strikes to 1.")
	assert.Equal(t, 1, memberStrikes(t, s, target.User.ID))
}

func TestStrikeButtons(t *testing.T) {
	tests := []struct {
		strikes string
		want    string
		check   func(t *testing.T, session *mockDiscordSession, targetID string)
	}{
		{
			strikes: "1",
			want:    "time-out",
			check: func(t *testing.T, session *mockDiscordSession, targetID string) {
				until := session.timeouts[targetID]
				require.NotNil(t, until)
				assert.WithinDuration(t, time.Now().Add(timeoutDuration), *until, time.Minute)
			},
		},
		{
			strikes: "2",
			want:    "kick",
			check: func(t *testing.T, session *mockDiscordSession, targetID string) {
				assert.Equal(t, []string{targetID}, session.kicks)
			},
		},
		{
			strikes: "3",
			want:    "ban",
			check: func(t *testing.T, session *mockDiscordSession, targetID string) {
				assert.Equal(t, []string{targetID}, session.bans)
			},
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.want, func(t *testing.T) {
				s, session := newTestSteward(t)
				committee := testUser("480000000000000010", "committee")
				session.addMember(committee.ID, committee.Username, testCommitteeID)
				target := session.addMember("480000000000000011", "rulebreaker", testGuestID)

				h := runInteraction(
					t,
					s,
					newComponentInteraction(
						committee,
						newCustomID(customIDStrikeConfirm, tc.strikes, committee.ID, target.User.ID),
						nil,
					),
				)
				resp := <-h.callRespond
				assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
				assert.Equal(
					t,
					"Successfully performed "+tc.want+" action on <@480000000000000011>.",
					resp.Data.Content,
				)
				assert.Empty(t, resp.Data.Components)
				tc.check(t, session, target.User.ID)
			},
		)
	}
}

func TestStrikeButtonsOtherUser(t *testing.T) {
	s, session := newTestSteward(t)
	committee := testUser("480000000000000012", "committee")
	other := testUser("480000000000000013", "other")
	session.addMember(committee.ID, committee.Username, testCommitteeID)
	session.addMember(other.ID, other.Username, testCommitteeID)
	target := session.addMember("480000000000000014", "rulebreaker", testGuestID)

	h := runInteraction(
		t,
		s,
		newComponentInteraction(other, newCustomID(customIDStrikeConfirm, "3", committee.ID, target.User.ID), nil),
	)
	assert.Contains(t, h.lastResponse(t), "Only the committee member who gave the strike can confirm this action.")
	assert.Empty(t, session.bans)

	h = runInteraction(
		t,
		s,
		newComponentInteraction(other, newCustomID(customIDStrikeCancel, "3", committee.ID, target.User.ID), nil),
	)
	assert.Contains(t, h.lastResponse(t), "Only the committee member who gave the strike can cancel this action.")

	h = runInteraction(
		t,
		s,
		newComponentInteraction(committee, newCustomID(customIDStrikeCancel, "3", committee.ID, target.User.ID), nil),
	)
	assert.Equal(t, "Aborted performing ban action on <@480000000000000014>.", h.lastResponse(t))
	assert.Empty(t, session.bans)
	assert.NotNil(t, session.member(target.User.ID))
}

func TestParseStrikeButtonArgs(t *testing.T) {
	strikes, invoker, target, err := parseStrikeButtonArgs([]string{"2", "1", "3"})
	require.NoError(t, err)
	assert.Equal(t, 2, strikes)
	assert.Equal(t, "1", invoker)
	assert.Equal(t, "3", target)

	for _, args := range [][]string{
		nil,
		{"1", "2"},
		{"0", "1", "2"},
		{"4", "1", "2"},
		{"x", "1", "2"},
	} {
		_, _, _, err = parseStrikeButtonArgs(args)
		assert.Errorf(t, err, "args %v", args)
	}
}

func TestPerformModerationActionInvalid(t *testing.T) {
	s, _ := newTestSteward(t)
	assert.ErrorContains(
		t,
		s.performModerationAction(context.Background(), "1", 4, "reason"),
		"strikes must be between 1 and 3",
	)
}

func TestStrikeConfirmation(t *testing.T) {
	assert.Equal(t, "Successfully increased <@1>'s strikes to 2.", strikeConfirmation("1", 2, false))
	assert.Equal(
		t,
		"<@1>'s number of strikes was not increased because they already had 5. How did this happen?\n"+
			"Having more than 3 strikes suggests that the user should be banned. "+
			"Would you like me to perform this action for you?",
		strikeConfirmation("1", 5, true),
	)
}

func TestGroupModerationContact(t *testing.T) {
	s, _ := newTestSteward(t)
	ctx := context.Background()
	assert.Equal(t, "our community moderators", s.groupModerationContact(ctx))

	for _, name := range []string{"Computer Science Society", "UoB Chess", "Bham Uni Gaming"} {
		s.config.Group.Name = name
		assert.Equalf(t, "the Guild of Students", s.groupModerationContact(ctx), "name %q", name)
	}
}

// runTrackManualModeration runs trackManualModeration until its warning has
// been posted, then cancels the wait for the warning's deletion
func runTrackManualModeration(
	t *testing.T,
	s *Steward,
	target *discordgo.User,
	action discordgo.AuditLogAction,
	posted func() bool,
) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.trackManualModeration(ctx, target, action)
	}()

	assert.Eventually(t, posted, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("trackManualModeration did not return")
	}
}

func TestTrackManualModerationKick(t *testing.T) {
	s, session := newTestSteward(t)
	actor := testUser("480000000000000020", "moderator")
	target := testUser("480000000000000021", "kicked")
	session.auditLog = &discordgo.GuildAuditLog{
		Users: []*discordgo.User{actor},
		AuditLogEntries: []*discordgo.AuditLogEntry{
			auditLogEntry(discordgo.AuditLogActionMemberKick, target.ID, actor.ID, time.Now()),
		},
	}

	runTrackManualModeration(
		t, s, target, discordgo.AuditLogActionMemberKick, func() bool {
			return len(session.sentDMs(actor.ID)) == 1
		},
	)

	assert.Equal(t, 1, memberStrikes(t, s, target.ID))
	warning := session.sentDMs(actor.ID)[0].Content
	assert.Contains(t, warning, "Successfully increased <@480000000000000021>'s strikes to 1.")
	assert.Contains(t, warning, "**Please ensure you use the `/strike` command in future!**")
	assert.NotContains(t, warning, "Would you like me")
	require.Len(t, session.sentDMs(target.ID), 1)
}

func TestTrackManualModerationChannelLocation(t *testing.T) {
	s, session := newTestSteward(t)
	s.config.Group.ManualModerationWarningMessageLocation = "mod-log"
	actor := testUser("480000000000000022", "moderator")
	target := testUser("480000000000000023", "banned")
	session.auditLog = &discordgo.GuildAuditLog{
		AuditLogEntries: []*discordgo.AuditLogEntry{
			auditLogEntry(discordgo.AuditLogActionMemberBanAdd, target.ID, actor.ID, time.Now()),
		},
	}

	runTrackManualModeration(
		t, s, target, discordgo.AuditLogActionMemberBanAdd, func() bool {
			return len(session.sentTo(testModLogID)) == 1
		},
	)
	assert.Empty(t, session.sentDMs(actor.ID))
	assert.Equal(t, 1, memberStrikes(t, s, target.ID))
}

func TestTrackManualModerationBotActor(t *testing.T) {
	s, session := newTestSteward(t)
	actor := &discordgo.User{ID: "480000000000000024", Username: "otherbot", Bot: true}
	target := testUser("480000000000000025", "kicked")
	session.auditLog = &discordgo.GuildAuditLog{
		Users: []*discordgo.User{actor},
		AuditLogEntries: []*discordgo.AuditLogEntry{
			auditLogEntry(discordgo.AuditLogActionMemberKick, target.ID, actor.ID, time.Now()),
		},
	}

	// without a log channel there's nowhere to post
	require.NoError(t, s.trackManualModeration(context.Background(), target, discordgo.AuditLogActionMemberKick))
	assert.Equal(t, 1, memberStrikes(t, s, target.ID))
	assert.Empty(t, session.webhookPosts)

	sink, err := newLogChannelSink(
		discordWebhookURLPrefix+"480000000000000026/webhook-token",
		slog.LevelWarn,
	)
	require.NoError(t, err)
	s.logSink = sink

	runTrackManualModeration(
		t, s, target, discordgo.AuditLogActionMemberKick, func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return len(session.webhookPosts) == 1
		},
	)
	assert.Equal(t, 2, memberStrikes(t, s, target.ID))
}

func TestTrackManualModerationIgnored(t *testing.T) {
	now := time.Now()
	target := testUser("480000000000000027", "target")
	actor := testUser("480000000000000028", "moderator")

	tests := []struct {
		name    string
		action  discordgo.AuditLogAction
		entries []*discordgo.AuditLogEntry
	}{
		{
			name:   "no entries",
			action: discordgo.AuditLogActionMemberKick,
		},
		{
			name:   "by the bot",
			action: discordgo.AuditLogActionMemberKick,
			entries: []*discordgo.AuditLogEntry{
				auditLogEntry(discordgo.AuditLogActionMemberKick, target.ID, testBotUserID, now),
			},
		},
		{
			name:   "too old",
			action: discordgo.AuditLogActionMemberKick,
			entries: []*discordgo.AuditLogEntry{
				auditLogEntry(discordgo.AuditLogActionMemberKick, target.ID, actor.ID, now.Add(-5*time.Minute)),
			},
		},
		{
			name:   "other target",
			action: discordgo.AuditLogActionMemberBanAdd,
			entries: []*discordgo.AuditLogEntry{
				auditLogEntry(discordgo.AuditLogActionMemberBanAdd, actor.ID, actor.ID, now),
			},
		},
		{
			name:   "update without time-out",
			action: discordgo.AuditLogActionMemberUpdate,
			entries: []*discordgo.AuditLogEntry{
				auditLogEntry(discordgo.AuditLogActionMemberUpdate, target.ID, actor.ID, now),
			},
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				s, session := newTestSteward(t)
				session.auditLog = &discordgo.GuildAuditLog{AuditLogEntries: tc.entries}

				require.NoError(t, s.trackManualModeration(context.Background(), target, tc.action))
				assert.Zero(t, memberStrikes(t, s, target.ID))
				assert.Empty(t, session.sentDMs(actor.ID))
			},
		)
	}
}

func TestTrackManualModerationAuditLogError(t *testing.T) {
	s, session := newTestSteward(t)
	session.setError("GuildAuditLog", restError(403, 50013))
	err := s.trackManualModeration(
		context.Background(),
		testUser("480000000000000029", "target"),
		discordgo.AuditLogActionMemberKick,
	)
	assert.True(t, isForbidden(err))
}

func TestCheckModerationWarningLocation(t *testing.T) {
	tests := []struct {
		location string
		wantErr  string
	}{
		{location: ""},
		{location: moderationLocationDM},
		{location: "mod-log"},
		{location: "nowhere", wantErr: `The channel "nowhere" does not exist`},
		{location: "dms", wantErr: `you may have meant to set MANUAL_MODERATION_WARNING_MESSAGE_LOCATION to "DM"`},
	}
	for _, tc := range tests {
		t.Run(
			tc.location, func(t *testing.T) {
				s, _ := newTestSteward(t)
				s.config.Group.ManualModerationWarningMessageLocation = tc.location
				err := s.checkModerationWarningLocation(context.Background())
				if tc.wantErr == "" {
					assert.NoError(t, err)
					return
				}
				assert.ErrorContains(t, err, tc.wantErr)
			},
		)
	}
}

func setMemberStrikes(t *testing.T, s *Steward, userID string, n int) {
	t.Helper()
	ctx := context.Background()
	strikes, err := getOrCreateStrikes(ctx, s.writeDB, userID)
	require.NoError(t, err)
	_, err = s.writeDB.Updates(ctx, strikes, map[string]any{"strikes": n})
	require.NoError(t, err)
}

func TestStrikesOutOfSyncWithBan(t *testing.T) {
	tests := []struct {
		action  discordgo.AuditLogAction
		strikes int
		want    bool
	}{
		{action: discordgo.AuditLogActionMemberUpdate, strikes: 2},
		{action: discordgo.AuditLogActionMemberUpdate, strikes: 3, want: true},
		{action: discordgo.AuditLogActionMemberKick, strikes: 0},
		{action: discordgo.AuditLogActionMemberKick, strikes: 3, want: true},
		{action: discordgo.AuditLogActionMemberBanAdd, strikes: 3},
		{action: discordgo.AuditLogActionMemberBanAdd, strikes: 4, want: true},
	}
	for _, tc := range tests {
		assert.Equalf(
			t,
			tc.want,
			strikesOutOfSyncWithBan(tc.action, tc.strikes),
			"action %d with %d strikes",
			tc.action,
			tc.strikes,
		)
	}
}

func TestTrackManualModerationOutOfSyncWithBan(t *testing.T) {
	s, session := newTestSteward(t)
	actor := &discordgo.User{ID: "480000000000000040", Username: "moderator", GlobalName: "Mod"}
	target := testUser("480000000000000041", "repeat")
	setMemberStrikes(t, s, target.ID, 3)
	session.auditLog = &discordgo.GuildAuditLog{
		Users: []*discordgo.User{actor},
		AuditLogEntries: []*discordgo.AuditLogEntry{
			auditLogEntry(discordgo.AuditLogActionMemberKick, target.ID, actor.ID, time.Now()),
		},
	}

	require.NoError(t, s.trackManualModeration(context.Background(), target, discordgo.AuditLogActionMemberKick))

	assert.Equal(t, 3, memberStrikes(t, s, target.ID))
	assert.Empty(t, session.sentDMs(target.ID))

	dms := session.sentDMs(actor.ID)
	require.Len(t, dms, 1)
	assert.Equal(
		t,
		"Hi Mod, I just noticed that you kicked <@480000000000000041>. "+
			"Because this moderation action was done manually "+
			"(rather than using my `/strike` command), I could not automatically "+
			"keep track of the moderation action to apply. "+
			"My records show that <@480000000000000041> previously had 3 strikes. "+
			"This suggests that <@480000000000000041> should be banned. "+
			"Would you like me to send them the moderation alert message "+
			"and perform this action for you?",
		dms[0].Content,
	)
	assert.Equal(
		t,
		[]string{
			newCustomID(customIDOutOfSyncBanConfirm, target.ID, actor.ID, outOfSyncActorUser),
			newCustomID(customIDOutOfSyncBanCancel, target.ID, actor.ID, outOfSyncActorUser),
		},
		[]string{
			firstButtonCustomID(dms[0].Components),
			dms[0].Components[0].(discordgo.ActionsRow).Components[1].(discordgo.Button).CustomID,
		},
	)
}

func TestTrackManualModerationOutOfSyncBotActor(t *testing.T) {
	s, session := newTestSteward(t)
	s.config.Group.ManualModerationWarningMessageLocation = "mod-log"
	actor := &discordgo.User{ID: "480000000000000042", Username: "otherbot", Bot: true}
	target := testUser("480000000000000043", "repeat")
	setMemberStrikes(t, s, target.ID, 4)
	session.auditLog = &discordgo.GuildAuditLog{
		Users: []*discordgo.User{actor},
		AuditLogEntries: []*discordgo.AuditLogEntry{
			auditLogEntry(discordgo.AuditLogActionMemberBanAdd, target.ID, actor.ID, time.Now()),
		},
	}

	require.NoError(t, s.trackManualModeration(context.Background(), target, discordgo.AuditLogActionMemberBanAdd))

	sent := session.sentTo(testModLogID)
	require.Len(t, sent, 1)
	assert.Contains(
		t,
		sent[0].Content,
		"Hi <@&"+testCommitteeID+">, I just noticed that one of your other bots "+
			"(namely <@480000000000000042>) banned <@480000000000000043>.",
	)
	assert.Equal(
		t,
		newCustomID(customIDOutOfSyncBanConfirm, target.ID, actor.ID, outOfSyncActorBot),
		firstButtonCustomID(sent[0].Components),
	)
}

func TestOutOfSyncBanButtons(t *testing.T) {
	actor := testUser("480000000000000050", "moderator")
	target := testUser("480000000000000051", "repeat")
	committee := testUser("480000000000000052", "committee")
	guest := testUser("480000000000000053", "guest")

	tests := []struct {
		name       string
		customID   string
		presser    *discordgo.User
		wantPrefix string
		wantBan    bool
	}{
		{
			name:       "confirm",
			customID:   newCustomID(customIDOutOfSyncBanConfirm, target.ID, actor.ID, outOfSyncActorUser),
			presser:    actor,
			wantPrefix: "Successfully banned <@480000000000000051>.\n**Please ensure you use the `/strike` command in future!**",
			wantBan:    true,
		},
		{
			name:       "cancel",
			customID:   newCustomID(customIDOutOfSyncBanCancel, target.ID, actor.ID, outOfSyncActorUser),
			presser:    actor,
			wantPrefix: "Aborted performing ban action upon <@480000000000000051>. (This manual moderation action has not been tracked.)",
		},
		{
			name:       "someone else",
			customID:   newCustomID(customIDOutOfSyncBanConfirm, target.ID, actor.ID, outOfSyncActorUser),
			presser:    committee,
			wantPrefix: ":warning:There was an error when trying to give the user an additional strike:",
		},
		{
			name:       "committee for a bot",
			customID:   newCustomID(customIDOutOfSyncBanConfirm, target.ID, "480000000000000054", outOfSyncActorBot),
			presser:    committee,
			wantPrefix: "Successfully banned <@480000000000000051>.",
			wantBan:    true,
		},
		{
			name:       "guest for a bot",
			customID:   newCustomID(customIDOutOfSyncBanCancel, target.ID, "480000000000000054", outOfSyncActorBot),
			presser:    guest,
			wantPrefix: ":warning:There was an error when trying to give the user an additional strike:",
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				s, session := newTestSteward(t)
				session.addMember(actor.ID, actor.Username, testCommitteeID)
				session.addMember(committee.ID, committee.Username, testCommitteeID)
				session.addMember(guest.ID, guest.Username, testGuestID)
				session.addMember(target.ID, target.Username, testGuestID)
				setMemberStrikes(t, s, target.ID, 3)

				h := runInteraction(t, s, newComponentInteraction(tc.presser, tc.customID, nil))
				resp := h.lastResponse(t)
				assert.Truef(t, strings.HasPrefix(resp, tc.wantPrefix), "response %q", resp)

				if !tc.wantBan {
					assert.Empty(t, session.bans)
					assert.Empty(t, session.sentDMs(target.ID))
					return
				}
				assert.Equal(t, []string{target.ID}, session.bans)
				dms := session.sentDMs(target.ID)
				require.Len(t, dms, 1)
				assert.Contains(t, dms[0].Content, "you have been banned from the TS Discord server")
			},
		)
	}
}
