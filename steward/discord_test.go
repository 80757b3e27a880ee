package steward

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
)

const (
	testGuildID       = "100000000000000001"
	testAppID         = "100000000000000002"
	testBotUserID     = "100000000000000003"
	testCommitteeID   = "200000000000000001"
	testGuestID       = "200000000000000002"
	testMemberRoleID  = "200000000000000003"
	testArchivistID   = "200000000000000004"
	testApplicantID   = "200000000000000005"
	testNewsRoleID    = "200000000000000006"
	testYearRoleID    = "200000000000000007"
	testGeneralID     = "300000000000000001"
	testRolesID       = "300000000000000002"
	testIntrosID      = "300000000000000003"
	testCategoryID    = "300000000000000004"
	testCategoryTxtID = "300000000000000005"
	testModLogID      = "300000000000000006"
)

var testBotUser = &discordgo.User{ID: testBotUserID, Username: "steward", Bot: true}

// restError builds a discord REST error with the given HTTP status
func restError(status int, code int) *discordgo.RESTError {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status, Status: http.StatusText(status)},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: http.StatusText(status)},
	}
}

type roleChange struct {
	UserID string
	RoleID string
}

type sentMessage struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

type permissionSet struct {
	ChannelID  string
	TargetID   string
	TargetType discordgo.PermissionOverwriteType
	Allow      int64
	Deny       int64
}

type channelEdit struct {
	ChannelID string
	Edit      *discordgo.ChannelEdit
}

type reaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// mockDiscordSession implements DiscordSessionHandler in memory. Calls that
// change guild state update it, and are recorded.
type mockDiscordSession struct {
	mu sync.Mutex

	guild     *discordgo.Guild
	roles     []*discordgo.Role
	channels  []*discordgo.Channel
	members   map[string]*discordgo.Member
	emojis    []*discordgo.Emoji
	auditLog  *discordgo.GuildAuditLog
	messages  map[string][]*discordgo.Message // newest first
	dmChannel map[string]*discordgo.Channel
	nextID    int64

	// errors returned by the named method
	errs map[string]error

	roleAdds       []roleChange
	roleRemoves    []roleChange
	kicks          []string
	bans           []string
	timeouts       map[string]*time.Time
	permissionSets []permissionSet
	permissionDels []string
	channelEdits   []channelEdit
	createdChans   []*discordgo.Channel
	sent           []sentMessage
	edited         []*discordgo.MessageEdit
	deleted        []string
	reactions      []reaction
	webhookPosts   []*discordgo.WebhookParams
	overwritten    []*discordgo.ApplicationCommand
	statuses       []discordgo.UpdateStatusData
	responses      []*discordgo.InteractionResponse
	responseEdits  []*discordgo.WebhookEdit
}

func newMockDiscordSession() *mockDiscordSession {
	perm := func(bits int64) int64 { return bits }
	return &mockDiscordSession{
		guild: &discordgo.Guild{ID: testGuildID, Name: "Test Society"},
		roles: []*discordgo.Role{
			{ID: testGuildID, Name: "@everyone", Permissions: perm(discordgo.PermissionViewChannel)},
			{ID: testCommitteeID, Name: roleNameCommittee},
			{ID: testGuestID, Name: roleNameGuest},
			{ID: testMemberRoleID, Name: roleNameMember},
			{ID: testArchivistID, Name: roleNameArchivist},
			{ID: testApplicantID, Name: roleNameApplicant},
			{ID: testNewsRoleID, Name: "News"},
			{ID: testYearRoleID, Name: "First Year"},
		},
		channels: []*discordgo.Channel{
			{
				ID:      testGeneralID,
				GuildID: testGuildID,
				Name:    channelNameGeneral,
				Type:    discordgo.ChannelTypeGuildText,
				PermissionOverwrites: []*discordgo.PermissionOverwrite{
					{
						ID:    testGuestID,
						Type:  discordgo.PermissionOverwriteTypeRole,
						Allow: discordgo.PermissionSendMessages | discordgo.PermissionViewChannel,
					},
				},
			},
			{ID: testRolesID, GuildID: testGuildID, Name: channelNameRoles, Type: discordgo.ChannelTypeGuildText},
			{ID: testIntrosID, GuildID: testGuildID, Name: channelNameIntroductions, Type: discordgo.ChannelTypeGuildText},
			{ID: testModLogID, GuildID: testGuildID, Name: "mod-log", Type: discordgo.ChannelTypeGuildText},
			{ID: testCategoryID, GuildID: testGuildID, Name: "Old Events", Type: discordgo.ChannelTypeGuildCategory},
			{
				ID:       testCategoryTxtID,
				GuildID:  testGuildID,
				Name:     "old-event-chat",
				Type:     discordgo.ChannelTypeGuildText,
				ParentID: testCategoryID,
			},
		},
		members:   map[string]*discordgo.Member{},
		messages:  map[string][]*discordgo.Message{},
		dmChannel: map[string]*discordgo.Channel{},
		timeouts:  map[string]*time.Time{},
		errs:      map[string]error{},
		auditLog:  &discordgo.GuildAuditLog{},
		nextID:    900000000000000000,
	}
}

func (m *mockDiscordSession) newID() string {
	m.nextID++
	return strconv.FormatInt(m.nextID, 10)
}

func (m *mockDiscordSession) err(method string) error {
	return m.errs[method]
}

// setError makes the named method return err
func (m *mockDiscordSession) setError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[method] = err
}

// addMember adds a guild member holding the given role IDs
func (m *mockDiscordSession) addMember(id string, username string, roleIDs ...string) *discordgo.Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	member := &discordgo.Member{
		GuildID:  testGuildID,
		User:     &discordgo.User{ID: id, Username: username},
		Roles:    append([]string{}, roleIDs...),
		JoinedAt: time.Now().Add(-time.Hour),
	}
	m.members[id] = member
	return member
}

// addMessage adds a message to the top of the channel's history
func (m *mockDiscordSession) addMessage(channelID string, author *discordgo.User, content string, ts time.Time) *discordgo.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &discordgo.Message{
		ID:        m.newID(),
		ChannelID: channelID,
		GuildID:   testGuildID,
		Author:    author,
		Content:   content,
		Timestamp: ts,
	}
	m.messages[channelID] = append([]*discordgo.Message{msg}, m.messages[channelID]...)
	return msg
}

func (m *mockDiscordSession) member(id string) *discordgo.Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[id]
}

// channel returns the channel with the given ID, or nil
func (m *mockDiscordSession) channel(id string) *discordgo.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *mockDiscordSession) sentTo(channelID string) []*discordgo.MessageSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sent []*discordgo.MessageSend
	for _, s := range m.sent {
		if s.ChannelID == channelID {
			sent = append(sent, s.Message)
		}
	}
	return sent
}

// sentDMs returns the messages sent to the user's DM channel
func (m *mockDiscordSession) sentDMs(userID string) []*discordgo.MessageSend {
	m.mu.Lock()
	ch, ok := m.dmChannel[userID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.sentTo(ch.ID)
}

func (m *mockDiscordSession) Open() error  { return m.err("Open") }
func (m *mockDiscordSession) Close() error { return nil }

func (m *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (m *mockDiscordSession) SetIdentify(discordgo.Identify) {}

func (m *mockDiscordSession) SetLogLevel(slog.Level) error { return nil }

func (m *mockDiscordSession) SetHTTPClient(*http.Client) {}

func (m *mockDiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, data)
	return nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("ApplicationCommandBulkOverwrite"); err != nil {
		return nil, err
	}
	m.overwritten = commands
	created := make([]*discordgo.ApplicationCommand, len(commands))
	for i, c := range commands {
		created[i] = &discordgo.ApplicationCommand{ID: m.newID(), Name: c.Name, Type: c.Type}
	}
	return created, nil
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	edit *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseEdits = append(m.responseEdits, edit)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) InteractionResponseDelete(
	_ *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) error {
	return nil
}

func (m *mockDiscordSession) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("Guild"); err != nil {
		return nil, err
	}
	if guildID != m.guild.ID {
		return nil, restError(http.StatusNotFound, 10004)
	}
	return m.guild, nil
}

func (m *mockDiscordSession) GuildRoles(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if guildID != m.guild.ID {
		return nil, restError(http.StatusNotFound, 10004)
	}
	return slices.Clone(m.roles), nil
}

func (m *mockDiscordSession) GuildChannels(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if guildID != m.guild.ID {
		return nil, restError(http.StatusNotFound, 10004)
	}
	return slices.Clone(m.channels), nil
}

func (m *mockDiscordSession) GuildEmojis(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Emoji, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.emojis), nil
}

func (m *mockDiscordSession) GuildMember(
	_ string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[userID]
	if !ok {
		return nil, restError(http.StatusNotFound, discordErrorCodeUnknownMember)
	}
	cp := *member
	cp.Roles = slices.Clone(member.Roles)
	return &cp, nil
}

func (m *mockDiscordSession) GuildMembers(
	_ string,
	after string,
	limit int,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.members))
	for id := range m.members {
		if after == "" || id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	page := make([]*discordgo.Member, len(ids))
	for i, id := range ids {
		cp := *m.members[id]
		cp.Roles = slices.Clone(m.members[id].Roles)
		page[i] = &cp
	}
	return page, nil
}

func (m *mockDiscordSession) GuildMemberRoleAdd(_, userID, roleID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("GuildMemberRoleAdd"); err != nil {
		return err
	}
	member, ok := m.members[userID]
	if !ok {
		return restError(http.StatusNotFound, discordErrorCodeUnknownMember)
	}
	if !slices.Contains(member.Roles, roleID) {
		member.Roles = append(member.Roles, roleID)
	}
	m.roleAdds = append(m.roleAdds, roleChange{UserID: userID, RoleID: roleID})
	return nil
}

func (m *mockDiscordSession) GuildMemberRoleRemove(_, userID, roleID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if member, ok := m.members[userID]; ok {
		member.Roles = slices.DeleteFunc(member.Roles, func(id string) bool { return id == roleID })
	}
	m.roleRemoves = append(m.roleRemoves, roleChange{UserID: userID, RoleID: roleID})
	return nil
}

func (m *mockDiscordSession) GuildMemberDeleteWithReason(_, userID, _ string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("GuildMemberDeleteWithReason"); err != nil {
		return err
	}
	delete(m.members, userID)
	m.kicks = append(m.kicks, userID)
	return nil
}

func (m *mockDiscordSession) GuildBanCreateWithReason(
	_, userID, _ string,
	_ int,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, userID)
	m.bans = append(m.bans, userID)
	return nil
}

func (m *mockDiscordSession) GuildMemberTimeout(
	_ string,
	userID string,
	until *time.Time,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts[userID] = until
	if member, ok := m.members[userID]; ok {
		member.CommunicationDisabledUntil = until
	}
	return nil
}

func (m *mockDiscordSession) GuildAuditLog(
	_, userID, beforeID string,
	actionType, limit int,
	_ ...discordgo.RequestOption,
) (*discordgo.GuildAuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("GuildAuditLog"); err != nil {
		return nil, err
	}
	log := &discordgo.GuildAuditLog{Users: m.auditLog.Users}
	for _, e := range m.auditLog.AuditLogEntries {
		if beforeID != "" && e.ID >= beforeID {
			continue
		}
		if userID != "" && e.UserID != userID {
			continue
		}
		if actionType != 0 && (e.ActionType == nil || int(*e.ActionType) != actionType) {
			continue
		}
		log.AuditLogEntries = append(log.AuditLogEntries, e)
		if len(log.AuditLogEntries) == limit {
			break
		}
	}
	return log, nil
}

func (m *mockDiscordSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		if c.ID == channelID {
			return c, nil
		}
	}
	for _, c := range m.dmChannel {
		if c.ID == channelID {
			return c, nil
		}
	}
	return nil, restError(http.StatusNotFound, 10003)
}

func (m *mockDiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID, _, _ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("ChannelMessages:" + channelID); err != nil {
		return nil, err
	}
	history := m.messages[channelID]
	start := 0
	if beforeID != "" {
		start = len(history)
		for i, msg := range history {
			if msg.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(history))
	if start >= end {
		return []*discordgo.Message{}, nil
	}
	return slices.Clone(history[start:end]), nil
}

func (m *mockDiscordSession) ChannelMessage(
	channelID, messageID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[channelID] {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return nil, restError(http.StatusNotFound, 10008)
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return m.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: content}, options...)
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("ChannelMessageSend:" + channelID); err != nil {
		return nil, err
	}
	m.sent = append(m.sent, sentMessage{ChannelID: channelID, Message: data})
	msg := &discordgo.Message{
		ID:         m.newID(),
		ChannelID:  channelID,
		Content:    data.Content,
		Author:     testBotUser,
		Timestamp:  time.Now(),
		Components: data.Components,
	}
	m.messages[channelID] = append([]*discordgo.Message{msg}, m.messages[channelID]...)
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageEdit(
	channelID, messageID, content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content)
	return m.ChannelMessageEditComplex(edit, options...)
}

func (m *mockDiscordSession) ChannelMessageEditComplex(
	edit *discordgo.MessageEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited = append(m.edited, edit)
	for _, msg := range m.messages[edit.Channel] {
		if msg.ID == edit.ID {
			if edit.Content != nil {
				msg.Content = *edit.Content
			}
			if edit.Components != nil {
				msg.Components = *edit.Components
			}
			return msg, nil
		}
	}
	return nil, restError(http.StatusNotFound, 10008)
}

func (m *mockDiscordSession) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	m.messages[channelID] = slices.DeleteFunc(
		m.messages[channelID],
		func(msg *discordgo.Message) bool { return msg.ID == messageID },
	)
	return nil
}

func (m *mockDiscordSession) ChannelPermissionSet(
	channelID, targetID string,
	targetType discordgo.PermissionOverwriteType,
	allow, deny int64,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissionSets = append(
		m.permissionSets,
		permissionSet{
			ChannelID:  channelID,
			TargetID:   targetID,
			TargetType: targetType,
			Allow:      allow,
			Deny:       deny,
		},
	)
	return nil
}

func (m *mockDiscordSession) ChannelEditComplex(
	channelID string,
	data *discordgo.ChannelEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("ChannelEditComplex"); err != nil {
		return nil, err
	}
	for _, c := range m.channels {
		if c.ID != channelID {
			continue
		}
		if data.Name != "" {
			c.Name = data.Name
		}
		if data.ParentID != "" {
			c.ParentID = data.ParentID
		}
		if data.PermissionOverwrites != nil {
			c.PermissionOverwrites = data.PermissionOverwrites
		}
		if data.Position != nil {
			c.Position = *data.Position
		}
		m.channelEdits = append(m.channelEdits, channelEdit{ChannelID: channelID, Edit: data})
		return c, nil
	}
	return nil, restError(http.StatusNotFound, 10003)
}

func (m *mockDiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("GuildChannelCreateComplex"); err != nil {
		return nil, err
	}
	ch := &discordgo.Channel{
		ID:                   m.newID(),
		GuildID:              guildID,
		Name:                 data.Name,
		Type:                 data.Type,
		ParentID:             data.ParentID,
		Position:             data.Position,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	m.channels = append(m.channels, ch)
	m.createdChans = append(m.createdChans, ch)
	return ch, nil
}

func (m *mockDiscordSession) ChannelPermissionDelete(channelID, targetID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissionDels = append(m.permissionDels, channelID+":"+targetID)
	return nil
}

func (m *mockDiscordSession) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, reaction{ChannelID: channelID, MessageID: messageID, Emoji: emojiID})
	return nil
}

func (m *mockDiscordSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("UserChannelCreate"); err != nil {
		return nil, err
	}
	if ch, ok := m.dmChannel[recipientID]; ok {
		return ch, nil
	}
	ch := &discordgo.Channel{
		ID:         m.newID(),
		Type:       discordgo.ChannelTypeDM,
		Recipients: []*discordgo.User{{ID: recipientID}},
	}
	m.dmChannel[recipientID] = ch
	return ch, nil
}

func (m *mockDiscordSession) WebhookExecute(
	_, _ string,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookPosts = append(m.webhookPosts, data)
	return &discordgo.Message{}, nil
}

// stubInteractionHandler implements InteractionHandler, capturing responses
type stubInteractionHandler struct {
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger

	callRespond chan *discordgo.InteractionResponse
	callEdit    chan *discordgo.WebhookEdit
	callDelete  chan struct{}
}

func newStubInteractionHandler(t testing.TB, i *discordgo.InteractionCreate) *stubInteractionHandler {
	t.Helper()
	return &stubInteractionHandler{
		interaction: i,
		logger:      slog.Default().With("test_name", t.Name()),
		callRespond: make(chan *discordgo.InteractionResponse, 100),
		callEdit:    make(chan *discordgo.WebhookEdit, 100),
		callDelete:  make(chan struct{}, 100),
	}
}

func (s *stubInteractionHandler) Respond(_ context.Context, r *discordgo.InteractionResponse) error {
	s.callRespond <- r
	return nil
}

func (s *stubInteractionHandler) Edit(
	_ context.Context,
	e *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.callEdit <- e
	return &discordgo.Message{}, nil
}

func (s *stubInteractionHandler) Delete(context.Context, ...discordgo.RequestOption) {
	s.callDelete <- struct{}{}
}

func (s *stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.interaction
}

func (s *stubInteractionHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return DiscordInteractionReceiveMethod("testcase")
}

func (s *stubInteractionHandler) Logger() *slog.Logger {
	return s.logger
}

// responses drains every captured response and edit, returning the
// content of each in order
func (s *stubInteractionHandler) responses() []string {
	var contents []string
	for {
		select {
		case r := <-s.callRespond:
			if r.Data != nil {
				contents = append(contents, r.Data.Content)
			}
		default:
			for {
				select {
				case e := <-s.callEdit:
					if e.Content != nil {
						contents = append(contents, *e.Content)
					}
				default:
					return contents
				}
			}
		}
	}
}

// lastResponse returns the content the user would see last
func (s *stubInteractionHandler) lastResponse(t testing.TB) string {
	t.Helper()
	contents := s.responses()
	if len(contents) == 0 {
		t.Fatalf("no responses captured")
	}
	return contents[len(contents)-1]
}

func testUser(id string, username string) *discordgo.User {
	return &discordgo.User{ID: id, Username: username}
}

func stringOption(name string, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func boolOption(name string, value bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionBoolean,
		Value: value,
	}
}

func subcommand(
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:    name,
		Type:    discordgo.ApplicationCommandOptionSubCommand,
		Options: options,
	}
}

var testInteractionSeq int

func newTestInteraction(user *discordgo.User, typ discordgo.InteractionType, data discordgo.InteractionData) *discordgo.InteractionCreate {
	testInteractionSeq++
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        fmt.Sprintf("8%017d", testInteractionSeq),
			AppID:     testAppID,
			Type:      typ,
			GuildID:   testGuildID,
			ChannelID: testGeneralID,
			Member:    &discordgo.Member{User: user},
			Data:      data,
			Token:     "token",
			Version:   1,
		},
	}
}

func newSlashInteraction(
	user *discordgo.User,
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return newTestInteraction(
		user,
		discordgo.InteractionApplicationCommand,
		discordgo.ApplicationCommandInteractionData{
			Name:        name,
			CommandType: discordgo.ChatApplicationCommand,
			Options:     options,
		},
	)
}

func newUserCommandInteraction(user *discordgo.User, name string, target *discordgo.User) *discordgo.InteractionCreate {
	return newTestInteraction(
		user,
		discordgo.InteractionApplicationCommand,
		discordgo.ApplicationCommandInteractionData{
			Name:        name,
			CommandType: discordgo.UserApplicationCommand,
			TargetID:    target.ID,
			Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
				Users: map[string]*discordgo.User{target.ID: target},
			},
		},
	)
}

func newMessageCommandInteraction(user *discordgo.User, name string, msg *discordgo.Message) *discordgo.InteractionCreate {
	return newTestInteraction(
		user,
		discordgo.InteractionApplicationCommand,
		discordgo.ApplicationCommandInteractionData{
			Name:        name,
			CommandType: discordgo.MessageApplicationCommand,
			TargetID:    msg.ID,
			Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
				Messages: map[string]*discordgo.Message{msg.ID: msg},
			},
		},
	)
}

func newComponentInteraction(user *discordgo.User, customID string, msg *discordgo.Message) *discordgo.InteractionCreate {
	i := newTestInteraction(
		user,
		discordgo.InteractionMessageComponent,
		discordgo.MessageComponentInteractionData{
			CustomID:      customID,
			ComponentType: discordgo.ButtonComponent,
		},
	)
	if msg == nil {
		msg = &discordgo.Message{ID: "700000000000000001", ChannelID: testGeneralID}
	}
	i.Message = msg
	return i
}

func newAutocompleteInteraction(
	user *discordgo.User,
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return newTestInteraction(
		user,
		discordgo.InteractionApplicationCommandAutocomplete,
		discordgo.ApplicationCommandInteractionData{
			Name:        name,
			CommandType: discordgo.ChatApplicationCommand,
			Options:     options,
		},
	)
}

// runInteraction handles i synchronously, returning the handler that
// captured the responses
func runInteraction(t testing.TB, s *Steward, i *discordgo.InteractionCreate) *stubInteractionHandler {
	t.Helper()
	h := newStubInteractionHandler(t, i)
	s.handleInteraction(context.Background(), h)
	return h
}
