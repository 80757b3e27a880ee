package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const (
	kickNoIntroductionMembersInterval = 24 * time.Hour

	// introductionReminderGracePeriod is the minimum time a member is left
	// alone after joining, before being reminded to introduce themselves
	introductionReminderGracePeriod = 24 * time.Hour

	introductionReminderHistoryLimit = 50
	auditLogPageSize                 = 100
	auditLogMaxPages                 = 10
	auditLogChangeRolesAdded         = "$add"
)

// getRolesReminderOptInRoles are the self-assignable roles. Members with
// none of them are reminded to visit #roles.
var getRolesReminderOptInRoles = []string{
	"he / him",
	"she / her",
	"they / them",
	"neopronouns",
	"foundation year",
	"first year",
	"second year",
	"final year",
	"year in industry",
	"year abroad",
	"pgt",
	"pgr",
	"joint honours",
	"alumnus/alumna",
	"postdoc",
	"serious talk",
	"housing",
	"gaming",
	"anime",
	"sport",
	"food",
	"industry",
	"minecraft",
	"github",
	"archivist",
	"rate my meal",
	"website",
	"student rep",
}

// scheduledTask is a function run on an interval once the bot is ready.
// Returning an error stops every task, and the bot.
type scheduledTask struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func (s *Steward) scheduledTasks() []scheduledTask {
	tasks := []scheduledTask{
		{
			name:     taskClearRemindersBacklog,
			interval: reminderBacklogInterval,
			run:      s.clearRemindersBacklog,
		},
	}
	if s.config.SendIntroductionReminders.Enabled() {
		tasks = append(
			tasks, scheduledTask{
				name:     taskSendIntroductionReminders,
				interval: s.config.SendIntroductionRemindersInterval.Duration(),
				run:      s.sendIntroductionReminders,
			},
		)
	}
	if s.config.KickNoIntroductionMembers {
		tasks = append(
			tasks, scheduledTask{
				name:     taskKickNoIntroductionMembers,
				interval: kickNoIntroductionMembersInterval,
				run:      s.kickNoIntroductionMembers,
			},
		)
	}
	if s.config.SendGetRolesReminders {
		tasks = append(
			tasks, scheduledTask{
				name:     taskSendGetRolesReminders,
				interval: s.config.SendGetRolesRemindersInterval.Duration(),
				run:      s.sendGetRolesReminders,
			},
		)
	}
	return tasks
}

// runTasks runs every enabled scheduled task until ctx is cancelled. Each
// task runs once immediately, then on its interval. Tasks are skipped
// while the bot is paused. The first critical error stops all tasks and
// is returned.
func (s *Steward) runTasks(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	logger := s.logger.With(loggerNameKey, "tasks")

	for _, task := range s.scheduledTasks() {
		taskLogger := logger.With("task", task.name)
		taskCtx := WithLogger(ctx, taskLogger)

		g.Go(
			func() error {
				if !s.waitReady(taskCtx) {
					return nil
				}
				taskLogger.InfoContext(taskCtx, "task started", "interval", task.interval)
				ticker := time.NewTicker(task.interval)
				defer ticker.Stop()

				for {
					if !s.paused.Load() {
						if err := s.runTask(taskCtx, task); err != nil {
							return err
						}
					}
					select {
					case <-taskCtx.Done():
						taskLogger.InfoContext(taskCtx, "task stopped")
						return nil
					case <-ticker.C:
					}
				}
			},
		)
	}
	return g.Wait()
}

// runTask runs a single iteration of task. Critical errors (and missing
// guild entities, which can't be fixed without a restart) are returned,
// anything else is logged.
func (s *Steward) runTask(ctx context.Context, task scheduledTask) (err error) {
	_, logger := s.getLogger(ctx)
	defer func() {
		if rc := recover(); rc != nil {
			s.handleRecover(ctx, rc)
		}
	}()

	start := s.now()
	err = task.run(ctx)
	var (
		dne      *DoesNotExistError
		critical *CriticalError
	)
	switch {
	case err == nil:
		logger.DebugContext(ctx, "task finished", "duration", time.Since(start))
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	case errors.As(err, &dne), errors.As(err, &critical):
		return err
	default:
		logger.ErrorContext(ctx, "task failed", tint.Err(err))
		return nil
	}
}

// waitDMLimiter blocks until another direct message may be sent
func (s *Steward) waitDMLimiter(ctx context.Context) error {
	return s.dmLimiter.Wait(ctx)
}

// introductionReminderMessage is the DM sent to members who haven't
// introduced themselves
func (s *Steward) introductionReminderMessage(ctx context.Context) string {
	return fmt.Sprintf(
		"Hey! It seems like you joined the %s Discord server but have not yet "+
			"introduced yourself.\nYou will only get access to the rest of the "+
			"server after sending an introduction message.",
		s.groupShortName(ctx),
	)
}

func optOutIntroductionRemindersButton() discordgo.Button {
	return discordgo.Button{
		Label:    "Opt-out of introduction reminders",
		Style:    discordgo.DangerButton,
		CustomID: customIDOptOutIntroductionReminder,
		Emoji:    &discordgo.ComponentEmoji{Name: "🙅"},
	}
}

// firstButtonCustomID returns the custom ID of the first button in the
// given action rows, or an empty string
func firstButtonCustomID(components []discordgo.MessageComponent) string {
	for _, component := range components {
		var row []discordgo.MessageComponent
		switch c := component.(type) {
		case discordgo.ActionsRow:
			row = c.Components
		case *discordgo.ActionsRow:
			row = c.Components
		}
		for _, item := range row {
			switch b := item.(type) {
			case discordgo.Button:
				return b.CustomID
			case *discordgo.Button:
				return b.CustomID
			}
		}
	}
	return ""
}

func optInIntroductionRemindersButton() discordgo.Button {
	return discordgo.Button{
		Label:    "Opt back in to introduction reminders",
		Style:    discordgo.SuccessButton,
		CustomID: customIDOptInIntroductionReminder,
		Emoji:    &discordgo.ComponentEmoji{Name: "✋"},
	}
}

// needsIntroductionReminder reports whether an uninducted member should
// be sent an introduction reminder
func needsIntroductionReminder(
	mode IntroductionReminderMode,
	sinceJoined time.Duration,
	kickDelay time.Duration,
	sentOneOff bool,
	optedOut bool,
) bool {
	if optedOut || !mode.Enabled() {
		return false
	}
	if mode == IntroductionRemindersOnce && sentOneOff {
		return false
	}
	return sinceJoined > max(kickDelay/3, introductionReminderGracePeriod)
}

func (s *Steward) sendIntroductionReminders(ctx context.Context) error {
	_, logger := s.getLogger(ctx)

	if _, err := s.mainGuild(ctx); err != nil {
		return err
	}
	roles, err := s.guildRoles(ctx)
	if err != nil {
		return err
	}
	members, err := s.allMembers(ctx)
	if err != nil {
		return err
	}

	optedOut, err := hashedMemberIDSet[IntroductionReminderOptOutMember](ctx, s.db)
	if err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}
	sentOneOff, err := hashedMemberIDSet[SentOneOffIntroductionReminderMember](ctx, s.db)
	if err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}

	byID := rolesByID(roles)
	mode := s.config.SendIntroductionReminders
	now := s.now()
	sent := 0

	for _, member := range members {
		if member.User == nil || member.User.Bot || member.JoinedAt.IsZero() {
			continue
		}
		if isMemberInducted(member, byID) {
			continue
		}
		hashed, hashErr := hashDiscordID(member.User.ID)
		if hashErr != nil {
			continue
		}
		_, hasOptedOut := optedOut[hashed]
		_, hasSentOneOff := sentOneOff[hashed]
		if !needsIntroductionReminder(
			mode,
			now.Sub(member.JoinedAt),
			s.config.KickNoIntroductionMembersDelay,
			hasSentOneOff,
			hasOptedOut,
		) {
			continue
		}

		if err = s.waitDMLimiter(ctx); err != nil {
			return err
		}
		if err = s.sendIntroductionReminder(ctx, member); err != nil {
			if isForbidden(err) {
				logger.InfoContext(
					ctx,
					"unable to send introduction reminder",
					slog.Group("user", userLogAttrs(member.User)...),
				)
			} else {
				logger.ErrorContext(
					ctx,
					"error sending introduction reminder",
					slog.Group("user", userLogAttrs(member.User)...),
					tint.Err(err),
				)
				continue
			}
		} else {
			sent++
		}

		if mode == IntroductionRemindersOnce {
			if _, err = s.writeDB.Create(
				ctx,
				&SentOneOffIntroductionReminderMember{HashedMemberID: hashed},
			); err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
				logger.ErrorContext(ctx, "error recording sent reminder", tint.Err(err))
			}
		}
	}
	logger.InfoContext(ctx, "sent introduction reminders", "count", sent)
	return nil
}

// sendIntroductionReminder DMs the reminder, first removing the opt-out
// button from any earlier reminders so only the latest one has it. Other
// bot messages keep their components.
func (s *Steward) sendIntroductionReminder(ctx context.Context, member *discordgo.Member) error {
	dm, err := s.discord.session.UserChannelCreate(member.User.ID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}

	history, err := s.discord.session.ChannelMessages(
		dm.ID,
		introductionReminderHistoryLimit,
		"", "", "",
		discordgo.WithContext(ctx),
	)
	if err != nil && !isForbidden(err) {
		return err
	}
	empty := []discordgo.MessageComponent{}
	for _, m := range history {
		if m.Author == nil || m.Author.ID != s.discord.botUserID() ||
			firstButtonCustomID(m.Components) != customIDOptOutIntroductionReminder {
			continue
		}
		if _, err = s.discord.session.ChannelMessageEditComplex(
			&discordgo.MessageEdit{
				ID:         m.ID,
				Channel:    dm.ID,
				Components: &empty,
			},
			discordgo.WithContext(ctx),
		); err != nil {
			return err
		}
	}

	msg := &discordgo.MessageSend{Content: s.introductionReminderMessage(ctx)}
	if s.config.SendIntroductionReminders == IntroductionRemindersInterval {
		msg.Components = ephemeralButtonRow(optOutIntroductionRemindersButton())
	}
	_, err = s.discord.session.ChannelMessageSendComplex(dm.ID, msg, discordgo.WithContext(ctx))
	return err
}

// introductionReminderButtonMember checks the button was pressed by a
// member of the main guild
func introductionReminderButtonMember(c *commandContext, purpose string) error {
	if _, err := c.s.mainGuildMember(c.ctx, c.user.ID); err != nil {
		if errors.Is(err, errMemberNotInMainGuild) {
			return userError(
				"You must be a member of the %s Discord server to %s.",
				c.s.groupShortName(c.ctx),
				purpose,
			)
		}
		return err
	}
	return nil
}

func handleOptOutIntroductionRemindersButton(c *commandContext, _ []string) error {
	c.activity = "opt_out_introduction_reminders"
	if err := introductionReminderButtonMember(c, "opt-out of introduction reminders"); err != nil {
		return err
	}
	hashed, err := hashDiscordID(c.user.ID)
	if err != nil {
		return err
	}
	if _, err = c.s.writeDB.Create(
		c.ctx,
		&IntroductionReminderOptOutMember{HashedMemberID: hashed},
	); err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}
	c.logger.InfoContext(c.ctx, "member opted out of introduction reminders")
	return c.update(
		interactionMessageContent(c.interaction),
		ephemeralButtonRow(optInIntroductionRemindersButton())...,
	)
}

func handleOptInIntroductionRemindersButton(c *commandContext, _ []string) error {
	c.activity = "opt_in_introduction_reminders"
	if err := introductionReminderButtonMember(c, "opt back in to introduction reminders"); err != nil {
		return err
	}
	if _, err := deleteMemberRecords[IntroductionReminderOptOutMember](
		c.ctx,
		c.s.writeDB,
		c.user.ID,
	); err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}
	c.logger.InfoContext(c.ctx, "member opted back in to introduction reminders")
	return c.update(
		interactionMessageContent(c.interaction),
		ephemeralButtonRow(optOutIntroductionRemindersButton())...,
	)
}

func interactionMessageContent(i *discordgo.InteractionCreate) string {
	if i.Message == nil {
		return ""
	}
	return i.Message.Content
}

// describeDelay renders d for display, ex: "5 days"
func describeDelay(d time.Duration) string {
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}

func (s *Steward) kickNoIntroductionMembers(ctx context.Context) error {
	_, logger := s.getLogger(ctx)

	if _, err := s.mainGuild(ctx); err != nil {
		return err
	}
	guest, err := s.role(ctx, roleNameGuest)
	if err != nil {
		return err
	}
	members, err := s.allMembers(ctx)
	if err != nil {
		return err
	}

	delay := s.config.KickNoIntroductionMembersDelay
	reason := "Member was in server without introduction sent for longer than " + describeDelay(delay)
	now := s.now()
	kicked := 0

	for _, member := range members {
		if member.User == nil || member.User.Bot || hasRole(member, guest) {
			continue
		}
		if member.JoinedAt.IsZero() || now.Sub(member.JoinedAt) <= delay {
			continue
		}
		if err = s.discord.session.GuildMemberDeleteWithReason(
			s.config.Discord.GuildID,
			member.User.ID,
			reason,
			discordgo.WithContext(ctx),
			discordgo.WithAuditLogReason(reason),
		); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.ErrorContext(
				ctx,
				"Member could not be kicked due to lack of introduction",
				slog.Group("user", userLogAttrs(member.User)...),
				tint.Err(err),
			)
			continue
		}
		kicked++
	}
	logger.InfoContext(ctx, "kicked members without introduction", "count", kicked)
	return nil
}

// hasOptInRole reports whether any of the role names is an opt-in role
func hasOptInRole(roleNames []string) bool {
	for _, name := range roleNames {
		if slices.Contains(getRolesReminderOptInRoles, strings.ToLower(name)) {
			return true
		}
	}
	return false
}

// auditLogAddedRole reports whether the audit log entry added roleID
func auditLogAddedRole(entry *discordgo.AuditLogEntry, roleID string) bool {
	for _, change := range entry.Changes {
		if change.Key == nil || string(*change.Key) != auditLogChangeRolesAdded {
			continue
		}
		added, ok := change.NewValue.([]any)
		if !ok {
			continue
		}
		for _, r := range added {
			if role, isMap := r.(map[string]any); isMap && role["id"] == roleID {
				return true
			}
		}
	}
	return false
}

// recentGuestGrants returns the IDs of members given the Guest role since
// cutoff, according to the audit log
func (s *Steward) recentGuestGrants(
	ctx context.Context,
	guestRoleID string,
	cutoff time.Time,
) (map[string]struct{}, error) {
	granted := map[string]struct{}{}
	before := ""
	for range auditLogMaxPages {
		auditLog, err := s.discord.session.GuildAuditLog(
			s.config.Discord.GuildID,
			"",
			before,
			int(discordgo.AuditLogActionMemberRoleUpdate),
			auditLogPageSize,
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return granted, err
		}
		for _, entry := range auditLog.AuditLogEntries {
			created, tsErr := discordgo.SnowflakeTimestamp(entry.ID)
			if tsErr == nil && created.Before(cutoff) {
				return granted, nil
			}
			if auditLogAddedRole(entry, guestRoleID) {
				granted[entry.TargetID] = struct{}{}
			}
		}
		if len(auditLog.AuditLogEntries) < auditLogPageSize {
			return granted, nil
		}
		before = auditLog.AuditLogEntries[len(auditLog.AuditLogEntries)-1].ID
	}
	return granted, nil
}

// getRolesReminderMessage is the DM sent to inducted members without any
// opt-in roles
func (s *Steward) getRolesReminderMessage(ctx context.Context) string {
	return fmt.Sprintf(
		"Hey! It seems like you have been given the `@Guest` role on the %s Discord "+
			"server but have not yet nabbed yourself any opt-in roles.\n"+
			"You can head to %s and click on the icons to get optional roles like "+
			"pronouns and year group identifiers.",
		s.groupShortName(ctx),
		s.channelMention(ctx, channelNameRoles),
	)
}

func (s *Steward) sendGetRolesReminders(ctx context.Context) error {
	_, logger := s.getLogger(ctx)

	if _, err := s.mainGuild(ctx); err != nil {
		return err
	}
	guest, err := s.role(ctx, roleNameGuest)
	if err != nil {
		return err
	}
	roles, err := s.guildRoles(ctx)
	if err != nil {
		return err
	}
	members, err := s.allMembers(ctx)
	if err != nil {
		return err
	}
	alreadySent, err := hashedMemberIDSet[SentGetRolesReminderMember](ctx, s.db)
	if err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}

	recentlyGranted, err := s.recentGuestGrants(
		ctx,
		guest.ID,
		s.now().Add(-s.config.SendGetRolesRemindersDelay),
	)
	if err != nil {
		logger.WarnContext(ctx, "unable to read role update audit log", tint.Err(err))
	}

	byID := rolesByID(roles)
	content := s.getRolesReminderMessage(ctx)
	sent := 0

	for _, member := range members {
		if member.User == nil || member.User.Bot || !hasRole(member, guest) {
			continue
		}
		if hasOptInRole(memberRoleNames(member, byID)) {
			continue
		}
		if _, recent := recentlyGranted[member.User.ID]; recent {
			continue
		}
		hashed, hashErr := hashDiscordID(member.User.ID)
		if hashErr != nil {
			continue
		}
		if _, ok := alreadySent[hashed]; ok {
			continue
		}

		if err = s.waitDMLimiter(ctx); err != nil {
			return err
		}
		if err = s.sendDM(ctx, member.User.ID, content); err != nil {
			if !isForbidden(err) {
				logger.ErrorContext(
					ctx,
					"error sending get-roles reminder",
					slog.Group("user", userLogAttrs(member.User)...),
					tint.Err(err),
				)
				continue
			}
			logger.WarnContext(
				ctx,
				"Failed to open DM channel to user, so no role reminder was sent.",
				slog.Group("user", userLogAttrs(member.User)...),
			)
		} else {
			sent++
		}

		if _, err = s.writeDB.Create(
			ctx,
			&SentGetRolesReminderMember{HashedMemberID: hashed},
		); err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.ErrorContext(ctx, "error recording sent get-roles reminder", tint.Err(err))
		}
	}
	logger.InfoContext(ctx, "sent get-roles reminders", "count", sent)
	return nil
}
