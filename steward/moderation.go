package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"time"
)

const (
	maxStrikes = 3

	// manualModerationAuditLogWindow is how recent an audit log entry must
	// be to match a moderation event
	manualModerationAuditLogWindow = time.Minute
	manualModerationAuditLogLimit  = 10

	// manualModerationMessageLifetime is how long the "use /strike"
	// reminder stays up before being deleted
	manualModerationMessageLifetime = 2 * time.Minute

	timeoutDuration = 24 * time.Hour

	moderationLocationDM = "DM"

	auditLogChangeTimeout = "communication_disabled_until"

	outOfSyncActorUser = "user"
	outOfSyncActorBot  = "bot"
)

// moderationActionVerbs describe manual moderation actions in warnings
var moderationActionVerbs = map[discordgo.AuditLogAction]string{
	discordgo.AuditLogActionMemberUpdate: "timed-out",
	discordgo.AuditLogActionMemberKick:   "kicked",
	discordgo.AuditLogActionMemberBanAdd: "banned",
}

// suggestedActions maps a strike count to the suggested moderation action
var suggestedActions = map[int]string{
	1: "time-out",
	2: "kick",
	3: "ban",
}

// groupModerationContact names who bans are reported to
func (s *Steward) groupModerationContact(ctx context.Context) string {
	name := strings.ToLower(s.groupFullName(ctx))
	for _, hint := range []string{"computer science society", "css", "uob", "university of birmingham"} {
		if strings.Contains(name, hint) {
			return "the Guild of Students"
		}
	}
	if strings.Contains(name, "bham") && strings.Contains(name, "uni") {
		return "the Guild of Students"
	}
	return "our community moderators"
}

// strikeNotice is the DM sent to a member whose strikes were increased
func (s *Steward) strikeNotice(ctx context.Context, strikes int) string {
	short := s.groupShortName(ctx)
	rulesMention := "`#welcome`"
	if ch, err := s.textChannel(ctx, channelNameRules); err == nil {
		rulesMention = ch.Mention()
	}

	banMessage := ""
	if strikes >= maxStrikes {
		banMessage = fmt.Sprintf(
			"\nBecause you now have been given 3 strikes, you have been banned from "+
				"the %s Discord server and we have contacted %s for further action & advice.",
			short,
			s.groupModerationContact(ctx),
		)
	}

	return fmt.Sprintf(
		"Hi, a recent incident occurred in which you may have broken one or more of "+
			"the %[1]s Discord server's rules.\n"+
			"We have increased the number of strikes associated with your account "+
			"to %[2]d and the corresponding moderation action will soon be applied to you. "+
			"To find what moderation action corresponds to which strike level, "+
			"you can view the %[1]s Discord server moderation document "+
			"[here](<%[3]s>)\nPlease ensure you have read the rules in %[4]s so that "+
			"your future behaviour adheres to them.%[5]s\n\n"+
			"A committee member will be in contact with you shortly, to discuss this further.",
		short,
		min(strikes, maxStrikes),
		s.config.Group.ModerationDocumentURL,
		rulesMention,
		banMessage,
	)
}

// sendStrikeNotice DMs the strike notice. Members who can't be messaged
// (ex: they've left the guild, or blocked DMs) are logged and skipped.
func (s *Steward) sendStrikeNotice(ctx context.Context, user *discordgo.User, strikes int) error {
	_, logger := s.getLogger(ctx)
	if err := s.sendDM(ctx, user.ID, s.strikeNotice(ctx, strikes)); err != nil {
		if isForbidden(err) {
			logger.WarnContext(
				ctx,
				"unable to send strike notice",
				slog.Group("user", userLogAttrs(user)...),
				tint.Err(err),
			)
			return nil
		}
		return err
	}
	return nil
}

// sendDM sends a direct message to the user
func (s *Steward) sendDM(ctx context.Context, userID string, content string) error {
	_, err := s.sendDMComplex(ctx, userID, &discordgo.MessageSend{Content: content})
	return err
}

func (s *Steward) sendDMComplex(
	ctx context.Context,
	userID string,
	msg *discordgo.MessageSend,
) (*discordgo.Message, error) {
	dm, err := s.discord.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return s.discord.session.ChannelMessageSendComplex(dm.ID, msg, discordgo.WithContext(ctx))
}

// incrementStrikes adds a strike to the member's record, unless they
// already have the maximum. The updated record is returned.
func (s *Steward) incrementStrikes(ctx context.Context, memberID string) (
	*DiscordMemberStrikes,
	error,
) {
	strikes, err := getOrCreateStrikes(ctx, s.writeDB, memberID)
	if err != nil {
		return nil, err
	}
	if strikes.Strikes < maxStrikes {
		strikes.Strikes++
		if _, err = s.writeDB.Updates(
			ctx,
			strikes,
			map[string]any{"strikes": strikes.Strikes},
		); err != nil {
			return nil, err
		}
	}
	return strikes, nil
}

// strikeConfirmation describes the strike increase to the committee member
// who gave it
func strikeConfirmation(userID string, strikes int, suggestAction bool) string {
	if strikes > maxStrikes {
		msg := fmt.Sprintf(
			"<@%s>'s number of strikes was not increased because they already had %d. "+
				"How did this happen?",
			userID,
			strikes,
		)
		if suggestAction {
			msg += "\nHaving more than 3 strikes suggests that the user should be banned. " +
				"Would you like me to perform this action for you?"
		}
		return msg
	}

	msg := fmt.Sprintf("Successfully increased <@%s>'s strikes to %d.", userID, strikes)
	if suggestAction {
		msg += fmt.Sprintf(
			"\nThe suggested moderation action is to %s the user. "+
				"Would you like me to perform this action for you?",
			suggestedActions[strikes],
		)
	}
	return msg
}

// performModerationAction applies the action for the number of strikes:
// a 24h time-out, a kick, or a ban
func (s *Steward) performModerationAction(
	ctx context.Context,
	userID string,
	strikes int,
	reason string,
) error {
	guildID := s.config.Discord.GuildID
	opts := []discordgo.RequestOption{
		discordgo.WithContext(ctx),
		discordgo.WithAuditLogReason(reason),
	}
	switch strikes {
	case 1:
		until := s.now().Add(timeoutDuration)
		return s.discord.session.GuildMemberTimeout(guildID, userID, &until, opts...)
	case 2:
		return s.discord.session.GuildMemberDeleteWithReason(guildID, userID, reason, opts...)
	case 3:
		return s.discord.session.GuildBanCreateWithReason(guildID, userID, reason, 0, opts...)
	default:
		return fmt.Errorf("strikes must be between 1 and 3, got %d", strikes)
	}
}

// checkModerationWarningLocation verifies the channel named by
// MANUAL_MODERATION_WARNING_MESSAGE_LOCATION exists
func (s *Steward) checkModerationWarningLocation(ctx context.Context) error {
	location := s.config.Group.ManualModerationWarningMessageLocation
	if location == "" || location == moderationLocationDM {
		return nil
	}
	_, err := s.textChannel(ctx, location)
	var dne *DoesNotExistError
	if !errors.As(err, &dne) {
		return err
	}

	msg := fmt.Sprintf(
		"The channel %q does not exist, so cannot be used as the location "+
			"for sending manual-moderation warning messages",
		location,
	)
	switch strings.ToLower(location) {
	case "dm", "dms":
		msg += ` (you may have meant to set MANUAL_MODERATION_WARNING_MESSAGE_LOCATION to "DM")`
	}
	return errors.New(msg)
}

// findAuditLogEntry returns the most recent audit log entry of the given
// type targeting userID, made within the last minute. For member updates,
// only entries changing the member's time-out match.
func (s *Steward) findAuditLogEntry(
	ctx context.Context,
	userID string,
	action discordgo.AuditLogAction,
) (*discordgo.AuditLogEntry, *discordgo.User, error) {
	auditLog, err := s.discord.session.GuildAuditLog(
		s.config.Discord.GuildID,
		"",
		"",
		int(action),
		manualModerationAuditLogLimit,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, nil, err
	}

	cutoff := s.now().Add(-manualModerationAuditLogWindow)
	for _, entry := range auditLog.AuditLogEntries {
		if entry.TargetID != userID {
			continue
		}
		created, tsErr := discordgo.SnowflakeTimestamp(entry.ID)
		if tsErr != nil || created.Before(cutoff) {
			continue
		}
		if action == discordgo.AuditLogActionMemberUpdate && !changesTimeout(entry) {
			continue
		}
		var actor *discordgo.User
		for _, u := range auditLog.Users {
			if u.ID == entry.UserID {
				actor = u
				break
			}
		}
		if actor == nil {
			actor = &discordgo.User{ID: entry.UserID}
		}
		return entry, actor, nil
	}
	return nil, nil, nil
}

func changesTimeout(entry *discordgo.AuditLogEntry) bool {
	for _, change := range entry.Changes {
		if change.Key != nil && string(*change.Key) == auditLogChangeTimeout {
			return true
		}
	}
	return false
}

// trackManualModeration adds a strike to a member who was timed out,
// kicked or banned without using /strike, and reminds whoever did it to
// use /strike next time
func (s *Steward) trackManualModeration(
	ctx context.Context,
	target *discordgo.User,
	action discordgo.AuditLogAction,
) error {
	_, logger := s.getLogger(ctx)
	logger = logger.With(
		slog.Group("user", userLogAttrs(target)...),
		"audit_log_action", int(action),
	)

	entry, actor, err := s.findAuditLogEntry(ctx, target.ID, action)
	if err != nil {
		return err
	}
	if entry == nil {
		logger.DebugContext(ctx, "Unable to retrieve audit log entry of manual moderation action")
		return nil
	}
	if actor.ID == s.discord.botUserID() {
		return nil
	}

	current, err := getOrCreateStrikes(ctx, s.writeDB, target.ID)
	if err != nil {
		return err
	}
	if strikesOutOfSyncWithBan(action, current.Strikes) {
		logger.InfoContext(ctx, "manual moderation out of sync with strikes", "strikes", current.Strikes)
		_, err = s.sendManualModerationWarning(
			ctx,
			actor,
			s.outOfSyncBanConfirmation(ctx, target, actor, action),
		)
		return err
	}

	strikes, err := s.incrementStrikes(ctx, target.ID)
	if err != nil {
		return err
	}
	if err = s.sendStrikeNotice(ctx, target, strikes.Strikes); err != nil {
		logger.WarnContext(ctx, "error sending strike notice", tint.Err(err))
	}

	deleteAt := s.now().Add(manualModerationMessageLifetime)
	content := fmt.Sprintf(
		"%s\n**Please ensure you use the `/strike` command in future!**\n"+
			"ᴛʜɪs ᴍᴇssᴀɢᴇ ᴡɪʟʟ ʙᴇ ᴅᴇʟᴇᴛᴇᴅ <t:%d:R>",
		strikeConfirmation(target.ID, strikes.Strikes, false),
		deleteAt.Unix(),
	)

	msg, err := s.sendManualModerationWarning(ctx, actor, &discordgo.MessageSend{Content: content})
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	logger.InfoContext(ctx, "tracked manual moderation action", "strikes", strikes.Strikes)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(manualModerationMessageLifetime):
	}
	return s.discord.session.ChannelMessageDelete(
		msg.ChannelID,
		msg.ID,
		discordgo.WithContext(ctx),
	)
}

// sendManualModerationWarning posts content to the configured location:
// the acting user's DMs (or the log channel, for bots), or a named
// channel. A nil message is returned if there's nowhere to post.
func (s *Steward) sendManualModerationWarning(
	ctx context.Context,
	actor *discordgo.User,
	msg *discordgo.MessageSend,
) (*discordgo.Message, error) {
	location := s.config.Group.ManualModerationWarningMessageLocation
	if location != "" && location != moderationLocationDM {
		ch, err := s.textChannel(ctx, location)
		if err != nil {
			return nil, err
		}
		return s.discord.session.ChannelMessageSendComplex(ch.ID, msg, discordgo.WithContext(ctx))
	}

	if !actor.Bot {
		return s.sendDMComplex(ctx, actor.ID, msg)
	}

	if s.logSink == nil {
		_, logger := s.getLogger(ctx)
		logger.WarnContext(
			ctx,
			"manual moderation by a bot can't be reported without a log channel",
			slog.Group("actor", userLogAttrs(actor)...),
		)
		return nil, nil
	}
	return s.discord.session.WebhookExecute(
		s.logSink.webhookID,
		s.logSink.token,
		true,
		&discordgo.WebhookParams{Content: msg.Content, Components: msg.Components},
		discordgo.WithContext(ctx),
	)
}

// strikesOutOfSyncWithBan reports whether a member who was manually
// moderated already had enough strikes that they should have been banned
func strikesOutOfSyncWithBan(action discordgo.AuditLogAction, strikes int) bool {
	if action == discordgo.AuditLogActionMemberBanAdd {
		return strikes > maxStrikes
	}
	return strikes >= maxStrikes
}

// outOfSyncBanConfirmation asks whoever moderated target manually whether
// target should be banned, since their strikes already call for a ban
func (s *Steward) outOfSyncBanConfirmation(
	ctx context.Context,
	target *discordgo.User,
	actor *discordgo.User,
	action discordgo.AuditLogAction,
) *discordgo.MessageSend {
	greeting := actor.GlobalName
	if greeting == "" {
		greeting = actor.Username
	}
	subject := "you"
	kind := outOfSyncActorUser
	if actor.Bot {
		greeting = s.committeeMention(ctx)
		if greeting == "" {
			greeting = errorMessageNoCommitteeMention
		}
		subject = fmt.Sprintf("one of your other bots (namely %s)", actor.Mention())
		kind = outOfSyncActorBot
	}

	mention := target.Mention()
	content := fmt.Sprintf(
		"Hi %s, I just noticed that %s %s %s. "+
			"Because this moderation action was done manually "+
			"(rather than using my `/strike` command), I could not automatically "+
			"keep track of the moderation action to apply. "+
			"My records show that %s previously had 3 strikes. "+
			"This suggests that %s should be banned. "+
			"Would you like me to send them the moderation alert message "+
			"and perform this action for you?",
		greeting,
		subject,
		moderationActionVerbs[action],
		mention,
		mention,
		mention,
	)
	return &discordgo.MessageSend{
		Content: content,
		Components: ephemeralButtonRow(
			discordgo.Button{
				Label:    "Yes",
				Style:    discordgo.DangerButton,
				CustomID: newCustomID(customIDOutOfSyncBanConfirm, target.ID, actor.ID, kind),
			},
			discordgo.Button{
				Label:    "No",
				Style:    discordgo.SecondaryButton,
				CustomID: newCustomID(customIDOutOfSyncBanCancel, target.ID, actor.ID, kind),
			},
		),
	}
}

// deleteMessageAfter removes msg once d has passed, even if ctx ends first
func (s *Steward) deleteMessageAfter(ctx context.Context, msg *discordgo.Message, d time.Duration) {
	if msg == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	time.AfterFunc(
		d, func() {
			err := s.discord.session.ChannelMessageDelete(
				msg.ChannelID,
				msg.ID,
				discordgo.WithContext(ctx),
			)
			if err != nil {
				_, logger := s.getLogger(ctx)
				logger.WarnContext(ctx, "error deleting message", "message_id", msg.ID, tint.Err(err))
			}
		},
	)
}
