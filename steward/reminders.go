package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// reminderBacklogThreshold is how overdue a reminder must be before
	// the backlog task delivers it
	reminderBacklogThreshold = 15 * time.Minute
	reminderBacklogInterval  = 15 * time.Minute

	reminderLatePrefix = "**Sorry it's a bit late! " +
		"(I'm just catching up with some reminders I missed!)**\n\n"

	reminderYear = 365 * 24 * time.Hour
	// reminderMaxDelay is the furthest into the future a reminder can be set
	reminderMaxDelay = 100 * reminderYear
)

var (
	errInvalidReminderDelay = errors.New(
		`The value provided in the "delay" argument was not a time/date.`,
	)

	reminderDatePattern = regexp.MustCompile(
		`\A(\d{1,2}) ?[/.-] ?(\d{1,2}) ?[/.-] ?(\d{4})(?: (\d{1,2}):(\d{2}))?\z`,
	)
	reminderTermPattern = regexp.MustCompile(
		`(\d+(?:\.\d+)?) ?(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|dys?|d|weeks?|wks?|w|years?|yrs?|y)\b`,
	)
	reminderTermsPattern = regexp.MustCompile(
		`\A(?:\d+(?:\.\d+)? ?(?:seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|dys?|d|weeks?|wks?|w|years?|yrs?|y)(?:,? (?:and )?|\z))+\z`,
	)
	reminderMentionPattern = regexp.MustCompile(`<(?:@[&!]?|#)\d+>`)

	reminderUnits = map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
		'y': reminderYear,
	}
)

// parseReminderDelay returns when a reminder with the given delay should
// be sent. Relative delays ("in 5 minutes", "1h 30m", "2 days time") are
// added to now. Absolute dates (D/M/YYYY, optionally followed by HH:MM)
// are interpreted as UTC.
func parseReminderDelay(delay string, now time.Time) (time.Time, error) {
	value := strings.ToLower(strings.Join(strings.Fields(delay), " "))
	value = strings.TrimPrefix(value, "in ")
	value = strings.TrimSuffix(value, " time")
	if value == "" {
		return time.Time{}, errInvalidReminderDelay
	}

	if m := reminderDatePattern.FindStringSubmatch(value); m != nil {
		sendAt, err := parseReminderDate(m)
		if err != nil || !sendAt.After(now) || sendAt.Sub(now) > reminderMaxDelay {
			return time.Time{}, errInvalidReminderDelay
		}
		return sendAt, nil
	}

	if !reminderTermsPattern.MatchString(value) {
		return time.Time{}, errInvalidReminderDelay
	}
	var total float64
	for _, term := range reminderTermPattern.FindAllStringSubmatch(value, -1) {
		n, err := strconv.ParseFloat(term[1], 64)
		if err != nil {
			return time.Time{}, errInvalidReminderDelay
		}
		// checked as a float, before it can overflow a time.Duration
		total += n * float64(reminderUnits[term[2][0]])
		if total > float64(reminderMaxDelay) {
			return time.Time{}, errInvalidReminderDelay
		}
	}
	d := time.Duration(total)
	if d <= 0 {
		return time.Time{}, errInvalidReminderDelay
	}
	return now.Add(d), nil
}

func parseReminderDate(m []string) (time.Time, error) {
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	yr, _ := strconv.Atoi(m[3])
	hour, minute := 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, errInvalidReminderDelay
	}
	t := time.Date(yr, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, errInvalidReminderDelay
	}
	return t, nil
}

// sanitizeReminderMessage replaces user, role and channel mentions so a
// reminder can't be used to ping others
func sanitizeReminderMessage(msg string) string {
	return reminderMentionPattern.ReplaceAllString(strings.TrimSpace(msg), "@...")
}

// reminderMention returns the mention to include when delivering a
// reminder to a channel of the given type. Unsupported channel types
// return an error.
func reminderMention(channelType discordgo.ChannelType, userID string) (string, error) {
	switch channelType {
	case discordgo.ChannelTypeDM:
		return "", nil
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGroupDM,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return "<@" + userID + ">", nil
	default:
		return "", fmt.Errorf(
			"reminder's channel must be a valid text channel or DM (got type %d)",
			channelType,
		)
	}
}

// reminderScheduler delivers reminders when they're due. Timers are
// cancelled on shutdown, and the stored reminders are rescheduled on the
// next startup.
type reminderScheduler struct {
	s *Steward

	mu       sync.Mutex
	ctx      context.Context
	timers   map[uint]*time.Timer
	inflight sync.WaitGroup
	closed   bool
}

func newReminderScheduler(s *Steward) *reminderScheduler {
	return &reminderScheduler{s: s, timers: map[uint]*time.Timer{}}
}

// rescheduleAll starts timers for stored reminders that aren't yet part of
// the backlog, and stops every timer when ctx is cancelled
func (r *reminderScheduler) rescheduleAll(ctx context.Context, wg *sync.WaitGroup) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		r.stop()
	}()

	_, logger := r.s.getLogger(ctx)
	var reminders []DiscordReminder
	if err := r.s.db.WithContext(ctx).Where(
		columnReminderSendAt+" >= ?",
		r.s.now().Add(-reminderBacklogThreshold),
	).Find(&reminders).Error; err != nil {
		logger.ErrorContext(ctx, "error loading reminders", tint.Err(err))
		return
	}
	for i := range reminders {
		r.schedule(&reminders[i], "")
	}
	logger.InfoContext(ctx, "rescheduled reminders", "count", len(reminders))
}

// schedule starts a timer delivering the reminder at its send time.
// userID may be empty, in which case the owner is looked up by hash.
func (r *reminderScheduler) schedule(reminder *DiscordReminder, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ctx == nil {
		return
	}
	ctx := r.ctx
	id := reminder.ID
	delay := reminder.SendAt.Sub(r.s.now())
	if delay < 0 {
		delay = 0
	}
	if t, ok := r.timers[id]; ok {
		t.Stop()
	}
	r.timers[id] = time.AfterFunc(
		delay, func() {
			r.mu.Lock()
			delete(r.timers, id)
			if r.closed {
				r.mu.Unlock()
				return
			}
			r.inflight.Add(1)
			r.mu.Unlock()
			defer r.inflight.Done()

			err := r.s.deliverReminder(ctx, id, userID, "")
			var critical *CriticalError
			switch {
			case errors.As(err, &critical):
				r.s.reportCritical(ctx, critical.Err)
			case err != nil:
				_, logger := r.s.getLogger(ctx)
				logger.ErrorContext(
					ctx,
					"error delivering reminder",
					tint.Err(err),
					"reminder_id", id,
				)
			}
		},
	)
}

// cancel stops the timer for a reminder, if one is running
func (r *reminderScheduler) cancel(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

// cancelAll stops every pending timer, without preventing new ones
func (r *reminderScheduler) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *reminderScheduler) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

func (r *reminderScheduler) stop() {
	r.mu.Lock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
	r.inflight.Wait()
}

// deliverReminder sends the stored reminder to its channel, then deletes
// it. Reminders deleted in the meantime are skipped. When userID is empty
// the owner is resolved from the guild's members.
func (s *Steward) deliverReminder(
	ctx context.Context,
	id uint,
	userID string,
	prefix string,
) error {
	var reminder DiscordReminder
	err := s.db.WithContext(ctx).First(&reminder, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if userID == "" {
		owners, ownerErr := s.hashedMemberIDs(ctx)
		if ownerErr != nil {
			return ownerErr
		}
		userID = owners[reminder.HashedMemberID]
	}
	if userID == "" {
		_, logger := s.getLogger(ctx)
		logger.WarnContext(
			ctx,
			"User with hashed user ID no longer exists.",
			"hashed_member_id", reminder.HashedMemberID,
		)
		_, err = s.writeDB.Delete(ctx, &reminder)
		return err
	}

	mention, err := reminderMention(reminder.ChannelType, userID)
	if err != nil {
		return &CriticalError{Err: err}
	}

	if _, err = s.discord.session.ChannelMessageSend(
		reminder.ChannelID,
		prefix+reminder.FormatMessage(mention),
		discordgo.WithContext(ctx),
	); err != nil {
		return err
	}
	_, err = s.writeDB.Delete(ctx, &reminder)
	return err
}

// hashedMemberIDs maps the hashed ID of every non-bot guild member to
// their user ID
func (s *Steward) hashedMemberIDs(ctx context.Context) (map[string]string, error) {
	members, err := s.allMembers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(members))
	for _, m := range members {
		if m.User == nil || m.User.Bot {
			continue
		}
		hashed, hashErr := hashDiscordID(m.User.ID)
		if hashErr != nil {
			continue
		}
		ids[hashed] = m.User.ID
	}
	return ids, nil
}

// clearRemindersBacklog delivers reminders that are long overdue (ex: if
// they were due while the bot was offline), with an apology
func (s *Steward) clearRemindersBacklog(ctx context.Context) error {
	ctx, logger := s.getLogger(ctx)

	var reminders []DiscordReminder
	if err := s.db.WithContext(ctx).Where(
		columnReminderSendAt+" < ?",
		s.now().Add(-reminderBacklogThreshold),
	).Find(&reminders).Error; err != nil {
		return err
	}
	if len(reminders) == 0 {
		return nil
	}

	owners, err := s.hashedMemberIDs(ctx)
	if err != nil {
		return err
	}

	for _, reminder := range reminders {
		userID, ok := owners[reminder.HashedMemberID]
		if !ok {
			logger.WarnContext(
				ctx,
				"User with hashed user ID no longer exists.",
				"hashed_member_id", reminder.HashedMemberID,
			)
			if _, err = s.writeDB.Delete(ctx, &reminder); err != nil {
				return err
			}
			continue
		}
		s.reminders.cancel(reminder.ID)
		if err = s.deliverReminder(ctx, reminder.ID, userID, reminderLatePrefix); err != nil {
			var critical *CriticalError
			if errors.As(err, &critical) {
				return err
			}
			logger.ErrorContext(
				ctx,
				"error delivering late reminder",
				tint.Err(err),
				slog.Uint64("reminder_id", uint64(reminder.ID)),
			)
		}
	}
	return nil
}
