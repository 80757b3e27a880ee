package steward

import (
	"errors"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"regexp"
	"strconv"
	"strings"
)

var (
	defaultReminderDelayChoices = []string{
		"in 5 minutes",
		"1 hours time",
		"1min",
		"30 secs",
		"2 days time",
		"22/9/2040",
		"5h",
	}
	reminderDelayUnitChoices = []string{
		"s", "sec", "second",
		"m", "min", "minute",
		"h", "hr", "hour",
		"d", "dy", "day",
		"w", "wk", "week",
		"y", "yr", "year",
	}
	partialNumberPattern = regexp.MustCompile(`\A(in )?(\d{1,3})\z`)
)

func runRemindMeCommand(c *commandContext) error {
	ctx := c.ctx
	s := c.s
	options := c.options()

	sendAt, err := parseReminderDelay(optionString(options, "delay"), s.now())
	if err != nil {
		return userError("%s", err.Error())
	}

	hashed, err := hashDiscordID(c.user.ID)
	if err != nil {
		return err
	}

	channelID := c.interaction.ChannelID
	channelType := discordgo.ChannelTypeDM
	if c.interaction.GuildID != "" {
		channelType = discordgo.ChannelTypeGuildText
		if ch, chErr := s.discord.session.Channel(
			channelID,
			discordgo.WithContext(ctx),
		); chErr == nil {
			channelType = ch.Type
		}
	}

	reminder := &DiscordReminder{
		HashedMemberID: hashed,
		Message:        sanitizeReminderMessage(optionString(options, "message")),
		ChannelID:      channelID,
		ChannelType:    channelType,
		SendAt:         sendAt,
	}
	if _, err = s.writeDB.Create(ctx, reminder); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return userError("You already have a reminder with that message in this channel!")
		}
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}

	if err = c.reply("Reminder set!"); err != nil {
		return err
	}
	s.reminders.schedule(reminder, c.user.ID)
	return nil
}

// autocompleteReminderDelay suggests common delay formats, completing
// partially-typed numbers with each unit
func autocompleteReminderDelay(c *commandContext) []*discordgo.ApplicationCommandOptionChoice {
	typed := strings.ToLower(c.focusedOption())
	var suggestions []string

	switch m := partialNumberPattern.FindStringSubmatch(typed); {
	case strings.TrimSpace(typed) == "":
		suggestions = defaultReminderDelayChoices
	case typed == "in" || typed == "in ":
		for _, n := range []int{1, 5, 10, 15, 30} {
			suggestions = append(suggestions, "in "+strconv.Itoa(n)+" minutes")
		}
		suggestions = append(suggestions, "in 1 hour", "in 1 day", "in 1 week")
	case m != nil:
		n, _ := strconv.Atoi(m[2])
		for _, unit := range reminderDelayUnitChoices {
			suggestions = append(suggestions, typed+unit)
			if len(unit) == 1 {
				continue
			}
			spaced := typed + " " + unit
			if n != 1 {
				spaced += "s"
			}
			suggestions = append(suggestions, spaced)
		}
		if m[1] == "" && n >= 1 && n <= 31 {
			year := c.s.now().Year()
			for month := 1; month <= 12; month++ {
				suggestions = append(
					suggestions,
					typed+"/"+strconv.Itoa(month)+"/"+strconv.Itoa(year),
				)
			}
		}
	default:
		if _, err := parseReminderDelay(typed, c.s.now()); err == nil {
			suggestions = []string{typed}
		}
	}

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(suggestions))
	for _, suggestion := range suggestions {
		choices = append(
			choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  suggestion,
				Value: suggestion,
			},
		)
		if len(choices) == autocompleteMaxChoices {
			break
		}
	}
	return choices
}
