package steward

import (
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"strings"
)

func runWriteRolesCommand(c *commandContext) error {
	ctx := c.ctx
	channel, err := c.s.textChannel(ctx, channelNameRoles)
	if err != nil {
		return err
	}

	messages := c.s.config.Messages()
	if messages == nil || len(messages.RolesMessages) == 0 {
		return errors.New("no roles messages configured")
	}

	for _, msg := range messages.RolesMessages {
		if _, err = c.s.discord.session.ChannelMessageSend(
			channel.ID,
			msg,
			discordgo.WithContext(ctx),
		); err != nil {
			return err
		}
	}
	return c.reply("All messages sent successfully.")
}

func runEditMessageCommand(c *commandContext) error {
	ctx := c.ctx
	options := c.options()
	channelID := strings.TrimSpace(optionString(options, "channel"))
	messageID := strings.TrimSpace(optionString(options, "message_id"))
	text := optionString(options, "text")

	if !snowflakePattern.MatchString(channelID) {
		return userError("'%s' is not a valid channel ID.", channelID)
	}
	if !snowflakePattern.MatchString(messageID) {
		return userError("'%s' is not a valid message ID.", messageID)
	}

	channels, err := c.s.guildChannels(ctx)
	if err != nil {
		return err
	}
	var channel *discordgo.Channel
	for _, ch := range channels {
		if ch.ID == channelID && ch.Type == discordgo.ChannelTypeGuildText {
			channel = ch
			break
		}
	}
	if channel == nil {
		return userError(`Text channel with ID "%s" does not exist.`, channelID)
	}

	msg, err := c.s.discord.session.ChannelMessage(
		channel.ID,
		messageID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if isNotFound(err) {
			return userError(`Message with ID "%s" does not exist.`, messageID)
		}
		return err
	}

	if msg.Author != nil && msg.Author.ID != c.s.discord.botUserID() {
		return userError(
			"Message with ID '%s' cannot be edited because it belongs to another user.",
			messageID,
		)
	}

	if _, err = c.s.discord.session.ChannelMessageEdit(
		channel.ID,
		messageID,
		text,
		discordgo.WithContext(ctx),
	); err != nil {
		if isForbidden(err) {
			return userError(
				"Message with ID '%s' cannot be edited because it belongs to another user.",
				messageID,
			)
		}
		return err
	}
	return c.reply("Message edited successfully.")
}

// autocompleteTextChannels suggests the guild's text channels, by name
func autocompleteTextChannels(c *commandContext) []*discordgo.ApplicationCommandOptionChoice {
	return c.s.channelChoices(c, discordgo.ChannelTypeGuildText, "#")
}

// autocompleteCategories suggests the guild's channel categories
func autocompleteCategories(c *commandContext) []*discordgo.ApplicationCommandOptionChoice {
	return c.s.channelChoices(c, discordgo.ChannelTypeGuildCategory, "")
}

// channelChoices returns autocomplete choices for guild channels of the
// given type whose name contains what's been typed so far
func (s *Steward) channelChoices(
	c *commandContext,
	channelType discordgo.ChannelType,
	prefix string,
) []*discordgo.ApplicationCommandOptionChoice {
	channels, err := s.guildChannels(c.ctx)
	if err != nil {
		c.logger.DebugContext(c.ctx, "error listing channels", tint.Err(err))
		return nil
	}

	search := strings.ToLower(strings.TrimPrefix(c.focusedOption(), prefix))
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, ch := range channels {
		if ch.Type != channelType {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(ch.Name), search) {
			continue
		}
		choices = append(
			choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  prefix + ch.Name,
				Value: ch.ID,
			},
		)
		if len(choices) == autocompleteMaxChoices {
			break
		}
	}
	return choices
}
