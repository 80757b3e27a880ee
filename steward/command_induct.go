package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
)

const (
	inductionProcessingMessage  = ":hourglass: Processing Induction... :hourglass:"
	inductionSuccessMessage     = ":white_check_mark: User inducted successfully."
	inductionAlreadyDoneMessage = ":information_source: No changes made. " +
		"User has already been inducted. :information_source:"
	inductionAuthorLeftMessage = ":information_source: No changes made. User cannot be " +
		"inducted because they have left the server :information_source:"

	// general channel messages checked for an existing welcome
	welcomeHistoryLimit = 7

	// introductions channel messages checked for the member's introduction
	introductionHistoryLimit = 30

	welcomeEmojiName = "TeX"
	waveEmoji        = "👋"
)

// welcomeValues fill the placeholders in welcome messages. Empty values
// can't be filled.
type welcomeValues struct {
	user                   string
	committee              string
	purchaseMembershipLink string
	groupName              string
}

// fillWelcomeMessage replaces the placeholders in template. It returns
// false when a placeholder present in template has no value.
func fillWelcomeMessage(template string, v welcomeValues) (string, bool) {
	replacements := []struct {
		placeholder string
		value       string
	}{
		{"<User>", v.user},
		{"<Committee>", v.committee},
		{"<Purchase_Membership_Link>", v.purchaseMembershipLink},
		{"<Group_Name>", v.groupName},
	}
	for _, r := range replacements {
		if !strings.Contains(template, r.placeholder) {
			continue
		}
		if r.value == "" {
			return "", false
		}
		template = strings.ReplaceAll(template, r.placeholder, r.value)
	}
	return strings.TrimSpace(template), true
}

// randomWelcomeMessage picks a random welcome message whose placeholders
// can all be filled
func (s *Steward) randomWelcomeMessage(ctx context.Context, member *discordgo.Member) string {
	values := welcomeValues{
		committee:              s.committeeMention(ctx),
		purchaseMembershipLink: s.config.Group.PurchaseMembershipURL,
		groupName:              s.groupShortName(ctx),
	}
	if member != nil && member.User != nil {
		values.user = member.User.Mention()
	}

	var templates []string
	if m := s.config.Messages(); m != nil {
		templates = append(templates, m.WelcomeMessages...)
	}
	for n := len(templates); n > 0; n-- {
		idx := s.randIntn(n)
		if msg, ok := fillWelcomeMessage(templates[idx], values); ok {
			return msg
		}
		templates[idx] = templates[n-1]
	}
	return ""
}

func runInductCommand(c *commandContext) error {
	options := c.options()
	member, err := c.s.memberFromStrID(c.ctx, optionString(options, "user"))
	if err != nil {
		return err
	}
	return c.s.induct(c, member, optionBool(options, "silent"))
}

func runInductUserCommand(silent bool) func(c *commandContext) error {
	return func(c *commandContext) error {
		target := c.targetUser()
		if target == nil {
			return errors.New("no target user")
		}
		member, err := c.s.mainGuildMember(c.ctx, target.ID)
		if errors.Is(err, errMemberNotInMainGuild) {
			return c.reply(inductionAuthorLeftMessage)
		}
		if err != nil {
			return err
		}
		return c.s.induct(c, member, silent)
	}
}

func runInductMessageAuthorCommand(silent bool) func(c *commandContext) error {
	return func(c *commandContext) error {
		msg := c.targetMessage()
		if msg == nil || msg.Author == nil {
			return errors.New("no target message")
		}
		member, err := c.s.mainGuildMember(c.ctx, msg.Author.ID)
		if errors.Is(err, errMemberNotInMainGuild) {
			return c.reply(inductionAuthorLeftMessage)
		}
		if err != nil {
			return err
		}
		return c.s.induct(c, member, silent)
	}
}

// induct gives the member the Guest role. Unless silent, a welcome message
// is posted in #general first.
func (s *Steward) induct(c *commandContext, member *discordgo.Member, silent bool) error {
	ctx := c.ctx
	guest, err := s.role(ctx, roleNameGuest)
	if err != nil {
		return err
	}

	if isBot(member) {
		return userError("Member cannot be inducted because they are a bot.")
	}
	if hasRole(member, guest) {
		return c.reply(inductionAlreadyDoneMessage)
	}

	if err = c.reply(inductionProcessingMessage); err != nil {
		return err
	}

	if !silent {
		if err = s.sendWelcomeMessage(ctx, member); err != nil {
			return err
		}
	}

	reason := discordgo.WithAuditLogReason(
		fmt.Sprintf(`%s used slash-command: "/%s"`, c.user.Username, CommandInduct),
	)
	if err = s.discord.session.GuildMemberRoleAdd(
		s.config.Discord.GuildID,
		member.User.ID,
		guest.ID,
		discordgo.WithContext(ctx),
		reason,
	); err != nil {
		return err
	}

	roles, err := s.guildRoles(ctx)
	if err != nil {
		return err
	}
	if applicant := findRoleByName(roles, roleNameApplicant); hasRole(member, applicant) {
		if err = s.discord.session.GuildMemberRoleRemove(
			s.config.Discord.GuildID,
			member.User.ID,
			applicant.ID,
			discordgo.WithContext(ctx),
			reason,
		); err != nil {
			return err
		}
	}

	if err = s.reactToIntroduction(ctx, member); err != nil {
		return err
	}
	return c.edit(inductionSuccessMessage)
}

// sendWelcomeMessage posts a welcome for member in #general, unless one
// of the bot's recent messages there already welcomed them
func (s *Steward) sendWelcomeMessage(ctx context.Context, member *discordgo.Member) error {
	general, err := s.textChannel(ctx, channelNameGeneral)
	if err != nil {
		return err
	}

	recent, err := s.discord.session.ChannelMessages(
		general.ID,
		welcomeHistoryLimit,
		"", "", "",
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	botID := s.discord.botUserID()
	for _, m := range recent {
		if m.Author != nil && m.Author.ID == botID &&
			strings.Contains(m.Content, "grab your roles") &&
			(messageMentionsUser(m, member.User.ID) ||
				strings.Contains(m.Content, member.User.Mention())) {
			return nil
		}
	}

	content := fmt.Sprintf(
		"%s :tada:\nRemember to grab your roles in %s and say hello to everyone here! :wave:",
		s.randomWelcomeMessage(ctx, member),
		s.channelMention(ctx, channelNameRoles),
	)
	_, err = s.discord.session.ChannelMessageSend(
		general.ID,
		strings.TrimSpace(content),
		discordgo.WithContext(ctx),
	)
	return err
}

// reactToIntroduction reacts to the member's most recent message in
// #introductions
func (s *Steward) reactToIntroduction(ctx context.Context, member *discordgo.Member) error {
	_, logger := s.getLogger(ctx)
	intro, err := s.textChannel(ctx, channelNameIntroductions)
	if err != nil {
		var dne *DoesNotExistError
		if errors.As(err, &dne) {
			return nil
		}
		return err
	}

	messages, err := s.discord.session.ChannelMessages(
		intro.ID,
		introductionHistoryLimit,
		"", "", "",
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return err
	}

	var introduction *discordgo.Message
	for _, m := range messages {
		if m.Author != nil && m.Author.ID == member.User.ID {
			introduction = m
			break
		}
	}
	if introduction == nil {
		return nil
	}

	reactions := []string{waveEmoji}
	emojis, err := s.discord.session.GuildEmojis(
		s.config.Discord.GuildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.WarnContext(ctx, "unable to fetch guild emojis", tint.Err(err))
	}
	for _, e := range emojis {
		if e.Name == welcomeEmojiName {
			reactions = []string{e.APIName(), waveEmoji}
			break
		}
	}

	for _, emoji := range reactions {
		err = s.discord.session.MessageReactionAdd(
			intro.ID,
			introduction.ID,
			emoji,
			discordgo.WithContext(ctx),
		)
		if err == nil {
			continue
		}
		if discordErrorCode(err) == discordErrorCodeReactionBlocked {
			logger.InfoContext(
				ctx,
				"Failed to add reactions because the user has blocked the bot.",
				"user_id", member.User.ID,
			)
			return nil
		}
		return err
	}
	return nil
}

func runEnsureMembersInductedCommand(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	memberRole, err := s.role(ctx, roleNameMember)
	if err != nil {
		return err
	}
	guest, err := s.role(ctx, roleNameGuest)
	if err != nil {
		return err
	}

	if err = c.reply(":hourglass: Ensuring members are inducted... :hourglass:"); err != nil {
		return err
	}

	members, err := s.allMembers(ctx)
	if err != nil {
		return err
	}

	reason := discordgo.WithAuditLogReason(
		fmt.Sprintf(
			`%s used slash-command: "/%s"`,
			c.user.Username,
			CommandEnsureMembersInducted,
		),
	)
	changesMade := false
	for _, m := range members {
		if hasRole(m, guest) || !hasRole(m, memberRole) {
			continue
		}
		if err = s.discord.session.GuildMemberRoleAdd(
			s.config.Discord.GuildID,
			m.User.ID,
			guest.ID,
			discordgo.WithContext(ctx),
			reason,
		); err != nil {
			return err
		}
		changesMade = true
	}

	if changesMade {
		return c.edit("All members successfully inducted")
	}
	return c.edit("No members required inducting")
}

// autocompleteUninductedMembers suggests non-bot members without the
// Guest role
func autocompleteUninductedMembers(c *commandContext) []*discordgo.ApplicationCommandOptionChoice {
	guest, err := c.s.role(c.ctx, roleNameGuest)
	if err != nil {
		return nil
	}
	return c.s.memberChoices(
		c, func(m *discordgo.Member) bool {
			return !hasRole(m, guest)
		},
	)
}

// memberChoices returns autocomplete choices for non-bot members matching
// include, filtered by what's been typed so far
func (s *Steward) memberChoices(
	c *commandContext,
	include func(m *discordgo.Member) bool,
) []*discordgo.ApplicationCommandOptionChoice {
	members, err := s.allMembers(c.ctx)
	if err != nil {
		c.logger.DebugContext(c.ctx, "error listing members", tint.Err(err))
		return nil
	}

	typed := c.focusedOption()
	prefix := ""
	if typed == "" || strings.HasPrefix(typed, "@") {
		prefix = "@"
	}
	search := strings.ToLower(strings.TrimPrefix(typed, "@"))

	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, m := range members {
		if m.User == nil || m.User.Bot || !include(m) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(m.User.Username), search) &&
			!strings.Contains(strings.ToLower(memberDisplayName(m)), search) {
			continue
		}
		choices = append(
			choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  prefix + m.User.Username,
				Value: m.User.ID,
			},
		)
		if len(choices) == autocompleteMaxChoices {
			break
		}
	}
	return choices
}

// onGuestRoleGained welcomes a newly inducted member by DM, and cleans up
// their introduction reminders
func (s *Steward) onGuestRoleGained(ctx context.Context, member *discordgo.Member) {
	_, logger := s.getLogger(ctx)
	logger = logger.With(slog.Group("user", userLogAttrs(member.User)...))

	if _, err := deleteMemberRecords[IntroductionReminderOptOutMember](
		ctx,
		s.writeDB,
		member.User.ID,
	); err != nil {
		logger.ErrorContext(ctx, "error deleting opt-out record", tint.Err(err))
	}

	dm, err := s.discord.session.UserChannelCreate(member.User.ID, discordgo.WithContext(ctx))
	if err != nil {
		logger.WarnContext(ctx, "unable to open DM channel", tint.Err(err))
		return
	}

	s.deleteIntroductionReminders(ctx, dm.ID)

	userType := "guest"
	if memberRole, roleErr := s.role(ctx, roleNameMember); roleErr == nil &&
		hasRole(member, memberRole) {
		userType = "member"
	}

	rulesMention := "**`#" + channelNameRules + "`**"
	if rules, e := s.textChannel(ctx, channelNameRules); e == nil {
		rulesMention = rules.Mention()
	}
	rolesMention := "**`#" + channelNameRoles + "`**"
	if roles, e := s.textChannel(ctx, channelNameRoles); e == nil {
		rolesMention = roles.Mention()
	}

	welcome := fmt.Sprintf(
		"**Congrats on joining the %s Discord server as a %s!** "+
			"You now have access to communicate in all the public channels.\n\n"+
			"Some things to do to get started:\n"+
			"1. Check out our rules in %s\n"+
			"2. Head to %s and click on the icons to get optional roles like "+
			"pronouns and year groups\n"+
			"3. Change your nickname to whatever you wish others to refer to you as "+
			"(You can do this by right-clicking your name in the members-list to the "+
			"right & selecting \"Edit Server Profile\").",
		s.groupShortName(ctx),
		userType,
		rulesMention,
		rolesMention,
	)
	if _, err = s.discord.session.ChannelMessageSend(
		dm.ID,
		welcome,
		discordgo.WithContext(ctx),
	); err != nil {
		if isForbidden(err) {
			logger.WarnContext(
				ctx,
				"Failed to open DM channel to user so no welcome message was sent.",
			)
			return
		}
		logger.ErrorContext(ctx, "error sending welcome DM", tint.Err(err))
		return
	}

	if userType == "member" || s.config.Group.PurchaseMembershipURL == "" {
		return
	}
	if _, err = s.discord.session.ChannelMessageSend(
		dm.ID,
		s.membershipPurchaseMessage(ctx),
		discordgo.WithContext(ctx),
	); err != nil {
		logger.WarnContext(ctx, "error sending membership DM", tint.Err(err))
	}
}

func (s *Steward) membershipPurchaseMessage(ctx context.Context) string {
	var b strings.Builder
	fmt.Fprintf(
		&b,
		"You can also get yourself an annual membership to %s! Just head to %s. ",
		s.groupFullName(ctx),
		s.config.Group.PurchaseMembershipURL,
	)
	fmt.Fprintf(
		&b,
		"You'll get awesome perks like access to member only events:calendar_spiral: "+
			"and a cool green name on the %s Discord server:green_square:!",
		s.groupShortName(ctx),
	)
	if perks := s.config.Group.MembershipPerksURL; perks != "" {
		b.WriteString(" Checkout all the perks at ")
		b.WriteString(perks)
	}
	return b.String()
}

// deleteIntroductionReminders removes the bot's introduction reminders
// from a DM channel
func (s *Steward) deleteIntroductionReminders(ctx context.Context, dmChannelID string) {
	_, logger := s.getLogger(ctx)
	messages, err := s.discord.session.ChannelMessages(
		dmChannelID,
		100,
		"", "", "",
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.WarnContext(ctx, "unable to read DM history", tint.Err(err))
		return
	}
	for _, m := range messages {
		if !isIntroductionReminder(m) {
			continue
		}
		if err = s.discord.session.ChannelMessageDelete(
			dmChannelID,
			m.ID,
			discordgo.WithContext(ctx),
			discordgo.WithAuditLogReason(
				"Delete introduction reminders after member is inducted.",
			),
		); err != nil {
			logger.WarnContext(ctx, "unable to delete introduction reminder", tint.Err(err))
		}
	}
}

// isIntroductionReminder reports whether m is an introduction reminder
// sent by a bot
func isIntroductionReminder(m *discordgo.Message) bool {
	return m.Author != nil && m.Author.Bot &&
		strings.Contains(m.Content, "joined the ") &&
		(strings.Contains(m.Content, " Discord guild but have not yet introduced") ||
			strings.Contains(m.Content, " Discord server but have not yet introduced"))
}
