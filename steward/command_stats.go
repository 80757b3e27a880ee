package steward

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"slices"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	statsHistoryPageSize = 100

	// statsMaxMessagesPerChannel bounds how much history is read from a
	// single channel
	statsMaxMessagesPerChannel = 10000

	statsTotalLabel = "Total"
)

// statsCounts is an ordered set of labelled counts. The first entry is
// always the total.
type statsCounts struct {
	labels []string
	counts map[string]int
}

func newStatsCounts(labels ...string) *statsCounts {
	c := &statsCounts{
		labels: []string{statsTotalLabel},
		counts: map[string]int{statsTotalLabel: 0},
	}
	for _, l := range labels {
		c.add(l)
	}
	return c
}

func (c *statsCounts) add(label string) {
	if _, ok := c.counts[label]; ok {
		return
	}
	c.labels = append(c.labels, label)
	c.counts[label] = 0
}

func (c *statsCounts) inc(label string) {
	if _, ok := c.counts[label]; ok {
		c.counts[label]++
	}
}

func (c *statsCounts) highest() int {
	m := 0
	for _, v := range c.counts {
		m = max(m, v)
	}
	return m
}

// table renders the counts as a code block
func (c *statsCounts) table(title string, header string) string {
	var b strings.Builder
	b.WriteString("**")
	b.WriteString(title)
	b.WriteString("**\n```\n")
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s\tCount\n", header)
	for _, label := range c.labels {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", label, humanize.Comma(int64(c.counts[label])))
	}
	_ = w.Flush()
	b.WriteString("```")
	return b.String()
}

// statsWindowDescription describes the statistics window, ex: "30 days"
func statsWindowDescription(days int) string {
	if days == 1 {
		return "day"
	}
	return fmt.Sprintf("%d days", days)
}

func runStatsCommand(c *commandContext) error {
	sub := discordSubcommandName(c.interaction)
	c.activity = "stats_" + strings.ReplaceAll(sub, "-", "_")

	if _, err := c.s.role(c.ctx, roleNameGuest); err != nil {
		return err
	}

	switch sub {
	case "channel":
		return runChannelStats(c)
	case "server":
		return runServerStats(c)
	case "self":
		return runSelfStats(c)
	case "left-members":
		return runLeftMembersStats(c)
	default:
		return fmt.Errorf("unknown subcommand %q", sub)
	}
}

// statsRoleLabels returns "@<name>" labels for the configured statistics
// roles that exist in the guild
func (s *Steward) statsRoleLabels(roles []*discordgo.Role) []string {
	var labels []string
	for _, name := range s.config.StatisticsRoles {
		if findRoleByName(roles, name) != nil {
			labels = append(labels, "@"+name)
		}
	}
	return labels
}

// countRoleMessage counts a message towards each of the author's roles.
// Committee isn't counted for Committee-Elect members, and Guest isn't
// counted for Members.
func countRoleMessage(counts *statsCounts, roleNames []string) {
	counts.inc(statsTotalLabel)
	for _, name := range roleNames {
		switch {
		case name == roleNameCommittee && slices.Contains(roleNames, roleNameCommitteeElect):
			continue
		case name == roleNameGuest && slices.Contains(roleNames, roleNameMember):
			continue
		}
		counts.inc("@" + name)
	}
}

// channelHistory calls fn for each non-bot message sent in the channel
// since the cutoff, newest first
func (s *Steward) channelHistory(
	ctx context.Context,
	channelID string,
	cutoff time.Time,
	fn func(m *discordgo.Message),
) error {
	before := ""
	seen := 0
	for seen < statsMaxMessagesPerChannel {
		page, err := s.discord.session.ChannelMessages(
			channelID,
			statsHistoryPageSize,
			before,
			"",
			"",
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return err
		}
		for _, m := range page {
			if m.Timestamp.Before(cutoff) {
				return nil
			}
			seen++
			if m.Author == nil || m.Author.Bot {
				continue
			}
			fn(m)
		}
		if len(page) < statsHistoryPageSize {
			return nil
		}
		before = page[len(page)-1].ID
	}
	return nil
}

// memberRoleNamesByID maps each guild member's user ID to their role names
func (s *Steward) memberRoleNamesByID(
	ctx context.Context,
	roles []*discordgo.Role,
) (map[string][]string, error) {
	members, err := s.allMembers(ctx)
	if err != nil {
		return nil, err
	}
	byID := rolesByID(roles)
	names := make(map[string][]string, len(members))
	for _, m := range members {
		if m.User != nil {
			names[m.User.ID] = memberRoleNames(m, byID)
		}
	}
	return names, nil
}

func (s *Steward) statsCutoff() time.Time {
	return s.now().AddDate(0, 0, -s.config.StatisticsDays)
}

func runChannelStats(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	channelID := c.interaction.ChannelID
	if v := strings.TrimSpace(optionString(c.options(), "channel")); v != "" {
		if !snowflakePattern.MatchString(v) {
			return userError("'%s' is not a valid channel ID.", v)
		}
		channelID = v
	}

	channels, err := s.guildChannels(ctx)
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
		return userError("Text channel with ID '%s' does not exist.", channelID)
	}

	roles, err := s.guildRoles(ctx)
	if err != nil {
		return err
	}
	if err = c.reply(":hourglass: Counting messages... :hourglass:"); err != nil {
		return err
	}
	memberRoles, err := s.memberRoleNamesByID(ctx, roles)
	if err != nil {
		return err
	}

	counts := newStatsCounts(s.statsRoleLabels(roles)...)
	if err = s.channelHistory(
		ctx, channel.ID, s.statsCutoff(), func(m *discordgo.Message) {
			countRoleMessage(counts, memberRoles[m.Author.ID])
		},
	); err != nil {
		return err
	}
	if counts.highest() == 0 {
		return userError("There are not enough messages sent in this channel.")
	}
	return c.edit(
		counts.table(
			fmt.Sprintf(
				"Most Active Roles in #%s (messages sent in the past %s)",
				channel.Name,
				statsWindowDescription(s.config.StatisticsDays),
			),
			"Role",
		),
	)
}

// guestTextChannels returns the text channels Guests can send messages in
func (s *Steward) guestTextChannels(ctx context.Context) ([]*discordgo.Channel, error) {
	guest, err := s.role(ctx, roleNameGuest)
	if err != nil {
		return nil, err
	}
	everyone, err := s.everyoneRole(ctx)
	if err != nil {
		return nil, err
	}
	channels, err := s.guildChannels(ctx)
	if err != nil {
		return nil, err
	}
	var accessible []*discordgo.Channel
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		perms := channelRolePermissions(ch, guest, everyone)
		if perms&discordgo.PermissionSendMessages != 0 {
			accessible = append(accessible, ch)
		}
	}
	return accessible, nil
}

func runServerStats(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	channels, err := s.guestTextChannels(ctx)
	if err != nil {
		return err
	}
	roles, err := s.guildRoles(ctx)
	if err != nil {
		return err
	}
	if err = c.reply(":hourglass: Counting messages... :hourglass:"); err != nil {
		return err
	}
	memberRoles, err := s.memberRoleNamesByID(ctx, roles)
	if err != nil {
		return err
	}

	roleCounts := newStatsCounts(s.statsRoleLabels(roles)...)
	channelCounts := newStatsCounts()
	cutoff := s.statsCutoff()
	for _, ch := range channels {
		label := "#" + ch.Name
		channelCounts.add(label)
		if err = s.channelHistory(
			ctx, ch.ID, cutoff, func(m *discordgo.Message) {
				channelCounts.inc(statsTotalLabel)
				channelCounts.inc(label)
				countRoleMessage(roleCounts, memberRoles[m.Author.ID])
			},
		); err != nil {
			if isForbidden(err) {
				continue
			}
			return err
		}
	}
	if roleCounts.highest() == 0 || channelCounts.highest() == 0 {
		return userError("There are not enough messages sent.")
	}

	window := statsWindowDescription(s.config.StatisticsDays)
	short := s.groupShortName(ctx)
	return c.edit(
		roleCounts.table(
			fmt.Sprintf("Most Active Roles in the %s Discord Server (past %s)", short, window),
			"Role",
		) + "\n" + channelCounts.table(
			fmt.Sprintf("Most Active Channels in the %s Discord Server (past %s)", short, window),
			"Channel",
		),
	)
}

func runSelfStats(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	channels, err := s.guestTextChannels(ctx)
	if err != nil {
		return err
	}
	if err = c.reply(":hourglass: Counting messages... :hourglass:"); err != nil {
		return err
	}

	counts := newStatsCounts()
	cutoff := s.statsCutoff()
	for _, ch := range channels {
		label := "#" + ch.Name
		counts.add(label)
		if err = s.channelHistory(
			ctx, ch.ID, cutoff, func(m *discordgo.Message) {
				if m.Author.ID == c.user.ID {
					counts.inc(statsTotalLabel)
					counts.inc(label)
				}
			},
		); err != nil {
			if isForbidden(err) {
				continue
			}
			return err
		}
	}
	if counts.highest() == 0 {
		return userError("You have not sent enough messages.")
	}
	return c.edit(
		counts.table(
			fmt.Sprintf(
				"Your Most Active Channels in the %s Discord Server (past %s)",
				s.groupShortName(ctx),
				statsWindowDescription(s.config.StatisticsDays),
			),
			"Channel",
		),
	)
}

func runLeftMembersStats(c *commandContext) error {
	ctx := c.ctx
	s := c.s

	roles, err := s.guildRoles(ctx)
	if err != nil {
		return err
	}

	var left []LeftMember
	if err = s.db.WithContext(ctx).Find(&left).Error; err != nil {
		return &CommandError{Code: ErrorCodeDatabase, Err: err}
	}

	counts := newStatsCounts(s.statsRoleLabels(roles)...)
	for _, m := range left {
		counts.inc(statsTotalLabel)
		for _, name := range m.Roles {
			counts.inc("@" + strings.TrimPrefix(name, "@"))
		}
	}
	if counts.highest() == 0 {
		return userError("Not enough data about members that have left the server.")
	}
	return c.reply(
		counts.table(
			fmt.Sprintf(
				"Most Common Roles that Members had when they left the %s Discord Server",
				s.groupShortName(ctx),
			),
			"Role",
		),
	)
}
