package steward

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"strings"
)

// Slash command names
const (
	CommandInduct                = "induct"
	CommandEnsureMembersInducted = "ensure-members-inducted"
	CommandMakeMember            = "makemember"
	CommandMakeApplicant         = "make-applicant"
	CommandWriteRoles            = "writeroles"
	CommandEditMessage           = "edit-message"
	CommandArchive               = "archive"
	CommandRemindMe              = "remindme"
	CommandDeleteAll             = "delete-all"
	CommandStrike                = "strike"
	CommandKill                  = "kill"
	CommandStats                 = "stats"
	CommandPing                  = "ping"
	CommandSource                = "source"
	CommandCommitteeHandover     = "committee-handover"
	CommandAnnualRolesReset      = "annual-roles-reset"
	CommandIncrementYearChannels = "increment-year-channels"
	CommandGetTokenAuthorisation = "get-token-authorisation"
)

// Context menu command names
const (
	UserCommandInduct                  = "Induct User"
	UserCommandSilentInduct            = "Silently Induct User"
	MessageCommandInduct               = "Induct Message Author"
	MessageCommandSilentInduct         = "Silently Induct Message Author"
	UserCommandMakeApplicant           = "Make Applicant"
	MessageCommandMakeApplicant        = "Make Message Author Applicant"
	UserCommandStrike                  = "Strike User"
	autocompleteMaxChoices             = 25
	customIDSeparator                  = ":"
	customIDOptOutIntroductionReminder = "opt_out_introduction_reminders_button"
	customIDOptInIntroductionReminder  = "opt_in_introduction_reminders_button"
	customIDShutdownConfirm            = "shutdown_confirm"
	customIDShutdownCancel             = "shutdown_cancel"
	customIDStrikeConfirm              = "yes_strike_member"
	customIDStrikeCancel               = "no_strike_member"
	customIDOutOfSyncBanConfirm        = "yes_out_of_sync_ban_member"
	customIDOutOfSyncBanCancel         = "no_out_of_sync_ban_member"
)

// command is a registered application command. Checks run in order:
// the invoker must be in the main guild (guildOnly), then hold the
// Committee role (committeeOnly).
type command struct {
	definition    func(s *Steward) *discordgo.ApplicationCommand
	run           func(c *commandContext) error
	autocomplete  func(c *commandContext) []*discordgo.ApplicationCommandOptionChoice
	activity      string
	guildOnly     bool
	committeeOnly bool
}

// componentHandler handles a button press. args are the colon-separated
// values following the handler's name in the custom ID.
type componentHandler func(c *commandContext, args []string) error

func newCustomID(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), customIDSeparator)
}

func parseCustomID(customID string) (name string, args []string) {
	parts := strings.Split(customID, customIDSeparator)
	return parts[0], parts[1:]
}

// commandContext carries everything a command needs to respond to its
// interaction
type commandContext struct {
	ctx         context.Context
	s           *Steward
	handler     InteractionHandler
	interaction *discordgo.InteractionCreate
	user        *discordgo.User

	// member is the invoker as a member of the main guild. It's only set
	// for commands with guild checks.
	member    *discordgo.Member
	logger    *slog.Logger
	name      string
	activity  string
	responded bool
}

func (c *commandContext) Context() context.Context {
	return c.ctx
}

func (c *commandContext) options() map[string]*discordgo.ApplicationCommandInteractionDataOption {
	return discordInteractionOptions(c.interaction)
}

// reply sends an ephemeral response, or edits the existing one if the
// interaction was already responded to
func (c *commandContext) reply(content string, components ...discordgo.MessageComponent) error {
	if c.responded {
		return c.edit(content, components...)
	}
	err := c.handler.Respond(
		c.ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content:    content,
				Flags:      discordgo.MessageFlagsEphemeral,
				Components: components,
			},
		},
	)
	if err == nil {
		c.responded = true
	}
	return err
}

// edit replaces the content (and components) of the initial response
func (c *commandContext) edit(content string, components ...discordgo.MessageComponent) error {
	if !c.responded {
		return c.reply(content, components...)
	}
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	_, err := c.handler.Edit(
		c.ctx, &discordgo.WebhookEdit{
			Content:    &content,
			Components: &components,
		},
	)
	return err
}

// update edits the message a pressed button belongs to
func (c *commandContext) update(content string, components ...discordgo.MessageComponent) error {
	if c.responded {
		return c.edit(content, components...)
	}
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	err := c.handler.Respond(
		c.ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content:    content,
				Components: components,
			},
		},
	)
	if err == nil {
		c.responded = true
	}
	return err
}

// targetUser returns the user a user command was invoked on
func (c *commandContext) targetUser() *discordgo.User {
	data := c.interaction.ApplicationCommandData()
	if data.Resolved == nil {
		return nil
	}
	if u, ok := data.Resolved.Users[data.TargetID]; ok {
		return u
	}
	if m, ok := data.Resolved.Members[data.TargetID]; ok {
		return m.User
	}
	return nil
}

// targetMessage returns the message a message command was invoked on
func (c *commandContext) targetMessage() *discordgo.Message {
	data := c.interaction.ApplicationCommandData()
	if data.Resolved == nil {
		return nil
	}
	return data.Resolved.Messages[data.TargetID]
}

// focusedOption returns the value typed so far into the option being
// autocompleted
func (c *commandContext) focusedOption() string {
	for _, opt := range c.options() {
		if opt.Focused {
			if v, ok := opt.Value.(string); ok {
				return v
			}
		}
	}
	return ""
}

func ephemeralButtonRow(buttons ...discordgo.MessageComponent) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for _, chunk := range chunkItems(discordMaxButtonsPerActionRow, buttons...) {
		rows = append(rows, discordgo.ActionsRow{Components: chunk})
	}
	return rows
}

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionString,
		Name:         "user",
		Description:  description,
		Required:     true,
		Autocomplete: true,
	}
}

func slashCommand(
	name string,
	description string,
	options ...*discordgo.ApplicationCommandOption,
) *discordgo.ApplicationCommand {
	dmPermission := false
	return &discordgo.ApplicationCommand{
		Name:         name,
		Description:  description,
		Type:         discordgo.ChatApplicationCommand,
		DMPermission: &dmPermission,
		Options:      options,
	}
}

func contextMenuCommand(
	name string,
	commandType discordgo.ApplicationCommandType,
) *discordgo.ApplicationCommand {
	dmPermission := false
	return &discordgo.ApplicationCommand{
		Name:         name,
		Type:         commandType,
		DMPermission: &dmPermission,
	}
}

// commandRegistry returns every command the bot handles, keyed by name
func commandRegistry() map[string]*command {
	minGroupMemberIDLength := 7
	minSnowflakeLength := 17
	minTextLength := 1
	minChannelIDLength := 17

	return map[string]*command{
		CommandInduct: {
			definition: func(s *Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandInduct,
					"Gives a user the @Guest role, then sends a message in #general saying hello.",
					userOption("The user to induct."),
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "silent",
						Description: "Triggers whether a message is sent or not.",
					},
				)
			},
			run:           runInductCommand,
			autocomplete:  autocompleteUninductedMembers,
			activity:      "induct",
			guildOnly:     true,
			committeeOnly: true,
		},
		UserCommandInduct: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return contextMenuCommand(UserCommandInduct, discordgo.UserApplicationCommand)
			},
			run:           runInductUserCommand(false),
			activity:      "non_silent_induct",
			guildOnly:     true,
			committeeOnly: true,
		},
		UserCommandSilentInduct: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return contextMenuCommand(UserCommandSilentInduct, discordgo.UserApplicationCommand)
			},
			run:           runInductUserCommand(true),
			activity:      "silent_induct",
			guildOnly:     true,
			committeeOnly: true,
		},
		MessageCommandInduct: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return contextMenuCommand(MessageCommandInduct, discordgo.MessageApplicationCommand)
			},
			run:           runInductMessageAuthorCommand(false),
			activity:      "non_silent_induct",
			guildOnly:     true,
			committeeOnly: true,
		},
		MessageCommandSilentInduct: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return contextMenuCommand(
					MessageCommandSilentInduct,
					discordgo.MessageApplicationCommand,
				)
			},
			run:           runInductMessageAuthorCommand(true),
			activity:      "silent_induct",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandEnsureMembersInducted: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandEnsureMembersInducted,
					"Ensures all users with the @Member role also have the @Guest role.",
				)
			},
			run:           runEnsureMembersInductedCommand,
			activity:      "ensure_members_inducted",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandMakeMember: {
			definition: func(s *Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandMakeMember,
					"Gives you the Member role when supplied with an appropriate Members ID.",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "groupmemberid",
						Description: "Your group member ID.",
						Required:    true,
						MinLength:   &minGroupMemberIDLength,
						MaxLength:   minGroupMemberIDLength,
					},
				)
			},
			run:       runMakeMemberCommand,
			activity:  "make_member",
			guildOnly: true,
		},
		CommandMakeApplicant: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandMakeApplicant,
					"Makes a user an applicant.",
					userOption("The user to make an Applicant."),
				)
			},
			run:           runMakeApplicantCommand,
			autocomplete:  autocompleteNonApplicantMembers,
			activity:      "make_applicant",
			guildOnly:     true,
			committeeOnly: true,
		},
		UserCommandMakeApplicant: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return contextMenuCommand(UserCommandMakeApplicant, discordgo.UserApplicationCommand)
			},
			run:           runMakeApplicantUserCommand,
			activity:      "make_applicant",
			guildOnly:     true,
			committeeOnly: true,
		},
		MessageCommandMakeApplicant: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return contextMenuCommand(
					MessageCommandMakeApplicant,
					discordgo.MessageApplicationCommand,
				)
			},
			run:           runMakeApplicantMessageAuthorCommand,
			activity:      "make_applicant",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandWriteRoles: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandWriteRoles,
					`Populates #roles with the correct messages.`,
				)
			},
			run:           runWriteRolesCommand,
			activity:      "write_roles",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandEditMessage: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandEditMessage,
					"Edits a message sent by the bot to the value supplied.",
					&discordgo.ApplicationCommandOption{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "channel",
						Description:  "The channel that the message, you wish to edit, is in.",
						Required:     true,
						Autocomplete: true,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "message_id",
						Description: "The ID of the message you wish to edit.",
						Required:    true,
						MinLength:   &minSnowflakeLength,
						MaxLength:   20,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "text",
						Description: "The new text you want the message to say.",
						Required:    true,
						MinLength:   &minTextLength,
						MaxLength:   discordMaxMessageLength,
					},
				)
			},
			run:           runEditMessageCommand,
			autocomplete:  autocompleteTextChannels,
			activity:      "edit_message",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandArchive: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandArchive,
					"Archives the selected category.",
					&discordgo.ApplicationCommandOption{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "category",
						Description:  "The category to archive.",
						Required:     true,
						Autocomplete: true,
						MinLength:    &minChannelIDLength,
						MaxLength:    20,
					},
				)
			},
			run:           runArchiveCommand,
			autocomplete:  autocompleteCategories,
			activity:      "archive",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandRemindMe: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				dmPermission := true
				cmd := slashCommand(
					CommandRemindMe,
					"Responds with the given message after the specified time.",
					&discordgo.ApplicationCommandOption{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "delay",
						Description:  "The amount of time to wait before reminding you.",
						Required:     true,
						Autocomplete: true,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "message",
						Description: "The message you want to be reminded with.",
						MaxLength:   discordReminderMessageMaxLength,
					},
				)
				cmd.DMPermission = &dmPermission
				return cmd
			},
			run:          runRemindMeCommand,
			autocomplete: autocompleteReminderDelay,
			activity:     "remind_me",
		},
		CommandDeleteAll: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandDeleteAll,
					"Delete all instances of the selected object type from the backend database.",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "reminders",
						Description: "Deletes all Reminders from the backend database.",
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "group-made-members",
						Description: "Deletes all Group Made Members from the backend database.",
					},
				)
			},
			run:           runDeleteAllCommand,
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandStrike: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandStrike,
					"Gives a user an additional strike.",
					userOption("The user to give a strike to."),
				)
			},
			run:           runStrikeCommand,
			autocomplete:  autocompleteAllMembers,
			activity:      "strike",
			guildOnly:     true,
			committeeOnly: true,
		},
		UserCommandStrike: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return contextMenuCommand(UserCommandStrike, discordgo.UserApplicationCommand)
			},
			run:           runStrikeUserCommand,
			activity:      "strike",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandKill: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(CommandKill, "Shut down the bot.")
			},
			run:           runKillCommand,
			activity:      "kill",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandStats: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandStats,
					"Various statistics about the server.",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "channel",
						Description: "Displays the stats for the current/a given channel.",
						Options: []*discordgo.ApplicationCommandOption{
							{
								Type:        discordgo.ApplicationCommandOptionChannel,
								Name:        "channel",
								Description: "The channel to display the stats for.",
								ChannelTypes: []discordgo.ChannelType{
									discordgo.ChannelTypeGuildText,
								},
							},
						},
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "server",
						Description: "Displays the stats for the whole server.",
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "self",
						Description: "Displays stats about the number of messages you have sent.",
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "left-members",
						Description: "Displays stats about the members that have left the server.",
					},
				)
			},
			run:       runStatsCommand,
			guildOnly: true,
		},
		CommandCommitteeHandover: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandCommitteeHandover,
					"Initiates the annual Discord handover procedure for new committee",
				)
			},
			run:           runCommitteeHandoverCommand,
			activity:      "committee_handover",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandAnnualRolesReset: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandAnnualRolesReset,
					"Removes the @Member role and academic year roles from all users",
				)
			},
			run:           runAnnualRolesResetCommand,
			activity:      "annual_roles_reset",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandIncrementYearChannels: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandIncrementYearChannels,
					"Iterates the year channels, archiving and creating channels as needed.",
				)
			},
			run:           runIncrementYearChannelsCommand,
			activity:      "increment_year_channels",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandGetTokenAuthorisation: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(
					CommandGetTokenAuthorisation,
					"Checks the authorisations held by the token.",
				)
			},
			run:           runGetTokenAuthorisationCommand,
			activity:      "get_token_authorisation",
			guildOnly:     true,
			committeeOnly: true,
		},
		CommandPing: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(CommandPing, "Replies with Pong!")
			},
			run:      runPingCommand,
			activity: "ping",
		},
		CommandSource: {
			definition: func(*Steward) *discordgo.ApplicationCommand {
				return slashCommand(CommandSource, "Displays information about the source code.")
			},
			run: runSourceCommand,
		},
	}
}

// componentRegistry returns the button handlers, keyed by the first
// segment of the custom ID
func componentRegistry() map[string]componentHandler {
	return map[string]componentHandler{
		customIDOptOutIntroductionReminder: handleOptOutIntroductionRemindersButton,
		customIDOptInIntroductionReminder:  handleOptInIntroductionRemindersButton,
		customIDShutdownConfirm:            handleShutdownConfirmButton,
		customIDShutdownCancel:             handleShutdownCancelButton,
		customIDStrikeConfirm:              handleStrikeConfirmButton,
		customIDStrikeCancel:               handleStrikeCancelButton,
		customIDOutOfSyncBanConfirm:        handleOutOfSyncBanConfirmButton,
		customIDOutOfSyncBanCancel:         handleOutOfSyncBanCancelButton,
	}
}

// applicationCommands returns the definitions of every registered command
func (s *Steward) applicationCommands() []*discordgo.ApplicationCommand {
	commands := make([]*discordgo.ApplicationCommand, 0, len(s.commands))
	for _, name := range sortedKeys(s.commands) {
		commands = append(commands, s.commands[name].definition(s))
	}
	return commands
}

// RegisterCommands registers every command with the main guild
func (s *Steward) RegisterCommands(ctx context.Context) ([]*discordgo.ApplicationCommand, error) {
	return s.discord.registerCommands(s.applicationCommands(), discordgo.WithContext(ctx))
}
