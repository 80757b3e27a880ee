package steward

import (
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"net/http"
	"slices"
	"strings"
)

// Error codes included in error replies, so committee members can look up
// what went wrong.
const (
	ErrorCodeGuildDoesNotExist              = "E1011"
	ErrorCodeCommitteeRoleDoesNotExist      = "E1021"
	ErrorCodeGuestRoleDoesNotExist          = "E1022"
	ErrorCodeMemberRoleDoesNotExist         = "E1023"
	ErrorCodeArchivistRoleDoesNotExist      = "E1024"
	ErrorCodeApplicantRoleDoesNotExist      = "E1025"
	ErrorCodeCommitteeElectRoleDoesNotExist = "E1026"
	ErrorCodeRolesChannelDoesNotExist       = "E1031"
	ErrorCodeGeneralChannelDoesNotExist     = "E1032"
	ErrorCodeMembersListUnavailable         = "E1041"
	ErrorCodeEveryoneRoleUnavailable        = "E1042"
	ErrorCodeDatabase                       = "E1043"
	ErrorCodeForbidden                      = "E1044"
)

const (
	roleNameCommittee      = "Committee"
	roleNameCommitteeElect = "Committee-Elect"
	roleNameGuest          = "Guest"
	roleNameMember         = "Member"
	roleNameArchivist      = "Archivist"
	roleNameApplicant      = "Applicant"

	channelNameRoles         = "roles"
	channelNameGeneral       = "general"
	channelNameIntroductions = "introductions"
	channelNameRules         = "welcome"
)

// Names of scheduled tasks, as they appear in error messages and logs
const (
	taskSendIntroductionReminders  = "send_introduction_reminders"
	taskKickNoIntroductionMembers  = "kick_no_introduction_members"
	taskSendGetRolesReminders      = "send_get_roles_reminders"
	taskClearRemindersBacklog      = "clear_reminders_backlog"
	errorMessageNoCommitteeMention = "committee"
)

// entityDependents lists what can't function without a given role or channel
type entityDependents struct {
	Commands []string
	Tasks    []string
	Events   []string
}

var errMemberNotInMainGuild = errors.New("member is not in the main guild")

// DoesNotExistError indicates a required role, channel or guild couldn't
// be found in the main guild.
type DoesNotExistError struct {
	// Kind is one of "role", "channel" or "guild"
	Kind       string
	Name       string
	Code       string
	Dependents entityDependents
}

func (e *DoesNotExistError) Error() string {
	name := fmt.Sprintf("%q %s", e.Name, e.Kind)
	if e.Kind == "channel" {
		name = fmt.Sprintf("%q channel", "#"+e.Name)
	}
	if e.Kind == "guild" {
		return "Server with given ID does not exist or is not accessible to the bot."
	}

	var parts []string
	if len(e.Dependents.Commands) > 0 {
		parts = append(parts, dependentsClause(e.Dependents.Commands, "/", "command"))
	}
	if len(e.Dependents.Tasks) > 0 {
		parts = append(parts, dependentsClause(e.Dependents.Tasks, "", "task"))
	}
	if len(e.Dependents.Events) > 0 {
		parts = append(parts, dependentsClause(e.Dependents.Events, "", "event"))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s does not exist.", capitalize(name))
	}
	return fmt.Sprintf(
		"%s must exist in order to use %s.",
		name,
		strings.Join(parts, " and "),
	)
}

// dependentsClause renders `the "/a", "/b" & "/c" commands`
func dependentsClause(items []string, prefix string, noun string) string {
	sorted := slices.Clone(items)
	slices.Sort(sorted)
	quoted := make([]string, len(sorted))
	for i, item := range sorted {
		quoted[i] = fmt.Sprintf("%q", prefix+item)
	}
	if len(quoted) > 1 {
		noun += "s"
	}
	return fmt.Sprintf("the %s %s", humanJoin(quoted), noun)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func errGuildDoesNotExist() *DoesNotExistError {
	return &DoesNotExistError{Kind: "guild", Code: ErrorCodeGuildDoesNotExist}
}

var roleDependents = map[string]struct {
	code       string
	dependents entityDependents
}{
	roleNameCommittee: {
		code: ErrorCodeCommitteeRoleDoesNotExist,
		dependents: entityDependents{
			Commands: []string{
				"writeroles", "edit-message", "induct", "archive", "delete-all",
				"strike", "kill", "make-applicant", "ensure-members-inducted",
				"committee-handover", "annual-roles-reset", "increment-year-channels",
				"get-token-authorisation",
			},
		},
	},
	roleNameCommitteeElect: {
		code:       ErrorCodeCommitteeElectRoleDoesNotExist,
		dependents: entityDependents{Commands: []string{"committee-handover"}},
	},
	roleNameGuest: {
		code: ErrorCodeGuestRoleDoesNotExist,
		dependents: entityDependents{
			Commands: []string{
				"archive", "ensure-members-inducted", "induct", "stats",
				"increment-year-channels",
			},
			Tasks: []string{
				taskSendGetRolesReminders,
				taskSendIntroductionReminders,
				taskKickNoIntroductionMembers,
			},
		},
	},
	roleNameMember: {
		code: ErrorCodeMemberRoleDoesNotExist,
		dependents: entityDependents{
			Commands: []string{"makemember", "ensure-members-inducted", "annual-roles-reset"},
		},
	},
	roleNameArchivist: {
		code:       ErrorCodeArchivistRoleDoesNotExist,
		dependents: entityDependents{Commands: []string{"archive", "increment-year-channels"}},
	},
	roleNameApplicant: {
		code:       ErrorCodeApplicantRoleDoesNotExist,
		dependents: entityDependents{Commands: []string{"make-applicant"}},
	},
}

var channelDependents = map[string]struct {
	code       string
	dependents entityDependents
}{
	channelNameRoles: {
		code:       ErrorCodeRolesChannelDoesNotExist,
		dependents: entityDependents{Commands: []string{"writeroles"}},
	},
	channelNameGeneral: {
		code:       ErrorCodeGeneralChannelDoesNotExist,
		dependents: entityDependents{Commands: []string{"induct"}},
	},
}

func errRoleDoesNotExist(name string) *DoesNotExistError {
	e := &DoesNotExistError{Kind: "role", Name: name}
	if d, ok := roleDependents[name]; ok {
		e.Code = d.code
		e.Dependents = d.dependents
	}
	return e
}

func errChannelDoesNotExist(name string) *DoesNotExistError {
	e := &DoesNotExistError{Kind: "channel", Name: name}
	if d, ok := channelDependents[name]; ok {
		e.Code = d.code
		e.Dependents = d.dependents
	}
	return e
}

// CommandError is returned by a command to report a failure to the
// invoking user. Message is shown to the user, LogMessage is only logged.
type CommandError struct {
	Code       string
	Message    string
	LogMessage string
	Err        error
}

func (e *CommandError) Error() string {
	var parts []string
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.LogMessage != "" {
		parts = append(parts, e.LogMessage)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// userError returns an error whose message is shown to the invoking user
func userError(format string, args ...any) *CommandError {
	return &CommandError{Message: fmt.Sprintf(format, args...)}
}

// CriticalError wraps unrecoverable misconfiguration. Reporting one
// shuts the bot down.
type CriticalError struct {
	Err error
}

func (e *CriticalError) Error() string {
	return "critical: " + e.Err.Error()
}

func (e *CriticalError) Unwrap() error {
	return e.Err
}

// isForbidden reports whether err is a discord 403 response
func isForbidden(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusForbidden
	}
	return false
}

// isNotFound reports whether err is a discord 404 response
func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// discordErrorCode returns the JSON error code from a discord REST error
func discordErrorCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code
	}
	return 0
}

// commandActivities describe what the user was trying to do, for each
// command, in error replies
var commandActivities = map[string]string{
	"annual_roles_reset":               "reset the membership and year roles",
	"archive":                          "archive the selected category",
	"committee_handover":               "run the committee handover",
	"increment_year_channels":          "increment the year channels",
	"get_token_authorisation":          "check the token authorisation",
	"delete_all_reminders":             "delete all reminders",
	"delete_all_group_made_members":    "delete all group made members",
	"edit_message":                     "edit the message",
	"induct":                           "induct user",
	"silent_induct":                    "silently induct user",
	"non_silent_induct":                "induct user and send welcome message",
	"ensure_members_inducted":          "ensure all members are inducted",
	"make_member":                      "make you a member",
	"make_applicant":                   "make user an applicant",
	"opt_out_introduction_reminders":   "opt-in/out of introduction reminders",
	"ping":                             "reply to ping",
	"remind_me":                        "remind you",
	"stats_channel":                    "display channel statistics",
	"stats_server":                     "display whole server statistics",
	"stats_self":                       "display your statistics",
	"stats_left_members":               "display statistics about the members that have left the server",
	"strike":                           "give the user an additional strike",
	"write_roles":                      "send messages",
	"kill":                             "shut down the bot",
}

// formatErrorReply builds the ephemeral error reply shown to users
func formatErrorReply(
	committeeMention string,
	code string,
	commandName string,
	message string,
) string {
	var b strings.Builder
	if code != "" {
		if committeeMention == "" {
			committeeMention = errorMessageNoCommitteeMention
		}
		fmt.Fprintf(
			&b,
			"**Contact a %s member, referencing error code: %s**\n",
			committeeMention,
			code,
		)
	}

	b.WriteString(":warning:There was an error")
	if activity, ok := commandActivities[commandName]; ok {
		b.WriteString(" when trying to ")
		b.WriteString(activity)
	}

	if message != "" {
		b.WriteString(":")
	} else {
		b.WriteString(".")
	}
	b.WriteString(":warning:")

	if message != "" {
		b.WriteString("\n`")
		b.WriteString(escapeMentions(strings.TrimSpace(message)))
		b.WriteString("`")
	}
	return b.String()
}

// formatErrorLog returns the message logged alongside an error reply
func formatErrorLog(code string, commandName string, logMessage string) string {
	var b strings.Builder
	if code != "" {
		b.WriteString(code)
		b.WriteString(" ")
	}
	if commandName != "" {
		fmt.Fprintf(&b, "(%s) ", commandName)
	}
	b.WriteString(logMessage)
	return strings.TrimSpace(b.String())
}
