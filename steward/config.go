//nolint:lll // struct tags can't be split
package steward

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	EnvvarSetEnvPrefix    = "GUILDSTEWARD_ENV_PREFIX"
	DefaultEnvPrefix      = ""
	DefaultDatabaseType   = "sqlite"
	DefaultDatabase       = "guildsteward.sqlite3"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second

	DefaultShutdownTimeout                     = 60 * time.Second
	DefaultReadTimeout                         = 5 * time.Second
	DefaultReadHeaderTimeout                   = 5 * time.Second
	DefaultWriteTimeout                        = 10 * time.Second
	DefaultIdleTimeout                         = 30 * time.Second
	DefaultDiscordWebhookServerTLSminVersion   = tls.VersionTLS12
	DefaultDiscordWebhookLogLevel              = slog.LevelInfo
	DefaultDiscordLogLevel                     = slog.LevelInfo
	DefaultDiscordgoLogLevel                   = slog.LevelWarn
	DefaultDiscordGatewayIntent                = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentsGuildMembers
	DefaultAPILogLevel                         = slog.LevelInfo
	DefaultAPISessionMaxAge                    = 6 * time.Hour
	DefaultUITLSMinVersion                     = tls.VersionTLS12
	DefaultDatabaseSlowThreshold               = 200 * time.Millisecond
	DefaultDatabaseLogLevel                    = slog.LevelWarn
	DefaultAPICORSAllowCredentials             = true
	defaultListenNetwork                       = "tcp"
	discordMaxMessageLength                    = 2000
	DefaultPingEasterEggProbability            = 0.01
	DefaultMessagesFilePath                    = "messages.json"
	DefaultIntroductionReminderInterval        = 6 * time.Hour
	DefaultKickNoIntroductionMembersDelay      = 5 * 24 * time.Hour
	DefaultGetRolesRemindersDelay              = 40 * time.Hour
	DefaultGetRolesRemindersInterval           = 24 * time.Hour
	DefaultStatisticsDays                      = 30
	DefaultManualModerationWarningLocation     = "DM"
	DefaultMembersListRequestTimeout           = 30 * time.Second
	DefaultMembersListProfileURL               = "https://guildofstudents.com/profile"
	minKickNoIntroductionMembersDelay          = 24 * time.Hour
	DefaultLogChannelWebhookLevel              = slog.LevelWarn
	DefaultLogChannelWebhookMessagesPerMinute  = 20
	DefaultDiscordWebhookServerListen          = "127.0.0.1:5001"
	DefaultAPIListen                           = "127.0.0.1:5000"
	discordWebhookURLPrefix                    = "https://discord.com/api/webhooks/"
	guildMembersPageSize                       = 1000
)

// LevelCritical is used for unrecoverable misconfiguration. Records at this
// level are always followed by a shutdown.
const LevelCritical = slog.LevelError + 4

type DiscordInteractionReceiveMethod string

var (
	discordInteractionReceiveMethodGateway DiscordInteractionReceiveMethod = "gateway"
	discordInteractionReceiveMethodWebhook DiscordInteractionReceiveMethod = "webhook"
)

var (
	discordBotTokenPattern     = regexp.MustCompile(`\A([A-Za-z0-9]{24,26})\.([A-Za-z0-9]{6})\.([A-Za-z0-9_-]{27,38})\z`)
	snowflakePattern           = regexp.MustCompile(`\A\d{17,20}\z`)
	membersListCookiePattern   = regexp.MustCompile(`\A[A-Fa-f\d]{128,256}\z`)
	DefaultStatisticsRoleNames = []string{
		"Committee",
		"Committee-Elect",
		"Student Rep",
		"Member",
		"Guest",
		"Server Booster",
		"Foundation Year",
		"First Year",
		"Second Year",
		"Final Year",
		"Year In Industry",
		"Year Abroad",
		"PGT",
		"PGR",
		"Alumnus/Alumna",
		"Postdoc",
		"Quiz Victor",
	}

	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// ClockDuration is an interval written with seconds, minutes and hours
// only (see [ParseClockDuration])
type ClockDuration time.Duration

func (d ClockDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *ClockDuration) UnmarshalText(text []byte) error {
	v, err := ParseClockDuration(string(text))
	if err != nil {
		return err
	}
	*d = ClockDuration(v)
	return nil
}

func (d ClockDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// IntroductionReminderMode controls whether members who haven't introduced
// themselves receive DM reminders, and how often.
type IntroductionReminderMode string

const (
	IntroductionRemindersOff      IntroductionReminderMode = "off"
	IntroductionRemindersOnce     IntroductionReminderMode = "once"
	IntroductionRemindersInterval IntroductionReminderMode = "interval"
)

func (m IntroductionReminderMode) Enabled() bool {
	return m == IntroductionRemindersOnce || m == IntroductionRemindersInterval
}

func (m *IntroductionReminderMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case string(IntroductionRemindersOnce), string(IntroductionRemindersInterval):
		*m = IntroductionReminderMode(v)
		return nil
	case string(IntroductionRemindersOff):
		*m = IntroductionRemindersOff
		return nil
	}
	b, err := ParseBool(v)
	if err != nil {
		return fmt.Errorf(
			"SEND_INTRODUCTION_REMINDERS must be one of 'once', 'interval' or a boolean value, got %q",
			string(text),
		)
	}
	if b {
		*m = IntroductionRemindersOnce
	} else {
		*m = IntroductionRemindersOff
	}
	return nil
}

func (m IntroductionReminderMode) MarshalText() ([]byte, error) {
	return []byte(m), nil
}

// Config holds every setting read from the environment at startup.
type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the bot's connection to Discord
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Group describes the community the bot serves
	Group *GroupConfig `yaml:"group" mapstructure:"group" json:"group"`

	// MembersList configures retrieval of the membership list used by /makemember
	MembersList *MembersListConfig `yaml:"members_list" mapstructure:"members_list" json:"members_list"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// PingCommandEasterEggProbability is the chance /ping replies with the
	// alternate response
	PingCommandEasterEggProbability float64 `yaml:"ping_command_easter_egg_probability" mapstructure:"ping_command_easter_egg_probability" json:"ping_command_easter_egg_probability" binding:"min=0,max=1"`

	// MessagesFilePath points at the JSON file holding welcome and roles messages
	MessagesFilePath string `yaml:"messages_file_path" mapstructure:"messages_file_path" json:"messages_file_path" binding:"required"`

	SendIntroductionReminders         IntroductionReminderMode `yaml:"send_introduction_reminders" mapstructure:"send_introduction_reminders" json:"send_introduction_reminders"`
	SendIntroductionRemindersInterval ClockDuration            `yaml:"send_introduction_reminders_interval" mapstructure:"send_introduction_reminders_interval" json:"send_introduction_reminders_interval"`

	KickNoIntroductionMembers      bool          `yaml:"kick_no_introduction_members" mapstructure:"kick_no_introduction_members" json:"kick_no_introduction_members"`
	KickNoIntroductionMembersDelay time.Duration `yaml:"kick_no_introduction_members_delay" mapstructure:"kick_no_introduction_members_delay" json:"kick_no_introduction_members_delay"`

	SendGetRolesReminders         bool          `yaml:"send_get_roles_reminders" mapstructure:"send_get_roles_reminders" json:"send_get_roles_reminders"`
	SendGetRolesRemindersDelay    time.Duration `yaml:"send_get_roles_reminders_delay" mapstructure:"send_get_roles_reminders_delay" json:"send_get_roles_reminders_delay" binding:"min=0"`
	SendGetRolesRemindersInterval ClockDuration `yaml:"send_get_roles_reminders_interval" mapstructure:"send_get_roles_reminders_interval" json:"send_get_roles_reminders_interval"`

	// StatisticsDays is the window, in days, used by /stats
	StatisticsDays int `yaml:"statistics_days" mapstructure:"statistics_days" json:"statistics_days" binding:"min=1"`

	// StatisticsRoles are the role names broken out by /stats
	StatisticsRoles []string `yaml:"statistics_roles" mapstructure:"statistics_roles" json:"statistics_roles" binding:"min=1"`

	// LogLevel is the console log level (CONSOLE_LOG_LEVEL)
	LogLevel *slog.LevelVar `yaml:"console_log_level" mapstructure:"console_log_level" json:"console_log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`

	messages *Messages
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"bot_token" mapstructure:"bot_token" json:"bot_token" log:"[redacted]" binding:"required"`

	// Discord application ID. If empty, the ID reported in the gateway
	// Ready event is used.
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID is the ID of the main guild. Commands are registered here,
	// and every membership check is made against it.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// LogChannelWebhookURL, if set, receives a copy of every WARN+ log record
	LogChannelWebhookURL string `yaml:"log_channel_webhook_url" mapstructure:"log_channel_webhook_url" json:"log_channel_webhook_url" log:"[redacted]"`

	// Required when receiving webhook events rather than websockets
	WebhookServer DiscordWebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// GroupConfig describes the community group that owns the guild.
type GroupConfig struct {
	Name                  string `yaml:"name" mapstructure:"name" json:"name"`
	ShortName             string `yaml:"short_name" mapstructure:"short_name" json:"short_name"`
	PurchaseMembershipURL string `yaml:"purchase_membership_url" mapstructure:"purchase_membership_url" json:"purchase_membership_url" binding:"omitempty,url"`
	MembershipPerksURL    string `yaml:"membership_perks_url" mapstructure:"membership_perks_url" json:"membership_perks_url" binding:"omitempty,url"`
	ModerationDocumentURL string `yaml:"moderation_document_url" mapstructure:"moderation_document_url" json:"moderation_document_url" binding:"required,url"`

	// ManualModerationWarningMessageLocation is either "DM" or the name of a
	// text channel in the main guild
	ManualModerationWarningMessageLocation string `yaml:"manual_moderation_warning_message_location" mapstructure:"manual_moderation_warning_message_location" json:"manual_moderation_warning_message_location" binding:"required"`
}

// FullName returns the configured group name, falling back to the guild name.
func (g GroupConfig) FullName(guildName string) string {
	if g.Name != "" {
		return g.Name
	}
	if guildName != "" {
		return guildName
	}
	return "our community group"
}

// Short returns the short name of the group, derived from the full name if
// one isn't configured.
func (g GroupConfig) Short(guildName string) string {
	if g.ShortName != "" {
		return g.ShortName
	}
	full := g.FullName(guildName)
	if !strings.Contains(full, " ") {
		return full
	}
	var initials strings.Builder
	for _, word := range strings.Fields(full) {
		if strings.EqualFold(word, "of") || strings.EqualFold(word, "the") {
			continue
		}
		initials.WriteString(strings.ToUpper(word[:1]))
	}
	return initials.String()
}

// MembersListConfig configures the HTTP request made for the membership list
type MembersListConfig struct {
	URL           string        `yaml:"url" mapstructure:"url" json:"url" binding:"required,url"`
	SessionCookie string        `yaml:"url_session_cookie" mapstructure:"url_session_cookie" json:"url_session_cookie" log:"[redacted]" binding:"required"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`

	// ProfileURL is the page checked by /get-token-authorisation
	ProfileURL string `yaml:"profile_url" mapstructure:"profile_url" json:"profile_url" binding:"omitempty,url"`
}

// DiscordWebhookServerConfig represents the configuration for the Discord
// interactions endpoint.
type DiscordWebhookServerConfig struct {
	// Determines if the webhook server should be active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5001").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	// In the Discord dev portal for your bot, this is under 'General Information'
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true"`

	// The logging level for the webhook server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	// The address and port on which the server should listen. The API is
	// disabled when empty.
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]" binding:"required_with=Listen"`

	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// Max age for session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age" binding:"min=10m,max=24h"`

	// If true, the SameSite attribute of the session cookie will be set to 'None'
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	// EnablePprof mounts the pprof handlers under /debug/pprof
	EnablePprof bool `yaml:"enable_pprof" mapstructure:"enable_pprof" json:"enable_pprof"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string{}, DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string{}, DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string{}, DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// Messages are the community-specific message templates, loaded from
// [Config.MessagesFilePath].
type Messages struct {
	WelcomeMessages []string `json:"welcome_messages"`
	RolesMessages   []string `json:"roles_messages"`
}

// LoadMessages reads and validates the messages JSON file at path
func LoadMessages(path string) (*Messages, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return nil, fmt.Errorf("MESSAGES_FILE_PATH must be a path to a .json file, got %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("MESSAGES_FILE_PATH must be a path to an existing file: %w", err)
	}

	var m Messages
	if err = json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("messages file %q is not valid JSON: %w", path, err)
	}

	var errs []error
	if len(m.WelcomeMessages) == 0 {
		errs = append(errs, errors.New("messages file must contain a non-empty 'welcome_messages' list"))
	}
	if len(m.RolesMessages) == 0 {
		errs = append(errs, errors.New("messages file must contain a non-empty 'roles_messages' list"))
	}
	for i, msg := range m.RolesMessages {
		if strings.TrimSpace(msg) == "" {
			errs = append(errs, fmt.Errorf("roles_messages[%d] is empty", i))
		}
	}
	return &m, errors.Join(errs...)
}

// Messages returns the messages loaded by [Config.Validate]
func (c *Config) Messages() *Messages {
	return c.messages
}

// Validate checks every setting, returning a single error describing all
// problems found. It also loads the messages file.
func (c *Config) Validate() error {
	var errs []error

	if err := structValidator.Struct(c); err != nil {
		errs = append(errs, err)
	}

	if c.Discord == nil {
		errs = append(errs, errors.New("discord config missing"))
	} else {
		if !discordBotTokenPattern.MatchString(c.Discord.Token) {
			errs = append(errs, errors.New("DISCORD_BOT_TOKEN must be a valid Discord bot token"))
		}
		if !snowflakePattern.MatchString(c.Discord.GuildID) {
			errs = append(errs, errors.New("DISCORD_GUILD_ID must be a valid Discord guild ID"))
		}
		if c.Discord.ApplicationID != "" && !snowflakePattern.MatchString(c.Discord.ApplicationID) {
			errs = append(errs, errors.New("DISCORD_APPLICATION_ID must be a valid Discord application ID"))
		}
		if u := c.Discord.LogChannelWebhookURL; u != "" {
			if _, err := url.ParseRequestURI(u); err != nil || !strings.HasPrefix(u, discordWebhookURLPrefix) {
				errs = append(
					errs,
					errors.New("DISCORD_LOG_CHANNEL_WEBHOOK_URL must be a valid webhook URL that points to a discord channel where logs should be displayed"),
				)
			}
		}
	}

	if c.MembersList != nil && !membersListCookiePattern.MatchString(c.MembersList.SessionCookie) {
		errs = append(errs, errors.New("MEMBERS_LIST_URL_SESSION_COOKIE must be a valid .ASPXAUTH cookie"))
	}

	if math.IsNaN(c.PingCommandEasterEggProbability) {
		errs = append(errs, errors.New("PING_COMMAND_EASTER_EGG_PROBABILITY must be a number"))
	}

	switch c.SendIntroductionReminders {
	case IntroductionRemindersOff, IntroductionRemindersOnce, IntroductionRemindersInterval:
	default:
		errs = append(errs, fmt.Errorf("invalid SEND_INTRODUCTION_REMINDERS value %q", c.SendIntroductionReminders))
	}

	if c.SendIntroductionRemindersInterval.Duration() < time.Second {
		errs = append(errs, errors.New("SEND_INTRODUCTION_REMINDERS_INTERVAL must be at least 1 second"))
	}
	if c.SendGetRolesRemindersInterval.Duration() < time.Second {
		errs = append(errs, errors.New("SEND_GET_ROLES_REMINDERS_INTERVAL must be at least 1 second"))
	}

	if c.KickNoIntroductionMembers && c.KickNoIntroductionMembersDelay <= minKickNoIntroductionMembersDelay {
		errs = append(errs, errors.New("KICK_NO_INTRODUCTION_MEMBERS_DELAY must be longer than 1 day"))
	}

	messages, err := LoadMessages(c.MessagesFilePath)
	if err != nil {
		errs = append(errs, err)
	}
	c.messages = messages

	return errors.Join(errs...)
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	discordWebhookLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	discordWebhookLogLevel.Set(DefaultDiscordWebhookLogLevel)

	return &Config{
		DatabaseType:                      DefaultDatabaseType,
		Database:                          DefaultDatabase,
		DatabaseLogLevel:                  dbLogLevel,
		DatabaseSlowThreshold:             DefaultDatabaseSlowThreshold,
		LogLevel:                          mainLogLevel,
		StartupTimeout:                    DefaultStartupTimeout,
		ShutdownTimeout:                   DefaultShutdownTimeout,
		PingCommandEasterEggProbability:   DefaultPingEasterEggProbability,
		MessagesFilePath:                  DefaultMessagesFilePath,
		SendIntroductionReminders:         IntroductionRemindersOnce,
		SendIntroductionRemindersInterval: ClockDuration(DefaultIntroductionReminderInterval),
		KickNoIntroductionMembersDelay:    DefaultKickNoIntroductionMembersDelay,
		SendGetRolesReminders:             true,
		SendGetRolesRemindersDelay:        DefaultGetRolesRemindersDelay,
		SendGetRolesRemindersInterval:     ClockDuration(DefaultGetRolesRemindersInterval),
		StatisticsDays:                    DefaultStatisticsDays,
		StatisticsRoles:                   append([]string{}, DefaultStatisticsRoleNames...),
		Group: &GroupConfig{
			ManualModerationWarningMessageLocation: DefaultManualModerationWarningLocation,
		},
		MembersList: &MembersListConfig{
			Timeout:    DefaultMembersListRequestTimeout,
			ProfileURL: DefaultMembersListProfileURL,
		},
		Discord: &DiscordConfig{
			WebhookServer: DiscordWebhookServerConfig{
				Listen:        DefaultDiscordWebhookServerListen,
				ListenNetwork: defaultListenNetwork,
				SSL: SSLConfig{
					TLSMinVersion: DefaultDiscordWebhookServerTLSminVersion,
				},
				LogLevel:          discordWebhookLogLevel,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ReadTimeout:       DefaultReadTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		API: &APIConfig{
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultUITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
			CORS:              DefaultCORSConfig(),
		},
	}
}
