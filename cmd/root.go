package cmd

import (
	"context"
	"fmt"
	"github.com/arcward/guildsteward/steward"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"
)

var (
	cfg        = steward.DefaultConfig()
	configFile string
)

// configKeys are read from environment variables named after the key, with
// '.' replaced by '_' (ex: discord.bot_token -> DISCORD_BOT_TOKEN)
var configKeys = []string{
	"database",
	"database_type",
	"database_log_level",
	"database_slow_threshold",
	"console_log_level",
	"startup_timeout",
	"shutdown_timeout",
	"ping_command_easter_egg_probability",
	"messages_file_path",
	"send_introduction_reminders",
	"send_introduction_reminders_interval",
	"kick_no_introduction_members",
	"kick_no_introduction_members_delay",
	"send_get_roles_reminders",
	"send_get_roles_reminders_delay",
	"send_get_roles_reminders_interval",
	"statistics_days",
	"statistics_roles",

	"discord.bot_token",
	"discord.application_id",
	"discord.guild_id",
	"discord.log_channel_webhook_url",
	"discord.log_level",
	"discord.discordgo_log_level",
	"discord.gateway_intents",

	"group.name",
	"group.short_name",

	"members_list.url",
	"members_list.url_session_cookie",
	"members_list.timeout",
	"members_list.profile_url",

	"api.listen",
	"api.listen_network",
	"api.secret",
	"api.log_level",
	"api.ssl.cert",
	"api.ssl.key",
	"api.ssl.tls_min_version",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
	"api.cors.allow_credentials",
	"api.cors.max_age",
	"api.read_timeout",
	"api.read_header_timeout",
	"api.write_timeout",
	"api.idle_timeout",
	"api.session_max_age",
	"api.development",
	"api.enable_pprof",
}

// renamedConfigKeys are keys whose environment variable doesn't follow
// the key name
var renamedConfigKeys = map[string]string{
	"group.purchase_membership_url":                    "PURCHASE_MEMBERSHIP_URL",
	"group.membership_perks_url":                       "MEMBERSHIP_PERKS_URL",
	"group.moderation_document_url":                    "MODERATION_DOCUMENT_URL",
	"group.manual_moderation_warning_message_location": "MANUAL_MODERATION_WARNING_MESSAGE_LOCATION",

	"discord.webhook_server.enabled":             "WEBHOOK_SERVER_ENABLED",
	"discord.webhook_server.listen":              "WEBHOOK_SERVER_LISTEN",
	"discord.webhook_server.listen_network":      "WEBHOOK_SERVER_LISTEN_NETWORK",
	"discord.webhook_server.public_key":          "DISCORD_PUBLIC_KEY",
	"discord.webhook_server.log_level":           "WEBHOOK_SERVER_LOG_LEVEL",
	"discord.webhook_server.ssl.cert":            "WEBHOOK_SERVER_SSL_CERT",
	"discord.webhook_server.ssl.key":             "WEBHOOK_SERVER_SSL_KEY",
	"discord.webhook_server.ssl.tls_min_version": "WEBHOOK_SERVER_SSL_TLS_MIN_VERSION",
	"discord.webhook_server.read_timeout":        "WEBHOOK_SERVER_READ_TIMEOUT",
	"discord.webhook_server.read_header_timeout": "WEBHOOK_SERVER_READ_HEADER_TIMEOUT",
	"discord.webhook_server.write_timeout":       "WEBHOOK_SERVER_WRITE_TIMEOUT",
	"discord.webhook_server.idle_timeout":        "WEBHOOK_SERVER_IDLE_TIMEOUT",
}

var rootCmd = &cobra.Command{
	Use:   "guildsteward [flags]",
	Short: "Discord bot for running a community group's guild",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return unmarshalConfig(cfg)
	},
	RunE: runBot,
}

// unmarshalConfig decodes the settings read by initConfig into config
func unmarshalConfig(config *steward.Config) error {
	if err := viper.Unmarshal(config, viper.DecodeHook(configDecodeHook())); err != nil {
		return fmt.Errorf("error reading config: %w", err)
	}
	return nil
}

func configDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		StringToLevelVarHookFunc(),
		StringToDurationHookFunc(),
		StringToBoolHookFunc(),
		CommaListHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// StringToLevelVarHookFunc converts level names (including WARNING and
// CRITICAL) to *slog.LevelVar
func StringToLevelVarHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(&slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := steward.ParseLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

// StringToDurationHookFunc accepts durations with day and week units
// ("5d", "1w"); Go duration syntax such as "200ms" is rejected
func StringToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return steward.ParseDuration(data.(string))
	}
}

// StringToBoolHookFunc accepts yes/no and on/off as booleans
func StringToBoolHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Bool {
			return data, nil
		}
		return steward.ParseBool(data.(string))
	}
}

// CommaListHookFunc splits comma-separated strings into string slices.
// Entries are trimmed, and empty entries dropped.
func CommaListHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]string{}) {
			return data, nil
		}
		items := []string{}
		for _, item := range strings.Split(data.(string), ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

// envName returns the environment variable name to use for name, with
// the prefix from GUILDSTEWARD_ENV_PREFIX applied
func envName(prefix string, name string) string {
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Fatalf("error loading env file %q: %v", configFile, err)
		}
	}

	envPrefix := os.Getenv(steward.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = steward.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	for _, key := range configKeys {
		fatalErr(viper.BindEnv(key))
	}
	for key, name := range renamedConfigKeys {
		fatalErr(viper.BindEnv(key, envName(envPrefix, name)))
	}

	// the interactions endpoint is enabled by setting its listen address
	if os.Getenv(envName(envPrefix, "WEBHOOK_SERVER_LISTEN")) != "" &&
		!viper.IsSet("discord.webhook_server.enabled") {
		viper.Set("discord.webhook_server.enabled", true)
	}
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"dotenv file to load (defaults to .env, if present)",
	)
}
