package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"sync"
	"time"
)

const (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
	columnRuntimeConfigPaused        = "paused"
)

// RuntimeConfig holds the settings that can be changed while the bot is
// running (via the admin API), and which persist across restarts.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused bots reply to every command with a 'paused' message, and skip
	// scheduled tasks
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// AdminUsername for the admin API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the argon2id hash of the admin password
	AdminPassword string `json:"-" gorm:"type:string" log:"[redacted]"`

	LogLevel          DBLogLevel `json:"log_level" gorm:"default:INFO;type:string" binding:"omitempty,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	DiscordLogLevel   DBLogLevel `json:"discord_log_level" gorm:"default:INFO;type:string" binding:"omitempty,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	DiscordGoLogLevel DBLogLevel `json:"discordgo_log_level" gorm:"column:discordgo_log_level;default:WARNING;type:string" binding:"omitempty,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	DatabaseLogLevel  DBLogLevel `json:"database_log_level" gorm:"default:WARNING;type:string" binding:"omitempty,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	APILogLevel       DBLogLevel `json:"api_log_level" gorm:"default:INFO;type:string" binding:"omitempty,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
}

func (RuntimeConfig) TableName() string {
	return "runtime_config"
}

// DefaultRuntimeConfig returns a RuntimeConfig with log levels taken
// from the startup config
func DefaultRuntimeConfig(config *Config) RuntimeConfig {
	return RuntimeConfig{
		LogLevel:          DBLogLevel(levelName(config.LogLevel.Level())),
		DiscordLogLevel:   DBLogLevel(levelName(config.Discord.LogLevel.Level())),
		DiscordGoLogLevel: DBLogLevel(levelName(config.Discord.DiscordGoLogLevel.Level())),
		DatabaseLogLevel:  DBLogLevel(levelName(config.DatabaseLogLevel.Level())),
		APILogLevel:       DBLogLevel(levelName(config.API.LogLevel.Level())),
	}
}

// RuntimeConfigUpdate is the PATCH payload for the runtime config.
// Nil fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused            *bool       `json:"paused,omitempty"`
	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=DEBUG INFO WARNING ERROR CRITICAL"`
}

func (u RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(u)
}

// values returns the columns to update
func (u RuntimeConfigUpdate) values() map[string]any {
	values := map[string]any{}
	if u.Paused != nil {
		values[columnRuntimeConfigPaused] = *u.Paused
	}
	if u.LogLevel != nil {
		values["log_level"] = *u.LogLevel
	}
	if u.DiscordLogLevel != nil {
		values["discord_log_level"] = *u.DiscordLogLevel
	}
	if u.DiscordGoLogLevel != nil {
		values["discordgo_log_level"] = *u.DiscordGoLogLevel
	}
	if u.DatabaseLogLevel != nil {
		values["database_log_level"] = *u.DatabaseLogLevel
	}
	if u.APILogLevel != nil {
		values["api_log_level"] = *u.APILogLevel
	}
	return values
}

// RuntimeConfig returns a copy of the current runtime configuration
func (s *Steward) RuntimeConfig() RuntimeConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	if s.runtimeConfig == nil {
		return DefaultRuntimeConfig(s.config)
	}
	return *s.runtimeConfig
}

// loadRuntimeConfig reads the runtime config from the database, creating
// it with defaults when it doesn't exist yet
func (s *Steward) loadRuntimeConfig(ctx context.Context) error {
	var rc RuntimeConfig
	err := s.db.WithContext(ctx).Last(&rc).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rc = DefaultRuntimeConfig(s.config)
		if _, err = s.writeDB.Create(ctx, &rc); err != nil {
			return fmt.Errorf("error creating runtime config: %w", err)
		}
	case err != nil:
		return fmt.Errorf("error getting runtime config: %w", err)
	}

	if err = structValidator.Struct(rc); err != nil {
		return fmt.Errorf("invalid runtime config: %w", err)
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.runtimeConfig = &rc
	s.paused.Store(rc.Paused)
	s.setRuntimeLevels(rc)
	return nil
}

// setRuntimeLevels applies the runtime config's log levels
func (s *Steward) setRuntimeLevels(rc RuntimeConfig) {
	if rc.LogLevel != "" {
		s.config.LogLevel.Set(rc.LogLevel.Level())
	}
	if rc.DiscordLogLevel != "" {
		s.config.Discord.LogLevel.Set(rc.DiscordLogLevel.Level())
	}
	if rc.DiscordGoLogLevel != "" {
		s.config.Discord.DiscordGoLogLevel.Set(rc.DiscordGoLogLevel.Level())
	}
	if rc.DatabaseLogLevel != "" {
		s.config.DatabaseLogLevel.Set(rc.DatabaseLogLevel.Level())
	}
	if rc.APILogLevel != "" {
		s.config.API.LogLevel.Set(rc.APILogLevel.Level())
	}
}

// UpdateRuntimeConfig applies update, persists it, and notifies other
// processes sharing the database
func (s *Steward) UpdateRuntimeConfig(
	ctx context.Context,
	update RuntimeConfigUpdate,
) (RuntimeConfig, error) {
	if err := update.validate(); err != nil {
		return s.RuntimeConfig(), err
	}
	values := update.values()
	if len(values) == 0 {
		return s.RuntimeConfig(), nil
	}

	s.cfgMu.Lock()
	current := *s.runtimeConfig
	if _, err := s.writeDB.Updates(ctx, &current, values); err != nil {
		s.cfgMu.Unlock()
		return s.RuntimeConfig(), err
	}
	s.cfgMu.Unlock()

	s.refreshRuntimeConfig(ctx)
	if s.dbNotifier != nil {
		go s.dbNotifier.ReloadRuntimeConfig(context.WithoutCancel(ctx))
	}
	return s.RuntimeConfig(), nil
}

// refreshRuntimeConfig reloads the runtime config from the database,
// applying pause state and log levels
func (s *Steward) refreshRuntimeConfig(ctx context.Context) {
	var rc RuntimeConfig
	if err := s.db.WithContext(ctx).Last(&rc).Error; err != nil {
		s.logger.ErrorContext(ctx, "error getting runtime config", tint.Err(err))
		return
	}

	s.cfgMu.Lock()
	previous := s.runtimeConfig
	s.runtimeConfig = &rc
	s.setRuntimeLevels(rc)
	s.cfgMu.Unlock()

	wasPaused := previous != nil && previous.Paused
	switch {
	case rc.Paused && !wasPaused:
		s.Pause(ctx)
	case !rc.Paused && wasPaused:
		s.Resume(ctx)
	}
	s.logger.InfoContext(ctx, "refreshed runtime config")
}

func (s *Steward) startRuntimeConfigRefresher(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.triggerRuntimeConfigRefreshCh:
				refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				s.refreshRuntimeConfig(refreshCtx)
				cancel()
			}
		}
	}()
}

// Pause stops the bot from running commands and scheduled tasks. It
// returns false if the bot was already paused.
func (s *Steward) Pause(ctx context.Context) bool {
	if s.paused.Swap(true) {
		return false
	}
	s.logger.WarnContext(ctx, "bot paused")
	if s.discord.session != nil {
		if err := s.discord.session.UpdateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    true,
				Status: string(discordgo.StatusDoNotDisturb),
			},
		); err != nil {
			s.logger.ErrorContext(ctx, "unable to update afk status", tint.Err(err))
		}
	}
	return true
}

// Resume undoes Pause. It returns false if the bot wasn't paused.
func (s *Steward) Resume(ctx context.Context) bool {
	if !s.paused.Swap(false) {
		return false
	}
	s.logger.InfoContext(ctx, "bot resumed")
	if s.discord.session != nil {
		if err := s.discord.session.UpdateStatusComplex(
			discordgo.UpdateStatusData{Status: string(discordgo.StatusOnline)},
		); err != nil {
			s.logger.ErrorContext(ctx, "unable to update online status", tint.Err(err))
		}
	}
	return true
}

// SetAdminCredentials stores the admin API username and password hash
func SetAdminCredentials(
	ctx context.Context,
	db DBI,
	config *Config,
	username string,
	password string,
) error {
	if username == "" || password == "" {
		return errors.New("username and password must not be empty")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	return db.Transaction(
		ctx, func(tx *gorm.DB) error {
			var rc RuntimeConfig
			err := tx.Last(&rc).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				rc = DefaultRuntimeConfig(config)
				rc.AdminUsername = username
				rc.AdminPassword = hashed
				return tx.Create(&rc).Error
			case err != nil:
				return err
			}
			return tx.Model(&rc).Updates(
				map[string]any{
					columnRuntimeConfigAdminUsername: username,
					columnRuntimeConfigAdminPassword: hashed,
				},
			).Error
		},
	)
}
