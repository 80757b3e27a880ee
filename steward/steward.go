package steward

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/arcward/guildsteward/steward.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout

	// dmSendInterval limits how quickly scheduled tasks send direct messages
	dmSendInterval = 2 * time.Second
	dmSendBurst    = 5
)

const pausedMessage = "The bot is currently paused. Please try again later."

// Steward is the bot. It owns the discord session, the database, the
// scheduled tasks and the (optional) admin API and interactions webhook
// server.
type Steward struct {
	config *Config

	// Read connection
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. When using
	// sqlite, writes are serialized.
	writeDB DBI

	dbNotifier DBNotifier

	logger     *slog.Logger
	logHandler slog.Handler

	// logSink forwards WARN+ records to the discord log channel, when
	// DISCORD_LOG_CHANNEL_WEBHOOK_URL is set
	logSink *logChannelSink

	discord *Discord

	api *API

	// Receives interactions via HTTP when the gateway isn't used for them
	discordWebhookServer *DiscordWebhookServer

	webhookInteractionHandler func(c *gin.Context)

	// getInteractionHandlerFunc returns the InteractionHandler for an
	// interaction received from the gateway
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	membersList        MembersListFetcher
	tokenAuthorisation TokenAuthorisationFetcher

	commands   map[string]*command
	components map[string]componentHandler

	reminders *reminderScheduler
	members   *memberCache

	// dmLimiter is shared by scheduled tasks sending direct messages
	dmLimiter *rate.Limiter

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by /kill or the admin API
	signalStop chan struct{}

	// signalReady is closed once the gateway Ready event has been handled
	// and startup checks passed
	signalReady chan struct{}
	readyOnce   sync.Once

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	paused    atomic.Bool
	startedAt time.Time

	// criticalErr is the first critical error reported. It's returned
	// by Run.
	criticalErr   error
	criticalErrMu sync.Mutex

	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	triggerRuntimeConfigRefreshCh chan bool

	now       func() time.Time
	randFloat func() float64
	randIntn  func(n int) int
}

// New creates a Steward from config. The config should already have
// been validated.
func New(config *Config) (*Steward, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	s := &Steward{
		config:                        config,
		signalReady:                   make(chan struct{}),
		signalStop:                    make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
		commands:                      commandRegistry(),
		components:                    componentRegistry(),
		members:                       newMemberCache(),
		dmLimiter:                     rate.NewLimiter(rate.Every(dmSendInterval), dmSendBurst),
		now:                           time.Now,
		randFloat:                     rand.Float64,
		randIntn:                      rand.IntN,
	}

	if webhookURL := config.Discord.LogChannelWebhookURL; webhookURL != "" {
		sink, err := newLogChannelSink(webhookURL, slog.LevelWarn)
		if err != nil {
			errs = append(errs, err)
		}
		s.logSink = sink
	}

	s.logHandler = s.newLogHandler(config.LogLevel)
	s.logger = slog.New(s.logHandler)
	slog.SetDefault(s.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		s.newLogHandler(config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	disc, err := newDiscord(config.Discord, config.HTTPClient)
	if err != nil {
		errs = append(errs, err)
	} else {
		disc.logger = slog.New(
			s.newLogHandler(config.Discord.LogLevel),
		).With(loggerNameKey, "discord")
		s.discord = disc
	}

	scraper := newMembersListScraper(config.MembersList, config.HTTPClient)
	s.membersList = scraper
	s.tokenAuthorisation = scraper
	s.reminders = newReminderScheduler(s)

	if config.API != nil && config.API.Listen != "" {
		api, apiErr := newAPI(s, config.API)
		if apiErr != nil {
			errs = append(errs, apiErr)
		}
		s.api = api
	}

	if config.Discord.WebhookServer.Enabled && s.discord != nil {
		webhookServer, e := newWebhookServer(s, config.Discord.WebhookServer)
		if e != nil {
			errs = append(errs, e)
		}
		s.discordWebhookServer = webhookServer
	}

	return s, errors.Join(errs...)
}

// newLogHandler returns a console handler at the given level, which also
// forwards to the discord log channel (if configured)
func (s *Steward) newLogHandler(level slog.Leveler) slog.Handler {
	return newLogChannelHandler(newConsoleHandler(defaultLogWriter, level), s.logSink)
}

func (s *Steward) getLogger(ctx context.Context) (context.Context, *slog.Logger) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = s.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// Stop signals Run to shut down gracefully. It doesn't block.
func (s *Steward) Stop() {
	select {
	case s.signalStop <- struct{}{}:
	default:
	}
}

// reportCritical logs err at CRITICAL and shuts the bot down. Run returns
// the first critical error reported.
func (s *Steward) reportCritical(ctx context.Context, err error) {
	_, logger := s.getLogger(ctx)
	logger.Log(ctx, LevelCritical, err.Error())

	s.criticalErrMu.Lock()
	if s.criticalErr == nil {
		s.criticalErr = &CriticalError{Err: err}
	}
	s.criticalErrMu.Unlock()
	s.Stop()
}

func (s *Steward) getCriticalErr() error {
	s.criticalErrMu.Lock()
	defer s.criticalErrMu.Unlock()
	return s.criticalErr
}

// ready reports whether startup checks have completed
func (s *Steward) ready() bool {
	select {
	case <-s.signalReady:
		return true
	default:
		return false
	}
}

// waitReady blocks until startup checks complete, returning false if ctx
// is cancelled first
func (s *Steward) waitReady(ctx context.Context) bool {
	select {
	case <-s.signalReady:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run connects to discord and blocks until ctx is cancelled, a stop signal
// is received, or a critical error occurs.
func (s *Steward) Run(ctx context.Context) error {
	// prevents concurrent runs
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.startedAt = time.Now()
	logger := s.logger

	if s.discord == nil {
		return errors.New("discord not configured")
	}

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", s.config))

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.signalStop:
			s.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			s.logger.Warn("context canceled")
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, s.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- s.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return errors.New("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	notifier, err := newDBNotifier(s)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	s.dbNotifier = notifier

	if s.api != nil {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			if httpErr := s.api.Serve(ctx); httpErr != nil && !errors.Is(
				httpErr,
				http.ErrServerClosed,
			) {
				s.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if s.discordWebhookServer != nil {
		s.webhookInteractionHandler = webhookReceiveHandler(ctx, s)
		s.startWebhookServer(ctx, runtimeWG)
	}

	if s.logSink != nil {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			s.logSink.Run(ctx)
		}()
	}

	if discErr := s.initDiscordSession(ctx, runtimeWG); discErr != nil {
		s.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	s.logger.InfoContext(ctx, "connecting to discord")
	if openErr := s.discord.session.Open(); openErr != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(openErr))
		return fmt.Errorf("error connecting to discord: %w", openErr)
	}

	s.startRuntimeConfigRefresher(ctx, runtimeWG)

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if !s.waitReady(ctx) {
			return
		}
		s.reminders.rescheduleAll(ctx, runtimeWG)
		if taskErr := s.runTasks(ctx); taskErr != nil {
			s.reportCritical(ctx, taskErr)
		}
	}()

	for _, channel := range []string{
		s.dbNotifier.RuntimeConfigChannelName(),
		s.dbNotifier.StopChannelName(),
	} {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			if e := s.dbNotifier.Listen(ctx, channel); e != nil {
				s.logger.ErrorContext(
					ctx,
					"error listening to notification channel",
					tint.Err(e),
					"channel", channel,
				)
			}
		}()
	}

	<-ctx.Done()

	shutdownErr := s.shutdown(ctx, runtimeWG)
	if critical := s.getCriticalErr(); critical != nil {
		return critical
	}
	return shutdownErr
}

// initRun connects to the database and loads the runtime config
func (s *Steward) initRun(ctx context.Context) error {
	if s.db == nil {
		s.logger.Debug("initializing DB...")
		db, err := CreateDB(
			ctx,
			s.config.DatabaseType,
			s.config.Database,
			s.newLogHandler(s.config.DatabaseLogLevel),
			s.config.DatabaseSlowThreshold,
		)
		if err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
		s.db = db
	}
	if s.writeDB == nil {
		s.writeDB = NewDatabase(s.db, s.logger, s.config.DatabaseType == dbTypePostgres)
	}

	// the bot starts paused if it was paused when it last stopped
	if err := s.loadRuntimeConfig(ctx); err != nil {
		return err
	}

	if s.config.SendIntroductionReminders == IntroductionRemindersInterval {
		deleted, err := s.writeDB.Delete(
			ctx,
			&SentOneOffIntroductionReminderMember{},
			"1 = 1",
		)
		if err != nil {
			return fmt.Errorf("error clearing sent one-off reminders: %w", err)
		}
		s.logger.DebugContext(ctx, "cleared sent one-off reminders", "count", deleted)
	}
	return nil
}

func (s *Steward) startWebhookServer(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		httpErr := s.discordWebhookServer.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			s.logger.ErrorContext(ctx, "error serving webhook HTTP", tint.Err(httpErr))
		}
	}()
}

// initDiscordSession creates the discord session (if needed) and adds the
// gateway event handlers
func (s *Steward) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := s.logger.With(loggerNameKey, "discord_session")

	if s.discord.session == nil {
		disc, discErr := s.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		s.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range s.discord.removeHandlerFuncs {
		h()
	}

	identify := discordgo.Identify{Intents: s.config.Discord.GatewayIntents}
	if s.paused.Load() {
		identify.Presence = discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	s.discord.session.SetIdentify(identify)

	// go runs fn in its own goroutine, tracked by runtimeWG
	track := func(fn func()) {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			defer func() {
				if rc := recover(); rc != nil {
					s.handleRecover(ctx, rc)
				}
			}()
			fn()
		}()
	}

	s.discord.removeHandlerFuncs = []func(){
		s.discord.session.AddHandler(s.discord.handlerConnect()),
		s.discord.session.AddHandler(s.discord.handlerDisconnect()),
		s.discord.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.Ready) {
				track(func() { s.onReady(ctx, r) })
			},
		),
		s.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := s.getInteractionHandlerFunc(ctx, i)
				track(func() { s.handleInteraction(ctx, handler) })
			},
		),
		s.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
				if m.GuildID == s.config.Discord.GuildID {
					s.members.set(m.Member)
				}
			},
		),
		s.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
				if m.GuildID == s.config.Discord.GuildID {
					track(func() { s.onMemberUpdate(ctx, m.Member) })
				}
			},
		),
		s.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
				if m.GuildID == s.config.Discord.GuildID {
					track(func() { s.onMemberRemove(ctx, m.Member) })
				}
			},
		),
		s.discord.session.AddHandler(
			func(_ *discordgo.Session, b *discordgo.GuildBanAdd) {
				if b.GuildID == s.config.Discord.GuildID {
					track(func() { s.onBanAdd(ctx, b.User) })
				}
			},
		),
	}

	if s.getInteractionHandlerFunc == nil {
		s.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     s.discord.session,
				interaction: i,
				logger: s.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}
	return nil
}

// onReady runs the startup checks once the gateway connection is ready.
// Problems that make the bot unusable are reported as critical.
func (s *Steward) onReady(ctx context.Context, r *discordgo.Ready) {
	logger := s.logger.With(loggerNameKey, "startup")
	ctx = WithLogger(ctx, logger)

	var appID string
	if r.Application != nil {
		appID = r.Application.ID
	}
	s.discord.setIdentity(r.User, appID)

	if s.logSink != nil {
		var username, avatarURL string
		if r.User != nil {
			username = r.User.Username
			avatarURL = r.User.AvatarURL("")
		}
		s.logSink.Start(s.discord.session, username, avatarURL)
	} else {
		logger.WarnContext(
			ctx,
			"DISCORD_LOG_CHANNEL_WEBHOOK_URL was not set, "+
				"so error logs will not be sent to the Discord log channel.",
		)
	}

	inviteURL, inviteErr := GenerateInviteURL(s.discord.ApplicationID(), s.config.Discord.GuildID)
	if _, err := s.mainGuild(ctx); err != nil {
		if inviteErr == nil {
			logger.InfoContext(ctx, "Invite URL: "+inviteURL)
		}
		s.reportCritical(ctx, err)
		return
	}
	if inviteErr == nil {
		logger.DebugContext(ctx, "Invite URL: "+inviteURL)
	}

	for _, name := range []string{
		roleNameCommittee,
		roleNameGuest,
		roleNameMember,
		roleNameArchivist,
	} {
		if _, err := s.role(ctx, name); err != nil {
			logger.WarnContext(ctx, err.Error())
		}
	}
	for _, name := range []string{channelNameRoles, channelNameGeneral} {
		if _, err := s.textChannel(ctx, name); err != nil {
			logger.WarnContext(ctx, err.Error())
		}
	}

	if err := s.checkModerationWarningLocation(ctx); err != nil {
		s.reportCritical(ctx, err)
		return
	}

	if members, err := s.allMembers(ctx); err != nil {
		logger.WarnContext(ctx, "unable to load guild members", tint.Err(err))
	} else {
		s.members.load(members)
	}

	if _, err := s.RegisterCommands(ctx); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
	}

	var botName string
	if r.User != nil {
		botName = r.User.String()
	}
	logger.InfoContext(ctx, "Ready! Logged in as "+botName)
	s.readyOnce.Do(
		func() {
			close(s.signalReady)
		},
	)
}

// handleInteraction routes an interaction to its command, component or
// autocomplete handler
func (s *Steward) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			s.handleRecover(ctx, rc)
		}
	}()

	if i.Type == discordgo.InteractionPing {
		_ = handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		)
		return
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	logger = logger.With(slog.Group("user", userLogAttrs(discordUser)...))
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction")

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	if s.writeDB != nil {
		interactionLog := newInteractionLog(i, discordUser, handler.InteractionReceiveMethod())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.writeDB.Create(ctx, interactionLog); err != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(err))
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	c := &commandContext{
		ctx:         ctx,
		s:           s,
		handler:     handler,
		interaction: i,
		user:        discordUser,
		logger:      logger,
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommandAutocomplete:
		s.handleAutocomplete(c)
	case discordgo.InteractionApplicationCommand:
		s.handleCommand(c)
	case discordgo.InteractionMessageComponent:
		s.handleComponent(c)
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

func (s *Steward) handleCommand(c *commandContext) {
	c.name = c.interaction.ApplicationCommandData().Name
	cmd, ok := s.commands[c.name]
	if !ok {
		c.logger.WarnContext(c.ctx, "unknown command", "command", c.name)
		return
	}
	c.activity = cmd.activity

	if s.paused.Load() {
		_ = c.reply(pausedMessage)
		return
	}

	if err := s.checkCommand(c, cmd); err != nil {
		s.handleCommandError(c, err)
		return
	}

	if err := cmd.run(c); err != nil {
		s.handleCommandError(c, err)
	}
}

func (s *Steward) handleComponent(c *commandContext) {
	name, args := parseCustomID(c.interaction.MessageComponentData().CustomID)
	h, ok := s.components[name]
	if !ok {
		c.logger.WarnContext(c.ctx, "unknown component", "custom_id", name)
		return
	}
	c.name = name

	if s.paused.Load() {
		_ = c.reply(pausedMessage)
		return
	}

	if err := h(c, args); err != nil {
		s.handleCommandError(c, err)
	}
}

func (s *Steward) handleAutocomplete(c *commandContext) {
	c.name = c.interaction.ApplicationCommandData().Name

	var choices []*discordgo.ApplicationCommandOptionChoice
	if cmd, ok := s.commands[c.name]; ok && cmd.autocomplete != nil && !s.paused.Load() {
		if cmd.committeeOnly {
			member, err := s.mainGuildMember(c.ctx, c.user.ID)
			if err == nil {
				if isCommittee, _ := s.hasCommitteeRole(c.ctx, member); isCommittee {
					choices = cmd.autocomplete(c)
				}
			}
		} else {
			choices = cmd.autocomplete(c)
		}
	}
	if len(choices) > autocompleteMaxChoices {
		choices = choices[:autocompleteMaxChoices]
	}
	if choices == nil {
		choices = []*discordgo.ApplicationCommandOptionChoice{}
	}

	err := c.handler.Respond(
		c.ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		},
	)
	if err != nil {
		c.logger.DebugContext(c.ctx, "error sending autocomplete choices", tint.Err(err))
	}
}

// checkCommand verifies the invoker is in the main guild and, for
// Committee commands, holds the Committee role
func (s *Steward) checkCommand(c *commandContext, cmd *command) error {
	if !cmd.guildOnly && !cmd.committeeOnly {
		return nil
	}

	member, err := s.mainGuildMember(c.ctx, c.user.ID)
	if errors.Is(err, errMemberNotInMainGuild) {
		return userError(
			"You must be a member of the %s Discord server to use this command.",
			s.groupShortName(c.ctx),
		)
	}
	if err != nil {
		return err
	}
	c.member = member

	if !cmd.committeeOnly {
		return nil
	}
	isCommittee, err := s.hasCommitteeRole(c.ctx, member)
	if err != nil {
		return err
	}
	if !isCommittee {
		return userError("Only %s members can run this command.", s.committeeMention(c.ctx))
	}
	return nil
}

// handleCommandError replies to the invoker with a formatted error, and
// logs it. Critical errors shut the bot down.
func (s *Steward) handleCommandError(c *commandContext, err error) {
	var (
		dne      *DoesNotExistError
		cmdErr   *CommandError
		critical *CriticalError
	)
	var code, message, logMessage string
	isCritical := false

	switch {
	case errors.As(err, &dne):
		code = dne.Code
		logMessage = dne.Error()
		isCritical = dne.Kind == "guild" || errors.As(err, &critical)
	case errors.As(err, &cmdErr):
		code = cmdErr.Code
		message = cmdErr.Message
		logMessage = cmdErr.LogMessage
		if logMessage == "" && cmdErr.Err != nil {
			logMessage = cmdErr.Err.Error()
		}
	case errors.As(err, &critical):
		logMessage = err.Error()
		isCritical = true
	case isForbidden(err):
		code = ErrorCodeForbidden
		logMessage = err.Error()
	default:
		logMessage = err.Error()
	}

	committeeMention := ""
	if !isCritical {
		committeeMention = s.committeeMention(c.ctx)
	}
	reply := formatErrorReply(committeeMention, code, c.activity, message)
	if replyErr := c.reply(reply); replyErr != nil {
		c.logger.ErrorContext(c.ctx, "error sending error reply", tint.Err(replyErr))
	}

	if isCritical {
		s.reportCritical(c.ctx, err)
		return
	}
	if logMessage != "" {
		c.logger.ErrorContext(c.ctx, formatErrorLog(code, c.name, logMessage))
	}
}

func (s *Steward) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	s.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if s.eventShutdown != nil {
			go func() {
				s.eventShutdown <- struct{}{}
			}()
		}
	}()
	shutdownStart := time.Now()
	shutdownTimeout := s.config.ShutdownTimeout
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	announcementTicker := time.NewTicker(10 * time.Second)
	defer announcementTicker.Stop()

	s.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", shutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		stopWG := &sync.WaitGroup{}

		if s.api != nil && s.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				s.logger.InfoContext(ctx, "stopping http server")
				_ = s.api.httpServer.Shutdown(closeCtx)
				s.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if s.discordWebhookServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				s.logger.InfoContext(ctx, "stopping webhook http server")
				_ = s.discordWebhookServer.httpServer.Shutdown(closeCtx)
				s.logger.InfoContext(ctx, "webhook http server stopped")
			}()
		}

		// in-flight interactions and tasks finish before the session closes
		runtimeWG.Wait()
		s.logger.InfoContext(
			ctx,
			"finished handling in-flight requests",
			"runtime_stop_duration", time.Since(shutdownStart),
		)

		if s.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				s.logger.InfoContext(ctx, "closing discord session")
				_ = s.discord.session.Close()
				s.logger.InfoContext(ctx, "discord session closed")
				for _, h := range s.discord.removeHandlerFuncs {
					h()
				}
			}()
		}

		stopWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			s.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_duration", time.Since(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			s.logger.Warn(
				fmt.Sprintf("time until hard shutdown: %s", time.Until(shutdownDeadline)),
			)
		case <-closeCtx.Done():
			s.logger.Warn("handlers did not stop in time, forcing close")
			if s.api != nil && s.api.httpServer != nil {
				go func() {
					_ = s.api.httpServer.Close()
				}()
			}
			if s.discordWebhookServer != nil {
				go func() {
					_ = s.discordWebhookServer.httpServer.Close()
				}()
			}
			if s.discord.session != nil {
				_ = s.discord.session.Close()
			}
			return errors.New("handlers did not stop in time")
		}
	}
}

func (*Steward) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}
