package steward

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm/logger"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

const (
	loggerNameKey            = "logger"
	logChannelQueueSize      = 100
	logChannelMessageMaxSize = discordMaxMessageLength - 10
)

// newConsoleHandler returns the tint handler used for console output, with
// CRITICAL rendered by name
func newConsoleHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return tint.NewHandler(
		w, &tint.Options{
			Level:     level,
			AddSource: true,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key != slog.LevelKey || len(groups) > 0 {
					return a
				}
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
					return slog.String(slog.LevelKey, "CRT")
				}
				return a
			},
		},
	)
}

func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

// webhookExecutor is the part of the discord session needed to post
// to a channel webhook
type webhookExecutor interface {
	WebhookExecute(
		webhookID, token string,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// parseWebhookURL splits a discord webhook URL into its ID and token
func parseWebhookURL(webhookURL string) (id string, token string, err error) {
	if !strings.HasPrefix(webhookURL, discordWebhookURLPrefix) {
		return "", "", fmt.Errorf("not a discord webhook URL: %q", webhookURL)
	}
	u, err := url.Parse(webhookURL)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.TrimPrefix(u.Path, "/api/webhooks/"), "/")
	if len(parts) < 2 || !isSnowflake(parts[0]) || parts[1] == "" {
		return "", "", fmt.Errorf("malformed discord webhook URL: %q", webhookURL)
	}
	return parts[0], parts[1], nil
}

// logChannelSink delivers formatted log records to a discord channel via
// its webhook. Records are queued and sent from [logChannelSink.Run], so
// logging never blocks on the discord API. Records are dropped when the
// queue is full.
type logChannelSink struct {
	session   webhookExecutor
	webhookID string
	token     string
	username  string
	avatarURL string
	level     slog.Leveler
	limiter   *rate.Limiter
	queue     chan string
	active    atomic.Bool
	dropped   atomic.Int64
	sent      atomic.Int64
}

func newLogChannelSink(webhookURL string, level slog.Leveler) (*logChannelSink, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	return &logChannelSink{
		webhookID: id,
		token:     token,
		level:     level,
		limiter: rate.NewLimiter(
			rate.Every(time.Minute/DefaultLogChannelWebhookMessagesPerMinute),
			5,
		),
		queue: make(chan string, logChannelQueueSize),
	}, nil
}

// Start enables delivery using the given session. Records logged before
// Start are not queued.
func (s *logChannelSink) Start(
	session webhookExecutor,
	username string,
	avatarURL string,
) {
	s.session = session
	s.username = username
	s.avatarURL = avatarURL
	s.active.Store(true)
}

func (s *logChannelSink) enabled(level slog.Level) bool {
	return s != nil && s.active.Load() && level >= s.level.Level()
}

func (s *logChannelSink) enqueue(msg string) {
	select {
	case s.queue <- msg:
	default:
		s.dropped.Add(1)
	}
}

// Run sends queued records until ctx is cancelled
func (s *logChannelSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if s.session == nil {
				continue
			}
			_, err := s.session.WebhookExecute(
				s.webhookID,
				s.token,
				false,
				&discordgo.WebhookParams{
					Content:   msg,
					Username:  s.username,
					AvatarURL: s.avatarURL,
					AllowedMentions: &discordgo.MessageAllowedMentions{
						Parse: []discordgo.AllowedMentionType{},
					},
				},
				discordgo.WithContext(ctx),
			)
			if err != nil {
				// not logged, since that would feed back into the queue
				s.dropped.Add(1)
				continue
			}
			s.sent.Add(1)
		}
	}
}

// logChannelHandler writes to the console handler, and forwards records
// at or above the sink's level to the discord log channel, formatted as
// `LEVEL | message key=value ...`
type logChannelHandler struct {
	slog.Handler
	sink   *logChannelSink
	attrs  []slog.Attr
	prefix string
}

func newLogChannelHandler(console slog.Handler, sink *logChannelSink) *logChannelHandler {
	return &logChannelHandler{Handler: console, sink: sink}
}

func (h *logChannelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level) || h.sink.enabled(level)
}

func (h *logChannelHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.Handler.Enabled(ctx, r.Level) {
		err = h.Handler.Handle(ctx, r)
	}
	if h.sink.enabled(r.Level) {
		h.sink.enqueue(h.format(r))
	}
	return err
}

func (h *logChannelHandler) format(r slog.Record) string {
	var b strings.Builder
	b.WriteString(levelName(r.Level))
	b.WriteString(" | ")
	b.WriteString(r.Message)

	writeAttr := func(prefix string, a slog.Attr) {
		if a.Key == loggerNameKey || a.Equal(slog.Attr{}) {
			return
		}
		b.WriteString(" ")
		b.WriteString(prefix)
		b.WriteString(a.Key)
		b.WriteString("=")
		b.WriteString(a.Value.Resolve().String())
	}
	for _, a := range h.attrs {
		writeAttr("", a)
	}
	r.Attrs(
		func(a slog.Attr) bool {
			writeAttr(h.prefix, a)
			return true
		},
	)
	return truncate(b.String(), logChannelMessageMaxSize)
}

func (h *logChannelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	combined = append(combined, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		combined = append(combined, a)
	}
	return &logChannelHandler{
		Handler: h.Handler.WithAttrs(attrs),
		sink:    h.sink,
		attrs:   combined,
		prefix:  h.prefix,
	}
}

func (h *logChannelHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &logChannelHandler{
		Handler: h.Handler.WithGroup(name),
		sink:    h.sink,
		attrs:   h.attrs,
		prefix:  h.prefix + name + ".",
	}
}

var (
	DBLogLevelInfo  = DBLogLevel(levelName(slog.LevelInfo))
	DBLogLevelWarn  = DBLogLevel(levelName(slog.LevelWarn))
	DBLogLevelError = DBLogLevel(levelName(slog.LevelError))
	DBLogLevelDebug = DBLogLevel(levelName(slog.LevelDebug))
)

// DBLogLevel is a wrapper for slog.Level that implements
// the necessary methods for GORM to treat it as a custom type.
type DBLogLevel string

// Scan implements the sql.Scanner interface.
func (l *DBLogLevel) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return l.parseLevel(string(v))
	case string:
		return l.parseLevel(v)
	default:
		return errors.New("invalid type for DBLogLevel")
	}
}

// Value implements the driver.Valuer interface.
func (l DBLogLevel) Value() (driver.Value, error) {
	return l.String(), nil
}

// GormDataType implements the gorm.GormDataTypeInterface interface.
func (DBLogLevel) GormDataType() string {
	return "string"
}

// MarshalJSON implements the json.Marshaller interface.
func (l DBLogLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (l *DBLogLevel) UnmarshalJSON(data []byte) error {
	var levelString string
	if err := json.Unmarshal(data, &levelString); err != nil {
		return err
	}
	return l.parseLevel(levelString)
}

func (l DBLogLevel) String() string {
	return string(l)
}

func (l *DBLogLevel) parseLevel(s string) error {
	lvl, err := ParseLogLevel(s)
	if err != nil {
		return err
	}
	*l = DBLogLevel(levelName(lvl))
	return nil
}

// Level returns the underlying slog.Level value.
func (l DBLogLevel) Level() slog.Level {
	lvl, err := ParseLogLevel(string(l))
	if err != nil {
		slog.Default().Error(fmt.Sprintf("unknown log level '%s'", string(l)))
		return slog.LevelInfo
	}
	return lvl
}

// Set sets the log level from a string.
func (l *DBLogLevel) Set(s string) error {
	return l.parseLevel(s)
}

type gormStructuredLogger struct {
	logger        *slog.Logger
	SlowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		SlowThreshold: slowThreshold,
	}
}

func (g *gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return g
}

func (g *gormStructuredLogger) Info(ctx context.Context, s string, i ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g *gormStructuredLogger) Warn(ctx context.Context, s string, i ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g *gormStructuredLogger) Error(ctx context.Context, s string, i ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g *gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	s, rowsAffected := fc()

	var rows any = rowsAffected
	if rowsAffected == -1 {
		rows = "-"
	}

	if g.SlowThreshold != 0 && elapsed > g.SlowThreshold {
		g.logger.WarnContext(
			ctx,
			"slow sql",
			"elapsed", elapsed,
			"threshold", g.SlowThreshold,
			"rows", rows,
			"sql", s,
			tint.Err(err),
		)
		return
	}
	g.logger.DebugContext(
		ctx,
		"sql completed",
		"elapsed", elapsed,
		"rows", rows,
		"sql", s,
		tint.Err(err),
	)
}
