package steward

import (
	"context"
	"crypto/sha512"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiPathLoggedIn         = "/logged_in"
	apiHealthCheck          = "/healthz"
	apiPathReminders        = "/reminders"
	apiPathStrikes          = "/strikes"
	apiPathConfig           = "/config"
	apiPathRegisterCommands = "/discord/register_commands"
	apiPathInteractions     = "/interactions"
	apiPathQuit             = "/quit"
	apiPathMetrics          = "/metrics"
	apiDiscordInteractions  = "/discord/interactions"

	defaultAPIPageLimit = 100
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

// structValidator validates config and API payloads, using the same
// `binding` tag gin does
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	return v
}

// API is the optional admin HTTP API, used to inspect stored records and
// change the runtime config (pause, log levels) without a restart.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	handlers *APIHandlers
}

func newAPI(s *Steward, config *APIConfig) (*API, error) {
	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:              slog.New(s.newLogHandler(config.LogLevel)).With(loggerNameKey, "api"),
	}
	handlers := NewAPIHandlers(s, api)
	api.handlers = handlers
	api.store = handlers.store

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Cert != "" {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		if config.Development {
			corsConfig.AllowOrigins = []string{"*"}
			corsConfig.AllowCredentials = false
		} else {
			corsConfig.AllowOrigins = []string{"http://" + config.Listen, "https://" + config.Listen}
		}
	}

	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(api),
		cors.New(corsConfig),
		sessions.Sessions(sessionVarName, handlers.store),
	)

	r.GET(apiHealthCheck, handlers.healthCheck)
	r.POST(apiPathLogin, handlers.loginHandler)
	r.POST(apiPathLogout, handlers.logoutHandler)

	if config.EnablePprof {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(s, api))

	protected.GET(apiPathLoggedIn, handlers.loggedIn)
	protected.GET(apiPathReminders, handlers.getReminders)
	protected.DELETE(apiPathReminders, handlers.deleteReminders)
	protected.GET(apiPathStrikes, handlers.getStrikes)
	protected.GET(apiPathConfig, handlers.getConfig)
	protected.PATCH(apiPathConfig, handlers.updateRuntimeConfig)
	protected.POST(apiPathRegisterCommands, handlers.discordRegisterCommands)
	protected.GET(apiPathInteractions, handlers.getInteractions)
	protected.POST(apiPathQuit, handlers.botQuit)
	protected.GET(apiPathMetrics, handlers.getMetrics)

	return api, nil
}

// Serve listens on the configured address until the server is shut down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		} else {
			a.logger.WarnContext(ctx, "starting API server without TLS")
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "serving API", "address", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	session, err := a.store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField].(string)
	if !ok || username == "" {
		return "", errors.New("username not found in session")
	}
	return username, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// derive64ByteKey derives a cookie signing key from the configured secret
func derive64ByteKey(input string) []byte {
	hash := sha512.Sum512([]byte(input))
	return hash[:]
}

// APIHandlers implements the admin API endpoints
type APIHandlers struct {
	s      *Steward
	api    *API
	logger *slog.Logger
	store  CookieStore
}

func NewAPIHandlers(s *Steward, api *API) *APIHandlers {
	logger := api.logger

	var secretKey []byte
	if secret := s.config.API.Secret; secret == "" {
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	} else {
		secretKey = derive64ByteKey(secret)
	}

	store := NewCookieStore(secretKey)
	store.Options(sessionOptions(s.config.API))
	return &APIHandlers{s: s, api: api, logger: logger, store: store}
}

func sessionOptions(config *APIConfig) sessions.Options {
	sameSite := http.SameSiteStrictMode
	if config.Development {
		sameSite = http.SameSiteNoneMode
	}
	return sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
	}
}

type healthCheckResponse struct {
	Paused                  bool `json:"paused"`
	Ready                   bool `json:"ready"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
	PendingReminders        int  `json:"pending_reminders"`
	CachedMembers           int  `json:"cached_members"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loggedInResponse struct {
	Username string `json:"username"`
}

// Pagination is accepted by every list endpoint
type Pagination struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=1000"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

func (p Pagination) limit() int {
	if p.Limit == 0 {
		return defaultAPIPageLimit
	}
	return p.Limit
}

type remindersResponse struct {
	Reminders []DiscordReminder `json:"reminders"`
	Total     int64             `json:"total"`
}

type strikesResponse struct {
	Strikes []DiscordMemberStrikes `json:"strikes"`
	Total   int64                  `json:"total"`
}

type interactionsQuery struct {
	Pagination
	CommandName string `form:"command_name"`
}

type interactionsResponse struct {
	Interactions []InteractionLog `json:"interactions"`
	Total        int64            `json:"total"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.s.paused.Load(),
			Ready:                   h.s.ready(),
			DiscordGatewayConnected: h.s.discord != nil && h.s.discord.connected.Load(),
			PendingReminders:        h.s.reminders.pending(),
			CachedMembers:           h.s.members.len(),
		},
	)
}

// loginHandler checks the admin credentials set with `guildsteward init`,
// and starts a session
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	runtimeConfig := h.s.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	valid, err := verifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	session := sessions.Default(c)
	session.Options(sessionOptions(h.api.config))
	session.Set(sessionVarField, login.Username)
	if err = session.Save(); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.api.getSessionUsername(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

func (h *APIHandlers) getReminders(c *gin.Context) {
	var q Pagination
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	var resp remindersResponse
	db := h.s.db.WithContext(c.Request.Context()).Model(&DiscordReminder{})
	if err := db.Count(&resp.Total).Error; err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error counting reminders")
		return
	}
	if err := db.Order(columnReminderSendAt).
		Limit(q.limit()).
		Offset(q.Offset).
		Find(&resp.Reminders).Error; err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting reminders")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// deleteReminders is the API equivalent of `/delete-all reminders`
func (h *APIHandlers) deleteReminders(c *gin.Context) {
	logger := ginContextLogger(c)
	deleted, err := h.s.writeDB.Delete(c.Request.Context(), &DiscordReminder{}, "1 = 1")
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error deleting reminders")
		return
	}
	h.s.reminders.cancelAll()
	logger.Info("deleted all reminders", "count", deleted)
	ginReplyMessage(c, fmt.Sprintf("deleted %d reminders", deleted))
}

func (h *APIHandlers) getStrikes(c *gin.Context) {
	var q Pagination
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	var resp strikesResponse
	db := h.s.db.WithContext(c.Request.Context()).Model(&DiscordMemberStrikes{}).Where("strikes > 0")
	if err := db.Count(&resp.Total).Error; err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error counting strikes")
		return
	}
	if err := db.Order("strikes desc").
		Limit(q.limit()).
		Offset(q.Offset).
		Find(&resp.Strikes).Error; err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting strikes")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandlers) getInteractions(c *gin.Context) {
	var q interactionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	var resp interactionsResponse
	db := h.s.db.WithContext(c.Request.Context()).Model(&InteractionLog{})
	if q.CommandName != "" {
		db = db.Where("command_name = ?", q.CommandName)
	}
	if err := db.Count(&resp.Total).Error; err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error counting interactions")
		return
	}
	if err := db.Order("created_at desc").
		Limit(q.limit()).
		Offset(q.Offset).
		Find(&resp.Interactions).Error; err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting interactions")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.s.RuntimeConfig())
}

// updateRuntimeConfig applies a partial update to the runtime config
// (ex: pausing the bot, or changing a log level)
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	logger := ginContextLogger(c)

	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	rc, err := h.s.UpdateRuntimeConfig(c.Request.Context(), update)
	if err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
			return
		}
		logger.Error("error updating config", tint.Err(err))
		ginReplyError(c, "error updating config")
		return
	}
	logger.Info("updated runtime config", "updates", update.values())
	c.JSON(http.StatusAccepted, rc)
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Info("registering commands")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	created, err := h.s.RegisterCommands(ctx)
	if err != nil {
		logger.Error("error registering commands", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error registering commands"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// botQuit stops every bot process sharing the database
func (h *APIHandlers) botQuit(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Warn("received quit request")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if h.s.dbNotifier == nil {
		h.s.Stop()
		c.JSON(http.StatusAccepted, httpReply{Message: "stopping"})
		return
	}
	if !h.s.dbNotifier.Stop(ctx) {
		ginReplyError(c, "error sending stop notification")
		return
	}
	c.JSON(http.StatusAccepted, httpReply{Message: "stopping"})
}

func (h *APIHandlers) getMetrics(c *gin.Context) {
	h.api.requestMetricsMu.Lock()
	metrics := make(map[string]int, len(h.api.requestMetrics))
	for k, v := range h.api.requestMetrics {
		metrics[k] = v
	}
	h.api.requestMetricsMu.Unlock()
	c.JSON(http.StatusOK, metrics)
}

// authMiddleware rejects requests without a session for the current
// admin user
func authMiddleware(s *Steward, api *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)

		username, err := api.getSessionUsername(c)
		if err != nil {
			logger.Warn("unauthenticated request", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		if rc := s.RuntimeConfig(); rc.AdminUsername == "" || username != rc.AdminUsername {
			logger.Warn("session user is not the admin user", sessionVarField, username)
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware sets a random X-Request-ID on each request and
// response
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(16)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request's logger, creating it (with the
// request details attached) on first use
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if l, isLogger := v.(*slog.Logger); isLogger {
			return l
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it finishes
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID, _ := c.Get(xRequestIDHeader)
		requestLogger := base.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
				"user_agent", c.Request.UserAgent(),
			),
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Set(string(loggerContextKey), requestLogger)
		c.Next()

		latency := time.Since(start)
		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		msg := fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path)

		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				msg+" with errors",
				"duration", latency,
				"errors", strings.Join(errs.Errors(), "; "),
				response,
			)
			return
		}
		requestLogger.Info(msg, "duration", latency, response)
	}
}

// metricMiddleware counts requests by method and route
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Request.Method + " " + c.FullPath()
		a.requestMetricsMu.Lock()
		a.requestMetrics[key]++
		a.requestMetricsMu.Unlock()
		c.Next()
	}
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
