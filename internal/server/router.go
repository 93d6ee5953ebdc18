package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/supportspark/internal/auth"
	"github.com/MarcoPoloResearchLab/supportspark/internal/conversations"
	"github.com/MarcoPoloResearchLab/supportspark/internal/observability"
	"github.com/MarcoPoloResearchLab/supportspark/internal/supporters"
	"github.com/MarcoPoloResearchLab/supportspark/internal/uploads"
	"github.com/MarcoPoloResearchLab/supportspark/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	userIDContextKey  = "supportspark_user_id"
	eventsHeartbeat   = 25 * time.Second
	multipartOverhead = 1 << 20
)

var (
	errMissingUsersService         = errors.New("users service dependency required")
	errMissingConversationsService = errors.New("conversations service dependency required")
	errMissingSupportersService    = errors.New("supporters service dependency required")
	errMissingUploadStore          = errors.New("upload store dependency required")
	errMissingSessionIssuer        = errors.New("session issuer dependency required")
	errMissingSessionValidator     = errors.New("session validator dependency required")
)

// SessionIssuer signs session tokens after login.
type SessionIssuer interface {
	IssueSessionToken(ctx context.Context, identity auth.SessionIdentity) (string, time.Time, error)
}

// SessionValidator authenticates the session cookie of a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// Dependencies wires the services behind the HTTP API.
type Dependencies struct {
	Users             *users.Service
	Conversations     *conversations.Service
	Supporters        *supporters.Service
	Uploads           *uploads.Store
	SessionIssuer     SessionIssuer
	SessionValidator  SessionValidator
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	AllowedOrigins    []string
	AuthRatePerMinute int
	SecureCookies     bool
	MetricsGatherer   prometheus.Gatherer
	Clock             func() time.Time
}

// NewHTTPHandler builds the gin engine serving the SupportSpark API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Users == nil:
		return nil, errMissingUsersService
	case deps.Conversations == nil:
		return nil, errMissingConversationsService
	case deps.Supporters == nil:
		return nil, errMissingSupportersService
	case deps.Uploads == nil:
		return nil, errMissingUploadStore
	case deps.SessionIssuer == nil:
		return nil, errMissingSessionIssuer
	case deps.SessionValidator == nil:
		return nil, errMissingSessionValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	gatherer := deps.MetricsGatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	handler := &httpHandler{
		users:         deps.Users,
		conversations: deps.Conversations,
		supporters:    deps.Supporters,
		uploads:       deps.Uploads,
		issuer:        deps.SessionIssuer,
		sessions:      deps.SessionValidator,
		realtime:      realtime,
		logger:        logger,
		secureCookies: deps.SecureCookies,
		heartbeat:     eventsHeartbeat,
	}
	if deps.AuthRatePerMinute > 0 {
		handler.authLimiter = newClientRateLimiter(deps.AuthRatePerMinute, deps.Clock)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(metricsMiddleware)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/uploads/:name", handler.handleServeUpload)

	api := router.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.POST("/register", handler.rateLimitAuth, handler.handleRegister)
	authRoutes.POST("/login", handler.rateLimitAuth, handler.handleLogin)
	authRoutes.POST("/demo", handler.rateLimitAuth, handler.handleDemoLogin)
	authRoutes.POST("/logout", handler.handleLogout)
	authRoutes.GET("/user", handler.requireSession, handler.handleCurrentUser)

	protected := api.Group("/")
	protected.Use(handler.requireSession)
	protected.GET("/conversations", handler.handleListConversations)
	protected.POST("/conversations", handler.handleCreateConversation)
	protected.GET("/conversations/:id", handler.handleGetConversation)
	protected.PATCH("/conversations/:id", handler.handleRenameConversation)
	protected.POST("/conversations/:id/messages", handler.handleAddMessage)
	protected.GET("/supporters", handler.handleListSupporters)
	protected.POST("/supporters/invite", handler.handleInviteSupporter)
	protected.POST("/supporters/:id/accept", handler.handleAcceptSupporter)
	protected.POST("/supporters/:id/reject", handler.handleRejectSupporter)
	protected.POST("/uploads", handler.handleUpload)
	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	users         *users.Service
	conversations *conversations.Service
	supporters    *supporters.Service
	uploads       *uploads.Store
	issuer        SessionIssuer
	sessions      SessionValidator
	realtime      *RealtimeDispatcher
	authLimiter   *clientRateLimiter
	logger        *zap.Logger
	secureCookies bool
	heartbeat     time.Duration
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Cache-Control", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		// Credentials forbid a literal wildcard, so the request origin is echoed.
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

func metricsMiddleware(c *gin.Context) {
	started := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	method := c.Request.Method
	observability.HTTPRequests().WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
	observability.HTTPLatency().WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}

func (h *httpHandler) requireSession(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "auth.session.unauthorized"})
		return
	}
	if _, err := h.users.Get(claims.UserID); err != nil {
		h.logger.Warn("session references unknown user", zap.String("user_id", claims.UserID))
		h.clearSessionCookie(c)
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "auth.session.unknown_user"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_id", Code: "request.invalid_id"})
		return 0, false
	}
	return id, true
}
