package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/qna/internal/auth"
	"github.com/MarcoPoloResearchLab/qna/internal/notifications"
	"github.com/MarcoPoloResearchLab/qna/internal/questions"
	"github.com/MarcoPoloResearchLab/qna/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userIDContextKey = "qna_user_id"
	userContextKey   = "qna_user"

	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingQuestions        = errors.New("questions service dependency required")
	errMissingNotifications    = errors.New("notifications service dependency required")
	errMissingDatabase         = errors.New("database dependency required")
)

// SessionValidator authenticates a request from its session token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps validated claims onto a local user.
type UserResolver interface {
	Resolve(ctx context.Context, claims auth.SessionClaims) (users.User, error)
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	Sessions          SessionValidator
	Users             UserResolver
	Questions         *questions.Service
	Notifications     *notifications.Service
	Database          *gorm.DB
	Realtime          *RealtimeDispatcher
	Metrics           http.Handler
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.Questions == nil {
		return nil, errMissingQuestions
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Database == nil {
		return nil, errMissingDatabase
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:          deps.Sessions,
		users:             deps.Users,
		questions:         deps.Questions,
		notifications:     deps.Notifications,
		db:                deps.Database,
		realtime:          realtime,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	router.GET("/tags", handler.handleListTags)

	public := router.Group("/")
	public.Use(handler.identifyViewer)
	public.GET("/questions", handler.handleListQuestions)
	public.GET("/questions/:id", handler.handleGetQuestion)
	public.GET("/questions/:id/answers", handler.handleListAnswers)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)

	protected.POST("/questions", handler.handleCreateQuestion)
	protected.PUT("/questions/:id", handler.handleUpdateQuestion)
	protected.DELETE("/questions/:id", handler.handleDeleteQuestion)
	protected.POST("/questions/:id/vote", handler.handleVoteQuestion)
	protected.DELETE("/questions/:id/vote", handler.handleUnvoteQuestion)

	protected.POST("/answers", handler.handleCreateAnswer)
	protected.PUT("/answers/:id", handler.handleUpdateAnswer)
	protected.DELETE("/answers/:id", handler.handleDeleteAnswer)
	protected.POST("/answers/:id/vote", handler.handleVoteAnswer)
	protected.DELETE("/answers/:id/vote", handler.handleUnvoteAnswer)
	protected.POST("/answers/:id/accept", handler.handleAcceptAnswer)
	protected.POST("/answers/:id/comments", handler.handleAddComment)

	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread-count", handler.handleUnreadCount)
	protected.GET("/notifications/stream", handler.handleNotificationStream)
	protected.PUT("/notifications/mark-read", handler.handleMarkRead)
	protected.PUT("/notifications/mark-all-read", handler.handleMarkAllRead)
	protected.DELETE("/notifications/:id", handler.handleDeleteNotification)

	return router, nil
}

type httpHandler struct {
	sessions          SessionValidator
	users             UserResolver
	questions         *questions.Service
	notifications     *notifications.Service
	db                *gorm.DB
	realtime          *RealtimeDispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// authorizeRequest requires a valid session and stores the resolved user on the context.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if !h.resolveViewer(c) {
		return
	}
	c.Next()
}

// identifyViewer resolves a viewer when a valid token is present and proceeds anonymously
// otherwise.
func (h *httpHandler) identifyViewer(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if !errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Debug("ignoring viewer token", zap.Error(err))
		}
		c.Next()
		return
	}
	if !h.storeViewer(c, claims) {
		return
	}
	c.Next()
}

func (h *httpHandler) resolveViewer(c *gin.Context) bool {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": authFailureCode(err)})
		return false
	}
	return h.storeViewer(c, claims)
}

func (h *httpHandler) storeViewer(c *gin.Context, claims auth.SessionClaims) bool {
	user, err := h.users.Resolve(c.Request.Context(), claims)
	if err != nil {
		h.respondError(c, err)
		return false
	}
	c.Set(userIDContextKey, user.ID)
	c.Set(userContextKey, user)
	return true
}

func authFailureCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingSessionToken):
		return "auth.missing_token"
	case errors.Is(err, auth.ErrExpiredSessionToken):
		return "auth.expired_token"
	default:
		return "auth.invalid_token"
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	user, ok := c.Get(userContextKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "auth.missing_token"})
		return
	}
	c.JSON(http.StatusOK, user)
}
