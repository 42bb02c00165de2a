package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor-realtime/internal/authcache"
	"github.com/computor-org/computor-realtime/internal/cache"
	"github.com/computor-org/computor-realtime/internal/config"
	"github.com/computor-org/computor-realtime/internal/middleware"
	"github.com/computor-org/computor-realtime/internal/realtime"
)

// Deps are the collaborators the HTTP layer exposes.
type Deps struct {
	Cache    *cache.TaggedCache
	Auth     *authcache.TokenAuthCache
	Manager  *realtime.ConnectionManager
	Presence *realtime.PresenceTracker
	Limiter  *middleware.RateLimiter
}

// Server serves the WebSocket endpoint, health, metrics, and the internal
// revocation hooks called by the platform API.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router *gin.Engine
	logger *logrus.Logger
	http   *http.Server
}

func New(cfg *config.Config, deps Deps, logger *logrus.Logger) *Server {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if s.cfg.Server.RequestLogging {
		router.Use(s.requestLogger())
	}
	if s.cfg.Server.EnableCORS {
		router.Use(corsMiddleware(s.cfg.Server.CORSOrigins))
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The credential is validated after the upgrade so auth failures can be
	// reported with a WebSocket close code instead of a plain HTTP error.
	ws := router.Group("/ws")
	if s.deps.Limiter != nil {
		ws.Use(s.deps.Limiter.Middleware())
	}
	ws.GET("", s.handleWebSocket)

	authed := router.Group("/", middleware.TokenAuth(s.deps.Auth, s.logger))
	authed.GET("/presence/:user_id", s.handlePresence)

	internal := router.Group("/internal", s.requireAPIKey())
	internal.POST("/revoke", s.handleRevokeToken)
	internal.POST("/revoke-user", s.handleRevokeUser)

	return router
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.http = &http.Server{
		Addr:    s.cfg.Server.Host + ":" + s.cfg.Server.Port,
		Handler: s.router,
	}
	s.logger.WithField("addr", s.http.Addr).Info("Realtime server listening")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and closes every live connection.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.deps.Manager.CloseAll()
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	cacheStatus := "up"

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Cache.Ping(ctx); err != nil {
		// The service keeps working without the store, in degraded mode.
		cacheStatus = "down"
	}

	c.JSON(status, gin.H{
		"status":      "ok",
		"cache":       cacheStatus,
		"connections": s.deps.Manager.ConnectionCount(),
	})
}

func (s *Server) handlePresence(c *gin.Context) {
	if s.deps.Presence == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "presence tracking disabled"})
		return
	}
	userID := c.Param("user_id")

	online, err := s.deps.Presence.IsOnline(c.Request.Context(), userID)
	if err != nil {
		// Store down; report offline rather than failing the caller.
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": false})
		return
	}

	resp := gin.H{"user_id": userID, "online": online}
	if lastSeen, ok, err := s.deps.Presence.LastSeen(c.Request.Context(), userID); err == nil && ok {
		resp["last_seen"] = lastSeen
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRevokeToken(c *gin.Context) {
	var req struct {
		TokenID string `json:"token_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token_id is required"})
		return
	}

	if err := s.deps.Auth.Revoke(c.Request.Context(), req.TokenID); err != nil {
		s.logger.WithError(err).WithField("token_id", req.TokenID).Error("Token revocation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revocation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": req.TokenID})
}

func (s *Server) handleRevokeUser(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := s.deps.Auth.RevokeAllForUser(c.Request.Context(), req.UserID); err != nil {
		s.logger.WithError(err).WithField("user_id", req.UserID).Error("User revocation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revocation failed"})
		return
	}
	closed := s.deps.Manager.DisconnectUser(req.UserID)
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "connections_closed": closed})
}

// requireAPIKey guards the internal endpoints with the shared API key. With
// no key configured the endpoints are disabled outright.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	key := s.cfg.Auth.ValidateAPIKey
	return func(c *gin.Context) {
		if key == "" || c.GetHeader("X-API-Key") != key {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("Request handled")
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := allowAll
		for _, o := range origins {
			if strings.EqualFold(o, origin) {
				allowed = true
			}
		}
		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
