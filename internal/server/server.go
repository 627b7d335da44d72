// Package server runs a local stand-in for the speaker recognition
// verification API, backed by an in-memory service.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alkime/voiceprint/internal/config"
	"github.com/alkime/voiceprint/internal/verification"
	"github.com/gin-gonic/gin"
)

// BasePath is where the verification API is mounted, matching the path
// component of verification.DefaultEndpoint.
const BasePath = "/spid/v1.0"

// Server represents the HTTP server
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	router  *gin.Engine
	service *verification.Memory
}

// New creates a new Server instance
func New(cfg *config.Config, logger *slog.Logger, service *verification.Memory) *Server {
	// Set Gin mode based on environment
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	server := &Server{
		config:  cfg,
		logger:  logger,
		router:  router,
		service: service,
	}

	// Setup middleware and routes
	setupSecurityMiddleware(router, cfg, logger)
	server.setupRoutes()

	return server
}

// Run starts the HTTP server
func Run(s *Server) error {
	s.logger.Info("Server listening", "port", s.config.Port, "basePath", BasePath)
	return s.router.Run(":" + s.config.Port)
}

// Router exposes the handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group(BasePath, subscriptionKeyAuth(s.config.SpeakerRecognitionKey))
	{
		api.POST("/verificationProfiles", s.handleCreateProfile)
		api.GET("/verificationProfiles/:id", s.handleGetProfile)
		api.POST("/verificationProfiles/:id/enroll", s.handleEnroll)
		api.POST("/verificationProfiles/:id/reset", s.handleReset)
		api.GET("/verificationPhrases", s.handleListPhrases)
	}

	s.router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NotFound", "Resource not found.")
	})
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "voiceprint",
	})
}
