package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/lukeocodes/mod-gpt/internal/api/auth"
	"github.com/lukeocodes/mod-gpt/internal/engine"
	"github.com/lukeocodes/mod-gpt/internal/store"
)

// Server represents the API server. It carries two surfaces: unauthenticated
// event intake under /events (the platform gateway posts here) and the
// JWT-protected operator API under /api/v1.
type Server struct {
	echo         *echo.Echo
	port         int
	engine       *engine.Engine
	store        store.Store
	tokenService *auth.TokenService
}

// NewServer creates a new API server
func NewServer(port int, eng *engine.Engine, s store.Store, jwtSecret string) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:         e,
		port:         port,
		engine:       eng,
		store:        s,
		tokenService: auth.NewTokenService(jwtSecret),
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// Event intake: the platform gateway pushes events here
	events := s.echo.Group("/events")
	events.POST("/message-created", s.handleMessageCreated)
	events.POST("/message-edited", s.handleMessageEdited)
	events.POST("/member-joined", s.handleMemberJoined)
	events.POST("/member-left", s.handleMemberLeft)

	// Operator API v1 group
	v1 := s.echo.Group("/api/v1")
	v1.Use(auth.RequireAuth(s.tokenService))

	v1.GET("/communities/:community/snapshot", s.getSnapshot)
	v1.PUT("/communities/:community/dry-run", s.setDryRun)
	v1.PUT("/communities/:community/proactive", s.setProactive)
	v1.PUT("/communities/:community/log-channel", s.setLogChannel)
	v1.PUT("/communities/:community/persona", s.setPersona)

	v1.GET("/communities/:community/heuristics", s.listHeuristics)
	v1.POST("/communities/:community/heuristics", s.createHeuristic)
	v1.POST("/communities/:community/heuristics/from-feedback", s.learnHeuristicFromFeedback)
	v1.PUT("/heuristics/:id/active", s.setHeuristicActive)
	v1.POST("/heuristics/:id/false-positive", s.reportFalsePositive)

	v1.PUT("/communities/:community/automations", s.upsertAutomation)
	v1.DELETE("/communities/:community/automations/:channel", s.deactivateAutomation)

	v1.POST("/communities/:community/notes", s.addNote)
	v1.DELETE("/communities/:community/notes/:id", s.deleteNote)

	v1.PUT("/communities/:community/reference-channels", s.setReferenceChannel)
	v1.DELETE("/communities/:community/reference-channels/:channel", s.removeReferenceChannel)

	v1.GET("/communities/:community/records", s.listRecords)
}

// Echo exposes the underlying echo instance for tests
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// TokenService exposes the token service so the CLI can mint operator tokens
func (s *Server) TokenService() *auth.TokenService {
	return s.tokenService
}

// Start begins the API server and blocks until an interrupt arrives
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shutting down the server")
		}
	}()

	log.Info().Int("port", s.port).Msg("API server started")

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// Shutdown stops the server without waiting for a signal
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
