// Package api exposes surveyor's HTTP surface: REST endpoints for threads,
// missions, and their persisted event logs, the WebSocket upgrade points for
// conversation and observer sockets, and the health and metrics endpoints.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/database"
	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/hitl"
	"github.com/meridian-labs/surveyor/pkg/services"
)

// MissionCanceller requests cancellation of in-flight missions and reports
// which ones are currently active. *mission.Orchestrator satisfies it; the
// indirection exists so handlers can be tested without a live scheduler.
type MissionCanceller interface {
	CancelMission(missionID string) bool
	ActiveMissions() []string
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	logger     *slog.Logger

	cfg            *config.Config
	dbClient       *database.Client
	threadService  *services.ThreadService
	missionService *services.MissionService
	eventService   *services.EventService
	orchestrator   MissionCanceller
	hub            *hitl.Hub
	connManager    *events.ConnectionManager
	metrics        http.Handler
}

// NewServer assembles the echo router with all middleware and routes wired.
// Subsystems may be nil; the corresponding endpoints then report unavailable.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	threadService *services.ThreadService,
	missionService *services.MissionService,
	eventService *services.EventService,
	orchestrator MissionCanceller,
	hub *hitl.Hub,
	connManager *events.ConnectionManager,
) *Server {
	e := echo.New()

	s := &Server{
		echo:           e,
		logger:         slog.With("component", "api"),
		cfg:            cfg,
		dbClient:       dbClient,
		threadService:  threadService,
		missionService: missionService,
		eventService:   eventService,
		orchestrator:   orchestrator,
		hub:            hub,
		connManager:    connManager,
	}

	e.Use(requestLogger(s.logger))
	e.Use(securityHeaders())
	s.registerRoutes()

	s.httpServer = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// SetMetricsGatherer installs the Prometheus registry served on GET /metrics.
// Until it is called the endpoint returns 503.
func (s *Server) SetMetricsGatherer(g prometheus.Gatherer) {
	s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.POST("/threads", s.createThreadHandler)
	e.GET("/threads/:id/messages", s.listMessagesHandler)
	e.GET("/threads/:id/hitl", s.conversationSocketHandler)

	e.GET("/missions", s.listMissionsHandler)
	e.GET("/missions/:id", s.getMissionHandler)
	e.GET("/missions/:id/events", s.listMissionEventsHandler)
	e.POST("/missions/:id/cancel", s.cancelMissionHandler)

	e.GET("/ws", s.observerSocketHandler)

	e.GET("/healthz", s.healthHandler)
	e.GET("/metrics", s.metricsHandler)
}

// Start serves HTTP on addr. It blocks until Shutdown is called or the
// listener fails, returning http.ErrServerClosed on graceful stop.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves HTTP on an already-bound listener. Tests use this
// to grab an ephemeral port before the serve goroutine starts.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to finish, up to the context deadline. Hijacked WebSocket connections are
// not waited on; the hub and connection manager close those themselves.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// metricsHandler handles GET /metrics.
func (s *Server) metricsHandler(c *echo.Context) error {
	if s.metrics == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "metrics not available")
	}
	s.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}
