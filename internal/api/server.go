// Package api exposes the governance and scoring surface over HTTP: weight
// inspection and amendment, verdict and decision reads, tuning-run control,
// and a websocket feed of live verdicts.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"signal-council/internal/auth"
	"signal-council/internal/engine"
	"signal-council/internal/events"
	"signal-council/internal/logging"
	"signal-council/internal/registry"
	"signal-council/internal/store"
	"signal-council/internal/tuner"
)

// Config controls the HTTP listener.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins string // comma separated, "*" for all
	ProductionMode bool
}

// Archive is the optional persistence surface: the amendment audit trail and
// tuning runs that outlive the process. *store.Repository implements it.
type Archive interface {
	SaveAmendment(ctx context.Context, rec store.AmendmentRecord) error
	ListAmendments(ctx context.Context, limit int) ([]store.AmendmentRecord, error)
	GetTuningRun(ctx context.Context, id string) (*tuner.RunResult, error)
	ListTuningRuns(ctx context.Context, limit int) ([]tuner.RunResult, error)
}

// ConfigReloader re-reads configuration from disk. Optional.
type ConfigReloader interface {
	Reload() error
}

// Server is the HTTP API server.
type Server struct {
	cfg        Config
	router     *gin.Engine
	httpServer *http.Server

	registry    *registry.Registry
	engine      *engine.Engine
	tuning      *tuner.Manager // nil when tuning is disabled
	authService *auth.Service  // nil when auth is disabled
	bus         *events.EventBus
	archive     Archive
	reloader    ConfigReloader
	hub         *WSHub
	log         *logging.Logger
}

// NewServer builds the router and wires the websocket hub to the event bus.
// tuning, authService, archive and reloader may each be nil.
func NewServer(cfg Config, reg *registry.Registry, eng *engine.Engine, tuning *tuner.Manager,
	authService *auth.Service, bus *events.EventBus, archive Archive, reloader ConfigReloader) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:         cfg,
		router:      router,
		registry:    reg,
		engine:      eng,
		tuning:      tuning,
		authService: authService,
		bus:         bus,
		archive:     archive,
		reloader:    reloader,
		hub:         NewWSHub(),
		log:         logging.WithComponent("api"),
	}

	go s.hub.Run()
	bus.Subscribe(events.EventVerdictDelivered, s.hub.BroadcastEvent)
	bus.Subscribe(events.EventAmendmentEnacted, s.hub.BroadcastEvent)
	bus.Subscribe(events.EventTuningCompleted, s.hub.BroadcastEvent)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.POST("/api/auth/login", s.handleLogin)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/weights", s.handleGetWeights)
		api.GET("/amendments/history", s.handleAmendmentHistory)
		api.GET("/verdict/:symbol", s.handleGetVerdict)
		api.GET("/decision/:symbol", s.handleGetDecision)
		api.GET("/tuning/runs", s.handleListTuningRuns)
		api.GET("/tuning/runs/:id", s.handleGetTuningRun)
	}

	guarded := s.router.Group("/api")
	guarded.Use(auth.Middleware(s.authService))
	{
		guarded.POST("/amendments", s.handleProposeAmendment)
		guarded.POST("/weights/reset", s.handleResetWeights)
		guarded.POST("/tuning/runs", s.handleStartTuningRun)
		guarded.POST("/config/reload", s.handleConfigReload)
	}
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("http server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
