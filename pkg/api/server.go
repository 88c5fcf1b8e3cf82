// Package api implements the daemon's HTTP surface: the REST API plus the
// /ws WebSocket upgrade on the main port, and the lightweight status
// listener.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/opencli/daemon/pkg/config"
	"github.com/opencli/daemon/pkg/database"
	"github.com/opencli/daemon/pkg/domain"
	"github.com/opencli/daemon/pkg/pipeline"
	"github.com/opencli/daemon/pkg/store"
	"github.com/opencli/daemon/pkg/ws"
)

// Server is the main HTTP server on port 9529.
type Server struct {
	echo     *echo.Echo
	logger   *slog.Logger
	cfg      *config.Manager
	dbClient *database.Client
	store    *store.Store
	registry *domain.Registry
	executor *pipeline.Executor
	sessions *ws.Manager

	startedAt    time.Time
	requestCount atomic.Int64

	// One generation run per episode at a time.
	runs   map[string]*episodeRun
	runsMu sync.Mutex

	httpServer *http.Server
}

// NewServer wires the REST routes and the /ws upgrade.
func NewServer(
	cfg *config.Manager,
	dbClient *database.Client,
	st *store.Store,
	registry *domain.Registry,
	sessions *ws.Manager,
	logger *slog.Logger,
) *Server {
	s := &Server{
		echo:      echo.New(),
		logger:    logger.With("component", "api"),
		cfg:       cfg,
		dbClient:  dbClient,
		store:     st,
		registry:  registry,
		executor:  pipeline.NewExecutor(registry),
		sessions:  sessions,
		startedAt: time.Now(),
		runs:      make(map[string]*episodeRun),
	}
	s.registerRoutes()
	return s
}

// TotalRequests returns the number of HTTP requests served so far; exposed
// by the status listener.
func (s *Server) TotalRequests() int64 { return s.requestCount.Load() }

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration { return time.Since(s.startedAt) }

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(s.countRequests())
	e.Use(corsHeaders())
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/status", s.statusHandler)

	v1.GET("/config", s.getConfigHandler)
	v1.POST("/config", s.updateConfigHandler)

	v1.GET("/nodes/catalog", s.nodeCatalogHandler)

	v1.GET("/pipelines", s.listPipelinesHandler)
	v1.POST("/pipelines", s.savePipelineHandler)
	v1.GET("/pipelines/:id", s.getPipelineHandler)
	v1.PUT("/pipelines/:id", s.updatePipelineHandler)
	v1.DELETE("/pipelines/:id", s.deletePipelineHandler)
	v1.POST("/pipelines/:id/run", s.runPipelineHandler)
	v1.POST("/pipelines/:id/run-from/:nodeId", s.runPipelineFromHandler)

	v1.GET("/episodes", s.listEpisodesHandler)
	v1.POST("/episodes", s.createEpisodeHandler)
	v1.POST("/episodes/from-script", s.createEpisodeFromScriptHandler)
	v1.GET("/episodes/:id", s.getEpisodeHandler)
	v1.DELETE("/episodes/:id", s.deleteEpisodeHandler)
	v1.POST("/episodes/:id/generate", s.generateEpisodeHandler)
	v1.POST("/episodes/:id/cancel", s.cancelEpisodeHandler)
	v1.GET("/episodes/:id/progress", s.episodeProgressHandler)
	v1.GET("/episodes/:id/assets", s.episodeAssetsHandler)
	v1.POST("/episodes/:id/build-pipeline", s.buildEpisodePipelineHandler)
	v1.GET("/episodes/:id/characters", s.listCharactersHandler)
	v1.POST("/episodes/:id/characters", s.saveCharacterHandler)
	v1.DELETE("/episodes/:id/characters/:charId", s.deleteCharacterHandler)

	v1.POST("/execute", s.executeHandler)
	v1.GET("/files/*", s.filesHandler)
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routing tree; used by tests.
func (s *Server) Handler() http.Handler { return s.echo }
