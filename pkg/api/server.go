// Package api provides the HTTP surface for charterd.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charterworks/charterd/pkg/config"
	"github.com/charterworks/charterd/pkg/database"
	"github.com/charterworks/charterd/pkg/orchestrator"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	dbClient   *database.Client
	orch       *orchestrator.Orchestrator
	broker     *AnswerBroker
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, dbClient *database.Client, orch *orchestrator.Orchestrator, registry *prometheus.Registry) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		router:   router,
		cfg:      cfg,
		dbClient: dbClient,
		orch:     orch,
		broker:   NewAnswerBroker(),
	}
	s.setupRoutes(registry)
	return s
}

// Broker exposes the answer broker (used by tests and the CLI surface).
func (s *Server) Broker() *AnswerBroker { return s.broker }

// Handler returns the underlying handler, for test servers.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes(registry *prometheus.Registry) {
	s.router.GET("/health", s.healthHandler)
	if registry != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")

	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/resume", s.resumeSessionHandler)
	v1.POST("/sessions/:id/abort", s.abortSessionHandler)

	v1.POST("/sessions/:id/stages/:n/execute", s.executeStageHandler)
	v1.POST("/sessions/:id/stages/:n/advance", s.advanceStageHandler)

	v1.GET("/sessions/:id/question", s.pendingQuestionHandler)
	v1.POST("/sessions/:id/answer", s.answerHandler)

	v1.GET("/sessions/:id/consistency", s.consistencyHandler)
	v1.POST("/sessions/:id/charter/generate", s.generateCharterHandler)
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports database health and configuration statistics.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var dbHealth *database.HealthStatus
	if s.dbClient != nil {
		var err error
		dbHealth, err = s.dbClient.Health(reqCtx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbHealth,
			})
			return
		}
	}

	overall := "healthy"
	if dbHealth != nil && dbHealth.Status != "healthy" {
		overall = dbHealth.Status
	}

	stats := s.cfg.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":   overall,
		"database": dbHealth,
		"configuration": gin.H{
			"llm_providers":      stats.Providers,
			"tiers":              stats.Tiers,
			"injection_patterns": stats.Patterns,
		},
	})
}
