package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/solexec/engine/internal/evaluator"
)

// APIServer is the thin operator control surface:
// health, metrics passthrough, breaker/queue status, and the graceful
// "close all positions" action, built on gin.New + gin.Recovery + cors.New.
type APIServer struct {
	router *gin.Engine
	server *http.Server
	engine *Context
	log    zerolog.Logger
}

// NewAPIServer builds the control-surface router bound to an engine Context.
func NewAPIServer(eng *Context, logger zerolog.Logger) *APIServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Content-Type"},
	}))

	s := &APIServer{router: router, engine: eng, log: logger}
	s.routes()
	return s
}

func (s *APIServer) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/breakers", s.handleBreakers)
	s.router.GET("/queue", s.handleQueue)
	s.router.POST("/positions/close-all", s.handleCloseAllPositions)
}

func (s *APIServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.engine.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *APIServer) handleBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.engine.Fabric.Snapshot()})
}

func (s *APIServer) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"depth": s.engine.Queue.Len()})
}

// handleCloseAllPositions is the graceful position-close action: every
// open position is turned into a SELL signal and routed through the same
// path a strategy-generated exit would take, rather than bypassing the
// queue/breaker admission path.
func (s *APIServer) handleCloseAllPositions(c *gin.Context) {
	ctx := c.Request.Context()

	positions, err := s.engine.Store.FetchActivePositions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var queued, failed int
	for _, p := range positions {
		sig := &evaluator.Signal{
			Mint: p.TokenMint, Action: evaluator.ActionSell,
			PriceSOL: p.EntryPriceSOL, Confidence: 1.0, Reason: "operator_close_all",
		}
		if err := s.engine.routeSignal(ctx, sig); err != nil {
			s.log.Warn().Err(err).Str("mint", p.TokenMint).Msg("close-all: failed to queue exit")
			failed++
			continue
		}
		queued++
	}

	c.JSON(http.StatusOK, gin.H{"queued": queued, "failed": failed, "total": len(positions)})
}

// Start runs the control surface; blocks until the server stops.
func (s *APIServer) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("operator control surface listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control surface: %w", err)
	}
	return nil
}

// Stop gracefully shuts the control surface down.
func (s *APIServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
