// Package api serves the bot's health, status, and metrics endpoints
// over HTTP. The server is optional; it only runs when a listen address
// is configured.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kooklabs/ksbot/pkg/bot"
	"github.com/kooklabs/ksbot/pkg/version"
)

// StatusSource provides the runtime snapshot served by the status
// endpoint. *bot.Bot satisfies it.
type StatusSource interface {
	Status() bot.Status
}

// Server is the HTTP status server.
type Server struct {
	source StatusSource
	logger *slog.Logger
	engine *gin.Engine

	httpServer *http.Server
}

// NewServer builds the router. Start must be called to serve.
func NewServer(source StatusSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		source: source,
		logger: slog.Default().With("component", "api"),
		engine: engine,
	}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/api/v1/status", s.handleStatus)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

// Start serves HTTP on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Status server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.GitCommit,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Status())
}
