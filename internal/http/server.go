// Package http provides the HTTP server, its middleware chain and the metrics server.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	authHTTP "github.com/allisson/safestring/internal/auth/http"
	authService "github.com/allisson/safestring/internal/auth/service"
	"github.com/allisson/safestring/internal/config"
	"github.com/allisson/safestring/internal/metrics"
	vaultHTTP "github.com/allisson/safestring/internal/vault/http"
)

// readinessTimeout bounds the entry store ping of GET /ready.
const readinessTimeout = 2 * time.Second

// Pinger reports whether the entry store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server of the vault API.
type Server struct {
	pinger Pinger
	server *http.Server
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a new HTTP server. SetupRouter must be called before Start.
func NewServer(pinger Pinger, host string, port int, logger *slog.Logger) *Server {
	return &Server{
		pinger: pinger,
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter builds the gin engine with the middleware chain and all routes.
//
// Health endpoints sit outside the unlock gate and the rate limiter. metricsProvider may be
// nil when metrics are disabled.
func (s *Server) SetupRouter(
	cfg *config.Config,
	entryHandler *vaultHTTP.EntryHandler,
	unlockTokenService authService.UnlockTokenService,
	metricsProvider *metrics.Provider,
) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	if cfg.MetricsEnabled && metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), cfg.MetricsNamespace))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	v1 := router.Group("/v1")
	if cfg.RateLimitEnabled {
		v1.Use(authHTTP.RateLimitMiddleware(cfg.RateLimitRequestsPerSec, cfg.RateLimitBurst, s.logger))
	}
	if cfg.UnlockGateEnabled() {
		v1.Use(authHTTP.UnlockGateMiddleware(unlockTokenService, cfg.UnlockTokenHash, s.logger))
		s.logger.Info("unlock gate enabled")
	}

	entries := v1.Group("/entries")
	{
		entries.GET("", entryHandler.ListHandler)
		entries.PUT("/*name", entryHandler.SaveHandler)
		entries.GET("/*name", entryHandler.GetHandler)
		entries.DELETE("/*name", entryHandler.DeleteHandler)
	}

	s.router = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		return fmt.Errorf("router not configured")
	}
	s.server.Handler = s.router
	s.server.BaseContext = func(_ net.Listener) context.Context { return ctx }

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

// healthHandler reports that the process is up.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports whether the entry store answers a ping.
func (s *Server) readinessHandler(c *gin.Context) {
	status := "ok"
	if s.pinger == nil {
		status = "error"
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("entry store not ready", slog.Any("error", err))
			status = "error"
		}
	}

	if status != "ok" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "not_ready",
			"components": gin.H{"entry_store": status},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"components": gin.H{"entry_store": status},
	})
}
