package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/allisson/safestring/internal/metrics"
)

// scrapeTimeout bounds one scrape, including the inventory count run against the stores.
const scrapeTimeout = 10 * time.Second

// MetricsServer serves the Prometheus scrape endpoint on its own port. It sits outside the
// unlock gate: it exposes counts and timings, never names or values.
type MetricsServer struct {
	server *http.Server
	logger *slog.Logger
}

// NewMetricsServer creates the scrape server for provider. Only GET and HEAD /metrics are
// routed; anything else gets a JSON 404 or 405.
func NewMetricsServer(
	host string,
	port int,
	logger *slog.Logger,
	provider *metrics.Provider,
) *MetricsServer {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())

	scrape := gin.WrapH(http.TimeoutHandler(provider.Handler(), scrapeTimeout, "scrape timed out"))
	router.GET("/metrics", scrape)
	router.HEAD("/metrics", scrape)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "only /metrics is served on this port"})
	})
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method_not_allowed"})
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              net.JoinHostPort(host, fmt.Sprint(port)),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      scrapeTimeout + 5*time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// GetHandler returns the http.Handler for testing purposes.
func (s *MetricsServer) GetHandler() http.Handler {
	return s.server.Handler
}

// Start binds the metrics port and serves until Shutdown. A port that cannot be bound is
// reported right away.
func (s *MetricsServer) Start(ctx context.Context) error {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics server: %w", err)
	}
	return s.serve(listener)
}

func (s *MetricsServer) serve(listener net.Listener) error {
	s.logger.Info("serving metrics", slog.String("addr", listener.Addr().String()))

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting scrapes and waits for in-flight ones within ctx.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping metrics server")
	return s.server.Shutdown(ctx)
}
