// Package httpapi is the thin HTTP client of the segment orchestration
// core: it turns incoming requests into ensureSegment/getPlaylist calls and
// streams the resulting files back, and exposes a small JSON operations
// surface for health and statistics. It never decides transcoding policy
// itself (§1 Non-goals).
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/streamforge/gateway/internal/httpapi/middleware"
)

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// Server is the gateway's HTTP server: a chi router carrying both the raw
// streaming routes and a Huma-mounted JSON API.
type Server struct {
	config     Config
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with the gateway's standard middleware stack
// wired in: request ID, structured request logging, panic recovery, CORS,
// and response compression (skipped for segment/playlist bodies).
func NewServer(cfg Config, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowedOrigins = cfg.CORSOrigins
	}
	router.Use(middleware.CORSWithConfig(corsCfg))
	router.Use(middleware.SkipCompressionForMedia(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig("streamgate gateway API", version)
	humaConfig.Info.Description = "On-demand adaptive-bitrate HLS streaming gateway"
	api := humachi.New(router, humaConfig)

	return &Server{config: cfg, router: router, api: api, logger: logger}
}

// API returns the Huma API instance for registering JSON operations.
func (s *Server) API() huma.API { return s.api }

// Router returns the chi router for registering raw streaming routes.
func (s *Server) Router() *chi.Mux { return s.router }

// ListenAndServe starts the server and blocks until ctx is cancelled or the
// server errors, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", slog.String("address", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("serving HTTP: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down HTTP server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errChan:
		return err
	}
}
