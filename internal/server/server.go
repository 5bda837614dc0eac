package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/kektorrag/pkg/engine"
	"github.com/sanonone/kektorrag/pkg/rag"
)

// Config holds the HTTP listener settings.
type Config struct {
	Addr string `yaml:"addr"`
	// AuthToken enables bearer authentication on every route except
	// /healthz and /metrics. Empty disables it.
	AuthToken       string        `yaml:"auth_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":9091",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server exposes the Engine over HTTP.
type Server struct {
	engine    *engine.Engine
	assembler *rag.Assembler
	cfg       Config

	handler    http.Handler
	httpServer *http.Server
}

// NewServer builds the routes. assembler may be nil, which disables /context.
// The Engine is owned by the caller and is not closed by Shutdown.
func NewServer(eng *engine.Engine, assembler *rag.Assembler, cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	s := &Server{
		engine:    eng,
		assembler: assembler,
		cfg:       cfg,
	}

	api := http.NewServeMux()
	s.registerHTTPHandlers(api)

	// Chain: Recovery -> Logging -> Auth -> API.
	// Recovery is outer-most so it also catches panics in the other middlewares.
	var handler http.Handler = api
	handler = s.authMiddleware(handler)
	handler = s.LoggingMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealthz)
	root.Handle("GET /metrics", promhttp.Handler())
	root.Handle("/", handler)

	s.handler = root
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run blocks serving HTTP until Shutdown is called.
func (s *Server) Run() error {
	slog.Info("[HTTP] Server listening", "addr", s.httpServer.Addr, "auth", s.cfg.AuthToken != "")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("[HTTP] Graceful shutdown")
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
