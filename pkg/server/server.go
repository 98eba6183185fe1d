package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/ganymede/pkg/auth"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/handlers"
	"mercator-hq/ganymede/pkg/proxy/middleware"
	"mercator-hq/ganymede/pkg/recovery"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/translate"
)

// Deps carries the wired components the HTTP surface exposes. Metrics may be
// nil, in which case the /metrics route is not registered.
type Deps struct {
	Engine      *gateway.Engine
	Translator  *translate.Translator
	Credentials *auth.Manager
	Models      *kiro.ModelCache
	Recovery    *recovery.Cache
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Server is the inbound HTTP server for both API dialects.
type Server struct {
	cfg        *config.Config
	deps       Deps
	httpServer *http.Server

	shutdownChan chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
	mu           sync.RWMutex
	running      bool
}

// New creates a server from validated configuration and wired dependencies.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		cfg:          cfg,
		deps:         deps,
		shutdownChan: make(chan struct{}),
	}
}

// Start runs the listener and blocks until the context is canceled, a
// shutdown signal arrives, Stop is called, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:        s.cfg.Server.ListenAddress,
		Handler:     s.setupRoutes(),
		ReadTimeout: s.cfg.Server.ReadTimeout,
		// WriteTimeout stays zero unless configured: completions stream for
		// unbounded stretches and a deadline would sever them mid-response.
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		IdleTimeout:    s.cfg.Server.IdleTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("starting gateway",
			"address", s.cfg.Server.ListenAddress,
			"metrics", s.deps.Metrics != nil,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.deps.Logger.Info("context canceled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.deps.Logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case <-s.shutdownChan:
		s.deps.Logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Stop requests a graceful shutdown from another goroutine. Safe to call
// more than once and before Start.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.shutdownChan) })
}

// Shutdown drains in-flight requests within the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.deps.Logger.Info("initiating graceful shutdown",
			"timeout", s.cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.deps.Logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		s.deps.Logger.Info("gateway stopped")
	})

	return shutdownErr
}

// setupRoutes builds the route table and wraps it in the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	opts := handlers.Options{
		Engine:     s.deps.Engine,
		Translator: s.deps.Translator,
		Metrics:    s.deps.Metrics,
		Logger:     s.deps.Logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/messages", handlers.NewMessagesHandler(opts))
	mux.Handle("/v1/chat/completions", handlers.NewCompletionsHandler(opts))

	modelsHandler := handlers.NewModelsHandler(s.deps.Models, s.deps.Logger)
	mux.Handle("/v1/models", modelsHandler)
	mux.Handle("/v1/models/{id}", modelsHandler)

	mux.Handle("/healthz", handlers.NewHealthHandler(s.deps.Credentials, s.deps.Recovery, s.deps.Models))
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	// Outermost to innermost: Recovery, RequestID, Logging, Auth. Recovery
	// first so panics anywhere below still answer as JSON; RequestID before
	// Logging so log lines carry the id; Auth after Logging so rejected
	// requests still appear in the access log.
	var handler http.Handler = mux
	handler = middleware.AuthMiddleware(s.cfg)(handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)
	return handler
}

// Handler returns the fully wrapped route table, for tests that drive the
// server through httptest instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// IsRunning reports whether Start has been called and Shutdown has not
// completed.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
