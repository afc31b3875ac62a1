package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"bluenoise/internal/eventlog"
	"bluenoise/internal/sampling"
)

// statsInterval is how often shared event log counters reach Prometheus.
const statsInterval = 5 * time.Second

// ServerConfig wires a Server.
type ServerConfig struct {
	Store         RunStore           // optional run history
	EventLog      *eventlog.EventLog // optional shared event log
	Defaults      sampling.Config
	Limits        Limits
	RateLimit     RateLimitConfig
	EventCapacity int // per-run event ring for /api/runs/{id}/events
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with WebSocket hub for real-time updates.
type Server struct {
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	runs        *RunManager
	events      *eventlog.EventLog

	httpServer *http.Server
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// This enables testing by allowing the server to be constructed without
// starting goroutines or opening network listeners.
//
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		wsHub:    NewWebSocketHub(),
		events:   cfg.EventLog,
		stopChan: make(chan struct{}),
	}

	// Create rate limiter (we track it for cleanup)
	s.rateLimiter = NewIPRateLimiter(cfg.RateLimit)

	s.runs = NewRunManager(RunManagerConfig{
		Store:         cfg.Store,
		Hub:           s.wsHub,
		EventLog:      cfg.EventLog,
		EventCapacity: cfg.EventCapacity,
		MaxConcurrent: cfg.Limits.MaxConcurrent,
	})

	// Build router using the factory
	s.router = NewRouter(RouterConfig{
		Runs:        s.runs,
		Store:       cfg.Store,
		Defaults:    cfg.Defaults,
		Limits:      cfg.Limits,
		RateLimiter: s.rateLimiter,
	})

	// Add WebSocket routes (these need the wsHub instance)
	s.setupWebSocketRoutes()

	return s
}

// setupWebSocketRoutes adds WebSocket-specific routes to the router.
// These routes need access to the wsHub instance, so they can't be
// part of the generic NewRouter factory.
func (s *Server) setupWebSocketRoutes() {
	s.router.Get("/ws", s.wsHub.HandleWebSocket)
}

// Start begins the HTTP server AND starts background workers.
// This is the ONLY method that starts goroutines or opens network listeners.
// It blocks until Shutdown is called or the listener fails.
func (s *Server) Start(addr string) error {
	// Start background workers NOW, not in constructor
	go s.wsHub.Run()
	if s.events != nil {
		go s.statsLoop()
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🔌 Live runs: ws://localhost%s/ws", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			UpdateEventLogStats(s.events.GetStats())
		}
	}
}

// Router returns the HTTP handler for use with httptest.
// Use this in integration tests instead of calling Start().
func (s *Server) Router() http.Handler {
	return s.router
}

// Runs returns the server's run manager.
func (s *Server) Runs() *RunManager {
	return s.runs
}

// Shutdown stops accepting requests, cancels running runs and waits for
// them to be persisted, then closes WebSocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := s.runs.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wsHub.Stop()
	return firstErr
}
