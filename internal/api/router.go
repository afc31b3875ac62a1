package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"bluenoise/internal/sampling"
)

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Runs:  api.NewRunManager(api.RunManagerConfig{}),
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Runs executes sampling requests (required)
	Runs *RunManager

	// Store serves run history. If nil, history endpoints answer 503.
	Store RunStore

	// Defaults fills fields a request leaves out. Zero value uses
	// sampling.DefaultConfig.
	Defaults sampling.Config

	// Limits caps request sizes. Zero value uses DefaultLimits.
	Limits Limits

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, localhost on any port is allowed.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
// This is used internally to pass handlers to route setup.
type routerHandlers struct {
	runs     *RunManager
	store    RunStore
	defaults sampling.Config
	limits   Limits
	limiter  *IPRateLimiter
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects:
//   - No goroutines are started
//   - No network listeners are opened
//   - No background workers are launched
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := GetRateLimiterFromRouter(cfg)
	r.Use(rateLimiter.Middleware)

	// CORS configuration
	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Location", "Content-Disposition"},
		AllowCredentials: false,
	}))

	defaults := cfg.Defaults
	if defaults == (sampling.Config{}) {
		defaults = sampling.DefaultConfig()
	}
	limits := cfg.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits
	}

	runs := cfg.Runs
	if runs == nil {
		runs = NewRunManager(RunManagerConfig{Store: cfg.Store, MaxConcurrent: limits.MaxConcurrent})
	}

	// Create handlers struct
	h := &routerHandlers{
		runs:     runs,
		store:    cfg.Store,
		defaults: defaults,
		limits:   limits,
		limiter:  rateLimiter,
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/config/defaults", h.handleGetDefaults)

		// Synchronous generation
		r.Post("/samples", h.handleSample)

		// Background runs and history
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.handleStartRun)
			r.Get("/", h.handleListRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGetRun)
				r.Delete("/", h.handleDeleteRun)
				r.Get("/geojson", h.handleRunGeoJSON)
				r.Get("/export", h.handleRunExport)
				r.Get("/report", h.handleRunReport)
				r.Get("/events", h.handleRunEvents)
			})
		})
	})

	return r
}

// GetRateLimiterFromRouter is a helper to extract the rate limiter from a configured router.
// It returns cfg.RateLimiter when set, otherwise a fresh limiter from the config.
func GetRateLimiterFromRouter(cfg RouterConfig) *IPRateLimiter {
	if cfg.RateLimiter != nil {
		return cfg.RateLimiter
	}
	rateLimitCfg := DefaultRateLimitConfig
	if cfg.RateLimitConfig != nil {
		rateLimitCfg = *cfg.RateLimitConfig
	}
	return NewIPRateLimiter(rateLimitCfg)
}
