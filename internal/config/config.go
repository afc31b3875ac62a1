// Package config provides centralized configuration management.
// Every binary builds its settings from Load; defaults live here and
// environment variables override them.
package config

import (
	"os"
	"runtime"
	"strconv"

	"bluenoise/internal/sampling"
)

// =============================================================================
// SAMPLING CONFIGURATION
// =============================================================================

// SamplingConfig holds the generation parameters.
type SamplingConfig struct {
	Width       float64 // Region width in pixels
	Height      float64 // Region height in pixels
	MinDistance float64 // Minimum distance r between samples
	MaxAttempts int     // Candidates per active point (k)
	Seed        int64   // 0 = time-based
	Rounding    string  // nearest, floor or none
}

// DefaultSampling returns the region and radius of the original frame dump.
func DefaultSampling() SamplingConfig {
	return SamplingConfig{
		Width:       1720, // canvas minus 2x margin
		Height:      880,
		MinDistance: 30,
		MaxAttempts: sampling.DefaultMaxAttempts,
		Rounding:    "nearest",
	}
}

// SamplingFromEnv returns sampling configuration with environment variable overrides.
func SamplingFromEnv() SamplingConfig {
	cfg := DefaultSampling()

	if w := getEnvFloat("SAMPLE_WIDTH", 0); w > 0 {
		cfg.Width = w
	}
	if h := getEnvFloat("SAMPLE_HEIGHT", 0); h > 0 {
		cfg.Height = h
	}
	if r := getEnvFloat("SAMPLE_RADIUS", 0); r > 0 {
		cfg.MinDistance = r
	}
	if k := getEnvInt("SAMPLE_MAX_ATTEMPTS", 0); k > 0 {
		cfg.MaxAttempts = k
	}
	if s := getEnvInt64("SAMPLE_SEED", 0); s != 0 {
		cfg.Seed = s
	}
	if r := os.Getenv("SAMPLE_ROUNDING"); r != "" {
		cfg.Rounding = r
	}

	return cfg
}

// ToCore converts to the sampler's config and validates it.
func (c SamplingConfig) ToCore() (sampling.Config, error) {
	rounding, err := sampling.ParseRounding(c.Rounding)
	if err != nil {
		return sampling.Config{}, err
	}
	cfg := sampling.Config{
		Width:       c.Width,
		Height:      c.Height,
		MinDistance: c.MinDistance,
		MaxAttempts: c.MaxAttempts,
		Seed:        c.Seed,
		Rounding:    rounding,
	}
	return cfg, cfg.Validate()
}

// =============================================================================
// FRAME CONFIGURATION
// =============================================================================

// FrameConfig controls the per-event PNG dump.
type FrameConfig struct {
	Enabled      bool
	Dir          string
	CanvasWidth  int
	CanvasHeight int
	Margin       int     // Region offset inside the canvas
	DotRadius    float64 // Radius of every drawn point
	FontSize     float64
	Workers      int // PNG encoder goroutines
}

// DefaultFrames returns the default frame configuration.
func DefaultFrames() FrameConfig {
	return FrameConfig{
		Enabled:      false,
		Dir:          "frames",
		CanvasWidth:  1920,
		CanvasHeight: 1080,
		Margin:       100,
		DotRadius:    10,
		FontSize:     25,
		Workers:      max(1, runtime.NumCPU()/2),
	}
}

// FramesFromEnv returns frame configuration with environment variable overrides.
func FramesFromEnv() FrameConfig {
	cfg := DefaultFrames()

	if os.Getenv("FRAMES_ENABLED") == "true" {
		cfg.Enabled = true
	}
	if d := os.Getenv("FRAMES_DIR"); d != "" {
		cfg.Dir = d
	}
	if w := getEnvInt("FRAMES_WIDTH", 0); w > 0 {
		cfg.CanvasWidth = w
	}
	if h := getEnvInt("FRAMES_HEIGHT", 0); h > 0 {
		cfg.CanvasHeight = h
	}
	if m := getEnvInt("FRAMES_MARGIN", -1); m >= 0 {
		cfg.Margin = m
	}
	if n := getEnvInt("FRAMES_WORKERS", 0); n > 0 {
		cfg.Workers = n
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port             int
	MaxRegion        float64 // Largest accepted width or height
	MaxSamplesPerRun int     // Grid cell cap; requests that could exceed it are refused
	MaxConcurrent    int     // Async runs in flight
	RateLimit        float64 // Requests per second per IP
	RateBurst        int
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:             3000,
		MaxRegion:        10000,
		MaxSamplesPerRun: 200_000,
		MaxConcurrent:    4,
		RateLimit:        10,
		RateBurst:        20,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if m := getEnvFloat("MAX_REGION", 0); m > 0 {
		cfg.MaxRegion = m
	}
	if m := getEnvInt("MAX_SAMPLES_PER_RUN", 0); m > 0 {
		cfg.MaxSamplesPerRun = m
	}
	if c := getEnvInt("MAX_CONCURRENT_RUNS", 0); c > 0 {
		cfg.MaxConcurrent = c
	}
	if r := getEnvFloat("RATE_LIMIT", 0); r > 0 {
		cfg.RateLimit = r
	}
	if b := getEnvInt("RATE_BURST", 0); b > 0 {
		cfg.RateBurst = b
	}

	return cfg
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// StoreConfig holds run history settings.
type StoreConfig struct {
	Path string // SQLite file; "off" disables persistence
}

// StoreFromEnv returns store configuration with environment variable overrides.
func StoreFromEnv() StoreConfig {
	return StoreConfig{Path: getEnvString("STORE_PATH", "bluenoise.db")}
}

// EventLogConfig holds event log settings.
type EventLogConfig struct {
	Path      string  // NDJSON output; empty keeps events in memory only
	Capacity  int     // Ring buffer size
	MaxPerSec float64 // Global write rate; 0 = unlimited
}

// EventLogFromEnv returns event log configuration with environment variable overrides.
func EventLogFromEnv() EventLogConfig {
	cfg := EventLogConfig{Capacity: 10000, MaxPerSec: 50000}
	cfg.Path = os.Getenv("EVENT_LOG_PATH")
	if c := getEnvInt("EVENT_LOG_CAPACITY", 0); c > 0 {
		cfg.Capacity = c
	}
	if r := getEnvFloat("EVENT_LOG_MAX_PER_SEC", -1); r >= 0 {
		cfg.MaxPerSec = r
	}
	return cfg
}

// =============================================================================
// OBSERVABILITY
// =============================================================================

// ObservabilityConfig controls the debug server (pprof + /metrics).
type ObservabilityConfig struct {
	DebugAddr string // localhost only
	Enabled   bool
}

// ObservabilityFromEnv returns observability configuration with environment variable overrides.
func ObservabilityFromEnv() ObservabilityConfig {
	return ObservabilityConfig{
		DebugAddr: getEnvString("DEBUG_ADDR", "localhost:6060"),
		Enabled:   os.Getenv("DEBUG_SERVER") != "false",
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sampling      SamplingConfig
	Frames        FrameConfig
	Server        ServerConfig
	Store         StoreConfig
	EventLog      EventLogConfig
	Observability ObservabilityConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Sampling:      SamplingFromEnv(),
		Frames:        FramesFromEnv(),
		Server:        ServerFromEnv(),
		Store:         StoreFromEnv(),
		EventLog:      EventLogFromEnv(),
		Observability: ObservabilityFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
