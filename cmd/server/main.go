package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bluenoise/internal/api"
	"bluenoise/internal/config"
	"bluenoise/internal/eventlog"
	"bluenoise/internal/store"
)

// shutdownTimeout bounds how long cancelled runs get to reach the store.
const shutdownTimeout = 15 * time.Second

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🔵 ================================")
	log.Println("🔵  BLUENOISE - POISSON DISC API")
	log.Println("🔵 ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig := config.Load()
	serverCfg := appConfig.Server

	defaults, err := appConfig.Sampling.ToCore()
	if err != nil {
		log.Fatalf("❌ Invalid sampling defaults: %v", err)
	}
	log.Printf("🎲 Defaults: %gx%g r=%g k=%d rounding=%s",
		defaults.Width, defaults.Height, defaults.MinDistance, defaults.MaxAttempts, defaults.Rounding)
	log.Printf("🛡️ Limits: region %g, %d cells per run, %d concurrent runs, %g req/s (burst %d)",
		serverCfg.MaxRegion, serverCfg.MaxSamplesPerRun, serverCfg.MaxConcurrent, serverCfg.RateLimit, serverCfg.RateBurst)

	// Start debug server
	if err := api.StartDebugServer(api.ObservabilityConfig{
		Enabled:       appConfig.Observability.Enabled,
		ListenAddr:    appConfig.Observability.DebugAddr,
		BasicAuthUser: os.Getenv("DEBUG_USER"),
		BasicAuthPass: os.Getenv("DEBUG_PASS"),
	}); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	// Run history
	var runStore api.RunStore
	var db *store.Store
	if path := appConfig.Store.Path; path != "" && path != "off" {
		db, err = store.Open(context.Background(), path)
		if err != nil {
			log.Fatalf("❌ Failed to open run store %s: %v", path, err)
		}
		runStore = db
		log.Printf("💾 Run history: %s", path)
	} else {
		log.Println("⚠️ Run history disabled")
	}

	// Start event log
	var events *eventlog.EventLog
	if path := appConfig.EventLog.Path; path != "" {
		events = eventlog.NewEventLog(eventlog.Options{
			Capacity:        appConfig.EventLog.Capacity,
			MaxEventsPerSec: appConfig.EventLog.MaxPerSec,
		})
		if err := events.Start(path); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
			events = nil
		} else {
			log.Printf("📝 Event log: %s", path)
		}
	}

	server := api.NewServer(api.ServerConfig{
		Store:    runStore,
		EventLog: events,
		Defaults: defaults,
		Limits: api.Limits{
			MaxRegion:        serverCfg.MaxRegion,
			MaxSamplesPerRun: serverCfg.MaxSamplesPerRun,
			MaxConcurrent:    serverCfg.MaxConcurrent,
		},
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: serverCfg.RateLimit,
			Burst:             serverCfg.RateBurst,
		},
		EventCapacity: appConfig.EventLog.Capacity,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + strconv.Itoa(serverCfg.Port))
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\n🛑 Shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Printf("❌ Server error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Shutdown incomplete: %v", err)
	}
	if events != nil {
		if err := events.Stop(); err != nil {
			log.Printf("⚠️ Event log flush failed: %v", err)
		}
	}
	if db != nil {
		db.Close()
	}

	log.Println("👋 Goodbye!")
}
