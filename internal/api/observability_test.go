package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bluenoise/internal/sampling"
)

func TestIsLoopback(t *testing.T) {
	tests := map[string]bool{
		"localhost:6060": true,
		"127.0.0.1:6060": true,
		"[::1]:6060":     true,
		"0.0.0.0:6060":   false,
		":6060":          false,
		"10.0.0.5:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		if got := isLoopback(addr); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestDebugHandlerExposesSamplerMetrics(t *testing.T) {
	if _, err := sampling.Generate(context.Background(), runConfig(1), MetricsObserver{}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	ts := httptest.NewServer(DebugHandler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`sampler_events_total{type="accepted"}`,
		`sampler_events_total{type="done"}`,
		"sampler_run_samples_count",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected %s in metrics output", want)
		}
	}
}

func TestDebugHandlerBasicAuth(t *testing.T) {
	handler := basicAuthMiddleware("ops", "secret", DebugHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", rec.Code)
	}

	req.SetBasicAuth("ops", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", rec.Code)
	}
}
