package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"bluenoise/internal/sampling"
	"bluenoise/internal/store"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// memStore implements RunStore in memory.
type memStore struct {
	mu      sync.Mutex
	runs    map[string]store.Run
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[string]store.Run)}
}

func (m *memStore) SaveRun(ctx context.Context, run store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	run.Count = len(run.Points)
	m.runs[run.ID] = run
	return nil
}

func (m *memStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

func (m *memStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Run, 0, len(m.runs))
	for _, run := range m.runs {
		run.Points = nil
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.runs, id)
	return nil
}

// recordingHub implements Broadcaster and keeps every message.
type recordingHub struct {
	mu       sync.Mutex
	messages []Message
}

func (h *recordingHub) Broadcast(event string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, Message{Event: event, Data: data})
}

func (h *recordingHub) count(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.messages {
		if m.Event == event {
			n++
		}
	}
	return n
}

var testRateLimit = &RateLimitConfig{
	RequestsPerSecond: 1000,
	Burst:             1000,
	IdleTimeout:       time.Hour,
}

func newTestRouter(t *testing.T, st RunStore) (*httptest.Server, *RunManager) {
	t.Helper()
	runs := NewRunManager(RunManagerConfig{Store: st, MaxConcurrent: 2, EventCapacity: 1 << 16})
	router := NewRouter(RouterConfig{
		Runs:            runs,
		Store:           st,
		RateLimitConfig: testRateLimit,
		DisableLogging:  true,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		runs.Shutdown(context.Background())
	})
	return ts, runs
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// ============================================================================
// Router Purity Tests
// ============================================================================

func TestNewRouterHasNoSideEffects(t *testing.T) {
	router := NewRouter(RouterConfig{
		RateLimitConfig: testRateLimit,
		DisableLogging:  true,
	})
	if router == nil {
		t.Fatal("Router should not be nil")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var health map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &health)
	if health["history"] != false {
		t.Errorf("Expected history disabled without a store, got %v", health["history"])
	}
}

// ============================================================================
// Synchronous Sampling
// ============================================================================

func TestSampleEndpoint(t *testing.T) {
	st := newMemStore()
	ts, _ := newTestRouter(t, st)

	resp := postJSON(t, ts.URL+"/api/samples",
		`{"width":300,"height":200,"minDistance":20,"maxAttempts":30,"seed":42,"rounding":"none"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var out sampleResponse
	decodeBody(t, resp, &out)

	if out.ID == "" {
		t.Error("Expected a run id")
	}
	if out.Seed != 42 {
		t.Errorf("Expected seed 42, got %d", out.Seed)
	}
	if out.Count != len(out.Points) || out.Count < 10 {
		t.Errorf("Unexpected count %d for %d points", out.Count, len(out.Points))
	}
	if out.Points[0] != (sampling.Point{X: 150, Y: 100}) {
		t.Errorf("Expected the first sample at the centre, got %v", out.Points[0])
	}
	if out.Report.MinPairDistance < 20 {
		t.Errorf("Min pair distance %g below r", out.Report.MinPairDistance)
	}

	// persisted with the same points
	saved, err := st.GetRun(context.Background(), out.ID)
	if err != nil {
		t.Fatalf("Run was not persisted: %v", err)
	}
	if len(saved.Points) != out.Count {
		t.Errorf("Persisted %d points, responded with %d", len(saved.Points), out.Count)
	}
}

func TestSampleEndpointIsReproducible(t *testing.T) {
	ts, _ := newTestRouter(t, nil)

	body := `{"width":250,"height":250,"minDistance":15,"seed":7}`
	var a, b sampleResponse
	decodeBody(t, postJSON(t, ts.URL+"/api/samples", body), &a)
	decodeBody(t, postJSON(t, ts.URL+"/api/samples", body), &b)

	if len(a.Points) != len(b.Points) {
		t.Fatalf("Same seed gave %d and %d points", len(a.Points), len(b.Points))
	}
	for i := range a.Points {
		if a.Points[i] != b.Points[i] {
			t.Fatalf("Point %d differs: %v vs %v", i, a.Points[i], b.Points[i])
		}
	}
}

func TestSampleEndpointValidation(t *testing.T) {
	ts, _ := newTestRouter(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"negative radius", `{"minDistance":-1}`},
		{"zero attempts", `{"maxAttempts":0}`},
		{"unknown rounding", `{"rounding":"ceil"}`},
		{"unknown field", `{"radius":10}`},
		{"region too large", `{"width":20000,"height":10}`},
		{"too many cells", `{"width":10000,"height":10000,"minDistance":1}`},
		{"cell count wraps", `{"width":4096,"height":4096,"minDistance":1.3486991523486091e-06}`},
		{"subnormal radius", `{"minDistance":5e-324}`},
		{"bad clip", `{"clip":{"type":"Point","coordinates":[1,1]}}`},
		{"malformed", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/samples", tt.body)
			var out map[string]string
			decodeBody(t, resp, &out)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
			if out["error"] == "" {
				t.Error("Expected an error message")
			}
		})
	}
}

func TestSampleEndpointDefaults(t *testing.T) {
	ts, _ := newTestRouter(t, nil)

	resp, err := http.Post(ts.URL+"/api/samples", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	var out sampleResponse
	decodeBody(t, resp, &out)

	def := sampling.DefaultConfig()
	if out.Points[0] != (sampling.Point{X: def.Width / 2, Y: def.Height / 2}) {
		t.Errorf("Expected the default region centre first, got %v", out.Points[0])
	}
}

func TestSampleEndpointClip(t *testing.T) {
	ts, _ := newTestRouter(t, nil)

	resp := postJSON(t, ts.URL+"/api/samples", `{
		"width":200,"height":200,"minDistance":10,"seed":3,
		"clip":{"type":"Polygon","coordinates":[[[0,0],[100,0],[100,100],[0,100],[0,0]]]}
	}`)
	var out sampleResponse
	decodeBody(t, resp, &out)

	if !out.Clipped {
		t.Fatal("Expected clipped response")
	}
	if out.Count == 0 || out.Count >= out.Report.Count {
		t.Errorf("Clip kept %d of %d points", out.Count, out.Report.Count)
	}
	for _, p := range out.Points {
		if p.X > 100 || p.Y > 100 {
			t.Errorf("Point %v outside the clip", p)
		}
	}
}

func TestSampleEndpointChargesLargeRequests(t *testing.T) {
	runs := NewRunManager(RunManagerConfig{})
	router := NewRouter(RouterConfig{
		Runs: runs,
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 0.001,
			Burst:             5,
			IdleTimeout:       time.Hour,
		},
		DisableLogging: true,
	})

	// 283x283 grid cells cost more than the burst left after the request token
	body := `{"width":300,"height":300,"minDistance":1.5,"maxAttempts":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/samples", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 for an oversized request, got %d", rec.Code)
	}
}

// ============================================================================
// Background Runs and History
// ============================================================================

func TestRunLifecycle(t *testing.T) {
	st := newMemStore()
	ts, runs := newTestRouter(t, st)

	resp := postJSON(t, ts.URL+"/api/runs", `{"width":400,"height":300,"minDistance":25,"seed":11}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/api/runs/") {
		t.Errorf("Unexpected Location %q", loc)
	}
	var started RunStatus
	decodeBody(t, resp, &started)
	if started.Seed != 11 {
		t.Errorf("Expected seed 11, got %d", started.Seed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := runs.Wait(ctx, started.ID)
	if err != nil {
		t.Fatalf("Run did not finish: %v", err)
	}
	if final.Status != store.StatusDone {
		t.Fatalf("Expected done, got %s (%s)", final.Status, final.Error)
	}

	// detail comes from the store once finished
	resp, _ = http.Get(ts.URL + "/api/runs/" + started.ID)
	var run store.Run
	decodeBody(t, resp, &run)
	if run.Count != final.Samples || len(run.Points) != run.Count {
		t.Errorf("Stored run has %d points, status reported %d", len(run.Points), final.Samples)
	}

	// history
	resp, _ = http.Get(ts.URL + "/api/runs?limit=10")
	var list []store.Run
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0].ID != started.ID {
		t.Errorf("Unexpected history %+v", list)
	}

	// events were kept in memory
	resp, _ = http.Get(ts.URL + "/api/runs/" + started.ID + "/events")
	var events []map[string]interface{}
	decodeBody(t, resp, &events)
	if len(events) == 0 || events[0]["type"] != "seeded" {
		t.Errorf("Expected events starting with seeded, got %d events", len(events))
	}

	// report
	resp, _ = http.Get(ts.URL + "/api/runs/" + started.ID + "/report")
	var report map[string]float64
	decodeBody(t, resp, &report)
	if report["minPairDistance"] < 25 {
		t.Errorf("Report min distance %v below r", report["minPairDistance"])
	}

	// delete
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/runs/"+started.ID, nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	resp, _ = http.Get(ts.URL + "/api/runs/" + started.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestRunExportFormats(t *testing.T) {
	st := newMemStore()
	st.SaveRun(context.Background(), store.Run{
		ID:        "fixed",
		CreatedAt: time.Unix(1700000000, 0),
		Config:    sampling.Config{Width: 100, Height: 100, MinDistance: 10, MaxAttempts: 30},
		Seed:      5,
		Status:    store.StatusDone,
		Points:    []sampling.Point{{X: 50, Y: 50}, {X: 62, Y: 50}},
	})
	ts, _ := newTestRouter(t, st)

	tests := []struct {
		path        string
		contentType string
		prefix      string
	}{
		{"/geojson", "application/geo+json", `{"type":"FeatureCollection"`},
		{"/export", "application/json", "{"},
		{"/export?format=csv", "text/csv", "index,x,y"},
		{"/export?format=pdf", "application/pdf", "%PDF-"},
		{"/export?format=dxf", "application/dxf", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/runs/fixed" + tt.path)
			if err != nil {
				t.Fatalf("GET failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, tt.contentType) {
				t.Errorf("Expected content type %s, got %s", tt.contentType, ct)
			}
			var buf bytes.Buffer
			buf.ReadFrom(resp.Body)
			if !strings.HasPrefix(strings.TrimSpace(buf.String()), tt.prefix) {
				t.Errorf("Unexpected body start %.40q", buf.String())
			}
		})
	}

	resp, _ := http.Get(ts.URL + "/api/runs/fixed/export?format=svg")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown format, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/api/runs/missing/geojson")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown run, got %d", resp.StatusCode)
	}
}

func TestHistoryDisabledWithoutStore(t *testing.T) {
	ts, _ := newTestRouter(t, nil)

	resp, _ := http.Get(ts.URL + "/api/runs")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestRunRejectsClip(t *testing.T) {
	ts, _ := newTestRouter(t, nil)

	resp := postJSON(t, ts.URL+"/api/runs", `{"clip":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

// TestRunRejectsOverflowingGrid sends a radius whose grid cell count wraps
// int and checks the server answers 400 and keeps serving.
func TestRunRejectsOverflowingGrid(t *testing.T) {
	ts, _ := newTestRouter(t, nil)

	body := `{"width":4096,"height":4096,"minDistance":1.3486991523486091e-06}`
	for _, path := range []string{"/api/runs", "/api/samples"} {
		resp := postJSON(t, ts.URL+path, body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after rejected runs, got %d", resp.StatusCode)
	}
}

// ============================================================================
// Rate Limiting and CORS
// ============================================================================

func TestRateLimitMiddleware(t *testing.T) {
	router := NewRouter(RouterConfig{
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 0.001,
			Burst:             2,
			IdleTimeout:       time.Hour,
		},
		DisableLogging: true,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected 200,200,429, got %v", codes)
	}

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "192.0.2.2:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for a different IP, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := NewRouter(RouterConfig{RateLimitConfig: testRateLimit, DisableLogging: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/samples", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Expected localhost origin allowed, got %q", got)
	}
}

func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"http://localhost", true},
		{"https://evil.example", false},
		{"http://localhost.evil.example", false},
		{"https://localhost:8443", true},
		{"http://[::1]:3000", true},
		{"ftp://localhost", false},
		{"null", false},
	}
	for _, tt := range tests {
		if got := IsAllowedOrigin(tt.origin); got != tt.want {
			t.Errorf("IsAllowedOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
