package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"bluenoise/internal/analysis"
	"bluenoise/internal/export"
	"bluenoise/internal/sampling"
	"bluenoise/internal/store"
)

// maxBodyBytes bounds request bodies, clip polygons included.
const maxBodyBytes = 1 << 20

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":  "ok",
		"running": h.runs.Running(),
		"history": h.store != nil,
	})
}

func (h *routerHandlers) handleGetDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"config": h.defaults,
		"limits": h.limits,
	})
}

// sampleRequest is a sampling config plus an optional GeoJSON clip shape.
// Fields left out keep the server defaults.
type sampleRequest struct {
	sampling.Config
	Clip json.RawMessage `json:"clip,omitempty"`
}

type sampleResponse struct {
	ID       string           `json:"id"`
	Points   []sampling.Point `json:"points"`
	Count    int              `json:"count"`
	Seed     int64            `json:"seed"`
	Trials   uint64           `json:"trials"`
	Duration time.Duration    `json:"durationNs"`
	Clipped  bool             `json:"clipped,omitempty"`
	Report   analysis.Report  `json:"report"`
}

// decodeConfig reads a sampleRequest on top of the defaults and applies the
// limits. The returned error message is safe to show the client.
func (h *routerHandlers) decodeConfig(w http.ResponseWriter, r *http.Request) (sampleRequest, error) {
	req := sampleRequest{Config: h.defaults}
	// An empty body samples the defaults.
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return req, errors.Wrap(err, "invalid request")
		}
	}
	req.EmitProposals = false

	if err := h.limits.Check(req.Config); err != nil {
		return req, err
	}
	return req, nil
}

func (h *routerHandlers) handleSample(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeConfig(w, r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	clipShape, err := parseClip(req.Clip)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Large regions cost more than one request's worth of tokens.
	if h.limiter != nil {
		if !h.limiter.ChargeCells(r, GridCells(req.Config)) {
			tooManyRequests(w)
			return
		}
	}

	run, err := h.runs.Generate(r.Context(), req.Config)
	switch {
	case errors.Is(err, ErrBusy):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// client went away
		return
	case err != nil && run.ID == "":
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	case err != nil:
		// sampled fine but history is unavailable; still answer
		log.Printf("⚠️ Serving unsaved run %s: %v", run.ID, err)
	}

	points := run.Points
	if clipShape != nil {
		points = analysis.Clip(points, clipShape)
	}
	if points == nil {
		points = []sampling.Point{}
	}

	writeJSON(w, sampleResponse{
		ID:       run.ID,
		Points:   points,
		Count:    len(points),
		Seed:     run.Seed,
		Trials:   run.Trials,
		Duration: run.Duration,
		Clipped:  clipShape != nil,
		Report:   analysis.Analyze(run.Points, run.Config.Width, run.Config.Height, run.Config.MinDistance),
	})
}

func (h *routerHandlers) handleStartRun(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeConfig(w, r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Clip) > 0 {
		writeError(w, "clip is only supported on /api/samples", http.StatusBadRequest)
		return
	}

	status, err := h.runs.Start(req.Config)
	if errors.Is(err, ErrBusy) {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/api/runs/"+status.ID)
	writeJSONStatus(w, status, http.StatusAccepted)
}

func (h *routerHandlers) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		log.Printf("⚠️ List runs failed: %v", err)
		writeError(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (h *routerHandlers) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if status, err := h.runs.Get(id); err == nil && status.Status == StatusRunning {
		writeJSON(w, status)
		return
	}

	if h.store == nil {
		// No history: report what the manager still remembers.
		if status, err := h.runs.Get(id); err == nil {
			writeJSON(w, status)
			return
		}
		writeError(w, "Run not found", http.StatusNotFound)
		return
	}

	run, ok := h.loadRun(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, run)
}

func (h *routerHandlers) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if status, err := h.runs.Get(id); err == nil && status.Status == StatusRunning {
		h.runs.Cancel(id)
		writeJSONStatus(w, map[string]interface{}{"id": id, "cancelled": true}, http.StatusAccepted)
		return
	}

	if !h.requireStore(w) {
		return
	}
	err := h.store.DeleteRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("⚠️ Delete run %s failed: %v", id, err)
		writeError(w, "Failed to delete run", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *routerHandlers) handleRunGeoJSON(w http.ResponseWriter, r *http.Request) {
	h.exportRun(w, r, export.FormatGeoJSON)
}

func (h *routerHandlers) handleRunExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatJSON)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.exportRun(w, r, format)
}

func (h *routerHandlers) exportRun(w http.ResponseWriter, r *http.Request, format export.Format) {
	if !h.requireStore(w) {
		return
	}
	run, ok := h.loadRun(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	meta := export.MetaFor(run.Config, run.Seed, run.Trials)
	meta.RunID = run.ID

	// Encode fully before writing headers so a failed export is still a
	// clean error response.
	var buf bytes.Buffer
	if err := export.Write(&buf, format, run.Points, meta); err != nil {
		log.Printf("⚠️ Export of run %s as %s failed: %v", run.ID, format, err)
		writeError(w, "Export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.%s"`, run.ID, format))
	w.Write(buf.Bytes())
}

func (h *routerHandlers) handleRunReport(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	run, ok := h.loadRun(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, analysis.Analyze(run.Points, run.Config.Width, run.Config.Height, run.Config.MinDistance))
}

func (h *routerHandlers) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	records, err := h.runs.Events(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Events are only kept for recent runs", http.StatusNotFound)
		return
	}
	writeJSON(w, records)
}

// parseClip decodes an optional GeoJSON clip shape.
func parseClip(raw json.RawMessage) (orb.MultiPolygon, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	shape, err := export.ReadClip(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "invalid clip")
	}
	return shape, nil
}

// loadRun fetches a run from the store and writes the error response itself.
func (h *routerHandlers) loadRun(w http.ResponseWriter, r *http.Request, id string) (store.Run, bool) {
	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "Run not found", http.StatusNotFound)
		return run, false
	}
	if err != nil {
		log.Printf("⚠️ Load run %s failed: %v", id, err)
		writeError(w, "Failed to load run", http.StatusInternalServerError)
		return run, false
	}
	return run, true
}

func (h *routerHandlers) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, "Run history is disabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, data, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
