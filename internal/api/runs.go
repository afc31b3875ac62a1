package api

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bluenoise/internal/eventlog"
	"bluenoise/internal/sampling"
	"bluenoise/internal/sampling/spatial"
	"bluenoise/internal/store"
)

var (
	// ErrBusy is returned when MaxConcurrent runs are already sampling.
	ErrBusy = errors.New("too many concurrent runs")
	// ErrRunNotActive is returned for ids the manager is not tracking.
	ErrRunNotActive = errors.New("run not active")
)

// Status of a tracked run. Finished runs use the store's values.
const (
	StatusRunning = "running"
	StatusFailed  = "failed"
)

// maxTrackedRuns bounds how many finished runs stay queryable in memory.
const maxTrackedRuns = 256

// RunStore is the persistence the API needs. *store.Store satisfies it.
type RunStore interface {
	SaveRun(ctx context.Context, run store.Run) error
	GetRun(ctx context.Context, id string) (store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	DeleteRun(ctx context.Context, id string) error
}

// Limits caps the work a single request may ask for.
type Limits struct {
	MaxRegion        float64 // largest accepted width or height
	MaxSamplesPerRun int     // bound on grid cells, which bounds the sample count
	MaxConcurrent    int
}

// DefaultLimits mirrors config.DefaultServerConfig.
var DefaultLimits = Limits{
	MaxRegion:        10000,
	MaxSamplesPerRun: 200000,
	MaxConcurrent:    4,
}

// GridCells returns the number of background grid cells for cfg. Every cell
// holds at most one sample, so it is an upper bound on the run's output.
// Counts beyond spatial.MaxCells saturate.
func GridCells(cfg sampling.Config) int {
	cells := spatial.CellCount(cfg.Width, cfg.Height, spatial.CellSizeFor(cfg.MinDistance))
	if !(cells <= spatial.MaxCells) {
		return spatial.MaxCells
	}
	return int(cells)
}

// Check validates cfg and rejects requests beyond the limits.
func (l Limits) Check(cfg sampling.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if l.MaxRegion > 0 && (cfg.Width > l.MaxRegion || cfg.Height > l.MaxRegion) {
		return errors.Errorf("region %gx%g exceeds the %g limit", cfg.Width, cfg.Height, l.MaxRegion)
	}
	if l.MaxSamplesPerRun > 0 {
		if cells := GridCells(cfg); cells > l.MaxSamplesPerRun {
			return errors.Errorf("radius %g is too small for the region: %d grid cells, limit %d",
				cfg.MinDistance, cells, l.MaxSamplesPerRun)
		}
	}
	return nil
}

// RunStatus is the live view of a run.
type RunStatus struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Config    sampling.Config `json:"config"`
	Seed      int64           `json:"seed"`
	Samples   int             `json:"samples"`
	Active    int             `json:"active"`
	Trials    uint64          `json:"trials"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"durationNs,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// activeRun is one run owned by the manager.
type activeRun struct {
	id      string
	cfg     sampling.Config
	seed    int64
	started time.Time
	cancel  context.CancelFunc
	events  *eventlog.EventLog
	done    chan struct{}

	// progress, written by the sampling goroutine
	samples atomic.Int64
	active  atomic.Int64
	trials  atomic.Uint64

	mu       sync.Mutex
	status   string
	duration time.Duration
	err      error
}

// Observe keeps progress counters current for Get.
func (r *activeRun) Observe(ev sampling.Event, view sampling.View) {
	r.samples.Store(int64(view.SampleCount()))
	r.active.Store(int64(view.ActiveCount()))
	r.trials.Store(view.Trials())
}

func (r *activeRun) finish(status string, duration time.Duration, err error) {
	r.mu.Lock()
	r.status = status
	r.duration = duration
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

func (r *activeRun) snapshot() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := RunStatus{
		ID:        r.id,
		Status:    r.status,
		Config:    r.cfg,
		Seed:      r.seed,
		Samples:   int(r.samples.Load()),
		Active:    int(r.active.Load()),
		Trials:    r.trials.Load(),
		StartedAt: r.started,
		Duration:  r.duration,
	}
	if r.err != nil {
		st.Error = r.err.Error()
	}
	return st
}

// broadcastObserver forwards run events to WebSocket subscribers.
// Rejections and proposals stay off the wire.
type broadcastObserver struct {
	runID string
	hub   Broadcaster
}

// RunEvent is the payload of "run:event" messages.
type RunEvent struct {
	RunID       string             `json:"runId"`
	Type        sampling.EventType `json:"type"`
	Step        uint64             `json:"step"`
	Point       sampling.Point     `json:"point"`
	SpawnCentre *sampling.Point    `json:"spawnCentre,omitempty"`
	Index       int                `json:"index"`
	Samples     int                `json:"samples"`
	Active      int                `json:"active"`
	Trials      uint64             `json:"trials"`
}

func (b broadcastObserver) Observe(ev sampling.Event, view sampling.View) {
	switch ev.Type {
	case sampling.EventTypeRejected, sampling.EventTypeCandidateProposed, sampling.EventTypeDone:
		return
	}
	b.hub.Broadcast("run:event", RunEvent{
		RunID:       b.runID,
		Type:        ev.Type,
		Step:        ev.Step,
		Point:       ev.Point,
		SpawnCentre: ev.SpawnCentre,
		Index:       ev.Index,
		Samples:     view.SampleCount(),
		Active:      view.ActiveCount(),
		Trials:      ev.Trials,
	})
}

// RunManagerConfig wires a RunManager.
type RunManagerConfig struct {
	Store         RunStore            // optional; runs are not persisted without it
	Hub           Broadcaster         // optional
	EventLog      *eventlog.EventLog  // optional shared log, events tagged per run
	EventCapacity int                 // per-run in-memory event ring
	MaxConcurrent int                 // DefaultLimits.MaxConcurrent if zero
	Observers     []sampling.Observer // extra observers attached to every run
}

// RunManager starts sampling runs, tracks their progress and persists them
// when they finish. Concurrency is bounded by a semaphore; a full manager
// refuses new work with ErrBusy instead of queueing it.
type RunManager struct {
	cfg RunManagerConfig
	sem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	runs  map[string]*activeRun
	order []string // insertion order for pruning
}

// NewRunManager creates a manager. No goroutine runs until Start.
func NewRunManager(cfg RunManagerConfig) *RunManager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultLimits.MaxConcurrent
	}
	if cfg.EventCapacity <= 0 {
		cfg.EventCapacity = eventlog.DefaultCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RunManager{
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*activeRun),
	}
}

func (m *RunManager) acquire() bool {
	select {
	case m.sem <- struct{}{}:
		return true
	default:
		RecordConnectionRejected("run_limit")
		return false
	}
}

func (m *RunManager) release() { <-m.sem }

// observers assembles the observer chain for one run. Only background runs
// are broadcast.
func (m *RunManager) observers(id string, broadcast bool, extra ...sampling.Observer) []sampling.Observer {
	obs := append([]sampling.Observer{MetricsObserver{}}, extra...)
	if m.cfg.EventLog != nil {
		obs = append(obs, m.cfg.EventLog.ForRun(id))
	}
	if broadcast && m.cfg.Hub != nil {
		obs = append(obs, broadcastObserver{runID: id, hub: m.cfg.Hub})
	}
	return append(obs, m.cfg.Observers...)
}

// Generate runs cfg to completion on the caller's goroutine and persists the
// result. Cancelling ctx stops the run and nothing is saved.
func (m *RunManager) Generate(ctx context.Context, cfg sampling.Config) (store.Run, error) {
	if !m.acquire() {
		return store.Run{}, ErrBusy
	}
	defer m.release()

	id := uuid.NewString()
	s, err := sampling.New(cfg, m.observers(id, false)...)
	if err != nil {
		return store.Run{}, err
	}

	started := time.Now()
	points, err := runSampler(ctx, s)
	duration := time.Since(started)
	if err != nil {
		RecordRun(failureStatus(err), duration)
		return store.Run{}, err
	}
	RecordRun(store.StatusDone, duration)

	run := m.result(id, started, s, points, duration, store.StatusDone)
	if err := m.save(run); err != nil {
		return run, err
	}
	return run, nil
}

// Start launches cfg in the background and returns the new run's status.
func (m *RunManager) Start(cfg sampling.Config) (RunStatus, error) {
	if err := m.ctx.Err(); err != nil {
		return RunStatus{}, errors.New("run manager is shut down")
	}
	if !m.acquire() {
		return RunStatus{}, ErrBusy
	}

	id := uuid.NewString()
	r := &activeRun{
		id:      id,
		cfg:     cfg,
		started: time.Now(),
		done:    make(chan struct{}),
		status:  StatusRunning,
		events:  eventlog.NewEventLog(eventlog.Options{Capacity: m.cfg.EventCapacity, RunID: id}),
	}
	r.events.Start("")

	s, err := sampling.New(cfg, m.observers(id, true, r, r.events)...)
	if err != nil {
		r.events.Stop()
		m.release()
		return RunStatus{}, err
	}
	r.seed = s.Seed()
	r.cfg.Seed = r.seed

	ctx, cancel := context.WithCancel(m.ctx)
	r.cancel = cancel

	m.track(r)
	m.wg.Add(1)
	go m.execute(ctx, r, s)

	log.Printf("🎲 Run %s started: %gx%g r=%g k=%d seed=%d", id, cfg.Width, cfg.Height, cfg.MinDistance, cfg.MaxAttempts, r.seed)
	return r.snapshot(), nil
}

func (m *RunManager) execute(ctx context.Context, r *activeRun, s *sampling.Sampler) {
	defer m.wg.Done()
	defer m.release()
	defer r.cancel()

	activeRuns.Inc()
	defer activeRuns.Dec()

	points, err := runSampler(ctx, s)
	duration := time.Since(r.started)

	status := store.StatusDone
	if err != nil {
		status = failureStatus(err)
	}
	RecordRun(status, duration)
	r.events.Stop()

	run := m.result(r.id, r.started, s, points, duration, status)
	if saveErr := m.save(run); saveErr != nil {
		status, err = StatusFailed, saveErr
	}
	r.finish(status, duration, err)

	if m.cfg.Hub != nil {
		m.cfg.Hub.Broadcast("run:done", r.snapshot())
	}
	log.Printf("🏁 Run %s %s: %d samples, %d trials in %v", r.id, status, len(points), s.Trials(), duration)
}

// runSampler runs s and turns a panic into an error so that one bad run
// cannot take the process down with it.
func runSampler(ctx context.Context, s *sampling.Sampler) (points []sampling.Point, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ PANIC in sampler: %v", rec)
			points, err = s.Samples(), errors.Errorf("sampler panicked: %v", rec)
		}
	}()
	return s.Run(ctx)
}

func failureStatus(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return store.StatusCancelled
	}
	return StatusFailed
}

func (m *RunManager) result(id string, started time.Time, s *sampling.Sampler, points []sampling.Point, duration time.Duration, status string) store.Run {
	cfg := s.Config()
	cfg.Seed = s.Seed()
	return store.Run{
		ID:        id,
		CreatedAt: started,
		Config:    cfg,
		Seed:      s.Seed(),
		Trials:    s.Trials(),
		Count:     len(points),
		Duration:  duration,
		Status:    status,
		Points:    points,
	}
}

func (m *RunManager) save(run store.Run) error {
	if m.cfg.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.cfg.Store.SaveRun(ctx, run); err != nil {
		log.Printf("⚠️ Failed to persist run %s: %v", run.ID, err)
		return errors.Wrapf(err, "persist run %s", run.ID)
	}
	return nil
}

func (m *RunManager) track(r *activeRun) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[r.id] = r
	m.order = append(m.order, r.id)
	if len(m.order) <= maxTrackedRuns {
		return
	}

	// Forget the oldest finished runs; the store still has them.
	kept := m.order[:0]
	excess := len(m.order) - maxTrackedRuns
	for _, id := range m.order {
		run := m.runs[id]
		if excess > 0 && run.isDone() {
			delete(m.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (r *activeRun) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (m *RunManager) lookup(id string) (*activeRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}

// Get returns the live status of a tracked run.
func (m *RunManager) Get(id string) (RunStatus, error) {
	r, ok := m.lookup(id)
	if !ok {
		return RunStatus{}, ErrRunNotActive
	}
	return r.snapshot(), nil
}

// Events returns the events retained for a tracked run, oldest first.
func (m *RunManager) Events(id string) ([]eventlog.Record, error) {
	r, ok := m.lookup(id)
	if !ok {
		return nil, ErrRunNotActive
	}
	return r.events.Recent(), nil
}

// Wait blocks until the run finishes or ctx is done.
func (m *RunManager) Wait(ctx context.Context, id string) (RunStatus, error) {
	r, ok := m.lookup(id)
	if !ok {
		return RunStatus{}, ErrRunNotActive
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return r.snapshot(), ctx.Err()
	}
}

// Cancel stops a running run. The samples accepted so far are persisted
// with status cancelled.
func (m *RunManager) Cancel(id string) error {
	r, ok := m.lookup(id)
	if !ok {
		return ErrRunNotActive
	}
	r.cancel()
	return nil
}

// Running returns how many runs are currently sampling.
func (m *RunManager) Running() int {
	return len(m.sem)
}

// Shutdown cancels every run and waits for them to be persisted.
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
