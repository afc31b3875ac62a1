// Package sampling implements Bridson's Poisson-disc sampling over a
// rectangular region.
//
// A Sampler seeds the region centre and then repeatedly lets a random active
// sample propose candidates in the annulus [r, 2r) around itself. Candidates
// are checked against a background grid whose cells hold at most one sample,
// so each check touches a fixed 5×5 window. A sample that exhausts its
// attempt budget is retired; the run ends when no active samples remain.
//
// The package has no I/O. Everything that renders, logs or persists a run
// subscribes as an Observer.
package sampling

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"bluenoise/internal/sampling/spatial"
)

// State of the sampler's lifecycle.
type State uint8

const (
	StateUninitialized State = iota
	StateSeeded
	StateSampling
	StateTerminated
)

// String returns human-readable state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSeeded:
		return "seeded"
	case StateSampling:
		return "sampling"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// noSpawn marks that the next sampling step must pick a new spawn centre.
const noSpawn = -1

// Sampler owns the sample sequence, the background grid and the active list.
// All mutation happens inside Step; a Sampler is not safe for concurrent use.
type Sampler struct {
	cfg      Config
	seed     int64
	rng      *rand.Rand
	radiusSq float64

	samples []Point
	grid    *spatial.Grid
	active  *ActiveList

	state    State
	obs      Observers
	view     view
	step     uint64
	trials   uint64
	spawnPos int // position in active list currently proposing, or noSpawn
	attempts int // attempts used by the current spawn centre
}

// New validates cfg and allocates an empty sampler. No event is emitted and
// no random number is drawn until the first Step.
func New(cfg Config, observers ...Observer) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	grid := spatial.NewGrid(cfg.Width, cfg.Height, spatial.CellSizeFor(cfg.MinDistance))
	cols, rows, _ := grid.Dimensions()

	// Rough upper bound on the final count keeps appends from reallocating
	// for typical runs; the grid cell count is a hard upper bound.
	capacity := min(cols*rows, 4096)

	s := &Sampler{
		cfg:      cfg,
		seed:     seed,
		rng:      rand.New(rand.NewSource(seed)),
		radiusSq: cfg.MinDistance * cfg.MinDistance,
		samples:  make([]Point, 0, capacity),
		grid:     grid,
		active:   NewActiveList(capacity),
		state:    StateUninitialized,
		obs:      Observers(observers),
		spawnPos: noSpawn,
	}
	s.view = view{s: s}
	return s, nil
}

// Step advances the state machine by one unit of work: the seed, a single
// candidate attempt, a retirement, or the final Done. It returns false once
// the sampler has terminated.
func (s *Sampler) Step() bool {
	switch s.state {
	case StateUninitialized:
		s.step++
		s.seedCentre()
		return true

	case StateSampling:
		s.step++
		if s.spawnPos == noSpawn {
			if s.active.Len() == 0 {
				s.finish()
				return false
			}
			s.spawnPos = s.active.Pick(s.rng)
			s.attempts = 0
		}

		if s.attempts >= s.cfg.MaxAttempts {
			s.retire()
			return true
		}

		s.attempt()
		return true

	default:
		return false
	}
}

// Run steps until termination or until ctx is cancelled. On cancellation the
// samples accepted so far are returned together with ctx.Err(); they satisfy
// every invariant because invariants hold after each step.
func (s *Sampler) Run(ctx context.Context) ([]Point, error) {
	for {
		if err := ctx.Err(); err != nil {
			return s.Samples(), err
		}
		if !s.Step() {
			return s.Samples(), nil
		}
	}
}

// Generate runs a fresh sampler for cfg to completion.
func Generate(ctx context.Context, cfg Config, observers ...Observer) ([]Point, error) {
	s, err := New(cfg, observers...)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}

// seedCentre places the first sample at the region centre.
func (s *Sampler) seedCentre() {
	centre := Point{
		X: s.cfg.Rounding.apply(s.cfg.Width / 2),
		Y: s.cfg.Rounding.apply(s.cfg.Height / 2),
	}
	// rounding half-up can push a tiny region's centre onto its open edge
	if !centre.In(s.cfg.Width, s.cfg.Height) {
		centre = Point{X: math.Floor(s.cfg.Width / 2), Y: math.Floor(s.cfg.Height / 2)}
	}

	index := s.accept(centre)

	s.state = StateSeeded
	s.emit(Event{Type: EventTypeSeeded, Point: centre, Index: index})
	s.state = StateSampling
}

// attempt draws one candidate around the current spawn centre.
// Draw order per attempt is angle, then distance.
func (s *Sampler) attempt() {
	spawnIndex := s.active.At(s.spawnPos)
	spawn := s.samples[spawnIndex]

	angle := s.rng.Float64() * 2 * math.Pi
	distance := s.cfg.MinDistance + s.rng.Float64()*s.cfg.MinDistance

	candidate := Point{
		X: spawn.X + s.cfg.Rounding.apply(math.Sin(angle)*distance),
		Y: spawn.Y + s.cfg.Rounding.apply(math.Cos(angle)*distance),
	}
	s.attempts++
	s.trials++

	if s.cfg.EmitProposals {
		s.emit(Event{Type: EventTypeCandidateProposed, Point: candidate, SpawnCentre: &spawn, Index: spawnIndex})
	}

	if !s.valid(candidate) {
		s.emit(Event{Type: EventTypeRejected, Point: candidate, SpawnCentre: &spawn, Index: spawnIndex})
		return
	}

	index := s.accept(candidate)
	s.spawnPos = noSpawn
	s.emit(Event{Type: EventTypeAccepted, Point: candidate, SpawnCentre: &spawn, Index: index})
}

// retire drops the current spawn centre after its budget ran out.
func (s *Sampler) retire() {
	spawnIndex := s.active.At(s.spawnPos)
	spawn := s.samples[spawnIndex]

	s.active.Retire(s.spawnPos)
	s.spawnPos = noSpawn
	s.emit(Event{Type: EventTypeRetired, Point: spawn, SpawnCentre: &spawn, Index: spawnIndex})
}

func (s *Sampler) finish() {
	s.state = StateTerminated
	s.emit(Event{Type: EventTypeDone, Index: -1, Samples: s.Samples()})
}

// valid reports whether p lies in the region and keeps r from every sample.
func (s *Sampler) valid(p Point) bool {
	if !p.In(s.cfg.Width, s.cfg.Height) {
		return false
	}
	for _, idx := range s.grid.Query(p.X, p.Y, spatial.DefaultQueryRadius) {
		if s.samples[idx].DistanceSquared(p) < s.radiusSq {
			return false
		}
	}
	return true
}

// accept appends p to the sequence, the grid and the active list.
func (s *Sampler) accept(p Point) int {
	index := len(s.samples)
	s.samples = append(s.samples, p)
	s.grid.Insert(index, p.X, p.Y)
	s.active.Add(index)
	return index
}

func (s *Sampler) emit(ev Event) {
	if len(s.obs) == 0 {
		return
	}
	ev.Version = EventVersion
	ev.Step = s.step
	ev.Trials = s.trials
	s.obs.Observe(ev, s.view)
}

// Verify checks the sampler's invariants: pairwise distance, containment,
// grid/sequence consistency and active-list membership. It is O(n) and meant
// for tests and debugging.
func (s *Sampler) Verify() error {
	for i, p := range s.samples {
		if !p.In(s.cfg.Width, s.cfg.Height) {
			return fmt.Errorf("sample %d %v outside region %gx%g", i, p, s.cfg.Width, s.cfg.Height)
		}
		col, row := s.grid.CellOf(p.X, p.Y)
		if got := s.grid.Lookup(col, row); got != i {
			return fmt.Errorf("sample %d maps to cell (%d,%d) holding %d", i, col, row, got)
		}
		for _, j := range s.grid.Query(p.X, p.Y, spatial.DefaultQueryRadius) {
			if j != i && s.samples[j].DistanceSquared(p) < s.radiusSq {
				return fmt.Errorf("samples %d %v and %d %v closer than %g", i, p, j, s.samples[j], s.cfg.MinDistance)
			}
		}
	}

	var gridErr error
	s.grid.Occupied(func(col, row, index int) bool {
		if index < 0 || index >= len(s.samples) {
			gridErr = fmt.Errorf("cell (%d,%d) holds unknown sample %d", col, row, index)
			return false
		}
		p := s.samples[index]
		if c, r := s.grid.CellOf(p.X, p.Y); c != col || r != row {
			gridErr = fmt.Errorf("cell (%d,%d) holds sample %d which maps to (%d,%d)", col, row, index, c, r)
			return false
		}
		return true
	})
	if gridErr != nil {
		return gridErr
	}
	if s.grid.Len() != len(s.samples) {
		return fmt.Errorf("grid holds %d samples, sequence has %d", s.grid.Len(), len(s.samples))
	}

	seen := make(map[int]bool, s.active.Len())
	for _, idx := range s.active.indices {
		if idx < 0 || idx >= len(s.samples) {
			return fmt.Errorf("active list holds unknown sample %d", idx)
		}
		if seen[idx] {
			return fmt.Errorf("active list holds sample %d twice", idx)
		}
		seen[idx] = true
	}
	return nil
}

// Config returns the run configuration.
func (s *Sampler) Config() Config { return s.cfg }

// Seed returns the rng seed in use (the generated one if Config.Seed was 0).
func (s *Sampler) Seed() int64 { return s.seed }

// State returns the current lifecycle state.
func (s *Sampler) State() State { return s.state }

// Trials returns the number of candidates drawn so far.
func (s *Sampler) Trials() uint64 { return s.trials }

// Steps returns the number of Step calls that did work.
func (s *Sampler) Steps() uint64 { return s.step }

// SampleCount returns the length of the sample sequence.
func (s *Sampler) SampleCount() int { return len(s.samples) }

// ActiveCount returns the number of active samples.
func (s *Sampler) ActiveCount() int { return s.active.Len() }

// GridStats exposes the background grid's statistics.
func (s *Sampler) GridStats() spatial.GridStats { return s.grid.Stats() }

// Samples returns a copy of the sample sequence.
func (s *Sampler) Samples() []Point {
	out := make([]Point, len(s.samples))
	copy(out, s.samples)
	return out
}

// ActiveCentres returns copies of the active samples' positions.
func (s *Sampler) ActiveCentres() []Point {
	out := make([]Point, s.active.Len())
	for i, idx := range s.active.indices {
		out[i] = s.samples[idx]
	}
	return out
}

// view hides the sampler's mutators from observers.
type view struct {
	s *Sampler
}

func (v view) Config() Config         { return v.s.Config() }
func (v view) State() State           { return v.s.State() }
func (v view) Samples() []Point       { return v.s.Samples() }
func (v view) ActiveCentres() []Point { return v.s.ActiveCentres() }
func (v view) ActiveCount() int       { return v.s.ActiveCount() }
func (v view) SampleCount() int       { return v.s.SampleCount() }
func (v view) Trials() uint64         { return v.s.Trials() }
