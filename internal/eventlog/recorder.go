package eventlog

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"sync"

	"bluenoise/internal/sampling"
)

// Recorder keeps every event of a run in memory.
type Recorder struct {
	mu     sync.Mutex
	events []sampling.Event
	counts map[sampling.EventType]int
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[sampling.EventType]int)}
}

// Observe implements sampling.Observer.
func (r *Recorder) Observe(ev sampling.Event, _ sampling.View) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.counts[ev.Type]++
	r.mu.Unlock()
}

// Events returns a copy of everything observed so far
func (r *Recorder) Events() []sampling.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sampling.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of type t were observed
func (r *Recorder) Count(t sampling.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[t]
}

// Len returns the number of recorded events
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// LogObserver prints a one-line trace per event. Every > 1 thins the
// output to every n-th event; Done is always printed.
type LogObserver struct {
	Logger *log.Logger // log.Default() if nil
	Every  int
	n      int
}

// Observe implements sampling.Observer.
func (l *LogObserver) Observe(ev sampling.Event, view sampling.View) {
	l.n++
	if ev.Type != sampling.EventTypeDone && l.Every > 1 && l.n%l.Every != 0 {
		return
	}

	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}

	switch ev.Type {
	case sampling.EventTypeSeeded:
		logger.Printf("🌱 [%d] seeded at %v", ev.Step, ev.Point)
	case sampling.EventTypeAccepted:
		logger.Printf("✅ [%d] accepted #%d %v (samples=%d active=%d)", ev.Step, ev.Index, ev.Point, view.SampleCount(), view.ActiveCount())
	case sampling.EventTypeRejected:
		logger.Printf("❌ [%d] rejected %v from #%d", ev.Step, ev.Point, ev.Index)
	case sampling.EventTypeRetired:
		logger.Printf("💤 [%d] retired #%d (active=%d)", ev.Step, ev.Index, view.ActiveCount())
	case sampling.EventTypeDone:
		logger.Printf("🏁 [%d] done: %d samples after %d trials", ev.Step, len(ev.Samples), ev.Trials)
	default:
		logger.Printf("[%d] %s %v", ev.Step, ev.Type, ev.Point)
	}
}

// Decode reads newline-delimited records as written by EventLog.
func Decode(r io.Reader) ([]Record, error) {
	var out []Record
	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, rec)
	}
}
