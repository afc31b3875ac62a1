// Package eventlog records sampler events: a bounded ring buffer with an
// async NDJSON writer, an unbounded in-memory Recorder, and a log tracer.
package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"bluenoise/internal/sampling"
)

const (
	DefaultCapacity    = 1024                   // Ring buffer size
	BatchFlushInterval = 100 * time.Millisecond // How often the writer drains
)

// Record is one logged event. Sequence is assigned by the log and is
// monotonic across runs sharing it.
type Record struct {
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"` // Unix nano
	RunID     string `json:"runId,omitempty"`
	sampling.Event
}

// Options configures an EventLog.
type Options struct {
	Capacity        int     // Ring size, DefaultCapacity if zero
	MaxEventsPerSec float64 // Global rate limit; 0 = unlimited
	// Block makes Emit wait for the writer instead of dropping the oldest
	// record when the ring is full. Only meaningful with a file.
	Block bool
	RunID string
}

// EventLog provides bounded, optionally rate-limited event logging
type EventLog struct {
	mu        sync.Mutex
	notFull   *sync.Cond
	buffer    []Record
	writeHead uint64 // next sequence - 1
	readHead  uint64 // oldest unflushed / retained record

	limiter *rate.Limiter
	block   bool
	runID   string

	// Async writer
	writerWg sync.WaitGroup
	kick     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// File output
	file     *os.File
	out      *bufio.Writer
	enc      *json.Encoder
	fileMu   sync.Mutex
	writeErr error

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

// Stats for monitoring
type Stats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Pending uint64 `json:"pending"`
	Running bool   `json:"running"`
}

// NewEventLog creates a new bounded event log
func NewEventLog(opts Options) *EventLog {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	el := &EventLog{
		buffer:   make([]Record, capacity),
		block:    opts.Block,
		runID:    opts.RunID,
		kick:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
	el.notFull = sync.NewCond(&el.mu)
	if opts.MaxEventsPerSec > 0 {
		burst := max(1, int(opts.MaxEventsPerSec/10))
		el.limiter = rate.NewLimiter(rate.Limit(opts.MaxEventsPerSec), burst)
	}
	return el
}

// Start begins the async writer goroutine. With an empty path the log keeps
// the most recent records in memory only (see Recent).
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		el.file = file
		el.out = bufio.NewWriter(file)
		el.enc = json.NewEncoder(el.out)
	}

	el.running.Store(true)
	if el.file != nil {
		el.writerWg.Add(1)
		go el.writerLoop()
	}
	return nil
}

// Stop flushes pending records and closes the file. It returns the first
// write error seen.
func (el *EventLog) Stop() error {
	el.stopOnce.Do(func() {
		el.running.Store(false)
		close(el.stopChan)

		el.mu.Lock()
		el.notFull.Broadcast()
		el.mu.Unlock()

		el.writerWg.Wait()

		el.fileMu.Lock()
		if el.file != nil {
			if err := el.out.Flush(); err != nil && el.writeErr == nil {
				el.writeErr = err
			}
			if err := el.file.Close(); err != nil && el.writeErr == nil {
				el.writeErr = err
			}
		}
		el.fileMu.Unlock()
	})

	el.fileMu.Lock()
	defer el.fileMu.Unlock()
	return el.writeErr
}

// Observe implements sampling.Observer.
func (el *EventLog) Observe(ev sampling.Event, _ sampling.View) {
	el.Emit(ev)
}

// Emit appends an event. Returns false if the log is stopped or the event
// was rate limited.
func (el *EventLog) Emit(ev sampling.Event) bool {
	return el.EmitRun(el.runID, ev)
}

// ForRun returns an observer that tags every event with runID. Several
// concurrent runs can share one log this way.
func (el *EventLog) ForRun(runID string) sampling.Observer {
	return sampling.ObserverFunc(func(ev sampling.Event, _ sampling.View) {
		el.EmitRun(runID, ev)
	})
}

// EmitRun is Emit with an explicit run id.
func (el *EventLog) EmitRun(runID string, ev sampling.Event) bool {
	if !el.running.Load() {
		return false
	}

	if el.limiter != nil && !el.limiter.Allow() {
		el.droppedCount.Add(1)
		return false
	}

	size := uint64(len(el.buffer))

	el.mu.Lock()
	for el.block && el.file != nil && el.running.Load() && el.writeHead-el.readHead >= size {
		el.kickWriter()
		el.notFull.Wait()
	}

	// Full: drop oldest (rolling window)
	if el.writeHead-el.readHead >= size {
		el.readHead++
		el.droppedCount.Add(1)
	}

	el.writeHead++
	el.buffer[(el.writeHead-1)%size] = Record{
		Sequence:  el.writeHead,
		Timestamp: time.Now().UnixNano(),
		RunID:     runID,
		Event:     ev,
	}
	pending := el.writeHead - el.readHead
	el.mu.Unlock()

	el.totalCount.Add(1)

	if el.file != nil && pending >= size/2 {
		el.kickWriter()
	}
	return true
}

func (el *EventLog) kickWriter() {
	select {
	case el.kick <- struct{}{}:
	default:
	}
}

// writerLoop batches and writes records to disk asynchronously
func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, len(el.buffer))

	for {
		select {
		case <-el.stopChan:
			// Final flush
			batch = el.collectBatch(batch[:0])
			el.flushBatch(batch)
			return

		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			el.flushBatch(batch)

		case <-el.kick:
			batch = el.collectBatch(batch[:0])
			el.flushBatch(batch)
		}
	}
}

// collectBatch takes every pending record out of the ring
func (el *EventLog) collectBatch(batch []Record) []Record {
	el.mu.Lock()
	defer el.mu.Unlock()

	size := uint64(len(el.buffer))
	for i := el.readHead; i < el.writeHead; i++ {
		batch = append(batch, el.buffer[i%size])
	}
	el.readHead = el.writeHead
	el.notFull.Broadcast()

	return batch
}

// flushBatch writes records to disk (append-only, newline-delimited JSON)
func (el *EventLog) flushBatch(batch []Record) {
	if len(batch) == 0 {
		return
	}

	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	for i := range batch {
		if err := el.enc.Encode(&batch[i]); err != nil && el.writeErr == nil {
			el.writeErr = err
		}
	}
	if err := el.out.Flush(); err != nil && el.writeErr == nil {
		el.writeErr = err
	}
}

// Recent returns the records still held in the ring, oldest first. For a
// file-backed log these are the records not yet flushed.
func (el *EventLog) Recent() []Record {
	el.mu.Lock()
	defer el.mu.Unlock()

	size := uint64(len(el.buffer))
	out := make([]Record, 0, el.writeHead-el.readHead)
	for i := el.readHead; i < el.writeHead; i++ {
		out = append(out, el.buffer[i%size])
	}
	return out
}

// GetStats returns counters for monitoring
func (el *EventLog) GetStats() Stats {
	el.mu.Lock()
	pending := el.writeHead - el.readHead
	el.mu.Unlock()

	return Stats{
		Total:   el.totalCount.Load(),
		Dropped: el.droppedCount.Load(),
		Pending: pending,
		Running: el.running.Load(),
	}
}
