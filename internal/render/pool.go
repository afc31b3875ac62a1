package render

import (
	"runtime"
	"sync"
)

// WorkerPool runs encode jobs on a fixed set of goroutines. Submit blocks
// once the queue is full, which throttles a producer that outruns the disk.
type WorkerPool struct {
	numWorkers int
	jobChan    chan func() error
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex

	errMu    sync.Mutex
	firstErr error
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If numWorkers is 0, it defaults to NumCPU.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	// Cap at reasonable maximum
	if numWorkers > 16 {
		numWorkers = 16
	}

	return &WorkerPool{
		numWorkers: numWorkers,
		jobChan:    make(chan func() error, numWorkers*2),
	}
}

// Start begins the worker pool
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.worker()
	}
}

// Submit queues a job. It returns false if the pool is not running.
func (p *WorkerPool) Submit(job func() error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	// workers keep draining while we hold mu, so this cannot deadlock Stop
	p.jobChan <- job
	return true
}

// Stop waits for queued jobs and returns the first job error.
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return p.Err()
	}
	p.running = false
	p.mu.Unlock()

	close(p.jobChan)
	p.wg.Wait()
	return p.Err()
}

// Err returns the first job error seen so far.
func (p *WorkerPool) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.firstErr
}

// Workers returns the number of goroutines after defaulting and capping.
func (p *WorkerPool) Workers() int {
	return p.numWorkers
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for job := range p.jobChan {
		if err := job(); err != nil {
			p.errMu.Lock()
			if p.firstErr == nil {
				p.firstErr = err
			}
			p.errMu.Unlock()
		}
	}
}
