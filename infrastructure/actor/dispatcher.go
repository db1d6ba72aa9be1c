package actor

import (
	"runtime"
	"sync"
)

// =============================================================================
// Dispatcher - worker pool
// =============================================================================

// Dispatcher runs actor tasks on a fixed worker pool. Fairness across actors
// comes from the throughput bound: a run task processes at most
// ThroughputPerRun envelopes before yielding its worker.
type Dispatcher struct {
	tasks      chan func()
	throughput int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. workers <= 0 defaults to
// 2 x NumCPU; throughput <= 0 defaults to 16.
func NewDispatcher(workers, throughput int) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if throughput <= 0 {
		throughput = 16
	}

	d := &Dispatcher{
		tasks:      make(chan func(), 4096),
		throughput: throughput,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.tasks {
		task()
	}
}

// Execute submits a task. Submission never blocks a worker: when the queue
// is full the handoff moves to a transient goroutine, which keeps run tasks
// from deadlocking the pool.
func (d *Dispatcher) Execute(task func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.tasks <- task:
	default:
		go func() {
			d.mu.RLock()
			defer d.mu.RUnlock()
			if d.closed {
				return
			}
			d.tasks <- task
		}()
	}
}

// Throughput returns the per-run envelope bound.
func (d *Dispatcher) Throughput() int {
	return d.throughput
}

// Shutdown stops accepting tasks, runs what is queued, and waits for the
// workers to exit.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	d.wg.Wait()
}
