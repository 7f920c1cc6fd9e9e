package main

import (
	"errors"
	"runtime"
	"sync"
)

var ErrRunnerClosed = errors.New("runner: closed")

// Runner is a fixed pool of worker goroutines that split index ranges into
// stripes, the same way plane extraction is striped across CPUs.
type Runner struct {
	workers int
	tasks   chan func()
	done    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// DefaultWorkers is the worker count used when none is configured.
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// NewRunner starts a pool with the given number of workers (at least one).
// The caller must Close it.
func NewRunner(workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	r := &Runner{
		workers: workers,
		tasks:   make(chan func()),
	}
	r.done.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer r.done.Done()
			for task := range r.tasks {
				task()
			}
		}()
	}
	return r
}

func (r *Runner) Workers() int {
	return r.workers
}

// Run calls fn over contiguous stripes covering [0, n) and waits for all of
// them to return.
func (r *Runner) Run(n int, fn func(start, end int)) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRunnerClosed
	}
	if n <= 0 {
		return nil
	}

	stripes := r.workers
	if stripes > n {
		stripes = n
	}
	if stripes == 1 {
		fn(0, n)
		return nil
	}

	var wg sync.WaitGroup
	step := (n + stripes - 1) / stripes
	for start := 0; start < n; start += step {
		end := min(start+step, n)
		wg.Add(1)
		r.tasks <- func() {
			defer wg.Done()
			fn(start, end)
		}
	}
	wg.Wait()
	return nil
}

// Close stops the workers. It is safe to call more than once.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.tasks)
	r.done.Wait()
}
