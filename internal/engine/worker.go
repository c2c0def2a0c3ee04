package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when work is handed to a closed pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Busy      int64 `json:"busy"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

type job struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan<- error
}

// WorkerPool runs jobs on a fixed number of long-lived workers. Workers start
// on first use. The job channel is unbuffered, so handing over a job blocks
// until a worker is idle.
type WorkerPool struct {
	size int
	jobs chan job

	mu      sync.Mutex
	started bool
	closed  bool
	quit    chan struct{}
	workers sync.WaitGroup

	busy, completed, failed, panics atomic.Int64
}

// NewWorkerPool creates a pool of size workers (at least one).
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size: size,
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// Go hands fn to the next idle worker and returns a channel that receives
// fn's error once it returns. A panic in fn is delivered as an error. Go
// fails without running fn when ctx ends first or the pool is closed.
func (p *WorkerPool) Go(ctx context.Context, fn func(context.Context) error) (<-chan error, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolShutdown
	}
	if !p.started {
		p.started = true
		p.spawn()
	}
	p.mu.Unlock()

	result := make(chan error, 1)
	select {
	case p.jobs <- job{ctx: ctx, fn: fn, result: result}:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolShutdown
	}
}

func (p *WorkerPool) spawn() {
	p.workers.Add(p.size)
	for range p.size {
		go p.work()
	}
}

func (p *WorkerPool) work() {
	defer p.workers.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			j.result <- p.run(j)
		}
	}
}

func (p *WorkerPool) run(j job) (err error) {
	p.busy.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			err = errors.New(panicMessage(r))
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		p.busy.Add(-1)
	}()
	return j.fn(j.ctx)
}

// Close stops the workers after their current job. Jobs not yet handed over
// are rejected with ErrPoolShutdown. Safe to call more than once.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.quit)
	}
	p.mu.Unlock()
	p.workers.Wait()
}

// Stats returns the current counters.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Busy:      p.busy.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return "panic: " + err.Error()
	}
	return fmt.Sprintf("panic: %v", r)
}
