// Package worker runs background jobs on a bounded set of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"

	"stakeplay-backend/internal/logger"
)

var ErrClosed = errors.New("worker pool closed")

type Job func(ctx context.Context) error

type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan namedJob
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type namedJob struct {
	name string
	fn   Job
}

func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel, jobs: make(chan namedJob, queue)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for j := range p.jobs {
		if err := j.fn(p.ctx); err != nil {
			logger.Error("Background job failed", "job", j.name, "error", err)
		}
	}
}

// Submit queues fn. It blocks while the queue is full.
func (p *Pool) Submit(name string, fn Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.jobs <- namedJob{name: name, fn: fn}
	return nil
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Dispatcher runs background work for the engine. Pool is the async one;
// Inline runs jobs on the caller's goroutine, which keeps tests deterministic.
type Dispatcher interface {
	Submit(name string, fn Job) error
}

type Inline struct {
	Ctx context.Context
}

func (i Inline) Submit(name string, fn Job) error {
	ctx := i.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fn(ctx); err != nil {
		logger.Error("Background job failed", "job", name, "error", err)
	}
	return nil
}
