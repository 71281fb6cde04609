// Package pool runs tasks on a fixed set of persistent workers fed by an
// unbounded queue.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("pool: closed")

// Task is one unit of work.
type Task func()

// Pool is a fixed-size worker pool. Submit never blocks.
type Pool struct {
	size         int
	lockThreads  bool
	panicHandler func(any)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	closed bool

	workers errgroup.Group
	done    chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithLockedThreads pins each worker goroutine to its own OS thread.
func WithLockedThreads() Option {
	return func(p *Pool) {
		p.lockThreads = true
	}
}

// WithPanicHandler recovers panicking tasks and reports the value to fn.
// The worker keeps running.
func WithPanicHandler(fn func(v any)) Option {
	return func(p *Pool) {
		p.panicHandler = fn
	}
}

// New starts size workers.
func New(size int, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool: size must be positive, got %d", size)
	}
	p := &Pool{
		size: size,
		done: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	for n := 0; n < size; n++ {
		p.workers.Go(p.work)
	}
	go func() {
		p.workers.Wait()
		close(p.done)
	}()
	return p, nil
}

// Submit queues task for execution.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// Close stops accepting tasks. Tasks already queued still run.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Wait blocks until every worker has exited or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.size }

// Pending is the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) work() error {
	if p.lockThreads {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	for {
		task, ok := p.next()
		if !ok {
			return nil
		}
		p.run(task)
	}
}

// next blocks until a task is queued or the pool is closed and drained.
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return task, true
}

func (p *Pool) run(task Task) {
	if p.panicHandler != nil {
		defer func() {
			if v := recover(); v != nil {
				p.panicHandler(v)
			}
		}()
	}
	task()
}
