// Package limiter runs units of asynchronous work with at most N in flight.
//
// Units are admitted strictly in submission order across every caller of an
// Executor. A unit's outcome, success or error, is handed back to the
// submitter unchanged, and its slot is freed either way.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

var (
	// ErrInvalidConcurrency is returned for a concurrency limit below 1.
	ErrInvalidConcurrency = errors.New("max concurrency must be at least 1")

	// ErrUnitPanicked wraps the value recovered from a panicking unit.
	ErrUnitPanicked = errors.New("unit panicked")

	// ErrReleased is returned for units submitted to, or still queued in, a
	// released Executor.
	ErrReleased = errors.New("executor released")
)

// Unit is one piece of work run under the limit.
type Unit func(ctx context.Context) error

type request struct {
	ctx  context.Context
	unit Unit
	done chan error
}

// Executor bounds concurrent execution of Units with an ants worker pool.
// Submissions go through a FIFO queue drained by a single dispatcher, which
// is the only goroutine that claims slots.
type Executor struct {
	pool  *ants.Pool
	slots chan struct{}

	mu       sync.Mutex
	queue    []request
	released bool
	waiting  atomic.Int64

	wake   chan struct{}
	closed chan struct{}
	once   sync.Once

	logger *slog.Logger
}

// New creates an Executor that runs at most maxConcurrency units at once.
func New(maxConcurrency int) (*Executor, error) {
	if maxConcurrency < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, maxConcurrency)
	}
	pool, err := ants.NewPool(maxConcurrency)
	if err != nil {
		return nil, err
	}
	e := &Executor{
		pool:   pool,
		slots:  make(chan struct{}, maxConcurrency),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		logger: slog.Default().With("component", "executor"),
	}
	go e.dispatch()
	return e, nil
}

// Submit queues unit behind every unit submitted before it and returns a
// channel that yields the unit's error exactly once. It does not wait for a
// free slot.
func (e *Executor) Submit(ctx context.Context, unit Unit) <-chan error {
	done := make(chan error, 1)

	if err := ctx.Err(); err != nil {
		done <- err
		return done
	}

	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		done <- ErrReleased
		return done
	}
	e.queue = append(e.queue, request{ctx: ctx, unit: unit, done: done})
	e.waiting.Add(1)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return done
}

// Execute runs unit under the limit and returns its error.
func (e *Executor) Execute(ctx context.Context, unit Unit) error {
	return <-e.Submit(ctx, unit)
}

// Running returns the number of units currently holding a slot.
func (e *Executor) Running() int {
	return len(e.slots)
}

// Waiting returns the number of submitted units not yet admitted.
func (e *Executor) Waiting() int {
	return int(e.waiting.Load())
}

// Cap returns the concurrency limit.
func (e *Executor) Cap() int {
	return cap(e.slots)
}

// Release stops the executor. Queued units fail with ErrReleased; units
// already running finish.
func (e *Executor) Release() {
	e.once.Do(func() {
		e.mu.Lock()
		e.released = true
		pending := e.queue
		e.queue = nil
		e.mu.Unlock()

		close(e.closed)
		for _, req := range pending {
			e.waiting.Add(-1)
			req.done <- ErrReleased
		}
		e.pool.Release()
	})
}

func (e *Executor) dispatch() {
	for {
		req, ok := e.next()
		if !ok {
			select {
			case <-e.wake:
				continue
			case <-e.closed:
				return
			}
		}

		select {
		case e.slots <- struct{}{}:
		case <-e.closed:
			e.waiting.Add(-1)
			req.done <- ErrReleased
			return
		}
		e.waiting.Add(-1)

		if err := req.ctx.Err(); err != nil {
			<-e.slots
			req.done <- err
			continue
		}
		if err := e.pool.Submit(e.task(req)); err != nil {
			<-e.slots
			req.done <- err
		}
	}
}

func (e *Executor) next() (request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return request{}, false
	}
	req := e.queue[0]
	e.queue[0] = request{}
	e.queue = e.queue[1:]
	return req, true
}

func (e *Executor) task(req request) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("unit panicked", "panic", r)
				req.done <- fmt.Errorf("%w: %v", ErrUnitPanicked, r)
			}
			<-e.slots
		}()
		req.done <- req.unit(req.ctx)
	}
}
