// Package workerpool runs submitted tasks on a fixed set of goroutines.
// Every task runs inside an error boundary: returned errors and recovered
// panics are reported to the pool's error handler and the worker carries on.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var ErrStopped = errors.New("worker pool stopped")

// Task receives the pool's base context.
type Task func(ctx context.Context) error

// PanicError carries a recovered panic value and the stack at recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panic: %v", e.Value) }

type Pool struct {
	ctx     context.Context
	queue   chan Task
	onError func(error)

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New starts workers goroutines (at least one) reading from a queue of
// queueSize. onError may be nil.
func New(ctx context.Context, workers, queueSize int, onError func(error)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if onError == nil {
		onError = func(error) {}
	}
	p := &Pool{
		ctx:     ctx,
		queue:   make(chan Task, queueSize),
		onError: onError,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.onError(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	if err := task(p.ctx); err != nil {
		p.onError(err)
	}
}

// Submit queues task, blocking while the queue is full. It returns ctx.Err()
// if ctx ends first and ErrStopped after Stop.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new tasks, lets queued ones finish and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
