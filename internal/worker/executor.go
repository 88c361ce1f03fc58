// Package worker runs fire-and-forget background tasks.
//
// Tasks submitted under the same key run one at a time in submission order;
// tasks under different keys run concurrently, bounded by a global limit.
// A task's outcome is visible only through logs: nothing is returned to the
// code that submitted it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/comigor/line-relay/internal/logger"
)

// ErrClosed is returned when submitting to an executor that is shutting down.
var ErrClosed = errors.New("worker: executor closed")

const DefaultConcurrency = 16

// Task is a unit of background work.
type Task func(ctx context.Context)

type job struct {
	name string
	task Task
}

// Executor schedules tasks.
type Executor struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	queues map[string][]job // a key is present while its drain goroutine runs
	closed bool
	wg     sync.WaitGroup
}

// NewExecutor creates an executor running at most concurrency tasks at once.
func NewExecutor(concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Executor{
		sem:    semaphore.NewWeighted(int64(concurrency)),
		queues: make(map[string][]job),
	}
}

// Submit queues task behind every earlier task with the same key.
func (e *Executor) Submit(key, name string, task Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	q, draining := e.queues[key]
	e.queues[key] = append(q, job{name: name, task: task})
	e.wg.Add(1)
	if !draining {
		go e.drain(key)
	}
	return nil
}

// Go runs task right away, unordered and outside the concurrency bound, so short
// tasks never wait behind queued ones. Shutdown still waits for it.
func (e *Executor) Go(name string, task Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.exec(job{name: name, task: task})
	}()
	return nil
}

// Shutdown stops accepting tasks and waits until queued and running tasks
// finish or ctx is done.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker: shutdown: %w", ctx.Err())
	}
}

func (e *Executor) drain(key string) {
	for {
		e.mu.Lock()
		q := e.queues[key]
		if len(q) == 0 {
			delete(e.queues, key)
			e.mu.Unlock()
			return
		}
		next := q[0]
		e.queues[key] = q[1:]
		e.mu.Unlock()

		e.run(next)
	}
}

func (e *Executor) run(j job) {
	defer e.wg.Done()
	// tasks are never cancelled, so acquiring with Background cannot fail
	_ = e.sem.Acquire(context.Background(), 1)
	defer e.sem.Release(1)
	e.exec(j)
}

func (e *Executor) exec(j job) {
	defer func() {
		if r := recover(); r != nil {
			logger.L.Error("background task panicked", "task", j.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	j.task(context.Background())
}
