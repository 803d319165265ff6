// Package tasks runs batches of independent units of work under a
// concurrency cap with bounded retries.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrCancelled is wrapped by the error a task returns from Control.Cancel
	ErrCancelled = errors.New("task cancelled")
	// ErrAborted is wrapped by the error a task returns from Control.Abort
	ErrAborted = errors.New("aborting all tasks")
)

// Task is one unit of work. It receives the Control handle of the run so it
// can cancel itself or stop the whole batch.
type Task[T any] func(ctx context.Context, c *Control) (T, error)

// Options configures a Runner
type Options struct {
	// ConcurrencyLimit caps the number of tasks in flight
	ConcurrencyLimit int
	// MaxRetry is the number of passes over the not yet fulfilled tasks
	MaxRetry int
	// WaitTime is the pause between two passes
	WaitTime time.Duration
}

// DefaultOptions returns the settings used for version lookups
func DefaultOptions() Options {
	return Options{
		ConcurrencyLimit: 5,
		MaxRetry:         2,
		WaitTime:         500 * time.Millisecond,
	}
}

// TaskError is the failure of one task on its last attempt
type TaskError struct {
	Index     int
	Attempt   int
	Cancelled bool
	Err       error
}

func (e *TaskError) Error() string {
	return e.Err.Error()
}

func (e *TaskError) Unwrap() error { return e.Err }

// Name is the error category
func (e *TaskError) Name() string { return "TaskError" }

// Result holds the outcome of every task by index. An index is in at most
// one of the two maps.
type Result[T any] struct {
	Fulfilled map[int]T
	Rejected  map[int]*TaskError
}

// Control is handed to each running task
type Control struct {
	index  int
	runner interface{ halt() }
	cancel func(int)
}

// Index is the position of the running task in the batch
func (c *Control) Index() int { return c.index }

// Cancel permanently fails the running task; it is not retried. The
// returned error should be returned by the task.
func (c *Control) Cancel(msg string) error {
	c.cancel(c.index)
	if msg == "" {
		return ErrCancelled
	}
	return fmt.Errorf("%s: %w", msg, ErrCancelled)
}

// Halt stops launching new tasks; tasks already running finish normally
func (c *Control) Halt() {
	c.runner.halt()
}

// Abort halts the batch and returns an error for the running task to return
func (c *Control) Abort(msg string) error {
	c.runner.halt()
	if msg == "" {
		return ErrAborted
	}
	return fmt.Errorf("%s: %w", msg, ErrAborted)
}

// Runner executes batches of tasks
type Runner[T any] struct {
	opts    Options
	stopped atomic.Bool
}

// NewRunner creates a Runner; zero values in opts fall back to one task at a
// time and a single pass.
func NewRunner[T any](opts Options) *Runner[T] {
	if opts.ConcurrencyLimit < 1 {
		opts.ConcurrencyLimit = 1
	}
	if opts.MaxRetry < 1 {
		opts.MaxRetry = 1
	}
	return &Runner[T]{opts: opts}
}

// Halt stops the current Run from launching new tasks
func (r *Runner[T]) Halt() { r.halt() }

func (r *Runner[T]) halt() { r.stopped.Store(true) }

// Halted reports whether Halt was called during the last Run
func (r *Runner[T]) Halted() bool { return r.stopped.Load() }

// Run executes tasks in index order with at most ConcurrencyLimit in flight.
// After each pass the tasks that are neither fulfilled nor cancelled are run
// again, WaitTime later, until MaxRetry passes were made, every task is
// settled, or the batch was halted. Task failures are collected in the
// result, the returned error is only set when ctx ends the run early.
func (r *Runner[T]) Run(ctx context.Context, tasks []Task[T]) (*Result[T], error) {
	r.stopped.Store(false)

	res := &Result[T]{
		Fulfilled: make(map[int]T),
		Rejected:  make(map[int]*TaskError),
	}
	if len(tasks) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	cancelled := make(map[int]bool)
	markCancelled := func(i int) {
		mu.Lock()
		cancelled[i] = true
		mu.Unlock()
	}

	for pass := 1; pass <= r.opts.MaxRetry; pass++ {
		if pass > 1 {
			log.WithFields(log.Fields{
				"pass":    pass,
				"pending": len(res.Rejected),
			}).Debug("Retrying failed tasks")
			if err := sleep(ctx, r.opts.WaitTime); err != nil {
				return res, err
			}
		}

		sem := semaphore.NewWeighted(int64(r.opts.ConcurrencyLimit))
		var wg sync.WaitGroup

		for i, task := range tasks {
			mu.Lock()
			_, done := res.Fulfilled[i]
			skip := done || cancelled[i]
			mu.Unlock()
			if skip {
				continue
			}
			if r.stopped.Load() {
				break
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return res, err
			}
			if r.stopped.Load() {
				sem.Release(1)
				break
			}

			wg.Add(1)
			go func(i int, task Task[T]) {
				defer wg.Done()
				defer sem.Release(1)

				ctl := &Control{index: i, runner: r, cancel: markCancelled}
				v, err := task(ctx, ctl)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Rejected[i] = &TaskError{Index: i, Attempt: pass, Cancelled: cancelled[i], Err: err}
					return
				}
				delete(res.Rejected, i)
				res.Fulfilled[i] = v
			}(i, task)
		}
		wg.Wait()

		if r.stopped.Load() || len(res.Fulfilled)+len(cancelled) >= len(tasks) {
			break
		}
	}

	return res, ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
