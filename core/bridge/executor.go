package bridge

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrExecutorClosed = errors.New("executor closed")
)

// Executor runs callback tasks in the environment that owns the
// callbacks. Submit blocks until the task is queued, ctx is done, or the
// executor is closed; it does not wait for the task to run.
type Executor interface {
	Submit(ctx context.Context, task func()) error
}

// LoopExecutor runs every task on a single goroutine, in submission
// order, from a bounded queue. It models a single-threaded runtime.
type LoopExecutor struct {
	tasks     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewLoopExecutor starts the loop goroutine. queueSize bounds how many
// tasks may wait; values below 1 are raised to 1.
func NewLoopExecutor(queueSize int) *LoopExecutor {
	if queueSize < 1 {
		queueSize = 1
	}
	e := &LoopExecutor{
		tasks:   make(chan func(), queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *LoopExecutor) loop() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			return
		case task := <-e.tasks:
			task()
		}
	}
}

// Submit queues task
func (e *LoopExecutor) Submit(ctx context.Context, task func()) error {
	select {
	case <-e.done:
		return ErrExecutorClosed
	default:
	}

	select {
	case e.tasks <- task:
		return nil
	case <-e.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop after the running task returns. Queued tasks are
// dropped; their callers observe a timeout or cancellation.
func (e *LoopExecutor) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	<-e.stopped
	return nil
}

// ExecutorFunc runs each task through fn, e.g. `go task()` for a
// runtime without a single-thread constraint.
type ExecutorFunc func(task func())

// Submit implements Executor
func (f ExecutorFunc) Submit(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f(task)
	return nil
}
