package workerpool

import (
	"context"
	"fmt"
	"sync/atomic"
)

const (
	futurePending int32 = iota
	futureClaimed
)

// Future is the pending result of a submitted task
type Future struct {
	pool  *Pool
	ctx   context.Context
	task  Task
	state atomic.Int32
	done  chan struct{}
	value interface{}
	err   error
}

func newFuture(p *Pool, ctx context.Context, task Task) *Future {
	return &Future{pool: p, ctx: ctx, task: task, done: make(chan struct{})}
}

// claim marks the future as taken by exactly one runner
func (f *Future) claim() bool {
	return f.state.CompareAndSwap(futurePending, futureClaimed)
}

// runOn executes the task on a pool worker unless a waiter already took it
func (f *Future) runOn(w *worker) {
	if !f.claim() {
		return
	}
	f.execute(context.WithValue(f.ctx, workerKey{}, w))
}

func (f *Future) execute(ctx context.Context) {
	p := f.pool
	p.taskCnt.Add(1)
	defer close(f.done)
	defer func() {
		if r := recover(); r != nil {
			p.errCnt.Add(1)
			f.value, f.err = nil, fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		p.errCnt.Add(1)
		f.err = fmt.Errorf("%w: %w", ErrTaskCanceled, err)
		return
	}
	f.value, f.err = f.task(ctx)
	if f.err != nil {
		p.errCnt.Add(1)
	}
}

func (f *Future) abandon(err error) {
	if !f.claim() {
		return
	}
	f.err = err
	close(f.done)
}

// Done is closed once the result is available
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait returns the task result. An unclaimed task runs on the calling goroutine.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	if f.claim() {
		f.pool.inline.Add(1)
		runCtx := f.ctx
		if w := f.pool.localWorker(ctx); w != nil {
			runCtx = context.WithValue(runCtx, workerKey{}, w)
		}
		f.execute(runCtx)
		return f.value, f.err
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
