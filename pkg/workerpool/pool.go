// Package workerpool provides a fixed-size work-stealing worker pool.
//
// Each worker owns a deque: the owner pushes and pops at the tail (LIFO),
// idle workers steal from the head of other deques (FIFO). Tasks submitted
// from outside the pool are distributed round-robin. Submit returns a Future;
// a goroutine waiting on a Future that no worker has claimed yet runs the task
// itself, so nested fork-join never deadlocks the fixed set of workers.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// Common errors
var (
	ErrPoolClosed   = errors.New("workerpool: pool is closed")
	ErrPoolRunning  = errors.New("workerpool: pool is already running")
	ErrInvalidSize  = errors.New("workerpool: invalid pool size")
	ErrTaskPanic    = errors.New("workerpool: task panicked")
	ErrTaskCanceled = errors.New("workerpool: task canceled")
)

// Task is a unit of work producing a value
type Task func(ctx context.Context) (interface{}, error)

// Config holds worker pool configuration
type Config struct {
	// Size is the number of workers in the pool
	Size int
	// QueueSize is the initial capacity of each worker's deque
	QueueSize int
}

// DefaultConfig returns a Config with one worker per CPU
func DefaultConfig() Config {
	return Config{
		Size:      runtime.NumCPU(),
		QueueSize: 64,
	}
}

// Pool is a work-stealing worker pool
type Pool struct {
	config  Config
	workers []*worker
	next    atomic.Uint64
	wake    chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex

	taskCnt  atomic.Int64
	errCnt   atomic.Int64
	stealCnt atomic.Int64
	inline   atomic.Int64
}

type workerKey struct{}

// New creates a new worker pool with the given configuration
func New(config Config) (*Pool, error) {
	if config.Size <= 0 {
		return nil, ErrInvalidSize
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config:  config,
		workers: make([]*worker, config.Size),
		wake:    make(chan struct{}, config.Size),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range p.workers {
		p.workers[i] = &worker{id: i, pool: p, deque: make([]*Future, 0, config.QueueSize)}
	}
	return p, nil
}

// NewWithSize creates a new worker pool with a specific size
func NewWithSize(size int) (*Pool, error) {
	return New(Config{Size: size, QueueSize: DefaultConfig().QueueSize})
}

// Start starts the workers
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.running.Load() {
		return ErrPoolRunning
	}
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
	p.running.Store(true)
	return nil
}

// Submit queues a task and returns its future. When called from a task running
// on this pool the task goes to the calling worker's own deque.
func (p *Pool) Submit(ctx context.Context, task Task) (*Future, error) {
	if !p.running.Load() || p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := newFuture(p, ctx, task)
	target := p.localWorker(ctx)
	if target == nil {
		target = p.workers[p.next.Add(1)%uint64(len(p.workers))]
	}
	target.push(f)
	p.notify()
	return f, nil
}

// SubmitWait submits a task and waits for its result
func (p *Pool) SubmitWait(ctx context.Context, task Task) (interface{}, error) {
	f, err := p.Submit(ctx, task)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

func (p *Pool) localWorker(ctx context.Context) *worker {
	w, ok := ctx.Value(workerKey{}).(*worker)
	if !ok || w.pool != p {
		return nil
	}
	return w
}

func (p *Pool) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// steal takes the oldest task from another worker's deque, starting after thief
func (p *Pool) steal(thief int) *Future {
	n := len(p.workers)
	for i := 1; i < n; i++ {
		if f := p.workers[(thief+i)%n].popHead(); f != nil {
			p.stealCnt.Add(1)
			return f
		}
	}
	return nil
}

// Close stops the workers. Tasks still queued are resolved with ErrPoolClosed.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.running.Store(false)
	p.cancel()
	p.wg.Wait()

	for _, w := range p.workers {
		for f := w.popTail(); f != nil; f = w.popTail() {
			f.abandon(ErrPoolClosed)
		}
	}
	return nil
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:       len(p.workers),
		TasksExecuted: p.taskCnt.Load(),
		TasksFailed:   p.errCnt.Load(),
		TasksStolen:   p.stealCnt.Load(),
		TasksInline:   p.inline.Load(),
		QueueSize:     p.QueueLen(),
		IsRunning:     p.running.Load(),
		IsClosed:      p.closed.Load(),
	}
}

// Stats holds pool statistics
type Stats struct {
	Workers       int
	TasksExecuted int64
	TasksFailed   int64
	TasksStolen   int64
	TasksInline   int64 // 由等待方直接执行的任务数
	QueueSize     int
	IsRunning     bool
	IsClosed      bool
}

// IsRunning returns true if the pool is running
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// IsClosed returns true if the pool is closed
func (p *Pool) IsClosed() bool {
	return p.closed.Load()
}

// WorkerCount returns the number of workers
func (p *Pool) WorkerCount() int {
	return len(p.workers)
}

// QueueLen returns the number of queued tasks across all deques
func (p *Pool) QueueLen() int {
	total := 0
	for _, w := range p.workers {
		total += w.len()
	}
	return total
}

// worker owns one deque
type worker struct {
	id    int
	pool  *Pool
	mu    sync.Mutex
	deque []*Future
}

func (w *worker) push(f *Future) {
	w.mu.Lock()
	w.deque = append(w.deque, f)
	w.mu.Unlock()
}

func (w *worker) popTail() *Future {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.deque)
	if n == 0 {
		return nil
	}
	f := w.deque[n-1]
	w.deque[n-1] = nil
	w.deque = w.deque[:n-1]
	return f
}

func (w *worker) popHead() *Future {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.deque) == 0 {
		return nil
	}
	f := w.deque[0]
	w.deque[0] = nil
	w.deque = w.deque[1:]
	return f
}

func (w *worker) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.deque)
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	p := w.pool
	for {
		f := w.popTail()
		if f == nil {
			f = p.steal(w.id)
		}
		if f != nil {
			// 其他 worker 可能还有积压，传递唤醒信号
			if p.QueueLen() > 0 {
				p.notify()
			}
			f.runOn(w)
			continue
		}
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}
	}
}
