package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := NewWithSize(size)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(func() { p.Close() })
	return p
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{"valid config", Config{Size: 4, QueueSize: 10}, nil},
		{"zero size", Config{Size: 0}, ErrInvalidSize},
		{"negative size", Config{Size: -1}, ErrInvalidSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.config)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.Size, p.WorkerCount())
			p.Close()
		})
	}
}

func TestPool_Lifecycle(t *testing.T) {
	p, err := NewWithSize(2)
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), func(context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrPoolClosed, "submit before start")

	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), ErrPoolRunning)
	assert.True(t, p.IsRunning())

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.True(t, p.IsClosed())
	assert.ErrorIs(t, p.Start(), ErrPoolClosed)
}

func TestPool_SubmitWait(t *testing.T) {
	p := startPool(t, 4)

	v, err := p.SubmitWait(context.Background(), func(context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = p.SubmitWait(context.Background(), func(context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPool_ManyTasks(t *testing.T) {
	p := startPool(t, 4)
	ctx := context.Background()

	var sum atomic.Int64
	futures := make([]*Future, 0, 500)
	for i := range 500 {
		f, err := p.Submit(ctx, func(context.Context) (interface{}, error) {
			sum.Add(int64(i))
			return i, nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for i, f := range futures {
		v, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int64(500*499/2), sum.Load())
	assert.Equal(t, int64(500), p.Stats().TasksExecuted)
}

func TestPool_PanicRecovered(t *testing.T) {
	p := startPool(t, 2)
	_, err := p.SubmitWait(context.Background(), func(context.Context) (interface{}, error) {
		panic("bad task")
	})
	assert.ErrorIs(t, err, ErrTaskPanic)
	assert.Contains(t, err.Error(), "bad task")
}

// 单个 worker 上的嵌套 fork-join 依赖等待方就地执行子任务
func TestPool_NestedForkJoinSingleWorker(t *testing.T) {
	p := startPool(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var fib func(ctx context.Context, n int) (int, error)
	fib = func(ctx context.Context, n int) (int, error) {
		if n < 2 {
			return n, nil
		}
		f, err := p.Submit(ctx, func(ctx context.Context) (interface{}, error) {
			return fib(ctx, n-1)
		})
		if err != nil {
			return 0, err
		}
		b, err := fib(ctx, n-2)
		if err != nil {
			return 0, err
		}
		a, err := f.Wait(ctx)
		if err != nil {
			return 0, err
		}
		return a.(int) + b, nil
	}

	v, err := p.SubmitWait(ctx, func(ctx context.Context) (interface{}, error) {
		return fib(ctx, 15)
	})
	require.NoError(t, err)
	assert.Equal(t, 610, v)
	assert.Greater(t, p.Stats().TasksInline, int64(0))
}

func TestPool_WorkIsStolen(t *testing.T) {
	p := startPool(t, 4)
	ctx := context.Background()

	// 所有子任务压入同一个 worker 的本地队列，其余 worker 只能通过窃取获得任务
	release := make(chan struct{})
	var started atomic.Int64
	outer, err := p.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		futures := make([]*Future, 8)
		for i := range futures {
			f, err := p.Submit(ctx, func(context.Context) (interface{}, error) {
				started.Add(1)
				<-release
				return nil, nil
			})
			if err != nil {
				return nil, err
			}
			futures[i] = f
		}
		assert.Eventually(t, func() bool { return started.Load() >= 3 }, 2*time.Second, time.Millisecond)
		close(release)
		for _, f := range futures {
			if _, err := f.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	require.NoError(t, err)
	<-outer.Done()
	_, err = outer.Wait(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Stats().TasksStolen, int64(3))
}

func TestPool_CanceledContext(t *testing.T) {
	p := startPool(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Submit(ctx, func(context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_CloseAbandonsQueued(t *testing.T) {
	p, err := NewWithSize(1)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	ctx := context.Background()

	block := make(chan struct{})
	running := make(chan struct{})
	first, err := p.Submit(ctx, func(context.Context) (interface{}, error) {
		close(running)
		<-block
		return nil, nil
	})
	require.NoError(t, err)
	<-running

	queued, err := p.Submit(ctx, func(context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(block)
	}()
	require.NoError(t, p.Close())

	_, err = first.Wait(ctx)
	assert.NoError(t, err)
	select {
	case <-queued.Done():
	default:
		t.Fatal("queued future not resolved after close")
	}
}

func TestSlicePool(t *testing.T) {
	sp := NewSlicePool[int](4)
	s := sp.Get()
	*s = append(*s, 1, 2, 3)
	sp.Put(s)

	s2 := sp.Get()
	assert.Empty(t, *s2)
	stats := sp.Stats()
	assert.Equal(t, int64(2), stats.Allocations+stats.Reuses)
}
