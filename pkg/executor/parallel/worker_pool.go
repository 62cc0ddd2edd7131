// Package parallel 提供基于 workerpool 的 fork-join 辅助函数
package parallel

import (
	"context"
	"errors"

	"github.com/kasuganosora/colexec/pkg/workerpool"
)

// ForEach 并行执行 fn(0..n-1)，等待全部完成，返回下标最小的错误
// pool 为 nil 时顺序执行
func ForEach(ctx context.Context, pool *workerpool.Pool, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	if pool == nil || n == 1 || !pool.IsRunning() {
		for i := range n {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	futures := make([]*workerpool.Future, n)
	for i := range n {
		f, err := pool.Submit(ctx, func(ctx context.Context) (interface{}, error) {
			if err := fn(ctx, i); err != nil {
				cancel()
				return nil, err
			}
			return nil, nil
		})
		if err != nil {
			cancel()
			waitAll(ctx, futures[:i])
			return err
		}
		futures[i] = f
	}

	return firstError(waitAll(ctx, futures))
}

// firstError 优先返回任务自身的错误，其次才是因取消产生的错误
func firstError(errs []error) error {
	var canceled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, workerpool.ErrTaskCanceled) && !errors.Is(err, context.Canceled) {
			return err
		}
		if canceled == nil {
			canceled = err
		}
	}
	return canceled
}

// waitAll 等待所有 future，即使 ctx 已取消也要等任务退出，避免悬挂的写入
func waitAll(ctx context.Context, futures []*workerpool.Future) []error {
	errs := make([]error, len(futures))
	for i, f := range futures {
		if f == nil {
			continue
		}
		_, errs[i] = f.Wait(context.WithoutCancel(ctx))
	}
	return errs
}

// Map 并行计算 fn(0..n-1)，结果按下标排列
func Map[T any](ctx context.Context, pool *workerpool.Pool, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	out := make([]T, n)
	err := ForEach(ctx, pool, n, func(ctx context.Context, i int) error {
		v, err := fn(ctx, i)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Both 并发执行两个独立的函数，例如连接的左右子计划
func Both[A, B any](ctx context.Context, pool *workerpool.Pool,
	fa func(ctx context.Context) (A, error), fb func(ctx context.Context) (B, error)) (A, B, error) {
	var (
		a A
		b B
	)
	err := ForEach(ctx, pool, 2, func(ctx context.Context, i int) error {
		var err error
		if i == 0 {
			a, err = fa(ctx)
		} else {
			b, err = fb(ctx)
		}
		return err
	})
	return a, b, err
}
