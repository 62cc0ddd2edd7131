package operators

import (
	"context"
	"errors"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
	"go.uber.org/multierr"
)

// SinkWriter 一次执行中打开的输出
type SinkWriter struct {
	name   string
	sink   resource.Sink
	rows   int64
	closed bool
}

// OpenSink 为输出节点创建 Sink
func OpenSink(p *plan.Plan, env Env) (*SinkWriter, error) {
	cfg, err := configOf[*plan.SinkConfig](p)
	if err != nil {
		return nil, err
	}
	if env.Registry == nil {
		return nil, execerr.Newf(execerr.CodeInvalidPlan, "no sink registry for %q", cfg.Sink)
	}
	s, err := env.Registry.OpenSink(cfg.Sink, p.OutputSchema)
	if err != nil {
		return nil, sinkError(cfg.Sink, "open", err)
	}
	return &SinkWriter{name: cfg.Sink, sink: s}, nil
}

// Write 写入一个 chunk，空 chunk 直接跳过
func (w *SinkWriter) Write(ctx context.Context, c *types.Chunk) error {
	if c.NumRows() == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return execerr.Cancelled(err)
	}
	if err := w.sink.Write(ctx, c); err != nil {
		return sinkError(w.name, "write", err)
	}
	w.rows += int64(c.NumRows())
	return nil
}

// Close 关闭输出，可重复调用
func (w *SinkWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return sinkError(w.name, "close", w.sink.Close())
}

// Abort 丢弃已写入的结果，用于执行失败时；Close 之后调用无效
func (w *SinkWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return sinkError(w.name, "abort", resource.Abort(w.sink))
}

// Finish 执行成功时提交输出，失败时丢弃
func (w *SinkWriter) Finish(failed bool) error {
	if failed {
		return w.Abort()
	}
	return w.Close()
}

// Rows 已写入的行数
func (w *SinkWriter) Rows() int64 {
	return w.rows
}

// Sink 把整个结果写入输出节点，写入失败时丢弃输出
func Sink(ctx context.Context, p *plan.Plan, env Env, in *types.Chunk) (err error) {
	w, err := OpenSink(p, env)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, w.Finish(err != nil))
	}()
	return w.Write(ctx, in)
}

func sinkError(name, op string, err error) error {
	if err == nil || execerr.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return execerr.Cancelled(err)
	}
	return resource.IOError(op+" sink", name, err)
}
