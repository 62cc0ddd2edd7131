// Package executor 执行编译后的物理计划
//
// 批处理模式自底向上逐节点求值，每个节点产出一个完整的 chunk；
// 形如 Sink ← (Filter|Select)* ← Scan 的计划可以逐 chunk 流式执行。
package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/groupby"
	"github.com/kasuganosora/colexec/pkg/executor/join"
	"github.com/kasuganosora/colexec/pkg/executor/operators"
	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	colsort "github.com/kasuganosora/colexec/pkg/executor/sort"
	"github.com/kasuganosora/colexec/pkg/monitor"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/rs/zerolog"
)

// Executor 物理计划执行器，可被多个查询并发使用
type Executor struct {
	runtime *Runtime
}

// New 创建执行器
func New() *Executor {
	return &Executor{runtime: NewRuntime()}
}

// Runtime 正在执行的查询
func (e *Executor) Runtime() *Runtime {
	return e.runtime
}

// Execute 执行计划，返回根节点的结果
// 根节点为 Sink 时批处理模式返回写入的数据，流式模式返回声明 Schema 的空 chunk
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, ec *ExecutionContext) (*types.Chunk, error) {
	if p == nil {
		return nil, execerr.Newf(execerr.CodeInvalidPlan, "empty plan")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = ec.Logger.With().Str("query_id", ec.QueryID).Logger().WithContext(ctx)

	e.runtime.RegisterQuery(ec.QueryID, string(p.Type), cancel)
	defer e.runtime.UnregisterQuery(ec.QueryID)

	mc := &monitor.MonitorContext{
		Metrics:   ec.Metrics,
		SlowQuery: ec.SlowQuery,
		QueryID:   ec.QueryID,
		RootKind:  string(p.Type),
		Plan:      p.Tree,
	}
	mc.Start()

	q := &query{ec: ec, runtime: e.runtime, nodes: countNodes(p)}
	out, err := q.run(ctx, p)

	var rows int64
	if out != nil {
		rows = int64(out.NumRows())
	}
	duration := mc.End(rows, err)
	event := zerolog.Ctx(ctx).Debug()
	if err != nil {
		event = zerolog.Ctx(ctx).Warn().Err(err)
	}
	event.Str("root", string(p.Type)).Int64("rows", rows).Dur("duration", duration).Msg("query finished")
	return out, err
}

// query 一次执行的状态
type query struct {
	ec      *ExecutionContext
	runtime *Runtime
	nodes   int
	done    atomic.Int64
}

func (q *query) run(ctx context.Context, p *plan.Plan) (*types.Chunk, error) {
	if q.ec.Config.Execution.Streaming && Streamable(p) {
		q.runtime.UpdateProgress(q.ec.QueryID, 0, StatusStreaming)
		return q.stream(ctx, p)
	}

	out, held, err := q.evaluate(ctx, p)
	if err == nil {
		q.ec.Budget.Release(held)
		return out, nil
	}
	if !execerr.Is(err, execerr.CodeOutOfMemory) || !Streamable(p) || ctx.Err() != nil {
		return nil, err
	}

	q.ec.Metrics.RecordOOMFallback()
	zerolog.Ctx(ctx).Warn().Err(err).
		Str("budget", humanize.IBytes(uint64(q.ec.Budget.Limit()))).
		Msg("memory budget exceeded, falling back to streaming")
	q.runtime.UpdateProgress(q.ec.QueryID, 0, StatusFallback)
	q.done.Store(0)
	return q.stream(ctx, p)
}

// evaluate 求值一个节点，返回结果及其占用的预算
// 子节点的预算在父节点完成后归还，出错时本节点与子节点的预算都已归还
func (q *query) evaluate(ctx context.Context, p *plan.Plan) (*types.Chunk, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, execerr.Cancelled(err)
	}

	inputs, held, err := q.children(ctx, p)
	defer q.ec.Budget.Release(held)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	out, reserved, err := q.dispatch(ctx, p, inputs)
	if err == nil && ctx.Err() != nil {
		q.ec.Budget.Release(reserved)
		err = execerr.Cancelled(ctx.Err())
	}
	if err != nil {
		return nil, 0, nodeError(err, p)
	}
	if !out.Schema().Equal(p.OutputSchema) {
		q.ec.Budget.Release(reserved)
		return nil, 0, execerr.WithNode(execerr.Newf(execerr.CodeSchemaMismatch,
			"output schema %s != declared %s (%s)", out.Schema(), p.OutputSchema, p.OutputSchema.Diff(out.Schema())),
			execerr.CodeSchemaMismatch, p.ID, string(p.Type))
	}

	q.finished(ctx, p, out.NumRows(), time.Since(start))
	return out, reserved, nil
}

// children 求值子节点，连接的两个输入并发执行
func (q *query) children(ctx context.Context, p *plan.Plan) ([]*types.Chunk, int64, error) {
	switch len(p.Children) {
	case 0:
		return nil, 0, nil
	case 1:
		c, held, err := q.evaluate(ctx, p.Children[0])
		if err != nil {
			return nil, 0, err
		}
		return []*types.Chunk{c}, held, nil
	}

	type result struct {
		chunk *types.Chunk
		held  int64
	}
	var left, right result
	_, _, err := parallel.Both(ctx, q.ec.Pool,
		func(ctx context.Context) (struct{}, error) {
			c, held, err := q.evaluate(ctx, p.Children[0])
			left = result{c, held}
			return struct{}{}, err
		},
		func(ctx context.Context) (struct{}, error) {
			c, held, err := q.evaluate(ctx, p.Children[1])
			right = result{c, held}
			return struct{}{}, err
		})
	if err != nil {
		// 先完成的一侧已经预留了预算
		q.ec.Budget.Release(left.held + right.held)
		return nil, 0, execerr.FromTask(err)
	}
	return []*types.Chunk{left.chunk, right.chunk}, left.held + right.held, nil
}

// dispatch 按节点类型执行，返回结果及为其预留的预算
func (q *query) dispatch(ctx context.Context, p *plan.Plan, in []*types.Chunk) (*types.Chunk, int64, error) {
	env := q.ec.env()
	var (
		out *types.Chunk
		err error
	)
	switch p.Type {
	case plan.TypeScan:
		return q.scan(ctx, p)
	case plan.TypeFilter:
		out, err = operators.Filter(ctx, p, env, in[0])
	case plan.TypeSelect:
		out, err = operators.Select(ctx, p, env, in[0])
	case plan.TypeJoin:
		cfg, ok := p.Config.(*plan.JoinConfig)
		if !ok {
			return nil, 0, invalidConfig(p)
		}
		out, err = join.Execute(ctx, in[0], in[1], cfg, join.Options{
			Pool:       q.ec.Pool,
			Partitions: env.Partitions,
			MinRows:    env.MinRows,
			Dict:       q.ec.Dict,
			OnBuild:    q.ec.buildHook,
		})
	case plan.TypeGroupBy:
		cfg, ok := p.Config.(*plan.GroupByConfig)
		if !ok {
			return nil, 0, invalidConfig(p)
		}
		out, err = groupby.Execute(ctx, in[0], cfg, p.OutputSchema, groupby.Options{
			Pool:       q.ec.Pool,
			Partitions: env.Partitions,
			MinRows:    env.MinRows,
			Dict:       q.ec.Dict,
			Evaluator:  q.ec.Evaluator,
		})
	case plan.TypeSort:
		cfg, ok := p.Config.(*plan.SortConfig)
		if !ok {
			return nil, 0, invalidConfig(p)
		}
		out, err = colsort.Chunk(ctx, in[0], cfg, colsort.Options{
			Pool:       q.ec.Pool,
			Partitions: env.Partitions,
			MinRows:    env.MinRows,
		})
	case plan.TypeSink:
		// 输出原样返回输入，不再重复计入预算
		return in[0], 0, operators.Sink(ctx, p, env, in[0])
	default:
		return nil, 0, execerr.Newf(execerr.CodeInvalidPlan, "unsupported node type %q", p.Type)
	}
	if err != nil {
		return nil, 0, err
	}

	size := out.EstimatedSize()
	if err := q.ec.Budget.Reserve(size); err != nil {
		return nil, 0, err
	}
	return out, size, nil
}

// scan 读取源，每个 chunk 都计入内存预算
func (q *query) scan(ctx context.Context, p *plan.Plan) (*types.Chunk, int64, error) {
	s, err := operators.NewScanner(p, q.ec.env())
	if err != nil {
		return nil, 0, err
	}
	agg := NewAggregator(p.OutputSchema, q.ec.Budget)
	if err := s.Run(ctx, agg.Add); err != nil {
		agg.Clear()
		return nil, 0, err
	}

	out, err := agg.Aggregate()
	if err != nil {
		agg.Clear()
		return nil, 0, err
	}
	return out, agg.Reserved(), nil
}

// finished 记录一个节点完成
func (q *query) finished(ctx context.Context, p *plan.Plan, rows int, d time.Duration) {
	q.ec.Metrics.RecordOperator(string(p.Type), rows, d)
	done := q.done.Add(1)
	q.runtime.UpdateProgress(q.ec.QueryID, float64(done)/float64(q.nodes), "")
	zerolog.Ctx(ctx).Debug().
		Str("node", p.ID).
		Str("kind", string(p.Type)).
		Int("rows", rows).
		Dur("duration", d).
		Msg("node finished")
}

// nodeError 为错误补充节点信息；未分类的错误在扫描和输出节点视为 IO 错误
func nodeError(err error, p *plan.Plan) error {
	fallback := execerr.CodeInvalidPlan
	if p.Type == plan.TypeScan || p.Type == plan.TypeSink {
		fallback = execerr.CodeIO
	}
	return execerr.WithNode(execerr.FromTask(err), fallback, p.ID, string(p.Type))
}

func invalidConfig(p *plan.Plan) error {
	return execerr.Newf(execerr.CodeInvalidPlan, "invalid config type for %s: %T", p.Type, p.Config)
}

func countNodes(p *plan.Plan) int {
	n := 0
	p.Walk(func(*plan.Plan) bool {
		n++
		return true
	})
	return n
}
