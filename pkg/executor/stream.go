package executor

import (
	"context"
	"time"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/operators"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
	"go.uber.org/multierr"
)

// Streamable 计划是否可以逐 chunk 执行：Sink ← (Filter|Select)* ← Scan，
// 且过滤和投影中没有跨行的归约函数
func Streamable(p *plan.Plan) bool {
	_, _, ok := streamChain(p)
	return ok
}

// streamChain 拆出扫描节点和自下而上的中间节点
func streamChain(p *plan.Plan) (*plan.Plan, []*plan.Plan, bool) {
	if p == nil || p.Type != plan.TypeSink || len(p.Children) != 1 {
		return nil, nil, false
	}
	var stages []*plan.Plan
	for n := p.Children[0]; ; n = n.Children[0] {
		switch n.Type {
		case plan.TypeScan:
			for i, j := 0, len(stages)-1; i < j; i, j = i+1, j-1 {
				stages[i], stages[j] = stages[j], stages[i]
			}
			return n, stages, true
		case plan.TypeFilter:
			cfg, ok := n.Config.(*plan.FilterConfig)
			if !ok || hasReduction(cfg.Predicate) {
				return nil, nil, false
			}
		case plan.TypeSelect:
			cfg, ok := n.Config.(*plan.SelectConfig)
			if !ok {
				return nil, nil, false
			}
			for _, e := range cfg.Exprs {
				if hasReduction(e) {
					return nil, nil, false
				}
			}
		default:
			return nil, nil, false
		}
		if len(n.Children) != 1 {
			return nil, nil, false
		}
		stages = append(stages, n)
	}
}

func hasReduction(e *expr.Expr) bool {
	if e == nil {
		return false
	}
	return e.Type == expr.ExprTypeFunction || hasReduction(e.Left) || hasReduction(e.Right)
}

// stream 逐 chunk 执行，每个 chunk 写入输出后即被丢弃
func (q *query) stream(ctx context.Context, p *plan.Plan) (out *types.Chunk, err error) {
	scanNode, stages, ok := streamChain(p)
	if !ok {
		return nil, execerr.Newf(execerr.CodeInvalidPlan, "plan rooted at %s cannot be streamed", p.Type)
	}
	env := q.ec.env()

	scanner, err := operators.NewScanner(scanNode, env)
	if err != nil {
		return nil, nodeError(err, scanNode)
	}
	w, err := operators.OpenSink(p, env)
	if err != nil {
		return nil, nodeError(err, p)
	}
	defer func() {
		if cerr := w.Finish(err != nil); cerr != nil {
			err = multierr.Append(err, nodeError(cerr, p))
			out = nil
		}
	}()

	start := time.Now()
	rows := make([]int, len(stages))
	err = scanner.Run(ctx, func(c *types.Chunk) error {
		c, err := q.applyStages(ctx, stages, env, c, rows)
		if err != nil {
			return err
		}
		return nodeError(w.Write(ctx, c), p)
	})
	if err != nil {
		return nil, nodeError(err, scanNode)
	}

	elapsed := time.Since(start)
	q.finished(ctx, scanNode, int(scanner.Rows()), elapsed)
	for i, st := range stages {
		q.finished(ctx, st, rows[i], elapsed)
	}
	q.finished(ctx, p, int(w.Rows()), elapsed)
	return types.EmptyChunk(p.OutputSchema), nil
}

// applyStages 依次执行过滤和投影，并检查每个节点的输出 Schema
func (q *query) applyStages(ctx context.Context, stages []*plan.Plan, env operators.Env, c *types.Chunk, rows []int) (*types.Chunk, error) {
	var err error
	for i, st := range stages {
		switch st.Type {
		case plan.TypeFilter:
			c, err = operators.Filter(ctx, st, env, c)
		case plan.TypeSelect:
			c, err = operators.Select(ctx, st, env, c)
		}
		if err != nil {
			return nil, nodeError(err, st)
		}
		if !c.Schema().Equal(st.OutputSchema) {
			return nil, execerr.WithNode(execerr.Newf(execerr.CodeSchemaMismatch,
				"output schema %s != declared %s", c.Schema(), st.OutputSchema), execerr.CodeSchemaMismatch, st.ID, string(st.Type))
		}
		rows[i] += c.NumRows()
	}
	return c, nil
}
