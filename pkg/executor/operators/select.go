package operators

import (
	"context"
	"fmt"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

// Select 执行投影节点
// WithColumns 为 false 时只输出表达式结果；为 true 时同名列被替换，新列追加在末尾
func Select(ctx context.Context, p *plan.Plan, env Env, in *types.Chunk) (*types.Chunk, error) {
	cfg, err := configOf[*plan.SelectConfig](p)
	if err != nil {
		return nil, err
	}

	n := in.NumRows()
	cols, err := parallel.Map(ctx, env.Pool, len(cfg.Exprs), func(ctx context.Context, i int) (*types.Column, error) {
		e := cfg.Exprs[i]
		col, err := env.Evaluator.Evaluate(ctx, e, in)
		if err != nil {
			return nil, evalError(err, e)
		}
		if col, err = fitLength(col, n, e); err != nil {
			return nil, err
		}
		name := e.OutputName()
		col = col.Rename(name)
		if f, ok := p.OutputSchema.Lookup(name); ok && !col.Type().Equal(f.Type) {
			if col, err = col.Cast(f.Type); err != nil {
				return nil, execerr.Wrap(err, execerr.CodeExpressionEvaluation, fmt.Sprintf("cast %s to %s", name, f.Type))
			}
		}
		return col, nil
	})
	if err != nil {
		return nil, execerr.FromTask(err)
	}

	if !cfg.WithColumns {
		return newChunk(cols...)
	}

	computed := make(map[string]*types.Column, len(cols))
	for _, col := range cols {
		computed[col.Name()] = col
	}
	out := make([]*types.Column, 0, p.OutputSchema.Len())
	for _, f := range p.OutputSchema.Fields() {
		if col, ok := computed[f.Name]; ok {
			out = append(out, col)
			continue
		}
		col, ok := in.ColumnByName(f.Name)
		if !ok {
			return nil, execerr.Newf(execerr.CodeSchemaMismatch, "input has no column %q", f.Name)
		}
		out = append(out, col)
	}
	return newChunk(out...)
}

func newChunk(cols ...*types.Column) (*types.Chunk, error) {
	c, err := types.NewChunk(cols...)
	if err != nil {
		return nil, execerr.Wrap(err, execerr.CodeSchemaMismatch, "assemble chunk")
	}
	return c, nil
}
