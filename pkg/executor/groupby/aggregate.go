package groupby

import (
	"context"
	"fmt"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

// aggregate 对每个行集合计算全部聚合项，sets 的顺序即输出行顺序
// fields 与 aggs 一一对应，给出输出列的名称和类型
func aggregate(ctx context.Context, chunk *types.Chunk, sets [][]int, aggs []plan.AggSpec, fields []types.Field, opts Options) ([]*types.Column, error) {
	if len(fields) != len(aggs) {
		return nil, execerr.Newf(execerr.CodeSchemaMismatch, "group by declares %d aggregation columns, config has %d", len(fields), len(aggs))
	}
	srcs := make([]*types.Column, len(aggs))
	for i, a := range aggs {
		if a.Function == expr.AggExpr {
			if opts.Evaluator == nil {
				return nil, execerr.Newf(execerr.CodeInvalidPlan, "expr aggregation %q needs an evaluator", a.Name)
			}
			continue
		}
		col, ok := chunk.ColumnByName(a.Column)
		if !ok {
			return nil, execerr.Newf(execerr.CodeSchemaMismatch, "aggregation column %q not found in %s", a.Column, chunk.Schema())
		}
		srcs[i] = col
	}

	ranges := parallel.DivideRange(len(sets), opts.partitions(), opts.minRows())
	parts, err := parallel.ScanRanges(ctx, opts.Pool, ranges, func(ctx context.Context, r parallel.Range) ([]*types.Column, error) {
		out := make([]*types.Column, len(aggs))
		for i, a := range aggs {
			b := types.NewBuilder(fields[i].Type, r.Len())
			for s := r.Start; s < r.End; s++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if a.Function == expr.AggExpr {
					if err := appendExpr(ctx, b, chunk, sets[s], a, fields[i].Type, opts.Evaluator); err != nil {
						return nil, err
					}
					continue
				}
				if err := b.Append(expr.Reduce(a.Function, srcs[i], sets[s])); err != nil {
					return nil, execerr.New(execerr.CodeUnsupportedAggregation, a.String(), err)
				}
			}
			out[i] = b.Finish(fields[i].Name)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	if len(parts) == 0 {
		cols := make([]*types.Column, len(fields))
		for i, f := range fields {
			cols[i] = types.NewNullColumn(f.Name, f.Type, 0)
		}
		return cols, nil
	}
	cols := make([]*types.Column, len(aggs))
	for i, f := range fields {
		pieces := make([]*types.Column, len(parts))
		for p := range parts {
			pieces[p] = parts[p][i]
		}
		if cols[i], err = types.ConcatColumns(f.Name, pieces...); err != nil {
			return nil, execerr.New(execerr.CodeSchemaMismatch, "concat aggregation "+f.Name, err)
		}
	}
	return cols, nil
}

// appendExpr 在组内的行上独立求值表达式，结果须为单行
func appendExpr(ctx context.Context, b *types.Builder, chunk *types.Chunk, rows []int, a plan.AggSpec, dt types.DataType, ev expr.Evaluator) error {
	col, err := ev.Evaluate(ctx, a.Expr, chunk.Take(rows))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return execerr.New(execerr.CodeExpressionEvaluation, "evaluate "+a.Expr.String(), err)
	}
	if col.Len() != 1 {
		return execerr.Newf(execerr.CodeExpressionEvaluation,
			"expr aggregation %q must produce one row per group, got %d", a.Name, col.Len())
	}
	if !col.Type().Equal(dt) {
		if col, err = col.Cast(dt); err != nil {
			return execerr.New(execerr.CodeExpressionEvaluation, fmt.Sprintf("expr aggregation %q result type", a.Name), err)
		}
	}
	b.AppendFrom(col, 0)
	return nil
}
