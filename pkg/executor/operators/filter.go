package operators

import (
	"context"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/kasuganosora/colexec/pkg/workerpool"
)

// Filter 执行过滤节点
func Filter(ctx context.Context, p *plan.Plan, env Env, in *types.Chunk) (*types.Chunk, error) {
	cfg, err := configOf[*plan.FilterConfig](p)
	if err != nil {
		return nil, err
	}
	return FilterChunk(ctx, env, cfg.Predicate, in)
}

// FilterChunk 保留谓词为 true 的行，false 与 null 都被丢弃，行的相对顺序不变
func FilterChunk(ctx context.Context, env Env, pred *expr.Expr, in *types.Chunk) (*types.Chunk, error) {
	sel, err := selectRows(ctx, env, pred, in)
	if err != nil {
		return nil, err
	}
	if sel == nil {
		return in, nil
	}
	defer workerpool.Indices.Put(sel)
	return in.Take(*sel), nil
}

// selectRows 计算选中行的下标，全部选中时返回 nil
// 返回的缓冲区来自 workerpool.Indices，调用方用完后归还
func selectRows(ctx context.Context, env Env, pred *expr.Expr, in *types.Chunk) (*[]int, error) {
	n := in.NumRows()
	if n == 0 {
		return nil, nil
	}
	mask, err := env.Evaluator.Evaluate(ctx, pred, in)
	if err != nil {
		return nil, evalError(err, pred)
	}
	if mask, err = fitLength(mask, n, pred); err != nil {
		return nil, err
	}
	if !mask.Type().Equal(types.BooleanType) {
		return nil, execerr.Newf(execerr.CodeExpressionEvaluation, "predicate %s is %s, not boolean", pred, mask.Type())
	}

	bools := mask.Bools()
	ranges := parallel.DivideRange(n, env.partitions(), env.minRows())
	parts, err := parallel.ScanRanges(ctx, env.Pool, ranges, func(ctx context.Context, r parallel.Range) ([]int, error) {
		var keep []int
		for i := r.Start; i < r.End; i++ {
			if bools[i] && !mask.IsNull(i) {
				keep = append(keep, i)
			}
		}
		return keep, nil
	})
	if err != nil {
		return nil, execerr.FromTask(err)
	}

	total := 0
	for _, part := range parts {
		total += len(part)
	}
	if total == n {
		return nil, nil
	}
	sel := workerpool.Indices.Get()
	for _, part := range parts {
		*sel = append(*sel, part...)
	}
	return sel, nil
}
