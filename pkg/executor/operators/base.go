// Package operators 实现扫描、过滤、投影和输出这几类逐 chunk 的算子
//
// 连接、分组和排序的计算核心分别在 join、groupby、sort 包中；
// 这里的算子只依赖 Env 提供的查询级资源，可以在批处理和流式两种模式下复用。
package operators

import (
	"fmt"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/kasuganosora/colexec/pkg/workerpool"
)

// Env 算子运行所需的查询级资源
type Env struct {
	Pool       *workerpool.Pool
	Partitions int
	MinRows    int // 每个并行分区的最少行数
	ChunkSize  int
	Evaluator  expr.Evaluator
	Registry   *resource.Registry
}

func (e Env) partitions() int {
	return max(e.Partitions, 1)
}

func (e Env) minRows() int {
	return max(e.MinRows, 1)
}

// configOf 取出节点的配置
func configOf[T any](p *plan.Plan) (T, error) {
	cfg, ok := p.Config.(T)
	if !ok {
		var zero T
		return zero, execerr.Newf(execerr.CodeInvalidPlan, "invalid config type for %s: %T", p.Type, p.Config)
	}
	return cfg, nil
}

// evalError 把求值器错误包装为 EXPRESSION_EVALUATION_ERROR
func evalError(err error, e *expr.Expr) error {
	if execerr.CodeOf(err) == execerr.CodeCancelled {
		return err
	}
	return execerr.Wrap(err, execerr.CodeExpressionEvaluation, fmt.Sprintf("evaluate %s", e))
}

// fitLength 把求值结果对齐到 n 行，长度为 1 的结果广播
func fitLength(col *types.Column, n int, e *expr.Expr) (*types.Column, error) {
	if col.Len() == n {
		return col, nil
	}
	if col.Len() == 1 {
		return col.Broadcast(n), nil
	}
	return nil, execerr.Newf(execerr.CodeExpressionEvaluation, "expression %s produced %d rows, expected %d", e, col.Len(), n)
}
