// Package join 实现哈希连接、归并连接与 as-of 连接
//
// 所有算法先产出行号对 (left, right)，-1 表示该侧没有匹配行，
// 最后统一按连接类型组装输出列。
package join

import (
	"context"
	"fmt"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/hashkey"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/kasuganosora/colexec/pkg/workerpool"
)

// Options 连接执行参数
type Options struct {
	Pool       *workerpool.Pool
	Partitions int
	MinRows    int                  // 建表分区与探测区间的最少行数
	Dict       *types.StringDict    // 两侧共享的字符串字典
	OnBuild    func(part, rows int) // 每个建表分区完成后回调
}

func (o Options) partitions() int {
	return max(o.Partitions, 1)
}

func (o Options) minRows() int {
	return max(o.MinRows, 1)
}

// pairs 连接结果的行号对
type pairs struct {
	left  []int
	right []int
}

func (p *pairs) add(l, r int) {
	p.left = append(p.left, l)
	p.right = append(p.right, r)
}

func (p *pairs) len() int {
	return len(p.left)
}

func concatPairs(parts []pairs) pairs {
	n := 0
	for _, p := range parts {
		n += p.len()
	}
	out := pairs{left: make([]int, 0, n), right: make([]int, 0, n)}
	for _, p := range parts {
		out.left = append(out.left, p.left...)
		out.right = append(out.right, p.right...)
	}
	return out
}

// Execute 执行连接，返回的 chunk 满足 plan.JoinOutputSchema
func Execute(ctx context.Context, left, right *types.Chunk, cfg *plan.JoinConfig, opts Options) (*types.Chunk, error) {
	var err error
	if left, err = applyCasts(left, cfg.KeyCasts, plan.SideLeft); err != nil {
		return nil, err
	}
	if right, err = applyCasts(right, cfg.KeyCasts, plan.SideRight); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, execerr.Cancelled(err)
	}

	leftKeys, err := keyColumns(left, cfg.LeftOn, "left")
	if err != nil {
		return nil, err
	}
	rightKeys, err := keyColumns(right, cfg.RightOn, "right")
	if err != nil {
		return nil, err
	}

	var p pairs
	switch {
	case cfg.Type == plan.CrossJoin:
		p, err = crossJoin(ctx, left.NumRows(), right.NumRows())
	case cfg.Algorithm == plan.AlgorithmAsof:
		p, err = asofJoin(ctx, left, right, leftKeys[0], rightKeys[0], cfg, opts)
	case cfg.Algorithm == plan.AlgorithmMerge:
		if err = validate(leftKeys, rightKeys, cfg, opts); err == nil {
			p, err = mergeJoin(ctx, leftKeys, rightKeys, cfg)
		}
	default:
		if err = validate(leftKeys, rightKeys, cfg, opts); err == nil {
			p, err = hashJoin(ctx, leftKeys, rightKeys, cfg, opts)
		}
	}
	if err != nil {
		return nil, execerr.FromTask(err)
	}
	return assemble(left, right, p, cfg)
}

func applyCasts(chunk *types.Chunk, casts []plan.KeyCast, side plan.Side) (*types.Chunk, error) {
	for _, kc := range casts {
		if kc.Side != side {
			continue
		}
		col, ok := chunk.ColumnByName(kc.Column)
		if !ok {
			return nil, execerr.Newf(execerr.CodeSchemaMismatch, "%s join key %q not found in %s", side, kc.Column, chunk.Schema())
		}
		cast, err := col.Cast(kc.To)
		if err != nil {
			return nil, execerr.New(execerr.CodeJoinKeyTypeMismatch, fmt.Sprintf("cast %s key %q", side, kc.Column), err)
		}
		if chunk, err = chunk.WithColumn(cast); err != nil {
			return nil, execerr.New(execerr.CodeSchemaMismatch, "replace join key", err)
		}
	}
	return chunk, nil
}

func keyColumns(chunk *types.Chunk, names []string, side string) ([]*types.Column, error) {
	cols := make([]*types.Column, len(names))
	for i, name := range names {
		col, ok := chunk.ColumnByName(name)
		if !ok {
			return nil, execerr.Newf(execerr.CodeSchemaMismatch, "%s join key %q not found in %s", side, name, chunk.Schema())
		}
		cols[i] = col
	}
	return cols, nil
}

func crossJoin(ctx context.Context, nl, nr int) (pairs, error) {
	p := pairs{left: make([]int, 0, nl*nr), right: make([]int, 0, nl*nr)}
	for l := range nl {
		if l&0x3FF == 0 {
			if err := ctx.Err(); err != nil {
				return pairs{}, err
			}
		}
		for r := range nr {
			p.add(l, r)
		}
	}
	return p, nil
}

// validate 按 Validate 模式检查键唯一性
func validate(leftKeys, rightKeys []*types.Column, cfg *plan.JoinConfig, opts Options) error {
	var checkLeft, checkRight bool
	switch cfg.Validate {
	case plan.ValidateOneToOne:
		checkLeft, checkRight = true, true
	case plan.ValidateOneToMany:
		checkLeft = true
	case plan.ValidateManyToOne:
		checkRight = true
	default:
		return nil
	}
	if checkLeft {
		if row := firstDuplicate(hashkey.Build(leftKeys, opts.Dict), cfg.NullsEqual); row >= 0 {
			return execerr.Newf(execerr.CodeInvalidPlan, "join keys not unique on the left side (validate=%s), duplicate at row %d", cfg.Validate, row)
		}
	}
	if checkRight {
		if row := firstDuplicate(hashkey.Build(rightKeys, opts.Dict), cfg.NullsEqual); row >= 0 {
			return execerr.Newf(execerr.CodeInvalidPlan, "join keys not unique on the right side (validate=%s), duplicate at row %d", cfg.Validate, row)
		}
	}
	return nil
}

func firstDuplicate(keys *hashkey.Keys, nullsEqual bool) int {
	seen := make(map[uint64][]int, keys.Len())
	for i := range keys.Len() {
		if keys.HasNull(i) && !nullsEqual {
			continue
		}
		h := keys.Hash(i)
		for _, j := range seen[h] {
			if keys.Equal(i, keys, j, nullsEqual) {
				return i
			}
		}
		seen[h] = append(seen[h], i)
	}
	return -1
}

// assemble 按行号对收集左右两侧的列
func assemble(left, right *types.Chunk, p pairs, cfg *plan.JoinConfig) (*types.Chunk, error) {
	cols := make([]*types.Column, 0, left.NumColumns()+right.NumColumns())
	for _, col := range left.Columns() {
		cols = append(cols, col.Take(p.left))
	}
	if !cfg.Type.OutputsRight() {
		return types.NewChunk(cols...)
	}

	// 合并键时，左侧缺失的行用右侧键值补齐
	if cfg.Coalesce && cfg.Asof == nil && hasMissing(p.left) {
		for i, name := range cfg.LeftOn {
			li, _ := left.Schema().Index(name)
			rcol, _ := right.ColumnByName(cfg.RightOn[i])
			cols[li] = coalesce(cols[li], rcol, p)
		}
	}

	dropped := plan.RightDroppedColumns(cfg)
	for _, col := range right.Columns() {
		if dropped[col.Name()] {
			continue
		}
		out := col.Take(p.right)
		cols = append(cols, out.Rename(plan.RightOutputName(left.Schema(), col.Name(), cfg.Suffix)))
	}
	return types.NewChunk(cols...)
}

func hasMissing(idx []int) bool {
	for _, i := range idx {
		if i < 0 {
			return true
		}
	}
	return false
}

func coalesce(leftKey, rightKey *types.Column, p pairs) *types.Column {
	b := types.NewBuilder(leftKey.Type(), leftKey.Len())
	for row, l := range p.left {
		if l >= 0 {
			b.AppendFrom(leftKey, row)
			continue
		}
		if r := p.right[row]; r >= 0 {
			b.AppendFrom(rightKey, r)
		} else {
			b.AppendNull()
		}
	}
	return b.Finish(leftKey.Name())
}
