// Package groupby 实现按键分组聚合与按时间窗口的动态分组
//
// 分组顺序由每组首次出现的行号决定，与分区数和任务完成顺序无关。
package groupby

import (
	"context"
	"slices"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/hashkey"
	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	colsort "github.com/kasuganosora/colexec/pkg/executor/sort"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/kasuganosora/colexec/pkg/workerpool"
)

// Options 分组执行参数
type Options struct {
	Pool       *workerpool.Pool
	Partitions int
	MinRows    int
	Dict       *types.StringDict
	Evaluator  expr.Evaluator // expr 聚合使用
}

func (o Options) partitions() int {
	return max(o.Partitions, 1)
}

func (o Options) minRows() int {
	return max(o.MinRows, 1)
}

// group 一个分组：rows 按原始行号升序，rows[0] 即首次出现的行
type group struct {
	rows []int
}

func (g group) first() int {
	return g.rows[0]
}

// Execute 执行分组，out 为计划声明的输出 schema
func Execute(ctx context.Context, chunk *types.Chunk, cfg *plan.GroupByConfig, out *types.Schema, opts Options) (*types.Chunk, error) {
	keyCols := make([]*types.Column, len(cfg.Keys))
	for i, name := range cfg.Keys {
		col, ok := chunk.ColumnByName(name)
		if !ok {
			return nil, execerr.Newf(execerr.CodeSchemaMismatch, "group key %q not found in %s", name, chunk.Schema())
		}
		keyCols[i] = col
	}

	var (
		res *types.Chunk
		err error
	)
	if cfg.Window != nil {
		res, err = executeDynamic(ctx, chunk, keyCols, cfg, out, opts)
	} else {
		res, err = executeFlat(ctx, chunk, keyCols, cfg, out, opts)
	}
	if err != nil {
		return nil, execerr.FromTask(err)
	}
	return res, nil
}

func executeFlat(ctx context.Context, chunk *types.Chunk, keyCols []*types.Column, cfg *plan.GroupByConfig, out *types.Schema, opts Options) (*types.Chunk, error) {
	groups, err := groupRows(ctx, keyCols, chunk.NumRows(), opts)
	if err != nil {
		return nil, err
	}
	if cfg.SortByKey && len(groups) > 1 {
		if groups, err = sortGroups(ctx, groups, keyCols, opts); err != nil {
			return nil, err
		}
	}

	firsts := make([]int, len(groups))
	for i, g := range groups {
		firsts[i] = g.first()
	}
	cols := make([]*types.Column, 0, out.Len())
	for _, kc := range keyCols {
		cols = append(cols, kc.Take(firsts))
	}

	sets := make([][]int, len(groups))
	for i, g := range groups {
		sets[i] = g.rows
	}
	aggs, err := aggregate(ctx, chunk, sets, cfg.Aggs, out.Fields()[len(keyCols):], opts)
	if err != nil {
		return nil, err
	}
	return types.NewChunk(append(cols, aggs...)...)
}

// groupRows 一次遍历按键哈希高位把行分到各分区，每个分区由一个任务独立建组，
// 合并后按首行排序
func groupRows(ctx context.Context, keyCols []*types.Column, n int, opts Options) ([]group, error) {
	if n == 0 {
		return nil, nil
	}
	if len(keyCols) == 0 {
		return []group{{rows: expr.AllRows(n)}}, nil
	}

	keys := hashkey.Build(keyCols, opts.Dict)
	nparts := hashkey.Partitions(n, opts.partitions(), opts.minRows())
	rows, err := keys.Scatter(ctx, opts.Pool, nparts, opts.minRows(), nil)
	if err != nil {
		return nil, err
	}
	parts, err := parallel.Map(ctx, opts.Pool, nparts, func(ctx context.Context, part int) ([]group, error) {
		index := make(map[uint64][]int)
		var local []group
		for j, i := range rows[part] {
			if j&0xFFF == 0xFFF {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			h := keys.Hash(i)
			gid := -1
			for _, cand := range index[h] {
				if keys.Equal(i, keys, local[cand].first(), true) {
					gid = cand
					break
				}
			}
			if gid < 0 {
				gid = len(local)
				local = append(local, group{})
				index[h] = append(index[h], gid)
			}
			local[gid].rows = append(local[gid].rows, i)
		}
		return local, nil
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	groups := make([]group, 0, total)
	for _, p := range parts {
		groups = append(groups, p...)
	}
	slices.SortFunc(groups, func(a, b group) int {
		return a.first() - b.first()
	})
	return groups, nil
}

// sortGroups 按键升序（空值在后）重排分组
func sortGroups(ctx context.Context, groups []group, keyCols []*types.Column, opts Options) ([]group, error) {
	firsts := make([]int, len(groups))
	for i, g := range groups {
		firsts[i] = g.first()
	}
	taken := make([]*types.Column, len(keyCols))
	for i, kc := range keyCols {
		taken[i] = kc.Take(firsts)
	}
	perm, err := colsort.ArgSort(ctx, colsort.Ascending(taken...), len(groups), colsort.Options{
		Pool:       opts.Pool,
		Partitions: opts.Partitions,
		MinRows:    opts.MinRows,
	})
	if err != nil {
		return nil, err
	}
	sorted := make([]group, len(groups))
	for i, p := range perm {
		sorted[i] = groups[p]
	}
	return sorted, nil
}
