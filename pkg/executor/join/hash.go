package join

import (
	"context"
	"sync/atomic"

	"github.com/kasuganosora/colexec/pkg/executor/hashkey"
	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

// buildTable 按哈希高位分区的建表结果，每个分区只由一个任务写入
type buildTable struct {
	keys  *hashkey.Keys
	parts []map[uint64][]int
}

func (t *buildTable) candidates(hash uint64) []int {
	return t.parts[hashkey.Partition(hash, len(t.parts))][hash]
}

// hashJoin 建表完成（屏障）后按探测侧连续区间并行探测，结果按区间顺序拼接
func hashJoin(ctx context.Context, leftKeys, rightKeys []*types.Column, cfg *plan.JoinConfig, opts Options) (pairs, error) {
	buildLeft := buildsLeft(cfg, leftKeys[0].Len(), rightKeys[0].Len())
	buildCols, probeCols := rightKeys, leftKeys
	if buildLeft {
		buildCols, probeCols = leftKeys, rightKeys
	}

	table, err := build(ctx, hashkey.Build(buildCols, opts.Dict), cfg.NullsEqual, opts)
	if err != nil {
		return pairs{}, err
	}
	probeKeys := hashkey.Build(probeCols, opts.Dict)

	// 需要输出未匹配建表行时记录匹配状态
	outerBuild := cfg.Type == plan.FullJoin
	var matched []atomic.Bool
	if outerBuild {
		matched = make([]atomic.Bool, table.keys.Len())
	}

	ranges := parallel.DivideRange(probeKeys.Len(), opts.partitions(), opts.minRows())
	parts, err := parallel.ScanRanges(ctx, opts.Pool, ranges, func(ctx context.Context, r parallel.Range) (pairs, error) {
		return probe(ctx, table, probeKeys, r, cfg, matched)
	})
	if err != nil {
		return pairs{}, err
	}
	out := concatPairs(parts)

	if outerBuild {
		for b := range matched {
			if !matched[b].Load() {
				out.add(-1, b)
			}
		}
	}
	if buildLeft {
		out.left, out.right = out.right, out.left
	}
	return out, nil
}

// buildsLeft 是否以左侧建表
// 只有 inner 可以任选一侧（未指定时选行数较少的一侧）；
// right 连接以左侧建表，其余连接必须探测左侧以保留未匹配的左侧行
func buildsLeft(cfg *plan.JoinConfig, leftRows, rightRows int) bool {
	switch cfg.Type {
	case plan.InnerJoin:
		switch cfg.BuildSide {
		case plan.SideLeft:
			return true
		case plan.SideRight:
			return false
		}
		return leftRows < rightRows
	case plan.RightJoin:
		return true
	}
	return false
}

// build 先一次遍历把建表行分到各分区，再由每个分区的任务只处理自己的行
func build(ctx context.Context, keys *hashkey.Keys, nullsEqual bool, opts Options) (*buildTable, error) {
	nparts := hashkey.Partitions(keys.Len(), opts.partitions(), opts.minRows())
	var keep func(int) bool
	if !nullsEqual {
		keep = func(i int) bool { return !keys.HasNull(i) }
	}
	rows, err := keys.Scatter(ctx, opts.Pool, nparts, opts.minRows(), keep)
	if err != nil {
		return nil, err
	}

	t := &buildTable{keys: keys, parts: make([]map[uint64][]int, nparts)}
	err = parallel.ForEach(ctx, opts.Pool, nparts, func(ctx context.Context, part int) error {
		m := make(map[uint64][]int, len(rows[part]))
		for n, i := range rows[part] {
			if n&0xFFF == 0xFFF {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			h := keys.Hash(i)
			m[h] = append(m[h], i)
		}
		t.parts[part] = m
		if opts.OnBuild != nil {
			opts.OnBuild(part, len(rows[part]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func probe(ctx context.Context, t *buildTable, keys *hashkey.Keys, r parallel.Range, cfg *plan.JoinConfig, matched []atomic.Bool) (pairs, error) {
	if err := ctx.Err(); err != nil {
		return pairs{}, err
	}
	var out pairs
	outerProbe := cfg.Type == plan.LeftJoin || cfg.Type == plan.RightJoin || cfg.Type == plan.FullJoin
	for i := r.Start; i < r.End; i++ {
		if (i-r.Start)&0xFFF == 0xFFF {
			if err := ctx.Err(); err != nil {
				return pairs{}, err
			}
		}
		found := false
		if !keys.HasNull(i) || cfg.NullsEqual {
			for _, b := range t.candidates(keys.Hash(i)) {
				if !keys.Equal(i, t.keys, b, cfg.NullsEqual) {
					continue
				}
				found = true
				if !cfg.Type.OutputsRight() {
					break
				}
				out.add(i, b)
				if matched != nil {
					matched[b].Store(true)
				}
			}
		}
		switch {
		case cfg.Type == plan.SemiJoin && found:
			out.add(i, -1)
		case cfg.Type == plan.AntiJoin && !found:
			out.add(i, -1)
		case outerProbe && !found:
			out.add(i, -1)
		}
	}
	return out, nil
}
