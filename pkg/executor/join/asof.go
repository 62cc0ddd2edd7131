package join

import (
	"context"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/hashkey"
	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

// asofGroups 右侧按 by 键分组，每组行号保持输入顺序
type asofGroups struct {
	byKeys *hashkey.Keys
	index  map[uint64][]int
	rows   [][]int
}

func groupRight(right *types.Chunk, key *types.Column, by []string, opts Options, nullsEqual bool) (*asofGroups, error) {
	g := &asofGroups{index: map[uint64][]int{}}
	if len(by) == 0 {
		rows := make([]int, 0, key.Len())
		for r := range key.Len() {
			if !key.IsNull(r) {
				rows = append(rows, r)
			}
		}
		g.rows = [][]int{rows}
		return g, nil
	}

	cols, err := keyColumns(right, by, "right")
	if err != nil {
		return nil, err
	}
	g.byKeys = hashkey.Build(cols, opts.Dict)
	for r := range key.Len() {
		if key.IsNull(r) || (g.byKeys.HasNull(r) && !nullsEqual) {
			continue
		}
		h := g.byKeys.Hash(r)
		found := -1
		for _, id := range g.index[h] {
			if g.byKeys.Equal(r, g.byKeys, g.rows[id][0], nullsEqual) {
				found = id
				break
			}
		}
		if found < 0 {
			found = len(g.rows)
			g.index[h] = append(g.index[h], found)
			g.rows = append(g.rows, nil)
		}
		g.rows[found] = append(g.rows[found], r)
	}
	return g, nil
}

// lookup 左侧第 row 行所属的右侧分组，不存在时返回 -1
func (g *asofGroups) lookup(leftBy *hashkey.Keys, row int, nullsEqual bool) int {
	if g.byKeys == nil {
		return 0
	}
	if leftBy.HasNull(row) && !nullsEqual {
		return -1
	}
	for _, id := range g.index[leftBy.Hash(row)] {
		if leftBy.Equal(row, g.byKeys, g.rows[id][0], nullsEqual) {
			return id
		}
	}
	return -1
}

func asofJoin(ctx context.Context, left, right *types.Chunk, lkey, rkey *types.Column, cfg *plan.JoinConfig, opts Options) (pairs, error) {
	a := cfg.Asof
	groups, err := groupRight(right, rkey, a.RightBy, opts, cfg.NullsEqual)
	if err != nil {
		return pairs{}, err
	}
	var leftBy *hashkey.Keys
	if len(a.LeftBy) > 0 {
		cols, err := keyColumns(left, a.LeftBy, "left")
		if err != nil {
			return pairs{}, err
		}
		leftBy = hashkey.Build(cols, opts.Dict)
	}

	if rkey.Type().ID == types.Float64 {
		return asofRun(ctx, groups, leftBy, lkey, rkey, (*types.Column).Float64At, cfg, opts)
	}
	return asofRun(ctx, groups, leftBy, lkey, rkey, (*types.Column).Int64At, cfg, opts)
}

func asofRun[T int64 | float64](ctx context.Context, groups *asofGroups, leftBy *hashkey.Keys,
	lkey, rkey *types.Column, at func(*types.Column, int) T, cfg *plan.JoinConfig, opts Options) (pairs, error) {
	a := cfg.Asof

	// 每组的键值，同时校验组内升序
	keys := make([][]T, len(groups.rows))
	for id, rows := range groups.rows {
		ks := make([]T, len(rows))
		for n, r := range rows {
			ks[n] = at(rkey, r)
			if n > 0 && ks[n] < ks[n-1] && !cfg.AssumeSorted {
				return pairs{}, execerr.Newf(execerr.CodeUnsortedInputForMergeJoin,
					"as-of right input not sorted on %q at row %d", rkey.Name(), r)
			}
		}
		keys[id] = ks
	}

	var tol T
	hasTol := a.Tolerance != nil
	if hasTol {
		tol = T(*a.Tolerance)
	}

	ranges := parallel.DivideRange(lkey.Len(), opts.partitions(), opts.minRows())
	parts, err := parallel.ScanRanges(ctx, opts.Pool, ranges, func(ctx context.Context, r parallel.Range) (pairs, error) {
		if err := ctx.Err(); err != nil {
			return pairs{}, err
		}
		var out pairs
		for l := r.Start; l < r.End; l++ {
			match := -1
			if !lkey.IsNull(l) {
				if id := groups.lookup(leftBy, l, cfg.NullsEqual); id >= 0 {
					if pos := asofSearch(keys[id], at(lkey, l), a, tol, hasTol); pos >= 0 {
						match = groups.rows[id][pos]
					}
				}
			}
			if match >= 0 || cfg.Type == plan.LeftJoin {
				out.add(l, match)
			}
		}
		return out, nil
	})
	if err != nil {
		return pairs{}, err
	}
	return concatPairs(parts), nil
}

// asofSearch 在升序 keys 中按方向查找 x 的匹配位置，没有时返回 -1
// backward 取相等键中的最后一个，forward 取第一个；nearest 距离相同时取 backward
func asofSearch[T int64 | float64](keys []T, x T, a *plan.AsofConfig, tol T, hasTol bool) int {
	backward := func() int {
		var i int
		if a.AllowExactMatches {
			i = upperBound(keys, x)
		} else {
			i = lowerBound(keys, x)
		}
		return i - 1
	}
	forward := func() int {
		var i int
		if a.AllowExactMatches {
			i = lowerBound(keys, x)
		} else {
			i = upperBound(keys, x)
		}
		if i >= len(keys) {
			return -1
		}
		return i
	}
	within := func(pos int) bool {
		if pos < 0 {
			return false
		}
		return !hasTol || distance(keys[pos], x) <= tol
	}

	switch a.Strategy {
	case plan.AsofForward:
		if pos := forward(); within(pos) {
			return pos
		}
	case plan.AsofNearest:
		b, f := backward(), forward()
		switch {
		case b >= 0 && f >= 0:
			if distance(keys[f], x) < distance(keys[b], x) {
				b = f
			}
			if within(b) {
				return b
			}
		case b >= 0:
			if within(b) {
				return b
			}
		case f >= 0:
			if within(f) {
				return f
			}
		}
	default:
		if pos := backward(); within(pos) {
			return pos
		}
	}
	return -1
}

func distance[T int64 | float64](a, b T) T {
	if a > b {
		return a - b
	}
	return b - a
}

// lowerBound 第一个 >= x 的位置
func lowerBound[T int64 | float64](keys []T, x T) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if keys[mid] < x {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound 第一个 > x 的位置
func upperBound[T int64 | float64](keys []T, x T) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if keys[mid] <= x {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
