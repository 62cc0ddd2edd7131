package join

import (
	"context"

	"github.com/kasuganosora/colexec/pkg/execerr"
	colsort "github.com/kasuganosora/colexec/pkg/executor/sort"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

// mergeJoin 两侧均按键升序、空值在后；相等键的连续区间做笛卡尔积
func mergeJoin(ctx context.Context, leftCols, rightCols []*types.Column, cfg *plan.JoinConfig) (pairs, error) {
	lk, rk := colsort.Ascending(leftCols...), colsort.Ascending(rightCols...)
	nl, nr := leftCols[0].Len(), rightCols[0].Len()

	if !cfg.AssumeSorted {
		if row := colsort.FirstUnsorted(lk, nl); row >= 0 {
			return pairs{}, execerr.Newf(execerr.CodeUnsortedInputForMergeJoin,
				"left input not sorted on %v at row %d", cfg.LeftOn, row)
		}
		if row := colsort.FirstUnsorted(rk, nr); row >= 0 {
			return pairs{}, execerr.Newf(execerr.CodeUnsortedInputForMergeJoin,
				"right input not sorted on %v at row %d", cfg.RightOn, row)
		}
	}

	keepLeft := cfg.Type == plan.LeftJoin || cfg.Type == plan.FullJoin
	keepRight := cfg.Type == plan.RightJoin || cfg.Type == plan.FullJoin
	var out pairs
	emitLeft := func(from, to int) {
		for a := from; a < to; a++ {
			if keepLeft || cfg.Type == plan.AntiJoin {
				out.add(a, -1)
			}
		}
	}
	emitRight := func(from, to int) {
		if !keepRight {
			return
		}
		for b := from; b < to; b++ {
			out.add(-1, b)
		}
	}

	i, j, steps := 0, 0, 0
	for i < nl && j < nr {
		if steps++; steps&0xFFFF == 0 {
			if err := ctx.Err(); err != nil {
				return pairs{}, err
			}
		}
		c := colsort.CompareAcross(lk, i, rk, j)
		switch {
		case c < 0:
			emitLeft(i, i+1)
			i++
		case c > 0:
			emitRight(j, j+1)
			j++
		default:
			i2 := runEnd(lk, i, nl)
			j2 := runEnd(rk, j, nr)
			if anyNull(leftCols, i) && !cfg.NullsEqual {
				emitLeft(i, i2)
				emitRight(j, j2)
			} else {
				for a := i; a < i2; a++ {
					switch cfg.Type {
					case plan.SemiJoin:
						out.add(a, -1)
					case plan.AntiJoin:
					default:
						for b := j; b < j2; b++ {
							out.add(a, b)
						}
					}
				}
			}
			i, j = i2, j2
		}
	}
	emitLeft(i, nl)
	emitRight(j, nr)
	return out, nil
}

// runEnd 与第 start 行键相等的连续区间终点
func runEnd(keys []colsort.Key, start, n int) int {
	end := start + 1
	for end < n && colsort.Compare(keys, start, end) == 0 {
		end++
	}
	return end
}

func anyNull(cols []*types.Column, row int) bool {
	for _, c := range cols {
		if c.IsNull(row) {
			return true
		}
	}
	return false
}
