package groupby

import (
	"context"
	"sort"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

// window 一个时间窗口及其包含的行
type window struct {
	group int
	start int64
	end   int64
	label int64
	rows  []int
}

func executeDynamic(ctx context.Context, chunk *types.Chunk, keyCols []*types.Column, cfg *plan.GroupByConfig, out *types.Schema, opts Options) (*types.Chunk, error) {
	w := cfg.Window
	tc, ok := chunk.ColumnByName(w.TimeColumn)
	if !ok {
		return nil, execerr.Newf(execerr.CodeSchemaMismatch, "time column %q not found in %s", w.TimeColumn, chunk.Schema())
	}
	if !tc.Type().IsIntegerBacked() {
		return nil, execerr.Newf(execerr.CodeInvalidPlan, "time column %q must be integer or temporal, got %s", w.TimeColumn, tc.Type())
	}
	if w.Every <= 0 || w.Period <= 0 {
		return nil, execerr.Newf(execerr.CodeInvalidPlan, "window every=%d period=%d must be positive", w.Every, w.Period)
	}

	groups, err := groupRows(ctx, keyCols, chunk.NumRows(), opts)
	if err != nil {
		return nil, err
	}
	ranges := parallel.DivideRange(len(groups), opts.partitions(), 1)
	parts, err := parallel.ScanRanges(ctx, opts.Pool, ranges, func(ctx context.Context, r parallel.Range) ([]window, error) {
		var wins []window
		for gi := r.Start; gi < r.End; gi++ {
			got, err := windowsFor(ctx, tc, groups[gi].rows, w, gi)
			if err != nil {
				return nil, err
			}
			wins = append(wins, got...)
		}
		return wins, nil
	})
	if err != nil {
		return nil, err
	}

	var wins []window
	for _, p := range parts {
		wins = append(wins, p...)
	}

	keyRows := make([]int, len(wins))
	sets := make([][]int, len(wins))
	labels := types.NewBuilder(tc.Type(), len(wins))
	lower := types.NewBuilder(tc.Type(), len(wins))
	upper := types.NewBuilder(tc.Type(), len(wins))
	for i, win := range wins {
		keyRows[i] = groups[win.group].first()
		sets[i] = win.rows
		if err := labels.Append(win.label); err != nil {
			return nil, execerr.New(execerr.CodeSchemaMismatch, "window label", err)
		}
		if w.IncludeBoundaries {
			if err := lower.Append(win.start); err != nil {
				return nil, execerr.New(execerr.CodeSchemaMismatch, "window lower boundary", err)
			}
			if err := upper.Append(win.end); err != nil {
				return nil, execerr.New(execerr.CodeSchemaMismatch, "window upper boundary", err)
			}
		}
	}

	cols := make([]*types.Column, 0, out.Len())
	for _, kc := range keyCols {
		cols = append(cols, kc.Take(keyRows))
	}
	cols = append(cols, labels.Finish(tc.Name()))
	if w.IncludeBoundaries {
		cols = append(cols, lower.Finish(plan.LowerBoundaryColumn), upper.Finish(plan.UpperBoundaryColumn))
	}
	if len(cols) > out.Len() {
		return nil, execerr.Newf(execerr.CodeSchemaMismatch, "dynamic group by produces %d leading columns, schema %s", len(cols), out)
	}

	aggs, err := aggregate(ctx, chunk, sets, cfg.Aggs, out.Fields()[len(cols):], opts)
	if err != nil {
		return nil, err
	}
	return types.NewChunk(append(cols, aggs...)...)
}

// windowsFor 为一个分组生成窗口，组内时间必须单调不减，空值时间的行不进入任何窗口
func windowsFor(ctx context.Context, tc *types.Column, rows []int, w *plan.WindowConfig, gi int) ([]window, error) {
	ts := make([]int64, 0, len(rows))
	idx := make([]int, 0, len(rows))
	for _, r := range rows {
		if tc.IsNull(r) {
			continue
		}
		t := tc.Int64At(r)
		if n := len(ts); n > 0 && t < ts[n-1] {
			return nil, execerr.Newf(execerr.CodeNonMonotonicTimeColumn,
				"time column %q decreases at row %d (%d after %d)", tc.Name(), r, t, ts[n-1])
		}
		ts = append(ts, t)
		idx = append(idx, r)
	}
	if len(ts) == 0 {
		return nil, nil
	}

	tmax := ts[len(ts)-1]
	var out []window
	for start, steps := firstStart(ts[0], w), 0; startsBefore(start, tmax, w.Closed); start += w.Every {
		if steps++; steps&0x3FF == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		end := start + w.Period
		lo, hi := bounds(ts, start, end, w.Closed)
		if lo >= hi && !w.EmitEmpty {
			continue
		}
		win := window{group: gi, start: start, end: end, rows: idx[lo:hi]}
		switch w.Label {
		case plan.LabelRight:
			win.label = end
		case plan.LabelDataPoint:
			win.label = start
			if lo < hi {
				win.label = ts[lo]
			}
		default:
			win.label = start
		}
		out = append(out, win)
	}
	return out, nil
}

// firstStart 第一个窗口的起点：按 every 对齐后加 offset，再回退到仍覆盖 tmin 的最早窗口
func firstStart(tmin int64, w *plan.WindowConfig) int64 {
	start := floorDiv(tmin, w.Every)*w.Every + w.Offset
	for start > tmin {
		start -= w.Every
	}
	for w.Closed.Contains(start-w.Every, start-w.Every+w.Period, tmin) {
		start -= w.Every
	}
	return start
}

func startsBefore(start, tmax int64, closed plan.ClosedWindow) bool {
	if start < tmax {
		return true
	}
	return start == tmax && (closed == plan.ClosedLeft || closed == plan.ClosedBoth)
}

// bounds 返回有序时间 ts 中落在窗口内的下标区间 [lo, hi)
func bounds(ts []int64, start, end int64, closed plan.ClosedWindow) (int, int) {
	var lo, hi int
	if closed == plan.ClosedLeft || closed == plan.ClosedBoth {
		lo = sort.Search(len(ts), func(i int) bool { return ts[i] >= start })
	} else {
		lo = sort.Search(len(ts), func(i int) bool { return ts[i] > start })
	}
	if closed == plan.ClosedRight || closed == plan.ClosedBoth {
		hi = sort.Search(len(ts), func(i int) bool { return ts[i] > end })
	} else {
		hi = sort.Search(len(ts), func(i int) bool { return ts[i] >= end })
	}
	return lo, max(lo, hi)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
