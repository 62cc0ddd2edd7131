// Package sort 多键稳定排序：分区并行排序后按分区顺序做 k 路归并
package sort

import (
	"container/heap"
	"context"
	"fmt"
	"slices"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/kasuganosora/colexec/pkg/workerpool"
)

// Key 一个排序键列
type Key struct {
	Column     *types.Column
	Descending bool
	NullsLast  bool
}

// Options 排序参数
type Options struct {
	Pool       *workerpool.Pool
	Partitions int
	MinRows    int // 每个分区的最少行数
}

// ResolveKeys 在 chunk 中查找排序列
func ResolveKeys(chunk *types.Chunk, keys []plan.SortKey) ([]Key, error) {
	out := make([]Key, len(keys))
	for i, k := range keys {
		col, ok := chunk.ColumnByName(k.Column)
		if !ok {
			return nil, fmt.Errorf("sort column %q not found in %s", k.Column, chunk.Schema())
		}
		out[i] = Key{Column: col, Descending: k.Descending, NullsLast: k.NullsLast}
	}
	return out, nil
}

// Ascending 升序、空值在后的排序键，归并连接使用
func Ascending(cols ...*types.Column) []Key {
	out := make([]Key, len(cols))
	for i, c := range cols {
		out[i] = Key{Column: c, NullsLast: true}
	}
	return out
}

// Compare 比较第 i 行与第 j 行
func Compare(keys []Key, i, j int) int {
	for _, k := range keys {
		if c := compareKey(k, i, k.Column, j); c != 0 {
			return c
		}
	}
	return 0
}

// CompareAcross 比较 a 的第 i 行与 b 的第 j 行，两组键一一对应且类型相同
func CompareAcross(a []Key, i int, b []Key, j int) int {
	for n, k := range a {
		if c := compareKey(k, i, b[n].Column, j); c != 0 {
			return c
		}
	}
	return 0
}

func compareKey(k Key, i int, other *types.Column, j int) int {
	ln, rn := k.Column.IsNull(i), other.IsNull(j)
	switch {
	case ln && rn:
		return 0
	case ln || rn:
		c := -1
		if ln == k.NullsLast {
			c = 1
		}
		return c
	}
	c := k.Column.Compare(i, other, j)
	if k.Descending {
		c = -c
	}
	return c
}

// IsSorted 前 n 行是否按 keys 非降序排列
func IsSorted(keys []Key, n int) bool {
	return FirstUnsorted(keys, n) < 0
}

// FirstUnsorted 第一个小于前一行的行号，有序时返回 -1
func FirstUnsorted(keys []Key, n int) int {
	for i := 1; i < n; i++ {
		if Compare(keys, i-1, i) > 0 {
			return i
		}
	}
	return -1
}

// ArgSort 返回稳定排序后的行号
func ArgSort(ctx context.Context, keys []Key, n int, opts Options) ([]int, error) {
	if n == 0 {
		return []int{}, nil
	}
	ranges := parallel.DivideRange(n, max(opts.Partitions, 1), max(opts.MinRows, 1))
	runs, err := parallel.ScanRanges(ctx, opts.Pool, ranges, func(ctx context.Context, r parallel.Range) ([]int, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := make([]int, r.Len())
		for i := range idx {
			idx[i] = r.Start + i
		}
		slices.SortStableFunc(idx, func(a, b int) int { return Compare(keys, a, b) })
		return idx, nil
	})
	if err != nil {
		return nil, execerr.FromTask(err)
	}
	if len(runs) == 1 {
		return runs[0], nil
	}
	return mergeRuns(ctx, keys, runs, n)
}

// mergeRuns k 路归并，相等时分区号小的在前以保持稳定
func mergeRuns(ctx context.Context, keys []Key, runs [][]int, n int) ([]int, error) {
	h := &runHeap{keys: keys}
	for p, run := range runs {
		if len(run) > 0 {
			h.items = append(h.items, cursor{run: run, part: p})
		}
	}
	heap.Init(h)

	out := make([]int, 0, n)
	for h.Len() > 0 {
		if len(out)&0xFFFF == 0 {
			if err := ctx.Err(); err != nil {
				return nil, execerr.Cancelled(err)
			}
		}
		top := &h.items[0]
		out = append(out, top.run[top.pos])
		top.pos++
		if top.pos == len(top.run) {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}
	return out, nil
}

type cursor struct {
	run  []int
	pos  int
	part int
}

type runHeap struct {
	keys  []Key
	items []cursor
}

func (h *runHeap) Len() int { return len(h.items) }

func (h *runHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if c := Compare(h.keys, a.run[a.pos], b.run[b.pos]); c != 0 {
		return c < 0
	}
	return a.part < b.part
}

func (h *runHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *runHeap) Push(x any) { h.items = append(h.items, x.(cursor)) }

func (h *runHeap) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}

// Chunk 按 cfg 排序整个 chunk，Limit 截取前若干行
func Chunk(ctx context.Context, chunk *types.Chunk, cfg *plan.SortConfig, opts Options) (*types.Chunk, error) {
	keys, err := ResolveKeys(chunk, cfg.Keys)
	if err != nil {
		return nil, execerr.New(execerr.CodeSchemaMismatch, err.Error(), nil)
	}
	idx, err := ArgSort(ctx, keys, chunk.NumRows(), opts)
	if err != nil {
		return nil, err
	}
	if cfg.Limit != nil && *cfg.Limit < len(idx) {
		idx = idx[:*cfg.Limit]
	}
	return chunk.Take(idx), nil
}
