package hashkey

import (
	"context"

	"github.com/kasuganosora/colexec/pkg/executor/parallel"
	"github.com/kasuganosora/colexec/pkg/workerpool"
)

// Partitions 按 minRows 限制后的分区数，至少为 1
func Partitions(n, parts, minRows int) int {
	return max(len(parallel.DivideRange(n, parts, minRows)), 1)
}

// Scatter 遍历一次所有行，按哈希高位把行号分到 parts 个分区
// 各区间并行扫描，结果按区间顺序拼接，所以每个分区内的行号升序
// keep 非空时只保留 keep 返回 true 的行
func (k *Keys) Scatter(ctx context.Context, pool *workerpool.Pool, parts, minRows int, keep func(i int) bool) ([][]int, error) {
	parts = max(parts, 1)
	ranges := parallel.DivideRange(k.rows, parts, minRows)
	local, err := parallel.ScanRanges(ctx, pool, ranges, func(ctx context.Context, r parallel.Range) ([][]int, error) {
		out := make([][]int, parts)
		for i := r.Start; i < r.End; i++ {
			if (i-r.Start)&0xFFF == 0xFFF {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if keep != nil && !keep(i) {
				continue
			}
			p := Partition(k.hashes[i], parts)
			out[p] = append(out[p], i)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([][]int, parts)
	for p := range out {
		n := 0
		for _, l := range local {
			n += len(l[p])
		}
		if n == 0 {
			continue
		}
		out[p] = make([]int, 0, n)
		for _, l := range local {
			out[p] = append(out[p], l[p]...)
		}
	}
	return out, nil
}
