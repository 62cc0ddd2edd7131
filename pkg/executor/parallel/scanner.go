package parallel

import (
	"context"
	"fmt"

	"github.com/kasuganosora/colexec/pkg/workerpool"
)

// Range 行区间 [Start, End)
type Range struct {
	Start int
	End   int
}

// Len 区间行数
func (r Range) Len() int {
	return r.End - r.Start
}

// String 形如 [0,128)
func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// DivideRange 把 n 行划分为至多 parts 个连续区间，每个区间至少 minRows 行
// 余数分摊到前面的区间
func DivideRange(n, parts, minRows int) []Range {
	if n <= 0 {
		return nil
	}
	if minRows < 1 {
		minRows = 1
	}
	if parts < 1 {
		parts = 1
	}
	if maxParts := (n + minRows - 1) / minRows; parts > maxParts {
		parts = maxParts
	}

	ranges := make([]Range, parts)
	per, rem := n/parts, n%parts
	start := 0
	for i := range ranges {
		size := per
		if i < rem {
			size++
		}
		ranges[i] = Range{Start: start, End: start + size}
		start += size
	}
	return ranges
}

// ScanRanges 并行处理各区间，结果按区间顺序返回
func ScanRanges[T any](ctx context.Context, pool *workerpool.Pool, ranges []Range,
	fn func(ctx context.Context, r Range) (T, error)) ([]T, error) {
	return Map(ctx, pool, len(ranges), func(ctx context.Context, i int) (T, error) {
		return fn(ctx, ranges[i])
	})
}
