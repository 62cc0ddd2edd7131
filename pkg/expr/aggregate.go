package expr

import (
	"strings"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/types"
)

// AggFunc 归约函数
type AggFunc string

const (
	AggSum     AggFunc = "sum"
	AggMean    AggFunc = "mean"
	AggMin     AggFunc = "min"
	AggMax     AggFunc = "max"
	AggCount   AggFunc = "count" // 非空值个数
	AggLen     AggFunc = "len"   // 行数（含空值）
	AggFirst   AggFunc = "first"
	AggLast    AggFunc = "last"
	AggNUnique AggFunc = "n_unique"
	AggExpr    AggFunc = "expr" // 每组独立求值的外部表达式
)

// ParseAggFunc 解析函数名
func ParseAggFunc(s string) (AggFunc, bool) {
	fn := AggFunc(strings.ToLower(strings.TrimSpace(s)))
	switch fn {
	case AggSum, AggMean, AggMin, AggMax, AggCount, AggLen, AggFirst, AggLast, AggNUnique, AggExpr:
		return fn, true
	case "avg":
		return AggMean, true
	case "distinct_count", "count_distinct":
		return AggNUnique, true
	}
	return "", false
}

// AggOutputType 归约结果类型，输入类型不支持时返回 UnsupportedAggregationType
func AggOutputType(fn AggFunc, in types.DataType) (types.DataType, error) {
	switch fn {
	case AggCount, AggLen, AggNUnique:
		return types.Int64Type, nil
	case AggFirst, AggLast:
		return in, nil
	case AggMin, AggMax:
		return in, nil
	case AggSum:
		switch in.ID {
		case types.Boolean, types.Int32, types.Int64:
			return types.Int64Type, nil
		case types.Float64:
			return types.Float64Type, nil
		}
	case AggMean:
		if in.IsNumeric() || in.ID == types.Boolean {
			return types.Float64Type, nil
		}
	default:
		return types.DataType{}, execerr.Newf(execerr.CodeUnsupportedAggregation, "unknown aggregation function %q", fn)
	}
	return types.DataType{}, execerr.Newf(execerr.CodeUnsupportedAggregation, "%s is not supported for %s", fn, in)
}

// Reduce 对 col 的 rows 行做归约，返回 nil 表示空值
// 组内有行但没有非空值时 sum 返回 0，mean/min/max 返回空值
func Reduce(fn AggFunc, col *types.Column, rows []int) interface{} {
	switch fn {
	case AggLen:
		return int64(len(rows))
	case AggCount:
		n := int64(0)
		for _, r := range rows {
			if !col.IsNull(r) {
				n++
			}
		}
		return n
	case AggFirst:
		if len(rows) == 0 {
			return nil
		}
		return col.Value(rows[0])
	case AggLast:
		if len(rows) == 0 {
			return nil
		}
		return col.Value(rows[len(rows)-1])
	case AggNUnique:
		seen := make(map[interface{}]struct{}, len(rows))
		for _, r := range rows {
			seen[col.Value(r)] = struct{}{}
		}
		return int64(len(seen))
	case AggSum:
		if len(rows) == 0 {
			return nil
		}
		return sum(col, rows)
	case AggMean:
		total, n := 0.0, 0
		for _, r := range rows {
			if col.IsNull(r) {
				continue
			}
			total += numericAt(col, r)
			n++
		}
		if n == 0 {
			return nil
		}
		return total / float64(n)
	case AggMin, AggMax:
		best := -1
		for _, r := range rows {
			if col.IsNull(r) {
				continue
			}
			if best < 0 {
				best = r
				continue
			}
			c := col.Compare(r, col, best)
			if (fn == AggMin && c < 0) || (fn == AggMax && c > 0) {
				best = r
			}
		}
		if best < 0 {
			return nil
		}
		return col.Value(best)
	}
	return nil
}

func sum(col *types.Column, rows []int) interface{} {
	switch col.Type().ID {
	case types.Float64:
		total := 0.0
		vals := col.Float64s()
		for _, r := range rows {
			if !col.IsNull(r) {
				total += vals[r]
			}
		}
		return total
	case types.Boolean:
		total := int64(0)
		vals := col.Bools()
		for _, r := range rows {
			if !col.IsNull(r) && vals[r] {
				total++
			}
		}
		return total
	default:
		total := int64(0)
		for _, r := range rows {
			if !col.IsNull(r) {
				total += col.Int64At(r)
			}
		}
		return total
	}
}

func numericAt(col *types.Column, r int) float64 {
	if col.Type().ID == types.Boolean {
		if col.Bools()[r] {
			return 1
		}
		return 0
	}
	return col.Float64At(r)
}

// AllRows 返回 [0, n) 的下标
func AllRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}
