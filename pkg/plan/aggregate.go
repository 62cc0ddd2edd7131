package plan

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/colexec/pkg/expr"
)

// AggSpec 聚合项：对源列做归约，输出为 Name
type AggSpec struct {
	Column   string       `json:"column,omitempty"`
	Function expr.AggFunc `json:"function"`
	Name     string       `json:"name"`
	Expr     *expr.Expr   `json:"expr,omitempty"` // Function 为 expr 时每组求值，结果须为单行
}

// String 形如 sum(x) as total
func (a AggSpec) String() string {
	if a.Function == expr.AggExpr {
		return fmt.Sprintf("%s as %s", a.Expr, a.Name)
	}
	return fmt.Sprintf("%s(%s) as %s", a.Function, a.Column, a.Name)
}

// ClosedWindow 窗口边界闭合方式
type ClosedWindow string

const (
	ClosedLeft  ClosedWindow = "left"
	ClosedRight ClosedWindow = "right"
	ClosedBoth  ClosedWindow = "both"
	ClosedNone  ClosedWindow = "none"
)

// Contains 判断 t 是否落在 [start, end] 按闭合方式确定的区间内
func (c ClosedWindow) Contains(start, end, t int64) bool {
	switch c {
	case ClosedLeft:
		return t >= start && t < end
	case ClosedRight:
		return t > start && t <= end
	case ClosedBoth:
		return t >= start && t <= end
	default:
		return t > start && t < end
	}
}

// WindowLabel 时间列输出的取值
type WindowLabel string

const (
	LabelLeft      WindowLabel = "left"
	LabelRight     WindowLabel = "right"
	LabelDataPoint WindowLabel = "datapoint" // 窗口内第一行的时间
)

// WindowConfig 动态分组窗口，时长均已换算为时间列的物理单位
type WindowConfig struct {
	TimeColumn        string       `json:"time_column"`
	Every             int64        `json:"every"`
	Period            int64        `json:"period"`
	Offset            int64        `json:"offset"`
	Closed            ClosedWindow `json:"closed"`
	Label             WindowLabel  `json:"label"`
	EmitEmpty         bool         `json:"emit_empty"`
	IncludeBoundaries bool         `json:"include_boundaries"`
}

const (
	LowerBoundaryColumn = "_lower_boundary"
	UpperBoundaryColumn = "_upper_boundary"
)

// GroupByConfig 分组配置，Window 非空时为动态分组
type GroupByConfig struct {
	Keys      []string      `json:"keys"`
	Aggs      []AggSpec     `json:"aggs"`
	SortByKey bool          `json:"sort_by_key,omitempty"`
	Window    *WindowConfig `json:"window,omitempty"`
}

// Describe 单行描述
func (c *GroupByConfig) Describe() string {
	aggs := make([]string, len(c.Aggs))
	for i, a := range c.Aggs {
		aggs[i] = a.String()
	}
	s := "keys=[" + strings.Join(c.Keys, ",") + "] aggs=[" + strings.Join(aggs, ", ") + "]"
	if w := c.Window; w != nil {
		s += fmt.Sprintf(" window(%s every=%d period=%d offset=%d closed=%s)",
			w.TimeColumn, w.Every, w.Period, w.Offset, w.Closed)
	}
	return s
}

// SortKey 排序键
type SortKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
	NullsLast  bool   `json:"nulls_last,omitempty"`
}

// SortConfig 排序配置
type SortConfig struct {
	Keys  []SortKey `json:"keys"`
	Limit *int      `json:"limit,omitempty"`
}

// Describe 单行描述
func (c *SortConfig) Describe() string {
	parts := make([]string, len(c.Keys))
	for i, k := range c.Keys {
		dir := "asc"
		if k.Descending {
			dir = "desc"
		}
		nulls := "first"
		if k.NullsLast {
			nulls = "last"
		}
		parts[i] = fmt.Sprintf("%s %s nulls %s", k.Column, dir, nulls)
	}
	s := "by=[" + strings.Join(parts, ", ") + "]"
	if c.Limit != nil {
		s += fmt.Sprintf(" limit=%d", *c.Limit)
	}
	return s
}
