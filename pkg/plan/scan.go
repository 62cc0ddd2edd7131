package plan

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/types"
)

// MissingColumnsPolicy 源缺少声明列时的处理方式
type MissingColumnsPolicy string

const (
	MissingRaise  MissingColumnsPolicy = "raise"
	MissingInsert MissingColumnsPolicy = "insert" // 以全空列补齐
)

// ExtraColumnsPolicy 源多出未声明列时的处理方式
type ExtraColumnsPolicy string

const (
	ExtraIgnore ExtraColumnsPolicy = "ignore"
	ExtraRaise  ExtraColumnsPolicy = "raise"
)

// RowIndex 行号列
type RowIndex struct {
	Name   string `json:"name"`
	Offset int64  `json:"offset"`
}

// Slice 读取前的行切片
type Slice struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// ScanConfig 扫描配置
type ScanConfig struct {
	Source         string               `json:"source"`
	SourceSchema   *types.Schema        `json:"source_schema,omitempty"` // 源的完整 Schema，编译期补齐
	Projection     []string             `json:"projection,omitempty"`
	Predicate      *expr.Expr           `json:"predicate,omitempty"` // 下推提示，扫描后仍会重新过滤
	RowIndex       *RowIndex            `json:"row_index,omitempty"`
	PreSlice       *Slice               `json:"pre_slice,omitempty"`
	FilePathColumn string               `json:"include_file_paths,omitempty"`
	MissingColumns MissingColumnsPolicy `json:"missing_columns,omitempty"`
	ExtraColumns   ExtraColumnsPolicy   `json:"extra_columns,omitempty"`
}

// Describe 单行描述
func (c *ScanConfig) Describe() string {
	parts := []string{"source=" + c.Source}
	if len(c.Projection) > 0 {
		parts = append(parts, "projection=["+strings.Join(c.Projection, ",")+"]")
	}
	if c.Predicate != nil {
		parts = append(parts, "predicate="+c.Predicate.String())
	}
	if c.PreSlice != nil {
		parts = append(parts, fmt.Sprintf("slice=%d:%d", c.PreSlice.Offset, c.PreSlice.Length))
	}
	if c.RowIndex != nil {
		parts = append(parts, "row_index="+c.RowIndex.Name)
	}
	return strings.Join(parts, " ")
}

// FilterConfig 过滤配置
type FilterConfig struct {
	Predicate *expr.Expr `json:"predicate"`
}

// Describe 单行描述
func (c *FilterConfig) Describe() string {
	return "predicate=" + c.Predicate.String()
}

// SelectConfig 投影配置
type SelectConfig struct {
	Exprs       []*expr.Expr `json:"exprs"`
	WithColumns bool         `json:"with_columns,omitempty"` // 保留已有列，追加或替换
}

// Describe 单行描述
func (c *SelectConfig) Describe() string {
	parts := make([]string, len(c.Exprs))
	for i, e := range c.Exprs {
		parts[i] = e.String()
	}
	prefix := "exprs="
	if c.WithColumns {
		prefix = "with_columns="
	}
	return prefix + "[" + strings.Join(parts, ", ") + "]"
}

// SinkConfig 输出配置
type SinkConfig struct {
	Sink string `json:"sink"`
}

// Describe 单行描述
func (c *SinkConfig) Describe() string {
	return "sink=" + c.Sink
}
