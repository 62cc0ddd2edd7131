package logical

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

// Node 优化后的逻辑计划节点，编译器的输入
// Schema 为声明的输出 Schema，可省略；给出时必须与推导结果一致
type Node struct {
	ID          string             `json:"id,omitempty"`
	Type        plan.PlanType      `json:"type"`
	Schema      *types.Schema      `json:"schema,omitempty"`
	SortedBy    []string           `json:"sorted_by,omitempty"` // 声明输出已按这些列升序（空值在后）
	Inputs      []*Node            `json:"inputs,omitempty"`
	Scan        *plan.ScanConfig   `json:"scan,omitempty"`
	FilterSpec  *plan.FilterConfig `json:"filter,omitempty"`
	SelectSpec  *plan.SelectConfig `json:"select,omitempty"`
	JoinSpec    *JoinSpec          `json:"join,omitempty"`
	GroupBySpec *GroupBySpec       `json:"group_by,omitempty"`
	SortSpec    *plan.SortConfig   `json:"sort,omitempty"`
	SinkSpec    *plan.SinkConfig   `json:"sink,omitempty"`
}

// JoinSpec 逻辑连接
type JoinSpec struct {
	How          plan.JoinType       `json:"how"`
	LeftOn       []string            `json:"left_on,omitempty"`
	RightOn      []string            `json:"right_on,omitempty"`
	Algorithm    plan.JoinAlgorithm  `json:"algorithm,omitempty"` // 算法提示，优先于全局配置
	BuildSide    plan.Side           `json:"build_side,omitempty"`
	Suffix       string              `json:"suffix,omitempty"`
	Coalesce     *bool               `json:"coalesce,omitempty"`
	NullsEqual   *bool               `json:"nulls_equal,omitempty"`
	Validate     plan.JoinValidation `json:"validate,omitempty"`
	AssumeSorted bool                `json:"assume_sorted,omitempty"`
	Asof         *AsofSpec           `json:"asof,omitempty"`
}

// AsofSpec 逻辑 as-of 参数，Tolerance 为时长字符串或整数
type AsofSpec struct {
	Strategy          string   `json:"strategy,omitempty"`
	LeftBy            []string `json:"left_by,omitempty"`
	RightBy           []string `json:"right_by,omitempty"`
	Tolerance         string   `json:"tolerance,omitempty"`
	AllowExactMatches *bool    `json:"allow_exact_matches,omitempty"`
}

// GroupBySpec 逻辑分组
type GroupBySpec struct {
	Keys      []string       `json:"keys,omitempty"`
	Aggs      []plan.AggSpec `json:"aggs"`
	SortByKey bool           `json:"sort_by_key,omitempty"`
	Window    *WindowSpec    `json:"window,omitempty"`
}

// WindowSpec 逻辑窗口，时长为字符串（"1h"、"30m"、"2i"）
type WindowSpec struct {
	TimeColumn        string `json:"time_column"`
	Every             string `json:"every"`
	Period            string `json:"period,omitempty"` // 默认等于 Every
	Offset            string `json:"offset,omitempty"`
	Closed            string `json:"closed,omitempty"`
	Label             string `json:"label,omitempty"`
	EmitEmpty         *bool  `json:"emit_empty,omitempty"`
	IncludeBoundaries *bool  `json:"include_boundaries,omitempty"`
}

// Scan 创建扫描节点
func Scan(source string, schema *types.Schema) *Node {
	return &Node{Type: plan.TypeScan, Schema: schema, Scan: &plan.ScanConfig{Source: source}}
}

// ScanWith 创建带扩展参数的扫描节点
func ScanWith(cfg plan.ScanConfig, schema *types.Schema) *Node {
	return &Node{Type: plan.TypeScan, Schema: schema, Scan: &cfg}
}

// Filter 过滤
func (n *Node) Filter(predicate *expr.Expr) *Node {
	return &Node{Type: plan.TypeFilter, Inputs: []*Node{n}, FilterSpec: &plan.FilterConfig{Predicate: predicate}}
}

// Select 投影
func (n *Node) Select(exprs ...*expr.Expr) *Node {
	return &Node{Type: plan.TypeSelect, Inputs: []*Node{n}, SelectSpec: &plan.SelectConfig{Exprs: exprs}}
}

// WithColumns 追加或替换列
func (n *Node) WithColumns(exprs ...*expr.Expr) *Node {
	return &Node{Type: plan.TypeSelect, Inputs: []*Node{n}, SelectSpec: &plan.SelectConfig{Exprs: exprs, WithColumns: true}}
}

// Join 与 right 连接，n 为左侧
func (n *Node) Join(right *Node, spec JoinSpec) *Node {
	return &Node{Type: plan.TypeJoin, Inputs: []*Node{n, right}, JoinSpec: &spec}
}

// GroupBy 分组聚合
func (n *Node) GroupBy(spec GroupBySpec) *Node {
	return &Node{Type: plan.TypeGroupBy, Inputs: []*Node{n}, GroupBySpec: &spec}
}

// Sort 排序
func (n *Node) Sort(keys ...plan.SortKey) *Node {
	return &Node{Type: plan.TypeSort, Inputs: []*Node{n}, SortSpec: &plan.SortConfig{Keys: keys}}
}

// Sink 输出到已注册的 sink
func (n *Node) Sink(name string) *Node {
	return &Node{Type: plan.TypeSink, Inputs: []*Node{n}, SinkSpec: &plan.SinkConfig{Sink: name}}
}

// Sorted 声明输出有序
func (n *Node) Sorted(columns ...string) *Node {
	n.SortedBy = columns
	return n
}

// Declare 声明输出 Schema
func (n *Node) Declare(schema *types.Schema) *Node {
	n.Schema = schema
	return n
}

// Decode 从 JSON 解码逻辑计划，数字字面量保留为 json.Number
func Decode(r io.Reader) (*Node, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var n Node
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("decode logical plan: %w", err)
	}
	return &n, nil
}

// DecodeFile 从文件解码逻辑计划
func DecodeFile(path string) (*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
