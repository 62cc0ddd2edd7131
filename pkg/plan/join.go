package plan

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/colexec/pkg/types"
)

// JoinType 连接类型
type JoinType string

const (
	InnerJoin JoinType = "inner"
	LeftJoin  JoinType = "left"
	RightJoin JoinType = "right"
	FullJoin  JoinType = "full"
	SemiJoin  JoinType = "semi"
	AntiJoin  JoinType = "anti"
	CrossJoin JoinType = "cross"
)

// JoinAlgorithm 连接算法
type JoinAlgorithm string

const (
	AlgorithmHash  JoinAlgorithm = "hash"
	AlgorithmMerge JoinAlgorithm = "merge"
	AlgorithmAsof  JoinAlgorithm = "asof"
)

// Side 连接的一侧
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// AsofStrategy as-of 方向
type AsofStrategy string

const (
	AsofBackward AsofStrategy = "backward"
	AsofForward  AsofStrategy = "forward"
	AsofNearest  AsofStrategy = "nearest"
)

// Valid 是否为已知方向
func (s AsofStrategy) Valid() bool {
	return s == AsofBackward || s == AsofForward || s == AsofNearest
}

// JoinValidation 键唯一性校验
type JoinValidation string

const (
	ValidateManyToMany JoinValidation = "m:m"
	ValidateOneToOne   JoinValidation = "1:1"
	ValidateOneToMany  JoinValidation = "1:m"
	ValidateManyToOne  JoinValidation = "m:1"
)

// KeyCast 连接键的类型提升
type KeyCast struct {
	Side   Side           `json:"side"`
	Column string         `json:"column"`
	To     types.DataType `json:"to"`
}

// AsofConfig as-of 连接参数，LeftOn/RightOn 只有一个键
type AsofConfig struct {
	Strategy          AsofStrategy `json:"strategy"`
	LeftBy            []string     `json:"left_by,omitempty"`
	RightBy           []string     `json:"right_by,omitempty"`
	Tolerance         *int64       `json:"tolerance,omitempty"` // 以键的物理单位表示
	AllowExactMatches bool         `json:"allow_exact_matches"`
}

// JoinConfig 连接配置
type JoinConfig struct {
	Type         JoinType       `json:"type"`
	Algorithm    JoinAlgorithm  `json:"algorithm"`
	LeftOn       []string       `json:"left_on"`
	RightOn      []string       `json:"right_on"`
	KeyCasts     []KeyCast      `json:"key_casts,omitempty"`
	BuildSide    Side           `json:"build_side,omitempty"` // 仅哈希连接
	Suffix       string         `json:"suffix"`
	Coalesce     bool           `json:"coalesce"`
	NullsEqual   bool           `json:"nulls_equal"`
	Validate     JoinValidation `json:"validate,omitempty"`
	AssumeSorted bool           `json:"assume_sorted,omitempty"` // 仅归并连接：跳过有序校验
	Asof         *AsofConfig    `json:"asof,omitempty"`
}

// Describe 单行描述
func (c *JoinConfig) Describe() string {
	s := fmt.Sprintf("%s %s on [%s]=[%s]", c.Algorithm, c.Type,
		strings.Join(c.LeftOn, ","), strings.Join(c.RightOn, ","))
	if c.BuildSide != "" {
		s += " build=" + string(c.BuildSide)
	}
	if c.Asof != nil {
		s += " strategy=" + string(c.Asof.Strategy)
		if len(c.Asof.LeftBy) > 0 {
			s += " by=[" + strings.Join(c.Asof.LeftBy, ",") + "]"
		}
		if c.Asof.Tolerance != nil {
			s += fmt.Sprintf(" tolerance=%d", *c.Asof.Tolerance)
		}
	}
	for _, kc := range c.KeyCasts {
		s += fmt.Sprintf(" cast(%s.%s->%s)", kc.Side, kc.Column, kc.To)
	}
	return s
}

// OutputsRight 输出是否包含右侧列
func (t JoinType) OutputsRight() bool {
	return t != SemiJoin && t != AntiJoin
}

// JoinOutputSchema 连接输出：左侧列，然后右侧列（重名加后缀，合并时去掉右侧键）
func JoinOutputSchema(ls, rs *types.Schema, cfg *JoinConfig) (*types.Schema, error) {
	if !cfg.Type.OutputsRight() {
		return ls, nil
	}
	fields := ls.Fields()
	dropped := RightDroppedColumns(cfg)
	for _, f := range rs.Fields() {
		if dropped[f.Name] {
			continue
		}
		if _, clash := ls.Index(f.Name); clash {
			f.Name += cfg.Suffix
		}
		fields = append(fields, f)
	}
	return types.NewSchema(fields...)
}

// RightDroppedColumns 合并后不输出的右侧键列
func RightDroppedColumns(cfg *JoinConfig) map[string]bool {
	dropped := map[string]bool{}
	if cfg.Asof != nil {
		for _, k := range cfg.Asof.RightBy {
			dropped[k] = true
		}
		return dropped
	}
	if cfg.Coalesce {
		for _, k := range cfg.RightOn {
			dropped[k] = true
		}
	}
	return dropped
}

// RightOutputName 右侧列在输出中的名称
func RightOutputName(ls *types.Schema, name, suffix string) string {
	if _, clash := ls.Index(name); clash {
		return name + suffix
	}
	return name
}
