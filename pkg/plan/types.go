package plan

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/colexec/pkg/types"
)

// PlanType 物理算子类型
type PlanType string

const (
	TypeScan    PlanType = "Scan"
	TypeFilter  PlanType = "Filter"
	TypeSelect  PlanType = "Select"
	TypeJoin    PlanType = "Join"
	TypeGroupBy PlanType = "GroupBy"
	TypeSort    PlanType = "Sort"
	TypeSink    PlanType = "Sink"
)

// Plan 编译后的物理计划节点，执行期间只读
type Plan struct {
	ID            string
	Type          PlanType
	OutputSchema  *types.Schema
	Children      []*Plan
	Config        interface{}
	EstimatedCost float64
}

// Explain 返回计划的说明
func (p *Plan) Explain() string {
	return fmt.Sprintf("%s[%s]", p.Type, p.ID)
}

// Cost 返回计划的成本
func (p *Plan) Cost() float64 {
	return p.EstimatedCost
}

// Describer 配置的单行描述
type Describer interface {
	Describe() string
}

// Tree 以缩进树形式输出整棵计划
func (p *Plan) Tree() string {
	var sb strings.Builder
	p.writeTree(&sb, 0)
	return sb.String()
}

func (p *Plan) writeTree(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(p.Explain())
	if d, ok := p.Config.(Describer); ok {
		sb.WriteString(" ")
		sb.WriteString(d.Describe())
	}
	sb.WriteString(" -> ")
	sb.WriteString(p.OutputSchema.String())
	sb.WriteString("\n")
	for _, child := range p.Children {
		child.writeTree(sb, depth+1)
	}
}

// Walk 先序遍历，fn 返回 false 时停止进入子树
func (p *Plan) Walk(fn func(*Plan) bool) {
	if !fn(p) {
		return
	}
	for _, child := range p.Children {
		child.Walk(fn)
	}
}

// Depth 树高
func (p *Plan) Depth() int {
	deepest := 0
	for _, child := range p.Children {
		if d := child.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}
