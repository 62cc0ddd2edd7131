package plan

import (
	"strings"
	"testing"

	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestPlanExplain(t *testing.T) {
	tests := []struct {
		name     string
		planType PlanType
		id       string
		want     string
	}{
		{"Scan plan", TypeScan, "scan_001", "Scan[scan_001]"},
		{"Join plan", TypeJoin, "join_002", "Join[join_002]"},
		{"Sort plan", TypeSort, "sort_003", "Sort[sort_003]"},
		{"Empty ID plan", TypeScan, "", "Scan[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Plan{ID: tt.id, Type: tt.planType}
			assert.Equal(t, tt.want, p.Explain())
		})
	}
}

func TestPlanTree(t *testing.T) {
	schema := types.MustSchema(types.Field{Name: "a", Type: types.Int64Type})
	scan := &Plan{ID: "1", Type: TypeScan, OutputSchema: schema, Config: &ScanConfig{Source: "t"}}
	filter := &Plan{
		ID: "2", Type: TypeFilter, OutputSchema: schema,
		Config:   &FilterConfig{Predicate: expr.Gt(expr.Col("a"), expr.Lit(1))},
		Children: []*Plan{scan},
	}

	tree := filter.Tree()
	lines := strings.Split(strings.TrimSpace(tree), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "Filter[2] predicate=(col(a) > 1) -> {a: int64}", lines[0])
	assert.Equal(t, "  Scan[1] source=t -> {a: int64}", lines[1])
	assert.Equal(t, 2, filter.Depth())

	var visited []string
	filter.Walk(func(p *Plan) bool {
		visited = append(visited, p.ID)
		return true
	})
	assert.Equal(t, []string{"2", "1"}, visited)
}

func TestClosedWindowContains(t *testing.T) {
	tests := []struct {
		closed ClosedWindow
		t      int64
		want   bool
	}{
		{ClosedLeft, 0, true},
		{ClosedLeft, 2, false},
		{ClosedRight, 0, false},
		{ClosedRight, 2, true},
		{ClosedBoth, 0, true},
		{ClosedBoth, 2, true},
		{ClosedNone, 0, false},
		{ClosedNone, 1, true},
		{ClosedNone, 2, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.closed.Contains(0, 2, tt.t), "%s %d", tt.closed, tt.t)
	}
}

func TestJoinConfigDescribe(t *testing.T) {
	tol := int64(5)
	c := &JoinConfig{
		Type: InnerJoin, Algorithm: AlgorithmAsof,
		LeftOn: []string{"t"}, RightOn: []string{"t"},
		Asof: &AsofConfig{Strategy: AsofNearest, LeftBy: []string{"k"}, RightBy: []string{"k"}, Tolerance: &tol},
	}
	assert.Equal(t, "asof inner on [t]=[t] strategy=nearest by=[k] tolerance=5", c.Describe())
	assert.True(t, AsofBackward.Valid())
	assert.False(t, AsofStrategy("sideways").Valid())
	assert.False(t, SemiJoin.OutputsRight())
}
