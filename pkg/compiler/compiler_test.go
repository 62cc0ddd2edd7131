package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/kasuganosora/colexec/pkg/config"
	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/logical"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func field(name string, dt types.DataType) types.Field {
	return types.Field{Name: name, Type: dt}
}

var (
	ordersSchema = types.MustSchema(
		field("id", types.Int64Type),
		field("customer", types.Int32Type),
		field("amount", types.Float64Type),
	)
	customersSchema = types.MustSchema(
		field("customer", types.Int64Type),
		field("name", types.Utf8Type),
		field("amount", types.Float64Type),
	)
)

func compile(t *testing.T, n *logical.Node) (*plan.Plan, error) {
	t.Helper()
	return Compile(context.Background(), n, nil)
}

func TestCompileFilterSelect(t *testing.T) {
	n := logical.Scan("orders", ordersSchema).
		Filter(expr.Gt(expr.Col("amount"), expr.Lit(10.0))).
		Select(expr.Col("id"), expr.Alias(expr.Binary(expr.OpMul, expr.Col("amount"), expr.Lit(2)), "double"))

	p, err := compile(t, n)
	require.NoError(t, err)
	assert.Equal(t, plan.TypeSelect, p.Type)
	assert.Equal(t, "{id: int64, double: float64}", p.OutputSchema.String())
	assert.Equal(t, plan.TypeFilter, p.Children[0].Type)
	assert.True(t, p.Children[0].OutputSchema.Equal(ordersSchema))
}

func TestCompileNonBooleanPredicate(t *testing.T) {
	_, err := compile(t, logical.Scan("orders", ordersSchema).Filter(expr.Col("amount")))
	assert.True(t, execerr.Is(err, execerr.CodeInvalidPlan))
}

func TestCompileDeclaredSchemaMismatch(t *testing.T) {
	n := logical.Scan("orders", ordersSchema).
		Select(expr.Col("id")).
		Declare(types.MustSchema(field("id", types.Int32Type)))

	_, err := compile(t, n)
	require.Error(t, err)
	assert.True(t, execerr.Is(err, execerr.CodeSchemaMismatch))

	var execErr *execerr.Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "Select", execErr.NodeKind)
}

func TestCompilePlanTooDeep(t *testing.T) {
	n := logical.Scan("orders", ordersSchema)
	for range 20 {
		n = n.Filter(expr.Gt(expr.Col("id"), expr.Lit(0)))
	}

	cfg := config.DefaultConfig()
	cfg.Execution.MaxPlanDepth = 10
	_, err := Compile(context.Background(), n, &Options{Config: cfg})
	assert.True(t, execerr.Is(err, execerr.CodePlanTooDeep))

	cfg.Execution.MaxPlanDepth = 21
	_, err = Compile(context.Background(), n, &Options{Config: cfg})
	assert.NoError(t, err)
}

func TestCompileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compile(ctx, logical.Scan("orders", ordersSchema), nil)
	assert.True(t, execerr.Is(err, execerr.CodeCancelled))
}

func TestCompileJoinKeyUnification(t *testing.T) {
	n := logical.Scan("orders", ordersSchema).Join(
		logical.Scan("customers", customersSchema),
		logical.JoinSpec{How: plan.InnerJoin, LeftOn: []string{"customer"}, RightOn: []string{"customer"}},
	)
	p, err := compile(t, n)
	require.NoError(t, err)

	cfg := p.Config.(*plan.JoinConfig)
	assert.Equal(t, plan.AlgorithmHash, cfg.Algorithm)
	require.Len(t, cfg.KeyCasts, 1)
	assert.Equal(t, plan.KeyCast{Side: plan.SideLeft, Column: "customer", To: types.Int64Type}, cfg.KeyCasts[0])
	assert.True(t, cfg.Coalesce)
	assert.Equal(t, "_right", cfg.Suffix)
	assert.Equal(t, plan.Side(""), cfg.BuildSide)
	// 左键提升为 int64，右键合并，重名列加后缀
	assert.Equal(t, "{id: int64, customer: int64, amount: float64, name: utf8, amount_right: float64}", p.OutputSchema.String())
}

func TestCompileJoinKeyTypeMismatch(t *testing.T) {
	n := logical.Scan("orders", ordersSchema).Join(
		logical.Scan("customers", customersSchema),
		logical.JoinSpec{How: plan.InnerJoin, LeftOn: []string{"id"}, RightOn: []string{"name"}},
	)
	_, err := compile(t, n)
	assert.True(t, execerr.Is(err, execerr.CodeJoinKeyTypeMismatch))
}

func TestCompileJoinValidation(t *testing.T) {
	left := logical.Scan("orders", ordersSchema)
	right := logical.Scan("customers", customersSchema)

	tests := []struct {
		name string
		spec logical.JoinSpec
		code execerr.Code
	}{
		{"key count", logical.JoinSpec{LeftOn: []string{"id", "customer"}, RightOn: []string{"customer"}}, execerr.CodeInvalidPlan},
		{"no keys", logical.JoinSpec{How: plan.LeftJoin}, execerr.CodeInvalidPlan},
		{"repeated pair", logical.JoinSpec{LeftOn: []string{"id", "id"}, RightOn: []string{"customer", "customer"}}, execerr.CodeInvalidPlan},
		{"cross with keys", logical.JoinSpec{How: plan.CrossJoin, LeftOn: []string{"id"}, RightOn: []string{"customer"}}, execerr.CodeInvalidPlan},
		{"missing key", logical.JoinSpec{LeftOn: []string{"nope"}, RightOn: []string{"customer"}}, execerr.CodeSchemaMismatch},
		{"bad strategy", logical.JoinSpec{LeftOn: []string{"id"}, RightOn: []string{"customer"},
			Asof: &logical.AsofSpec{Strategy: "sideways"}}, execerr.CodeAsofDirectionInvalid},
		{"asof by one side", logical.JoinSpec{LeftOn: []string{"id"}, RightOn: []string{"customer"},
			Asof: &logical.AsofSpec{LeftBy: []string{"customer"}}}, execerr.CodeInvalidPlan},
		{"asof full", logical.JoinSpec{How: plan.FullJoin, LeftOn: []string{"id"}, RightOn: []string{"customer"},
			Asof: &logical.AsofSpec{}}, execerr.CodeInvalidPlan},
		{"negative tolerance", logical.JoinSpec{LeftOn: []string{"id"}, RightOn: []string{"customer"},
			Asof: &logical.AsofSpec{Tolerance: "-3"}}, execerr.CodeInvalidPlan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, left.Join(right, tt.spec))
			require.Error(t, err)
			assert.True(t, execerr.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestCompileJoinOutputVariants(t *testing.T) {
	left := logical.Scan("orders", ordersSchema)
	right := logical.Scan("customers", customersSchema)
	on := func(how plan.JoinType) logical.JoinSpec {
		return logical.JoinSpec{How: how, LeftOn: []string{"id"}, RightOn: []string{"customer"}}
	}

	p, err := compile(t, left.Join(right, on(plan.SemiJoin)))
	require.NoError(t, err)
	assert.True(t, p.OutputSchema.Equal(ordersSchema))
	assert.Equal(t, plan.SideRight, p.Config.(*plan.JoinConfig).BuildSide)

	p, err = compile(t, left.Join(right, on(plan.FullJoin)))
	require.NoError(t, err)
	assert.Equal(t, "{id: int64, customer: int32, amount: float64, customer_right: int64, name: utf8, amount_right: float64}",
		p.OutputSchema.String())

	p, err = compile(t, left.Join(right, on(plan.RightJoin)))
	require.NoError(t, err)
	assert.Equal(t, plan.SideLeft, p.Config.(*plan.JoinConfig).BuildSide)

	p, err = compile(t, left.Join(right, logical.JoinSpec{How: plan.CrossJoin, Suffix: "_c"}))
	require.NoError(t, err)
	assert.Equal(t, "{id: int64, customer: int32, amount: float64, customer_c: int64, name: utf8, amount_c: float64}",
		p.OutputSchema.String())
}

func TestCompileMergeSelection(t *testing.T) {
	left := logical.Scan("orders", ordersSchema).Sorted("id")
	right := logical.Scan("customers", customersSchema).Sorted("customer")
	spec := logical.JoinSpec{How: plan.InnerJoin, LeftOn: []string{"id"}, RightOn: []string{"customer"}}

	// 两侧声明有序时自动选择归并连接
	p, err := compile(t, left.Join(right, spec))
	require.NoError(t, err)
	assert.Equal(t, plan.AlgorithmMerge, p.Config.(*plan.JoinConfig).Algorithm)
	assert.Equal(t, plan.TypeScan, p.Children[0].Type)

	// 强制归并时为无序一侧插入排序
	unsorted := logical.Scan("customers", customersSchema)
	spec.Algorithm = plan.AlgorithmMerge
	p, err = compile(t, left.Join(unsorted, spec))
	require.NoError(t, err)
	assert.Equal(t, plan.TypeScan, p.Children[0].Type)
	require.Equal(t, plan.TypeSort, p.Children[1].Type)
	sortCfg := p.Children[1].Config.(*plan.SortConfig)
	assert.Equal(t, []plan.SortKey{{Column: "customer", NullsLast: true}}, sortCfg.Keys)

	// 全局配置覆盖
	cfg := config.DefaultConfig()
	cfg.Join.Algorithm = "hash"
	spec.Algorithm = ""
	p, err = Compile(context.Background(), left.Join(right, spec), &Options{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, plan.AlgorithmHash, p.Config.(*plan.JoinConfig).Algorithm)
}

func TestCompileAsofJoin(t *testing.T) {
	quotes := types.MustSchema(field("t", types.DatetimeType(types.Milliseconds)), field("sym", types.Utf8Type), field("px", types.Float64Type))
	trades := types.MustSchema(field("t", types.DatetimeType(types.Milliseconds)), field("sym", types.Utf8Type), field("qty", types.Int64Type))

	n := logical.Scan("trades", trades).Join(logical.Scan("quotes", quotes), logical.JoinSpec{
		How: plan.LeftJoin, LeftOn: []string{"t"}, RightOn: []string{"t"},
		Asof: &logical.AsofSpec{LeftBy: []string{"sym"}, RightBy: []string{"sym"}, Tolerance: "2s"},
	})
	p, err := compile(t, n)
	require.NoError(t, err)

	cfg := p.Config.(*plan.JoinConfig)
	assert.Equal(t, plan.AlgorithmAsof, cfg.Algorithm)
	assert.Equal(t, plan.AsofBackward, cfg.Asof.Strategy)
	require.NotNil(t, cfg.Asof.Tolerance)
	assert.Equal(t, int64(2000), *cfg.Asof.Tolerance)
	assert.True(t, cfg.Asof.AllowExactMatches)
	assert.Equal(t, "{t: datetime[ms], sym: utf8, qty: int64, t_right: datetime[ms], px: float64}", p.OutputSchema.String())
}

func TestCompileGroupBy(t *testing.T) {
	n := logical.Scan("orders", ordersSchema).GroupBy(logical.GroupBySpec{
		Keys: []string{"customer"},
		Aggs: []plan.AggSpec{
			{Column: "amount", Function: expr.AggSum, Name: "total"},
			{Column: "id", Function: "avg", Name: "avg_id"},
			{Column: "id", Function: expr.AggNUnique, Name: "orders"},
			{Function: expr.AggExpr, Expr: expr.Alias(expr.Call(expr.AggMax, expr.Col("amount")), "biggest")},
		},
	})
	p, err := compile(t, n)
	require.NoError(t, err)
	assert.Equal(t, "{customer: int32, total: float64, avg_id: float64, orders: int64, biggest: float64}", p.OutputSchema.String())
	assert.Equal(t, expr.AggMean, p.Config.(*plan.GroupByConfig).Aggs[1].Function)
}

func TestCompileGroupByUnsupported(t *testing.T) {
	n := logical.Scan("customers", customersSchema).GroupBy(logical.GroupBySpec{
		Keys: []string{"customer"},
		Aggs: []plan.AggSpec{{Column: "name", Function: expr.AggSum, Name: "s"}},
	})
	_, err := compile(t, n)
	assert.True(t, execerr.Is(err, execerr.CodeUnsupportedAggregation))

	n = logical.Scan("customers", customersSchema).GroupBy(logical.GroupBySpec{
		Keys: []string{"customer"},
		Aggs: []plan.AggSpec{{Column: "name", Function: "median", Name: "m"}},
	})
	_, err = compile(t, n)
	assert.True(t, execerr.Is(err, execerr.CodeUnsupportedAggregation))
}

func TestCompileDynamicGroupBy(t *testing.T) {
	schema := types.MustSchema(field("ts", types.DatetimeType(types.Microseconds)), field("v", types.Int64Type))
	emit := true
	boundaries := true
	n := logical.Scan("events", schema).GroupBy(logical.GroupBySpec{
		Aggs: []plan.AggSpec{{Column: "v", Function: expr.AggCount, Name: "n"}},
		Window: &logical.WindowSpec{
			TimeColumn: "ts", Every: "1h", Period: "2h", Offset: "-30m", Closed: "both",
			EmitEmpty: &emit, IncludeBoundaries: &boundaries,
		},
	})
	p, err := compile(t, n)
	require.NoError(t, err)

	w := p.Config.(*plan.GroupByConfig).Window
	assert.Equal(t, int64(3600e6), w.Every)
	assert.Equal(t, int64(7200e6), w.Period)
	assert.Equal(t, int64(-1800e6), w.Offset)
	assert.Equal(t, plan.ClosedBoth, w.Closed)
	assert.Equal(t, plan.LabelLeft, w.Label)
	assert.True(t, w.EmitEmpty)
	assert.Equal(t, "{ts: datetime[us], _lower_boundary: datetime[us], _upper_boundary: datetime[us], n: int64}", p.OutputSchema.String())

	bad := logical.Scan("events", schema).GroupBy(logical.GroupBySpec{
		Window: &logical.WindowSpec{TimeColumn: "v", Every: "1h"},
	})
	_, err = compile(t, bad)
	assert.True(t, execerr.Is(err, execerr.CodeInvalidPlan))
}

type staticSources map[string]*types.Schema

func (s staticSources) SourceSchema(name string) (*types.Schema, error) {
	schema, ok := s[name]
	if !ok {
		return nil, errors.New("no such source")
	}
	return schema, nil
}

func TestCompileScanExtras(t *testing.T) {
	sources := staticSources{"orders": ordersSchema}
	n := logical.ScanWith(plan.ScanConfig{
		Source:         "orders",
		Projection:     []string{"amount", "id"},
		RowIndex:       &plan.RowIndex{Name: "row_nr"},
		FilePathColumn: "path",
	}, nil)

	p, err := Compile(context.Background(), n, &Options{Sources: sources})
	require.NoError(t, err)
	assert.Equal(t, "{row_nr: int64, amount: float64, id: int64, path: utf8}", p.OutputSchema.String())
	cfg := p.Config.(*plan.ScanConfig)
	assert.True(t, cfg.SourceSchema.Equal(ordersSchema))
	assert.Equal(t, plan.MissingRaise, cfg.MissingColumns)

	_, err = Compile(context.Background(), logical.Scan("ghost", nil), &Options{Sources: sources})
	assert.True(t, execerr.Is(err, execerr.CodeInvalidPlan))
}

func TestCompileWithColumnsKeepsSortedness(t *testing.T) {
	left := logical.Scan("orders", ordersSchema).Sorted("id").
		WithColumns(expr.Alias(expr.Lit(1), "one"))
	right := logical.Scan("customers", customersSchema).Sorted("customer")

	p, err := compile(t, left.Join(right, logical.JoinSpec{LeftOn: []string{"id"}, RightOn: []string{"customer"}}))
	require.NoError(t, err)
	assert.Equal(t, plan.AlgorithmMerge, p.Config.(*plan.JoinConfig).Algorithm)
}
