package operators

import (
	"context"
	"errors"
	"testing"

	"github.com/kasuganosora/colexec/pkg/compiler"
	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/logical"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/resource/memory"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/kasuganosora/colexec/pkg/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) (Env, *memory.Collector) {
	t.Helper()
	pool, err := workerpool.NewWithSize(2)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	t.Cleanup(func() { pool.Close() })

	src, err := memory.NewSource("t", types.MustChunk(
		types.NewInt64Column("a", []int64{1, 2, 3, 4, 5}),
		types.NewUtf8Column("b", []string{"x1", "x2", "x3", "x4", "x5"}),
	))
	require.NoError(t, err)

	reg := resource.NewRegistry()
	require.NoError(t, reg.RegisterSource("t", src))
	collector := &memory.Collector{}
	require.NoError(t, reg.RegisterSink("out", collector.Factory()))

	return Env{
		Pool:       pool,
		Partitions: 3,
		MinRows:    1,
		ChunkSize:  2,
		Evaluator:  expr.NewEvaluator(),
		Registry:   reg,
	}, collector
}

func compileNode(t *testing.T, env Env, n *logical.Node) *plan.Plan {
	t.Helper()
	p, err := compiler.Compile(context.Background(), n, &compiler.Options{Sources: env.Registry, Evaluator: env.Evaluator})
	require.NoError(t, err)
	return p
}

// scanAll 读完整个源，合并为一个 chunk
func scanAll(ctx context.Context, p *plan.Plan, env Env) (*types.Chunk, error) {
	s, err := NewScanner(p, env)
	if err != nil {
		return nil, err
	}
	var chunks []*types.Chunk
	if err := s.Run(ctx, func(c *types.Chunk) error {
		chunks = append(chunks, c)
		return nil
	}); err != nil {
		return nil, err
	}
	return types.ConcatChunks(p.OutputSchema, chunks...)
}

func TestScanRowIndexSliceAndPath(t *testing.T) {
	env, _ := testEnv(t)
	p := compileNode(t, env, logical.ScanWith(plan.ScanConfig{
		Source:         "t",
		Projection:     []string{"b"},
		RowIndex:       &plan.RowIndex{Name: "nr", Offset: 10},
		PreSlice:       &plan.Slice{Offset: 1, Length: 3},
		FilePathColumn: "path",
	}, nil))

	out, err := scanAll(context.Background(), p, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"nr", "b", "path"}, out.Schema().Names())
	assert.Equal(t, []int64{11, 12, 13}, out.Column(0).Int64s())
	assert.Equal(t, []string{"x2", "x3", "x4"}, out.Column(1).Strings())
	assert.Equal(t, []string{"memory://t", "memory://t", "memory://t"}, out.Column(2).Strings())
}

func TestScanPredicateIsReapplied(t *testing.T) {
	env, _ := testEnv(t)
	p := compileNode(t, env, logical.ScanWith(plan.ScanConfig{
		Source:     "t",
		Projection: []string{"b"},
		Predicate:  expr.Gt(expr.Col("a"), expr.Lit(2)),
		RowIndex:   &plan.RowIndex{Name: "nr"},
	}, nil))

	out, err := scanAll(context.Background(), p, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"nr", "b"}, out.Schema().Names())
	assert.Equal(t, []int64{2, 3, 4}, out.Column(0).Int64s())
	assert.Equal(t, []string{"x3", "x4", "x5"}, out.Column(1).Strings())
}

func TestScanEmptySlice(t *testing.T) {
	env, _ := testEnv(t)
	p := compileNode(t, env, logical.ScanWith(plan.ScanConfig{
		Source:   "t",
		PreSlice: &plan.Slice{Offset: 100, Length: 2},
	}, nil))

	out, err := scanAll(context.Background(), p, env)
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumRows())
	assert.True(t, out.Schema().Equal(p.OutputSchema))
}

func TestScanMissingColumns(t *testing.T) {
	env, _ := testEnv(t)
	declared := types.MustSchema(
		types.Field{Name: "a", Type: types.Int64Type},
		types.Field{Name: "b", Type: types.Utf8Type},
		types.Field{Name: "c", Type: types.Float64Type},
	)

	raise := compileNode(t, env, logical.ScanWith(plan.ScanConfig{Source: "t", SourceSchema: declared}, nil))
	_, err := scanAll(context.Background(), raise, env)
	assert.True(t, execerr.Is(err, execerr.CodeSchemaMismatch))

	insert := compileNode(t, env, logical.ScanWith(plan.ScanConfig{
		Source:         "t",
		SourceSchema:   declared,
		MissingColumns: plan.MissingInsert,
	}, nil))
	out, err := scanAll(context.Background(), insert, env)
	require.NoError(t, err)
	require.Equal(t, 5, out.NumRows())
	assert.Equal(t, 5, out.Column(2).NullCount())
}

func TestScanExtraColumns(t *testing.T) {
	env, _ := testEnv(t)
	declared := types.MustSchema(types.Field{Name: "a", Type: types.Int64Type})

	ignore := compileNode(t, env, logical.ScanWith(plan.ScanConfig{Source: "t", SourceSchema: declared}, nil))
	out, err := scanAll(context.Background(), ignore, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Schema().Names())

	raise := compileNode(t, env, logical.ScanWith(plan.ScanConfig{
		Source:       "t",
		SourceSchema: declared,
		ExtraColumns: plan.ExtraRaise,
	}, nil))
	_, err = scanAll(context.Background(), raise, env)
	assert.True(t, execerr.Is(err, execerr.CodeSchemaMismatch))
}

func TestScanCancelled(t *testing.T) {
	env, _ := testEnv(t)
	p := compileNode(t, env, logical.ScanWith(plan.ScanConfig{Source: "t"}, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scanAll(ctx, p, env)
	assert.True(t, execerr.Is(err, execerr.CodeCancelled))
}

func TestScannerRunStopsOnEmitError(t *testing.T) {
	env, _ := testEnv(t)
	p := compileNode(t, env, logical.Scan("t", nil))
	s, err := NewScanner(p, env)
	require.NoError(t, err)

	stop := errors.New("stop")
	calls := 0
	err = s.Run(context.Background(), func(c *types.Chunk) error {
		calls++
		assert.Positive(t, c.NumRows())
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestFilterDropsNullAndFalse(t *testing.T) {
	env, _ := testEnv(t)
	v, err := types.NewColumnFromValues("v", types.Int64Type, []any{int64(5), nil, int64(0), int64(7), nil, int64(9)})
	require.NoError(t, err)
	in := types.MustChunk(types.NewInt64Column("id", []int64{0, 1, 2, 3, 4, 5}), v)

	out, err := FilterChunk(context.Background(), env, expr.Gt(expr.Col("v"), expr.Lit(1)), in)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 3, 5}, out.Column(0).Int64s())

	same, err := FilterChunk(context.Background(), env, expr.Lit(true), in)
	require.NoError(t, err)
	assert.Same(t, in, same)

	_, err = FilterChunk(context.Background(), env, expr.Col("id"), in)
	assert.True(t, execerr.Is(err, execerr.CodeExpressionEvaluation))
}

func TestFilterNode(t *testing.T) {
	env, _ := testEnv(t)
	p := compileNode(t, env, logical.Scan("t", nil).Filter(expr.Lt(expr.Col("a"), expr.Lit(3))))
	in, err := scanAll(context.Background(), p.Children[0], env)
	require.NoError(t, err)

	out, err := Filter(context.Background(), p, env, in)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, out.Column(0).Int64s())
}

func TestSelectBroadcastsAndRenames(t *testing.T) {
	env, _ := testEnv(t)
	p := compileNode(t, env, logical.Scan("t", nil).Select(
		expr.Col("b"),
		expr.Alias(expr.Call(expr.AggSum, expr.Col("a")), "total"),
		expr.Alias(expr.Cast(expr.Col("a"), types.Float64Type), "af"),
	))
	in, err := scanAll(context.Background(), p.Children[0], env)
	require.NoError(t, err)

	out, err := Select(context.Background(), p, env, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "total", "af"}, out.Schema().Names())
	assert.Equal(t, []int64{15, 15, 15, 15, 15}, out.Column(1).Int64s())
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, out.Column(2).Float64s())
	assert.True(t, out.Schema().Equal(p.OutputSchema))
}

func TestSelectWithColumnsReplacesInPlace(t *testing.T) {
	env, _ := testEnv(t)
	p := compileNode(t, env, logical.Scan("t", nil).WithColumns(
		expr.Alias(expr.Lit("y"), "b"),
		expr.Alias(expr.Binary(expr.OpMul, expr.Col("a"), expr.Lit(2)), "c"),
	))
	in, err := scanAll(context.Background(), p.Children[0], env)
	require.NoError(t, err)

	out, err := Select(context.Background(), p, env, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out.Schema().Names())
	assert.Equal(t, []string{"y", "y", "y", "y", "y"}, out.Column(1).Strings())
	assert.Equal(t, []int64{2, 4, 6, 8, 10}, out.Column(2).Int64s())
}

func TestSinkWritesAndCloses(t *testing.T) {
	env, collector := testEnv(t)
	p := compileNode(t, env, logical.Scan("t", nil).Sink("out"))
	in, err := scanAll(context.Background(), p.Children[0], env)
	require.NoError(t, err)

	require.NoError(t, Sink(context.Background(), p, env, in))
	last := collector.Last()
	require.NotNil(t, last)
	assert.True(t, last.Closed())
	got, err := last.Chunk()
	require.NoError(t, err)
	assert.True(t, got.Equal(in))
}

type failingSink struct{ closed bool }

func (s *failingSink) Write(context.Context, *types.Chunk) error { return errors.New("disk full") }
func (s *failingSink) Close() error                              { s.closed = true; return nil }

func TestSinkWriteErrorIsIOError(t *testing.T) {
	env, _ := testEnv(t)
	fs := &failingSink{}
	require.NoError(t, env.Registry.RegisterSink("broken", func(*types.Schema) (resource.Sink, error) { return fs, nil }))
	p := compileNode(t, env, logical.Scan("t", nil).Sink("broken"))
	in, err := scanAll(context.Background(), p.Children[0], env)
	require.NoError(t, err)

	err = Sink(context.Background(), p, env, in)
	assert.True(t, execerr.Is(err, execerr.CodeIO))
	assert.True(t, fs.closed)
}

type abortingSink struct {
	failingSink
	aborted bool
}

func (s *abortingSink) Abort() error { s.aborted = true; return nil }

func TestSinkWriteErrorAbortsOutput(t *testing.T) {
	env, _ := testEnv(t)
	as := &abortingSink{}
	require.NoError(t, env.Registry.RegisterSink("broken", func(*types.Schema) (resource.Sink, error) { return as, nil }))
	p := compileNode(t, env, logical.Scan("t", nil).Sink("broken"))
	in, err := scanAll(context.Background(), p.Children[0], env)
	require.NoError(t, err)

	err = Sink(context.Background(), p, env, in)
	assert.True(t, execerr.Is(err, execerr.CodeIO))
	assert.True(t, as.aborted)
	assert.False(t, as.closed)
}
