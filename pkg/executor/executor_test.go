package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kasuganosora/colexec/pkg/compiler"
	"github.com/kasuganosora/colexec/pkg/config"
	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/logger"
	"github.com/kasuganosora/colexec/pkg/logical"
	"github.com/kasuganosora/colexec/pkg/monitor"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/resource/memory"
	"github.com/kasuganosora/colexec/pkg/resource/parquet"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	exe       *Executor
	reg       *resource.Registry
	collector *memory.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{exe: New(), reg: resource.NewRegistry(), collector: &memory.Collector{}}
	require.NoError(t, f.reg.RegisterSink("out", f.collector.Factory()))
	return f
}

func (f *fixture) source(t *testing.T, name string, cols ...*types.Column) {
	t.Helper()
	src, err := memory.NewSource(name, types.MustChunk(cols...))
	require.NoError(t, err)
	require.NoError(t, f.reg.RegisterSource(name, src))
}

func (f *fixture) context(t *testing.T, cfg *config.Config, opts Options) *ExecutionContext {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	nop := logger.Nop()
	opts.Config = cfg
	opts.Registry = f.reg
	opts.Logger = &nop
	ec, err := NewExecutionContext(opts)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, ec.Close()) })
	return ec
}

func (f *fixture) compile(t *testing.T, n *logical.Node) *plan.Plan {
	t.Helper()
	p, err := compiler.Compile(context.Background(), n, &compiler.Options{Sources: f.reg})
	require.NoError(t, err)
	return p
}

func sequence(n int, mod int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i) % mod
	}
	return out
}

func TestExecuteHashInnerJoin(t *testing.T) {
	f := newFixture(t)
	f.source(t, "l", types.NewInt64Column("k", []int64{1, 2, 2, 3}), types.NewUtf8Column("lv", []string{"a", "b", "c", "d"}))
	f.source(t, "r", types.NewInt64Column("k", []int64{2, 2, 4}), types.NewUtf8Column("rv", []string{"x", "y", "z"}))

	p := f.compile(t, logical.Scan("l", nil).Join(logical.Scan("r", nil), logical.JoinSpec{
		How:     plan.InnerJoin,
		LeftOn:  []string{"k"},
		RightOn: []string{"k"},
	}))
	ec := f.context(t, nil, Options{})
	out, err := f.exe.Execute(context.Background(), p, ec)
	require.NoError(t, err)

	assert.Equal(t, []string{"k", "lv", "rv"}, out.Schema().Names())
	assert.Equal(t, []int64{2, 2, 2, 2}, out.Column(0).Int64s())
	assert.Equal(t, []string{"b", "b", "c", "c"}, out.Column(1).Strings())
	assert.Equal(t, []string{"x", "y", "x", "y"}, out.Column(2).Strings())
	assert.Zero(t, ec.Budget.Used())
}

func TestExecuteFullPipelineToSink(t *testing.T) {
	f := newFixture(t)
	f.source(t, "t",
		types.NewUtf8Column("g", []string{"b", "a", "b", "c", "a"}),
		types.NewInt64Column("v", []int64{1, 2, 3, 4, 5}),
	)

	p := f.compile(t, logical.Scan("t", nil).
		Filter(expr.Gt(expr.Col("v"), expr.Lit(1))).
		GroupBy(logical.GroupBySpec{
			Keys: []string{"g"},
			Aggs: []plan.AggSpec{{Column: "v", Function: expr.AggSum, Name: "total"}},
		}).
		Sink("out"))
	metrics := monitor.NewMetricsCollector()
	ec := f.context(t, nil, Options{Metrics: metrics})

	out, err := f.exe.Execute(context.Background(), p, ec)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out.Column(0).Strings())
	assert.Equal(t, []int64{7, 3, 4}, out.Column(1).Int64s())

	written, err := f.collector.Last().Chunk()
	require.NoError(t, err)
	assert.True(t, written.Equal(out))

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.QuerySuccess)
	assert.Equal(t, []string{"Filter", "GroupBy", "Scan", "Sink"}, snap.OperatorKinds())
	assert.Equal(t, int64(4), snap.Operators["Filter"].Rows)
	assert.Empty(t, f.exe.Runtime().GetAllQueries())
}

func TestExecuteSchemaPostCondition(t *testing.T) {
	f := newFixture(t)
	f.source(t, "t", types.NewInt64Column("a", []int64{1, 2}))
	scan := f.compile(t, logical.Scan("t", nil))
	bad := &plan.Plan{
		ID:           "bad_filter",
		Type:         plan.TypeFilter,
		OutputSchema: types.MustSchema(types.Field{Name: "a", Type: types.Utf8Type}),
		Children:     []*plan.Plan{scan},
		Config:       &plan.FilterConfig{Predicate: expr.Lit(true)},
	}

	metrics := monitor.NewMetricsCollector()
	out, err := f.exe.Execute(context.Background(), bad, f.context(t, nil, Options{Metrics: metrics}))
	assert.Nil(t, out)
	require.True(t, execerr.Is(err, execerr.CodeSchemaMismatch))
	var execErr *execerr.Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "bad_filter", execErr.NodeID)
	assert.Equal(t, "Filter", execErr.NodeKind)
	assert.Equal(t, int64(1), metrics.Snapshot().Errors[string(execerr.CodeSchemaMismatch)])
}

func TestExecuteCancelledDuringBuild(t *testing.T) {
	f := newFixture(t)
	f.source(t, "l", types.NewInt64Column("k", sequence(10000, 50)))
	f.source(t, "r", types.NewInt64Column("k", sequence(100, 100)))
	p := f.compile(t, logical.Scan("l", nil).Join(logical.Scan("r", nil), logical.JoinSpec{
		How:       plan.InnerJoin,
		LeftOn:    []string{"k"},
		RightOn:   []string{"k"},
		Algorithm: plan.AlgorithmHash,
	}))

	cfg := config.DefaultConfig()
	cfg.Execution.Partitions = 4
	var ec *ExecutionContext
	ec = f.context(t, cfg, Options{BuildHook: func(part, rows int) {
		_ = f.exe.Runtime().CancelQuery(ec.QueryID)
	}})
	out, err := f.exe.Execute(context.Background(), p, ec)
	assert.Nil(t, out)
	assert.True(t, execerr.Is(err, execerr.CodeCancelled))
	assert.Zero(t, ec.Budget.Used())
}

func TestExecuteCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.source(t, "t", types.NewInt64Column("a", []int64{1}))
	p := f.compile(t, logical.Scan("t", nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.exe.Execute(ctx, p, f.context(t, nil, Options{}))
	assert.True(t, execerr.Is(err, execerr.CodeCancelled))
}

func TestExecuteDeterministicAcrossPartitions(t *testing.T) {
	f := newFixture(t)
	n := 20000
	vals := make([]int64, n)
	for i := range vals {
		vals[i] = int64((i * 7919) % 1000)
	}
	f.source(t, "facts", types.NewInt64Column("k", sequence(n, 97)), types.NewInt64Column("v", vals))
	f.source(t, "dims", types.NewInt64Column("k", sequence(97, 97)), types.NewInt64Column("w", sequence(97, 5)))

	p := f.compile(t, logical.Scan("facts", nil).
		Join(logical.Scan("dims", nil), logical.JoinSpec{How: plan.LeftJoin, LeftOn: []string{"k"}, RightOn: []string{"k"}}).
		GroupBy(logical.GroupBySpec{
			Keys: []string{"w"},
			Aggs: []plan.AggSpec{
				{Column: "v", Function: expr.AggSum, Name: "total"},
				{Column: "v", Function: expr.AggLen, Name: "n"},
			},
		}).
		Sort(plan.SortKey{Column: "total", Descending: true}))

	var results []*types.Chunk
	for _, parts := range []int{1, 3, 8} {
		cfg := config.DefaultConfig()
		cfg.Execution.Partitions = parts
		cfg.Pool.Workers = 4
		out, err := f.exe.Execute(context.Background(), p, f.context(t, cfg, Options{}))
		require.NoError(t, err)
		results = append(results, out)
	}
	assert.Equal(t, 5, results[0].NumRows())
	for _, r := range results[1:] {
		assert.True(t, results[0].Equal(r))
	}
}

func TestExecuteStreaming(t *testing.T) {
	f := newFixture(t)
	f.source(t, "t", types.NewInt64Column("a", sequence(10, 10)))
	p := f.compile(t, logical.Scan("t", nil).
		Filter(expr.Gt(expr.Col("a"), expr.Lit(4))).
		Select(expr.Alias(expr.Binary(expr.OpMul, expr.Col("a"), expr.Lit(10)), "b")).
		Sink("out"))
	require.True(t, Streamable(p))

	cfg := config.DefaultConfig()
	cfg.Execution.Streaming = true
	cfg.Execution.ChunkSize = 3
	out, err := f.exe.Execute(context.Background(), p, f.context(t, cfg, Options{}))
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumRows())
	assert.True(t, out.Schema().Equal(p.OutputSchema))

	written, err := f.collector.Last().Chunk()
	require.NoError(t, err)
	assert.Equal(t, []int64{50, 60, 70, 80, 90}, written.Column(0).Int64s())
	assert.True(t, f.collector.Last().Closed())
}

// brokenSource 先交付一个 chunk，随后报错
type brokenSource struct {
	chunk *types.Chunk
}

func (s brokenSource) Schema() *types.Schema { return s.chunk.Schema() }

func (s brokenSource) Scan(ctx context.Context, req resource.ScanRequest) <-chan resource.ScanResult {
	out := make(chan resource.ScanResult, 2)
	out <- resource.ScanResult{Chunk: s.chunk}
	out <- resource.ScanResult{Err: errors.New("disk gone")}
	close(out)
	return out
}

func TestExecuteStreamingFailureDiscardsOutput(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.RegisterSource("t", brokenSource{types.MustChunk(types.NewInt64Column("a", []int64{1, 2, 3}))}))
	path := filepath.Join(t.TempDir(), "out.parquet")
	require.NoError(t, f.reg.RegisterSink("file", parquet.Factory(path, parquet.WriteOptions{})))

	cfg := config.DefaultConfig()
	cfg.Execution.Streaming = true

	_, err := f.exe.Execute(context.Background(), f.compile(t, logical.Scan("t", nil).Sink("file")), f.context(t, cfg, Options{}))
	require.Error(t, err)
	assert.True(t, execerr.Is(err, execerr.CodeIO), err)
	assert.NoFileExists(t, path)
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file left behind")

	_, err = f.exe.Execute(context.Background(), f.compile(t, logical.Scan("t", nil).Sink("out")), f.context(t, cfg, Options{}))
	require.Error(t, err)
	assert.True(t, f.collector.Last().Aborted())
	assert.False(t, f.collector.Last().Closed())
}

func TestStreamable(t *testing.T) {
	f := newFixture(t)
	f.source(t, "t", types.NewInt64Column("a", []int64{1}))
	scan := logical.Scan("t", nil)

	assert.False(t, Streamable(f.compile(t, scan)))
	assert.True(t, Streamable(f.compile(t, scan.Sink("out"))))
	assert.False(t, Streamable(f.compile(t, logical.Scan("t", nil).Sort(plan.SortKey{Column: "a"}).Sink("out"))))
	assert.False(t, Streamable(f.compile(t, logical.Scan("t", nil).
		Select(expr.Alias(expr.Call(expr.AggSum, expr.Col("a")), "s")).Sink("out"))))
}

func TestExecuteFallsBackToStreamingOnOOM(t *testing.T) {
	f := newFixture(t)
	f.source(t, "t", types.NewInt64Column("a", sequence(5000, 1000)))

	cfg := config.DefaultConfig()
	cfg.Execution.MemoryBudget = 1024
	metrics := monitor.NewMetricsCollector()

	p := f.compile(t, logical.Scan("t", nil).Filter(expr.Lt(expr.Col("a"), expr.Lit(10))).Sink("out"))
	ec := f.context(t, cfg, Options{Metrics: metrics})
	out, err := f.exe.Execute(context.Background(), p, ec)
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumRows())
	assert.Equal(t, int64(1), metrics.Snapshot().OOMFallbacks)
	assert.Zero(t, ec.Budget.Used())

	written, err := f.collector.Last().Chunk()
	require.NoError(t, err)
	assert.Equal(t, 50, written.NumRows())

	sorted := f.compile(t, logical.Scan("t", nil).Sort(plan.SortKey{Column: "a"}).Sink("out"))
	_, err = f.exe.Execute(context.Background(), sorted, f.context(t, cfg, Options{}))
	assert.True(t, execerr.Is(err, execerr.CodeOutOfMemory))
}

func TestExecuteRecordsSlowQuery(t *testing.T) {
	f := newFixture(t)
	f.source(t, "t", types.NewInt64Column("a", []int64{1, 2, 3}))
	p := f.compile(t, logical.Scan("t", nil))
	slow := monitor.NewSlowQueryAnalyzer(0, 10)

	ec := f.context(t, nil, Options{SlowQuery: slow})
	_, err := f.exe.Execute(context.Background(), p, ec)
	require.NoError(t, err)

	logs := slow.All()
	require.Len(t, logs, 1)
	assert.Equal(t, ec.QueryID, logs[0].QueryID)
	assert.Equal(t, "Scan", logs[0].RootKind)
	assert.Equal(t, int64(3), logs[0].RowCount)
	assert.Contains(t, logs[0].Plan, "Scan[")
}

func TestMemoryBudget(t *testing.T) {
	b := NewMemoryBudget(100)
	require.NoError(t, b.Reserve(60))
	err := b.Reserve(50)
	assert.True(t, execerr.Is(err, execerr.CodeOutOfMemory))
	assert.Contains(t, err.Error(), "limit 100 B")
	assert.Equal(t, int64(60), b.Used())

	b.Release(60)
	require.NoError(t, b.Reserve(100))

	unlimited := NewMemoryBudget(0)
	assert.NoError(t, unlimited.Reserve(1<<40))
}

func TestAggregatorTracksBudget(t *testing.T) {
	schema := types.MustSchema(types.Field{Name: "a", Type: types.Int64Type})
	budget := NewMemoryBudget(0)
	agg := NewAggregator(schema, budget)

	require.NoError(t, agg.Add(types.MustChunk(types.NewInt64Column("a", []int64{1, 2}))))
	require.NoError(t, agg.Add(types.EmptyChunk(schema)))
	require.NoError(t, agg.Add(types.MustChunk(types.NewInt64Column("a", []int64{3}))))
	assert.Equal(t, 2, agg.Count())
	assert.Equal(t, 3, agg.Rows())
	assert.Equal(t, agg.Reserved(), budget.Used())

	out, err := agg.Aggregate()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, out.Column(0).Int64s())

	agg.Clear()
	assert.Zero(t, budget.Used())
	assert.Zero(t, agg.Count())
}

func TestExecutionContextClose(t *testing.T) {
	ec, err := NewExecutionContext(Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, ec.QueryID)
	assert.True(t, ec.Pool.IsRunning())

	closed := false
	ec.AddCloser(closerFunc(func() error { closed = true; return errors.New("boom") }))
	err = ec.Close()
	assert.ErrorContains(t, err, "boom")
	assert.True(t, closed)
	assert.True(t, ec.Pool.IsClosed())
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
