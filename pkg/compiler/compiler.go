package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/colexec/pkg/config"
	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/logical"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

// SchemaResolver 按源名称查询源的 Schema
type SchemaResolver interface {
	SourceSchema(name string) (*types.Schema, error)
}

// Options 编译参数，零值字段使用默认值
type Options struct {
	Config    *config.Config
	Evaluator expr.Evaluator
	Sources   SchemaResolver
}

var nodeArity = map[plan.PlanType]int{
	plan.TypeScan:    0,
	plan.TypeFilter:  1,
	plan.TypeSelect:  1,
	plan.TypeJoin:    2,
	plan.TypeGroupBy: 1,
	plan.TypeSort:    1,
	plan.TypeSink:    1,
}

// Compiler 把逻辑计划编译为物理计划
type Compiler struct {
	cfg     *config.Config
	eval    expr.Evaluator
	sources SchemaResolver
	ctx     context.Context
	nextID  int
	sorted  map[*plan.Plan][]string
}

// Compile 编译逻辑计划
func Compile(ctx context.Context, root *logical.Node, opts *Options) (*plan.Plan, error) {
	return New(opts).Compile(ctx, root)
}

// New 创建编译器
func New(opts *Options) *Compiler {
	if opts == nil {
		opts = &Options{}
	}
	c := &Compiler{
		cfg:     opts.Config,
		eval:    opts.Evaluator,
		sources: opts.Sources,
	}
	if c.cfg == nil {
		c.cfg = config.DefaultConfig()
	}
	if c.eval == nil {
		c.eval = expr.NewEvaluator()
	}
	return c
}

// Compile 编译逻辑计划，编译器实例可复用但不可并发使用
func (c *Compiler) Compile(ctx context.Context, root *logical.Node) (*plan.Plan, error) {
	if root == nil {
		return nil, execerr.Newf(execerr.CodeInvalidPlan, "empty plan")
	}
	c.ctx = ctx
	c.nextID = 0
	c.sorted = make(map[*plan.Plan][]string)
	return c.compile(root, 1)
}

func (c *Compiler) compile(n *logical.Node, depth int) (*plan.Plan, error) {
	if depth > c.cfg.Execution.MaxPlanDepth {
		return nil, execerr.Newf(execerr.CodePlanTooDeep,
			"plan depth exceeds limit %d", c.cfg.Execution.MaxPlanDepth)
	}
	if err := c.ctx.Err(); err != nil {
		return nil, execerr.Cancelled(err)
	}

	arity, ok := nodeArity[n.Type]
	if !ok {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "unknown node type %q", n.Type)
	}
	if len(n.Inputs) != arity {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "%s expects %d inputs, got %d", n.Type, arity, len(n.Inputs))
	}

	children := make([]*plan.Plan, len(n.Inputs))
	for i, in := range n.Inputs {
		child, err := c.compile(in, depth+1)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}

	var (
		p   *plan.Plan
		err error
	)
	switch n.Type {
	case plan.TypeScan:
		p, err = c.compileScan(n)
	case plan.TypeFilter:
		p, err = c.compileFilter(n, children[0])
	case plan.TypeSelect:
		p, err = c.compileSelect(n, children[0])
	case plan.TypeJoin:
		p, err = c.compileJoin(n, children[0], children[1])
	case plan.TypeGroupBy:
		p, err = c.compileGroupBy(n, children[0])
	case plan.TypeSort:
		p, err = c.compileSort(n, children[0])
	case plan.TypeSink:
		p, err = c.compileSink(n, children[0])
	}
	if err != nil {
		return nil, err
	}

	if n.Schema != nil && !n.Schema.Equal(p.OutputSchema) {
		return nil, c.fail(n, execerr.CodeSchemaMismatch,
			"declared schema %s != derived schema %s (%s)", n.Schema, p.OutputSchema, n.Schema.Diff(p.OutputSchema))
	}
	if len(n.SortedBy) > 0 {
		c.sorted[p] = n.SortedBy
	}
	return p, nil
}

func (c *Compiler) newPlan(n *logical.Node, typ plan.PlanType, schema *types.Schema, cfg interface{}, children ...*plan.Plan) *plan.Plan {
	id := ""
	if n != nil {
		id = n.ID
	}
	if id == "" {
		c.nextID++
		id = fmt.Sprintf("%s_%d", strings.ToLower(string(typ)), c.nextID)
	}
	return &plan.Plan{
		ID:           id,
		Type:         typ,
		OutputSchema: schema,
		Children:     children,
		Config:       cfg,
	}
}

func (c *Compiler) fail(n *logical.Node, code execerr.Code, format string, args ...any) error {
	err := execerr.Newf(code, format, args...)
	if n != nil {
		err.NodeID = n.ID
		err.NodeKind = string(n.Type)
	}
	return err
}

func (c *Compiler) compileScan(n *logical.Node) (*plan.Plan, error) {
	if n.Scan == nil || n.Scan.Source == "" {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "scan without source")
	}
	cfg := *n.Scan
	if cfg.MissingColumns == "" {
		cfg.MissingColumns = plan.MissingRaise
	}
	if cfg.ExtraColumns == "" {
		cfg.ExtraColumns = plan.ExtraIgnore
	}

	if cfg.SourceSchema == nil && c.sources != nil {
		schema, err := c.sources.SourceSchema(cfg.Source)
		if err != nil {
			return nil, execerr.WithNode(execerr.Wrap(err, execerr.CodeInvalidPlan, "resolve source schema"), execerr.CodeInvalidPlan, n.ID, string(n.Type))
		}
		cfg.SourceSchema = schema
	}
	if cfg.SourceSchema == nil {
		if n.Schema == nil {
			return nil, c.fail(n, execerr.CodeInvalidPlan, "scan of %q has no schema", cfg.Source)
		}
		fields := make([]types.Field, 0, n.Schema.Len())
		for _, f := range n.Schema.Fields() {
			if (cfg.RowIndex != nil && f.Name == cfg.RowIndex.Name) || f.Name == cfg.FilePathColumn {
				continue
			}
			fields = append(fields, f)
		}
		src, err := types.NewSchema(fields...)
		if err != nil {
			return nil, c.fail(n, execerr.CodeInvalidPlan, "%v", err)
		}
		cfg.SourceSchema = src
	}

	projected := cfg.SourceSchema
	if len(cfg.Projection) > 0 {
		var err error
		projected, err = cfg.SourceSchema.Select(cfg.Projection...)
		if err != nil {
			return nil, c.fail(n, execerr.CodeSchemaMismatch, "%v", err)
		}
	}
	if cfg.Predicate != nil {
		if err := c.checkPredicate(n, cfg.Predicate, cfg.SourceSchema); err != nil {
			return nil, err
		}
	}
	if cfg.PreSlice != nil && (cfg.PreSlice.Offset < 0 || cfg.PreSlice.Length < 0) {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "negative scan slice")
	}

	fields := make([]types.Field, 0, projected.Len()+2)
	if cfg.RowIndex != nil {
		fields = append(fields, types.Field{Name: cfg.RowIndex.Name, Type: types.Int64Type})
	}
	fields = append(fields, projected.Fields()...)
	if cfg.FilePathColumn != "" {
		fields = append(fields, types.Field{Name: cfg.FilePathColumn, Type: types.Utf8Type})
	}
	out, err := types.NewSchema(fields...)
	if err != nil {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "%v", err)
	}
	return c.newPlan(n, plan.TypeScan, out, &cfg), nil
}

func (c *Compiler) checkPredicate(n *logical.Node, pred *expr.Expr, schema *types.Schema) error {
	dt, err := c.eval.ResolveType(pred, schema)
	if err != nil {
		return execerr.WithNode(execerr.Wrap(err, execerr.CodeInvalidPlan, "resolve predicate"), execerr.CodeInvalidPlan, n.ID, string(n.Type))
	}
	if dt.ID != types.Boolean {
		return c.fail(n, execerr.CodeInvalidPlan, "predicate %s has type %s, want bool", pred, dt)
	}
	return nil
}

func (c *Compiler) compileFilter(n *logical.Node, child *plan.Plan) (*plan.Plan, error) {
	if n.FilterSpec == nil || n.FilterSpec.Predicate == nil {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "filter without predicate")
	}
	if err := c.checkPredicate(n, n.FilterSpec.Predicate, child.OutputSchema); err != nil {
		return nil, err
	}
	cfg := *n.FilterSpec
	p := c.newPlan(n, plan.TypeFilter, child.OutputSchema, &cfg, child)
	c.sorted[p] = c.sorted[child]
	return p, nil
}

func (c *Compiler) compileSelect(n *logical.Node, child *plan.Plan) (*plan.Plan, error) {
	if n.SelectSpec == nil || len(n.SelectSpec.Exprs) == 0 {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "select without expressions")
	}
	in := child.OutputSchema
	var fields []types.Field
	if n.SelectSpec.WithColumns {
		fields = in.Fields()
	}
	for _, e := range n.SelectSpec.Exprs {
		dt, err := c.eval.ResolveType(e, in)
		if err != nil {
			return nil, execerr.WithNode(execerr.Wrap(err, execerr.CodeInvalidPlan, "resolve expression "+e.String()), execerr.CodeInvalidPlan, n.ID, string(n.Type))
		}
		f := types.Field{Name: e.OutputName(), Type: dt}
		replaced := false
		if n.SelectSpec.WithColumns {
			for i := range fields {
				if fields[i].Name == f.Name {
					fields[i] = f
					replaced = true
					break
				}
			}
		}
		if !replaced {
			fields = append(fields, f)
		}
	}
	out, err := types.NewSchema(fields...)
	if err != nil {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "%v", err)
	}
	cfg := *n.SelectSpec
	p := c.newPlan(n, plan.TypeSelect, out, &cfg, child)

	// 排序列原样保留时有序性可以传递
	if sorted := c.sorted[child]; len(sorted) > 0 {
		kept := true
		for _, col := range sorted {
			f, ok := out.Lookup(col)
			orig, _ := in.Lookup(col)
			if !ok || !f.Type.Equal(orig.Type) || !passesThrough(n.SelectSpec, col) {
				kept = false
				break
			}
		}
		if kept {
			c.sorted[p] = sorted
		}
	}
	return p, nil
}

func passesThrough(cfg *plan.SelectConfig, col string) bool {
	for _, e := range cfg.Exprs {
		if e.OutputName() != col {
			continue
		}
		return e.Type == expr.ExprTypeColumn && e.Column == col
	}
	return cfg.WithColumns
}

func (c *Compiler) compileSort(n *logical.Node, child *plan.Plan) (*plan.Plan, error) {
	if n.SortSpec == nil || len(n.SortSpec.Keys) == 0 {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "sort without keys")
	}
	for _, k := range n.SortSpec.Keys {
		if _, ok := child.OutputSchema.Lookup(k.Column); !ok {
			return nil, c.fail(n, execerr.CodeSchemaMismatch, "sort column %q not found in %s", k.Column, child.OutputSchema)
		}
	}
	if n.SortSpec.Limit != nil && *n.SortSpec.Limit < 0 {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "negative sort limit")
	}
	cfg := *n.SortSpec
	p := c.newPlan(n, plan.TypeSort, child.OutputSchema, &cfg, child)
	c.sorted[p] = ascendingPrefix(cfg.Keys)
	return p, nil
}

// ascendingPrefix 升序且空值在后的最长前缀，可用于归并连接
func ascendingPrefix(keys []plan.SortKey) []string {
	var out []string
	for _, k := range keys {
		if k.Descending || !k.NullsLast {
			break
		}
		out = append(out, k.Column)
	}
	return out
}

func (c *Compiler) compileSink(n *logical.Node, child *plan.Plan) (*plan.Plan, error) {
	if n.SinkSpec == nil || n.SinkSpec.Sink == "" {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "sink without target")
	}
	cfg := *n.SinkSpec
	return c.newPlan(n, plan.TypeSink, child.OutputSchema, &cfg, child), nil
}
