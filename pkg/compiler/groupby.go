package compiler

import (
	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/logical"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

func (c *Compiler) compileGroupBy(n *logical.Node, child *plan.Plan) (*plan.Plan, error) {
	spec := n.GroupBySpec
	if spec == nil {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "group by without specification")
	}
	in := child.OutputSchema
	cfg := &plan.GroupByConfig{
		Keys:      spec.Keys,
		SortByKey: spec.SortByKey,
	}

	fields := make([]types.Field, 0, len(spec.Keys)+len(spec.Aggs)+3)
	for _, k := range spec.Keys {
		f, ok := in.Lookup(k)
		if !ok {
			return nil, c.fail(n, execerr.CodeSchemaMismatch, "group key %q not found in %s", k, in)
		}
		fields = append(fields, f)
	}

	if spec.Window != nil {
		window, timeField, err := c.compileWindow(n, spec.Window, in)
		if err != nil {
			return nil, err
		}
		cfg.Window = window
		fields = append(fields, timeField)
		if window.IncludeBoundaries {
			fields = append(fields,
				types.Field{Name: plan.LowerBoundaryColumn, Type: timeField.Type},
				types.Field{Name: plan.UpperBoundaryColumn, Type: timeField.Type})
		}
	} else if len(spec.Keys) == 0 {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "group by needs keys or a window")
	}

	cfg.Aggs = make([]plan.AggSpec, len(spec.Aggs))
	for i, a := range spec.Aggs {
		agg, f, err := c.compileAgg(n, a, in)
		if err != nil {
			return nil, err
		}
		cfg.Aggs[i] = agg
		fields = append(fields, f)
	}

	out, err := types.NewSchema(fields...)
	if err != nil {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "%v", err)
	}
	p := c.newPlan(n, plan.TypeGroupBy, out, cfg, child)
	if cfg.SortByKey && cfg.Window == nil {
		c.sorted[p] = cfg.Keys
	}
	return p, nil
}

func (c *Compiler) compileAgg(n *logical.Node, a plan.AggSpec, in *types.Schema) (plan.AggSpec, types.Field, error) {
	fn, ok := expr.ParseAggFunc(string(a.Function))
	if !ok {
		return a, types.Field{}, c.fail(n, execerr.CodeUnsupportedAggregation, "unknown aggregation function %q", a.Function)
	}
	a.Function = fn

	if fn == expr.AggExpr {
		if a.Expr == nil {
			return a, types.Field{}, c.fail(n, execerr.CodeInvalidPlan, "expr aggregation %q without expression", a.Name)
		}
		dt, err := c.eval.ResolveType(a.Expr, in)
		if err != nil {
			return a, types.Field{}, execerr.WithNode(execerr.Wrap(err, execerr.CodeInvalidPlan, "resolve aggregation "+a.Expr.String()), execerr.CodeInvalidPlan, n.ID, string(n.Type))
		}
		if a.Name == "" {
			a.Name = a.Expr.OutputName()
		}
		return a, types.Field{Name: a.Name, Type: dt}, nil
	}

	f, ok := in.Lookup(a.Column)
	if !ok {
		return a, types.Field{}, c.fail(n, execerr.CodeSchemaMismatch, "aggregation column %q not found in %s", a.Column, in)
	}
	dt, err := expr.AggOutputType(fn, f.Type)
	if err != nil {
		return a, types.Field{}, execerr.WithNode(err, execerr.CodeUnsupportedAggregation, n.ID, string(n.Type))
	}
	if a.Name == "" {
		a.Name = a.Column
	}
	return a, types.Field{Name: a.Name, Type: dt}, nil
}

func (c *Compiler) compileWindow(n *logical.Node, w *logical.WindowSpec, in *types.Schema) (*plan.WindowConfig, types.Field, error) {
	tf, ok := in.Lookup(w.TimeColumn)
	if !ok {
		return nil, types.Field{}, c.fail(n, execerr.CodeSchemaMismatch, "time column %q not found in %s", w.TimeColumn, in)
	}
	if !tf.Type.IsIntegerBacked() {
		return nil, types.Field{}, c.fail(n, execerr.CodeInvalidPlan, "time column %q must be integer or temporal, got %s", tf.Name, tf.Type)
	}

	units := func(name, s string) (int64, error) {
		d, err := logical.ParseDuration(s)
		if err != nil {
			return 0, c.fail(n, execerr.CodeInvalidPlan, "%s: %v", name, err)
		}
		v, err := d.ToUnits(tf.Type)
		if err != nil {
			return 0, c.fail(n, execerr.CodeInvalidPlan, "%s: %v", name, err)
		}
		return v, nil
	}

	every, err := units("every", w.Every)
	if err != nil {
		return nil, types.Field{}, err
	}
	if every <= 0 {
		return nil, types.Field{}, c.fail(n, execerr.CodeInvalidPlan, "window every must be positive")
	}
	period := every
	if w.Period != "" {
		if period, err = units("period", w.Period); err != nil {
			return nil, types.Field{}, err
		}
		if period <= 0 {
			return nil, types.Field{}, c.fail(n, execerr.CodeInvalidPlan, "window period must be positive")
		}
	}
	offset, err := units("offset", w.Offset)
	if err != nil {
		return nil, types.Field{}, err
	}

	out := &plan.WindowConfig{
		TimeColumn:        tf.Name,
		Every:             every,
		Period:            period,
		Offset:            offset,
		Closed:            plan.ClosedWindow(c.cfg.Window.Closed),
		Label:             plan.WindowLabel(c.cfg.Window.Label),
		EmitEmpty:         c.cfg.Window.EmitEmpty,
		IncludeBoundaries: c.cfg.Window.IncludeBoundaries,
	}
	if w.Closed != "" {
		out.Closed = plan.ClosedWindow(w.Closed)
	}
	if w.Label != "" {
		out.Label = plan.WindowLabel(w.Label)
	}
	if w.EmitEmpty != nil {
		out.EmitEmpty = *w.EmitEmpty
	}
	if w.IncludeBoundaries != nil {
		out.IncludeBoundaries = *w.IncludeBoundaries
	}
	switch out.Closed {
	case plan.ClosedLeft, plan.ClosedRight, plan.ClosedBoth, plan.ClosedNone:
	default:
		return nil, types.Field{}, c.fail(n, execerr.CodeInvalidPlan, "unknown closed window %q", out.Closed)
	}
	switch out.Label {
	case plan.LabelLeft, plan.LabelRight, plan.LabelDataPoint:
	default:
		return nil, types.Field{}, c.fail(n, execerr.CodeInvalidPlan, "unknown window label %q", out.Label)
	}
	return out, tf, nil
}
