package compiler

import (
	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/logical"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/types"
)

func (c *Compiler) compileJoin(n *logical.Node, left, right *plan.Plan) (*plan.Plan, error) {
	spec := n.JoinSpec
	if spec == nil {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "join without specification")
	}
	how := spec.How
	if how == "" {
		how = plan.InnerJoin
	}
	switch how {
	case plan.InnerJoin, plan.LeftJoin, plan.RightJoin, plan.FullJoin, plan.SemiJoin, plan.AntiJoin, plan.CrossJoin:
	default:
		return nil, c.fail(n, execerr.CodeInvalidPlan, "unknown join type %q", how)
	}

	cfg := &plan.JoinConfig{
		Type:         how,
		LeftOn:       spec.LeftOn,
		RightOn:      spec.RightOn,
		Suffix:       spec.Suffix,
		NullsEqual:   c.cfg.Join.NullsEqual,
		Validate:     spec.Validate,
		AssumeSorted: spec.AssumeSorted || c.cfg.Join.AssumeSorted,
	}
	if cfg.Suffix == "" {
		cfg.Suffix = c.cfg.Join.RightSuffix
	}
	if spec.NullsEqual != nil {
		cfg.NullsEqual = *spec.NullsEqual
	}
	if cfg.Validate == "" {
		cfg.Validate = plan.ValidateManyToMany
	}
	switch cfg.Validate {
	case plan.ValidateManyToMany, plan.ValidateOneToOne, plan.ValidateOneToMany, plan.ValidateManyToOne:
	default:
		return nil, c.fail(n, execerr.CodeInvalidPlan, "unknown join validation %q", cfg.Validate)
	}

	if err := c.validateJoinKeys(n, how, spec); err != nil {
		return nil, err
	}

	ls, rs := left.OutputSchema, right.OutputSchema
	leftKeys := append([]string(nil), spec.LeftOn...)
	rightKeys := append([]string(nil), spec.RightOn...)
	if spec.Asof != nil {
		leftKeys = append(leftKeys, spec.Asof.LeftBy...)
		rightKeys = append(rightKeys, spec.Asof.RightBy...)
	}
	casts, err := c.unifyKeys(n, ls, rs, leftKeys, rightKeys)
	if err != nil {
		return nil, err
	}
	cfg.KeyCasts = casts
	ls = applyCasts(ls, casts, plan.SideLeft)
	rs = applyCasts(rs, casts, plan.SideRight)

	if spec.Asof != nil {
		asof, err := c.compileAsof(n, spec.Asof, ls.Field(mustIndex(ls, spec.LeftOn[0])).Type)
		if err != nil {
			return nil, err
		}
		cfg.Asof = asof
	}

	algo, err := c.chooseAlgorithm(n, spec, how, left, right)
	if err != nil {
		return nil, err
	}
	cfg.Algorithm = algo

	switch {
	case algo == plan.AlgorithmMerge:
		left = c.ensureSorted(left, spec.LeftOn)
		right = c.ensureSorted(right, spec.RightOn)
	case algo == plan.AlgorithmHash:
		cfg.BuildSide = buildSide(how, spec.BuildSide)
	}

	// 默认合并连接键：inner/left/right 合并，full/cross 不合并；as-of 只合并 by 键
	switch how {
	case plan.InnerJoin, plan.LeftJoin, plan.RightJoin:
		cfg.Coalesce = true
	}
	if spec.Coalesce != nil && how != plan.CrossJoin {
		cfg.Coalesce = *spec.Coalesce
	}

	out, err := plan.JoinOutputSchema(ls, rs, cfg)
	if err != nil {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "%v", err)
	}
	return c.newPlan(n, plan.TypeJoin, out, cfg, left, right), nil
}

func (c *Compiler) validateJoinKeys(n *logical.Node, how plan.JoinType, spec *logical.JoinSpec) error {
	if how == plan.CrossJoin {
		if len(spec.LeftOn) > 0 || len(spec.RightOn) > 0 || spec.Asof != nil {
			return c.fail(n, execerr.CodeInvalidPlan, "cross join does not take join keys")
		}
		return nil
	}
	if len(spec.LeftOn) == 0 || len(spec.LeftOn) != len(spec.RightOn) {
		return c.fail(n, execerr.CodeInvalidPlan,
			"join needs the same non-zero number of left and right keys, got %d and %d", len(spec.LeftOn), len(spec.RightOn))
	}
	seen := make(map[[2]string]bool, len(spec.LeftOn))
	for i := range spec.LeftOn {
		pair := [2]string{spec.LeftOn[i], spec.RightOn[i]}
		if seen[pair] {
			return c.fail(n, execerr.CodeInvalidPlan, "join key pair %s=%s repeated", pair[0], pair[1])
		}
		seen[pair] = true
	}

	if a := spec.Asof; a != nil {
		if how != plan.InnerJoin && how != plan.LeftJoin {
			return c.fail(n, execerr.CodeInvalidPlan, "as-of join supports inner and left, got %s", how)
		}
		if len(spec.LeftOn) != 1 {
			return c.fail(n, execerr.CodeInvalidPlan, "as-of join takes exactly one key, got %d", len(spec.LeftOn))
		}
		if len(a.LeftBy) != len(a.RightBy) {
			return c.fail(n, execerr.CodeInvalidPlan,
				"as-of by keys must be given on both sides with equal length, got %d and %d", len(a.LeftBy), len(a.RightBy))
		}
		strategy := a.Strategy
		if strategy == "" {
			strategy = c.cfg.Join.AsofStrategy
		}
		if !plan.AsofStrategy(strategy).Valid() {
			return c.fail(n, execerr.CodeAsofDirectionInvalid, "unknown as-of strategy %q", strategy)
		}
	}
	return nil
}

// unifyKeys 对每对键求无损公共类型，需要转换的一侧记录到 KeyCast
func (c *Compiler) unifyKeys(n *logical.Node, ls, rs *types.Schema, leftKeys, rightKeys []string) ([]plan.KeyCast, error) {
	var casts []plan.KeyCast
	castTo := map[plan.Side]map[string]types.DataType{plan.SideLeft: {}, plan.SideRight: {}}
	for i := range leftKeys {
		lf, ok := ls.Lookup(leftKeys[i])
		if !ok {
			return nil, c.fail(n, execerr.CodeSchemaMismatch, "left join key %q not found in %s", leftKeys[i], ls)
		}
		rf, ok := rs.Lookup(rightKeys[i])
		if !ok {
			return nil, c.fail(n, execerr.CodeSchemaMismatch, "right join key %q not found in %s", rightKeys[i], rs)
		}
		if lf.Type.Equal(rf.Type) {
			continue
		}
		super, ok := types.LosslessSupertype(lf.Type, rf.Type)
		if !ok {
			return nil, c.fail(n, execerr.CodeJoinKeyTypeMismatch,
				"join key %s (%s) and %s (%s) have no lossless common type", lf.Name, lf.Type, rf.Name, rf.Type)
		}
		for _, side := range []struct {
			side plan.Side
			f    types.Field
		}{{plan.SideLeft, lf}, {plan.SideRight, rf}} {
			if side.f.Type.Equal(super) {
				continue
			}
			if prev, done := castTo[side.side][side.f.Name]; done {
				if !prev.Equal(super) {
					return nil, c.fail(n, execerr.CodeJoinKeyTypeMismatch,
						"%s key %q used with conflicting types %s and %s", side.side, side.f.Name, prev, super)
				}
				continue
			}
			castTo[side.side][side.f.Name] = super
			casts = append(casts, plan.KeyCast{Side: side.side, Column: side.f.Name, To: super})
		}
	}
	return casts, nil
}

func applyCasts(s *types.Schema, casts []plan.KeyCast, side plan.Side) *types.Schema {
	if len(casts) == 0 {
		return s
	}
	fields := s.Fields()
	for _, kc := range casts {
		if kc.Side != side {
			continue
		}
		if i, ok := s.Index(kc.Column); ok {
			fields[i].Type = kc.To
		}
	}
	return types.MustSchema(fields...)
}

func mustIndex(s *types.Schema, name string) int {
	i, _ := s.Index(name)
	return i
}

func (c *Compiler) compileAsof(n *logical.Node, a *logical.AsofSpec, keyType types.DataType) (*plan.AsofConfig, error) {
	if !keyType.IsIntegerBacked() && keyType.ID != types.Float64 {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "as-of key must be numeric or temporal, got %s", keyType)
	}
	strategy := a.Strategy
	if strategy == "" {
		strategy = c.cfg.Join.AsofStrategy
	}
	out := &plan.AsofConfig{
		Strategy:          plan.AsofStrategy(strategy),
		LeftBy:            a.LeftBy,
		RightBy:           a.RightBy,
		AllowExactMatches: true,
	}
	if a.AllowExactMatches != nil {
		out.AllowExactMatches = *a.AllowExactMatches
	}

	var tol int64
	if a.Tolerance != "" {
		d, err := logical.ParseDuration(a.Tolerance)
		if err != nil {
			return nil, c.fail(n, execerr.CodeInvalidPlan, "%v", err)
		}
		if tol, err = d.ToUnits(keyType); err != nil {
			return nil, c.fail(n, execerr.CodeInvalidPlan, "tolerance: %v", err)
		}
	} else if c.cfg.Join.Tolerance > 0 {
		tol = c.cfg.Join.Tolerance
	} else {
		return out, nil
	}
	if tol < 0 {
		return nil, c.fail(n, execerr.CodeInvalidPlan, "as-of tolerance must not be negative")
	}
	out.Tolerance = &tol
	return out, nil
}

func (c *Compiler) chooseAlgorithm(n *logical.Node, spec *logical.JoinSpec, how plan.JoinType, left, right *plan.Plan) (plan.JoinAlgorithm, error) {
	if spec.Asof != nil {
		if spec.Algorithm != "" && spec.Algorithm != plan.AlgorithmAsof {
			return "", c.fail(n, execerr.CodeInvalidPlan, "as-of join cannot run as %s", spec.Algorithm)
		}
		return plan.AlgorithmAsof, nil
	}

	algo := spec.Algorithm
	if algo == "" {
		algo = plan.JoinAlgorithm(c.cfg.Join.Algorithm)
	}
	switch algo {
	case plan.AlgorithmAsof:
		return "", c.fail(n, execerr.CodeInvalidPlan, "as-of algorithm requires as-of join parameters")
	case plan.AlgorithmMerge:
		if how == plan.CrossJoin {
			return plan.AlgorithmHash, nil
		}
		return plan.AlgorithmMerge, nil
	case plan.AlgorithmHash:
		return plan.AlgorithmHash, nil
	case "":
	default:
		return "", c.fail(n, execerr.CodeInvalidPlan, "unknown join algorithm %q", algo)
	}

	if how != plan.CrossJoin && sortedOn(c.sorted[left], spec.LeftOn) && sortedOn(c.sorted[right], spec.RightOn) {
		return plan.AlgorithmMerge, nil
	}
	return plan.AlgorithmHash, nil
}

func sortedOn(sorted, keys []string) bool {
	if len(keys) == 0 || len(sorted) < len(keys) {
		return false
	}
	for i, k := range keys {
		if sorted[i] != k {
			return false
		}
	}
	return true
}

// ensureSorted 子计划没有声明按 keys 有序时插入排序节点
func (c *Compiler) ensureSorted(child *plan.Plan, keys []string) *plan.Plan {
	if sortedOn(c.sorted[child], keys) {
		return child
	}
	sortKeys := make([]plan.SortKey, len(keys))
	for i, k := range keys {
		sortKeys[i] = plan.SortKey{Column: k, NullsLast: true}
	}
	p := c.newPlan(nil, plan.TypeSort, child.OutputSchema, &plan.SortConfig{Keys: sortKeys}, child)
	c.sorted[p] = keys
	return p
}

// buildSide 哈希连接的建表侧；inner 未指定时为空，运行时选择行数较少的一侧
func buildSide(how plan.JoinType, designated plan.Side) plan.Side {
	switch how {
	case plan.InnerJoin:
		return designated
	case plan.RightJoin:
		return plan.SideLeft
	default:
		return plan.SideRight
	}
}
