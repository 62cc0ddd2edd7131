package expr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/kasuganosora/colexec/pkg/types"
)

// Evaluator 表达式求值器，执行器只依赖这个接口
type Evaluator interface {
	// Evaluate 在 chunk 上求值，结果长度等于行数；归约函数返回单行结果
	Evaluate(ctx context.Context, e *Expr, chunk *types.Chunk) (*types.Column, error)
	// ResolveType 推断表达式在给定 Schema 下的结果类型
	ResolveType(e *Expr, schema *types.Schema) (types.DataType, error)
}

// DefaultEvaluator 内置的列式求值器
type DefaultEvaluator struct{}

// NewEvaluator 创建内置求值器
func NewEvaluator() *DefaultEvaluator {
	return &DefaultEvaluator{}
}

// Evaluate 实现 Evaluator
func (ev *DefaultEvaluator) Evaluate(ctx context.Context, e *Expr, chunk *types.Chunk) (*types.Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	return ev.eval(e, chunk)
}

func (ev *DefaultEvaluator) eval(e *Expr, chunk *types.Chunk) (*types.Column, error) {
	switch e.Type {
	case ExprTypeColumn:
		col, ok := chunk.ColumnByName(e.Column)
		if !ok {
			return nil, fmt.Errorf("column %q not found in %s", e.Column, chunk.Schema())
		}
		return col, nil

	case ExprTypeLiteral:
		return literalColumn(e, chunk.NumRows())

	case ExprTypeAlias:
		col, err := ev.eval(e.Left, chunk)
		if err != nil {
			return nil, err
		}
		return col.Rename(e.Alias), nil

	case ExprTypeCast:
		col, err := ev.eval(e.Left, chunk)
		if err != nil {
			return nil, err
		}
		return castColumn(col, *e.DataType)

	case ExprTypeUnary:
		col, err := ev.eval(e.Left, chunk)
		if err != nil {
			return nil, err
		}
		return evalUnary(e.Operator, col)

	case ExprTypeBinary:
		l, err := ev.eval(e.Left, chunk)
		if err != nil {
			return nil, err
		}
		r, err := ev.eval(e.Right, chunk)
		if err != nil {
			return nil, err
		}
		if l.Len() != r.Len() {
			if l.Len() == 1 {
				l = l.Broadcast(r.Len())
			} else if r.Len() == 1 {
				r = r.Broadcast(l.Len())
			} else {
				return nil, fmt.Errorf("operand lengths differ: %d vs %d", l.Len(), r.Len())
			}
		}
		return evalBinary(e.Operator, l.Name(), l, r)

	case ExprTypeFunction:
		fn, ok := ParseAggFunc(e.Function)
		if !ok || fn == AggExpr {
			return nil, fmt.Errorf("unknown function %q", e.Function)
		}
		col, err := ev.eval(e.Left, chunk)
		if err != nil {
			return nil, err
		}
		outType, err := AggOutputType(fn, col.Type())
		if err != nil {
			return nil, err
		}
		b := types.NewBuilder(outType, 1)
		if err := b.Append(Reduce(fn, col, AllRows(col.Len()))); err != nil {
			return nil, err
		}
		return b.Finish(col.Name()), nil
	}
	return nil, fmt.Errorf("unsupported expression type %q", e.Type)
}

// ResolveType 实现 Evaluator
func (ev *DefaultEvaluator) ResolveType(e *Expr, schema *types.Schema) (types.DataType, error) {
	if e == nil {
		return types.DataType{}, fmt.Errorf("nil expression")
	}
	switch e.Type {
	case ExprTypeColumn:
		f, ok := schema.Lookup(e.Column)
		if !ok {
			return types.DataType{}, fmt.Errorf("column %q not found in %s", e.Column, schema)
		}
		return f.Type, nil

	case ExprTypeLiteral:
		return literalType(e)

	case ExprTypeAlias:
		return ev.ResolveType(e.Left, schema)

	case ExprTypeCast:
		if e.DataType == nil {
			return types.DataType{}, fmt.Errorf("cast without target type")
		}
		if _, err := ev.ResolveType(e.Left, schema); err != nil {
			return types.DataType{}, err
		}
		return *e.DataType, nil

	case ExprTypeUnary:
		in, err := ev.ResolveType(e.Left, schema)
		if err != nil {
			return types.DataType{}, err
		}
		switch e.Operator {
		case OpIsNull, OpIsNotNull:
			return types.BooleanType, nil
		case OpNot:
			if in.ID != types.Boolean {
				return types.DataType{}, fmt.Errorf("not requires bool, got %s", in)
			}
			return in, nil
		case OpNeg:
			if !in.IsNumeric() {
				return types.DataType{}, fmt.Errorf("negation requires a numeric operand, got %s", in)
			}
			return in, nil
		}
		return types.DataType{}, fmt.Errorf("unknown unary operator %q", e.Operator)

	case ExprTypeBinary:
		lt, err := ev.ResolveType(e.Left, schema)
		if err != nil {
			return types.DataType{}, err
		}
		rt, err := ev.ResolveType(e.Right, schema)
		if err != nil {
			return types.DataType{}, err
		}
		return binaryType(e.Operator, lt, rt)

	case ExprTypeFunction:
		fn, ok := ParseAggFunc(e.Function)
		if !ok || fn == AggExpr {
			return types.DataType{}, fmt.Errorf("unknown function %q", e.Function)
		}
		in, err := ev.ResolveType(e.Left, schema)
		if err != nil {
			return types.DataType{}, err
		}
		return AggOutputType(fn, in)
	}
	return types.DataType{}, fmt.Errorf("unsupported expression type %q", e.Type)
}

func binaryType(op string, lt, rt types.DataType) (types.DataType, error) {
	switch op {
	case OpAnd, OpOr:
		if lt.ID != types.Boolean || rt.ID != types.Boolean {
			return types.DataType{}, fmt.Errorf("%s requires bool operands, got %s and %s", op, lt, rt)
		}
		return types.BooleanType, nil
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if _, err := compareMode(lt, rt); err != nil {
			return types.DataType{}, err
		}
		return types.BooleanType, nil
	case OpAdd, OpSub, OpMul, OpDiv:
		if !lt.IsNumeric() || !rt.IsNumeric() {
			return types.DataType{}, fmt.Errorf("arithmetic %s requires numeric operands, got %s and %s", op, lt, rt)
		}
		if op == OpDiv || lt.ID == types.Float64 || rt.ID == types.Float64 {
			return types.Float64Type, nil
		}
		return types.Int64Type, nil
	}
	return types.DataType{}, fmt.Errorf("unknown binary operator %q", op)
}

type cmpMode int

const (
	cmpInt cmpMode = iota
	cmpFloat
	cmpString
	cmpBool
)

func compareMode(lt, rt types.DataType) (cmpMode, error) {
	switch {
	case lt.ID == types.Utf8 && rt.ID == types.Utf8:
		return cmpString, nil
	case lt.ID == types.Boolean && rt.ID == types.Boolean:
		return cmpBool, nil
	case lt.IsTemporal() && rt.IsTemporal() && !lt.Equal(rt):
		return 0, fmt.Errorf("cannot compare %s with %s", lt, rt)
	case lt.IsIntegerBacked() && rt.IsIntegerBacked():
		return cmpInt, nil
	case lt.IsNumeric() && rt.IsNumeric():
		return cmpFloat, nil
	}
	return 0, fmt.Errorf("cannot compare %s with %s", lt, rt)
}

func evalBinary(op, name string, l, r *types.Column) (*types.Column, error) {
	n := l.Len()
	switch op {
	case OpAnd, OpOr:
		return kleene(op, name, l, r)

	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		mode, err := compareMode(l.Type(), r.Type())
		if err != nil {
			return nil, err
		}
		out := make([]bool, n)
		for i := range n {
			if l.IsNull(i) || r.IsNull(i) {
				continue
			}
			var c int
			switch mode {
			case cmpInt:
				c = cmpOrdered(l.Int64At(i), r.Int64At(i))
			case cmpFloat:
				c = cmpOrdered(l.Float64At(i), r.Float64At(i))
			default:
				c = l.Compare(i, r, i)
			}
			out[i] = compareResult(op, c)
		}
		return types.NewColumn(name, types.BooleanType, out, types.CombineValidity(l.Validity(), r.Validity()))

	case OpAdd, OpSub, OpMul, OpDiv:
		outType, err := binaryType(op, l.Type(), r.Type())
		if err != nil {
			return nil, err
		}
		validity := types.CombineValidity(l.Validity(), r.Validity())
		if outType.ID == types.Float64 {
			out := make([]float64, n)
			for i := range n {
				a, b := l.Float64At(i), r.Float64At(i)
				switch op {
				case OpAdd:
					out[i] = a + b
				case OpSub:
					out[i] = a - b
				case OpMul:
					out[i] = a * b
				case OpDiv:
					out[i] = a / b
				}
			}
			return types.NewColumn(name, outType, out, validity)
		}
		out := make([]int64, n)
		for i := range n {
			a, b := l.Int64At(i), r.Int64At(i)
			switch op {
			case OpAdd:
				out[i] = a + b
			case OpSub:
				out[i] = a - b
			case OpMul:
				out[i] = a * b
			}
		}
		return types.NewColumn(name, outType, out, validity)
	}
	return nil, fmt.Errorf("unknown binary operator %q", op)
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareResult(op string, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	default:
		return c >= 0
	}
}

// kleene 三值逻辑：false and null = false，true or null = true
func kleene(op, name string, l, r *types.Column) (*types.Column, error) {
	if l.Type().ID != types.Boolean || r.Type().ID != types.Boolean {
		return nil, fmt.Errorf("%s requires bool operands", op)
	}
	n := l.Len()
	lv, rv := l.Bools(), r.Bools()
	out := make([]bool, n)
	valid := make([]bool, n)
	for i := range n {
		ln, rn := l.IsNull(i), r.IsNull(i)
		switch op {
		case OpAnd:
			switch {
			case (!ln && !lv[i]) || (!rn && !rv[i]):
				out[i], valid[i] = false, true
			case ln || rn:
			default:
				out[i], valid[i] = true, true
			}
		default:
			switch {
			case (!ln && lv[i]) || (!rn && rv[i]):
				out[i], valid[i] = true, true
			case ln || rn:
			default:
				out[i], valid[i] = false, true
			}
		}
	}
	return types.NewColumn(name, types.BooleanType, out, types.BitmapFromBools(valid))
}

func evalUnary(op string, col *types.Column) (*types.Column, error) {
	n := col.Len()
	switch op {
	case OpIsNull, OpIsNotNull:
		out := make([]bool, n)
		for i := range n {
			out[i] = col.IsNull(i) == (op == OpIsNull)
		}
		return types.NewColumn(col.Name(), types.BooleanType, out, nil)
	case OpNot:
		src := col.Bools()
		if src == nil {
			return nil, fmt.Errorf("not requires bool, got %s", col.Type())
		}
		out := make([]bool, n)
		for i, v := range src {
			out[i] = !v
		}
		return types.NewColumn(col.Name(), types.BooleanType, out, col.Validity())
	case OpNeg:
		switch col.Type().ID {
		case types.Int32:
			out := make([]int32, n)
			for i, v := range col.Int32s() {
				out[i] = -v
			}
			return types.NewColumn(col.Name(), col.Type(), out, col.Validity())
		case types.Int64:
			out := make([]int64, n)
			for i, v := range col.Int64s() {
				out[i] = -v
			}
			return types.NewColumn(col.Name(), col.Type(), out, col.Validity())
		case types.Float64:
			out := make([]float64, n)
			for i, v := range col.Float64s() {
				out[i] = -v
			}
			return types.NewColumn(col.Name(), col.Type(), out, col.Validity())
		}
		return nil, fmt.Errorf("negation requires a numeric operand, got %s", col.Type())
	}
	return nil, fmt.Errorf("unknown unary operator %q", op)
}

// castColumn 无损转换走 Column.Cast，其余按值逐行转换
func castColumn(col *types.Column, to types.DataType) (*types.Column, error) {
	if out, err := col.Cast(to); err == nil {
		return out, nil
	}
	b := types.NewBuilder(to, col.Len())
	for i := range col.Len() {
		if col.IsNull(i) {
			b.AppendNull()
			continue
		}
		var v interface{} = col.Value(i)
		switch {
		case to.ID == types.Utf8:
			v = col.FormatValue(i)
		case to.IsInteger():
			// 浮点转整数向零截断
			if f, ok := v.(float64); ok {
				v = math.Trunc(f)
			}
		}
		if err := b.Append(v); err != nil {
			return nil, err
		}
	}
	return b.Finish(col.Name()), nil
}

// literalType 字面量类型：显式类型优先，未指定类型的 null 视为 int64
func literalType(e *Expr) (types.DataType, error) {
	if e.DataType != nil {
		return *e.DataType, nil
	}
	switch v := e.Value.(type) {
	case nil:
		return types.Int64Type, nil
	case bool:
		return types.BooleanType, nil
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return types.Int64Type, nil
	case float32, float64:
		return types.Float64Type, nil
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return types.Int64Type, nil
		}
		return types.Float64Type, nil
	case string:
		return types.Utf8Type, nil
	case time.Time:
		return types.DatetimeType(types.Microseconds), nil
	}
	return types.DataType{}, fmt.Errorf("unsupported literal %v (%T)", e.Value, e.Value)
}

func literalColumn(e *Expr, n int) (*types.Column, error) {
	dt, err := literalType(e)
	if err != nil {
		return nil, err
	}
	v := e.Value
	if num, ok := v.(json.Number); ok {
		if i, err := num.Int64(); err == nil {
			v = i
		} else if f, err := num.Float64(); err == nil {
			v = f
		}
	}
	if f, ok := v.(float64); ok && dt.IsInteger() && f != math.Trunc(f) {
		return nil, fmt.Errorf("literal %v is not an integer", f)
	}
	b := types.NewBuilder(dt, 1)
	if err := b.Append(v); err != nil {
		return nil, err
	}
	one := b.Finish("literal")
	return one.Take(make([]int, n)), nil
}
