package expr

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/colexec/pkg/types"
)

// ExprType 表达式类型
type ExprType string

const (
	ExprTypeColumn   ExprType = "column"
	ExprTypeLiteral  ExprType = "literal"
	ExprTypeBinary   ExprType = "binary"
	ExprTypeUnary    ExprType = "unary"
	ExprTypeCast     ExprType = "cast"
	ExprTypeAlias    ExprType = "alias"
	ExprTypeFunction ExprType = "function"
)

// 二元运算符
const (
	OpEq  = "="
	OpNe  = "!="
	OpLt  = "<"
	OpLe  = "<="
	OpGt  = ">"
	OpGe  = ">="
	OpAnd = "and"
	OpOr  = "or"
	OpAdd = "+"
	OpSub = "-"
	OpMul = "*"
	OpDiv = "/"
)

// 一元运算符
const (
	OpNot       = "not"
	OpNeg       = "neg"
	OpIsNull    = "is_null"
	OpIsNotNull = "is_not_null"
)

// Expr 表达式树，可 JSON 序列化
type Expr struct {
	Type     ExprType        `json:"type"`
	Column   string          `json:"column,omitempty"`
	Value    interface{}     `json:"value,omitempty"`
	DataType *types.DataType `json:"data_type,omitempty"` // 字面量类型或 cast 目标类型
	Operator string          `json:"operator,omitempty"`
	Left     *Expr           `json:"left,omitempty"`
	Right    *Expr           `json:"right,omitempty"`
	Function string          `json:"function,omitempty"` // 函数名，目前均为归约函数
	Alias    string          `json:"alias,omitempty"`
}

// Col 列引用
func Col(name string) *Expr {
	return &Expr{Type: ExprTypeColumn, Column: name}
}

// Lit 字面量，类型由 Go 值推断
func Lit(v interface{}) *Expr {
	return &Expr{Type: ExprTypeLiteral, Value: v}
}

// TypedLit 指定类型的字面量，nil 值表示该类型的空值
func TypedLit(v interface{}, dt types.DataType) *Expr {
	return &Expr{Type: ExprTypeLiteral, Value: v, DataType: &dt}
}

// Binary 二元表达式
func Binary(op string, left, right *Expr) *Expr {
	return &Expr{Type: ExprTypeBinary, Operator: op, Left: left, Right: right}
}

func Eq(l, r *Expr) *Expr  { return Binary(OpEq, l, r) }
func Gt(l, r *Expr) *Expr  { return Binary(OpGt, l, r) }
func Lt(l, r *Expr) *Expr  { return Binary(OpLt, l, r) }
func And(l, r *Expr) *Expr { return Binary(OpAnd, l, r) }

// Unary 一元表达式
func Unary(op string, operand *Expr) *Expr {
	return &Expr{Type: ExprTypeUnary, Operator: op, Left: operand}
}

// Not 逻辑非
func Not(e *Expr) *Expr { return Unary(OpNot, e) }

// IsNull 空值判断
func IsNull(e *Expr) *Expr { return Unary(OpIsNull, e) }

// Cast 类型转换
func Cast(e *Expr, to types.DataType) *Expr {
	return &Expr{Type: ExprTypeCast, Left: e, DataType: &to}
}

// Alias 重命名
func Alias(e *Expr, name string) *Expr {
	return &Expr{Type: ExprTypeAlias, Left: e, Alias: name}
}

// Call 归约函数调用，结果为单行
func Call(fn AggFunc, arg *Expr) *Expr {
	return &Expr{Type: ExprTypeFunction, Function: string(fn), Left: arg}
}

// OutputName 表达式结果列名
func (e *Expr) OutputName() string {
	switch e.Type {
	case ExprTypeAlias:
		return e.Alias
	case ExprTypeColumn:
		return e.Column
	case ExprTypeCast, ExprTypeUnary, ExprTypeFunction:
		if e.Left != nil {
			return e.Left.OutputName()
		}
	case ExprTypeBinary:
		if e.Left != nil {
			return e.Left.OutputName()
		}
	case ExprTypeLiteral:
		return "literal"
	}
	return e.String()
}

// Columns 表达式引用的列，按首次出现顺序
func (e *Expr) Columns() []string {
	var out []string
	seen := map[string]bool{}
	var walk func(*Expr)
	walk = func(x *Expr) {
		if x == nil {
			return
		}
		if x.Type == ExprTypeColumn && !seen[x.Column] {
			seen[x.Column] = true
			out = append(out, x.Column)
		}
		walk(x.Left)
		walk(x.Right)
	}
	walk(e)
	return out
}

// String 用于 explain 输出
func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Type {
	case ExprTypeColumn:
		return "col(" + e.Column + ")"
	case ExprTypeLiteral:
		if s, ok := e.Value.(string); ok {
			return fmt.Sprintf("%q", s)
		}
		if e.Value == nil {
			return "null"
		}
		return fmt.Sprintf("%v", e.Value)
	case ExprTypeBinary:
		return fmt.Sprintf("(%s %s %s)", e.Left, e.Operator, e.Right)
	case ExprTypeUnary:
		return fmt.Sprintf("%s(%s)", e.Operator, e.Left)
	case ExprTypeCast:
		return fmt.Sprintf("cast(%s as %s)", e.Left, e.DataType)
	case ExprTypeAlias:
		return fmt.Sprintf("%s as %s", e.Left, e.Alias)
	case ExprTypeFunction:
		return fmt.Sprintf("%s(%s)", strings.ToLower(e.Function), e.Left)
	}
	return string(e.Type)
}
