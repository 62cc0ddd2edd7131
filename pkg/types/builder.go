package types

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"
)

// Builder 按行追加值构造列
type Builder struct {
	dtype   DataType
	bools   []bool
	i32     []int32
	i64     []int64
	f64     []float64
	strs    []string
	valid   []bool
	hasNull bool
}

// NewBuilder 创建指定类型的列构造器
func NewBuilder(dtype DataType, capacity int) *Builder {
	b := &Builder{dtype: dtype, valid: make([]bool, 0, capacity)}
	switch dtype.ID {
	case Boolean:
		b.bools = make([]bool, 0, capacity)
	case Int32, Date:
		b.i32 = make([]int32, 0, capacity)
	case Int64, Datetime:
		b.i64 = make([]int64, 0, capacity)
	case Float64:
		b.f64 = make([]float64, 0, capacity)
	default:
		b.strs = make([]string, 0, capacity)
	}
	return b
}

// Len 已追加的行数
func (b *Builder) Len() int {
	return len(b.valid)
}

// AppendNull 追加空值
func (b *Builder) AppendNull() {
	b.hasNull = true
	b.valid = append(b.valid, false)
	switch b.dtype.ID {
	case Boolean:
		b.bools = append(b.bools, false)
	case Int32, Date:
		b.i32 = append(b.i32, 0)
	case Int64, Datetime:
		b.i64 = append(b.i64, 0)
	case Float64:
		b.f64 = append(b.f64, 0)
	default:
		b.strs = append(b.strs, "")
	}
}

// AppendFrom 追加 col 第 i 行（类型必须相同）
func (b *Builder) AppendFrom(col *Column, i int) {
	if col.IsNull(i) {
		b.AppendNull()
		return
	}
	b.valid = append(b.valid, true)
	switch b.dtype.ID {
	case Boolean:
		b.bools = append(b.bools, col.Bools()[i])
	case Int32, Date:
		b.i32 = append(b.i32, col.Int32s()[i])
	case Int64, Datetime:
		b.i64 = append(b.i64, col.Int64At(i))
	case Float64:
		b.f64 = append(b.f64, col.Float64At(i))
	default:
		b.strs = append(b.strs, col.Strings()[i])
	}
}

// Append 追加任意值，nil 为空值，其余值按列类型转换
func (b *Builder) Append(v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	if t, ok := v.(time.Time); ok {
		return b.appendTime(t)
	}

	var err error
	switch b.dtype.ID {
	case Boolean:
		var x bool
		if x, err = cast.ToBoolE(v); err == nil {
			b.bools = append(b.bools, x)
		}
	case Int32, Date:
		var x int32
		if x, err = toInt32(v); err == nil {
			b.i32 = append(b.i32, x)
		}
	case Int64, Datetime:
		var x int64
		if x, err = toInt64(v); err == nil {
			b.i64 = append(b.i64, x)
		}
	case Float64:
		var x float64
		if x, err = cast.ToFloat64E(v); err == nil {
			b.f64 = append(b.f64, x)
		}
	default:
		var x string
		if x, err = cast.ToStringE(v); err == nil {
			b.strs = append(b.strs, x)
		}
	}
	if err != nil {
		return fmt.Errorf("cannot append %v (%T) to %s column: %w", v, v, b.dtype, err)
	}
	b.valid = append(b.valid, true)
	return nil
}

// toInt64 整数转换，拒绝带小数的浮点数和超出 int64 范围的值
func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case float64:
		return floatToInt64(x)
	case float32:
		return floatToInt64(float64(x))
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
	}
	return cast.ToInt64E(v)
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	// 2^63 本身已越界
	if f < math.MinInt64 || f >= -math.MinInt64 {
		return 0, fmt.Errorf("%v overflows int64", f)
	}
	return int64(f), nil
}

func toInt32(v any) (int32, error) {
	x, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if x < math.MinInt32 || x > math.MaxInt32 {
		return 0, fmt.Errorf("%d overflows int32", x)
	}
	return int32(x), nil
}

func (b *Builder) appendTime(t time.Time) error {
	switch b.dtype.ID {
	case Date:
		b.i32 = append(b.i32, int32(t.UTC().Unix()/86400))
	case Datetime:
		b.i64 = append(b.i64, TimeToDatetime(t, b.dtype.Unit))
	case Utf8:
		b.strs = append(b.strs, t.Format(time.RFC3339Nano))
	default:
		return fmt.Errorf("cannot append time value to %s column", b.dtype)
	}
	b.valid = append(b.valid, true)
	return nil
}

// Finish 生成列，构造器之后不应再使用
func (b *Builder) Finish(name string) *Column {
	var values any
	switch b.dtype.ID {
	case Boolean:
		values = b.bools
	case Int32, Date:
		values = b.i32
	case Int64, Datetime:
		values = b.i64
	case Float64:
		values = b.f64
	default:
		values = b.strs
	}
	var validity *Bitmap
	if b.hasNull {
		validity = BitmapFromBools(b.valid)
	}
	return MustColumn(name, b.dtype, values, validity)
}
