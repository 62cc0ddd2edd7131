package types

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Column 列：名称、类型、按物理类型存储的值切片以及可选的有效性位图
// 物理存储：Boolean->[]bool, Int32/Date->[]int32, Int64/Datetime->[]int64,
// Float64->[]float64, Utf8->[]string。validity 为 nil 表示全部非空。
type Column struct {
	name     string
	dtype    DataType
	values   any
	validity *Bitmap
	length   int
}

// NewColumn 创建列，values 的切片类型必须与 dtype 的物理类型一致
func NewColumn(name string, dtype DataType, values any, validity *Bitmap) (*Column, error) {
	n, ok := physicalLen(dtype, values)
	if !ok {
		return nil, fmt.Errorf("column %q: values of type %T do not match data type %s", name, values, dtype)
	}
	if validity != nil && validity.Len() != n {
		return nil, fmt.Errorf("column %q: validity length %d != value length %d", name, validity.Len(), n)
	}
	if validity != nil && validity.CountSet() == n {
		validity = nil
	}
	return &Column{name: name, dtype: dtype, values: values, validity: validity, length: n}, nil
}

// MustColumn 同 NewColumn，出错时 panic
func MustColumn(name string, dtype DataType, values any, validity *Bitmap) *Column {
	c, err := NewColumn(name, dtype, values, validity)
	if err != nil {
		panic(err)
	}
	return c
}

func NewBoolColumn(name string, values []bool) *Column {
	return MustColumn(name, BooleanType, values, nil)
}

func NewInt32Column(name string, values []int32) *Column {
	return MustColumn(name, Int32Type, values, nil)
}

func NewInt64Column(name string, values []int64) *Column {
	return MustColumn(name, Int64Type, values, nil)
}

func NewFloat64Column(name string, values []float64) *Column {
	return MustColumn(name, Float64Type, values, nil)
}

func NewUtf8Column(name string, values []string) *Column {
	return MustColumn(name, Utf8Type, values, nil)
}

func NewDatetimeColumn(name string, unit TimeUnit, values []int64) *Column {
	return MustColumn(name, DatetimeType(unit), values, nil)
}

// NewColumnFromValues 由任意值构造列，nil 为空值
func NewColumnFromValues(name string, dtype DataType, values []any) (*Column, error) {
	b := NewBuilder(dtype, len(values))
	for _, v := range values {
		if err := b.Append(v); err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
	}
	return b.Finish(name), nil
}

// NewNullColumn 创建长度为 n 的全空列
func NewNullColumn(name string, dtype DataType, n int) *Column {
	return &Column{
		name:     name,
		dtype:    dtype,
		values:   makeValues(dtype, n),
		validity: NewBitmap(n, false),
		length:   n,
	}
}

func physicalLen(dtype DataType, values any) (int, bool) {
	switch dtype.ID {
	case Boolean:
		v, ok := values.([]bool)
		return len(v), ok
	case Int32, Date:
		v, ok := values.([]int32)
		return len(v), ok
	case Int64, Datetime:
		v, ok := values.([]int64)
		return len(v), ok
	case Float64:
		v, ok := values.([]float64)
		return len(v), ok
	case Utf8:
		v, ok := values.([]string)
		return len(v), ok
	}
	return 0, false
}

func makeValues(dtype DataType, n int) any {
	switch dtype.ID {
	case Boolean:
		return make([]bool, n)
	case Int32, Date:
		return make([]int32, n)
	case Int64, Datetime:
		return make([]int64, n)
	case Float64:
		return make([]float64, n)
	default:
		return make([]string, n)
	}
}

func (c *Column) Name() string       { return c.name }
func (c *Column) Type() DataType     { return c.dtype }
func (c *Column) Len() int           { return c.length }
func (c *Column) Validity() *Bitmap  { return c.validity }
func (c *Column) Values() any        { return c.values }
func (c *Column) Field() Field       { return Field{Name: c.name, Type: c.dtype} }
func (c *Column) Bools() []bool      { v, _ := c.values.([]bool); return v }
func (c *Column) Int32s() []int32    { v, _ := c.values.([]int32); return v }
func (c *Column) Int64s() []int64    { v, _ := c.values.([]int64); return v }
func (c *Column) Float64s() []float64 { v, _ := c.values.([]float64); return v }
func (c *Column) Strings() []string  { v, _ := c.values.([]string); return v }

// IsNull 第 i 行是否为空
func (c *Column) IsNull(i int) bool {
	return c.validity != nil && !c.validity.Get(i)
}

// NullCount 空值数量
func (c *Column) NullCount() int {
	if c.validity == nil {
		return 0
	}
	return c.length - c.validity.CountSet()
}

// Rename 返回共享数据、仅名称不同的列
func (c *Column) Rename(name string) *Column {
	cp := *c
	cp.name = name
	return &cp
}

// Value 第 i 行的值，空值返回 nil；Date 返回 int32，Datetime 返回 int64
func (c *Column) Value(i int) any {
	if c.IsNull(i) {
		return nil
	}
	switch v := c.values.(type) {
	case []bool:
		return v[i]
	case []int32:
		return v[i]
	case []int64:
		return v[i]
	case []float64:
		return v[i]
	case []string:
		return v[i]
	}
	return nil
}

// Int64At 整数或时间列第 i 行按 int64 读取（不检查空值）
func (c *Column) Int64At(i int) int64 {
	switch v := c.values.(type) {
	case []int32:
		return int64(v[i])
	case []int64:
		return v[i]
	case []float64:
		return int64(v[i])
	}
	return 0
}

// Float64At 数值列第 i 行按 float64 读取（不检查空值）
func (c *Column) Float64At(i int) float64 {
	switch v := c.values.(type) {
	case []int32:
		return float64(v[i])
	case []int64:
		return float64(v[i])
	case []float64:
		return v[i]
	}
	return 0
}

// Take 按下标收集行，下标 -1 产生空值
func (c *Column) Take(indices []int) *Column {
	var values any
	switch v := c.values.(type) {
	case []bool:
		values = takeValues(v, indices)
	case []int32:
		values = takeValues(v, indices)
	case []int64:
		values = takeValues(v, indices)
	case []float64:
		values = takeValues(v, indices)
	case []string:
		values = takeValues(v, indices)
	}

	var validity *Bitmap
	for i, idx := range indices {
		if idx >= 0 && !c.IsNull(idx) {
			continue
		}
		if validity == nil {
			validity = NewBitmap(len(indices), true)
		}
		validity.Set(i, false)
	}
	return &Column{name: c.name, dtype: c.dtype, values: values, validity: validity, length: len(indices)}
}

func takeValues[T any](src []T, indices []int) []T {
	out := make([]T, len(indices))
	for i, idx := range indices {
		if idx >= 0 {
			out[i] = src[idx]
		}
	}
	return out
}

// Slice 截取 [offset, offset+length)，与原列共享底层数据
func (c *Column) Slice(offset, length int) *Column {
	end := offset + length
	var values any
	switch v := c.values.(type) {
	case []bool:
		values = v[offset:end]
	case []int32:
		values = v[offset:end]
	case []int64:
		values = v[offset:end]
	case []float64:
		values = v[offset:end]
	case []string:
		values = v[offset:end]
	}
	var validity *Bitmap
	if c.validity != nil {
		validity = c.validity.Slice(offset, length)
	}
	return &Column{name: c.name, dtype: c.dtype, values: values, validity: validity, length: length}
}

// Broadcast 把长度为 1 的列扩展到 n 行
func (c *Column) Broadcast(n int) *Column {
	if c.length == n || c.length != 1 {
		return c
	}
	idx := make([]int, n)
	return c.Take(idx)
}

// ConcatColumns 按顺序拼接同类型的列
func ConcatColumns(name string, cols ...*Column) (*Column, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("concat %q: no columns", name)
	}
	dtype := cols[0].dtype
	total := 0
	hasNull := false
	for _, c := range cols {
		if !c.dtype.Equal(dtype) {
			return nil, fmt.Errorf("concat %q: type %s != %s", name, c.dtype, dtype)
		}
		total += c.length
		hasNull = hasNull || c.validity != nil
	}

	var values any
	switch dtype.ID {
	case Boolean:
		values = concatValues(cols, (*Column).Bools, total)
	case Int32, Date:
		values = concatValues(cols, (*Column).Int32s, total)
	case Int64, Datetime:
		values = concatValues(cols, (*Column).Int64s, total)
	case Float64:
		values = concatValues(cols, (*Column).Float64s, total)
	default:
		values = concatValues(cols, (*Column).Strings, total)
	}

	var validity *Bitmap
	if hasNull {
		validity = NewBitmap(total, true)
		pos := 0
		for _, c := range cols {
			for i := range c.length {
				if c.IsNull(i) {
					validity.Set(pos+i, false)
				}
			}
			pos += c.length
		}
	}
	return NewColumn(name, dtype, values, validity)
}

func concatValues[T any](cols []*Column, get func(*Column) []T, total int) []T {
	out := make([]T, 0, total)
	for _, c := range cols {
		out = append(out, get(c)...)
	}
	return out
}

// Cast 无损类型转换：Int32->Int64，整数->Float64，Date->Datetime
func (c *Column) Cast(to DataType) (*Column, error) {
	if c.dtype.Equal(to) {
		return c, nil
	}
	switch {
	case c.dtype.ID == Int32 && to.ID == Int64:
		src := c.Int32s()
		out := make([]int64, len(src))
		for i, v := range src {
			out[i] = int64(v)
		}
		return NewColumn(c.name, to, out, c.validity)
	case c.dtype.IsInteger() && to.ID == Float64:
		out := make([]float64, c.length)
		for i := range out {
			out[i] = c.Float64At(i)
		}
		return NewColumn(c.name, to, out, c.validity)
	case c.dtype.ID == Date && to.ID == Datetime:
		src := c.Int32s()
		perDay := 86400 * to.Unit.PerSecond()
		out := make([]int64, len(src))
		for i, v := range src {
			out[i] = int64(v) * perDay
		}
		return NewColumn(c.name, to, out, c.validity)
	}
	return nil, fmt.Errorf("cannot cast column %q from %s to %s", c.name, c.dtype, to)
}

// Compare 比较 c[i] 与 o[j]，两列物理类型相同且均非空
func (c *Column) Compare(i int, o *Column, j int) int {
	switch v := c.values.(type) {
	case []bool:
		a, b := v[i], o.Bools()[j]
		switch {
		case a == b:
			return 0
		case !a:
			return -1
		default:
			return 1
		}
	case []int32:
		return cmp.Compare(v[i], o.Int32s()[j])
	case []int64:
		return cmp.Compare(v[i], o.Int64s()[j])
	case []float64:
		return cmp.Compare(v[i], o.Float64s()[j])
	case []string:
		return strings.Compare(v[i], o.Strings()[j])
	}
	return 0
}

// EstimatedSize 估算内存占用（字节）
func (c *Column) EstimatedSize() int64 {
	var size int64
	switch v := c.values.(type) {
	case []bool:
		size = int64(len(v))
	case []int32:
		size = int64(len(v)) * 4
	case []int64:
		size = int64(len(v)) * 8
	case []float64:
		size = int64(len(v)) * 8
	case []string:
		for _, s := range v {
			size += int64(len(s)) + 16
		}
	}
	if c.validity != nil {
		size += int64(len(c.validity.buf))
	}
	return size
}

// FormatValue 第 i 行的显示文本
func (c *Column) FormatValue(i int) string {
	if c.IsNull(i) {
		return "null"
	}
	switch c.dtype.ID {
	case Boolean:
		return strconv.FormatBool(c.Bools()[i])
	case Int32:
		return strconv.FormatInt(int64(c.Int32s()[i]), 10)
	case Int64:
		return strconv.FormatInt(c.Int64s()[i], 10)
	case Float64:
		return strconv.FormatFloat(c.Float64s()[i], 'g', -1, 64)
	case Date:
		return time.Unix(int64(c.Int32s()[i])*86400, 0).UTC().Format(time.DateOnly)
	case Datetime:
		return DatetimeToTime(c.Int64s()[i], c.dtype.Unit).Format(time.RFC3339Nano)
	default:
		return c.Strings()[i]
	}
}

// DatetimeToTime 把时间单位数转换为 UTC 时间
func DatetimeToTime(v int64, unit TimeUnit) time.Time {
	per := unit.PerSecond()
	sec := v / per
	rem := v % per
	if rem < 0 {
		sec--
		rem += per
	}
	return time.Unix(sec, rem*(1_000_000_000/per)).UTC()
}

// TimeToDatetime 把时间转换为指定精度的时间单位数
func TimeToDatetime(t time.Time, unit TimeUnit) int64 {
	switch unit {
	case Milliseconds:
		return t.UnixMilli()
	case Microseconds:
		return t.UnixMicro()
	default:
		return t.UnixNano()
	}
}
