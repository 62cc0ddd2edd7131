// Package arrowio 在列 chunk 与 Apache Arrow 记录批之间转换，并提供基于 Arrow IPC 流的源和输出
package arrowio

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/kasuganosora/colexec/pkg/types"
)

var timeUnits = map[types.TimeUnit]arrow.TimeUnit{
	types.Nanoseconds:  arrow.Nanosecond,
	types.Microseconds: arrow.Microsecond,
	types.Milliseconds: arrow.Millisecond,
}

// ToArrowType 列类型对应的 Arrow 类型
func ToArrowType(dt types.DataType) arrow.DataType {
	switch dt.ID {
	case types.Boolean:
		return arrow.FixedWidthTypes.Boolean
	case types.Int32:
		return arrow.PrimitiveTypes.Int32
	case types.Int64:
		return arrow.PrimitiveTypes.Int64
	case types.Float64:
		return arrow.PrimitiveTypes.Float64
	case types.Date:
		return arrow.FixedWidthTypes.Date32
	case types.Datetime:
		return &arrow.TimestampType{Unit: timeUnits[dt.Unit]}
	default:
		return arrow.BinaryTypes.String
	}
}

// FromArrowType Arrow 类型对应的列类型
func FromArrowType(dt arrow.DataType) (types.DataType, error) {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		return types.BooleanType, nil
	case *arrow.Int32Type:
		return types.Int32Type, nil
	case *arrow.Int64Type:
		return types.Int64Type, nil
	case *arrow.Float64Type:
		return types.Float64Type, nil
	case *arrow.StringType:
		return types.Utf8Type, nil
	case *arrow.Date32Type:
		return types.DateType, nil
	case *arrow.TimestampType:
		for u, au := range timeUnits {
			if au == t.Unit {
				return types.DatetimeType(u), nil
			}
		}
		return types.DatetimeType(types.Milliseconds), fmt.Errorf("unsupported timestamp unit %s", t.Unit)
	default:
		return types.DataType{}, fmt.Errorf("unsupported arrow type %s", dt)
	}
}

// ToArrowSchema 转换 Schema
func ToArrowSchema(schema *types.Schema) *arrow.Schema {
	fields := make([]arrow.Field, schema.Len())
	for i, f := range schema.Fields() {
		fields[i] = arrow.Field{Name: f.Name, Type: ToArrowType(f.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// FromArrowSchema 转换 Arrow Schema
func FromArrowSchema(schema *arrow.Schema) (*types.Schema, error) {
	fields := make([]types.Field, schema.NumFields())
	for i, f := range schema.Fields() {
		dt, err := FromArrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields[i] = types.Field{Name: f.Name, Type: dt}
	}
	return types.NewSchema(fields...)
}

// ToRecord 把 chunk 转换为 Arrow 记录批，调用方负责 Release
func ToRecord(mem memory.Allocator, chunk *types.Chunk) arrow.Record {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	schema := ToArrowSchema(chunk.Schema())
	cols := make([]arrow.Array, chunk.NumColumns())
	for i, col := range chunk.Columns() {
		cols[i] = toArray(mem, col)
	}
	rec := array.NewRecord(schema, cols, int64(chunk.NumRows()))
	for _, c := range cols {
		c.Release()
	}
	return rec
}

func validMask(col *types.Column) []bool {
	if col.NullCount() == 0 {
		return nil
	}
	valid := make([]bool, col.Len())
	for i := range valid {
		valid[i] = !col.IsNull(i)
	}
	return valid
}

func toArray(mem memory.Allocator, col *types.Column) arrow.Array {
	b := array.NewBuilder(mem, ToArrowType(col.Type()))
	defer b.Release()
	valid := validMask(col)

	switch bb := b.(type) {
	case *array.BooleanBuilder:
		bb.AppendValues(col.Bools(), valid)
	case *array.Int32Builder:
		bb.AppendValues(col.Int32s(), valid)
	case *array.Int64Builder:
		bb.AppendValues(col.Int64s(), valid)
	case *array.Float64Builder:
		bb.AppendValues(col.Float64s(), valid)
	case *array.Date32Builder:
		vals := make([]arrow.Date32, col.Len())
		for i, v := range col.Int32s() {
			vals[i] = arrow.Date32(v)
		}
		bb.AppendValues(vals, valid)
	case *array.TimestampBuilder:
		vals := make([]arrow.Timestamp, col.Len())
		for i, v := range col.Int64s() {
			vals[i] = arrow.Timestamp(v)
		}
		bb.AppendValues(vals, valid)
	case *array.StringBuilder:
		bb.AppendValues(col.Strings(), valid)
	}
	return b.NewArray()
}

// FromRecord 把 Arrow 记录批转换为 chunk，数据被复制，记录批可随后释放
func FromRecord(rec arrow.Record) (*types.Chunk, error) {
	schema, err := FromArrowSchema(rec.Schema())
	if err != nil {
		return nil, err
	}
	cols := make([]*types.Column, rec.NumCols())
	for i := range cols {
		field := schema.Field(i)
		cols[i], err = fromArray(field.Name, field.Type, rec.Column(i))
		if err != nil {
			return nil, err
		}
	}
	if len(cols) == 0 {
		return types.EmptyChunk(schema), nil
	}
	return types.NewChunk(cols...)
}

func fromArray(name string, dt types.DataType, arr arrow.Array) (*types.Column, error) {
	n := arr.Len()
	var validity *types.Bitmap
	if arr.NullN() > 0 {
		validity = types.NewBitmap(n, true)
		for i := range n {
			if arr.IsNull(i) {
				validity.Set(i, false)
			}
		}
	}

	var values any
	switch a := arr.(type) {
	case *array.Boolean:
		vals := make([]bool, n)
		for i := range vals {
			vals[i] = a.Value(i)
		}
		values = vals
	case *array.Int32:
		values = append([]int32(nil), a.Int32Values()...)
	case *array.Int64:
		values = append([]int64(nil), a.Int64Values()...)
	case *array.Float64:
		values = append([]float64(nil), a.Float64Values()...)
	case *array.Date32:
		vals := make([]int32, n)
		for i, v := range a.Date32Values() {
			vals[i] = int32(v)
		}
		values = vals
	case *array.Timestamp:
		vals := make([]int64, n)
		for i, v := range a.TimestampValues() {
			vals[i] = int64(v)
		}
		values = vals
	case *array.String:
		vals := make([]string, n)
		for i := range vals {
			if a.IsValid(i) {
				vals[i] = a.Value(i)
			}
		}
		values = vals
	default:
		return nil, fmt.Errorf("column %q: unsupported arrow array %T", name, arr)
	}
	return types.NewColumn(name, dt, values, validity)
}
