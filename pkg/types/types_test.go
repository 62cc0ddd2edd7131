package types

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in      string
		want    DataType
		wantErr bool
	}{
		{"int64", Int64Type, false},
		{"INT32", Int32Type, false},
		{"string", Utf8Type, false},
		{"datetime[ms]", DatetimeType(Milliseconds), false},
		{"datetime", DatetimeType(Microseconds), false},
		{"date", DateType, false},
		{"decimal", DataType{}, true},
		{"datetime[s]", DataType{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDataType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s", got)
		})
	}
}

func TestLosslessSupertype(t *testing.T) {
	st, ok := LosslessSupertype(Int32Type, Int64Type)
	assert.True(t, ok)
	assert.Equal(t, Int64Type, st)

	st, ok = LosslessSupertype(Int64Type, Float64Type)
	assert.True(t, ok)
	assert.Equal(t, Float64Type, st)

	_, ok = LosslessSupertype(Int64Type, Utf8Type)
	assert.False(t, ok)

	_, ok = LosslessSupertype(DateType, DatetimeType(Microseconds))
	assert.False(t, ok)

	assert.False(t, DatetimeType(Milliseconds).Equal(DatetimeType(Nanoseconds)))
}

func TestSchema(t *testing.T) {
	s := MustSchema(Field{"a", Int64Type}, Field{"b", Utf8Type})
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "{a: int64, b: utf8}", s.String())

	i, ok := s.Index("b")
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	_, err := NewSchema(Field{"a", Int64Type}, Field{"a", Utf8Type})
	assert.Error(t, err)

	other := MustSchema(Field{"a", Int64Type}, Field{"b", Int32Type})
	assert.False(t, s.Equal(other))
	assert.Contains(t, s.Diff(other), "column \"b\" type")

	sel, err := s.Select("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, sel.Names())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	var decoded Schema
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, s.Equal(&decoded))
}

func TestBitmapOps(t *testing.T) {
	a := BitmapFromBools([]bool{true, true, false, false, true})
	b := BitmapFromBools([]bool{true, false, true, false, true})

	and := a.And(b)
	assert.Equal(t, 2, and.CountSet())
	assert.True(t, and.Get(0))
	assert.False(t, and.Get(1))

	or := a.Or(b)
	assert.Equal(t, 4, or.CountSet())
	assert.False(t, or.Get(3))

	andNot := a.AndNot(b)
	assert.Equal(t, 1, andNot.CountSet())
	assert.True(t, andNot.Get(1))

	s := a.Slice(1, 3)
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Get(0))
	assert.False(t, s.Get(1))

	assert.Same(t, a, CombineValidity(a, nil))
	assert.Nil(t, CombineValidity(nil, nil))
}

func TestColumnTakeWithNulls(t *testing.T) {
	col, err := NewColumnFromValues("x", Int64Type, []any{int64(1), nil, 3})
	require.NoError(t, err)
	assert.Equal(t, 1, col.NullCount())

	taken := col.Take([]int{2, -1, 0, 1})
	assert.Equal(t, 4, taken.Len())
	assert.Equal(t, int64(3), taken.Value(0))
	assert.Nil(t, taken.Value(1))
	assert.Equal(t, int64(1), taken.Value(2))
	assert.Nil(t, taken.Value(3))
	assert.Equal(t, 2, taken.NullCount())
}

func TestColumnSliceAndConcat(t *testing.T) {
	a := NewInt64Column("x", []int64{1, 2, 3, 4})
	b, err := NewColumnFromValues("x", Int64Type, []any{nil, 6})
	require.NoError(t, err)

	s := a.Slice(1, 2)
	assert.Equal(t, []int64{2, 3}, s.Int64s())

	c, err := ConcatColumns("x", s, b)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
	assert.True(t, c.IsNull(2))
	assert.Equal(t, int64(6), c.Value(3))

	_, err = ConcatColumns("x", a, NewUtf8Column("x", []string{"a"}))
	assert.Error(t, err)
}

func TestColumnCast(t *testing.T) {
	c := NewInt32Column("k", []int32{1, 2})
	wide, err := c.Cast(Int64Type)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, wide.Int64s())

	f, err := c.Cast(Float64Type)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, f.Float64s())

	d := MustColumn("d", DateType, []int32{1}, nil)
	dt, err := d.Cast(DatetimeType(Milliseconds))
	require.NoError(t, err)
	assert.Equal(t, int64(86_400_000), dt.Int64s()[0])

	_, err = NewUtf8Column("s", []string{"a"}).Cast(Int64Type)
	assert.Error(t, err)
}

func TestColumnTypeMismatch(t *testing.T) {
	_, err := NewColumn("x", Int64Type, []int32{1}, nil)
	assert.Error(t, err)

	_, err = NewColumn("x", Int64Type, []int64{1, 2}, NewBitmap(3, true))
	assert.Error(t, err)
}

func TestBuilderAppend(t *testing.T) {
	b := NewBuilder(DatetimeType(Milliseconds), 3)
	require.NoError(t, b.Append(time.Unix(1, 0)))
	require.NoError(t, b.Append("2500"))
	b.AppendNull()
	col := b.Finish("ts")
	assert.Equal(t, []int64{1000, 2500, 0}, col.Int64s())
	assert.True(t, col.IsNull(2))
	assert.Equal(t, "1970-01-01T00:00:01Z", col.FormatValue(0))

	bad := NewBuilder(Int64Type, 1)
	assert.Error(t, bad.Append("not a number"))
}

func TestBuilderAppendRejectsLossyIntegers(t *testing.T) {
	tests := []struct {
		name  string
		dtype DataType
		v     any
		ok    bool
	}{
		{"whole float", Int64Type, 3.0, true},
		{"fractional float", Int64Type, 1.5, false},
		{"nan", Int64Type, math.NaN(), false},
		{"float beyond int64", Int64Type, 1e19, false},
		{"uint64 beyond int64", Int64Type, uint64(math.MaxUint64), false},
		{"int64 beyond int32", Int32Type, int64(math.MaxInt32) + 1, false},
		{"negative beyond int32", Int32Type, int64(math.MinInt32) - 1, false},
		{"int32 bound", Int32Type, int64(math.MaxInt32), true},
		{"fractional into date", DateType, float32(2.25), false},
		{"numeric string", Int32Type, "42", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(tt.dtype, 1)
			err := b.Append(tt.v)
			if !tt.ok {
				assert.Error(t, err)
				assert.Equal(t, 0, b.Finish("x").Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, b.Finish("x").Len())
		})
	}
}

func TestNewChunkLengthCheck(t *testing.T) {
	_, err := NewChunk(NewInt64Column("a", []int64{1, 2}), NewInt64Column("b", []int64{1}))
	assert.Error(t, err)

	_, err = NewChunk(NewInt64Column("a", []int64{1}), NewInt64Column("a", []int64{1}))
	assert.Error(t, err)
}

func TestChunkOps(t *testing.T) {
	ch := MustChunk(
		NewInt64Column("id", []int64{1, 2, 3}),
		NewUtf8Column("name", []string{"a", "b", "c"}),
	)
	assert.Equal(t, 3, ch.NumRows())

	sel, err := ch.Select("name")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, sel.Schema().Names())

	_, err = ch.Select("missing")
	assert.Error(t, err)

	with, err := ch.WithColumn(NewBoolColumn("flag", []bool{true, false, true}))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "flag"}, with.Schema().Names())

	replaced, err := ch.WithColumn(NewInt64Column("id", []int64{9, 9, 9}))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, replaced.Schema().Names())
	assert.Equal(t, int64(9), replaced.Column(0).Value(0))

	assert.Equal(t, []any{int64(2), "b"}, ch.Row(1))
	assert.Equal(t, 1, ch.Slice(2, 10).NumRows())
}

func TestConcatChunks(t *testing.T) {
	schema := MustSchema(Field{"a", Int64Type})
	c1 := MustChunk(NewInt64Column("a", []int64{1}))
	c2 := MustChunk(NewInt64Column("a", []int64{2, 3}))

	out, err := ConcatChunks(schema, c1, EmptyChunk(schema), c2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, out.Column(0).Int64s())

	empty, err := ConcatChunks(schema)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.NumRows())
	assert.True(t, empty.Schema().Equal(schema))

	_, err = ConcatChunks(schema, MustChunk(NewUtf8Column("a", []string{"x"})))
	assert.Error(t, err)
}

func TestStringDict(t *testing.T) {
	d := NewStringDict()
	a := d.Intern("a")
	b := d.Intern("b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, d.Intern("a"))
	assert.Equal(t, 2, d.Len())

	s, ok := d.String(b)
	assert.True(t, ok)
	assert.Equal(t, "b", s)

	col, err := NewColumnFromValues("s", Utf8Type, []any{"b", nil, "c"})
	require.NoError(t, err)
	ids := d.Encode(col)
	assert.Equal(t, b, ids[0])
	assert.Equal(t, 3, d.Len())
}

func TestChunkResultSet(t *testing.T) {
	col, err := NewColumnFromValues("v", Float64Type, []any{1.5, nil})
	require.NoError(t, err)
	rs := NewChunkResultSet(MustChunk(col))
	assert.Equal(t, 2, rs.GetRowCount())
	assert.Equal(t, [][]string{{"1.5"}, {"null"}}, rs.FormattedRows(-1))
	assert.Len(t, rs.FormattedRows(1), 1)
}
