package types

import (
	"fmt"
)

// Chunk 一批共享行数的列
type Chunk struct {
	columns []*Column
	schema  *Schema
	rows    int
}

// NewChunk 创建 Chunk，所有列长度必须相同、列名唯一
func NewChunk(columns ...*Column) (*Chunk, error) {
	fields := make([]Field, len(columns))
	rows := 0
	for i, c := range columns {
		if i == 0 {
			rows = c.Len()
		} else if c.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Name(), c.Len(), rows)
		}
		fields[i] = c.Field()
	}
	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return &Chunk{columns: columns, schema: schema, rows: rows}, nil
}

// MustChunk 同 NewChunk，出错时 panic
func MustChunk(columns ...*Column) *Chunk {
	c, err := NewChunk(columns...)
	if err != nil {
		panic(err)
	}
	return c
}

// EmptyChunk 指定 Schema 的零行 Chunk
func EmptyChunk(schema *Schema) *Chunk {
	cols := make([]*Column, schema.Len())
	for i, f := range schema.Fields() {
		cols[i] = MustColumn(f.Name, f.Type, makeValues(f.Type, 0), nil)
	}
	return &Chunk{columns: cols, schema: schema, rows: 0}
}

func (c *Chunk) NumRows() int          { return c.rows }
func (c *Chunk) NumColumns() int       { return len(c.columns) }
func (c *Chunk) Schema() *Schema       { return c.schema }
func (c *Chunk) Column(i int) *Column  { return c.columns[i] }

// Columns 列切片副本
func (c *Chunk) Columns() []*Column {
	out := make([]*Column, len(c.columns))
	copy(out, c.columns)
	return out
}

// ColumnByName 按名称取列
func (c *Chunk) ColumnByName(name string) (*Column, bool) {
	i, ok := c.schema.Index(name)
	if !ok {
		return nil, false
	}
	return c.columns[i], true
}

// Take 按行下标收集，-1 产生空行
func (c *Chunk) Take(indices []int) *Chunk {
	cols := make([]*Column, len(c.columns))
	for i, col := range c.columns {
		cols[i] = col.Take(indices)
	}
	return &Chunk{columns: cols, schema: c.schema, rows: len(indices)}
}

// Slice 截取 [offset, offset+length)，越界部分被截断
func (c *Chunk) Slice(offset, length int) *Chunk {
	if offset > c.rows {
		offset = c.rows
	}
	if offset+length > c.rows {
		length = c.rows - offset
	}
	cols := make([]*Column, len(c.columns))
	for i, col := range c.columns {
		cols[i] = col.Slice(offset, length)
	}
	return &Chunk{columns: cols, schema: c.schema, rows: length}
}

// Select 按列名投影
func (c *Chunk) Select(names ...string) (*Chunk, error) {
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		col, ok := c.ColumnByName(n)
		if !ok {
			return nil, fmt.Errorf("column %q not found in %s", n, c.schema)
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return &Chunk{schema: MustSchema(), rows: c.rows}, nil
	}
	return NewChunk(cols...)
}

// WithColumn 追加列，同名列原位替换
func (c *Chunk) WithColumn(col *Column) (*Chunk, error) {
	cols := c.Columns()
	if i, ok := c.schema.Index(col.Name()); ok {
		cols[i] = col
	} else {
		cols = append(cols, col)
	}
	if len(c.columns) == 0 {
		return NewChunk(col)
	}
	return NewChunk(cols...)
}

// Row 第 i 行的值，按列顺序
func (c *Chunk) Row(i int) []any {
	row := make([]any, len(c.columns))
	for j, col := range c.columns {
		row[j] = col.Value(i)
	}
	return row
}

// EstimatedSize 估算内存占用（字节）
func (c *Chunk) EstimatedSize() int64 {
	var size int64
	for _, col := range c.columns {
		size += col.EstimatedSize()
	}
	return size
}

// ConcatChunks 按顺序拼接 Schema 相同的 Chunk
func ConcatChunks(schema *Schema, chunks ...*Chunk) (*Chunk, error) {
	nonEmpty := make([]*Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if ch == nil {
			continue
		}
		if !ch.schema.Equal(schema) {
			return nil, fmt.Errorf("concat: chunk schema %s != %s (%s)", ch.schema, schema, schema.Diff(ch.schema))
		}
		if ch.rows > 0 {
			nonEmpty = append(nonEmpty, ch)
		}
	}
	switch len(nonEmpty) {
	case 0:
		return EmptyChunk(schema), nil
	case 1:
		return nonEmpty[0], nil
	}

	cols := make([]*Column, schema.Len())
	parts := make([]*Column, len(nonEmpty))
	for i, f := range schema.Fields() {
		for j, ch := range nonEmpty {
			parts[j] = ch.columns[i]
		}
		col, err := ConcatColumns(f.Name, parts...)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return NewChunk(cols...)
}

// Equal 两个 Chunk 的 Schema 与所有值（含空值位置）完全相同
func (c *Chunk) Equal(o *Chunk) bool {
	if !c.schema.Equal(o.schema) || c.rows != o.rows {
		return false
	}
	for j, col := range c.columns {
		other := o.columns[j]
		for i := range c.rows {
			an, bn := col.IsNull(i), other.IsNull(i)
			if an != bn {
				return false
			}
			if !an && col.Compare(i, other, i) != 0 {
				return false
			}
		}
	}
	return true
}

// String 简短描述
func (c *Chunk) String() string {
	return fmt.Sprintf("chunk(%d rows, %s)", c.rows, c.schema)
}
