package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field 列定义
type Field struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

// Schema 有序的列名到类型映射，列名唯一，顺序即输出顺序
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema 创建 Schema，列名重复时返回错误
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q in schema", f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema 同 NewSchema，出错时 panic，用于静态定义和测试
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len 列数
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

// Field 第 i 列定义
func (s *Schema) Field(i int) Field {
	return s.fields[i]
}

// Fields 返回列定义副本
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names 列名列表
func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Index 按列名查找位置
func (s *Schema) Index(name string) (int, bool) {
	if s == nil {
		return -1, false
	}
	i, ok := s.index[name]
	return i, ok
}

// Lookup 按列名查找列定义
func (s *Schema) Lookup(name string) (Field, bool) {
	i, ok := s.Index(name)
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Equal 名称、顺序、类型完全一致
func (s *Schema) Equal(o *Schema) bool {
	if s.Len() != o.Len() {
		return false
	}
	for i := range s.Len() {
		a, b := s.fields[i], o.fields[i]
		if a.Name != b.Name || !a.Type.Equal(b.Type) {
			return false
		}
	}
	return true
}

// Diff 返回第一处不一致的描述，一致时返回空串
func (s *Schema) Diff(o *Schema) string {
	if s.Len() != o.Len() {
		return fmt.Sprintf("column count %d != %d", s.Len(), o.Len())
	}
	for i := range s.Len() {
		a, b := s.fields[i], o.fields[i]
		if a.Name != b.Name {
			return fmt.Sprintf("column %d name %q != %q", i, a.Name, b.Name)
		}
		if !a.Type.Equal(b.Type) {
			return fmt.Sprintf("column %q type %s != %s", a.Name, a.Type, b.Type)
		}
	}
	return ""
}

// Select 按列名投影
func (s *Schema) Select(names ...string) (*Schema, error) {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		f, ok := s.Lookup(n)
		if !ok {
			return nil, fmt.Errorf("column %q not found in schema %s", n, s)
		}
		fields = append(fields, f)
	}
	return NewSchema(fields...)
}

// Append 追加列，返回新 Schema
func (s *Schema) Append(fields ...Field) (*Schema, error) {
	all := append(s.Fields(), fields...)
	return NewSchema(all...)
}

// String 形如 {a: int64, b: utf8}
func (s *Schema) String() string {
	if s == nil {
		return "{}"
	}
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + ": " + f.Type.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MarshalJSON 序列化为列定义数组
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields())
}

// UnmarshalJSON 从列定义数组反序列化
func (s *Schema) UnmarshalJSON(data []byte) error {
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	parsed, err := NewSchema(fields...)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}
