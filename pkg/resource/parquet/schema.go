package parquet

import (
	"encoding/json"
	"fmt"

	"github.com/kasuganosora/colexec/pkg/types"
	pq "github.com/parquet-go/parquet-go"
)

// schemaMetadataKey 在 key/value 元数据中保存原始 Schema（列顺序与时间类型）
const schemaMetadataKey = "colexec.schema"

// typeToParquetNode 列类型对应的 parquet 叶子节点，所有列均为 optional
func typeToParquetNode(dt types.DataType) pq.Node {
	var node pq.Node
	switch dt.ID {
	case types.Boolean:
		node = pq.Leaf(pq.BooleanType)
	case types.Int32, types.Date:
		node = pq.Leaf(pq.Int32Type)
	case types.Int64, types.Datetime:
		// Datetime 以物理单位存为 INT64，单位记录在元数据中
		node = pq.Leaf(pq.Int64Type)
	case types.Float64:
		node = pq.Leaf(pq.DoubleType)
	default:
		node = pq.String()
	}
	return pq.Optional(node)
}

// toParquetSchema 转换为 parquet Schema；parquet 的分组按列名排序
func toParquetSchema(name string, schema *types.Schema) *pq.Schema {
	group := make(pq.Group, schema.Len())
	for _, f := range schema.Fields() {
		group[f.Name] = typeToParquetNode(f.Type)
	}
	return pq.NewSchema(name, group)
}

// parquetFieldType 叶子字段对应的列类型
func parquetFieldType(field pq.Field) (types.DataType, error) {
	if !field.Leaf() {
		return types.DataType{}, fmt.Errorf("nested parquet field %q is not supported", field.Name())
	}
	switch field.Type().Kind() {
	case pq.Boolean:
		return types.BooleanType, nil
	case pq.Int32:
		return types.Int32Type, nil
	case pq.Int64:
		return types.Int64Type, nil
	case pq.Float, pq.Double:
		return types.Float64Type, nil
	case pq.ByteArray, pq.FixedLenByteArray:
		return types.Utf8Type, nil
	default:
		return types.DataType{}, fmt.Errorf("parquet field %q has unsupported type %s", field.Name(), field.Type())
	}
}

// fileSchema 返回文件的列 Schema 以及各叶子列在输出中的位置
// 有元数据时沿用写入时的列顺序和类型，否则按 parquet 字段顺序推断
func fileSchema(f *pq.File) (*types.Schema, []int, error) {
	fields := f.Schema().Fields()
	inferred := make([]types.Field, len(fields))
	for i, field := range fields {
		dt, err := parquetFieldType(field)
		if err != nil {
			return nil, nil, err
		}
		inferred[i] = types.Field{Name: field.Name(), Type: dt}
	}

	schema, err := types.NewSchema(inferred...)
	if err != nil {
		return nil, nil, err
	}
	if raw, ok := f.Lookup(schemaMetadataKey); ok {
		var declared types.Schema
		if err := json.Unmarshal([]byte(raw), &declared); err != nil {
			return nil, nil, fmt.Errorf("decode %s metadata: %w", schemaMetadataKey, err)
		}
		if declared.Len() != len(fields) {
			return nil, nil, fmt.Errorf("%s metadata lists %d columns, file has %d", schemaMetadataKey, declared.Len(), len(fields))
		}
		schema = &declared
	}

	pos := make([]int, len(fields))
	for i, field := range fields {
		idx, ok := schema.Index(field.Name())
		if !ok {
			return nil, nil, fmt.Errorf("parquet column %q missing from %s metadata", field.Name(), schemaMetadataKey)
		}
		pos[i] = idx
	}
	return schema, pos, nil
}
