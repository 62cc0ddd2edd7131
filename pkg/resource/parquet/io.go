// Package parquet 以 parquet 文件作为扫描源和输出
package parquet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kasuganosora/colexec/pkg/types"
	pq "github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

const defaultChunkSize = 64 * 1024

// ReadSchema 读取文件的列 Schema
func ReadSchema(r io.ReaderAt, size int64) (*types.Schema, error) {
	f, err := pq.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	schema, _, err := fileSchema(f)
	return schema, err
}

// Read 按 chunkSize 行解码文件，每个 chunk 交给 emit
func Read(ctx context.Context, r io.ReaderAt, size int64, chunkSize int, emit func(*types.Chunk) error) (*types.Schema, error) {
	f, err := pq.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	schema, pos, err := fileSchema(f)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	reader := pq.NewReader(r)
	defer reader.Close()

	rows := make([]pq.Row, min(chunkSize, 1024))
	builders := newBuilders(schema, chunkSize)
	flush := func() error {
		if builders[0].Len() == 0 {
			return nil
		}
		cols := make([]*types.Column, len(builders))
		for i, b := range builders {
			cols[i] = b.Finish(schema.Field(i).Name)
		}
		builders = newBuilders(schema, chunkSize)
		chunk, err := types.NewChunk(cols...)
		if err != nil {
			return err
		}
		return emit(chunk)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, readErr := reader.ReadRows(rows)
		for i := range n {
			if err := appendRow(builders, pos, rows[i]); err != nil {
				return nil, err
			}
			if builders[0].Len() >= chunkSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read parquet rows: %w", readErr)
		}
	}
	return schema, flush()
}

func newBuilders(schema *types.Schema, capacity int) []*types.Builder {
	bs := make([]*types.Builder, schema.Len())
	for i, f := range schema.Fields() {
		bs[i] = types.NewBuilder(f.Type, capacity)
	}
	return bs
}

// appendRow 把一行 parquet 值追加到各列，pos 给出叶子列在 Schema 中的位置
func appendRow(builders []*types.Builder, pos []int, row pq.Row) error {
	if len(row) != len(pos) {
		return fmt.Errorf("parquet row has %d values, schema has %d columns", len(row), len(pos))
	}
	for _, v := range row {
		b := builders[pos[v.Column()]]
		if v.IsNull() {
			b.AppendNull()
			continue
		}
		var err error
		switch v.Kind() {
		case pq.Boolean:
			err = b.Append(v.Boolean())
		case pq.Int32:
			err = b.Append(v.Int32())
		case pq.Int64:
			err = b.Append(v.Int64())
		case pq.Float:
			err = b.Append(float64(v.Float()))
		case pq.Double:
			err = b.Append(v.Double())
		default:
			err = b.Append(string(v.ByteArray()))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteOptions 写入参数
type WriteOptions struct {
	Name        string // parquet 根节点名称
	Compression string // snappy, gzip, zstd, lz4, none
}

// Writer 逐 chunk 写入 parquet
type Writer struct {
	schema *types.Schema
	pqs    *pq.Schema
	cols   []int // parquet 叶子列对应的 chunk 列下标
	w      *pq.Writer
}

// NewWriter 创建写入器
func NewWriter(out io.Writer, schema *types.Schema, opts WriteOptions) (*Writer, error) {
	if opts.Name == "" {
		opts.Name = "colexec"
	}
	meta, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	pqs := toParquetSchema(opts.Name, schema)
	writerOpts := []pq.WriterOption{pqs, pq.KeyValueMetadata(schemaMetadataKey, string(meta))}
	if codec := compressionCodec(opts.Compression); codec != nil {
		writerOpts = append(writerOpts, pq.Compression(codec))
	}

	fields := pqs.Fields()
	cols := make([]int, len(fields))
	for i, f := range fields {
		idx, ok := schema.Index(f.Name())
		if !ok {
			return nil, fmt.Errorf("parquet field %q not in %s", f.Name(), schema)
		}
		cols[i] = idx
	}
	return &Writer{schema: schema, pqs: pqs, cols: cols, w: pq.NewWriter(out, writerOpts...)}, nil
}

// Write 写入一个 chunk
func (w *Writer) Write(chunk *types.Chunk) error {
	if !chunk.Schema().Equal(w.schema) {
		return fmt.Errorf("parquet writer: chunk schema %s != %s", chunk.Schema(), w.schema)
	}
	rows := make([]pq.Row, chunk.NumRows())
	for r := range rows {
		row := make(pq.Row, len(w.cols))
		for leaf, ci := range w.cols {
			row[leaf] = toParquetValue(chunk.Column(ci), r).Level(0, defLevel(chunk.Column(ci), r), leaf)
		}
		rows[r] = row
	}
	if _, err := w.w.WriteRows(rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

// Close 写出文件尾
func (w *Writer) Close() error {
	if err := w.w.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

func defLevel(col *types.Column, r int) int {
	if col.IsNull(r) {
		return 0
	}
	return 1
}

func toParquetValue(col *types.Column, r int) pq.Value {
	if col.IsNull(r) {
		return pq.NullValue()
	}
	switch col.Type().ID {
	case types.Boolean:
		return pq.BooleanValue(col.Bools()[r])
	case types.Int32, types.Date:
		return pq.Int32Value(col.Int32s()[r])
	case types.Int64, types.Datetime:
		return pq.Int64Value(col.Int64s()[r])
	case types.Float64:
		return pq.DoubleValue(col.Float64s()[r])
	default:
		return pq.ByteArrayValue([]byte(col.Strings()[r]))
	}
}

// compressionCodec returns the parquet compression codec for a given name.
func compressionCodec(name string) compress.Codec {
	switch strings.ToLower(name) {
	case "snappy":
		return &pq.Snappy
	case "gzip":
		return &pq.Gzip
	case "zstd":
		return &pq.Zstd
	case "lz4":
		return &pq.Lz4Raw
	case "none", "uncompressed", "":
		return nil
	default:
		return &pq.Snappy
	}
}
