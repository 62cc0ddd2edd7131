package parquet

import (
	"context"

	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
)

// FileSink 写入 parquet 文件：先写临时文件，Close 时原子改名，Abort 时删除
type FileSink struct {
	file    *resource.PendingFile
	w       *Writer
	aborted bool
}

// NewFileSink 创建输出
func NewFileSink(path string, schema *types.Schema, opts WriteOptions) (*FileSink, error) {
	file, err := resource.CreatePending(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(file, schema, opts)
	if err != nil {
		file.Discard()
		return nil, err
	}
	return &FileSink{file: file, w: w}, nil
}

// Factory 返回写入 path 的工厂
func Factory(path string, opts WriteOptions) resource.SinkFactory {
	return func(schema *types.Schema) (resource.Sink, error) {
		return NewFileSink(path, schema, opts)
	}
}

// Write 实现 resource.Sink
func (s *FileSink) Write(ctx context.Context, chunk *types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.w.Write(chunk); err != nil {
		return resource.IOError("write", s.file.Path(), err)
	}
	return nil
}

// Close 写出文件尾并发布文件
func (s *FileSink) Close() error {
	if s.aborted {
		return nil
	}
	if err := s.w.Close(); err != nil {
		s.file.Discard()
		return resource.IOError("close", s.file.Path(), err)
	}
	return s.file.Commit()
}

// Abort 实现 resource.Aborter，目标路径保持不变
func (s *FileSink) Abort() error {
	s.aborted = true
	return s.file.Discard()
}
