package arrowio

import (
	"context"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
)

// RecordSink 把结果收集为 Arrow 记录批
type RecordSink struct {
	mem     memory.Allocator
	mu      sync.Mutex
	records []arrow.Record
}

// NewRecordSink 创建输出，mem 为空时使用 Go 分配器
func NewRecordSink(mem memory.Allocator) *RecordSink {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &RecordSink{mem: mem}
}

// Write 实现 resource.Sink
func (s *RecordSink) Write(ctx context.Context, chunk *types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := ToRecord(s.mem, chunk)
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// Close 实现 resource.Sink
func (s *RecordSink) Close() error {
	return nil
}

// Abort 实现 resource.Aborter，释放已收集的记录批
func (s *RecordSink) Abort() error {
	s.Release()
	return nil
}

// Records 已写入的记录批，仍归 RecordSink 所有
func (s *RecordSink) Records() []arrow.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]arrow.Record(nil), s.records...)
}

// Release 释放所有记录批
func (s *RecordSink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		rec.Release()
	}
	s.records = nil
}

// StreamSink 以 Arrow IPC 流格式写出
type StreamSink struct {
	mem    memory.Allocator
	w      *ipc.Writer
	file   *resource.PendingFile
	closer io.Closer
	done   bool
}

// NewStreamSink 写入 out；out 实现 io.Closer 时随 Close 一起关闭
func NewStreamSink(out io.Writer, schema *types.Schema) *StreamSink {
	mem := memory.NewGoAllocator()
	s := &StreamSink{
		mem: mem,
		w:   ipc.NewWriter(out, ipc.WithSchema(ToArrowSchema(schema)), ipc.WithAllocator(mem)),
	}
	if f, ok := out.(*resource.PendingFile); ok {
		s.file = f
	} else if c, ok := out.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// FileFactory 返回写入 path 的工厂
func FileFactory(path string) resource.SinkFactory {
	return func(schema *types.Schema) (resource.Sink, error) {
		f, err := resource.CreatePending(path)
		if err != nil {
			return nil, err
		}
		return NewStreamSink(f, schema), nil
	}
}

// Write 实现 resource.Sink
func (s *StreamSink) Write(ctx context.Context, chunk *types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := ToRecord(s.mem, chunk)
	defer rec.Release()
	return s.w.Write(rec)
}

// Close 写出流结束标记，写文件时发布文件
func (s *StreamSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	err := s.w.Close()
	switch {
	case s.file != nil && err != nil:
		s.file.Discard()
	case s.file != nil:
		err = s.file.Commit()
	case s.closer != nil:
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Abort 实现 resource.Aborter，写文件时删除临时文件
func (s *StreamSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	switch {
	case s.file != nil:
		return s.file.Discard()
	case s.closer != nil:
		return s.closer.Close()
	}
	return nil
}
