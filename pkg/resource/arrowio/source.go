package arrowio

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
)

// RecordSource 以内存中的 Arrow 记录批作为扫描源
type RecordSource struct {
	schema  *types.Schema
	records []arrow.Record
}

// NewRecordSource 创建源并持有记录批的引用，Release 时释放
func NewRecordSource(records ...arrow.Record) (*RecordSource, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("arrow record source needs at least one record")
	}
	schema, err := FromArrowSchema(records[0].Schema())
	if err != nil {
		return nil, err
	}
	for i, rec := range records {
		if !rec.Schema().Equal(records[0].Schema()) {
			return nil, fmt.Errorf("record %d schema %s differs from %s", i, rec.Schema(), records[0].Schema())
		}
		rec.Retain()
	}
	return &RecordSource{schema: schema, records: records}, nil
}

// Schema 实现 resource.Source
func (s *RecordSource) Schema() *types.Schema {
	return s.schema
}

// Scan 实现 resource.Source
func (s *RecordSource) Scan(ctx context.Context, req resource.ScanRequest) <-chan resource.ScanResult {
	chunks := make([]*types.Chunk, 0, len(s.records))
	for _, rec := range s.records {
		c, err := FromRecord(rec)
		if err != nil {
			out := make(chan resource.ScanResult, 1)
			out <- resource.ScanResult{Err: err}
			close(out)
			return out
		}
		chunks = append(chunks, c)
	}
	return resource.ScanChunks(ctx, chunks, "arrow://records", req)
}

// Release 释放持有的记录批
func (s *RecordSource) Release() {
	for _, rec := range s.records {
		rec.Release()
	}
	s.records = nil
}

// StreamSource 读取 Arrow IPC 流文件，每个记录批产出一个 chunk
type StreamSource struct {
	path   string
	schema *types.Schema
}

// NewStreamSource 打开文件读取 Schema
func NewStreamSource(path string) (*StreamSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, resource.IOError("open", path, err)
	}
	defer f.Close()
	r, err := ipc.NewReader(f)
	if err != nil {
		return nil, resource.IOError("read arrow stream", path, err)
	}
	defer r.Release()
	schema, err := FromArrowSchema(r.Schema())
	if err != nil {
		return nil, err
	}
	return &StreamSource{path: path, schema: schema}, nil
}

// Schema 实现 resource.Source
func (s *StreamSource) Schema() *types.Schema {
	return s.schema
}

// Scan 实现 resource.Source
func (s *StreamSource) Scan(ctx context.Context, req resource.ScanRequest) <-chan resource.ScanResult {
	out := make(chan resource.ScanResult, 1)
	go func() {
		defer close(out)
		if err := s.scan(ctx, req, out); err != nil {
			resource.Emit(ctx, out, resource.ScanResult{Err: err})
		}
	}()
	return out
}

func (s *StreamSource) scan(ctx context.Context, req resource.ScanRequest, out chan<- resource.ScanResult) error {
	f, err := os.Open(s.path)
	if err != nil {
		return resource.IOError("open", s.path, err)
	}
	defer f.Close()
	r, err := ipc.NewReader(f)
	if err != nil {
		return resource.IOError("read arrow stream", s.path, err)
	}
	defer r.Release()

	for r.Next() {
		c, err := FromRecord(r.Record())
		if err != nil {
			return err
		}
		if len(req.Projection) > 0 {
			c = resource.Project(c, req.Projection)
		}
		if !resource.Emit(ctx, out, resource.ScanResult{Chunk: c, Path: s.path}) {
			return nil
		}
	}
	if err := r.Err(); err != nil {
		return resource.IOError("read arrow stream", s.path, err)
	}
	return nil
}
