// Package memory 提供内存中的扫描源和收集结果的输出
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
)

// Source 内存扫描源，chunk 按插入顺序产出
type Source struct {
	name   string
	schema *types.Schema
	mu     sync.RWMutex
	chunks []*types.Chunk
}

// NewSource 创建内存源，所有 chunk 的 Schema 必须一致
func NewSource(name string, chunks ...*types.Chunk) (*Source, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("memory source %s needs at least one chunk", name)
	}
	s := &Source{name: name, schema: chunks[0].Schema()}
	for _, c := range chunks {
		if err := s.Append(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewEmptySource 创建只有 Schema 的内存源
func NewEmptySource(name string, schema *types.Schema) *Source {
	return &Source{name: name, schema: schema}
}

// Append 追加 chunk
func (s *Source) Append(c *types.Chunk) error {
	if !c.Schema().Equal(s.schema) {
		return fmt.Errorf("memory source %s: chunk schema %s != %s", s.name, c.Schema(), s.schema)
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, c)
	s.mu.Unlock()
	return nil
}

// Schema 实现 resource.Source
func (s *Source) Schema() *types.Schema {
	return s.schema
}

// NumRows 总行数
func (s *Source) NumRows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.chunks {
		n += c.NumRows()
	}
	return n
}

// Scan 实现 resource.Source，谓词提示被忽略
func (s *Source) Scan(ctx context.Context, req resource.ScanRequest) <-chan resource.ScanResult {
	s.mu.RLock()
	chunks := append([]*types.Chunk(nil), s.chunks...)
	s.mu.RUnlock()
	return resource.ScanChunks(ctx, chunks, "memory://"+s.name, req)
}
