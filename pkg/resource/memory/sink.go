package memory

import (
	"context"
	"sync"

	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
)

// Sink 把写入的 chunk 收集在内存中
type Sink struct {
	schema *types.Schema
	mu     sync.Mutex
	chunks  []*types.Chunk
	closed  bool
	aborted bool
}

// NewSink 创建内存输出
func NewSink(schema *types.Schema) *Sink {
	return &Sink{schema: schema}
}

// Write 实现 resource.Sink
func (s *Sink) Write(ctx context.Context, chunk *types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	return nil
}

// Close 实现 resource.Sink
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Abort 实现 resource.Aborter，丢弃已写入的 chunk
func (s *Sink) Abort() error {
	s.mu.Lock()
	s.chunks = nil
	s.aborted = true
	s.mu.Unlock()
	return nil
}

// Aborted 是否已被丢弃
func (s *Sink) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Closed 是否已关闭
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Chunk 合并所有已写入的 chunk
func (s *Sink) Chunk() (*types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.ConcatChunks(s.schema, s.chunks...)
}

// Collector 每次执行创建新的内存输出，并保留最近一次的实例
type Collector struct {
	mu   sync.Mutex
	last *Sink
}

// Factory 返回注册到 resource.Registry 的工厂
func (c *Collector) Factory() resource.SinkFactory {
	return func(schema *types.Schema) (resource.Sink, error) {
		s := NewSink(schema)
		c.mu.Lock()
		c.last = s
		c.mu.Unlock()
		return s, nil
	}
}

// Last 最近一次创建的输出
func (c *Collector) Last() *Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
