package executor

import (
	"github.com/kasuganosora/colexec/pkg/types"
)

// Aggregator 收集扫描产出的 chunk，每加入一个 chunk 都向内存预算申请空间
type Aggregator struct {
	schema   *types.Schema
	budget   *MemoryBudget
	chunks   []*types.Chunk
	reserved int64
	rows     int
}

// NewAggregator 创建结果聚合器
func NewAggregator(schema *types.Schema, budget *MemoryBudget) *Aggregator {
	return &Aggregator{schema: schema, budget: budget}
}

// Add 加入一个 chunk，预算不足时返回 OUT_OF_MEMORY 且不加入
func (a *Aggregator) Add(c *types.Chunk) error {
	if c.NumRows() == 0 {
		return nil
	}
	size := c.EstimatedSize()
	if err := a.budget.Reserve(size); err != nil {
		return err
	}
	a.reserved += size
	a.rows += c.NumRows()
	a.chunks = append(a.chunks, c)
	return nil
}

// Aggregate 按加入顺序拼接
func (a *Aggregator) Aggregate() (*types.Chunk, error) {
	return types.ConcatChunks(a.schema, a.chunks...)
}

// Reserved 已预留的字节数，所有权随结果一起交给调用方
func (a *Aggregator) Reserved() int64 {
	return a.reserved
}

// Rows 已加入的行数
func (a *Aggregator) Rows() int {
	return a.rows
}

// Clear 丢弃已收集的 chunk 并归还预留
func (a *Aggregator) Clear() {
	a.budget.Release(a.reserved)
	a.reserved = 0
	a.rows = 0
	a.chunks = nil
}

// Count 已加入的 chunk 数
func (a *Aggregator) Count() int {
	return len(a.chunks)
}
