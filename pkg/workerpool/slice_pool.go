package workerpool

import (
	"sync"
	"sync/atomic"
)

// SlicePool reuses scratch slices such as selection vectors between tasks
type SlicePool[T any] struct {
	pool     sync.Pool
	initSize int
	allocCnt atomic.Int64
	reuseCnt atomic.Int64
}

// NewSlicePool creates a new slice pool
func NewSlicePool[T any](initialSize int) *SlicePool[T] {
	if initialSize <= 0 {
		initialSize = 8
	}
	return &SlicePool[T]{initSize: initialSize}
}

// Get retrieves an empty slice from the pool
func (sp *SlicePool[T]) Get() *[]T {
	if v, ok := sp.pool.Get().(*[]T); ok {
		sp.reuseCnt.Add(1)
		*v = (*v)[:0]
		return v
	}
	sp.allocCnt.Add(1)
	s := make([]T, 0, sp.initSize)
	return &s
}

// Put returns a slice to the pool; the caller must not keep references to it
func (sp *SlicePool[T]) Put(s *[]T) {
	if s == nil {
		return
	}
	clear(*s)
	*s = (*s)[:0]
	sp.pool.Put(s)
}

// SlicePoolStats holds slice pool statistics
type SlicePoolStats struct {
	Allocations int64
	Reuses      int64
	ReuseRate   float64
}

// Stats returns pool statistics
func (sp *SlicePool[T]) Stats() SlicePoolStats {
	allocs := sp.allocCnt.Load()
	reuses := sp.reuseCnt.Load()
	var rate float64
	if total := allocs + reuses; total > 0 {
		rate = float64(reuses) / float64(total) * 100
	}
	return SlicePoolStats{Allocations: allocs, Reuses: reuses, ReuseRate: rate}
}

// Indices 全局行号缓冲池
var Indices = NewSlicePool[int](1024)
