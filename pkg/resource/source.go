// Package resource 定义扫描源与输出的协作接口，以及按名称查找它们的注册表
//
// 源以 channel 交付 chunk：实现方在自己的 goroutine 中完成解码或网络读取，
// 执行器只负责消费，从不直接做 IO。
package resource

import (
	"context"

	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/types"
)

// ScanRequest 扫描请求
type ScanRequest struct {
	// Projection 需要的列，空表示全部；源可以多返回列
	Projection []string
	// Predicate 过滤提示，源可以忽略，执行器总会重新过滤
	Predicate *expr.Expr
	// ChunkSize 每个 chunk 的建议行数
	ChunkSize int
}

// ScanResult 扫描产出的一个 chunk，Err 非空时为最后一个结果
type ScanResult struct {
	Chunk *types.Chunk
	Path  string // 该 chunk 来自的文件或对象
	Err   error
}

// Source 扫描源
type Source interface {
	// Schema 源的完整 Schema
	Schema() *types.Schema
	// Scan 开始扫描，channel 在扫描结束或 ctx 取消后关闭
	Scan(ctx context.Context, req ScanRequest) <-chan ScanResult
}

// Sink 查询结果输出，Close 提交已写入的结果
type Sink interface {
	Write(ctx context.Context, chunk *types.Chunk) error
	Close() error
}

// Aborter 查询失败时丢弃已写入的部分结果，调用后不再调用 Close
type Aborter interface {
	Abort() error
}

// Abort 丢弃 s 的结果；不支持丢弃的输出退化为 Close
func Abort(s Sink) error {
	if a, ok := s.(Aborter); ok {
		return a.Abort()
	}
	return s.Close()
}

// SinkFactory 为一次执行创建 Sink
type SinkFactory func(schema *types.Schema) (Sink, error)

// Emit 在 ctx 未取消时发送结果，返回 false 表示接收方已放弃
func Emit(ctx context.Context, out chan<- ScanResult, res ScanResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// ScanChunks 以固定的 chunk 切分内存中的数据，供简单源复用
func ScanChunks(ctx context.Context, chunks []*types.Chunk, path string, req ScanRequest) <-chan ScanResult {
	out := make(chan ScanResult, 1)
	go func() {
		defer close(out)
		for _, c := range chunks {
			if len(req.Projection) > 0 {
				c = Project(c, req.Projection)
			}
			size := req.ChunkSize
			if size <= 0 {
				size = c.NumRows()
			}
			for off := 0; off < c.NumRows(); off += size {
				part := c.Slice(off, min(size, c.NumRows()-off))
				if !Emit(ctx, out, ScanResult{Chunk: part, Path: path}) {
					return
				}
			}
		}
	}()
	return out
}

// Project 保留 names 中存在的列，缺失的列留给执行器按策略处理
func Project(c *types.Chunk, names []string) *types.Chunk {
	keep := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := c.Schema().Index(n); ok {
			keep = append(keep, n)
		}
	}
	out, err := c.Select(keep...)
	if err != nil {
		return c
	}
	return out
}

// Collect 读完整个扫描，返回各 chunk
func Collect(ctx context.Context, results <-chan ScanResult) ([]*types.Chunk, error) {
	var chunks []*types.Chunk
	for res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		chunks = append(chunks, res.Chunk)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}
