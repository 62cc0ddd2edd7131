package remote

import (
	"bytes"
	"context"
	"fmt"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/resource/parquet"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/rs/zerolog"
)

// CacheMetrics 缓存命中统计的接收方
type CacheMetrics interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// Options 远程源参数
type Options struct {
	Fetcher Fetcher
	Cache   *Cache // 为空时不缓存
	Metrics CacheMetrics
}

// Source 远程 parquet 对象组成的扫描源，对象按 URI 顺序读取
type Source struct {
	uris   []string
	opts   Options
	schema *types.Schema
}

// NewSource 下载第一个对象以确定 Schema
func NewSource(ctx context.Context, opts Options, uris ...string) (*Source, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("remote source needs at least one uri")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("remote source needs a fetcher")
	}
	s := &Source{uris: uris, opts: opts}
	blob, err := s.get(ctx, uris[0])
	if err != nil {
		return nil, resource.IOError("fetch", uris[0], err)
	}
	s.schema, err = parquet.ReadSchema(bytes.NewReader(blob.Data), int64(len(blob.Data)))
	if err != nil {
		return nil, resource.IOError("read schema of", uris[0], err)
	}
	return s, nil
}

// Schema 实现 resource.Source
func (s *Source) Schema() *types.Schema {
	return s.schema
}

func (s *Source) get(ctx context.Context, uri string) (Blob, error) {
	if s.opts.Cache == nil {
		data, err := s.opts.Fetcher.Fetch(ctx, uri)
		return Blob{Hash: hashOf(data), Data: data}, err
	}
	blob, err := s.opts.Cache.Get(ctx, uri, s.opts.Fetcher)
	if err == nil && s.opts.Metrics != nil {
		if blob.Hit {
			s.opts.Metrics.RecordCacheHit()
		} else {
			s.opts.Metrics.RecordCacheMiss()
		}
	}
	return blob, err
}

// Scan 实现 resource.Source
func (s *Source) Scan(ctx context.Context, req resource.ScanRequest) <-chan resource.ScanResult {
	out := make(chan resource.ScanResult, 1)
	go func() {
		defer close(out)
		for _, uri := range s.uris {
			chunks, err := s.load(ctx, uri, req.ChunkSize)
			if err != nil {
				if ctx.Err() == nil {
					resource.Emit(ctx, out, resource.ScanResult{Err: err})
				}
				return
			}
			for _, c := range chunks {
				if len(req.Projection) > 0 {
					c = resource.Project(c, req.Projection)
				}
				if !resource.Emit(ctx, out, resource.ScanResult{Chunk: c, Path: uri}) {
					return
				}
			}
		}
	}()
	return out
}

// load 下载并解码一个对象，解码结果按内容哈希缓存
func (s *Source) load(ctx context.Context, uri string, chunkSize int) ([]*types.Chunk, error) {
	logger := zerolog.Ctx(ctx)
	blob, err := s.get(ctx, uri)
	if err != nil {
		return nil, resource.IOError("fetch", uri, err)
	}
	if s.opts.Cache != nil {
		if chunks, ok := s.opts.Cache.Chunks(blob.Hash, chunkSize); ok {
			logger.Debug().Str("uri", uri).Msg("decoded chunk cache hit")
			return chunks, nil
		}
	}

	var chunks []*types.Chunk
	schema, err := parquet.Read(ctx, bytes.NewReader(blob.Data), int64(len(blob.Data)), chunkSize, func(c *types.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		return nil, resource.IOError("decode", uri, err)
	}
	if !schema.Equal(s.schema) {
		return nil, execerr.Newf(execerr.CodeSchemaMismatch, "object %s has schema %s, expected %s", uri, schema, s.schema)
	}
	if s.opts.Cache != nil {
		s.opts.Cache.StoreChunks(blob.Hash, chunkSize, chunks)
	}
	return chunks, nil
}
