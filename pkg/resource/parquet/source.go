package parquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
)

// FileSource 一个或多个 Schema 相同的 parquet 文件，按路径顺序扫描
type FileSource struct {
	paths  []string
	schema *types.Schema
}

// NewFileSource 打开文件读取 Schema；pattern 可以是 glob
func NewFileSource(patterns ...string) (*FileSource, error) {
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, resource.ErrFileNotFound(p, "parquet")
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("parquet source needs at least one file")
	}

	s := &FileSource{paths: paths}
	for _, p := range paths {
		schema, err := schemaOf(p)
		if err != nil {
			return nil, err
		}
		if s.schema == nil {
			s.schema = schema
		} else if !s.schema.Equal(schema) {
			return nil, fmt.Errorf("parquet file %s has schema %s, expected %s", p, schema, s.schema)
		}
	}
	return s, nil
}

func schemaOf(path string) (*types.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, resource.IOError("open", path, err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, resource.IOError("stat", path, err)
	}
	schema, err := ReadSchema(f, stat.Size())
	if err != nil {
		return nil, resource.IOError("read schema of", path, err)
	}
	return schema, nil
}

// Paths 扫描的文件列表
func (s *FileSource) Paths() []string {
	return s.paths
}

// Schema 实现 resource.Source
func (s *FileSource) Schema() *types.Schema {
	return s.schema
}

// Scan 实现 resource.Source
func (s *FileSource) Scan(ctx context.Context, req resource.ScanRequest) <-chan resource.ScanResult {
	out := make(chan resource.ScanResult, 1)
	go func() {
		defer close(out)
		for _, path := range s.paths {
			if err := s.scanFile(ctx, path, req, out); err != nil {
				resource.Emit(ctx, out, resource.ScanResult{Err: err})
				return
			}
		}
	}()
	return out
}

func (s *FileSource) scanFile(ctx context.Context, path string, req resource.ScanRequest, out chan<- resource.ScanResult) error {
	f, err := os.Open(path)
	if err != nil {
		return resource.IOError("open", path, err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return resource.IOError("stat", path, err)
	}

	_, err = Read(ctx, f, stat.Size(), req.ChunkSize, func(c *types.Chunk) error {
		if len(req.Projection) > 0 {
			c = resource.Project(c, req.Projection)
		}
		if !resource.Emit(ctx, out, resource.ScanResult{Chunk: c, Path: path}) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return resource.IOError("read", path, err)
	}
	return nil
}
