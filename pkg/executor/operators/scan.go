package operators

import (
	"context"
	"errors"

	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/kasuganosora/colexec/pkg/workerpool"
	"github.com/rs/zerolog"
)

// Scanner 把源产出的 chunk 整理成扫描节点的输出
//
// 处理顺序：列对齐、读取前切片、行号、谓词重过滤、投影、文件路径列。
// 切片与行号都以源的原始行位置计算，与谓词无关。
type Scanner struct {
	id     string
	cfg    *plan.ScanConfig
	out    *types.Schema
	env    Env
	needed []types.Field // 从源读取的列：投影列加谓词引用的列
	pos    int64         // 已经看到的源行数
	rows   int64
}

// NewScanner 创建扫描器
func NewScanner(p *plan.Plan, env Env) (*Scanner, error) {
	cfg, err := configOf[*plan.ScanConfig](p)
	if err != nil {
		return nil, err
	}
	if cfg.SourceSchema == nil {
		return nil, execerr.Newf(execerr.CodeInvalidPlan, "scan of %q has no source schema", cfg.Source)
	}

	s := &Scanner{id: p.ID, cfg: cfg, out: p.OutputSchema, env: env}
	seen := make(map[string]bool)
	add := func(name string) error {
		if seen[name] {
			return nil
		}
		f, ok := cfg.SourceSchema.Lookup(name)
		if !ok {
			return execerr.Newf(execerr.CodeSchemaMismatch, "column %q not in source %q", name, cfg.Source)
		}
		seen[name] = true
		s.needed = append(s.needed, f)
		return nil
	}

	names := cfg.Projection
	if len(names) == 0 {
		names = cfg.SourceSchema.Names()
	}
	for _, name := range names {
		if err := add(name); err != nil {
			return nil, err
		}
	}
	if cfg.Predicate != nil {
		for _, name := range cfg.Predicate.Columns() {
			if err := add(name); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Request 发给源的扫描请求；extra_columns=raise 时需要看到源的全部列
func (s *Scanner) Request() resource.ScanRequest {
	req := resource.ScanRequest{Predicate: s.cfg.Predicate, ChunkSize: s.env.ChunkSize}
	if s.cfg.ExtraColumns != plan.ExtraRaise {
		req.Projection = make([]string, len(s.needed))
		for i, f := range s.needed {
			req.Projection[i] = f.Name
		}
	}
	return req
}

// Open 从注册表找到源并开始扫描
func (s *Scanner) Open(ctx context.Context) (<-chan resource.ScanResult, error) {
	if s.env.Registry == nil {
		return nil, execerr.Newf(execerr.CodeInvalidPlan, "no source registry for %q", s.cfg.Source)
	}
	src, err := s.env.Registry.Source(s.cfg.Source)
	if err != nil {
		return nil, execerr.Wrap(err, execerr.CodeInvalidPlan, "open scan")
	}
	return src.Scan(ctx, s.Request()), nil
}

// Process 处理源产出的一个结果
// 返回的 chunk 可能为空；done 为 true 表示切片范围已经读完，后续结果可以丢弃
func (s *Scanner) Process(ctx context.Context, res resource.ScanResult) (*types.Chunk, bool, error) {
	if res.Err != nil {
		return nil, true, sourceError(s.cfg.Source, res.Err)
	}

	raw := res.Chunk
	n := int64(raw.NumRows())
	start := s.pos
	s.pos += n

	lo, hi := int64(0), n
	done := false
	if ps := s.cfg.PreSlice; ps != nil {
		end := ps.Offset + ps.Length
		lo = min(max(ps.Offset-start, 0), n)
		hi = min(max(end-start, 0), n)
		done = s.pos >= end
	}
	if hi <= lo {
		return types.EmptyChunk(s.out), done, nil
	}

	c, err := s.conform(raw)
	if err != nil {
		return nil, true, err
	}
	if lo > 0 || hi < n {
		c = c.Slice(int(lo), int(hi-lo))
	}

	var rowIndex *types.Column
	if ri := s.cfg.RowIndex; ri != nil {
		idx := make([]int64, c.NumRows())
		base := ri.Offset + start + lo
		for i := range idx {
			idx[i] = base + int64(i)
		}
		rowIndex = types.NewInt64Column(ri.Name, idx)
	}

	if s.cfg.Predicate != nil {
		sel, err := selectRows(ctx, s.env, s.cfg.Predicate, c)
		if err != nil {
			return nil, true, err
		}
		if sel != nil {
			c = c.Take(*sel)
			if rowIndex != nil {
				rowIndex = rowIndex.Take(*sel)
			}
			workerpool.Indices.Put(sel)
		}
	}

	out, err := s.assemble(c, rowIndex, res.Path)
	if err != nil {
		return nil, true, err
	}
	s.rows += int64(out.NumRows())
	return out, done, nil
}

// conform 按源 Schema 对齐列：检查多余列，按策略补齐缺失列，并校验类型
func (s *Scanner) conform(raw *types.Chunk) (*types.Chunk, error) {
	if s.cfg.ExtraColumns == plan.ExtraRaise {
		for _, f := range raw.Schema().Fields() {
			if _, ok := s.cfg.SourceSchema.Index(f.Name); !ok {
				return nil, execerr.Newf(execerr.CodeSchemaMismatch, "source %q has unexpected column %q", s.cfg.Source, f.Name)
			}
		}
	}

	cols := make([]*types.Column, len(s.needed))
	for i, f := range s.needed {
		col, ok := raw.ColumnByName(f.Name)
		switch {
		case !ok && s.cfg.MissingColumns == plan.MissingInsert:
			col = types.NewNullColumn(f.Name, f.Type, raw.NumRows())
		case !ok:
			return nil, execerr.Newf(execerr.CodeSchemaMismatch, "source %q is missing column %q", s.cfg.Source, f.Name)
		case !col.Type().Equal(f.Type):
			return nil, execerr.Newf(execerr.CodeSchemaMismatch, "source %q column %q is %s, expected %s", s.cfg.Source, f.Name, col.Type(), f.Type)
		}
		cols[i] = col
	}
	return newChunk(cols...)
}

// assemble 按输出 Schema 排列：行号列、投影列、文件路径列
func (s *Scanner) assemble(c *types.Chunk, rowIndex *types.Column, path string) (*types.Chunk, error) {
	cols := make([]*types.Column, 0, s.out.Len())
	for _, f := range s.out.Fields() {
		switch {
		case rowIndex != nil && f.Name == s.cfg.RowIndex.Name:
			cols = append(cols, rowIndex)
		case s.cfg.FilePathColumn != "" && f.Name == s.cfg.FilePathColumn:
			cols = append(cols, types.NewUtf8Column(f.Name, []string{path}).Broadcast(c.NumRows()))
		default:
			col, ok := c.ColumnByName(f.Name)
			if !ok {
				return nil, execerr.Newf(execerr.CodeSchemaMismatch, "scan output column %q not produced", f.Name)
			}
			cols = append(cols, col)
		}
	}
	return newChunk(cols...)
}

// Rows 已输出的行数
func (s *Scanner) Rows() int64 {
	return s.rows
}

// Run 打开源并把每个非空 chunk 交给 emit，直到源结束、切片读完或出错
// emit 返回的错误原样返回
func (s *Scanner) Run(ctx context.Context, emit func(*types.Chunk) error) error {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results, err := s.Open(scanCtx)
	if err != nil {
		return err
	}

	for res := range results {
		c, done, err := s.Process(scanCtx, res)
		if err != nil {
			return err
		}
		if c.NumRows() > 0 {
			if err := emit(c); err != nil {
				return err
			}
		}
		if done {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return execerr.Cancelled(err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("node", s.id).
		Str("source", s.cfg.Source).
		Int64("source_rows", s.pos).
		Int64("rows", s.rows).
		Msg("scan finished")
	return nil
}

// sourceError 归一化源返回的错误，未分类的错误视为 IO 错误
func sourceError(source string, err error) error {
	if execerr.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return execerr.Cancelled(err)
	}
	return resource.IOError("scan", source, err)
}
