// Package sink 面向终端和文本文件的结果输出
package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/kasuganosora/colexec/pkg/config"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/olekukonko/tablewriter"
)

const ellipsis = "…"

// TableSink 以文本表格输出结果，Close 时渲染
//
// 超过 MaxRows 时保留前后各一半的行，超过 MaxCols 时保留前后各一半的列，
// 中间以省略号代替；-1 表示不截断。
type TableSink struct {
	w      io.Writer
	schema *types.Schema
	opts   config.DisplayConfig

	mu      sync.Mutex
	aborted bool
	head    [][]string
	tail    [][]string // 环形缓冲，next 为最旧的位置
	next    int
	total   int
}

// NewTableSink 创建表格输出
func NewTableSink(w io.Writer, schema *types.Schema, opts config.DisplayConfig) *TableSink {
	return &TableSink{w: w, schema: schema, opts: opts}
}

// TableFactory 返回写入 w 的工厂
func TableFactory(w io.Writer, opts config.DisplayConfig) resource.SinkFactory {
	return func(schema *types.Schema) (resource.Sink, error) {
		return NewTableSink(w, schema, opts), nil
	}
}

func (s *TableSink) limits() (head, tail int) {
	if s.opts.MaxRows < 0 {
		return -1, 0
	}
	tail = s.opts.MaxRows / 2
	return s.opts.MaxRows - tail, tail
}

// Write 实现 resource.Sink
func (s *TableSink) Write(ctx context.Context, chunk *types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	headMax, tailMax := s.limits()
	rs := types.NewChunkResultSet(chunk)
	for r := range chunk.NumRows() {
		s.total++
		if headMax < 0 || len(s.head) < headMax {
			s.head = append(s.head, rs.FormatRow(r))
			continue
		}
		if tailMax == 0 {
			continue
		}
		if len(s.tail) < tailMax {
			s.tail = append(s.tail, rs.FormatRow(r))
			continue
		}
		s.tail[s.next] = rs.FormatRow(r)
		s.next = (s.next + 1) % tailMax
	}
	return nil
}

// columns 需要显示的列下标，-1 表示省略号列
func (s *TableSink) columns() []int {
	n := s.schema.Len()
	idx := make([]int, 0, n)
	if s.opts.MaxCols < 0 || n <= s.opts.MaxCols {
		for i := range n {
			idx = append(idx, i)
		}
		return idx
	}
	right := s.opts.MaxCols / 2
	left := s.opts.MaxCols - right
	for i := range left {
		idx = append(idx, i)
	}
	idx = append(idx, -1)
	for i := n - right; i < n; i++ {
		idx = append(idx, i)
	}
	return idx
}

func pick(row []string, cols []int) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if c < 0 {
			out[i] = ellipsis
		} else {
			out[i] = row[c]
		}
	}
	return out
}

// Abort 实现 resource.Aborter，丢弃缓冲的行，不输出任何内容
func (s *TableSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.head, s.tail, s.next, s.total = nil, nil, 0, 0
	return nil
}

// Close 渲染表格
func (s *TableSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return nil
	}

	cols := s.columns()
	header := make([]string, len(cols))
	for i, c := range cols {
		if c < 0 {
			header[i] = ellipsis
			continue
		}
		f := s.schema.Field(c)
		header[i] = fmt.Sprintf("%s\n%s", f.Name, f.Type)
	}

	fmt.Fprintf(s.w, "shape: (%s, %d)\n", humanize.Comma(int64(s.total)), s.schema.Len())
	table := tablewriter.NewWriter(s.w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	for _, row := range s.head {
		table.Append(pick(row, cols))
	}
	if len(s.head)+len(s.tail) < s.total {
		gap := make([]string, len(cols))
		for i := range gap {
			gap[i] = ellipsis
		}
		table.Append(gap)
	}
	for i := range s.tail {
		table.Append(pick(s.tail[(s.next+i)%len(s.tail)], cols))
	}
	table.Render()
	return nil
}
