package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
)

// CSVSink 以 CSV 输出结果，首行为列名，空值写为空字符串
type CSVSink struct {
	mu      sync.Mutex
	w       *csv.Writer
	file    *resource.PendingFile // 写文件时 Close 发布、Abort 删除
	closer  io.Closer
	schema  *types.Schema
	header  bool
	aborted bool
}

// NewCSVSink 写入 w；w 实现 io.Closer 时随 Close 一起关闭
func NewCSVSink(w io.Writer, schema *types.Schema) *CSVSink {
	s := &CSVSink{w: csv.NewWriter(w), schema: schema}
	if f, ok := w.(*resource.PendingFile); ok {
		s.file = f
	} else if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		s.closer = c
	}
	return s
}

// CSVFactory 返回写入 path 的工厂，path 为 "-" 时写标准输出
func CSVFactory(path string) resource.SinkFactory {
	return func(schema *types.Schema) (resource.Sink, error) {
		if path == "-" {
			return NewCSVSink(os.Stdout, schema), nil
		}
		f, err := resource.CreatePending(path)
		if err != nil {
			return nil, err
		}
		return NewCSVSink(f, schema), nil
	}
}

func (s *CSVSink) writeHeader() error {
	if s.header {
		return nil
	}
	s.header = true
	return s.w.Write(s.schema.Names())
}

// Write 实现 resource.Sink
func (s *CSVSink) Write(ctx context.Context, chunk *types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeHeader(); err != nil {
		return err
	}
	record := make([]string, chunk.NumColumns())
	for r := range chunk.NumRows() {
		for i, col := range chunk.Columns() {
			record[i] = csvValue(col, r)
		}
		if err := s.w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// csvValue 单元格文本；以公式字符开头的字符串加单引号前缀
func csvValue(col *types.Column, r int) string {
	if col.IsNull(r) {
		return ""
	}
	v := col.FormatValue(r)
	if col.Type().ID == types.Utf8 && len(v) > 0 && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

// Close 刷新缓冲，写文件时发布文件
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return nil
	}

	err := s.writeHeader()
	s.w.Flush()
	if err == nil {
		err = s.w.Error()
	}
	if err != nil {
		err = fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	switch {
	case s.file != nil && err != nil:
		s.file.Discard()
	case s.file != nil:
		err = s.file.Commit()
	case s.closer != nil:
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Abort 实现 resource.Aborter：丢弃缓冲，写文件时删除临时文件
func (s *CSVSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return nil
	}
	s.aborted = true
	switch {
	case s.file != nil:
		return s.file.Discard()
	case s.closer != nil:
		return s.closer.Close()
	}
	return nil
}
