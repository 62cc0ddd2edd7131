package resource

import (
	"os"
	"path/filepath"
	"sync"
)

// PendingFile 写入目标目录下的临时文件，Commit 时改名为目标路径，Discard 时删除
// 目标路径只会出现完整的文件
type PendingFile struct {
	path string
	f    *os.File

	mu   sync.Mutex
	done bool
}

// CreatePending 在 path 所在目录创建临时文件
func CreatePending(path string) (*PendingFile, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp_*")
	if err != nil {
		return nil, IOError("create temp file for", path, err)
	}
	return &PendingFile{path: path, f: f}, nil
}

// Path 目标路径
func (p *PendingFile) Path() string {
	return p.path
}

// Write 实现 io.Writer
func (p *PendingFile) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

// Commit 关闭临时文件并改名；失败时删除临时文件
func (p *PendingFile) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}
	p.done = true

	tmp := p.f.Name()
	if err := p.f.Close(); err != nil {
		os.Remove(tmp)
		return IOError("close", p.path, err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return IOError("rename", p.path, err)
	}
	return nil
}

// Discard 关闭并删除临时文件，目标路径保持不变
func (p *PendingFile) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}
	p.done = true

	p.f.Close()
	if err := os.Remove(p.f.Name()); err != nil && !os.IsNotExist(err) {
		return IOError("remove temp file for", p.path, err)
	}
	return nil
}
