package resource

import (
	"fmt"

	"github.com/kasuganosora/colexec/pkg/execerr"
)

// ErrSourceNotFound 源不存在错误
func ErrSourceNotFound(name string) error {
	return fmt.Errorf("source %s not found", name)
}

// ErrSinkNotFound 输出不存在错误
func ErrSinkNotFound(name string) error {
	return fmt.Errorf("sink %s not found", name)
}

// ErrFileNotFound 文件不存在错误
func ErrFileNotFound(filePath, fileType string) error {
	return fmt.Errorf("%s file not found: %s", fileType, filePath)
}

// IOError 把读写失败包装为 IO_ERROR，保留原始错误
func IOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return execerr.New(execerr.CodeIO, fmt.Sprintf("%s %s", op, path), err)
}
