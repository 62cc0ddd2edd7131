//go:build !unix

package remote

import (
	"context"
	"sync"
)

var locks sync.Map

// lockFile 没有 flock 的平台只在进程内互斥
func lockFile(ctx context.Context, path string) (func(), error) {
	v, _ := locks.LoadOrStore(path, make(chan struct{}, 1))
	sem := v.(chan struct{})
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
