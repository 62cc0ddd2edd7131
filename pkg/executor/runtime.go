package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// 查询状态
const (
	StatusRunning   = "running"
	StatusStreaming = "streaming"
	StatusFallback  = "fallback" // 内存预算超限后改为流式执行
)

// Runtime 正在执行的查询表
type Runtime struct {
	activeQueries map[string]*QueryContext
	mu            sync.RWMutex
}

// QueryContext 查询状态
type QueryContext struct {
	QueryID    string
	RootKind   string
	StartTime  time.Time
	CancelFunc context.CancelFunc
	Status     string
	Progress   float64 // 已完成节点的比例
}

// NewRuntime 创建执行运行时
func NewRuntime() *Runtime {
	return &Runtime{
		activeQueries: make(map[string]*QueryContext),
	}
}

// RegisterQuery 注册查询
func (r *Runtime) RegisterQuery(queryID, rootKind string, cancelFunc context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeQueries[queryID] = &QueryContext{
		QueryID:    queryID,
		RootKind:   rootKind,
		StartTime:  time.Now(),
		CancelFunc: cancelFunc,
		Status:     StatusRunning,
	}
}

// UnregisterQuery 注销查询
func (r *Runtime) UnregisterQuery(queryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activeQueries, queryID)
}

// UpdateProgress 更新查询进度，status 为空时保持原状态
func (r *Runtime) UpdateProgress(queryID string, progress float64, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.activeQueries[queryID]; ok {
		ctx.Progress = progress
		if status != "" {
			ctx.Status = status
		}
	}
}

// CancelQuery 取消查询
func (r *Runtime) CancelQuery(queryID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.activeQueries[queryID]
	if !ok {
		return fmt.Errorf("query not found: %s", queryID)
	}
	ctx.CancelFunc()
	return nil
}

// GetQueryStatus 获取查询状态
func (r *Runtime) GetQueryStatus(queryID string) (*QueryContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.activeQueries[queryID]
	if !ok {
		return nil, fmt.Errorf("query not found: %s", queryID)
	}
	cp := *ctx
	return &cp, nil
}

// GetAllQueries 获取所有活跃查询，按开始时间排序
func (r *Runtime) GetAllQueries() []*QueryContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	queries := make([]*QueryContext, 0, len(r.activeQueries))
	for _, ctx := range r.activeQueries {
		cp := *ctx
		queries = append(queries, &cp)
	}
	sort.Slice(queries, func(i, j int) bool {
		return queries[i].StartTime.Before(queries[j].StartTime)
	})
	return queries
}
