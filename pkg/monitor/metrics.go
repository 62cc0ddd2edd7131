// Package monitor 查询与算子的运行指标
package monitor

import (
	"sort"
	"sync"
	"time"
)

// OperatorStats 某类算子的累计统计
type OperatorStats struct {
	Calls    int64
	Rows     int64
	Duration time.Duration
}

// MetricsCollector 监控指标收集器，可被多个查询并发使用
type MetricsCollector struct {
	mu             sync.RWMutex
	queryCount     int64
	querySuccess   int64
	queryError     int64
	totalDuration  time.Duration
	slowQueryCount int64
	activeQueries  int64
	errorCount     map[string]int64
	operators      map[string]*OperatorStats
	cacheHits      int64
	cacheMisses    int64
	oomFallbacks   int64
	startTime      time.Time
}

// NewMetricsCollector 创建监控指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		errorCount: make(map[string]int64),
		operators:  make(map[string]*OperatorStats),
		startTime:  time.Now(),
	}
}

// RecordQuery 记录一次查询的结果
func (m *MetricsCollector) RecordQuery(duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queryCount++
	m.totalDuration += duration
	if success {
		m.querySuccess++
	} else {
		m.queryError++
	}
}

// RecordError 按错误码计数
func (m *MetricsCollector) RecordError(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[code]++
}

// RecordOperator 记录一个算子节点的执行
func (m *MetricsCollector) RecordOperator(kind string, rows int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.operators[kind]
	if !ok {
		s = &OperatorStats{}
		m.operators[kind] = s
	}
	s.Calls++
	s.Rows += int64(rows)
	s.Duration += duration
}

// RecordCacheHit 远程对象缓存命中
func (m *MetricsCollector) RecordCacheHit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
}

// RecordCacheMiss 远程对象缓存未命中
func (m *MetricsCollector) RecordCacheMiss() {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
}

// RecordOOMFallback 内存预算超限后改为流式执行
func (m *MetricsCollector) RecordOOMFallback() {
	m.mu.Lock()
	m.oomFallbacks++
	m.mu.Unlock()
}

// RecordSlowQuery 记录慢查询
func (m *MetricsCollector) RecordSlowQuery() {
	m.mu.Lock()
	m.slowQueryCount++
	m.mu.Unlock()
}

// StartQuery 开始查询
func (m *MetricsCollector) StartQuery() {
	m.mu.Lock()
	m.activeQueries++
	m.mu.Unlock()
}

// EndQuery 结束查询
func (m *MetricsCollector) EndQuery() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeQueries > 0 {
		m.activeQueries--
	}
}

// Snapshot 某一时刻的指标副本
type Snapshot struct {
	QueryCount     int64
	QuerySuccess   int64
	QueryError     int64
	AvgDuration    time.Duration
	SlowQueryCount int64
	ActiveQueries  int64
	Errors         map[string]int64
	Operators      map[string]OperatorStats
	CacheHits      int64
	CacheMisses    int64
	OOMFallbacks   int64
	Uptime         time.Duration
}

// Snapshot 返回当前指标
func (m *MetricsCollector) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		QueryCount:     m.queryCount,
		QuerySuccess:   m.querySuccess,
		QueryError:     m.queryError,
		SlowQueryCount: m.slowQueryCount,
		ActiveQueries:  m.activeQueries,
		Errors:         make(map[string]int64, len(m.errorCount)),
		Operators:      make(map[string]OperatorStats, len(m.operators)),
		CacheHits:      m.cacheHits,
		CacheMisses:    m.cacheMisses,
		OOMFallbacks:   m.oomFallbacks,
		Uptime:         time.Since(m.startTime),
	}
	if m.queryCount > 0 {
		s.AvgDuration = m.totalDuration / time.Duration(m.queryCount)
	}
	for k, v := range m.errorCount {
		s.Errors[k] = v
	}
	for k, v := range m.operators {
		s.Operators[k] = *v
	}
	return s
}

// SuccessRate 成功率（百分比）
func (s Snapshot) SuccessRate() float64 {
	if s.QueryCount == 0 {
		return 0
	}
	return float64(s.QuerySuccess) / float64(s.QueryCount) * 100
}

// CacheHitRate 缓存命中率（百分比）
func (s Snapshot) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total) * 100
}

// OperatorKinds 有统计的算子类型，按名称排序
func (s Snapshot) OperatorKinds() []string {
	kinds := make([]string, 0, len(s.Operators))
	for k := range s.Operators {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Reset 重置所有指标
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queryCount = 0
	m.querySuccess = 0
	m.queryError = 0
	m.totalDuration = 0
	m.slowQueryCount = 0
	m.activeQueries = 0
	m.errorCount = make(map[string]int64)
	m.operators = make(map[string]*OperatorStats)
	m.cacheHits = 0
	m.cacheMisses = 0
	m.oomFallbacks = 0
	m.startTime = time.Now()
}
