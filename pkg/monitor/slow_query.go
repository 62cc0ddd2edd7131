package monitor

import (
	"sync"
	"time"

	"github.com/kasuganosora/colexec/pkg/execerr"
)

// SlowQueryLog 慢查询日志项
type SlowQueryLog struct {
	ID        int64
	QueryID   string
	Plan      string // 物理计划树
	RootKind  string
	Duration  time.Duration
	Timestamp time.Time
	RowCount  int64
	Error     string
}

// SlowQueryAnalyzer 保留最近的慢查询
type SlowQueryAnalyzer struct {
	mu          sync.RWMutex
	slowQueries []*SlowQueryLog
	threshold   time.Duration
	maxEntries  int
	nextID      int64
}

// NewSlowQueryAnalyzer 创建慢查询分析器
func NewSlowQueryAnalyzer(threshold time.Duration, maxEntries int) *SlowQueryAnalyzer {
	return &SlowQueryAnalyzer{
		slowQueries: make([]*SlowQueryLog, 0, maxEntries),
		threshold:   threshold,
		maxEntries:  max(maxEntries, 1),
		nextID:      1,
	}
}

// IsSlowQuery 检查是否为慢查询
func (s *SlowQueryAnalyzer) IsSlowQuery(duration time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return duration >= s.threshold
}

// Record 记录慢查询，未超过阈值时返回 0
func (s *SlowQueryAnalyzer) Record(entry SlowQueryLog) int64 {
	if !s.IsSlowQuery(entry.Duration) {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := entry
	log.ID = s.nextID
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	s.slowQueries = append(s.slowQueries, &log)
	s.nextID++

	// 超出最大条目数时移除最旧的记录
	if len(s.slowQueries) > s.maxEntries {
		s.slowQueries = s.slowQueries[1:]
	}
	return log.ID
}

// Get 按 ID 查询
func (s *SlowQueryAnalyzer) Get(id int64) (*SlowQueryLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, log := range s.slowQueries {
		if log.ID == id {
			cp := *log
			return &cp, true
		}
	}
	return nil, false
}

// All 按记录顺序返回所有慢查询
func (s *SlowQueryAnalyzer) All() []*SlowQueryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SlowQueryLog, len(s.slowQueries))
	for i, log := range s.slowQueries {
		cp := *log
		out[i] = &cp
	}
	return out
}

// Count 当前保留的慢查询数
func (s *SlowQueryAnalyzer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slowQueries)
}

// Clear 清空
func (s *SlowQueryAnalyzer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowQueries = s.slowQueries[:0]
}

// SetThreshold 设置阈值
func (s *SlowQueryAnalyzer) SetThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
}

// Threshold 当前阈值
func (s *SlowQueryAnalyzer) Threshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SlowQueryAnalysis 慢查询汇总
type SlowQueryAnalysis struct {
	TotalQueries  int
	ErrorCount    int
	AvgDuration   time.Duration
	MaxDuration   time.Duration
	MinDuration   time.Duration
	TotalRowCount int64
	ByRootKind    map[string]int // 根算子类型 -> 慢查询数
}

// Analyze 汇总当前保留的慢查询
func (s *SlowQueryAnalyzer) Analyze() SlowQueryAnalysis {
	s.mu.RLock()
	defer s.mu.RUnlock()

	analysis := SlowQueryAnalysis{ByRootKind: make(map[string]int)}
	if len(s.slowQueries) == 0 {
		return analysis
	}
	analysis.TotalQueries = len(s.slowQueries)
	analysis.MinDuration = s.slowQueries[0].Duration

	var total time.Duration
	for _, log := range s.slowQueries {
		total += log.Duration
		analysis.TotalRowCount += log.RowCount
		analysis.MaxDuration = max(analysis.MaxDuration, log.Duration)
		analysis.MinDuration = min(analysis.MinDuration, log.Duration)
		if log.Error != "" {
			analysis.ErrorCount++
		}
		analysis.ByRootKind[log.RootKind]++
	}
	analysis.AvgDuration = total / time.Duration(len(s.slowQueries))
	return analysis
}

// MonitorContext 一次查询的监控
type MonitorContext struct {
	Metrics   *MetricsCollector
	SlowQuery *SlowQueryAnalyzer // 可以为空
	QueryID   string
	RootKind  string
	Plan      func() string // 仅在记录慢查询时调用
	StartTime time.Time
}

// Start 开始监控
func (mc *MonitorContext) Start() {
	mc.StartTime = time.Now()
	mc.Metrics.StartQuery()
}

// End 结束监控
func (mc *MonitorContext) End(rowCount int64, err error) time.Duration {
	duration := time.Since(mc.StartTime)
	mc.Metrics.RecordQuery(duration, err == nil)
	mc.Metrics.EndQuery()
	if err != nil {
		code := execerr.CodeOf(err)
		if code == "" {
			code = "UNKNOWN"
		}
		mc.Metrics.RecordError(string(code))
	}

	if mc.SlowQuery == nil || !mc.SlowQuery.IsSlowQuery(duration) {
		return duration
	}
	mc.Metrics.RecordSlowQuery()
	entry := SlowQueryLog{
		QueryID:  mc.QueryID,
		RootKind: mc.RootKind,
		Duration: duration,
		RowCount: rowCount,
	}
	if mc.Plan != nil {
		entry.Plan = mc.Plan()
	}
	if err != nil {
		entry.Error = err.Error()
	}
	mc.SlowQuery.Record(entry)
	return duration
}
