package executor

import (
	"io"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/kasuganosora/colexec/pkg/config"
	"github.com/kasuganosora/colexec/pkg/execerr"
	"github.com/kasuganosora/colexec/pkg/executor/operators"
	"github.com/kasuganosora/colexec/pkg/expr"
	"github.com/kasuganosora/colexec/pkg/logger"
	"github.com/kasuganosora/colexec/pkg/monitor"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/kasuganosora/colexec/pkg/workerpool"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// MemoryBudget 查询级内存预算，limit 为 0 时不限制
type MemoryBudget struct {
	limit int64
	used  atomic.Int64
}

// NewMemoryBudget 创建内存预算
func NewMemoryBudget(limit config.ByteSize) *MemoryBudget {
	return &MemoryBudget{limit: int64(limit)}
}

// Reserve 预留 n 字节，超出预算时不做任何预留并返回 OUT_OF_MEMORY
func (b *MemoryBudget) Reserve(n int64) error {
	if n <= 0 {
		return nil
	}
	for {
		used := b.used.Load()
		if b.limit > 0 && used+n > b.limit {
			return execerr.Newf(execerr.CodeOutOfMemory, "memory budget exceeded: %s in use, %s requested, limit %s",
				humanize.IBytes(uint64(used)), humanize.IBytes(uint64(n)), humanize.IBytes(uint64(b.limit)))
		}
		if b.used.CompareAndSwap(used, used+n) {
			return nil
		}
	}
}

// Release 归还 n 字节
func (b *MemoryBudget) Release(n int64) {
	if n > 0 {
		b.used.Add(-n)
	}
}

// Used 当前已预留的字节数
func (b *MemoryBudget) Used() int64 {
	return b.used.Load()
}

// Limit 预算上限
func (b *MemoryBudget) Limit() int64 {
	return b.limit
}

// Options 创建执行上下文的参数，零值字段使用默认值
type Options struct {
	Config    *config.Config
	Registry  *resource.Registry
	Evaluator expr.Evaluator
	Pool      *workerpool.Pool // 为空时按配置创建，并由 Close 关闭
	Metrics   *monitor.MetricsCollector
	SlowQuery *monitor.SlowQueryAnalyzer
	Logger    *zerolog.Logger
	BuildHook func(part, rows int) // 每个哈希建表分区完成后调用
}

// ExecutionContext 一次查询执行期间共享的资源
type ExecutionContext struct {
	QueryID   string
	Config    *config.Config
	Registry  *resource.Registry
	Evaluator expr.Evaluator
	Pool      *workerpool.Pool
	Dict      *types.StringDict
	Budget    *MemoryBudget
	Metrics   *monitor.MetricsCollector
	SlowQuery *monitor.SlowQueryAnalyzer
	Logger    zerolog.Logger

	buildHook func(part, rows int)
	closers   []io.Closer
}

// NewExecutionContext 创建执行上下文
func NewExecutionContext(opts Options) (*ExecutionContext, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	ec := &ExecutionContext{
		QueryID:   uuid.NewString(),
		Config:    cfg,
		Registry:  opts.Registry,
		Evaluator: opts.Evaluator,
		Pool:      opts.Pool,
		Dict:      types.NewStringDict(),
		Budget:    NewMemoryBudget(cfg.Execution.MemoryBudget),
		Metrics:   opts.Metrics,
		SlowQuery: opts.SlowQuery,
		buildHook: opts.BuildHook,
	}
	if ec.Registry == nil {
		ec.Registry = resource.NewRegistry()
	}
	if ec.Evaluator == nil {
		ec.Evaluator = expr.NewEvaluator()
	}
	if ec.Metrics == nil {
		ec.Metrics = monitor.NewMetricsCollector()
	}
	if opts.Logger != nil {
		ec.Logger = *opts.Logger
	} else {
		ec.Logger = logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}

	if ec.Pool == nil {
		pool, err := workerpool.New(workerpool.Config{Size: cfg.Pool.Workers, QueueSize: cfg.Pool.QueueSize})
		if err != nil {
			return nil, execerr.Wrap(err, execerr.CodeInvalidPlan, "create worker pool")
		}
		if err := pool.Start(); err != nil {
			return nil, execerr.Wrap(err, execerr.CodeInvalidPlan, "start worker pool")
		}
		ec.Pool = pool
		ec.closers = append(ec.closers, pool)
	}
	return ec, nil
}

// AddCloser 注册随执行上下文一起关闭的资源，例如远程缓存
func (ec *ExecutionContext) AddCloser(c io.Closer) {
	ec.closers = append(ec.closers, c)
}

// Close 按注册的逆序关闭资源
func (ec *ExecutionContext) Close() error {
	var err error
	for i := len(ec.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, ec.closers[i].Close())
	}
	ec.closers = nil
	return err
}

func (ec *ExecutionContext) env() operators.Env {
	return operators.Env{
		Pool:       ec.Pool,
		Partitions: ec.Config.EffectivePartitions(),
		MinRows:    minPartitionRows,
		ChunkSize:  ec.Config.Execution.ChunkSize,
		Evaluator:  ec.Evaluator,
		Registry:   ec.Registry,
	}
}

// minPartitionRows 小于该行数的输入不再继续切分
const minPartitionRows = 4096
