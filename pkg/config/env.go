package config

import (
	"fmt"

	"github.com/spf13/cast"
)

// 环境变量覆盖，优先级高于配置文件
const (
	EnvStreaming    = "COLEXEC_STREAMING"
	EnvMemoryBudget = "COLEXEC_MEMORY_BUDGET"
	EnvChunkSize    = "COLEXEC_CHUNK_SIZE"
	EnvMaxPlanDepth = "COLEXEC_MAX_PLAN_DEPTH"
	EnvWorkers      = "COLEXEC_WORKERS"
	EnvJoinAlgo     = "COLEXEC_JOIN_ALGORITHM"
	EnvNullsEqual   = "COLEXEC_JOIN_NULLS_EQUAL"
	EnvCacheDir     = "COLEXEC_CACHE_DIR"
	EnvS3Region     = "COLEXEC_S3_REGION"
	EnvS3Endpoint   = "COLEXEC_S3_ENDPOINT"
	EnvLogLevel     = "COLEXEC_LOG_LEVEL"
	EnvLogFormat    = "COLEXEC_LOG_FORMAT"
	EnvTableRows    = "COLEXEC_FMT_MAX_ROWS"
	EnvTableCols    = "COLEXEC_FMT_MAX_COLS"
)

type lookupFunc func(string) (string, bool)

func applyEnv(c *Config, lookup lookupFunc) error {
	var firstErr error
	setErr := func(name string, err error) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("环境变量 %s 无效: %w", name, err)
		}
	}

	boolVar := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := cast.ToBoolE(v)
			setErr(name, err)
			if err == nil {
				*dst = b
			}
		}
	}
	intVar := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := cast.ToIntE(v)
			setErr(name, err)
			if err == nil {
				*dst = n
			}
		}
	}
	strVar := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	boolVar(EnvStreaming, &c.Execution.Streaming)
	intVar(EnvChunkSize, &c.Execution.ChunkSize)
	intVar(EnvMaxPlanDepth, &c.Execution.MaxPlanDepth)
	intVar(EnvWorkers, &c.Pool.Workers)
	strVar(EnvJoinAlgo, &c.Join.Algorithm)
	boolVar(EnvNullsEqual, &c.Join.NullsEqual)
	strVar(EnvCacheDir, &c.Cache.Dir)
	strVar(EnvS3Region, &c.Remote.Region)
	strVar(EnvS3Endpoint, &c.Remote.Endpoint)
	strVar(EnvLogLevel, &c.Log.Level)
	strVar(EnvLogFormat, &c.Log.Format)
	intVar(EnvTableRows, &c.Display.MaxRows)
	intVar(EnvTableCols, &c.Display.MaxCols)

	if v, ok := lookup(EnvMemoryBudget); ok {
		b, err := ParseByteSize(v)
		setErr(EnvMemoryBudget, err)
		if err == nil {
			c.Execution.MemoryBudget = b
		}
	}

	return firstErr
}
