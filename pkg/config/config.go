package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
)

// Config 执行引擎配置
type Config struct {
	Execution ExecutionConfig `json:"execution"`
	Join      JoinConfig      `json:"join"`
	Window    WindowConfig    `json:"window"`
	Pool      PoolConfig      `json:"pool"`
	Cache     CacheConfig     `json:"cache"`
	Remote    RemoteConfig    `json:"remote"`
	Log       LogConfig       `json:"log"`
	Display   DisplayConfig   `json:"display"`
}

// ExecutionConfig 执行配置
type ExecutionConfig struct {
	Streaming    bool     `json:"streaming"`
	MemoryBudget ByteSize `json:"memory_budget"` // 0 表示不限制
	ChunkSize    int      `json:"chunk_size" validate:"min=1"`
	MaxPlanDepth int      `json:"max_plan_depth" validate:"min=1"`
	Partitions   int      `json:"partitions" validate:"min=0"` // 0 表示与工作线程数相同
}

// JoinConfig 连接默认值
type JoinConfig struct {
	Algorithm    string `json:"algorithm" validate:"omitempty,oneof=hash merge asof"` // 空表示自动选择
	AsofStrategy string `json:"asof_strategy" validate:"oneof=backward forward nearest"`
	Tolerance    int64  `json:"tolerance" validate:"min=0"` // 0 表示不限制
	NullsEqual   bool   `json:"nulls_equal"`
	RightSuffix  string `json:"right_suffix" validate:"required"`
	AssumeSorted bool   `json:"assume_sorted"`
}

// WindowConfig 时间窗口分组默认值
type WindowConfig struct {
	Closed            string `json:"closed" validate:"oneof=left right both none"`
	Label             string `json:"label" validate:"oneof=left right datapoint"`
	EmitEmpty         bool   `json:"emit_empty"`
	IncludeBoundaries bool   `json:"include_boundaries"`
}

// PoolConfig 工作池配置
type PoolConfig struct {
	Workers   int `json:"workers" validate:"min=1"`
	QueueSize int `json:"queue_size" validate:"min=1"`
}

// CacheConfig 远程对象缓存配置
type CacheConfig struct {
	Enabled bool     `json:"enabled"`
	Dir     string   `json:"dir" validate:"required_if=Enabled true"`
	MaxCost ByteSize `json:"max_cost"`
}

// RemoteConfig 远程对象存储配置
type RemoteConfig struct {
	Region         string        `json:"region"`
	Endpoint       string        `json:"endpoint"`
	ForcePathStyle bool          `json:"force_path_style"`
	Concurrency    int           `json:"concurrency" validate:"min=1"`
	MaxRetries     int           `json:"max_retries" validate:"min=0"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=json console"`
}

// DisplayConfig 表格输出配置，-1 表示不截断
type DisplayConfig struct {
	MaxRows int `json:"max_rows" validate:"min=-1"`
	MaxCols int `json:"max_cols" validate:"min=-1"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Execution: ExecutionConfig{
			Streaming:    false,
			MemoryBudget: 0,
			ChunkSize:    64 * 1024,
			MaxPlanDepth: 512,
			Partitions:   0,
		},
		Join: JoinConfig{
			AsofStrategy: "backward",
			RightSuffix:  "_right",
		},
		Window: WindowConfig{
			Closed: "left",
			Label:  "left",
		},
		Pool: PoolConfig{
			Workers:   runtime.NumCPU(),
			QueueSize: 1024,
		},
		Cache: CacheConfig{
			Enabled: false,
			Dir:     filepath.Join(os.TempDir(), "colexec-cache"),
			MaxCost: 256 * ByteSize(humanize.MiByte),
		},
		Remote: RemoteConfig{
			Region:         "us-east-1",
			Concurrency:    4,
			MaxRetries:     5,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Display: DisplayConfig{
			MaxRows: 8,
			MaxCols: 8,
		},
	}
}

// LoadConfig 从文件加载配置，再应用环境变量覆盖
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("配置文件不存在: %s", configPath)
		}

		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}

		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	if err := applyEnv(config, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadConfigOrDefault 尝试从常见位置加载配置文件
func LoadConfigOrDefault() *Config {
	possiblePaths := []string{
		"colexec.json",
		"./config/colexec.json",
		"/etc/colexec/config.json",
	}

	if envPath := os.Getenv("COLEXEC_CONFIG"); envPath != "" {
		if config, err := LoadConfig(envPath); err == nil {
			return config
		}
	}

	for _, path := range possiblePaths {
		if absPath, err := filepath.Abs(path); err == nil {
			if config, err := LoadConfig(absPath); err == nil {
				return config
			}
		}
	}

	if config, err := LoadConfig(""); err == nil {
		return config
	}
	return DefaultConfig()
}

var validate = validator.New()

// validateConfig 验证配置
func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if config.Remote.MaxBackoff < config.Remote.InitialBackoff {
		return fmt.Errorf("最大退避时间不能小于初始退避时间")
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	return validateConfig(c)
}

// Clone 返回配置的副本
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// EffectivePartitions 并行分区数
func (c *Config) EffectivePartitions() int {
	if c.Execution.Partitions > 0 {
		return c.Execution.Partitions
	}
	return c.Pool.Workers
}
