package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	// 执行配置
	assert.False(t, config.Execution.Streaming)
	assert.Equal(t, ByteSize(0), config.Execution.MemoryBudget)
	assert.Equal(t, 512, config.Execution.MaxPlanDepth)
	assert.Equal(t, 64*1024, config.Execution.ChunkSize)

	// 连接配置
	assert.Equal(t, "", config.Join.Algorithm)
	assert.Equal(t, "backward", config.Join.AsofStrategy)
	assert.Equal(t, "_right", config.Join.RightSuffix)
	assert.False(t, config.Join.NullsEqual)

	// 窗口配置
	assert.Equal(t, "left", config.Window.Closed)
	assert.Equal(t, "left", config.Window.Label)

	// 远程配置
	assert.Equal(t, 5, config.Remote.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, config.Remote.InitialBackoff)

	assert.Equal(t, "info", config.Log.Level)
	assert.GreaterOrEqual(t, config.Pool.Workers, 1)
	assert.NoError(t, config.Validate())
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	config, err := LoadConfig("")

	assert.NoError(t, err)
	assert.NotNil(t, config)
	assert.Equal(t, 512, config.Execution.MaxPlanDepth)
}

func TestLoadConfig_NotExist(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "配置文件不存在")
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colexec.json")
	content := `{
		"execution": {"streaming": true, "memory_budget": "4GiB", "max_plan_depth": 64},
		"join": {"algorithm": "merge", "nulls_equal": true},
		"display": {"max_rows": -1}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, config.Execution.Streaming)
	assert.Equal(t, ByteSize(4<<30), config.Execution.MemoryBudget)
	assert.Equal(t, 64, config.Execution.MaxPlanDepth)
	assert.Equal(t, "merge", config.Join.Algorithm)
	assert.True(t, config.Join.NullsEqual)
	assert.Equal(t, -1, config.Display.MaxRows)
	// 未出现的字段保留默认值
	assert.Equal(t, "_right", config.Join.RightSuffix)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "解析配置文件失败")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown join algorithm", func(c *Config) { c.Join.Algorithm = "nested_loop" }},
		{"unknown asof strategy", func(c *Config) { c.Join.AsofStrategy = "sideways" }},
		{"negative tolerance", func(c *Config) { c.Join.Tolerance = -1 }},
		{"zero plan depth", func(c *Config) { c.Execution.MaxPlanDepth = 0 }},
		{"zero workers", func(c *Config) { c.Pool.Workers = 0 }},
		{"bad closed", func(c *Config) { c.Window.Closed = "open" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty suffix", func(c *Config) { c.Join.RightSuffix = "" }},
		{"cache without dir", func(c *Config) { c.Cache.Enabled = true; c.Cache.Dir = "" }},
		{"backoff inverted", func(c *Config) { c.Remote.MaxBackoff = time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvStreaming, "true")
	t.Setenv(EnvMemoryBudget, "512MiB")
	t.Setenv(EnvWorkers, "3")
	t.Setenv(EnvJoinAlgo, "hash")
	t.Setenv(EnvTableRows, "20")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.True(t, config.Execution.Streaming)
	assert.Equal(t, ByteSize(512<<20), config.Execution.MemoryBudget)
	assert.Equal(t, 3, config.Pool.Workers)
	assert.Equal(t, "hash", config.Join.Algorithm)
	assert.Equal(t, 20, config.Display.MaxRows)
	assert.Equal(t, 3, config.EffectivePartitions())
}

func TestEnvOverrides_Invalid(t *testing.T) {
	t.Setenv(EnvWorkers, "many")

	_, err := LoadConfig("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), EnvWorkers)
}

func TestByteSizeJSON(t *testing.T) {
	var b ByteSize
	require.NoError(t, json.Unmarshal([]byte(`1024`), &b))
	assert.Equal(t, ByteSize(1024), b)

	require.NoError(t, json.Unmarshal([]byte(`"2 KiB"`), &b))
	assert.Equal(t, ByteSize(2048), b)

	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &b))

	data, err := json.Marshal(ByteSize(1 << 30))
	require.NoError(t, err)
	assert.Equal(t, `"1.0 GiB"`, string(data))
	assert.Equal(t, "unlimited", ByteSize(0).String())
}
