package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime_RegisterQuery(t *testing.T) {
	runtime := NewRuntime()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime.RegisterQuery("query1", "Sink", cancel)

	query, err := runtime.GetQueryStatus("query1")
	require.NoError(t, err)
	assert.Equal(t, "query1", query.QueryID)
	assert.Equal(t, "Sink", query.RootKind)
	assert.Equal(t, StatusRunning, query.Status)
	assert.Equal(t, 0.0, query.Progress)
}

func TestRuntime_UnregisterQuery(t *testing.T) {
	runtime := NewRuntime()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime.RegisterQuery("query1", "Scan", cancel)
	runtime.UnregisterQuery("query1")

	_, err := runtime.GetQueryStatus("query1")
	assert.Error(t, err)
}

func TestRuntime_UpdateProgress(t *testing.T) {
	runtime := NewRuntime()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime.RegisterQuery("query1", "Join", cancel)
	runtime.UpdateProgress("query1", 0.5, StatusFallback)
	runtime.UpdateProgress("query1", 0.75, "")

	query, err := runtime.GetQueryStatus("query1")
	require.NoError(t, err)
	assert.Equal(t, 0.75, query.Progress)
	assert.Equal(t, StatusFallback, query.Status)
}

func TestRuntime_CancelQuery(t *testing.T) {
	runtime := NewRuntime()
	ctx, cancel := context.WithCancel(context.Background())

	runtime.RegisterQuery("query1", "Scan", cancel)
	require.NoError(t, runtime.CancelQuery("query1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// 取消不会注销查询，执行器退出时才注销
	_, err := runtime.GetQueryStatus("query1")
	require.NoError(t, err)
}

func TestRuntime_NotFound(t *testing.T) {
	runtime := NewRuntime()

	err := runtime.CancelQuery("nonexistent")
	assert.ErrorContains(t, err, "query not found")

	_, err = runtime.GetQueryStatus("nonexistent")
	assert.ErrorContains(t, err, "query not found")
}

func TestRuntime_GetAllQueries(t *testing.T) {
	runtime := NewRuntime()
	assert.Empty(t, runtime.GetAllQueries())

	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	runtime.RegisterQuery("query1", "Scan", cancel1)
	time.Sleep(time.Millisecond)
	runtime.RegisterQuery("query2", "Sink", cancel2)

	queries := runtime.GetAllQueries()
	require.Len(t, queries, 2)
	assert.Equal(t, "query1", queries[0].QueryID)
	assert.Equal(t, "query2", queries[1].QueryID)
}
