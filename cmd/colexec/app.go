package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kasuganosora/colexec/pkg/compiler"
	"github.com/kasuganosora/colexec/pkg/config"
	"github.com/kasuganosora/colexec/pkg/executor"
	"github.com/kasuganosora/colexec/pkg/logger"
	"github.com/kasuganosora/colexec/pkg/logical"
	"github.com/kasuganosora/colexec/pkg/monitor"
	"github.com/kasuganosora/colexec/pkg/plan"
	"github.com/kasuganosora/colexec/pkg/resource"
	"github.com/kasuganosora/colexec/pkg/resource/arrowio"
	"github.com/kasuganosora/colexec/pkg/resource/parquet"
	"github.com/kasuganosora/colexec/pkg/resource/remote"
	"github.com/kasuganosora/colexec/pkg/resource/sink"
	"go.uber.org/multierr"
)

// stdoutSink 根节点不是 Sink 时追加的表格输出
const stdoutSink = "stdout"

const (
	slowQueryThreshold = time.Second
	slowQueryEntries   = 16
)

// app 一次命令调用：配置、注册表与编译后的计划
type app struct {
	cfg  *config.Config
	ec   *executor.ExecutionContext
	plan *plan.Plan
}

func newApp(ctx context.Context, o options, stdout, stderr io.Writer) (_ *app, err error) {
	cfg, err := config.LoadConfig(o.config)
	if err != nil {
		return nil, err
	}
	if o.streaming {
		cfg.Execution.Streaming = true
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: stderr})
	ec, err := executor.NewExecutionContext(executor.Options{
		Config:    cfg,
		Logger:    &log,
		Metrics:   monitor.NewMetricsCollector(),
		SlowQuery: monitor.NewSlowQueryAnalyzer(slowQueryThreshold, slowQueryEntries),
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, ec: ec}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	if err := a.registerSources(ctx, o.sources); err != nil {
		return nil, err
	}
	if err := a.registerSinks(stdout, o.outputs); err != nil {
		return nil, err
	}

	root, err := logical.DecodeFile(o.plan)
	if err != nil {
		return nil, err
	}
	if root.Type != plan.TypeSink {
		root = root.Sink(stdoutSink)
	}
	a.plan, err = compiler.Compile(ctx, root, &compiler.Options{
		Config:    cfg,
		Evaluator: ec.Evaluator,
		Sources:   ec.Registry,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// registerSources 按 URI 注册扫描源；远程源共享一个取数器和缓存
func (a *app) registerSources(ctx context.Context, sources namedValues) error {
	var (
		fetcher remote.Fetcher
		cache   *remote.Cache
	)
	for _, s := range sources {
		uris := strings.Split(s.value, ",")
		var (
			src resource.Source
			err error
		)
		switch {
		case isRemote(uris[0]):
			if fetcher == nil {
				fetcher = remote.NewRetryFetcher(remote.NewFetcher(a.cfg.Remote), remote.PolicyFromConfig(a.cfg.Remote))
				if a.cfg.Cache.Enabled {
					if cache, err = remote.OpenCache(a.cfg.Cache, a.ec.Logger); err != nil {
						return err
					}
					a.ec.AddCloser(cache)
				}
			}
			src, err = remote.NewSource(ctx, remote.Options{Fetcher: fetcher, Cache: cache, Metrics: a.ec.Metrics}, uris...)
		case isArrow(uris[0]):
			if len(uris) != 1 {
				return fmt.Errorf("%w: arrow source %q takes a single file", errUsage, s.name)
			}
			src, err = arrowio.NewStreamSource(uris[0])
		default:
			src, err = parquet.NewFileSource(uris...)
		}
		if err != nil {
			return fmt.Errorf("source %s: %w", s.name, err)
		}
		if err := a.ec.Registry.RegisterSource(s.name, src); err != nil {
			return err
		}
		a.ec.Logger.Debug().Str("source", s.name).Str("uri", s.value).Str("schema", src.Schema().String()).Msg("source registered")
	}
	return nil
}

// registerSinks 注册标准输出表格和命令行给出的文件输出
func (a *app) registerSinks(stdout io.Writer, outputs namedValues) error {
	if err := a.ec.Registry.RegisterSink(stdoutSink, sink.TableFactory(stdout, a.cfg.Display)); err != nil {
		return err
	}
	for _, o := range outputs {
		var factory resource.SinkFactory
		switch ext := strings.ToLower(filepath.Ext(o.value)); {
		case o.value == "-" || ext == ".csv":
			factory = sink.CSVFactory(o.value)
		case ext == ".parquet":
			factory = parquet.Factory(o.value, parquet.WriteOptions{Compression: "snappy"})
		case isArrow(o.value):
			factory = arrowio.FileFactory(o.value)
		default:
			return fmt.Errorf("%w: unknown output format for %q", errUsage, o.value)
		}
		if err := a.ec.Registry.RegisterSink(o.name, factory); err != nil {
			return err
		}
	}
	return nil
}

// Run 执行计划，结果已由 Sink 写出
func (a *app) Run(ctx context.Context) error {
	out, err := executor.New().Execute(ctx, a.plan, a.ec)
	if err != nil {
		return err
	}
	snap := a.ec.Metrics.Snapshot()
	event := a.ec.Logger.Info().
		Str("query_id", a.ec.QueryID).
		Int("rows", out.NumRows()).
		Dur("duration", snap.AvgDuration).
		Str("memory_budget", budgetString(a.ec.Budget.Limit()))
	if snap.OOMFallbacks > 0 {
		event = event.Int64("oom_fallbacks", snap.OOMFallbacks)
	}
	if snap.CacheHits+snap.CacheMisses > 0 {
		event = event.Int64("cache_hits", snap.CacheHits).Int64("cache_misses", snap.CacheMisses)
	}
	event.Msg("query done")
	return nil
}

// Close 释放缓存与工作池
func (a *app) Close() error {
	return a.ec.Close()
}

func isRemote(uri string) bool {
	return strings.HasPrefix(uri, "s3://") || strings.HasPrefix(uri, "file://")
}

func isArrow(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".arrow", ".arrows":
		return true
	}
	return false
}

func budgetString(limit int64) string {
	if limit <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(limit))
}
