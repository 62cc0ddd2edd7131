package resource

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kasuganosora/colexec/pkg/types"
)

// Registry 按名称注册扫描源和输出
type Registry struct {
	sources map[string]Source
	sinks   map[string]SinkFactory
	mu      sync.RWMutex
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
		sinks:   make(map[string]SinkFactory),
	}
}

// RegisterSource 注册扫描源
func (r *Registry) RegisterSource(name string, src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %s already registered", name)
	}
	r.sources[name] = src
	return nil
}

// RegisterSink 注册输出
func (r *Registry) RegisterSink(name string, factory SinkFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[name]; exists {
		return fmt.Errorf("sink %s already registered", name)
	}
	r.sinks[name] = factory
	return nil
}

// Unregister 注销同名的源和输出
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, src := r.sources[name]
	_, sink := r.sinks[name]
	if !src && !sink {
		return ErrSourceNotFound(name)
	}
	delete(r.sources, name)
	delete(r.sinks, name)
	return nil
}

// Source 获取扫描源
func (r *Registry) Source(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[name]
	if !ok {
		return nil, ErrSourceNotFound(name)
	}
	return src, nil
}

// SourceSchema 返回源的 Schema，供编译器解析扫描节点
func (r *Registry) SourceSchema(name string) (*types.Schema, error) {
	src, err := r.Source(name)
	if err != nil {
		return nil, err
	}
	return src.Schema(), nil
}

// OpenSink 为一次执行创建输出
func (r *Registry) OpenSink(name string, schema *types.Schema) (Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[name]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrSinkNotFound(name)
	}
	return factory(schema)
}

// Sources 列出所有源名称
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sinks 列出所有输出名称
func (r *Registry) Sinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
