package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rushteam/nearrec/pipeline"
)

// NodeBuilder 根据 YAML 中的 config 段构建一个 Node。
type NodeBuilder = pipeline.NodeBuilder

// Registry 记录 "type 名 -> builder"，供加载 pipeline.yaml 前校验节点类型。
// 内置节点由 config/builders 在 init 中注册；自定义节点可在入口处追加。
type Registry struct {
	mu       sync.RWMutex
	builders map[string]NodeBuilder
}

// NewRegistry 返回空注册表。
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]NodeBuilder)}
}

var registry = NewRegistry()

// Add 登记 builder；同名覆盖，空名或空 builder 忽略。
func (r *Registry) Add(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	r.mu.Lock()
	r.builders[typeName] = builder
	r.mu.Unlock()
}

// Types 返回已登记的类型名，按字典序。
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.builders))
}

// Has 报告类型是否已登记。
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	_, ok := r.builders[typeName]
	r.mu.RUnlock()
	return ok
}

// Factory 把已登记的 builder 拷进一个新的 NodeFactory。
func (r *Registry) Factory() *pipeline.NodeFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f := pipeline.NewNodeFactory()
	for typeName, builder := range r.builders {
		f.Register(typeName, builder)
	}
	return f
}

// Check 收集配置里所有缺失或未登记的节点类型，一次性返回。
func (r *Registry) Check(cfg *pipeline.Config) error {
	if cfg == nil {
		return nil
	}
	var errs []error
	for i, nc := range cfg.Pipeline.Nodes {
		switch {
		case nc.Type == "":
			errs = append(errs, fmt.Errorf("nodes[%d]: type is required", i))
		case !r.Has(nc.Type):
			errs = append(errs, fmt.Errorf("nodes[%d]: unsupported type %q", i, nc.Type))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w (supported: %s)", errors.Join(errs...), strings.Join(r.Types(), ", "))
}

// Register 向全局注册表登记节点类型。
func Register(typeName string, builder NodeBuilder) { registry.Add(typeName, builder) }

// SupportedTypes 返回全局注册表中的类型名。
func SupportedTypes() []string { return registry.Types() }

// DefaultFactory 基于全局注册表构建 NodeFactory，不绑定运行时依赖；线上用 NewFactory。
func DefaultFactory() *pipeline.NodeFactory { return registry.Factory() }

// ValidatePipelineConfig 用全局注册表校验 pipeline 配置。
func ValidatePipelineConfig(cfg *pipeline.Config) error { return registry.Check(cfg) }
