package pipeline

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Config 对应 pipeline.yaml / pipeline.json：
//
//	pipeline:
//	  name: nearby-selection
//	  nodes:
//	    - type: filter.diversity
//	      config: {max_per_bucket: 3}
//	    - type: rerank.mmr
//	      disabled: true
type Config struct {
	Pipeline struct {
		Name  string       `yaml:"name" json:"name"`
		Nodes []NodeConfig `yaml:"nodes" json:"nodes"`
	} `yaml:"pipeline" json:"pipeline"`
}

// NodeConfig 描述链路上的一个节点。Disabled 的节点保留在文件里但不参与构建。
type NodeConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Disabled bool           `yaml:"disabled" json:"disabled"`
	Config   map[string]any `yaml:"config" json:"config"`
}

// DefaultConfig 返回内置链路：隐藏过滤、多样性、曝光降权、MMR。
func DefaultConfig() *Config {
	cfg, err := ParseYAML(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("pipeline: embedded default.yaml: %v", err))
	}
	return cfg
}

func ParseYAML(data []byte) (*Config, error) {
	return parse(data, yaml.Unmarshal, "yaml")
}

func ParseJSON(data []byte) (*Config, error) {
	return parse(data, json.Unmarshal, "json")
}

func parse(data []byte, unmarshal func([]byte, any) error, format string) (*Config, error) {
	cfg := new(Config)
	if err := unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", format, err)
	}
	return cfg, nil
}

// LoadFile 读取 path；.json 结尾按 JSON 解析，其余按 YAML。path 为空返回 DefaultConfig。
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// Enabled 返回未禁用的节点配置，保持原顺序。
func (c *Config) Enabled() []NodeConfig {
	out := make([]NodeConfig, 0, len(c.Pipeline.Nodes))
	for _, nc := range c.Pipeline.Nodes {
		if !nc.Disabled {
			out = append(out, nc)
		}
	}
	return out
}

// BuildPipeline 用 factory 依次构建启用的节点。builder 由 config 包提供。
func (c *Config) BuildPipeline(factory *NodeFactory) (*Pipeline, error) {
	enabled := c.Enabled()
	p := &Pipeline{Name: c.Pipeline.Name, Nodes: make([]Node, 0, len(enabled))}
	for i, nc := range enabled {
		node, err := factory.Build(nc.Type, nc.Config)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q node %d (%s): %w", c.Pipeline.Name, i, nc.Type, err)
		}
		p.Nodes = append(p.Nodes, node)
	}
	return p, nil
}

// NodeBuilder 把节点的 config 段转换成 Node。
type NodeBuilder func(config map[string]any) (Node, error)

// ErrUnknownNodeType 表示 factory 中没有该类型的 builder。
var ErrUnknownNodeType = errors.New("unknown node type")

// NodeFactory 按类型名查找 builder。非并发安全，应在启动阶段填充。
type NodeFactory struct {
	builders map[string]NodeBuilder
}

func NewNodeFactory() *NodeFactory {
	return &NodeFactory{builders: map[string]NodeBuilder{}}
}

func (f *NodeFactory) Register(nodeType string, builder NodeBuilder) {
	f.builders[nodeType] = builder
}

// Build 调用 nodeType 对应的 builder；config 为 nil 时传入空 map。
func (f *NodeFactory) Build(nodeType string, config map[string]any) (Node, error) {
	builder, ok := f.builders[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	if config == nil {
		config = map[string]any{}
	}
	return builder(config)
}
