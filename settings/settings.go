// Package settings 加载服务配置。
//
// 加载顺序（后者覆盖前者）：
//  1. 结构体默认值（Defaults）
//  2. YAML 文件：NEARREC_CONFIG 指定的路径，否则当前目录下的 nearrec.yaml（可选）
//  3. 环境变量：NEARREC_{SECTION}_{KEY}，例如 NEARREC_STORE_ADDR -> store.addr
//
// 加载完成后用 validator 校验。
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/nearrec/feast"
	"github.com/rushteam/nearrec/impression"
	"github.com/rushteam/nearrec/logging"
	"github.com/rushteam/nearrec/recall"
	"github.com/rushteam/nearrec/store"
)

// 环境变量
const (
	EnvPrefix     = "NEARREC_"
	ConfigPathEnv = "NEARREC_CONFIG"
	DefaultPath   = "nearrec.yaml"
)

// Settings 是服务的全部配置。
type Settings struct {
	Server     ServerConfig     `koanf:"server"`
	Log        logging.Config   `koanf:"log"`
	Store      store.Config     `koanf:"store"`
	Serving    ServingConfig    `koanf:"serving"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	Cache      CacheConfig      `koanf:"cache"`
	Recall     RecallConfig     `koanf:"recall"`
	Trait      TraitConfig      `koanf:"trait"`
	Experiment ExperimentConfig `koanf:"experiment"`
	Impression ImpressionConfig `koanf:"impression"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
}

// ServerConfig 是 HTTP 服务配置。
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// IPRequestsPerMinute 是按 IP 的粗粒度限流，0 表示关闭
	IPRequestsPerMinute int `koanf:"ip_requests_per_minute" validate:"gte=0"`
}

// ServingConfig 是在线推荐参数，实现 core.ServingConfig。
type ServingConfig struct {
	RadiusKm       float64       `koanf:"default_radius_km" validate:"gt=0"`
	K              int           `koanf:"default_k" validate:"gt=0"`
	KMax           int           `koanf:"max_k" validate:"gtefield=K"`
	FetchLimit     int           `koanf:"candidate_limit" validate:"gt=0"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

func (c ServingConfig) DefaultRadiusKm() float64      { return c.RadiusKm }
func (c ServingConfig) DefaultK() int                 { return c.K }
func (c ServingConfig) MaxK() int                     { return c.KMax }
func (c ServingConfig) CandidateLimit() int           { return c.FetchLimit }
func (c ServingConfig) DefaultTimeout() time.Duration { return c.RequestTimeout }

// RateLimitConfig 是按 (用户, IP) 的限流配置。
type RateLimitConfig struct {
	Limit  int           `koanf:"limit" validate:"gt=0"`
	Window time.Duration `koanf:"window" validate:"gt=0"`
}

// CacheConfig 是推荐结果缓存配置。
type CacheConfig struct {
	TTL       time.Duration `koanf:"ttl" validate:"gt=0"`
	Precision int           `koanf:"precision" validate:"gte=-1,lte=8"`
}

// RecallConfig 选择候选源。
type RecallConfig struct {
	// Backend: http 调用候选服务；static 读取 Store 中的目录
	Backend    string                  `koanf:"backend" validate:"oneof=http static"`
	HTTP       recall.HTTPSourceConfig `koanf:"http"`
	CatalogKey string                  `koanf:"catalog_key"`
}

// TraitConfig 选择 trait 向量来源。
type TraitConfig struct {
	// Backend: store 读取 trait:{user}；feast 读取在线特征
	Backend string       `koanf:"backend" validate:"oneof=store feast"`
	Feast   feast.Config `koanf:"feast"`
}

// ExperimentConfig 是实验配置。
type ExperimentConfig struct {
	Name string `koanf:"name" validate:"required"`
}

// ImpressionConfig 是旁路写入配置。
type ImpressionConfig struct {
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ExposureTTL  time.Duration `koanf:"exposure_ttl" validate:"gt=0"`

	// TrackSeen 维护 seen 布隆过滤器，供 filter.seen 节点使用
	TrackSeen bool `koanf:"track_seen"`

	// Kafka 配置后展示记录同时写入 topic
	Kafka impression.KafkaConfig `koanf:"kafka"`
}

// PipelineConfig 指定选择链路的 YAML/JSON 文件，为空时使用内置默认链路。
type PipelineConfig struct {
	Path string `koanf:"path"`
}

// Defaults 返回默认配置。
func Defaults() Settings {
	return Settings{
		Server: ServerConfig{
			Addr:                ":8080",
			ReadTimeout:         5 * time.Second,
			WriteTimeout:        10 * time.Second,
			ShutdownTimeout:     15 * time.Second,
			IPRequestsPerMinute: 300,
		},
		Log:   logging.DefaultConfig(),
		Store: store.Config{Backend: "memory"},
		Serving: ServingConfig{
			RadiusKm:       15,
			K:              20,
			KMax:           100,
			FetchLimit:     recall.DefaultFetchLimit,
			RequestTimeout: 3 * time.Second,
		},
		RateLimit: RateLimitConfig{Limit: 30, Window: 10 * time.Minute},
		Cache:     CacheConfig{TTL: 5 * time.Minute, Precision: 3},
		Recall: RecallConfig{
			Backend:    "static",
			HTTP:       recall.HTTPSourceConfig{Timeout: 2 * time.Second},
			CatalogKey: "catalog:places",
		},
		Trait: TraitConfig{
			Backend: "store",
			Feast: feast.Config{
				Port:      feast.DefaultPort,
				Feature:   feast.DefaultTraitFeature,
				EntityKey: feast.DefaultEntityKey,
			},
		},
		Experiment: ExperimentConfig{Name: "social_weight_test"},
		Impression: ImpressionConfig{
			WriteTimeout: 2 * time.Second,
			ExposureTTL:  7 * 24 * time.Hour,
			TrackSeen:    true,
			Kafka:        impression.KafkaConfig{Topic: "nearrec.impressions"},
		},
	}
}

// Load 按默认值、配置文件、环境变量的顺序加载并校验。
func Load() (*Settings, error) {
	return LoadFrom(configPath())
}

// LoadFrom 从指定文件加载，path 为空时跳过文件层。
func LoadFrom(path string) (*Settings, error) {
	k := koanf.New(".")

	defaults := Defaults()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate 校验配置。
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Store.Backend == "redis" && s.Store.Addr == "" {
		return errors.New("invalid settings: store.addr is required for redis backend")
	}
	if s.Recall.Backend == "http" && s.Recall.HTTP.Endpoint == "" {
		return errors.New("invalid settings: recall.http.endpoint is required for http backend")
	}
	if s.Trait.Backend == "feast" && s.Trait.Feast.Host == "" {
		return errors.New("invalid settings: trait.feast.host is required for feast backend")
	}
	if s.Impression.Kafka.Enabled() && s.Impression.Kafka.Topic == "" {
		return errors.New("invalid settings: impression.kafka.topic is required when brokers are set")
	}
	return nil
}

func configPath() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// envKey 把 NEARREC_STORE_ADDR 转为 store.addr；第一段是配置节，其余保留下划线。
// 嵌套节使用双下划线：NEARREC_RECALL_HTTP__ENDPOINT -> recall.http.endpoint。
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if s == "config" {
		return ""
	}
	s = strings.ReplaceAll(s, "__", ".")
	return strings.Replace(s, "_", ".", 1)
}
