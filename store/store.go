// Package store 只包含实现，接口定义在 core 包。
// 使用 core.Store 和 core.KeyValueStore 接口。
//
// 示例：
//
//	var kv core.KeyValueStore = store.NewMemoryStore()
//	kv, err := store.New(store.Config{Backend: "redis", Addr: "localhost:6379"})
package store

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/rushteam/nearrec/core"
)

// Config 选择存储后端。
type Config struct {
	Backend  string `koanf:"backend" validate:"oneof=memory redis"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// New 根据配置创建 KeyValueStore。
func New(cfg Config) (core.KeyValueStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

// GetJSON 读取 key 并反序列化到 dest；key 不存在返回 (false, nil)。
func GetJSON(ctx context.Context, s core.Store, key string, dest any) (bool, error) {
	data, err := s.Get(ctx, key)
	if core.IsStoreNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON 序列化 value 并写入，ttl 单位为秒。
func SetJSON(ctx context.Context, s core.Store, key string, value any, ttl int) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}
