// Package feast 从 Feast 在线特征库读取用户长期偏好向量。
//
// 使用官方 SDK (github.com/feast-dev/feast/sdk/go) 的 gRPC 客户端，
// 实现 core.TraitSource，可替换默认的 store 版 trait 读取。
package feast

import (
	"context"
	"fmt"

	feastsdk "github.com/feast-dev/feast/sdk/go"
)

// DefaultPort 是 Feast Serving 的默认 gRPC 端口。
const DefaultPort = 6565

// OnlineClient 是 TraitSource 依赖的最小 SDK 能力，*feastsdk.GrpcClient 满足它。
type OnlineClient interface {
	GetOnlineFeatures(ctx context.Context, req *feastsdk.OnlineFeaturesRequest) (*feastsdk.OnlineFeaturesResponse, error)
}

// Config 是 Feast 连接配置。
type Config struct {
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	Project string `koanf:"project"`
	Token   string `koanf:"token"`
	TLS     bool   `koanf:"tls"`

	// Feature 是 trait 向量的特征引用，默认 user_traits:emb
	Feature string `koanf:"feature"`

	// EntityKey 是用户实体列名，默认 user_id
	EntityKey string `koanf:"entity_key"`
}

// NewGrpcClient 创建官方 SDK 的 gRPC 客户端；配置了 Token 时使用静态凭证。
func NewGrpcClient(cfg Config) (*feastsdk.GrpcClient, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	var (
		client *feastsdk.GrpcClient
		err    error
	)
	if cfg.Token != "" || cfg.TLS {
		security := feastsdk.SecurityConfig{EnableTLS: cfg.TLS}
		if cfg.Token != "" {
			security.Credential = feastsdk.NewStaticCredential(cfg.Token)
		}
		client, err = feastsdk.NewSecureGrpcClient(cfg.Host, port, security)
	} else {
		client, err = feastsdk.NewGrpcClient(cfg.Host, port)
	}
	if err != nil {
		return nil, fmt.Errorf("feast: dial %s:%d: %w", cfg.Host, port, err)
	}
	return client, nil
}
