package impression

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rushteam/nearrec/core"
)

// DefaultKafkaClientID 是未配置 client_id 时使用的 Kafka 客户端 ID。
const DefaultKafkaClientID = "nearrec-impressions"

// KafkaConfig 是展示日志 topic 的生产者配置，Brokers 为空表示不启用。
type KafkaConfig struct {
	Brokers     []string `koanf:"brokers"`
	Topic       string   `koanf:"topic"`
	ClientID    string   `koanf:"client_id"`
	Compression string   `koanf:"compression" validate:"omitempty,oneof=gzip snappy lz4 zstd"`
}

// Enabled 判断是否配置了 Kafka。
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// NewKafkaClient 创建 franz-go 生产者客户端。
func NewKafkaClient(cfg KafkaConfig) (*kgo.Client, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultKafkaClientID
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.LeaderAck()),
		kgo.DisableIdempotentWrite(),
	}
	switch cfg.Compression {
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return client, nil
}

// Producer 是 KafkaSink 依赖的最小生产者能力，*kgo.Client 满足它。
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

var _ Producer = (*kgo.Client)(nil)

// KafkaSink 把展示记录以 JSON 写入 Kafka，key 为用户 ID，保证同一用户的记录有序。
type KafkaSink struct {
	Producer Producer
	Topic    string
}

func (s *KafkaSink) LogImpressions(ctx context.Context, imp core.Impression) error {
	data, err := json.Marshal(stamp(imp))
	if err != nil {
		return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeInternalError, "impression: encode failed", err)
	}
	rec := &kgo.Record{Topic: s.Topic, Key: []byte(imp.UserID), Value: data}
	if err := s.Producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return core.WrapDomainError(core.ModuleImpression, core.ErrorCodeUnavailable, "impression: kafka produce failed", err)
	}
	return nil
}

var _ core.ImpressionSink = (*KafkaSink)(nil)

// MultiSink 依次写入每个 sink，全部尝试后合并错误。
// 记录 ID 与时间在第一次写入前确定，各 sink 看到同一条记录。
type MultiSink []core.ImpressionSink

func (m MultiSink) LogImpressions(ctx context.Context, imp core.Impression) error {
	imp = stamp(imp)
	var errs []error
	for _, s := range m {
		if err := s.LogImpressions(ctx, imp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ core.ImpressionSink = MultiSink(nil)
