package core

import "context"

// Store 是推荐链路用到的最小 KV 能力：缓存、实验分桶、trait、多样性规则都只需要它。
// ttl 以秒计，省略或 <=0 表示不过期。BatchGet 的结果里不包含缺失的 key。
type Store interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl ...int) error
	Delete(ctx context.Context, key string) error
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)
	BatchSet(ctx context.Context, kvs map[string][]byte, ttl ...int) error
	Close() error
}

// Counter 提供原子计数，限流与曝光计数依赖它在并发下不丢数。
type Counter interface {
	// Incr 自增并返回新值；key 由本次调用创建时设置 ttl 秒过期。
	Incr(ctx context.Context, key string, delta int64, ttl int) (int64, error)
	Expire(ctx context.Context, key string, ttl int) error
}

// SortedSet 保存按时间打分的日志：用户事件、曝光记录。
type SortedSet interface {
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRange 按分数从高到低取 [start, stop]，stop=-1 表示到末尾。
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZScore(ctx context.Context, key string, member string) (float64, error)
	// ZRemRangeByScore 删除分数在 [min, max] 内的成员，返回删除数量。
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
}

// HashStore 保存按字段聚合的计数，例如每个地点的曝光次数。
type HashStore interface {
	HGet(ctx context.Context, key, field string) ([]byte, error)
	HSet(ctx context.Context, key, field string, value []byte) error
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
}

// KeyValueStore 是 memory 与 redis 两个后端都实现的完整接口。
// 后端不支持的操作返回 ErrStoreNotSupported。
type KeyValueStore interface {
	Store
	Counter
	SortedSet
	HashStore
}

var (
	ErrStoreNotFound     = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: key not found")
	ErrStoreNotSupported = NewDomainError(ModuleStore, ErrorCodeNotSupported, "store: operation not supported")
)

// IsStoreNotFound 报告 err 是否为存储层的 key 不存在。
func IsStoreNotFound(err error) bool { return isStoreCode(err, ErrorCodeNotFound) }

// IsStoreNotSupported 报告 err 是否为后端不支持该操作。
func IsStoreNotSupported(err error) bool { return isStoreCode(err, ErrorCodeNotSupported) }

func isStoreCode(err error, code string) bool {
	de := GetDomainError(err)
	return de != nil && de.Module == ModuleStore && de.Code == code
}
