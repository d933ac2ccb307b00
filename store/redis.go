package store

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/nearrec/core"
)

const redisDialTimeout = 3 * time.Second

// RedisStore 把限流计数、结果缓存、曝光与事件日志放到 Redis，多实例共享。
// go-redis 的错误统一包成 store 模块的 UNAVAILABLE，redis.Nil 映射为 ErrStoreNotFound。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 按 cfg 建立连接并 PING 一次。Addr 可用逗号分隔多个节点（集群）。
func NewRedisStore(cfg Config) (*RedisStore, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       strings.Split(cfg.Addr, ","),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: redisDialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient 使用调用方已建好的客户端，不做连通性检查。
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	return b, check("get", err)
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	return check("set", r.client.Set(ctx, key, value, expiry(ttl...)).Err())
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return check("del", r.client.Del(ctx, key).Err())
}

func (r *RedisStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("mget", err)
	}
	for i, v := range vals {
		// MGET 对缺失的 key 返回 nil
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *RedisStore) BatchSet(ctx context.Context, kvs map[string][]byte, ttl ...int) error {
	exp := expiry(ttl...)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range kvs {
			p.Set(ctx, k, v, exp)
		}
		return nil
	})
	return check("pipeline set", err)
}

// Incr 在同一个事务里 INCRBY 并 EXPIRE NX：只有创建窗口的那次调用设置过期时间。
func (r *RedisStore) Incr(ctx context.Context, key string, delta int64, ttl int) (int64, error) {
	var n *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		n = p.IncrBy(ctx, key, delta)
		if ttl > 0 {
			p.ExpireNX(ctx, key, expiry(ttl))
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("incrby", err)
	}
	return n.Val(), nil
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl int) error {
	if ttl <= 0 {
		return nil
	}
	return check("expire", r.client.Expire(ctx, key, expiry(ttl)).Err())
}

// ZRange 对应 ZREVRANGE，最新的记录在前。
func (r *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := r.client.ZRevRange(ctx, key, start, stop).Result()
	return members, check("zrevrange", err)
}

func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return check("zadd", r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (r *RedisStore) ZScore(ctx context.Context, key string, member string) (float64, error) {
	s, err := r.client.ZScore(ctx, key, member).Result()
	return s, check("zscore", err)
}

func (r *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := r.client.ZRemRangeByScore(ctx, key, scoreBound(min), scoreBound(max)).Result()
	return n, check("zremrangebyscore", err)
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	b, err := r.client.HGet(ctx, key, field).Bytes()
	return b, check("hget", err)
}

func (r *RedisStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return check("hset", r.client.HSet(ctx, key, field, value).Err())
}

func (r *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := r.client.HIncrBy(ctx, key, field, delta).Result()
	return n, check("hincrby", err)
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable("hgetall", err)
	}
	out := make(map[string][]byte, len(fields))
	for f, v := range fields {
		out[f] = []byte(v)
	}
	return out, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

func check(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return core.ErrStoreNotFound
	default:
		return unavailable(op, err)
	}
}

func unavailable(op string, err error) error {
	return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "store: redis "+op, err)
}

func scoreBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func expiry(ttl ...int) time.Duration {
	if len(ttl) == 0 || ttl[0] <= 0 {
		return 0
	}
	return time.Duration(ttl[0]) * time.Second
}

var _ core.KeyValueStore = (*RedisStore)(nil)
