package store

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rushteam/nearrec/core"
)

const janitorInterval = 10 * time.Second

// MemoryStore 是单进程的 KeyValueStore，开发、测试和单实例部署用。
// 每个 key 对应一个 slot，字符串、有序集合、哈希三种形态共用同一个过期时间，
// 语义与 Redis 对齐：SET 覆盖整个 key，EXPIRE 作用于整个 key。
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string]*slot
	now   func() time.Time

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

type slot struct {
	str      []byte
	zset     map[string]float64
	hash     map[string][]byte
	expireAt time.Time
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		slots:  make(map[string]*slot),
		now:    time.Now,
		ticker: time.NewTicker(janitorInterval),
		done:   make(chan struct{}),
	}
	go m.janitor()
	return m
}

// SetClock 替换时钟，测试过期逻辑时用。
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Close() error {
	m.once.Do(func() {
		m.ticker.Stop()
		close(m.done)
	})
	return nil
}

// live 返回未过期的 slot；过期的顺手删掉。调用方持有锁。
func (m *MemoryStore) live(key string) *slot {
	s, ok := m.slots[key]
	if !ok {
		return nil
	}
	if !s.expireAt.IsZero() && !m.now().Before(s.expireAt) {
		delete(m.slots, key)
		return nil
	}
	return s
}

// ensure 返回 key 的 slot，不存在时创建。
func (m *MemoryStore) ensure(key string) *slot {
	if s := m.live(key); s != nil {
		return s
	}
	s := &slot{}
	m.slots[key] = s
	return s
}

func (m *MemoryStore) deadline(ttl int) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(time.Duration(ttl) * time.Second)
}

func (m *MemoryStore) janitor() {
	for {
		select {
		case <-m.done:
			return
		case <-m.ticker.C:
			m.mu.Lock()
			for k := range m.slots {
				m.live(k)
			}
			m.mu.Unlock()
		}
	}
}

func firstTTL(ttl []int) int {
	if len(ttl) == 0 {
		return 0
	}
	return ttl[0]
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.live(key); s != nil && s.str != nil {
		return s.str, nil
	}
	return nil, core.ErrStoreNotFound
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == nil {
		value = []byte{}
	}
	m.slots[key] = &slot{str: value, expireAt: m.deadline(firstTTL(ttl))}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.slots, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) BatchGet(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if s := m.live(k); s != nil && s.str != nil {
			out[k] = s.str
		}
	}
	return out, nil
}

func (m *MemoryStore) BatchSet(_ context.Context, kvs map[string][]byte, ttl ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp := m.deadline(firstTTL(ttl))
	for k, v := range kvs {
		m.slots[k] = &slot{str: v, expireAt: exp}
	}
	return nil
}

// Incr 只在创建 key 时设置 ttl，已有窗口的过期时间不变。
func (m *MemoryStore) Incr(_ context.Context, key string, delta int64, ttl int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(key)
	if s == nil {
		s = &slot{expireAt: m.deadline(ttl)}
		m.slots[key] = s
	}
	n, err := addInt(s.str, delta)
	if err != nil {
		return 0, err
	}
	s.str = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl int) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.live(key); s != nil {
		s.expireAt = m.deadline(ttl)
	}
	return nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.ensure(key)
	if s.zset == nil {
		s.zset = make(map[string]float64)
	}
	s.zset[member] = score
	return nil
}

// ZRange 与 ZREVRANGE 一致：分数降序，同分按 member 降序。
func (m *MemoryStore) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(key)
	if s == nil || len(s.zset) == 0 {
		return nil, nil
	}
	members := make([]string, 0, len(s.zset))
	for mem := range s.zset {
		members = append(members, mem)
	}
	slices.SortFunc(members, func(a, b string) int {
		if c := cmp.Compare(s.zset[b], s.zset[a]); c != 0 {
			return c
		}
		return cmp.Compare(b, a)
	})

	n := int64(len(members))
	start = max(start, 0)
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	return members[start : stop+1], nil
}

func (m *MemoryStore) ZScore(_ context.Context, key string, member string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.live(key); s != nil {
		if v, ok := s.zset[member]; ok {
			return v, nil
		}
	}
	return 0, core.ErrStoreNotFound
}

func (m *MemoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.live(key)
	if s == nil {
		return 0, nil
	}
	var n int64
	for mem, score := range s.zset {
		if score >= min && score <= max {
			delete(s.zset, mem)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.live(key); s != nil {
		if v, ok := s.hash[field]; ok {
			return v, nil
		}
	}
	return nil, core.ErrStoreNotFound
}

func (m *MemoryStore) HSet(_ context.Context, key, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(key).hashField()[field] = value
	return nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	if s := m.live(key); s != nil {
		for f, v := range s.hash {
			out[f] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.ensure(key).hashField()
	n, err := addInt(h[field], delta)
	if err != nil {
		return 0, err
	}
	h[field] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (s *slot) hashField() map[string][]byte {
	if s.hash == nil {
		s.hash = make(map[string][]byte)
	}
	return s.hash
}

// addInt 把 raw 当十进制整数加上 delta；raw 为空视为 0。
func addInt(raw []byte, delta int64) (int64, error) {
	if len(raw) == 0 {
		return delta, nil
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, core.WrapDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "store: value is not an integer", err)
	}
	return v + delta, nil
}

var _ core.KeyValueStore = (*MemoryStore)(nil)
