package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/store"
)

// DefaultEventTTL 是事件日志的保留时间（秒）。
const DefaultEventTTL = 30 * 24 * 3600

// StoreEventLog 基于 KeyValueStore 的事件日志。
//
// key 布局：
//   - events:{user}      有序集合，member 为 JSON 编码的事件，score 为事件时间（unix 毫秒）
//   - completions:{user} 同上，只记录 complete 事件
//   - item:emb:{item}    物品向量，JSON 数组
type StoreEventLog struct {
	Store core.KeyValueStore

	// TTL 每次写入后刷新的过期时间（秒），<=0 时使用 DefaultEventTTL
	TTL int
}

var (
	_ core.EventLog    = (*StoreEventLog)(nil)
	_ core.EventWriter = (*StoreEventLog)(nil)
)

type storedEvent struct {
	ItemID    string `json:"item_id"`
	Type      string `json:"event_type"`
	CreatedAt int64  `json:"ts"`
}

func (l *StoreEventLog) AppendEvent(ctx context.Context, ev core.Event) error {
	if ev.UserID == "" || ev.ItemID == "" {
		return core.NewDomainError(core.ModuleProfile, core.ErrorCodeInvalidInput, "event requires user_id and item_id")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ms := ev.CreatedAt.UnixMilli()
	member, err := json.Marshal(storedEvent{ItemID: ev.ItemID, Type: ev.Type, CreatedAt: ms})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	keys := []string{core.UserKey(core.KeyPrefixEvents, ev.UserID)}
	if ev.Type == core.EventComplete {
		keys = append(keys, core.UserKey(core.KeyPrefixCompletions, ev.UserID))
	}
	for _, key := range keys {
		if err := l.Store.ZAdd(ctx, key, float64(ms), string(member)); err != nil {
			return err
		}
		if err := l.Store.Expire(ctx, key, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (l *StoreEventLog) RecentEvents(ctx context.Context, userID string, types []string, limit int) ([]core.Event, error) {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	// 按类型过滤前多取一些
	scan := int64(limit)
	if len(allowed) > 0 {
		scan = int64(max(limit*5, 100))
	}
	return l.read(ctx, core.UserKey(core.KeyPrefixEvents, userID), userID, scan, limit, allowed)
}

func (l *StoreEventLog) RecentCompletions(ctx context.Context, userID string, limit int) ([]core.Event, error) {
	return l.read(ctx, core.UserKey(core.KeyPrefixCompletions, userID), userID, int64(limit), limit, nil)
}

func (l *StoreEventLog) read(ctx context.Context, key, userID string, scan int64, limit int, allowed map[string]bool) ([]core.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	members, err := l.Store.ZRange(ctx, key, 0, scan-1)
	if err != nil {
		return nil, err
	}

	events := make([]core.Event, 0, limit)
	for _, m := range members {
		if len(events) >= limit {
			break
		}
		var se storedEvent
		if err := json.Unmarshal([]byte(m), &se); err != nil {
			continue
		}
		if len(allowed) > 0 && !allowed[se.Type] {
			continue
		}
		events = append(events, core.Event{
			UserID:    userID,
			ItemID:    se.ItemID,
			Type:      se.Type,
			CreatedAt: time.UnixMilli(se.CreatedAt),
		})
	}
	if err := l.attachEmbeddings(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

func (l *StoreEventLog) attachEmbeddings(ctx context.Context, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	keys := make([]string, 0, len(events))
	for _, ev := range events {
		keys = append(keys, core.ItemEmbeddingKey(ev.ItemID))
	}
	raw, err := l.Store.BatchGet(ctx, keys)
	if err != nil {
		return err
	}
	for i := range events {
		data, ok := raw[core.ItemEmbeddingKey(events[i].ItemID)]
		if !ok {
			continue
		}
		var emb []float64
		if json.Unmarshal(data, &emb) == nil {
			events[i].Embedding = emb
		}
	}
	return nil
}

// SetItemEmbedding 写入物品向量（离线任务/测试使用）。
func SetItemEmbedding(ctx context.Context, s core.Store, itemID string, emb []float64) error {
	return store.SetJSON(ctx, s, core.ItemEmbeddingKey(itemID), emb, 0)
}
