package filter

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/nearrec/core"
)

// HiddenStore 返回用户主动隐藏过的物品。
type HiddenStore interface {
	GetHiddenItems(ctx context.Context, userID string) (map[string]struct{}, error)
}

// StoreAdapter 把 core.KeyValueStore 适配为过滤阶段需要的各类读取接口。
//
// key 布局：
//   - exposure:{user}:{yyyymmdd} hash，field 为 itemID，value 为当日曝光次数
//   - hidden:{user}              hash，field 为 itemID，value 为隐藏时间
//   - diversity:{user}           JSON 编码的 core.DiversityRules
type StoreAdapter struct {
	store core.KeyValueStore
	now   func() time.Time

	// Defaults 是用户没有个性化多样性规则时使用的规则
	Defaults core.DiversityRules
	// Window 是曝光计数的统计窗口，按日桶向上取整
	Window time.Duration
}

// DefaultExposureWindow 与展示日志的默认保留期一致。
const DefaultExposureWindow = 7 * 24 * time.Hour

// NewStoreAdapter 创建一个 core.KeyValueStore 适配器。
func NewStoreAdapter(s core.KeyValueStore) *StoreAdapter {
	return &StoreAdapter{store: s, now: time.Now, Defaults: DefaultDiversityRules(), Window: DefaultExposureWindow}
}

// WithClock 替换读取曝光窗口时使用的时钟。
func (a *StoreAdapter) WithClock(now func() time.Time) *StoreAdapter {
	a.now = now
	return a
}

var (
	_ core.ExposureStore       = (*StoreAdapter)(nil)
	_ core.DiversityRuleSource = (*StoreAdapter)(nil)
	_ HiddenStore              = (*StoreAdapter)(nil)
)

// GetExposureCounts 合计 Window 内各日桶的曝光次数，只返回 itemIDs 中出现过曝光的条目。
func (a *StoreAdapter) GetExposureCounts(ctx context.Context, userID string, itemIDs []string) (map[string]int, error) {
	want := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = struct{}{}
	}
	counts := make(map[string]int, len(itemIDs))
	for _, key := range core.ExposureKeys(userID, a.now(), a.Window) {
		day, err := a.store.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		for id, raw := range day {
			if _, ok := want[id]; !ok {
				continue
			}
			n, err := strconv.Atoi(string(raw))
			if err != nil || n <= 0 {
				continue
			}
			counts[id] += n
		}
	}
	return counts, nil
}

func (a *StoreAdapter) GetHiddenItems(ctx context.Context, userID string) (map[string]struct{}, error) {
	all, err := a.store.HGetAll(ctx, core.UserKey(core.KeyPrefixHidden, userID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(all))
	for id := range all {
		out[id] = struct{}{}
	}
	return out, nil
}

// GetDiversityRules 读取用户规则，未配置时返回 Defaults。个性化规则中的零值字段沿用默认值。
func (a *StoreAdapter) GetDiversityRules(ctx context.Context, userID string) (core.DiversityRules, error) {
	data, err := a.store.Get(ctx, core.UserKey(core.KeyPrefixDiversity, userID))
	if core.IsStoreNotFound(err) {
		return a.Defaults, nil
	}
	if err != nil {
		return core.DiversityRules{}, err
	}

	var rules core.DiversityRules
	if err := json.Unmarshal(data, &rules); err != nil {
		return core.DiversityRules{}, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeInvalidInput, "decode diversity rules", err)
	}
	if rules.MaxPerBucket == 0 {
		rules.MaxPerBucket = a.Defaults.MaxPerBucket
	}
	if rules.DuplicateThreshold == 0 {
		rules.DuplicateThreshold = a.Defaults.DuplicateThreshold
	}
	if rules.Exclude == "" {
		rules.Exclude = a.Defaults.Exclude
	}
	return rules, nil
}
