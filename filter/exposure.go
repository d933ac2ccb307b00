package filter

import (
	"context"
	"strconv"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pipeline"
	"github.com/rushteam/nearrec/pkg/utils"
)

const (
	DefaultMaxExposures    = 5
	DefaultExposurePenalty = 0.1
)

// ExposureDampener 压制用户近期看过太多次的候选。
//   - 曝光次数 >= MaxExposures：移除
//   - 0 < 曝光次数 < MaxExposures：分数减去 Penalty * count / MaxExposures（在副本上修改）
//
// 如果所有候选都已过度曝光，原样返回输入，保证不会产出空列表。
type ExposureDampener struct {
	Store core.ExposureStore

	MaxExposures int
	Penalty      float64
}

func NewExposureDampener(store core.ExposureStore) *ExposureDampener {
	return &ExposureDampener{
		Store:        store,
		MaxExposures: DefaultMaxExposures,
		Penalty:      DefaultExposurePenalty,
	}
}

func (n *ExposureDampener) Name() string {
	return "filter.exposure"
}

func (n *ExposureDampener) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *ExposureDampener) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 || n.Store == nil || rctx == nil || rctx.UserID == "" {
		return items, nil
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it != nil {
			ids = append(ids, it.ID)
		}
	}
	counts, err := n.Store.GetExposureCounts(ctx, rctx.UserID, ids)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFilter, core.ErrorCodeUnavailable, "fetch exposure counts", err)
	}
	return n.Dampen(items, counts), nil
}

// Dampen 是纯函数形式，不修改输入中的 item。
func (n *ExposureDampener) Dampen(items []*core.Item, counts map[string]int) []*core.Item {
	maxExp := n.MaxExposures
	if maxExp <= 0 {
		maxExp = DefaultMaxExposures
	}

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		c := counts[it.ID]
		switch {
		case c >= maxExp:
			continue
		case c > 0:
			d := it.Clone()
			d.Score -= n.Penalty * float64(c) / float64(maxExp)
			d.PutLabel("exposure_count", utils.Label{Value: strconv.Itoa(c), Source: "filter.exposure"})
			out = append(out, d)
		default:
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return items
	}
	return out
}
