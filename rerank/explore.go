package rerank

import (
	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pkg/utils"
)

// 探索位：第一个插在 3，第二个插在 7，之后每隔 4 个位置一个。
const (
	firstExplorePos  = 3
	exploreStride    = 4
	exploreLabelName = "explore"
)

// Explorer 把少量非贪心候选插入最终列表，为在线学习收集信号。
// 不依赖同步的 bandit 臂状态：按固定位置插入，探索量有界。
type Explorer struct{}

// Inject 从 all 中按原有相对顺序挑出不在 current 里的前 n 个候选，依次插入 (不断增长的) 输出列表
// 的 min(3, len)、min(7, len)、min(11, len)... 位置。|all| <= |current| 时原样返回 current。
// 返回新切片，不修改 current 与 all；被插入的是副本并带有 explore=true 标签。
func (Explorer) Inject(current, all []*core.Item, n int) []*core.Item {
	if len(all) <= len(current) || n <= 0 {
		return current
	}

	inCurrent := make(map[string]struct{}, len(current))
	for _, it := range current {
		if it != nil {
			inCurrent[it.ID] = struct{}{}
		}
	}

	picks := make([]*core.Item, 0, n)
	for _, it := range all {
		if len(picks) >= n {
			break
		}
		if it == nil {
			continue
		}
		if _, ok := inCurrent[it.ID]; ok {
			continue
		}
		inCurrent[it.ID] = struct{}{}
		p := it.Clone()
		p.PutLabel(exploreLabelName, utils.BoolLabel(true, "rerank.explore"))
		picks = append(picks, p)
	}
	if len(picks) == 0 {
		return current
	}

	out := make([]*core.Item, 0, len(current)+len(picks))
	out = append(out, current...)
	for i, p := range picks {
		pos := min(firstExplorePos+i*exploreStride, len(out))
		out = append(out, nil)
		copy(out[pos+1:], out[pos:])
		out[pos] = p
	}
	return out
}

// IsExplore 判断 item 是否为探索位。
func IsExplore(it *core.Item) bool {
	if it == nil {
		return false
	}
	lbl, ok := it.Labels[exploreLabelName]
	return ok && lbl.Value == "true"
}
