package recall

import (
	"context"
	"errors"

	"github.com/rushteam/nearrec/core"
)

// DefaultFetchLimit 是单次召回的候选上限。
const DefaultFetchLimit = 300

// ToItems 把候选包装成 Item，Candidate 指向输入切片中的元素（只读）。
func ToItems(cands []core.Candidate) []*core.Item {
	out := make([]*core.Item, 0, len(cands))
	for i := range cands {
		it := core.NewItem(cands[i].ID)
		it.Candidate = &cands[i]
		it.Embedding = cands[i].Embedding
		out = append(out, it)
	}
	return out
}

// wrapFetchError 把召回错误归类为超时或上游不可用。
func wrapFetchError(source string, err error) error {
	if err == nil {
		return nil
	}
	if core.IsDomainError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.WrapDomainError(core.ModuleRecall, core.ErrorCodeTimeout, "candidate source "+source+" timed out", err)
	}
	return core.WrapDomainError(core.ModuleRecall, core.ErrorCodeUnavailable, "candidate source "+source+" failed", err)
}
