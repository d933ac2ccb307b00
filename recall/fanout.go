package recall

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/nearrec/core"
)

// Fanout 并发调用多个候选源并按 ID 去重合并，本身也是一个 CandidateSource。
// - 相同 ID 保留排在前面的源给出的版本（Sources 的顺序即优先级）
// - 任意一个源失败则整体失败，不返回部分候选
type Fanout struct {
	Sources       []core.CandidateSource
	Timeout       time.Duration // 每个源的超时时间
	MaxConcurrent int           // 最大并发数（0 表示无限制）
}

func (n *Fanout) Name() string { return "recall.fanout" }

var _ core.CandidateSource = (*Fanout)(nil)

func (n *Fanout) FetchCandidates(ctx context.Context, q core.CandidateQuery) ([]core.Candidate, error) {
	if len(n.Sources) == 0 {
		return nil, nil
	}
	if len(n.Sources) == 1 && n.Timeout <= 0 {
		return n.Sources[0].FetchCandidates(ctx, q)
	}

	results := make([][]core.Candidate, len(n.Sources))
	eg, egCtx := errgroup.WithContext(ctx)
	if n.MaxConcurrent > 0 {
		eg.SetLimit(n.MaxConcurrent)
	}

	for i, src := range n.Sources {
		eg.Go(func() error {
			srcCtx := egCtx
			if n.Timeout > 0 {
				var cancel context.CancelFunc
				srcCtx, cancel = context.WithTimeout(egCtx, n.Timeout)
				defer cancel()
			}
			cands, err := src.FetchCandidates(srcCtx, q)
			if err != nil {
				return wrapFetchError(src.Name(), err)
			}
			results[i] = cands
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	seen := make(map[string]struct{})
	out := make([]core.Candidate, 0, limit)
	for _, cands := range results {
		for _, c := range cands {
			if len(out) >= limit {
				return out, nil
			}
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}
