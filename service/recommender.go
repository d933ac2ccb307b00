// Package service 编排一次推荐请求：
//
//	校验 -> 限流检查 -> 实验参数 -> 缓存 -> 并行拉取 (trait, state, 候选)
//	-> 打分 -> 选择链路 (隐藏过滤, 多样性, 曝光降权, MMR) -> 探索位
//	-> 展示日志 (旁路) -> 写缓存 -> 限流计数 -> 性能指标 (旁路)
//
// 打分与选择路径上的任何失败都会让整个请求失败，不返回部分排序结果；
// 只有请求之后的记账（展示日志、性能指标、缓存回写、限流计数）允许静默失败。
package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/nearrec/cache"
	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/filter"
	"github.com/rushteam/nearrec/metrics"
	"github.com/rushteam/nearrec/pipeline"
	"github.com/rushteam/nearrec/rank"
	"github.com/rushteam/nearrec/ratelimit"
	"github.com/rushteam/nearrec/rerank"
)

// FunctionName 是性能指标中的函数名。
const FunctionName = "recommend"

// RateLimiter 是限流检查与计数。
type RateLimiter interface {
	Check(ctx context.Context, userID, ip string) (ratelimit.Decision, error)
	Increment(ctx context.Context, userID, ip string) (int64, error)
}

// SideChannel 在请求之外执行旁路任务，失败由实现方记录，不回到请求。
type SideChannel interface {
	Go(channel string, fn func(ctx context.Context) error)
}

// Deps 是 Recommender 的协作方。Limiter/Cache/Impressions/Performance/Hidden/Background 可为空。
type Deps struct {
	Candidates  core.CandidateSource
	Traits      core.TraitSource
	States      core.StateSource
	Experiments core.ExperimentService

	Limiter RateLimiter
	Cache   *cache.RecCache

	Scorer   *rank.Scorer
	Pipeline *pipeline.Pipeline
	Explorer rerank.Explorer

	// Hidden 用于把用户隐藏的物品排除出探索池
	Hidden filter.HiddenStore

	Impressions core.ImpressionSink
	Performance core.PerformanceSink
	// Background 执行缓存回写与限流计数；为空时在请求内同步执行
	Background SideChannel

	Serving        core.ServingConfig
	ExperimentName string

	// EmbeddingDim 是 state 向量维度，<=0 时取事件向量的最大长度
	EmbeddingDim int
}

// Recommender 处理推荐请求，本身无状态，可被多个请求并发使用。
type Recommender struct {
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

func New(deps Deps, logger zerolog.Logger) *Recommender {
	if deps.Serving == nil {
		deps.Serving = &core.DefaultServingConfig{}
	}
	if deps.Scorer == nil {
		deps.Scorer = &rank.Scorer{}
	}
	if deps.Pipeline == nil {
		deps.Pipeline = &pipeline.Pipeline{}
	}
	return &Recommender{
		deps:   deps,
		logger: logger.With().Str("component", "recommender").Logger(),
		now:    time.Now,
	}
}

// WithClock 替换请求时钟（测试用）。
func (r *Recommender) WithClock(now func() time.Time) *Recommender {
	r.now = now
	return r
}

// Recommend 返回一次推荐结果。
//
// 错误类型：
//   - INVALID_INPUT：请求字段缺失或非法，未发生任何外部调用
//   - *core.RateLimitError：被限流，未发生打分或日志调用
//   - TIMEOUT：超出请求超时
//   - 其它：上游或链路失败
func (r *Recommender) Recommend(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := normalize(&req, r.deps.Serving); err != nil {
		metrics.RecordRecommend("invalid", false, time.Since(start))
		return nil, err
	}

	if t := r.deps.Serving.DefaultTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	resp, err := r.recommend(ctx, req)
	switch {
	case err == nil:
		metrics.RecordRecommend("ok", resp.Cached, time.Since(start))
	case core.IsRateLimited(err):
		metrics.RateLimited.Inc()
		metrics.RecordRecommend("rate_limited", false, time.Since(start))
		return nil, err
	default:
		err = r.classify(ctx, err)
		metrics.RecordRecommend("error", false, time.Since(start))
		r.logger.Error().Err(err).Str("user_id", req.UserID).Msg("recommend failed")
	}
	r.logPerformance(req.UserID, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Recommender) recommend(ctx context.Context, req Request) (*Response, error) {
	lat, lon := *req.Latitude, *req.Longitude

	decision := ratelimit.Decision{Allowed: true}
	if r.deps.Limiter != nil {
		d, err := r.deps.Limiter.Check(ctx, req.UserID, req.ClientIP)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			return nil, d.Err()
		}
		decision = d
	}

	exp, err := r.experiment(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	ref := cache.ExperimentRef{ID: exp.ID, Variant: exp.VariantOrControl()}

	if r.deps.Cache != nil {
		hit, err := r.deps.Cache.Get(ctx, req.UserID, lat, lon, ref.Variant)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			metrics.CacheHits.Inc()
			r.increment(ctx, req)
			return &Response{Items: hit.Items, Cached: true, Remaining: decision.Remaining, Experiment: hit.Experiment}, nil
		}
		metrics.CacheMisses.Inc()
	}

	rctx := &core.RecommendContext{
		UserID:     req.UserID,
		ClientIP:   req.ClientIP,
		Latitude:   lat,
		Longitude:  lon,
		RadiusKm:   req.RadiusKm,
		K:          req.K,
		Now:        r.now(),
		Experiment: exp,
	}

	profile, candidates, err := r.fetch(ctx, rctx)
	if err != nil {
		return nil, err
	}
	rctx.User = profile
	metrics.CandidatesFetched.Observe(float64(len(candidates)))

	resp := &Response{Items: []core.ItemView{}, Remaining: decision.Remaining, Experiment: ref}
	if len(candidates) == 0 {
		r.logger.Warn().Str("user_id", req.UserID).Msg("no candidates")
		r.increment(ctx, req)
		return resp, nil
	}

	// scored 保持候选源的顺序，探索位按这个顺序挑选；选择链路拿分数排序后的副本
	scored := r.deps.Scorer.Score(rctx, candidates)
	ranked := slices.Clone(scored)
	rank.SortByScore(ranked)

	selected, err := r.deps.Pipeline.Run(ctx, rctx, ranked)
	if err != nil {
		return nil, err
	}

	pool, err := r.explorePool(ctx, req.UserID, scored)
	if err != nil {
		return nil, err
	}
	final := r.deps.Explorer.Inject(selected, pool, exp.Params.ExploreSlots)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(final))
	for _, it := range final {
		ids = append(ids, it.ID)
	}
	r.logImpressions(core.Impression{
		UserID:       req.UserID,
		ItemIDs:      ids,
		Latitude:     lat,
		Longitude:    lon,
		ExperimentID: ref.ID,
		Variant:      ref.Variant,
		ShownAt:      rctx.Now,
	})

	resp.Items = core.Views(final)
	metrics.RecommendItems.Observe(float64(len(resp.Items)))

	if r.deps.Cache != nil {
		entry := &cache.Entry{Items: resp.Items, Experiment: ref, CachedAt: rctx.Now}
		r.background(ctx, "cache_write", func(ctx context.Context) error {
			return r.deps.Cache.Put(ctx, req.UserID, lat, lon, ref.Variant, entry)
		})
	}
	r.increment(ctx, req)
	return resp, nil
}

func (r *Recommender) experiment(ctx context.Context, userID string) (*core.Experiment, error) {
	if r.deps.Experiments == nil {
		return core.ControlExperiment(), nil
	}
	exp, err := r.deps.Experiments.GetExperiment(ctx, userID, r.deps.ExperimentName)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return core.ControlExperiment(), nil
	}
	return exp, nil
}

// fetch 并行拉取 trait、state 与候选，任意一个失败则整体失败。
func (r *Recommender) fetch(ctx context.Context, rctx *core.RecommendContext) (*core.UserProfile, []core.Candidate, error) {
	if r.deps.Candidates == nil {
		return nil, nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInternalError, "no candidate source configured")
	}
	profile := core.NewUserProfile(rctx.UserID)
	if exp := rctx.Experiment; exp != nil && exp.ID != "" {
		profile.SetBucket(exp.ID, exp.VariantOrControl())
	}

	var candidates []core.Candidate
	g, gctx := errgroup.WithContext(ctx)
	if r.deps.Traits != nil {
		g.Go(func() error {
			v, err := r.deps.Traits.TraitVector(gctx, rctx.UserID)
			profile.Trait = v
			return err
		})
	}
	if r.deps.States != nil {
		g.Go(func() error {
			v, err := r.deps.States.StateVector(gctx, rctx.UserID, r.deps.EmbeddingDim)
			profile.State = v
			return err
		})
	}
	g.Go(func() error {
		limit := r.deps.Serving.CandidateLimit()
		c, err := r.deps.Candidates.FetchCandidates(gctx, rctx.Query(limit))
		if limit > 0 && len(c) > limit {
			c = c[:limit]
		}
		candidates = c
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return profile, candidates, nil
}

// explorePool 返回探索候选池：按候选源顺序的全部候选，去掉用户隐藏的物品。
func (r *Recommender) explorePool(ctx context.Context, userID string, scored []*core.Item) ([]*core.Item, error) {
	if r.deps.Hidden == nil {
		return scored, nil
	}
	hidden, err := r.deps.Hidden.GetHiddenItems(ctx, userID)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeUnavailable, "fetch hidden items", err)
	}
	if len(hidden) == 0 {
		return scored, nil
	}
	pool := make([]*core.Item, 0, len(scored))
	for _, it := range scored {
		if _, ok := hidden[it.ID]; !ok {
			pool = append(pool, it)
		}
	}
	return pool, nil
}

// increment 计数失败不影响已经算好的结果。
func (r *Recommender) increment(ctx context.Context, req Request) {
	if r.deps.Limiter == nil {
		return
	}
	r.background(ctx, "ratelimit_incr", func(ctx context.Context) error {
		_, err := r.deps.Limiter.Increment(ctx, req.UserID, req.ClientIP)
		return err
	})
}

// background 把请求后的记账交给 Background；未配置时同步执行，失败只记日志与指标。
func (r *Recommender) background(ctx context.Context, channel string, fn func(ctx context.Context) error) {
	if r.deps.Background != nil {
		r.deps.Background.Go(channel, fn)
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		metrics.RecordSideChannelFailure(channel)
		r.logger.Warn().Err(err).Str("channel", channel).Msg("side channel write failed")
	}
}

func (r *Recommender) logImpressions(imp core.Impression) {
	if r.deps.Impressions == nil {
		return
	}
	// 旁路写入不继承请求的取消
	if err := r.deps.Impressions.LogImpressions(context.Background(), imp); err != nil {
		metrics.RecordSideChannelFailure("impression")
		r.logger.Warn().Err(err).Str("user_id", imp.UserID).Msg("log impressions failed")
	}
}

func (r *Recommender) logPerformance(userID string, d time.Duration, err error) {
	if r.deps.Performance == nil {
		return
	}
	s := core.PerformanceSample{
		UserID:       userID,
		FunctionName: FunctionName,
		Duration:     d,
		Success:      err == nil,
	}
	if err != nil {
		s.ErrorMessage = err.Error()
	}
	if perr := r.deps.Performance.LogPerformance(context.Background(), s); perr != nil {
		metrics.RecordSideChannelFailure("performance")
		r.logger.Warn().Err(perr).Str("user_id", userID).Msg("log performance failed")
	}
}

// classify 把超时统一为 TIMEOUT，其它非领域错误归为 INTERNAL_ERROR。
func (r *Recommender) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if core.IsTimeout(err) {
			return err
		}
		return core.WrapDomainError(core.ModuleService, core.ErrorCodeTimeout, "recommend timed out", err)
	}
	if core.IsDomainError(err) {
		return err
	}
	return core.WrapDomainError(core.ModuleService, core.ErrorCodeInternalError, "recommend failed", err)
}
