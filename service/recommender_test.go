package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/nearrec/cache"
	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/experiment"
	"github.com/rushteam/nearrec/filter"
	"github.com/rushteam/nearrec/pipeline"
	"github.com/rushteam/nearrec/ratelimit"
	"github.com/rushteam/nearrec/recall"
	"github.com/rushteam/nearrec/rerank"
	"github.com/rushteam/nearrec/store"
)

// kmPerDegree 是赤道附近每纬度的公里数（与 HaversineKm 的地球半径一致）
const kmPerDegree = 6371.0 * 3.141592653589793 / 180

func ptr[T any](v T) *T { return &v }

type countingSource struct {
	inner core.CandidateSource
	calls atomic.Int32
	err   error
	block bool
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) FetchCandidates(ctx context.Context, q core.CandidateQuery) ([]core.Candidate, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.inner == nil {
		return nil, nil
	}
	return s.inner.FetchCandidates(ctx, q)
}

type countingLimiter struct {
	decision   ratelimit.Decision
	checks     atomic.Int32
	increments atomic.Int32
}

func (l *countingLimiter) Check(context.Context, string, string) (ratelimit.Decision, error) {
	l.checks.Add(1)
	return l.decision, nil
}

func (l *countingLimiter) Increment(context.Context, string, string) (int64, error) {
	return int64(l.increments.Add(1)), nil
}

type recordingSink struct {
	mu          sync.Mutex
	impressions []core.Impression
	samples     []core.PerformanceSample
}

func (s *recordingSink) LogImpressions(_ context.Context, imp core.Impression) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.impressions = append(s.impressions, imp)
	return nil
}

func (s *recordingSink) LogPerformance(_ context.Context, p core.PerformanceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, p)
	return nil
}

type failingTraits struct{}

func (failingTraits) TraitVector(context.Context, string) ([]float64, error) {
	return nil, errors.New("vector store down")
}

type fixture struct {
	kv      *store.MemoryStore
	source  *countingSource
	limiter *countingLimiter
	sink    *recordingSink
	cache   *cache.RecCache
	deps    Deps
}

func newFixture(t *testing.T, places []recall.Place) *fixture {
	t.Helper()
	kv := store.NewMemoryStore()
	t.Cleanup(func() { _ = kv.Close() })

	f := &fixture{
		kv:      kv,
		source:  &countingSource{inner: &recall.StaticSource{Places: places}},
		limiter: &countingLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 29}},
		sink:    &recordingSink{},
		cache:   cache.New(kv),
	}
	adapter := filter.NewStoreAdapter(kv)
	f.deps = Deps{
		Candidates:  f.source,
		Experiments: experiment.NewStoreService(kv),
		Limiter:     f.limiter,
		Cache:       f.cache,
		Pipeline: &pipeline.Pipeline{Nodes: []pipeline.Node{
			&filter.UserHiddenNode{Store: adapter},
			&filter.Diversity{Rules: adapter, Defaults: filter.DefaultDiversityRules()},
			filter.NewExposureDampener(adapter),
			&rerank.MMR{},
		}},
		Hidden:         adapter,
		Impressions:    f.sink,
		Performance:    f.sink,
		ExperimentName: experiment.DefaultName,
	}
	return f
}

func (f *fixture) recommender() *Recommender {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	return New(f.deps, zerolog.Nop()).WithClock(func() time.Time { return now })
}

// placeAt 在原点正北 km 公里处放置一个候选
func placeAt(id string, km float64) recall.Place {
	return recall.Place{Candidate: core.Candidate{ID: id}, Latitude: km / kmPerDegree}
}

func request(k int) Request {
	return Request{UserID: "u1", Latitude: ptr(0.0), Longitude: ptr(0.0), RadiusKm: 10, K: k, ClientIP: "10.0.0.1"}
}

func TestEndToEndDistanceOrdering(t *testing.T) {
	f := newFixture(t, []recall.Place{
		placeAt("far", 20),
		placeAt("mid", 5),
		placeAt("near", 1),
	})

	resp, err := f.recommender().Recommend(context.Background(), request(20))
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if resp.Cached {
		t.Fatalf("first request must not be cached")
	}
	if len(resp.Items) != 2 {
		t.Fatalf("got %d items, want 2 (20km filtered upstream): %+v", len(resp.Items), resp.Items)
	}
	if resp.Items[0].ID != "near" || resp.Items[1].ID != "mid" {
		t.Fatalf("order = %s, %s", resp.Items[0].ID, resp.Items[1].ID)
	}
	if resp.Items[0].Score <= resp.Items[1].Score || resp.Items[0].Reasons.Cost >= resp.Items[1].Reasons.Cost {
		t.Fatalf("closer candidate should have lower cost and higher score: %+v", resp.Items)
	}
	if resp.Remaining != 29 || resp.Experiment.Variant != core.ControlVariant {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	if f.limiter.increments.Load() != 1 {
		t.Fatalf("increments = %d, want 1", f.limiter.increments.Load())
	}
	if len(f.sink.impressions) != 1 || len(f.sink.impressions[0].ItemIDs) != 2 {
		t.Fatalf("impressions = %+v", f.sink.impressions)
	}
	if len(f.sink.samples) != 1 || !f.sink.samples[0].Success || f.sink.samples[0].FunctionName != FunctionName {
		t.Fatalf("performance samples = %+v", f.sink.samples)
	}
}

func TestCacheShortCircuit(t *testing.T) {
	f := newFixture(t, []recall.Place{placeAt("a", 1)})
	cached := &cache.Entry{
		Items:      []core.ItemView{{ID: "cached-1", Score: 0.9}},
		Experiment: cache.ExperimentRef{ID: "", Variant: core.ControlVariant},
	}
	if err := f.cache.Put(context.Background(), "u1", 0, 0, core.ControlVariant, cached); err != nil {
		t.Fatalf("Put: %v", err)
	}

	resp, err := f.recommender().Recommend(context.Background(), request(20))
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !resp.Cached || len(resp.Items) != 1 || resp.Items[0].ID != "cached-1" {
		t.Fatalf("expected cached payload, got %+v", resp)
	}
	if f.source.calls.Load() != 0 {
		t.Fatalf("candidate source called %d times on cache hit", f.source.calls.Load())
	}
	if f.limiter.increments.Load() != 1 {
		t.Fatalf("increments = %d, want exactly 1", f.limiter.increments.Load())
	}
	if len(f.sink.impressions) != 0 {
		t.Fatalf("cache hit must not log impressions")
	}
}

func TestFreshThenCached(t *testing.T) {
	f := newFixture(t, []recall.Place{placeAt("a", 1), placeAt("b", 2)})
	r := f.recommender()

	first, err := r.Recommend(context.Background(), request(20))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := r.Recommend(context.Background(), request(20))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Cached || !second.Cached {
		t.Fatalf("cached flags = %v, %v", first.Cached, second.Cached)
	}
	if len(first.Items) != len(second.Items) || first.Items[0].ID != second.Items[0].ID {
		t.Fatalf("cached payload differs: %+v vs %+v", first.Items, second.Items)
	}
	if f.source.calls.Load() != 1 || f.limiter.increments.Load() != 2 {
		t.Fatalf("calls = %d, increments = %d", f.source.calls.Load(), f.limiter.increments.Load())
	}
}

func TestRateLimitGate(t *testing.T) {
	f := newFixture(t, []recall.Place{placeAt("a", 1)})
	reset := time.Date(2026, 7, 1, 12, 10, 0, 0, time.UTC)
	f.limiter.decision = ratelimit.Decision{Allowed: false, Remaining: 0, ResetAt: reset}

	_, err := f.recommender().Recommend(context.Background(), request(20))
	var rl *core.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if !rl.ResetAt.Equal(reset) {
		t.Fatalf("ResetAt = %v", rl.ResetAt)
	}
	if f.source.calls.Load() != 0 {
		t.Fatalf("candidate source called on denied request")
	}
	if f.limiter.increments.Load() != 0 || len(f.sink.impressions) != 0 || len(f.sink.samples) != 0 {
		t.Fatalf("denied request must not increment or log")
	}
}

func TestMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "missing user", req: Request{Latitude: ptr(1.0), Longitude: ptr(1.0)}},
		{name: "blank user", req: Request{UserID: "  ", Latitude: ptr(1.0), Longitude: ptr(1.0)}},
		{name: "missing lat", req: Request{UserID: "u1", Longitude: ptr(1.0)}},
		{name: "missing lon", req: Request{UserID: "u1", Latitude: ptr(1.0)}},
		{name: "lat out of range", req: Request{UserID: "u1", Latitude: ptr(91.0), Longitude: ptr(1.0)}},
		{name: "negative k", req: Request{UserID: "u1", Latitude: ptr(1.0), Longitude: ptr(1.0), K: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.recommender().Recommend(context.Background(), tt.req)
			if !core.IsInvalidInput(err) {
				t.Fatalf("expected INVALID_INPUT, got %v", err)
			}
			if f.limiter.checks.Load() != 0 || f.source.calls.Load() != 0 {
				t.Fatalf("malformed input must be rejected before external calls")
			}
		})
	}
}

func TestZeroCoordinatesAreValid(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.recommender().Recommend(context.Background(), request(0)); err != nil {
		t.Fatalf("0,0 is a valid location: %v", err)
	}
}

func TestUpstreamFailureAbortsRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fixture)
	}{
		{name: "candidates", mutate: func(f *fixture) { f.source.err = errors.New("candidate service down") }},
		{name: "trait vector", mutate: func(f *fixture) { f.deps.Traits = failingTraits{} }},
		{name: "pipeline stage", mutate: func(f *fixture) {
			f.deps.Pipeline = &pipeline.Pipeline{Nodes: []pipeline.Node{pipeline.NodeFunc{
				NodeName: "broken",
				NodeKind: pipeline.KindFilter,
				Fn: func(context.Context, *core.RecommendContext, []*core.Item) ([]*core.Item, error) {
					return nil, fmt.Errorf("stage exploded")
				},
			}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, []recall.Place{placeAt("a", 1)})
			tt.mutate(f)
			resp, err := f.recommender().Recommend(context.Background(), request(20))
			if err == nil || resp != nil {
				t.Fatalf("expected failure, got %+v", resp)
			}
			if core.IsRateLimited(err) || core.IsInvalidInput(err) {
				t.Fatalf("unexpected error class %v", err)
			}
			if len(f.sink.impressions) != 0 || f.limiter.increments.Load() != 0 {
				t.Fatalf("failed request must not log impressions or count")
			}
			if len(f.sink.samples) != 1 || f.sink.samples[0].Success || f.sink.samples[0].ErrorMessage == "" {
				t.Fatalf("failure must be reported to the performance sink: %+v", f.sink.samples)
			}
		})
	}
}

type shortTimeout struct{ *core.DefaultServingConfig }

func (shortTimeout) DefaultTimeout() time.Duration { return 20 * time.Millisecond }

func TestTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.source.block = true
	f.deps.Serving = shortTimeout{&core.DefaultServingConfig{}}

	_, err := f.recommender().Recommend(context.Background(), request(20))
	if !core.IsTimeout(err) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}

func TestEmptyCandidates(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.recommender().Recommend(context.Background(), request(20))
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if resp.Items == nil || len(resp.Items) != 0 {
		t.Fatalf("expected empty, non-nil items: %+v", resp.Items)
	}
	if len(f.sink.impressions) != 0 {
		t.Fatalf("nothing shown, nothing logged")
	}
	if f.limiter.increments.Load() != 1 {
		t.Fatalf("allowed request must be counted")
	}
}

func TestExplorationSlots(t *testing.T) {
	places := make([]recall.Place, 0, 14)
	for i := 0; i < 14; i++ {
		p := placeAt(fmt.Sprintf("c%02d", i), 0.1)
		p.AppealScore = ptr(1 - float64(i)*0.05)
		places = append(places, p)
	}
	f := newFixture(t, places)

	resp, err := f.recommender().Recommend(context.Background(), request(10))
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(resp.Items) != 12 {
		t.Fatalf("got %d items, want 10 + 2 explore", len(resp.Items))
	}
	if resp.Items[3].ID != "c10" || resp.Items[7].ID != "c11" {
		t.Fatalf("explore picks at 3/7 = %s/%s", resp.Items[3].ID, resp.Items[7].ID)
	}
	seen := map[string]bool{}
	for _, it := range resp.Items {
		if seen[it.ID] {
			t.Fatalf("duplicate id %s", it.ID)
		}
		seen[it.ID] = true
	}
	for i := 0; i < 10; i++ {
		if !seen[fmt.Sprintf("c%02d", i)] {
			t.Fatalf("greedy pick c%02d removed", i)
		}
	}
}

func TestExplorationSkipsHiddenItems(t *testing.T) {
	places := make([]recall.Place, 0, 4)
	for i := 0; i < 4; i++ {
		p := placeAt(fmt.Sprintf("c%d", i), 0.1)
		p.AppealScore = ptr(1 - float64(i)*0.1)
		places = append(places, p)
	}
	f := newFixture(t, places)
	_ = f.kv.HSet(context.Background(), core.UserKey(core.KeyPrefixHidden, "u1"), "c2", []byte("1"))

	resp, err := f.recommender().Recommend(context.Background(), request(2))
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	for _, it := range resp.Items {
		if it.ID == "c2" {
			t.Fatalf("hidden item resurfaced through exploration: %+v", resp.Items)
		}
	}
	if len(resp.Items) != 3 || resp.Items[2].ID != "c3" {
		t.Fatalf("items = %+v", resp.Items)
	}
}

func TestExperimentOverrides(t *testing.T) {
	f := newFixture(t, []recall.Place{placeAt("a", 1), placeAt("b", 2), placeAt("c", 3)})
	svc := f.deps.Experiments.(*experiment.StoreService)
	err := svc.Assign(context.Background(), "u1", experiment.DefaultName, experiment.Assignment{
		ID:        "exp-9",
		Variant:   "no_explore",
		Overrides: &core.ExperimentOverrides{ExploreSlots: ptr(0)},
	})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	resp, err := f.recommender().Recommend(context.Background(), request(1))
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("explore_slots=0 must add nothing, got %d items", len(resp.Items))
	}
	if resp.Experiment.ID != "exp-9" || resp.Experiment.Variant != "no_explore" {
		t.Fatalf("experiment = %+v", resp.Experiment)
	}
	if f.sink.impressions[0].Variant != "no_explore" {
		t.Fatalf("impression variant = %q", f.sink.impressions[0].Variant)
	}
}

func TestDefaultsApplied(t *testing.T) {
	req := Request{UserID: "u1", Latitude: ptr(1.0), Longitude: ptr(2.0), K: 1000}
	if err := normalize(&req, &core.DefaultServingConfig{}); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.RadiusKm != 15 || req.K != 100 {
		t.Fatalf("defaults = radius %v, k %d", req.RadiusKm, req.K)
	}
}

type fixedSource []core.Candidate

func (fixedSource) Name() string { return "fixed" }

func (s fixedSource) FetchCandidates(context.Context, core.CandidateQuery) ([]core.Candidate, error) {
	return s, nil
}

func TestExplorationFollowsCandidateOrder(t *testing.T) {
	// 候选源顺序 c0..c5，分数逆序：c5 最高
	cands := make(fixedSource, 0, 6)
	for i := 0; i < 6; i++ {
		cands = append(cands, core.Candidate{ID: fmt.Sprintf("c%d", i), DistanceKm: 0.1, AppealScore: ptr(0.5 + float64(i)*0.1)})
	}
	f := newFixture(t, nil)
	f.deps.Candidates = cands

	resp, err := f.recommender().Recommend(context.Background(), request(3))
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	got := make([]string, len(resp.Items))
	for i, it := range resp.Items {
		got[i] = it.ID
	}
	want := []string{"c5", "c4", "c3", "c0", "c1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
}

type queuedChannel struct {
	mu       sync.Mutex
	channels []string
	tasks    []func(ctx context.Context) error
}

func (q *queuedChannel) Go(channel string, fn func(ctx context.Context) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.channels = append(q.channels, channel)
	q.tasks = append(q.tasks, fn)
}

func (q *queuedChannel) flush(t *testing.T) {
	t.Helper()
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, fn := range tasks {
		if err := fn(context.Background()); err != nil {
			t.Fatalf("background task: %v", err)
		}
	}
}

func TestPostResponseWritesRunInBackground(t *testing.T) {
	f := newFixture(t, []recall.Place{placeAt("a", 1), placeAt("b", 2)})
	bg := &queuedChannel{}
	f.deps.Background = bg
	rec := f.recommender()

	if _, err := rec.Recommend(context.Background(), request(2)); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if fmt.Sprint(bg.channels) != "[cache_write ratelimit_incr]" {
		t.Fatalf("channels = %v", bg.channels)
	}
	if f.limiter.increments.Load() != 0 {
		t.Fatalf("increment ran inline")
	}

	bg.flush(t)
	if f.limiter.increments.Load() != 1 {
		t.Fatalf("increments = %d, want 1", f.limiter.increments.Load())
	}
	resp, err := rec.Recommend(context.Background(), request(2))
	if err != nil || !resp.Cached {
		t.Fatalf("second request should hit cache: %+v, %v", resp, err)
	}
}
