package filter

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/store"
)

func newItem(id string, score float64, bucket string, emb ...float64) *core.Item {
	it := core.NewItem(id)
	it.Score = score
	it.Embedding = emb
	it.Candidate = &core.Candidate{ID: id, BucketID: bucket, Embedding: emb}
	return it
}

func ids(items []*core.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type fakeExposure struct {
	counts map[string]int
	err    error
}

func (f *fakeExposure) GetExposureCounts(_ context.Context, _ string, _ []string) (map[string]int, error) {
	return f.counts, f.err
}

func TestApplyDiversity(t *testing.T) {
	items := []*core.Item{
		newItem("a1", 0.9, "a"),
		newItem("a2", 0.8, "a"),
		newItem("a3", 0.7, "a"),
		newItem("b1", 0.6, "b"),
		newItem("a4", 0.5, "a"),
		newItem("c1", 0.4, "c"),
	}
	rules := core.DiversityRules{MaxPerBucket: 2}

	tests := []struct {
		name   string
		target int
		want   []string
	}{
		{"cap applied when enough remain", 3, []string{"a1", "a2", "b1", "c1"}},
		{"backfill to reach target", 5, []string{"a1", "a2", "a3", "b1", "c1"}},
		{"insufficient diversity returns everything", 10, []string{"a1", "a2", "a3", "b1", "a4", "c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyDiversity(nil, items, rules, tt.target)
			if err != nil {
				t.Fatalf("ApplyDiversity() error = %v", err)
			}
			if !equalIDs(ids(got), tt.want) {
				t.Errorf("ApplyDiversity() = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestApplyDiversity_NearDuplicates(t *testing.T) {
	items := []*core.Item{
		newItem("x", 0.9, "", 1, 0),
		newItem("x-dup", 0.8, "", 0.999, 0.01),
		newItem("y", 0.7, "", 0, 1),
		newItem("noemb", 0.6, ""),
	}
	got, err := ApplyDiversity(nil, items, core.DiversityRules{DuplicateThreshold: 0.98}, 2)
	if err != nil {
		t.Fatalf("ApplyDiversity() error = %v", err)
	}
	want := []string{"x", "y", "noemb"}
	if !equalIDs(ids(got), want) {
		t.Errorf("ApplyDiversity() = %v, want %v", ids(got), want)
	}
}

func TestApplyDiversity_ExcludeExpression(t *testing.T) {
	far := newItem("far", 0.9, "")
	far.Candidate.DistanceKm = 40
	near := newItem("near", 0.5, "")
	near.Candidate.DistanceKm = 2

	rules := core.DiversityRules{Exclude: "item.features.distance_km > 25.0"}
	got, err := ApplyDiversity(nil, []*core.Item{far, near}, rules, 1)
	if err != nil {
		t.Fatalf("ApplyDiversity() error = %v", err)
	}
	if !equalIDs(ids(got), []string{"near"}) {
		t.Errorf("got %v, want [near]", ids(got))
	}

	got, _ = ApplyDiversity(nil, []*core.Item{far, near}, rules, 2)
	if !equalIDs(ids(got), []string{"far", "near"}) {
		t.Errorf("backfill with excluded: got %v, want [far near]", ids(got))
	}

	if _, err := ApplyDiversity(nil, []*core.Item{far}, core.DiversityRules{Exclude: "item.score >"}, 1); err == nil {
		t.Errorf("expected error for invalid expression")
	}
}

func TestDiversityNode_UsesRuleSource(t *testing.T) {
	kv := store.NewMemoryStore()
	defer kv.Close()
	ctx := context.Background()
	if err := store.SetJSON(ctx, kv, "diversity:u1", core.DiversityRules{MaxPerBucket: 1}, 0); err != nil {
		t.Fatal(err)
	}

	node := &Diversity{Rules: NewStoreAdapter(kv), Defaults: DefaultDiversityRules()}
	items := []*core.Item{newItem("a1", 0.9, "a"), newItem("a2", 0.8, "a"), newItem("b1", 0.1, "b")}

	got, err := node.Process(ctx, &core.RecommendContext{UserID: "u1", K: 2}, items)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !equalIDs(ids(got), []string{"a1", "b1"}) {
		t.Errorf("u1 rules: got %v, want [a1 b1]", ids(got))
	}

	got, _ = node.Process(ctx, &core.RecommendContext{UserID: "u2", K: 2}, items)
	if !equalIDs(ids(got), []string{"a1", "a2", "b1"}) {
		t.Errorf("default rules: got %v, want [a1 a2 b1]", ids(got))
	}
}

func TestExposureDampener(t *testing.T) {
	items := []*core.Item{
		newItem("fresh", 0.5, ""),
		newItem("seen2", 0.5, ""),
		newItem("over", 0.9, ""),
	}
	d := NewExposureDampener(&fakeExposure{counts: map[string]int{"seen2": 2, "over": 5}})

	got, err := d.Process(context.Background(), &core.RecommendContext{UserID: "u1"}, items)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !equalIDs(ids(got), []string{"fresh", "seen2"}) {
		t.Fatalf("got %v, want [fresh seen2]", ids(got))
	}
	if want := 0.5 - 0.1*2.0/5.0; math.Abs(got[1].Score-want) > 1e-12 {
		t.Errorf("seen2 score = %v, want %v", got[1].Score, want)
	}
	if items[1].Score != 0.5 {
		t.Errorf("input item mutated: score = %v", items[1].Score)
	}
}

func TestExposureDampener_FailOpen(t *testing.T) {
	items := []*core.Item{newItem("a", 0.5, ""), newItem("b", 0.4, "")}
	d := NewExposureDampener(&fakeExposure{counts: map[string]int{"a": 9, "b": 5}})

	got, err := d.Process(context.Background(), &core.RecommendContext{UserID: "u1"}, items)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(got) != len(items) {
		t.Fatalf("len = %d, want %d", len(got), len(items))
	}
	for i := range items {
		if got[i] != items[i] {
			t.Errorf("item %d not returned unmodified", i)
		}
	}
}

func TestExposureDampener_StoreError(t *testing.T) {
	d := NewExposureDampener(&fakeExposure{err: errors.New("boom")})
	_, err := d.Process(context.Background(), &core.RecommendContext{UserID: "u1"}, []*core.Item{newItem("a", 1, "")})
	if !core.IsUnavailable(err) {
		t.Errorf("error = %v, want UNAVAILABLE", err)
	}
}

func TestStoreAdapter_ExposureAndHidden(t *testing.T) {
	kv := store.NewMemoryStore()
	defer kv.Close()
	ctx := context.Background()
	now := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	kv.HIncrBy(ctx, "exposure:u1:20260710", "a", 2)
	kv.HIncrBy(ctx, "exposure:u1:20260704", "a", 1)
	kv.HIncrBy(ctx, "exposure:u1:20260703", "a", 4) // 窗口外
	kv.HIncrBy(ctx, "exposure:u1:20260710", "z", 1)
	kv.HSet(ctx, "hidden:u1", "b", []byte("1700000000"))

	a := NewStoreAdapter(kv).WithClock(func() time.Time { return now })
	counts, err := a.GetExposureCounts(ctx, "u1", []string{"a", "b"})
	if err != nil {
		t.Fatalf("GetExposureCounts() error = %v", err)
	}
	if len(counts) != 1 || counts["a"] != 3 {
		t.Errorf("counts = %v, want map[a:3]", counts)
	}

	a.Window = 24 * time.Hour
	if counts, _ := a.GetExposureCounts(ctx, "u1", []string{"a"}); counts["a"] != 2 {
		t.Errorf("one-day window counts = %v, want map[a:2]", counts)
	}

	node := &UserHiddenNode{Store: a}
	got, err := node.Process(ctx, &core.RecommendContext{UserID: "u1"}, []*core.Item{newItem("a", 1, ""), newItem("b", 1, "")})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !equalIDs(ids(got), []string{"a"}) {
		t.Errorf("got %v, want [a]", ids(got))
	}
}

func TestFilterNode_Expression(t *testing.T) {
	f, err := NewExpressionFilter(`item.bucket_id == "spam"`)
	if err != nil {
		t.Fatalf("NewExpressionFilter() error = %v", err)
	}
	node := &FilterNode{Filters: []Filter{f}}
	got, err := node.Process(context.Background(), &core.RecommendContext{}, []*core.Item{
		newItem("keep", 1, "ok"),
		newItem("drop", 1, "spam"),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !equalIDs(ids(got), []string{"keep"}) {
		t.Errorf("got %v, want [keep]", ids(got))
	}
}

func TestFilterNode_FuncFilterAndExpression(t *testing.T) {
	expr, err := NewExpressionFilter(`item.bucket_id == "spam"`)
	if err != nil {
		t.Fatal(err)
	}
	low := FuncFilter{Label: "low", Fn: func(_ *core.RecommendContext, it *core.Item) bool { return it.Score < 0.5 }}
	node := &FilterNode{Filters: []Filter{low, expr}}

	got, err := node.Process(context.Background(), &core.RecommendContext{}, []*core.Item{
		newItem("keep", 0.9, "ok"),
		newItem("low", 0.1, "ok"),
		newItem("spam", 0.9, "spam"),
		nil,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !equalIDs(ids(got), []string{"keep"}) {
		t.Errorf("got %v, want [keep]", ids(got))
	}
}

type fakeSeen struct {
	f   *bloom.BloomFilter
	err error
}

func (s *fakeSeen) Load(context.Context, string) (*bloom.BloomFilter, error) {
	return s.f, s.err
}

func TestSeenFilter(t *testing.T) {
	seenFilter := bloom.NewWithEstimates(100, 0.001)
	seenFilter.AddString("a")
	seenFilter.AddString("c")
	rctx := &core.RecommendContext{UserID: "u1"}
	items := []*core.Item{newItem("a", 1, ""), newItem("b", 0.9, ""), newItem("c", 0.8, ""), newItem("d", 0.7, "")}

	tests := []struct {
		name    string
		source  *fakeSeen
		minKeep int
		want    []string
	}{
		{name: "drops seen", source: &fakeSeen{f: seenFilter}, want: []string{"b", "d"}},
		{name: "no filter", source: &fakeSeen{}, want: []string{"a", "b", "c", "d"}},
		{name: "min keep fails open", source: &fakeSeen{f: seenFilter}, minKeep: 3, want: []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &SeenFilter{Store: tt.source, MinKeep: tt.minKeep}
			got, err := n.Process(context.Background(), rctx, items)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if !equalIDs(ids(got), tt.want) {
				t.Fatalf("got %v, want %v", ids(got), tt.want)
			}
		})
	}

	all := bloom.NewWithEstimates(100, 0.001)
	for _, it := range items {
		all.AddString(it.ID)
	}
	got, _ := (&SeenFilter{Store: &fakeSeen{f: all}}).Process(context.Background(), rctx, items)
	if len(got) != len(items) {
		t.Fatalf("everything seen should fail open, got %v", ids(got))
	}

	_, err := (&SeenFilter{Store: &fakeSeen{err: errors.New("down")}}).Process(context.Background(), rctx, items)
	if !core.IsUnavailable(err) {
		t.Fatalf("expected UNAVAILABLE, got %v", err)
	}
}
