package feedback

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/filter"
	"github.com/rushteam/nearrec/metrics"
	"github.com/rushteam/nearrec/profile"
	"github.com/rushteam/nearrec/store"
)

func newRecorder(t *testing.T) (*Recorder, *store.MemoryStore, *profile.StoreEventLog) {
	t.Helper()
	kv := store.NewMemoryStore()
	t.Cleanup(func() { _ = kv.Close() })
	events := &profile.StoreEventLog{Store: kv}
	return NewRecorder(events, kv, zerolog.Nop()), kv, events
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	r, _, events := newRecorder(t)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	steps := []struct {
		eventType  string
		wantReward float64
	}{
		{core.EventView, 0.1},
		{core.EventLike, 0.5},
		{core.EventComplete, 1.0},
		{core.EventSkip, -0.1},
	}
	for i, s := range steps {
		got, err := r.Record(ctx, Event{UserID: "u1", ItemID: "a", EventType: s.eventType, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatalf("Record(%s): %v", s.eventType, err)
		}
		if got != s.wantReward {
			t.Fatalf("reward(%s) = %v, want %v", s.eventType, got, s.wantReward)
		}
	}

	arm, err := r.Arm(ctx, "u1", "a")
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if arm.Pulls != 4 || math.Abs(arm.RewardSum-1.5) > 1e-9 {
		t.Fatalf("arm = %+v", arm)
	}
	if math.Abs(arm.Mean()-0.375) > 1e-9 {
		t.Fatalf("mean = %v", arm.Mean())
	}

	recent, err := events.RecentEvents(ctx, "u1", nil, 10)
	if err != nil || len(recent) != 4 {
		t.Fatalf("events = %v, %v", recent, err)
	}
	completions, err := events.RecentCompletions(ctx, "u1", 10)
	if err != nil || len(completions) != 1 {
		t.Fatalf("completions = %v, %v", completions, err)
	}
}

func TestRecordHide(t *testing.T) {
	ctx := context.Background()
	r, kv, _ := newRecorder(t)
	before := testutil.ToFloat64(metrics.FeedbackEvents.WithLabelValues(core.EventHide))

	if _, err := r.Record(ctx, Event{UserID: "u1", ItemID: "x", EventType: core.EventHide}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	hidden, err := filter.NewStoreAdapter(kv).GetHiddenItems(ctx, "u1")
	if err != nil {
		t.Fatalf("GetHiddenItems: %v", err)
	}
	if _, ok := hidden["x"]; !ok {
		t.Fatalf("hidden = %v", hidden)
	}
	if d := testutil.ToFloat64(metrics.FeedbackEvents.WithLabelValues(core.EventHide)) - before; d != 1 {
		t.Fatalf("feedback counter delta = %v", d)
	}
}

func TestRecordInvalid(t *testing.T) {
	r, _, _ := newRecorder(t)
	tests := []struct {
		name      string
		ev        Event
		wantField string
	}{
		{name: "missing user", ev: Event{ItemID: "a", EventType: core.EventView}, wantField: "user_id (required)"},
		{name: "missing item", ev: Event{UserID: "u1", EventType: core.EventView}, wantField: "item_id (required)"},
		{name: "missing type", ev: Event{UserID: "u1", ItemID: "a"}, wantField: "event_type (required)"},
		{name: "unknown type", ev: Event{UserID: "u1", ItemID: "a", EventType: "poke"}, wantField: "event_type (event_type)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Record(context.Background(), tt.ev)
			if !core.IsInvalidInput(err) {
				t.Fatalf("expected INVALID_INPUT, got %v", err)
			}
			if msg := core.GetDomainError(err).Message; !strings.Contains(msg, tt.wantField) {
				t.Fatalf("message = %q, want it to name %s", msg, tt.wantField)
			}
		})
	}
}

func TestArmUnknown(t *testing.T) {
	r, _, _ := newRecorder(t)
	arm, err := r.Arm(context.Background(), "u1", "nope")
	if err != nil || arm.Pulls != 0 || arm.Mean() != 0 {
		t.Fatalf("arm = %+v, %v", arm, err)
	}
}
