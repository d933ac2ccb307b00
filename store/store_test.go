package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rushteam/nearrec/core"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time         { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemory(t *testing.T) (*MemoryStore, *clock) {
	t.Helper()
	m := NewMemoryStore()
	t.Cleanup(func() { _ = m.Close() })
	c := &clock{t: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
	m.SetClock(c.now)
	return m, c
}

func TestMemoryGetSetExpiry(t *testing.T) {
	m, c := newMemory(t)
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); !core.IsStoreNotFound(err) {
		t.Fatalf("Get(missing) err = %v", err)
	}
	if err := m.Set(ctx, "a", []byte("1"), 60); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}
	got, err := m.BatchGet(ctx, []string{"a", "b", "c"})
	if err != nil || len(got) != 2 || string(got["a"]) != "1" {
		t.Fatalf("BatchGet = %v, %v", got, err)
	}

	c.advance(61 * time.Second)
	if _, err := m.Get(ctx, "a"); !core.IsStoreNotFound(err) {
		t.Fatalf("a should have expired, err = %v", err)
	}
	if v, err := m.Get(ctx, "b"); err != nil || string(v) != "2" {
		t.Fatalf("b = %q, %v", v, err)
	}

	if err := m.BatchSet(ctx, map[string][]byte{"x": []byte("1"), "y": []byte("2")}, 10); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "x"); !core.IsStoreNotFound(err) {
		t.Fatalf("x should be deleted")
	}
}

func TestMemoryIncrKeepsWindow(t *testing.T) {
	m, c := newMemory(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := m.Incr(ctx, "rl", 1, 60)
		if err != nil || n != want {
			t.Fatalf("Incr = %d, %v; want %d", n, err, want)
		}
		c.advance(15 * time.Second)
	}
	// 第一次 Incr 后 60s 过期，后续调用不能续期
	c.advance(20 * time.Second)
	if n, _ := m.Incr(ctx, "rl", 1, 60); n != 1 {
		t.Fatalf("window should reset, got %d", n)
	}

	_ = m.Set(ctx, "text", []byte("abc"))
	if _, err := m.Incr(ctx, "text", 1, 0); err == nil {
		t.Fatalf("Incr on non-integer should fail")
	}
}

func TestMemorySortedSet(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()

	for _, z := range []struct {
		member string
		score  float64
	}{{"a", 1}, {"b", 3}, {"c", 2}, {"d", 3}} {
		if err := m.ZAdd(ctx, "z", z.score, z.member); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		start, stop int64
		want        []string
	}{
		{0, -1, []string{"d", "b", "c", "a"}},
		{0, 1, []string{"d", "b"}},
		{2, 10, []string{"c", "a"}},
		{5, 6, nil},
	}
	for _, tt := range tests {
		got, err := m.ZRange(ctx, "z", tt.start, tt.stop)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("ZRange(%d,%d) = %v, want %v", tt.start, tt.stop, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("ZRange(%d,%d) = %v, want %v", tt.start, tt.stop, got, tt.want)
			}
		}
	}

	if s, err := m.ZScore(ctx, "z", "c"); err != nil || s != 2 {
		t.Fatalf("ZScore = %v, %v", s, err)
	}
	if _, err := m.ZScore(ctx, "z", "zz"); !core.IsStoreNotFound(err) {
		t.Fatalf("ZScore(missing) err = %v", err)
	}

	if n, err := m.ZRemRangeByScore(ctx, "z", math.Inf(-1), 2); err != nil || n != 2 {
		t.Fatalf("ZRemRangeByScore = %d, %v; want 2", n, err)
	}
	if got, _ := m.ZRange(ctx, "z", 0, -1); len(got) != 2 || got[0] != "d" || got[1] != "b" {
		t.Fatalf("after trim ZRange = %v", got)
	}
	if n, _ := m.ZRemRangeByScore(ctx, "absent", 0, 10); n != 0 {
		t.Fatalf("ZRemRangeByScore(absent) = %d", n)
	}
}

func TestMemoryHashAndExpire(t *testing.T) {
	m, c := newMemory(t)
	ctx := context.Background()

	if _, err := m.HIncrBy(ctx, "h", "p1", 2); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.HIncrBy(ctx, "h", "p1", 3); n != 5 {
		t.Fatalf("HIncrBy = %d, want 5", n)
	}
	if err := m.HSet(ctx, "h", "p2", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if v, err := m.HGet(ctx, "h", "p2"); err != nil || string(v) != "x" {
		t.Fatalf("HGet = %q, %v", v, err)
	}
	if _, err := m.HIncrBy(ctx, "h", "p2", 1); err == nil {
		t.Fatalf("HIncrBy on non-integer should fail")
	}
	all, _ := m.HGetAll(ctx, "h")
	if len(all) != 2 || string(all["p1"]) != "5" {
		t.Fatalf("HGetAll = %v", all)
	}

	if err := m.Expire(ctx, "h", 30); err != nil {
		t.Fatal(err)
	}
	c.advance(31 * time.Second)
	if all, _ := m.HGetAll(ctx, "h"); len(all) != 0 {
		t.Fatalf("hash should expire, got %v", all)
	}
	if _, err := m.HGet(ctx, "h", "p1"); !core.IsStoreNotFound(err) {
		t.Fatalf("HGet after expiry err = %v", err)
	}
}

func TestNew(t *testing.T) {
	kv, err := New(Config{})
	if err != nil || kv.Name() != "memory" {
		t.Fatalf("New(default) = %v, %v", kv, err)
	}
	_ = kv.Close()

	if _, err := New(Config{Backend: "etcd"}); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

func TestJSONHelpers(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()

	type place struct {
		ID string `json:"id"`
	}
	var got place
	if ok, err := GetJSON(ctx, m, "p", &got); ok || err != nil {
		t.Fatalf("GetJSON(missing) = %v, %v", ok, err)
	}
	if err := SetJSON(ctx, m, "p", place{ID: "cafe"}, 0); err != nil {
		t.Fatal(err)
	}
	if ok, err := GetJSON(ctx, m, "p", &got); !ok || err != nil || got.ID != "cafe" {
		t.Fatalf("GetJSON = %v, %v, %+v", ok, err, got)
	}
	_ = m.Set(ctx, "bad", []byte("{"))
	if _, err := GetJSON(ctx, m, "bad", &got); err == nil {
		t.Fatalf("GetJSON(bad) should fail")
	}
}
