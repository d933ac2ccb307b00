package conv

import "testing"

func TestConfigGet(t *testing.T) {
	m := map[string]any{
		"expr":    "item.distance_km < 5",
		"explain": true,
		"n":       3,
		"lambda":  1,
		"penalty": 0.25,
		"json_n":  float64(7),
		"bad":     "x",
	}

	if got := ConfigGet(m, "expr", ""); got != "item.distance_km < 5" {
		t.Fatalf("expr = %q", got)
	}
	if got := ConfigGet(m, "explain", false); !got {
		t.Fatalf("explain = %v", got)
	}
	if got := ConfigGet(m, "bad", 9); got != 9 {
		t.Fatalf("type mismatch should fall back, got %d", got)
	}

	tests := []struct {
		key       string
		wantInt   int
		wantFloat float64
	}{
		{key: "n", wantInt: 3, wantFloat: 3},
		{key: "lambda", wantInt: 1, wantFloat: 1},
		{key: "penalty", wantInt: 0, wantFloat: 0.25},
		{key: "json_n", wantInt: 7, wantFloat: 7},
		{key: "bad", wantInt: -1, wantFloat: -1},
		{key: "missing", wantInt: -1, wantFloat: -1},
	}
	for _, tt := range tests {
		if got := ConfigGetInt(m, tt.key, -1); got != tt.wantInt {
			t.Errorf("ConfigGetInt(%s) = %d, want %d", tt.key, got, tt.wantInt)
		}
		if got := ConfigGetFloat64(m, tt.key, -1); got != tt.wantFloat {
			t.Errorf("ConfigGetFloat64(%s) = %v, want %v", tt.key, got, tt.wantFloat)
		}
	}

	if got := ConfigGetInt(nil, "n", 4); got != 4 {
		t.Fatalf("nil map should return default, got %d", got)
	}
}
