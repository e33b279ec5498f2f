package reflex

import (
	"context"
	"testing"

	"github.com/example/pilot/internal/perception"
)

func TestCruise(t *testing.T) {
	c := NewCruise()
	cases := []struct {
		name        string
		distances   map[string]float64
		wantOK      bool
		wantLinear  float64
		wantAngular float64
	}{
		{"unknown front", nil, false, 0, 0},
		{"clear", map[string]float64{"front": 2}, true, 0.25, 0},
		{"blocked prefers left", map[string]float64{"front": 0.5, "left": 1.5, "right": 0.4}, true, 0, 0.6},
		{"blocked prefers right", map[string]float64{"front": 0.5, "left": 0.3, "right": 1.2}, true, 0, -0.6},
		{"blocked no side info", map[string]float64{"front": 0.5}, true, 0, 0.6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, ok, err := c.Decide(context.Background(), perception.Snapshot{Distances: tc.distances})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.wantOK {
				t.Fatalf("ok=%v want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if a.Linear != tc.wantLinear || a.Angular != tc.wantAngular {
				t.Fatalf("got %s", a)
			}
		})
	}
}

func TestCruiseHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := NewCruise().Decide(ctx, perception.Snapshot{}); err == nil {
		t.Fatalf("expected context error")
	}
}
