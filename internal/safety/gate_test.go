package safety

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/perception"
)

type stubDetector struct {
	dets  []Detection
	err   error
	panic bool
}

func (s stubDetector) Detect(*perception.Frame) ([]Detection, error) {
	if s.panic {
		panic("detector crashed")
	}
	return s.dets, s.err
}

func litFrame() *perception.Frame {
	f := &perception.Frame{Width: 64, Height: 48, Pix: make([]byte, 64*48)}
	for i := range f.Pix {
		f.Pix[i] = byte(i % 200)
	}
	return f
}

func blankFrame() *perception.Frame {
	return &perception.Frame{Width: 64, Height: 48, Pix: make([]byte, 64*48)}
}

func TestEvaluateRules(t *testing.T) {
	g := New(DefaultConfig(), nil)
	cases := []struct {
		name     string
		snap     perception.Snapshot
		wantKind action.Kind
		override bool
	}{
		{
			name:     "missing frame waits",
			snap:     perception.Snapshot{},
			wantKind: action.KindWait,
			override: true,
		},
		{
			name:     "undersized frame waits",
			snap:     perception.Snapshot{Frame: &perception.Frame{Width: 8, Height: 8, Pix: make([]byte, 64)}},
			wantKind: action.KindWait,
			override: true,
		},
		{
			name:     "blank frame waits",
			snap:     perception.Snapshot{Frame: blankFrame()},
			wantKind: action.KindWait,
			override: true,
		},
		{
			name:     "blank frame with camera optional passes",
			snap:     perception.Snapshot{Frame: blankFrame(), CameraOptional: true},
			override: false,
		},
		{
			name:     "close front obstacle stops",
			snap:     perception.Snapshot{Frame: litFrame(), Distances: map[string]float64{"front": 0.1}},
			wantKind: action.KindStop,
			override: true,
		},
		{
			name:     "camera optional still checks distance",
			snap:     perception.Snapshot{CameraOptional: true, Distances: map[string]float64{"front": 0.1}},
			wantKind: action.KindStop,
			override: true,
		},
		{
			name:     "battery critical stops",
			snap:     perception.Snapshot{Frame: litFrame(), Flags: map[string]bool{perception.FlagBatteryCritical: true}},
			wantKind: action.KindStop,
			override: true,
		},
		{
			name:     "clear path passes",
			snap:     perception.Snapshot{Frame: litFrame(), Distances: map[string]float64{"front": 2}},
			override: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := g.Evaluate(tc.snap)
			if ok != tc.override {
				t.Fatalf("override=%v want %v (action %s)", ok, tc.override, got)
			}
			if ok && got.Kind != tc.wantKind {
				t.Fatalf("got %s want kind %s", got, tc.wantKind)
			}
			if !ok && !got.IsIdle() {
				t.Fatalf("pass-through must be idle, got %s", got)
			}
		})
	}
}

func TestFrontDistanceBeatsBatteryFlag(t *testing.T) {
	g := New(DefaultConfig(), nil)
	got, ok := g.Evaluate(perception.Snapshot{
		CameraOptional: true,
		Distances:      map[string]float64{"front": 0.1},
		Flags:          map[string]bool{perception.FlagBatteryCritical: true},
	})
	if !ok || got.Kind != action.KindStop || got.Reason != "obstacle at 0.10m" {
		t.Fatalf("expected distance stop first, got %s", got)
	}
}

func TestVisionObstacleBands(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vision = VisionConfig{Enabled: true, Calibration: 0.05, StopDistance: 0.4, WarnDistance: 1.0, EvasiveAngular: 0.6}

	// 0.05 / 0.25 = 0.2m -> stop
	g := New(cfg, stubDetector{dets: []Detection{{Label: "chair", Box: Box{W: 0.5, H: 0.5}}}})
	got, ok := g.Evaluate(perception.Snapshot{Frame: litFrame()})
	if !ok || got.Kind != action.KindStop {
		t.Fatalf("expected vision stop, got %s", got)
	}
	if len(g.LastDetections()) != 1 {
		t.Fatalf("expected detection cache to be populated")
	}

	// 0.05 / 0.08 = 0.625m -> evasive turn
	g = New(cfg, stubDetector{dets: []Detection{{Label: "box", Box: Box{W: 0.4, H: 0.2}}}})
	got, ok = g.Evaluate(perception.Snapshot{Frame: litFrame()})
	if !ok || got.Kind != action.KindMove || got.Linear != 0 || got.Angular != 0.6 {
		t.Fatalf("expected evasive turn, got %s", got)
	}

	// 0.05 / 0.01 = 5m -> clear
	g = New(cfg, stubDetector{dets: []Detection{{Label: "far", Box: Box{W: 0.1, H: 0.1}}}})
	if got, ok = g.Evaluate(perception.Snapshot{Frame: litFrame()}); ok {
		t.Fatalf("expected no override for distant obstacle, got %s", got)
	}
}

func TestDetectorFailuresAreSwallowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vision.Enabled = true
	for _, d := range []Detector{
		stubDetector{err: errors.New("model not loaded")},
		stubDetector{panic: true},
	} {
		g := New(cfg, d)
		if got, ok := g.Evaluate(perception.Snapshot{Frame: litFrame()}); ok {
			t.Fatalf("expected detector failure to pass through, got %s", got)
		}
	}
}

type stuckDetector struct {
	release chan struct{}
	calls   *atomic.Int32
}

func (s stuckDetector) Detect(*perception.Frame) ([]Detection, error) {
	s.calls.Add(1)
	<-s.release
	return []Detection{{Label: "late", Box: Box{W: 0.5, H: 0.5}}}, nil
}

func TestStuckDetectorDoesNotHoldTheTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vision.Enabled = true
	cfg.Vision.Timeout = 20 * time.Millisecond
	d := stuckDetector{release: make(chan struct{}), calls: new(atomic.Int32)}
	g := New(cfg, d)

	for i := 0; i < 3; i++ {
		start := time.Now()
		if got, ok := g.Evaluate(perception.Snapshot{Frame: litFrame()}); ok {
			t.Fatalf("evaluation %d: expected pass-through, got %s", i, got)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("evaluation %d blocked for %s", i, elapsed)
		}
	}
	if n := d.calls.Load(); n != 1 {
		t.Fatalf("expected one outstanding detector call, got %d", n)
	}

	close(d.release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, ok := g.Evaluate(perception.Snapshot{Frame: litFrame()})
		if ok && got.Kind == action.KindStop {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("detector never recovered after release")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
