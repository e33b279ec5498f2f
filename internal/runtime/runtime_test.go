package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/perception"
	"github.com/example/pilot/internal/task"
)

type recordingDriver struct {
	mu      sync.Mutex
	applied []action.Action
	fail    bool
}

func (d *recordingDriver) Apply(_ context.Context, a action.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied = append(d.applied, a)
	if d.fail {
		return errors.New("motor controller offline")
	}
	return nil
}

func (d *recordingDriver) Actions() []action.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]action.Action, len(d.applied))
	copy(out, d.applied)
	return out
}

type tickerFunc func(ctx context.Context, snap perception.Snapshot) action.Action

func (f tickerFunc) Tick(ctx context.Context, snap perception.Snapshot) action.Action {
	return f(ctx, snap)
}

type countingWorker struct{ calls atomic.Int64 }

func (w *countingWorker) RunAll(context.Context, int) []task.Result {
	w.calls.Add(1)
	return []task.Result{{TaskID: "t1", Status: task.StatusSuccess}}
}

type failingSource struct{}

func (failingSource) Snapshot(context.Context) (perception.Snapshot, error) {
	return perception.Snapshot{Distances: map[string]float64{"front": 9}}, errors.New("lidar timeout")
}

func TestStepFeedsSnapshotAndAppliesAction(t *testing.T) {
	drv := &recordingDriver{}
	var seen perception.Snapshot
	brain := tickerFunc(func(_ context.Context, snap perception.Snapshot) action.Action {
		seen = snap
		return action.Move(0.2, 0, "cruise")
	})
	src := perception.Static{Value: perception.Snapshot{Distances: map[string]float64{"front": 1.5}}}
	r := New(Config{CameraOptional: true}, src, brain, nil, drv)

	got := r.Step(context.Background())
	if got.Kind != action.KindMove {
		t.Fatalf("unexpected action %s", got)
	}
	if d, _ := seen.Distance("front"); d != 1.5 || !seen.CameraOptional {
		t.Fatalf("snapshot not forwarded: %+v", seen)
	}
	if len(drv.Actions()) != 1 {
		t.Fatalf("expected one applied action")
	}
}

func TestStepTreatsSourceErrorAsUnknown(t *testing.T) {
	var seen perception.Snapshot
	brain := tickerFunc(func(_ context.Context, snap perception.Snapshot) action.Action {
		seen = snap
		return action.Idle()
	})
	r := New(Config{}, failingSource{}, brain, nil, &recordingDriver{fail: true})
	r.Step(context.Background())
	if _, ok := seen.Distance("front"); ok {
		t.Fatalf("failed snapshot should carry no distances")
	}
}

func TestRunTicksDrainsAndStopsOnShutdown(t *testing.T) {
	drv := &recordingDriver{}
	w := &countingWorker{}
	var ticks atomic.Int64
	brain := tickerFunc(func(context.Context, perception.Snapshot) action.Action {
		ticks.Add(1)
		return action.Move(0.1, 0, "cruise")
	})
	r := New(Config{TickInterval: 5 * time.Millisecond, PollInterval: 5 * time.Millisecond}, nil, brain, w, drv)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if ticks.Load() == 0 || w.calls.Load() == 0 {
		t.Fatalf("expected ticks and drains, got ticks=%d drains=%d", ticks.Load(), w.calls.Load())
	}
	acts := drv.Actions()
	last := acts[len(acts)-1]
	if last.Kind != action.KindStop || last.Reason != "shutdown" {
		t.Fatalf("expected final shutdown stop, got %s", last)
	}
}

func TestLogDriverSkipsRepeats(t *testing.T) {
	d := &LogDriver{}
	for i := 0; i < 3; i++ {
		if err := d.Apply(context.Background(), action.Stop("estop active")); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
	}
	if d.last.Reason != "estop active" {
		t.Fatalf("last action not tracked")
	}
}
