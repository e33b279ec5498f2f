// Package specialists provides the built-in capabilities. Each one drives the
// robot only through the shared session state, so the orchestrator tier stays
// the single place where their intent turns into actions.
package specialists

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/artifact"
	"github.com/example/pilot/internal/capability"
	"github.com/example/pilot/internal/cascade"
	"github.com/example/pilot/internal/session"
	"github.com/example/pilot/internal/task"
	"github.com/example/pilot/internal/taskqueue"
)

const (
	ActivityManipulation = "manipulation"
	FlagDocked           = "docked"

	dockPoll = 20 * time.Millisecond
)

// seconds reads params["seconds"], falling back when absent or invalid.
func seconds(t task.Task, fallback time.Duration) time.Duration {
	raw := t.Param("seconds", "")
	if raw == "" {
		return fallback
	}
	s, err := strconv.ParseFloat(raw, 64)
	if err != nil || s < 0 {
		return fallback
	}
	return time.Duration(s * float64(time.Second))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Grasp struct {
	capability.Base
	state *session.State
}

func NewGrasp(state *session.State) *Grasp {
	return &Grasp{
		Base: capability.NewBase(capability.Spec{
			Name:     "grasp",
			Kinds:    []string{"grasp", "pick"},
			Estimate: func(t task.Task) time.Duration { return seconds(t, 2*time.Second) },
		}),
		state: state,
	}
}

func (g *Grasp) Execute(ctx context.Context, t task.Task) (map[string]any, error) {
	end := g.state.BeginActivity(ActivityManipulation)
	defer end()
	if err := sleep(ctx, seconds(t, 2*time.Second)); err != nil {
		return nil, err
	}
	object := t.Param("object", t.Goal)
	return map[string]any{"object": object, "grasped": true}, nil
}

// Dock creeps forward until the docked flag is raised or the time runs out.
type Dock struct {
	capability.Base
	state *session.State
	speed float64
}

func NewDock(state *session.State) *Dock {
	return &Dock{
		Base: capability.NewBase(capability.Spec{
			Name:     "dock",
			Kinds:    []string{"dock"},
			Estimate: func(t task.Task) time.Duration { return seconds(t, 5*time.Second) },
		}),
		state: state,
		speed: 0.05,
	}
}

func (d *Dock) Execute(ctx context.Context, t task.Task) (map[string]any, error) {
	d.state.SetDirective(action.Move(d.speed, 0, "docking"))
	defer d.state.ClearDirective()

	budget := seconds(t, 5*time.Second)
	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	tick := time.NewTicker(dockPoll)
	defer tick.Stop()
	start := time.Now()
	for {
		if d.state.Signals().Flags[FlagDocked] {
			return map[string]any{"docked": true, "elapsed_ms": time.Since(start).Milliseconds()}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("dock not reached within %s", budget)
		case <-tick.C:
		}
	}
}

type Explore struct {
	capability.Base
	state   *session.State
	angular float64
}

func NewExplore(state *session.State) *Explore {
	return &Explore{
		Base: capability.NewBase(capability.Spec{
			Name:     "explore",
			Kinds:    []string{"explore"},
			Estimate: func(t task.Task) time.Duration { return seconds(t, 10*time.Second) },
		}),
		state:   state,
		angular: 0.5,
	}
}

func (e *Explore) Execute(ctx context.Context, t task.Task) (map[string]any, error) {
	d := seconds(t, 10*time.Second)
	e.state.SetDirective(action.Move(0, e.angular, "exploring"))
	defer e.state.ClearDirective()
	if err := sleep(ctx, d); err != nil {
		return nil, err
	}
	return map[string]any{"explored_seconds": d.Seconds()}, nil
}

// Report snapshots cascade and queue telemetry into an artifact.
type Report struct {
	capability.Base
	stats func() cascade.Stats
	queue func() taskqueue.Status
	store artifact.Store
	now   func() time.Time
}

func NewReport(stats func() cascade.Stats, queue func() taskqueue.Status, store artifact.Store) *Report {
	return &Report{
		Base: capability.NewBase(capability.Spec{
			Name:     "report",
			Kinds:    []string{"report"},
			Estimate: func(task.Task) time.Duration { return 100 * time.Millisecond },
		}),
		stats: stats,
		queue: queue,
		store: store,
		now:   time.Now,
	}
}

type reportDoc struct {
	TaskID      string             `json:"task_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Cascade     cascade.Stats      `json:"cascade"`
	Breakdown   map[string]float64 `json:"breakdown"`
	Queue       taskqueue.Status   `json:"queue"`
}

func (r *Report) Execute(ctx context.Context, t task.Task) (map[string]any, error) {
	doc := reportDoc{TaskID: t.ID, GeneratedAt: r.now().UTC()}
	if r.stats != nil {
		doc.Cascade = r.stats()
		doc.Breakdown = doc.Cascade.Breakdown()
	}
	if r.queue != nil {
		doc.Queue = r.queue()
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	if r.store == nil {
		return map[string]any{"report": string(body)}, nil
	}
	uri, err := r.store.Put(ctx, t.Param("name", "reports/"+t.ID+".json"), body)
	if err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	return map[string]any{"uri": uri, "total_ticks": doc.Cascade.Total}, nil
}

// Register adds caps to reg in order, stopping at the first error.
func Register(reg *capability.Registry, caps ...capability.Capability) error {
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
