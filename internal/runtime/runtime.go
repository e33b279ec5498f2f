// Package runtime drives the control loop: it feeds perception snapshots into
// the decision cascade at a fixed rate, applies the chosen action, and drains
// the task queue in the background.
package runtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/observability"
	"github.com/example/pilot/internal/perception"
	"github.com/example/pilot/internal/task"
)

// Driver is the actuation boundary. Only the runtime calls it.
type Driver interface {
	Apply(ctx context.Context, a action.Action) error
}

// LogDriver logs each action that differs from the previous one.
type LogDriver struct {
	mu   sync.Mutex
	last action.Action
}

func (d *LogDriver) Apply(_ context.Context, a action.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a == d.last {
		return nil
	}
	d.last = a
	log.Printf("drive: %s", a)
	return nil
}

type Ticker interface {
	Tick(ctx context.Context, snap perception.Snapshot) action.Action
}

type Worker interface {
	RunAll(ctx context.Context, maxConcurrent int) []task.Result
}

type Config struct {
	TickInterval  time.Duration
	PollInterval  time.Duration
	MaxConcurrent int
	// CameraOptional is stamped on every snapshot for camera-less setups.
	CameraOptional bool
}

type Runtime struct {
	cfg    Config
	source perception.Source
	brain  Ticker
	queue  Worker
	driver Driver
}

func New(cfg Config, source perception.Source, brain Ticker, queue Worker, driver Driver) *Runtime {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if driver == nil {
		driver = &LogDriver{}
	}
	return &Runtime{cfg: cfg, source: source, brain: brain, queue: queue, driver: driver}
}

// Run blocks until ctx is done, then drives a final stop.
func (r *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if r.queue != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.drain(ctx)
		}()
	}

	t := time.NewTicker(r.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			r.shutdown()
			return nil
		case <-t.C:
			r.step(ctx)
		}
	}
}

// Step runs a single tick. Exposed for bench tools and tests.
func (r *Runtime) Step(ctx context.Context) action.Action {
	return r.step(ctx)
}

func (r *Runtime) step(ctx context.Context) action.Action {
	started := time.Now()
	snap := r.snapshot(ctx)
	a := r.brain.Tick(ctx, snap)
	if err := r.driver.Apply(ctx, a); err != nil {
		log.Printf("apply failed action=%s: %v", a, err)
		observability.Default.IncCounter("runtime_apply_errors_total", nil, 1)
	}
	observability.Default.ObserveDuration("runtime_tick", nil, time.Since(started))
	return a
}

// snapshot treats a failing source as a snapshot where everything is unknown.
func (r *Runtime) snapshot(ctx context.Context) perception.Snapshot {
	if r.source == nil {
		return perception.Snapshot{CameraOptional: r.cfg.CameraOptional, TakenAt: time.Now()}
	}
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		log.Printf("perception failed: %v", err)
		observability.Default.IncCounter("runtime_perception_errors_total", nil, 1)
		snap = perception.Snapshot{TakenAt: time.Now()}
	}
	if r.cfg.CameraOptional {
		snap.CameraOptional = true
	}
	return snap
}

func (r *Runtime) drain(ctx context.Context) {
	t := time.NewTicker(r.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			results := r.queue.RunAll(ctx, r.cfg.MaxConcurrent)
			if len(results) > 0 {
				failed := 0
				for _, res := range results {
					if res.Status != task.StatusSuccess {
						failed++
					}
				}
				log.Printf("ran %d tasks (%d not successful)", len(results), failed)
			}
		}
	}
}

func (r *Runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.driver.Apply(ctx, action.Stop("shutdown")); err != nil {
		log.Printf("final stop failed: %v", err)
	}
}
