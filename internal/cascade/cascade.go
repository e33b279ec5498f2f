// Package cascade arbitrates, once per control tick, between the orchestrator,
// the safety gate, a fast per-tick decision source and a slow escalation
// source. Every tick yields exactly one action.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/observability"
	"github.com/example/pilot/internal/perception"
)

const (
	TierSwarm    = "swarm"
	TierReactive = "reactive"
	TierFast     = "fast"
	TierPlanner  = "planner"
)

const DefaultTierTimeout = 50 * time.Millisecond

var ErrTierTimeout = errors.New("decision tier exceeded its latency budget")

// Arbiter is the optional top tier. Idle means pass through.
type Arbiter interface {
	SyncThink(snap perception.Snapshot) action.Action
}

// Gate is the reactive override tier.
type Gate interface {
	Evaluate(snap perception.Snapshot) (action.Action, bool)
}

// Source is a fast or slow decision source. ok=false means it has no action
// for this tick.
type Source interface {
	Decide(ctx context.Context, snap perception.Snapshot) (a action.Action, ok bool, err error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, snap perception.Snapshot) (action.Action, bool, error)

func (f SourceFunc) Decide(ctx context.Context, snap perception.Snapshot) (action.Action, bool, error) {
	return f(ctx, snap)
}

type Options struct {
	Orchestrator Arbiter
	Gate         Gate
	Fast         Source
	Slow         Source
	// EscalateEvery invokes the slow tier every N ticks; 0 disables the
	// periodic trigger.
	EscalateEvery int
	TierTimeout   time.Duration
}

// Stats counts which tier decided each tick. Reactive+Fast+Planner+Swarm
// always equals Total.
type Stats struct {
	Reactive uint64 `json:"reactive_count"`
	Fast     uint64 `json:"fast_count"`
	Planner  uint64 `json:"planner_count"`
	Swarm    uint64 `json:"swarm_count"`
	Total    uint64 `json:"total_ticks"`
}

// Breakdown returns each tier's share of Total in percent.
func (s Stats) Breakdown() map[string]float64 {
	out := map[string]float64{TierReactive: 0, TierFast: 0, TierPlanner: 0, TierSwarm: 0}
	if s.Total == 0 {
		return out
	}
	total := float64(s.Total)
	out[TierReactive] = float64(s.Reactive) / total * 100
	out[TierFast] = float64(s.Fast) / total * 100
	out[TierPlanner] = float64(s.Planner) / total * 100
	out[TierSwarm] = float64(s.Swarm) / total * 100
	return out
}

type Cascade struct {
	opts Options

	tickMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
	last    Decision
}

// Decision is the outcome of one tick, kept for telemetry.
type Decision struct {
	Tick      uint64        `json:"tick"`
	Tier      string        `json:"tier"`
	Action    action.Action `json:"action"`
	Escalated bool          `json:"escalated"`
}

func New(opts Options) *Cascade {
	if opts.TierTimeout <= 0 {
		opts.TierTimeout = DefaultTierTimeout
	}
	if opts.EscalateEvery < 0 {
		opts.EscalateEvery = 0
	}
	return &Cascade{opts: opts}
}

// Tick runs one decision cycle. Concurrent calls are serialized.
func (c *Cascade) Tick(ctx context.Context, snap perception.Snapshot) action.Action {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	ctx, span := observability.StartSpan(ctx, "cascade.tick")
	defer span.End()

	c.statsMu.Lock()
	tick := c.stats.Total + 1
	c.statsMu.Unlock()

	if c.opts.Orchestrator != nil {
		if a := c.syncThink(snap); !a.IsIdle() {
			return c.record(span.SetAttributes, Decision{Tick: tick, Tier: TierSwarm, Action: a})
		}
	}
	if c.opts.Gate != nil {
		if a, ok := c.opts.Gate.Evaluate(snap); ok {
			return c.record(span.SetAttributes, Decision{Tick: tick, Tier: TierReactive, Action: a})
		}
	}

	fast, fastOK := c.consult(ctx, TierFast, c.opts.Fast, snap)
	periodic := c.opts.EscalateEvery > 0 && tick%uint64(c.opts.EscalateEvery) == 0
	if c.opts.Slow != nil && (periodic || !fastOK) {
		if slow, ok := c.consult(ctx, TierPlanner, c.opts.Slow, snap); ok {
			return c.record(span.SetAttributes, Decision{Tick: tick, Tier: TierPlanner, Action: slow, Escalated: true})
		}
	}
	if !fastOK {
		fast = action.Idle()
	}
	return c.record(span.SetAttributes, Decision{Tick: tick, Tier: TierFast, Action: fast, Escalated: periodic || !fastOK})
}

func (c *Cascade) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Cascade) Last() Decision {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.last
}

func (c *Cascade) record(setAttrs func(...attribute.KeyValue), d Decision) action.Action {
	c.statsMu.Lock()
	switch d.Tier {
	case TierSwarm:
		c.stats.Swarm++
	case TierReactive:
		c.stats.Reactive++
	case TierPlanner:
		c.stats.Planner++
	default:
		c.stats.Fast++
	}
	c.stats.Total++
	c.last = d
	c.statsMu.Unlock()

	observability.Default.IncCounter("cascade_ticks_total", map[string]string{"tier": d.Tier}, 1)
	setAttrs(
		attribute.String("cascade.tier", d.Tier),
		attribute.String("action.kind", string(d.Action.Kind)),
		attribute.Bool("cascade.escalated", d.Escalated),
	)
	return d.Action
}

func (c *Cascade) syncThink(snap perception.Snapshot) (a action.Action) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("cascade: orchestrator panic, passing through: %v", r)
			observability.Default.IncCounter("cascade_tier_errors_total", map[string]string{"tier": TierSwarm}, 1)
			a = action.Idle()
		}
	}()
	return c.opts.Orchestrator.SyncThink(snap)
}

type outcome struct {
	a   action.Action
	ok  bool
	err error
}

// consult calls src within the tier latency budget. An error, a panic or a
// late answer counts as "no usable action".
func (c *Cascade) consult(ctx context.Context, tier string, src Source, snap perception.Snapshot) (action.Action, bool) {
	if src == nil {
		return action.Idle(), false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.TierTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s tier panic: %v", tier, r)}
			}
		}()
		a, ok, err := src.Decide(ctx, snap)
		done <- outcome{a: a, ok: ok, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		res = outcome{err: ErrTierTimeout}
	}
	if res.err != nil {
		log.Printf("cascade: %s tier failed: %v", tier, res.err)
		name := "cascade_tier_errors_total"
		if tier == TierPlanner {
			name = "cascade_escalation_errors_total"
		}
		observability.Default.IncCounter(name, map[string]string{"tier": tier}, 1)
		return action.Idle(), false
	}
	if !res.ok {
		return action.Idle(), false
	}
	return res.a, true
}
