package cascade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/orchestrator"
	"github.com/example/pilot/internal/perception"
	"github.com/example/pilot/internal/safety"
	"github.com/example/pilot/internal/session"
)

type fixedArbiter struct{ a action.Action }

func (f fixedArbiter) SyncThink(perception.Snapshot) action.Action { return f.a }

type gateFunc func(perception.Snapshot) (action.Action, bool)

func (g gateFunc) Evaluate(s perception.Snapshot) (action.Action, bool) { return g(s) }

type countingSource struct {
	mu    sync.Mutex
	calls int
	fn    func(n int) (action.Action, bool, error)
}

func (c *countingSource) Decide(ctx context.Context, _ perception.Snapshot) (action.Action, bool, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	return c.fn(n)
}

func (c *countingSource) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func always(a action.Action) *countingSource {
	return &countingSource{fn: func(int) (action.Action, bool, error) { return a, true, nil }}
}

func never() *countingSource {
	return &countingSource{fn: func(int) (action.Action, bool, error) { return action.Idle(), false, nil }}
}

func checkSum(t *testing.T, s Stats) {
	t.Helper()
	if s.Reactive+s.Fast+s.Planner+s.Swarm != s.Total {
		t.Fatalf("tier counts do not sum to total: %+v", s)
	}
}

func TestOrchestratorBeatsEveryTier(t *testing.T) {
	fast := always(action.Move(0.5, 0, "cruise"))
	c := New(Options{
		Orchestrator: fixedArbiter{a: action.Stop("estop active")},
		Gate:         gateFunc(func(perception.Snapshot) (action.Action, bool) { return action.Stop("obstacle"), true }),
		Fast:         fast,
	})
	got := c.Tick(context.Background(), perception.Snapshot{})
	if got.Kind != action.KindStop || got.Reason != "estop active" {
		t.Fatalf("expected estop stop, got %s", got)
	}
	if fast.Calls() != 0 {
		t.Fatalf("fast tier should not run when orchestrator decides")
	}
	s := c.Stats()
	if s.Swarm != 1 || s.Total != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if c.Last().Tier != TierSwarm {
		t.Fatalf("expected swarm tier, got %q", c.Last().Tier)
	}
}

func TestIdleOrchestratorPassesThroughToGate(t *testing.T) {
	c := New(Options{
		Orchestrator: fixedArbiter{a: action.Idle()},
		Gate:         gateFunc(func(perception.Snapshot) (action.Action, bool) { return action.Stop("obstacle at 0.10m"), true }),
		Fast:         always(action.Move(0.5, 0, "cruise")),
	})
	got := c.Tick(context.Background(), perception.Snapshot{})
	if got.Reason != "obstacle at 0.10m" {
		t.Fatalf("expected gate stop, got %s", got)
	}
	if s := c.Stats(); s.Reactive != 1 || s.Swarm != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestNoFastActionEscalatesSameTick(t *testing.T) {
	slow := always(action.Move(0.1, 0.3, "plan"))
	c := New(Options{Fast: never(), Slow: slow})
	got := c.Tick(context.Background(), perception.Snapshot{})
	if got.Reason != "plan" {
		t.Fatalf("expected planner action, got %s", got)
	}
	if slow.Calls() != 1 {
		t.Fatalf("expected one slow call, got %d", slow.Calls())
	}
	if s := c.Stats(); s.Planner != 1 || s.Fast != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestFastOnlyCountsEveryTickAsFast(t *testing.T) {
	c := New(Options{Fast: always(action.Move(0.4, 0, "cruise"))})
	for i := 0; i < 12; i++ {
		if got := c.Tick(context.Background(), perception.Snapshot{}); got.Kind != action.KindMove {
			t.Fatalf("tick %d: expected move, got %s", i, got)
		}
	}
	s := c.Stats()
	if s.Fast != 12 || s.Reactive != 0 || s.Total != 12 {
		t.Fatalf("unexpected stats %+v", s)
	}
	b := s.Breakdown()
	if b[TierFast] != 100 || b[TierPlanner] != 0 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
}

func TestNothingDecidedIsIdleFastTick(t *testing.T) {
	c := New(Options{})
	if got := c.Tick(context.Background(), perception.Snapshot{}); !got.IsIdle() {
		t.Fatalf("expected idle, got %s", got)
	}
	if s := c.Stats(); s.Fast != 1 || s.Total != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestEscalationErrorIsNotFatal(t *testing.T) {
	slow := &countingSource{fn: func(int) (action.Action, bool, error) {
		return action.Action{}, false, errors.New("provider unreachable")
	}}
	c := New(Options{Fast: always(action.Move(0.2, 0, "cruise")), Slow: slow, EscalateEvery: 1})
	got := c.Tick(context.Background(), perception.Snapshot{})
	if got.Reason != "cruise" {
		t.Fatalf("expected fast fallback, got %s", got)
	}
	if slow.Calls() != 1 {
		t.Fatalf("slow tier should have been consulted")
	}
	if s := c.Stats(); s.Fast != 1 || s.Planner != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestPeriodicEscalation(t *testing.T) {
	slow := always(action.Move(0, 0.5, "replan"))
	c := New(Options{Fast: always(action.Move(0.3, 0, "cruise")), Slow: slow, EscalateEvery: 3})
	for i := 0; i < 9; i++ {
		c.Tick(context.Background(), perception.Snapshot{})
	}
	if slow.Calls() != 3 {
		t.Fatalf("expected 3 slow calls, got %d", slow.Calls())
	}
	s := c.Stats()
	if s.Planner != 3 || s.Fast != 6 {
		t.Fatalf("unexpected stats %+v", s)
	}
	checkSum(t, s)
}

func TestPeriodicAndNoActionInvokeSlowOnce(t *testing.T) {
	slow := never()
	c := New(Options{Fast: never(), Slow: slow, EscalateEvery: 1})
	c.Tick(context.Background(), perception.Snapshot{})
	if slow.Calls() != 1 {
		t.Fatalf("expected a single slow call, got %d", slow.Calls())
	}
}

func TestSlowTierTimeout(t *testing.T) {
	slow := SourceFunc(func(ctx context.Context, _ perception.Snapshot) (action.Action, bool, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return action.Move(1, 0, "late"), true, nil
	})
	c := New(Options{Fast: never(), Slow: slow, TierTimeout: 10 * time.Millisecond})
	start := time.Now()
	got := c.Tick(context.Background(), perception.Snapshot{})
	if !got.IsIdle() {
		t.Fatalf("expected idle after timeout, got %s", got)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("tick blocked on slow tier")
	}
}

func TestPanickingSourcesAreContained(t *testing.T) {
	fast := SourceFunc(func(context.Context, perception.Snapshot) (action.Action, bool, error) {
		panic("sensor fusion bug")
	})
	c := New(Options{Fast: fast})
	if got := c.Tick(context.Background(), perception.Snapshot{}); !got.IsIdle() {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestConcurrentTicksKeepAccounting(t *testing.T) {
	c := New(Options{
		Gate: gateFunc(func(s perception.Snapshot) (action.Action, bool) {
			if s.Flag(perception.FlagBatteryCritical) {
				return action.Stop("battery critical"), true
			}
			return action.Idle(), false
		}),
		Fast: always(action.Move(0.3, 0, "cruise")),
	})
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := perception.Snapshot{Flags: map[string]bool{perception.FlagBatteryCritical: i%4 == 0}}
			c.Tick(context.Background(), snap)
		}(i)
	}
	wg.Wait()
	s := c.Stats()
	if s.Total != 40 || s.Reactive != 10 || s.Fast != 30 {
		t.Fatalf("unexpected stats %+v", s)
	}
	checkSum(t, s)
}

func TestDirectiveYieldsToGateHazards(t *testing.T) {
	st := session.New()
	orch := orchestrator.New(st, nil)
	gate := safety.New(safety.DefaultConfig(), nil)
	orch.GuardDirectives(gate)
	c := New(Options{Orchestrator: orch, Gate: gate, Fast: always(action.Move(0.25, 0, "cruise"))})

	st.SetDirective(action.Move(0.05, 0, "docking"))
	cases := []struct {
		name string
		snap perception.Snapshot
		want string
	}{
		{"close obstacle", perception.Snapshot{CameraOptional: true, Distances: map[string]float64{"front": 0.1}}, "obstacle at 0.10m"},
		{"battery critical", perception.Snapshot{CameraOptional: true, Flags: map[string]bool{perception.FlagBatteryCritical: true}}, "battery critical"},
	}
	for _, tc := range cases {
		got := c.Tick(context.Background(), tc.snap)
		if got.Kind != action.KindStop || got.Reason != tc.want {
			t.Fatalf("%s: expected stop(%s), got %s", tc.name, tc.want, got)
		}
		if c.Last().Tier != TierReactive {
			t.Fatalf("%s: expected reactive tier, got %s", tc.name, c.Last().Tier)
		}
	}

	got := c.Tick(context.Background(), perception.Snapshot{CameraOptional: true, Distances: map[string]float64{"front": 2}})
	if got.Kind != action.KindMove || got.Reason != "docking" || c.Last().Tier != TierSwarm {
		t.Fatalf("expected directive once clear, got %s via %s", got, c.Last().Tier)
	}
	s := c.Stats()
	if s.Reactive != 2 || s.Swarm != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}
