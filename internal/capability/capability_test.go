package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/pilot/internal/task"
)

type echo struct {
	Base
}

func (echo) Execute(_ context.Context, t task.Task) (map[string]any, error) {
	return map[string]any{"goal": t.Goal}, nil
}

func TestBaseCanHandleAndEstimate(t *testing.T) {
	c := echo{Base: NewBase(Spec{
		Name:     "echo",
		Kinds:    []string{"say", "shout"},
		Estimate: func(t task.Task) time.Duration { return time.Duration(len(t.Goal)) * time.Second },
	})}
	if !c.CanHandle(task.Task{Kind: "say"}) {
		t.Fatalf("expected say to be handled")
	}
	if c.CanHandle(task.Task{Kind: "dock"}) {
		t.Fatalf("did not expect dock to be handled")
	}
	if got := c.Estimate(task.Task{Goal: "abc"}); got != 3*time.Second {
		t.Fatalf("unexpected estimate: %s", got)
	}
	h := c.Health()
	if h.Name != "echo" || h.Status != HealthOK || len(h.Kinds) != 2 {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestRegistryKeepsOrderAndRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	a := echo{Base: NewBase(Spec{Name: "a", Kinds: []string{"x"}})}
	b := echo{Base: NewBase(Spec{Name: "b", Kinds: []string{"y"}})}
	if err := r.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(b); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := r.Register(a); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	all := r.All()
	if len(all) != 2 || all[0].Name() != "a" || all[1].Name() != "b" {
		t.Fatalf("unexpected registration order: %+v", all)
	}
	if !r.Accepts("y") || r.Accepts("z") {
		t.Fatalf("unexpected Accepts result")
	}
	if _, ok := r.Get("b"); !ok {
		t.Fatalf("expected b to be found")
	}
}
