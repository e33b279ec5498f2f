// Package capability defines the contract for long-running work units and the
// registry the task queue selects them from.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/pilot/internal/task"
)

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

var ErrDuplicate = errors.New("capability already registered")

// Capability executes tasks of the kinds it declares. Execute is the only
// blocking call; it should return promptly once ctx is done.
type Capability interface {
	Name() string
	Kinds() []string
	CanHandle(t task.Task) bool
	Estimate(t task.Task) time.Duration
	Execute(ctx context.Context, t task.Task) (map[string]any, error)
	Health() Health
}

type Health struct {
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Kinds  []string `json:"kinds"`
}

// Spec is the static registration data of a capability.
type Spec struct {
	Name     string
	Kinds    []string
	Estimate func(task.Task) time.Duration
}

// Base implements everything but Execute from a Spec. Embed it.
type Base struct {
	spec  Spec
	kinds map[string]struct{}
}

func NewBase(spec Spec) Base {
	kinds := make(map[string]struct{}, len(spec.Kinds))
	for _, k := range spec.Kinds {
		kinds[strings.TrimSpace(k)] = struct{}{}
	}
	return Base{spec: spec, kinds: kinds}
}

func (b Base) Name() string { return b.spec.Name }

func (b Base) Kinds() []string {
	out := make([]string, len(b.spec.Kinds))
	copy(out, b.spec.Kinds)
	return out
}

func (b Base) CanHandle(t task.Task) bool {
	_, ok := b.kinds[t.Kind]
	return ok
}

func (b Base) Estimate(t task.Task) time.Duration {
	if b.spec.Estimate == nil {
		return 0
	}
	return b.spec.Estimate(t)
}

func (b Base) Health() Health {
	return Health{Name: b.spec.Name, Status: HealthOK, Kinds: b.Kinds()}
}

// Registry holds capabilities in registration order. It is filled at startup
// and only read afterwards.
type Registry struct {
	mu     sync.RWMutex
	order  []Capability
	byName map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Capability)}
}

func (r *Registry) Register(c Capability) error {
	if c == nil || strings.TrimSpace(c.Name()) == "" {
		return errors.New("capability requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[c.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, c.Name())
	}
	r.byName[c.Name()] = c
	r.order = append(r.order, c)
	return nil
}

func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// All returns the capabilities in registration order.
func (r *Registry) All() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, len(r.order))
	copy(out, r.order)
	return out
}

// Accepts reports whether any registered capability declares kind.
func (r *Registry) Accepts(kind string) bool {
	probe := task.Task{Kind: kind}
	for _, c := range r.All() {
		if c.CanHandle(probe) {
			return true
		}
	}
	return false
}

func (r *Registry) Health() []Health {
	all := r.All()
	out := make([]Health, 0, len(all))
	for _, c := range all {
		out = append(out, c.Health())
	}
	return out
}
