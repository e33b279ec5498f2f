// Package session holds the shared runtime signals that capabilities, the
// HTTP gateway and the orchestrator exchange. One State is created at startup
// and passed explicitly to every component that needs it.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/example/pilot/internal/action"
)

// Signals is a point-in-time copy of State.
type Signals struct {
	Estop      bool
	Vetoes     map[string]string
	Activity   string
	Directive  *action.Action
	Flags      map[string]bool
	ObservedAt time.Time
}

type State struct {
	mu         sync.RWMutex
	estop      bool
	vetoes     map[string]string
	activities []string
	directive  *action.Action
	flags      map[string]bool
}

func New() *State {
	return &State{
		vetoes: make(map[string]string),
		flags:  make(map[string]bool),
	}
}

func (s *State) SetEstop(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estop = active
}

func (s *State) Estop() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.estop
}

// Veto records an operator or collaborator veto under name until cleared.
func (s *State) Veto(name, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vetoes[name] = reason
}

func (s *State) ClearVeto(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vetoes, name)
}

// BeginActivity marks a long-running activity as in progress. The returned
// func ends it; calling it more than once is harmless.
func (s *State) BeginActivity(name string) func() {
	s.mu.Lock()
	s.activities = append(s.activities, name)
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i := len(s.activities) - 1; i >= 0; i-- {
				if s.activities[i] == name {
					s.activities = append(s.activities[:i], s.activities[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *State) SetDirective(a action.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directive = &a
}

func (s *State) ClearDirective() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directive = nil
}

// SetFlag publishes a boolean runtime flag (e.g. charger_present) for policy
// evaluation.
func (s *State) SetFlag(name string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = v
}

func (s *State) Signals() Signals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Signals{
		Estop:      s.estop,
		Vetoes:     make(map[string]string, len(s.vetoes)),
		Flags:      make(map[string]bool, len(s.flags)),
		ObservedAt: time.Now(),
	}
	for k, v := range s.vetoes {
		out.Vetoes[k] = v
	}
	for k, v := range s.flags {
		out.Flags[k] = v
	}
	if len(s.activities) > 0 {
		out.Activity = s.activities[0]
	}
	if s.directive != nil {
		d := *s.directive
		out.Directive = &d
	}
	return out
}

// VetoNames returns recorded veto names sorted, so the first veto is stable.
func (sig Signals) VetoNames() []string {
	names := make([]string, 0, len(sig.Vetoes))
	for k := range sig.Vetoes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
