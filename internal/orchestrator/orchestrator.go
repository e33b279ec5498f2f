// Package orchestrator resolves the standing runtime signals (estop, policy
// vetoes, in-flight activities, navigation directives) into one action ahead
// of the fast and slow decision tiers.
package orchestrator

import (
	"time"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/perception"
	"github.com/example/pilot/internal/policy"
	"github.com/example/pilot/internal/session"
)

const DefaultActivityWait = 250 * time.Millisecond

type Inputs struct {
	Estop              bool
	Vetoes             []policy.Veto
	Activity           string
	ActivityInProgress bool
	Directive          *action.Action
	// DirectiveBlocked holds the directive back for this tick, leaving the
	// decision to the tiers below.
	DirectiveBlocked bool
}

// Guard reports whether a snapshot calls for an override. *safety.Gate
// satisfies it.
type Guard interface {
	Evaluate(snap perception.Snapshot) (action.Action, bool)
}

// Resolve applies the fixed precedence estop, veto, activity, directive.
// Idle means "no opinion".
func Resolve(in Inputs, activityWait time.Duration) action.Action {
	switch {
	case in.Estop:
		return action.Stop("estop active")
	case len(in.Vetoes) > 0:
		v := in.Vetoes[0]
		name := v.Rule
		if name == "" {
			name = v.Reason
		}
		return action.Stop("vetoed by " + name + ": " + v.Reason)
	case in.ActivityInProgress:
		return action.Wait(activityWait, in.Activity+" in progress")
	case in.Directive != nil && !in.DirectiveBlocked:
		return *in.Directive
	default:
		return action.Idle()
	}
}

type Orchestrator struct {
	state        *session.State
	policy       *policy.Engine
	guard        Guard
	activityWait time.Duration
}

func New(state *session.State, p *policy.Engine) *Orchestrator {
	if state == nil {
		state = session.New()
	}
	if p == nil {
		p = policy.NewAllowAll()
	}
	return &Orchestrator{state: state, policy: p, activityWait: DefaultActivityWait}
}

// GuardDirectives makes directives yield to g: while g would override a
// snapshot the directive is withheld, so the tick falls through to the gate
// tier instead of driving on.
func (o *Orchestrator) GuardDirectives(g Guard) {
	o.guard = g
}

// SyncThink gathers the current signals and resolves them. Session vetoes
// come before policy vetoes, each group in name/rule order.
func (o *Orchestrator) SyncThink(snap perception.Snapshot) action.Action {
	return Resolve(o.Inputs(snap), o.activityWait)
}

func (o *Orchestrator) Inputs(snap perception.Snapshot) Inputs {
	sig := o.state.Signals()
	in := Inputs{
		Estop:              sig.Estop,
		Activity:           sig.Activity,
		ActivityInProgress: sig.Activity != "",
		Directive:          sig.Directive,
	}
	for _, name := range sig.VetoNames() {
		in.Vetoes = append(in.Vetoes, policy.Veto{Rule: name, Reason: sig.Vetoes[name]})
	}
	flags := make(map[string]bool, len(sig.Flags)+len(snap.Flags))
	for k, v := range sig.Flags {
		flags[k] = v
	}
	for k, v := range snap.Flags {
		flags[k] = v
	}
	in.Vetoes = append(in.Vetoes, o.policy.Vetoes(policy.VetoInput{Flags: flags, Activity: sig.Activity})...)
	if in.Directive != nil && o.guard != nil {
		_, in.DirectiveBlocked = o.guard.Evaluate(snap)
	}
	return in
}
