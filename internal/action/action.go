// Package action defines the single command a control tick hands to the
// actuation layer.
package action

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindIdle Kind = "idle"
	KindStop Kind = "stop"
	KindMove Kind = "move"
	KindWait Kind = "wait"
)

// Action is a closed variant; only the constructors below build one. The zero
// value is Idle.
type Action struct {
	Kind     Kind          `json:"kind"`
	Linear   float64       `json:"linear,omitempty"`
	Angular  float64       `json:"angular,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

func Stop(reason string) Action {
	return Action{Kind: KindStop, Reason: reason}
}

func Move(linear, angular float64, reason string) Action {
	return Action{Kind: KindMove, Linear: linear, Angular: angular, Reason: reason}
}

func Wait(d time.Duration, reason string) Action {
	return Action{Kind: KindWait, Duration: d, Reason: reason}
}

func Idle() Action {
	return Action{Kind: KindIdle}
}

// IsIdle reports whether a carries no command. The empty Kind counts as idle.
func (a Action) IsIdle() bool {
	return a.Kind == "" || a.Kind == KindIdle
}

func (a Action) String() string {
	switch a.Kind {
	case KindStop:
		return fmt.Sprintf("stop(%s)", a.Reason)
	case KindMove:
		return fmt.Sprintf("move(linear=%.2f angular=%.2f %s)", a.Linear, a.Angular, a.Reason)
	case KindWait:
		return fmt.Sprintf("wait(%s %s)", a.Duration, a.Reason)
	default:
		return "idle"
	}
}

// Parse maps a kind name back to a Kind, as used by wire formats.
func Parse(kind string) (Kind, error) {
	switch Kind(kind) {
	case KindIdle, KindStop, KindMove, KindWait:
		return Kind(kind), nil
	case "":
		return KindIdle, nil
	default:
		return "", fmt.Errorf("unknown action kind %q", kind)
	}
}
