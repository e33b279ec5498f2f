package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/perception"
)

var ErrBadReply = errors.New("planner reply is not a valid action")

const systemPrompt = `You are the deliberative planner of a small mobile robot.
You receive the current perception snapshot and reply with exactly one next action.

Return ONLY a JSON object with this structure:
{"action": "move|stop|wait|idle", "linear": <m/s>, "angular": <rad/s>, "seconds": <wait seconds>, "reason": "<short explanation>"}

Use "idle" when you have no better suggestion than the reflex layer.`

// Planner is the slow decision tier. It asks a Provider for the next action
// and turns the reply into an action.Action.
type Planner struct {
	provider   Provider
	goal       string
	maxLinear  float64
	maxAngular float64
}

type Option func(*Planner)

// WithGoal sets a standing goal included in every prompt.
func WithGoal(goal string) Option {
	return func(p *Planner) { p.goal = strings.TrimSpace(goal) }
}

// WithLimits clamps the velocities a reply may request.
func WithLimits(linear, angular float64) Option {
	return func(p *Planner) {
		p.maxLinear = linear
		p.maxAngular = angular
	}
}

func New(provider Provider, opts ...Option) *Planner {
	p := &Planner{provider: provider, maxLinear: 0.5, maxAngular: 1.5}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planner) Decide(ctx context.Context, snap perception.Snapshot) (action.Action, bool, error) {
	if p.provider == nil {
		return action.Idle(), false, nil
	}
	reply, err := p.provider.Next(ctx, Prompt{System: systemPrompt, User: describe(snap, p.goal)})
	if err != nil {
		return action.Action{}, false, fmt.Errorf("planner provider: %w", err)
	}
	a, err := ParseReply(reply)
	if err != nil {
		return action.Action{}, false, err
	}
	if a.IsIdle() {
		return a, false, nil
	}
	a.Linear = clamp(a.Linear, p.maxLinear)
	a.Angular = clamp(a.Angular, p.maxAngular)
	return a, true, nil
}

// ParseReply extracts an action from a model reply, tolerating markdown
// fences around the JSON object.
func ParseReply(reply string) (action.Action, error) {
	text := stripJSONFences(reply)
	if !gjson.Valid(text) {
		return action.Action{}, fmt.Errorf("%w: %q", ErrBadReply, truncate(text, 120))
	}
	doc := gjson.Parse(text)
	kind, err := action.Parse(strings.ToLower(strings.TrimSpace(doc.Get("action").String())))
	if err != nil {
		return action.Action{}, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	reason := doc.Get("reason").String()
	if reason == "" {
		reason = "planner"
	}
	switch kind {
	case action.KindMove:
		return action.Move(doc.Get("linear").Float(), doc.Get("angular").Float(), reason), nil
	case action.KindStop:
		return action.Stop(reason), nil
	case action.KindWait:
		secs := doc.Get("seconds").Float()
		if secs <= 0 {
			secs = 1
		}
		return action.Wait(time.Duration(secs*float64(time.Second)), reason), nil
	default:
		return action.Idle(), nil
	}
}

func describe(snap perception.Snapshot, goal string) string {
	var b strings.Builder
	if goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", goal)
	}
	b.WriteString("Distances (m):")
	if len(snap.Distances) == 0 {
		b.WriteString(" unknown")
	}
	for _, k := range sortedKeys(snap.Distances) {
		fmt.Fprintf(&b, " %s=%.2f", k, snap.Distances[k])
	}
	b.WriteString("\nFlags:")
	n := 0
	for _, k := range sortedKeys(snap.Flags) {
		if snap.Flags[k] {
			fmt.Fprintf(&b, " %s", k)
			n++
		}
	}
	if n == 0 {
		b.WriteString(" none")
	}
	switch {
	case snap.Frame == nil:
		b.WriteString("\nCamera: no frame")
	default:
		fmt.Fprintf(&b, "\nCamera: %dx%d frame", snap.Frame.Width, snap.Frame.Height)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// stripJSONFences removes markdown code fences models sometimes add.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
