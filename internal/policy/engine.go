package policy

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type RuleMatch struct {
	Kind     string `yaml:"kind"`
	Priority int    `yaml:"priority"`
	Flag     string `yaml:"flag"`
	Activity string `yaml:"activity"`
}

type Rule struct {
	Name   string    `yaml:"name"`
	Effect string    `yaml:"effect"` // allow|deny
	Reason string    `yaml:"reason"`
	Match  RuleMatch `yaml:"match"`
}

type Config struct {
	DefaultAction string `yaml:"default_action"` // allow|deny
	Rules         []Rule `yaml:"rules"`
}

type Decision struct {
	Allowed    bool
	ReasonCode string
	Rule       string
	Message    string
}

// Veto is a standing deny that forces the orchestrator to stop.
type Veto struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

type SubmitInput struct {
	Kind     string
	Priority int
	Flags    map[string]bool
	Activity string
}

type VetoInput struct {
	Flags    map[string]bool
	Activity string
}

type Engine struct {
	defaultAction string
	rules         []Rule
	noop          bool
}

func NewAllowAll() *Engine {
	return &Engine{defaultAction: "allow", noop: true}
}

func LoadFile(path string) (*Engine, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewAllowAll(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return NewFromConfig(cfg), nil
}

func NewFromConfig(cfg Config) *Engine {
	e := &Engine{
		defaultAction: normalizeAction(cfg.DefaultAction),
		rules:         make([]Rule, 0, len(cfg.Rules)),
	}
	for _, r := range cfg.Rules {
		r.Effect = normalizeAction(r.Effect)
		if r.Effect == "" {
			r.Effect = "deny"
		}
		e.rules = append(e.rules, r)
	}
	if e.defaultAction == "" {
		e.defaultAction = "allow"
	}
	if e.defaultAction == "allow" && len(e.rules) == 0 {
		e.noop = true
	}
	return e
}

func (e *Engine) IsNoop() bool { return e == nil || e.noop }

// EvaluateSubmit decides whether a task may enter the queue. The first
// matching rule wins; otherwise the default action applies.
func (e *Engine) EvaluateSubmit(in SubmitInput) Decision {
	if e.IsNoop() {
		return Decision{Allowed: true, ReasonCode: "default_allow", Rule: "default_action"}
	}
	for _, r := range e.rules {
		if !matches(r.Match, in.Kind, in.Priority, in.Flags, in.Activity) {
			continue
		}
		reason := "policy_rule_" + r.Effect
		if r.Reason != "" {
			reason = strings.TrimSpace(r.Reason)
		}
		msg := reason
		if r.Name != "" {
			msg = r.Name + ": " + reason
		}
		return Decision{
			Allowed:    r.Effect == "allow",
			ReasonCode: reason,
			Rule:       r.Name,
			Message:    msg,
		}
	}
	if e.defaultAction == "deny" {
		return Decision{
			Allowed:    false,
			ReasonCode: "default_deny",
			Rule:       "default_action",
			Message:    "request denied by default_action=deny",
		}
	}
	return Decision{
		Allowed:    true,
		ReasonCode: "default_allow",
		Rule:       "default_action",
		Message:    "request allowed by default_action=allow",
	}
}

// Vetoes returns every deny rule that is conditioned on runtime state (a flag
// or an activity) and currently holds, in rule order. Rules keyed only on
// task kind or priority gate submission and never veto motion.
func (e *Engine) Vetoes(in VetoInput) []Veto {
	if e.IsNoop() {
		return nil
	}
	var out []Veto
	for _, r := range e.rules {
		if r.Effect != "deny" {
			continue
		}
		if r.Match.Flag == "" && r.Match.Activity == "" {
			continue
		}
		if !matches(RuleMatch{Flag: r.Match.Flag, Activity: r.Match.Activity}, "", 0, in.Flags, in.Activity) {
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = "policy_rule_deny"
		}
		out = append(out, Veto{Rule: r.Name, Reason: reason})
	}
	return out
}

func matches(rule RuleMatch, kind string, priority int, flags map[string]bool, activity string) bool {
	if rule.Kind != "" && rule.Kind != kind {
		return false
	}
	if rule.Priority != 0 && rule.Priority != priority {
		return false
	}
	if rule.Flag != "" {
		name, want := parseFlag(rule.Flag)
		if flags[name] != want {
			return false
		}
	}
	if rule.Activity != "" && rule.Activity != activity {
		return false
	}
	return true
}

// parseFlag accepts "name" or "name=false".
func parseFlag(raw string) (string, bool) {
	name, val, found := strings.Cut(strings.TrimSpace(raw), "=")
	if !found {
		return name, true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return name, true
	}
	return strings.TrimSpace(name), b
}

func normalizeAction(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "allow":
		return "allow"
	case "deny":
		return "deny"
	default:
		return ""
	}
}
