package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEvaluateSubmitFirstMatchWins(t *testing.T) {
	engine := NewFromConfig(Config{
		DefaultAction: "allow",
		Rules: []Rule{
			{
				Name:   "no-explore-on-low-battery",
				Effect: "deny",
				Reason: "battery_low",
				Match:  RuleMatch{Kind: "explore", Flag: "battery_low"},
			},
			{
				Name:   "allow-explore",
				Effect: "allow",
				Match:  RuleMatch{Kind: "explore"},
			},
		},
	})

	d := engine.EvaluateSubmit(SubmitInput{Kind: "explore", Priority: 3, Flags: map[string]bool{"battery_low": true}})
	if d.Allowed {
		t.Fatalf("expected deny decision")
	}
	if d.ReasonCode != "battery_low" {
		t.Fatalf("unexpected reason code: %s", d.ReasonCode)
	}

	d = engine.EvaluateSubmit(SubmitInput{Kind: "explore", Priority: 3})
	if !d.Allowed || d.Rule != "allow-explore" {
		t.Fatalf("expected allow-explore rule, got %+v", d)
	}
}

func TestEvaluateSubmitDefaultDeny(t *testing.T) {
	engine := NewFromConfig(Config{DefaultAction: "deny"})
	d := engine.EvaluateSubmit(SubmitInput{Kind: "dock", Priority: 1})
	if d.Allowed || d.ReasonCode != "default_deny" {
		t.Fatalf("expected default deny, got %+v", d)
	}
}

func TestVetoesOnlyRuntimeConditionedDenyRules(t *testing.T) {
	engine := NewFromConfig(Config{
		Rules: []Rule{
			{Name: "kind-only", Effect: "deny", Match: RuleMatch{Kind: "grasp"}},
			{Name: "lid-open", Effect: "deny", Reason: "lid_open", Match: RuleMatch{Flag: "lid_open"}},
			{Name: "not-charging", Effect: "deny", Reason: "charger_missing", Match: RuleMatch{Flag: "charger_present=false", Activity: "docking"}},
			{Name: "allow-lid", Effect: "allow", Match: RuleMatch{Flag: "lid_open"}},
		},
	})

	if v := engine.Vetoes(VetoInput{}); len(v) != 0 {
		t.Fatalf("expected no vetoes, got %+v", v)
	}

	v := engine.Vetoes(VetoInput{Flags: map[string]bool{"lid_open": true}, Activity: "docking"})
	if len(v) != 2 {
		t.Fatalf("expected 2 vetoes, got %+v", v)
	}
	if v[0].Rule != "lid-open" || v[1].Reason != "charger_missing" {
		t.Fatalf("unexpected veto order: %+v", v)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := `default_action: allow
rules:
  - name: estop-button
    effect: deny
    reason: bumper_pressed
    match:
      flag: bumper
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	engine, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if engine.IsNoop() {
		t.Fatalf("expected active engine")
	}
	v := engine.Vetoes(VetoInput{Flags: map[string]bool{"bumper": true}})
	if len(v) != 1 || v[0].Reason != "bumper_pressed" {
		t.Fatalf("unexpected vetoes: %+v", v)
	}

	empty, err := LoadFile("")
	if err != nil || !empty.IsNoop() {
		t.Fatalf("expected allow-all engine for empty path, err=%v", err)
	}
}
