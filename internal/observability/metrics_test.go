package observability

import (
	"strings"
	"testing"
	"time"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("cascade_ticks_total", map[string]string{"tier": "fast"}, 3)
	r.SetGauge("taskqueue_pending", nil, 2)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `cascade_ticks_total{tier="fast"} 3`) {
		t.Fatalf("missing tick counter in output: %s", out)
	}
	if !strings.Contains(out, "taskqueue_pending 2") {
		t.Fatalf("missing pending gauge in output: %s", out)
	}
	if !strings.Contains(out, "# TYPE taskqueue_pending gauge\n") || !strings.Contains(out, "# TYPE cascade_ticks_total counter\n") {
		t.Fatalf("missing type lines: %s", out)
	}
	snap := r.Snapshot()
	if len(snap.Counters) != 1 || len(snap.Gauges) != 1 || snap.Gauges[0].Value != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestNamespacedRegistryPrefixesSeries(t *testing.T) {
	r := NewNamespacedRegistry("pilot")
	r.IncCounter("taskqueue_submitted_total", map[string]string{"kind": "dock"}, 1)
	out := r.RenderPrometheus()
	if !strings.Contains(out, `pilot_taskqueue_submitted_total{kind="dock"} 1`) {
		t.Fatalf("expected namespaced series, got %s", out)
	}
}

func TestObserveDurationAndLookup(t *testing.T) {
	r := NewRegistry()
	labels := map[string]string{"capability": "dock"}
	r.ObserveDuration("taskqueue_execution", labels, 1500*time.Millisecond)
	r.ObserveDuration("taskqueue_execution", labels, 500*time.Millisecond)
	if got := r.Counter("taskqueue_execution_count", labels); got != 2 {
		t.Fatalf("expected count 2, got %v", got)
	}
	if got := r.Counter("taskqueue_execution_seconds_sum", labels); got != 2 {
		t.Fatalf("expected sum 2s, got %v", got)
	}
	if got := r.Gauge("missing", nil); got != 0 {
		t.Fatalf("expected zero for unseen gauge, got %v", got)
	}
}

func TestParseHeaders(t *testing.T) {
	h := ParseHeaders("authorization=Bearer x, bad, tenant=lab,=empty")
	if len(h) != 2 || h["authorization"] != "Bearer x" || h["tenant"] != "lab" {
		t.Fatalf("unexpected headers: %+v", h)
	}
}
