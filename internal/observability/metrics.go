package observability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type seriesKind int

const (
	kindCounter seriesKind = iota
	kindGauge
)

func (k seriesKind) String() string {
	if k == kindGauge {
		return "gauge"
	}
	return "counter"
}

type MetricPoint struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Snapshot is the JSON form served on /v1/metrics.
type Snapshot struct {
	Counters []MetricPoint `json:"counters"`
	Gauges   []MetricPoint `json:"gauges"`
}

type series struct {
	kind   seriesKind
	name   string
	labels map[string]string
	value  float64
}

// Registry is an in-process store of counter and gauge series. Series are
// identified by name plus the sorted label set.
type Registry struct {
	namespace string

	mu     sync.Mutex
	series map[string]*series
}

func NewRegistry() *Registry {
	return &Registry{series: make(map[string]*series)}
}

// NewNamespacedRegistry prefixes every rendered Prometheus series with ns_.
func NewNamespacedRegistry(ns string) *Registry {
	r := NewRegistry()
	r.namespace = promName(ns)
	return r
}

var Default = NewNamespacedRegistry("pilot")

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	if delta == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookupLocked(kindCounter, name, labels).value += delta
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookupLocked(kindGauge, name, labels).value = value
}

// ObserveDuration records one sample as a _count/_seconds_sum counter pair.
func (r *Registry) ObserveDuration(name string, labels map[string]string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookupLocked(kindCounter, name+"_count", labels).value++
	if d > 0 {
		r.lookupLocked(kindCounter, name+"_seconds_sum", labels).value += d.Seconds()
	}
}

// Counter returns the current value of one counter series, zero if unseen.
func (r *Registry) Counter(name string, labels map[string]string) float64 {
	return r.value(kindCounter, name, labels)
}

// Gauge returns the current value of one gauge series, zero if unseen.
func (r *Registry) Gauge(name string, labels map[string]string) float64 {
	return r.value(kindGauge, name, labels)
}

func (r *Registry) value(kind seriesKind, name string, labels map[string]string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[seriesID(kind, name, labels)]; ok {
		return s.value
	}
	return 0
}

func (r *Registry) lookupLocked(kind seriesKind, name string, labels map[string]string) *series {
	id := seriesID(kind, name, labels)
	s, ok := r.series[id]
	if !ok {
		s = &series{kind: kind, name: name, labels: copyLabels(labels)}
		r.series[id] = s
	}
	return s
}

func (r *Registry) Snapshot() Snapshot {
	out := Snapshot{Counters: []MetricPoint{}, Gauges: []MetricPoint{}}
	for _, s := range r.sorted() {
		p := MetricPoint{Name: s.name, Labels: s.labels, Value: s.value}
		if s.kind == kindGauge {
			out.Gauges = append(out.Gauges, p)
		} else {
			out.Counters = append(out.Counters, p)
		}
	}
	return out
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series = make(map[string]*series)
}

// RenderPrometheus writes the text exposition format, one # TYPE line per
// metric family.
func (r *Registry) RenderPrometheus() string {
	var b strings.Builder
	family := ""
	for _, s := range r.sorted() {
		name := r.qualify(s.name)
		if name != family {
			fmt.Fprintf(&b, "# TYPE %s %s\n", name, s.kind)
			family = name
		}
		b.WriteString(name)
		if len(s.labels) > 0 {
			b.WriteString("{" + renderLabels(s.labels) + "}")
		}
		b.WriteString(" " + strconv.FormatFloat(s.value, 'f', -1, 64) + "\n")
	}
	return b.String()
}

// sorted copies every series ordered by name then label set.
func (r *Registry) sorted() []series {
	r.mu.Lock()
	out := make([]series, 0, len(r.series))
	for _, s := range r.series {
		c := *s
		c.labels = copyLabels(s.labels)
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return renderLabels(out[i].labels) < renderLabels(out[j].labels)
	})
	return out
}

func (r *Registry) qualify(name string) string {
	name = promName(name)
	if r.namespace == "" || strings.HasPrefix(name, r.namespace+"_") {
		return name
	}
	return r.namespace + "_" + name
}

func seriesID(kind seriesKind, name string, labels map[string]string) string {
	return kind.String() + "/" + name + "/" + renderLabels(labels)
}

// renderLabels formats labels as sorted k="v" pairs.
func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = promName(k) + "=" + strconv.Quote(labels[k])
	}
	return strings.Join(parts, ",")
}

func copyLabels(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// promName maps name onto [a-zA-Z_][a-zA-Z0-9_]*.
func promName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "pilot_metric"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, leadingDigitSafe(name))
}

func leadingDigitSafe(name string) string {
	if name[0] >= '0' && name[0] <= '9' {
		return "_" + name
	}
	return name
}
