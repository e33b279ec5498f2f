package api

import (
	"sync"
	"time"
)

// submitLimiter is a sliding-window limit on task submissions, applied both
// per caller and globally. Zero limits disable the respective check.
type submitLimiter struct {
	mu        sync.Mutex
	callerMax int
	globalMax int
	window    time.Duration
	callers   map[string][]int64
	global    []int64
}

func newSubmitLimiter(callerMax, globalMax int, window time.Duration) *submitLimiter {
	if callerMax < 0 {
		callerMax = 0
	}
	if globalMax < 0 {
		globalMax = 0
	}
	if window <= 0 {
		window = time.Minute
	}
	return &submitLimiter{
		callerMax: callerMax,
		globalMax: globalMax,
		window:    window,
		callers:   map[string][]int64{},
		global:    make([]int64, 0, 256),
	}
}

func (l *submitLimiter) allow(caller string, now time.Time) bool {
	if l == nil || (l.callerMax == 0 && l.globalMax == 0) {
		return true
	}
	ts := now.UnixNano()
	cutoff := ts - l.window.Nanoseconds()
	if caller == "" {
		caller = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trimCutoff(l.global, cutoff)
	if l.globalMax > 0 && len(l.global) >= l.globalMax {
		return false
	}

	history := trimCutoff(l.callers[caller], cutoff)
	if l.callerMax > 0 && len(history) >= l.callerMax {
		l.callers[caller] = history
		return false
	}

	history = append(history, ts)
	l.callers[caller] = history
	l.global = append(l.global, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}
