package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/pilot/internal/action"
	"github.com/example/pilot/internal/perception"
)

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultPlanTTL     = 2 * time.Second
)

// Decider is anything with the cascade source signature.
type Decider interface {
	Decide(ctx context.Context, snap perception.Snapshot) (action.Action, bool, error)
}

// Background keeps a slow Decider off the control loop. Decide never waits
// for the model: it starts a refresh when none is running and answers at once
// with the newest plan younger than the plan TTL.
type Background struct {
	src     Decider
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	inflight bool
	plan     action.Action
	planOK   bool
	planAt   time.Time
	err      error
}

// NewBackground wraps src. timeout bounds one provider call and ttl how long
// its answer stays usable; zero picks the defaults.
func NewBackground(src Decider, timeout, ttl time.Duration) *Background {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if ttl <= 0 {
		ttl = DefaultPlanTTL
	}
	return &Background{src: src, timeout: timeout, ttl: ttl, now: time.Now}
}

// Decide returns the current plan, or no action while the first answer is
// pending. A failed refresh is reported once, on the next call.
func (b *Background) Decide(_ context.Context, snap perception.Snapshot) (action.Action, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inflight {
		b.inflight = true
		go b.refresh(snap)
	}
	if err := b.err; err != nil {
		b.err = nil
		return action.Idle(), false, err
	}
	if b.planOK && b.now().Sub(b.planAt) <= b.ttl {
		return b.plan, true, nil
	}
	return action.Idle(), false, nil
}

func (b *Background) refresh(snap perception.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	a, ok, err := b.call(ctx, snap)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight = false
	switch {
	case err != nil:
		b.err = err
	case ok:
		b.plan, b.planOK, b.planAt = a, true, b.now()
	default:
		b.planOK = false
	}
}

func (b *Background) call(ctx context.Context, snap perception.Snapshot) (a action.Action, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, ok, err = action.Idle(), false, fmt.Errorf("planner panic: %v", r)
		}
	}()
	return b.src.Decide(ctx, snap)
}
