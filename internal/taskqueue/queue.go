// Package taskqueue turns an unordered backlog of task submissions into one
// priority-ordered execution stream with bounded concurrency and cooperative
// cancellation.
package taskqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/example/pilot/internal/capability"
	"github.com/example/pilot/internal/observability"
	"github.com/example/pilot/internal/policy"
	"github.com/example/pilot/internal/session"
	"github.com/example/pilot/internal/task"
)

var (
	ErrUnknownKind   = errors.New("no capability accepts task kind")
	ErrPolicyDenied  = errors.New("policy denied submit")
	ErrDuplicateTask = errors.New("task id already submitted")
)

type Options struct {
	Policy *policy.Engine
	// State feeds runtime flags and the current activity into submit policy.
	State *session.State
	// StrictKinds rejects submissions no registered capability accepts.
	// When false such tasks are queued and end as failed results.
	StrictKinds bool
	// StrictInvariants panics on an accounting mismatch. Tests set it.
	StrictInvariants bool
	Now              func() time.Time
}

// Status is a point-in-time count of every task the queue has accepted.
type Status struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Done      int `json:"done"`
	Cancelled int `json:"cancelled"`
	Submitted int `json:"submitted"`
	QueueLen  int `json:"queue_len"`
}

type runningTask struct {
	task      task.Task
	cancel    context.CancelFunc
	cancelled bool
}

type Queue struct {
	reg              *capability.Registry
	policy           *policy.Engine
	state            *session.State
	strictKinds      bool
	strictInvariants bool
	now              func() time.Time

	mu        sync.Mutex
	entries   entryHeap
	seq       uint64
	pending   map[string]task.Task
	running   map[string]*runningTask
	results   map[string]task.Result
	submitted int
	done      int
	cancelled int
}

func New(reg *capability.Registry, opts Options) *Queue {
	if reg == nil {
		reg = capability.NewRegistry()
	}
	p := opts.Policy
	if p == nil {
		p = policy.NewAllowAll()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		reg:              reg,
		policy:           p,
		state:            opts.State,
		strictKinds:      opts.StrictKinds,
		strictInvariants: opts.StrictInvariants,
		now:              now,
		pending:          make(map[string]task.Task),
		running:          make(map[string]*runningTask),
		results:          make(map[string]task.Result),
	}
}

// Submit queues t and returns its id. An empty id is replaced by a UUID and a
// zero CreatedAt by the current time.
func (q *Queue) Submit(ctx context.Context, t task.Task) (string, error) {
	_, span := observability.StartSpan(ctx, "taskqueue.submit",
		attribute.String("task.kind", t.Kind),
		attribute.Int("task.priority", t.Priority),
	)
	defer span.End()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := t.Validate(); err != nil {
		return "", err
	}
	if q.strictKinds && !q.reg.Accepts(t.Kind) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, t.Kind)
	}
	if !q.policy.IsNoop() {
		in := policy.SubmitInput{Kind: t.Kind, Priority: t.Priority}
		if q.state != nil {
			sig := q.state.Signals()
			in.Flags = sig.Flags
			in.Activity = sig.Activity
		}
		if d := q.policy.EvaluateSubmit(in); !d.Allowed {
			observability.Default.IncCounter("taskqueue_rejected_total", map[string]string{"reason": d.ReasonCode}, 1)
			return "", fmt.Errorf("%w: %s", ErrPolicyDenied, d.ReasonCode)
		}
	}
	params := make(map[string]string, len(t.Params))
	for k, v := range t.Params {
		params[k] = v
	}
	t.Params = params

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.knownLocked(t.ID) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = q.now()
	}
	q.seq++
	heap.Push(&q.entries, entry{negPriority: -t.Priority, createdAt: t.CreatedAt, seq: q.seq, task: t})
	q.pending[t.ID] = t
	q.submitted++
	observability.Default.IncCounter("taskqueue_submitted_total", map[string]string{"kind": t.Kind}, 1)
	q.publishGaugesLocked()
	q.checkAccountingLocked()
	span.SetAttributes(attribute.String("task.id", t.ID))
	return t.ID, nil
}

// BestSpecialist picks the capability with the lowest estimate for t among
// those that can handle it. Ties go to the earliest registered.
func (q *Queue) BestSpecialist(t task.Task) (capability.Capability, bool) {
	var best capability.Capability
	var bestEstimate time.Duration
	for _, c := range q.reg.All() {
		if !c.CanHandle(t) {
			continue
		}
		est := c.Estimate(t)
		if best == nil || est < bestEstimate {
			best = c
			bestEstimate = est
		}
	}
	return best, best != nil
}

// RunNext executes the highest-priority queued task and returns its result.
// It returns false when nothing is queued.
func (q *Queue) RunNext(ctx context.Context) (task.Result, bool) {
	t, runCtx, ok := q.popNext(ctx)
	if !ok {
		return task.Result{}, false
	}
	return q.execute(runCtx, t), true
}

// RunAll drains the tasks queued at call time in priority order, running at
// most maxConcurrent at once. Results are returned in completion order. When
// ctx ends, no further tasks are started and the rest stay queued.
func (q *Queue) RunAll(ctx context.Context, maxConcurrent int) []task.Result {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	q.mu.Lock()
	budget := len(q.pending)
	q.mu.Unlock()
	if budget == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	results := make(chan task.Result, budget)
	var wg sync.WaitGroup
	for i := 0; i < budget; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}
		t, runCtx, ok := q.popNext(ctx)
		if !ok {
			sem.Release(1)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results <- q.execute(runCtx, t)
		}()
	}
	wg.Wait()
	close(results)

	out := make([]task.Result, 0, budget)
	for r := range results {
		out = append(out, r)
	}
	return out
}

// Cancel cancels a queued or running task. A running task's context is
// cancelled and its eventual result replaced by a cancelled one; the
// capability decides whether to stop early. Tasks that already have a result,
// and unknown ids, cannot be cancelled.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.results[id]; ok {
		return false
	}
	if _, ok := q.pending[id]; ok {
		delete(q.pending, id)
		q.results[id] = task.Result{
			TaskID: id,
			Status: task.StatusCancelled,
			Error:  "cancelled before start",
		}
		q.cancelled++
		observability.Default.IncCounter("taskqueue_results_total", map[string]string{"status": string(task.StatusCancelled)}, 1)
		q.publishGaugesLocked()
		q.checkAccountingLocked()
		return true
	}
	if r, ok := q.running[id]; ok {
		r.cancelled = true
		r.cancel()
		return true
	}
	return false
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) Result(id string) (task.Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.results[id]
	return r, ok
}

// Lookup reports the lifecycle status of a task id.
func (q *Queue) Lookup(id string) (task.Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.results[id]; ok {
		return r.Status, true
	}
	if _, ok := q.running[id]; ok {
		return task.StatusRunning, true
	}
	if _, ok := q.pending[id]; ok {
		return task.StatusPending, true
	}
	return "", false
}

func (q *Queue) popNext(parent context.Context) (task.Task, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.entries.Len() > 0 {
		e := heap.Pop(&q.entries).(entry)
		t, ok := q.pending[e.task.ID]
		if !ok {
			// cancelled while queued
			continue
		}
		delete(q.pending, t.ID)
		var runCtx context.Context
		var cancel context.CancelFunc
		if t.Deadline > 0 {
			runCtx, cancel = context.WithTimeout(parent, t.Deadline)
		} else {
			runCtx, cancel = context.WithCancel(parent)
		}
		q.running[t.ID] = &runningTask{task: t, cancel: cancel}
		q.publishGaugesLocked()
		q.checkAccountingLocked()
		return t, runCtx, true
	}
	return task.Task{}, nil, false
}

func (q *Queue) execute(ctx context.Context, t task.Task) task.Result {
	ctx, span := observability.StartSpan(ctx, "taskqueue.execute",
		attribute.String("task.id", t.ID),
		attribute.String("task.kind", t.Kind),
	)
	defer span.End()

	started := q.now()
	res := task.Result{TaskID: t.ID}
	c, ok := q.BestSpecialist(t)
	if !ok {
		res.Status = task.StatusFailed
		res.Error = fmt.Sprintf("no capability registered for task kind %q", t.Kind)
	} else {
		span.SetAttributes(attribute.String("capability", c.Name()))
		out, err := invoke(ctx, c, t)
		res.Output = out
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			res.Status = task.StatusFailed
			res.Error = "deadline exceeded after " + t.Deadline.String()
		case err != nil:
			res.Status = task.StatusFailed
			res.Error = err.Error()
		default:
			res.Status = task.StatusSuccess
		}
		observability.Default.ObserveDuration("taskqueue_execution", map[string]string{"capability": c.Name()}, q.now().Sub(started))
	}
	res.Duration = q.now().Sub(started)
	res = q.finish(t, res)
	span.SetAttributes(attribute.String("task.status", string(res.Status)))
	if res.Status == task.StatusFailed {
		log.Printf("taskqueue: task %s (%s) failed: %s", t.ID, t.Kind, res.Error)
	}
	return res
}

// invoke runs the capability, turning a panic into an error.
func invoke(ctx context.Context, c capability.Capability, t task.Task) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("capability %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Execute(ctx, t)
}

func (q *Queue) finish(t task.Task, res task.Result) task.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.running[t.ID]
	if ok {
		delete(q.running, t.ID)
		r.cancel()
		if r.cancelled {
			res = task.Result{
				TaskID:   t.ID,
				Status:   task.StatusCancelled,
				Duration: res.Duration,
				Error:    "cancelled while running",
			}
		}
	}
	q.results[t.ID] = res
	if res.Status == task.StatusCancelled {
		q.cancelled++
	} else {
		q.done++
	}
	observability.Default.IncCounter("taskqueue_results_total", map[string]string{"status": string(res.Status)}, 1)
	q.publishGaugesLocked()
	q.checkAccountingLocked()
	return res
}

func (q *Queue) knownLocked(id string) bool {
	if _, ok := q.pending[id]; ok {
		return true
	}
	if _, ok := q.running[id]; ok {
		return true
	}
	_, ok := q.results[id]
	return ok
}

func (q *Queue) statusLocked() Status {
	return Status{
		Pending:   len(q.pending),
		Running:   len(q.running),
		Done:      q.done,
		Cancelled: q.cancelled,
		Submitted: q.submitted,
		QueueLen:  q.entries.Len(),
	}
}

func (q *Queue) publishGaugesLocked() {
	observability.Default.SetGauge("taskqueue_pending", nil, float64(len(q.pending)))
	observability.Default.SetGauge("taskqueue_running", nil, float64(len(q.running)))
}

// checkAccountingLocked verifies that every submitted task is in exactly one
// of pending, running, done or cancelled.
func (q *Queue) checkAccountingLocked() {
	s := q.statusLocked()
	if s.Pending+s.Running+s.Done+s.Cancelled == s.Submitted {
		return
	}
	msg := "taskqueue: accounting mismatch pending=" + strconv.Itoa(s.Pending) +
		" running=" + strconv.Itoa(s.Running) +
		" done=" + strconv.Itoa(s.Done) +
		" cancelled=" + strconv.Itoa(s.Cancelled) +
		" submitted=" + strconv.Itoa(s.Submitted)
	observability.Default.IncCounter("taskqueue_invariant_violations_total", nil, 1)
	if q.strictInvariants {
		panic(msg)
	}
	log.Print(msg)
}
