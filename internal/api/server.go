package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/pilot/internal/capability"
	"github.com/example/pilot/internal/cascade"
	"github.com/example/pilot/internal/observability"
	"github.com/example/pilot/internal/session"
	"github.com/example/pilot/internal/task"
	"github.com/example/pilot/internal/taskqueue"
	"github.com/example/pilot/pkg/pilotapi"
)

type Options struct {
	// Tokens uses the "token:scope|scope,..." form; empty disables auth.
	Tokens string
	// SubmitRateLimit caps submissions per caller per SubmitWindow.
	SubmitRateLimit int
	GlobalRateLimit int
	SubmitWindow    time.Duration
}

type Server struct {
	queue    *taskqueue.Queue
	registry *capability.Registry
	cascade  *cascade.Cascade
	state    *session.State
	auth     *authorizer
	limiter  *submitLimiter
}

func NewServer(q *taskqueue.Queue, reg *capability.Registry, c *cascade.Cascade, st *session.State, opts Options) *Server {
	if st == nil {
		st = session.New()
	}
	return &Server{
		queue:    q,
		registry: reg,
		cascade:  c,
		state:    st,
		auth:     newAuthorizer(opts.Tokens),
		limiter:  newSubmitLimiter(opts.SubmitRateLimit, opts.GlobalRateLimit, opts.SubmitWindow),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/", s.handleTaskByID)
	mux.HandleFunc("/v1/queue", s.handleQueue)
	mux.HandleFunc("/v1/capabilities", s.handleCapabilities)
	mux.HandleFunc("/v1/cascade/stats", s.handleCascadeStats)
	mux.HandleFunc("/v1/estop", s.handleEstop)
	return withTracing(withLogging(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, ScopeRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, ScopeRead); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, ok := s.requireScopes(w, r, ScopeSubmit)
	if !ok {
		return
	}
	var req pilotapi.SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeadlineMillis < 0 {
		writeError(w, http.StatusBadRequest, "deadline_ms must not be negative")
		return
	}
	if !s.limiter.allow(p.id, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "submit rate limit exceeded")
		return
	}
	id, err := s.queue.Submit(r.Context(), task.Task{
		ID:       strings.TrimSpace(req.ID),
		Kind:     strings.TrimSpace(req.Kind),
		Goal:     req.Goal,
		Params:   req.Params,
		Priority: req.Priority,
		Deadline: time.Duration(req.DeadlineMillis) * time.Millisecond,
	})
	if err != nil {
		writeError(w, submitStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, pilotapi.SubmitTaskResponse{TaskID: id})
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, taskqueue.ErrPolicyDenied):
		return http.StatusForbidden
	case errors.Is(err, taskqueue.ErrDuplicateTask):
		return http.StatusConflict
	case errors.Is(err, taskqueue.ErrUnknownKind):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// handleTaskByID serves GET /v1/tasks/{id} and POST /v1/tasks/{id}/cancel.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tasks/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]
	if len(parts) == 2 {
		if parts[1] != "cancel" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.handleCancel(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, ScopeRead); !ok {
		return
	}
	if res, ok := s.queue.Result(id); ok {
		writeJSON(w, http.StatusOK, resultResponse(res))
		return
	}
	st, ok := s.queue.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, pilotapi.TaskResultResponse{TaskID: id, Status: string(st)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, ScopeCancel); !ok {
		return
	}
	if _, ok := s.queue.Lookup(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	accepted := s.queue.Cancel(id)
	if accepted {
		log.Printf("cancel accepted task=%s", id)
	}
	writeJSON(w, http.StatusOK, pilotapi.CancelTaskResponse{Accepted: accepted})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, ScopeRead); !ok {
		return
	}
	st := s.queue.Status()
	writeJSON(w, http.StatusOK, pilotapi.QueueStatusResponse{
		Pending:   st.Pending,
		Running:   st.Running,
		Done:      st.Done,
		Cancelled: st.Cancelled,
		Submitted: st.Submitted,
		QueueLen:  st.QueueLen,
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, ScopeRead); !ok {
		return
	}
	out := pilotapi.CapabilitiesResponse{Capabilities: []pilotapi.CapabilityHealth{}}
	if s.registry != nil {
		for _, h := range s.registry.Health() {
			out.Capabilities = append(out.Capabilities, pilotapi.CapabilityHealth{Name: h.Name, Status: h.Status, Kinds: h.Kinds})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCascadeStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, ScopeRead); !ok {
		return
	}
	var stats cascade.Stats
	var last cascade.Decision
	if s.cascade != nil {
		stats = s.cascade.Stats()
		last = s.cascade.Last()
	}
	writeJSON(w, http.StatusOK, pilotapi.CascadeStatsResponse{
		Reactive:  stats.Reactive,
		Fast:      stats.Fast,
		Planner:   stats.Planner,
		Swarm:     stats.Swarm,
		Total:     stats.Total,
		Breakdown: stats.Breakdown(),
		Last: pilotapi.LastDecision{
			Tick:      last.Tick,
			Tier:      last.Tier,
			Action:    string(last.Action.Kind),
			Reason:    last.Action.Reason,
			Linear:    last.Action.Linear,
			Angular:   last.Action.Angular,
			Escalated: last.Escalated,
		},
		Estop: s.state.Estop(),
	})
}

func (s *Server) handleEstop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, ok := s.requireScopes(w, r, ScopeOperator)
	if !ok {
		return
	}
	var req pilotapi.EstopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.state.SetEstop(req.Active)
	log.Printf("estop set active=%t by=%s", req.Active, p.id)
	observability.Default.IncCounter("api_estop_changes_total", map[string]string{"active": boolLabel(req.Active)}, 1)
	writeJSON(w, http.StatusOK, pilotapi.EstopResponse{Active: s.state.Estop()})
}

func (s *Server) requireScopes(w http.ResponseWriter, r *http.Request, scopes ...string) (principal, bool) {
	p, code, msg := s.auth.authorize(r, scopes...)
	if code != http.StatusOK {
		writeError(w, code, msg)
		return principal{}, false
	}
	return p, true
}

func resultResponse(res task.Result) pilotapi.TaskResultResponse {
	return pilotapi.TaskResultResponse{
		TaskID:         res.TaskID,
		Status:         string(res.Status),
		Output:         res.Output,
		DurationMillis: res.Duration.Milliseconds(),
		Error:          res.Error,
	}
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		if sc := span.SpanContext(); sc.HasTraceID() {
			sw.Header().Set("X-Trace-ID", sc.TraceID().String())
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
