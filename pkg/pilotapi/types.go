package pilotapi

type SubmitTaskRequest struct {
	ID       string            `json:"id,omitempty"`
	Kind     string            `json:"kind"`
	Goal     string            `json:"goal,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Priority int               `json:"priority"`
	// DeadlineMillis bounds execution time; 0 means no deadline.
	DeadlineMillis int64 `json:"deadline_ms,omitempty"`
}

type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

type TaskResultResponse struct {
	TaskID         string         `json:"task_id"`
	Status         string         `json:"status"`
	Output         map[string]any `json:"output,omitempty"`
	DurationMillis int64          `json:"duration_ms"`
	Error          string         `json:"error,omitempty"`
}

type CancelTaskResponse struct {
	Accepted bool `json:"accepted"`
}

type QueueStatusResponse struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Done      int `json:"done"`
	Cancelled int `json:"cancelled"`
	Submitted int `json:"submitted"`
	QueueLen  int `json:"queue_len"`
}

type CapabilityHealth struct {
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Kinds  []string `json:"kinds"`
}

type CapabilitiesResponse struct {
	Capabilities []CapabilityHealth `json:"capabilities"`
}

type LastDecision struct {
	Tick      uint64  `json:"tick"`
	Tier      string  `json:"tier"`
	Action    string  `json:"action"`
	Reason    string  `json:"reason,omitempty"`
	Linear    float64 `json:"linear,omitempty"`
	Angular   float64 `json:"angular,omitempty"`
	Escalated bool    `json:"escalated"`
}

type CascadeStatsResponse struct {
	Reactive  uint64             `json:"reactive_count"`
	Fast      uint64             `json:"fast_count"`
	Planner   uint64             `json:"planner_count"`
	Swarm     uint64             `json:"swarm_count"`
	Total     uint64             `json:"total_ticks"`
	Breakdown map[string]float64 `json:"breakdown"`
	Last      LastDecision       `json:"last"`
	Estop     bool               `json:"estop"`
}

type EstopRequest struct {
	Active bool `json:"active"`
}

type EstopResponse struct {
	Active bool `json:"active"`
}
