package task

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const (
	MinPriority = 1
	MaxPriority = 5
)

var ErrInvalidPriority = errors.New("priority out of range")

// Task is a unit of goal-directed work. It is not mutated once submitted.
type Task struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Goal      string            `json:"goal,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Priority  int               `json:"priority"`
	CreatedAt time.Time         `json:"created_at"`
	Deadline  time.Duration     `json:"deadline,omitempty"`
}

// Result is the terminal record of one task execution.
type Result struct {
	TaskID   string         `json:"task_id"`
	Status   Status         `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
	Duration time.Duration  `json:"duration"`
	Error    string         `json:"error,omitempty"`
}

func (t Task) Validate() error {
	if t.Kind == "" {
		return errors.New("task kind is required")
	}
	if t.Priority < MinPriority || t.Priority > MaxPriority {
		return fmt.Errorf("%w: %d not in %d..%d", ErrInvalidPriority, t.Priority, MinPriority, MaxPriority)
	}
	return nil
}

// Param returns params[key] or fallback when unset.
func (t Task) Param(key, fallback string) string {
	if v, ok := t.Params[key]; ok && v != "" {
		return v
	}
	return fallback
}

func IsTerminal(s Status) bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
