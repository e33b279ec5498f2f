package taskqueue

import (
	"time"

	"github.com/example/pilot/internal/task"
)

// entry orders by (-priority, createdAt, seq). seq is the submission counter
// and makes equal-priority ordering strictly FIFO even when two CreatedAt
// values compare equal.
type entry struct {
	negPriority int
	createdAt   time.Time
	seq         uint64
	task        task.Task
}

func (a entry) less(b entry) bool {
	if a.negPriority != b.negPriority {
		return a.negPriority < b.negPriority
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.seq < b.seq
}

// entryHeap implements container/heap.Interface.
type entryHeap []entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
