// Package scheduler holds deferred actions - device restores, off-peak
// runs, the periodic optimization cycle - and releases them when due.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homehub/coordinator/engine"
)

// Task is a deferred action waiting to fire.
type Task struct {
	ID     string
	Action engine.Action
	FireAt time.Time

	seq   int // insertion order, breaks fire-time ties
	index int // heap bookkeeping
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].FireAt.Equal(h[j].FireAt) {
		return h[i].FireAt.Before(h[j].FireAt)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

type Scheduler struct {
	mu    sync.Mutex
	tasks taskHeap
	byID  map[string]*Task
	seq   int
}

func New() *Scheduler {
	return &Scheduler{byID: map[string]*Task{}}
}

// Schedule queues the action to fire at the given time and returns the
// task id, usable for cancellation.
func (s *Scheduler) Schedule(a engine.Action, at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &Task{
		ID:     uuid.NewString(),
		Action: a,
		FireAt: at,
		seq:    s.seq,
	}
	s.seq++
	heap.Push(&s.tasks, task)
	s.byID[task.ID] = task
	return task.ID
}

// Cancel removes a pending task. Returns false when the task already
// fired or was never scheduled.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.tasks, task.index)
	delete(s.byID, id)
	return true
}

// CancelTarget removes every pending task aimed at the given entity - used
// when a manual override makes a deferred restore moot. Returns how many
// were cancelled.
func (s *Scheduler) CancelTarget(entity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled := 0
	for _, task := range s.byID {
		if task.Action.Target == entity {
			heap.Remove(&s.tasks, task.index)
			delete(s.byID, task.ID)
			cancelled++
		}
	}
	return cancelled
}

// Tick pops every task due at or before now, ordered by fire time then
// insertion.
func (s *Scheduler) Tick(now time.Time) []engine.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []engine.Action
	for len(s.tasks) > 0 && !s.tasks[0].FireAt.After(now) {
		task := heap.Pop(&s.tasks).(*Task)
		delete(s.byID, task.ID)
		due = append(due, task.Action)
	}
	return due
}

// Pending returns a copy of the queued tasks, soonest first.
func (s *Scheduler) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, *task)
	}
	// heap order is not sorted order
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && before(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func before(a, b Task) bool {
	if !a.FireAt.Equal(b.FireAt) {
		return a.FireAt.Before(b.FireAt)
	}
	return a.seq < b.seq
}

// Len reports the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
