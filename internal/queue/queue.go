// Package queue implements the Task Queue: a single ordered sequence of
// Task records with stable FIFO iteration, mutated only by enqueue (the
// input dispatcher) and transition (the worker), both serialized under a
// queue-scoped lock per the concurrency model.
package queue

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	ferrors "forge/internal/errors"
	"forge/internal/task"
)

// Queue is a single session's ordered Task sequence.
type Queue struct {
	mu       sync.Mutex
	tasks    map[string]*task.Task
	order    []string // insertion order, stable across the session lifetime
	counter  uint64
	idPrefix string

	onChange func() // invoked after every successful mutation, outside the lock
}

// New creates an empty Queue. idPrefix is embedded in generated task ids so
// ids remain sortable by creation time and distinguishable across sessions
// sharing a durable store namespace.
func New(idPrefix string) *Queue {
	return &Queue{
		tasks:    make(map[string]*task.Task),
		idPrefix: idPrefix,
	}
}

// SetOnChange registers fn to run after every Enqueue and every successful
// Transition, so a caller can persist the queue's state on each mutation
// rather than only at terminal transitions — a crash between two state
// changes must still leave every task recoverable on restart, per §4.9.
// Optional: a nil receiver simply skips persistence-on-change.
func (q *Queue) SetOnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

func (q *Queue) notifyChange() {
	q.mu.Lock()
	fn := q.onChange
	q.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (q *Queue) nextID() string {
	n := atomic.AddUint64(&q.counter, 1)
	return time.Now().UTC().Format("20060102T150405.000000000") + "-" + q.idPrefix + "-" + itoa(n)
}

// Enqueue creates a new Task in QUEUED state. Safe to call concurrently with
// a running worker.
func (q *Queue) Enqueue(description string, taskType task.Type) string {
	q.mu.Lock()
	id := q.nextID()
	t := &task.Task{
		ID:          id,
		Description: description,
		State:       task.StateQueued,
		TaskType:    taskType,
		QueuedAt:    time.Now(),
	}
	q.tasks[id] = t
	q.order = append(q.order, id)
	q.mu.Unlock()

	q.notifyChange()
	return id
}

// NextQueued returns the earliest-enqueued Task still in QUEUED, or nil.
func (q *Queue) NextQueued() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		if t := q.tasks[id]; t != nil && t.State == task.StateQueued {
			return t.Clone()
		}
	}
	return nil
}

// RestoreAll re-inserts previously persisted tasks as-is, for the restart
// path: the store's RecoverStale has already downgraded any RUNNING task
// to QUEUED before this is called, so no transition validation applies.
// Tasks are ordered by QueuedAt regardless of the input order, since the
// durable store has no FIFO guarantee of its own.
func (q *Queue) RestoreAll(tasks []*task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	restored := append([]*task.Task(nil), tasks...)
	sort.SliceStable(restored, func(i, j int) bool { return restored[i].QueuedAt.Before(restored[j].QueuedAt) })

	for _, t := range restored {
		if _, exists := q.tasks[t.ID]; exists {
			continue
		}
		q.tasks[t.ID] = t.Clone()
		q.order = append(q.order, t.ID)
	}
}

// Find returns a copy of the Task with the given id, or nil.
func (q *Queue) Find(id string) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks[id].Clone()
}

// Snapshot returns copies of every Task in FIFO order.
func (q *Queue) Snapshot() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*task.Task, 0, len(q.order))
	for _, id := range q.order {
		if t := q.tasks[id]; t != nil {
			out = append(out, t.Clone())
		}
	}
	return out
}

// PendingCount reports how many tasks remain QUEUED or RUNNING.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, id := range q.order {
		if t := q.tasks[id]; t != nil && (t.State == task.StateQueued || t.State == task.StateRunning) {
			n++
		}
	}
	return n
}

// Delta carries the fields a transition may update alongside State.
type Delta struct {
	FilesModified         []string
	ErrorMessage          string
	ResultStatus          string
	ResponseSummary       string
	ClarificationQuestion string
	ClarificationReason   string
	UserResponse          string
}

// Transition atomically moves taskID to newState, applying delta, and
// enforcing the transition graph. Returns *errors.Error{Kind: InvalidTransition}
// on a forbidden move.
func (q *Queue) Transition(id string, newState task.State, delta Delta) (*task.Task, error) {
	q.mu.Lock()

	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return nil, ferrors.New(ferrors.KindUserInput, "", "unknown task id: "+id, nil)
	}
	if !task.CanTransition(t.State, newState) {
		q.mu.Unlock()
		return nil, ferrors.New(ferrors.KindInvalidTransition, "",
			"cannot transition "+string(t.State)+" -> "+string(newState)+" for task "+id, nil)
	}

	now := time.Now()
	t.State = newState
	switch newState {
	case task.StateRunning:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
		if delta.UserResponse != "" {
			t.UserResponse = delta.UserResponse
		}
	case task.StateAwaitingResponse:
		t.ClarificationQuestion = delta.ClarificationQuestion
		t.ClarificationReason = delta.ClarificationReason
	case task.StateComplete, task.StateIncomplete, task.StateError:
		t.CompletedAt = &now
		if delta.FilesModified != nil {
			t.FilesModified = append([]string(nil), delta.FilesModified...)
		}
		if delta.ErrorMessage != "" {
			t.ErrorMessage = delta.ErrorMessage
		}
		if delta.ResultStatus != "" {
			t.ResultStatus = delta.ResultStatus
		}
		if delta.ResponseSummary != "" {
			t.ResponseSummary = delta.ResponseSummary
		}
	}

	clone := t.Clone()
	q.mu.Unlock()

	q.notifyChange()
	return clone, nil
}

// Numbers returns the advisory 1-based numbering for user reference, built
// fresh from the current snapshot. Never persisted (§4.2, §9).
func (q *Queue) Numbers() map[string]int {
	snap := q.Snapshot()
	sort.SliceStable(snap, func(i, j int) bool { return snap[i].QueuedAt.Before(snap[j].QueuedAt) })
	out := make(map[string]int, len(snap))
	for i, t := range snap {
		out[t.ID] = i + 1
	}
	return out
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
