// Package clarify implements the Clarification Broker: it mediates between
// an executor's mid-run askUser callback and the human operator's Respond
// call, owns the one-slot pending mailbox, and maintains a bounded,
// TTL-expiring history of prior question/answer pairs so a repeated
// question resolves without reprompting, per §4.5.
package clarify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	ferrors "forge/internal/errors"
	"forge/internal/eventlog"
	"forge/internal/queue"
	"forge/internal/task"
)

// Type tags the shape of a clarification question, mirroring the executor
// protocol's question kinds.
type Type string

const (
	TypeTargetFile Type = "TARGET_FILE"
	TypeSelectOne  Type = "SELECT_ONE"
	TypeConfirm    Type = "CONFIRM"
	TypeFreeText   Type = "FREE_TEXT"
)

// Question is what an executor asks when it cannot proceed without
// operator input.
type Question struct {
	Type    Type
	Text    string
	Options []string
	Context map[string]string
}

// pending is the single in-flight ask. The broker holds at most one at a
// time, per the one-slot mailbox design.
type pending struct {
	taskID   string
	question Question
	resolved chan struct{}
	answer   string
	err      error

	// resumed is set only for a pending re-seated by RegisterRestored: there
	// is no live Ask goroutine blocked on resolved for it, so Respond calls
	// this instead of relying on a channel receive to drive the task forward.
	resumed func(*task.Task)
}

// Broker serializes clarification requests across the tasks sharing a
// session's queue.
type Broker struct {
	mu      sync.Mutex
	current *pending
	freed   chan struct{} // closed and replaced whenever current clears

	history *expirable.LRU[string, string]

	queue   *queue.Queue
	log     *eventlog.Log
	closed  bool
	onAsked func()
}

// SetOnAsked registers a callback invoked once per clarification question
// actually raised to the operator (history auto-resolves do not count).
// Optional: a nil receiver simply skips the hook.
func (b *Broker) SetOnAsked(fn func()) {
	b.mu.Lock()
	b.onAsked = fn
	b.mu.Unlock()
}

// New creates a Broker bound to q (for AWAITING_RESPONSE transitions) and
// log (for clarification events). historySize and historyTTL bound the
// repeat-question cache, per §6 defaults.
func New(q *queue.Queue, log *eventlog.Log, historySize int, historyTTL time.Duration) *Broker {
	if historySize <= 0 {
		historySize = 256
	}
	return &Broker{
		queue:   q,
		log:     log,
		history: expirable.NewLRU[string, string](historySize, nil, historyTTL),
		freed:   make(chan struct{}),
	}
}

func canonicalKey(taskID string, q Question) string {
	h := sha256.New()
	h.Write([]byte(q.Text))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(q.Options, "\x1f")))
	keys := make([]string, 0, len(q.Context))
	for k := range q.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte("="))
		h.Write([]byte(q.Context[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Ask blocks the calling executor goroutine until the operator (or cached
// history) supplies an answer, ctx is cancelled, or the broker is closed.
// It transitions taskID to AWAITING_RESPONSE for the duration of the wait,
// unless the question is resolved immediately from history.
func (b *Broker) Ask(ctx context.Context, taskID string, q Question) (string, error) {
	key := canonicalKey(taskID, q)
	if answer, ok := b.history.Get(key); ok {
		b.recordEvent(taskID, "clarify.auto_resolved", q, answer)
		return answer, nil
	}

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return "", ferrors.New(ferrors.KindSessionClosed, "", "session closed during clarification", nil)
		}
		if b.current != nil {
			if b.current.taskID != taskID {
				b.mu.Unlock()
				return "", ferrors.New(ferrors.KindOverlappingClarify, "",
					"another task is already awaiting a response", nil)
			}
			// Same task asking again while its own prior ask is still
			// pending: wait for that slot to free, then retry.
			wait := b.freed
			b.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		p := &pending{taskID: taskID, question: q, resolved: make(chan struct{})}
		b.current = p
		b.mu.Unlock()

		if _, err := b.queue.Transition(taskID, task.StateAwaitingResponse, queue.Delta{
			ClarificationQuestion: q.Text,
			ClarificationReason:   string(q.Type),
		}); err != nil {
			b.clearPending(p)
			return "", err
		}
		b.recordEvent(taskID, "clarify.asked", q, "")
		b.mu.Lock()
		onAsked := b.onAsked
		b.mu.Unlock()
		if onAsked != nil {
			onAsked()
		}

		select {
		case <-p.resolved:
			return p.answer, p.err
		case <-ctx.Done():
			b.clearPending(p)
			return "", ctx.Err()
		}
	}
}

// Respond supplies the operator's answer to the currently pending question
// for taskID. Numeric shortcuts ("1", "2", ...) resolve against the
// question's Options for SELECT_ONE/CONFIRM questions.
func (b *Broker) Respond(taskID, rawAnswer string) error {
	b.mu.Lock()
	p := b.current
	if p == nil || p.taskID != taskID {
		b.mu.Unlock()
		return ferrors.New(ferrors.KindUserInput, "", "no pending clarification for task "+taskID, nil)
	}
	answer := resolveAnswer(p.question, rawAnswer)
	b.current = nil
	closed := b.freed
	b.freed = make(chan struct{})
	b.mu.Unlock()
	close(closed)

	updated, err := b.queue.Transition(taskID, task.StateRunning, queue.Delta{UserResponse: answer})
	if err != nil {
		p.err = err
	} else {
		p.answer = answer
		b.history.Add(canonicalKey(taskID, p.question), answer)
	}
	b.recordEvent(taskID, "clarify.responded", p.question, answer)
	close(p.resolved)

	if err == nil && p.resumed != nil {
		p.resumed(updated)
	}
	return nil
}

// RegisterRestored re-seats a pending clarification for a task recovered in
// AWAITING_RESPONSE from a prior process's durable store: there is no live
// Ask goroutine blocked on it, so a later Respond call drives onResume with
// the task freshly transitioned to RUNNING instead of unblocking a channel
// receive, letting the caller start a new executor invocation for it, per
// §4.9's restart-resume requirement. No-op if a clarification is already
// pending (the one-slot mailbox holds at most one at a time).
func (b *Broker) RegisterRestored(taskID string, q Question, onResume func(*task.Task)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil {
		return
	}
	b.current = &pending{
		taskID:   taskID,
		question: q,
		resolved: make(chan struct{}),
		resumed:  onResume,
	}
}

func resolveAnswer(q Question, raw string) string {
	trimmed := strings.TrimSpace(raw)
	if q.Type != TypeSelectOne && q.Type != TypeConfirm {
		return raw
	}
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(q.Options) {
		return q.Options[n-1]
	}
	return raw
}

// Close rejects any in-flight clarification, moving its task to ERROR, per
// the session-teardown behavior in §4.5/§8.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	p := b.current
	b.current = nil
	b.mu.Unlock()

	if p == nil {
		return
	}
	p.err = ferrors.New(ferrors.KindSessionClosed, "", "session closed with a pending clarification", nil)
	_, _ = b.queue.Transition(p.taskID, task.StateError, queue.Delta{
		ErrorMessage: "session closed while awaiting a response",
	})
	close(p.resolved)
}

func (b *Broker) clearPending(p *pending) {
	b.mu.Lock()
	if b.current == p {
		b.current = nil
		closed := b.freed
		b.freed = make(chan struct{})
		close(closed)
	}
	b.mu.Unlock()
}

func (b *Broker) recordEvent(taskID, kind string, q Question, answer string) {
	if b.log == nil {
		return
	}
	payload := map[string]any{
		"kind":     kind,
		"question": q.Text,
		"type":     string(q.Type),
	}
	if answer != "" {
		payload["answer"] = answer
	}
	b.log.Record(eventlog.SourceTask, taskID, "", "", payload)
}
