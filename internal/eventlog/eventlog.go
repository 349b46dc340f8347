// Package eventlog implements the append-only Event/Trace Log: every
// state transition, subprocess invocation, and file change emits an
// EventRecord with a stable id and parent-event relations forming a
// directed graph, per §4.8.
package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"forge/internal/logging"
	"forge/internal/redact"
)

// Source tags where an event originated.
type Source string

const (
	SourceFileChange Source = "file_change"
	SourceExecutor   Source = "executor"
	SourceTask       Source = "task"
	SourceSession    Source = "session"
	SourceCommand    Source = "command"
)

// Record is one append-only entry.
type Record struct {
	ID            string
	Timestamp     time.Time
	Source        Source
	TaskID        string
	SessionID     string
	ExecutorID    string
	ParentEventID string
	Iteration     int // this task's attempt number; bumped on task.started/task.resumed
	Payload       map[string]any
}

// Log is a single session's append-only event store, safe for concurrent
// append across sessions (each Log instance is scoped to one session, so
// this only needs to serialize its own appends).
type Log struct {
	mu      sync.Mutex
	records []Record
	counter uint64
	prefix  string
	redactKeys []string

	traceDir  string // if set, traces are additionally persisted as task-scoped files
	iteration map[string]int
	logger    logging.Logger
	redactor  *redact.Redactor // nil falls back to the package-default policy
}

// SetRedactor swaps in a deployment-tuned Redactor built from forge's
// Config. Optional: a nil receiver keeps the default entropy/pattern
// policy.
func (l *Log) SetRedactor(r *redact.Redactor) {
	l.mu.Lock()
	l.redactor = r
	l.mu.Unlock()
}

// New creates an empty Log. prefix doubles as the session id: it keeps
// event ids distinguishable when multiple sessions' logs are merged for a
// query, and tags every record's SessionID.
func New(prefix string, redactKeys []string) *Log {
	return &Log{
		prefix:     prefix,
		redactKeys: redactKeys,
		iteration:  make(map[string]int),
		logger:     logging.NewComponentLogger("eventlog"),
	}
}

// SetTraceDir enables task-scoped file persistence: every subsequent
// Record call with a non-empty taskID is additionally appended as a JSON
// line to <dir>/<taskID>.jsonl, per §4.8's "traces are task-scoped files"
// requirement. Optional: an empty dir (the default) keeps traces
// in-memory only.
func (l *Log) SetTraceDir(dir string) {
	l.mu.Lock()
	l.traceDir = dir
	l.mu.Unlock()
}

func (l *Log) nextID() string {
	n := atomic.AddUint64(&l.counter, 1)
	return l.prefix + "-evt-" + itoa(n)
}

// Record appends a new EventRecord and returns its assigned id. Payload
// string values are passed through the redaction filter before being
// stored, per §6's "applied immediately on capture" requirement.
func (l *Log) Record(source Source, taskID, executorID, parentEventID string, payload map[string]any) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID()
	rec := Record{
		ID:            id,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		TaskID:        taskID,
		SessionID:     l.prefix,
		ExecutorID:    executorID,
		ParentEventID: parentEventID,
		Iteration:     l.iterationFor(taskID, payload),
		Payload:       l.redactPayload(payload),
	}
	l.records = append(l.records, rec)
	l.appendTraceFileLocked(rec)
	return id
}

// iterationFor tracks how many times taskID has (re)started: a task
// resumed after a restart gets a new iteration number so a "latest
// iteration only" query can discard a stale pre-crash attempt's records.
// Must be called with l.mu held.
func (l *Log) iterationFor(taskID string, payload map[string]any) int {
	if taskID == "" {
		return 0
	}
	if kind, _ := payload["kind"].(string); kind == "task.started" || kind == "task.resumed" {
		l.iteration[taskID]++
	}
	if l.iteration[taskID] == 0 {
		l.iteration[taskID] = 1
	}
	return l.iteration[taskID]
}

// appendTraceFileLocked best-effort appends rec to its task-scoped trace
// file. Must be called with l.mu held.
func (l *Log) appendTraceFileLocked(rec Record) {
	if l.traceDir == "" || rec.TaskID == "" {
		return
	}
	if err := os.MkdirAll(l.traceDir, 0o755); err != nil {
		l.logger.Warn("failed to create trace directory %s: %v", l.traceDir, err)
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		l.logger.Warn("failed to encode trace record: %v", err)
		return
	}
	path := filepath.Join(l.traceDir, rec.TaskID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		l.logger.Warn("failed to open trace file %s: %v", path, err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		l.logger.Warn("failed to append trace file %s: %v", path, err)
	}
}

// redactPayload must be called with l.mu held.
func (l *Log) redactPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	str, envKeys := redact.String, redact.EnvKeys
	if l.redactor != nil {
		str, envKeys = l.redactor.String, l.redactor.EnvKeys
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			out[k] = envKeys(str(s), l.redactKeys)
			continue
		}
		out[k] = v
	}
	return out
}

// Get returns the record with the given id, if present.
func (l *Log) Get(id string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Query filters and orders records. Limit <= 0 means unbounded.
type Query struct {
	Source    Source
	SessionID string
	TaskID    string
	Limit     int
	Newest    bool // true = newest first, false = oldest first (default)

	// LatestIterationOnly discards a task's records from every iteration
	// except its highest, per §4.8's "latest iteration only" view — useful
	// after a restart-resume left a stale pre-crash attempt's trace mixed
	// in with the task's final run.
	LatestIterationOnly bool
}

func (l *Log) Query(q Query) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		if q.Source != "" && r.Source != q.Source {
			continue
		}
		if q.SessionID != "" && r.SessionID != q.SessionID {
			continue
		}
		if q.TaskID != "" && r.TaskID != q.TaskID {
			continue
		}
		out = append(out, r)
	}

	if q.LatestIterationOnly {
		out = latestIterationOnly(out)
	}

	if q.Newest {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// latestIterationOnly keeps, per taskID, only the records from that task's
// highest Iteration; records with no taskID (Iteration 0) pass through.
func latestIterationOnly(records []Record) []Record {
	maxIter := make(map[string]int)
	for _, r := range records {
		if r.TaskID == "" {
			continue
		}
		if r.Iteration > maxIter[r.TaskID] {
			maxIter[r.TaskID] = r.Iteration
		}
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.TaskID != "" && r.Iteration != maxIter[r.TaskID] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// GetRelated returns every record reachable from id via parentEventID
// relations, in either direction (children of id, and id's own ancestry).
func (l *Log) GetRelated(id string) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	byID := make(map[string]Record, len(l.records))
	children := make(map[string][]string)
	for _, r := range l.records {
		byID[r.ID] = r
		if r.ParentEventID != "" {
			children[r.ParentEventID] = append(children[r.ParentEventID], r.ID)
		}
	}

	var related []Record
	seen := map[string]bool{id: true}

	// Ancestors.
	cur, ok := byID[id]
	for ok && cur.ParentEventID != "" && !seen[cur.ParentEventID] {
		parent, pok := byID[cur.ParentEventID]
		if !pok {
			break
		}
		related = append(related, parent)
		seen[parent.ID] = true
		cur = parent
		ok = pok
	}

	// Descendants (BFS).
	queue := append([]string(nil), children[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		if rec, ok := byID[next]; ok {
			related = append(related, rec)
		}
		queue = append(queue, children[next]...)
	}

	return related
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
