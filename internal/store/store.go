// Package store implements the Durable Queue Store: a best-effort,
// atomic JSON snapshot of every namespace's task queue, adapted from the
// teacher's InMemoryTaskStore persistence (task_store.go) and generalized
// from a single global task map to (namespace, taskID) keying so multiple
// sessions can share one state directory without colliding, per §4.9.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"forge/internal/logging"
	"forge/internal/task"
)

// Store persists task snapshots for every namespace sharing dir to a single
// JSON file, written atomically (temp file + rename) on every mutation. A
// write failure is logged and swallowed: persistence is best-effort and
// never blocks task processing, matching the teacher's persistLocked.
type Store struct {
	mu   sync.Mutex
	path string
	logger logging.Logger

	namespaces map[string]map[string]*task.Task
}

type persisted struct {
	Version    int                          `json:"version"`
	Namespaces map[string][]*task.Task `json:"namespaces"`
}

// Open loads any existing snapshot at path (dir/forge-store.json) and
// returns a Store ready for use. A missing file is not an error.
func Open(dir string) *Store {
	s := &Store{
		path:       filepath.Join(dir, "forge-store.json"),
		logger:     logging.NewComponentLogger("store"),
		namespaces: make(map[string]map[string]*task.Task),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to load store file %s: %v", s.path, err)
		}
		return
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("failed to parse store file %s: %v", s.path, err)
		return
	}

	for ns, tasks := range p.Namespaces {
		bucket := make(map[string]*task.Task, len(tasks))
		for _, t := range tasks {
			if t == nil || strings.TrimSpace(t.ID) == "" {
				continue
			}
			bucket[t.ID] = t
		}
		s.namespaces[ns] = bucket
	}
}

// Save snapshots namespace's full task set, replacing whatever was
// previously stored for it, and persists the combined file atomically.
func (s *Store) Save(namespace string, tasks []*task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		bucket[t.ID] = t
	}
	s.namespaces[namespace] = bucket
	s.persistLocked()
}

// Load returns the last-persisted snapshot for namespace, or nil if none.
func (s *Store) Load(namespace string) []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.namespaces[namespace]
	out := make([]*task.Task, 0, len(bucket))
	for _, t := range bucket {
		out = append(out, t.Clone())
	}
	return out
}

// RecoverStale downgrades every RUNNING task in namespace back to QUEUED,
// for the restart path: a task that was mid-flight when the process died
// has no live supervisor, so it re-enters the queue rather than being
// reported lost, per §4.9's recovery rule.
func (s *Store) RecoverStale(namespace string) []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.namespaces[namespace]
	var recovered []*task.Task
	for _, t := range bucket {
		if t.State == task.StateRunning {
			t.State = task.StateQueued
			t.StartedAt = nil
			recovered = append(recovered, t.Clone())
		}
	}
	if len(recovered) > 0 {
		s.persistLocked()
	}
	return recovered
}

func (s *Store) persistLocked() {
	payload := persisted{Version: 1, Namespaces: make(map[string][]*task.Task, len(s.namespaces))}
	for ns, bucket := range s.namespaces {
		tasks := make([]*task.Task, 0, len(bucket))
		for _, t := range bucket {
			tasks = append(tasks, t)
		}
		payload.Namespaces[ns] = tasks
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to encode store payload: %v", err)
		return
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("failed to create store directory %s: %v", dir, err)
		return
	}

	tmpPath := fmt.Sprintf("%s.tmp-%d", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		s.logger.Warn("failed to write store temp file %s: %v", tmpPath, err)
		return
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		s.logger.Warn("failed to atomically persist store to %s: %v", s.path, err)
	}
}
