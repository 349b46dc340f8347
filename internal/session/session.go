// Package session implements the Session Manager: resolving the project
// root for the configured ProjectMode, opening the Queue/Store/EventLog/
// Broker/Worker for one run, recovering stale RUNNING tasks on restart,
// and tearing everything down cleanly on close, per §4.1.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"forge/internal/clarify"
	"forge/internal/config"
	"forge/internal/errors"
	"forge/internal/eventlog"
	"forge/internal/executor"
	"forge/internal/logging"
	"forge/internal/metrics"
	"forge/internal/queue"
	"forge/internal/redact"
	"forge/internal/store"
	"forge/internal/task"
	"forge/internal/worker"
)

// Session is one opened instance of forge's core: a queue, its durable
// store, its event log, its clarification broker, and the worker loop
// draining it.
type Session struct {
	ID         string
	cfg        config.Config
	Queue      *queue.Queue
	Store      *store.Store
	Log        *eventlog.Log
	Broker     *clarify.Broker
	Worker     *worker.Worker
	Restricted bool // true when the resolved project root failed validation

	logger logging.Logger
	cancel context.CancelFunc
}

// Open resolves cfg.ProjectMode to a concrete project path, recovers any
// stale state from a prior run under the same namespace, and starts the
// worker loop. Callers must call Close when done. m may be nil, in which
// case the worker records no Prometheus metrics — tests that open many
// short-lived sessions should pass nil to avoid re-registering the same
// collectors against the default registerer.
func Open(ctx context.Context, cfg config.Config, exec executor.Executor, onSummary worker.SummaryFunc, m *metrics.TaskMetrics) (*Session, error) {
	logger := logging.NewComponentLogger("session")

	projectPath, restricted, err := resolveProjectRoot(cfg)
	if err != nil {
		return nil, errors.New(errors.KindSessionPersistFailed, "", "failed to resolve project root", err)
	}
	cfg.ProjectPath = projectPath

	id := newSessionID()
	q := queue.New(id)
	st := store.Open(cfg.StateDir)
	log := eventlog.New(id, cfg.RedactEnvKeys)
	log.SetTraceDir(filepath.Join(cfg.StateDir, "traces"))
	log.SetRedactor(redact.New(redact.Policy{
		MinTokenLength:     cfg.RedactMinTokenLength,
		EntropyThreshold:   cfg.RedactEntropyThreshold,
		DisablePatternScan: cfg.RedactDisablePatternScan,
	}))
	broker := clarify.New(q, log, cfg.ClarifyHistorySize, cfg.ClarifyHistoryTTL)

	recovered := st.RecoverStale(cfg.Namespace)
	for _, t := range recovered {
		logger.Warn("recovered stale RUNNING task %s back to QUEUED after restart", t.ID)
	}
	q.RestoreAll(st.Load(cfg.Namespace))

	// Persist on every queue mutation, not just terminal transitions: a
	// crash between enqueue and a task's first RUNNING transition (or
	// between RUNNING and AWAITING_RESPONSE) must still leave every task
	// recoverable on restart, per §4.9.
	q.SetOnChange(func() { st.Save(cfg.Namespace, q.Snapshot()) })

	supervisor := executor.New(exec, broker)
	w := worker.New(cfg, q, supervisor, st, log, cfg.Namespace, onSummary)
	if m != nil {
		w.SetMetrics(m)
		broker.SetOnAsked(m.RecordClarifyAsked)
	}

	runCtx, cancel := context.WithCancel(ctx)

	// A task recovered in AWAITING_RESPONSE has no live Ask goroutine in
	// this process to unblock: re-seat its pending clarification on the
	// fresh Broker so a later Respond still finds it and can start a new
	// executor invocation for it, per §4.9.
	for _, t := range q.Snapshot() {
		if t.State != task.StateAwaitingResponse {
			continue
		}
		restored := t
		broker.RegisterRestored(restored.ID, clarify.Question{
			Type: clarify.Type(restored.ClarificationReason),
			Text: restored.ClarificationQuestion,
		}, func(resumed *task.Task) {
			go w.Resume(runCtx, resumed)
		})
	}

	go w.Run(runCtx)

	s := &Session{
		ID:         id,
		cfg:        cfg,
		Queue:      q,
		Store:      st,
		Log:        log,
		Broker:     broker,
		Worker:     w,
		Restricted: restricted,
		logger:     logger,
		cancel:     cancel,
	}

	log.Record(eventlog.SourceSession, "", "", "", map[string]any{
		"kind":       "session.start",
		"session_id": id,
		"restricted": restricted,
	})
	return s, nil
}

// Close stops the worker loop, rejects any pending clarification, and
// records session.end.
func (s *Session) Close() {
	s.cancel()
	s.Worker.Stop()
	s.Broker.Close()
	s.Store.Save(s.cfg.Namespace, s.Queue.Snapshot())
	s.Log.Record(eventlog.SourceSession, "", "", "", map[string]any{
		"kind":       "session.end",
		"session_id": s.ID,
	})
}

// resolveProjectRoot implements the ProjectMode contract: cwd uses the
// process's working directory, fixed uses cfg.ProjectPath verbatim, temp
// creates a fresh scratch directory. Restricted is true when the resolved
// path does not exist or is not a directory, in which case the session
// still opens but every IMPLEMENTATION task is refused verification
// credit (read-only operation), per §4.1's degraded-mode rule.
func resolveProjectRoot(cfg config.Config) (string, bool, error) {
	switch cfg.ProjectMode {
	case config.ProjectModeTemp:
		dir, err := os.MkdirTemp("", "forge-session-*")
		if err != nil {
			return "", false, err
		}
		return dir, false, nil
	case config.ProjectModeFixed:
		path := cfg.ProjectPath
		if path == "" {
			return "", true, fmt.Errorf("fixed project mode requires project_path")
		}
		return path, !isValidProjectDir(path), nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", false, err
		}
		return cwd, !isValidProjectDir(cwd), nil
	}
}

func isValidProjectDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func newSessionID() string {
	return fmt.Sprintf("sess-%d-%s", os.Getpid(), uuid.NewString())
}
