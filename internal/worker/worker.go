// Package worker implements the Task Worker: a single goroutine per
// session that pulls the next QUEUED task, runs it through the Executor
// Supervisor, applies the verification pass, and persists the resulting
// evidence and immediate summary, per §4.3.
package worker

import (
	"context"
	"fmt"
	"time"

	"forge/internal/config"
	"forge/internal/eventlog"
	"forge/internal/evidence"
	"forge/internal/executor"
	"forge/internal/logging"
	"forge/internal/metrics"
	"forge/internal/queue"
	"forge/internal/store"
	"forge/internal/task"
	"forge/internal/trace"
	"forge/internal/verify"
)

// SummaryFunc is invoked with the rendered immediate summary whenever a
// task reaches a terminal state.
type SummaryFunc func(summary string)

// Worker drains one session's queue, one task at a time.
type Worker struct {
	cfg        config.Config
	queue      *queue.Queue
	supervisor *executor.Supervisor
	store      *store.Store
	log        *eventlog.Log
	namespace  string
	onSummary  SummaryFunc
	logger     logging.Logger
	metrics    *metrics.TaskMetrics

	stop chan struct{}
	done chan struct{}
}

// SetMetrics attaches Prometheus instrumentation. Optional: a nil
// receiver's Worker simply skips recording.
func (w *Worker) SetMetrics(m *metrics.TaskMetrics) { w.metrics = m }

// New creates a Worker bound to q, driven by supervisor, persisting to
// store under namespace, and emitting rendered summaries via onSummary.
func New(cfg config.Config, q *queue.Queue, supervisor *executor.Supervisor, st *store.Store, log *eventlog.Log, namespace string, onSummary SummaryFunc) *Worker {
	return &Worker{
		cfg:        cfg,
		queue:      q,
		supervisor: supervisor,
		store:      st,
		log:        log,
		namespace:  namespace,
		onSummary:  onSummary,
		logger:     logging.NewComponentLogger("worker"),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run drives the loop until Stop is called or ctx is cancelled. Intended
// to run in its own goroutine for the lifetime of a session.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		if w.metrics != nil {
			w.metrics.SetQueueDepth(w.queue.PendingCount())
		}

		t := w.queue.NextQueued()
		if t == nil {
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			}
			continue
		}

		w.runOne(ctx, t)
	}
}

// Stop signals the loop to exit and blocks until it has, so a caller can
// rely on no further task being picked up after Stop returns.
func (w *Worker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *Worker) runOne(ctx context.Context, t *task.Task) {
	running, err := w.queue.Transition(t.ID, task.StateRunning, queue.Delta{})
	if err != nil {
		w.logger.Error("cannot start task %s: %v", t.ID, err)
		return
	}
	w.log.Record(eventlog.SourceTask, t.ID, "", "", map[string]any{"kind": "task.started"})
	w.execute(ctx, running)
}

// Resume drives a new executor invocation for t, which is already RUNNING:
// the clarification broker's Respond call has already applied the
// AWAITING_RESPONSE -> RUNNING transition for a task recovered from a prior
// process and captured the operator's answer onto t.UserResponse, so there
// is no queued task to pull and no initial transition to make here, per
// §4.9's restart-resume path.
func (w *Worker) Resume(ctx context.Context, t *task.Task) {
	w.log.Record(eventlog.SourceTask, t.ID, "", "", map[string]any{"kind": "task.resumed"})
	w.execute(ctx, t)
}

func (w *Worker) execute(ctx context.Context, running *task.Task) {
	before, _ := verify.TakeSnapshot(w.cfg.ProjectPath, w.cfg.DirName)

	spanCtx, span := trace.StartTaskSpan(ctx, running.ID, w.namespace)
	timeout := w.cfg.EffectiveTimeout(0)
	outcome := w.supervisor.Execute(spanCtx, executor.Request{
		TaskID:       running.ID,
		Description:  running.Description,
		TaskType:     string(running.TaskType),
		WorkingDir:   w.cfg.ProjectPath,
		UserResponse: running.UserResponse,
	}, timeout)
	trace.MarkResult(span, string(outcome.Kind), outcomeError(outcome))
	span.End()

	if w.metrics != nil {
		w.metrics.RecordDuration(string(outcome.Kind), outcome.Duration.Seconds())
		if outcome.Kind == executor.KindTimeout {
			w.metrics.RecordTimeout()
		}
	}

	w.finish(ctx, running, outcome, before)
}

func outcomeError(outcome executor.Outcome) error {
	if outcome.Kind == executor.KindOK {
		return nil
	}
	return fmt.Errorf("%s: %s", outcome.Kind, outcome.Reason)
}

func (w *Worker) finish(ctx context.Context, t *task.Task, outcome executor.Outcome, before verify.Snapshot) {
	var (
		newState task.State
		errMsg   string
		summary  = outcome.ResponseSummary
	)

	verifyCtx, verifySpan := trace.StartVerifySpan(ctx, t.ID)
	verified, verr := verify.Verify(verifyCtx, w.cfg.ProjectPath, outcome.FilesModified, before)
	trace.MarkResult(verifySpan, "verified", verr)
	verifySpan.End()
	if verr != nil {
		w.logger.Warn("verification failed for task %s: %v", t.ID, verr)
	}

	switch outcome.Kind {
	case executor.KindOK:
		if t.TaskType == task.TypeImplementation && len(verified) == 0 {
			newState = task.StateIncomplete
			errMsg = "no_file_changes_verified"
		} else {
			newState = task.StateComplete
		}
	case executor.KindTimeout:
		newState = task.StateIncomplete
		errMsg = "executor_timeout"
	case executor.KindBlocked:
		newState = task.StateIncomplete
		errMsg = errOrDefault(outcome.Reason, "executor_blocked")
	case executor.KindError:
		newState = task.StateError
		errMsg = errOrDefault(outcome.Reason, "executor_error")
	default:
		newState = task.StateError
		errMsg = "unknown_outcome"
	}

	files := make([]string, 0, len(verified))
	for _, vf := range verified {
		files = append(files, vf.Path)
	}

	updated, err := w.queue.Transition(t.ID, newState, queue.Delta{
		FilesModified:   files,
		ErrorMessage:    errMsg,
		ResponseSummary: summary,
		ResultStatus:    string(newState),
	})
	if err != nil {
		w.logger.Error("cannot finish task %s: %v", t.ID, err)
		return
	}

	rec := evidence.Build(updated.ID, string(updated.State), updated.FilesModified, verified, outcome.StderrTail, outcome.ExecutionMode)
	w.log.Record(eventlog.SourceTask, updated.ID, "", "", map[string]any{
		"kind":           "task.terminal",
		"evidence_hash":  rec.Hash,
		"execution_mode": rec.ExecutionMode,
	})

	w.store.Save(w.namespace, w.queue.Snapshot())

	if w.metrics != nil {
		w.metrics.RecordTerminal(string(updated.State))
	}

	if w.onSummary != nil {
		next := "(none)"
		if nt := w.queue.NextQueued(); nt != nil {
			next = nt.ID
		}
		w.onSummary(evidence.Summary(updated, rec, next))
	}
}

func errOrDefault(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
