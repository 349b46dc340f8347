package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/clarify"
	"forge/internal/config"
	"forge/internal/eventlog"
	"forge/internal/executor"
	"forge/internal/executor/stub"
	"forge/internal/queue"
	"forge/internal/store"
	"forge/internal/task"
)

func newTestWorker(t *testing.T, scenario string, onSummary SummaryFunc) (*Worker, *queue.Queue, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Defaults()
	cfg.ProjectPath = dir
	cfg.ExecutorTimeout = 200 * time.Millisecond

	q := queue.New("t")
	log := eventlog.New("t", nil)
	broker := clarify.New(q, log, 16, time.Minute)
	exec := stub.New(scenario, 2*time.Second)
	sup := executor.New(exec, broker)
	st := store.Open(t.TempDir())

	return New(cfg, q, sup, st, log, "ns", onSummary), q, dir
}

func TestRunOneCompleteTransitionsToComplete(t *testing.T) {
	var summary string
	w, q, dir := newTestWorker(t, stub.ScenarioComplete, func(s string) { summary = s })

	id := q.Enqueue("Create a file out.txt with content hi", task.TypeImplementation)
	w.runOne(context.Background(), q.Find(id))

	final := q.Find(id)
	assert.Equal(t, task.StateComplete, final.State)
	assert.Contains(t, summary, "RESULT: COMPLETE")
	assert.FileExists(t, filepath.Join(dir, "out.txt"))
}

func TestRunOneNoEvidenceTransitionsToIncomplete(t *testing.T) {
	w, q, _ := newTestWorker(t, stub.ScenarioNoEvidence, nil)
	id := q.Enqueue("do something invisible", task.TypeImplementation)

	w.runOne(context.Background(), q.Find(id))

	final := q.Find(id)
	assert.Equal(t, task.StateIncomplete, final.State)
	assert.Equal(t, "no_file_changes_verified", final.ErrorMessage)
}

func TestRunOneTimeoutTransitionsToIncomplete(t *testing.T) {
	w, q, _ := newTestWorker(t, stub.ScenarioTimeout, nil)
	id := q.Enqueue("block forever", task.TypeImplementation)

	w.runOne(context.Background(), q.Find(id))

	final := q.Find(id)
	assert.Equal(t, task.StateIncomplete, final.State)
	assert.Equal(t, "executor_timeout", final.ErrorMessage)
}

func TestRunOneErrorTransitionsToError(t *testing.T) {
	w, q, _ := newTestWorker(t, stub.ScenarioError, nil)
	id := q.Enqueue("force an error", task.TypeImplementation)

	w.runOne(context.Background(), q.Find(id))

	final := q.Find(id)
	assert.Equal(t, task.StateError, final.State)
}

func TestResumeUsesStoredUserResponseWithoutAsking(t *testing.T) {
	w, q, dir := newTestWorker(t, stub.ScenarioClarify, nil)

	id := q.Enqueue("produce output in some format", task.TypeImplementation)
	// Simulate the broker restart-resume path: the task is already RUNNING
	// with its clarification answer attached, as Broker.Respond leaves it
	// for a task recovered after a crash. No queue.NextQueued involved.
	running, err := q.Transition(id, task.StateRunning, queue.Delta{UserResponse: "yaml"})
	require.NoError(t, err)

	w.Resume(context.Background(), running)

	final := q.Find(id)
	assert.Equal(t, task.StateComplete, final.State)
	assert.FileExists(t, filepath.Join(dir, "output.yaml"))
}

func TestRunDrainsQueueUntilStopped(t *testing.T) {
	w, q, dir := newTestWorker(t, stub.ScenarioComplete, nil)

	a := q.Enqueue("Create a file a.txt with content a", task.TypeImplementation)
	b := q.Enqueue("Create a file b.txt with content b", task.TypeImplementation)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return q.Find(a).State.IsTerminal() && q.Find(b).State.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	assert.FileExists(t, filepath.Join(dir, "a.txt"))
	assert.FileExists(t, filepath.Join(dir, "b.txt"))
}
