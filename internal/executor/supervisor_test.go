package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/clarify"
	"forge/internal/eventlog"
	"forge/internal/queue"
	"forge/internal/task"
)

type fakeExecutor struct {
	name, mode string
	run        func(ctx context.Context, req Request, ask AskFunc) (*Result, error)
}

func (f *fakeExecutor) Name() string { return f.name }
func (f *fakeExecutor) Mode() string { return f.mode }
func (f *fakeExecutor) Run(ctx context.Context, req Request, ask AskFunc) (*Result, error) {
	return f.run(ctx, req, ask)
}

func newTestBroker() *clarify.Broker {
	q := queue.New("t")
	log := eventlog.New("t", nil)
	return clarify.New(q, log, 16, time.Minute)
}

func TestSupervisorClassifiesOK(t *testing.T) {
	exec := &fakeExecutor{name: "fake", mode: "live", run: func(ctx context.Context, req Request, ask AskFunc) (*Result, error) {
		return &Result{FilesModified: []string{"a.go"}, ResponseSummary: "done"}, nil
	}}
	s := New(exec, newTestBroker())

	out := s.Execute(context.Background(), Request{TaskID: "t1"}, time.Second)
	assert.Equal(t, KindOK, out.Kind)
	assert.Equal(t, []string{"a.go"}, out.FilesModified)
}

func TestSupervisorClassifiesError(t *testing.T) {
	exec := &fakeExecutor{name: "fake", mode: "live", run: func(ctx context.Context, req Request, ask AskFunc) (*Result, error) {
		return nil, errors.New("boom")
	}}
	s := New(exec, newTestBroker())

	out := s.Execute(context.Background(), Request{TaskID: "t1"}, time.Second)
	assert.Equal(t, KindError, out.Kind)
	assert.Contains(t, out.Reason, "boom")
}

func TestSupervisorClassifiesBlocked(t *testing.T) {
	exec := &fakeExecutor{name: "fake", mode: "live", run: func(ctx context.Context, req Request, ask AskFunc) (*Result, error) {
		return &Result{Blocked: true, BlockedReason: "cannot proceed"}, nil
	}}
	s := New(exec, newTestBroker())

	out := s.Execute(context.Background(), Request{TaskID: "t1"}, time.Second)
	assert.Equal(t, KindBlocked, out.Kind)
	assert.Equal(t, "cannot proceed", out.Reason)
}

func TestSupervisorClassifiesTimeout(t *testing.T) {
	exec := &fakeExecutor{name: "fake", mode: "live", run: func(ctx context.Context, req Request, ask AskFunc) (*Result, error) {
		select {
		case <-time.After(time.Second):
			return &Result{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	s := New(exec, newTestBroker())

	out := s.Execute(context.Background(), Request{TaskID: "t1"}, 20*time.Millisecond)
	assert.Equal(t, KindTimeout, out.Kind)
}

func TestSupervisorRelaysAskToBroker(t *testing.T) {
	q := queue.New("t")
	id := q.Enqueue("desc", task.TypeImplementation)
	_, err := q.Transition(id, task.StateRunning, queue.Delta{})
	require.NoError(t, err)
	broker := clarify.New(q, eventlog.New("t", nil), 16, time.Minute)

	exec := &fakeExecutor{name: "fake", mode: "live", run: func(ctx context.Context, req Request, ask AskFunc) (*Result, error) {
		answer, err := ask(ctx, clarify.Question{Type: clarify.TypeFreeText, Text: "which?"})
		if err != nil {
			return nil, err
		}
		return &Result{ResponseSummary: "got " + answer}, nil
	}}
	s := New(exec, broker)

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if q.Find(id).State == task.StateAwaitingResponse {
				break
			}
			time.Sleep(time.Millisecond)
		}
		_ = broker.Respond(id, "answer")
	}()

	out := s.Execute(context.Background(), Request{TaskID: id}, time.Second)
	assert.Equal(t, KindOK, out.Kind)
	assert.Equal(t, "got answer", out.ResponseSummary)
}
