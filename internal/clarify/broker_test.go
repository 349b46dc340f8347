package clarify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/eventlog"
	"forge/internal/queue"
	"forge/internal/task"
)

func newTestBroker(t *testing.T) (*Broker, *queue.Queue, string) {
	t.Helper()
	q := queue.New("t")
	id := q.Enqueue("do a thing", task.TypeImplementation)
	_, err := q.Transition(id, task.StateRunning, queue.Delta{})
	require.NoError(t, err)

	log := eventlog.New("t", nil)
	b := New(q, log, 16, time.Minute)
	return b, q, id
}

func TestAskBlocksAndRespondUnblocks(t *testing.T) {
	b, q, id := newTestBroker(t)

	type askResult struct {
		answer string
		err    error
	}
	results := make(chan askResult, 1)
	go func() {
		answer, err := b.Ask(context.Background(), id, Question{Type: TypeFreeText, Text: "which file?"})
		results <- askResult{answer, err}
	}()

	require.Eventually(t, func() bool {
		return q.Find(id).State == task.StateAwaitingResponse
	}, time.Second, time.Millisecond)

	require.NoError(t, b.Respond(id, "main.go"))

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, "main.go", r.answer)
	case <-time.After(time.Second):
		t.Fatal("Ask did not return after Respond")
	}
	assert.Equal(t, task.StateRunning, q.Find(id).State)
}

func TestAskResolvesNumericShortcutForSelectOne(t *testing.T) {
	b, _, id := newTestBroker(t)

	results := make(chan string, 1)
	go func() {
		answer, _ := b.Ask(context.Background(), id, Question{
			Type: TypeSelectOne, Text: "format?", Options: []string{"json", "yaml"},
		})
		results <- answer
	}()

	require.Eventually(t, func() bool { return b.current != nil }, time.Second, time.Millisecond)
	require.NoError(t, b.Respond(id, "2"))

	assert.Equal(t, "yaml", <-results)
}

func TestAskFromDifferentTaskIsRejectedAsOverlapping(t *testing.T) {
	b, q, id := newTestBroker(t)
	other := q.Enqueue("second task", task.TypeImplementation)
	_, err := q.Transition(other, task.StateRunning, queue.Delta{})
	require.NoError(t, err)

	go func() { _, _ = b.Ask(context.Background(), id, Question{Type: TypeFreeText, Text: "q1"}) }()
	require.Eventually(t, func() bool { return b.current != nil }, time.Second, time.Millisecond)

	_, err = b.Ask(context.Background(), other, Question{Type: TypeFreeText, Text: "q2"})
	assert.Error(t, err)
}

func TestHistoryAutoResolvesRepeatedQuestion(t *testing.T) {
	b, q, id := newTestBroker(t)
	q1 := Question{Type: TypeFreeText, Text: "same question"}

	results := make(chan string, 1)
	go func() {
		answer, _ := b.Ask(context.Background(), id, q1)
		results <- answer
	}()
	require.Eventually(t, func() bool { return b.current != nil }, time.Second, time.Millisecond)
	require.NoError(t, b.Respond(id, "first answer"))
	assert.Equal(t, "first answer", <-results)

	second := q.Enqueue("another task", task.TypeImplementation)
	_, err := q.Transition(second, task.StateRunning, queue.Delta{})
	require.NoError(t, err)

	answer, err := b.Ask(context.Background(), second, q1)
	require.NoError(t, err)
	assert.Equal(t, "first answer", answer)
	assert.Equal(t, task.StateRunning, q.Find(second).State, "auto-resolved ask never enters AWAITING_RESPONSE")
}

func TestCloseRejectsPendingClarification(t *testing.T) {
	b, q, id := newTestBroker(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Ask(context.Background(), id, Question{Type: TypeFreeText, Text: "q"})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return b.current != nil }, time.Second, time.Millisecond)

	b.Close()

	err := <-errCh
	assert.Error(t, err)
	assert.Equal(t, task.StateError, q.Find(id).State)
}

func TestRegisterRestoredLetsRespondResumeWithoutALiveAsk(t *testing.T) {
	q := queue.New("t")
	id := q.Enqueue("produce output", task.TypeImplementation)
	_, err := q.Transition(id, task.StateRunning, queue.Delta{})
	require.NoError(t, err)
	_, err = q.Transition(id, task.StateAwaitingResponse, queue.Delta{
		ClarificationQuestion: "which format?",
		ClarificationReason:   string(TypeSelectOne),
	})
	require.NoError(t, err)

	log := eventlog.New("t", nil)
	b := New(q, log, 16, time.Minute)

	var resumed *task.Task
	b.RegisterRestored(id, Question{Type: TypeSelectOne, Text: "which format?", Options: []string{"json", "yaml"}},
		func(t *task.Task) { resumed = t })

	require.NoError(t, b.Respond(id, "yaml"))

	require.NotNil(t, resumed, "Respond must invoke the resumed callback with no live Ask goroutine involved")
	assert.Equal(t, task.StateRunning, resumed.State)
	assert.Equal(t, "yaml", resumed.UserResponse)
	assert.Equal(t, task.StateRunning, q.Find(id).State)
}

func TestSetOnAskedFiresOnlyOnRealAsk(t *testing.T) {
	b, _, id := newTestBroker(t)
	var calls int
	b.SetOnAsked(func() { calls++ })

	go func() { _, _ = b.Ask(context.Background(), id, Question{Type: TypeFreeText, Text: "q"}) }()
	require.Eventually(t, func() bool { return b.current != nil }, time.Second, time.Millisecond)
	require.NoError(t, b.Respond(id, "a"))

	assert.Equal(t, 1, calls)
}
