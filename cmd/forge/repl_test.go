package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/config"
	"forge/internal/executor/stub"
	"forge/internal/session"
	"forge/internal/task"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	cfg := config.Defaults()
	cfg.ProjectMode = config.ProjectModeFixed
	cfg.ProjectPath = t.TempDir()
	cfg.StateDir = t.TempDir()
	cfg.ExecutionMode = "recovery-stub"
	cfg.RecoveryScenario = stub.ScenarioComplete
	cfg.Namespace = "repl-test"

	sess, err := session.Open(context.Background(), cfg, stub.New(stub.ScenarioComplete, 0), nil, nil)
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

func TestHandleCommandExitQuits(t *testing.T) {
	sess := newTestSession(t)
	assert.True(t, handleCommand(sess, "/exit"))
	assert.True(t, handleCommand(sess, "/quit"))
}

func TestHandleCommandUnknownDoesNotQuit(t *testing.T) {
	sess := newTestSession(t)
	assert.False(t, handleCommand(sess, "/bogus"))
}

func TestHandleCommandRespondDeliversAnswer(t *testing.T) {
	cfg := config.Defaults()
	cfg.ProjectMode = config.ProjectModeFixed
	cfg.ProjectPath = t.TempDir()
	cfg.StateDir = t.TempDir()
	cfg.ExecutionMode = "recovery-stub"
	cfg.RecoveryScenario = stub.ScenarioClarify
	cfg.Namespace = "repl-respond"

	sess, err := session.Open(context.Background(), cfg, stub.New(stub.ScenarioClarify, 0), nil, nil)
	require.NoError(t, err)
	defer sess.Close()

	id := sess.Queue.Enqueue("produce some output", task.TypeImplementation)
	require.Eventually(t, func() bool {
		tk := sess.Queue.Find(id)
		return tk != nil && tk.State == task.StateAwaitingResponse
	}, time.Second, 5*time.Millisecond)

	assert.False(t, handleCommand(sess, "/respond "+id+" json"))

	require.Eventually(t, func() bool {
		tk := sess.Queue.Find(id)
		return tk != nil && tk.State.IsTerminal()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, task.StateComplete, sess.Queue.Find(id).State)
}

func TestBareExitWordIsRejectedAsATypo(t *testing.T) {
	assert.True(t, isBareExitTypo("exit"))
	assert.False(t, isBareExitTypo("/exit"))
	assert.False(t, isBareExitTypo("exit now"))
	assert.False(t, isBareExitTypo(""))
}
