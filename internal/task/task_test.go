package task

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateQueued, StateRunning, true},
		{StateQueued, StateComplete, false},
		{StateRunning, StateComplete, true},
		{StateRunning, StateIncomplete, true},
		{StateRunning, StateError, true},
		{StateRunning, StateAwaitingResponse, true},
		{StateAwaitingResponse, StateRunning, true},
		{StateAwaitingResponse, StateError, true},
		{StateAwaitingResponse, StateComplete, false},
		{StateComplete, StateRunning, false},
		{StateError, StateQueued, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []State{StateComplete, StateIncomplete, StateError}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []State{StateQueued, StateRunning, StateAwaitingResponse}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &Task{ID: "t1", FilesModified: []string{"a.go"}}
	clone := orig.Clone()
	clone.FilesModified[0] = "b.go"
	if orig.FilesModified[0] != "a.go" {
		t.Fatal("Clone should deep-copy FilesModified")
	}
	clone.ID = "t2"
	if orig.ID != "t1" {
		t.Fatal("Clone should not alias the original")
	}
}
