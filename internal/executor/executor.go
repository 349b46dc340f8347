// Package executor defines the Executor contract and the Supervisor that
// runs one against a task, enforcing the hard wall-clock timeout and
// classifying the result into a tagged SupervisorOutcome, grounded on the
// teacher's ExternalAgentExecutor interface (internal/domain/agent/ports/
// agent/external_agent.go), per §4.4.
package executor

import (
	"context"
	"time"

	"forge/internal/clarify"
)

// AskFunc lets an Executor request operator input mid-run. It blocks the
// calling goroutine until answered, the context is cancelled, or the
// broker rejects the request (overlapping clarification, closed session).
type AskFunc func(ctx context.Context, question clarify.Question) (string, error)

// Request is everything an Executor needs to act on one task.
type Request struct {
	TaskID      string
	Description string
	TaskType    string
	WorkingDir  string
	Env         map[string]string

	// UserResponse carries a clarification answer already captured on a
	// prior (pre-restart) run of this task, so an executor resumed after a
	// crash while AWAITING_RESPONSE can act on it directly instead of
	// asking the same question again. Empty on a task's first run.
	UserResponse string
}

// Result is what an Executor reports when it returns without error. A
// non-nil error from Run is always classified as ERROR; Result only
// matters on the nil-error path.
type Result struct {
	FilesModified   []string
	ResponseSummary string
	Blocked         bool   // executor determined it cannot proceed, not an error
	BlockedReason   string
}

// Executor runs one task to completion (or failure), parking on ask for
// any mid-run clarification.
type Executor interface {
	// Name identifies the executor implementation for evidence tagging.
	Name() string
	// Mode reports the execution-mode marker attached to evidence
	// records: "live" for a real subprocess, "recovery-stub" otherwise.
	Mode() string
	Run(ctx context.Context, req Request, ask AskFunc) (*Result, error)
}

// Kind tags a Supervisor's outcome, replacing exception-style control flow
// with an explicit tagged variant per the REDESIGN FLAGS.
type Kind string

const (
	KindOK      Kind = "OK"
	KindTimeout Kind = "TIMEOUT"
	KindBlocked Kind = "BLOCKED"
	KindError   Kind = "ERROR"
)

// Outcome is the tagged-variant result of one supervised executor run.
type Outcome struct {
	Kind            Kind
	Reason          string
	FilesModified   []string
	ResponseSummary string
	StderrTail      string
	ExecutionMode   string
	Duration        time.Duration
}
