// Package stub implements the recovery-scenario Executor used when
// FORGE_EXECUTION_MODE is not "live": a small set of named, deterministic
// behaviors that exercise the Supervisor's timeout, clarification, and
// no-evidence handling without spawning a real subprocess, grounded on the
// teacher's pattern of swapping ExternalAgentExecutor implementations by
// config rather than branching call sites, per §8's end-to-end scenarios.
package stub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"forge/internal/clarify"
	"forge/internal/executor"
)

// Scenario names, matching the literal end-to-end scenarios in §8.
const (
	ScenarioComplete   = "complete"
	ScenarioNoEvidence = "no_evidence"
	ScenarioTimeout    = "timeout"
	ScenarioClarify    = "clarify"
	ScenarioBlocked    = "blocked"
	ScenarioError      = "error"
)

// Executor runs one fixed Scenario regardless of the task description,
// for integration tests that need a deterministic, fast stand-in for a
// real subprocess executor.
type Executor struct {
	Scenario string
	// BlockFor is how long the "timeout" scenario sleeps before returning,
	// intended to exceed the configured hard timeout.
	BlockFor time.Duration
}

// New creates a stub Executor for the named scenario.
func New(scenario string, blockFor time.Duration) *Executor {
	if scenario == "" {
		scenario = ScenarioComplete
	}
	if blockFor <= 0 {
		blockFor = 30 * time.Second
	}
	return &Executor{Scenario: scenario, BlockFor: blockFor}
}

func (e *Executor) Name() string { return "stub" }
func (e *Executor) Mode() string { return "recovery-stub" }

func (e *Executor) Run(ctx context.Context, req executor.Request, ask executor.AskFunc) (*executor.Result, error) {
	switch e.Scenario {
	case ScenarioComplete:
		return e.runComplete(req)
	case ScenarioNoEvidence:
		return &executor.Result{ResponseSummary: "finished without touching any file"}, nil
	case ScenarioTimeout:
		select {
		case <-time.After(e.BlockFor):
			return &executor.Result{ResponseSummary: "woke up after blocking"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case ScenarioClarify:
		return e.runClarify(ctx, req, ask)
	case ScenarioBlocked:
		return &executor.Result{Blocked: true, BlockedReason: "stub scenario forced a block"}, nil
	case ScenarioError:
		return nil, fmt.Errorf("stub scenario forced an error")
	default:
		return nil, fmt.Errorf("stub: unknown scenario %q", e.Scenario)
	}
}

func (e *Executor) runComplete(req executor.Request) (*executor.Result, error) {
	path, content := parseCreateFile(req.Description)
	if path == "" {
		return &executor.Result{ResponseSummary: "nothing to do"}, nil
	}
	full := filepath.Join(req.WorkingDir, path)
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("stub: write %s: %w", full, err)
	}
	return &executor.Result{
		FilesModified:   []string{path},
		ResponseSummary: "created " + path,
	}, nil
}

func (e *Executor) runClarify(ctx context.Context, req executor.Request, ask executor.AskFunc) (*executor.Result, error) {
	// A restored task resumed after a restart already carries its answer;
	// asking again would reprompt for something the operator already
	// supplied in the prior process.
	answer := req.UserResponse
	if answer == "" {
		var err error
		answer, err = ask(ctx, clarify.Question{
			Type:    clarify.TypeSelectOne,
			Text:    "Which format?",
			Options: []string{"json", "yaml"},
		})
		if err != nil {
			return nil, err
		}
	}
	path := "output." + answer
	full := filepath.Join(req.WorkingDir, path)
	if err := os.WriteFile(full, []byte("{}"), 0o644); err != nil {
		return nil, fmt.Errorf("stub: write %s: %w", full, err)
	}
	return &executor.Result{
		FilesModified:   []string{path},
		ResponseSummary: "resumed with " + answer,
	}, nil
}

// parseCreateFile extracts a target path and content from descriptions of
// the form `Create a file <path> with content <content>` or
// `Create a file <path>`, matching the literal scenario phrasing in §8.
func parseCreateFile(description string) (path, content string) {
	const marker = "Create a file "
	idx := strings.Index(description, marker)
	if idx < 0 {
		return "", ""
	}
	rest := description[idx+len(marker):]
	const withContent = " with content "
	if ci := strings.Index(rest, withContent); ci >= 0 {
		return rest[:ci], rest[ci+len(withContent):]
	}
	return rest, ""
}
