// Package claudecode is the live Executor: it drives the `claude` CLI as a
// supervised subprocess and parses its newline-delimited event stream,
// grounded on the teacher's claudecode.Executor (executor.go) and its
// SDKEvent JSONL shape (messages_sdk.go), trimmed to the subset SPEC_FULL
// wires: no permission-server/MCP relay, since approval policy is out of
// scope here — clarification instead rides the "ask" event type added
// below, consumed through the supervisor's AskFunc.
package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"forge/internal/clarify"
	"forge/internal/executor"
	"forge/internal/executor/execproc"
	"forge/internal/logging"
)

// Config configures the live executor.
type Config struct {
	BinaryPath  string
	Model       string
	MaxTurns    int
	Timeout     time.Duration
	GraceWindow time.Duration
	Env         map[string]string

	// OutputCaptureLimit bounds how much stdout is retained; beyond it,
	// output is truncated with a visible marker rather than dropped.
	OutputCaptureLimit int
}

// eventType identifies one line of the executor's event stream.
type eventType string

const (
	eventTool   eventType = "tool"
	eventResult eventType = "result"
	eventError  eventType = "error"
	eventAsk    eventType = "ask"
)

// streamEvent is one JSONL line emitted by the executor subprocess.
type streamEvent struct {
	Type     eventType `json:"type"`
	ToolName string    `json:"tool_name,omitempty"`
	Summary  string    `json:"summary,omitempty"`
	Files    []string  `json:"files,omitempty"`
	Answer   string    `json:"answer,omitempty"`
	Message  string    `json:"message,omitempty"`

	// Ask-specific fields.
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Executor drives the claude CLI.
type Executor struct {
	cfg    Config
	logger logging.Logger
}

// New creates a live Executor. An empty BinaryPath defaults to "claude".
func New(cfg Config) *Executor {
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		cfg.BinaryPath = "claude"
	}
	if cfg.OutputCaptureLimit <= 0 {
		cfg.OutputCaptureLimit = 10 * 1024 * 1024
	}
	return &Executor{cfg: cfg, logger: logging.NewComponentLogger("claudecode")}
}

func (e *Executor) Name() string { return "claude-code" }
func (e *Executor) Mode() string { return "live" }

func (e *Executor) Run(ctx context.Context, req executor.Request, ask executor.AskFunc) (*executor.Result, error) {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	if e.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", e.cfg.MaxTurns))
	}
	args = append(args, "--", req.Description)

	env := make(map[string]string, len(e.cfg.Env)+len(req.Env))
	for k, v := range e.cfg.Env {
		env[k] = v
	}
	for k, v := range req.Env {
		env[k] = v
	}

	proc := execproc.New(execproc.Config{
		Command:     e.cfg.BinaryPath,
		Args:        args,
		Env:         env,
		WorkingDir:  req.WorkingDir,
		Timeout:     e.cfg.Timeout,
		GraceWindow: e.cfg.GraceWindow,
	})
	if err := proc.Start(ctx); err != nil {
		return nil, fmt.Errorf("claudecode: start: %w", err)
	}
	defer func() { _ = proc.Stop() }()

	result := &executor.Result{}
	capture := newBoundedCapture(e.cfg.OutputCaptureLimit)

	scanner := bufio.NewScanner(proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		capture.add(len(line) + 1)

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case eventTool:
			if len(ev.Files) > 0 {
				result.FilesModified = append(result.FilesModified, ev.Files...)
			}
		case eventResult:
			if ev.Answer != "" {
				result.ResponseSummary = ev.Answer
			}
		case eventError:
			return result, fmt.Errorf("claudecode: %s", nonEmptyOr(ev.Message, "executor reported an error"))
		case eventAsk:
			answer, err := ask(ctx, clarify.Question{
				Type:    clarify.TypeSelectOne,
				Text:    ev.Question,
				Options: ev.Options,
			})
			if err != nil {
				return result, err
			}
			if err := proc.WriteLine(answer); err != nil {
				return result, fmt.Errorf("claudecode: relaying answer: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("claudecode: reading stream: %w", err)
	}

	if err := proc.Wait(); err != nil {
		if proc.TimedOut() {
			return result, fmt.Errorf("claudecode: timed out: %w", err)
		}
		tail := proc.StderrTail()
		if tail != "" {
			return result, fmt.Errorf("claudecode: %w (stderr: %s)", err, tail)
		}
		return result, fmt.Errorf("claudecode: %w", err)
	}

	if capture.truncated {
		result.ResponseSummary += " [output truncated: capture limit reached]"
	}
	return result, nil
}

func nonEmptyOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// boundedCapture tracks whether the observed output stream exceeded its
// configured limit, per §4.4's "truncate, don't drop silently" rule.
type boundedCapture struct {
	limit     int
	seen      int
	truncated bool
}

func newBoundedCapture(limit int) *boundedCapture {
	return &boundedCapture{limit: limit}
}

func (c *boundedCapture) add(n int) {
	c.seen += n
	if c.seen > c.limit {
		c.truncated = true
	}
}
