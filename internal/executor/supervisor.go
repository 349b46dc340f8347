package executor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"forge/internal/clarify"
	"forge/internal/logging"
)

// Supervisor drives one Executor invocation per task, owns the hard
// wall-clock budget, and produces a single Outcome per run.
type Supervisor struct {
	exec   Executor
	broker *clarify.Broker
	logger logging.Logger
}

// New creates a Supervisor for exec, wiring broker as the mid-run
// clarification channel.
func New(exec Executor, broker *clarify.Broker) *Supervisor {
	return &Supervisor{
		exec:   exec,
		broker: broker,
		logger: logging.NewComponentLogger("supervisor"),
	}
}

type runOutput struct {
	result *Result
	err    error
}

// Execute runs req against the Supervisor's Executor with timeout as the
// hard budget. The Executor itself is responsible for terminating its own
// subprocess when ctx is cancelled; Execute only classifies the outcome.
func (s *Supervisor) Execute(ctx context.Context, req Request, timeout time.Duration) Outcome {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ask := func(askCtx context.Context, q clarify.Question) (string, error) {
		return s.broker.Ask(askCtx, req.TaskID, q)
	}

	var g errgroup.Group
	done := make(chan runOutput, 1)
	g.Go(func() error {
		res, err := s.exec.Run(runCtx, req, ask)
		done <- runOutput{result: res, err: err}
		return err
	})

	select {
	case out := <-done:
		g.Wait() // joins the run goroutine; its error is already in out
		return s.classify(out, start)
	case <-runCtx.Done():
		// The executor is expected to observe runCtx cancellation and
		// return promptly; wait briefly for it to unwind before
		// reporting TIMEOUT so its own cleanup still runs.
		select {
		case out := <-done:
			g.Wait()
			if runCtx.Err() == context.DeadlineExceeded {
				return Outcome{Kind: KindTimeout, Reason: "executor exceeded its time budget",
					ExecutionMode: s.exec.Mode(), Duration: time.Since(start)}
			}
			return s.classify(out, start)
		case <-time.After(5 * time.Second):
			return Outcome{Kind: KindTimeout, Reason: "executor did not exit after cancellation",
				ExecutionMode: s.exec.Mode(), Duration: time.Since(start)}
		}
	}
}

func (s *Supervisor) classify(out runOutput, start time.Time) Outcome {
	mode := s.exec.Mode()
	duration := time.Since(start)

	if out.err != nil {
		return Outcome{Kind: KindError, Reason: out.err.Error(), ExecutionMode: mode, Duration: duration}
	}
	if out.result == nil {
		return Outcome{Kind: KindError, Reason: "executor returned no result", ExecutionMode: mode, Duration: duration}
	}
	if out.result.Blocked {
		return Outcome{
			Kind:          KindBlocked,
			Reason:        out.result.BlockedReason,
			ExecutionMode: mode,
			Duration:      duration,
		}
	}
	return Outcome{
		Kind:            KindOK,
		FilesModified:   out.result.FilesModified,
		ResponseSummary: out.result.ResponseSummary,
		ExecutionMode:   mode,
		Duration:        duration,
	}
}
