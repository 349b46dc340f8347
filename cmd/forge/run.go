package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"forge/internal/config"
	"forge/internal/metrics"
	"forge/internal/session"
	"forge/internal/task"
)

// runOnce enqueues a single task, blocks until it reaches a terminal
// state, prints its summary, and exits with a status code reflecting the
// outcome: 0 for COMPLETE, 1 for ERROR, 2 for INCOMPLETE, per §6/§8
// scenario 1/2.
func runOnce(ctx context.Context, cfg config.Config, description, taskType string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var summary string
	done := make(chan struct{})

	sess, err := session.Open(ctx, cfg, newExecutor(cfg), func(s string) {
		summary = s
		close(done)
	}, metrics.NewTaskMetrics())
	if err != nil {
		return err
	}
	defer sess.Close()

	tt := task.TypeImplementation
	if taskType == string(task.TypeReadInfo) {
		tt = task.TypeReadInfo
	}
	id := sess.Queue.Enqueue(description, tt)

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.EffectiveTimeout(0) + cfg.GraceWindow + 30*time.Second):
		return fmt.Errorf("task %s did not reach a terminal state in time", id)
	}

	fmt.Println(summary)

	final := sess.Queue.Find(id)
	switch final.State {
	case task.StateComplete:
		os.Exit(0)
	case task.StateError:
		os.Exit(1)
	default:
		os.Exit(2)
	}
	return nil
}
