package orchestrator

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// TaskRunner is the process-wide fire-and-forget execution primitive. It
// accepts a task, runs it concurrently, never propagates a failure to the
// caller, and always logs. HTTP handlers use it to return 202 while the
// actual work proceeds in the background.
type TaskRunner struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewTaskRunner creates a TaskRunner.
func NewTaskRunner(logger *slog.Logger) *TaskRunner {
	return &TaskRunner{logger: logger}
}

// Go schedules task to run without blocking the caller. The task receives a
// fresh background context so it survives the HTTP request that spawned it.
// Panics are contained and logged; they must never crash the host process.
func (r *TaskRunner) Go(name string, task func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background task panicked",
					"task", name,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
			}
		}()

		if err := task(context.Background()); err != nil {
			r.logger.Error("background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until all in-flight tasks finish or the timeout elapses.
// Used during graceful shutdown.
func (r *TaskRunner) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		r.logger.Warn("background tasks still running at shutdown deadline")
		return false
	}
}
