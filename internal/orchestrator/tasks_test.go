package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTaskRunner_Go_ContainsPanic(t *testing.T) {
	runner := NewTaskRunner(discardLogger())

	runner.Go("explode", func(ctx context.Context) error {
		panic("boom")
	})

	if !runner.Wait(time.Second) {
		t.Fatal("Wait() timed out waiting for panicked task")
	}
	// Reaching this line at all proves the panic did not escape.
}

func TestTaskRunner_Go_SwallowsErrors(t *testing.T) {
	runner := NewTaskRunner(discardLogger())
	done := make(chan struct{})

	runner.Go("failing", func(ctx context.Context) error {
		defer close(done)
		return errors.New("task error")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	if !runner.Wait(time.Second) {
		t.Fatal("Wait() timed out")
	}
}

func TestTaskRunner_Wait_TimesOutOnStuckTask(t *testing.T) {
	runner := NewTaskRunner(discardLogger())
	release := make(chan struct{})
	defer close(release)

	runner.Go("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	if runner.Wait(20 * time.Millisecond) {
		t.Error("Wait() = true for a task that never finished")
	}
}

func TestTaskRunner_Go_UsesFreshContext(t *testing.T) {
	runner := NewTaskRunner(discardLogger())
	got := make(chan error, 1)

	runner.Go("ctx", func(ctx context.Context) error {
		got <- ctx.Err()
		return nil
	})

	select {
	case err := <-got:
		if err != nil {
			t.Errorf("task context already done: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}
