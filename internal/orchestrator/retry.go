package orchestrator

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/hartfield/camber/internal/metrics"
)

// Retryer wraps flaky, idempotent external calls with bounded exponential
// backoff: delay(n) = min(base * multiplier^(n-1), max) before attempt n+1.
// When all attempts are consumed the last error is returned to the caller
// unmodified, so callers can classify it and decide between aborting the job
// and degrading gracefully.
//
// Never wrap calls with non-idempotent side effects unless the remote side
// deduplicates on an idempotency key.
type Retryer struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool

	Logger *slog.Logger
}

// NewRetryer builds a Retryer from the orchestrator config.
func NewRetryer(cfg Config, logger *slog.Logger) *Retryer {
	return &Retryer{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Multiplier:  cfg.RetryMultiplier,
		Logger:      logger,
	}
}

// Do runs op until it succeeds, a non-retryable error occurs, the context is
// canceled, or MaxAttempts is exhausted. The returned error is always the
// last error produced by op, never a wrapper.
func (r *Retryer) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return err
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return err
		}
		if attempt >= r.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		metrics.JobRetriesTotal.WithLabelValues(name).Inc()
		if r.Logger != nil {
			r.Logger.Info("retrying external call",
				"op", name,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// delay computes the backoff before attempt n+1.
func (r *Retryer) delay(attempt int) time.Duration {
	d := time.Duration(float64(r.BaseDelay) * math.Pow(r.Multiplier, float64(attempt-1)))
	if d > r.MaxDelay || d <= 0 {
		d = r.MaxDelay
	}
	return d
}
