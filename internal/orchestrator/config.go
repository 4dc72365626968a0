package orchestrator

import (
	"fmt"
	"time"
)

// Config holds the tuning knobs for the inspection pipeline. Everything is
// injected explicitly so tests can use deterministic values.
type Config struct {
	// ChunkMaxBytes is the byte budget per planned chunk. A single photo
	// larger than the budget becomes its own oversized chunk.
	// Default: 20 MB
	ChunkMaxBytes int64

	// RetryMaxAttempts is the total number of attempts for retry-wrapped
	// external calls (categorization, delegated analysis launch).
	// Default: 3
	RetryMaxAttempts int

	// RetryBaseDelay is the delay before the second attempt.
	// Default: 1 second
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the exponential backoff.
	// Default: 10 seconds
	RetryMaxDelay time.Duration

	// RetryMultiplier grows the delay between attempts.
	// Default: 2
	RetryMultiplier float64

	// ReconcileWindow bounds how far back the poller scans processing
	// inspections, measured from each inspection's last recorded activity.
	// Job transitions and observed running executions both refresh it, so
	// only inspections with no sign of life for a full window fall out.
	// Default: 20 minutes
	ReconcileWindow time.Duration

	// ReconcileTimeout is the age past which a processing inspection with no
	// matching engine execution is declared dead.
	// Default: 15 minutes
	ReconcileTimeout time.Duration

	// TriggerBaseURL is where job executions are dispatched (normally our
	// own address).
	TriggerBaseURL string

	// TriggerTimeout bounds the dispatch acknowledgement wait.
	// Default: 30 seconds
	TriggerTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
// TriggerBaseURL must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		ChunkMaxBytes:    20 * 1024 * 1024,
		RetryMaxAttempts: 3,
		RetryBaseDelay:   1 * time.Second,
		RetryMaxDelay:    10 * time.Second,
		RetryMultiplier:  2,
		ReconcileWindow:  20 * time.Minute,
		ReconcileTimeout: 15 * time.Minute,
		TriggerTimeout:   30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.ChunkMaxBytes < 1 {
		return fmt.Errorf("chunk max bytes must be positive, got %d", c.ChunkMaxBytes)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive, got %v", c.RetryBaseDelay)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry max delay %v is below base delay %v", c.RetryMaxDelay, c.RetryBaseDelay)
	}
	if c.RetryMultiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1, got %v", c.RetryMultiplier)
	}
	if c.ReconcileWindow < time.Minute {
		return fmt.Errorf("reconcile window must be at least 1 minute, got %v", c.ReconcileWindow)
	}
	if c.ReconcileTimeout < time.Minute {
		return fmt.Errorf("reconcile timeout must be at least 1 minute, got %v", c.ReconcileTimeout)
	}
	if c.ReconcileTimeout > c.ReconcileWindow {
		return fmt.Errorf("reconcile timeout %v exceeds the scan window %v; timed-out inspections would never be seen", c.ReconcileTimeout, c.ReconcileWindow)
	}
	if c.TriggerBaseURL == "" {
		return fmt.Errorf("trigger base URL is required")
	}
	if c.TriggerTimeout < time.Second {
		return fmt.Errorf("trigger timeout must be at least 1 second, got %v", c.TriggerTimeout)
	}
	return nil
}
