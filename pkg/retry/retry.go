package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// BackoffExponential multiplies the delay by Multiplier after every attempt.
	BackoffExponential Backoff = iota
	// BackoffLinear waits InitialDelay * (retry index + 1).
	BackoffLinear
)

// Config defines retry behavior.
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration // 0 means uncapped
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, default 0.1 for +/-10% jitter
	MaxSameErrorType int     // After N consecutive same-type errors, treat as permanent (default: 5)
	Backoff          Backoff

	// OnRetry, when set, runs after a failed attempt and before the wait
	// that precedes the next one. attempt is 1-based.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns defaults for calls to external services:
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
		Backoff:          BackoffExponential,
	}
}

// LinearConfig returns a config that performs exactly attempts calls,
// waiting step, 2*step, 3*step... between them, without jitter.
func LinearConfig(attempts int, step time.Duration) *Config {
	if attempts < 1 {
		attempts = 1
	}
	return &Config{
		MaxRetries:   attempts - 1,
		InitialDelay: step,
		Multiplier:   1.0,
		Backoff:      BackoffLinear,
	}
}

// Attempts returns the total number of calls the config allows.
func (c *Config) Attempts() int {
	return c.MaxRetries + 1
}

// delay returns the wait before retry number retryIndex (0-based).
func (c *Config) delay(retryIndex int) time.Duration {
	var d time.Duration
	switch c.Backoff {
	case BackoffLinear:
		d = c.InitialDelay * time.Duration(retryIndex+1)
	default:
		d = c.InitialDelay
		for i := 0; i < retryIndex; i++ {
			d = time.Duration(float64(d) * c.Multiplier)
			if c.MaxDelay > 0 && d > c.MaxDelay {
				break
			}
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return applyJitter(d, c.JitterFactor)
}

// applyJitter returns delay +/- (delay * jitterFactor * random(-1 to +1)).
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || delay <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// wait blocks for the backoff delay or until ctx is done.
func (c *Config) wait(ctx context.Context, retryIndex int) error {
	d := c.delay(retryIndex)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoWithResult executes fn with backoff retry logic and returns both result
// and error. The result of the last attempt is returned even when it failed.
// Respects context cancellation during wait periods.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return DoWithResultIf(ctx, cfg, func(error) bool { return true }, fn)
}

// DoWithResultIf retries fn only while shouldRetry reports the error as
// transient. Any other error is returned immediately with its result.
func DoWithResultIf[T any](ctx context.Context, cfg *Config, shouldRetry func(error) bool, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if !shouldRetry(err) {
			return result, err
		}
		if attempt < cfg.MaxRetries {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt+1, err)
			}
			if werr := cfg.wait(ctx, attempt); werr != nil {
				return result, werr
			}
		}
	}

	return result, lastErr
}

// RetryableError is an interface for errors that explicitly declare their retryability.
// LLM errors implement this interface to provide explicit retry behavior.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable determines if an error is transient and worth retrying.
//
// The function checks errors in this order:
// 1. If the error implements RetryableError interface, use its IsRetryable() method
// 2. Otherwise, pattern-match against known retryable error strings
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		// Connection errors
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"timed out",
		"temporary failure",
		"i/o timeout",
		"network is unreachable",
		// DuckDB lock contention on the database file
		"could not set lock on file",
		// HTTP status codes
		"429",
		"500",
		"502",
		"503",
		"504",
		// HTTP error messages
		"rate limit",
		"resource exhausted",
		"service unavailable",
		"too many requests",
		"overloaded",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// classifyErrorType extracts a category from error for comparison.
// This is used to detect repeated failures of the same error type.
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}

	errStr := strings.ToLower(err.Error())

	httpCodes := []string{"503", "502", "504", "500", "429", "404", "403", "401", "400"}
	for _, code := range httpCodes {
		if strings.Contains(errStr, code) {
			return code
		}
	}

	switch {
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(errStr, "could not set lock"):
		return "file_lock"
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "resource exhausted"):
		return "rate_limit"
	}

	return "unknown"
}

// DoIfRetryable only retries if the error is transient.
// For permanent errors (auth failures, bad requests), it returns immediately.
// After N consecutive failures of the same error type, escalates to permanent failure.
// Respects context cancellation during wait periods.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	sameErrorCount := 0
	var lastErrorType string

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		currentErrorType := classifyErrorType(err)
		if currentErrorType == lastErrorType {
			sameErrorCount++
			if cfg.MaxSameErrorType > 0 && sameErrorCount >= cfg.MaxSameErrorType {
				return fmt.Errorf("repeated error (%d times, type=%s): %w", sameErrorCount, currentErrorType, err)
			}
		} else {
			sameErrorCount = 1
			lastErrorType = currentErrorType
		}

		if attempt < cfg.MaxRetries {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt+1, err)
			}
			if werr := cfg.wait(ctx, attempt); werr != nil {
				return werr
			}
		}
	}

	return lastErr
}
