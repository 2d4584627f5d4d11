package api

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// defaultRetryableStatuses are the directory/relay responses worth another
// attempt: request timeout, rate limiting, and transient server failures.
var defaultRetryableStatuses = []int{408, 429, 500, 502, 503, 504}

// RetryConfig controls how failed directory and relay requests are retried.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Multiplier is the factor by which the delay increases after each attempt.
	Multiplier float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to each delay
	// to prevent synchronized retries across clients.
	Jitter float64

	retryable map[int]struct{}
}

// DefaultRetryConfig returns the retry policy used when the host application
// configures nothing.
func DefaultRetryConfig() *RetryConfig {
	cfg := &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
	cfg.SetRetryableStatuses(defaultRetryableStatuses)
	return cfg
}

// SetRetryableStatuses replaces the set of HTTP status codes that trigger a
// retry.
func (r *RetryConfig) SetRetryableStatuses(statusCodes []int) {
	r.retryable = make(map[int]struct{}, len(statusCodes))
	for _, code := range statusCodes {
		r.retryable[code] = struct{}{}
	}
}

// ShouldRetry reports whether a response status warrants another attempt.
func (r *RetryConfig) ShouldRetry(attempt int, statusCode int) bool {
	if attempt >= r.MaxRetries {
		return false
	}
	_, ok := r.retryable[statusCode]
	return ok
}

// Delay calculates the backoff delay for the given attempt, jittered.
func (r *RetryConfig) Delay(attempt int) time.Duration {
	delay := float64(r.BaseDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter > 0 {
		spread := delay * r.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}

	return time.Duration(delay)
}

// Wait sleeps for the attempt's delay or until ctx is done.
func (r *RetryConfig) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(r.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
