package api

import (
	"context"
	"testing"
	"time"
)

func TestRetryConfig_ShouldRetry(t *testing.T) {
	r := DefaultRetryConfig()

	tests := []struct {
		name    string
		attempt int
		status  int
		want    bool
	}{
		{"retryable first attempt", 0, 503, true},
		{"retryable last attempt", 2, 503, true},
		{"attempts exhausted", 3, 503, false},
		{"client error", 0, 400, false},
		{"not found", 0, 404, false},
		{"rate limited", 0, 429, true},
		{"timeout", 0, 408, true},
		{"success", 0, 200, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.ShouldRetry(tt.attempt, tt.status); got != tt.want {
				t.Errorf("ShouldRetry(%d, %d) = %v, want %v", tt.attempt, tt.status, got, tt.want)
			}
		})
	}
}

func TestRetryConfig_SetRetryableStatuses(t *testing.T) {
	r := DefaultRetryConfig()
	r.SetRetryableStatuses([]int{418})

	if !r.ShouldRetry(0, 418) {
		t.Error("ShouldRetry(0, 418) = false after SetRetryableStatuses([418])")
	}
	if r.ShouldRetry(0, 503) {
		t.Error("ShouldRetry(0, 503) = true, default set should be replaced, not extended")
	}
}

func TestRetryConfig_DelayGrowsAndCaps(t *testing.T) {
	r := &RetryConfig{
		MaxRetries: 10,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     0, // deterministic
	}

	if got := r.Delay(0); got != 100*time.Millisecond {
		t.Errorf("Delay(0) = %v", got)
	}
	if got := r.Delay(2); got != 400*time.Millisecond {
		t.Errorf("Delay(2) = %v", got)
	}
	if got := r.Delay(10); got != time.Second {
		t.Errorf("Delay(10) = %v, want capped at 1s", got)
	}
}

func TestRetryConfig_DelayJitterBounds(t *testing.T) {
	r := &RetryConfig{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 1.0,
		Jitter:     0.5,
	}

	for i := 0; i < 100; i++ {
		d := r.Delay(0)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("Delay() = %v, outside jitter bounds", d)
		}
	}
}

func TestRetryConfig_WaitHonorsContext(t *testing.T) {
	r := &RetryConfig{
		BaseDelay:  time.Minute,
		MaxDelay:   time.Minute,
		Multiplier: 1.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Wait(ctx, 0); err != context.Canceled {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}
