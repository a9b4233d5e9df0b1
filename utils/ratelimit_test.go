package utils

import (
	"context"
	"testing"
	"time"
)

func TestBandwidthLimiterDisabled(t *testing.T) {
	limiter := NewBandwidthLimiter(0)

	if limiter.Enabled() {
		t.Error("zero rate should disable the limiter")
	}

	start := time.Now()
	if err := limiter.WaitN(context.Background(), 1<<30); err != nil {
		t.Fatalf("WaitN failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("disabled limiter blocked for %v", elapsed)
	}
}

func TestBandwidthLimiterThrottles(t *testing.T) {
	limiter := NewBandwidthLimiter(1000)
	ctx := context.Background()

	if !limiter.Enabled() {
		t.Fatal("limiter should be enabled")
	}

	// The bucket starts full; draining it is free.
	if err := limiter.WaitN(ctx, 1000); err != nil {
		t.Fatalf("WaitN failed: %v", err)
	}

	// 100 more bytes at 1000 B/s must take around 100ms.
	start := time.Now()
	if err := limiter.WaitN(ctx, 100); err != nil {
		t.Fatalf("WaitN failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("post-burst WaitN returned after %v, want >= 50ms", elapsed)
	}
}

// Requests larger than the burst are split instead of rejected.
func TestBandwidthLimiterOversizedRequest(t *testing.T) {
	perSecond := int64(1 << 20)
	limiter := NewBandwidthLimiter(perSecond)

	start := time.Now()
	if err := limiter.WaitN(context.Background(), int(perSecond)+int(perSecond)/4); err != nil {
		t.Fatalf("WaitN failed for oversized request: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 100*time.Millisecond {
		t.Errorf("oversized WaitN returned after %v, want >= 100ms", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("oversized WaitN took %v, want < 2s", elapsed)
	}
}

func TestBandwidthLimiterContextDeadline(t *testing.T) {
	limiter := NewBandwidthLimiter(10)

	// Drain the bucket so the next request needs a full second.
	if err := limiter.WaitN(context.Background(), 10); err != nil {
		t.Fatalf("WaitN failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.WaitN(ctx, 10); err == nil {
		t.Error("expected error when the wait exceeds the context deadline")
	}
}

func TestParseRateLimit(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    int64
		expectError bool
	}{
		{name: "empty_disables", input: "", expected: 0},
		{name: "plain_bytes", input: "1024", expected: 1024},
		{name: "bytes_suffix", input: "512B", expected: 512},
		{name: "kilo_short", input: "5K", expected: 5 * 1024},
		{name: "kilo_long", input: "5KB", expected: 5 * 1024},
		{name: "mega_short", input: "2M", expected: 2 * 1024 * 1024},
		{name: "mega_fractional", input: "1.5M", expected: 1572864},
		{name: "giga", input: "1G", expected: 1024 * 1024 * 1024},
		{name: "tera", input: "2TB", expected: 2 * 1024 * 1024 * 1024 * 1024},
		{name: "lowercase", input: "5m", expected: 5 * 1024 * 1024},
		{name: "whitespace_trimmed", input: " 5M ", expected: 5 * 1024 * 1024},
		{name: "garbage", input: "abc", expectError: true},
		{name: "unknown_suffix", input: "5X", expectError: true},
		{name: "negative", input: "-5M", expectError: true},
		{name: "bare_suffix", input: "M", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRateLimit(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("ParseRateLimit(%q) succeeded with %d, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRateLimit(%q) failed: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseRateLimit(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}
