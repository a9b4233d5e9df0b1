package utils

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// BandwidthLimiter throttles byte throughput on the download path.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter caps throughput at bytesPerSecond. Zero or negative
// disables throttling.
func NewBandwidthLimiter(bytesPerSecond int64) *BandwidthLimiter {
	if bytesPerSecond <= 0 {
		return &BandwidthLimiter{}
	}
	// Burst of one second's allowance keeps chunk-sized WaitN calls legal.
	return &BandwidthLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond)),
	}
}

// WaitN blocks until n bytes may pass.
func (b *BandwidthLimiter) WaitN(ctx context.Context, n int) error {
	if b.limiter == nil || n <= 0 {
		return nil
	}
	// WaitN rejects requests larger than the burst; split them.
	burst := b.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := b.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Enabled reports whether any throttling is in effect.
func (b *BandwidthLimiter) Enabled() bool {
	return b.limiter != nil
}

// ParseRateLimit parses human-readable rate limit strings (e.g., "5M", "1G")
func ParseRateLimit(rateStr string) (int64, error) {
	rateStr = strings.TrimSpace(rateStr)
	if rateStr == "" {
		return 0, nil
	}

	// Plain numbers are bytes per second.
	if val, err := strconv.ParseInt(rateStr, 10, 64); err == nil {
		return val, nil
	}

	if len(rateStr) < 2 {
		return 0, fmt.Errorf("invalid rate format: %s", rateStr)
	}

	var numStr, suffix string
	rateUpper := strings.ToUpper(rateStr)

	// Two-character suffixes (KB, MB, GB, TB) before single-character ones.
	if len(rateUpper) >= 3 && (strings.HasSuffix(rateUpper, "KB") ||
		strings.HasSuffix(rateUpper, "MB") ||
		strings.HasSuffix(rateUpper, "GB") ||
		strings.HasSuffix(rateUpper, "TB")) {
		numStr = rateStr[:len(rateStr)-2]
		suffix = rateUpper[len(rateUpper)-2:]
	} else {
		numStr = rateStr[:len(rateStr)-1]
		suffix = rateUpper[len(rateUpper)-1:]
	}

	baseValue, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value in rate: %s", numStr)
	}
	if baseValue < 0 {
		return 0, fmt.Errorf("rate cannot be negative: %f", baseValue)
	}

	var multiplier int64
	switch suffix {
	case "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	case "T", "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unsupported rate suffix: %s (supported: B, K/KB, M/MB, G/GB, T/TB)", suffix)
	}

	result := int64(baseValue * float64(multiplier))
	if result < 0 {
		return 0, fmt.Errorf("rate value overflow")
	}

	return result, nil
}
