// Package durationx parses compound duration strings and applies the
// jitter the rate-limit tracker spreads across lockout windows to avoid
// thundering herds.
package durationx

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Parse accepts the same grammar as time.ParseDuration ("30s", "5m",
// "1h30m", "2h21m25.831582438s") but additionally rejects the empty
// string and any negative duration, which time.ParseDuration alone
// would accept.
func Parse(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("durationx: empty duration")
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("durationx: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("durationx: negative duration %q not allowed", s)
	}
	return d, nil
}

// Jitter returns d adjusted by up to ±20% uniform random noise. Used so
// that many accounts locked out by the same upstream incident don't all
// become eligible again at the exact same instant.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	// spread in [0.8, 1.2)
	factor := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * factor)
}

// Clamp bounds d to [min, max].
func Clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
