package ratelimit

import (
	"time"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/durationx"
)

// RetryHint carries whatever retry signal the upstream gave, if any.
// At most one of At/After should be set; At takes precedence if both
// are.
type RetryHint struct {
	At    *time.Time
	After *time.Duration
}

// HintNone is the zero-value "no hint observed" RetryHint.
var HintNone = RetryHint{}

// HintAt builds a RetryHint from an absolute instant (e.g. parsed from
// an upstream header or a quotaResetDelay-style field).
func HintAt(t time.Time) RetryHint { return RetryHint{At: &t} }

// HintAfter builds a RetryHint from a relative duration.
func HintAfter(d time.Duration) RetryHint { return RetryHint{After: &d} }

// backoffLadder is the exponential backoff schedule for QUOTA_EXHAUSTED
// with no cached reset cadence, indexed by (consecutive failure count - 1),
// clamped at the final entry.
var backoffLadder = []time.Duration{
	60 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

const maxLockout = 2 * time.Hour

// computeLockout implements the reason-keyed lockout policy table.
// consecutiveFailures is the count *before* this failure is recorded
// (so the first failure uses backoffLadder[0]). cachedCadence is the
// account's known per-model reset cadence for QUOTA_EXHAUSTED, or 0 if
// unknown. The returned instant already has jitter applied everywhere
// except a verbatim absolute hint.
func computeLockout(now time.Time, reason domain.LockoutReason, hint RetryHint, consecutiveFailures int, cachedCadence time.Duration) time.Time {
	if hint.At != nil {
		return *hint.At
	}
	if hint.After != nil {
		return now.Add(durationx.Jitter(*hint.After))
	}

	switch reason {
	case domain.ReasonRateLimitExceeded:
		return now.Add(durationx.Jitter(30 * time.Second))
	case domain.ReasonQuotaExhausted:
		if cachedCadence > 0 {
			return now.Add(durationx.Jitter(cachedCadence))
		}
		idx := consecutiveFailures
		if idx < 0 {
			idx = 0
		}
		if idx >= len(backoffLadder) {
			idx = len(backoffLadder) - 1
		}
		d := durationx.Clamp(backoffLadder[idx], 0, maxLockout)
		return now.Add(durationx.Jitter(d))
	case domain.ReasonModelCapacityExhaust:
		return now.Add(durationx.Jitter(15 * time.Second))
	case domain.ReasonTransient5xx:
		return now.Add(durationx.Jitter(20 * time.Second))
	case domain.ReasonAuthRevoked:
		// The account is also flagged Forbidden by the caller (token
		// refresher / dispatcher), which excludes it from scheduling
		// regardless of this lockout; a long window just keeps the
		// lockout table consistent with "locked" until that happens.
		return now.Add(24 * time.Hour)
	default:
		return now.Add(durationx.Jitter(30 * time.Second))
	}
}
