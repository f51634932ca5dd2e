// Package domain holds the core data model shared by the scheduler,
// rate-limit tracker, token refresher, and dispatcher.
package domain

import "time"

// Tier is an account's subscription tier. Higher tiers are preferred by
// the scheduler's candidate ordering.
type Tier string

const (
	TierUltra Tier = "ULTRA"
	TierPro   Tier = "PRO"
	TierFree  Tier = "FREE"
)

// rank returns a lower-is-better ordering weight for the tier.
func (t Tier) rank() int {
	switch t {
	case TierUltra:
		return 0
	case TierPro:
		return 1
	default:
		return 2
	}
}

// TierRank exposes Tier.rank for scheduler ordering without exporting
// the method on an unexported receiver pattern.
func TierRank(t Tier) int { return t.rank() }

// ModelQuota is a cached per-model quota snapshot for one account.
type ModelQuota struct {
	Model         string
	Remaining     int64
	LastRefreshed time.Time
	ResetCadence  time.Duration // 0 means unknown
}

// Account is the durable unit the scheduler dispatches requests to.
// Exactly one access credential is considered valid at any instant;
// ExpiresAt is authoritative (see GORM model in internal/store for the
// persisted shape; this type is the in-memory working copy passed
// between components).
type Account struct {
	ID        int64
	Email     string
	Tier      Tier
	ProjectID string

	RefreshToken string
	AccessToken  string
	ExpiresAt    time.Time

	Enabled   bool
	Forbidden bool

	ConsecutiveFailures int
	Order               int
	LastUsedAt          time.Time

	Quotas map[string]ModelQuota

	// CustomErrorCodes, when non-empty, restricts which upstream status
	// codes are allowed to affect this account's scheduling eligibility
	// (operator escape hatch for accounts with nonstandard error codes).
	CustomErrorCodes []int
	// TempUnschedulableUntil marks a short lockout distinct from the
	// reasoned lockout table, set by operator-configured rules.
	TempUnschedulableUntil *time.Time
}

// TokenValid reports whether the cached access token is usable without a
// refresh, allowing a small skew so a token about to expire is refreshed
// proactively rather than used right up to the wire.
func (a *Account) TokenValid(now time.Time, skew time.Duration) bool {
	if a.AccessToken == "" {
		return false
	}
	return a.ExpiresAt.After(now.Add(skew))
}

// HandlesErrorCode reports whether the given status code should be
// allowed to affect this account's scheduling eligibility, honoring an
// operator-configured allowlist when present.
func (a *Account) HandlesErrorCode(code int) bool {
	if len(a.CustomErrorCodes) == 0 {
		return true
	}
	for _, c := range a.CustomErrorCodes {
		if c == code {
			return true
		}
	}
	return false
}

// TempUnschedulable reports whether the operator-configured short
// lockout is currently in effect.
func (a *Account) TempUnschedulable(now time.Time) bool {
	return a.TempUnschedulableUntil != nil && now.Before(*a.TempUnschedulableUntil)
}
