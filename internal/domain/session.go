package domain

import "time"

// SessionBinding ties a session fingerprint to the account it was last
// routed to, so follow-up turns in the same conversation land on the
// same upstream account.
type SessionBinding struct {
	Fingerprint string
	AccountID   int64
	BoundAt     time.Time
}

// Valid reports whether the binding is still honored: within TTL of
// BoundAt. Lockout/enablement of the bound account is checked by the
// scheduler, not here.
func (b SessionBinding) Valid(now time.Time, ttl time.Duration) bool {
	return now.Sub(b.BoundAt) <= ttl
}
