package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

// AccountFailureStore is the narrow slice of account persistence the
// tracker needs: reading an account's current quota/failure bookkeeping
// and persisting updates to it. The tracker never touches scheduling
// fields (Order, Enabled, ...).
type AccountFailureStore interface {
	Get(ctx context.Context, id int64) (*domain.Account, error)
	Update(ctx context.Context, a *domain.Account) error
}

// Tracker owns the lockout table and
// the per-account consecutive-failure counter that feeds the
// QUOTA_EXHAUSTED backoff ladder.
type Tracker struct {
	backend  Backend
	accounts AccountFailureStore
}

// New builds a Tracker over the given lockout Backend and account store.
func New(backend Backend, accounts AccountFailureStore) *Tracker {
	return &Tracker{backend: backend, accounts: accounts}
}

// IsLocked returns the account's lockout deadline if it is currently
// locked, or nil if it is not: either never locked, or the lockout has
// expired.
func (t *Tracker) IsLocked(ctx context.Context, accountID int64) (*time.Time, error) {
	entry, err := t.backend.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: get lockout: %w", err)
	}
	if entry == nil || !entry.Active(time.Now()) {
		return nil, nil
	}
	until := entry.LockedUntil
	return &until, nil
}

// RecordFailure locks accountID out per the reason-specific policy in
// computeLockout, then (except for TRANSIENT_5XX, which is isolated and
// never accumulates) bumps the account's consecutive-failure counter so
// a repeated QUOTA_EXHAUSTED backs off further each time.
func (t *Tracker) RecordFailure(ctx context.Context, accountID int64, reason domain.LockoutReason, hint RetryHint) error {
	now := time.Now()

	acct, err := t.accounts.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("ratelimit: load account: %w", err)
	}
	if acct == nil {
		return fmt.Errorf("ratelimit: unknown account %d", accountID)
	}

	cadence := time.Duration(0)
	if reason == domain.ReasonQuotaExhausted {
		cadence = knownResetCadence(acct)
	}

	lockedUntil := computeLockout(now, reason, hint, acct.ConsecutiveFailures, cadence)
	if err := t.backend.Set(ctx, domain.LockoutEntry{
		AccountID:   accountID,
		LockedUntil: lockedUntil,
		Reason:      reason,
	}); err != nil {
		return fmt.Errorf("ratelimit: set lockout: %w", err)
	}

	if reason == domain.ReasonTransient5xx {
		// Reason-isolated: a transient 5xx blip doesn't count against the
		// account's standing with the scheduler once it passes.
		return nil
	}
	acct.ConsecutiveFailures++
	if err := t.accounts.Update(ctx, acct); err != nil {
		return fmt.Errorf("ratelimit: persist failure count: %w", err)
	}
	return nil
}

// RecordSuccess clears any lockout and resets the consecutive-failure
// counter, so the next failure starts back at the bottom of the backoff
// ladder.
func (t *Tracker) RecordSuccess(ctx context.Context, accountID int64) error {
	if err := t.backend.Clear(ctx, accountID); err != nil {
		return fmt.Errorf("ratelimit: clear lockout: %w", err)
	}
	acct, err := t.accounts.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("ratelimit: load account: %w", err)
	}
	if acct == nil || acct.ConsecutiveFailures == 0 {
		return nil
	}
	acct.ConsecutiveFailures = 0
	return t.accounts.Update(ctx, acct)
}

// EarliestAvailable returns the smallest unlock instant across every
// currently-active lockout. Callers use this to size a retry-after
// response when every account is locked (apperr.AllAccountsUnavailableError).
// If nothing is locked it returns the zero time.
func (t *Tracker) EarliestAvailable(ctx context.Context) (time.Time, error) {
	entries, err := t.backend.All(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("ratelimit: list lockouts: %w", err)
	}
	now := time.Now()
	var earliest time.Time
	for _, e := range entries {
		if !e.Active(now) {
			continue
		}
		if earliest.IsZero() || e.LockedUntil.Before(earliest) {
			earliest = e.LockedUntil
		}
	}
	return earliest, nil
}

// knownResetCadence returns the account's best-known quota reset cadence
// across its cached per-model quotas, or 0 if none is known. Several
// models can carry different cadences; the shortest known one is used so
// the account isn't locked out longer than necessary.
func knownResetCadence(acct *domain.Account) time.Duration {
	var shortest time.Duration
	for _, q := range acct.Quotas {
		if q.ResetCadence <= 0 {
			continue
		}
		if shortest == 0 || q.ResetCadence < shortest {
			shortest = q.ResetCadence
		}
	}
	return shortest
}
