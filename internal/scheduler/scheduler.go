// Package scheduler implements the account scheduler: candidate
// filtering and ordering, session affinity, and the three scheduling
// modes.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/antigravity-gateway/gateway/internal/apperr"
	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/domain"
)

// AccountLister is the subset of the account store the scheduler reads,
// plus the last-used touch it writes back on every pick.
type AccountLister interface {
	List(ctx context.Context) ([]*domain.Account, error)
	Update(ctx context.Context, a *domain.Account) error
}

// LockoutChecker is the subset of the rate-limit tracker the scheduler
// consults when building the candidate set.
type LockoutChecker interface {
	IsLocked(ctx context.Context, accountID int64) (*time.Time, error)
	EarliestAvailable(ctx context.Context) (time.Time, error)
}

// Scheduler picks an account for a resolved request, honoring session
// affinity and the configured scheduling mode.
type Scheduler struct {
	accounts   AccountLister
	lockouts   LockoutChecker
	bindings   *bindingTable
	sessionTTL time.Duration
	maxWait    time.Duration
}

// New builds a Scheduler. sessionTTL and maxWait come from the dispatch
// configuration (config.DispatchConfig.SessionTTL / SchedulerMaxWait).
func New(accounts AccountLister, lockouts LockoutChecker, sessionTTL, maxWait time.Duration) *Scheduler {
	return &Scheduler{
		accounts:   accounts,
		lockouts:   lockouts,
		bindings:   newBindingTable(),
		sessionTTL: sessionTTL,
		maxWait:    maxWait,
	}
}

// Pick selects an account for upstreamModel under the given scheduling
// mode. fingerprint is the empty string for requests with no session
// affinity (e.g. background tasks, which bypass binding entirely).
func (s *Scheduler) Pick(ctx context.Context, upstreamModel string, mode config.SchedulingMode, fingerprint string) (*domain.Account, error) {
	now := time.Now()

	candidates, err := s.candidates(ctx, upstreamModel, now)
	if err != nil {
		return nil, err
	}

	if fingerprint != "" {
		if binding, ok := s.bindings.lookup(fingerprint, now, s.sessionTTL); ok {
			if acct := findByID(candidates, binding.AccountID); acct != nil {
				return s.commit(ctx, acct, now)
			}
			// Bound account isn't in the candidate set right now
			// (locked, disabled, or out of quota). CacheFirst waits for
			// it specifically; the other modes fall through below.
			if mode == config.ModeCacheFirst {
				if waited := s.awaitBoundAccount(ctx, binding.AccountID, now); waited != nil {
					return s.commit(ctx, waited, time.Now())
				}
				// Still unavailable after the wait window: fall through
				// to Balance-style selection.
			}
		}
	}

	if len(candidates) == 0 {
		earliest, _ := s.lockouts.EarliestAvailable(ctx)
		return nil, &apperr.AllAccountsUnavailableError{EarliestAvailable: earliest}
	}

	sortCandidates(candidates)
	chosen := candidates[0]

	switch mode {
	case config.ModePerformanceFirst:
		// No binding created or refreshed.
	default: // CacheFirst, Balance
		if fingerprint != "" {
			bound := s.bindings.bindOrAdopt(fingerprint, chosen.ID, now, s.sessionTTL)
			if bound.AccountID != chosen.ID {
				if acct := findByID(candidates, bound.AccountID); acct != nil {
					chosen = acct
				}
			}
		}
	}

	return s.commit(ctx, chosen, now)
}

// RecordOutcome refreshes a session binding's TTL window after a
// successful request. A failed outcome leaves the binding unchanged;
// ClearBinding is what purges it.
func (s *Scheduler) RecordOutcome(fingerprint string, success bool) {
	if fingerprint == "" {
		return
	}
	if success {
		s.bindings.refresh(fingerprint, time.Now())
		return
	}
}

// ClearBinding purges a session's binding outright, used when the
// dispatcher learns the bound account can never serve this session
// again.
func (s *Scheduler) ClearBinding(fingerprint string) {
	if fingerprint == "" {
		return
	}
	s.bindings.clear(fingerprint)
}

// SweepBindings deletes every session binding past TTL; wired into the
// periodic cron sweeper alongside ratelimit.Sweep.
func (s *Scheduler) SweepBindings(now time.Time) {
	s.bindings.Sweep(now, s.sessionTTL)
}

func (s *Scheduler) commit(ctx context.Context, acct *domain.Account, now time.Time) (*domain.Account, error) {
	cp := *acct
	cp.LastUsedAt = now
	if err := s.accounts.Update(ctx, &cp); err != nil {
		return nil, fmt.Errorf("scheduler: touch last-used: %w", err)
	}
	return &cp, nil
}

// candidates builds the filtered, ordered candidate set: enabled, not
// forbidden, not locked out, and (if the
// account's quota snapshot for this model is known) not exhausted.
func (s *Scheduler) candidates(ctx context.Context, upstreamModel string, now time.Time) ([]*domain.Account, error) {
	all, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list accounts: %w", err)
	}

	out := make([]*domain.Account, 0, len(all))
	for _, a := range all {
		if !a.Enabled || a.Forbidden || a.TempUnschedulable(now) {
			continue
		}
		if q, ok := a.Quotas[upstreamModel]; ok && q.Remaining == 0 {
			continue
		}
		locked, err := s.lockouts.IsLocked(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("scheduler: check lockout for account %d: %w", a.ID, err)
		}
		if locked != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// sortCandidates orders by (tier, quota reset cadence ascending, user
// rank, last-used ascending).
func sortCandidates(accts []*domain.Account) {
	sort.SliceStable(accts, func(i, j int) bool {
		a, b := accts[i], accts[j]
		if ra, rb := domain.TierRank(a.Tier), domain.TierRank(b.Tier); ra != rb {
			return ra < rb
		}
		if ca, cb := shortestCadence(a), shortestCadence(b); ca != cb {
			return ca < cb
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.LastUsedAt.Before(b.LastUsedAt)
	})
}

func shortestCadence(a *domain.Account) time.Duration {
	var shortest time.Duration
	for _, q := range a.Quotas {
		if q.ResetCadence <= 0 {
			continue
		}
		if shortest == 0 || q.ResetCadence < shortest {
			shortest = q.ResetCadence
		}
	}
	return shortest
}

func findByID(accts []*domain.Account, id int64) *domain.Account {
	for _, a := range accts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// awaitBoundAccount implements CacheFirst's wait step: block until the
// bound account unlocks or until min(locked_until, now+max_wait),
// whichever comes first, then re-check eligibility. Returns nil if the
// account is still unavailable (disabled, forbidden, or still locked).
func (s *Scheduler) awaitBoundAccount(ctx context.Context, accountID int64, now time.Time) *domain.Account {
	locked, err := s.lockouts.IsLocked(ctx, accountID)
	if err != nil || locked == nil {
		return s.reloadIfEligible(ctx, accountID, now)
	}

	deadline := *locked
	if maxDeadline := now.Add(s.maxWait); maxDeadline.Before(deadline) {
		deadline = maxDeadline
	}
	wait := time.Until(deadline)
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
	return s.reloadIfEligible(ctx, accountID, time.Now())
}

func (s *Scheduler) reloadIfEligible(ctx context.Context, accountID int64, now time.Time) *domain.Account {
	all, err := s.accounts.List(ctx)
	if err != nil {
		return nil
	}
	a := findByID(all, accountID)
	if a == nil || !a.Enabled || a.Forbidden || a.TempUnschedulable(now) {
		return nil
	}
	if locked, err := s.lockouts.IsLocked(ctx, accountID); err != nil || locked != nil {
		return nil
	}
	return a
}
