package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[int64]*domain.Account
}

func newFakeAccountStore(accts ...*domain.Account) *fakeAccountStore {
	m := make(map[int64]*domain.Account)
	for _, a := range accts {
		m[a.ID] = a
	}
	return &fakeAccountStore{accounts: m}
}

func (f *fakeAccountStore) Get(_ context.Context, id int64) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccountStore) Update(_ context.Context, a *domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.accounts[a.ID] = &cp
	return nil
}

func TestIsLockedFalseWhenNeverLocked(t *testing.T) {
	tr := New(NewMemoryBackend(), newFakeAccountStore(&domain.Account{ID: 1}))
	until, err := tr.IsLocked(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, until)
}

func TestRecordFailureThenIsLockedTrue(t *testing.T) {
	tr := New(NewMemoryBackend(), newFakeAccountStore(&domain.Account{ID: 1}))
	ctx := context.Background()

	require.NoError(t, tr.RecordFailure(ctx, 1, domain.ReasonRateLimitExceeded, HintNone))

	until, err := tr.IsLocked(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, until)
	assert.True(t, until.After(time.Now()))
}

func TestRecordFailureHonorsAbsoluteHintVerbatim(t *testing.T) {
	tr := New(NewMemoryBackend(), newFakeAccountStore(&domain.Account{ID: 1}))
	ctx := context.Background()

	deadline := time.Now().Add(90 * time.Minute)
	require.NoError(t, tr.RecordFailure(ctx, 1, domain.ReasonQuotaExhausted, HintAt(deadline)))

	until, err := tr.IsLocked(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, until)
	assert.True(t, until.Equal(deadline), "absolute hint must be used verbatim, no jitter")
}

func TestRecordFailureRelativeHintAppliesJitterAroundDuration(t *testing.T) {
	tr := New(NewMemoryBackend(), newFakeAccountStore(&domain.Account{ID: 1}))
	ctx := context.Background()

	before := time.Now()
	require.NoError(t, tr.RecordFailure(ctx, 1, domain.ReasonRateLimitExceeded, HintAfter(10*time.Second)))
	after := time.Now()

	until, err := tr.IsLocked(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, until)
	assert.True(t, until.Sub(before) >= 8*time.Second)
	assert.True(t, until.Sub(after) <= 12*time.Second)
}

func TestRecordFailureQuotaExhaustedBacksOffWithConsecutiveFailures(t *testing.T) {
	store := newFakeAccountStore(&domain.Account{ID: 1})
	tr := New(NewMemoryBackend(), store)
	ctx := context.Background()

	// First failure: ladder[0] == 60s (±20%).
	start := time.Now()
	require.NoError(t, tr.RecordFailure(ctx, 1, domain.ReasonQuotaExhausted, HintNone))
	first, err := tr.IsLocked(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.Sub(start) < 90*time.Second)

	// Clear the lockout manually (simulating expiry) but keep the
	// counter, then fail again: ladder[1] == 5m.
	require.NoError(t, tr.backend.Clear(ctx, 1))
	require.NoError(t, tr.RecordFailure(ctx, 1, domain.ReasonQuotaExhausted, HintNone))
	second, err := tr.IsLocked(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.True(t, second.Sub(time.Now()) > 3*time.Minute, "second consecutive QUOTA_EXHAUSTED should back off further")

	acct, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, acct.ConsecutiveFailures)
}

func TestRecordFailureQuotaExhaustedUsesKnownResetCadence(t *testing.T) {
	store := newFakeAccountStore(&domain.Account{
		ID: 1,
		Quotas: map[string]domain.ModelQuota{
			"gemini-pro": {Model: "gemini-pro", ResetCadence: 45 * time.Minute},
		},
	})
	tr := New(NewMemoryBackend(), store)
	ctx := context.Background()

	before := time.Now()
	require.NoError(t, tr.RecordFailure(ctx, 1, domain.ReasonQuotaExhausted, HintNone))
	until, err := tr.IsLocked(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, until)

	d := until.Sub(before)
	assert.True(t, d >= 36*time.Minute && d <= 54*time.Minute, "should follow the known cadence, not the generic ladder")
}

func TestRecordFailureTransientFiveXXIsReasonIsolated(t *testing.T) {
	store := newFakeAccountStore(&domain.Account{ID: 1, ConsecutiveFailures: 3})
	tr := New(NewMemoryBackend(), store)
	ctx := context.Background()

	require.NoError(t, tr.RecordFailure(ctx, 1, domain.ReasonTransient5xx, HintNone))

	acct, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, acct.ConsecutiveFailures, "TRANSIENT_5XX must not bump the consecutive-failure counter")

	until, err := tr.IsLocked(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, until)
	assert.True(t, until.Sub(time.Now()) <= 25*time.Second)
}

func TestRecordSuccessClearsLockoutAndResetsCounter(t *testing.T) {
	store := newFakeAccountStore(&domain.Account{ID: 1, ConsecutiveFailures: 2})
	tr := New(NewMemoryBackend(), store)
	ctx := context.Background()

	require.NoError(t, tr.RecordFailure(ctx, 1, domain.ReasonRateLimitExceeded, HintNone))
	require.NoError(t, tr.RecordSuccess(ctx, 1))

	until, err := tr.IsLocked(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, until)

	acct, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, acct.ConsecutiveFailures)
}

func TestEarliestAvailableAcrossMultipleAccounts(t *testing.T) {
	store := newFakeAccountStore(&domain.Account{ID: 1}, &domain.Account{ID: 2})
	tr := New(NewMemoryBackend(), store)
	ctx := context.Background()

	near := time.Now().Add(5 * time.Second)
	far := time.Now().Add(time.Hour)
	require.NoError(t, tr.RecordFailure(ctx, 1, domain.ReasonQuotaExhausted, HintAt(far)))
	require.NoError(t, tr.RecordFailure(ctx, 2, domain.ReasonQuotaExhausted, HintAt(near)))

	earliest, err := tr.EarliestAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, earliest.Equal(near))
}

func TestEarliestAvailableZeroWhenNothingLocked(t *testing.T) {
	tr := New(NewMemoryBackend(), newFakeAccountStore(&domain.Account{ID: 1}))
	earliest, err := tr.EarliestAvailable(context.Background())
	require.NoError(t, err)
	assert.True(t, earliest.IsZero())
}
