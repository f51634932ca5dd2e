package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-gateway/gateway/internal/apperr"
	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/domain"
)

type fakeAccounts struct {
	mu   sync.Mutex
	byID map[int64]*domain.Account
}

func newFakeAccounts(accts ...*domain.Account) *fakeAccounts {
	m := make(map[int64]*domain.Account)
	for _, a := range accts {
		m[a.ID] = a
	}
	return &fakeAccounts{byID: m}
}

func (f *fakeAccounts) List(_ context.Context) ([]*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Account, 0, len(f.byID))
	for _, a := range f.byID {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeAccounts) Update(_ context.Context, a *domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.byID[a.ID] = &cp
	return nil
}

type fakeLockouts struct {
	mu     sync.Mutex
	locked map[int64]time.Time
}

func newFakeLockouts() *fakeLockouts {
	return &fakeLockouts{locked: make(map[int64]time.Time)}
}

func (f *fakeLockouts) lock(id int64, until time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[id] = until
}

func (f *fakeLockouts) IsLocked(_ context.Context, id int64) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.locked[id]
	if !ok || time.Now().After(until) {
		return nil, nil
	}
	return &until, nil
}

func (f *fakeLockouts) EarliestAvailable(_ context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var earliest time.Time
	for _, until := range f.locked {
		if until.Before(time.Now()) {
			continue
		}
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
	}
	return earliest, nil
}

func TestPickReturnsAllAccountsUnavailableWhenNoneEligible(t *testing.T) {
	accounts := newFakeAccounts(&domain.Account{ID: 1, Enabled: false})
	lockouts := newFakeLockouts()
	s := New(accounts, lockouts, time.Minute, time.Minute)

	_, err := s.Pick(context.Background(), "gemini-2.5-pro", config.ModeBalance, "")
	require.Error(t, err)
	var unavailable *apperr.AllAccountsUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestPickOrdersByTierThenRankThenLastUsed(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	accounts := newFakeAccounts(
		&domain.Account{ID: 1, Enabled: true, Tier: domain.TierFree, LastUsedAt: old},
		&domain.Account{ID: 2, Enabled: true, Tier: domain.TierUltra, LastUsedAt: old},
		&domain.Account{ID: 3, Enabled: true, Tier: domain.TierUltra, LastUsedAt: time.Now()},
	)
	s := New(accounts, newFakeLockouts(), time.Minute, time.Minute)

	acct, err := s.Pick(context.Background(), "gemini-2.5-pro", config.ModePerformanceFirst, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), acct.ID, "ultra tier with the older last-used wins over free tier and the more-recently-used ultra account")
}

func TestPickExcludesLockedAndQuotaExhaustedAccounts(t *testing.T) {
	lockouts := newFakeLockouts()
	lockouts.lock(1, time.Now().Add(time.Hour))
	accounts := newFakeAccounts(
		&domain.Account{ID: 1, Enabled: true, Tier: domain.TierUltra},
		&domain.Account{ID: 2, Enabled: true, Tier: domain.TierPro, Quotas: map[string]domain.ModelQuota{
			"gemini-2.5-pro": {Remaining: 0},
		}},
		&domain.Account{ID: 3, Enabled: true, Tier: domain.TierFree},
	)
	s := New(accounts, lockouts, time.Minute, time.Minute)

	acct, err := s.Pick(context.Background(), "gemini-2.5-pro", config.ModeBalance, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), acct.ID)
}

func TestPickPerformanceFirstNeverCreatesBinding(t *testing.T) {
	accounts := newFakeAccounts(&domain.Account{ID: 1, Enabled: true})
	s := New(accounts, newFakeLockouts(), time.Minute, time.Minute)

	fp := "fp-perf"
	_, err := s.Pick(context.Background(), "gemini-2.5-pro", config.ModePerformanceFirst, fp)
	require.NoError(t, err)

	_, ok := s.bindings.lookup(fp, time.Now(), time.Minute)
	assert.False(t, ok, "PerformanceFirst must not create a session binding")
}

func TestPickBalanceCreatesBindingAndHonorsItOnNextCall(t *testing.T) {
	accounts := newFakeAccounts(
		&domain.Account{ID: 1, Enabled: true, Tier: domain.TierFree},
		&domain.Account{ID: 2, Enabled: true, Tier: domain.TierUltra},
	)
	s := New(accounts, newFakeLockouts(), time.Minute, time.Minute)

	fp := "fp-balance"
	first, err := s.Pick(context.Background(), "gemini-2.5-pro", config.ModeBalance, fp)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.ID, "ultra tier should be chosen first")

	second, err := s.Pick(context.Background(), "gemini-2.5-pro", config.ModeBalance, fp)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "second request with the same fingerprint must reuse the binding")
}

func TestPickConcurrentBindRacesFirstWriterWins(t *testing.T) {
	accounts := newFakeAccounts(
		&domain.Account{ID: 1, Enabled: true},
		&domain.Account{ID: 2, Enabled: true},
	)
	s := New(accounts, newFakeLockouts(), time.Minute, time.Minute)
	fp := "fp-race"

	results := make([]int64, 16)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			acct, err := s.Pick(context.Background(), "gemini-2.5-pro", config.ModeBalance, fp)
			require.NoError(t, err)
			results[idx] = acct.ID
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id, "every racing request must adopt the same binding")
	}
}

func TestPickCacheFirstFallsBackToBalanceWhenBoundAccountStaysLocked(t *testing.T) {
	lockouts := newFakeLockouts()
	accounts := newFakeAccounts(
		&domain.Account{ID: 1, Enabled: true},
		&domain.Account{ID: 2, Enabled: true},
	)
	s := New(accounts, lockouts, time.Minute, 10*time.Millisecond)
	fp := "fp-cachefirst"

	first, err := s.Pick(context.Background(), "gemini-2.5-pro", config.ModeBalance, fp)
	require.NoError(t, err)

	lockouts.lock(first.ID, time.Now().Add(time.Hour))

	acct, err := s.Pick(context.Background(), "gemini-2.5-pro", config.ModeCacheFirst, fp)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, acct.ID, "should fall through to the other account once the max wait elapses")
}

func TestIsBackgroundTaskDetectsHaikuModel(t *testing.T) {
	req := domain.CanonicalRequest{ClientModel: "claude-haiku-4-5-20251001"}
	assert.True(t, IsBackgroundTask(req))
}

func TestIsBackgroundTaskDetectsTitlePrompt(t *testing.T) {
	req := domain.CanonicalRequest{
		ClientModel: "claude-sonnet-4-5",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: "Write a 5-10 word title for this chat."}}},
		},
	}
	assert.True(t, IsBackgroundTask(req))
}

func TestIsBackgroundTaskDetectsSmallMaxTokensSingleTurn(t *testing.T) {
	req := domain.CanonicalRequest{
		ClientModel: "claude-sonnet-4-5",
		MaxTokens:   32,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: "hello"}}},
		},
	}
	assert.True(t, IsBackgroundTask(req))
}

func TestIsBackgroundTaskFalseForOrdinaryMultiTurnRequest(t *testing.T) {
	req := domain.CanonicalRequest{
		ClientModel: "claude-sonnet-4-5",
		MaxTokens:   4096,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: "hi"}}},
			{Role: domain.RoleModel, Parts: []domain.Part{{Kind: domain.PartText, Text: "hello there"}}},
			{Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: "how are you"}}},
		},
	}
	assert.False(t, IsBackgroundTask(req))
}

func TestFingerprintStableAndExcludesFinalUserTurn(t *testing.T) {
	base := domain.CanonicalRequest{
		System: "you are a helpful assistant",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: "hi"}}},
			{Role: domain.RoleModel, Parts: []domain.Part{{Kind: domain.PartText, Text: "hello"}}},
		},
	}
	variantA := base
	variantA.Messages = append(append([]domain.Message{}, base.Messages...), domain.Message{
		Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: "final turn A"}},
	})
	variantB := base
	variantB.Messages = append(append([]domain.Message{}, base.Messages...), domain.Message{
		Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: "final turn B"}},
	})

	fpA := Fingerprint(variantA)
	fpB := Fingerprint(variantB)
	assert.Equal(t, fpA, fpB, "the final user turn must not affect the fingerprint")
	assert.Equal(t, 64, len(fpA), "sha256 hex digest is 64 chars")
}
