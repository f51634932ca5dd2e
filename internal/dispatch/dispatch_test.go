package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/ratelimit"
	"github.com/antigravity-gateway/gateway/internal/scheduler"
	"github.com/antigravity-gateway/gateway/internal/upstream"
)

// fakeTokens is a network-free TokenProvider double: it always hands
// back the account's cached token, and counts forced refreshes so the
// 401-retry test can assert on them without an OAuth2 round trip.
type fakeTokens struct {
	mu             sync.Mutex
	forceRefreshes int
}

func (f *fakeTokens) GetAccessToken(_ context.Context, accountID int64) (string, error) {
	return fmt.Sprintf("tok-%d", accountID), nil
}

func (f *fakeTokens) ForceRefresh(_ context.Context, accountID int64) (string, error) {
	f.mu.Lock()
	f.forceRefreshes++
	f.mu.Unlock()
	return fmt.Sprintf("tok-%d-refreshed", accountID), nil
}

// fakeStore satisfies scheduler.AccountLister, ratelimit.AccountFailureStore,
// tokenauth.AccountPersister, and dispatch.ForbidMarker with one in-memory
// map, the way the scheduler and tracker package tests each do separately.
type fakeStore struct {
	mu   sync.Mutex
	byID map[int64]*domain.Account
}

func newFakeStore(accts ...*domain.Account) *fakeStore {
	m := make(map[int64]*domain.Account)
	for _, a := range accts {
		m[a.ID] = a
	}
	return &fakeStore{byID: m}
}

func (f *fakeStore) List(_ context.Context) ([]*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Account, 0, len(f.byID))
	for _, a := range f.byID {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) Update(_ context.Context, a *domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.byID[a.ID] = &cp
	return nil
}

func (f *fakeStore) SetForbidden(_ context.Context, id int64, forbidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.byID[id]; ok {
		a.Forbidden = forbidden
	}
	return nil
}

func newTestAccount() *domain.Account {
	return &domain.Account{
		ID:        1,
		Enabled:   true,
		Tier:      domain.TierPro,
		AccessToken: "tok-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func newDispatcher(t *testing.T, store *fakeStore, serverURL string) *Dispatcher {
	t.Helper()
	sched := scheduler.New(store, ratelimit.New(ratelimit.NewMemoryBackend(), store), 60*time.Second, time.Second)
	tokens := &fakeTokens{}
	limiter := ratelimit.New(ratelimit.NewMemoryBackend(), store)
	client := upstream.New(upstream.Options{Timeout: 5 * time.Second})
	endpoints := upstream.NewEndpointAvailability(time.Minute)

	return &Dispatcher{
		scheduler:     sched,
		tokens:        tokens,
		limiter:       limiter,
		forbidder:     store,
		client:        client,
		endpoints:     endpoints,
		baseEndpoints: []string{serverURL},
		maxAttempts:   6,
	}
}

func staticBuilder(body string) RequestBuilder {
	return func(_ context.Context, _ bool) ([]byte, error) {
		return []byte(body), nil
	}
}

func TestDoReturnsSuccessAndRecordsIt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	store := newFakeStore(newTestAccount())
	d := newDispatcher(t, store, srv.URL)

	res, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build:         staticBuilder(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(1), res.Account.ID)
}

func TestDoRotatesAccountOn403AndMarksForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"forbidden"}}`))
	}))
	defer srv.Close()

	store := newFakeStore(newTestAccount())
	d := newDispatcher(t, store, srv.URL)

	_, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build:         staticBuilder(`{}`),
	})
	require.Error(t, err)

	acct, _ := store.Get(context.Background(), 1)
	assert.True(t, acct.Forbidden)
}

func TestDoRetries401OnceWithoutCountingAgainstMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := newFakeStore(newTestAccount())
	d := newDispatcher(t, store, srv.URL)

	res, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build:         staticBuilder(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDoRetriesSameAccountOn5xxWithoutRotating(t *testing.T) {
	var seenTokens []string
	var mu sync.Mutex
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenTokens = append(seenTokens, r.Header.Get("Authorization"))
		mu.Unlock()
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := newFakeStore(newTestAccount())
	d := newDispatcher(t, store, srv.URL)

	_, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build:         staticBuilder(`{}`),
	})
	require.NoError(t, err)
	require.Len(t, seenTokens, 2)
	assert.Equal(t, seenTokens[0], seenTokens[1], "the same account's token is reused across a 5xx retry")
}

func TestDoSkipsAccountPenaltyForErrorCodeOutsideCustomAllowlist(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"maintenance"}}`))
	}))
	defer srv.Close()

	acct := newTestAccount()
	acct.CustomErrorCodes = []int{429}
	store := newFakeStore(acct)
	d := newDispatcher(t, store, srv.URL)

	_, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build:         staticBuilder(`{}`),
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "excluded error codes end the retry loop immediately")

	got, _ := store.Get(context.Background(), 1)
	assert.False(t, got.Forbidden)
}

func TestDoAppliesAccountPenaltyForErrorCodeInCustomAllowlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"forbidden"}}`))
	}))
	defer srv.Close()

	acct := newTestAccount()
	acct.CustomErrorCodes = []int{403}
	store := newFakeStore(acct)
	d := newDispatcher(t, store, srv.URL)

	_, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build:         staticBuilder(`{}`),
	})
	require.Error(t, err)

	got, _ := store.Get(context.Background(), 1)
	assert.True(t, got.Forbidden, "a status code present in the allowlist still gets normal handling")
}

func TestDoParses429QuotaResetDelayAsRetryHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exhausted","details":[{"metadata":{"quotaResetDelay":"2h21m25.8s"}}]}}`))
	}))
	defer srv.Close()

	store := newFakeStore(newTestAccount())
	d := newDispatcher(t, store, srv.URL)

	_, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build:         staticBuilder(`{}`),
	})
	require.Error(t, err)

	locked, lerr := d.limiter.IsLocked(context.Background(), 1)
	require.NoError(t, lerr)
	require.NotNil(t, locked)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour+21*time.Minute+25*time.Second), *locked, 5*time.Second)
}

func TestDoPrefersCodexUsageHeadersOverBodyQuotaResetDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-codex-primary-used-percent", "100")
		w.Header().Set("x-codex-primary-reset-after-seconds", "900")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exhausted","details":[{"metadata":{"quotaResetDelay":"2h"}}]}}`))
	}))
	defer srv.Close()

	store := newFakeStore(newTestAccount())
	d := newDispatcher(t, store, srv.URL)

	_, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build:         staticBuilder(`{}`),
	})
	require.Error(t, err)

	locked, lerr := d.limiter.IsLocked(context.Background(), 1)
	require.NoError(t, lerr)
	require.NotNil(t, locked)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *locked, 5*time.Second)
}

func TestDoDisablesThinkingOnceOn400SignatureMissing(t *testing.T) {
	var seenDisableThinking []bool
	var mu sync.Mutex
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"thought_signature is invalid or missing"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := newFakeStore(newTestAccount())
	d := newDispatcher(t, store, srv.URL)

	_, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build: func(_ context.Context, disableThinking bool) ([]byte, error) {
			mu.Lock()
			seenDisableThinking = append(seenDisableThinking, disableThinking)
			mu.Unlock()
			return []byte(`{}`), nil
		},
	})
	require.NoError(t, err)
	require.Len(t, seenDisableThinking, 2)
	assert.False(t, seenDisableThinking[0])
	assert.True(t, seenDisableThinking[1])
}

func TestDoSurfacesAllAccountsUnavailableWhenNoneEligible(t *testing.T) {
	store := newFakeStore() // no accounts at all
	d := newDispatcher(t, store, "http://unused.invalid")

	_, err := d.Do(context.Background(), Params{
		UpstreamModel: "gemini-2.5-pro",
		Mode:          config.ModeBalance,
		PathSuffix:    "/v1:generateContent",
		Build:         staticBuilder(`{}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all accounts unavailable")
}
