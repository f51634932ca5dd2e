package tokenauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	accounts  map[int64]*domain.Account
	forbidden map[int64]bool
}

func newFakeStore(accts ...*domain.Account) *fakeStore {
	m := make(map[int64]*domain.Account)
	for _, a := range accts {
		m[a.ID] = a
	}
	return &fakeStore{accounts: m, forbidden: make(map[int64]bool)}
}

func (f *fakeStore) Get(_ context.Context, id int64) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
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
	f.accounts[a.ID] = &cp
	return nil
}

func (f *fakeStore) SetForbidden(_ context.Context, id int64, forbidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forbidden[id] = forbidden
	if a, ok := f.accounts[id]; ok {
		a.Forbidden = forbidden
	}
	return nil
}

func TestGetAccessTokenFastPathNoRefresh(t *testing.T) {
	store := newFakeStore(&domain.Account{
		ID:          1,
		AccessToken: "still-good",
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	r := New(store, "id", "secret")

	tok, err := r.GetAccessToken(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "still-good", tok)
}

func TestGetAccessTokenCoalescesConcurrentRefreshes(t *testing.T) {
	var exchangeCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&exchangeCount, 1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	store := newFakeStore(&domain.Account{
		ID:           1,
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Hour), // expired
	})
	r := New(store, "id", "secret")
	r.oauthConfig.Endpoint.TokenURL = srv.URL

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client())

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tok, err := r.GetAccessToken(ctx, 1)
			require.NoError(t, err)
			results[idx] = tok
		}(i)
	}
	wg.Wait()

	for _, tok := range results {
		assert.Equal(t, "fresh-token", tok)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&exchangeCount), "concurrent refreshes for the same account must coalesce into one upstream call")
}

func TestGetAccessTokenMarksForbiddenOnInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been revoked"}`))
	}))
	defer srv.Close()

	store := newFakeStore(&domain.Account{
		ID:           2,
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Hour),
	})
	r := New(store, "id", "secret")
	r.oauthConfig.Endpoint.TokenURL = srv.URL

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client())
	_, err := r.GetAccessToken(ctx, 2)
	require.Error(t, err)
	assert.True(t, store.forbidden[2], "account should be marked forbidden after invalid_grant")
}
