// Package tokenauth implements the token refresher: exchanging a
// long-lived refresh token for a short-lived access token, coalescing
// concurrent refreshes for the same account.
package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/antigravity-gateway/gateway/internal/apperr"
	"github.com/antigravity-gateway/gateway/internal/domain"
)

// accountCacheTTL bounds how long a cached account record (chiefly its
// access token and expiry) is trusted before the next GetAccessToken
// call goes back to the store, so a token revoked or rotated out of
// band from this process is noticed within one TTL window.
const accountCacheTTL = 2 * time.Second

// AccountPersister is the subset of the account store the refresher
// needs: read the current account, persist a refreshed token, and flag
// an account forbidden on revocation. Accepting an interface here (not
// *store.AccountStore directly) keeps this package's only external
// collaborator narrow).
type AccountPersister interface {
	Get(ctx context.Context, id int64) (*domain.Account, error)
	Update(ctx context.Context, a *domain.Account) error
	SetForbidden(ctx context.Context, id int64, forbidden bool) error
}

// ExpirySkew is how far ahead of actual expiry a cached token is
// considered stale and proactively refreshed.
const ExpirySkew = 60 * time.Second

// OAuthEndpoint is the Google OAuth2 token endpoint used for the
// refresh-token exchange, matching Google's OAuth2 token endpoint.
const OAuthEndpoint = "https://oauth2.googleapis.com/token"

// Refresher exchanges refresh tokens for access tokens, coalescing
// concurrent callers for the same account so a successful refresh never
// produces a stampede of upstream refresh requests.
type Refresher struct {
	accounts    AccountPersister
	oauthConfig *oauth2.Config
	group       singleflight.Group
	cache       *ristretto.Cache
}

// New builds a Refresher. clientID/clientSecret identify this product
// to the upstream OAuth2 provider; these are public installed-app
// credentials, not a secret to protect at runtime.
func New(accounts AccountPersister, clientID, clientSecret string) *Refresher {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		// Config is static and known-valid; NewCache only fails on bad
		// tuning parameters, so this is unreachable in practice.
		panic(fmt.Sprintf("tokenauth: build account cache: %v", err))
	}
	return &Refresher{
		accounts: accounts,
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: OAuthEndpoint,
			},
		},
		cache: cache,
	}
}

// cachedAccount returns accountID's record from the short-TTL cache if
// present, otherwise loads it from the store and caches it.
func (r *Refresher) cachedAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	if v, ok := r.cache.Get(accountID); ok {
		return v.(*domain.Account), nil
	}
	acct, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		r.cache.SetWithTTL(accountID, acct, 1, accountCacheTTL)
	}
	return acct, nil
}

// invalidate drops accountID's cached record, used whenever this
// Refresher writes a fresher one back to the store so a concurrent
// reader never serves the stale pre-refresh token for the rest of the
// TTL window.
func (r *Refresher) invalidate(accountID int64) {
	r.cache.Del(accountID)
}

// GetAccessToken returns a usable access token for accountID, refreshing
// it first if the cached token's expiry is within ExpirySkew. Concurrent
// callers for the same account share one upstream refresh call.
func (r *Refresher) GetAccessToken(ctx context.Context, accountID int64) (string, error) {
	acct, err := r.cachedAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("tokenauth: load account: %w", err)
	}
	if acct == nil {
		return "", apperr.NewClientError(404, "unknown account %d", accountID)
	}
	if acct.TokenValid(time.Now(), ExpirySkew) {
		return acct.AccessToken, nil
	}

	key := fmt.Sprintf("refresh:%d", accountID)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.doRefresh(ctx, accountID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ForceRefresh exchanges for a new access token regardless of the
// cached token's expiry, coalescing with any concurrent refresh for
// the same account. Used when the upstream itself rejects a
// seemingly-unexpired token with 401.
func (r *Refresher) ForceRefresh(ctx context.Context, accountID int64) (string, error) {
	key := fmt.Sprintf("refresh:%d", accountID)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.doRefreshForce(ctx, accountID, true)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Refresher) doRefresh(ctx context.Context, accountID int64) (string, error) {
	return r.doRefreshForce(ctx, accountID, false)
}

func (r *Refresher) doRefreshForce(ctx context.Context, accountID int64, force bool) (string, error) {
	acct, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("tokenauth: reload account: %w", err)
	}
	if acct == nil {
		return "", apperr.NewClientError(404, "unknown account %d", accountID)
	}
	// Re-check under the singleflight key: another goroutine may have
	// already refreshed while we waited to be scheduled. Skipped when
	// force is set, since the caller already knows this exact token was
	// rejected upstream regardless of its cached expiry.
	if !force && acct.TokenValid(time.Now(), ExpirySkew) {
		return acct.AccessToken, nil
	}

	tokenSource := r.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: acct.RefreshToken})
	tok, err := tokenSource.Token()
	if err != nil {
		if isInvalidGrant(err) {
			if setErr := r.accounts.SetForbidden(ctx, accountID, true); setErr != nil {
				return "", fmt.Errorf("tokenauth: mark forbidden: %w (after invalid_grant: %v)", setErr, err)
			}
			r.invalidate(accountID)
			return "", fmt.Errorf("tokenauth: %w: %v", apperr.ErrAuthRevoked, err)
		}
		return "", fmt.Errorf("tokenauth: refresh exchange: %w", err)
	}

	acct.AccessToken = tok.AccessToken
	acct.ExpiresAt = tok.Expiry
	if err := r.accounts.Update(ctx, acct); err != nil {
		return "", fmt.Errorf("tokenauth: persist refreshed token: %w", err)
	}
	r.invalidate(accountID)
	return tok.AccessToken, nil
}

// isInvalidGrant reports whether err is the OAuth2 provider's
// invalid_grant response, which indicates the refresh token itself has
// been revoked and the account must be marked forbidden.
func isInvalidGrant(err error) bool {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return strings.Contains(string(rerr.Body), "invalid_grant") ||
			strings.EqualFold(rerr.ErrorCode, "invalid_grant")
	}
	return strings.Contains(err.Error(), "invalid_grant")
}
