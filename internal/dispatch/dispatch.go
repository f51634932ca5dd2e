// Package dispatch implements the dispatcher: the per-request retry
// loop that ties the scheduler, token refresher, rate-limit tracker,
// and upstream client together.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/antigravity-gateway/gateway/internal/apperr"
	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/durationx"
	"github.com/antigravity-gateway/gateway/internal/logger"
	"github.com/antigravity-gateway/gateway/internal/ratelimit"
	"github.com/antigravity-gateway/gateway/internal/scheduler"
	"github.com/antigravity-gateway/gateway/internal/upstream"
)

// transientBackoff is the fixed backoff ladder applied between
// same-account retries on a classified TRANSIENT_5XX: 1s, 2s, 4s, 8s.
var transientBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// RequestBuilder renders the outbound request body for one attempt.
// disableThinking is true after a 400 thinking-signature-missing
// response, signaling the caller to flatten any thinking blocks to
// plain text before this retry.
type RequestBuilder func(ctx context.Context, disableThinking bool) ([]byte, error)

// Params describes one dispatch call.
type Params struct {
	UpstreamModel string
	Mode          config.SchedulingMode
	Fingerprint   string
	// PathSuffix is appended to the endpoint base, e.g.
	// "/v1internal:generateContent" or "/v1internal:streamGenerateContent".
	PathSuffix string
	Stream     bool
	Build      RequestBuilder
}

// Result is a completed upstream exchange. RawBody is non-nil only
// when Params.Stream was true and the response was 2xx; callers must
// close it. Body holds the full buffered response otherwise.
type Result struct {
	StatusCode int
	Body       []byte
	RawBody    io.ReadCloser
	Account    *domain.Account
	Endpoint   string
}

// ForbidMarker is the narrow account-store slice the dispatcher needs
// to flag an account forbidden on a hard 403.
type ForbidMarker interface {
	SetForbidden(ctx context.Context, id int64, forbidden bool) error
}

// TokenProvider is the narrow slice of tokenauth.Refresher the
// dispatcher needs: a cached-or-refreshed access token, and a forced
// refresh for when the upstream itself rejects a token with 401.
type TokenProvider interface {
	GetAccessToken(ctx context.Context, accountID int64) (string, error)
	ForceRefresh(ctx context.Context, accountID int64) (string, error)
}

// Dispatcher orchestrates one request's full retry loop.
type Dispatcher struct {
	scheduler     *scheduler.Scheduler
	tokens        TokenProvider
	limiter       *ratelimit.Tracker
	forbidder     ForbidMarker
	client        *upstream.Client
	endpoints     *upstream.EndpointAvailability
	baseEndpoints []string
	maxAttempts   int
}

// New builds a Dispatcher.
func New(sched *scheduler.Scheduler, tokens TokenProvider, limiter *ratelimit.Tracker, forbidder ForbidMarker, client *upstream.Client, endpoints *upstream.EndpointAvailability, cfg config.DispatchConfig) *Dispatcher {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	return &Dispatcher{
		scheduler:     sched,
		tokens:        tokens,
		limiter:       limiter,
		forbidder:     forbidder,
		client:        client,
		endpoints:     endpoints,
		baseEndpoints: upstream.DefaultEndpoints,
		maxAttempts:   maxAttempts,
	}
}

// Do runs the dispatcher's full retry loop and returns the first
// successful (or terminally failed) result.
func (d *Dispatcher) Do(ctx context.Context, p Params) (*Result, error) {
	var (
		acct             *domain.Account
		disableThinking  bool
		authRetryUsed    bool
		thinkingRetried  bool
		badRequestRotated bool
		transientStreak  int
		lastErr          error
	)

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if acct == nil {
			picked, err := d.scheduler.Pick(ctx, p.UpstreamModel, p.Mode, p.Fingerprint)
			if err != nil {
				return nil, err
			}
			acct = picked
		}

		token, err := d.tokens.GetAccessToken(ctx, acct.ID)
		if err != nil {
			if errors.Is(err, apperr.ErrAuthRevoked) {
				acct = nil
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("dispatch: get access token: %w", err)
		}

		body, err := p.Build(ctx, disableThinking)
		if err != nil {
			return nil, fmt.Errorf("dispatch: build request: %w", err)
		}

		res, endpoint, sendErr := d.send(ctx, token, body, p.PathSuffix, p.Stream)
		if sendErr != nil {
			transientStreak++
			lastErr = fmt.Errorf("dispatch: send: %w", sendErr)
			_ = d.limiter.RecordFailure(ctx, acct.ID, domain.ReasonTransient5xx, ratelimit.HintAfter(20*time.Second))
			sleepBackoff(ctx, transientStreak)
			continue // same account: network/transport failures are server-side, not account-side
		}

		switch {
		case res.StatusCode/100 == 2:
			_ = d.limiter.RecordSuccess(ctx, acct.ID)
			d.scheduler.RecordOutcome(p.Fingerprint, true)
			d.endpoints.MarkSuccess(endpoint)
			return &Result{StatusCode: res.StatusCode, Body: res.Body, RawBody: res.RawBody, Account: acct, Endpoint: endpoint}, nil

		case !acct.HandlesErrorCode(res.StatusCode):
			// The account's custom error-code allowlist excludes this
			// status: it is not treated as an account-scheduling problem
			// at all (no failure recorded, no rotation), matching the
			// operator's explicit escape hatch. Ends the retry loop
			// immediately, surfacing a generic 500 rather than the
			// upstream's own status, per that allowlist's convention
			// for a deliberately-ignored error.
			return nil, apperr.NewClientError(500, "upstream error outside account error-code policy: %s", truncate(res.Body, 256))

		case res.StatusCode == http.StatusUnauthorized:
			d.endpoints.MarkSuccess(endpoint) // the endpoint itself is fine; only auth failed
			if !authRetryUsed {
				authRetryUsed = true
				if _, ferr := d.tokens.ForceRefresh(ctx, acct.ID); ferr != nil {
					lastErr = fmt.Errorf("dispatch: force refresh after 401: %w", ferr)
					acct = nil
					continue
				}
				attempt-- // doesn't count against max_attempts
				continue
			}
			lastErr = apperr.NewClientError(401, "upstream rejected credentials")
			acct = nil

		case res.StatusCode == http.StatusForbidden:
			if ferr := d.forbidder.SetForbidden(ctx, acct.ID, true); ferr != nil {
				logger.L().Sugar().Errorw("dispatch: failed to mark account forbidden", "account_id", acct.ID, "error", ferr)
			}
			d.scheduler.ClearBinding(p.Fingerprint)
			d.scheduler.RecordOutcome(p.Fingerprint, false)
			lastErr = apperr.NewClientError(403, "account forbidden by upstream")
			acct = nil

		case res.StatusCode == http.StatusTooManyRequests:
			reason, hint := classifyQuotaFailure(res.Body, res.Header)
			if rerr := d.limiter.RecordFailure(ctx, acct.ID, reason, hint); rerr != nil {
				logger.L().Sugar().Errorw("dispatch: failed to record rate-limit failure", "account_id", acct.ID, "error", rerr)
			}
			d.scheduler.RecordOutcome(p.Fingerprint, false)
			lastErr = apperr.NewClientError(429, "rate limited: %s", truncate(res.Body, 256))
			acct = nil

		case res.StatusCode >= 500 || res.StatusCode == 529:
			transientStreak++
			if rerr := d.limiter.RecordFailure(ctx, acct.ID, domain.ReasonTransient5xx, ratelimit.HintAfter(20*time.Second)); rerr != nil {
				logger.L().Sugar().Errorw("dispatch: failed to record transient failure", "account_id", acct.ID, "error", rerr)
			}
			lastErr = apperr.NewClientError(res.StatusCode, "upstream transient error")
			sleepBackoff(ctx, transientStreak)
			// Same account: transient 5xx is server-side, not account-side.

		case res.StatusCode == http.StatusBadRequest:
			if isThinkingSignatureMissing(res.Body) && !thinkingRetried {
				thinkingRetried = true
				disableThinking = true
				lastErr = apperr.NewClientError(400, "thinking signature missing")
				continue // same account: this is a request-shape fix, not an account problem
			}
			if !badRequestRotated {
				badRequestRotated = true
				lastErr = apperr.NewClientError(400, "%s", truncate(res.Body, 512))
				acct = nil
				continue
			}
			return nil, apperr.NewClientError(400, "%s", truncate(res.Body, 512))

		default:
			lastErr = apperr.NewClientError(res.StatusCode, "unexpected upstream status %d", res.StatusCode)
			acct = nil
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apperr.ErrUpstreamTransient
}

func sleepBackoff(ctx context.Context, streak int) {
	idx := streak - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(transientBackoff) {
		idx = len(transientBackoff) - 1
	}
	timer := time.NewTimer(transientBackoff[idx])
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// sendResult is the raw outcome of one HTTP exchange, before retry-loop
// classification.
type sendResult struct {
	StatusCode int
	Body       []byte
	RawBody    io.ReadCloser
	Header     http.Header
}

// send performs the endpoint-fallback step: on 404/408/429/5xx, retry
// the identical request against the secondary endpoint exactly once
// before the attempt is considered failed.
func (d *Dispatcher) send(ctx context.Context, token string, body []byte, pathSuffix string, stream bool) (*sendResult, string, error) {
	order := d.endpoints.Order(d.baseEndpoints)
	var (
		last         *sendResult
		lastEndpoint string
		lastErr      error
	)

	for i, endpoint := range order {
		if i >= 2 {
			break
		}
		res, err := d.doSend(ctx, endpoint, token, body, pathSuffix, stream)
		if err != nil {
			d.endpoints.MarkUnavailable(endpoint)
			lastErr = err
			lastEndpoint = endpoint
			continue
		}
		last, lastEndpoint, lastErr = res, endpoint, nil
		if !shouldFallbackEndpoint(res.StatusCode) {
			return res, endpoint, nil
		}
	}

	if last != nil {
		return last, lastEndpoint, nil
	}
	return nil, lastEndpoint, lastErr
}

func shouldFallbackEndpoint(status int) bool {
	return status == http.StatusNotFound || status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests || status >= 500
}

func (d *Dispatcher) doSend(ctx context.Context, endpoint, token string, body []byte, pathSuffix string, stream bool) (*sendResult, error) {
	r := d.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if stream {
		r = r.SetHeader("Accept", "text/event-stream")
	}

	resp, err := r.Post(endpoint + pathSuffix)
	if err != nil {
		return nil, err
	}

	if stream && resp.StatusCode/100 == 2 {
		return &sendResult{StatusCode: resp.StatusCode, RawBody: resp.Body, Header: resp.Header}, nil
	}
	return &sendResult{StatusCode: resp.StatusCode, Body: resp.Bytes(), Header: resp.Header}, nil
}

// isThinkingSignatureMissing reports whether a 400 response's body
// indicates a rejected/missing thought signature.
func isThinkingSignatureMissing(body []byte) bool {
	msg := strings.ToLower(gjson.GetBytes(body, "error.message").String())
	if msg == "" {
		msg = strings.ToLower(string(body))
	}
	return strings.Contains(msg, "thought_signature") || strings.Contains(msg, "thoughtsignature") ||
		strings.Contains(msg, "signature")
}

// classifyQuotaFailure inspects a 429 response for the reason and retry
// hint the tracker needs. OpenAI Codex-style x-codex-* usage headers, if
// present, take priority over the generic Gemini body parser: they name
// an exhausted window directly, while quotaResetDelay has to be inferred
// from free-text details. Absent those, it distinguishes
// RATE_LIMIT_EXCEEDED from QUOTA_EXHAUSTED by message text and parses
// details[i].metadata.quotaResetDelay as a compound duration when
// present.
func classifyQuotaFailure(body []byte, headers http.Header) (domain.LockoutReason, ratelimit.RetryHint) {
	if hint, ok := ratelimit.CodexUsageHint(headers); ok {
		// An upstream-reported reset is pinned as an exact instant so the
		// tracker applies it verbatim instead of jittering it.
		if hint.After != nil {
			hint = ratelimit.HintAt(time.Now().Add(*hint.After))
		}
		return domain.ReasonRateLimitExceeded, hint
	}

	msg := strings.ToLower(gjson.GetBytes(body, "error.message").String())

	reason := domain.ReasonQuotaExhausted
	if strings.Contains(msg, "per minute") || strings.Contains(msg, "rate limit") {
		reason = domain.ReasonRateLimitExceeded
	}
	if strings.Contains(msg, "capacity") {
		reason = domain.ReasonModelCapacityExhaust
	}

	details := gjson.GetBytes(body, "error.details")
	hint := ratelimit.HintNone
	details.ForEach(func(_, detail gjson.Result) bool {
		delay := detail.Get("metadata.quotaResetDelay")
		if !delay.Exists() {
			return true
		}
		if d, err := durationx.Parse(delay.String()); err == nil {
			hint = ratelimit.HintAt(time.Now().Add(d))
			return false
		}
		return true
	})

	return reason, hint
}

func truncate(body []byte, n int) string {
	s := string(body)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
