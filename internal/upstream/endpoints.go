package upstream

import (
	"sync"
	"time"
)

// Endpoint fallback order: the primary production endpoint first, the
// sandbox/daily endpoint as fallback exactly once.
const (
	ProdEndpoint  = "https://cloudcode-pa.googleapis.com"
	DailyEndpoint = "https://daily-cloudcode-pa.sandbox.googleapis.com"
)

// DefaultEndpoints is the declared fallback order: prod first, daily
// second.
var DefaultEndpoints = []string{ProdEndpoint, DailyEndpoint}

// unavailabilityTTL is how long an endpoint that just failed is skipped
// before being tried again.
const unavailabilityTTL = 5 * time.Minute

// EndpointAvailability tracks which endpoints are temporarily skipped
// after a failure and which one most recently succeeded, so subsequent
// requests prefer it.
type EndpointAvailability struct {
	mu          sync.RWMutex
	unavailable map[string]time.Time
	lastSuccess string
	ttl         time.Duration
}

// NewEndpointAvailability builds a tracker with the given unavailability
// TTL.
func NewEndpointAvailability(ttl time.Duration) *EndpointAvailability {
	if ttl <= 0 {
		ttl = unavailabilityTTL
	}
	return &EndpointAvailability{unavailable: make(map[string]time.Time), ttl: ttl}
}

// MarkUnavailable flags endpoint as temporarily unusable.
func (e *EndpointAvailability) MarkUnavailable(endpoint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavailable[endpoint] = time.Now().Add(e.ttl)
}

// MarkSuccess records a successful call against endpoint, clearing any
// unavailability mark and preferring it on the next ordering.
func (e *EndpointAvailability) MarkSuccess(endpoint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSuccess = endpoint
	delete(e.unavailable, endpoint)
}

// IsAvailable reports whether endpoint's unavailability window has
// elapsed.
func (e *EndpointAvailability) IsAvailable(endpoint string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	expiry, marked := e.unavailable[endpoint]
	return !marked || time.Now().After(expiry)
}

// Order returns the endpoints to try, in order: the last successful
// endpoint first (if still available), then the rest of base in their
// declared order, skipping any endpoint still inside its unavailability
// window. If every endpoint is marked down, the full base order is
// returned, since a stale mark shouldn't wedge the whole fallback chain.
func (e *EndpointAvailability) Order(base []string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := time.Now()
	out := make([]string, 0, len(base))
	seen := make(map[string]bool, len(base))

	if e.lastSuccess != "" {
		for _, ep := range base {
			if ep == e.lastSuccess {
				if expiry, marked := e.unavailable[ep]; !marked || now.After(expiry) {
					out = append(out, ep)
					seen[ep] = true
				}
				break
			}
		}
	}

	for _, ep := range base {
		if seen[ep] {
			continue
		}
		if expiry, marked := e.unavailable[ep]; !marked || now.After(expiry) {
			out = append(out, ep)
			seen[ep] = true
		}
	}

	// Every endpoint unavailable: retry everything rather than returning
	// an empty order, since that would make the account look permanently
	// unreachable even after the TTL should have let one recover.
	if len(out) == 0 {
		return append([]string(nil), base...)
	}
	return out
}
