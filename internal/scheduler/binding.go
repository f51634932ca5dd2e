package scheduler

import (
	"sync"
	"time"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

// bindingTable is the single concurrent map holding every live session
// binding. A plain mutex-guarded map is used rather than
// sync.Map since every operation here needs compare-and-swap semantics
// that sync.Map's LoadOrStore alone can't express for the refresh case.
type bindingTable struct {
	mu       sync.Mutex
	bindings map[string]domain.SessionBinding
}

func newBindingTable() *bindingTable {
	return &bindingTable{bindings: make(map[string]domain.SessionBinding)}
}

// lookup returns the binding for fingerprint if one exists and is still
// within TTL, or the zero value and false otherwise. An expired entry is
// treated as absent but left in the map for Sweep to reclaim.
func (t *bindingTable) lookup(fingerprint string, now time.Time, ttl time.Duration) (domain.SessionBinding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[fingerprint]
	if !ok || !b.Valid(now, ttl) {
		return domain.SessionBinding{}, false
	}
	return b, true
}

// bindOrAdopt implements a compare-and-swap: if two requests race to
// bind the same session to different accounts, the first writer wins
// and the second adopts that binding. It returns the binding now in
// effect, which may not be the one the caller asked for.
func (t *bindingTable) bindOrAdopt(fingerprint string, accountID int64, now time.Time, ttl time.Duration) domain.SessionBinding {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.bindings[fingerprint]; ok && existing.Valid(now, ttl) {
		return existing
	}
	b := domain.SessionBinding{Fingerprint: fingerprint, AccountID: accountID, BoundAt: now}
	t.bindings[fingerprint] = b
	return b
}

// refresh extends an existing binding's BoundAt to now, keeping it alive
// for another TTL window after a successful request.
func (t *bindingTable) refresh(fingerprint string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[fingerprint]
	if !ok {
		return
	}
	b.BoundAt = now
	t.bindings[fingerprint] = b
}

// clear purges a binding explicitly (e.g. the bound account became
// permanently forbidden).
func (t *bindingTable) clear(fingerprint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.bindings, fingerprint)
}

// Sweep deletes every binding past TTL, bounding the table's memory
// growth. Correctness never depends on this running.
func (t *bindingTable) Sweep(now time.Time, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fp, b := range t.bindings {
		if !b.Valid(now, ttl) {
			delete(t.bindings, fp)
		}
	}
}
