// Package ratelimit implements the rate-limit tracker: per-account
// lockout bookkeeping with precise reset-time accounting and
// exponential backoff on repeated failures.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

// Backend stores lockout entries. The in-process implementation is the
// default; a Redis-backed implementation is available for a
// multi-process deployment sharing one lockout table.
type Backend interface {
	Get(ctx context.Context, accountID int64) (*domain.LockoutEntry, error)
	Set(ctx context.Context, entry domain.LockoutEntry) error
	Clear(ctx context.Context, accountID int64) error
	// All returns every currently-stored entry, expired or not; callers
	// filter by Active themselves.
	All(ctx context.Context) ([]domain.LockoutEntry, error)
}

// memoryBackend is a Backend over a map guarded by a sync.RWMutex, sufficient for a single
// gateway process.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[int64]domain.LockoutEntry
}

// NewMemoryBackend returns the default in-process lockout backend.
func NewMemoryBackend() Backend {
	return &memoryBackend{entries: make(map[int64]domain.LockoutEntry)}
}

func (b *memoryBackend) Get(_ context.Context, accountID int64) (*domain.LockoutEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[accountID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (b *memoryBackend) Set(_ context.Context, entry domain.LockoutEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.AccountID] = entry
	return nil
}

func (b *memoryBackend) Clear(_ context.Context, accountID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, accountID)
	return nil
}

func (b *memoryBackend) All(_ context.Context) ([]domain.LockoutEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.LockoutEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out, nil
}

// Sweep removes every entry that has expired as of now, used by a
// periodic cron job to bound memory growth. Correctness never
// depends on this running, since Active() already treats an expired
// entry as logically absent.
func Sweep(ctx context.Context, b Backend, now time.Time) error {
	mb, ok := b.(*memoryBackend)
	if !ok {
		return nil // other backends expire entries server-side (e.g. Redis TTL)
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for id, e := range mb.entries {
		if !e.Active(now) {
			delete(mb.entries, id)
		}
	}
	return nil
}
