package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

// redisBackend shares the lockout table across gateway processes via
// Redis, for deployments that run more than one core instance behind a
// load balancer. Keys carry a native Redis TTL so expired entries don't
// need a separate sweep.
type redisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBackend builds a Backend on top of an existing redis.Client.
func NewRedisBackend(rdb *redis.Client) Backend {
	return &redisBackend{rdb: rdb, prefix: "gateway:lockout:"}
}

func (b *redisBackend) key(accountID int64) string {
	return fmt.Sprintf("%s%d", b.prefix, accountID)
}

func (b *redisBackend) Get(ctx context.Context, accountID int64) (*domain.LockoutEntry, error) {
	raw, err := b.rdb.Get(ctx, b.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e domain.LockoutEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (b *redisBackend) Set(ctx context.Context, entry domain.LockoutEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ttl := time.Until(entry.LockedUntil)
	if ttl <= 0 {
		return b.Clear(ctx, entry.AccountID)
	}
	return b.rdb.Set(ctx, b.key(entry.AccountID), raw, ttl).Err()
}

func (b *redisBackend) Clear(ctx context.Context, accountID int64) error {
	return b.rdb.Del(ctx, b.key(accountID)).Err()
}

func (b *redisBackend) All(ctx context.Context) ([]domain.LockoutEntry, error) {
	var out []domain.LockoutEntry
	iter := b.rdb.Scan(ctx, 0, b.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := b.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var e domain.LockoutEntry
		if err := json.Unmarshal(raw, &e); err == nil {
			out = append(out, e)
		}
	}
	return out, iter.Err()
}
