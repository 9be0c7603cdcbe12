// Package kv abstracts the key-value storage the service runs on. The core
// needs nothing beyond hash/set/list primitives and an atomic integer
// increment on a single hash field; there are no multi-key transactions.
package kv

import (
	"context"
	"time"
)

type Store interface {
	// Hash operations. HGetAll returns an empty map for a missing key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, error)
	// HIncrBy atomically adds delta to an integer hash field and returns
	// the new value. A missing field counts as zero.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// Set operations.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// List operations (usage history). LPush prepends; LRange is
	// newest-first with inclusive stop, -1 meaning end of list.
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)

	// Plain keys.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
