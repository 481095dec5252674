// Package store abstracts the shared state store (C1): durable key/value,
// hash, sorted-set, list, and pub/sub primitives used by the Dispatcher,
// Worker Runtime, and Stream Fan-Out. The store is assumed process-external
// and shared; it need not be transactional across keys — callers tolerate
// brief inconsistency windows.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist or has expired.
var ErrMiss = errors.New("store: key miss")

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Store is the operation set every shared-store adapter must implement.
// All operations are atomic at the call granularity.
type Store interface {
	// KV
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Hash
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDelete(ctx context.Context, key string) error

	// Sorted set
	ZAdd(ctx context.Context, key string, member string, score float64) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRangeByRank(ctx context.Context, key string, start, stop int64, reverse bool) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZRem(ctx context.Context, key string, member string) error

	// List (FIFO via LPush at the head, LRange/LTrim at the tail)
	LPush(ctx context.Context, key string, value string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Pub/sub
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// Key enumeration by prefix — administrative sweeps only, never the hot path.
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// Close releases underlying connections.
	Close() error
}

// Subscription is a live pub/sub listener over one or more channels.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}
