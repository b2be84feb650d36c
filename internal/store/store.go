// Package store wraps the coordination store's primitives (atomic hash
// writes, pipelined multi-write groups, list head/tail operations,
// sorted-set upserts, set-if-absent with TTL, pub/sub) used by every
// role. It is the only non-test code that imports go-redis; every other
// package talks to a *Store (test files build one over a miniredis
// client via NewFromClient).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a thin, typed wrapper around a *redis.Client. It holds no
// role-specific state — it is safe to share a single Store across
// goroutines within a process, and every role runs its own Store pointed
// at the same coordination backend.
type Store struct {
	rdb *redis.Client
}

// New connects to the coordination store at addr/db and verifies
// reachability with a bounded ping.
func New(addr string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to coordination store at %s: %w", addr, err)
	}
	return &Store{rdb: rdb}, nil
}

// NewFromClient wraps an already-constructed *redis.Client, used by tests
// to point a Store at a miniredis instance.
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping checks store reachability; a failure here is a fatal startup
// error for roles that require the store to be reachable before they
// can serve anything.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// NowMs returns the current wall-clock time in milliseconds, the unit
// every timestamp field in the data model uses.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}
