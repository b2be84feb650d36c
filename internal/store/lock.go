package store

import (
	"context"
	"time"
)

// AcquireLock performs a set-if-absent with TTL (SET key val NX EX) and
// reports whether this caller won the lock. Callers never explicitly
// release the lock — it simply expires. Used for lock:matchmaker and
// lock:finish:{game_id}.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
