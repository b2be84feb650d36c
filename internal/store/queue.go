package store

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Enqueue appends a player ID to the tail of queue:ready (READY_UP).
func (s *Store) Enqueue(ctx context.Context, playerID string) error {
	return s.rdb.RPush(ctx, ReadyQueueKey, playerID).Err()
}

// EnqueueMany appends multiple IDs to the tail in one round trip, used
// for the leftover-return and short-batch-return steps of the stale-queue
// batching algorithm.
func (s *Store) EnqueueMany(ctx context.Context, playerIDs []string) error {
	if len(playerIDs) == 0 {
		return nil
	}
	args := make([]interface{}, len(playerIDs))
	for i, id := range playerIDs {
		args[i] = id
	}
	return s.rdb.RPush(ctx, ReadyQueueKey, args...).Err()
}

// PopHead pops up to n IDs from the head of queue:ready in one round trip.
// Returns fewer than n (possibly zero) if the queue is shorter.
func (s *Store) PopHead(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := s.rdb.LPopCount(ctx, ReadyQueueKey, int(n)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}

// QueueLen reports the current length of queue:ready.
func (s *Store) QueueLen(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, ReadyQueueKey).Result()
}

// SnapshotQueue returns the full queue:ready contents for the reaper's
// queue-hygiene pass.
func (s *Store) SnapshotQueue(ctx context.Context) ([]string, error) {
	return s.rdb.LRange(ctx, ReadyQueueKey, 0, -1).Result()
}

// RemoveFromQueue does a value-based delete of every occurrence of
// playerID from queue:ready (LREM), rather than a positional delete,
// which would drift under concurrent pops.
func (s *Store) RemoveFromQueue(ctx context.Context, playerID string) error {
	return s.rdb.LRem(ctx, ReadyQueueKey, 0, playerID).Err()
}
