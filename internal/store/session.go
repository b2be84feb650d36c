package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/nimblegames/arena/internal/models"
)

// GetSession reads session:{id}. Returns ErrNotFound if absent.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	vals, err := s.rdb.HGetAll(ctx, SessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	sess := &models.Session{
		ID:             id,
		MaxSlots:       parseInt(vals["max_slots"]),
		ActiveGames:    parseInt(vals["active_games"]),
		GameIDs:        models.ParseGameIDsCSV(vals["game_ids"]),
		AvailableSlots: parseInt(vals["available_slots"]),
		UpdatedAt:      parseInt64(vals["updated_at"]),
	}
	return sess, nil
}

// UpsertSession writes the full session:{id} hash and syncs its
// sessions:available membership: present with score=available_slots
// iff >0, else absent.
func (s *Store) UpsertSession(ctx context.Context, sess *models.Session) error {
	sess.Recompute()
	sess.UpdatedAt = NowMs()

	key := SessionKey(sess.ID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"max_slots":       sess.MaxSlots,
		"active_games":    sess.ActiveGames,
		"game_ids":        sess.GameIDsCSV(),
		"available_slots": sess.AvailableSlots,
		"updated_at":      sess.UpdatedAt,
	})
	if sess.AvailableSlots > 0 {
		pipe.ZAdd(ctx, AvailableSessionsKey, redis.Z{Score: float64(sess.AvailableSlots), Member: sess.ID})
	} else {
		pipe.ZRem(ctx, AvailableSessionsKey, sess.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteSession removes session:{id} and its sessions:available entry,
// used by the capacity provider on scale-down.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, SessionKey(id))
	pipe.ZRem(ctx, AvailableSessionsKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// ListAvailableSessions returns every session currently in
// sessions:available, highest score (most free slots) first.
func (s *Store) ListAvailableSessions(ctx context.Context) ([]SessionScore, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, AvailableSessionsKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]SessionScore, len(zs))
	for i, z := range zs {
		out[i] = SessionScore{SessionID: z.Member.(string), AvailableSlots: int(z.Score)}
	}
	return out, nil
}

// SessionScore is one entry of sessions:available.
type SessionScore struct {
	SessionID      string
	AvailableSlots int
}

// TotalAvailableSlots sums the free-slot scores across sessions:available,
// the multi-slot-mode capacity figure the matchmaker checks against
// queue length.
func (s *Store) TotalAvailableSlots(ctx context.Context) (int, error) {
	scores, err := s.ListAvailableSessions(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, sc := range scores {
		total += sc.AvailableSlots
	}
	return total, nil
}

// reserveSlotScript picks the sessions:available member with the highest
// score, decrements it by one, removing the member if the score reaches
// zero, and mirrors that decrement onto the session hash's active_games
// and available_slots fields — an atomic reservation of one slot. The
// key prefix "session:" is duplicated from keys.go's SessionKey by
// necessity: Lua scripts can't call Go functions.
const reserveSlotScript = `
local top = redis.call('ZREVRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #top == 0 then
  return nil
end
local sessionID = top[1]
local score = tonumber(top[2])
if score <= 0 then
  return nil
end
local newScore = score - 1
if newScore <= 0 then
  redis.call('ZREM', KEYS[1], sessionID)
else
  redis.call('ZADD', KEYS[1], newScore, sessionID)
end
local sessionKey = 'session:' .. sessionID
redis.call('HINCRBY', sessionKey, 'active_games', 1)
redis.call('HSET', sessionKey, 'available_slots', newScore, 'updated_at', ARGV[1])
return sessionID
`

// ReserveSlot attempts to reserve one slot on the session with the most
// free capacity. Returns ("", nil) if no session currently has capacity.
func (s *Store) ReserveSlot(ctx context.Context) (string, error) {
	res, err := s.rdb.Eval(ctx, reserveSlotScript, []string{AvailableSessionsKey}, NowMs()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	sessionID, _ := res.(string)
	return sessionID, nil
}

// recomputeAvailabilityScript applies a delta to a session's active_games
// counter (clamped to [0, max_slots]), recomputes available_slots, writes
// the hash, and syncs sessions:available membership. Shared by reservation
// release (delta=-1) and finalization (delta=-1); both need the exact
// same decrement-and-resync-the-index operation.
const recomputeAvailabilityScript = `
local sessionKey = KEYS[1]
local indexKey = KEYS[2]
local sessionID = ARGV[1]
local delta = tonumber(ARGV[2])
local now = ARGV[3]

local exists = redis.call('EXISTS', sessionKey)
if exists == 0 then
  return nil
end

local active = tonumber(redis.call('HGET', sessionKey, 'active_games') or '0') + delta
local maxSlots = tonumber(redis.call('HGET', sessionKey, 'max_slots') or '0')
if active < 0 then active = 0 end
if active > maxSlots then active = maxSlots end
local avail = maxSlots - active

redis.call('HSET', sessionKey, 'active_games', active, 'available_slots', avail, 'updated_at', now)
if avail > 0 then
  redis.call('ZADD', indexKey, avail, sessionID)
else
  redis.call('ZREM', indexKey, sessionID)
end
return avail
`

// ReleaseReservation reverses a reservation that was never consumed by a
// game — batch starvation, or any exception after a successful
// reservation — restoring the session's availability accounting.
func (s *Store) ReleaseReservation(ctx context.Context, sessionID string) error {
	return s.applyAvailabilityDelta(ctx, sessionID, -1)
}

// DecrementActiveGames applies the session-runner finalization's
// active_games decrement and sessions:available resync in one atomic
// step.
func (s *Store) DecrementActiveGames(ctx context.Context, sessionID string) error {
	return s.applyAvailabilityDelta(ctx, sessionID, -1)
}

func (s *Store) applyAvailabilityDelta(ctx context.Context, sessionID string, delta int) error {
	_, err := s.rdb.Eval(ctx, recomputeAvailabilityScript,
		[]string{SessionKey(sessionID), AvailableSessionsKey},
		sessionID, delta, NowMs(),
	).Result()
	return err
}

const appendGameIDScript = `
local key = KEYS[1]
local gameID = ARGV[1]
local now = ARGV[2]
local csv = redis.call('HGET', key, 'game_ids')
if csv == false or csv == '' then
  csv = gameID
else
  csv = csv .. ',' .. gameID
end
redis.call('HSET', key, 'game_ids', csv, 'updated_at', now)
return csv
`

// AppendGameID atomically appends gameID to a session's game_ids field,
// needed because multiple matchmaker instances may concurrently place
// games onto the same multi-slot session.
func (s *Store) AppendGameID(ctx context.Context, sessionID, gameID string) error {
	return s.rdb.Eval(ctx, appendGameIDScript, []string{SessionKey(sessionID)}, gameID, NowMs()).Err()
}

const removeGameIDScript = `
local key = KEYS[1]
local target = ARGV[1]
local now = ARGV[2]
local csv = redis.call('HGET', key, 'game_ids')
if csv == false or csv == '' then
  return ''
end
local kept = {}
for id in string.gmatch(csv, '([^,]+)') do
  if id ~= target then
    table.insert(kept, id)
  end
end
local joined = table.concat(kept, ',')
redis.call('HSET', key, 'game_ids', joined, 'updated_at', now)
return joined
`

// RemoveGameID atomically removes gameID from a session's game_ids field,
// used by the session runner when it drops a finished or vanished game.
func (s *Store) RemoveGameID(ctx context.Context, sessionID, gameID string) error {
	return s.rdb.Eval(ctx, removeGameIDScript, []string{SessionKey(sessionID)}, gameID, NowMs()).Err()
}

func parseInt(s string) int {
	return int(parseInt64(s))
}

// ScanSessionIDs walks every session:{id} key via SCAN, skipping the
// sessions:available sorted set itself (it does not match the "session:"
// prefix). Used by the capacity provider's demand metrics and
// reconciliation pass.
func (s *Store) ScanSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, "session:*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len("session:"):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// RebuildAvailableIndex discards sessions:available and rebuilds it from
// the truth of each listed session's max_slots-active_games, the
// capacity provider's reconciliation step. Callers must already have
// verified the session list is trustworthy (the empty-list() guard
// lives in the capacity package, not here).
func (s *Store) RebuildAvailableIndex(ctx context.Context, sessions map[string]*models.Session) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, AvailableSessionsKey)
	for id, sess := range sessions {
		sess.Recompute()
		if sess.AvailableSlots > 0 {
			pipe.ZAdd(ctx, AvailableSessionsKey, redis.Z{Score: float64(sess.AvailableSlots), Member: id})
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetSessions batch-reads multiple session:{id} hashes in one pipeline,
// mirroring GetPlayers. Sessions missing from the store are omitted from
// the result rather than erroring.
func (s *Store) GetSessions(ctx context.Context, ids []string) (map[string]*models.Session, error) {
	out := make(map[string]*models.Session, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, SessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		out[id] = &models.Session{
			ID:             id,
			MaxSlots:       parseInt(vals["max_slots"]),
			ActiveGames:    parseInt(vals["active_games"]),
			GameIDs:        models.ParseGameIDsCSV(vals["game_ids"]),
			AvailableSlots: parseInt(vals["available_slots"]),
			UpdatedAt:      parseInt64(vals["updated_at"]),
		}
	}
	return out, nil
}
