package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimblegames/arena/internal/models"
)

// ErrNotFound is returned when a record does not exist in the store.
var ErrNotFound = errors.New("store: not found")

// GetPlayer reads player:{id}. Returns ErrNotFound if the hash is absent
// (never created, or expired via TTL).
func (s *Store) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	vals, err := s.rdb.HGetAll(ctx, PlayerKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	p := &models.Player{ID: id, State: models.PlayerState(vals["state"])}
	if v, ok := vals["heartbeat_at"]; ok {
		p.HeartbeatAt = parseInt64(v)
	}
	p.GameID = vals["game_id"]
	p.SessionID = vals["session_id"]
	return p, nil
}

// GetPlayers batch-reads state for a list of player IDs in one round trip,
// used by the matchmaker's stale-queue filter and the reaper's
// queue-hygiene pass. Missing players come back with an empty state so
// callers treat them as stale.
func (s *Store) GetPlayers(ctx context.Context, ids []string) (map[string]*models.Player, error) {
	out := make(map[string]*models.Player, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, PlayerKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			out[id] = &models.Player{ID: id}
			continue
		}
		p := &models.Player{ID: id, State: models.PlayerState(vals["state"])}
		p.HeartbeatAt = parseInt64(vals["heartbeat_at"])
		p.GameID = vals["game_id"]
		p.SessionID = vals["session_id"]
		out[id] = p
	}
	return out, nil
}

// writePlayerFields applies a field set plus TTL refresh to a hash in
// one pipeline: every player write refreshes the TTL.
func (s *Store) writePlayerFields(ctx context.Context, id string, fields map[string]interface{}, ttl time.Duration) error {
	key := PlayerKey(id)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// SetPlayerReady sets state=READY, refreshing the heartbeat and TTL. This
// is an intentional forward transition, not monotone-guarded.
func (s *Store) SetPlayerReady(ctx context.Context, id string, ttl time.Duration) error {
	return s.writePlayerFields(ctx, id, map[string]interface{}{
		"state":        string(models.StateReady),
		"heartbeat_at": NowMs(),
	}, ttl)
}

// SetPlayerInGame sets state=IN_GAME with the given game/session,
// refreshing the heartbeat and TTL. The matchmaker's CreateGame writes
// the same fields for each player inside its own write group rather
// than calling this.
func (s *Store) SetPlayerInGame(ctx context.Context, id, gameID, sessionID string, ttl time.Duration) error {
	return s.writePlayerFields(ctx, id, map[string]interface{}{
		"state":        string(models.StateInGame),
		"heartbeat_at": NowMs(),
		"game_id":      gameID,
		"session_id":   sessionID,
	}, ttl)
}

// SetPlayerInLobbyUnconditional sets state=IN_LOBBY and clears game/session
// fields unconditionally. Used by the gateway's LEAVE handler and by the
// reaper's player-hygiene pass — both are authoritative resets, not the
// disconnect/background writes invariant 6 constrains.
func (s *Store) SetPlayerInLobbyUnconditional(ctx context.Context, id string, ttl time.Duration) error {
	return s.writePlayerFields(ctx, id, map[string]interface{}{
		"state":        string(models.StateInLobby),
		"heartbeat_at": NowMs(),
		"game_id":      "",
		"session_id":   "",
	}, ttl)
}

// monotoneLobbyScript guards against a gateway-driven IN_LOBBY write
// (HELLO, disconnect) downgrading a player who is currently
// READY or IN_GAME. It is a single EVAL so the read-then-write is atomic
// against a concurrent matchmaker/gateway write.
const monotoneLobbyScript = `
local key = KEYS[1]
local state = redis.call('HGET', key, 'state')
if state == 'READY' or state == 'IN_GAME' then
  redis.call('HSET', key, 'heartbeat_at', ARGV[1])
  redis.call('EXPIRE', key, ARGV[2])
  return 0
end
redis.call('HSET', key, 'state', 'IN_LOBBY', 'heartbeat_at', ARGV[1], 'game_id', '', 'session_id', '')
redis.call('EXPIRE', key, ARGV[2])
return 1
`

// SetPlayerInLobbyMonotone applies the above script, returning true if the
// record was written as IN_LOBBY, false if a concurrent READY/IN_GAME
// state won and only the heartbeat/TTL were refreshed.
func (s *Store) SetPlayerInLobbyMonotone(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	res, err := s.rdb.Eval(ctx, monotoneLobbyScript, []string{PlayerKey(id)}, NowMs(), int64(ttl/time.Second)).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// unreadyScript implements the UNREADY handler's guard: it is an explicit
// player action that must win over READY, but must still never clobber a
// concurrent IN_GAME transition (the matchmaker may have already picked
// this player out of the queue).
const unreadyScript = `
local key = KEYS[1]
local state = redis.call('HGET', key, 'state')
if state == 'IN_GAME' then
  redis.call('HSET', key, 'heartbeat_at', ARGV[1])
  redis.call('EXPIRE', key, ARGV[2])
  return 0
end
redis.call('HSET', key, 'state', 'IN_LOBBY', 'heartbeat_at', ARGV[1], 'game_id', '', 'session_id', '')
redis.call('EXPIRE', key, ARGV[2])
return 1
`

// SetPlayerUnready applies the UNREADY handler: READY -> IN_LOBBY, unless a
// concurrent write already moved the player to IN_GAME, in which case only
// the heartbeat/TTL are refreshed. Returns true if the record was written
// as IN_LOBBY.
func (s *Store) SetPlayerUnready(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	res, err := s.rdb.Eval(ctx, unreadyScript, []string{PlayerKey(id)}, NowMs(), int64(ttl/time.Second)).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// RefreshHeartbeat updates heartbeat_at and TTL without changing state.
// If the player record is missing, it is re-created in IN_LOBBY.
func (s *Store) RefreshHeartbeat(ctx context.Context, id string, ttl time.Duration) error {
	key := PlayerKey(id)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return s.writePlayerFields(ctx, id, map[string]interface{}{
			"state":        string(models.StateInLobby),
			"heartbeat_at": NowMs(),
			"game_id":      "",
			"session_id":   "",
		}, ttl)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "heartbeat_at", NowMs())
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// ScanPlayerIDs walks every player:{id} key via SCAN, used by the
// reaper's player-hygiene pass to find stale records without blocking
// the store the way a KEYS call would.
func (s *Store) ScanPlayerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, "player:*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len("player:"):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
