package store

import (
	"context"

	"github.com/nimblegames/arena/internal/models"
)

// GetGame reads game:{id} and its player set. Returns ErrNotFound if the
// hash is absent.
func (s *Store) GetGame(ctx context.Context, id string) (*models.Game, error) {
	vals, err := s.rdb.HGetAll(ctx, GameKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	players, err := s.rdb.SMembers(ctx, GamePlayersKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return &models.Game{
		ID:         id,
		SessionID:  vals["session_id"],
		State:      models.GameState(vals["state"]),
		StartedAt:  parseInt64(vals["started_at"]),
		EndAt:      parseInt64(vals["end_at"]),
		FinishedAt: parseInt64(vals["finished_at"]),
		Players:    players,
	}, nil
}

// CreateGame materializes a new game: the game:{id} hash, its
// game:{id}:players set, and each player's IN_GAME transition, all in one
// pipelined multi-write group so these writes land ahead of the
// events:match_found publish that follows. playerTTLSeconds is the
// per-player record TTL to refresh.
func (s *Store) CreateGame(ctx context.Context, g *models.Game, playerTTLSeconds int64) error {
	pipe := s.rdb.TxPipeline()

	pipe.HSet(ctx, GameKey(g.ID), map[string]interface{}{
		"session_id": g.SessionID,
		"state":      string(models.GameRunning),
		"started_at": g.StartedAt,
		"end_at":     g.EndAt,
	})

	memberArgs := make([]interface{}, len(g.Players))
	for i, p := range g.Players {
		memberArgs[i] = p
	}
	pipe.SAdd(ctx, GamePlayersKey(g.ID), memberArgs...)

	for _, playerID := range g.Players {
		key := PlayerKey(playerID)
		pipe.HSet(ctx, key, map[string]interface{}{
			"state":        string(models.StateInGame),
			"heartbeat_at": g.StartedAt,
			"game_id":      g.ID,
			"session_id":   g.SessionID,
		})
		pipe.Expire(ctx, key, secondsToDuration(playerTTLSeconds))
	}

	_, err := pipe.Exec(ctx)
	return err
}

// FinalizeGame marks a game FINISHED and restores every member of its
// player set to IN_LOBBY, in one pipelined write group. Must only be
// called by the holder of lock:finish:{game_id}.
func (s *Store) FinalizeGame(ctx context.Context, g *models.Game, playerTTLSeconds int64) error {
	now := NowMs()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, GameKey(g.ID), map[string]interface{}{
		"state":       string(models.GameFinished),
		"finished_at": now,
	})
	for _, playerID := range g.Players {
		key := PlayerKey(playerID)
		pipe.HSet(ctx, key, map[string]interface{}{
			"state":        string(models.StateInLobby),
			"heartbeat_at": now,
			"game_id":      "",
			"session_id":   "",
		})
		pipe.Expire(ctx, key, secondsToDuration(playerTTLSeconds))
	}
	_, err := pipe.Exec(ctx)
	return err
}
