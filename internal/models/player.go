// Package models defines the record shapes stored in the coordination
// store: Player, Session, and Game. These are plain data structs — the
// store package is responsible for marshaling them to and from Redis
// hashes.
package models

// PlayerState is one of the three states a player's record can hold.
type PlayerState string

const (
	StateInLobby PlayerState = "IN_LOBBY"
	StateReady   PlayerState = "READY"
	StateInGame  PlayerState = "IN_GAME"
)

// Player mirrors the player:{id} hash.
type Player struct {
	ID          string      `redis:"id"`
	State       PlayerState `redis:"state"`
	HeartbeatAt int64       `redis:"heartbeat_at"`
	GameID      string      `redis:"game_id"`
	SessionID   string      `redis:"session_id"`
}

// IsStale reports whether the player's last heartbeat is older than
// staleMs milliseconds as of nowMs.
func (p *Player) IsStale(nowMs, staleMs int64) bool {
	return nowMs-p.HeartbeatAt > staleMs
}
