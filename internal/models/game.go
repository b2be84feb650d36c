package models

// GameState is one of the two states a game record can hold.
type GameState string

const (
	GameRunning  GameState = "RUNNING"
	GameFinished GameState = "FINISHED"
)

// Game mirrors the game:{id} hash, paired with the game:{id}:players set.
type Game struct {
	ID         string
	SessionID  string
	State      GameState
	StartedAt  int64
	EndAt      int64
	FinishedAt int64 // zero means unset
	Players    []string
}

// HasEnded reports whether nowMs has reached the game's scheduled end.
// A zero EndAt is treated as already ended, a fail-safe default for
// finalization.
func (g *Game) HasEnded(nowMs int64) bool {
	if g.EndAt == 0 {
		return true
	}
	return nowMs >= g.EndAt
}
