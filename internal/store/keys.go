package store

import "fmt"

// Key families used across the coordination store. All keys are ASCII.

func PlayerKey(id string) string { return fmt.Sprintf("player:%s", id) }

const ReadyQueueKey = "queue:ready"

func SessionKey(id string) string { return fmt.Sprintf("session:%s", id) }

const AvailableSessionsKey = "sessions:available"

func GameKey(id string) string { return fmt.Sprintf("game:%s", id) }

func GamePlayersKey(id string) string { return fmt.Sprintf("game:%s:players", id) }

const (
	TopicMatchFound = "events:match_found"
	TopicMatchEnded = "events:match_ended"
)

const MatchmakerLockKey = "lock:matchmaker"

func FinishLockKey(gameID string) string { return fmt.Sprintf("lock:finish:%s", gameID) }
