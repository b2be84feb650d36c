// Package ids centralizes the ID formats used across the coordination
// store: fresh UUIDs for players and games, and the session ID
// derivation rule (explicit config, then hostname if it matches
// session-<n>, else a fresh ID).
package ids

import (
	"os"
	"regexp"

	"github.com/google/uuid"
)

var sessionHostnamePattern = regexp.MustCompile(`^session-[0-9]+$`)

// NewPlayerID mints a fresh player identifier.
func NewPlayerID() string {
	return uuid.NewString()
}

// NewGameID mints a fresh game identifier.
func NewGameID() string {
	return uuid.NewString()
}

// NewSessionID mints a fresh session identifier for a freshly
// provisioned runner, before it has had a chance to derive its own
// stable ID via ResolveSessionID.
func NewSessionID() string {
	return uuid.NewString()
}

// ResolveSessionID implements the session-runner ID derivation rule:
// explicit configuration wins, then the process hostname if it matches
// session-<n>, else a freshly minted UUID.
func ResolveSessionID(configured string) string {
	if configured != "" {
		return configured
	}
	if hostname, err := os.Hostname(); err == nil && sessionHostnamePattern.MatchString(hostname) {
		return hostname
	}
	return uuid.NewString()
}
