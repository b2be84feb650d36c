package models

import "strings"

// Session mirrors the session:{id} hash — one runner's placement capacity.
type Session struct {
	ID             string
	MaxSlots       int
	ActiveGames    int
	GameIDs        []string
	AvailableSlots int
	UpdatedAt      int64
}

// GameIDsCSV joins GameIDs the way the hash field game_ids is stored:
// comma-joined, no surrounding whitespace.
func (s *Session) GameIDsCSV() string {
	return strings.Join(s.GameIDs, ",")
}

// ParseGameIDsCSV splits the stored game_ids field back into a slice,
// tolerating the empty-string case (no games).
func ParseGameIDsCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RemoveGameID removes the given id from GameIDs in place, preserving
// relative order of the rest.
func (s *Session) RemoveGameID(id string) {
	out := s.GameIDs[:0]
	for _, g := range s.GameIDs {
		if g != id {
			out = append(out, g)
		}
	}
	s.GameIDs = out
}

// Recompute derives AvailableSlots from MaxSlots and ActiveGames,
// enforcing invariant 3 (active_games <= max_slots).
func (s *Session) Recompute() {
	if s.ActiveGames > s.MaxSlots {
		s.ActiveGames = s.MaxSlots
	}
	if s.ActiveGames < 0 {
		s.ActiveGames = 0
	}
	s.AvailableSlots = s.MaxSlots - s.ActiveGames
}
