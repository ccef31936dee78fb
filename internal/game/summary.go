// internal/game/summary.go
package game

import (
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
)

// PlayerSummary is one seat in a room listing.
type PlayerSummary struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Ready     bool      `json:"ready"`
	Connected bool      `json:"connected"`
	Left      bool      `json:"left"`
	Score     int       `json:"score"`
	Matches   int       `json:"matches"`
}

// Summary is an immutable snapshot of a room for lock-free reads.
type Summary struct {
	ID           uuid.UUID               `json:"id"`
	Name         string                  `json:"name"`
	CreatedBy    uuid.UUID               `json:"createdBy"`
	CreatedAt    time.Time               `json:"createdAt"`
	Settings     Settings                `json:"settings"`
	Private      bool                    `json:"private"`
	Status       engine.Status           `json:"status"`
	Players      []PlayerSummary         `json:"players"`
	LastActivity time.Time               `json:"lastActivity"`
	Reason       engine.CompletionReason `json:"completionReason,omitempty"`
}

// Seated reports whether userID holds a seat (including players who left).
func (s Summary) Seated(userID uuid.UUID) bool {
	for _, p := range s.Players {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// ActivePlayers counts seats whose player has not left.
func (s Summary) ActivePlayers() int {
	n := 0
	for _, p := range s.Players {
		if !p.Left {
			n++
		}
	}
	return n
}

// Summary returns the latest published snapshot. Safe from any goroutine.
func (s *Session) Summary() Summary {
	return s.summary.Load().(Summary)
}

// publishSummary stores a fresh snapshot. Runs on the session goroutine.
func (s *Session) publishSummary() {
	sum := Summary{
		ID:           s.ID,
		Name:         s.Settings.Name,
		CreatedBy:    s.CreatedBy,
		CreatedAt:    s.CreatedAt,
		Settings:     s.Settings,
		Private:      s.Private,
		Status:       s.state.Status,
		Players:      make([]PlayerSummary, len(s.state.Players)),
		LastActivity: s.lastActivity,
	}
	for i := range s.state.Players {
		p := &s.state.Players[i]
		id := s.playerUUID(i)
		sum.Players[i] = PlayerSummary{
			ID:        id,
			Username:  p.Name,
			Ready:     p.Ready,
			Connected: s.connected[id],
			Left:      p.Left,
			Score:     p.Score,
			Matches:   p.Matches,
		}
	}
	if s.state.Outcome != nil {
		sum.Reason = s.state.Outcome.Reason
	}
	s.summary.Store(sum)
}
