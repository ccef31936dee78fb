// internal/game/sync_state.go
package game

import (
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
)

// ObfCard represents a card's state for client synchronization. Value is
// set only while the card is public: in the flip buffer, matched, or revealed.
type ObfCard struct {
	ID        int    `json:"id"`
	Known     bool   `json:"known"`
	Value     string `json:"value,omitempty"`
	Theme     string `json:"theme,omitempty"`
	IsFlipped bool   `json:"isFlipped"`
	IsMatched bool   `json:"isMatched"`
	Revealed  bool   `json:"revealed"`
}

// ObfPlayerState represents a single player, obfuscated for a specific observer.
type ObfPlayerState struct {
	PlayerID      uuid.UUID `json:"playerId"`
	Username      string    `json:"username"`
	Ready         bool      `json:"ready"`
	Score         int       `json:"score"`
	Matches       int       `json:"matches"`
	Flips         int       `json:"flips"`
	Streak        int       `json:"streak"`
	MemoryMeter   int       `json:"memoryMeter"`
	Connected     bool      `json:"connected"`
	IsCurrentTurn bool      `json:"isCurrentTurn"`
	Left          bool      `json:"left"`
	Eliminated    bool      `json:"eliminated"`
	PowerUpCount  int       `json:"powerUpCount"`
	// PowerUps is populated only for the player requesting the state ('self').
	PowerUps    []engine.HeldPowerUp `json:"powerUps,omitempty"`
	ExtraTurns  int                  `json:"extraTurns,omitempty"`
	FrozenUntil *time.Time           `json:"frozenUntil,omitempty"`
}

// ObfOutcome is the terminal result, by user id.
type ObfOutcome struct {
	Reason  engine.CompletionReason `json:"reason"`
	Winner  uuid.UUID               `json:"winner"`
	Ranking []uuid.UUID             `json:"ranking"`
}

// ObfGameState represents the overall game state, obfuscated for a specific observer.
type ObfGameState struct {
	RoomID          uuid.UUID        `json:"roomId"`
	GameID          uuid.UUID        `json:"gameId"`
	Status          engine.Status    `json:"status"`
	Settings        Settings         `json:"settings"`
	CurrentPlayerID uuid.UUID        `json:"currentPlayerId"`
	TurnID          int              `json:"turnId"`
	Round           int              `json:"round"`
	TimeRemainingMs int64            `json:"timeRemainingMs,omitempty"`
	Board           []ObfCard        `json:"board"`
	FlipBuffer      []int            `json:"flipBuffer"`
	PairsMatched    int              `json:"pairsMatched"`
	TotalPairs      int              `json:"totalPairs"`
	Players         []ObfPlayerState `json:"players"`
	Chat            []ChatMessage    `json:"chat,omitempty"`
	Outcome         *ObfOutcome      `json:"outcome,omitempty"`
}

// GetCurrentObfuscatedGameState generates a snapshot of the game state
// tailored to forUser. uuid.Nil yields the public view. Must run on the
// session goroutine.
func (s *Session) GetCurrentObfuscatedGameState(forUser uuid.UUID) ObfGameState {
	g := s.state
	obf := ObfGameState{
		RoomID:       s.ID,
		GameID:       s.GameID,
		Status:       g.Status,
		Settings:     s.Settings,
		TurnID:       s.turnID,
		Round:        g.Round,
		FlipBuffer:   append([]int{}, g.FlipBuffer...),
		PairsMatched: len(g.MatchedPairs),
		TotalPairs:   g.PairCount(),
	}
	if g.Rules.TimeLimit > 0 {
		obf.TimeRemainingMs = g.TimeRemaining.Milliseconds()
	}
	if g.Status == engine.StatusPlaying || g.Status == engine.StatusPaused {
		obf.CurrentPlayerID = s.playerUUID(g.CurrentPlayer)
	}

	obf.Board = make([]ObfCard, len(g.Board))
	for i, c := range g.Board {
		oc := ObfCard{ID: c.ID, IsFlipped: c.IsFlipped, IsMatched: c.IsMatched, Revealed: c.Revealed}
		if c.IsFlipped || c.IsMatched || c.Revealed {
			oc.Known = true
			oc.Value = c.Value
			oc.Theme = c.Theme
		}
		obf.Board[i] = oc
	}

	now := s.now()
	obf.Players = make([]ObfPlayerState, len(g.Players))
	for i := range g.Players {
		p := &g.Players[i]
		id := s.playerUUID(i)
		ps := ObfPlayerState{
			PlayerID:      id,
			Username:      p.Name,
			Ready:         p.Ready,
			Score:         p.Score,
			Matches:       p.Matches,
			Flips:         p.Flips,
			Streak:        p.Streak,
			MemoryMeter:   p.MemoryMeter,
			Connected:     s.connected[id],
			IsCurrentTurn: id == obf.CurrentPlayerID,
			Left:          p.Left,
			Eliminated:    p.Eliminated,
		}
		for _, h := range p.PowerUps {
			ps.PowerUpCount += h.Uses
		}
		if p.FrozenUntil.After(now) {
			t := p.FrozenUntil
			ps.FrozenUntil = &t
		}
		if id == forUser {
			ps.PowerUps = append([]engine.HeldPowerUp{}, p.PowerUps...)
			ps.ExtraTurns = p.ExtraTurns
		}
		obf.Players[i] = ps
	}

	if forUser != uuid.Nil {
		obf.Chat = append([]ChatMessage{}, s.chat...)
	}

	if g.Outcome != nil {
		out := &ObfOutcome{Reason: g.Outcome.Reason}
		if g.Outcome.Winner != engine.NoPlayer {
			out.Winner = s.playerUUID(g.Outcome.Winner)
		}
		for _, idx := range g.Outcome.Ranking {
			out.Ranking = append(out.Ranking, s.playerUUID(idx))
		}
		obf.Outcome = out
	}
	return obf
}
