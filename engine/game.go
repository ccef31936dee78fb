// Package engine implements the rules of a turn-based memory-matching game.
//
// The engine is pure and synchronous: it holds no locks, starts no
// goroutines and never reads the clock. Callers serialize access and pass
// the current time into every mutating operation.
package engine

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// GameState holds the complete authoritative state of one game.
type GameState struct {
	Status        Status        `json:"status"`
	Rules         Rules         `json:"rules"`
	Players       []PlayerState `json:"players"` // seating order; left players stay flagged
	CurrentPlayer int           `json:"currentPlayer"`
	Board         []Card        `json:"board"`
	FlipBuffer    []int         `json:"flipBuffer"`   // 0-2 face-up unresolved card ids
	MatchedPairs  []string      `json:"matchedPairs"` // values, in match order
	TimeRemaining time.Duration `json:"timeRemaining"`
	Round         int           `json:"round"`
	StartedAt     time.Time     `json:"startedAt"`
	LastActivity  time.Time     `json:"lastActivity"`
	PowerUpPool   []PowerUpType `json:"powerUpPool"`

	OpponentsForHistory []OpponentSnapshot `json:"opponentsForHistory"`
	Outcome             *Outcome           `json:"outcome,omitempty"`

	matchSeq uint64
	rng      *rand.Rand
}

// ---------------------------------------------------------------------------
// Construction and seating
// ---------------------------------------------------------------------------

// NewGame creates a game in the waiting state. The seed drives board
// generation and power-up draws, so equal seeds give equal games.
func NewGame(seed uint64, rules Rules) *GameState {
	return &GameState{
		Status:        StatusWaiting,
		Rules:         rules,
		CurrentPlayer: 0,
		PowerUpPool:   append([]PowerUpType(nil), rules.PowerUpPool...),
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// AddPlayer seats a player at the end of the table and returns their index.
func (g *GameState) AddPlayer(id, name string) (int, error) {
	if g.Status != StatusWaiting {
		return NoPlayer, ErrNotWaiting
	}
	if g.PlayerIndex(id) != NoPlayer {
		return NoPlayer, ErrAlreadySeated
	}
	if len(g.Players) >= g.Rules.MaxPlayers {
		return NoPlayer, ErrRoomFull
	}
	g.Players = append(g.Players, PlayerState{ID: id, Name: name})
	return len(g.Players) - 1, nil
}

// RemovePlayer frees a seat before the game starts.
func (g *GameState) RemovePlayer(id string) error {
	if g.Status != StatusWaiting {
		return ErrNotWaiting
	}
	idx := g.PlayerIndex(id)
	if idx == NoPlayer {
		return ErrNotSeated
	}
	g.Players = append(g.Players[:idx], g.Players[idx+1:]...)
	return nil
}

// SetReady sets a seated player's ready flag.
func (g *GameState) SetReady(id string, ready bool) error {
	if g.Status != StatusWaiting {
		return ErrNotWaiting
	}
	idx := g.PlayerIndex(id)
	if idx == NoPlayer {
		return ErrNotSeated
	}
	g.Players[idx].Ready = ready
	return nil
}

// ReadyToStart reports whether the minimum player count is seated and all are ready.
func (g *GameState) ReadyToStart() bool {
	if g.Status != StatusWaiting || len(g.Players) < g.Rules.MinPlayers {
		return false
	}
	for i := range g.Players {
		if !g.Players[i].Ready {
			return false
		}
	}
	return true
}

// Start moves the game through starting into playing. A board generation
// failure aborts the game and is returned.
func (g *GameState) Start(now time.Time) error {
	if !g.ReadyToStart() {
		return ErrNotEnoughPlayers
	}
	if err := g.Transition(StatusStarting); err != nil {
		return err
	}

	board, err := GenerateBoard(g.Rules, g.rng)
	if err != nil {
		g.finish(ReasonAbort)
		return fmt.Errorf("generate board: %w", err)
	}
	g.Board = board
	g.FlipBuffer = g.FlipBuffer[:0]
	g.MatchedPairs = nil
	g.CurrentPlayer = 0
	g.Round = 1
	g.TimeRemaining = g.Rules.TimeLimit
	g.StartedAt = now
	g.LastActivity = now

	if g.Rules.Mode == ModePowerUpFrenzy && len(g.PowerUpPool) > 0 {
		for i := range g.Players {
			g.grantPowerUp(i, g.PowerUpPool[g.rng.IntN(len(g.PowerUpPool))])
		}
	}
	return g.Transition(StatusPlaying)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// PlayerIndex returns the seat of the player with the given id, or NoPlayer.
func (g *GameState) PlayerIndex(id string) int {
	for i := range g.Players {
		if g.Players[i].ID == id {
			return i
		}
	}
	return NoPlayer
}

// ActivePlayers counts players who have not left.
func (g *GameState) ActivePlayers() int {
	n := 0
	for i := range g.Players {
		if g.Players[i].Active() {
			n++
		}
	}
	return n
}

// Contenders counts players who may still take turns.
func (g *GameState) Contenders() int {
	n := 0
	for i := range g.Players {
		if g.Players[i].Contending() {
			n++
		}
	}
	return n
}

// PairCount is the number of pairs on the board.
func (g *GameState) PairCount() int { return len(g.Board) / 2 }

// TotalMatches sums every player's match count, including players who left.
func (g *GameState) TotalMatches() int {
	n := 0
	for i := range g.Players {
		n += g.Players[i].Matches
	}
	return n
}

// IsOver reports whether the game reached its terminal state.
func (g *GameState) IsOver() bool { return g.Status == StatusFinished }

// Clone returns a deep copy that shares no mutable memory with g.
// The copy has no random source and must not be mutated.
func (g *GameState) Clone() *GameState {
	c := *g
	c.rng = nil
	c.Players = make([]PlayerState, len(g.Players))
	for i, p := range g.Players {
		p.PowerUps = append([]HeldPowerUp(nil), p.PowerUps...)
		c.Players[i] = p
	}
	c.Board = append([]Card(nil), g.Board...)
	c.FlipBuffer = append([]int(nil), g.FlipBuffer...)
	c.MatchedPairs = append([]string(nil), g.MatchedPairs...)
	c.PowerUpPool = append([]PowerUpType(nil), g.PowerUpPool...)
	c.OpponentsForHistory = append([]OpponentSnapshot(nil), g.OpponentsForHistory...)
	if g.Outcome != nil {
		o := *g.Outcome
		o.Ranking = append([]int(nil), g.Outcome.Ranking...)
		c.Outcome = &o
	}
	return &c
}
