package engine

import (
	"fmt"
	"time"
)

// Status is the lifecycle phase of a game.
type Status uint8

const (
	StatusWaiting  Status = iota // 0
	StatusStarting               // 1
	StatusPlaying                // 2
	StatusPaused                 // 3
	StatusFinished               // 4
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusStarting:
		return "starting"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusFinished:
		return "finished"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText renders the status by name so JSON views carry "playing" rather than 2.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Mode selects the turn-retention and timing variant.
type Mode string

const (
	ModeClassic       Mode = "classic"
	ModeBlitz         Mode = "blitz"
	ModeSuddenDeath   Mode = "sudden-death"
	ModePowerUpFrenzy Mode = "powerup-frenzy"
)

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeClassic, ModeBlitz, ModeSuddenDeath, ModePowerUpFrenzy:
		return true
	}
	return false
}

// HasTurnTimer reports whether each turn is individually timed.
// Blitz uses a single shared countdown instead.
func (m Mode) HasTurnTimer() bool { return m != ModeBlitz }

// PowerUpType names one of the six power-up effects.
type PowerUpType string

const (
	PowerUpExtraTurn PowerUpType = "extraTurn"
	PowerUpPeek      PowerUpType = "peek"
	PowerUpSwap      PowerUpType = "swap"
	PowerUpRevealOne PowerUpType = "revealOne"
	PowerUpFreeze    PowerUpType = "freeze"
	PowerUpShuffle   PowerUpType = "shuffle"
)

// AllPowerUps lists every power-up type in catalog order.
var AllPowerUps = []PowerUpType{
	PowerUpExtraTurn,
	PowerUpPeek,
	PowerUpSwap,
	PowerUpRevealOne,
	PowerUpFreeze,
	PowerUpShuffle,
}

// CompletionReason tags the terminal transition.
type CompletionReason string

const (
	ReasonGameCompleted    CompletionReason = "game_completed"
	ReasonLastPlayerWinner CompletionReason = "last_player_winner"
	ReasonOpponentsLeft    CompletionReason = "opponents_left"
	ReasonAbort            CompletionReason = "abort"
)

// Supported board sizes (cell counts).
const (
	BoardSmall  = 16 // 4x4
	BoardMedium = 36 // 6x6
	BoardLarge  = 64 // 8x8
)

// NoPlayer marks the absence of a player index (no winner, no target).
const NoPlayer = -1

// Card is one board cell. Value is shared by exactly two cards.
// IsMatched implies IsFlipped.
type Card struct {
	ID        int         `json:"id"`
	Value     string      `json:"value"`
	Theme     string      `json:"theme"`
	IsFlipped bool        `json:"isFlipped"`
	IsMatched bool        `json:"isMatched"`
	Revealed  bool        `json:"revealed"` // publicly face-up via revealOne; still flippable
	PowerUp   PowerUpType `json:"powerUp,omitempty"`

	Seen bool `json:"-"` // its value has been shown at this position
}

// faceDown reports whether the card is neither in play nor matched.
func (c *Card) faceDown() bool { return !c.IsFlipped && !c.IsMatched }

// HeldPowerUp is a power-up owned by a player until its uses run out.
type HeldPowerUp struct {
	Type PowerUpType `json:"type"`
	Uses int         `json:"uses"`
}

// PlayerState is one seat at the table.
type PlayerState struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Ready       bool          `json:"ready"`
	Score       int           `json:"score"`
	Matches     int           `json:"matches"`
	Flips       int           `json:"flips"`
	PowerUps    []HeldPowerUp `json:"powerUps"`
	MemoryMeter int           `json:"memoryMeter"`
	Streak      int           `json:"streak"`
	BlindStreak int           `json:"-"` // consecutive matches on never-seen cards
	LastFlipAt  time.Time     `json:"lastFlipAt"`

	Left        bool      `json:"left"`
	Eliminated  bool      `json:"eliminated"`
	ExtraTurns  int       `json:"extraTurns"`
	FrozenUntil time.Time `json:"frozenUntil"`

	// ScoreReachedSeq is the match sequence number at which the current score was reached.
	// Lower wins ties on score and matches.
	ScoreReachedSeq uint64 `json:"-"`
}

// Active reports whether the player still occupies the seat.
func (p *PlayerState) Active() bool { return !p.Left }

// Contending reports whether the player may still take turns.
func (p *PlayerState) Contending() bool { return !p.Left && !p.Eliminated }

// OpponentSnapshot preserves a departed player's result for history.
type OpponentSnapshot struct {
	PlayerID       string    `json:"playerId"`
	Name           string    `json:"name"`
	Score          int       `json:"score"`
	Matches        int       `json:"matches"`
	LeftEarly      bool      `json:"leftEarly"`
	DisconnectedAt time.Time `json:"disconnectedAt"`
}

// Outcome is set once, on the terminal transition.
type Outcome struct {
	Reason  CompletionReason `json:"reason"`
	Ranking []int            `json:"ranking"` // player indices, best first
	Winner  int              `json:"winner"`  // NoPlayer when nobody wins
}
