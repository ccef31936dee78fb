package engine

import (
	"fmt"
	"time"
)

// Rules holds the validated configuration for one game.
type Rules struct {
	Mode            Mode
	BoardSize       int
	Theme           string
	PowerUpsEnabled bool
	PowerUpPool     []PowerUpType
	EmbedDivisor    int // one in EmbedDivisor cards carries a power-up when enabled
	MinPlayers      int
	MaxPlayers      int
	MatchPoints     int
	TimeLimit       time.Duration // shared countdown; 0 = none

	MeterMax  int
	MeterGain int
	MeterLoss int

	MinFlipInterval time.Duration // faster consecutive flips are reported as suspicious
	BlindMatchLimit int           // consecutive blind matches reported as suspicious; 0 disables
	PeekDuration    time.Duration
	FreezeDuration  time.Duration
}

// DefaultRules returns the standard classic rules.
func DefaultRules() Rules {
	return Rules{
		Mode:            ModeClassic,
		BoardSize:       BoardSmall,
		Theme:           "animals",
		PowerUpsEnabled: false,
		PowerUpPool:     append([]PowerUpType(nil), AllPowerUps...),
		EmbedDivisor:    8,
		MinPlayers:      2,
		MaxPlayers:      4,
		MatchPoints:     10,
		TimeLimit:       0,
		MeterMax:        100,
		MeterGain:       20,
		MeterLoss:       10,
		MinFlipInterval: 100 * time.Millisecond,
		BlindMatchLimit: 3,
		PeekDuration:    3 * time.Second,
		FreezeDuration:  10 * time.Second,
	}
}

// RulesForMode returns DefaultRules adjusted for mode.
func RulesForMode(mode Mode) Rules {
	r := DefaultRules()
	r.Mode = mode
	switch mode {
	case ModeBlitz:
		r.TimeLimit = 120 * time.Second
	case ModePowerUpFrenzy:
		r.PowerUpsEnabled = true
		r.EmbedDivisor = 4
	}
	return r
}

// Validate checks the rules before a room is created.
func (r Rules) Validate() error {
	if !r.Mode.Valid() {
		return fmt.Errorf("unsupported game mode %q", r.Mode)
	}
	if !validBoardSize(r.BoardSize) {
		return fmt.Errorf("%w: %d", ErrInvalidBoardSize, r.BoardSize)
	}
	if _, ok := themes[r.Theme]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTheme, r.Theme)
	}
	if r.MinPlayers < 2 {
		return fmt.Errorf("min players must be at least 2, got %d", r.MinPlayers)
	}
	if r.MaxPlayers < r.MinPlayers {
		return fmt.Errorf("max players %d is below min players %d", r.MaxPlayers, r.MinPlayers)
	}
	if r.MatchPoints <= 0 {
		return fmt.Errorf("match points must be positive, got %d", r.MatchPoints)
	}
	if r.MeterMax <= 0 || r.MeterGain < 0 || r.MeterLoss < 0 {
		return fmt.Errorf("invalid memory meter settings (max %d, gain %d, loss %d)", r.MeterMax, r.MeterGain, r.MeterLoss)
	}
	if r.BlindMatchLimit < 0 {
		return fmt.Errorf("blind match limit must not be negative, got %d", r.BlindMatchLimit)
	}
	if r.Mode == ModeBlitz && r.TimeLimit <= 0 {
		return fmt.Errorf("blitz requires a positive time limit")
	}
	if r.PowerUpsEnabled {
		if len(r.PowerUpPool) == 0 {
			return fmt.Errorf("power-ups enabled with an empty pool")
		}
		if r.EmbedDivisor <= 0 {
			return fmt.Errorf("embed divisor must be positive, got %d", r.EmbedDivisor)
		}
		for _, t := range r.PowerUpPool {
			if _, ok := PowerUpCatalog[t]; !ok {
				return fmt.Errorf("%w: %q", ErrUnknownPowerUp, t)
			}
		}
	}
	return nil
}

func validBoardSize(n int) bool {
	return n == BoardSmall || n == BoardMedium || n == BoardLarge
}
