// internal/game/settings.go
package game

import (
	"errors"
	"fmt"
	"time"

	engine "github.com/jason-s-yu/memora/engine"
)

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid room settings")

// Settings is the room configuration chosen by the creator.
type Settings struct {
	Name         string      `json:"name"`
	Mode         engine.Mode `json:"mode"`
	BoardSize    int         `json:"boardSize"`
	Theme        string      `json:"theme"`
	PowerUps     bool        `json:"powerUps"`
	MinPlayers   int         `json:"minPlayers"`
	MaxPlayers   int         `json:"maxPlayers"`
	TurnTimerSec int         `json:"turnTimerSec"` // per-turn timer; ignored in blitz
	TimeLimitSec int         `json:"timeLimitSec"` // blitz countdown
}

// MaxSeats caps MaxPlayers.
const MaxSeats = 8

// DefaultSettings returns a 4x4 classic room for up to four players.
func DefaultSettings() Settings {
	return Settings{
		Mode:         engine.ModeClassic,
		BoardSize:    engine.BoardSmall,
		Theme:        "animals",
		MinPlayers:   2,
		MaxPlayers:   4,
		TurnTimerSec: 15,
	}
}

// withDefaults fills zero fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Mode == "" {
		s.Mode = d.Mode
	}
	if s.BoardSize == 0 {
		s.BoardSize = d.BoardSize
	}
	if s.Theme == "" {
		s.Theme = d.Theme
	}
	if s.MinPlayers == 0 {
		s.MinPlayers = d.MinPlayers
	}
	if s.MaxPlayers == 0 {
		s.MaxPlayers = d.MaxPlayers
	}
	if s.TurnTimerSec == 0 {
		s.TurnTimerSec = d.TurnTimerSec
	}
	return s
}

// Rules validates the settings and converts them to engine rules.
func (s Settings) Rules() (engine.Rules, error) {
	s = s.withDefaults()
	if s.MaxPlayers > MaxSeats {
		return engine.Rules{}, fmt.Errorf("%w: max players %d exceeds %d", ErrInvalidSettings, s.MaxPlayers, MaxSeats)
	}
	if s.TurnTimerSec < 0 || s.TimeLimitSec < 0 {
		return engine.Rules{}, fmt.Errorf("%w: negative timer", ErrInvalidSettings)
	}
	if len(s.Name) > 64 {
		return engine.Rules{}, fmt.Errorf("%w: name longer than 64 characters", ErrInvalidSettings)
	}

	r := engine.RulesForMode(s.Mode)
	r.BoardSize = s.BoardSize
	r.Theme = s.Theme
	r.PowerUpsEnabled = s.PowerUps || s.Mode == engine.ModePowerUpFrenzy
	r.MinPlayers = s.MinPlayers
	r.MaxPlayers = s.MaxPlayers
	if s.Mode == engine.ModeBlitz && s.TimeLimitSec > 0 {
		r.TimeLimit = time.Duration(s.TimeLimitSec) * time.Second
	}
	if err := r.Validate(); err != nil {
		return engine.Rules{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return r, nil
}

// TurnDuration is the per-turn timer, zero when the mode has none.
func (s Settings) TurnDuration() time.Duration {
	s = s.withDefaults()
	if !s.Mode.HasTurnTimer() {
		return 0
	}
	return time.Duration(s.TurnTimerSec) * time.Second
}
