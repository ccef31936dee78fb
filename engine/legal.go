package engine

import "fmt"

// transitions lists the legal status changes. finished is terminal.
var transitions = map[Status][]Status{
	StatusWaiting:  {StatusStarting},
	StatusStarting: {StatusPlaying, StatusFinished},
	StatusPlaying:  {StatusPaused, StatusFinished},
	StatusPaused:   {StatusPlaying, StatusFinished},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition changes the status if the change is legal.
func (g *GameState) Transition(to Status) error {
	if !CanTransition(g.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, to)
	}
	g.Status = to
	return nil
}

// Pause suspends a playing game. Flips and power-ups are rejected while paused.
func (g *GameState) Pause() error { return g.Transition(StatusPaused) }

// Resume returns a paused game to playing.
func (g *GameState) Resume() error {
	if g.Status != StatusPaused {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, StatusPlaying)
	}
	return g.Transition(StatusPlaying)
}
