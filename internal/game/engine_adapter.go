// internal/game/engine_adapter.go
package game

import (
	"fmt"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	log "github.com/sirupsen/logrus"
)

// Suspicious-activity reasons raised by the session.
const (
	ReasonImplausibleFlipRate   = "implausible_flip_rate"
	ReasonImplausibleScoreDelta = "implausible_score_delta"
	ReasonRapidReconnect        = "rapid_reconnect"
)

// playerIndex maps a user id to its engine seat, or engine.NoPlayer.
func (s *Session) playerIndex(userID uuid.UUID) int {
	return s.state.PlayerIndex(userID.String())
}

// playerUUID maps an engine seat back to the user id.
func (s *Session) playerUUID(idx int) uuid.UUID {
	if idx < 0 || idx >= len(s.state.Players) {
		return uuid.Nil
	}
	id, err := uuid.Parse(s.state.Players[idx].ID)
	if err != nil {
		log.Printf("Game %s: seat %d holds a malformed player id %q", s.ID, idx, s.state.Players[idx].ID)
		return uuid.Nil
	}
	return id
}

func (s *Session) eventUser(idx int) *EventUser {
	if idx < 0 || idx >= len(s.state.Players) {
		return nil
	}
	return &EventUser{ID: s.playerUUID(idx), Username: s.state.Players[idx].Name}
}

// eventCard builds an EventCard, including the face only when public.
func eventCard(c engine.Card, withFace bool) *EventCard {
	ev := &EventCard{ID: c.ID}
	if withFace {
		ev.Value = c.Value
		ev.Theme = c.Theme
	}
	return ev
}

// handleFlip applies a flip and emits the resulting events. A mismatch
// schedules its own resolution after the reveal delay.
func (s *Session) handleFlip(c Flip) error {
	idx := s.playerIndex(c.UserID)
	if idx == engine.NoPlayer {
		return engine.ErrNotSeated
	}
	res, err := s.state.Flip(idx, c.CardID, s.now())
	if err != nil {
		return err
	}

	if res.RapidFlip {
		s.suspicious(c.UserID, ReasonImplausibleFlipRate,
			fmt.Sprintf("card %d flipped less than %s after the previous flip", c.CardID, s.state.Rules.MinFlipInterval))
	}
	if res.ImplausibleMatch {
		s.suspicious(c.UserID, ReasonImplausibleScoreDelta,
			fmt.Sprintf("%d consecutive matches on unseen cards", s.state.Players[idx].BlindStreak))
	}

	card := s.state.Board[c.CardID]
	s.logAction(c.UserID, "card_flipped", map[string]interface{}{"cardId": c.CardID, "value": card.Value})
	s.fireEvent(GameEvent{Type: EventCardFlipped, User: s.eventUser(idx), Card: eventCard(card, true)})

	switch {
	case res.Matched:
		p := s.state.Players[idx]
		granted := make([]string, 0, len(res.Granted))
		for _, t := range res.Granted {
			granted = append(granted, string(t))
		}
		s.logAction(c.UserID, "cards_matched", map[string]interface{}{"cards": res.Pair, "granted": granted})
		s.fireEvent(GameEvent{
			Type:  EventCardsMatched,
			User:  s.eventUser(idx),
			Card1: eventCard(s.state.Board[res.Pair[0]], true),
			Card2: eventCard(s.state.Board[res.Pair[1]], true),
			Payload: map[string]interface{}{
				"score":    p.Score,
				"matches":  p.Matches,
				"streak":   p.Streak,
				"granted":  granted,
				"pairsWon": len(s.state.MatchedPairs),
			},
		})
		if res.Finished {
			s.EndGame()
			return nil
		}
		// A match keeps the turn; the timer restarts.
		s.scheduleNextTurnTimer()

	case res.Mismatch:
		s.logAction(c.UserID, "cards_mismatched", map[string]interface{}{"cards": res.Pair})
		s.fireEvent(GameEvent{
			Type:    EventCardsMismatched,
			User:    s.eventUser(idx),
			Card1:   eventCard(s.state.Board[res.Pair[0]], true),
			Card2:   eventCard(s.state.Board[res.Pair[1]], true),
			Payload: map[string]interface{}{"revealMs": s.revealDelay.Milliseconds()},
		})
		turnID := s.turnID
		s.sched.Schedule(s.timerKey("reveal"), s.revealDelay, func() { s.enqueue(resolveMismatch{turnID: turnID}) })
	}

	s.broadcastDelta()
	return nil
}
