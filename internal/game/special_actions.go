// internal/game/special_actions.go
package game

import (
	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	log "github.com/sirupsen/logrus"
)

// handlePowerUp applies a held power-up. Peeked values go to the requester
// only; every other effect is public.
func (s *Session) handlePowerUp(c UsePowerUp) error {
	idx := s.playerIndex(c.UserID)
	if idx == engine.NoPlayer {
		return engine.ErrNotSeated
	}
	target := engine.NoPlayer
	if c.Target != uuid.Nil {
		target = s.playerIndex(c.Target)
		if target == engine.NoPlayer {
			return engine.ErrInvalidTarget
		}
	}

	res, err := s.state.UsePowerUp(idx, engine.PowerUpRequest{
		Type:         c.Type,
		CardID:       c.CardID,
		SecondCardID: c.SecondCardID,
		Target:       target,
	}, s.now())
	if err != nil {
		log.Printf("Game %s: Power-up %s from %s rejected: %v", s.ID, c.Type, c.UserID, err)
		return err
	}

	ev := GameEvent{
		Type:    EventPowerUpUsed,
		User:    s.eventUser(idx),
		PowerUp: res.Type,
		Payload: map[string]interface{}{"remainingUses": res.RemainingUses},
	}
	logPayload := map[string]interface{}{"type": string(res.Type)}

	switch res.Type {
	case engine.PowerUpExtraTurn:
		ev.Payload["extraTurns"] = s.state.Players[idx].ExtraTurns

	case engine.PowerUpPeek:
		def := engine.PowerUpCatalog[engine.PowerUpPeek]
		s.fireEventToPlayer(c.UserID, GameEvent{
			Type:    EventPrivatePeek,
			PowerUp: res.Type,
			Card:    eventCard(*res.PeekCard, true),
			Payload: map[string]interface{}{
				"expiresAt":  res.PeekUntil,
				"durationMs": s.state.Rules.PeekDuration.Milliseconds(),
				"icon":       def.Icon,
			},
		})
		logPayload["cardId"] = res.PeekCard.ID

	case engine.PowerUpSwap:
		ev.Card1 = &EventCard{ID: res.Swapped[0]}
		ev.Card2 = &EventCard{ID: res.Swapped[1]}
		logPayload["cards"] = res.Swapped

	case engine.PowerUpRevealOne:
		ev.Card = eventCard(s.state.Board[res.Revealed], true)
		logPayload["cardId"] = res.Revealed

	case engine.PowerUpFreeze:
		ev.Payload["target"] = s.playerUUID(res.FrozenPlayer)
		ev.Payload["frozenUntil"] = res.FrozenUntil
		logPayload["target"] = s.playerUUID(res.FrozenPlayer)

	case engine.PowerUpShuffle:
		ev.Payload["positions"] = res.Shuffled
		logPayload["positions"] = len(res.Shuffled)
	}

	s.logAction(c.UserID, "power_up_used", logPayload)
	s.fireEvent(ev)
	s.broadcastDelta()
	return nil
}
