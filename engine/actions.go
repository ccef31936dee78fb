package engine

import "time"

// FlipResult describes an accepted flip.
type FlipResult struct {
	Player    int
	CardID    int
	Value     string
	Pair      [2]int // set once the buffer holds two cards
	Matched   bool
	Mismatch  bool // the buffer stays full until ResolveMismatch
	Granted   []PowerUpType
	RapidFlip bool // faster than Rules.MinFlipInterval after the previous flip
	Finished  bool

	// ImplausibleMatch is set once the player's run of blind matches
	// reaches Rules.BlindMatchLimit.
	ImplausibleMatch bool
}

// A match only counts as blind when the second card was picked from at
// least this many never-seen cards.
const blindMatchMinUnseen = 4

// MismatchResult describes the end of a turn after a mismatch.
type MismatchResult struct {
	Player        int
	Pair          [2]int
	Eliminated    bool
	ExtraTurnUsed bool
	NextPlayer    int
	Finished      bool
}

// TimeoutResult describes a turn that ran out of time.
type TimeoutResult struct {
	Player     int
	Hidden     []int // buffer cards turned back down
	NextPlayer int
}

// Flip turns one card face up for the current player. Any rejection leaves
// the state unchanged. A second matching card resolves immediately; a
// mismatch leaves both cards face up until ResolveMismatch is called.
func (g *GameState) Flip(player, cardID int, now time.Time) (FlipResult, error) {
	if g.Status != StatusPlaying {
		return FlipResult{}, ErrNotPlaying
	}
	if player < 0 || player >= len(g.Players) {
		return FlipResult{}, ErrUnknownPlayer
	}
	if !g.Players[player].Contending() {
		return FlipResult{}, ErrPlayerInactive
	}
	if player != g.CurrentPlayer {
		return FlipResult{}, ErrNotYourTurn
	}
	if len(g.FlipBuffer) >= 2 {
		return FlipResult{}, ErrBufferFull
	}
	if cardID < 0 || cardID >= len(g.Board) {
		return FlipResult{}, ErrUnknownCard
	}
	card := &g.Board[cardID]
	if !card.faceDown() {
		return FlipResult{}, ErrCardUnavailable
	}

	p := &g.Players[player]
	res := FlipResult{Player: player, CardID: cardID, Value: card.Value}
	res.RapidFlip = !p.LastFlipAt.IsZero() && now.Sub(p.LastFlipAt) < g.Rules.MinFlipInterval

	blind := !card.Seen && !card.Revealed && g.unseenFaceDown() >= blindMatchMinUnseen
	card.IsFlipped = true
	card.Seen = true
	g.FlipBuffer = append(g.FlipBuffer, cardID)
	p.Flips++
	p.LastFlipAt = now
	g.LastActivity = now

	if len(g.FlipBuffer) < 2 {
		return res, nil
	}

	a, b := g.FlipBuffer[0], g.FlipBuffer[1]
	res.Pair = [2]int{a, b}
	if g.Board[a].Value != g.Board[b].Value {
		res.Mismatch = true
		p.BlindStreak = 0
		return res, nil
	}

	res.Matched = true
	if blind {
		p.BlindStreak++
	} else {
		p.BlindStreak = 0
	}
	res.ImplausibleMatch = g.Rules.BlindMatchLimit > 0 && p.BlindStreak >= g.Rules.BlindMatchLimit
	res.Granted = g.resolveMatch(player, a, b)
	if len(g.MatchedPairs) == g.PairCount() {
		g.finish(ReasonGameCompleted)
		res.Finished = true
	}
	return res, nil
}

// unseenFaceDown counts face-down cards whose value nobody has been shown.
func (g *GameState) unseenFaceDown() int {
	n := 0
	for i := range g.Board {
		c := &g.Board[i]
		if c.faceDown() && !c.Seen && !c.Revealed {
			n++
		}
	}
	return n
}

// resolveMatch scores a matched pair for player. The turn is retained.
func (g *GameState) resolveMatch(player, a, b int) []PowerUpType {
	p := &g.Players[player]
	g.Board[a].IsMatched = true
	g.Board[b].IsMatched = true
	g.MatchedPairs = append(g.MatchedPairs, g.Board[a].Value)
	g.FlipBuffer = g.FlipBuffer[:0]

	g.matchSeq++
	p.Score += g.Rules.MatchPoints
	p.Matches++
	p.Streak++
	p.ScoreReachedSeq = g.matchSeq
	p.MemoryMeter = min(g.Rules.MeterMax, p.MemoryMeter+g.Rules.MeterGain)

	var granted []PowerUpType
	for _, id := range [2]int{a, b} {
		if t := g.Board[id].PowerUp; t != "" {
			g.grantPowerUp(player, t)
			granted = append(granted, t)
			g.Board[id].PowerUp = ""
		}
	}
	return granted
}

// ResolveMismatch turns an unmatched pair back down and ends the turn,
// unless the player spends an extra-turn credit. In sudden-death the
// player is eliminated instead.
func (g *GameState) ResolveMismatch(now time.Time) (MismatchResult, error) {
	if g.Status != StatusPlaying && g.Status != StatusPaused {
		return MismatchResult{}, ErrNotPlaying
	}
	if len(g.FlipBuffer) != 2 {
		return MismatchResult{}, ErrNothingToResolve
	}

	player := g.CurrentPlayer
	res := MismatchResult{Player: player, Pair: [2]int{g.FlipBuffer[0], g.FlipBuffer[1]}}
	g.hideBuffer()

	p := &g.Players[player]
	p.Streak = 0
	p.MemoryMeter = max(0, p.MemoryMeter-g.Rules.MeterLoss)
	g.LastActivity = now

	switch {
	case g.Rules.Mode == ModeSuddenDeath:
		p.Eliminated = true
		res.Eliminated = true
		if g.Contenders() <= 1 {
			g.finish(ReasonOpponentsLeft)
			res.Finished = true
		} else {
			g.advanceTurn()
		}
	case p.ExtraTurns > 0:
		p.ExtraTurns--
		res.ExtraTurnUsed = true
	default:
		g.advanceTurn()
	}
	res.NextPlayer = g.CurrentPlayer
	return res, nil
}

// TimeoutTurn ends the current turn when its timer runs out. Any face-up
// unresolved cards are turned back down.
func (g *GameState) TimeoutTurn(now time.Time) (TimeoutResult, error) {
	if g.Status != StatusPlaying {
		return TimeoutResult{}, ErrNotPlaying
	}
	res := TimeoutResult{Player: g.CurrentPlayer, Hidden: append([]int(nil), g.FlipBuffer...)}
	g.hideBuffer()
	g.Players[g.CurrentPlayer].Streak = 0
	g.LastActivity = now
	g.advanceTurn()
	res.NextPlayer = g.CurrentPlayer
	return res, nil
}

// hideBuffer turns unresolved cards back down and clears the buffer.
func (g *GameState) hideBuffer() {
	for _, id := range g.FlipBuffer {
		if !g.Board[id].IsMatched {
			g.Board[id].IsFlipped = false
		}
	}
	g.FlipBuffer = g.FlipBuffer[:0]
}

// advanceTurn passes the turn to the next contending player in seating order.
// The round counter increments when the turn wraps past the last seat.
func (g *GameState) advanceTurn() {
	next := g.nextEligible(g.CurrentPlayer)
	if next == NoPlayer {
		return
	}
	if next <= g.CurrentPlayer {
		g.Round++
	}
	g.CurrentPlayer = next
}

// nextEligible returns the first contending seat after from, wrapping
// around to from itself. NoPlayer if nobody can play.
func (g *GameState) nextEligible(from int) int {
	n := len(g.Players)
	for i := 1; i <= n; i++ {
		idx := (from + i) % n
		if g.Players[idx].Contending() {
			return idx
		}
	}
	return NoPlayer
}
