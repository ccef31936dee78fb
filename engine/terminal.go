package engine

import (
	"sort"
	"time"
)

// LeaveResult describes a player being marked as left mid-game.
type LeaveResult struct {
	Player     int
	Snapshot   OpponentSnapshot
	TurnPassed bool
	NextPlayer int
	Finished   bool
}

// Tick advances the shared countdown by elapsed. It returns true when the
// countdown reached zero and finished the game. Games without a time limit
// and games that are not playing ignore ticks.
func (g *GameState) Tick(elapsed time.Duration) bool {
	if g.Status != StatusPlaying || g.Rules.TimeLimit <= 0 {
		return false
	}
	g.TimeRemaining -= elapsed
	if g.TimeRemaining > 0 {
		return false
	}
	g.TimeRemaining = 0
	g.finish(ReasonGameCompleted)
	return true
}

// MarkLeft removes a player from play after they abandoned the game. Their
// result is kept in OpponentsForHistory. The game finishes when at most one
// active player, or one contender, remains.
func (g *GameState) MarkLeft(player int, now time.Time) (LeaveResult, error) {
	if player < 0 || player >= len(g.Players) {
		return LeaveResult{}, ErrUnknownPlayer
	}
	switch g.Status {
	case StatusStarting, StatusPlaying, StatusPaused:
	default:
		return LeaveResult{}, ErrNotPlaying
	}
	p := &g.Players[player]
	if p.Left {
		return LeaveResult{}, ErrPlayerInactive
	}

	snap := OpponentSnapshot{
		PlayerID:       p.ID,
		Name:           p.Name,
		Score:          p.Score,
		Matches:        p.Matches,
		LeftEarly:      true,
		DisconnectedAt: now,
	}
	g.OpponentsForHistory = append(g.OpponentsForHistory, snap)
	p.Left = true
	p.ExtraTurns = 0
	g.LastActivity = now

	res := LeaveResult{Player: player, Snapshot: snap, NextPlayer: g.CurrentPlayer}
	if player == g.CurrentPlayer && g.Contenders() > 0 {
		g.hideBuffer()
		g.advanceTurn()
		res.TurnPassed = true
		res.NextPlayer = g.CurrentPlayer
	}

	switch active := g.ActivePlayers(); {
	case active == 0:
		g.finish(ReasonAbort)
	case active == 1:
		g.finish(ReasonLastPlayerWinner)
	case g.Contenders() <= 1:
		g.finish(ReasonOpponentsLeft)
	}
	res.Finished = g.Status == StatusFinished
	return res, nil
}

// Abort finishes the game without a winner, e.g. on an unrecoverable error.
func (g *GameState) Abort() {
	if g.Status == StatusFinished {
		return
	}
	g.finish(ReasonAbort)
}

// finish performs the terminal transition and computes the outcome.
func (g *GameState) finish(reason CompletionReason) {
	g.hideBuffer()
	g.Status = StatusFinished

	ranking := g.Ranking()
	winner := NoPlayer
	switch reason {
	case ReasonAbort:
	case ReasonLastPlayerWinner:
		for i := range g.Players {
			if g.Players[i].Active() {
				winner = i
			}
		}
	default:
		if len(ranking) > 0 {
			winner = ranking[0]
		}
	}
	g.Outcome = &Outcome{Reason: reason, Ranking: ranking, Winner: winner}
}

// Ranking orders player indices best first: contenders, then eliminated
// players, then players who left. Within a group players are ordered by
// score, then match count, then who reached their score first.
func (g *GameState) Ranking() []int {
	idx := make([]int, len(g.Players))
	for i := range idx {
		idx[i] = i
	}
	group := func(p *PlayerState) int {
		switch {
		case p.Left:
			return 2
		case p.Eliminated:
			return 1
		}
		return 0
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := &g.Players[idx[a]], &g.Players[idx[b]]
		if ga, gb := group(pa), group(pb); ga != gb {
			return ga < gb
		}
		if pa.Score != pb.Score {
			return pa.Score > pb.Score
		}
		if pa.Matches != pb.Matches {
			return pa.Matches > pb.Matches
		}
		return pa.ScoreReachedSeq < pb.ScoreReachedSeq
	})
	return idx
}

// IsWinner reports whether player is the declared winner of a finished game.
func (g *GameState) IsWinner(player int) bool {
	return g.Outcome != nil && g.Outcome.Winner == player && player != NoPlayer
}
