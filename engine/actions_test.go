package engine

import (
	"errors"
	"testing"
	"time"
)

func TestFlipMatchKeepsTurn(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	a, b := matchingPair(t, g)

	flip(t, g, 0, a, t0)
	res := flip(t, g, 0, b, t0.Add(time.Second))

	if !res.Matched || res.Mismatch {
		t.Fatalf("res = %+v, want Matched", res)
	}
	if !g.Board[a].IsMatched || !g.Board[b].IsMatched {
		t.Fatal("both cards should be matched")
	}
	p := g.Players[0]
	if p.Score != g.Rules.MatchPoints || p.Matches != 1 || p.Streak != 1 {
		t.Fatalf("Score = %d, Matches = %d, Streak = %d; want %d, 1, 1", p.Score, p.Matches, p.Streak, g.Rules.MatchPoints)
	}
	if g.CurrentPlayer != 0 {
		t.Fatalf("CurrentPlayer = %d, want 0", g.CurrentPlayer)
	}
	if len(g.FlipBuffer) != 0 {
		t.Fatalf("FlipBuffer = %v, want empty", g.FlipBuffer)
	}
	if len(g.MatchedPairs) != 1 || g.MatchedPairs[0] != g.Board[a].Value {
		t.Fatalf("MatchedPairs = %v", g.MatchedPairs)
	}
	checkInvariants(t, g)
}

func TestFlipMismatchPassesTurn(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	a, b := mismatchedPair(t, g)

	flip(t, g, 0, a, t0)
	res := flip(t, g, 0, b, t0.Add(time.Second))
	if !res.Mismatch {
		t.Fatalf("res = %+v, want Mismatch", res)
	}
	// The pair stays visible until resolved.
	if len(g.FlipBuffer) != 2 || g.CurrentPlayer != 0 {
		t.Fatalf("before resolve: FlipBuffer = %v, CurrentPlayer = %d", g.FlipBuffer, g.CurrentPlayer)
	}

	mr, err := g.ResolveMismatch(t0.Add(2 * time.Second))
	if err != nil {
		t.Fatalf("ResolveMismatch: %v", err)
	}
	if mr.NextPlayer != 1 || g.CurrentPlayer != 1 {
		t.Fatalf("NextPlayer = %d, CurrentPlayer = %d; want 1", mr.NextPlayer, g.CurrentPlayer)
	}
	if g.Board[a].IsFlipped || g.Board[b].IsFlipped {
		t.Fatal("mismatched cards should be face down")
	}
	if len(g.FlipBuffer) != 0 {
		t.Fatalf("FlipBuffer = %v, want empty", g.FlipBuffer)
	}
	for i, p := range g.Players {
		if p.Score != 0 {
			t.Errorf("player %d score = %d, want 0", i, p.Score)
		}
	}
	if _, err := g.ResolveMismatch(t0); !errors.Is(err, ErrNothingToResolve) {
		t.Fatalf("second ResolveMismatch err = %v, want ErrNothingToResolve", err)
	}
	checkInvariants(t, g)
}

func TestRoundIncrementsOnWrap(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	for turn := 0; turn < 2; turn++ {
		a, b := mismatchedPair(t, g)
		p := g.CurrentPlayer
		flip(t, g, p, a, t0)
		flip(t, g, p, b, t0)
		if _, err := g.ResolveMismatch(t0); err != nil {
			t.Fatalf("ResolveMismatch: %v", err)
		}
	}
	if g.CurrentPlayer != 0 || g.Round != 2 {
		t.Fatalf("CurrentPlayer = %d, Round = %d; want 0, 2", g.CurrentPlayer, g.Round)
	}
}

func TestFlipRejections(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)

	// Match one pair so a matched card exists.
	m1, m2 := matchingPair(t, g)
	flip(t, g, 0, m1, t0)
	flip(t, g, 0, m2, t0)
	a, b := mismatchedPair(t, g)

	tests := []struct {
		name   string
		player int
		card   int
		want   error
	}{
		{"out of turn", 1, a, ErrNotYourTurn},
		{"unknown card", 0, len(g.Board), ErrUnknownCard},
		{"negative card", 0, -1, ErrUnknownCard},
		{"matched card", 0, m1, ErrCardUnavailable},
		{"unknown player", 5, a, ErrUnknownPlayer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := g.Clone()
			if _, err := g.Flip(tc.player, tc.card, t0); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			assertUnchanged(t, before, g)
		})
	}

	flip(t, g, 0, a, t0)
	before := g.Clone()
	if _, err := g.Flip(0, a, t0); !errors.Is(err, ErrCardUnavailable) {
		t.Fatalf("re-flip err = %v, want ErrCardUnavailable", err)
	}
	assertUnchanged(t, before, g)

	flip(t, g, 0, b, t0)
	c := -1
	for i := range g.Board {
		if g.Board[i].faceDown() {
			c = i
			break
		}
	}
	before = g.Clone()
	if _, err := g.Flip(0, c, t0); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("third flip err = %v, want ErrBufferFull", err)
	}
	assertUnchanged(t, before, g)
}

func TestFlipRejectedWhenNotPlaying(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	if err := g.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := g.Flip(0, 0, t0); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("err = %v, want ErrNotPlaying", err)
	}
}

func assertUnchanged(t *testing.T, before, after *GameState) {
	t.Helper()
	if len(before.FlipBuffer) != len(after.FlipBuffer) {
		t.Fatalf("FlipBuffer changed: %v -> %v", before.FlipBuffer, after.FlipBuffer)
	}
	for i := range before.Board {
		if before.Board[i] != after.Board[i] {
			t.Fatalf("Board[%d] changed: %+v -> %+v", i, before.Board[i], after.Board[i])
		}
	}
	for i := range before.Players {
		b, a := before.Players[i], after.Players[i]
		if b.Score != a.Score || b.Flips != a.Flips || b.Matches != a.Matches || !b.LastFlipAt.Equal(a.LastFlipAt) {
			t.Fatalf("player %d changed: %+v -> %+v", i, b, a)
		}
	}
	if before.CurrentPlayer != after.CurrentPlayer || before.Status != after.Status {
		t.Fatalf("turn/status changed: %d/%s -> %d/%s", before.CurrentPlayer, before.Status, after.CurrentPlayer, after.Status)
	}
}

func TestRapidFlipFlagged(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	a, b := mismatchedPair(t, g)
	if res := flip(t, g, 0, a, t0); res.RapidFlip {
		t.Fatal("first flip flagged as rapid")
	}
	if res := flip(t, g, 0, b, t0.Add(10*time.Millisecond)); !res.RapidFlip {
		t.Fatal("flip 10ms later not flagged as rapid")
	}
}

func TestBlindMatchStreakFlagged(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	for i := 1; i <= 3; i++ {
		a, b := matchingPair(t, g)
		flip(t, g, 0, a, t0)
		res := flip(t, g, 0, b, t0)
		if want := i == 3; res.ImplausibleMatch != want {
			t.Fatalf("match %d: ImplausibleMatch = %v, want %v", i, res.ImplausibleMatch, want)
		}
	}
	if g.Players[0].BlindStreak != 3 {
		t.Fatalf("BlindStreak = %d, want 3", g.Players[0].BlindStreak)
	}
}

func TestRememberedMatchResetsBlindStreak(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	for i := 0; i < 2; i++ {
		a, b := matchingPair(t, g)
		flip(t, g, 0, a, t0)
		flip(t, g, 0, b, t0)
	}

	a, b := matchingPair(t, g)
	g.Board[b].Seen = true
	flip(t, g, 0, a, t0)
	if res := flip(t, g, 0, b, t0); res.ImplausibleMatch || g.Players[0].BlindStreak != 0 {
		t.Fatalf("ImplausibleMatch = %v, BlindStreak = %d; want false, 0", res.ImplausibleMatch, g.Players[0].BlindStreak)
	}

	a, b = matchingPair(t, g)
	flip(t, g, 0, a, t0)
	if res := flip(t, g, 0, b, t0); res.ImplausibleMatch || g.Players[0].BlindStreak != 1 {
		t.Fatalf("ImplausibleMatch = %v, BlindStreak = %d; want false, 1", res.ImplausibleMatch, g.Players[0].BlindStreak)
	}
}

func TestMismatchResetsBlindStreak(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	g.Players[0].BlindStreak = 2
	a, b := mismatchedPair(t, g)
	flip(t, g, 0, a, t0)
	flip(t, g, 0, b, t0)
	if g.Players[0].BlindStreak != 0 {
		t.Fatalf("BlindStreak = %d, want 0", g.Players[0].BlindStreak)
	}
	if !g.Board[a].Seen || !g.Board[b].Seen {
		t.Fatal("flipped cards not marked seen")
	}
}

func TestBlindStreakNeedsUnseenCards(t *testing.T) {
	r := DefaultRules()
	r.BlindMatchLimit = 0
	g := newStartedGame(t, r, 2)
	for !g.IsOver() {
		a, b := matchingPair(t, g)
		flip(t, g, 0, a, t0)
		if res := flip(t, g, 0, b, t0); res.ImplausibleMatch {
			t.Fatal("ImplausibleMatch reported with the limit disabled")
		}
	}
	// the last pairs are picked from fewer than four unseen cards
	if g.Players[0].BlindStreak != 0 {
		t.Fatalf("BlindStreak = %d, want 0", g.Players[0].BlindStreak)
	}
}

func TestMemoryMeterBounded(t *testing.T) {
	r := DefaultRules()
	r.BoardSize = BoardLarge
	g := newStartedGame(t, r, 2)

	for i := 0; i < 10; i++ {
		a, b := matchingPair(t, g)
		flip(t, g, 0, a, t0)
		flip(t, g, 0, b, t0)
		if m := g.Players[0].MemoryMeter; m < 0 || m > r.MeterMax {
			t.Fatalf("MemoryMeter = %d, out of [0, %d]", m, r.MeterMax)
		}
	}
	if g.Players[0].MemoryMeter != r.MeterMax {
		t.Fatalf("MemoryMeter = %d, want %d", g.Players[0].MemoryMeter, r.MeterMax)
	}

	for i := 0; i < 20; i++ {
		a, b := mismatchedPair(t, g)
		p := g.CurrentPlayer
		flip(t, g, p, a, t0)
		flip(t, g, p, b, t0)
		g.ResolveMismatch(t0)
		for j, pl := range g.Players {
			if pl.MemoryMeter < 0 || pl.MemoryMeter > r.MeterMax {
				t.Fatalf("player %d MemoryMeter = %d out of range", j, pl.MemoryMeter)
			}
		}
	}
	if g.Players[1].MemoryMeter != 0 {
		t.Fatalf("player 1 MemoryMeter = %d, want 0", g.Players[1].MemoryMeter)
	}
}

func TestSuddenDeathEliminates(t *testing.T) {
	g := newStartedGame(t, RulesForMode(ModeSuddenDeath), 3)
	a, b := mismatchedPair(t, g)
	flip(t, g, 0, a, t0)
	flip(t, g, 0, b, t0)

	mr, err := g.ResolveMismatch(t0)
	if err != nil {
		t.Fatalf("ResolveMismatch: %v", err)
	}
	if !mr.Eliminated || !g.Players[0].Eliminated {
		t.Fatal("player 0 should be eliminated")
	}
	if g.CurrentPlayer != 1 || g.IsOver() {
		t.Fatalf("CurrentPlayer = %d, over = %v; want 1, false", g.CurrentPlayer, g.IsOver())
	}
	if _, err := g.Flip(0, a, t0); !errors.Is(err, ErrPlayerInactive) {
		t.Fatalf("eliminated flip err = %v, want ErrPlayerInactive", err)
	}

	a, b = mismatchedPair(t, g)
	flip(t, g, 1, a, t0)
	flip(t, g, 1, b, t0)
	mr, _ = g.ResolveMismatch(t0)
	if !mr.Finished || g.Outcome.Reason != ReasonOpponentsLeft || g.Outcome.Winner != 2 {
		t.Fatalf("Outcome = %+v, want opponents_left won by 2", g.Outcome)
	}
}

func TestExtraTurnCreditKeepsTurn(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	g.Players[0].ExtraTurns = 1

	a, b := mismatchedPair(t, g)
	flip(t, g, 0, a, t0)
	flip(t, g, 0, b, t0)
	mr, _ := g.ResolveMismatch(t0)
	if !mr.ExtraTurnUsed || g.CurrentPlayer != 0 || g.Players[0].ExtraTurns != 0 {
		t.Fatalf("mr = %+v, CurrentPlayer = %d, ExtraTurns = %d", mr, g.CurrentPlayer, g.Players[0].ExtraTurns)
	}
}

func TestTimeoutTurn(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	a, _ := mismatchedPair(t, g)
	flip(t, g, 0, a, t0)

	res, err := g.TimeoutTurn(t0.Add(30 * time.Second))
	if err != nil {
		t.Fatalf("TimeoutTurn: %v", err)
	}
	if res.NextPlayer != 1 || len(res.Hidden) != 1 || g.Board[a].IsFlipped {
		t.Fatalf("res = %+v, card flipped = %v", res, g.Board[a].IsFlipped)
	}
}

func TestFullGameCompletes(t *testing.T) {
	g := newStartedGame(t, DefaultRules(), 2)
	for !g.IsOver() {
		a, b := matchingPair(t, g)
		flip(t, g, g.CurrentPlayer, a, t0)
		flip(t, g, g.CurrentPlayer, b, t0)
		checkInvariants(t, g)
	}
	if g.Outcome.Reason != ReasonGameCompleted || g.Outcome.Winner != 0 {
		t.Fatalf("Outcome = %+v, want game_completed won by 0", g.Outcome)
	}
	if g.Players[0].Matches != g.PairCount() {
		t.Fatalf("Matches = %d, want %d", g.Players[0].Matches, g.PairCount())
	}
}
