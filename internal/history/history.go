// Package history turns finished games into immutable match history records.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	"github.com/jason-s-yu/memora/internal/game"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/jason-s-yu/memora/internal/retry"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultWriteTimeout bounds all attempts of one history write.
	DefaultWriteTimeout = 10 * time.Second
	// recentGames is how many game ids are remembered for duplicate
	// detection; older duplicates fall through to the store, which ignores them.
	recentGames = 1024
)

var (
	ErrAlreadyRecorded = errors.New("match history already recorded")
	ErrNotStarted      = errors.New("game never started")
)

// Store persists match history.
type Store interface {
	InsertMatchHistory(ctx context.Context, rec models.MatchHistory) error
}

// Recorder writes each game's history at most once.
type Recorder struct {
	store    Store
	attempts int
	backoff  time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	recorded map[uuid.UUID]struct{}
	order    []uuid.UUID // oldest first
	keep     int
}

// NewRecorder returns a Recorder with the default retry policy.
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:    store,
		attempts: retry.DefaultAttempts,
		backoff:  retry.DefaultBackoff,
		timeout:  DefaultWriteTimeout,
		recorded: make(map[uuid.UUID]struct{}),
		keep:     recentGames,
	}
}

// WithRetry overrides the retry policy.
func (r *Recorder) WithRetry(attempts int, backoff, timeout time.Duration) *Recorder {
	r.attempts, r.backoff, r.timeout = attempts, backoff, timeout
	return r
}

// Record builds and writes the history record for res. A second call for the
// same game returns ErrAlreadyRecorded without writing. A failed write is
// retried, then logged and returned; the game may be recorded again later.
func (r *Recorder) Record(ctx context.Context, res game.Result) error {
	if res.State == nil || res.State.Outcome == nil {
		return fmt.Errorf("record game %s: no outcome", res.GameID)
	}
	if res.StartedAt.IsZero() {
		return ErrNotStarted
	}

	r.mu.Lock()
	if _, dup := r.recorded[res.GameID]; dup {
		r.mu.Unlock()
		return ErrAlreadyRecorded
	}
	r.remember(res.GameID)
	r.mu.Unlock()

	rec := BuildRecord(res)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := retry.Do(ctx, "insert match history", r.attempts, r.backoff, func(ctx context.Context) error {
		return r.store.InsertMatchHistory(ctx, rec)
	})
	if err != nil {
		r.mu.Lock()
		r.forget(res.GameID)
		r.mu.Unlock()
		log.WithFields(log.Fields{"game": res.GameID, "room": res.RoomID}).Warnf("match history not saved: %v", err)
		return err
	}
	log.Printf("History: game %s recorded (%s, %d players).", res.GameID, rec.CompletionReason, len(rec.Players))
	return nil
}

// remember and forget must be called with r.mu held.
func (r *Recorder) remember(id uuid.UUID) {
	r.recorded[id] = struct{}{}
	r.order = append(r.order, id)
	for len(r.order) > r.keep {
		delete(r.recorded, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *Recorder) forget(id uuid.UUID) {
	delete(r.recorded, id)
	for i, x := range r.order {
		if x == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// BuildRecord converts a finished game into its history record.
func BuildRecord(res game.Result) models.MatchHistory {
	g := res.State
	out := g.Outcome

	winner := out.Winner
	if out.Reason == engine.ReasonLastPlayerWinner {
		winner = survivor(g)
	}

	rec := models.MatchHistory{
		GameID:           res.GameID,
		RoomID:           res.RoomID,
		GameMode:         string(res.Settings.Mode),
		BoardSize:        res.Settings.BoardSize,
		Theme:            res.Settings.Theme,
		CompletionReason: string(out.Reason),
		StartedAt:        res.StartedAt,
		Duration:         res.EndedAt.Sub(res.StartedAt),
		CreatedAt:        res.EndedAt,
	}
	if winner != engine.NoPlayer {
		id := res.PlayerID(winner)
		rec.WinnerID = &id
	}

	ranking := out.Ranking
	if len(ranking) != len(g.Players) {
		ranking = g.Ranking()
	}
	for rank, idx := range ranking {
		p := g.Players[idx]
		rec.Players = append(rec.Players, models.PlayerResult{
			UserID:    res.PlayerID(idx),
			Username:  p.Name,
			Score:     p.Score,
			Matches:   p.Matches,
			Rank:      rank + 1,
			IsWinner:  idx == winner,
			LeftEarly: p.Left,
		})
	}

	rec.Opponents = opponents(res)
	return rec
}

// survivor returns the only player who did not leave, or NoPlayer.
func survivor(g *engine.GameState) int {
	found := engine.NoPlayer
	for i := range g.Players {
		if g.Players[i].Left {
			continue
		}
		if found != engine.NoPlayer {
			return engine.NoPlayer
		}
		found = i
	}
	return found
}

// opponents lists every player's result, taking departed players from the
// snapshot captured when they left.
func opponents(res game.Result) []models.OpponentRecord {
	g := res.State
	snaps := make(map[string]engine.OpponentSnapshot, len(g.OpponentsForHistory))
	for _, s := range g.OpponentsForHistory {
		snaps[s.PlayerID] = s
	}

	out := make([]models.OpponentRecord, 0, len(g.Players))
	for i, p := range g.Players {
		if s, ok := snaps[p.ID]; ok {
			at := s.DisconnectedAt
			out = append(out, models.OpponentRecord{
				UserID:         res.PlayerID(i),
				Username:       s.Name,
				Score:          s.Score,
				Matches:        s.Matches,
				LeftEarly:      s.LeftEarly,
				DisconnectedAt: &at,
			})
			continue
		}
		out = append(out, models.OpponentRecord{
			UserID:   res.PlayerID(i),
			Username: p.Name,
			Score:    p.Score,
			Matches:  p.Matches,
		})
	}
	return out
}
