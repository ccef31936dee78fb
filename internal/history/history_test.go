package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	"github.com/jason-s-yu/memora/internal/game"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	records  []models.MatchHistory
}

func (m *mockStore) InsertMatchHistory(_ context.Context, rec models.MatchHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errors.New("connection reset")
	}
	m.records = append(m.records, rec)
	return nil
}

var start = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// finishedResult plays a 3-player game where two players leave.
func finishedResult(t *testing.T) (game.Result, []uuid.UUID) {
	t.Helper()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	g := engine.NewGame(1, engine.DefaultRules())
	for i, id := range ids {
		_, err := g.AddPlayer(id.String(), []string{"alice", "bob", "carol"}[i])
		require.NoError(t, err)
		require.NoError(t, g.SetReady(id.String(), true))
	}
	require.NoError(t, g.Start(start))

	g.Players[0].Score, g.Players[0].Matches = 10, 1
	g.Players[1].Score, g.Players[1].Matches = 30, 3
	g.Players[2].Score, g.Players[2].Matches = 20, 2

	_, err := g.MarkLeft(2, start.Add(time.Minute))
	require.NoError(t, err)
	res, err := g.MarkLeft(1, start.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, res.Finished)

	settings := game.DefaultSettings()
	return game.Result{
		RoomID:    uuid.New(),
		GameID:    uuid.New(),
		CreatedBy: ids[0],
		Settings:  settings,
		State:     g,
		StartedAt: start,
		EndedAt:   start.Add(3 * time.Minute),
	}, ids
}

func TestBuildRecordLastPlayerWinner(t *testing.T) {
	res, ids := finishedResult(t)
	rec := BuildRecord(res)

	assert.Equal(t, res.GameID, rec.GameID)
	assert.Equal(t, "classic", rec.GameMode)
	assert.Equal(t, 16, rec.BoardSize)
	assert.Equal(t, string(engine.ReasonLastPlayerWinner), rec.CompletionReason)
	assert.Equal(t, 3*time.Minute, rec.Duration)
	require.NotNil(t, rec.WinnerID)
	assert.Equal(t, ids[0], *rec.WinnerID, "survivor wins regardless of score")

	require.Len(t, rec.Players, 3)
	assert.Equal(t, ids[0], rec.Players[0].UserID)
	assert.True(t, rec.Players[0].IsWinner)
	assert.Equal(t, 1, rec.Players[0].Rank)
	for _, p := range rec.Players[1:] {
		assert.False(t, p.IsWinner)
		assert.True(t, p.LeftEarly)
	}

	require.Len(t, rec.Opponents, 3)
	assert.False(t, rec.Opponents[0].LeftEarly)
	assert.Nil(t, rec.Opponents[0].DisconnectedAt)
	carol := rec.Opponents[2]
	assert.Equal(t, "carol", carol.Username)
	assert.True(t, carol.LeftEarly)
	assert.Equal(t, 20, carol.Score)
	require.NotNil(t, carol.DisconnectedAt)
	assert.Equal(t, start.Add(time.Minute), *carol.DisconnectedAt)
}

func TestBuildRecordCompletedGame(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	g := engine.NewGame(1, engine.DefaultRules())
	for _, id := range ids {
		_, err := g.AddPlayer(id.String(), id.String()[:4])
		require.NoError(t, err)
		require.NoError(t, g.SetReady(id.String(), true))
	}
	require.NoError(t, g.Start(start))
	g.Players[1].Score = 20
	g.Abort()
	g.Outcome.Reason = engine.ReasonGameCompleted
	g.Outcome.Winner = 1
	g.Outcome.Ranking = []int{1, 0}

	rec := BuildRecord(game.Result{GameID: uuid.New(), Settings: game.DefaultSettings(), State: g, StartedAt: start, EndedAt: start})
	require.NotNil(t, rec.WinnerID)
	assert.Equal(t, ids[1], *rec.WinnerID)
	assert.Equal(t, 20, rec.Players[0].Score)
	for _, o := range rec.Opponents {
		assert.False(t, o.LeftEarly, "no departures: live players are the fallback")
	}
}

func TestRecordWritesOnce(t *testing.T) {
	res, _ := finishedResult(t)
	store := &mockStore{}
	r := NewRecorder(store).WithRetry(3, time.Millisecond, time.Second)

	require.NoError(t, r.Record(context.Background(), res))
	assert.ErrorIs(t, r.Record(context.Background(), res), ErrAlreadyRecorded)
	assert.Len(t, store.records, 1)
}

func TestRecordForgetsOldGames(t *testing.T) {
	store := &mockStore{}
	r := NewRecorder(store).WithRetry(1, time.Millisecond, time.Second)
	r.keep = 2

	var games []game.Result
	for i := 0; i < 3; i++ {
		res, _ := finishedResult(t)
		require.NoError(t, r.Record(context.Background(), res))
		games = append(games, res)
	}
	assert.Len(t, r.recorded, 2)
	assert.Len(t, r.order, 2)
	assert.NotContains(t, r.recorded, games[0].GameID)

	assert.ErrorIs(t, r.Record(context.Background(), games[2]), ErrAlreadyRecorded)
	// the oldest id is forgotten; the store's own conflict handling covers it
	require.NoError(t, r.Record(context.Background(), games[0]))
	assert.Equal(t, 4, store.calls)
	assert.Len(t, r.recorded, 2)
}

func TestRecordRetriesTransientFailures(t *testing.T) {
	res, _ := finishedResult(t)
	store := &mockStore{failures: 2}
	r := NewRecorder(store).WithRetry(3, time.Millisecond, time.Second)

	require.NoError(t, r.Record(context.Background(), res))
	assert.Equal(t, 3, store.calls)
	assert.Len(t, store.records, 1)
}

func TestRecordGivesUp(t *testing.T) {
	res, _ := finishedResult(t)
	store := &mockStore{failures: 10}
	r := NewRecorder(store).WithRetry(3, time.Millisecond, time.Second)

	err := r.Record(context.Background(), res)
	require.Error(t, err)
	assert.Equal(t, 3, store.calls)
	assert.Empty(t, store.records)
	assert.Empty(t, r.order)

	// The failed game can be retried later.
	store.failures = 0
	require.NoError(t, r.Record(context.Background(), res))
}

func TestRecordSkipsUnstartedGame(t *testing.T) {
	res, _ := finishedResult(t)
	res.StartedAt = time.Time{}
	store := &mockStore{}
	assert.ErrorIs(t, NewRecorder(store).Record(context.Background(), res), ErrNotStarted)
	assert.Zero(t, store.calls)
}
