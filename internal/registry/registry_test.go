package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	"github.com/jason-s-yu/memora/internal/bridge"
	"github.com/jason-s-yu/memora/internal/game"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/jason-s-yu/memora/internal/timers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []game.Result
}

func (f *fakeRecorder) Record(_ context.Context, res game.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type fakeEvents struct {
	mu        sync.Mutex
	summaries []models.GameEndedSummary
}

func (f *fakeEvents) PublishGameEnded(_ context.Context, s models.GameEndedSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeEvents) Close() {}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries)
}

type fakeAbuse struct {
	mu      sync.Mutex
	blocked map[uuid.UUID]bool
	reports []string
}

func (f *fakeAbuse) Report(userID, _ uuid.UUID, reason, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, reason)
	return false
}

func (f *fakeAbuse) IsBlocked(_ context.Context, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[userID], nil
}

type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	closed string
}

func (c *fakeConn) Send(_ context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = reason
	return nil
}

func (c *fakeConn) closedReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fixture struct {
	reg      *Registry
	bridge   *bridge.Bridge
	sched    *timers.Manual
	clock    *testClock
	recorder *fakeRecorder
	events   *fakeEvents
	abuse    *fakeAbuse
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sched:    timers.NewManual(),
		clock:    &testClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		recorder: &fakeRecorder{},
		events:   &fakeEvents{},
		abuse:    &fakeAbuse{blocked: make(map[uuid.UUID]bool)},
	}
	f.bridge = bridge.New(bridge.Config{Scheduler: f.sched, Now: f.clock.Now})
	f.reg = New(Config{
		Scheduler: f.sched,
		Bridge:    f.bridge,
		History:   f.recorder,
		Events:    f.events,
		Abuse:     f.abuse,
		Now:       f.clock.Now,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.reg.Shutdown(ctx)
	})
	return f
}

func user(name string) models.User {
	return models.User{ID: uuid.New(), Username: name}
}

func TestCreateListDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := user("alice"), user("bob")

	pub, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	priv, err := f.reg.Create(ctx, bob, game.Settings{Mode: engine.ModeBlitz, BoardSize: 36}, "secret")
	require.NoError(t, err)

	list := f.reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, pub.ID, list[0].ID)
	assert.False(t, list[0].Private)
	assert.True(t, list[1].Private)

	d, err := f.reg.Detail(priv.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.ModeBlitz, d.Settings.Mode)
	assert.Equal(t, bob.ID, d.CreatedBy)
	assert.True(t, d.Seated(bob.ID))

	_, err = f.reg.Create(ctx, alice, game.Settings{BoardSize: 20}, "")
	assert.ErrorIs(t, err, game.ErrInvalidSettings)
	assert.Equal(t, 2, f.reg.Len())
}

func TestJoinRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, mallory := user("alice"), user("bob"), user("mallory")

	room, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "hunter2")
	require.NoError(t, err)

	assert.ErrorIs(t, f.reg.Join(ctx, uuid.New(), bob, ""), ErrRoomNotFound)
	assert.ErrorIs(t, f.reg.Join(ctx, room.ID, bob, "wrong"), ErrWrongPassword)

	f.abuse.blocked[mallory.ID] = true
	assert.ErrorIs(t, f.reg.Join(ctx, room.ID, mallory, "hunter2"), ErrBlocked)
	_, err = f.reg.Create(ctx, mallory, game.DefaultSettings(), "")
	assert.ErrorIs(t, err, ErrBlocked)

	require.NoError(t, f.reg.Join(ctx, room.ID, bob, "hunter2"))
	// Joining again is a reconnect.
	require.NoError(t, f.reg.Join(ctx, room.ID, bob, ""))

	d, err := f.reg.Detail(room.ID)
	require.NoError(t, err)
	assert.Len(t, d.Players, 2)

	_, err = ParseRoomID("not-a-room")
	assert.ErrorIs(t, err, ErrInvalidRoomID)
}

func TestJoinAfterStartRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := user("alice"), user("bob")
	room, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "")
	require.NoError(t, err)
	require.NoError(t, f.reg.Join(ctx, room.ID, bob, ""))
	for _, u := range []models.User{alice, bob} {
		require.NoError(t, f.reg.Submit(ctx, room.ID, game.Ready{UserID: u.ID, Ready: true}))
	}

	err = f.reg.Join(ctx, room.ID, user("carol"), "")
	assert.ErrorIs(t, err, engine.ErrNotWaiting)
}

func TestLeavingEmptyWaitingRoomDestroysIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := user("alice"), user("bob")
	room, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "")
	require.NoError(t, err)
	require.NoError(t, f.reg.Join(ctx, room.ID, bob, ""))

	require.NoError(t, f.reg.Leave(ctx, room.ID, alice.ID))
	assert.Equal(t, 1, f.reg.Len())
	require.NoError(t, f.reg.Leave(ctx, room.ID, bob.ID))
	assert.Zero(t, f.reg.Len())
	assert.Zero(t, f.recorder.count(), "no history for a game that never started")
}

func TestSweepIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := user("alice"), user("bob")

	idle, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "")
	require.NoError(t, err)
	playing, err := f.reg.Create(ctx, bob, game.DefaultSettings(), "")
	require.NoError(t, err)
	carol := user("carol")
	require.NoError(t, f.reg.Join(ctx, playing.ID, carol, ""))
	for _, u := range []models.User{bob, carol} {
		require.NoError(t, f.reg.Submit(ctx, playing.ID, game.Ready{UserID: u.ID, Ready: true}))
	}

	f.clock.Advance(5 * time.Minute)
	assert.Zero(t, f.reg.SweepIdle(f.clock.Now()))

	f.clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, f.reg.SweepIdle(f.clock.Now()))
	_, err = f.reg.Detail(idle.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = f.reg.Detail(playing.ID)
	assert.NoError(t, err)
}

func TestGameEndRecordsAndTearsDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := user("alice"), user("bob")
	room, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "")
	require.NoError(t, err)
	require.NoError(t, f.reg.Join(ctx, room.ID, bob, ""))

	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	f.bridge.Attach(room.ID, alice.ID, aliceConn)
	f.bridge.Attach(room.ID, bob.ID, bobConn)

	for _, u := range []models.User{alice, bob} {
		require.NoError(t, f.reg.Submit(ctx, room.ID, game.Ready{UserID: u.ID, Ready: true}))
	}
	require.NoError(t, f.reg.Leave(ctx, room.ID, alice.ID))

	assert.Eventually(t, func() bool { return f.reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, f.recorder.count())
	res := f.recorder.results[0]
	assert.Equal(t, engine.ReasonLastPlayerWinner, res.State.Outcome.Reason)
	assert.Equal(t, bob.ID, res.WinnerID())

	require.Equal(t, 1, f.events.count())
	assert.Equal(t, bob.ID, *f.events.summaries[0].WinnerID)
	assert.Equal(t, "room closed", bobConn.closedReason())
}

func TestGraceExpiryThroughBridge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := user("alice"), user("bob")
	room, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "")
	require.NoError(t, err)
	require.NoError(t, f.reg.Join(ctx, room.ID, bob, ""))

	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	f.bridge.Attach(room.ID, alice.ID, aliceConn)
	f.bridge.Attach(room.ID, bob.ID, bobConn)

	d, err := f.reg.Detail(room.ID)
	require.NoError(t, err)
	for _, p := range d.Players {
		assert.True(t, p.Connected, "%s should be connected", p.Username)
	}

	f.bridge.Detach(room.ID, bob.ID, bobConn)
	require.True(t, f.sched.Fire(timers.Key("grace", room.ID, bob.ID)))
	d, err = f.reg.Detail(room.ID)
	require.NoError(t, err)
	assert.False(t, d.Seated(bob.ID), "waiting seat freed after grace")

	f.bridge.Detach(room.ID, alice.ID, aliceConn)
	require.True(t, f.sched.Fire(timers.Key("grace", room.ID, alice.ID)))
	assert.Zero(t, f.reg.Len())
}

func TestReconnectWithinGraceKeepsSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := user("alice"), user("bob")
	room, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "")
	require.NoError(t, err)
	require.NoError(t, f.reg.Join(ctx, room.ID, bob, ""))
	first := &fakeConn{}
	f.bridge.Attach(room.ID, bob.ID, first)
	for _, u := range []models.User{alice, bob} {
		require.NoError(t, f.reg.Submit(ctx, room.ID, game.Ready{UserID: u.ID, Ready: true}))
	}
	before, err := f.reg.Snapshot(ctx, room.ID, bob.ID)
	require.NoError(t, err)

	f.bridge.Detach(room.ID, bob.ID, first)
	assert.True(t, f.bridge.Attach(room.ID, bob.ID, &fakeConn{}))
	assert.False(t, f.sched.Pending(timers.Key("grace", room.ID, bob.ID)))

	after, err := f.reg.Snapshot(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Board, after.Board)
	assert.Equal(t, before.CurrentPlayerID, after.CurrentPlayerID)
	assert.Equal(t, engine.StatusPlaying, after.Status)
}

// heldDisconnects parks Disconnected notifications until released, so a
// reconnect can overtake them.
type heldDisconnects struct {
	*Registry
	reached chan struct{}
	release chan struct{}
}

func (h *heldDisconnects) Disconnected(roomID, playerID uuid.UUID, seq uint64) {
	h.reached <- struct{}{}
	<-h.release
	h.Registry.Disconnected(roomID, playerID, seq)
}

func TestLateDisconnectAfterReconnectIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := user("alice"), user("bob")
	held := &heldDisconnects{Registry: f.reg, reached: make(chan struct{}), release: make(chan struct{})}
	f.bridge.SetHandler(held)

	room, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "")
	require.NoError(t, err)
	require.NoError(t, f.reg.Join(ctx, room.ID, bob, ""))
	aliceConn, first := &fakeConn{}, &fakeConn{}
	f.bridge.Attach(room.ID, alice.ID, aliceConn)
	f.bridge.Attach(room.ID, bob.ID, first)
	for _, u := range []models.User{alice, bob} {
		require.NoError(t, f.reg.Submit(ctx, room.ID, game.Ready{UserID: u.ID, Ready: true}))
	}

	detached := make(chan struct{})
	go func() {
		defer close(detached)
		f.bridge.Detach(room.ID, bob.ID, first)
	}()
	<-held.reached
	assert.True(t, f.bridge.Attach(room.ID, bob.ID, &fakeConn{}))
	close(held.release)
	<-detached

	d, err := f.reg.Detail(room.ID)
	require.NoError(t, err)
	for _, p := range d.Players {
		if p.ID == bob.ID {
			assert.True(t, p.Connected, "bob reconnected after the disconnect was raised")
		}
	}

	go func() { <-held.reached }()
	f.bridge.Detach(room.ID, alice.ID, aliceConn)
	d, err = f.reg.Detail(room.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPlaying, d.Status, "bob is still connected")
}

func TestSuspiciousSignalsReachAbuse(t *testing.T) {
	f := newFixture(t)
	f.reg.Suspicious(uuid.New(), "rapid_reconnect", "cycling")
	assert.Equal(t, []string{"rapid_reconnect"}, f.abuse.reports)
}

func TestShutdownAbortsGames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := user("alice"), user("bob")
	room, err := f.reg.Create(ctx, alice, game.DefaultSettings(), "")
	require.NoError(t, err)
	require.NoError(t, f.reg.Join(ctx, room.ID, bob, ""))
	for _, u := range []models.User{alice, bob} {
		require.NoError(t, f.reg.Submit(ctx, room.ID, game.Ready{UserID: u.ID, Ready: true}))
	}
	_, err = f.reg.Create(ctx, user("carol"), game.DefaultSettings(), "")
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.reg.Shutdown(sctx))
	assert.Zero(t, f.reg.Len())
	require.Equal(t, 1, f.recorder.count())
	assert.Equal(t, engine.ReasonAbort, f.recorder.results[0].State.Outcome.Reason)
}
