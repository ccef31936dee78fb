// Package registry owns the live rooms of the process.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	"github.com/jason-s-yu/memora/internal/bridge"
	"github.com/jason-s-yu/memora/internal/events"
	"github.com/jason-s-yu/memora/internal/game"
	"github.com/jason-s-yu/memora/internal/history"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/jason-s-yu/memora/internal/timers"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultIdleTimeout = 10 * time.Minute
	commandTimeout     = 5 * time.Second
	teardownTimeout    = 30 * time.Second
	maxPasswordLen     = 72
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrInvalidRoomID = errors.New("malformed room id")
	ErrWrongPassword = errors.New("wrong room password")
	ErrBlocked       = errors.New("user is blocked")
	ErrBadPassword   = errors.New("room password must be at most 72 bytes")
)

// Recorder writes match history.
type Recorder interface {
	Record(ctx context.Context, res game.Result) error
}

// Abuse receives suspicious-activity signals and answers block checks.
type Abuse interface {
	Report(userID, roomID uuid.UUID, reason, detail string) bool
	IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Config holds the collaborators shared by every room. Only Scheduler and
// Bridge are required.
type Config struct {
	Scheduler   timers.Scheduler
	Bridge      *bridge.Bridge
	History     Recorder
	Events      events.Publisher
	Abuse       Abuse
	Actions     game.ActionLog
	RevealDelay time.Duration
	IdleTimeout time.Duration
	Now         func() time.Time
}

type entry struct {
	session      *game.Session
	passwordHash []byte
}

// Registry maps room ids to sessions. It implements bridge.Handler.
type Registry struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*entry

	cfg      Config
	teardown sync.WaitGroup
	sweeper  gocron.Scheduler
}

// New returns an empty registry and installs it as the bridge handler.
func New(cfg Config) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Registry{rooms: make(map[uuid.UUID]*entry), cfg: cfg}
	cfg.Bridge.SetHandler(r)
	return r
}

// ParseRoomID validates a client-supplied room id.
func ParseRoomID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidRoomID, s)
	}
	return id, nil
}

// ---------------------------------------------------------------------------
// Room lifecycle
// ---------------------------------------------------------------------------

// Create opens a room, seats the creator and starts its session.
func (r *Registry) Create(ctx context.Context, creator models.User, settings game.Settings, password string) (game.Summary, error) {
	if err := r.checkBlocked(ctx, creator.ID); err != nil {
		return game.Summary{}, err
	}
	var hash []byte
	if password != "" {
		if len(password) > maxPasswordLen {
			return game.Summary{}, ErrBadPassword
		}
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost); err != nil {
			return game.Summary{}, fmt.Errorf("hash room password: %w", err)
		}
	}

	s, err := game.NewSession(game.Config{
		Creator:     creator,
		Settings:    settings,
		Private:     hash != nil,
		Scheduler:   r.cfg.Scheduler,
		Actions:     r.cfg.Actions,
		Now:         r.cfg.Now,
		RevealDelay: r.cfg.RevealDelay,
	})
	if err != nil {
		return game.Summary{}, err
	}
	roomID := s.ID
	s.BroadcastFn = func(ev game.GameEvent) { r.cfg.Bridge.Broadcast(roomID, ev) }
	s.BroadcastToPlayerFn = func(playerID uuid.UUID, ev game.GameEvent) { r.cfg.Bridge.Send(roomID, playerID, ev) }
	s.OnSuspicious = func(userID uuid.UUID, reason, detail string) { r.report(userID, roomID, reason, detail) }
	s.OnGameEnd = r.onGameEnd

	r.mu.Lock()
	r.rooms[roomID] = &entry{session: s, passwordHash: hash}
	r.mu.Unlock()
	s.Start()

	log.WithFields(log.Fields{"room": roomID, "creator": creator.ID, "private": hash != nil}).Info("room created")
	return s.Summary(), nil
}

// Join seats user in the room. A user who already holds a seat is treated
// as reconnecting.
func (r *Registry) Join(ctx context.Context, roomID uuid.UUID, user models.User, password string) error {
	e, err := r.entry(roomID)
	if err != nil {
		return err
	}
	sum := e.session.Summary()
	if sum.Seated(user.ID) {
		return e.session.Submit(ctx, game.Reconnect{UserID: user.ID})
	}
	if sum.Status != engine.StatusWaiting {
		return engine.ErrNotWaiting
	}
	if e.passwordHash != nil {
		if bcrypt.CompareHashAndPassword(e.passwordHash, []byte(password)) != nil {
			return ErrWrongPassword
		}
	}
	if err := r.checkBlocked(ctx, user.ID); err != nil {
		return err
	}
	return e.session.Submit(ctx, game.Join{User: user})
}

// Leave removes user from the room. A waiting room left empty is destroyed.
func (r *Registry) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	e, err := r.entry(roomID)
	if err != nil {
		return err
	}
	if err := e.session.Submit(ctx, game.Leave{UserID: userID}); err != nil {
		return err
	}
	r.cfg.Bridge.Release(roomID, userID)
	r.destroyIfEmpty(roomID, e)
	return nil
}

// Submit routes a game command to the room's session.
func (r *Registry) Submit(ctx context.Context, roomID uuid.UUID, cmd game.Command) error {
	e, err := r.entry(roomID)
	if err != nil {
		return err
	}
	return e.session.Submit(ctx, cmd)
}

// Snapshot returns the room state as seen by userID.
func (r *Registry) Snapshot(ctx context.Context, roomID, userID uuid.UUID) (game.ObfGameState, error) {
	e, err := r.entry(roomID)
	if err != nil {
		return game.ObfGameState{}, err
	}
	return e.session.Snapshot(ctx, userID)
}

// Get returns the session of roomID.
func (r *Registry) Get(roomID uuid.UUID) (*game.Session, bool) {
	e, err := r.entry(roomID)
	if err != nil {
		return nil, false
	}
	return e.session, true
}

// List returns a summary of every room, oldest first.
func (r *Registry) List() []game.Summary {
	r.mu.RLock()
	out := make([]game.Summary, 0, len(r.rooms))
	for _, e := range r.rooms {
		out = append(out, e.session.Summary())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Detail returns the summary of one room.
func (r *Registry) Detail(roomID uuid.UUID) (game.Summary, error) {
	e, err := r.entry(roomID)
	if err != nil {
		return game.Summary{}, err
	}
	return e.session.Summary(), nil
}

// Len is the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Destroy removes the room, stops its session and closes its connections.
func (r *Registry) Destroy(roomID uuid.UUID, reason string) bool {
	r.mu.Lock()
	e, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.session.Close()
	r.cfg.Bridge.DropRoom(roomID)
	log.WithFields(log.Fields{"room": roomID, "reason": reason}).Info("room destroyed")
	return true
}

func (r *Registry) entry(roomID uuid.UUID) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return e, nil
}

func (r *Registry) destroyIfEmpty(roomID uuid.UUID, e *entry) {
	sum := e.session.Summary()
	if sum.Status == engine.StatusWaiting && sum.ActivePlayers() == 0 {
		r.Destroy(roomID, "empty")
	}
}

func (r *Registry) checkBlocked(ctx context.Context, userID uuid.UUID) error {
	if r.cfg.Abuse == nil {
		return nil
	}
	blocked, err := r.cfg.Abuse.IsBlocked(ctx, userID)
	if err != nil {
		log.WithField("user", userID).Warnf("block check failed: %v", err)
		return nil
	}
	if blocked {
		return ErrBlocked
	}
	return nil
}

func (r *Registry) report(userID, roomID uuid.UUID, reason, detail string) {
	if r.cfg.Abuse != nil {
		r.cfg.Abuse.Report(userID, roomID, reason, detail)
	}
}

// ---------------------------------------------------------------------------
// Game end and teardown
// ---------------------------------------------------------------------------

// onGameEnd runs on the session goroutine; persistence and teardown happen
// in the background so the session is never held up.
func (r *Registry) onGameEnd(res game.Result) {
	r.teardown.Add(1)
	go func() {
		defer r.teardown.Done()
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		recorded := false
		if r.cfg.History != nil {
			err := r.cfg.History.Record(ctx, res)
			switch {
			case err == nil:
				recorded = true
			case errors.Is(err, history.ErrNotStarted), errors.Is(err, history.ErrAlreadyRecorded):
			default:
				log.WithField("room", res.RoomID).Warnf("history write failed: %v", err)
			}
		}
		if r.cfg.Events != nil && (recorded || r.cfg.History == nil) && !res.StartedAt.IsZero() {
			summary := events.Summarize(history.BuildRecord(res), res.EndedAt)
			if err := r.cfg.Events.PublishGameEnded(ctx, summary); err != nil {
				log.WithField("room", res.RoomID).Warnf("game ended event not published: %v", err)
			}
		}
		r.Destroy(res.RoomID, "finished")
	}()
}

// SweepIdle destroys waiting rooms with no activity for the idle timeout.
func (r *Registry) SweepIdle(now time.Time) int {
	r.mu.RLock()
	var idle []uuid.UUID
	for id, e := range r.rooms {
		sum := e.session.Summary()
		if sum.Status == engine.StatusWaiting && now.Sub(sum.LastActivity) > r.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, id := range idle {
		if r.Destroy(id, "idle") {
			n++
		}
	}
	if n > 0 {
		log.Printf("Registry: swept %d idle rooms.", n)
	}
	return n
}

// StartSweeper runs SweepIdle every interval.
func (r *Registry) StartSweeper(interval time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create sweeper: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { r.SweepIdle(r.cfg.Now()) }),
		gocron.WithName("idle-room-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	s.Start()
	r.sweeper = s
	return nil
}

// Shutdown stops the sweeper, aborts every room and waits for teardown.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.sweeper != nil {
		if err := r.sweeper.Shutdown(); err != nil {
			log.Warnf("Registry: sweeper shutdown: %v", err)
		}
	}

	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		e, err := r.entry(id)
		if err != nil {
			continue
		}
		if e.session.Summary().Status == engine.StatusWaiting {
			r.Destroy(id, "shutdown")
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		if err := e.session.Submit(cctx, game.Abort{Reason: "server shutdown"}); err != nil {
			r.Destroy(id, "shutdown")
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.teardown.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// bridge.Handler
// ---------------------------------------------------------------------------

func (r *Registry) submitInternal(roomID uuid.UUID, cmd game.Command) {
	e, err := r.entry(roomID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := e.session.Submit(ctx, cmd); err != nil && !errors.Is(err, game.ErrSessionClosed) && !errors.Is(err, engine.ErrNotSeated) {
		log.WithField("room", roomID).Debugf("%T: %v", cmd, err)
	}
}

// Connected implements bridge.Handler.
func (r *Registry) Connected(roomID, playerID uuid.UUID, _ bool, seq uint64) {
	e, err := r.entry(roomID)
	if err != nil || !e.session.Summary().Seated(playerID) {
		return
	}
	r.submitInternal(roomID, game.Reconnect{UserID: playerID, Seq: seq})
}

// Disconnected implements bridge.Handler.
func (r *Registry) Disconnected(roomID, playerID uuid.UUID, seq uint64) {
	r.submitInternal(roomID, game.Disconnect{UserID: playerID, Seq: seq})
}

// GraceExpired implements bridge.Handler.
func (r *Registry) GraceExpired(roomID, playerID uuid.UUID) {
	r.submitInternal(roomID, game.GraceExpired{UserID: playerID})
	if e, err := r.entry(roomID); err == nil {
		r.destroyIfEmpty(roomID, e)
	}
}

// Suspicious implements bridge.Handler.
func (r *Registry) Suspicious(playerID uuid.UUID, reason, detail string) {
	r.report(playerID, uuid.Nil, reason, detail)
}
