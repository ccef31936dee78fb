// internal/game/game.go
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	"github.com/jason-s-yu/memora/internal/cache"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/jason-s-yu/memora/internal/timers"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultRevealDelay is how long a mismatched pair stays face up.
	DefaultRevealDelay = time.Second
	clockInterval      = time.Second
	maxChatLog         = 200
	maxChatLen         = 500
	commandQueueSize   = 64
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrInvalidChat   = errors.New("chat message must be 1-500 characters")
)

// GameEventType represents the type of a game-related event sent to clients.
type GameEventType string

const (
	EventRoomJoined         GameEventType = "room_joined"         // Private: join accepted, carries the state.
	EventJoinError          GameEventType = "join_error"          // Private: join rejected.
	EventPlayerJoined       GameEventType = "player_joined"       // Public
	EventPlayerLeft         GameEventType = "player_left"         // Public: seat freed or player left mid-game.
	EventPlayerReady        GameEventType = "player_ready"        // Public
	EventGameStarted        GameEventType = "game_started"        // Public
	EventStateDelta         GameEventType = "state_delta"         // Public: board/turn/score view.
	EventCardFlipped        GameEventType = "card_flipped"        // Public
	EventCardsMatched       GameEventType = "cards_matched"       // Public
	EventCardsMismatched    GameEventType = "cards_mismatched"    // Public
	EventTurnChanged        GameEventType = "turn_changed"        // Public
	EventPowerUpUsed        GameEventType = "power_up_used"       // Public: never carries peeked values.
	EventPrivatePeek        GameEventType = "private_peek"        // Private: peeked card value.
	EventPrivateSyncState   GameEventType = "private_sync_state"  // Private: full state for one player.
	EventActionError        GameEventType = "action_error"        // Private: command rejected.
	EventChatMessage        GameEventType = "chat_message"        // Public
	EventPlayerDisconnected GameEventType = "player_disconnected" // Public
	EventPlayerReconnected  GameEventType = "player_reconnected"  // Public
	EventGameEnded          GameEventType = "game_ended"          // Public: includes the completion reason.
)

// EventUser identifies a user within a GameEvent.
type EventUser struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username,omitempty"`
}

// EventCard identifies a board card, optionally with its face.
type EventCard struct {
	ID    int    `json:"id"`
	Value string `json:"value,omitempty"`
	Theme string `json:"theme,omitempty"`
}

// GameEvent is the standard structure for broadcasting game state changes and actions.
type GameEvent struct {
	Type    GameEventType      `json:"type"`
	User    *EventUser         `json:"user,omitempty"`
	Card    *EventCard         `json:"card,omitempty"`
	Card1   *EventCard         `json:"card1,omitempty"`
	Card2   *EventCard         `json:"card2,omitempty"`
	PowerUp engine.PowerUpType `json:"powerUp,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`

	State *ObfGameState `json:"state,omitempty"`
}

// ChatMessage is one entry of the room chat log.
type ChatMessage struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// ActionLog receives every logged game action, e.g. for an external historian.
type ActionLog interface {
	PublishGameAction(ctx context.Context, rec cache.GameActionRecord) error
}

// Result is handed to OnGameEnd once the game is finished.
type Result struct {
	RoomID    uuid.UUID
	GameID    uuid.UUID
	CreatedBy uuid.UUID
	Settings  Settings
	State     *engine.GameState // final state; read-only
	StartedAt time.Time
	EndedAt   time.Time
}

// PlayerID returns the user id seated at idx.
func (r Result) PlayerID(idx int) uuid.UUID {
	if idx < 0 || idx >= len(r.State.Players) {
		return uuid.Nil
	}
	id, _ := uuid.Parse(r.State.Players[idx].ID)
	return id
}

// WinnerID returns the winner's user id, or uuid.Nil.
func (r Result) WinnerID() uuid.UUID {
	if r.State.Outcome == nil {
		return uuid.Nil
	}
	return r.PlayerID(r.State.Outcome.Winner)
}

// OnGameEndFunc is executed on the session goroutine when a game ends.
type OnGameEndFunc func(res Result)

// Config holds the collaborators of a new session.
type Config struct {
	RoomID      uuid.UUID
	Creator     models.User
	Settings    Settings
	Private     bool
	Scheduler   timers.Scheduler
	Actions     ActionLog        // optional
	Seed        uint64           // 0 picks a time-based seed
	Now         func() time.Time // optional clock
	RevealDelay time.Duration    // 0 = DefaultRevealDelay
}

type envelope struct {
	cmd   Command
	reply chan error
}

// Session owns one room: the engine state, its timers and its chat. All
// mutation happens on the session goroutine, one command at a time.
type Session struct {
	ID        uuid.UUID // room id
	GameID    uuid.UUID
	CreatedBy uuid.UUID
	CreatedAt time.Time
	Settings  Settings
	Private   bool

	state        *engine.GameState
	connected    map[uuid.UUID]bool
	connSeq      map[uuid.UUID]uint64
	chat         []ChatMessage
	turnID       int
	actionIndex  int
	lastTick     time.Time
	lastActivity time.Time
	ended        bool

	sched        timers.Scheduler
	actions      ActionLog
	now          func() time.Time
	revealDelay  time.Duration
	turnDuration time.Duration

	cmds      chan envelope
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	summary   atomic.Value // Summary

	// Communication callbacks. Set before Start.
	BroadcastFn         func(ev GameEvent)
	BroadcastToPlayerFn func(playerID uuid.UUID, ev GameEvent)
	OnGameEnd           OnGameEndFunc
	OnSuspicious        func(userID uuid.UUID, reason, detail string)
}

// NewSession validates the settings and seats the creator. Call Start to
// begin processing commands.
func NewSession(cfg Config) (*Session, error) {
	rules, err := cfg.Settings.Rules()
	if err != nil {
		return nil, err
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("session requires a scheduler")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	reveal := cfg.RevealDelay
	if reveal <= 0 {
		reveal = DefaultRevealDelay
	}
	roomID := cfg.RoomID
	if roomID == uuid.Nil {
		roomID = uuid.New()
	}

	s := &Session{
		ID:           roomID,
		GameID:       uuid.New(),
		CreatedBy:    cfg.Creator.ID,
		CreatedAt:    now(),
		Settings:     cfg.Settings.withDefaults(),
		Private:      cfg.Private,
		state:        engine.NewGame(seed, rules),
		connected:    make(map[uuid.UUID]bool),
		connSeq:      make(map[uuid.UUID]uint64),
		sched:        cfg.Scheduler,
		actions:      cfg.Actions,
		now:          now,
		revealDelay:  reveal,
		turnDuration: cfg.Settings.TurnDuration(),
		cmds:         make(chan envelope, commandQueueSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.lastActivity = s.CreatedAt
	if _, err := s.state.AddPlayer(cfg.Creator.ID.String(), cfg.Creator.Username); err != nil {
		return nil, fmt.Errorf("seat creator: %w", err)
	}
	s.publishSummary()
	log.Printf("Game %s: Room created by %s (%s, %d cards).", s.ID, cfg.Creator.Username, rules.Mode, rules.BoardSize)
	return s, nil
}

// Start launches the session goroutine.
func (s *Session) Start() {
	s.startOnce.Do(func() { go s.run() })
}

// Close stops the session goroutine and cancels its timers. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.startOnce.Do(func() { close(s.done) })
	})
	<-s.done
}

// Done is closed when the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case env := <-s.cmds:
			err := s.handle(env.cmd)
			s.publishSummary()
			env.reply <- err
		case <-s.quit:
			s.cancelTimers()
			return
		}
	}
}

// Submit enqueues cmd and waits for it to be applied. Validation errors are
// returned to the caller and nothing else observes them.
func (s *Session) Submit(ctx context.Context, cmd Command) error {
	env := envelope{cmd: cmd, reply: make(chan error, 1)}
	select {
	case s.cmds <- env:
	case <-s.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-env.reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue submits an internal command from a timer callback.
func (s *Session) enqueue(cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Submit(ctx, cmd); err != nil && !errors.Is(err, ErrSessionClosed) {
		log.Printf("Game %s: internal command %T failed: %v", s.ID, cmd, err)
	}
}

// Snapshot returns the state as seen by userID.
func (s *Session) Snapshot(ctx context.Context, userID uuid.UUID) (ObfGameState, error) {
	var out ObfGameState
	err := s.Submit(ctx, snapshotQuery{UserID: userID, out: &out})
	return out, err
}

// State returns a deep copy of the authoritative engine state.
func (s *Session) State(ctx context.Context) (*engine.GameState, error) {
	var out *engine.GameState
	err := s.Submit(ctx, stateQuery{out: &out})
	return out, err
}

// handle dispatches one command. Runs on the session goroutine only.
func (s *Session) handle(cmd Command) error {
	switch c := cmd.(type) {
	case Join:
		s.touch()
		return s.handleJoin(c)
	case Leave:
		s.touch()
		return s.handleLeave(c)
	case Ready:
		s.touch()
		return s.handleReady(c)
	case Flip:
		s.touch()
		return s.handleFlip(c)
	case UsePowerUp:
		s.touch()
		return s.handlePowerUp(c)
	case Chat:
		s.touch()
		return s.handleChat(c)
	case Disconnect:
		return s.handleDisconnect(c)
	case Reconnect:
		s.touch()
		return s.handleReconnect(c)
	case GraceExpired:
		return s.handleGraceExpired(c)
	case Abort:
		return s.handleAbort(c)
	case resolveMismatch:
		return s.handleResolveMismatch(c)
	case turnTimeout:
		return s.handleTurnTimeout(c)
	case clockTick:
		return s.handleClockTick()
	case snapshotQuery:
		*c.out = s.GetCurrentObfuscatedGameState(c.UserID)
		return nil
	case stateQuery:
		*c.out = s.state.Clone()
		return nil
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}

func (s *Session) touch() { s.lastActivity = s.now() }

// ---------------------------------------------------------------------------
// Seating
// ---------------------------------------------------------------------------

func (s *Session) handleJoin(c Join) error {
	if s.playerIndex(c.User.ID) != engine.NoPlayer {
		return engine.ErrAlreadySeated
	}
	if _, err := s.state.AddPlayer(c.User.ID.String(), c.User.Username); err != nil {
		return err
	}
	s.connected[c.User.ID] = true
	log.Printf("Game %s: Player %s (%s) added.", s.ID, c.User.ID, c.User.Username)
	s.logAction(c.User.ID, "player_add", map[string]interface{}{"username": c.User.Username})

	s.fireEvent(GameEvent{Type: EventPlayerJoined, User: &EventUser{ID: c.User.ID, Username: c.User.Username}})
	state := s.GetCurrentObfuscatedGameState(c.User.ID)
	s.fireEventToPlayer(c.User.ID, GameEvent{Type: EventRoomJoined, State: &state})
	return nil
}

func (s *Session) handleLeave(c Leave) error {
	idx := s.playerIndex(c.UserID)
	if idx == engine.NoPlayer {
		return engine.ErrNotSeated
	}
	switch s.state.Status {
	case engine.StatusWaiting:
		s.removeSeat(c.UserID, "left")
		return nil
	case engine.StatusFinished:
		return nil
	}
	if s.state.Players[idx].Left {
		return nil
	}
	delete(s.connected, c.UserID)
	s.markLeft(idx, "left")
	return nil
}

func (s *Session) handleReady(c Ready) error {
	if s.playerIndex(c.UserID) == engine.NoPlayer {
		return engine.ErrNotSeated
	}
	if err := s.state.SetReady(c.UserID.String(), c.Ready); err != nil {
		return err
	}
	s.logAction(c.UserID, "player_ready", map[string]interface{}{"ready": c.Ready})
	s.fireEvent(GameEvent{
		Type:    EventPlayerReady,
		User:    s.eventUser(s.playerIndex(c.UserID)),
		Payload: map[string]interface{}{"ready": c.Ready},
	})
	if s.state.ReadyToStart() {
		s.startGame()
	}
	return nil
}

// removeSeat frees a seat before the game starts.
func (s *Session) removeSeat(userID uuid.UUID, reason string) {
	user := s.eventUser(s.playerIndex(userID))
	if err := s.state.RemovePlayer(userID.String()); err != nil {
		log.Printf("Game %s: failed to remove player %s: %v", s.ID, userID, err)
		return
	}
	delete(s.connected, userID)
	log.Printf("Game %s: Player %s removed from waiting room (%s).", s.ID, userID, reason)
	s.logAction(userID, "player_remove", map[string]interface{}{"reason": reason})
	s.fireEvent(GameEvent{Type: EventPlayerLeft, User: user, Payload: map[string]interface{}{"reason": reason, "leftEarly": false}})
}

// markLeft removes a player from an in-progress game.
func (s *Session) markLeft(idx int, reason string) {
	res, err := s.state.MarkLeft(idx, s.now())
	if err != nil {
		log.Printf("Game %s: MarkLeft(%d) failed: %v", s.ID, idx, err)
		return
	}
	userID := s.playerUUID(idx)
	log.Printf("Game %s: Player %s left the game (%s).", s.ID, userID, reason)
	s.logAction(userID, "player_left", map[string]interface{}{
		"reason":  reason,
		"score":   res.Snapshot.Score,
		"matches": res.Snapshot.Matches,
	})
	s.fireEvent(GameEvent{
		Type: EventPlayerLeft,
		User: s.eventUser(idx),
		Payload: map[string]interface{}{
			"reason":         reason,
			"leftEarly":      true,
			"score":          res.Snapshot.Score,
			"matches":        res.Snapshot.Matches,
			"disconnectedAt": res.Snapshot.DisconnectedAt,
		},
	})

	if res.Finished {
		s.EndGame()
		return
	}
	if res.TurnPassed {
		s.beginTurn("player_left")
	}
	s.broadcastDelta()
}

// ---------------------------------------------------------------------------
// Game flow
// ---------------------------------------------------------------------------

// startGame deals the board and opens the first turn.
func (s *Session) startGame() {
	now := s.now()
	if err := s.state.Start(now); err != nil {
		log.Printf("Game %s: Failed to start: %v", s.ID, err)
		s.logAction(uuid.Nil, "game_start_failed", map[string]interface{}{"error": err.Error()})
		s.EndGame()
		return
	}
	log.Printf("Game %s: Started with %d players.", s.ID, len(s.state.Players))
	s.logAction(uuid.Nil, "game_start", map[string]interface{}{
		"mode":      string(s.state.Rules.Mode),
		"boardSize": s.state.Rules.BoardSize,
	})

	state := s.GetCurrentObfuscatedGameState(uuid.Nil)
	s.fireEvent(GameEvent{Type: EventGameStarted, State: &state})
	s.broadcastSyncStateToAll()

	if s.state.Rules.TimeLimit > 0 {
		s.lastTick = now
		s.scheduleClock()
	}
	s.beginTurn("start")
}

// beginTurn opens a new turn for the current player.
func (s *Session) beginTurn(reason string) {
	s.turnID++
	s.scheduleNextTurnTimer()
	s.broadcastPlayerTurn(reason)
}

// scheduleNextTurnTimer (re)arms the timer for the current turn. A frozen
// player's timer starts only once the freeze wears off.
func (s *Session) scheduleNextTurnTimer() {
	if s.turnDuration <= 0 || s.state.Status != engine.StatusPlaying {
		return
	}
	d := s.turnDuration
	if frozen := s.state.Players[s.state.CurrentPlayer].FrozenUntil.Sub(s.now()); frozen > 0 {
		d += frozen
	}
	turnID := s.turnID
	s.sched.Schedule(s.timerKey("turn"), d, func() { s.enqueue(turnTimeout{turnID: turnID}) })
}

func (s *Session) scheduleClock() {
	s.sched.Schedule(s.timerKey("clock"), clockInterval, func() { s.enqueue(clockTick{}) })
}

func (s *Session) broadcastPlayerTurn(reason string) {
	idx := s.state.CurrentPlayer
	s.fireEvent(GameEvent{
		Type: EventTurnChanged,
		User: s.eventUser(idx),
		Payload: map[string]interface{}{
			"turnId": s.turnID,
			"round":  s.state.Round,
			"reason": reason,
		},
	})
}

func (s *Session) handleResolveMismatch(c resolveMismatch) error {
	if c.turnID != s.turnID {
		return nil
	}
	res, err := s.state.ResolveMismatch(s.now())
	if err != nil {
		return nil
	}
	userID := s.playerUUID(res.Player)
	s.logAction(userID, "mismatch_resolved", map[string]interface{}{
		"cards":         res.Pair,
		"eliminated":    res.Eliminated,
		"extraTurnUsed": res.ExtraTurnUsed,
	})
	if res.Finished {
		s.EndGame()
		return nil
	}
	switch {
	case res.Eliminated:
		s.beginTurn("eliminated")
	case res.ExtraTurnUsed:
		s.beginTurn("extra_turn")
	default:
		s.beginTurn("mismatch")
	}
	s.broadcastDelta()
	return nil
}

func (s *Session) handleTurnTimeout(c turnTimeout) error {
	if c.turnID != s.turnID || s.state.Status != engine.StatusPlaying {
		return nil
	}
	res, err := s.state.TimeoutTurn(s.now())
	if err != nil {
		return nil
	}
	log.Printf("Game %s: Player %s timed out.", s.ID, s.playerUUID(res.Player))
	s.logAction(s.playerUUID(res.Player), "turn_timeout", map[string]interface{}{"hidden": res.Hidden})
	s.beginTurn("timeout")
	s.broadcastDelta()
	return nil
}

func (s *Session) handleClockTick() error {
	if s.ended {
		return nil
	}
	now := s.now()
	switch s.state.Status {
	case engine.StatusPlaying:
		elapsed := now.Sub(s.lastTick)
		s.lastTick = now
		if s.state.Tick(elapsed) {
			log.Printf("Game %s: Time expired.", s.ID)
			s.EndGame()
			return nil
		}
		s.fireEvent(GameEvent{
			Type:    EventStateDelta,
			Payload: map[string]interface{}{"timeRemainingMs": s.state.TimeRemaining.Milliseconds()},
		})
	case engine.StatusPaused:
		s.lastTick = now
	default:
		return nil
	}
	s.scheduleClock()
	return nil
}

func (s *Session) handleChat(c Chat) error {
	idx := s.playerIndex(c.UserID)
	if idx == engine.NoPlayer {
		return engine.ErrNotSeated
	}
	text := strings.TrimSpace(c.Text)
	if text == "" || len(text) > maxChatLen {
		return ErrInvalidChat
	}
	msg := ChatMessage{UserID: c.UserID, Username: s.state.Players[idx].Name, Text: text, SentAt: s.now()}
	s.chat = append(s.chat, msg)
	if len(s.chat) > maxChatLog {
		s.chat = s.chat[len(s.chat)-maxChatLog:]
	}
	s.fireEvent(GameEvent{
		Type:    EventChatMessage,
		User:    &EventUser{ID: c.UserID, Username: msg.Username},
		Payload: map[string]interface{}{"text": msg.Text, "sentAt": msg.SentAt},
	})
	return nil
}

func (s *Session) handleAbort(c Abort) error {
	if s.ended {
		return nil
	}
	log.Printf("Game %s: Aborting: %s", s.ID, c.Reason)
	s.logAction(uuid.Nil, "game_abort", map[string]interface{}{"reason": c.Reason})
	s.state.Abort()
	s.EndGame()
	return nil
}

// ---------------------------------------------------------------------------
// Connection status
// ---------------------------------------------------------------------------

// HandleDisconnect marks a player as disconnected. The game is paused when
// nobody who is still playing remains connected.
func (s *Session) handleDisconnect(c Disconnect) error {
	idx := s.playerIndex(c.UserID)
	if idx == engine.NoPlayer {
		return engine.ErrNotSeated
	}
	if s.staleConn(c.UserID, c.Seq) || !s.connected[c.UserID] {
		return nil
	}
	s.connected[c.UserID] = false
	log.Printf("Game %s: Handling disconnect for player %s.", s.ID, c.UserID)
	s.logAction(c.UserID, "player_disconnect", nil)
	s.fireEvent(GameEvent{Type: EventPlayerDisconnected, User: s.eventUser(idx)})

	if s.state.Status == engine.StatusPlaying && s.countConnectedPlayers() == 0 {
		if err := s.state.Pause(); err == nil {
			s.sched.Cancel(s.timerKey("turn"))
			log.Printf("Game %s: All players disconnected. Paused.", s.ID)
			s.logAction(uuid.Nil, "game_paused", nil)
			s.broadcastDelta()
		}
	}
	return nil
}

// handleReconnect marks a player as connected and sends them the current state.
func (s *Session) handleReconnect(c Reconnect) error {
	idx := s.playerIndex(c.UserID)
	if idx == engine.NoPlayer {
		return engine.ErrNotSeated
	}
	if s.staleConn(c.UserID, c.Seq) {
		log.WithFields(log.Fields{"room": s.ID, "user": c.UserID, "seq": c.Seq}).Debug("stale reconnect ignored")
		return nil
	}
	was := s.connected[c.UserID]
	s.connected[c.UserID] = true
	if !was {
		log.Printf("Game %s: Handling reconnect for player %s.", s.ID, c.UserID)
		s.logAction(c.UserID, "player_reconnect", nil)
		s.fireEvent(GameEvent{Type: EventPlayerReconnected, User: s.eventUser(idx)})
	}

	if s.state.Status == engine.StatusPaused && !s.state.Players[idx].Left {
		if err := s.state.Resume(); err == nil {
			s.lastTick = s.now()
			log.Printf("Game %s: Resumed.", s.ID)
			s.logAction(uuid.Nil, "game_resumed", nil)
			s.scheduleNextTurnTimer()
			s.broadcastDelta()
		}
	}
	s.sendSyncState(c.UserID)
	return nil
}

// staleConn reports whether a connection change was overtaken by a later
// one, and records seq otherwise.
func (s *Session) staleConn(userID uuid.UUID, seq uint64) bool {
	if seq == 0 {
		return false
	}
	if seq < s.connSeq[userID] {
		return true
	}
	s.connSeq[userID] = seq
	return false
}

func (s *Session) handleGraceExpired(c GraceExpired) error {
	idx := s.playerIndex(c.UserID)
	if idx == engine.NoPlayer || s.connected[c.UserID] {
		return nil
	}
	switch s.state.Status {
	case engine.StatusWaiting:
		s.removeSeat(c.UserID, "disconnected")
	case engine.StatusStarting, engine.StatusPlaying, engine.StatusPaused:
		if !s.state.Players[idx].Left {
			delete(s.connected, c.UserID)
			s.markLeft(idx, "disconnected")
		}
	}
	return nil
}

// countConnectedPlayers counts connected players who have not left.
func (s *Session) countConnectedPlayers() int {
	n := 0
	for i := range s.state.Players {
		if s.state.Players[i].Left {
			continue
		}
		if s.connected[s.playerUUID(i)] {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Termination
// ---------------------------------------------------------------------------

// EndGame finalizes the game, broadcasts results, and triggers OnGameEnd.
// Runs at most once.
func (s *Session) EndGame() {
	if s.ended {
		return
	}
	s.ended = true
	if !s.state.IsOver() {
		s.state.Abort()
	}
	s.cancelTimers()
	now := s.now()

	outcome := s.state.Outcome
	winner := uuid.Nil
	if outcome.Winner != engine.NoPlayer {
		winner = s.playerUUID(outcome.Winner)
	}
	scores := make(map[string]int, len(s.state.Players))
	ranking := make([]string, 0, len(outcome.Ranking))
	for _, idx := range outcome.Ranking {
		id := s.playerUUID(idx)
		scores[id.String()] = s.state.Players[idx].Score
		ranking = append(ranking, id.String())
	}

	s.logAction(uuid.Nil, string(EventGameEnded), map[string]interface{}{
		"reason": string(outcome.Reason),
		"winner": winner,
		"scores": scores,
	})
	winnerStr := ""
	if winner != uuid.Nil {
		winnerStr = winner.String()
	}
	s.fireEvent(GameEvent{
		Type: EventGameEnded,
		Payload: map[string]interface{}{
			"completionReason":    string(outcome.Reason),
			"winner":              winnerStr,
			"scores":              scores,
			"ranking":             ranking,
			"opponentsForHistory": s.state.OpponentsForHistory,
		},
	})
	s.broadcastSyncStateToAll()

	if s.OnGameEnd != nil {
		s.OnGameEnd(Result{
			RoomID:    s.ID,
			GameID:    s.GameID,
			CreatedBy: s.CreatedBy,
			Settings:  s.Settings,
			State:     s.state.Clone(),
			StartedAt: s.state.StartedAt,
			EndedAt:   now,
		})
	}
	log.Printf("Game %s: Ended (%s). Winner: %s. Scores: %v", s.ID, outcome.Reason, winnerStr, scores)
}

func (s *Session) cancelTimers() {
	for _, kind := range []string{"turn", "reveal", "clock"} {
		s.sched.Cancel(s.timerKey(kind))
	}
}

func (s *Session) timerKey(kind string) string { return timers.Key(kind, s.ID) }

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

// fireEvent broadcasts an event to all connected players via the BroadcastFn callback.
func (s *Session) fireEvent(ev GameEvent) {
	if s.BroadcastFn != nil {
		s.BroadcastFn(ev)
	}
}

// fireEventToPlayer sends an event to a specific connected player.
func (s *Session) fireEventToPlayer(playerID uuid.UUID, ev GameEvent) {
	if s.BroadcastToPlayerFn == nil {
		log.Printf("Warning: Game %s: BroadcastToPlayerFn is nil, cannot send private event type %s to player %s.", s.ID, ev.Type, playerID)
		return
	}
	if s.connected[playerID] {
		s.BroadcastToPlayerFn(playerID, ev)
	}
}

// sendSyncState sends the current obfuscated game state to a single player.
func (s *Session) sendSyncState(playerID uuid.UUID) {
	state := s.GetCurrentObfuscatedGameState(playerID)
	s.fireEventToPlayer(playerID, GameEvent{Type: EventPrivateSyncState, State: &state})
}

// broadcastSyncStateToAll sends each connected player their own view.
func (s *Session) broadcastSyncStateToAll() {
	for i := range s.state.Players {
		id := s.playerUUID(i)
		if s.connected[id] {
			s.sendSyncState(id)
		}
	}
}

// broadcastDelta sends the public board/turn/score view to everyone.
func (s *Session) broadcastDelta() {
	state := s.GetCurrentObfuscatedGameState(uuid.Nil)
	s.fireEvent(GameEvent{Type: EventStateDelta, State: &state})
}

// suspicious reports a possible cheating signal.
func (s *Session) suspicious(userID uuid.UUID, reason, detail string) {
	log.WithFields(log.Fields{"room": s.ID, "user": userID, "reason": reason}).Warn(detail)
	s.logAction(userID, "suspicious_activity", map[string]interface{}{"reason": reason, "detail": detail})
	if s.OnSuspicious != nil {
		s.OnSuspicious(userID, reason, detail)
	}
}

// logAction sends game action details to the action log.
func (s *Session) logAction(actorID uuid.UUID, actionType string, payload map[string]interface{}) {
	s.actionIndex++
	if s.actions == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	record := cache.GameActionRecord{
		GameID:        s.GameID,
		ActionIndex:   s.actionIndex,
		ActorUserID:   actorID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     s.now().UnixMilli(),
	}
	go func(rec cache.GameActionRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.actions.PublishGameAction(ctx, rec); err != nil {
			log.Printf("Error: Game %s: Failed publishing action %d ('%s'): %v", s.ID, rec.ActionIndex, rec.ActionType, err)
		}
	}(record)
}
