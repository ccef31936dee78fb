// Package bridge maps live connections to (room, player) seats and runs the
// disconnect grace period.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memora/internal/timers"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultGrace           = 30 * time.Second
	DefaultReconnectLimit  = 5
	DefaultReconnectWindow = time.Minute
	sendTimeout            = 5 * time.Second
)

// Conn is one client connection.
type Conn interface {
	Send(ctx context.Context, v any) error
	Close(reason string) error
}

// Handler receives connection lifecycle notifications. Calls are made
// without the bridge lock held, so they can arrive out of order; seq grows
// with every attach and detach of a seat and orders them.
type Handler interface {
	Connected(roomID, playerID uuid.UUID, resumed bool, seq uint64)
	Disconnected(roomID, playerID uuid.UUID, seq uint64)
	GraceExpired(roomID, playerID uuid.UUID)
	Suspicious(playerID uuid.UUID, reason, detail string)
}

// Config tunes a Bridge. Zero values take the defaults.
type Config struct {
	Scheduler       timers.Scheduler
	Grace           time.Duration
	ReconnectLimit  int
	ReconnectWindow time.Duration
	Now             func() time.Time
}

type seat struct {
	room, player uuid.UUID
}

// Bridge tracks at most one live connection per seat.
type Bridge struct {
	mu         sync.Mutex
	rooms      map[uuid.UUID]map[uuid.UUID]Conn
	grace      map[seat]struct{}
	reconnects map[seat][]time.Time
	seqs       map[seat]uint64

	handler Handler
	sched   timers.Scheduler
	cfg     Config
}

// New returns an empty Bridge.
func New(cfg Config) *Bridge {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.ReconnectLimit <= 0 {
		cfg.ReconnectLimit = DefaultReconnectLimit
	}
	if cfg.ReconnectWindow <= 0 {
		cfg.ReconnectWindow = DefaultReconnectWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Bridge{
		rooms:      make(map[uuid.UUID]map[uuid.UUID]Conn),
		grace:      make(map[seat]struct{}),
		reconnects: make(map[seat][]time.Time),
		seqs:       make(map[seat]uint64),
		sched:      cfg.Scheduler,
		cfg:        cfg,
	}
}

// SetHandler installs the lifecycle handler. Call before the first Attach.
func (b *Bridge) SetHandler(h Handler) { b.handler = h }

func graceKey(s seat) string { return timers.Key("grace", s.room, s.player) }

// Attach binds conn to the seat, replacing and closing any previous
// connection. resumed is true when the seat had a live connection or was
// inside its grace period.
func (b *Bridge) Attach(roomID, playerID uuid.UUID, conn Conn) (resumed bool) {
	st := seat{roomID, playerID}

	b.mu.Lock()
	conns := b.rooms[roomID]
	if conns == nil {
		conns = make(map[uuid.UUID]Conn)
		b.rooms[roomID] = conns
	}
	old := conns[playerID]
	conns[playerID] = conn
	b.seqs[st]++
	seq := b.seqs[st]

	_, inGrace := b.grace[st]
	if inGrace {
		delete(b.grace, st)
		b.sched.Cancel(graceKey(st))
	}
	resumed = inGrace || old != nil

	cycling := false
	if resumed {
		now := b.cfg.Now()
		cutoff := now.Add(-b.cfg.ReconnectWindow)
		recent := b.reconnects[st][:0]
		for _, t := range b.reconnects[st] {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		recent = append(recent, now)
		b.reconnects[st] = recent
		cycling = len(recent) >= b.cfg.ReconnectLimit
	}
	b.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Close("replaced by a newer connection")
	}
	log.WithFields(log.Fields{"room": roomID, "player": playerID, "resumed": resumed}).Debug("connection attached")

	if b.handler != nil {
		b.handler.Connected(roomID, playerID, resumed, seq)
		if cycling {
			b.handler.Suspicious(playerID, "rapid_reconnect",
				fmt.Sprintf("%d reconnects to room %s within %s", b.cfg.ReconnectLimit, roomID, b.cfg.ReconnectWindow))
		}
	}
	return resumed
}

// Detach removes conn from its seat and starts the grace period. A conn
// that was already replaced is ignored.
func (b *Bridge) Detach(roomID, playerID uuid.UUID, conn Conn) {
	st := seat{roomID, playerID}

	b.mu.Lock()
	conns := b.rooms[roomID]
	if conns == nil || conns[playerID] != conn {
		b.mu.Unlock()
		return
	}
	delete(conns, playerID)
	b.seqs[st]++
	seq := b.seqs[st]
	b.grace[st] = struct{}{}
	b.sched.Schedule(graceKey(st), b.cfg.Grace, func() { b.expire(st) })
	b.mu.Unlock()

	log.Printf("Bridge: player %s disconnected from room %s; grace %s.", playerID, roomID, b.cfg.Grace)
	if b.handler != nil {
		b.handler.Disconnected(roomID, playerID, seq)
	}
}

// expire runs when the grace timer fires.
func (b *Bridge) expire(st seat) {
	b.mu.Lock()
	_, pending := b.grace[st]
	_, live := b.rooms[st.room][st.player]
	if !pending || live {
		b.mu.Unlock()
		return
	}
	delete(b.grace, st)
	b.mu.Unlock()

	log.Printf("Bridge: grace expired for player %s in room %s.", st.player, st.room)
	if b.handler != nil {
		b.handler.GraceExpired(st.room, st.player)
	}
}

// Release forgets the seat without a grace period, e.g. after an explicit leave.
func (b *Bridge) Release(roomID, playerID uuid.UUID) {
	st := seat{roomID, playerID}
	b.mu.Lock()
	if conns := b.rooms[roomID]; conns != nil {
		delete(conns, playerID)
	}
	if _, ok := b.grace[st]; ok {
		delete(b.grace, st)
		b.sched.Cancel(graceKey(st))
	}
	delete(b.reconnects, st)
	b.mu.Unlock()
}

// DropRoom closes every connection of the room and cancels its grace timers.
func (b *Bridge) DropRoom(roomID uuid.UUID) {
	b.mu.Lock()
	conns := b.rooms[roomID]
	delete(b.rooms, roomID)
	for st := range b.grace {
		if st.room == roomID {
			delete(b.grace, st)
			b.sched.Cancel(graceKey(st))
		}
	}
	for st := range b.reconnects {
		if st.room == roomID {
			delete(b.reconnects, st)
		}
	}
	for st := range b.seqs {
		if st.room == roomID {
			delete(b.seqs, st)
		}
	}
	b.mu.Unlock()

	for _, c := range conns {
		_ = c.Close("room closed")
	}
}

// Connected reports whether the seat has a live connection.
func (b *Bridge) Connected(roomID, playerID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rooms[roomID][playerID]
	return ok
}

// InGrace reports whether the seat is inside its disconnect grace period.
func (b *Bridge) InGrace(roomID, playerID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.grace[seat{roomID, playerID}]
	return ok
}

// Send delivers v to one seat if it is connected.
func (b *Bridge) Send(roomID, playerID uuid.UUID, v any) {
	b.mu.Lock()
	conn := b.rooms[roomID][playerID]
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.deliver(roomID, playerID, conn, v)
}

// Broadcast delivers v to every live connection of the room.
func (b *Bridge) Broadcast(roomID uuid.UUID, v any) {
	b.mu.Lock()
	targets := make(map[uuid.UUID]Conn, len(b.rooms[roomID]))
	for id, c := range b.rooms[roomID] {
		targets[id] = c
	}
	b.mu.Unlock()

	for id, c := range targets {
		b.deliver(roomID, id, c, v)
	}
}

func (b *Bridge) deliver(roomID, playerID uuid.UUID, conn Conn, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, v); err != nil {
		log.Printf("Bridge: failed sending to player %s in room %s: %v", playerID, roomID, err)
	}
}
