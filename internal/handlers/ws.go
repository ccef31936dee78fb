package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	engine "github.com/jason-s-yu/memora/engine"
	"github.com/jason-s-yu/memora/internal/game"
	"github.com/jason-s-yu/memora/internal/models"
	"github.com/jason-s-yu/memora/internal/registry"
	log "github.com/sirupsen/logrus"
)

const (
	maxMessageSize = 4 << 10
	outboxSize     = 64
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	commandTimeout = 5 * time.Second
	maxCloseReason = 120
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("outbox full")
)

// clientMessage is the envelope of every message a client sends.
type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// wsConn adapts a websocket to bridge.Conn. Sends are queued so a slow
// client never blocks the session goroutine.
type wsConn struct {
	ws      *websocket.Conn
	out     chan any
	closing chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	reason    string
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsConn{
		ws:      ws,
		out:     make(chan any, outboxSize),
		closing: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Send implements bridge.Conn.
func (c *wsConn) Send(_ context.Context, v any) error {
	select {
	case <-c.closing:
		return errConnClosed
	default:
	}
	select {
	case c.out <- v:
		return nil
	default:
		_ = c.Close("too slow")
		return errSlowConsumer
	}
}

// Close implements bridge.Conn. Queued messages are flushed before the
// close frame is written.
func (c *wsConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		c.reason = reason
		close(c.closing)
	})
	return nil
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
	}()

	for {
		select {
		case v := <-c.out:
			if err := c.write(v); err != nil {
				_ = c.ws.CloseNow()
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				_ = c.ws.CloseNow()
				return
			}
		case <-c.closing:
		drain:
			for {
				select {
				case v := <-c.out:
					if c.write(v) != nil {
						_ = c.ws.CloseNow()
						return
					}
				default:
					break drain
				}
			}
			_ = c.ws.Close(websocket.StatusNormalClosure, c.reason)
			return
		}
	}
}

func (c *wsConn) write(v any) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeWait)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}

// handleWebSocket serves GET /ws/{roomID}. The socket is bound to the
// caller's seat; a caller without a seat must send join_room first.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	roomID, err := registry.ParseRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_room_id")
		return
	}
	if _, err := s.deps.Registry.Detail(roomID); err != nil {
		status, code := statusFor(err)
		writeError(w, status, code)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.deps.AllowedOrigins})
	if err != nil {
		log.WithField("room", roomID).Warnf("websocket accept: %v", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	conn := newWSConn(ws)
	go conn.writeLoop()

	logger := log.WithFields(log.Fields{"room": roomID, "player": user.ID})
	resumed := s.deps.Bridge.Attach(roomID, user.ID, conn)
	logger.WithField("resumed", resumed).Info("websocket connected")

	if left := s.readLoop(conn, roomID, user); !left {
		s.deps.Bridge.Detach(roomID, user.ID, conn)
	}
	_ = conn.Close("connection closed")
	logger.Info("websocket closed")
}

// readLoop dispatches client messages until the socket fails or the player
// leaves the room. It reports whether the player left.
func (s *Server) readLoop(conn *wsConn, roomID uuid.UUID, user models.User) bool {
	for {
		var msg clientMessage
		if err := wsjson.Read(conn.ctx, conn.ws, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				log.WithFields(log.Fields{"room": roomID, "player": user.ID}).Debugf("websocket read: %v", err)
			}
			return false
		}
		if s.dispatch(conn, roomID, user, msg) {
			return true
		}
	}
}

// dispatch applies one client message. It reports whether the player left.
func (s *Server) dispatch(conn *wsConn, roomID uuid.UUID, user models.User, msg clientMessage) bool {
	ctx, cancel := context.WithTimeout(conn.ctx, commandTimeout)
	defer cancel()
	reg := s.deps.Registry

	switch msg.Type {
	case "join_room":
		var p struct {
			Password string `json:"password"`
		}
		if err := decodePayload(msg.Payload, &p); err != nil {
			sendJoinError(conn, err)
			return false
		}
		if err := reg.Join(ctx, roomID, user, p.Password); err != nil {
			sendJoinError(conn, err)
		}
		return false

	case "leave_room":
		if err := reg.Leave(ctx, roomID, user.ID); err != nil {
			sendActionError(conn, msg.Type, err)
			return false
		}
		_ = conn.Close("left room")
		return true

	case "flip_card":
		var p struct {
			CardID *int `json:"cardId"`
		}
		if err := decodePayload(msg.Payload, &p); err != nil || p.CardID == nil {
			sendActionError(conn, msg.Type, errBadPayload("cardId is required"))
			return false
		}
		s.submit(ctx, conn, roomID, msg.Type, game.Flip{UserID: user.ID, CardID: *p.CardID})

	case "use_power_up":
		var p struct {
			PowerUp      engine.PowerUpType `json:"powerUp"`
			CardID       int                `json:"cardId"`
			SecondCardID int                `json:"secondCardId"`
			TargetID     uuid.UUID          `json:"targetId"`
		}
		if err := decodePayload(msg.Payload, &p); err != nil || p.PowerUp == "" {
			sendActionError(conn, msg.Type, errBadPayload("powerUp is required"))
			return false
		}
		s.submit(ctx, conn, roomID, msg.Type, game.UsePowerUp{
			UserID:       user.ID,
			Type:         p.PowerUp,
			CardID:       p.CardID,
			SecondCardID: p.SecondCardID,
			Target:       p.TargetID,
		})

	case "ready_toggle":
		var p struct {
			Ready *bool `json:"ready"`
		}
		if err := decodePayload(msg.Payload, &p); err != nil {
			sendActionError(conn, msg.Type, err)
			return false
		}
		ready := !s.isReady(roomID, user.ID)
		if p.Ready != nil {
			ready = *p.Ready
		}
		s.submit(ctx, conn, roomID, msg.Type, game.Ready{UserID: user.ID, Ready: ready})

	case "chat":
		var p struct {
			Text string `json:"text"`
		}
		if err := decodePayload(msg.Payload, &p); err != nil {
			sendActionError(conn, msg.Type, err)
			return false
		}
		s.submit(ctx, conn, roomID, msg.Type, game.Chat{UserID: user.ID, Text: p.Text})

	default:
		sendActionError(conn, msg.Type, fmt.Errorf("unknown message type %q", msg.Type))
	}
	return false
}

func (s *Server) submit(ctx context.Context, conn *wsConn, roomID uuid.UUID, action string, cmd game.Command) {
	if err := s.deps.Registry.Submit(ctx, roomID, cmd); err != nil {
		sendActionError(conn, action, err)
	}
}

func (s *Server) isReady(roomID, userID uuid.UUID) bool {
	sum, err := s.deps.Registry.Detail(roomID)
	if err != nil {
		return false
	}
	for _, p := range sum.Players {
		if p.ID == userID {
			return p.Ready
		}
	}
	return false
}

type errBadPayload string

func (e errBadPayload) Error() string { return "bad payload: " + string(e) }

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadPayload(err.Error())
	}
	return nil
}

func sendActionError(conn *wsConn, action string, err error) {
	_ = conn.Send(context.Background(), game.GameEvent{
		Type:    game.EventActionError,
		Payload: map[string]interface{}{"action": action, "message": err.Error()},
	})
}

func sendJoinError(conn *wsConn, err error) {
	_, code := statusFor(err)
	_ = conn.Send(context.Background(), game.GameEvent{
		Type:    game.EventJoinError,
		Payload: map[string]interface{}{"code": code, "message": err.Error()},
	})
}
