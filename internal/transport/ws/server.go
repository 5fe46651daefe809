// Package ws is the persistent-connection transport: one websocket per
// viewer, bound to exactly one identity by the HELLO handshake, carrying both
// presence traffic and the legacy owner-keyed room watch feed.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"beaverden.app/internal/presence"
	"beaverden.app/internal/protocol"
)

type Server struct {
	registry *presence.Registry
	hub      *presence.WatchHub
	log      *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	// One live connection per identity; a newer HELLO for the same user
	// force-kicks the older connection.
	mu    sync.Mutex
	conns map[string]*conn
}

type conn struct {
	id     string
	userID string
	out    chan []byte
	sock   *websocket.Conn
	cancel context.CancelFunc

	// The single presence channel this connection joined, if any.
	presenceRoomID string
}

func NewServer(registry *presence.Registry, hub *presence.WatchHub, logger *log.Logger) *Server {
	return &Server{
		registry: registry,
		hub:      hub,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		conns: make(map[string]*conn),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wc, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer wc.Close()

		c := s.handshake(wc)
		if c == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		defer cancel()

		s.register(c)
		defer s.cleanup(c)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-c.out:
					if !ok {
						return
					}
					_ = wc.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := wc.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = wc.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := wc.ReadMessage()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.route(c, msg)
		}
	}
}

func (s *Server) handshake(wc *websocket.Conn) *conn {
	_ = wc.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := wc.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = wc.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = wc.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.UserID == "" {
		_ = wc.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "missing user_id"), time.Now().Add(time.Second))
		return nil
	}

	c := &conn{
		id:     fmt.Sprintf("C%d", s.nextID.Add(1)),
		userID: hello.UserID,
		out:    make(chan []byte, 64),
		sock:   wc,
	}

	ready, _ := json.Marshal(protocol.ReadyMsg{
		Type:            protocol.TypeReady,
		ProtocolVersion: protocol.Version,
		UserID:          hello.UserID,
	})
	_ = wc.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := wc.WriteMessage(websocket.TextMessage, ready); err != nil {
		return nil
	}
	return c
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	old := s.conns[c.userID]
	s.conns[c.userID] = c
	s.mu.Unlock()

	if old != nil {
		if s.log != nil {
			s.log.Printf("ws: %s reconnected, kicking %s", c.userID, old.id)
		}
		if old.cancel != nil {
			old.cancel()
		}
		// Close the socket so the kicked handler unblocks and tears down now
		// rather than on its next read deadline.
		if old.sock != nil {
			_ = old.sock.Close()
		}
	}
}

func (s *Server) cleanup(c *conn) {
	if c.presenceRoomID != "" {
		// Scoped to this connection's outbox: a kicked connection tearing
		// down after a reconnect must not evict the live session.
		s.registry.LeaveIfOutbox(c.presenceRoomID, c.userID, c.out)
	}
	s.hub.DropConn(c.id)

	s.mu.Lock()
	if s.conns[c.userID] == c {
		delete(s.conns, c.userID)
	}
	s.mu.Unlock()
}

func (s *Server) route(c *conn, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypePresenceJoin:
		var m protocol.PresenceJoinMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.RoomID == "" {
			return
		}
		if c.presenceRoomID != "" && c.presenceRoomID != m.RoomID {
			s.registry.Leave(c.presenceRoomID, c.userID)
		}
		c.presenceRoomID = m.RoomID
		s.registry.Join(m.RoomID, c.userID, c.out)

	case protocol.TypePresenceMove:
		var m protocol.PresenceMoveMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.RoomID == "" {
			return
		}
		s.registry.Move(m.RoomID, c.userID, m.X, m.Y, m.Dir)

	case protocol.TypePresenceLeave:
		var m protocol.PresenceLeaveMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.RoomID == "" {
			return
		}
		s.registry.Leave(m.RoomID, c.userID)
		if c.presenceRoomID == m.RoomID {
			c.presenceRoomID = ""
		}

	case protocol.TypeRoomWatch:
		var m protocol.RoomWatchMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.OwnerID == "" {
			return
		}
		s.hub.Watch(m.OwnerID, c.id, c.out)

	case protocol.TypeRoomUnwatch:
		var m protocol.RoomWatchMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.OwnerID == "" {
			return
		}
		s.hub.Unwatch(m.OwnerID, c.id)

	case protocol.TypeRoomPose:
		// Legacy single-avatar broadcast: the sender's own room key, relayed
		// to its watchers.
		var m protocol.RoomPoseMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		s.hub.BroadcastUpdate(c.userID, c.id, protocol.RoomUpdateMsg{
			Pose: &protocol.AvatarPose{X: m.X, Y: m.Y, Dir: m.Dir, UpdatedAt: time.Now().UnixMilli()},
		})
	}
}
