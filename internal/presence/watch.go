package presence

import (
	"sync"

	"beaverden.app/internal/protocol"
)

// WatchHub is the legacy owner-keyed room change feed: any number of
// connections may watch an owner's room and receive ROOM_UPDATE payloads when
// its furniture changes or the owner pushes a legacy pose. It is independent
// of the presence channels and carries no ordering guarantee relative to
// them.
type WatchHub struct {
	mu       sync.Mutex
	watchers map[string]map[string]chan<- []byte // ownerID -> connID -> outbox
}

func NewWatchHub() *WatchHub {
	return &WatchHub{watchers: make(map[string]map[string]chan<- []byte)}
}

func (h *WatchHub) Watch(ownerID, connID string, out chan<- []byte) {
	if ownerID == "" || connID == "" || out == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.watchers[ownerID]
	if m == nil {
		m = make(map[string]chan<- []byte)
		h.watchers[ownerID] = m
	}
	m[connID] = out
}

func (h *WatchHub) Unwatch(ownerID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.watchers[ownerID]
	if m == nil {
		return
	}
	delete(m, connID)
	if len(m) == 0 {
		delete(h.watchers, ownerID)
	}
}

// DropConn removes connID from every owner feed it watches.
func (h *WatchHub) DropConn(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ownerID, m := range h.watchers {
		delete(m, connID)
		if len(m) == 0 {
			delete(h.watchers, ownerID)
		}
	}
}

// BroadcastUpdate fans a ROOM_UPDATE out to everyone watching ownerID. The
// exceptConnID slot skips the connection that caused the update (empty means
// send to all).
func (h *WatchHub) BroadcastUpdate(ownerID, exceptConnID string, msg protocol.RoomUpdateMsg) {
	msg.Type = protocol.TypeRoomUpdate
	msg.ProtocolVersion = protocol.Version
	msg.OwnerID = ownerID
	b := marshal(msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	for connID, out := range h.watchers[ownerID] {
		if connID == exceptConnID {
			continue
		}
		send(out, b)
	}
}

// WatcherCount reports how many connections watch ownerID.
func (h *WatchHub) WatcherCount(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[ownerID])
}
