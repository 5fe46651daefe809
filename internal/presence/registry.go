// Package presence holds the in-memory, single-process registry of who is
// currently viewing which room, and fans avatar pose updates out to the other
// occupants. Nothing here is ever persisted: a channel exists only while it
// has occupants.
package presence

import (
	"encoding/json"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"beaverden.app/internal/protocol"
)

// EventSink receives one record per join/move/leave for offline inspection.
type EventSink interface {
	Write(v any) error
}

// Event is what the registry hands to its sink.
type Event struct {
	At     int64   `json:"at"`
	Kind   string  `json:"kind"` // "join","move","leave"
	RoomID string  `json:"room_id"`
	UserID string  `json:"user_id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Dir    string  `json:"dir"`
}

// Spawn is the default pose a user gets on first join.
type Spawn struct {
	X   float64
	Y   float64
	Dir string
}

type channel struct {
	users map[string]protocol.AvatarPose
	subs  map[string]chan<- []byte // userID -> connection outbox
}

// Registry is the presence service. One instance per process, created at
// startup and injected into the transport; all state changes go through its
// methods. Last write wins between concurrent movers; there is no cross-user
// ordering guarantee.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*channel

	spawn Spawn
	log   *log.Logger
	sink  EventSink

	now func() time.Time
}

func NewRegistry(spawn Spawn, logger *log.Logger, sink EventSink) *Registry {
	return &Registry{
		channels: make(map[string]*channel),
		spawn:    spawn,
		log:      logger,
		sink:     sink,
		now:      time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (r *Registry) SetNow(now func() time.Time) { r.now = now }

// Join adds userID to roomID's channel, creating both the channel and a
// default spawn pose as needed. The full snapshot goes to out alone; the
// joiner's pose is broadcast to everyone else so they learn a peer arrived.
func (r *Registry) Join(roomID, userID string, out chan<- []byte) {
	if roomID == "" || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channels[roomID]
	if ch == nil {
		ch = &channel{
			users: make(map[string]protocol.AvatarPose),
			subs:  make(map[string]chan<- []byte),
		}
		r.channels[roomID] = ch
	}
	if out != nil {
		ch.subs[userID] = out
	}

	pose, ok := ch.users[userID]
	if !ok {
		pose = protocol.AvatarPose{
			X:         r.spawn.X,
			Y:         r.spawn.Y,
			Dir:       r.spawn.Dir,
			UpdatedAt: r.nowMillis(),
		}
		ch.users[userID] = pose
	}

	snapshot := protocol.PresenceStateMsg{
		Type:            protocol.TypePresenceState,
		ProtocolVersion: protocol.Version,
		RoomID:          roomID,
		Users:           cloneUsers(ch.users),
	}
	if out != nil {
		send(out, marshal(snapshot))
	}

	r.broadcastLocked(ch, userID, marshal(protocol.PresenceMovedMsg{
		Type:            protocol.TypePresenceMoved,
		ProtocolVersion: protocol.Version,
		RoomID:          roomID,
		UserID:          userID,
		X:               pose.X,
		Y:               pose.Y,
		Dir:             pose.Dir,
	}))

	r.record("join", roomID, userID, pose)
}

// Move updates userID's pose in roomID and broadcasts it to the other
// occupants; the sender never sees its own echo. Raw fields are coerced
// leniently: anything unparsable keeps the previous value. A move arriving
// before a join creates the occupant at spawn first.
func (r *Registry) Move(roomID, userID string, x, y, dir json.RawMessage) {
	if roomID == "" || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channels[roomID]
	if ch == nil {
		ch = &channel{
			users: make(map[string]protocol.AvatarPose),
			subs:  make(map[string]chan<- []byte),
		}
		r.channels[roomID] = ch
	}
	pose, ok := ch.users[userID]
	if !ok {
		pose = protocol.AvatarPose{X: r.spawn.X, Y: r.spawn.Y, Dir: r.spawn.Dir}
	}

	if v, ok := coerceFloat(x); ok {
		pose.X = v
	}
	if v, ok := coerceFloat(y); ok {
		pose.Y = v
	}
	if v, ok := coerceString(dir); ok {
		pose.Dir = v
	}
	pose.UpdatedAt = r.nowMillis()
	ch.users[userID] = pose

	r.broadcastLocked(ch, userID, marshal(protocol.PresenceMovedMsg{
		Type:            protocol.TypePresenceMoved,
		ProtocolVersion: protocol.Version,
		RoomID:          roomID,
		UserID:          userID,
		X:               pose.X,
		Y:               pose.Y,
		Dir:             pose.Dir,
	}))

	r.record("move", roomID, userID, pose)
}

// Leave removes userID from roomID, tells the remaining occupants, and
// discards the channel when it empties. Safe to call for users that never
// joined.
func (r *Registry) Leave(roomID, userID string) {
	if roomID == "" || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomID, userID)
}

// LeaveIfOutbox leaves only while out is still the registered outbox for
// userID in roomID. A kicked connection tears down with this so it cannot
// evict the session that replaced it.
func (r *Registry) LeaveIfOutbox(roomID, userID string, out chan<- []byte) {
	if roomID == "" || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channels[roomID]
	if ch == nil || ch.subs[userID] != out {
		return
	}
	r.leaveLocked(roomID, userID)
}

func (r *Registry) leaveLocked(roomID, userID string) {
	ch := r.channels[roomID]
	if ch == nil {
		return
	}
	pose, ok := ch.users[userID]
	if !ok {
		return
	}
	delete(ch.users, userID)
	delete(ch.subs, userID)

	r.broadcastLocked(ch, userID, marshal(protocol.PresenceLeftMsg{
		Type:            protocol.TypePresenceLeft,
		ProtocolVersion: protocol.Version,
		RoomID:          roomID,
		UserID:          userID,
	}))

	if len(ch.users) == 0 {
		delete(r.channels, roomID)
	}

	r.record("leave", roomID, userID, pose)
}

// Occupants returns a copy of the current pose map, or nil if the channel
// does not exist.
func (r *Registry) Occupants(roomID string) map[string]protocol.AvatarPose {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.channels[roomID]
	if ch == nil {
		return nil
	}
	return cloneUsers(ch.users)
}

// ChannelCount reports how many channels currently exist.
func (r *Registry) ChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *Registry) broadcastLocked(ch *channel, exceptUserID string, b []byte) {
	for uid, out := range ch.subs {
		if uid == exceptUserID {
			continue
		}
		send(out, b)
	}
}

func (r *Registry) record(kind, roomID, userID string, pose protocol.AvatarPose) {
	if r.sink == nil {
		return
	}
	err := r.sink.Write(Event{
		At:     pose.UpdatedAt,
		Kind:   kind,
		RoomID: roomID,
		UserID: userID,
		X:      pose.X,
		Y:      pose.Y,
		Dir:    pose.Dir,
	})
	if err != nil && r.log != nil {
		r.log.Printf("presence: event sink: %v", err)
	}
}

func (r *Registry) nowMillis() int64 { return r.now().UnixMilli() }

// send never blocks: a slow consumer drops updates and catches up on the
// next one. Presence has no acknowledgement or retry.
func send(out chan<- []byte, b []byte) {
	select {
	case out <- b:
	default:
	}
}

func cloneUsers(in map[string]protocol.AvatarPose) map[string]protocol.AvatarPose {
	out := make(map[string]protocol.AvatarPose, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func marshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func coerceFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		// ParseFloat accepts "NaN" and "Inf" spellings; a non-finite pose
		// would poison every later snapshot marshal, so treat them as
		// unparsable and keep the previous value.
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

func coerceString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
