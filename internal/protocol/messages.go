package protocol

import "encoding/json"

// HELLO (client -> server): binds this connection to one identity.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
	Name            string `json:"name,omitempty"`
}

// READY (server -> client): handshake accepted.
type ReadyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
}

// AvatarPose is a live position/facing inside a presence channel.
type AvatarPose struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Dir       string  `json:"dir"`
	UpdatedAt int64   `json:"updated_at"`
}

// PRESENCE_JOIN (client -> server).
type PresenceJoinMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id"`
}

// PRESENCE_STATE (server -> joining client only): full occupant snapshot.
type PresenceStateMsg struct {
	Type            string                `json:"type"`
	ProtocolVersion string                `json:"protocol_version"`
	RoomID          string                `json:"room_id"`
	Users           map[string]AvatarPose `json:"users"`
}

// PRESENCE_MOVE (client -> server). X and Y stay raw so the registry can
// coerce leniently: an unparsable field keeps the previous value instead of
// poisoning the whole update.
type PresenceMoveMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	RoomID          string          `json:"room_id"`
	X               json.RawMessage `json:"x,omitempty"`
	Y               json.RawMessage `json:"y,omitempty"`
	Dir             json.RawMessage `json:"dir,omitempty"`
}

// PRESENCE_MOVED (server -> other occupants).
type PresenceMovedMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	RoomID          string  `json:"room_id"`
	UserID          string  `json:"user_id"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Dir             string  `json:"dir"`
}

// PRESENCE_LEAVE (client -> server, optional; disconnect implies it).
type PresenceLeaveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id"`
}

// PRESENCE_LEFT (server -> remaining occupants).
type PresenceLeftMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id"`
	UserID          string `json:"user_id"`
}

// ROOM_WATCH / ROOM_UNWATCH (client -> server): subscribe to the legacy
// owner-keyed change feed for one room.
type RoomWatchMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	OwnerID         string `json:"owner_id"`
}

// ROOM_POSE (owner client -> server): legacy single-avatar pose push,
// relayed to watchers as a ROOM_UPDATE.
type RoomPoseMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Dir             string  `json:"dir"`
}

// PlacedItemWire mirrors one furniture placement on the wire.
type PlacedItemWire struct {
	InstanceID string  `json:"instance_id"`
	ItemKey    string  `json:"item_key"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Scale      float64 `json:"scale"`
}

// ROOM_UPDATE (server -> watchers): the owner's room changed. PlacedItems is
// the full current list when furniture changed; Pose is set when the owner
// pushed a legacy pose.
type RoomUpdateMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	OwnerID         string           `json:"owner_id"`
	PlacedItems     []PlacedItemWire `json:"placed_items,omitempty"`
	Pose            *AvatarPose      `json:"pose,omitempty"`
}
