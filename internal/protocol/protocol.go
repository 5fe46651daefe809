package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello = "HELLO"
	TypeReady = "READY"

	TypePresenceJoin  = "PRESENCE_JOIN"
	TypePresenceState = "PRESENCE_STATE"
	TypePresenceMove  = "PRESENCE_MOVE"
	TypePresenceMoved = "PRESENCE_MOVED"
	TypePresenceLeave = "PRESENCE_LEAVE"
	TypePresenceLeft  = "PRESENCE_LEFT"

	// Legacy owner-keyed room channel. Furniture mutations and owner pose
	// pushes fan out here, independent of the presence channel.
	TypeRoomWatch   = "ROOM_WATCH"
	TypeRoomUnwatch = "ROOM_UNWATCH"
	TypeRoomPose    = "ROOM_POSE"
	TypeRoomUpdate  = "ROOM_UPDATE"
)

// Facing directions carried in poses.
const (
	DirUp    = "up"
	DirDown  = "down"
	DirLeft  = "left"
	DirRight = "right"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsDir(s string) bool {
	switch s {
	case DirUp, DirDown, DirLeft, DirRight:
		return true
	}
	return false
}
