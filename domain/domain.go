package domain

import "encoding/json"

// Connection is a live client transport handle. Implementations must tolerate
// concurrent Send calls; a Send failure is reported but never fatal.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// MessageHandler processes one inbound message from a connection.
type MessageHandler interface {
	Handle(conn Connection, data []byte)
}

// Presence receives connection lifecycle events from the transport layer.
// Connected fires before any message from the connection is handled;
// Disconnected fires exactly once when the transport detects closure.
type Presence interface {
	Connected(conn Connection)
	Disconnected(id string)
}

// Player is a room membership record. It references its connection by ID
// only; the connection registry owns the handle itself.
type Player struct {
	ID           string
	Name         string
	SocketEffect string
	TrailEffect  string
	Sprite       string
	Ready        bool

	// Last reported pose, relayed verbatim. Nil until the first player_moved.
	Position json.RawMessage
	Rotation json.RawMessage
}

// RosterEntry returns the player's wire representation for roster payloads.
func (p *Player) RosterEntry() RosterEntry {
	return RosterEntry{
		ID:               p.ID,
		Name:             p.Name,
		IsReady:          p.Ready,
		SocketEffectName: p.SocketEffect,
		TrailEffectName:  p.TrailEffect,
		SpriteName:       p.Sprite,
	}
}
