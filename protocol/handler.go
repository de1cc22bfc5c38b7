// Package protocol decodes inbound envelopes and routes them by action tag.
// A malformed or failing message is answered with an error reply and never
// affects the connection or any other client.
package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"

	"slipstream-race-server/domain"
	"slipstream-race-server/registry"
	"slipstream-race-server/room"
)

// Handler dispatches inbound messages to the room manager and relays
// connection lifecycle events from the transport.
type Handler struct {
	clients *registry.Clients
	rooms   *room.Manager
}

// NewHandler creates a dispatcher over the given registries.
func NewHandler(clients *registry.Clients, rooms *room.Manager) *Handler {
	return &Handler{clients: clients, rooms: rooms}
}

// Connected registers the connection, which acknowledges it with its
// assigned id before any of its messages are handled.
func (h *Handler) Connected(conn domain.Connection) {
	h.clients.Register(conn)
}

// Disconnected runs the same membership-removal path as an explicit leave,
// then releases the connection handle.
func (h *Handler) Disconnected(id string) {
	h.rooms.Disconnect(id)
	h.clients.Unregister(id)
}

// Handle processes one inbound message. Every failure is contained to this
// message: decode errors and panics are logged and answered with an error
// reply to the sender only.
func (h *Handler) Handle(conn domain.Connection, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("message handling panic", "clientId", conn.ID(), "panic", rec)
			h.sendError(conn, "Internal error")
		}
	}()

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		h.sendError(conn, "Invalid message")
		return
	}

	switch env.Action {
	case domain.ActionChatMessage:
		h.handleChat(conn, data)
	case domain.ActionGetRooms:
		h.handleGetRooms(conn)
	case domain.ActionCreateRoom:
		h.handleCreateRoom(conn, data)
	case domain.ActionJoinRoom:
		h.handleJoinRoom(conn, data)
	case domain.ActionPlayerMoved:
		h.handleMove(conn, data)
	case domain.ActionPlayerReady:
		h.handleReady(conn, data)
	case domain.ActionStartRace:
		h.rooms.StartRace(conn.ID())
	case domain.ActionPlayerCheckpoint:
		h.handleCheckpoint(conn, data)
	case domain.ActionLeaveRoom:
		h.rooms.Leave(conn.ID())
	case domain.ActionGetRaceTime:
		h.rooms.RaceTime(conn.ID())
	case domain.ActionPlayerFinished:
		h.rooms.Finish(conn.ID())
	default:
		slog.Warn("unknown action", "clientId", conn.ID(), "action", env.Action)
		h.sendError(conn, "Unknown action")
	}
}

func (h *Handler) handleChat(conn domain.Connection, data []byte) {
	var req domain.ChatRequest
	if !h.decode(conn, data, &req) {
		return
	}
	if req.ChatMessage == "" {
		h.sendError(conn, "chatMessage is required")
		return
	}
	h.rooms.Chat(conn.ID(), req.ChatMessage)
}

func (h *Handler) handleGetRooms(conn domain.Connection) {
	h.reply(conn, domain.RoomsListMessage{
		Action: domain.ActionRoomsList,
		Rooms:  h.rooms.List(),
	})
}

func (h *Handler) handleCreateRoom(conn domain.Connection, data []byte) {
	var req domain.CreateRoomRequest
	if !h.decode(conn, data, &req) {
		return
	}
	if req.PlayerName == "" {
		h.sendError(conn, "playerName is required")
		return
	}
	h.rooms.Create(conn.ID(), req)
}

func (h *Handler) handleJoinRoom(conn domain.Connection, data []byte) {
	var req domain.JoinRoomRequest
	if !h.decode(conn, data, &req) {
		return
	}
	if req.RoomID == "" || req.PlayerName == "" {
		h.sendError(conn, "roomId and playerName are required")
		return
	}
	if err := h.rooms.Join(conn.ID(), req); err != nil {
		if errors.Is(err, room.ErrNotFound) {
			h.sendError(conn, "Room not found")
			return
		}
		slog.Warn("join failed", "clientId", conn.ID(), "error", err)
		h.sendError(conn, "Failed to join room")
	}
}

func (h *Handler) handleMove(conn domain.Connection, data []byte) {
	var req domain.MoveRequest
	if !h.decode(conn, data, &req) {
		return
	}
	if len(req.Position) == 0 {
		h.sendError(conn, "position is required")
		return
	}
	h.rooms.Move(conn.ID(), req)
}

func (h *Handler) handleReady(conn domain.Connection, data []byte) {
	var req domain.ReadyRequest
	if !h.decode(conn, data, &req) {
		return
	}
	h.rooms.SetReady(conn.ID(), req.IsReady)
}

// handleCheckpoint relays the payload untouched apart from stamping the
// sender's id, the same way the sync relay treats opaque client events.
func (h *Handler) handleCheckpoint(conn domain.Connection, data []byte) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(conn, "Invalid message")
		return
	}
	payload["playerId"] = conn.ID()
	out, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("marshal checkpoint", "clientId", conn.ID(), "error", err)
		return
	}
	h.rooms.Relay(conn.ID(), out)
}

func (h *Handler) decode(conn domain.Connection, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("invalid payload", "clientId", conn.ID(), "error", err)
		h.sendError(conn, "Invalid message")
		return false
	}
	return true
}

func (h *Handler) reply(conn domain.Connection, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal reply", "clientId", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(payload); err != nil {
		slog.Warn("send failed", "clientId", conn.ID(), "error", err)
	}
}

func (h *Handler) sendError(conn domain.Connection, msg string) {
	h.reply(conn, domain.ErrorMessage{Action: domain.ActionError, Error: msg})
}
