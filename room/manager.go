package room

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"slipstream-race-server/clock"
	"slipstream-race-server/domain"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultStartDelay is the countdown between game_starting and the
	// committed race start.
	DefaultStartDelay = 3 * time.Second
)

// ErrNotFound is returned when an operation references an unknown room.
var ErrNotFound = errors.New("room not found")

// Directory resolves client IDs to live connections. Players hold IDs, not
// handles; the connection registry stays the owner.
type Directory interface {
	Lookup(id string) (domain.Connection, bool)
}

// Manager owns all rooms and routes client operations to them. The manager
// mutex guards only the room and client-to-room maps; each room serializes
// its own state under its own mutex.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	byClient map[string]string

	clients    Directory
	clk        clock.Clock
	startDelay time.Duration
}

// NewManager creates a room manager. startDelay is the race-start countdown;
// tests pass a short delay, main passes DefaultStartDelay.
func NewManager(clients Directory, clk clock.Clock, startDelay time.Duration) *Manager {
	return &Manager{
		rooms:      make(map[string]*Room),
		byClient:   make(map[string]string),
		clients:    clients,
		clk:        clk,
		startDelay: startDelay,
	}
}

// Create opens a new room with the client as host and sole member, and
// acknowledges it with room_created. A client already in a room leaves it
// first.
func (m *Manager) Create(clientID string, req domain.CreateRoomRequest) {
	m.remove(clientID, true)

	p := &domain.Player{
		ID:           clientID,
		Name:         req.PlayerName,
		SocketEffect: req.SocketEffectName,
		TrailEffect:  req.TrailEffectName,
		Sprite:       req.SpriteName,
		Ready:        req.IsReady,
	}

	m.mu.Lock()
	var id string
	for {
		id = generateCode()
		if _, exists := m.rooms[id]; !exists {
			break
		}
	}
	r := newRoom(id)
	r.hostID = clientID
	m.rooms[id] = r
	m.byClient[clientID] = id
	m.mu.Unlock()

	r.mu.Lock()
	r.addPlayer(p)
	roster := r.roster()
	r.mu.Unlock()

	m.sendTo(clientID, domain.RoomCreatedMessage{
		Action:           domain.ActionRoomCreated,
		PlayerName:       p.Name,
		RoomID:           id,
		SpriteName:       p.Sprite,
		TrailEffectName:  p.TrailEffect,
		SocketEffectName: p.SocketEffect,
		Players:          roster,
		PlayerID:         clientID,
		IsHost:           true,
	})

	slog.Info("room created", "roomId", id, "hostId", clientID)
}

// Join adds the client to an existing room. Joining mid-race is permitted.
// Returns ErrNotFound if the room id is unknown.
func (m *Manager) Join(clientID string, req domain.JoinRoomRequest) error {
	m.remove(clientID, true)

	m.mu.RLock()
	r := m.rooms[req.RoomID]
	m.mu.RUnlock()
	if r == nil {
		return ErrNotFound
	}

	p := &domain.Player{
		ID:           clientID,
		Name:         req.PlayerName,
		SocketEffect: req.SocketEffectName,
		TrailEffect:  req.TrailEffectName,
		Sprite:       req.SpriteName,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.addPlayer(p)
	roster := r.roster()
	m.broadcastLocked(r, domain.PlayerJoinedMessage{
		Action:     domain.ActionPlayerJoined,
		PlayerName: p.Name,
		Players:    roster,
		PlayerID:   clientID,
	}, clientID)
	r.mu.Unlock()

	m.mu.Lock()
	m.byClient[clientID] = r.id
	m.mu.Unlock()

	m.sendTo(clientID, domain.RoomJoinedMessage{
		Action:   domain.ActionRoomJoined,
		RoomID:   r.id,
		PlayerID: clientID,
		IsHost:   false,
		Players:  roster,
	})

	slog.Info("player joined", "roomId", r.id, "clientId", clientID)
	return nil
}

// Leave removes the client from its room after an explicit leave_room.
func (m *Manager) Leave(clientID string) {
	m.remove(clientID, true)
}

// Disconnect removes the client from its room when its connection closes.
// It shares the leave path; only the departure notice differs.
func (m *Manager) Disconnect(clientID string) {
	m.remove(clientID, false)
}

// SetReady updates the client's ready flag and broadcasts the roster.
// Permitted in any race state.
func (m *Manager) SetReady(clientID string, ready bool) {
	r := m.roomOf(clientID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[clientID]
	if !ok {
		return
	}
	p.Ready = ready
	m.broadcastLocked(r, domain.PlayerReadyMessage{
		Action:  domain.ActionPlayerReady,
		Players: r.roster(),
	}, "")
}

// StartRace begins the countdown when called by the host with every member
// ready. Anything else is a silent no-op. The commit is scheduled by room id
// and re-validated against the registry when the timer fires.
func (m *Manager) StartRace(clientID string) {
	r := m.roomOf(clientID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hostID != clientID || r.racing || r.countdownPending || !r.allReady() {
		return
	}

	r.countdownPending = true
	m.broadcastLocked(r, domain.GameStartingMessage{
		Action:  domain.ActionGameStarting,
		Players: r.roster(),
	}, "")

	roomID := r.id
	r.countdown = time.AfterFunc(m.startDelay, func() {
		m.commitStart(roomID)
	})

	slog.Info("race countdown started", "roomId", roomID)
}

// commitStart fires when the countdown elapses. The room is re-fetched so a
// commit never acts on a deleted or reset room.
func (m *Manager) commitStart(roomID string) {
	m.mu.RLock()
	r := m.rooms[roomID]
	m.mu.RUnlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.countdownPending {
		return
	}

	r.countdownPending = false
	r.countdown = nil
	r.racing = true
	r.raceStarted = true
	r.raceStart = m.clk.Now()
	r.finishOrder = nil
	r.finished = make(map[string]struct{})

	m.broadcastLocked(r, domain.GameStartedMessage{
		Action:  domain.ActionGameStarted,
		Players: r.roster(),
	}, "")

	slog.Info("race started", "roomId", roomID)
}

// Move records the client's reported pose and relays it to every other
// member. The server never validates movement, in any race state.
func (m *Manager) Move(clientID string, req domain.MoveRequest) {
	r := m.roomOf(clientID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[clientID]
	if !ok {
		return
	}
	p.Position = req.Position
	p.Rotation = req.Rotation
	m.broadcastLocked(r, domain.PlayerMovedMessage{
		Action:   domain.ActionPlayerMoved,
		PlayerID: clientID,
		Position: req.Position,
		Rotation: req.Rotation,
	}, clientID)
}

// Finish records the client's race completion. Only the first report per
// member per race counts; duplicates are ignored entirely. When the last
// member finishes, the room returns to the open state and a race_ended
// summary goes out once, ordered by ascending finish time.
func (m *Manager) Finish(clientID string) {
	r := m.roomOf(clientID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.racing {
		return
	}
	if _, ok := r.players[clientID]; !ok {
		return
	}
	if _, dup := r.finished[clientID]; dup {
		return
	}

	elapsed := m.clk.Now().Sub(r.raceStart).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	r.finished[clientID] = struct{}{}
	r.finishOrder = append(r.finishOrder, domain.FinishEntry{PlayerID: clientID, Time: elapsed})

	m.broadcastLocked(r, domain.PlayerFinishedMessage{
		Action:      domain.ActionPlayerFinished,
		PlayerID:    clientID,
		RaceTime:    elapsed,
		FinishTimes: r.finishEntries(),
	}, "")

	slog.Info("player finished", "roomId", r.id, "clientId", clientID, "raceTime", elapsed)

	if r.allFinished() {
		m.endRaceLocked(r)
	}
}

// RaceTime replies to the requester with the elapsed race time. Before any
// committed start there is nothing to report and the request is dropped.
func (m *Manager) RaceTime(clientID string) {
	r := m.roomOf(clientID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.raceStarted {
		return
	}

	elapsed := m.clk.Now().Sub(r.raceStart).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	m.sendTo(clientID, domain.RaceTimeMessage{
		Action:      domain.ActionRaceTime,
		CurrentTime: elapsed,
		FinishTimes: r.finishPairs(),
	})
}

// Chat fans a chat line out to every member of the sender's room, sender
// included. Clients not in a room are silently ignored.
func (m *Manager) Chat(clientID, text string) {
	r := m.roomOf(clientID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[clientID]
	if !ok {
		return
	}
	m.broadcastLocked(r, domain.ChatMessage{
		Action:      domain.ActionChatMessage,
		PlayerID:    clientID,
		SenderName:  p.Name,
		ChatMessage: text,
	}, "")
}

// Relay fans a pre-encoded payload out to the sender's room, excluding the
// sender. Used for pass-through actions the server does not interpret.
func (m *Manager) Relay(clientID string, payload []byte) {
	r := m.roomOf(clientID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[clientID]; !ok {
		return
	}
	m.fanOutLocked(r, payload, clientID)
}

// List returns summaries of all live rooms for lobby browsing.
func (m *Manager) List() []domain.RoomSummary {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	summaries := make([]domain.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed {
			summaries = append(summaries, r.summary())
		}
		r.mu.Unlock()
	}
	return summaries
}

// Count reports the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// remove takes the client out of its room, deleting the room when it empties.
// Deletion happens synchronously on this path; no orphaned rooms.
func (m *Manager) remove(clientID string, explicit bool) {
	m.mu.Lock()
	roomID, ok := m.byClient[clientID]
	if ok {
		delete(m.byClient, clientID)
	}
	r := m.rooms[roomID]
	m.mu.Unlock()
	if !ok || r == nil {
		return
	}

	r.mu.Lock()
	wasHost := r.hostID == clientID
	r.removePlayer(clientID)

	if len(r.players) == 0 {
		r.closed = true
		r.cancelCountdown()
		r.mu.Unlock()
		m.deleteRoom(roomID, r)
		slog.Info("room removed", "roomId", roomID)
		return
	}

	// A host departure during the countdown cancels the pending start.
	if wasHost && r.countdownPending {
		r.cancelCountdown()
	}

	if explicit {
		m.broadcastLocked(r, domain.PlayerLeaveMessage{
			Action:   domain.ActionPlayerLeave,
			PlayerID: clientID,
			Players:  r.roster(),
		}, "")
	} else {
		m.broadcastLocked(r, domain.PlayerLeftMessage{
			Action:   domain.ActionPlayerLeft,
			PlayerID: clientID,
		}, "")
	}

	// The departure may leave only finished members behind.
	if r.racing && r.allFinished() {
		m.endRaceLocked(r)
	}
	r.mu.Unlock()

	slog.Info("player left", "roomId", roomID, "clientId", clientID, "explicit", explicit)
}

// endRaceLocked closes the race window and broadcasts the summary. Caller
// holds the room mutex.
func (m *Manager) endRaceLocked(r *Room) {
	r.racing = false
	r.cancelCountdown()
	m.broadcastLocked(r, domain.RaceEndedMessage{
		Action:      domain.ActionRaceEnded,
		FinishTimes: r.finishEntries(),
	}, "")
	slog.Info("race ended", "roomId", r.id, "finishers", len(r.finishOrder))
}

// deleteRoom removes the room from the registry if it is still the one
// registered under that id.
func (m *Manager) deleteRoom(roomID string, r *Room) {
	m.mu.Lock()
	if current, ok := m.rooms[roomID]; ok && current == r {
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()
}

// roomOf resolves the client's current room, or nil.
func (m *Manager) roomOf(clientID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byClient[clientID]
	if !ok {
		return nil
	}
	return m.rooms[id]
}

// broadcastLocked encodes v and fans it out to the room. Caller holds the
// room mutex.
func (m *Manager) broadcastLocked(r *Room, v any, excludeID string) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal broadcast", "roomId", r.id, "error", err)
		return
	}
	m.fanOutLocked(r, payload, excludeID)
}

// fanOutLocked delivers payload to every member except excludeID. A failed
// send to one member never blocks delivery to the rest. Caller holds the
// room mutex.
func (m *Manager) fanOutLocked(r *Room, payload []byte, excludeID string) {
	for _, id := range r.order {
		if id == excludeID {
			continue
		}
		conn, ok := m.clients.Lookup(id)
		if !ok {
			continue
		}
		if err := conn.Send(payload); err != nil {
			slog.Warn("send failed", "roomId", r.id, "clientId", id, "error", err)
		}
	}
}

// sendTo encodes v and sends it to a single client.
func (m *Manager) sendTo(clientID string, v any) {
	conn, ok := m.clients.Lookup(clientID)
	if !ok {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal reply", "clientId", clientID, "error", err)
		return
	}
	if err := conn.Send(payload); err != nil {
		slog.Warn("send failed", "clientId", clientID, "error", err)
	}
}

func generateCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}
