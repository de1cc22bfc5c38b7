package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slipstream-race-server/clock"
	"slipstream-race-server/domain"
	"slipstream-race-server/registry"
	"slipstream-race-server/room"
)

type mockConn struct {
	id       string
	mu       sync.Mutex
	received [][]byte
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) payloads(action string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, raw := range m.received {
		var msg map[string]any
		if json.Unmarshal(raw, &msg) == nil && msg["action"] == action {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockConn) last(action string) map[string]any {
	p := m.payloads(action)
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

func newTestHandler() (*Handler, *clock.Mock) {
	clients := registry.New()
	clk := clock.NewMock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	rooms := room.NewManager(clients, clk, 10*time.Millisecond)
	return NewHandler(clients, rooms), clk
}

func dial(h *Handler, id string) *mockConn {
	conn := &mockConn{id: id}
	h.Connected(conn)
	return conn
}

func send(t *testing.T, h *Handler, conn *mockConn, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	h.Handle(conn, data)
}

func TestConnectedAckComesFirst(t *testing.T) {
	h, _ := newTestHandler()
	conn := dial(h, "client1")

	ack := conn.last(domain.ActionConnected)
	require.NotNil(t, ack)
	assert.Equal(t, "client1", ack["playerId"])
}

func TestInvalidJSON(t *testing.T) {
	h, _ := newTestHandler()
	conn := dial(h, "client1")

	h.Handle(conn, []byte("not json"))

	reply := conn.last(domain.ActionError)
	require.NotNil(t, reply)
	assert.Equal(t, "Invalid message", reply["error"])
}

func TestUnknownAction(t *testing.T) {
	h, _ := newTestHandler()
	conn := dial(h, "client1")

	send(t, h, conn, map[string]any{"action": "teleport"})

	reply := conn.last(domain.ActionError)
	require.NotNil(t, reply)
	assert.Equal(t, "Unknown action", reply["error"])
}

func TestMalformedMessageOnlyAnswersSender(t *testing.T) {
	h, _ := newTestHandler()
	a := dial(h, "a")
	b := dial(h, "b")

	send(t, h, a, map[string]any{"action": "create_room", "playerName": "alice"})
	roomID := a.last(domain.ActionRoomCreated)["roomId"].(string)
	send(t, h, b, map[string]any{"action": "join_room", "roomId": roomID, "playerName": "bob"})

	h.Handle(b, []byte("{{{"))

	require.NotNil(t, b.last(domain.ActionError))
	assert.Nil(t, a.last(domain.ActionError), "errors never fan out")
}

func TestCreateRoomRequiresPlayerName(t *testing.T) {
	h, _ := newTestHandler()
	conn := dial(h, "client1")

	send(t, h, conn, map[string]any{"action": "create_room"})

	reply := conn.last(domain.ActionError)
	require.NotNil(t, reply)
	assert.Equal(t, "playerName is required", reply["error"])
	assert.Nil(t, conn.last(domain.ActionRoomCreated))
}

func TestJoinUnknownRoomRepliesNotFound(t *testing.T) {
	h, _ := newTestHandler()
	conn := dial(h, "client1")

	send(t, h, conn, map[string]any{"action": "join_room", "roomId": "NOSUCH", "playerName": "bob"})

	reply := conn.last(domain.ActionError)
	require.NotNil(t, reply)
	assert.Equal(t, "Room not found", reply["error"])
}

func TestGetRooms(t *testing.T) {
	h, _ := newTestHandler()
	a := dial(h, "a")
	b := dial(h, "b")

	send(t, h, b, map[string]any{"action": "get_rooms"})
	list := b.last(domain.ActionRoomsList)
	require.NotNil(t, list)
	assert.Len(t, list["rooms"], 0)

	send(t, h, a, map[string]any{"action": "create_room", "playerName": "alice"})

	send(t, h, b, map[string]any{"action": "get_rooms"})
	list = b.last(domain.ActionRoomsList)
	rooms := list["rooms"].([]any)
	require.Len(t, rooms, 1)
	entry := rooms[0].(map[string]any)
	assert.Equal(t, "a", entry["host"])
	assert.EqualValues(t, 1, entry["playerCount"])
	assert.Equal(t, false, entry["isRacing"])
}

func TestCheckpointPassThrough(t *testing.T) {
	h, _ := newTestHandler()
	a := dial(h, "a")
	b := dial(h, "b")

	send(t, h, a, map[string]any{"action": "create_room", "playerName": "alice"})
	roomID := a.last(domain.ActionRoomCreated)["roomId"].(string)
	send(t, h, b, map[string]any{"action": "join_room", "roomId": roomID, "playerName": "bob"})

	send(t, h, b, map[string]any{"action": "player_checkpoint", "checkpoint": 2, "lap": 1})

	relayed := a.last(domain.ActionPlayerCheckpoint)
	require.NotNil(t, relayed)
	assert.Equal(t, "b", relayed["playerId"])
	assert.EqualValues(t, 2, relayed["checkpoint"])
	assert.EqualValues(t, 1, relayed["lap"])
	assert.Nil(t, b.last(domain.ActionPlayerCheckpoint), "pass-through excludes the sender")
}

func TestDisconnectRunsLeavePath(t *testing.T) {
	h, _ := newTestHandler()
	a := dial(h, "a")
	b := dial(h, "b")

	send(t, h, a, map[string]any{"action": "create_room", "playerName": "alice"})
	roomID := a.last(domain.ActionRoomCreated)["roomId"].(string)
	send(t, h, b, map[string]any{"action": "join_room", "roomId": roomID, "playerName": "bob"})

	h.Disconnected("b")

	notice := a.last(domain.ActionPlayerLeft)
	require.NotNil(t, notice)
	assert.Equal(t, "b", notice["playerId"])

	// The stale client is gone from the registry too.
	send(t, h, a, map[string]any{"action": "get_rooms"})
	rooms := a.last(domain.ActionRoomsList)["rooms"].([]any)
	require.Len(t, rooms, 1)
	assert.EqualValues(t, 1, rooms[0].(map[string]any)["playerCount"])
}

// Full handshake: create, join, ready, start, finish, race_ended.
func TestRaceScenario(t *testing.T) {
	h, clk := newTestHandler()
	a := dial(h, "a")
	b := dial(h, "b")

	send(t, h, a, map[string]any{"action": "create_room", "playerName": "alice", "spriteName": "car", "isReady": true})
	created := a.last(domain.ActionRoomCreated)
	require.NotNil(t, created)
	roomID := created["roomId"].(string)
	require.Len(t, roomID, 6)

	send(t, h, b, map[string]any{"action": "join_room", "roomId": roomID, "playerName": "bob", "spriteName": "kart"})
	joined := b.last(domain.ActionRoomJoined)
	require.NotNil(t, joined)
	assert.Equal(t, false, joined["isHost"])
	require.Len(t, joined["players"].([]any), 2)

	send(t, h, b, map[string]any{"action": "player_ready", "isReady": true})
	send(t, h, a, map[string]any{"action": "start_race"})

	require.NotNil(t, a.last(domain.ActionGameStarting))
	require.NotNil(t, b.last(domain.ActionGameStarting))

	for _, c := range []*mockConn{a, b} {
		c := c
		require.Eventually(t, func() bool {
			return c.last(domain.ActionGameStarted) != nil
		}, 2*time.Second, 5*time.Millisecond)
	}

	clk.Advance(500 * time.Millisecond)
	send(t, h, a, map[string]any{"action": "player_finished"})
	finished := b.last(domain.ActionPlayerFinished)
	require.NotNil(t, finished)
	assert.EqualValues(t, 500, finished["raceTime"])

	clk.Advance(400 * time.Millisecond)
	send(t, h, b, map[string]any{"action": "player_finished"})

	ended := a.last(domain.ActionRaceEnded)
	require.NotNil(t, ended)
	times := ended["finishTimes"].([]any)
	require.Len(t, times, 2)
	assert.Equal(t, "a", times[0].(map[string]any)["playerId"])
	assert.Equal(t, "b", times[1].(map[string]any)["playerId"])
}

func TestManyClientsStayIsolated(t *testing.T) {
	h, _ := newTestHandler()

	var conns []*mockConn
	for i := 0; i < 5; i++ {
		conns = append(conns, dial(h, fmt.Sprintf("client%d", i)))
	}

	send(t, h, conns[0], map[string]any{"action": "create_room", "playerName": "p0"})
	roomID := conns[0].last(domain.ActionRoomCreated)["roomId"].(string)
	send(t, h, conns[1], map[string]any{"action": "join_room", "roomId": roomID, "playerName": "p1"})

	// A second, unrelated room.
	send(t, h, conns[2], map[string]any{"action": "create_room", "playerName": "p2"})
	send(t, h, conns[2], map[string]any{"action": "chat_message", "chatMessage": "own room"})

	assert.Nil(t, conns[0].last(domain.ActionChatMessage), "no cross-room delivery")
	assert.Nil(t, conns[1].last(domain.ActionChatMessage))
	require.NotNil(t, conns[2].last(domain.ActionChatMessage))
}
