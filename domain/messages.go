package domain

import "encoding/json"

// Inbound action tags. Every envelope carries an "action" field from this set;
// anything else is answered with an unknown-action error.
const (
	ActionChatMessage      = "chat_message"
	ActionGetRooms         = "get_rooms"
	ActionCreateRoom       = "create_room"
	ActionJoinRoom         = "join_room"
	ActionPlayerMoved      = "player_moved"
	ActionPlayerReady      = "player_ready"
	ActionStartRace        = "start_race"
	ActionPlayerCheckpoint = "player_checkpoint"
	ActionLeaveRoom        = "leave_room"
	ActionGetRaceTime      = "get_race_time"
	ActionPlayerFinished   = "player_finished"
)

// Outbound action tags.
const (
	ActionConnected    = "connected"
	ActionRoomsList    = "rooms_list"
	ActionRoomCreated  = "room_created"
	ActionRoomJoined   = "room_joined"
	ActionPlayerJoined = "player_joined"
	ActionPlayerLeave  = "player_leave"
	ActionPlayerLeft   = "player_left"
	ActionGameStarting = "game_starting"
	ActionGameStarted  = "game_started"
	ActionRaceTime     = "race_time"
	ActionRaceEnded    = "race_ended"
	ActionError        = "error"
)

// Envelope is the common frame of every message; Action selects the payload.
type Envelope struct {
	Action string `json:"action"`
}

// RosterEntry is the wire shape of one player in a room roster.
type RosterEntry struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	IsReady          bool   `json:"isReady"`
	SocketEffectName string `json:"socketEffectName"`
	TrailEffectName  string `json:"trailEffectName"`
	SpriteName       string `json:"spriteName"`
}

// RoomSummary is one entry of a rooms_list reply.
type RoomSummary struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	PlayerCount int    `json:"playerCount"`
	IsRacing    bool   `json:"isRacing"`
}

// FinishEntry is a recorded finish: elapsed milliseconds since race start.
type FinishEntry struct {
	PlayerID string `json:"playerId"`
	Time     int64  `json:"time"`
}

// FinishPair marshals as a two-element [playerId, millis] tuple, the shape
// race_time replies use.
type FinishPair struct {
	PlayerID string
	Time     int64
}

func (p FinishPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.PlayerID, p.Time})
}

// Inbound payloads.

type ChatRequest struct {
	ChatMessage string `json:"chatMessage"`
}

type CreateRoomRequest struct {
	PlayerName       string `json:"playerName"`
	SocketEffectName string `json:"socketEffectName"`
	TrailEffectName  string `json:"trailEffectName"`
	SpriteName       string `json:"spriteName"`
	IsReady          bool   `json:"isReady"`
}

type JoinRoomRequest struct {
	RoomID           string `json:"roomId"`
	PlayerName       string `json:"playerName"`
	SocketEffectName string `json:"socketEffectName"`
	TrailEffectName  string `json:"trailEffectName"`
	SpriteName       string `json:"spriteName"`
}

type MoveRequest struct {
	Position json.RawMessage `json:"position"`
	Rotation json.RawMessage `json:"rotation"`
}

type ReadyRequest struct {
	IsReady bool `json:"isReady"`
}

// Outbound payloads. Action is always the matching tag constant.

type ConnectedMessage struct {
	Action   string `json:"action"`
	PlayerID string `json:"playerId"`
}

type RoomsListMessage struct {
	Action string        `json:"action"`
	Rooms  []RoomSummary `json:"rooms"`
}

type ChatMessage struct {
	Action      string `json:"action"`
	PlayerID    string `json:"playerId"`
	SenderName  string `json:"senderName"`
	ChatMessage string `json:"chatMessage"`
}

type RoomCreatedMessage struct {
	Action           string        `json:"action"`
	PlayerName       string        `json:"playerName"`
	RoomID           string        `json:"roomId"`
	SpriteName       string        `json:"spriteName"`
	TrailEffectName  string        `json:"trailEffectName"`
	SocketEffectName string        `json:"socketEffectName"`
	Players          []RosterEntry `json:"players"`
	PlayerID         string        `json:"playerId"`
	IsHost           bool          `json:"isHost"`
}

type RoomJoinedMessage struct {
	Action   string        `json:"action"`
	RoomID   string        `json:"roomId"`
	PlayerID string        `json:"playerId"`
	IsHost   bool          `json:"isHost"`
	Players  []RosterEntry `json:"players"`
}

type PlayerJoinedMessage struct {
	Action     string        `json:"action"`
	PlayerName string        `json:"playerName"`
	Players    []RosterEntry `json:"players"`
	PlayerID   string        `json:"playerId"`
}

type PlayerMovedMessage struct {
	Action   string          `json:"action"`
	PlayerID string          `json:"playerId"`
	Position json.RawMessage `json:"position"`
	Rotation json.RawMessage `json:"rotation"`
}

// PlayerLeaveMessage announces an explicit leave, with the remaining roster.
type PlayerLeaveMessage struct {
	Action   string        `json:"action"`
	PlayerID string        `json:"playerId"`
	Players  []RosterEntry `json:"players"`
}

// PlayerLeftMessage is the disconnect variant; it omits the roster.
type PlayerLeftMessage struct {
	Action   string `json:"action"`
	PlayerID string `json:"playerId"`
}

type PlayerReadyMessage struct {
	Action  string        `json:"action"`
	Players []RosterEntry `json:"players"`
}

type GameStartingMessage struct {
	Action  string        `json:"action"`
	Players []RosterEntry `json:"players"`
}

type GameStartedMessage struct {
	Action  string        `json:"action"`
	Players []RosterEntry `json:"players"`
}

type RaceTimeMessage struct {
	Action      string       `json:"action"`
	CurrentTime int64        `json:"currentTime"`
	FinishTimes []FinishPair `json:"finishTimes"`
}

type PlayerFinishedMessage struct {
	Action      string        `json:"action"`
	PlayerID    string        `json:"playerId"`
	RaceTime    int64         `json:"raceTime"`
	FinishTimes []FinishEntry `json:"finishTimes"`
}

type RaceEndedMessage struct {
	Action      string        `json:"action"`
	FinishTimes []FinishEntry `json:"finishTimes"`
}

type ErrorMessage struct {
	Action string `json:"action"`
	Error  string `json:"error"`
}
