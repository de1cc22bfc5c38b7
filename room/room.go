// Package room owns the session state: room membership, the ready/start
// handshake, race timing and finish ordering. All mutations to one room are
// serialized under its mutex; different rooms are independent.
package room

import (
	"sync"
	"time"

	"slipstream-race-server/domain"
)

// Room is a session grouping players for one race. Every field is guarded by
// mu, which is held for the duration of each operation including the
// broadcast that follows it.
type Room struct {
	mu sync.Mutex

	id      string
	hostID  string
	players map[string]*domain.Player
	order   []string // join order; first entry inherits host on host departure

	racing           bool
	raceStarted      bool // a start has been committed for the current race
	raceStart        time.Time
	countdownPending bool
	countdown        *time.Timer

	finishOrder []domain.FinishEntry // insertion order == finish order
	finished    map[string]struct{}

	// Set when the room is removed from the registry; operations that raced
	// with the removal must treat the room as gone.
	closed bool
}

func newRoom(id string) *Room {
	return &Room{
		id:       id,
		players:  make(map[string]*domain.Player),
		finished: make(map[string]struct{}),
	}
}

// roster returns the wire roster in join order. Caller holds mu.
func (r *Room) roster() []domain.RosterEntry {
	entries := make([]domain.RosterEntry, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.players[id]; ok {
			entries = append(entries, p.RosterEntry())
		}
	}
	return entries
}

// addPlayer appends a member. Caller holds mu.
func (r *Room) addPlayer(p *domain.Player) {
	r.players[p.ID] = p
	r.order = append(r.order, p.ID)
}

// removePlayer drops a member and reassigns host to the longest-standing
// remaining member if the host left. Caller holds mu.
func (r *Room) removePlayer(id string) {
	if _, ok := r.players[id]; !ok {
		return
	}
	delete(r.players, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.hostID == id && len(r.order) > 0 {
		r.hostID = r.order[0]
	}
}

// allReady reports whether every current member has set isReady. Caller holds mu.
func (r *Room) allReady() bool {
	for _, p := range r.players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// allFinished reports whether every current member has a recorded finish
// time. Caller holds mu.
func (r *Room) allFinished() bool {
	for id := range r.players {
		if _, ok := r.finished[id]; !ok {
			return false
		}
	}
	return true
}

// finishEntries returns a copy of the finish list in finish order, which is
// time-ascending since entries are recorded in real time. Caller holds mu.
func (r *Room) finishEntries() []domain.FinishEntry {
	entries := make([]domain.FinishEntry, len(r.finishOrder))
	copy(entries, r.finishOrder)
	return entries
}

// finishPairs returns the finish list in the [playerId, millis] tuple shape.
// Caller holds mu.
func (r *Room) finishPairs() []domain.FinishPair {
	pairs := make([]domain.FinishPair, 0, len(r.finishOrder))
	for _, e := range r.finishOrder {
		pairs = append(pairs, domain.FinishPair{PlayerID: e.PlayerID, Time: e.Time})
	}
	return pairs
}

// summary returns the lobby-browsing view. Caller holds mu.
func (r *Room) summary() domain.RoomSummary {
	return domain.RoomSummary{
		ID:          r.id,
		Host:        r.hostID,
		PlayerCount: len(r.players),
		IsRacing:    r.racing,
	}
}

// cancelCountdown stops a pending start, if any. Caller holds mu.
func (r *Room) cancelCountdown() {
	if r.countdown != nil {
		r.countdown.Stop()
		r.countdown = nil
	}
	r.countdownPending = false
}
