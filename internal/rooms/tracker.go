// Package rooms keeps the transport joined to every conversation room the
// user belongs to: all rooms on thread-list load, new ones as threads are
// created, and the full set again after every reconnect.
package rooms

import (
	"encoding/json"
	"sync"

	"github.com/studycircle/internal/transport"
)

// Joiner is the slice of the transport the tracker needs.
type Joiner interface {
	JoinRoom(id string)
	LeaveRoom(id string)
	On(ev transport.EventType, h transport.Handler) func()
}

type Tracker struct {
	mu    sync.Mutex
	tr    Joiner
	rooms map[string]struct{}
	unsub func()
}

func NewTracker(tr Joiner) *Tracker {
	t := &Tracker{
		tr:    tr,
		rooms: make(map[string]struct{}),
	}
	t.unsub = tr.On(transport.EventConnect, func(json.RawMessage) {
		t.rejoinAll()
	})
	return t
}

// SetThreads replaces the tracked set with the authoritative thread list and
// joins every room in it.
func (t *Tracker) SetThreads(ids []string) {
	t.mu.Lock()
	t.rooms = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		t.rooms[id] = struct{}{}
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.tr.JoinRoom(id)
	}
}

// Track joins a newly created or newly joined thread immediately.
func (t *Tracker) Track(id string) {
	t.mu.Lock()
	if _, ok := t.rooms[id]; ok {
		t.mu.Unlock()
		return
	}
	t.rooms[id] = struct{}{}
	t.mu.Unlock()
	t.tr.JoinRoom(id)
}

// Untrack leaves a thread the user is no longer a member of.
func (t *Tracker) Untrack(id string) {
	t.mu.Lock()
	if _, ok := t.rooms[id]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.rooms, id)
	t.mu.Unlock()
	t.tr.LeaveRoom(id)
}

// Rooms returns the currently tracked room ids.
func (t *Tracker) Rooms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (t *Tracker) rejoinAll() {
	for _, id := range t.Rooms() {
		t.tr.JoinRoom(id)
	}
}

// Close releases the reconnect subscription. No explicit leave is required on
// logout: the server treats a dropped connection as leaving all rooms.
func (t *Tracker) Close() {
	if t.unsub != nil {
		t.unsub()
	}
}
