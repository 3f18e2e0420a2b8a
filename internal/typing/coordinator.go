// Package typing debounces local typing signals and tracks remote typists
// per thread with a ttl-based auto-clear for stale state.
package typing

import (
	"sort"
	"sync"
	"time"
)

// EmitFunc sends the typing signal upstream.
type EmitFunc func(threadID string, isTyping bool)

// Coordinator owns both sides of the typing indicator.
//
// Local side: the first keystroke emits typing=true once; an idle timer is
// reset on every further keystroke and emits typing=false when it fires.
// Remote side: each (thread, user) entry expires after ttl unless refreshed;
// timers cancel-and-reset, they never stack.
type Coordinator struct {
	mu     sync.Mutex
	emit   EmitFunc
	selfID string
	idle   time.Duration
	ttl    time.Duration

	local  map[string]*time.Timer            // threadID -> idle timer
	remote map[string]map[string]*time.Timer // threadID -> userID -> expiry
	closed bool
}

func NewCoordinator(selfID string, emit EmitFunc, idle, ttl time.Duration) *Coordinator {
	if idle <= 0 {
		idle = 2 * time.Second
	}
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &Coordinator{
		emit:   emit,
		selfID: selfID,
		idle:   idle,
		ttl:    ttl,
		local:  make(map[string]*time.Timer),
		remote: make(map[string]map[string]*time.Timer),
	}
}

// InputChanged records a local keystroke in a thread. Emits typing=true on
// the first keystroke of a burst and resets the idle timer on every one.
func (c *Coordinator) InputChanged(threadID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if t, ok := c.local[threadID]; ok {
		t.Reset(c.idle)
		c.mu.Unlock()
		return
	}
	c.local[threadID] = time.AfterFunc(c.idle, func() {
		c.stopLocal(threadID)
	})
	c.mu.Unlock()
	c.emit(threadID, true)
}

// Stopped signals the end of local typing immediately: called on send and on
// input blur.
func (c *Coordinator) Stopped(threadID string) {
	c.stopLocal(threadID)
}

func (c *Coordinator) stopLocal(threadID string) {
	c.mu.Lock()
	t, ok := c.local[threadID]
	if ok {
		t.Stop()
		delete(c.local, threadID)
	}
	closed := c.closed
	c.mu.Unlock()
	if ok && !closed {
		c.emit(threadID, false)
	}
}

// RemoteStart records a remote typing-start. Self events are ignored; a
// repeat before expiry refreshes the timer instead of duplicating the entry.
func (c *Coordinator) RemoteStart(threadID, userID string) {
	if userID == c.selfID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	users, ok := c.remote[threadID]
	if !ok {
		users = make(map[string]*time.Timer)
		c.remote[threadID] = users
	}
	if t, ok := users[userID]; ok {
		t.Reset(c.ttl)
		return
	}
	users[userID] = time.AfterFunc(c.ttl, func() {
		c.RemoteStop(threadID, userID)
	})
}

// RemoteStop removes a remote typist immediately.
func (c *Coordinator) RemoteStop(threadID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.remote[threadID]
	if !ok {
		return
	}
	if t, ok := users[userID]; ok {
		t.Stop()
		delete(users, userID)
	}
	if len(users) == 0 {
		delete(c.remote, threadID)
	}
}

// Typists returns the sorted remote typists of a thread.
func (c *Coordinator) Typists(threadID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := c.remote[threadID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close cancels every pending timer. No signals are emitted after Close.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, t := range c.local {
		t.Stop()
		delete(c.local, id)
	}
	for threadID, users := range c.remote {
		for id, t := range users {
			t.Stop()
			delete(users, id)
		}
		delete(c.remote, threadID)
	}
}
