// Package transport owns the single persistent connection to the platform.
// It exposes connect/disconnect, room join/leave, emit and a typed event
// subscription API; connection loss is recovered with exponential backoff and
// room memberships are replayed on every successful (re)connect.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/studycircle/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
	sendBufSize    = 256
)

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrSendBufferFull = errors.New("transport: send buffer full")
	ErrClosed         = errors.New("transport: closed")
)

// bufPool pools bytes.Buffer for JSON encoding in the hot path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Handler receives the raw payload of a dispatched event. Handlers run on the
// read loop goroutine and must not block.
type Handler func(payload json.RawMessage)

// Transport is a WebSocket client with one logical connection per session.
// Lifecycle: New -> Connect(ctx) -> [Emit, JoinRoom, On...] -> Close.
type Transport struct {
	url   string
	token string

	mu     sync.Mutex
	state  State
	rooms  map[string]struct{}
	cancel context.CancelFunc
	closed bool

	send       chan outgoing
	dispatcher *dispatcher
	recon      *reconnector
	wg         sync.WaitGroup
}

func New(url, token string) *Transport {
	return &Transport{
		url:        url,
		token:      token,
		state:      StateDisconnected,
		rooms:      make(map[string]struct{}),
		send:       make(chan outgoing, sendBufSize),
		dispatcher: newDispatcher(),
		recon:      newReconnector(time.Second, 30*time.Second, 0),
	}
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// On registers a handler for an event type and returns its unsubscribe
// function. Every registration must be released via the returned handle to
// avoid leaking handlers across navigation.
func (t *Transport) On(ev EventType, h Handler) func() {
	return t.dispatcher.subscribe(ev, h)
}

// Connect establishes the connection and starts the reconnect loop.
// Idempotent: a second call while connected or connecting is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return nil
	}
	t.state = StateConnecting
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(runCtx)
	}()
	return nil
}

// Close tears the connection down. Safe to call multiple times; after Close
// the transport cannot be reconnected.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// JoinRoom requests server-side membership in a room for this connection and
// records it for replay on reconnect.
func (t *Transport) JoinRoom(id string) {
	t.mu.Lock()
	t.rooms[id] = struct{}{}
	connected := t.state == StateConnected
	t.mu.Unlock()
	if connected {
		t.queue(outgoing{Type: eventJoinRoom, Payload: roomPayload{Room: id}})
	}
}

// LeaveRoom drops the membership. The server also treats a dropped
// connection as an implicit leave for all rooms.
func (t *Transport) LeaveRoom(id string) {
	t.mu.Lock()
	delete(t.rooms, id)
	connected := t.state == StateConnected
	t.mu.Unlock()
	if connected {
		t.queue(outgoing{Type: eventLeaveRoom, Payload: roomPayload{Room: id}})
	}
}

// Emit sends a client-originated event. Returns ErrNotConnected while the
// connection is down so callers can fall back to REST.
func (t *Transport) Emit(ev EventType, payload any) error {
	if t.State() != StateConnected {
		return ErrNotConnected
	}
	select {
	case t.send <- outgoing{Type: ev, Payload: payload}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (t *Transport) queue(msg outgoing) {
	select {
	case t.send <- msg:
	default:
		logger.Errorf("ws send buffer full, dropping %s frame", msg.Type)
	}
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// run dials, pumps and re-dials until ctx is cancelled.
func (t *Transport) run(ctx context.Context) {
	defer t.setState(StateDisconnected)

	for {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.setState(StateReconnecting)
			t.dispatchLocal(EventConnectError, ConnectErrorPayload{Error: err.Error()})
			if !t.recon.shouldReconnect() {
				logger.Errorf("ws giving up after %d attempts: %v", t.recon.attempt, err)
				return
			}
			delay := t.recon.nextDelay()
			logger.Errorf("ws connect failed, retry in %v: %v", delay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		t.recon.markConnected()
		t.setState(StateConnected)
		t.replayRooms()
		t.dispatchLocal(EventConnect, nil)

		t.runPumps(ctx, conn)

		if ctx.Err() != nil {
			t.dispatchLocal(EventDisconnect, nil)
			return
		}
		t.setState(StateReconnecting)
		t.dispatchLocal(EventDisconnect, nil)
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.recon.nextDelay()):
		}
	}
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, t.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// replayRooms re-establishes every known room on a fresh connection:
// membership is not server-persisted across reconnects from the client's
// perspective.
func (t *Transport) replayRooms() {
	t.mu.Lock()
	rooms := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		rooms = append(rooms, id)
	}
	t.mu.Unlock()
	for _, id := range rooms {
		t.queue(outgoing{Type: eventJoinRoom, Payload: roomPayload{Room: id}})
	}
}

func (t *Transport) dispatchLocal(ev EventType, payload any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	t.dispatcher.dispatch(ev, raw)
}

// runPumps runs the read and write pumps for one connection and returns when
// either exits. The connection is closed on return.
func (t *Transport) runPumps(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		t.writePump(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		t.readPump(connCtx, conn)
	}()
	// Closing the connection is what unblocks a pump stuck in ReadMessage, so
	// a cancelled context must not wait for the pong deadline.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	wg.Wait()
	conn.Close()
}

// readPump reads frames from the connection and dispatches them.
// Exits on read error (triggered by conn.Close or the peer going away).
func (t *Transport) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("ws unmarshal error: %v", err)
			continue
		}
		t.dispatcher.dispatch(env.Type, env.Payload)
	}
}

// writePump writes queued frames and pings to the connection.
// Exits on ctx cancellation or write error.
func (t *Transport) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best effort: the watcher may already have closed the conn.
			_ = conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-t.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline: %v", err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error: %v", err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
