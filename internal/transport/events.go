package transport

import (
	"encoding/json"
	"time"
)

type EventType string

// Server-pushed and client-originated event types. Connect, Disconnect and
// ConnectError are synthesized locally from the connection lifecycle; they
// never appear on the wire.
const (
	EventConnect      EventType = "connect"
	EventDisconnect   EventType = "disconnect"
	EventConnectError EventType = "connect_error"

	EventNewMessage       EventType = "new_message"
	EventMessageEdited    EventType = "message_edited"
	EventMessageDeleted   EventType = "message_deleted"
	EventUserTyping       EventType = "user_typing"
	EventConversationRead EventType = "conversation_read"
	EventNotification     EventType = "notification"
	EventError            EventType = "error"

	EventSendMessage EventType = "send_message"
	EventTyping      EventType = "typing"
	EventMarkRead    EventType = "mark_read"

	eventJoinRoom  EventType = "join_room"
	eventLeaveRoom EventType = "leave_room"
)

// Envelope is the wire format for server-to-client events.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// outgoing is the wire format for client-to-server frames.
type outgoing struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// --- Typed payloads ---

// TypingPayload carries both directions of the typing signal.
type TypingPayload struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// ConversationReadPayload is pushed when a participant reads a thread.
type ConversationReadPayload struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
}

// MessageEditedPayload is pushed when a message is edited.
type MessageEditedPayload struct {
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

// MessageDeletedPayload is pushed when a message is deleted.
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
}

// SendMessagePayload is the client-originated send frame.
type SendMessagePayload struct {
	ThreadID    string `json:"thread_id"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// MarkReadPayload acknowledges a thread as read.
type MarkReadPayload struct {
	ThreadID string `json:"thread_id"`
}

// ConnectErrorPayload is synthesized locally on a failed dial.
type ConnectErrorPayload struct {
	Error string `json:"error"`
}

type roomPayload struct {
	Room string `json:"room"`
}
