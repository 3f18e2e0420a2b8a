package model

type ThreadType string

const (
	ThreadTypeDirect ThreadType = "direct"
	ThreadTypeGroup  ThreadType = "group"
)

// Thread is a direct or group conversation summary as rendered in the thread
// list. UnreadCount is maintained client-side from accepted pushes and reset
// to zero only by an explicit read acknowledgment.
type Thread struct {
	ID           string          `json:"id"`
	ThreadType   ThreadType      `json:"thread_type"`
	Name         string          `json:"name,omitempty"`
	Participants []UserPublic    `json:"participants"`
	LastMessage  *MessageSummary `json:"last_message,omitempty"`
	UnreadCount  int             `json:"unread_count"`
}
