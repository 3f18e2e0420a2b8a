package model

import "time"

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeVideo ContentType = "video"
	ContentTypeFile  ContentType = "file"
)

type Message struct {
	ID          string      `json:"id"`
	ThreadID    string      `json:"thread_id"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	EditedAt    *time.Time  `json:"edited_at,omitempty"`
	IsDeleted   bool        `json:"is_deleted"`
	CreatedAt   time.Time   `json:"created_at"`
	Sender      *UserPublic `json:"sender,omitempty"`
}

// Summary is the last-message preview carried on a thread.
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		ID:        m.ID,
		Content:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
}

type MessageSummary struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}
