package model

import "time"

type NotificationType string

const (
	NotificationMessage     NotificationType = "message"
	NotificationLike        NotificationType = "like"
	NotificationComment     NotificationType = "comment"
	NotificationFollow      NotificationType = "follow"
	NotificationMention     NotificationType = "mention"
	NotificationGroupInvite NotificationType = "group_invite"
	NotificationBadge       NotificationType = "badge"
	NotificationAchievement NotificationType = "achievement"
	NotificationSystem      NotificationType = "system"
)

// Notification is a single feed entry. Entries arrive from two sources (live
// push and REST polling) and are merged by ID; ThreadID is set for
// message-type entries so the suppression filter can match the active
// conversation.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Actor     *UserPublic      `json:"actor,omitempty"`
	ThreadID  string           `json:"thread_id,omitempty"`
	ActionURL string           `json:"action_url,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	IsRead    bool             `json:"is_read"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}

// Route resolves the navigation target for a clicked notification: the
// explicit action URL when present, otherwise a per-type default.
func (n *Notification) Route() string {
	if n.ActionURL != "" {
		return n.ActionURL
	}
	switch n.Type {
	case NotificationMessage:
		if n.ThreadID != "" {
			return "/chat/" + n.ThreadID
		}
		return "/chat"
	case NotificationFollow:
		return "/people"
	case NotificationLike, NotificationComment, NotificationMention:
		return "/feed"
	case NotificationGroupInvite:
		return "/groups"
	case NotificationBadge, NotificationAchievement:
		return "/profile?tab=achievements"
	default:
		return "/"
	}
}
