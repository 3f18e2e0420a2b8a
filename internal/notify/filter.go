package notify

import (
	"context"
	"sync"
	"time"

	"github.com/studycircle/internal/logger"
	"github.com/studycircle/internal/model"
)

// SeenRecorder persists surfaced notification ids so a restarted surface in
// the same session does not re-toast them. Implemented by the prefs store.
type SeenRecorder interface {
	MarkSeen(ctx context.Context, id string) error
}

// Filter decides whether a freshly pushed notification is surfaced as a
// toast or only recorded for counting. It is applied to new push arrivals
// only, never to REST-sourced backfill.
type Filter struct {
	mu           sync.Mutex
	seen         map[string]struct{}
	lowPriority  map[model.NotificationType]struct{}
	activeThread string
	focused      bool
	recorder     SeenRecorder
}

// defaultLowPriority is the out-of-the-box partition of types that stay quiet
// while no surface is focused. Overridable via configuration.
var defaultLowPriority = []model.NotificationType{
	model.NotificationLike,
	model.NotificationComment,
	model.NotificationBadge,
	model.NotificationSystem,
}

func NewFilter(recorder SeenRecorder, lowPriority []model.NotificationType) *Filter {
	if lowPriority == nil {
		lowPriority = defaultLowPriority
	}
	low := make(map[model.NotificationType]struct{}, len(lowPriority))
	for _, t := range lowPriority {
		low[t] = struct{}{}
	}
	return &Filter{
		seen:        make(map[string]struct{}),
		lowPriority: low,
		focused:     true,
		recorder:    recorder,
	}
}

// Hydrate preloads already-surfaced ids from persisted session state.
func (f *Filter) Hydrate(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.seen[id] = struct{}{}
	}
}

// SetActiveThread records which conversation the user is currently viewing.
func (f *Filter) SetActiveThread(threadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeThread = threadID
}

// SetFocused records whether any surface currently has foreground focus.
func (f *Filter) SetFocused(focused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused = focused
}

// MarkSeen records an id surfaced elsewhere (another tab) without surfacing
// it here, so a relayed duplicate never toasts twice.
func (f *Filter) MarkSeen(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[id] = struct{}{}
}

// Surface reports whether the notification should be surfaced. Suppressed
// entries still count toward the merged state; a true result marks the id
// seen for the rest of the session.
func (f *Filter) Surface(n model.Notification) bool {
	f.mu.Lock()
	if _, dup := f.seen[n.ID]; dup {
		f.mu.Unlock()
		return false
	}
	if n.Type == model.NotificationMessage && n.ThreadID != "" && n.ThreadID == f.activeThread {
		// User is already looking at the conversation.
		f.mu.Unlock()
		return false
	}
	if !f.focused {
		if _, low := f.lowPriority[n.Type]; low {
			f.mu.Unlock()
			return false
		}
	}
	f.seen[n.ID] = struct{}{}
	recorder := f.recorder
	f.mu.Unlock()

	// Dedup is decided from the in-memory set above; persistence is only for
	// the next surface start, so it must not stall the dispatch path.
	if recorder != nil {
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := recorder.MarkSeen(ctx, id); err != nil {
				logger.Errorf("notify: persist seen id %s: %v", id, err)
			}
		}(n.ID)
	}
	return true
}
