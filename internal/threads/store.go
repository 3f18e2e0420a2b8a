// Package threads holds the client-side view of conversations: the thread
// list with unread counters and last-message previews, plus the message list
// of the one active thread. REST page loads and live pushes for the same
// thread are reconciled by message id so a message is never shown twice.
package threads

import (
	"context"
	"sort"
	"sync"

	"github.com/studycircle/internal/model"
	"github.com/studycircle/internal/transport"
)

// LoadState is the per-active-thread lifecycle: Idle -> Loading -> Loaded.
type LoadState string

const (
	StateIdle    LoadState = "idle"
	StateLoading LoadState = "loading"
	StateLoaded  LoadState = "loaded"
)

// Fetcher loads one message page. Implemented by the REST client.
type Fetcher interface {
	Messages(ctx context.Context, threadID string, page, size int) ([]model.Message, bool, error)
}

// recentCap bounds the per-thread dedup memory. Reconnect replays arrive
// within seconds of the original delivery, so a small window is enough.
const recentCap = 256

// recentSet remembers the most recent message ids of one thread so a
// replayed delivery is recognized even when the thread is not active.
type recentSet struct {
	ids   map[string]struct{}
	order []string
}

func newRecentSet() *recentSet {
	return &recentSet{ids: make(map[string]struct{})}
}

// add reports whether the id was new, evicting the oldest entry past the cap.
func (r *recentSet) add(id string) bool {
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > recentCap {
		delete(r.ids, r.order[0])
		r.order = r.order[1:]
	}
	return true
}

// Store reconciles REST-fetched message pages with live pushes.
//
// Each Activate bumps a fetch generation; a page response is applied only if
// the generation still matches, so a slow response for a thread the user has
// already left can never clobber the current view.
type Store struct {
	mu       sync.Mutex
	selfID   string
	fetcher  Fetcher
	pageSize int

	threads map[string]*model.Thread
	recent  map[string]*recentSet

	activeID   string
	state      LoadState
	generation uint64
	messages   []model.Message
	present    map[string]struct{}
	pending    []model.Message
	page       int
	hasMore    bool
}

func NewStore(selfID string, fetcher Fetcher, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Store{
		selfID:   selfID,
		fetcher:  fetcher,
		pageSize: pageSize,
		threads:  make(map[string]*model.Thread),
		recent:   make(map[string]*recentSet),
		state:    StateIdle,
		present:  make(map[string]struct{}),
	}
}

// remember records a delivered message id for its thread and reports whether
// it was a first delivery. Callers hold s.mu.
func (s *Store) remember(threadID, id string) bool {
	set, ok := s.recent[threadID]
	if !ok {
		set = newRecentSet()
		s.recent[threadID] = set
	}
	return set.add(id)
}

// updatePreview refreshes the thread's last-message preview unless the
// message predates the one already shown (a replayed older delivery must not
// regress the preview or the thread-list order). Callers hold s.mu.
func updatePreview(t *model.Thread, m model.Message) {
	if t.LastMessage != nil && m.CreatedAt.Before(t.LastMessage.CreatedAt) {
		return
	}
	t.LastMessage = m.Summary()
}

// SetThreads replaces the thread summaries with the authoritative list.
// Unread counts from the server win over locally accumulated ones.
func (s *Store) SetThreads(list []model.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = make(map[string]*model.Thread, len(list))
	for i := range list {
		t := list[i]
		s.threads[t.ID] = &t
	}
}

// Threads returns thread summaries sorted by last-message time, newest first.
func (s *Store) Threads() []model.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastMessage, out[j].LastMessage
		switch {
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.CreatedAt.After(lj.CreatedAt)
		}
	})
	return out
}

// ActiveID returns the id of the thread currently being viewed, "" if none.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// State returns the load state of the active thread.
func (s *Store) State() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the active thread's message list in accepted
// (arrival) order.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Unread returns the unread counter for a thread.
func (s *Store) Unread(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		return t.UnreadCount
	}
	return 0
}

// TotalUnread sums unread counters across all threads.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, t := range s.threads {
		total += t.UnreadCount
	}
	return total
}

// Activate switches the active thread to threadID: the previous list is
// cleared immediately and the first message page is fetched. A response that
// arrives after the user has switched again is discarded.
func (s *Store) Activate(ctx context.Context, threadID string) error {
	s.mu.Lock()
	s.activeID = threadID
	s.state = StateLoading
	s.generation++
	gen := s.generation
	s.messages = nil
	s.present = make(map[string]struct{})
	s.pending = nil
	s.page = 1
	s.hasMore = false
	s.mu.Unlock()

	msgs, hasMore, err := s.fetcher.Messages(ctx, threadID, 1, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// Superseded by a newer Activate; drop silently.
		return nil
	}
	if err != nil {
		s.state = StateIdle
		return err
	}
	s.messages = s.messages[:0]
	s.present = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := s.present[m.ID]; dup {
			continue
		}
		s.present[m.ID] = struct{}{}
		s.remember(threadID, m.ID)
		s.messages = append(s.messages, m)
	}
	// Pushes that raced the page fetch: the page replace covers the ones it
	// already contained, the rest are appended.
	for _, m := range s.pending {
		if _, dup := s.present[m.ID]; dup {
			continue
		}
		s.present[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	s.pending = nil
	s.hasMore = hasMore
	s.state = StateLoaded
	return nil
}

// LoadOlder fetches the next page of history for the active thread and
// prepends it. No-op when there is nothing more or the thread changed.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLoaded || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	threadID := s.activeID
	gen := s.generation
	page := s.page + 1
	s.mu.Unlock()

	msgs, hasMore, err := s.fetcher.Messages(ctx, threadID, page, s.pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return nil
	}
	older := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := s.present[m.ID]; dup {
			continue
		}
		s.present[m.ID] = struct{}{}
		s.remember(threadID, m.ID)
		older = append(older, m)
	}
	s.messages = append(older, s.messages...)
	s.page = page
	s.hasMore = hasMore
	return nil
}

// Deactivate clears the active view. Pushes for the former thread keep
// updating its unread counter and preview only.
func (s *Store) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = ""
	s.state = StateIdle
	s.generation++
	s.messages = nil
	s.present = make(map[string]struct{})
	s.pending = nil
}

// AckRead records an explicit read acknowledgment: the only operation that
// resets a thread's unread counter, always to exactly zero.
func (s *Store) AckRead(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		t.UnreadCount = 0
	}
}

// ApplyPush merges one live message push. Returns true when the message was
// appended to the active view (the caller schedules scroll-to-bottom off
// that). A replayed delivery (reconnect replay, duplicate frame) is
// recognized by id and changes nothing: for non-active threads the unread
// counter is incremented only on first delivery and only when the viewer did
// not author the message.
func (s *Store) ApplyPush(m model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[m.ThreadID]
	if !ok {
		// Push for a thread the list does not know yet (freshly created);
		// track a stub until the next thread-list load fills it in.
		t = &model.Thread{ID: m.ThreadID, ThreadType: model.ThreadTypeDirect}
		s.threads[m.ThreadID] = t
	}

	if m.ThreadID == s.activeID {
		if s.state == StateLoading {
			// The in-flight page may or may not contain it; hold it and
			// merge (id-deduped) when the page lands.
			if s.remember(m.ThreadID, m.ID) {
				updatePreview(t, m)
			}
			s.pending = append(s.pending, m)
			return false
		}
		if s.state != StateLoaded {
			return false
		}
		if _, dup := s.present[m.ID]; dup {
			return false
		}
		s.present[m.ID] = struct{}{}
		s.remember(m.ThreadID, m.ID)
		s.messages = append(s.messages, m)
		updatePreview(t, m)
		return true
	}

	if !s.remember(m.ThreadID, m.ID) {
		return false
	}
	updatePreview(t, m)
	if m.SenderID != s.selfID {
		t.UnreadCount++
	}
	return false
}

// ApplyEdit updates an edited message in place, in the active list and in the
// thread preview.
func (s *Store) ApplyEdit(p transport.MessageEditedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[p.ThreadID]; ok && t.LastMessage != nil && t.LastMessage.ID == p.MessageID {
		t.LastMessage.Content = p.Content
	}
	if p.ThreadID != s.activeID {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == p.MessageID {
			edited := p.EditedAt
			s.messages[i].Content = p.Content
			s.messages[i].EditedAt = &edited
			return
		}
	}
}

// ApplyDelete marks a deleted message, keeping its slot so ordering and
// dedup state stay intact.
func (s *Store) ApplyDelete(p transport.MessageDeletedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[p.ThreadID]; ok && t.LastMessage != nil && t.LastMessage.ID == p.MessageID {
		t.LastMessage.Content = ""
	}
	if p.ThreadID != s.activeID {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == p.MessageID {
			s.messages[i].IsDeleted = true
			s.messages[i].Content = ""
			return
		}
	}
}
