// Package notify merges push-delivered and REST-polled notifications into one
// deduplicated feed, decides which new pushes get surfaced, and releases the
// survivors to the presentation layer at a bounded rate.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/studycircle/internal/model"
)

// Store is the single merge point for all notification producers (push, poll,
// cross-tab). No producer mutates the unread count directly; it is always
// recomputed over the merged set.
type Store struct {
	mu   sync.Mutex
	byID map[string]*model.Notification
}

func NewStore() *Store {
	return &Store{byID: make(map[string]*model.Notification)}
}

// MergePush merges a live push entry. Reports whether the id was new; a
// duplicate push refreshes content (push wins on freshness) but keeps the
// authoritative read state already known.
func (s *Store) MergePush(n model.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[n.ID]; ok {
		n.IsRead = existing.IsRead
		n.ReadAt = existing.ReadAt
		*existing = n
		return false
	}
	cp := n
	s.byID[n.ID] = &cp
	return true
}

// MergeSnapshot merges a REST-polled list: new ids fill gaps, known ids get
// their read state corrected (REST is authoritative for isRead/readAt while
// push content already held wins for freshness). Merging the same snapshot
// twice is a no-op.
func (s *Store) MergeSnapshot(list []model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range list {
		n := list[i]
		if existing, ok := s.byID[n.ID]; ok {
			existing.IsRead = n.IsRead
			existing.ReadAt = n.ReadAt
			continue
		}
		cp := n
		s.byID[n.ID] = &cp
	}
}

// MarkRead marks one entry read locally.
func (s *Store) MarkRead(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byID[id]; ok && !n.IsRead {
		n.IsRead = true
		n.ReadAt = &at
	}
}

// MarkAllRead marks every entry read locally.
func (s *Store) MarkAllRead(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.byID {
		if !n.IsRead {
			n.IsRead = true
			t := at
			n.ReadAt = &t
		}
	}
}

// Unread counts unread entries over the merged set. Never a value carried
// from either source alone: each source alone can be stale.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.byID {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// List returns the merged feed, newest first; ties break by id for a stable
// order.
func (s *Store) List() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notification, 0, len(s.byID))
	for _, n := range s.byID {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns one entry by id.
func (s *Store) Get(id string) (model.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byID[id]; ok {
		return *n, true
	}
	return model.Notification{}, false
}
