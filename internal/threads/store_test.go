package threads

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studycircle/internal/model"
	"github.com/studycircle/internal/transport"
)

// fakeFetcher serves canned pages per thread, optionally blocking until
// released so tests can interleave a slow fetch with other operations.
type fakeFetcher struct {
	pages   map[string][][]model.Message
	block   map[string]chan struct{}
	err     error
	hasMore map[string]bool
	calls   int
}

func (f *fakeFetcher) Messages(ctx context.Context, threadID string, page, size int) ([]model.Message, bool, error) {
	f.calls++
	if ch, ok := f.block[threadID]; ok {
		<-ch
	}
	if f.err != nil {
		return nil, false, f.err
	}
	pages := f.pages[threadID]
	if page-1 >= len(pages) {
		return nil, false, nil
	}
	more := page < len(pages)
	if v, ok := f.hasMore[threadID]; ok && page == len(pages) {
		more = v
	}
	return pages[page-1], more, nil
}

func msg(id, threadID, senderID string, at time.Time) model.Message {
	return model.Message{
		ID:          id,
		ThreadID:    threadID,
		SenderID:    senderID,
		Content:     "m-" + id,
		ContentType: model.ContentTypeText,
		CreatedAt:   at,
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestStore_PushThenPageDeduplicates(t *testing.T) {
	now := time.Now()
	f := &fakeFetcher{pages: map[string][][]model.Message{
		"t1": {{msg("a", "t1", "u2", now), msg("b", "t1", "u2", now)}},
	}}
	s := NewStore("u1", f, 50)
	s.SetThreads([]model.Thread{{ID: "t1", ThreadType: model.ThreadTypeDirect}})

	require.NoError(t, s.Activate(context.Background(), "t1"))
	assert.Equal(t, []string{"a", "b"}, ids(s.Messages()))

	// The same message arrives as a live push after the page contained it.
	accepted := s.ApplyPush(msg("b", "t1", "u2", now))
	assert.False(t, accepted)
	assert.Equal(t, []string{"a", "b"}, ids(s.Messages()))

	// A genuinely new push is appended once, and repeats are ignored.
	assert.True(t, s.ApplyPush(msg("c", "t1", "u2", now)))
	assert.False(t, s.ApplyPush(msg("c", "t1", "u2", now)))
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Messages()))
}

func TestStore_PushDuringLoadingIsBuffered(t *testing.T) {
	now := time.Now()
	release := make(chan struct{})
	f := &fakeFetcher{
		pages: map[string][][]model.Message{
			"t1": {{msg("a", "t1", "u2", now)}},
		},
		block: map[string]chan struct{}{"t1": release},
	}
	s := NewStore("u1", f, 50)
	s.SetThreads([]model.Thread{{ID: "t1"}})

	done := make(chan error, 1)
	go func() { done <- s.Activate(context.Background(), "t1") }()

	for s.State() != StateLoading {
		time.Sleep(time.Millisecond)
	}
	// Pushes for the active thread while the page is still in flight are
	// buffered, not appended. One duplicates the in-flight page, one is newer
	// than the page snapshot. Only the newer one may survive the merge.
	assert.False(t, s.ApplyPush(msg("a", "t1", "u2", now)))
	assert.False(t, s.ApplyPush(msg("b", "t1", "u2", now.Add(time.Second))))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"a", "b"}, ids(s.Messages()))
}

func TestStore_StaleFetchDiscarded(t *testing.T) {
	now := time.Now()
	release := make(chan struct{})
	f := &fakeFetcher{
		pages: map[string][][]model.Message{
			"t1": {{msg("a", "t1", "u2", now)}},
			"t2": {{msg("x", "t2", "u2", now)}},
		},
		block: map[string]chan struct{}{"t1": release},
	}
	s := NewStore("u1", f, 50)
	s.SetThreads([]model.Thread{{ID: "t1"}, {ID: "t2"}})

	done := make(chan error, 1)
	go func() { done <- s.Activate(context.Background(), "t1") }()
	for s.State() != StateLoading {
		time.Sleep(time.Millisecond)
	}

	// User switches threads before the first fetch returns.
	require.NoError(t, s.Activate(context.Background(), "t2"))
	assert.Equal(t, "t2", s.ActiveID())
	assert.Equal(t, []string{"x"}, ids(s.Messages()))

	// The slow t1 response lands now and must not clobber the t2 view.
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, "t2", s.ActiveID())
	assert.Equal(t, []string{"x"}, ids(s.Messages()))
	assert.Equal(t, StateLoaded, s.State())
}

func TestStore_FetchErrorReturnsToIdle(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	s := NewStore("u1", f, 50)
	s.SetThreads([]model.Thread{{ID: "t1"}})

	err := s.Activate(context.Background(), "t1")
	require.Error(t, err)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, "t1", s.ActiveID())

	// Retry succeeds.
	f.err = nil
	f.pages = map[string][][]model.Message{"t1": {{msg("a", "t1", "u2", time.Now())}}}
	require.NoError(t, s.Activate(context.Background(), "t1"))
	assert.Equal(t, StateLoaded, s.State())
}

func TestStore_LoadOlderPrependsWithDedup(t *testing.T) {
	now := time.Now()
	f := &fakeFetcher{pages: map[string][][]model.Message{
		"t1": {
			{msg("c", "t1", "u2", now), msg("d", "t1", "u2", now)},
			{msg("a", "t1", "u2", now.Add(-time.Hour)), msg("b", "t1", "u2", now.Add(-time.Hour)), msg("c", "t1", "u2", now)},
		},
	}}
	s := NewStore("u1", f, 50)
	s.SetThreads([]model.Thread{{ID: "t1"}})

	require.NoError(t, s.Activate(context.Background(), "t1"))
	require.NoError(t, s.LoadOlder(context.Background()))
	// "c" appears in both pages; the older copy is dropped.
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(s.Messages()))

	// Nothing more to load: no further fetch happens.
	calls := f.calls
	require.NoError(t, s.LoadOlder(context.Background()))
	assert.Equal(t, calls, f.calls)
}

func TestStore_UnreadOnlyResetByAck(t *testing.T) {
	now := time.Now()
	s := NewStore("u1", &fakeFetcher{}, 50)
	s.SetThreads([]model.Thread{{ID: "t1", UnreadCount: 2}})

	// Pushes for a non-active thread grow the counter.
	s.ApplyPush(msg("a", "t1", "u2", now))
	s.ApplyPush(msg("b", "t1", "u2", now))
	assert.Equal(t, 4, s.Unread("t1"))

	// Own messages never count as unread.
	s.ApplyPush(msg("c", "t1", "u1", now))
	assert.Equal(t, 4, s.Unread("t1"))

	// Only the explicit acknowledgment resets, and to exactly zero.
	s.AckRead("t1")
	assert.Equal(t, 0, s.Unread("t1"))

	s.ApplyPush(msg("d", "t1", "u2", now))
	assert.Equal(t, 1, s.Unread("t1"))
	assert.Equal(t, 1, s.TotalUnread())
}

func TestStore_ReplayedPushToBackgroundThreadIgnored(t *testing.T) {
	now := time.Now()
	s := NewStore("u1", &fakeFetcher{}, 50)
	s.SetThreads([]model.Thread{{ID: "t1"}})

	assert.True(t, s.ApplyPush(msg("m1", "t1", "u2", now)))
	assert.True(t, s.ApplyPush(msg("m2", "t1", "u2", now.Add(time.Second))))
	assert.Equal(t, 2, s.Unread("t1"))

	// A reconnect replay of m1 must not bump the counter or roll the preview
	// back to the older message.
	assert.False(t, s.ApplyPush(msg("m1", "t1", "u2", now)))
	assert.Equal(t, 2, s.Unread("t1"))
	list := s.Threads()
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "m2", list[0].LastMessage.ID)
}

func TestStore_ReplayAfterDeactivateIgnored(t *testing.T) {
	now := time.Now()
	f := &fakeFetcher{pages: map[string][][]model.Message{
		"t1": {{msg("a", "t1", "u2", now)}},
	}}
	s := NewStore("u1", f, 50)
	s.SetThreads([]model.Thread{{ID: "t1"}})

	require.NoError(t, s.Activate(context.Background(), "t1"))
	s.AckRead("t1")
	s.Deactivate()

	// The page already delivered "a"; a replay once the thread is back in the
	// background must not be treated as a fresh message.
	assert.False(t, s.ApplyPush(msg("a", "t1", "u2", now)))
	assert.Equal(t, 0, s.Unread("t1"))
}

func TestStore_PushForUnknownThreadCreatesStub(t *testing.T) {
	now := time.Now()
	s := NewStore("u1", &fakeFetcher{}, 50)

	s.ApplyPush(msg("a", "tNew", "u2", now))
	assert.Equal(t, 1, s.Unread("tNew"))
	list := s.Threads()
	require.Len(t, list, 1)
	assert.Equal(t, "tNew", list[0].ID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "a", list[0].LastMessage.ID)
}

func TestStore_ThreadsSortedByLastMessage(t *testing.T) {
	now := time.Now()
	s := NewStore("u1", &fakeFetcher{}, 50)
	s.SetThreads([]model.Thread{
		{ID: "old", LastMessage: &model.MessageSummary{ID: "a", CreatedAt: now.Add(-time.Hour)}},
		{ID: "new", LastMessage: &model.MessageSummary{ID: "b", CreatedAt: now}},
		{ID: "empty"},
	})
	list := s.Threads()
	require.Len(t, list, 3)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
	assert.Equal(t, "empty", list[2].ID)
}

func TestStore_EditAndDeleteKeepOrdering(t *testing.T) {
	now := time.Now()
	f := &fakeFetcher{pages: map[string][][]model.Message{
		"t1": {{msg("a", "t1", "u2", now), msg("b", "t1", "u2", now)}},
	}}
	s := NewStore("u1", f, 50)
	s.SetThreads([]model.Thread{{ID: "t1", LastMessage: &model.MessageSummary{ID: "b", Content: "m-b", CreatedAt: now}}})
	require.NoError(t, s.Activate(context.Background(), "t1"))

	editedAt := now.Add(time.Minute)
	s.ApplyEdit(transport.MessageEditedPayload{ThreadID: "t1", MessageID: "a", Content: "edited", EditedAt: editedAt})
	msgs := s.Messages()
	assert.Equal(t, "edited", msgs[0].Content)
	require.NotNil(t, msgs[0].EditedAt)

	s.ApplyDelete(transport.MessageDeletedPayload{ThreadID: "t1", MessageID: "b"})
	msgs = s.Messages()
	// Slot is preserved so ordering and dedup stay intact.
	assert.Equal(t, []string{"a", "b"}, ids(msgs))
	assert.True(t, msgs[1].IsDeleted)
	assert.Empty(t, msgs[1].Content)

	// Deleting the previewed message blanks the preview too.
	list := s.Threads()
	require.NotNil(t, list[0].LastMessage)
	assert.Empty(t, list[0].LastMessage.Content)

	// Re-pushing a deleted id stays deduplicated.
	assert.False(t, s.ApplyPush(msg("b", "t1", "u2", now)))
}

func TestStore_MessageSequenceScenario(t *testing.T) {
	// A realistic session: thread list load, open a thread, live traffic for
	// it and for a background thread, then read acknowledgment.
	now := time.Now()
	f := &fakeFetcher{pages: map[string][][]model.Message{
		"t1": {{msg("h1", "t1", "u2", now.Add(-time.Minute)), msg("h2", "t1", "u2", now)}},
	}}
	s := NewStore("u1", f, 50)
	s.SetThreads([]model.Thread{
		{ID: "t1", UnreadCount: 2},
		{ID: "t2", UnreadCount: 0},
	})

	require.NoError(t, s.Activate(context.Background(), "t1"))
	s.AckRead("t1")

	for i := 0; i < 3; i++ {
		s.ApplyPush(msg(fmt.Sprintf("live%d", i), "t1", "u2", now))
	}
	s.ApplyPush(msg("bg1", "t2", "u3", now))
	s.ApplyPush(msg("h2", "t1", "u2", now)) // late duplicate of history

	assert.Equal(t, []string{"h1", "h2", "live0", "live1", "live2"}, ids(s.Messages()))
	assert.Equal(t, 0, s.Unread("t1")) // active view does not grow unread
	assert.Equal(t, 1, s.Unread("t2"))

	s.Deactivate()
	assert.Empty(t, s.Messages())
	s.ApplyPush(msg("after", "t1", "u2", now))
	assert.Equal(t, 1, s.Unread("t1"))
}
