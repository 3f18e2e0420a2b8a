package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studycircle/internal/model"
)

func collect(t *testing.T, ch <-chan Release, n int) []Release {
	t.Helper()
	out := make([]Release, 0, n)
	for i := 0; i < n; i++ {
		select {
		case rel, ok := <-ch:
			require.True(t, ok, "release stream closed early")
			out = append(out, rel)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for release %d of %d", i+1, n)
		}
	}
	return out
}

func TestQueue_HigherClassReleasesFirst(t *testing.T) {
	q := NewQueue(time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queued in order low, urgent, low: the urgent one jumps the line.
	q.Enqueue(notif("low1", model.NotificationLike, time.Now()), PriorityLow)
	q.Enqueue(notif("urgent1", model.NotificationMessage, time.Now()), PriorityUrgent)
	q.Enqueue(notif("low2", model.NotificationBadge, time.Now()), PriorityLow)

	go q.Run(ctx)
	rels := collect(t, q.Releases(), 3)
	assert.Equal(t, "urgent1", rels[0].Notification.ID)
	assert.Equal(t, "low1", rels[1].Notification.ID)
	assert.Equal(t, "low2", rels[2].Notification.ID)
	assert.Equal(t, PriorityUrgent, rels[0].Priority)
}

func TestQueue_FIFOWithinClass(t *testing.T) {
	q := NewQueue(time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(notif(id, model.NotificationMention, time.Now()), PriorityHigh)
	}
	go q.Run(ctx)
	rels := collect(t, q.Releases(), 3)
	assert.Equal(t, "a", rels[0].Notification.ID)
	assert.Equal(t, "b", rels[1].Notification.ID)
	assert.Equal(t, "c", rels[2].Notification.ID)
}

func TestQueue_ReleasesArePaced(t *testing.T) {
	interval := 50 * time.Millisecond
	q := NewQueue(interval, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 4; i++ {
		q.Enqueue(notif(string(rune('a'+i)), model.NotificationLike, time.Now()), PriorityLow)
	}
	start := time.Now()
	go q.Run(ctx)
	collect(t, q.Releases(), 4)
	// First release may be immediate; the remaining three are spaced by the
	// interval, so the burst cannot finish faster than three intervals.
	assert.GreaterOrEqual(t, time.Since(start), 3*interval)
}

func TestQueue_BurstIsDelayedNotDropped(t *testing.T) {
	q := NewQueue(time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const burst = 40
	for i := 0; i < burst; i++ {
		q.Enqueue(notif(string(rune('a'+i%26))+string(rune('0'+i/26)), model.NotificationComment, time.Now()), PriorityLow)
	}
	go q.Run(ctx)
	rels := collect(t, q.Releases(), burst)
	assert.Len(t, rels, burst)
}

func TestQueue_SoundGate(t *testing.T) {
	var muted atomic.Bool
	q := NewQueue(time.Millisecond, func() bool { return !muted.Load() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Enqueue(notif("n1", model.NotificationMessage, time.Now()), PriorityUrgent)
	rels := collect(t, q.Releases(), 1)
	assert.Equal(t, "message", rels[0].Sound)

	muted.Store(true)
	q.Enqueue(notif("n2", model.NotificationMention, time.Now()), PriorityHigh)
	rels = collect(t, q.Releases(), 1)
	assert.Empty(t, rels[0].Sound)
}

func TestQueue_ReleaseCarriesRoute(t *testing.T) {
	q := NewQueue(time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	n := notif("n1", model.NotificationMessage, time.Now())
	n.ThreadID = "t42"
	q.Enqueue(n, PriorityUrgent)
	rels := collect(t, q.Releases(), 1)
	assert.Equal(t, "/chat/t42", rels[0].Route)
}

func TestQueue_RunClosesStreamOnCancel(t *testing.T) {
	q := NewQueue(time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	_, ok := <-q.Releases()
	assert.False(t, ok)
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, PriorityUrgent, PriorityFor(model.NotificationMessage, nil))
	assert.Equal(t, PriorityHigh, PriorityFor(model.NotificationMention, nil))
	assert.Equal(t, PriorityMedium, PriorityFor(model.NotificationFollow, nil))
	assert.Equal(t, PriorityMedium, PriorityFor(model.NotificationGroupInvite, nil))
	assert.Equal(t, PriorityLow, PriorityFor(model.NotificationLike, nil))

	overrides := map[model.NotificationType]Priority{model.NotificationLike: PriorityHigh}
	assert.Equal(t, PriorityHigh, PriorityFor(model.NotificationLike, overrides))
}

func TestParseClass(t *testing.T) {
	for name, want := range map[string]Priority{
		"low": PriorityLow, "medium": PriorityMedium, "high": PriorityHigh, "urgent": PriorityUrgent,
	} {
		got, ok := ParseClass(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := ParseClass("bogus")
	assert.False(t, ok)
}
