package notify

import (
	"context"
	"sync"
	"time"

	"github.com/studycircle/internal/model"
	"golang.org/x/time/rate"
)

// Priority classes, highest first: direct message > mention > follow and
// group invites > everything else. FIFO within a class.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent

	numPriorities
)

// ParseClass maps a configured class name to a Priority.
func ParseClass(s string) (Priority, bool) {
	switch s {
	case "urgent":
		return PriorityUrgent, true
	case "high":
		return PriorityHigh, true
	case "medium":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	}
	return PriorityLow, false
}

// PriorityFor assigns the default class for a notification type, with
// configured overrides winning.
func PriorityFor(t model.NotificationType, overrides map[model.NotificationType]Priority) Priority {
	if p, ok := overrides[t]; ok {
		return p
	}
	switch t {
	case model.NotificationMessage:
		return PriorityUrgent
	case model.NotificationMention:
		return PriorityHigh
	case model.NotificationFollow, model.NotificationGroupInvite:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// SoundFor selects the cue played when a notification of this type is
// released.
func SoundFor(t model.NotificationType) string {
	switch t {
	case model.NotificationMessage:
		return "message"
	case model.NotificationMention:
		return "mention"
	case model.NotificationFollow, model.NotificationGroupInvite:
		return "social"
	default:
		return "generic"
	}
}

// Release is one notification handed to the presentation layer: the entry,
// its class, the resolved navigation route and the sound cue ("" when the
// user has sound disabled).
type Release struct {
	Notification model.Notification
	Priority     Priority
	Route        string
	Sound        string
}

// SoundGate reports whether sound cues are currently enabled.
type SoundGate func() bool

// Queue orders pending surfaced notifications by class and releases at most
// one per interval, so a burst of events never floods the screen with
// simultaneous toasts. Entries are delayed, never dropped.
type Queue struct {
	mu      sync.Mutex
	pending [numPriorities][]model.Notification
	signal  chan struct{}
	out     chan Release
	limiter *rate.Limiter
	sound   SoundGate
}

func NewQueue(interval time.Duration, sound SoundGate) *Queue {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if sound == nil {
		sound = func() bool { return true }
	}
	return &Queue{
		signal:  make(chan struct{}, 1),
		out:     make(chan Release, 16),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		sound:   sound,
	}
}

// Enqueue adds a surfaced notification to its class queue.
func (q *Queue) Enqueue(n model.Notification, p Priority) {
	if p < PriorityLow || p >= numPriorities {
		p = PriorityLow
	}
	q.mu.Lock()
	q.pending[p] = append(q.pending[p], n)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Releases is the stream of released notifications, highest class first,
// FIFO within a class, at most one per release interval.
func (q *Queue) Releases() <-chan Release {
	return q.out
}

// Run releases pending entries until ctx is cancelled and then closes the
// release stream.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.out)
	for {
		if !q.hasPending() {
			select {
			case <-ctx.Done():
				return
			case <-q.signal:
				continue
			}
		}
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		n, p, ok := q.pop()
		if !ok {
			continue
		}
		rel := Release{
			Notification: n,
			Priority:     p,
			Route:        n.Route(),
		}
		if q.sound() {
			rel.Sound = SoundFor(n.Type)
		}
		select {
		case <-ctx.Done():
			return
		case q.out <- rel:
		}
	}
}

func (q *Queue) hasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, list := range q.pending {
		if len(list) > 0 {
			return true
		}
	}
	return false
}

// pop removes the oldest entry of the highest non-empty class.
func (q *Queue) pop() (model.Notification, Priority, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := numPriorities - 1; p >= PriorityLow; p-- {
		list := q.pending[p]
		if len(list) == 0 {
			continue
		}
		n := list[0]
		copy(list, list[1:])
		q.pending[p] = list[:len(list)-1]
		return n, p, true
	}
	return model.Notification{}, PriorityLow, false
}
