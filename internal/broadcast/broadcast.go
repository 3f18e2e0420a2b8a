// Package broadcast is a best-effort same-origin broadcast between surfaces
// (tabs, shells) of the same user. The tab that owns the live connection
// publishes surfaced notifications; other tabs use them only to keep their
// unread badge in sync, never to re-toast. When no backend is available the
// system still converges within one polling interval.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/studycircle/internal/model"
)

// Message is the lightweight cross-tab payload: enough to sync the unread
// badge, not the full notification.
type Message struct {
	TabID          string                 `json:"tab_id"`
	NotificationID string                 `json:"notification_id"`
	Type           model.NotificationType `json:"type"`
	Title          string                 `json:"title"`
	Unread         int                    `json:"unread"`
	SentAt         time.Time              `json:"sent_at"`
}

// Broadcaster publishes to and subscribes from the same-origin channel.
// Delivery echoes the publisher's own messages too; consumers drop those by
// comparing TabID against their own.
type Broadcaster interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(h func(Message)) (unsubscribe func())
	Close() error
}

// Noop degrades gracefully when no broadcast backend is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Message) error { return nil }
func (Noop) Subscribe(func(Message)) func()         { return func() {} }
func (Noop) Close() error                           { return nil }

// Bus is the in-process implementation, used when all surfaces share one
// bridge process, and in tests.
type Bus struct {
	mu     sync.Mutex
	next   int
	subs   map[int]func(Message)
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Message))}
}

func (b *Bus) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	hs := make([]func(Message), 0, len(b.subs))
	for _, h := range b.subs {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(msg)
	}
	return nil
}

func (b *Bus) Subscribe(h func(Message)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[int]func(Message))
	b.mu.Unlock()
	return nil
}
