// Package push hands released notifications to the platform's native
// notification channel (Web Push) when no surface is focused, so
// high-priority events still reach the user.
package push

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/studycircle/internal/logger"
)

// Subscription is the browser push subscription shape.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Sender delivers Web Push notifications to the session's registered
// subscriptions. A Sender with no subscriptions or keys is a no-op.
type Sender struct {
	vapid *webpush.Options

	mu   sync.Mutex
	subs []Subscription
}

// NewSender builds a sender from a VAPID key pair and a subscriptions file
// (JSON array of Subscription). Either may be missing; sending is then
// disabled while the rest of the pipeline keeps working.
func NewSender(keysFile, subsFile, subscriber string) *Sender {
	s := &Sender{}

	if subsFile == "" {
		return s
	}
	keys, err := EnsureVAPIDKeys(keysFile)
	if err != nil {
		logger.Errorf("push: VAPID keys: %v (native notifications disabled)", err)
		return s
	}
	s.vapid = &webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		TTL:             30,
	}

	data, err := os.ReadFile(subsFile)
	if err != nil {
		logger.Errorf("push: read subscriptions %s: %v (native notifications disabled)", subsFile, err)
		return s
	}
	var subs []Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		logger.Errorf("push: parse subscriptions %s: %v (native notifications disabled)", subsFile, err)
		return s
	}
	s.subs = subs
	return s
}

// Enabled reports whether sending is configured.
func (s *Sender) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vapid != nil && len(s.subs) > 0
}

// Notify sends one push to every live subscription. Gone subscriptions
// (404/410) are dropped from the set.
func (s *Sender) Notify(ctx context.Context, title, body string, data map[string]string) {
	s.mu.Lock()
	vapid := s.vapid
	subs := make([]Subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	if vapid == nil || len(subs) == 0 {
		return
	}

	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, vapid)
		if err != nil {
			logger.Errorf("push: send %s: %v", truncate(sub.Endpoint, 50), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			s.remove(sub.Endpoint)
		}
	}
}

func (s *Sender) remove(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if sub.Endpoint != endpoint {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
