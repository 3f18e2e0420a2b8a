package memory

import (
	"context"
	"sync"
	"time"
)

const seenTTL = 24 * time.Hour

type Client struct {
	mu       sync.RWMutex
	seen     map[string]time.Time
	sound    bool
	soundSet bool
}

func New() *Client {
	return &Client{seen: make(map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) MarkSeen(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[id] = time.Now().Add(seenTTL)
	return nil
}

func (c *Client) SeenIDs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	ids := make([]string, 0, len(c.seen))
	for id, exp := range c.seen {
		if now.Before(exp) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Client) SetSoundEnabled(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sound = enabled
	c.soundSet = true
	return nil
}

func (c *Client) SoundEnabled(ctx context.Context) (bool, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sound, c.soundSet, nil
}
