package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Seen ids live for a day (a "session" from the toast-dedup point of view);
// the sound preference is kept until changed.
const seenTTL = 24 * time.Hour

type Client struct {
	cli     *redis.Client
	seenKey string
	prefKey string
}

func New(ctx context.Context, url, userID string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{
		cli:     cli,
		seenKey: "seen:" + userID,
		prefKey: "pref:sound:" + userID,
	}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// MarkSeen adds a surfaced notification id to the session set.
func (c *Client) MarkSeen(ctx context.Context, id string) error {
	pipe := c.cli.Pipeline()
	pipe.SAdd(ctx, c.seenKey, id)
	pipe.Expire(ctx, c.seenKey, seenTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SeenIDs returns every id surfaced during the current session.
func (c *Client) SeenIDs(ctx context.Context) ([]string, error) {
	ids, err := c.cli.SMembers(ctx, c.seenKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}

func (c *Client) SetSoundEnabled(ctx context.Context, enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	return c.cli.Set(ctx, c.prefKey, val, 0).Err()
}

// SoundEnabled returns the stored preference; ok is false when the user has
// never set one and the configured default applies.
func (c *Client) SoundEnabled(ctx context.Context) (bool, bool, error) {
	val, err := c.cli.Get(ctx, c.prefKey).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}
