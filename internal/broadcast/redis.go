package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/studycircle/internal/logger"
)

const channelPrefix = "tabs:"

// RedisBus broadcasts across bridge processes through a Redis pub/sub
// channel scoped to the user. Used when surfaces run in separate processes.
type RedisBus struct {
	cli     *redis.Client
	channel string
	pubsub  *redis.PubSub
	cancel  context.CancelFunc

	mu   sync.Mutex
	next int
	subs map[int]func(Message)
}

func NewRedisBus(ctx context.Context, url, userID string) (*RedisBus, error) {
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

	b := &RedisBus{
		cli:     cli,
		channel: channelPrefix + userID,
		subs:    make(map[int]func(Message)),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.pubsub = cli.Subscribe(runCtx, b.channel)
	go b.receive(runCtx)
	return b, nil
}

func (b *RedisBus) receive(ctx context.Context) {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logger.Errorf("broadcast: decode: %v", err)
				continue
			}
			b.mu.Lock()
			hs := make([]func(Message), 0, len(b.subs))
			for _, h := range b.subs {
				hs = append(hs, h)
			}
			b.mu.Unlock()
			for _, h := range hs {
				h(msg)
			}
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.cli.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBus) Subscribe(h func(Message)) func() {
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

func (b *RedisBus) Close() error {
	b.cancel()
	if err := b.pubsub.Close(); err != nil {
		logger.Errorf("broadcast: pubsub close: %v", err)
	}
	return b.cli.Close()
}
