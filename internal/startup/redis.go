package startup

import (
	"context"
	"os"
	"time"

	"github.com/studycircle/internal/logger"
	redisstorage "github.com/studycircle/internal/storage/redis"
)

// ConnectRedisWithRetry connects the prefs store to Redis with retries.
// logPrefix is prepended to log lines (e.g. "bridge: ").
func ConnectRedisWithRetry(redisURL, userID string, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisstorage.New(ctx, redisURL, userID)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}
