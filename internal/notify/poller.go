package notify

import (
	"context"
	"time"

	"github.com/studycircle/internal/logger"
	"github.com/studycircle/internal/model"
)

// maxSyncPages caps how much history one poll walks; older entries converge
// over later polls.
const maxSyncPages = 3

// NotificationFetcher loads one notification page. Implemented by the REST
// client.
type NotificationFetcher interface {
	Notifications(ctx context.Context, page, size int) ([]model.Notification, bool, error)
}

// Poller periodically pulls the authoritative notification list and merges it
// into the store. Poll failures are logged and retried on the next tick; the
// live push path is unaffected.
type Poller struct {
	store    *Store
	fetcher  NotificationFetcher
	interval time.Duration
	pageSize int
}

func NewPoller(store *Store, fetcher NotificationFetcher, interval time.Duration, pageSize int) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Poller{store: store, fetcher: fetcher, interval: interval, pageSize: pageSize}
}

// Sync runs one fetch-and-merge pass.
func (p *Poller) Sync(ctx context.Context) error {
	for page := 1; page <= maxSyncPages; page++ {
		list, hasMore, err := p.fetcher.Notifications(ctx, page, p.pageSize)
		if err != nil {
			return err
		}
		p.store.MergeSnapshot(list)
		if !hasMore {
			break
		}
	}
	return nil
}

// Run syncs immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if err := p.Sync(ctx); err != nil && ctx.Err() == nil {
		logger.Errorf("notify: initial sync: %v", err)
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Sync(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("notify: poll: %v", err)
			}
		}
	}
}
