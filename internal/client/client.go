// Package client wires the realtime core together: one Client per session
// owns the transport subscriptions, the reconciliation stores, the typing
// coordinator and the notification pipeline, with explicit Start/Close so
// nothing leaks across login/logout.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/studycircle/internal/broadcast"
	"github.com/studycircle/internal/config"
	"github.com/studycircle/internal/logger"
	"github.com/studycircle/internal/model"
	"github.com/studycircle/internal/notify"
	"github.com/studycircle/internal/push"
	"github.com/studycircle/internal/rest"
	"github.com/studycircle/internal/rooms"
	"github.com/studycircle/internal/storage"
	"github.com/studycircle/internal/threads"
	"github.com/studycircle/internal/transport"
	"github.com/studycircle/internal/typing"
)

const messagePageSize = 50

// Options carries the externally constructed collaborators.
type Options struct {
	Cfg       *config.Config
	Transport *transport.Transport
	REST      *rest.Client
	Prefs     storage.PrefsStore
	Broadcast broadcast.Broadcaster
	Push      *push.Sender
}

// Client is the session-scoped realtime core.
type Client struct {
	cfg    *config.Config
	tabID  string
	selfID string

	tr    *transport.Transport
	restc *rest.Client
	prefs storage.PrefsStore
	bus   broadcast.Broadcaster
	psh   *push.Sender

	tracker    *rooms.Tracker
	threads    *threads.Store
	typing     *typing.Coordinator
	notifStore *notify.Store
	filter     *notify.Filter
	queue      *notify.Queue
	poller     *notify.Poller
	overrides  map[model.NotificationType]notify.Priority

	focused      atomic.Bool
	soundEnabled atomic.Bool
	tabSync      atomic.Bool

	mu      sync.Mutex
	unsubs  []func()
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup

	toastMu   sync.Mutex
	toastNext int
	toastSubs map[int]chan notify.Release
}

func New(opts Options) *Client {
	cfg := opts.Cfg
	c := &Client{
		cfg:       cfg,
		tabID:     uuid.New().String(),
		selfID:    cfg.UserID,
		tr:        opts.Transport,
		restc:     opts.REST,
		prefs:     opts.Prefs,
		bus:       opts.Broadcast,
		psh:       opts.Push,
		toastSubs: make(map[int]chan notify.Release),
	}
	c.focused.Store(true)

	c.overrides = parseOverrides(cfg.PriorityClasses)
	lowPriority := make([]model.NotificationType, 0, len(cfg.LowPriorityTypes))
	for _, t := range cfg.LowPriorityTypes {
		lowPriority = append(lowPriority, model.NotificationType(t))
	}

	c.tracker = rooms.NewTracker(c.tr)
	c.threads = threads.NewStore(c.selfID, c.restc, messagePageSize)
	c.typing = typing.NewCoordinator(c.selfID, c.emitTyping, cfg.Timing.TypingIdle, cfg.Timing.TypingTTL)
	c.notifStore = notify.NewStore()
	c.filter = notify.NewFilter(c.prefs, lowPriority)
	c.queue = notify.NewQueue(cfg.Timing.ReleaseInterval, c.soundEnabled.Load)
	c.poller = notify.NewPoller(c.notifStore, c.restc, cfg.Timing.PollInterval, 50)
	return c
}

func parseOverrides(classes map[string]string) map[model.NotificationType]notify.Priority {
	out := make(map[model.NotificationType]notify.Priority, len(classes))
	for t, cls := range classes {
		p, ok := notify.ParseClass(cls)
		if !ok {
			logger.Errorf("client: unknown priority class %q for type %q, ignored", cls, t)
			continue
		}
		out[model.NotificationType(t)] = p
	}
	return out
}

// Start connects the transport, loads the initial state and launches the
// pipeline loops. A failed thread-list load is logged and left to
// RefreshThreads; a failed notification sync is retried by the poller.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if ids, err := c.prefs.SeenIDs(ctx); err != nil {
		logger.Errorf("client: load seen ids: %v", err)
	} else {
		c.filter.Hydrate(ids)
	}
	enabled := c.cfg.SoundDefault
	if v, ok, err := c.prefs.SoundEnabled(ctx); err != nil {
		logger.Errorf("client: load sound pref: %v", err)
	} else if ok {
		enabled = v
	}
	c.soundEnabled.Store(enabled)

	c.subscribeTransport()

	if err := c.tr.Connect(runCtx); err != nil {
		cancel()
		return err
	}

	if err := c.RefreshThreads(ctx); err != nil {
		logger.Errorf("client: initial thread list: %v", err)
	}

	busUnsub := c.bus.Subscribe(c.onTabMessage)
	c.mu.Lock()
	c.unsubs = append(c.unsubs, busUnsub)
	c.mu.Unlock()

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.queue.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.poller.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.consumeReleases()
	}()
	return nil
}

// Close tears the session down: every transport listener is unsubscribed and
// every pending timer cancelled. Safe to call once per Start.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	c.typing.Close()
	c.tracker.Close()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.toastMu.Lock()
	for id, ch := range c.toastSubs {
		close(ch)
		delete(c.toastSubs, id)
	}
	c.toastMu.Unlock()
}

func (c *Client) subscribeTransport() {
	subs := []func(){
		c.tr.On(transport.EventNewMessage, c.onNewMessage),
		c.tr.On(transport.EventMessageEdited, c.onMessageEdited),
		c.tr.On(transport.EventMessageDeleted, c.onMessageDeleted),
		c.tr.On(transport.EventUserTyping, c.onUserTyping),
		c.tr.On(transport.EventConversationRead, c.onConversationRead),
		c.tr.On(transport.EventNotification, c.onNotification),
		c.tr.On(transport.EventConnectError, func(raw json.RawMessage) {
			var p transport.ConnectErrorPayload
			if json.Unmarshal(raw, &p) == nil {
				logger.Errorf("client: connect error: %s", p.Error)
			}
		}),
	}
	c.mu.Lock()
	c.unsubs = append(c.unsubs, subs...)
	c.mu.Unlock()
}

// --- transport event handlers ---

func (c *Client) onNewMessage(raw json.RawMessage) {
	var m model.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		logger.Errorf("client: new_message decode: %v", err)
		return
	}
	c.threads.ApplyPush(c.restc.SanitizeMessage(m))
}

func (c *Client) onMessageEdited(raw json.RawMessage) {
	var p transport.MessageEditedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	c.threads.ApplyEdit(p)
}

func (c *Client) onMessageDeleted(raw json.RawMessage) {
	var p transport.MessageDeletedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	c.threads.ApplyDelete(p)
}

func (c *Client) onUserTyping(raw json.RawMessage) {
	var p transport.TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if p.IsTyping {
		c.typing.RemoteStart(p.ThreadID, p.UserID)
	} else {
		c.typing.RemoteStop(p.ThreadID, p.UserID)
	}
}

// onConversationRead syncs read state across the user's own devices; peer
// read receipts are presentation detail the bridge does not track.
func (c *Client) onConversationRead(raw json.RawMessage) {
	var p transport.ConversationReadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if p.UserID == c.selfID {
		c.threads.AckRead(p.ThreadID)
	}
}

func (c *Client) onNotification(raw json.RawMessage) {
	var n model.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		logger.Errorf("client: notification decode: %v", err)
		return
	}
	n = c.restc.SanitizeNotification(n)

	isNew := c.notifStore.MergePush(n)
	if !isNew {
		return
	}
	if !c.filter.Surface(n) {
		// Counted in state, not surfaced.
		return
	}
	c.queue.Enqueue(n, notify.PriorityFor(n.Type, c.overrides))
}

func (c *Client) emitTyping(threadID string, isTyping bool) {
	err := c.tr.Emit(transport.EventTyping, transport.TypingPayload{
		ThreadID: threadID,
		IsTyping: isTyping,
	})
	if err != nil && err != transport.ErrNotConnected {
		logger.Errorf("client: emit typing: %v", err)
	}
}

// consumeReleases drains the priority queue: each release fans out to toast
// subscribers, is broadcast to sibling tabs, and is handed to Web Push when
// no surface is focused and the class is high enough.
func (c *Client) consumeReleases() {
	for rel := range c.queue.Releases() {
		c.fanOutToast(rel)

		msg := broadcast.Message{
			TabID:          c.tabID,
			NotificationID: rel.Notification.ID,
			Type:           rel.Notification.Type,
			Title:          rel.Notification.Title,
			Unread:         c.notifStore.Unread(),
			SentAt:         time.Now().UTC(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.bus.Publish(ctx, msg); err != nil {
			logger.Errorf("client: broadcast publish: %v", err)
		}

		if !c.focused.Load() && rel.Priority >= notify.PriorityHigh && c.psh.Enabled() {
			c.psh.Notify(ctx, rel.Notification.Title, rel.Notification.Message, map[string]string{
				"notification_id": rel.Notification.ID,
				"route":           rel.Route,
			})
		}
		cancel()
	}
}

func (c *Client) fanOutToast(rel notify.Release) {
	c.toastMu.Lock()
	defer c.toastMu.Unlock()
	for _, ch := range c.toastSubs {
		select {
		case ch <- rel:
		default:
			// Slow subscriber: skip rather than stall the release loop.
		}
	}
}

// onTabMessage handles a sibling tab's broadcast: remember the id as already
// surfaced so a duplicate push here never re-toasts, then pull the merged set
// forward so the badge reflects what the sibling saw. The sibling's Unread
// field is advisory only; the count is always recomputed from our own merge.
func (c *Client) onTabMessage(msg broadcast.Message) {
	if msg.TabID == c.tabID {
		return
	}
	c.filter.MarkSeen(msg.NotificationID)
	if c.tabSync.CompareAndSwap(false, true) {
		go func() {
			defer c.tabSync.Store(false)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.poller.Sync(ctx); err != nil {
				logger.Errorf("client: cross-tab sync: %v", err)
			}
		}()
	}
}

// --- presentation-layer API ---

// SubscribeToasts returns a channel of released notifications and its
// unsubscribe function.
func (c *Client) SubscribeToasts() (<-chan notify.Release, func()) {
	ch := make(chan notify.Release, 16)
	c.toastMu.Lock()
	id := c.toastNext
	c.toastNext++
	c.toastSubs[id] = ch
	c.toastMu.Unlock()
	return ch, func() {
		c.toastMu.Lock()
		if _, ok := c.toastSubs[id]; ok {
			delete(c.toastSubs, id)
			close(ch)
		}
		c.toastMu.Unlock()
	}
}

// RefreshThreads reloads the authoritative thread list and (re)joins all
// rooms.
func (c *Client) RefreshThreads(ctx context.Context) error {
	list, err := c.restc.Threads(ctx)
	if err != nil {
		return err
	}
	c.threads.SetThreads(list)
	ids := make([]string, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.ID)
	}
	c.tracker.SetThreads(ids)
	return nil
}

// OpenThread makes threadID the active conversation: loads its first page,
// acknowledges it as read and points the suppression filter at it.
func (c *Client) OpenThread(ctx context.Context, threadID string) error {
	c.tracker.Track(threadID)
	c.filter.SetActiveThread(threadID)
	if err := c.threads.Activate(ctx, threadID); err != nil {
		return err
	}
	c.ackRead(ctx, threadID)
	return nil
}

// CloseThread leaves the active view. Later pushes for the thread only
// update its unread counter.
func (c *Client) CloseThread() {
	c.filter.SetActiveThread("")
	c.threads.Deactivate()
}

// MarkThreadRead acknowledges the thread explicitly (e.g. from the thread
// list without opening it).
func (c *Client) MarkThreadRead(ctx context.Context, threadID string) {
	c.ackRead(ctx, threadID)
}

func (c *Client) ackRead(ctx context.Context, threadID string) {
	c.threads.AckRead(threadID)
	if err := c.tr.Emit(transport.EventMarkRead, transport.MarkReadPayload{ThreadID: threadID}); err != nil {
		if err := c.restc.MarkThreadRead(ctx, threadID); err != nil {
			logger.Errorf("client: mark thread read %s: %v", threadID, err)
		}
	}
}

// SendMessage sends over the socket, falling back to REST while
// disconnected. The local echo is reconciled by id so the eventual push
// replay never duplicates it.
func (c *Client) SendMessage(ctx context.Context, threadID, content string) error {
	c.typing.Stopped(threadID)
	err := c.tr.Emit(transport.EventSendMessage, transport.SendMessagePayload{
		ThreadID:    threadID,
		Content:     content,
		ContentType: string(model.ContentTypeText),
	})
	if err == nil {
		return nil
	}
	if err != transport.ErrNotConnected && err != transport.ErrSendBufferFull {
		return err
	}
	m, err := c.restc.SendMessage(ctx, threadID, content, model.ContentTypeText)
	if err != nil {
		return err
	}
	c.threads.ApplyPush(m)
	return nil
}

// LoadOlderMessages pages further back in the active thread.
func (c *Client) LoadOlderMessages(ctx context.Context) error {
	return c.threads.LoadOlder(ctx)
}

// TypingInput forwards a local keystroke in a thread.
func (c *Client) TypingInput(threadID string) {
	c.typing.InputChanged(threadID)
}

// TypingStopped forwards a local blur.
func (c *Client) TypingStopped(threadID string) {
	c.typing.Stopped(threadID)
}

// Typists returns the remote typists of a thread.
func (c *Client) Typists(threadID string) []string {
	return c.typing.Typists(threadID)
}

// Threads returns the thread summaries.
func (c *Client) Threads() []model.Thread {
	return c.threads.Threads()
}

// Messages returns the active thread's messages.
func (c *Client) Messages() []model.Message {
	return c.threads.Messages()
}

// ActiveThreadID returns the id of the active conversation, "" if none.
func (c *Client) ActiveThreadID() string {
	return c.threads.ActiveID()
}

// Notifications returns the merged feed, newest first.
func (c *Client) Notifications() []model.Notification {
	return c.notifStore.List()
}

// UnreadNotifications returns the merged unread count.
func (c *Client) UnreadNotifications() int {
	return c.notifStore.Unread()
}

// UnreadMessages sums the per-thread unread counters.
func (c *Client) UnreadMessages() int {
	return c.threads.TotalUnread()
}

// MarkNotificationRead acknowledges one notification.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if err := c.restc.MarkNotificationRead(ctx, id); err != nil {
		return err
	}
	c.notifStore.MarkRead(id, time.Now().UTC())
	return nil
}

// MarkAllNotificationsRead acknowledges the whole feed.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.restc.MarkAllNotificationsRead(ctx); err != nil {
		return err
	}
	c.notifStore.MarkAllRead(time.Now().UTC())
	return nil
}

// OpenNotification is the toast click handler: mark read and resolve the
// navigation target.
func (c *Client) OpenNotification(ctx context.Context, id string) (string, error) {
	n, ok := c.notifStore.Get(id)
	if !ok {
		return "", ErrUnknownNotification
	}
	if err := c.MarkNotificationRead(ctx, id); err != nil {
		return "", err
	}
	return n.Route(), nil
}

// SetFocused records foreground focus of the presentation surface.
func (c *Client) SetFocused(focused bool) {
	c.focused.Store(focused)
	c.filter.SetFocused(focused)
}

// SoundEnabled returns the current sound preference.
func (c *Client) SoundEnabled() bool {
	return c.soundEnabled.Load()
}

// SetSoundEnabled stores the sound preference.
func (c *Client) SetSoundEnabled(ctx context.Context, enabled bool) error {
	c.soundEnabled.Store(enabled)
	return c.prefs.SetSoundEnabled(ctx, enabled)
}

// ConnectionState exposes the transport state for the disconnected
// indicator.
func (c *Client) ConnectionState() transport.State {
	return c.tr.State()
}
