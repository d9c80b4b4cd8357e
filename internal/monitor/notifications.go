package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/q360/livemonitor/internal/livechannel"
	"github.com/q360/livemonitor/internal/logger"
	"github.com/q360/livemonitor/pkg/types"
)

const (
	maxNotifications = 5
	restTimeout      = 10 * time.Second
)

// NotificationAPI is the REST side of the notification feed.
type NotificationAPI interface {
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
}

// NotificationSnapshot is the view state of the notification feed.
type NotificationSnapshot struct {
	Conn     ConnStatus
	Items    []types.Notification // newest first
	Unread   int
	Badge    string
	Activity []Activity
}

// BadgeText formats the unread counter the way the bell shows it.
func BadgeText(unread int) string {
	switch {
	case unread <= 0:
		return ""
	case unread > 99:
		return "99+"
	default:
		return strconv.Itoa(unread)
	}
}

// NotificationFeed follows /ws/notifications/.
type NotificationFeed struct {
	*tracker
	ch  Channel
	api NotificationAPI
	log *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	items    []types.Notification
	unread   int
	onNotify func(types.Notification)
}

// NewNotificationFeed wires the notification handler onto ch. api may be
// nil, in which case the unread counter is kept locally only.
func NewNotificationFeed(ch Channel, api NotificationAPI, log *logger.Logger) *NotificationFeed {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &NotificationFeed{
		tracker: newTracker("notifications", ch),
		ch:      ch,
		api:     api,
		log:     log.Component("notifications"),
		ctx:     ctx,
		cancel:  cancel,
	}

	ch.OnMessage(types.KindNotification, f.handleNotification)
	ch.OnError(func(err error) {
		f.log.Warn().Err(err).Msg("Dropped notification message")
		f.note("error", err.Error())
	})
	ch.OnOpen(f.syncUnread)
	return f
}

// OnNotification sets a callback run for every received notification.
func (f *NotificationFeed) OnNotification(fn func(types.Notification)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onNotify = fn
}

// Start connects the channel.
func (f *NotificationFeed) Start() {
	f.ch.Connect()
}

// Stop tears the channel down and waits for pending REST calls.
func (f *NotificationFeed) Stop() {
	f.ch.Teardown()
	<-f.ch.Done()
	f.cancel()
	f.wg.Wait()
}

// Reconnect re-arms the channel after it gave up.
func (f *NotificationFeed) Reconnect() error {
	return f.ch.Reset()
}

// Snapshot returns a copy of the current view state.
func (f *NotificationFeed) Snapshot() NotificationSnapshot {
	conn, activity := f.snapshot()

	f.mu.RLock()
	defer f.mu.RUnlock()
	return NotificationSnapshot{
		Conn:     conn,
		Items:    append([]types.Notification(nil), f.items...),
		Unread:   f.unread,
		Badge:    BadgeText(f.unread),
		Activity: activity,
	}
}

func (f *NotificationFeed) handleNotification(env livechannel.Envelope) error {
	var n types.Notification
	if err := env.Decode(&n); err != nil {
		return err
	}
	if n.CreatedAt.IsZero() {
		if ts, err := time.Parse(time.RFC3339Nano, env.Field("timestamp").String()); err == nil {
			n.CreatedAt = ts
		}
	}

	f.mu.Lock()
	f.items = append([]types.Notification{n}, f.items...)
	if len(f.items) > maxNotifications {
		f.items = f.items[:maxNotifications]
	}
	if !n.IsRead {
		f.unread++
	}
	fn := f.onNotify
	f.mu.Unlock()

	if fn != nil {
		fn(n)
	}

	f.log.Info().Int64("id", n.ID).Str("title", n.Title).Msg("Notification received")
	f.note("info", fmt.Sprintf("Notification: %s", n.Title))
	f.syncUnread()
	return nil
}

// syncUnread refreshes the counter from the REST API in the background.
func (f *NotificationFeed) syncUnread() {
	if f.api == nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(f.ctx, restTimeout)
		defer cancel()

		count, err := f.api.UnreadCount(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				f.log.Warn().Err(err).Msg("Unread count sync failed")
			}
			return
		}
		f.mu.Lock()
		f.unread = count
		f.mu.Unlock()
		f.signal()
	}()
}

// MarkRead marks a notification as read locally, tells the server over the
// channel when it is open and calls the REST endpoint when configured. The
// badge is then resynced from the server since id may not be held locally.
func (f *NotificationFeed) MarkRead(ctx context.Context, id int64) error {
	f.mu.Lock()
	for i := range f.items {
		if f.items[i].ID == id && !f.items[i].IsRead {
			f.items[i].IsRead = true
			if f.unread > 0 {
				f.unread--
			}
		}
	}
	f.mu.Unlock()
	f.signal()

	cmd := livechannel.NewCommand(types.KindReadNotification).
		With("action", types.KindReadNotification).
		With("notification_id", id)
	if err := f.ch.Send(cmd); err != nil && !errors.Is(err, livechannel.ErrNotConnected) {
		return err
	}

	if f.api == nil {
		return nil
	}
	if err := f.api.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	f.syncUnread()
	return nil
}

// MarkAllRead clears the counter locally and on the server.
func (f *NotificationFeed) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	for i := range f.items {
		f.items[i].IsRead = true
	}
	f.unread = 0
	f.mu.Unlock()
	f.signal()

	if f.api == nil {
		return nil
	}
	if err := f.api.MarkAllRead(ctx); err != nil {
		return err
	}
	f.syncUnread()
	return nil
}
