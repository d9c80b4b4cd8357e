package web

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/q360/livemonitor/pkg/types"
)

const maxStoredNotifications = 500

// NotificationStore keeps the notifications of the single dev-server user
type NotificationStore struct {
	mu     sync.RWMutex
	items  []types.Notification // oldest first
	nextID int64
	clock  clockwork.Clock
}

// NewNotificationStore creates an empty store
func NewNotificationStore(clock clockwork.Clock) *NotificationStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &NotificationStore{nextID: 1, clock: clock}
}

// Add stores n as unread and returns it with ID and creation time set
func (s *NotificationStore) Add(n types.Notification) types.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = s.nextID
	s.nextID++
	n.IsRead = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock.Now()
	}
	if n.Type == "" {
		n.Type = "info"
	}

	s.items = append(s.items, n)
	if len(s.items) > maxStoredNotifications {
		s.items = append([]types.Notification(nil), s.items[len(s.items)-maxStoredNotifications:]...)
	}
	return n
}

// Recent returns up to limit notifications, newest first
func (s *NotificationStore) Recent(limit int) []types.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Notification, 0, limit)
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.items[i])
	}
	return out
}

// Unread counts unread notifications
func (s *NotificationStore) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// MarkRead marks one notification as read. It reports false for unknown IDs.
func (s *NotificationStore) MarkRead(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].IsRead = true
			return true
		}
	}
	return false
}

// MarkAllRead marks everything as read and returns how many changed
func (s *NotificationStore) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			n++
		}
	}
	return n
}
