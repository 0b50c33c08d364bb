package store

import (
	"sync"

	"github.com/pulsesocial/pulse-go/internal/model"
	"github.com/pulsesocial/pulse-go/internal/wire"
)

// NotificationStore is the observable list of push notifications, newest
// first, deduplicated by notification ID.
type NotificationStore struct {
	mu       sync.Mutex
	items    []model.Notification
	onChange func()
}

// NewNotificationStore creates an empty notification store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{}
}

// SetOnChange registers a hook invoked after every state change.
func (s *NotificationStore) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *NotificationStore) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Receive applies a push-delivered notification event. Duplicates by ID
// are dropped.
func (s *NotificationStore) Receive(evt *wire.NotificationEvent) {
	if evt == nil || evt.ID == "" {
		return
	}
	s.mu.Lock()
	for _, n := range s.items {
		if n.ID == evt.ID {
			s.mu.Unlock()
			return
		}
	}
	s.items = append([]model.Notification{evt.Notification()}, s.items...)
	s.mu.Unlock()
	s.notify()
}

// Notifications returns a copy of the list, newest first.
func (s *NotificationStore) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.items...)
}

// UnreadCount returns the number of unread notifications.
func (s *NotificationStore) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkAllRead flags every notification as read.
func (s *NotificationStore) MarkAllRead() {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.mu.Unlock()
	s.notify()
}

// Clear drops all notifications. Used on user switch.
func (s *NotificationStore) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
	s.notify()
}
