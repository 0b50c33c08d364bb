// Package store holds the client-side observable state fed by the REST API
// and the realtime event stream. All mutation goes through the exported
// action methods; state is reconciled against server responses and push
// events by message identifier, never by arrival order.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsesocial/pulse-go/internal/api"
	"github.com/pulsesocial/pulse-go/internal/model"
	"github.com/pulsesocial/pulse-go/internal/wire"
	"github.com/pulsesocial/pulse-go/pkg/logger"
)

// messagePageSize is the page size requested from the message history API.
const messagePageSize = 30

// API is the REST surface the chat store depends on.
type API interface {
	ListChats(ctx context.Context) ([]model.Chat, error)
	CreateOrGetChat(ctx context.Context, participantID string) (*model.Chat, error)
	ListMessages(ctx context.Context, chatID string, page, size int) ([]model.Message, bool, error)
	SendMessage(ctx context.Context, chatID, content string, uploads []api.Upload) (*model.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	DeleteChat(ctx context.Context, chatID string) error
	MarkAsRead(ctx context.Context, chatID string) error
}

type pageCursor struct {
	page    int
	hasMore bool
	loaded  bool
}

// ChatStore is the single authoritative container for chats, per-chat
// message lists (newest first), the online-user set, and the typing map.
type ChatStore struct {
	api         API
	localUserID string

	mu       sync.Mutex
	chats    map[string]*model.Chat
	messages map[string][]model.Message
	cursors  map[string]*pageCursor
	online   map[string]struct{}
	typing   map[string][]string
	onChange func()

	// now is a seam for tests.
	now func() time.Time
}

// NewChatStore creates an empty store for the given local user.
func NewChatStore(restAPI API, localUserID string) *ChatStore {
	return &ChatStore{
		api:         restAPI,
		localUserID: localUserID,
		chats:       make(map[string]*model.Chat),
		messages:    make(map[string][]model.Message),
		cursors:     make(map[string]*pageCursor),
		online:      make(map[string]struct{}),
		typing:      make(map[string][]string),
		now:         time.Now,
	}
}

// SetOnChange registers a hook invoked after every state change. Intended
// for UI invalidation; the hook must not call back into the store actions
// synchronously from itself.
func (s *ChatStore) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *ChatStore) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// LoadChats hydrates the chat list from the server, replacing the local
// chat summaries but leaving message caches untouched.
func (s *ChatStore) LoadChats(ctx context.Context) error {
	chats, err := s.api.ListChats(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.chats = make(map[string]*model.Chat, len(chats))
	for i := range chats {
		c := chats[i]
		s.chats[c.ID] = &c
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// CreateOrGetChat returns the chat with the given participant, creating it
// server-side when needed, and hydrates it into the store.
func (s *ChatStore) CreateOrGetChat(ctx context.Context, participantID string) (*model.Chat, error) {
	chat, err := s.api.CreateOrGetChat(ctx, participantID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if existing, ok := s.chats[chat.ID]; ok {
		chat = existing
	} else {
		s.chats[chat.ID] = chat
	}
	out := *chat
	s.mu.Unlock()
	s.notify()
	return &out, nil
}

// LoadMessages fetches the next history page for a chat and appends it
// below the already-cached messages. A chat with no further pages is a
// no-op.
func (s *ChatStore) LoadMessages(ctx context.Context, chatID string) error {
	s.mu.Lock()
	cur, ok := s.cursors[chatID]
	if !ok {
		cur = &pageCursor{}
		s.cursors[chatID] = cur
	}
	if cur.loaded && !cur.hasMore {
		s.mu.Unlock()
		return nil
	}
	page := cur.page
	s.mu.Unlock()

	msgs, hasMore, err := s.api.ListMessages(ctx, chatID, page, messagePageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	list := s.messages[chatID]
	for _, m := range msgs {
		if indexOf(list, m.ID) >= 0 {
			continue
		}
		if m.Status == "" {
			m.Status = model.StatusSent
		}
		list = append(list, m)
	}
	s.messages[chatID] = list
	cur.page = page + 1
	cur.hasMore = hasMore
	cur.loaded = true
	s.mu.Unlock()
	s.notify()
	return nil
}

// SendMessage applies the optimistic-send protocol: a placeholder with a
// client-generated temporary identifier goes in immediately with status
// "sending"; the server response replaces it, unless the push channel beat
// the acknowledgment, in which case the confirmed copy is already present
// and only the placeholder is removed. On failure the placeholder stays,
// marked "error", and is never retried automatically.
//
// The returned identifier is the placeholder's temporary ID.
func (s *ChatStore) SendMessage(ctx context.Context, chatID, content string, uploads []api.Upload) string {
	tempID := "temp-" + uuid.NewString()
	placeholder := model.Message{
		ID:        tempID,
		ChatID:    chatID,
		SenderID:  s.localUserID,
		Content:   content,
		CreatedAt: s.now(),
		Status:    model.StatusSending,
	}

	s.mu.Lock()
	s.messages[chatID] = prepend(s.messages[chatID], placeholder)
	s.mu.Unlock()
	s.notify()

	confirmed, err := s.api.SendMessage(ctx, chatID, content, uploads)
	if err != nil {
		logger.Warnf("store: send to chat %s failed: %v", chatID, err)
		s.mu.Lock()
		if i := indexOf(s.messages[chatID], tempID); i >= 0 {
			s.messages[chatID][i].Status = model.StatusError
		}
		s.mu.Unlock()
		s.notify()
		return tempID
	}

	s.mu.Lock()
	list := removeID(s.messages[chatID], tempID)
	if indexOf(list, confirmed.ID) < 0 {
		msg := *confirmed
		if msg.Status == "" || msg.Status == model.StatusSending {
			msg.Status = model.StatusSent
		}
		list = prepend(list, msg)
	}
	s.messages[chatID] = list
	chat := s.ensureChatLocked(chatID)
	chat.LastMessage = confirmed.Content
	chat.LastMessageAt = confirmed.CreatedAt
	chat.LastMessageSender = confirmed.SenderID
	s.mu.Unlock()
	s.notify()
	return tempID
}

// ReceiveNewMessage applies a push-delivered NEW_MESSAGE event. Events
// without both a chat and a message identifier are dropped, as are
// duplicates of messages already present (the optimistic-send path may
// have inserted the confirmed copy first).
func (s *ChatStore) ReceiveNewMessage(evt *wire.ChatEvent) {
	if evt == nil || evt.ChatID == "" || evt.MessageID == "" {
		logger.Warnf("store: ignoring message event without chat/message id")
		return
	}

	s.mu.Lock()
	if indexOf(s.messages[evt.ChatID], evt.MessageID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.messages[evt.ChatID] = prepend(s.messages[evt.ChatID], evt.Message(model.StatusSent))
	chat := s.ensureChatLocked(evt.ChatID)
	chat.LastMessage = evt.Content
	chat.LastMessageAt = evt.CreatedAt
	chat.LastMessageSender = evt.SenderID
	if evt.SenderID != s.localUserID {
		chat.UnreadCount++
	}
	s.mu.Unlock()
	s.notify()
}

// ApplyReadReceipt marks the local user's delivered messages in the chat
// as seen by the reading participant.
func (s *ChatStore) ApplyReadReceipt(evt *wire.ChatEvent) {
	if evt == nil || evt.ChatID == "" {
		return
	}
	s.mu.Lock()
	list := s.messages[evt.ChatID]
	for i := range list {
		if list[i].SenderID == s.localUserID && list[i].Status == model.StatusSent {
			list[i].Status = model.StatusSeen
		}
	}
	s.mu.Unlock()
	s.notify()
}

// MarkAsRead optimistically zeroes the chat's unread counter and tells the
// server. The server call is fire-and-forget: a failure is logged but the
// local counter is not rolled back.
func (s *ChatStore) MarkAsRead(ctx context.Context, chatID string) {
	s.mu.Lock()
	if chat, ok := s.chats[chatID]; ok {
		chat.UnreadCount = 0
	}
	s.mu.Unlock()
	s.notify()

	if err := s.api.MarkAsRead(ctx, chatID); err != nil {
		logger.Warnf("store: mark-as-read for chat %s failed: %v", chatID, err)
	}
}

// DeleteMessage removes a message server-side and from the local cache.
func (s *ChatStore) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if err := s.api.DeleteMessage(ctx, chatID, messageID); err != nil {
		return err
	}
	s.mu.Lock()
	s.messages[chatID] = removeID(s.messages[chatID], messageID)
	if chat, ok := s.chats[chatID]; ok {
		if list := s.messages[chatID]; len(list) > 0 {
			head := list[0]
			chat.LastMessage = head.Content
			chat.LastMessageAt = head.CreatedAt
			chat.LastMessageSender = head.SenderID
		} else {
			chat.LastMessage = ""
			chat.LastMessageSender = ""
		}
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// DeleteChat removes a chat server-side and purges its local message
// cache, cursor, and typing entries.
func (s *ChatStore) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.api.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	delete(s.cursors, chatID)
	delete(s.typing, chatID)
	s.mu.Unlock()
	s.notify()
	return nil
}

// ApplyPresence updates the online-user set from a presence event.
// Presence is push-driven only; there is no TTL.
func (s *ChatStore) ApplyPresence(evt *wire.ChatEvent) {
	if evt == nil || evt.SenderID == "" {
		return
	}
	s.mu.Lock()
	switch evt.Type {
	case wire.EventUserOnline:
		s.online[evt.SenderID] = struct{}{}
	case wire.EventUserOffline:
		delete(s.online, evt.SenderID)
	}
	s.mu.Unlock()
	s.notify()
}

// ApplyTyping updates the per-chat typing list from a typing event.
func (s *ChatStore) ApplyTyping(evt *wire.ChatEvent) {
	if evt == nil || evt.ChatID == "" || evt.SenderID == "" {
		return
	}
	s.mu.Lock()
	users := s.typing[evt.ChatID]
	idx := -1
	for i, u := range users {
		if u == evt.SenderID {
			idx = i
			break
		}
	}
	if evt.IsTyping && idx < 0 {
		s.typing[evt.ChatID] = append(users, evt.SenderID)
	} else if !evt.IsTyping && idx >= 0 {
		s.typing[evt.ChatID] = append(users[:idx], users[idx+1:]...)
	}
	s.mu.Unlock()
	s.notify()
}

// HandleEvent routes a realtime chat event to the matching store action.
func (s *ChatStore) HandleEvent(evt *wire.ChatEvent) {
	if evt == nil {
		return
	}
	switch evt.Type {
	case wire.EventNewMessage:
		s.ReceiveNewMessage(evt)
	case wire.EventMessageRead:
		s.ApplyReadReceipt(evt)
	case wire.EventTyping:
		s.ApplyTyping(evt)
	case wire.EventUserOnline, wire.EventUserOffline:
		s.ApplyPresence(evt)
	}
}

// Chats returns the chat summaries ordered by most recent activity.
func (s *ChatStore) Chats() []model.Chat {
	s.mu.Lock()
	out := make([]model.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, *c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Chat returns one chat summary.
func (s *ChatStore) Chat(chatID string) (model.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok {
		return *c, true
	}
	return model.Chat{}, false
}

// Messages returns a copy of the chat's cached messages, newest first.
func (s *ChatStore) Messages(chatID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages[chatID]...)
}

// IsOnline reports whether a user currently has presence.
func (s *ChatStore) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

// TypingUsers returns the users currently typing in a chat.
func (s *ChatStore) TypingUsers(chatID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typing[chatID]...)
}

// ensureChatLocked returns the chat, creating a stub when a push event
// references a chat the list-fetch has not delivered yet.
func (s *ChatStore) ensureChatLocked(chatID string) *model.Chat {
	if c, ok := s.chats[chatID]; ok {
		return c
	}
	c := &model.Chat{ID: chatID}
	s.chats[chatID] = c
	return c
}

func indexOf(list []model.Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func prepend(list []model.Message, msg model.Message) []model.Message {
	return append([]model.Message{msg}, list...)
}

func removeID(list []model.Message, id string) []model.Message {
	if i := indexOf(list, id); i >= 0 {
		return append(list[:i], list[i+1:]...)
	}
	return list
}
