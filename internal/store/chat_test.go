package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pulsesocial/pulse-go/internal/api"
	"github.com/pulsesocial/pulse-go/internal/model"
	"github.com/pulsesocial/pulse-go/internal/wire"
)

type fakeAPI struct {
	mu sync.Mutex

	chats    []model.Chat
	pages    map[int][]model.Message
	hasMore  map[int]bool
	sendResp *model.Message
	sendErr  error

	// sendStarted/sendRelease let a test interleave a push event with an
	// in-flight send acknowledgment.
	sendStarted chan struct{}
	sendRelease chan struct{}

	markReadErr   error
	markReadCalls int
	deletedChats  []string
	deletedMsgs   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:   make(map[int][]model.Message),
		hasMore: make(map[int]bool),
	}
}

func (f *fakeAPI) ListChats(context.Context) ([]model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Chat(nil), f.chats...), nil
}

func (f *fakeAPI) CreateOrGetChat(_ context.Context, participantID string) (*model.Chat, error) {
	return &model.Chat{ID: "chat-" + participantID, ParticipantID: participantID}, nil
}

func (f *fakeAPI) ListMessages(_ context.Context, _ string, page, _ int) ([]model.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[page], f.hasMore[page], nil
}

func (f *fakeAPI) SendMessage(_ context.Context, chatID, content string, _ []api.Upload) (*model.Message, error) {
	if f.sendStarted != nil {
		close(f.sendStarted)
		f.sendStarted = nil
	}
	if f.sendRelease != nil {
		<-f.sendRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.sendResp != nil {
		return f.sendResp, nil
	}
	return &model.Message{
		ID:        "m-confirmed",
		ChatID:    chatID,
		SenderID:  "me",
		Content:   content,
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedMsgs = append(f.deletedMsgs, messageID)
	return nil
}

func (f *fakeAPI) DeleteChat(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedChats = append(f.deletedChats, chatID)
	return nil
}

func (f *fakeAPI) MarkAsRead(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	return f.markReadErr
}

func msgEvent(chatID, messageID, senderID, content string) *wire.ChatEvent {
	return &wire.ChatEvent{
		Type:      wire.EventNewMessage,
		ChatID:    chatID,
		MessageID: messageID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func TestChatStore_SendMessageOptimisticThenConfirmed(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	s := NewChatStore(f, "me")

	tempID := s.SendMessage(context.Background(), "c1", "hello", nil)
	require.True(t, strings.HasPrefix(tempID, "temp-"))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	require.Equal(t, "m-confirmed", msgs[0].ID)
	require.Equal(t, model.StatusSent, msgs[0].Status)

	chat, ok := s.Chat("c1")
	require.True(t, ok)
	require.Equal(t, "hello", chat.LastMessage)
	require.Equal(t, "me", chat.LastMessageSender)
	require.Zero(t, chat.UnreadCount)
}

func TestChatStore_SendMessageFailureKeepsErrorPlaceholder(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	f.sendErr = errors.New("server rejected")
	s := NewChatStore(f, "me")

	tempID := s.SendMessage(context.Background(), "c1", "hello", nil)

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	require.Equal(t, tempID, msgs[0].ID)
	require.Equal(t, model.StatusError, msgs[0].Status)
	require.Equal(t, "hello", msgs[0].Content)

	// No automatic retry: the list is unchanged afterwards.
	time.Sleep(20 * time.Millisecond)
	require.Len(t, s.Messages("c1"), 1)
}

func TestChatStore_DedupWhenPushArrivesBeforeAck(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	f.sendStarted = make(chan struct{})
	f.sendRelease = make(chan struct{})
	f.sendResp = &model.Message{ID: "m1", ChatID: "c1", SenderID: "me", Content: "hello"}
	s := NewChatStore(f, "me")

	started := f.sendStarted
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.SendMessage(context.Background(), "c1", "hello", nil)
	}()

	<-started
	// The push copy of the same message lands before the HTTP ack.
	s.ReceiveNewMessage(msgEvent("c1", "m1", "me", "hello"))
	close(f.sendRelease)
	<-done

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)

	chat, _ := s.Chat("c1")
	require.Zero(t, chat.UnreadCount)
}

func TestChatStore_DedupWhenAckArrivesBeforePush(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	f.sendResp = &model.Message{ID: "m1", ChatID: "c1", SenderID: "me", Content: "hello"}
	s := NewChatStore(f, "me")

	s.SendMessage(context.Background(), "c1", "hello", nil)
	s.ReceiveNewMessage(msgEvent("c1", "m1", "me", "hello"))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)
}

func TestChatStore_ReceiveNewMessageUnreadCounting(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	s := NewChatStore(f, "me")

	s.ReceiveNewMessage(msgEvent("c1", "m1", "them", "hi"))
	s.ReceiveNewMessage(msgEvent("c1", "m2", "them", "there"))
	s.ReceiveNewMessage(msgEvent("c1", "m3", "me", "own message"))

	chat, ok := s.Chat("c1")
	require.True(t, ok)
	require.Equal(t, 2, chat.UnreadCount)

	// Newest first.
	msgs := s.Messages("c1")
	require.Equal(t, []string{"m3", "m2", "m1"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestChatStore_ReceiveNewMessageRequiresIdentifiers(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	s := NewChatStore(f, "me")

	s.ReceiveNewMessage(&wire.ChatEvent{Type: wire.EventNewMessage, ChatID: "c1"})
	s.ReceiveNewMessage(&wire.ChatEvent{Type: wire.EventNewMessage, MessageID: "m1"})
	s.ReceiveNewMessage(nil)

	require.Empty(t, s.Messages("c1"))
}

func TestChatStore_MarkAsReadIsFireAndForget(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	f.markReadErr = errors.New("network down")
	s := NewChatStore(f, "me")

	s.ReceiveNewMessage(msgEvent("c1", "m1", "them", "hi"))
	chat, _ := s.Chat("c1")
	require.Equal(t, 1, chat.UnreadCount)

	s.MarkAsRead(context.Background(), "c1")

	// Zeroed locally despite the server failure; no rollback.
	chat, _ = s.Chat("c1")
	require.Zero(t, chat.UnreadCount)
	require.Equal(t, 1, f.markReadCalls)

	// Own messages never re-increment the counter.
	s.ReceiveNewMessage(msgEvent("c1", "m2", "me", "mine"))
	chat, _ = s.Chat("c1")
	require.Zero(t, chat.UnreadCount)
}

func TestChatStore_ReadReceiptMarksOwnMessagesSeen(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	f.sendResp = &model.Message{ID: "m1", ChatID: "c1", SenderID: "me", Content: "hello"}
	s := NewChatStore(f, "me")

	s.SendMessage(context.Background(), "c1", "hello", nil)
	s.ReceiveNewMessage(msgEvent("c1", "m2", "them", "reply"))

	s.ApplyReadReceipt(&wire.ChatEvent{Type: wire.EventMessageRead, ChatID: "c1", SenderID: "them"})

	for _, msg := range s.Messages("c1") {
		if msg.SenderID == "me" {
			require.Equal(t, model.StatusSeen, msg.Status)
		} else {
			require.Equal(t, model.StatusSent, msg.Status)
		}
	}
}

func TestChatStore_PresenceSet(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	s := NewChatStore(f, "me")

	s.ApplyPresence(&wire.ChatEvent{Type: wire.EventUserOnline, SenderID: "u2"})
	require.True(t, s.IsOnline("u2"))

	// Membership is a set: repeated online events are idempotent.
	s.ApplyPresence(&wire.ChatEvent{Type: wire.EventUserOnline, SenderID: "u2"})
	require.True(t, s.IsOnline("u2"))

	s.ApplyPresence(&wire.ChatEvent{Type: wire.EventUserOffline, SenderID: "u2"})
	require.False(t, s.IsOnline("u2"))
}

func TestChatStore_TypingMap(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	s := NewChatStore(f, "me")

	s.ApplyTyping(&wire.ChatEvent{Type: wire.EventTyping, ChatID: "c1", SenderID: "u2", IsTyping: true})
	s.ApplyTyping(&wire.ChatEvent{Type: wire.EventTyping, ChatID: "c1", SenderID: "u3", IsTyping: true})
	s.ApplyTyping(&wire.ChatEvent{Type: wire.EventTyping, ChatID: "c1", SenderID: "u2", IsTyping: true})
	require.Equal(t, []string{"u2", "u3"}, s.TypingUsers("c1"))

	s.ApplyTyping(&wire.ChatEvent{Type: wire.EventTyping, ChatID: "c1", SenderID: "u2", IsTyping: false})
	require.Equal(t, []string{"u3"}, s.TypingUsers("c1"))
}

func TestChatStore_LoadMessagesPaginates(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	f.pages[0] = []model.Message{{ID: "m2", ChatID: "c1"}, {ID: "m1", ChatID: "c1"}}
	f.hasMore[0] = true
	f.pages[1] = []model.Message{{ID: "m0", ChatID: "c1"}, {ID: "m1", ChatID: "c1"}}
	s := NewChatStore(f, "me")

	require.NoError(t, s.LoadMessages(context.Background(), "c1"))
	require.NoError(t, s.LoadMessages(context.Background(), "c1"))

	// Older pages append below; the overlapping m1 is not duplicated.
	msgs := s.Messages("c1")
	require.Equal(t, []string{"m2", "m1", "m0"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	// Exhausted history is a no-op.
	require.NoError(t, s.LoadMessages(context.Background(), "c1"))
	require.Len(t, s.Messages("c1"), 3)
}

func TestChatStore_DeleteChatPurgesCache(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	s := NewChatStore(f, "me")

	s.ReceiveNewMessage(msgEvent("c1", "m1", "them", "hi"))
	require.NoError(t, s.DeleteChat(context.Background(), "c1"))

	_, ok := s.Chat("c1")
	require.False(t, ok)
	require.Empty(t, s.Messages("c1"))
	require.Equal(t, []string{"c1"}, f.deletedChats)
}

func TestChatStore_OnChangeFires(t *testing.T) {
	t.Parallel()

	f := newFakeAPI()
	s := NewChatStore(f, "me")

	var mu sync.Mutex
	changes := 0
	s.SetOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	s.ReceiveNewMessage(msgEvent("c1", "m1", "them", "hi"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, changes)
}
