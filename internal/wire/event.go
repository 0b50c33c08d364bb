// Package wire defines the frame bodies exchanged with the realtime backend
// and the decoding applied to inbound frames.
package wire

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/pulsesocial/pulse-go/internal/model"
)

// EventType is the discriminator embedded in every inbound frame body.
type EventType string

const (
	EventNewMessage  EventType = "NEW_MESSAGE"
	EventMessageRead EventType = "MESSAGE_READ"
	EventTyping      EventType = "TYPING"
	EventUserOnline  EventType = "USER_ONLINE"
	EventUserOffline EventType = "USER_OFFLINE"
)

// ChatEvent is the structured body of a frame on any of the chat
// destinations (message inbox, typing channel, presence channel).
type ChatEvent struct {
	Type        EventType          `json:"type"`
	ChatID      string             `json:"chatId,omitempty"`
	MessageID   string             `json:"messageId,omitempty"`
	SenderID    string             `json:"senderId,omitempty"`
	Content     string             `json:"content,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time          `json:"createdAt,omitempty"`
	ReadBy      []string           `json:"readBy,omitempty"`
	IsTyping    bool               `json:"isTyping,omitempty"`
}

// Message converts a NEW_MESSAGE event into a model.Message with the given
// delivery status.
func (e *ChatEvent) Message(status model.MessageStatus) model.Message {
	return model.Message{
		ID:          e.MessageID,
		ChatID:      e.ChatID,
		SenderID:    e.SenderID,
		Content:     e.Content,
		Attachments: e.Attachments,
		CreatedAt:   e.CreatedAt,
		Status:      status,
	}
}

// NotificationEvent is the structured body of a frame on the per-user
// notification topic.
type NotificationEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actorId,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Notification converts the event into a model.Notification.
func (e *NotificationEvent) Notification() model.Notification {
	return model.Notification{
		ID:        e.ID,
		Kind:      e.Kind,
		ActorID:   e.ActorID,
		Text:      e.Text,
		CreatedAt: e.CreatedAt,
	}
}

// TypingSignal is the outbound payload published on the typing endpoint.
type TypingSignal struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// DecodeChatEvent parses an inbound chat frame body. A missing type
// discriminator is an error so that junk frames are dropped at the edge.
func DecodeChatEvent(body []byte) (*ChatEvent, error) {
	var evt ChatEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, errors.Wrap(err, "decode chat event")
	}
	switch evt.Type {
	case EventNewMessage, EventMessageRead, EventTyping, EventUserOnline, EventUserOffline:
		return &evt, nil
	default:
		return nil, errors.Errorf("unknown event type %q", evt.Type)
	}
}

// DecodeNotificationEvent parses an inbound notification frame body.
func DecodeNotificationEvent(body []byte) (*NotificationEvent, error) {
	var evt NotificationEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, errors.Wrap(err, "decode notification event")
	}
	if evt.ID == "" {
		return nil, errors.New("notification event missing id")
	}
	return &evt, nil
}
