// Package model defines the client-side chat entities shared by the REST
// layer, the realtime layer, and the state stores.
package model

import "time"

// MessageStatus is the delivery state of a message as seen by this client.
type MessageStatus string

const (
	// StatusSending marks an optimistic placeholder that has not been
	// acknowledged by the server yet.
	StatusSending MessageStatus = "sending"
	// StatusSent marks a server-confirmed message.
	StatusSent MessageStatus = "sent"
	// StatusSeen marks a message covered by a read receipt.
	StatusSeen MessageStatus = "seen"
	// StatusError marks a failed optimistic send. Errored messages stay in
	// the list so the UI can surface a retry affordance.
	StatusError MessageStatus = "error"
)

// Attachment is a media item carried by a message.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Message is a single chat message.
//
// ID is server-assigned except for optimistic placeholders, which carry a
// client-generated temporary identifier until the send is acknowledged.
type Message struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chatId"`
	SenderID    string        `json:"senderId"`
	Content     string        `json:"content"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	Status      MessageStatus `json:"status"`
}

// Chat is a conversation summary as shown in the chat list.
type Chat struct {
	ID                string    `json:"id"`
	ParticipantID     string    `json:"participantId"`
	ParticipantName   string    `json:"participantName,omitempty"`
	LastMessage       string    `json:"lastMessage"`
	LastMessageAt     time.Time `json:"lastMessageAt"`
	LastMessageSender string    `json:"lastMessageSender"`
	UnreadCount       int       `json:"unreadCount"`
}

// Notification is a push-style notification entry.
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actorId,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}
