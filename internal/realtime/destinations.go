package realtime

import "strings"

// Codec selects how a destination's inbound frame bodies are decoded.
type Codec int

const (
	// CodecChat decodes frames as wire.ChatEvent and classifies them by the
	// embedded event type.
	CodecChat Codec = iota
	// CodecNotification decodes frames as wire.NotificationEvent.
	CodecNotification
)

// Destination is a subscribable channel on the broker. Path may contain the
// "{userId}" placeholder, expanded with the connected user at subscribe
// time.
type Destination struct {
	Path  string
	Codec Codec
}

func (d Destination) expand(userID string) string {
	return strings.ReplaceAll(d.Path, "{userId}", userID)
}

// Outbound publish endpoints.
const (
	// TypingDestination receives typing start/stop signals.
	TypingDestination = "/app/typing"
	// MarkSeenDestination receives read-receipt signals.
	MarkSeenDestination = "/app/messages/seen"
)

// ChatDestinations is the fixed destination set of the chat session.
func ChatDestinations() []Destination {
	return []Destination{
		{Path: "/user/{userId}/queue/messages", Codec: CodecChat},
		{Path: "/user/{userId}/queue/typing", Codec: CodecChat},
		{Path: "/user/{userId}/queue/online-status", Codec: CodecChat},
	}
}

// NotificationDestinations is the fixed destination set of the notification
// session.
func NotificationDestinations() []Destination {
	return []Destination{
		{Path: "/user/{userId}/queue/notifications", Codec: CodecNotification},
	}
}
