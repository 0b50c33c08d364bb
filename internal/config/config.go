package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the environment does not override them.
const (
	DefaultServerURL            = "https://api.pulse-social.app"
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultTypingDebounce       = 3 * time.Second
)

type Config struct {
	// ServerURL is the base URL of the Pulse REST API.
	ServerURL string
	// ChatSocketURL is the websocket endpoint of the chat STOMP broker.
	ChatSocketURL string
	// NotificationSocketURL is the websocket endpoint of the notification
	// STOMP broker.
	NotificationSocketURL string

	// HeartbeatInterval is the STOMP heart-beat interval in both directions.
	HeartbeatInterval time.Duration
	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds automatic reconnects before giving up.
	MaxReconnectAttempts int
	// TypingDebounce is the idle window before an automatic typing-stop.
	TypingDebounce time.Duration

	// Debug enables verbose logging.
	Debug bool
}

// Load loads configuration from environment and defaults.
func Load() (*Config, error) {
	serverURL := strings.TrimRight(getenvFirst("PULSE_SERVER_URL", "PULSE_API_URL"), "/")
	if serverURL == "" {
		serverURL = DefaultServerURL
	}

	chatWS := os.Getenv("PULSE_CHAT_WS_URL")
	if chatWS == "" {
		chatWS = socketURL(serverURL, "/ws/chat")
	}
	notifWS := os.Getenv("PULSE_NOTIFICATION_WS_URL")
	if notifWS == "" {
		notifWS = socketURL(serverURL, "/ws/notifications")
	}

	heartbeat, err := durationEnv("PULSE_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval)
	if err != nil {
		return nil, err
	}
	reconnectDelay, err := durationEnv("PULSE_RECONNECT_DELAY", DefaultReconnectDelay)
	if err != nil {
		return nil, err
	}
	typingDebounce, err := durationEnv("PULSE_TYPING_DEBOUNCE", DefaultTypingDebounce)
	if err != nil {
		return nil, err
	}

	maxAttempts := DefaultMaxReconnectAttempts
	if raw := os.Getenv("PULSE_MAX_RECONNECT_ATTEMPTS"); raw != "" {
		maxAttempts, err = strconv.Atoi(raw)
		if err != nil || maxAttempts < 0 {
			return nil, fmt.Errorf("invalid PULSE_MAX_RECONNECT_ATTEMPTS %q", raw)
		}
	}

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	if !debug {
		debug = os.Getenv("PULSE_DEBUG") == "true" || os.Getenv("PULSE_DEBUG") == "1"
	}

	return &Config{
		ServerURL:             serverURL,
		ChatSocketURL:         chatWS,
		NotificationSocketURL: notifWS,
		HeartbeatInterval:     heartbeat,
		ReconnectDelay:        reconnectDelay,
		MaxReconnectAttempts:  maxAttempts,
		TypingDebounce:        typingDebounce,
		Debug:                 debug,
	}, nil
}

// socketURL derives a ws(s):// endpoint from the REST base URL.
func socketURL(serverURL, path string) string {
	ws := strings.Replace(serverURL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return ws + path
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return d, nil
}

func getenvFirst(primary, fallback string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	return os.Getenv(fallback)
}
