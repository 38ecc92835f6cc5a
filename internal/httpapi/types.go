package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/pairlink-go/internal/journal"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SendRequest is a message to send to the peer. At most one of Payload and
// PayloadBase64 may be set.
type SendRequest struct {
	Metadata      map[string]any `json:"metadata,omitempty"`
	Payload       string         `json:"payload,omitempty"`
	PayloadBase64 string         `json:"payloadBase64,omitempty"`
}

// SendResponse reports whether a message left this node and over which link
type SendResponse struct {
	MessageID string `json:"messageId"`
	Sent      bool   `json:"sent"`
	Route     string `json:"route"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy            bool   `json:"healthy"`
	State              string `json:"state"`
	PeerAddress        string `json:"peerAddress,omitempty"`
	ListenAddress      string `json:"listenAddress,omitempty"`
	ListenerConnected  bool   `json:"listenerConnected"`
	ConnectorConnected bool   `json:"connectorConnected"`
	ConnectorAttempts  int64  `json:"connectorAttempts"`
}

// MessageStreamEvent is one received message delivered over SSE.
// Payload holds UTF-8 payloads; anything else is in PayloadBase64.
type MessageStreamEvent struct {
	MessageID     string         `json:"messageId"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ContentLength int64          `json:"contentLength"`
	Payload       string         `json:"payload,omitempty"`
	PayloadBase64 string         `json:"payloadBase64,omitempty"`
	ReceivedAt    time.Time      `json:"receivedAt"`
}

// EventsResponse lists journal entries
type EventsResponse struct {
	Entries   []journal.Entry `json:"entries"`
	EndOffset int64           `json:"endOffset"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
