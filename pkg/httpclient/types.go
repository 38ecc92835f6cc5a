package httpclient

import (
	"fmt"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the pairlink admin API (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier presented at login
	ClientID string

	// Secret is the server's login secret
	Secret string

	// Token reuses a previously issued token instead of calling Authenticate
	Token string

	// Timeout for non-streaming HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// APIError is a non-success response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SendRequest is a message for the peer; set Payload or PayloadBase64
type SendRequest struct {
	Metadata      map[string]any `json:"metadata,omitempty"`
	Payload       string         `json:"payload,omitempty"`
	PayloadBase64 string         `json:"payloadBase64,omitempty"`
}

// SendResponse reports whether the message left the node and over which link
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

// MessageStreamEvent is a message received from the peer
type MessageStreamEvent struct {
	MessageID     string         `json:"messageId"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ContentLength int64          `json:"contentLength"`
	Payload       string         `json:"payload,omitempty"`
	PayloadBase64 string         `json:"payloadBase64,omitempty"`
	ReceivedAt    time.Time      `json:"receivedAt"`
}

// JournalEntry is one recorded link event
type JournalEntry struct {
	ID            string         `json:"id"`
	Offset        int64          `json:"offset"`
	Kind          string         `json:"kind"`
	Time          time.Time      `json:"time"`
	ContentLength int64          `json:"contentLength,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Detail        string         `json:"detail,omitempty"`
}

// EventsResponse lists journal entries
type EventsResponse struct {
	Entries   []JournalEntry `json:"entries"`
	EndOffset int64          `json:"endOffset"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
