package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/pairlink-go/internal/coordinator"
	"github.com/rmacdonaldsmith/pairlink-go/internal/journal"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
)

const (
	// DefaultEventsLimit is the number of journal entries returned without ?limit
	DefaultEventsLimit = 100
	// MaxEventsLimit caps ?limit
	MaxEventsLimit = 1000

	// maxRequestBody bounds POST bodies
	maxRequestBody = 8 << 20
)

// Node is the part of a coordinator node the API operates on
type Node interface {
	Status() coordinator.Status
	SendRouted(msg pairlink.Message) (coordinator.SendResult, error)
	Subscribe(o pairlink.Observer) (cancel func())
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	node              Node
	jwtAuth           *JWTAuth
	hub               *Hub
	journal           journal.Journal
	adminClients      []string
	loginSecret       []byte
	keepaliveInterval time.Duration
	logger            *zap.Logger
}

// NewHandlers creates handlers. j may be nil when no journal is kept.
// An empty loginSecret disables login.
func NewHandlers(node Node, jwtAuth *JWTAuth, hub *Hub, j journal.Journal, adminClients []string, loginSecret string, keepalive time.Duration, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	return &Handlers{
		node:              node,
		jwtAuth:           jwtAuth,
		hub:               hub,
		journal:           j,
		adminClients:      adminClients,
		loginSecret:       []byte(loginSecret),
		keepaliveInterval: keepalive,
		logger:            logger,
	}
}

// Login handles POST /api/v1/auth/login. A token is issued only for the
// configured login secret; admin rights follow the client id.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AuthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.ClientID) < 2 {
		writeError(w, "clientId must be at least 2 characters", http.StatusBadRequest)
		return
	}

	if len(h.loginSecret) == 0 {
		writeError(w, "Login is disabled: no login secret configured", http.StatusForbidden)
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), h.loginSecret) != 1 {
		h.logger.Warn("Rejected login", zap.String("client_id", req.ClientID), zap.String("remote", r.RemoteAddr))
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	isAdmin := slices.Contains(h.adminClients, req.ClientID)
	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Health handles GET /api/v1/health. Unhealthy links answer 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := h.node.Status()
	resp := HealthResponse{
		Healthy:            s.Healthy,
		State:              s.State.String(),
		PeerAddress:        s.PeerAddress,
		ListenAddress:      s.ListenAddress,
		ListenerConnected:  s.ListenerConnected,
		ConnectorConnected: s.ConnectorConnected,
		ConnectorAttempts:  s.ConnectorAttempts,
	}

	statusCode := http.StatusOK
	if !s.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// SendMessage handles POST /api/v1/messages
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := requestPayload(req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	metadata := make(map[string]any, len(req.Metadata)+1)
	maps.Copy(metadata, req.Metadata)
	metadata[MessageIDKey] = id

	res, err := h.node.SendRouted(pairlink.NewMessage(data, metadata))
	if err != nil {
		writeError(w, fmt.Sprintf("Invalid message: %v", err), http.StatusBadRequest)
		return
	}

	kind := journal.KindMessageSent
	statusCode := http.StatusOK
	if !res.Sent {
		kind = journal.KindSendFailed
		statusCode = http.StatusServiceUnavailable
	}
	h.record(r.Context(), journal.Entry{
		Kind:          kind,
		ContentLength: int64(len(data)),
		Metadata:      metadata,
		Detail:        "route=" + res.Route + " client=" + GetClientID(r),
	})

	writeJSON(w, SendResponse{MessageID: id, Sent: res.Sent, Route: res.Route}, statusCode)
}

// StreamMessages handles GET /api/v1/messages/stream as server-sent events
func (h *Handlers) StreamMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events, cancel := h.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(": stream established\n\n")); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEMessage(w, ev); err != nil {
				h.logger.Debug("Stream client went away", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// AdminEvents handles GET /api/v1/admin/events?limit=
func (h *Handlers) AdminEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.journal == nil {
		writeError(w, "Journal is disabled", http.StatusNotFound)
		return
	}

	limit := DefaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = min(n, MaxEventsLimit)
	}

	entries, err := h.journal.Latest(r.Context(), limit)
	if err != nil {
		writeError(w, "Failed to read journal", http.StatusInternalServerError)
		return
	}
	end, err := h.journal.EndOffset(r.Context())
	if err != nil {
		writeError(w, "Failed to read journal", http.StatusInternalServerError)
		return
	}

	writeJSON(w, EventsResponse{Entries: entries, EndOffset: end}, http.StatusOK)
}

func (h *Handlers) record(ctx context.Context, e journal.Entry) {
	if h.journal == nil {
		return
	}
	if _, err := h.journal.Append(ctx, e); err != nil {
		h.logger.Warn("Failed to record journal entry", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

// Helper functions

func requestPayload(req SendRequest) ([]byte, error) {
	switch {
	case req.Payload != "" && req.PayloadBase64 != "":
		return nil, errors.New("payload and payloadBase64 are mutually exclusive")
	case req.PayloadBase64 != "":
		data, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
		if err != nil {
			return nil, fmt.Errorf("payloadBase64 is not valid base64: %w", err)
		}
		return data, nil
	default:
		return []byte(req.Payload), nil
	}
}

// decodeJSON requires a JSON content type and decodes a bounded body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("Content-Type must be application/json")
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("Invalid request body")
	}
	return nil
}

// writeSSEMessage writes ev as an SSE data message
func writeSSEMessage(w http.ResponseWriter, ev MessageStreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
