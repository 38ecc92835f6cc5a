package httpapi

import (
	"encoding/base64"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
)

const (
	// MessageIDKey is the metadata key carrying the id assigned by the sending API
	MessageIDKey = "pairlink.messageId"

	// DefaultMaxStreamPayload caps the payload bytes buffered per streamed message
	DefaultMaxStreamPayload = 4 << 20

	subscriberBuffer = 64
)

// Hub fans received messages out to SSE subscribers.
// It is a pairlink.Observer and reads payloads only while someone is subscribed.
type Hub struct {
	logger     *zap.Logger
	maxPayload int64

	mu          sync.RWMutex
	subscribers map[uint64]chan MessageStreamEvent
	nextID      uint64
	closed      bool
}

// NewHub creates a hub buffering at most maxPayload bytes per message (0 = default)
func NewHub(maxPayload int64, logger *zap.Logger) *Hub {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxStreamPayload
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:      logger,
		maxPayload:  maxPayload,
		subscribers: make(map[uint64]chan MessageStreamEvent),
	}
}

// Subscribe returns a channel of received messages and a function that removes it.
// The channel is closed on cancel or when the hub closes.
func (h *Hub) Subscribe() (<-chan MessageStreamEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan MessageStreamEvent, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(sub)
			}
		})
	}
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}

func (h *Hub) OnClusterHealthy()   {}
func (h *Hub) OnClusterUnhealthy() {}

// OnMessageReceived buffers the payload and publishes it to every subscriber.
// Slow subscribers miss messages rather than stalling the link.
func (h *Hub) OnMessageReceived(msg pairlink.Message) {
	if h.Subscribers() == 0 {
		return
	}
	if msg.ContentLength > h.maxPayload {
		h.logger.Warn("Message too large to stream",
			zap.Int64("content_length", msg.ContentLength),
			zap.Int64("max", h.maxPayload))
		return
	}

	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("Failed to read message payload", zap.Error(err))
		return
	}

	h.publish(newStreamEvent(msg.Metadata, data))
}

func (h *Hub) publish(ev MessageStreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("Dropping message for slow stream subscriber", zap.Uint64("subscriber", id))
		}
	}
}

func newStreamEvent(metadata map[string]any, data []byte) MessageStreamEvent {
	ev := MessageStreamEvent{
		MessageID:     messageID(metadata),
		Metadata:      metadata,
		ContentLength: int64(len(data)),
		ReceivedAt:    time.Now().UTC(),
	}
	if utf8.Valid(data) {
		ev.Payload = string(data)
	} else {
		ev.PayloadBase64 = base64.StdEncoding.EncodeToString(data)
	}
	return ev
}

// messageID returns the sender-assigned id, or a fresh one for messages sent without the API
func messageID(metadata map[string]any) string {
	if id, ok := metadata[MessageIDKey].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

var _ pairlink.Observer = (*Hub)(nil)
