package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StreamClient receives peer messages over Server-Sent Events
type StreamClient struct {
	client   *Client
	messages chan MessageStreamEvent
	errors   chan error
	done     chan struct{}
	cancel   context.CancelFunc
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// BufferSize for the message channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// Stream opens the message stream and reconnects until ctx ends or Close is called
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	config.SetDefaults()
	streamCtx, cancel := context.WithCancel(ctx)

	sc := &StreamClient{
		client:   c,
		messages: make(chan MessageStreamEvent, config.BufferSize),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go sc.startStreaming(streamCtx, config)
	return sc, nil
}

// Messages returns the channel of received messages
func (sc *StreamClient) Messages() <-chan MessageStreamEvent {
	return sc.messages
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the stream and waits for the reader to exit
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.messages)
	defer close(sc.errors)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if err := sc.connectAndStream(ctx); err != nil && ctx.Err() == nil {
			sc.reportError(fmt.Errorf("streaming error: %w", err))
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			sc.reportError(fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts))
			return
		}
		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// reportError never blocks; errors are dropped when nobody reads them
func (sc *StreamClient) reportError(err error) {
	select {
	case sc.errors <- err:
	default:
	}
}

// connectAndStream establishes the SSE connection and processes messages
func (sc *StreamClient) connectAndStream(ctx context.Context) error {
	streamURL := sc.client.baseURL.ResolveReference(&url.URL{Path: "/api/v1/messages/stream"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	resp, err := sc.client.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}

	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads "data:" lines; comments and other fields are ignored
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var msg MessageStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			sc.reportError(fmt.Errorf("failed to parse message: %w", err))
			continue
		}

		select {
		case sc.messages <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
