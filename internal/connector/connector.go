// Package connector implements the active role of a node: it keeps one
// outbound link to the peer alive, reconnecting forever at a fixed interval.
package connector

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/pairlink-go/internal/metrics"
	"github.com/rmacdonaldsmith/pairlink-go/internal/transport"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
)

// ErrClosed is returned when starting a closed Connector
var ErrClosed = errors.New("connector is closed")

// Handler receives connector events. Calls come from the reconnect loop
// and the current client's receive goroutine.
type Handler interface {
	ConnectorConnected()
	ConnectorDisconnected()
	ConnectorData(msg pairlink.Message)
}

// Connector owns the outbound link to the peer
type Connector struct {
	config  Config
	handler Handler
	logger  *zap.Logger

	mu      sync.RWMutex
	client  *transport.Client
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool

	attempts atomic.Int64
}

// New creates a connector. It does nothing until Start.
func New(config Config, handler Handler) (*Connector, error) {
	if handler == nil {
		return nil, errors.New("connector handler cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Connector{
		config:  config,
		handler: handler,
		logger:  config.Logger.Named("connector"),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the reconnect loop and returns immediately.
// The loop runs until ctx is done or Close is called. Calling Start again is a no-op.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(loopCtx)

	c.logger.Info("Connector started",
		zap.String("peer_address", c.config.PeerAddress),
		zap.Int("peer_port", c.config.PeerPort),
		zap.Duration("retry_interval", c.config.RetryInterval))
	return nil
}

func (c *Connector) run(ctx context.Context) {
	defer close(c.done)
	for {
		c.attempt(ctx)

		select {
		case <-ctx.Done():
			return
		case <-c.config.Clock.After(c.config.RetryInterval):
		}
	}
}

// attempt replaces the client when there is none or it has disconnected
func (c *Connector) attempt(ctx context.Context) {
	c.mu.RLock()
	current := c.client
	closed := c.closed
	c.mu.RUnlock()

	if closed || ctx.Err() != nil {
		return
	}
	if current != nil && current.Connected() {
		return
	}
	if current != nil {
		_ = current.Close()
	}

	events := &clientEvents{c: c}
	client, err := transport.NewClient(c.config.PeerAddress, c.config.PeerPort, events, c.config.Transport)
	if err != nil {
		c.logger.Error("Failed to create transport client", zap.Error(err))
		c.config.Metrics.ConnectAttempt(metrics.ResultError)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = client.Close()
		return
	}
	events.client = client
	c.client = client
	c.mu.Unlock()

	c.attempts.Add(1)
	err = client.Connect(ctx)
	switch {
	case err == nil:
		c.config.Metrics.ConnectAttempt(metrics.ResultSuccess)
	case errors.Is(err, transport.ErrAuthenticationFailed), errors.Is(err, transport.ErrPresharedKeyRequired):
		c.logger.Warn("Authentication with peer failed", zap.String("peer", client.Target()), zap.Error(err))
		c.config.Metrics.ConnectAttempt(metrics.ResultAuthFailure)
	case ctx.Err() != nil, errors.Is(err, transport.ErrClosed):
		// shutting down
	default:
		c.logger.Debug("Peer not reachable, will retry", zap.String("peer", client.Target()), zap.Error(err))
		c.config.Metrics.ConnectAttempt(metrics.ResultError)
	}
}

// Connected reports whether the current client is connected
func (c *Connector) Connected() bool {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	return client != nil && client.Connected()
}

// Send writes a message over the outbound link.
// It returns false when not connected or the send fails.
func (c *Connector) Send(metadata map[string]any, length int64, r io.Reader) bool {
	if length < 0 || (length > 0 && r == nil) {
		return false
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.Connected() {
		return false
	}
	if err := client.Send(metadata, length, r); err != nil {
		c.logger.Debug("Send over connector failed", zap.Error(err))
		return false
	}
	return true
}

// Attempts returns the number of transport clients created so far
func (c *Connector) Attempts() int64 {
	return c.attempts.Load()
}

// Done is closed once the reconnect loop has exited
func (c *Connector) Done() <-chan struct{} {
	return c.done
}

// Close stops the reconnect loop and closes the current client.
// Safe to call multiple times.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	client := c.client
	started := c.started
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		close(c.done)
	}

	var err error
	if client != nil {
		err = client.Close()
	}
	c.logger.Info("Connector closed")
	return err
}

// clientEvents forwards a transport client's events to the connector handler.
// Link changes of a client that has since been replaced are dropped.
type clientEvents struct {
	c      *Connector
	client *transport.Client
}

func (e *clientEvents) current() bool {
	e.c.mu.RLock()
	defer e.c.mu.RUnlock()
	return e.client != nil && e.c.client == e.client
}

func (e *clientEvents) ServerConnected() {
	if !e.current() {
		return
	}
	e.c.config.Metrics.LinkChanged(metrics.RoleConnector, true)
	e.c.handler.ConnectorConnected()
}

func (e *clientEvents) ServerDisconnected() {
	if !e.current() {
		e.c.logger.Debug("Ignoring disconnect of a replaced client")
		return
	}
	e.c.config.Metrics.LinkChanged(metrics.RoleConnector, false)
	e.c.handler.ConnectorDisconnected()
}

func (e *clientEvents) ServerMessage(msg pairlink.Message) {
	e.c.config.Metrics.MessageReceived(metrics.RoleConnector, msg.ContentLength)
	e.c.handler.ConnectorData(msg)
}
