// Package listener implements the passive role of a node: it accepts links
// from the permitted peer addresses and tracks which of them are connected.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rmacdonaldsmith/pairlink-go/internal/metrics"
	"github.com/rmacdonaldsmith/pairlink-go/internal/transport"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
)

// ErrClosed is returned when starting a closed Listener
var ErrClosed = errors.New("listener is closed")

// Handler receives listener events, keyed by the peer's "ip:port" address.
// Calls come from the transport goroutine serving each peer.
type Handler interface {
	PeerConnected(addr string)
	PeerDisconnected(addr string)
	ListenerData(addr string, msg pairlink.Message)
}

// Listener owns the inbound side of the link
type Listener struct {
	config  Config
	handler Handler
	logger  *zap.Logger

	mu      sync.RWMutex
	server  *transport.Server
	started bool
	closed  bool
}

// New creates a listener. It does not bind until Start.
func New(config Config, handler Handler) (*Listener, error) {
	if handler == nil {
		return nil, errors.New("listener handler cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Listener{
		config:  config,
		handler: handler,
		logger:  config.Logger.Named("listener"),
	}, nil
}

// Start resolves the permitted addresses, binds and begins accepting.
// Accepting continues in the background until Close. Calling Start again is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.started {
		return nil
	}

	permitted, err := l.config.Discovery.PermittedAddresses(ctx)
	if err != nil {
		return fmt.Errorf("resolve permitted addresses: %w", err)
	}

	server, err := transport.NewServer(l.config.BindAddress, l.config.Port, permitted, serverEvents{l}, l.config.Transport)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	l.server = server
	l.started = true
	l.logger.Info("Listener started", zap.Stringer("address", server.Addr()), zap.Strings("permitted", permitted))
	return nil
}

// Addr returns the bound address, or nil before Start
func (l *Listener) Addr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.server == nil {
		return nil
	}
	return l.server.Addr()
}

// IsConnected reports whether the peer at addr currently has a link open
func (l *Listener) IsConnected(addr string) bool {
	if addr == "" {
		return false
	}
	l.mu.RLock()
	server := l.server
	l.mu.RUnlock()
	return server != nil && server.IsConnected(addr)
}

// ConnectedPeers returns the addresses of all connected peers
func (l *Listener) ConnectedPeers() []string {
	l.mu.RLock()
	server := l.server
	l.mu.RUnlock()
	if server == nil {
		return nil
	}
	return server.ConnectedPeers()
}

// Send writes a message to the peer at addr.
// It returns false when the listener is not started, addr is not connected,
// the input is invalid, or the send fails.
func (l *Listener) Send(addr string, metadata map[string]any, length int64, r io.Reader) bool {
	if addr == "" || length < 0 || (length > 0 && r == nil) {
		return false
	}

	l.mu.RLock()
	server := l.server
	l.mu.RUnlock()

	if server == nil || !server.IsConnected(addr) {
		return false
	}
	if err := server.Send(addr, metadata, length, r); err != nil {
		l.logger.Debug("Send over listener failed", zap.String("peer", addr), zap.Error(err))
		return false
	}
	return true
}

// Close stops accepting and drops all links. Safe to call multiple times.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	server := l.server
	l.mu.Unlock()

	if server == nil {
		return nil
	}
	err := server.Close()
	l.logger.Info("Listener closed")
	return err
}

// serverEvents forwards transport server events to the listener handler
type serverEvents struct {
	l *Listener
}

func (e serverEvents) ClientConnected(addr string) {
	e.l.config.Metrics.LinkChanged(metrics.RoleListener, true)
	e.l.handler.PeerConnected(addr)
}

func (e serverEvents) ClientDisconnected(addr string) {
	e.l.config.Metrics.LinkChanged(metrics.RoleListener, false)
	e.l.handler.PeerDisconnected(addr)
}

func (e serverEvents) ClientMessage(addr string, msg pairlink.Message) {
	e.l.config.Metrics.MessageReceived(metrics.RoleListener, msg.ContentLength)
	e.l.handler.ListenerData(addr, msg)
}
