// Package coordinator implements the consumer-facing side of a pairlink node.
//
// A Node owns one Listener and one Connector pointed at the same peer. It
// aggregates their link states into a single health signal, debounces
// unhealthy notifications, and routes sends over whichever link is live.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rmacdonaldsmith/pairlink-go/internal/connector"
	"github.com/rmacdonaldsmith/pairlink-go/internal/listener"
	"github.com/rmacdonaldsmith/pairlink-go/internal/metrics"
	"github.com/rmacdonaldsmith/pairlink-go/internal/transport"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when starting a closed node
var ErrClosed = errors.New("node is closed")

var _ pairlink.Node = (*Node)(nil)

// Status is a point-in-time view of a node
type Status struct {
	State              pairlink.NodeState
	Healthy            bool
	PeerAddress        string
	ListenAddress      string
	ListenerConnected  bool
	ConnectorConnected bool
	ConnectorAttempts  int64
}

type notification int

const (
	notifyNone notification = iota
	notifyHealthy
	notifyUnhealthy
)

// Node is one side of a two-node high-availability link
type Node struct {
	config    *Config
	transport transport.Options
	logger    *zap.Logger
	clock     clock.Clock
	metrics   *metrics.Metrics

	// lifecycleMu serializes Start and Close
	lifecycleMu sync.Mutex

	rolesMu   sync.RWMutex
	listener  *listener.Listener
	connector *connector.Connector
	cancel    context.CancelFunc
	started   bool
	closed    bool

	// mu guards the tracked peer address and the notification state
	mu                  sync.Mutex
	peerAddress         string
	lastUnhealthy       time.Time
	lastReportedHealthy bool
	disposed            bool
	pending             []notification
	draining            bool

	observersMu    sync.RWMutex
	observers      map[uint64]pairlink.Observer
	nextObserverID uint64
}

// NewNode creates a node from config. The certificate, if any, is loaded here;
// the listener and connector are created by Start.
func NewNode(config *Config) (*Node, error) {
	if config == nil {
		return nil, ErrNilConfig
	}

	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts, err := cfg.transportOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid transport settings: %w", err)
	}

	return &Node{
		config:    &cfg,
		transport: opts,
		logger:    cfg.Logger.Named("node"),
		clock:     cfg.Clock,
		metrics:   metrics.New(cfg.Registerer),
		observers: make(map[uint64]pairlink.Observer),
	}, nil
}

// Start creates the listener and the connector and starts both.
// It returns once the listener is bound; the connector keeps reconnecting
// in the background until Close. Calling Start again is a no-op.
func (n *Node) Start(ctx context.Context) error {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()

	n.rolesMu.RLock()
	closed, started := n.closed, n.started
	n.rolesMu.RUnlock()
	if closed {
		return ErrClosed
	}
	if started {
		return nil
	}

	l, err := listener.New(listener.Config{
		BindAddress:        n.config.ListenerAddress,
		Port:               n.config.ListenerPort,
		PermittedAddresses: n.config.PermittedAddresses,
		Transport:          n.transport,
		Logger:             n.config.Logger,
		Metrics:            n.metrics,
	}, listenerEvents{n})
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	c, err := connector.New(connector.Config{
		PeerAddress:   n.config.PeerAddress,
		PeerPort:      n.config.PeerPort,
		Transport:     n.transport,
		RetryInterval: n.config.RetryInterval,
		Clock:         n.clock,
		Logger:        n.config.Logger,
		Metrics:       n.metrics,
	}, connectorEvents{n})
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	n.rolesMu.Lock()
	n.listener, n.connector, n.cancel = l, c, cancel
	n.rolesMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Start(gctx) })
	g.Go(func() error { return c.Start(runCtx) })

	if err := g.Wait(); err != nil {
		cancel()
		closeErr := multierr.Combine(c.Close(), l.Close())
		n.rolesMu.Lock()
		n.listener, n.connector, n.cancel = nil, nil, nil
		n.rolesMu.Unlock()
		return multierr.Append(fmt.Errorf("failed to start node: %w", err), closeErr)
	}

	n.rolesMu.Lock()
	n.started = true
	n.rolesMu.Unlock()

	n.logger.Info("Node started",
		zap.Stringer("listen_address", l.Addr()),
		zap.String("peer", net.JoinHostPort(n.config.PeerAddress, fmt.Sprint(n.config.PeerPort))))
	return nil
}

// Subscribe registers an observer and returns a function that removes it
func (n *Node) Subscribe(o pairlink.Observer) (cancel func()) {
	n.observersMu.Lock()
	id := n.nextObserverID
	n.nextObserverID++
	n.observers[id] = o
	n.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.observersMu.Lock()
			delete(n.observers, id)
			n.observersMu.Unlock()
		})
	}
}

func (n *Node) snapshotObservers() []pairlink.Observer {
	n.observersMu.RLock()
	defer n.observersMu.RUnlock()
	list := make([]pairlink.Observer, 0, len(n.observers))
	for _, o := range n.observers {
		list = append(list, o)
	}
	return list
}

func (n *Node) roles() (*listener.Listener, *connector.Connector) {
	n.rolesMu.RLock()
	defer n.rolesMu.RUnlock()
	return n.listener, n.connector
}

// IsHealthy reports whether both links are connected to the tracked peer
func (n *Node) IsHealthy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.healthyLocked()
}

func (n *Node) healthyLocked() bool {
	if n.disposed || n.peerAddress == "" {
		return false
	}
	l, c := n.roles()
	if l == nil || c == nil {
		return false
	}
	return l.IsConnected(n.peerAddress) && c.Connected()
}

// PeerAddress returns the tracked "ip:port" of the peer's inbound link, or ""
func (n *Node) PeerAddress() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peerAddress
}

// ListenAddr returns the listener's bound address, or nil before Start
func (n *Node) ListenAddr() net.Addr {
	l, _ := n.roles()
	if l == nil {
		return nil
	}
	return l.Addr()
}

// State returns the current lifecycle state
func (n *Node) State() pairlink.NodeState {
	return n.Status().State
}

// Status returns a snapshot of the node's state
func (n *Node) Status() Status {
	n.rolesMu.RLock()
	l, c, started, closed := n.listener, n.connector, n.started, n.closed
	n.rolesMu.RUnlock()

	peer := n.PeerAddress()
	s := Status{PeerAddress: peer}

	switch {
	case closed:
		s.State = pairlink.StateDisposed
		return s
	case !started || l == nil || c == nil:
		s.State = pairlink.StateUninitialized
		return s
	}

	if addr := l.Addr(); addr != nil {
		s.ListenAddress = addr.String()
	}
	s.ListenerConnected = peer != "" && l.IsConnected(peer)
	s.ConnectorConnected = c.Connected()
	s.ConnectorAttempts = c.Attempts()
	s.Healthy = s.ListenerConnected && s.ConnectorConnected

	switch {
	case s.Healthy:
		s.State = pairlink.StateHealthy
	case s.ListenerConnected || s.ConnectorConnected:
		s.State = pairlink.StateDegraded
	default:
		s.State = pairlink.StateStarting
	}
	return s
}

// Send sends an in-memory payload to the peer.
// It returns false when no link is available or the input is invalid.
func (n *Node) Send(data []byte, metadata map[string]any) bool {
	return n.sendOrLog(pairlink.NewMessage(data, metadata))
}

// SendStream sends contentLength bytes read from payload to the peer
func (n *Node) SendStream(metadata map[string]any, contentLength int64, payload io.Reader) bool {
	return n.sendOrLog(pairlink.NewStreamMessage(metadata, contentLength, payload))
}

// SendAsync runs Send on its own goroutine. The channel receives the result and is then closed.
func (n *Node) SendAsync(ctx context.Context, data []byte, metadata map[string]any) <-chan bool {
	return n.async(ctx, pairlink.NewMessage(data, metadata))
}

// SendStreamAsync runs SendStream on its own goroutine
func (n *Node) SendStreamAsync(ctx context.Context, metadata map[string]any, contentLength int64, payload io.Reader) <-chan bool {
	return n.async(ctx, pairlink.NewStreamMessage(metadata, contentLength, payload))
}

func (n *Node) async(ctx context.Context, msg pairlink.Message) <-chan bool {
	result := make(chan bool, 1)
	go func() {
		defer close(result)
		if ctx.Err() != nil {
			result <- false
			return
		}
		result <- n.sendOrLog(msg)
	}()
	return result
}

func (n *Node) sendOrLog(msg pairlink.Message) bool {
	ok, err := n.SendMessage(msg)
	if err != nil {
		n.logger.Warn("Rejected invalid message", zap.Error(err))
		return false
	}
	return ok
}

// SendResult reports the outcome of a routed send
type SendResult struct {
	Sent bool
	// Route is metrics.RouteConnector, metrics.RouteListener or metrics.RouteNone
	Route string
}

// SendMessage validates msg and routes it: over the connector when it is
// connected, otherwise over the listener when the tracked peer is connected.
// Invalid messages return an error; an unavailable link returns false.
func (n *Node) SendMessage(msg pairlink.Message) (bool, error) {
	res, err := n.SendRouted(msg)
	return res.Sent, err
}

// SendRouted is SendMessage reporting which link carried the message
func (n *Node) SendRouted(msg pairlink.Message) (SendResult, error) {
	if err := msg.Validate(); err != nil {
		return SendResult{Route: metrics.RouteNone}, err
	}

	l, c := n.roles()
	if c != nil && c.Connected() {
		ok := c.Send(msg.Metadata, msg.ContentLength, msg.Reader())
		n.metrics.MessageSent(metrics.RouteConnector, ok, msg.ContentLength)
		return SendResult{Sent: ok, Route: metrics.RouteConnector}, nil
	}

	peer := n.PeerAddress()
	if l != nil && peer != "" && l.IsConnected(peer) {
		ok := l.Send(peer, msg.Metadata, msg.ContentLength, msg.Reader())
		n.metrics.MessageSent(metrics.RouteListener, ok, msg.ContentLength)
		return SendResult{Sent: ok, Route: metrics.RouteListener}, nil
	}

	n.metrics.MessageSent(metrics.RouteNone, false, msg.ContentLength)
	return SendResult{Route: metrics.RouteNone}, nil
}

// Close disposes the listener and the connector and stops reconnecting.
// Link events arriving after Close are ignored. Safe to call multiple times.
func (n *Node) Close() error {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()

	n.rolesMu.Lock()
	if n.closed {
		n.rolesMu.Unlock()
		return nil
	}
	n.closed = true
	l, c, cancel := n.listener, n.connector, n.cancel
	n.rolesMu.Unlock()

	n.mu.Lock()
	n.disposed = true
	n.peerAddress = ""
	n.lastReportedHealthy = false
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if c != nil {
		err = multierr.Append(err, c.Close())
	}
	if l != nil {
		err = multierr.Append(err, l.Close())
	}
	n.metrics.SetHealthy(false)
	n.logger.Info("Node closed")
	return err
}
