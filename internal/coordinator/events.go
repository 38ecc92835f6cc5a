package coordinator

import (
	"github.com/rmacdonaldsmith/pairlink-go/internal/metrics"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
)

// listenerEvents receives the listener's callbacks
type listenerEvents struct {
	n *Node
}

func (e listenerEvents) PeerConnected(addr string) {
	e.n.peerConnected(addr)
}

func (e listenerEvents) PeerDisconnected(addr string) {
	e.n.peerDisconnected(addr)
}

func (e listenerEvents) ListenerData(_ string, msg pairlink.Message) {
	e.n.deliver(msg)
}

// connectorEvents receives the connector's callbacks
type connectorEvents struct {
	n *Node
}

func (e connectorEvents) ConnectorConnected() {
	e.n.connectorConnected()
}

func (e connectorEvents) ConnectorDisconnected() {
	e.n.connectorDisconnected()
}

func (e connectorEvents) ConnectorData(msg pairlink.Message) {
	e.n.deliver(msg)
}

func (n *Node) peerConnected(addr string) {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return
	}
	n.peerAddress = addr
	n.queueLocked(n.healthyTransitionLocked())
	n.mu.Unlock()

	n.logger.Debug("Listener link up", zap.String("peer", addr))
	n.drainNotifications()
}

// peerDisconnected clears the tracked address and fires a debounced unhealthy
// notification. A disconnect of an address other than the tracked one is
// ignored entirely, with no unhealthy evaluation: it belongs to a stream the
// listener already replaced, and the tracked link is still up.
func (n *Node) peerDisconnected(addr string) {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return
	}
	if n.peerAddress != "" && addr != n.peerAddress {
		n.mu.Unlock()
		n.logger.Debug("Ignoring disconnect of untracked peer", zap.String("peer", addr))
		return
	}
	n.peerAddress = ""
	n.queueLocked(n.unhealthyLocked())
	n.mu.Unlock()

	n.logger.Debug("Listener link down", zap.String("peer", addr))
	n.drainNotifications()
}

func (n *Node) connectorConnected() {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return
	}
	n.queueLocked(n.healthyTransitionLocked())
	n.mu.Unlock()

	n.logger.Debug("Connector link up")
	n.drainNotifications()
}

func (n *Node) connectorDisconnected() {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return
	}
	n.queueLocked(n.unhealthyLocked())
	n.mu.Unlock()

	n.logger.Debug("Connector link down")
	n.drainNotifications()
}

// healthyTransitionLocked reports a healthy notification when health
// has just become true
func (n *Node) healthyTransitionLocked() notification {
	if !n.healthyLocked() || n.lastReportedHealthy {
		return notifyNone
	}
	n.lastReportedHealthy = true
	return notifyHealthy
}

// unhealthyLocked applies the debounce window to an unhealthy notification
func (n *Node) unhealthyLocked() notification {
	n.lastReportedHealthy = false
	now := n.clock.Now()
	if !n.lastUnhealthy.IsZero() && now.Sub(n.lastUnhealthy) < n.config.DebounceWindow {
		n.metrics.HealthNotified(metrics.NotifySuppressed)
		return notifyNone
	}
	n.lastUnhealthy = now
	return notifyUnhealthy
}

// queueLocked records a notification in decision order
func (n *Node) queueLocked(kind notification) {
	if kind != notifyNone {
		n.pending = append(n.pending, kind)
	}
}

// drainNotifications delivers queued notifications in the order they were
// decided. Only one goroutine drains at a time; a handler that finds a drain
// in progress leaves its notification to that goroutine.
func (n *Node) drainNotifications() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true

	for len(n.pending) > 0 && !n.disposed {
		kind := n.pending[0]
		n.pending = n.pending[1:]
		n.mu.Unlock()
		n.notify(kind)
		n.mu.Lock()
	}
	n.pending = nil
	n.draining = false
	n.mu.Unlock()
}

func (n *Node) notify(kind notification) {
	switch kind {
	case notifyHealthy:
		n.logger.Info("Cluster healthy")
		n.metrics.HealthNotified(metrics.NotifyHealthy)
		for _, o := range n.snapshotObservers() {
			o.OnClusterHealthy()
		}
	case notifyUnhealthy:
		n.logger.Warn("Cluster unhealthy")
		n.metrics.HealthNotified(metrics.NotifyUnhealthy)
		for _, o := range n.snapshotObservers() {
			o.OnClusterUnhealthy()
		}
	}
}

// deliver hands an inbound message to every observer, each with its own payload reader
func (n *Node) deliver(msg pairlink.Message) {
	if n.isDisposed() {
		return
	}
	observers := n.snapshotObservers()
	if len(observers) == 0 {
		return
	}
	if len(observers) == 1 {
		observers[0].OnMessageReceived(msg)
		return
	}

	data, err := msg.Bytes()
	if err != nil {
		n.logger.Warn("Dropping unreadable inbound message", zap.Error(err))
		return
	}
	for _, o := range observers {
		o.OnMessageReceived(pairlink.NewMessage(data, msg.Metadata))
	}
}

func (n *Node) isDisposed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.disposed
}
