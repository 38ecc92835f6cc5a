package pairlink

import (
	"context"
	"io"
)

// Observer receives pair-level notifications from a Node.
// Callbacks may be invoked concurrently from the Listener's and the Connector's
// goroutines and must not block for long.
type Observer interface {
	// OnClusterHealthy is called when both links become connected to the peer
	OnClusterHealthy()

	// OnClusterUnhealthy is called when either link drops, at most once per debounce window
	OnClusterUnhealthy()

	// OnMessageReceived is called for every message arriving on either link.
	// The payload is only valid for the duration of the call.
	OnMessageReceived(msg Message)
}

// ObserverFuncs adapts plain functions to the Observer interface.
// Nil functions are ignored.
type ObserverFuncs struct {
	Healthy   func()
	Unhealthy func()
	Message   func(msg Message)
}

func (f ObserverFuncs) OnClusterHealthy() {
	if f.Healthy != nil {
		f.Healthy()
	}
}

func (f ObserverFuncs) OnClusterUnhealthy() {
	if f.Unhealthy != nil {
		f.Unhealthy()
	}
}

func (f ObserverFuncs) OnMessageReceived(msg Message) {
	if f.Message != nil {
		f.Message(msg)
	}
}

// Node is one side of a two-node high-availability link.
// It owns a Listener and a Connector pointed at the same peer.
type Node interface {
	io.Closer

	// Start starts the Listener and the Connector. It returns once the Listener is
	// bound; the Connector keeps reconnecting in the background until Close.
	Start(ctx context.Context) error

	// Send sends an in-memory payload to the peer.
	// Returns false, without error, when neither link is connected.
	Send(data []byte, metadata map[string]any) bool

	// SendStream sends contentLength bytes read from payload to the peer
	SendStream(metadata map[string]any, contentLength int64, payload io.Reader) bool

	// SendAsync performs Send on a background goroutine and delivers the result on the channel
	SendAsync(ctx context.Context, data []byte, metadata map[string]any) <-chan bool

	// SendStreamAsync performs SendStream on a background goroutine
	SendStreamAsync(ctx context.Context, metadata map[string]any, contentLength int64, payload io.Reader) <-chan bool

	// IsHealthy reports whether both links are currently connected to the tracked peer
	IsHealthy() bool

	// State returns the current lifecycle state
	State() NodeState

	// Subscribe registers an observer and returns a function that removes it
	Subscribe(o Observer) (cancel func())
}
