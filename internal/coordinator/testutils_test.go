package coordinator

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
)

type receivedMessage struct {
	metadata map[string]any
	length   int64
	payload  []byte
	err      error
}

// recordingObserver counts notifications and captures messages
type recordingObserver struct {
	healthy   atomic.Int32
	unhealthy atomic.Int32
	messages  chan receivedMessage
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{messages: make(chan receivedMessage, 16)}
}

func (o *recordingObserver) OnClusterHealthy()   { o.healthy.Add(1) }
func (o *recordingObserver) OnClusterUnhealthy() { o.unhealthy.Add(1) }
func (o *recordingObserver) OnMessageReceived(msg pairlink.Message) {
	data, err := msg.Bytes()
	o.messages <- receivedMessage{metadata: msg.Metadata, length: msg.ContentLength, payload: data, err: err}
}

func (o *recordingObserver) waitMessage(t *testing.T) receivedMessage {
	t.Helper()
	select {
	case m := <-o.messages:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for message")
		return receivedMessage{}
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func testConfig(listenPort, peerPort int) *Config {
	return NewConfig("127.0.0.1", listenPort, "127.0.0.1", peerPort).
		WithRetryInterval(50 * time.Millisecond).
		WithDebounceWindow(time.Second)
}

// startNode creates and starts a node and closes it when the test ends
func startNode(t *testing.T, cfg *Config, o pairlink.Observer) *Node {
	t.Helper()
	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	if o != nil {
		n.Subscribe(o)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

// pair is two nodes configured as mutual peers
type pair struct {
	portA, portB int
	a, b         *Node
	obsA, obsB   *recordingObserver
}

func startPair(t *testing.T, mutate func(a, b *Config)) *pair {
	t.Helper()
	p := &pair{
		portA: freePort(t),
		portB: freePort(t),
		obsA:  newRecordingObserver(),
		obsB:  newRecordingObserver(),
	}
	cfgA := testConfig(p.portA, p.portB)
	cfgB := testConfig(p.portB, p.portA)
	if mutate != nil {
		mutate(cfgA, cfgB)
	}
	p.a = startNode(t, cfgA, p.obsA)
	p.b = startNode(t, cfgB, p.obsB)
	return p
}

func waitHealthy(t *testing.T, nodes ...*Node) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		all := true
		for _, n := range nodes {
			if !n.IsHealthy() {
				all = false
			}
		}
		if all {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for nodes to become healthy")
}

// syncObserver records notification order for debounce tests
type syncObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *syncObserver) OnClusterHealthy() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "healthy")
}

func (o *syncObserver) OnClusterUnhealthy() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "unhealthy")
}

func (o *syncObserver) OnMessageReceived(pairlink.Message) {}

func (o *syncObserver) count(event string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.events {
		if e == event {
			n++
		}
	}
	return n
}

func (o *syncObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

// slowHealthyObserver stalls inside its first healthy notification
type slowHealthyObserver struct {
	once  sync.Once
	delay time.Duration
}

func (o *slowHealthyObserver) OnClusterHealthy()                  { o.once.Do(func() { time.Sleep(o.delay) }) }
func (o *slowHealthyObserver) OnClusterUnhealthy()                {}
func (o *slowHealthyObserver) OnMessageReceived(pairlink.Message) {}
