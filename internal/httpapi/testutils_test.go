package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmacdonaldsmith/pairlink-go/internal/coordinator"
	"github.com/rmacdonaldsmith/pairlink-go/internal/journal"
	"github.com/rmacdonaldsmith/pairlink-go/internal/metrics"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
)

const (
	testSecret      = "test-secret-key"
	testLoginSecret = "test-login-secret"
)

type sentMessage struct {
	metadata map[string]any
	payload  []byte
}

// fakeNode stands in for a coordinator node
type fakeNode struct {
	mu        sync.Mutex
	status    coordinator.Status
	result    coordinator.SendResult
	err       error
	sent      []sentMessage
	observers map[int]pairlink.Observer
	nextID    int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		status:    coordinator.Status{State: pairlink.StateStarting},
		result:    coordinator.SendResult{Route: metrics.RouteNone},
		observers: make(map[int]pairlink.Observer),
	}
}

func (f *fakeNode) setHealthy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = coordinator.Status{
		State:              pairlink.StateHealthy,
		Healthy:            true,
		PeerAddress:        "10.0.0.2:51234",
		ListenAddress:      "10.0.0.1:7000",
		ListenerConnected:  true,
		ConnectorConnected: true,
		ConnectorAttempts:  3,
	}
	f.result = coordinator.SendResult{Sent: true, Route: metrics.RouteConnector}
}

func (f *fakeNode) Status() coordinator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeNode) SendRouted(msg pairlink.Message) (coordinator.SendResult, error) {
	if err := msg.Validate(); err != nil {
		return coordinator.SendResult{Route: metrics.RouteNone}, err
	}
	data, err := msg.Bytes()
	if err != nil {
		return coordinator.SendResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return coordinator.SendResult{}, f.err
	}
	f.sent = append(f.sent, sentMessage{metadata: msg.Metadata, payload: data})
	return f.result, nil
}

func (f *fakeNode) Subscribe(o pairlink.Observer) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.observers[id] = o
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.observers, id)
	}
}

// deliver simulates a message arriving from the peer
func (f *fakeNode) deliver(data []byte, metadata map[string]any) {
	f.mu.Lock()
	observers := make([]pairlink.Observer, 0, len(f.observers))
	for _, o := range f.observers {
		observers = append(observers, o)
	}
	f.mu.Unlock()

	for _, o := range observers {
		o.OnMessageReceived(pairlink.NewMessage(data, metadata))
	}
}

func (f *fakeNode) observerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}

func (f *fakeNode) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// testServer bundles a Server with its fakes
type testServer struct {
	node     *fakeNode
	journal  *journal.InMemoryJournal
	registry *prometheus.Registry
	server   *Server
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()

	ts := &testServer{
		node:     newFakeNode(),
		journal:  journal.NewInMemoryJournal(0),
		registry: prometheus.NewRegistry(),
	}
	cfg := Config{
		Address:      "127.0.0.1:0",
		SecretKey:    testSecret,
		LoginSecret:  testLoginSecret,
		AdminClients: []string{"admin"},
		Gatherer:     ts.registry,
		Journal:      ts.journal,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ts.server = NewServer(ts.node, cfg)
	t.Cleanup(func() {
		_ = ts.server.Stop(context.Background())
		_ = ts.journal.Close()
	})
	return ts
}

func (ts *testServer) token(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()
	token, _, err := ts.server.jwtAuth.GenerateToken(clientID, isAdmin)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// do sends a request through the routed handler
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

var _ http.Flusher = (*statusRecorder)(nil)
