package coordinator

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode_InvalidConfig(t *testing.T) {
	_, err := NewNode(nil)
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = NewNode(NewConfig("", 7000, "", 7001))
	assert.ErrorIs(t, err, ErrEmptyPeerAddress)

	_, err = NewNode(NewConfig("", 7000, "10.0.0.2", 0))
	assert.ErrorIs(t, err, ErrInvalidPort)

	_, err = NewNode(NewConfig("", 7000, "10.0.0.2", 7001).WithCertificate(filepath.Join(t.TempDir(), "missing.p12"), "pw"))
	assert.Error(t, err)
}

func TestNewNode_DoesNotMutateConfig(t *testing.T) {
	cfg := &Config{PeerAddress: "10.0.0.2", PeerPort: 7001}
	_, err := NewNode(cfg)
	require.NoError(t, err)
	assert.Zero(t, cfg.RetryInterval)
	assert.Nil(t, cfg.PermittedAddresses)
}

func TestNode_Lifecycle(t *testing.T) {
	n, err := NewNode(testConfig(0, freePort(t)))
	require.NoError(t, err)

	assert.Equal(t, pairlink.StateUninitialized, n.State())
	assert.False(t, n.IsHealthy())
	assert.Nil(t, n.ListenAddr())
	assert.False(t, n.Send([]byte("early"), nil))

	require.NoError(t, n.Start(context.Background()))
	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, pairlink.StateStarting, n.State())
	assert.NotNil(t, n.ListenAddr())
	assert.Empty(t, n.PeerAddress())

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
	assert.Equal(t, pairlink.StateDisposed, n.State())
	assert.ErrorIs(t, n.Start(context.Background()), ErrClosed)
	assert.False(t, n.Send([]byte("late"), nil))
}

func TestNode_StartFailsWhenPortTaken(t *testing.T) {
	first, err := NewNode(testConfig(0, freePort(t)))
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	defer first.Close()

	cfg := testConfig(first.ListenAddr().(*net.TCPAddr).Port, freePort(t))
	second, err := NewNode(cfg)
	require.NoError(t, err)
	assert.Error(t, second.Start(context.Background()))
	assert.Equal(t, pairlink.StateUninitialized, second.State())
	require.NoError(t, second.Close())
}

func TestNode_SendMessageValidation(t *testing.T) {
	n, err := NewNode(testConfig(0, freePort(t)))
	require.NoError(t, err)

	_, err = n.SendMessage(pairlink.NewStreamMessage(nil, -1, strings.NewReader("")))
	assert.ErrorIs(t, err, pairlink.ErrNegativeContentLength)

	_, err = n.SendMessage(pairlink.NewStreamMessage(nil, 4, nil))
	assert.ErrorIs(t, err, pairlink.ErrUnreadableStream)

	ok, err := n.SendMessage(pairlink.NewMessage([]byte("x"), nil))
	assert.NoError(t, err)
	assert.False(t, ok, "send without a link must report false")

	assert.False(t, n.SendStream(nil, -1, strings.NewReader("")))
	assert.False(t, <-n.SendStreamAsync(context.Background(), nil, 3, nil))
}

func TestNode_SendAsyncHonoursCancelledContext(t *testing.T) {
	n, err := NewNode(testConfig(0, freePort(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := n.SendAsync(ctx, []byte("x"), nil)
	assert.False(t, <-result)
	_, open := <-result
	assert.False(t, open, "result channel must be closed after the value")
}

func TestNode_SubscribeCancel(t *testing.T) {
	mock := clock.NewMock()
	n, err := NewNode(testConfig(0, freePort(t)).WithClock(mock))
	require.NoError(t, err)

	o := &syncObserver{}
	cancel := n.Subscribe(o)
	n.connectorDisconnected()
	assert.Equal(t, 1, o.count("unhealthy"))

	cancel()
	cancel()
	mock.Add(time.Minute)
	n.connectorDisconnected()
	assert.Equal(t, 1, o.count("unhealthy"), "cancelled observer must not be notified")
}

// TestNode_DebounceUnderConcurrentDrops fires both roles' disconnects together,
// the common case when the peer goes away.
func TestNode_DebounceUnderConcurrentDrops(t *testing.T) {
	mock := clock.NewMock()
	n, err := NewNode(testConfig(0, freePort(t)).WithClock(mock))
	require.NoError(t, err)

	o := &syncObserver{}
	n.Subscribe(o)

	for round := 1; round <= 3; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(2)
			go func() { defer wg.Done(); n.connectorDisconnected() }()
			go func() { defer wg.Done(); n.peerDisconnected("127.0.0.1:5000") }()
		}
		wg.Wait()

		assert.Equal(t, round, o.count("unhealthy"), "exactly one notification per debounce window")
		mock.Add(time.Second)
	}
}

func TestNode_DebounceWindowBoundary(t *testing.T) {
	mock := clock.NewMock()
	n, err := NewNode(testConfig(0, freePort(t)).WithClock(mock).WithDebounceWindow(500 * time.Millisecond))
	require.NoError(t, err)

	o := &syncObserver{}
	n.Subscribe(o)

	n.connectorDisconnected()
	mock.Add(499 * time.Millisecond)
	n.connectorDisconnected()
	assert.Equal(t, 1, o.count("unhealthy"))

	mock.Add(time.Millisecond)
	n.connectorDisconnected()
	assert.Equal(t, 2, o.count("unhealthy"))
}

func TestNode_IgnoresStalePeerDisconnect(t *testing.T) {
	n, err := NewNode(testConfig(0, freePort(t)))
	require.NoError(t, err)

	o := &syncObserver{}
	n.Subscribe(o)

	n.peerConnected("127.0.0.1:6000")
	assert.Equal(t, "127.0.0.1:6000", n.PeerAddress())
	assert.False(t, n.IsHealthy(), "roles are absent before Start")
	assert.Equal(t, 0, o.count("healthy"))

	n.peerDisconnected("127.0.0.1:5999")
	assert.Equal(t, "127.0.0.1:6000", n.PeerAddress())
	assert.Equal(t, 0, o.count("unhealthy"))

	n.peerDisconnected("127.0.0.1:6000")
	assert.Empty(t, n.PeerAddress())
	assert.Equal(t, 1, o.count("unhealthy"))
}

func TestNode_NoNotificationsAfterClose(t *testing.T) {
	n, err := NewNode(testConfig(0, freePort(t)))
	require.NoError(t, err)

	o := &syncObserver{}
	n.Subscribe(o)
	require.NoError(t, n.Close())

	n.connectorDisconnected()
	n.peerConnected("127.0.0.1:6000")
	n.peerDisconnected("127.0.0.1:6000")
	assert.Equal(t, 0, o.count("unhealthy"))
	assert.Empty(t, n.PeerAddress())
}

func TestNode_TLSCertificateFile(t *testing.T) {
	_, err := NewNode(NewConfig("", 0, "10.0.0.2", 7001).WithCertificate(writeGarbage(t), "pw"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidPort))
}

func writeGarbage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.p12")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))
	return path
}
