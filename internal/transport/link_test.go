package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectClient(t *testing.T, port int, h ClientHandler, opts Options) (*Client, error) {
	t.Helper()
	c, err := NewClient("127.0.0.1", port, h, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c, c.Connect(ctx)
}

func TestServerClient_ExchangeMessages(t *testing.T) {
	srvRec := newRecorder()
	srv, port := startServer(t, []string{"127.0.0.1"}, srvRec, DefaultOptions())

	cliRec := newRecorder()
	client, err := connectClient(t, port, cliRec, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, client.Connected())

	waitFor(t, func() bool { return len(srv.ConnectedPeers()) == 1 }, "server to register the client")
	addr := srv.ConnectedPeers()[0]
	assert.True(t, srv.IsConnected(addr))
	assert.False(t, srv.IsConnected("127.0.0.1:1"))

	require.NoError(t, client.Send(map[string]any{"k1": "v1"}, 5, strings.NewReader("hello")))
	got := srvRec.waitMessage(t)
	assert.Equal(t, addr, got.addr)
	assert.Equal(t, map[string]any{"k1": "v1"}, got.metadata)
	assert.Equal(t, "hello", string(got.payload))

	require.NoError(t, srv.Send(addr, nil, 5, strings.NewReader("world")))
	got = cliRec.waitMessage(t)
	assert.Equal(t, "world", string(got.payload))

	connected, _ := srvRec.counts()
	assert.Equal(t, 1, connected)
	connected, _ = cliRec.counts()
	assert.Equal(t, 1, connected)
}

func TestServerClient_DisconnectEvents(t *testing.T) {
	srvRec := newRecorder()
	srv, port := startServer(t, nil, srvRec, DefaultOptions())

	cliRec := newRecorder()
	client, err := connectClient(t, port, cliRec, DefaultOptions())
	require.NoError(t, err)
	waitFor(t, func() bool { return len(srv.ConnectedPeers()) == 1 }, "server to register the client")

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	waitFor(t, func() bool { _, d := srvRec.counts(); return d == 1 }, "server disconnect event")
	waitFor(t, func() bool { _, d := cliRec.counts(); return d == 1 }, "client disconnect event")
	assert.Empty(t, srv.ConnectedPeers())
	assert.False(t, client.Connected())
	assert.ErrorIs(t, client.Send(nil, 0, nil), ErrNotConnected)
}

func TestServerClient_ServerCloseDisconnectsClient(t *testing.T) {
	srv, port := startServer(t, nil, newRecorder(), DefaultOptions())

	cliRec := newRecorder()
	client, err := connectClient(t, port, cliRec, DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())

	waitFor(t, func() bool { return !client.Connected() }, "client to notice server close")
	_, disconnected := cliRec.counts()
	assert.Equal(t, 1, disconnected)
	assert.ErrorIs(t, srv.Start(), ErrClosed)
}

func TestClient_ConnectRefused(t *testing.T) {
	srv, port := startServer(t, nil, newRecorder(), DefaultOptions())
	srv.Close()

	cliRec := newRecorder()
	_, err := connectClient(t, port, cliRec, DefaultOptions())
	assert.Error(t, err)
	connected, disconnected := cliRec.counts()
	assert.Zero(t, connected)
	assert.Zero(t, disconnected)
}

func TestClient_SingleUse(t *testing.T) {
	_, port := startServer(t, nil, newRecorder(), DefaultOptions())

	client, err := connectClient(t, port, newRecorder(), DefaultOptions())
	require.NoError(t, err)
	assert.ErrorIs(t, client.Connect(context.Background()), ErrAlreadyConnected)
}

func TestServerClient_PresharedKey(t *testing.T) {
	withKey := func(key string) Options {
		o := DefaultOptions()
		if err := o.SetPresharedKey(key); err != nil {
			t.Fatalf("SetPresharedKey failed: %v", err)
		}
		return o
	}

	tests := []struct {
		name      string
		serverKey string
		clientKey string
		wantErr   error
	}{
		{"matching keys", testKey, testKey, nil},
		{"mismatched keys", testKey, "fedcba9876543210", ErrAuthenticationFailed},
		{"client without key", testKey, "", ErrPresharedKeyRequired},
		{"server without key", "", testKey, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srvRec := newRecorder()
			srv, port := startServer(t, nil, srvRec, withKey(tt.serverKey))

			client, err := connectClient(t, port, newRecorder(), withKey(tt.clientKey))
			if tt.wantErr == nil {
				require.NoError(t, err)
				waitFor(t, func() bool { return len(srv.ConnectedPeers()) == 1 }, "server to register the client")
				return
			}

			assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
			assert.False(t, client.Connected())
			assert.Empty(t, srv.ConnectedPeers())
			connected, _ := srvRec.counts()
			assert.Zero(t, connected, "rejected client must not produce a connect event")
		})
	}
}

func TestServer_AllowListRejectsUnknownAddress(t *testing.T) {
	srvRec := newRecorder()
	srv, port := startServer(t, []string{"10.255.255.1"}, srvRec, DefaultOptions())

	_, err := connectClient(t, port, newRecorder(), DefaultOptions())
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.Empty(t, srv.ConnectedPeers())
	connected, _ := srvRec.counts()
	assert.Zero(t, connected)
}

func TestServer_Send_NotConnected(t *testing.T) {
	srv, _ := startServer(t, nil, newRecorder(), DefaultOptions())
	assert.ErrorIs(t, srv.Send("127.0.0.1:9", nil, 0, nil), ErrNotConnected)
}

func TestNewServer_InvalidArguments(t *testing.T) {
	_, err := NewServer("", 0, []string{"not-an-ip"}, newRecorder(), DefaultOptions())
	assert.Error(t, err)

	_, err = NewServer("", 70000, nil, newRecorder(), DefaultOptions())
	assert.Error(t, err)

	_, err = NewServer("", 0, nil, nil, DefaultOptions())
	assert.Error(t, err)
}

func TestNewClient_InvalidArguments(t *testing.T) {
	_, err := NewClient("", 1, newRecorder(), DefaultOptions())
	assert.Error(t, err)

	_, err = NewClient("127.0.0.1", 0, newRecorder(), DefaultOptions())
	assert.Error(t, err)

	_, err = NewClient("127.0.0.1", 1, newRecorder(), Options{PresharedKey: "short"})
	assert.Error(t, err)
}

func TestServerClient_TLS(t *testing.T) {
	cert, _ := selfSignedCert(t)

	opts := func() Options {
		o := DefaultOptions()
		c := cert
		o.Certificate = &c
		o.AcceptInvalidCertificates = true
		o.MutuallyAuthenticate = true
		return o
	}

	srvRec := newRecorder()
	srv, port := startServer(t, nil, srvRec, opts())

	client, err := connectClient(t, port, newRecorder(), opts())
	require.NoError(t, err)
	waitFor(t, func() bool { return len(srv.ConnectedPeers()) == 1 }, "server to register the TLS client")

	require.NoError(t, client.Send(map[string]any{"secure": true}, 2, strings.NewReader("ok")))
	got := srvRec.waitMessage(t)
	assert.Equal(t, "ok", string(got.payload))
	assert.Equal(t, true, got.metadata["secure"])
}

func TestServerClient_TLSRequiresClientCertificate(t *testing.T) {
	cert, _ := selfSignedCert(t)

	srvOpts := DefaultOptions()
	srvOpts.Certificate = &cert
	srvOpts.MutuallyAuthenticate = true
	_, port := startServer(t, nil, newRecorder(), srvOpts)

	cliOpts := DefaultOptions()
	cliOpts.Certificate = &tls.Certificate{}
	cliOpts.AcceptInvalidCertificates = true

	_, err := connectClient(t, port, newRecorder(), cliOpts)
	assert.Error(t, err)
}
