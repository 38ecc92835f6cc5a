package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pairlink-go/internal/wire"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ClientHandler receives events for a Client's stream.
// Methods are called from the client's receive goroutine, except
// ServerConnected which is called from Connect.
type ClientHandler interface {
	ServerConnected()
	ServerDisconnected()
	ServerMessage(msg pairlink.Message)
}

// Client is a single-use connection to a Server. Once it disconnects it
// stays disconnected; reconnecting means creating a new Client.
type Client struct {
	address string
	port    int
	handler ClientHandler
	opts    Options
	logger  *zap.Logger

	mu        sync.RWMutex
	conn      *grpc.ClientConn
	cancel    context.CancelFunc
	sess      *session
	attempted bool
	connected bool
	closed    bool
}

// NewClient creates a client for the server at address:port
func NewClient(address string, port int, handler ClientHandler, opts Options) (*Client, error) {
	if handler == nil {
		return nil, errors.New("client handler cannot be nil")
	}
	if address == "" {
		return nil, errors.New("server address cannot be empty")
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		address: address,
		port:    port,
		handler: handler,
		opts:    opts,
		logger:  opts.Logger.Named("client"),
	}, nil
}

// Target returns the address:port the client connects to
func (c *Client) Target() string {
	return net.JoinHostPort(c.address, strconv.Itoa(c.port))
}

// Connect opens the link stream and completes the handshake. It blocks until
// the client is connected, the handshake fails, ConnectTimeout elapses or ctx
// is done.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.attempted {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.attempted = true
	c.mu.Unlock()

	conn, err := grpc.NewClient(c.Target(), c.dialOptions()...)
	if err != nil {
		return fmt.Errorf("create connection to %s: %w", c.Target(), err)
	}

	// The stream outlives Connect; the handshake deadline cancels it only
	// until the handshake completes.
	streamCtx, cancel := context.WithCancel(context.Background())
	hsCtx, hsCancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer hsCancel()
	stopDeadline := context.AfterFunc(hsCtx, cancel)

	sess, err := c.open(streamCtx, conn)
	if !stopDeadline() && err == nil {
		err = hsCtx.Err()
	}
	if err != nil {
		cancel()
		_ = conn.Close()
		if hsCtx.Err() != nil && !errors.Is(err, ErrAuthenticationFailed) && !errors.Is(err, ErrPresharedKeyRequired) {
			return fmt.Errorf("connect to %s: %w", c.Target(), hsCtx.Err())
		}
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.cancel = cancel
	c.sess = sess
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("Connected to peer", zap.String("peer", c.Target()))
	c.handler.ServerConnected()

	go c.receiveLoop(sess)
	return nil
}

func (c *Client) dialOptions() []grpc.DialOption {
	creds := insecure.NewCredentials()
	if c.opts.TLSEnabled() {
		creds = credentials.NewTLS(clientTLSConfig(&c.opts, c.address))
	}
	return []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(wire.Codec{}),
			grpc.MaxCallRecvMsgSize(c.opts.maxFrameSize()),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
}

// open creates the stream and runs the client side of the handshake
func (c *Client) open(ctx context.Context, conn *grpc.ClientConn) (*session, error) {
	stream, err := wire.NewStream(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("open stream to %s: %w", c.Target(), err)
	}
	sess := newSession(stream, &c.opts)

	f, err := sess.recvFrame()
	if err != nil {
		return nil, c.handshakeError(err)
	}

	if f.Kind == wire.KindChallenge {
		if c.opts.PresharedKey == "" {
			return nil, ErrPresharedKeyRequired
		}
		token, err := signChallenge(c.opts.PresharedKey, f.Nonce)
		if err != nil {
			return nil, err
		}
		if err := sess.sendFrame(&wire.Frame{Kind: wire.KindAuthResponse, Token: token}); err != nil {
			return nil, c.handshakeError(err)
		}
		if f, err = sess.recvFrame(); err != nil {
			return nil, c.handshakeError(err)
		}
	}

	if f.Kind != wire.KindReady {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrProtocol, wire.KindReady, f.Kind)
	}
	if !f.OK {
		return nil, fmt.Errorf("%w: %s", ErrAuthenticationFailed, f.Reason)
	}
	return sess, nil
}

// handshakeError maps the status a server closes a stream with to a transport error
func (c *Client) handshakeError(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %v", ErrNotPermitted, err)
	}
	return fmt.Errorf("handshake with %s: %w", c.Target(), err)
}

func (c *Client) receiveLoop(sess *session) {
	err := sess.receive(func(msg pairlink.Message) {
		c.handler.ServerMessage(msg)
	})

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		c.logger.Info("Disconnected from peer", zap.String("peer", c.Target()), zap.Error(err))
		c.handler.ServerDisconnected()
	}
}

// Connected reports whether the stream is established and still open
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Send writes a message to the server
func (c *Client) Send(metadata map[string]any, length int64, r io.Reader) error {
	c.mu.RLock()
	sess := c.sess
	connected := c.connected
	c.mu.RUnlock()

	if !connected || sess == nil {
		return ErrNotConnected
	}
	return sess.send(metadata, length, r)
}

// Close tears down the stream and connection. Safe to call multiple times.
// ServerDisconnected fires from the receive goroutine if the client was connected.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
