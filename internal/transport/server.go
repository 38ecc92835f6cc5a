package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/pairlink-go/internal/wire"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// ServerHandler receives events for streams accepted by a Server.
// Methods are called from the goroutine serving the stream.
type ServerHandler interface {
	ClientConnected(addr string)
	ClientDisconnected(addr string)
	ClientMessage(addr string, msg pairlink.Message)
}

// Server accepts link streams from permitted addresses.
// It is started once and re-accepts until closed.
type Server struct {
	bindAddress string
	port        int
	permitted   []net.IP
	handler     ServerHandler
	opts        Options
	logger      *zap.Logger

	mu         sync.RWMutex
	grpcServer *grpc.Server
	listener   net.Listener
	peers      map[string]*session
	started    bool
	closed     bool
}

// NewServer creates a server bound to bindAddress:port once started.
// An empty bindAddress listens on all interfaces. permitted lists the IP
// addresses allowed to connect; an empty list permits any address.
func NewServer(bindAddress string, port int, permitted []string, handler ServerHandler, opts Options) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server handler cannot be nil")
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ips := make([]net.IP, 0, len(permitted))
	for _, p := range permitted {
		ip := net.ParseIP(p)
		if ip == nil {
			return nil, fmt.Errorf("permitted address %q is not an IP address", p)
		}
		ips = append(ips, ip)
	}

	return &Server{
		bindAddress: bindAddress,
		port:        port,
		permitted:   ips,
		handler:     handler,
		opts:        opts,
		logger:      opts.Logger.Named("server"),
		peers:       make(map[string]*session),
	}, nil
}

// Start binds the listening socket and serves in the background.
// Calling Start again after a successful start is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	lis, err := net.Listen("tcp", net.JoinHostPort(s.bindAddress, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen on %s:%d: %w", s.bindAddress, s.port, err)
	}

	serverOpts := []grpc.ServerOption{
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.MaxRecvMsgSize(s.opts.maxFrameSize()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    10 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if s.opts.TLSEnabled() {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(serverTLSConfig(&s.opts))))
	}

	s.grpcServer = grpc.NewServer(serverOpts...)
	wire.RegisterLinkServer(s.grpcServer, linkService{server: s})
	s.listener = lis
	s.started = true

	go func(gs *grpc.Server) {
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("Link server stopped", zap.Error(err))
		}
	}(s.grpcServer)

	s.logger.Info("Link server listening", zap.String("address", lis.Addr().String()), zap.Bool("tls", s.opts.TLSEnabled()))
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsConnected reports whether addr has an authenticated stream open
func (s *Server) IsConnected(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.peers[addr]
	return ok
}

// ConnectedPeers returns the addresses of all connected clients, sorted
func (s *Server) ConnectedPeers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]string, 0, len(s.peers))
	for addr := range s.peers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Send writes a message to the client connected from addr
func (s *Server) Send(addr string, metadata map[string]any, length int64, r io.Reader) error {
	s.mu.RLock()
	sess, ok := s.peers[addr]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	return sess.send(metadata, length, r)
}

// Close stops the server and drops every stream. Safe to call multiple times.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	gs := s.grpcServer
	s.mu.Unlock()

	if gs != nil {
		gs.Stop()
	}
	return nil
}

func (s *Server) permits(addr net.Addr) bool {
	if len(s.permitted) == 0 {
		return true
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	for _, ip := range s.permitted {
		if ip.Equal(tcp.IP) {
			return true
		}
	}
	return false
}

// linkService adapts Server to wire.LinkServer without exporting the stream handler
type linkService struct {
	server *Server
}

func (l linkService) Stream(stream grpc.ServerStream) error {
	return l.server.serveStream(stream)
}

func (s *Server) serveStream(stream grpc.ServerStream) error {
	p, ok := peer.FromContext(stream.Context())
	if !ok || p.Addr == nil {
		return status.Error(codes.Internal, "missing peer address")
	}
	addr := p.Addr.String()

	if !s.permits(p.Addr) {
		s.logger.Warn("Rejected stream from address not in allow-list", zap.String("peer", addr))
		return status.Errorf(codes.PermissionDenied, "address %s is not permitted", addr)
	}

	sess := newSession(stream, &s.opts)
	if err := s.authenticate(stream, sess, addr); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return status.Error(codes.Unavailable, "server closed")
	}
	s.peers[addr] = sess
	s.mu.Unlock()

	if err := sess.sendFrame(&wire.Frame{Kind: wire.KindReady, OK: true}); err != nil {
		s.removePeer(addr, sess)
		return err
	}

	s.logger.Info("Peer connected", zap.String("peer", addr))
	s.handler.ClientConnected(addr)

	err := sess.receive(func(msg pairlink.Message) {
		s.handler.ClientMessage(addr, msg)
	})

	s.removePeer(addr, sess)
	s.logger.Info("Peer disconnected", zap.String("peer", addr), zap.Error(err))
	s.handler.ClientDisconnected(addr)

	if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
		return nil
	}
	if errors.Is(err, ErrProtocol) || errors.Is(err, ErrMessageTooLarge) || errors.Is(err, wire.ErrMalformedFrame) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return err
}

func (s *Server) removePeer(addr string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[addr] == sess {
		delete(s.peers, addr)
	}
}

// authenticate runs the preshared key challenge when a key is configured
func (s *Server) authenticate(stream grpc.ServerStream, sess *session, addr string) error {
	if s.opts.PresharedKey == "" {
		return nil
	}

	nonce, err := newNonce()
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	if err := sess.sendFrame(&wire.Frame{Kind: wire.KindChallenge, Nonce: nonce}); err != nil {
		return err
	}

	f, err := s.recvHandshake(stream, sess)
	if err != nil {
		return err
	}
	if f.Kind != wire.KindAuthResponse {
		return status.Errorf(codes.InvalidArgument, "expected %s, got %s", wire.KindAuthResponse, f.Kind)
	}

	if err := verifyChallenge(s.opts.PresharedKey, nonce, f.Token); err != nil {
		s.logger.Warn("Preshared key authentication failed", zap.String("peer", addr), zap.Error(err))
		_ = sess.sendFrame(&wire.Frame{Kind: wire.KindReady, Reason: "authentication failed"})
		return status.Error(codes.Unauthenticated, "preshared key authentication failed")
	}
	return nil
}

// recvHandshake reads one frame, giving up after ConnectTimeout
func (s *Server) recvHandshake(stream grpc.ServerStream, sess *session) (*wire.Frame, error) {
	type result struct {
		frame *wire.Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := sess.recvFrame()
		ch <- result{f, err}
	}()

	timer := time.NewTimer(s.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.frame, r.err
	case <-timer.C:
		return nil, status.Error(codes.DeadlineExceeded, "handshake timed out")
	case <-stream.Context().Done():
		return nil, status.FromContextError(stream.Context().Err()).Err()
	}
}
