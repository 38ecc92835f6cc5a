// Package httpapi serves the admin HTTP API of a pairlink daemon.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/pairlink-go/internal/journal"
)

// DefaultKeepaliveInterval is the SSE ping period
const DefaultKeepaliveInterval = 15 * time.Second

// ErrServerClosed is returned when starting a stopped server
var ErrServerClosed = errors.New("http api server is closed")

// Config holds server configuration
type Config struct {
	// Address is the listen address, e.g. "127.0.0.1:8080"
	Address string
	// SecretKey signs API tokens
	SecretKey string
	// LoginSecret must be presented at login; empty disables login
	LoginSecret string
	// NoAuth bypasses authentication on non-admin endpoints
	NoAuth bool
	// AdminClients are client ids granted admin tokens
	AdminClients []string
	TokenTTL     time.Duration

	KeepaliveInterval time.Duration
	// MaxStreamPayload caps payload bytes buffered per streamed message
	MaxStreamPayload int64

	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	Journal  journal.Journal
	Logger   *zap.Logger
}

// Server represents the HTTP API server
type Server struct {
	node       Node
	jwtAuth    *JWTAuth
	hub        *Hub
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *zap.Logger

	mu          sync.Mutex
	listener    net.Listener
	unsubscribe func()
	closed      bool
}

// NewServer creates the API server and subscribes its message hub to node
func NewServer(node Node, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("httpapi")

	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL)
	hub := NewHub(config.MaxStreamPayload, logger)

	s := &Server{
		node:        node,
		jwtAuth:     jwtAuth,
		hub:         hub,
		handlers:    NewHandlers(node, jwtAuth, hub, config.Journal, config.AdminClients, config.LoginSecret, config.KeepaliveInterval, logger),
		middleware:  NewMiddleware(jwtAuth, config.NoAuth, logger),
		logger:      logger,
		unsubscribe: node.Subscribe(hub),
	}

	s.server = &http.Server{
		Addr:              config.Address,
		Handler:           s.setupRoutes(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the routed handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}

	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = lis

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP API server failed", zap.Error(err))
		}
	}()
	s.logger.Info("HTTP API listening", zap.String("address", lis.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop unsubscribes from the node, ends open streams and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(handler)))
	}

	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	mux.Handle("/api/v1/messages", withMiddleware(s.middleware.AuthRequired(s.handlers.SendMessage)))
	mux.Handle("/api/v1/messages/stream", withMiddleware(s.middleware.AuthRequired(s.handlers.StreamMessages)))

	mux.Handle("/api/v1/admin/events", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminEvents)))

	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]any{
		"service": "pairlink admin API",
		"endpoints": map[string]string{
			"login":   "POST /api/v1/auth/login",
			"health":  "GET /api/v1/health",
			"send":    "POST /api/v1/messages",
			"stream":  "GET /api/v1/messages/stream",
			"events":  "GET /api/v1/admin/events?limit={limit}",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for messages and admin endpoints",
	}, http.StatusOK)
}
