package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type claimsKey struct{}

// Middleware provides HTTP middleware functions
type Middleware struct {
	jwtAuth *JWTAuth
	logger  *zap.Logger
	noAuth  bool // Development mode: bypass authentication
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(jwtAuth *JWTAuth, noAuth bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		jwtAuth: jwtAuth,
		logger:  logger,
		noAuth:  noAuth,
	}
}

// AuthRequired middleware requires valid JWT authentication
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.noAuth {
			next(w, withClaims(r, &JWTClaims{ClientID: "dev-client"}))
			return
		}
		if claims, ok := m.authenticate(w, r, ""); ok {
			next(w, withClaims(r, claims))
		}
	}
}

// AdminRequired middleware requires admin privileges.
// Admin endpoints are never bypassed, even in no-auth mode.
func (m *Middleware) AdminRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := m.authenticate(w, r, " for admin access")
		if !ok {
			return
		}
		if !claims.IsAdmin {
			writeError(w, "Admin privileges required", http.StatusForbidden)
			return
		}
		next(w, withClaims(r, claims))
	}
}

// authenticate validates the bearer token and writes a 401 when it is missing or invalid
func (m *Middleware) authenticate(w http.ResponseWriter, r *http.Request, scope string) (*JWTClaims, bool) {
	token := extractToken(r)
	if token == "" {
		writeError(w, "Authorization header required"+scope, http.StatusUnauthorized)
		return nil, false
	}

	claims, err := m.jwtAuth.ValidateToken(token)
	if err != nil {
		writeError(w, "Invalid token"+scope+": "+err.Error(), http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

// CORS middleware adds CORS headers for browser compatibility
func (m *Middleware) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// statusRecorder captures the response status for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the recorder
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging middleware logs every request at debug level
func (m *Middleware) Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		m.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	}
}

// Recovery middleware recovers from panics and returns 500 error
func (m *Middleware) Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("Recovered from handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", err))
				writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

func withClaims(r *http.Request, claims *JWTClaims) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
}

// extractToken supports both "Bearer token" and bare "token" Authorization headers
func extractToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// GetClaims returns the claims of the authenticated request, or nil
func GetClaims(r *http.Request) *JWTClaims {
	claims, _ := r.Context().Value(claimsKey{}).(*JWTClaims)
	return claims
}

// GetClientID returns the authenticated client ID, or ""
func GetClientID(r *http.Request) string {
	if claims := GetClaims(r); claims != nil {
		return claims.ClientID
	}
	return ""
}

// IsAdmin reports whether the request carries admin claims
func IsAdmin(r *http.Request) bool {
	claims := GetClaims(r)
	return claims != nil && claims.IsAdmin
}
