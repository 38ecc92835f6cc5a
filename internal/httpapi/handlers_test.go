package httpapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pairlink-go/internal/journal"
	"github.com/rmacdonaldsmith/pairlink-go/internal/metrics"
)

func TestHandlers_Login(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("regular client", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "ops-tool", Secret: testLoginSecret})
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decodeBody[AuthResponse](t, rr)
		assert.Equal(t, "ops-tool", resp.ClientID)
		assert.False(t, resp.IsAdmin)

		claims, err := ts.server.jwtAuth.ValidateToken(resp.Token)
		require.NoError(t, err)
		assert.False(t, claims.IsAdmin)
	})

	t.Run("admin client", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "admin", Secret: testLoginSecret})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, decodeBody[AuthResponse](t, rr).IsAdmin)
	})

	t.Run("short client id", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "x", Secret: testLoginSecret})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects missing or wrong secret", func(t *testing.T) {
		for _, req := range []AuthRequest{
			{ClientID: "ops-tool"},
			{ClientID: "admin"},
			{ClientID: "admin", Secret: "guess"},
			{ClientID: "admin", Secret: testLoginSecret + "x"},
		} {
			rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code, "login %+v", req)
			assert.NotContains(t, rr.Body.String(), "token")
		}
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"clientId":"abc"}`))
		req.Header.Set("Content-Type", "text/plain")
		rr := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/auth/login", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestHandlers_LoginDisabledWithoutSecret(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.LoginSecret = "" })

	for _, secret := range []string{"", "anything"} {
		rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "admin", Secret: secret})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	}
}

func TestHandlers_Health(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	resp := decodeBody[HealthResponse](t, rr)
	assert.False(t, resp.Healthy)
	assert.Equal(t, "Starting", resp.State)

	ts.node.setHealthy()

	rr = ts.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	resp = decodeBody[HealthResponse](t, rr)
	assert.True(t, resp.Healthy)
	assert.Equal(t, "Healthy", resp.State)
	assert.Equal(t, "10.0.0.2:51234", resp.PeerAddress)
	assert.True(t, resp.ListenerConnected)
	assert.True(t, resp.ConnectorConnected)
	assert.Equal(t, int64(3), resp.ConnectorAttempts)
}

func TestHandlers_SendMessage(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.node.setHealthy()
	token := ts.token(t, "sender", false)

	rr := ts.do(t, http.MethodPost, "/api/v1/messages", token, SendRequest{
		Metadata: map[string]any{"type": "order"},
		Payload:  "hello peer",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decodeBody[SendResponse](t, rr)
	assert.True(t, resp.Sent)
	assert.Equal(t, metrics.RouteConnector, resp.Route)
	assert.NotEmpty(t, resp.MessageID)

	sent := ts.node.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "hello peer", string(sent[0].payload))
	assert.Equal(t, "order", sent[0].metadata["type"])
	assert.Equal(t, resp.MessageID, sent[0].metadata[MessageIDKey])

	entries, err := ts.journal.Latest(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.KindMessageSent, entries[0].Kind)
	assert.Equal(t, int64(len("hello peer")), entries[0].ContentLength)
	assert.Contains(t, entries[0].Detail, "route=connector")
}

func TestHandlers_SendMessageBase64(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.node.setHealthy()
	token := ts.token(t, "sender", false)

	raw := []byte{0x00, 0xff, 0x10}
	rr := ts.do(t, http.MethodPost, "/api/v1/messages", token, SendRequest{
		PayloadBase64: base64.StdEncoding.EncodeToString(raw),
	})
	require.Equal(t, http.StatusOK, rr.Code)

	sent := ts.node.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, raw, sent[0].payload)
}

// TestHandlers_SendMessageLinkDown verifies a down link answers 503 with sent=false
func TestHandlers_SendMessageLinkDown(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "sender", false)

	rr := ts.do(t, http.MethodPost, "/api/v1/messages", token, SendRequest{Payload: "lost"})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	resp := decodeBody[SendResponse](t, rr)
	assert.False(t, resp.Sent)
	assert.Equal(t, metrics.RouteNone, resp.Route)

	entries, err := ts.journal.Latest(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.KindSendFailed, entries[0].Kind)
}

func TestHandlers_SendMessageRejections(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.node.setHealthy()
	token := ts.token(t, "sender", false)

	tests := []struct {
		name       string
		token      string
		body       any
		wantStatus int
	}{
		{name: "unauthenticated", body: SendRequest{Payload: "x"}, wantStatus: http.StatusUnauthorized},
		{name: "both payloads", token: token, body: SendRequest{Payload: "x", PayloadBase64: "eA=="}, wantStatus: http.StatusBadRequest},
		{name: "bad base64", token: token, body: SendRequest{PayloadBase64: "!!"}, wantStatus: http.StatusBadRequest},
		{name: "unknown field", token: token, body: map[string]any{"topic": "x"}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/api/v1/messages", tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
	assert.Empty(t, ts.node.sentMessages())
}

func TestHandlers_SendMessageNoAuth(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.NoAuth = true })
	ts.node.setHealthy()

	rr := ts.do(t, http.MethodPost, "/api/v1/messages", "", SendRequest{Payload: "dev"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandlers_AdminEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	for _, kind := range []journal.Kind{journal.KindClusterHealthy, journal.KindMessageReceived, journal.KindClusterUnhealthy} {
		_, err := ts.journal.Append(ctx, journal.Entry{Kind: kind})
		require.NoError(t, err)
	}

	t.Run("admin with limit", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/admin/events?limit=2", ts.token(t, "admin", true), nil)
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decodeBody[EventsResponse](t, rr)
		require.Len(t, resp.Entries, 2)
		assert.Equal(t, journal.KindMessageReceived, resp.Entries[0].Kind)
		assert.Equal(t, journal.KindClusterUnhealthy, resp.Entries[1].Kind)
		assert.Equal(t, int64(3), resp.EndOffset)
	})

	t.Run("default limit", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/admin/events", ts.token(t, "admin", true), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decodeBody[EventsResponse](t, rr).Entries, 3)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/admin/events?limit=-4", ts.token(t, "admin", true), nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("non admin", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/admin/events", ts.token(t, "alice", false), nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestHandlers_AdminEventsWithoutJournal(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.Journal = nil })

	rr := ts.do(t, http.MethodGet, "/api/v1/admin/events", ts.token(t, "admin", true), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
