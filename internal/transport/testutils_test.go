package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
)

const testKey = "0123456789abcdef"

type received struct {
	addr     string
	metadata map[string]any
	payload  []byte
}

// recorder implements both ServerHandler and ClientHandler
type recorder struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	messages     chan received
}

func newRecorder() *recorder {
	return &recorder{messages: make(chan received, 16)}
}

func (r *recorder) ClientConnected(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, addr)
}

func (r *recorder) ClientDisconnected(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, addr)
}

func (r *recorder) ClientMessage(addr string, msg pairlink.Message) {
	data, _ := msg.Bytes()
	r.messages <- received{addr: addr, metadata: msg.Metadata, payload: data}
}

func (r *recorder) ServerConnected()    { r.ClientConnected("") }
func (r *recorder) ServerDisconnected() { r.ClientDisconnected("") }
func (r *recorder) ServerMessage(msg pairlink.Message) {
	r.ClientMessage("", msg)
}

func (r *recorder) counts() (connected, disconnected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected), len(r.disconnected)
}

func (r *recorder) waitMessage(t *testing.T) received {
	t.Helper()
	select {
	case m := <-r.messages:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for message")
		return received{}
	}
}

// waitFor polls cond until it holds or the timeout elapses
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting: %s", msg)
}

func startServer(t *testing.T, permitted []string, h ServerHandler, opts Options) (*Server, int) {
	t.Helper()
	srv, err := NewServer("127.0.0.1", 0, permitted, h, opts)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, srv.Addr().(*net.TCPAddr).Port
}

// selfSignedCert creates a throwaway certificate for 127.0.0.1
func selfSignedCert(t *testing.T) (tls.Certificate, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pairlink-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("Failed to build key pair: %v", err)
	}
	return cert, append(certPEM, keyPEM...)
}
