package transport

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
)

const (
	// DefaultReadStreamBufferSize is the default chunk size used when sending payloads
	DefaultReadStreamBufferSize = 65536
	// DefaultConnectTimeout bounds stream establishment and the handshake
	DefaultConnectTimeout = 5 * time.Second
	// DefaultMaxMessageSize bounds the payload of a single inbound message
	DefaultMaxMessageSize = 64 << 20
)

// Options holds the settings shared by Server and Client
type Options struct {
	// AcceptInvalidCertificates disables verification of the remote certificate
	AcceptInvalidCertificates bool

	// MutuallyAuthenticate makes the server require, and the client present, a certificate
	MutuallyAuthenticate bool

	// PresharedKey enables the challenge/response handshake when non-empty.
	// Use SetPresharedKey to validate on assignment.
	PresharedKey string

	// ReadStreamBufferSize is the maximum number of payload bytes per chunk
	ReadStreamBufferSize int

	// Certificate enables TLS when set
	Certificate *tls.Certificate

	// RootCAs verifies the remote certificate; nil means the system pool
	RootCAs *x509.CertPool

	// ConnectTimeout bounds how long Client.Connect and the server handshake may take
	ConnectTimeout time.Duration

	// MaxMessageSize is the largest inbound content length accepted
	MaxMessageSize int64

	Logger *zap.Logger
}

// DefaultOptions returns options with defaults applied
func DefaultOptions() Options {
	var o Options
	o.SetDefaults()
	return o
}

// SetPresharedKey validates and assigns the preshared key.
// The key is left unchanged when invalid.
func (o *Options) SetPresharedKey(key string) error {
	if err := pairlink.ValidatePresharedKey(key); err != nil {
		return err
	}
	o.PresharedKey = key
	return nil
}

// SetDefaults sets sensible default values for unset fields
func (o *Options) SetDefaults() {
	if o.ReadStreamBufferSize == 0 {
		o.ReadStreamBufferSize = DefaultReadStreamBufferSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Validate checks if the options are usable
func (o *Options) Validate() error {
	if err := pairlink.ValidatePresharedKey(o.PresharedKey); err != nil {
		return err
	}
	if o.ReadStreamBufferSize < 1 {
		return ErrInvalidBufferSize
	}
	return nil
}

// TLSEnabled reports whether a certificate is configured
func (o *Options) TLSEnabled() bool {
	return o.Certificate != nil
}

// maxFrameSize bounds a single gRPC message: one chunk plus frame overhead
func (o *Options) maxFrameSize() int {
	const overhead = 64 << 10
	size := o.ReadStreamBufferSize + overhead
	if size < 4<<20 {
		return 4 << 20
	}
	return size
}
