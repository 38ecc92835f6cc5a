package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rmacdonaldsmith/pairlink-go/internal/transport"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
)

var (
	// ErrInvalidPort is returned when a listener or peer port is out of range
	ErrInvalidPort = pairlink.ErrInvalidPort
	// ErrEmptyPeerAddress is returned when the peer address is empty
	ErrEmptyPeerAddress = pairlink.ErrEmptyPeerAddress
	// ErrInvalidBufferSize is returned when the read stream buffer size is less than 1
	ErrInvalidBufferSize = transport.ErrInvalidBufferSize
	// ErrNilConfig is returned by NewNode when no config is given
	ErrNilConfig = errors.New("config cannot be nil")
)

const (
	// DefaultRetryInterval is the pause between connector attempts
	DefaultRetryInterval = time.Second
	// DefaultDebounceWindow suppresses repeated unhealthy notifications
	DefaultDebounceWindow = time.Second
)

// Settings are the link options shared by the listener and the connector
type Settings struct {
	// AcceptInvalidCertificates disables verification of the peer certificate
	AcceptInvalidCertificates bool

	// MutuallyAuthenticate requires certificates on both sides
	MutuallyAuthenticate bool

	// PresharedKey is exchanged during the authentication challenge.
	// Empty disables the challenge; otherwise it must be exactly 16 bytes.
	PresharedKey string

	// ReadStreamBufferSize is the chunk size for payloads; 0 means the default
	ReadStreamBufferSize int
}

// SetPresharedKey validates the key and assigns it.
// An invalid key leaves the current key in place.
func (s *Settings) SetPresharedKey(key string) error {
	if err := pairlink.ValidatePresharedKey(key); err != nil {
		return err
	}
	s.PresharedKey = key
	return nil
}

// Config represents configuration for a Node
type Config struct {
	// ListenerAddress is the local interface to listen on; empty means all interfaces
	ListenerAddress string

	// ListenerPort is the local port to listen on; 0 picks a free port
	ListenerPort int

	// PeerAddress is the host or IP of the peer node
	PeerAddress string

	// PeerPort is the peer's listener port
	PeerPort int

	// CertificateFile enables TLS. PKCS#12 files are decrypted with CertificatePassword;
	// PEM files must contain the certificate and its key.
	CertificateFile     string
	CertificatePassword string

	// PermittedAddresses may connect to the listener. Defaults to PeerAddress.
	PermittedAddresses []string

	Settings Settings

	// RetryInterval is the pause between connector attempts
	RetryInterval time.Duration

	// DebounceWindow is the minimum spacing of unhealthy notifications
	DebounceWindow time.Duration

	// ConnectTimeout bounds each connection attempt and handshake
	ConnectTimeout time.Duration

	Logger     *zap.Logger
	Clock      clock.Clock
	Registerer prometheus.Registerer
}

// NewConfig creates a Node configuration with safe defaults
func NewConfig(listenerAddress string, listenerPort int, peerAddress string, peerPort int) *Config {
	return &Config{
		ListenerAddress: listenerAddress,
		ListenerPort:    listenerPort,
		PeerAddress:     peerAddress,
		PeerPort:        peerPort,
		RetryInterval:   DefaultRetryInterval,
		DebounceWindow:  DefaultDebounceWindow,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.ListenerPort < 0 || c.ListenerPort > 65535 {
		return fmt.Errorf("%w: listener port %d", ErrInvalidPort, c.ListenerPort)
	}
	if c.PeerAddress == "" {
		return ErrEmptyPeerAddress
	}
	if c.PeerPort < 1 || c.PeerPort > 65535 {
		return fmt.Errorf("%w: peer port %d", ErrInvalidPort, c.PeerPort)
	}
	if err := pairlink.ValidatePresharedKey(c.Settings.PresharedKey); err != nil {
		return err
	}
	if c.Settings.ReadStreamBufferSize < 0 {
		return ErrInvalidBufferSize
	}
	if c.RetryInterval < 0 || c.DebounceWindow < 0 {
		return errors.New("retry interval and debounce window cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.Settings.ReadStreamBufferSize == 0 {
		c.Settings.ReadStreamBufferSize = transport.DefaultReadStreamBufferSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if len(c.PermittedAddresses) == 0 && c.PeerAddress != "" {
		c.PermittedAddresses = []string{c.PeerAddress}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// WithCertificate enables TLS with the given certificate file
func (c *Config) WithCertificate(file, password string) *Config {
	c.CertificateFile = file
	c.CertificatePassword = password
	return c
}

// WithPermittedAddresses sets the addresses allowed to connect to the listener
func (c *Config) WithPermittedAddresses(addrs ...string) *Config {
	c.PermittedAddresses = addrs
	return c
}

// WithSettings sets the link settings
func (c *Config) WithSettings(s Settings) *Config {
	c.Settings = s
	return c
}

// WithRetryInterval sets the pause between connector attempts
func (c *Config) WithRetryInterval(d time.Duration) *Config {
	c.RetryInterval = d
	return c
}

// WithDebounceWindow sets the unhealthy notification debounce window
func (c *Config) WithDebounceWindow(d time.Duration) *Config {
	c.DebounceWindow = d
	return c
}

// WithConnectTimeout sets the timeout of each connection attempt
func (c *Config) WithConnectTimeout(d time.Duration) *Config {
	c.ConnectTimeout = d
	return c
}

// WithLogger sets the logger
func (c *Config) WithLogger(l *zap.Logger) *Config {
	c.Logger = l
	return c
}

// WithClock sets the clock used for retries and debouncing
func (c *Config) WithClock(clk clock.Clock) *Config {
	c.Clock = clk
	return c
}

// WithRegisterer registers the node's metrics on r
func (c *Config) WithRegisterer(r prometheus.Registerer) *Config {
	c.Registerer = r
	return c
}

// transportOptions builds the options shared by both roles, loading the certificate if configured
func (c *Config) transportOptions() (transport.Options, error) {
	opts := transport.Options{
		AcceptInvalidCertificates: c.Settings.AcceptInvalidCertificates,
		MutuallyAuthenticate:      c.Settings.MutuallyAuthenticate,
		PresharedKey:              c.Settings.PresharedKey,
		ReadStreamBufferSize:      c.Settings.ReadStreamBufferSize,
		ConnectTimeout:            c.ConnectTimeout,
		Logger:                    c.Logger,
	}
	if c.CertificateFile != "" {
		cert, err := transport.LoadCertificate(c.CertificateFile, c.CertificatePassword)
		if err != nil {
			return transport.Options{}, err
		}
		opts.Certificate = &cert
	}
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return transport.Options{}, err
	}
	return opts, nil
}
