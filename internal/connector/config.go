package connector

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rmacdonaldsmith/pairlink-go/internal/metrics"
	"github.com/rmacdonaldsmith/pairlink-go/internal/transport"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
)

// DefaultRetryInterval is the pause between reconnect attempts
const DefaultRetryInterval = time.Second

// Config holds configuration for a Connector
type Config struct {
	PeerAddress   string
	PeerPort      int
	Transport     transport.Options
	RetryInterval time.Duration
	Clock         clock.Clock
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PeerAddress == "" {
		return pairlink.ErrEmptyPeerAddress
	}
	if c.PeerPort < 1 || c.PeerPort > 65535 {
		return fmt.Errorf("%w: peer port %d", pairlink.ErrInvalidPort, c.PeerPort)
	}
	return c.Transport.Validate()
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Transport.Logger == nil {
		c.Transport.Logger = c.Logger
	}
	c.Transport.SetDefaults()
}
