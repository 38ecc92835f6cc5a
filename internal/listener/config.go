package listener

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/pairlink-go/internal/discovery"
	"github.com/rmacdonaldsmith/pairlink-go/internal/metrics"
	"github.com/rmacdonaldsmith/pairlink-go/internal/transport"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
)

// Config holds configuration for a Listener
type Config struct {
	// BindAddress is the local interface to listen on; empty means all interfaces
	BindAddress string

	// Port to listen on; 0 picks a free port
	Port int

	// PermittedAddresses are the addresses allowed to connect (IPs or host names)
	PermittedAddresses []string

	// Discovery overrides how PermittedAddresses are resolved
	Discovery discovery.Discovery

	Transport transport.Options
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: listener port %d", pairlink.ErrInvalidPort, c.Port)
	}
	if len(c.PermittedAddresses) == 0 && c.Discovery == nil {
		return errors.New("at least one permitted address is required")
	}
	return c.Transport.Validate()
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Transport.Logger == nil {
		c.Transport.Logger = c.Logger
	}
	if c.Discovery == nil && len(c.PermittedAddresses) > 0 {
		c.Discovery = discovery.NewStaticDiscovery(c.PermittedAddresses)
	}
	c.Transport.SetDefaults()
}
