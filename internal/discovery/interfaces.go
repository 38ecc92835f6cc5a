package discovery

import (
	"context"
	"net"
)

// Discovery defines how a listener learns which remote addresses may connect
type Discovery interface {
	// PermittedAddresses returns the IP addresses allowed to open a link
	PermittedAddresses(ctx context.Context) ([]string, error)
}

// Resolver looks up the IP addresses of a host.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}
