package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNoPermittedAddresses is returned when nothing in the static list resolves
var ErrNoPermittedAddresses = errors.New("no permitted addresses")

// StaticDiscovery implements Discovery using a static list of entries.
// Entries may be IP addresses, host names, or either with a ":port" suffix;
// the port is ignored since the peer's source port is ephemeral.
type StaticDiscovery struct {
	entries  []string
	resolver Resolver
}

// NewStaticDiscovery creates a new static discovery service with the given entries
func NewStaticDiscovery(entries []string) *StaticDiscovery {
	return &StaticDiscovery{
		entries:  entries,
		resolver: net.DefaultResolver,
	}
}

// WithResolver replaces the resolver used for host names
func (s *StaticDiscovery) WithResolver(r Resolver) *StaticDiscovery {
	s.resolver = r
	return s
}

// PermittedAddresses resolves every entry to IP addresses, in order, without duplicates
func (s *StaticDiscovery) PermittedAddresses(ctx context.Context) ([]string, error) {
	if len(s.entries) == 0 {
		return nil, ErrNoPermittedAddresses
	}

	seen := make(map[string]struct{})
	var addrs []string
	add := func(ip net.IP) {
		key := ip.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		addrs = append(addrs, key)
	}

	for _, entry := range s.entries {
		host := entry
		if h, _, err := net.SplitHostPort(entry); err == nil {
			host = h
		}
		if host == "" {
			continue
		}

		if ip := net.ParseIP(host); ip != nil {
			add(ip)
			continue
		}

		resolved, err := s.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve permitted address %q: %w", host, err)
		}
		for _, ipAddr := range resolved {
			add(ipAddr.IP)
		}
	}

	if len(addrs) == 0 {
		return nil, ErrNoPermittedAddresses
	}
	return addrs, nil
}
