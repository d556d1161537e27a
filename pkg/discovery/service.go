// Package discovery announces a lanDrive server on the local network and
// browses for running servers, so peers can connect without typing IPs.
package discovery

import (
	"context"
	"net"
)

const (
	// ServiceType is the mDNS service type a lanDrive server registers.
	ServiceType   = "_landrive._tcp"
	DefaultDomain = "local"
)

// ServiceInfo identifies one announced drive on the LAN.
type ServiceInfo struct {
	Name   string // instance name, e.g. the host's drive name
	Type   string // service type, e.g. "_landrive._tcp"
	Domain string // domain, e.g. "local"
	Addr   net.IP
	Port   int               // protocol port
	Text   map[string]string // extra records, e.g. the mirror port
}

// DiscoveryResult carries either a snapshot of the currently visible
// services or a browse error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

// Adapter is the discovery backend used by the serve and connect
// commands.
type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, serviceType string) <-chan DiscoveryResult
}
