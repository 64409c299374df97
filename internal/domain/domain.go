// Package domain defines the routing-domain, LAN, and FIB route-entry
// primitives (spec §3.5).
package domain

import (
	"fmt"

	"github.com/kuuji/meshrtr/internal/addr"
)

// ID is a domain's external identifier (0..255). All is the fixed domain
// that collects LANs applying to every domain (spec §3.5).
type ID uint8

const All ID = 255

// Params holds a routing domain's configured parameters (spec §3.5).
type Params struct {
	ID                ID
	MetricHandler     string
	MPRHandler        string
	ProtocolID        uint8 // 1..254
	KernelTableID     uint8 // 1..254
	Distance          uint8 // 1..255
	UseSrcIPInRoutes  bool
	SourceSpecific    bool
}

// LAN is a Locally Attached Network: (domain, route_key, metric, distance)
// configured locally and advertised in outbound TC (spec §3.4).
type LAN struct {
	Domain   ID
	Key      addr.RouteKey
	Metric   uint32
	Distance uint8
}

// Type classifies a FIB route entry (spec §3.5).
type Type int

const (
	Unicast Type = iota
	Local
	Broadcast
	Multicast
	Throw
	Unreachable
	Prohibit
	Blackhole
	NAT
)

func (t Type) String() string {
	switch t {
	case Local:
		return "local"
	case Broadcast:
		return "broadcast"
	case Multicast:
		return "multicast"
	case Throw:
		return "throw"
	case Unreachable:
		return "unreachable"
	case Prohibit:
		return "prohibit"
	case Blackhole:
		return "blackhole"
	case NAT:
		return "nat"
	default:
		return "unicast"
	}
}

// Family mirrors addr.Family for routes restricted to IPv4/IPv6 (a route's
// family is never MAC48/EUI64).
type Family = addr.Family

// RouteEntry is a target-FIB route (spec §3.5).
type RouteEntry struct {
	Family   Family
	Key      addr.RouteKey
	Gateway  addr.NetAddr // zero if directly attached (no next hop)
	SrcIP    addr.NetAddr // present iff UseSrcIPInRoutes and family is IPv4
	Metric   uint32
	Table    uint8
	Protocol uint8
	IfIndex  int
	Type     Type

	// Hopcount is carried for logging/diagnostics and the state export; it
	// is not part of the route's identity key.
	Hopcount int
}

// InstallKey is the identity the FIB reconciler diffs on (spec §4.6): route
// entries keyed by (family, table, route_key, metric).
type InstallKey struct {
	Family Family
	Table  uint8
	Route  addr.RouteKey
	Metric uint32
}

func (r RouteEntry) InstallKey() InstallKey {
	return InstallKey{Family: r.Family, Table: r.Table, Route: r.Key, Metric: r.Metric}
}

func (r RouteEntry) String() string {
	gw := "<onlink>"
	if !r.Gateway.IsZero() {
		gw = r.Gateway.String()
	}
	return fmt.Sprintf("%s via %s metric=%d table=%d type=%s", r.Key, gw, r.Metric, r.Table, r.Type)
}
