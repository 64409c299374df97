// Package topology implements the OLSRv2 Topology Database and TC
// processing engine (spec §3.4, §4.4): TC-nodes keyed by originator with
// ANSN-driven edges and attached-network endpoints, plus inbound TC parsing
// and outbound TC scheduling.
package topology

import (
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
)

// Node is a TC-node: one originator's advertised topology (spec §3.4).
type Node struct {
	Originator addr.NetAddr
	ANSN       uint16
	hasANSN    bool
	Expiry     time.Time
	Interval   time.Duration

	Edges     map[addr.Key]*Edge
	Endpoints map[addr.RouteKey]*Endpoint
}

func newNode(originator addr.NetAddr) *Node {
	return &Node{
		Originator: originator,
		Edges:      make(map[addr.Key]*Edge),
		Endpoints:  make(map[addr.RouteKey]*Endpoint),
	}
}

func (n *Node) isEmpty() bool {
	return len(n.Edges) == 0 && len(n.Endpoints) == 0
}

// Edge is a directed TC-edge with an inverse pointer to the opposite
// direction (spec §3.4, invariant I1).
type Edge struct {
	From, To *Node
	Inverse  *Edge
	Asserted bool // From's own TC has named To as ORIGINATOR, as of ANSN
	Cost     map[domain.ID]uint32
	ANSN     uint16 // ANSN at which Cost/Asserted was last refreshed
}

// Virtual reports whether this edge is still unconfirmed: true until both
// directions have been independently asserted by their own originator's TC
// (spec §3.4). A virtual edge can still carry cost data pushed ahead of
// time via LINK_METRIC(IN) on the inverse direction; see Valid.
func (e *Edge) Virtual() bool {
	return !(e.Asserted && e.Inverse != nil && e.Inverse.Asserted)
}

// Valid reports whether e may be used by Dijkstra (spec §3.4, invariant
// I3): non-virtual, or backed by an inverse at the same ANSN with a cost
// entry for d on both sides (the LINK_METRIC(IN) pre-population case).
func (e *Edge) Valid(d domain.ID) bool {
	if !e.Virtual() {
		return true
	}
	if e.Inverse == nil {
		return false
	}
	if e.Inverse.ANSN != e.ANSN {
		return false
	}
	_, ok1 := e.Cost[d]
	_, ok2 := e.Inverse.Cost[d]
	return ok1 && ok2
}

// EndpointKind distinguishes the two things a TC-endpoint can represent
// (spec §3.4).
type EndpointKind int

const (
	AttachedNetwork EndpointKind = iota
	RoutableNeighbor
)

// Endpoint is a TC-endpoint: an attached network or a routable
// non-originator neighbor address (spec §3.4).
type Endpoint struct {
	Key      addr.RouteKey
	Kind     EndpointKind
	Cost     map[domain.ID]uint32
	Distance map[domain.ID]uint8
	ANSN     uint16
}
