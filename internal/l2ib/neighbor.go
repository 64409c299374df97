package l2ib

import (
	"fmt"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/metric"
)

// NeighKey identifies a Neighbor within a Net: (mac, link_id) (spec §3.2).
// link_id disambiguates multiple parallel L2 links to the same MAC (LID,
// spec glossary), e.g. multiple DLEP sessions toward one radio.
type NeighKey struct {
	MAC    [6]byte
	LinkID string // up to 16 raw bytes, compared as the Go string of those bytes
}

func neighKey(mac [6]byte, linkID []byte) NeighKey {
	return NeighKey{MAC: mac, LinkID: string(linkID)}
}

func (k NeighKey) String() string {
	if k.LinkID == "" {
		return fmt.Sprintf("%x", k.MAC)
	}
	return fmt.Sprintf("%x/%x", k.MAC, []byte(k.LinkID))
}

// Neighbor is an L2IB neighbor record, keyed within its Net by NeighKey
// (spec §3.2).
type Neighbor struct {
	Key NeighKey

	cells [metric.NeighIndexCount()]Cell

	ips   map[string]addr.NetAddr // remote router's claimed addresses
	dests map[addr.Key]*Destination

	net *Net // back-reference, invariant (ii)
}

func newNeighbor(key NeighKey, net *Net) *Neighbor {
	return &Neighbor{
		Key:   key,
		ips:   make(map[string]addr.NetAddr),
		dests: make(map[addr.Key]*Destination),
		net:   net,
	}
}

// Net returns the owning Net record.
func (n *Neighbor) Net() *Net { return n.net }

// DataSet writes value at idx from origin `by`, applying the §3.2 priority
// rule. Returns whether the cell was overwritten.
func (n *Neighbor) DataSet(idx metric.NeighIndex, by *Origin, v Value) bool {
	return n.cells[idx].set(by, v)
}

// DataGet returns the raw cell at idx, without falling back to the net's
// default (use DB.NeighQuery for the effective-value lookup rule).
func (n *Neighbor) DataGet(idx metric.NeighIndex) Cell {
	return n.cells[idx]
}

// AddIP records an address observed as claimed by this neighbor.
func (n *Neighbor) AddIP(a addr.NetAddr) {
	n.ips[string(a.AsKey())] = a
}

// IPs returns the neighbor's claimed addresses.
func (n *Neighbor) IPs() []addr.NetAddr {
	out := make([]addr.NetAddr, 0, len(n.ips))
	for _, a := range n.ips {
		out = append(out, a)
	}
	return out
}

// Destinations returns the bridged destinations reachable via this
// neighbor.
func (n *Neighbor) Destinations() []*Destination {
	out := make([]*Destination, 0, len(n.dests))
	for _, d := range n.dests {
		out = append(out, d)
	}
	return out
}

// isEmpty reports whether every cell, IP, and destination owned by any
// origin has been cleared — eligible for GC during commit (invariant iii).
func (n *Neighbor) isEmpty() bool {
	for i := range n.cells {
		if !n.cells[i].empty() {
			return false
		}
	}
	return len(n.dests) == 0 && len(n.ips) == 0
}
