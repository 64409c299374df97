package l2ib

import "github.com/kuuji/meshrtr/internal/addr"

// Destination is an L2 endpoint (typically an ethernet MAC) reachable via
// bridging through a Neighbor (spec §3.2).
type Destination struct {
	Addr   addr.NetAddr
	Origin *Origin

	neigh *Neighbor // back-reference, invariant (i)
}

// Neighbor returns the owning neighbor record.
func (d *Destination) Neighbor() *Neighbor { return d.neigh }
