package nhdp

import (
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
)

// NeighborAddress is an IP/MAC claimed by a neighbor. It may persist in a
// "lost" state after its owning link disappears, with its own expiry, so
// routes to it can be suppressed rather than immediately withdrawn (spec
// §3.3, §4.5).
type NeighborAddress struct {
	Addr       addr.NetAddr
	Lost       bool
	LostExpiry time.Time
}

// NeighborDomainState is one routing domain's view of a neighbor (spec
// §3.3): MPR flags in both directions plus the aggregated directional cost
// across that neighbor's SYM links.
type NeighborDomainState struct {
	LocalIsMPR  bool // we have selected this neighbor as our MPR
	NeighIsMPR  bool // this neighbor has selected us as its MPR
	Willingness int  // 0..7, from the neighbor's last HELLO
	In, Out     uint32
}

// Neighbor aggregates every Link that shares an originator (spec §3.3).
type Neighbor struct {
	Originator addr.NetAddr
	Links      []*Link
	Partner    *Neighbor // dualstack partner neighbor (distinct originator, same physical peer)

	Addresses map[addr.Key]*NeighborAddress

	PerDomain map[domain.ID]*NeighborDomainState

	SymCount int // invariant (b): > 0 iff any link is SYM

	LocalIsFloodingMPR bool
	NeighIsFloodingMPR bool
}

func newNeighbor(originator addr.NetAddr) *Neighbor {
	return &Neighbor{
		Originator: originator,
		Addresses:  make(map[addr.Key]*NeighborAddress),
		PerDomain:  make(map[domain.ID]*NeighborDomainState),
	}
}

func (n *Neighbor) domainState(d domain.ID) *NeighborDomainState {
	ds, ok := n.PerDomain[d]
	if !ok {
		ds = &NeighborDomainState{}
		n.PerDomain[d] = ds
	}
	return ds
}

// recomputeSymCount updates SymCount from current link states (invariant
// (b)); it never removes links, callers GC separately.
func (n *Neighbor) recomputeSymCount(now time.Time) {
	count := 0
	for _, l := range n.Links {
		if l.State(now) == Sym {
			count++
		}
	}
	n.SymCount = count
}

func (n *Neighbor) isEmpty() bool {
	return len(n.Links) == 0 && len(n.Addresses) == 0
}

func (n *Neighbor) removeLink(l *Link) {
	for i, x := range n.Links {
		if x == l {
			n.Links = append(n.Links[:i], n.Links[i+1:]...)
			return
		}
	}
}
