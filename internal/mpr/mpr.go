// Package mpr defines the pluggable Multi-Point Relay selection contract
// (spec §4.2, §9: "MPR handler = {name, select(graph) -> selection}") and a
// default greedy-cover implementation.
package mpr

import "github.com/kuuji/meshrtr/internal/addr"

// TwoHop describes one 2-hop neighbor reachable through a 1-hop neighbor,
// with the directional costs NHDP recorded for that link (spec §3.3
// Link-2hop).
type TwoHop struct {
	Neighbor addr.NetAddr // the 1-hop neighbor this 2-hop is reachable through
	TwoHop   addr.NetAddr // the 2-hop neighbor's address
	In, Out  uint32       // quantized costs, metric.Infinite if unknown
}

// Candidate is one 1-hop neighbor under consideration for MPR selection.
type Candidate struct {
	Addr       addr.NetAddr
	Willingness int // 0..7, higher = more willing to relay
	In, Out    uint32
}

// Graph is the input to a Handler's Select: the 1-hop neighborhood plus the
// 2-hop neighborhood reachable through it (spec §4.2).
type Graph struct {
	Neighbors []Candidate
	TwoHops   []TwoHop
}

// Selection reports, for each neighbor address, whether the local router
// selects it as an MPR (spec §4.2: "local_is_mpr").
type Selection map[addr.Key]bool

// Handler is the pluggable MPR algorithm contract (spec §9).
type Handler interface {
	Name() string
	Select(g Graph) Selection
}

// DefaultHandler implements RFC 7181's default greedy-cover heuristic: MPRs
// are chosen to minimally cover the 2-hop neighborhood reachable only
// through symmetric 1-hop neighbors, preferring higher 2-hop coverage and
// then higher willingness.
type DefaultHandler struct{}

func (DefaultHandler) Name() string { return "default" }

func (DefaultHandler) Select(g Graph) Selection {
	sel := make(Selection, len(g.Neighbors))
	for _, n := range g.Neighbors {
		sel[n.Addr.AsKey()] = false
	}

	// uncovered: set of 2-hop addresses not yet reachable through a
	// selected MPR.
	uncovered := make(map[addr.Key]bool)
	for _, th := range g.TwoHops {
		uncovered[th.TwoHop.AsKey()] = true
	}

	// Step 1: any neighbor that is the *only* path to some 2-hop is
	// mandatory (RFC 7181 default MPR selection, "must-select" step).
	reachCount := make(map[addr.Key]int)
	for _, th := range g.TwoHops {
		reachCount[th.TwoHop.AsKey()]++
	}
	for _, th := range g.TwoHops {
		if reachCount[th.TwoHop.AsKey()] == 1 {
			sel[th.Neighbor.AsKey()] = true
		}
	}
	for key, isSel := range sel {
		if !isSel {
			continue
		}
		for _, th := range g.TwoHops {
			if th.Neighbor.AsKey() == key {
				delete(uncovered, th.TwoHop.AsKey())
			}
		}
	}

	// Step 2: greedily add the neighbor covering the most remaining 2-hops,
	// tie-broken by willingness; a remaining tie keeps the neighbor that
	// comes first in g.Neighbors.
	for len(uncovered) > 0 {
		var best addr.Key
		bestCover := -1
		bestWill := -1
		progressed := false
		for _, n := range g.Neighbors {
			key := n.Addr.AsKey()
			if sel[key] {
				continue
			}
			cover := 0
			for _, th := range g.TwoHops {
				if th.Neighbor.AsKey() == key && uncovered[th.TwoHop.AsKey()] {
					cover++
				}
			}
			if cover == 0 {
				continue
			}
			if cover > bestCover || (cover == bestCover && n.Willingness > bestWill) {
				best, bestCover, bestWill = key, cover, n.Willingness
				progressed = true
			}
		}
		if !progressed {
			break // remaining 2-hops are unreachable through any candidate
		}
		sel[best] = true
		for _, th := range g.TwoHops {
			if th.Neighbor.AsKey() == best {
				delete(uncovered, th.TwoHop.AsKey())
			}
		}
	}

	return sel
}
