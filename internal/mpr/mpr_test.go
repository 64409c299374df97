package mpr

import (
	"net/netip"
	"testing"

	"github.com/kuuji/meshrtr/internal/addr"
)

func ip(s string) addr.NetAddr { return addr.FromIP(netip.MustParseAddr(s)) }

func TestDefaultHandlerSelectsSolePath(t *testing.T) {
	t.Parallel()

	n1, n2 := ip("10.0.0.2"), ip("10.0.0.3")
	twoHopOnlyViaN1 := ip("10.0.1.1")

	g := Graph{
		Neighbors: []Candidate{
			{Addr: n1, Willingness: 3},
			{Addr: n2, Willingness: 3},
		},
		TwoHops: []TwoHop{
			{Neighbor: n1, TwoHop: twoHopOnlyViaN1},
		},
	}

	sel := DefaultHandler{}.Select(g)
	if !sel[n1.AsKey()] {
		t.Errorf("expected n1 to be selected as sole path to its only 2-hop")
	}
	if sel[n2.AsKey()] {
		t.Errorf("expected n2 not to be selected (no 2-hop needs it)")
	}
}

func TestDefaultHandlerCoversAllTwoHops(t *testing.T) {
	t.Parallel()

	n1, n2, n3 := ip("10.0.0.2"), ip("10.0.0.3"), ip("10.0.0.4")
	h1, h2, h3 := ip("10.0.1.1"), ip("10.0.1.2"), ip("10.0.1.3")

	g := Graph{
		Neighbors: []Candidate{
			{Addr: n1, Willingness: 3},
			{Addr: n2, Willingness: 3},
			{Addr: n3, Willingness: 3},
		},
		TwoHops: []TwoHop{
			{Neighbor: n1, TwoHop: h1},
			{Neighbor: n1, TwoHop: h2},
			{Neighbor: n2, TwoHop: h2},
			{Neighbor: n3, TwoHop: h3},
		},
	}

	sel := DefaultHandler{}.Select(g)

	covered := make(map[addr.Key]bool)
	for _, th := range g.TwoHops {
		if sel[th.Neighbor.AsKey()] {
			covered[th.TwoHop.AsKey()] = true
		}
	}
	for _, th := range g.TwoHops {
		if !covered[th.TwoHop.AsKey()] {
			t.Errorf("2-hop %s not covered by selection %v", th.TwoHop, sel)
		}
	}
}
