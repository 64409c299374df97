package topology

import (
	"net/netip"
	"testing"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
)

func ip(s string) addr.NetAddr { return addr.FromIP(netip.MustParseAddr(s)) }

func prefix(s string) addr.NetAddr { return addr.FromPrefix(netip.MustParsePrefix(s)) }

// TestEdgeInverseInvariant is T1: every edge's inverse's inverse is itself.
func TestEdgeInverseInvariant(t *testing.T) {
	t.Parallel()

	db := NewDB()
	e := NewEngine(db, nil)
	a, b := ip("10.0.0.1"), ip("10.0.0.2")
	now := time.Unix(1000, 0)

	e.ProcessTC(TCMessage{
		Originator: b, ANSN: 5, Validity: 30 * time.Second,
		Addresses: []TCAddr{{Addr: a, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 100}}},
	}, ip("10.0.0.99"), now)

	node := db.Node(b)
	edge := node.Edges[a.AsKey()]
	if edge == nil {
		t.Fatal("edge b->a not created")
	}
	if edge.Inverse == nil || edge.Inverse.Inverse != edge {
		t.Fatalf("T1 violated: edge.inverse.inverse != edge")
	}
}

// TestANSNCommitPrunesStaleEdgesAndEndpoints is T2 and scenario 3.
func TestANSNCommitPrunesStaleEdgesAndEndpoints(t *testing.T) {
	t.Parallel()

	db := NewDB()
	e := NewEngine(db, nil)
	self := ip("10.0.0.99")
	b := ip("10.0.0.2")
	c := ip("10.0.0.3")
	d := ip("10.0.0.4")
	now := time.Unix(1000, 0)

	e.ProcessTC(TCMessage{
		Originator: b, ANSN: 5, Validity: 30 * time.Second,
		Addresses: []TCAddr{
			{Addr: c, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 100}},
			{Addr: d, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 200}},
		},
	}, self, now)

	node := db.Node(b)
	if len(node.Edges) != 2 {
		t.Fatalf("expected 2 edges after ansn=5, got %d", len(node.Edges))
	}
	for _, edge := range node.Edges {
		if edge.ANSN != 5 {
			t.Fatalf("T2 violated: edge ANSN=%d, want 5", edge.ANSN)
		}
	}

	e.ProcessTC(TCMessage{
		Originator: b, ANSN: 6, Validity: 30 * time.Second,
		Addresses: []TCAddr{
			{Addr: c, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 100}},
		},
	}, self, now)

	if len(node.Edges) != 1 {
		t.Fatalf("expected edge to D removed after ansn=6, got %d edges", len(node.Edges))
	}
	if _, stillThere := node.Edges[d.AsKey()]; stillThere {
		t.Fatal("scenario 3: edge to D should have disappeared")
	}
	if _, ok := node.Edges[c.AsKey()]; !ok {
		t.Fatal("edge to C should have survived the ansn=6 commit")
	}
}

// TestStaleANSNDropped is invariant I4.
func TestStaleANSNDropped(t *testing.T) {
	t.Parallel()

	db := NewDB()
	e := NewEngine(db, nil)
	self := ip("10.0.0.99")
	b := ip("10.0.0.2")
	c := ip("10.0.0.3")
	now := time.Unix(1000, 0)

	e.ProcessTC(TCMessage{Originator: b, ANSN: 10, Validity: 30 * time.Second}, self, now)
	e.ProcessTC(TCMessage{
		Originator: b, ANSN: 3, Validity: 30 * time.Second,
		Addresses: []TCAddr{{Addr: c, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 1}}},
	}, self, now)

	node := db.Node(b)
	if node.ANSN != 10 {
		t.Fatalf("ANSN regressed to %d, want still 10 (I4)", node.ANSN)
	}
	if len(node.Edges) != 0 {
		t.Fatal("stale TC should not have installed any edge")
	}
}

// TestVirtualEdgeInvalidUntilBothDirectionsObserved is invariant I3 and
// feeds scenario 2 (TC creates a 2-hop route): an edge reported only by one
// side is virtual and unusable until the peer's own TC corroborates it.
func TestVirtualEdgeInvalidUntilBothDirectionsObserved(t *testing.T) {
	t.Parallel()

	db := NewDB()
	e := NewEngine(db, nil)
	self := ip("10.0.0.99")
	b := ip("10.0.0.2")
	c := ip("10.0.0.3")
	now := time.Unix(1000, 0)

	e.ProcessTC(TCMessage{
		Originator: b, ANSN: 5, Validity: 30 * time.Second,
		Addresses: []TCAddr{
			{Addr: c, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 100}},
			{Addr: prefix("192.168.1.0/24"), Gateway: true, GatewayEntries: map[domain.ID]GatewayEntry{0: {Cost: 200, Distance: 2}}},
		},
	}, self, now)

	bNode := db.Node(b)
	edgeBtoC := bNode.Edges[c.AsKey()]
	if edgeBtoC.Valid(0) {
		t.Fatal("edge should be invalid (virtual) before C's own TC corroborates it")
	}

	e.ProcessTC(TCMessage{
		Originator: c, ANSN: 1, Validity: 30 * time.Second,
		Addresses: []TCAddr{
			{Addr: b, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 50}},
		},
	}, self, now)

	if !edgeBtoC.Valid(0) {
		t.Fatal("edge should become valid once both directions are observed (I3)")
	}
	if edgeBtoC.Virtual() {
		t.Fatal("edge b->c should no longer be virtual once C's own TC corroborated it")
	}

	lan := bNode.Endpoints[addr.RouteKey{Dst: prefix("192.168.1.0/24")}]
	if lan == nil || lan.Cost[0] != 200 || lan.Distance[0] != 2 {
		t.Fatalf("scenario 2: gateway endpoint not recorded correctly: %+v", lan)
	}
}
