package router

import (
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kuuji/meshrtr/internal/acl"
	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/nhdp"
	"github.com/kuuji/meshrtr/internal/topology"
)

func ip(s string) addr.NetAddr { return addr.FromIP(netip.MustParseAddr(s)) }

// symHello builds an inbound HELLO in which originator reports local as a
// symmetric neighbor at the given in/out cost for domain 0.
func symHello(originator, local addr.NetAddr, cost uint32) nhdp.HelloMessage {
	return nhdp.HelloMessage{
		Originator: originator, Source: originator,
		ValidityTime: 30 * time.Second, IntervalTime: 2 * time.Second,
		Addresses: []nhdp.HelloAddr{
			{Addr: local, Status: nhdp.StatusSymmetric, Metric: map[domain.ID]nhdp.DomainCost{0: {In: cost, Out: cost}}},
		},
	}
}

func heardHello(originator, local addr.NetAddr) nhdp.HelloMessage {
	return nhdp.HelloMessage{
		Originator: originator, Source: originator,
		ValidityTime: 30 * time.Second, IntervalTime: 2 * time.Second,
		Addresses: []nhdp.HelloAddr{{Addr: local, Status: nhdp.StatusHeard}},
	}
}

func newFixture(self addr.NetAddr) (*nhdp.DB, *nhdp.Engine, *topology.DB, *topology.Engine) {
	ndb := nhdp.NewDB()
	neng := nhdp.NewEngine(ndb, noMetrics{}, func(string) []addr.NetAddr { return []addr.NetAddr{self} }, nil)
	tdb := topology.NewDB()
	teng := topology.NewEngine(tdb, nil)
	return ndb, neng, tdb, teng
}

type noMetrics struct{}

func (noMetrics) LinkCost(string, addr.NetAddr, domain.ID) (uint32, uint32, bool) { return 0, 0, false }

var domainParams = domain.Params{ID: 0, ProtocolID: 10, KernelTableID: 254}

// TestTwoHopRouteViaTC is scenario 2: a neighbor reported by NHDP leads,
// via its own TC-asserted edge, to a 2-hop node; the route inherits the
// first hop's gateway unchanged.
func TestTwoHopRouteViaTC(t *testing.T) {
	t.Parallel()

	self := ip("10.0.0.1")
	b := ip("10.0.0.2")
	c := ip("10.0.0.3")
	now := time.Unix(1000, 0)

	ndb, neng, tdb, teng := newFixture(self)
	neng.ProcessHello("eth0", symHello(b, self, 10), now)

	teng.ProcessTC(topology.TCMessage{
		Originator: b, ANSN: 1, Validity: 30 * time.Second,
		Addresses: []topology.TCAddr{
			{Addr: c, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 20}},
		},
	}, self, now)
	teng.ProcessTC(topology.TCMessage{
		Originator: c, ANSN: 1, Validity: 30 * time.Second,
		Addresses: []topology.TCAddr{
			{Addr: b, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 20}},
		},
	}, self, now)

	r := New(ndb, tdb, self, nil, nil, nil)
	routes := r.Compute([]domain.Params{domainParams}, nil, now)

	var found *domain.RouteEntry
	for i := range routes {
		if routes[i].Key.Dst.Equal(c) {
			found = &routes[i]
		}
	}
	if found == nil {
		t.Fatal("no route to C")
	}
	if found.Metric != 30 {
		t.Fatalf("metric to C = %d, want 30", found.Metric)
	}
	if found.Hopcount != 2 {
		t.Fatalf("hopcount to C = %d, want 2", found.Hopcount)
	}
	if !found.Gateway.Equal(b) {
		t.Fatalf("gateway to C = %s, want %s (next-hop routes inherit the first hop)", found.Gateway, b)
	}
}

// TestNonSymNeighborExcluded is T7: a link that never reached SYM yields no
// route through it.
func TestNonSymNeighborExcluded(t *testing.T) {
	t.Parallel()

	self := ip("10.0.0.1")
	b := ip("10.0.0.2")
	now := time.Unix(1000, 0)

	ndb, neng, tdb, _ := newFixture(self)
	neng.ProcessHello("eth0", heardHello(b, self), now)

	r := New(ndb, tdb, self, nil, nil, nil)
	routes := r.Compute([]domain.Params{domainParams}, nil, now)

	for _, rt := range routes {
		if rt.Key.Dst.Equal(b) {
			t.Fatalf("T7 violated: route installed via non-SYM neighbor %s", b)
		}
	}
}

// TestTieBreakPrefersFewerHops covers the spec's tie-break order: two
// equal-cost paths to the same destination resolve to the one with fewer
// hops, regardless of map iteration order.
func TestTieBreakPrefersFewerHops(t *testing.T) {
	t.Parallel()

	self := ip("10.0.0.1")
	b := ip("10.0.0.2")  // 1-hop neighbor, also a 2-hop path to c
	c := ip("10.0.0.3")  // reachable directly (1 hop, cost 15) and via b (2 hops, cost 15)
	now := time.Unix(1000, 0)

	ndb, neng, tdb, teng := newFixture(self)
	neng.ProcessHello("eth0", symHello(b, self, 10), now)
	neng.ProcessHello("eth0", symHello(c, self, 15), now)

	teng.ProcessTC(topology.TCMessage{
		Originator: b, ANSN: 1, Validity: 30 * time.Second,
		Addresses: []topology.TCAddr{
			{Addr: c, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 5}},
		},
	}, self, now)
	// C's own TC corroborates the b<->c link, so the 2-hop path via b is a
	// valid (non-virtual) edge and really ties with the direct one.
	teng.ProcessTC(topology.TCMessage{
		Originator: c, ANSN: 1, Validity: 30 * time.Second,
		Addresses: []topology.TCAddr{
			{Addr: b, Originator: true, LinkMetricOut: map[domain.ID]uint32{0: 5}},
		},
	}, self, now)

	r := New(ndb, tdb, self, nil, nil, nil)
	routes := r.Compute([]domain.Params{domainParams}, nil, now)

	var found *domain.RouteEntry
	for i := range routes {
		if routes[i].Key.Dst.Equal(c) {
			found = &routes[i]
		}
	}
	if found == nil {
		t.Fatal("no route to C")
	}
	if found.Hopcount != 1 {
		t.Fatalf("hopcount to C = %d, want 1 (direct link should win the tie)", found.Hopcount)
	}
	if !found.Gateway.Equal(c) {
		t.Fatalf("gateway to C = %s, want %s", found.Gateway, c)
	}
}

// TestR3MemoizationReturnsSameSlice is R3: an unchanged DB yields the exact
// same slice object on a later call, even though now has advanced.
func TestR3MemoizationReturnsSameSlice(t *testing.T) {
	t.Parallel()

	self := ip("10.0.0.1")
	b := ip("10.0.0.2")
	now := time.Unix(1000, 0)

	ndb, neng, tdb, _ := newFixture(self)
	neng.ProcessHello("eth0", symHello(b, self, 10), now)

	r := New(ndb, tdb, self, nil, nil, nil)
	first := r.Compute([]domain.Params{domainParams}, nil, now)
	second := r.Compute([]domain.Params{domainParams}, nil, now.Add(5*time.Second))

	if len(first) == 0 || len(second) == 0 {
		t.Fatal("expected at least one route")
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("R3 violated: route sets differ across unchanged-DB calls (-first +second):\n%s", diff)
	}
	if &first[0] != &second[0] {
		t.Fatal("R3 violated: memoized call did not return the identical cached slice")
	}
}

// TestLostAddressSuppressed: a neighbor secondary address still within its
// lost-expiry window is not installed as a route.
func TestLostAddressSuppressed(t *testing.T) {
	t.Parallel()

	self := ip("10.0.0.1")
	b := ip("10.0.0.2")
	secondary := ip("10.0.0.20")
	now := time.Unix(1000, 0)

	ndb, neng, tdb, _ := newFixture(self)
	neng.ProcessHello("eth0", symHello(b, self, 10), now)

	neighbor := ndb.Neighbor(b)
	neighbor.Addresses[secondary.AsKey()] = &nhdp.NeighborAddress{
		Addr: secondary, Lost: true, LostExpiry: now.Add(time.Minute),
	}

	r := New(ndb, tdb, self, nil, nil, nil)
	r.NHDPRoutable = true
	routes := r.Compute([]domain.Params{domainParams}, nil, now)

	for _, rt := range routes {
		if rt.Key.Dst.Equal(secondary) {
			t.Fatal("lost address within its expiry window should not be installed")
		}
	}
}

// TestNHDPRoutableGate covers nhdp_routable/routable_acl (spec §4.5): an
// address known only through NHDP (no TC corroboration) is installed only
// when nhdp_routable is enabled and, if set, the ACL accepts it.
func TestNHDPRoutableGate(t *testing.T) {
	t.Parallel()

	self := ip("10.0.0.1")
	b := ip("10.0.0.2")
	now := time.Unix(1000, 0)

	ndb, neng, tdb, _ := newFixture(self)
	neng.ProcessHello("eth0", symHello(b, self, 10), now)

	r := New(ndb, tdb, self, nil, nil, nil)
	routes := r.Compute([]domain.Params{domainParams}, nil, now)
	for _, rt := range routes {
		if rt.Key.Dst.Equal(b) {
			t.Fatal("nhdp_routable=false should suppress the NHDP-only neighbor route")
		}
	}

	r.NHDPRoutable = true
	list := acl.New(acl.Reject)
	list.Add(netip.MustParsePrefix("10.0.0.2/32"), false)
	r.RoutableACL = list
	routes = r.Compute([]domain.Params{domainParams}, nil, now)
	for _, rt := range routes {
		if rt.Key.Dst.Equal(b) {
			t.Fatal("routable_acl should have rejected 10.0.0.2")
		}
	}

	r.RoutableACL = acl.New(acl.Accept)
	routes = r.Compute([]domain.Params{domainParams}, nil, now)
	var found bool
	for _, rt := range routes {
		if rt.Key.Dst.Equal(b) {
			found = true
		}
	}
	if !found {
		t.Fatal("nhdp_routable with an accepting ACL should install the neighbor route")
	}
}

// TestSourceSpecificFlattening: when a domain has source-specific routing
// disabled, a TC endpoint's source prefix is flattened to the zero value.
func TestSourceSpecificFlattening(t *testing.T) {
	t.Parallel()

	self := ip("10.0.0.1")
	b := ip("10.0.0.2")
	lan := addr.FromPrefix(netip.MustParsePrefix("192.168.1.0/24"))
	src := addr.FromPrefix(netip.MustParsePrefix("10.1.0.0/16"))
	now := time.Unix(1000, 0)

	ndb, neng, tdb, teng := newFixture(self)
	neng.ProcessHello("eth0", symHello(b, self, 10), now)

	teng.ProcessTC(topology.TCMessage{
		Originator: b, ANSN: 1, Validity: 30 * time.Second,
		Addresses: []topology.TCAddr{
			{Addr: lan, Gateway: true, GatewayEntries: map[domain.ID]topology.GatewayEntry{0: {Cost: 5, Distance: 1}}},
		},
	}, self, now)

	node := tdb.Node(b)
	for _, ep := range node.Endpoints {
		ep.Key.Src = src
	}

	p := domainParams
	p.SourceSpecific = false
	r := New(ndb, tdb, self, nil, nil, nil)
	routes := r.Compute([]domain.Params{p}, nil, now)

	var found *domain.RouteEntry
	for i := range routes {
		if routes[i].Key.Dst.Equal(lan) {
			found = &routes[i]
		}
	}
	if found == nil {
		t.Fatal("no route to lan endpoint")
	}
	if !found.Key.Src.IsZero() {
		t.Fatalf("source-specific disabled should flatten Src, got %s", found.Key.Src)
	}
}

// TestLANRouteInjectedAtZeroCost: self's configured LAN is advertised as a
// reachable endpoint with no added path cost.
func TestLANRouteInjectedAtZeroCost(t *testing.T) {
	t.Parallel()

	self := ip("10.0.0.1")
	lan := addr.RouteKey{Dst: addr.FromPrefix(netip.MustParsePrefix("172.16.0.0/24"))}
	now := time.Unix(1000, 0)

	ndb, _, tdb, _ := newFixture(self)
	r := New(ndb, tdb, self, nil, nil, nil)
	routes := r.Compute([]domain.Params{domainParams}, []domain.LAN{{Domain: 0, Key: lan, Metric: 7, Distance: 1}}, now)

	var found *domain.RouteEntry
	for i := range routes {
		if routes[i].Key.Dst.Equal(lan.Dst) {
			found = &routes[i]
		}
	}
	if found == nil {
		t.Fatal("no route for configured LAN")
	}
	if found.Metric != 7 {
		t.Fatalf("LAN metric = %d, want configured metric 7", found.Metric)
	}
}
