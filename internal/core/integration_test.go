package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/fib"
	"github.com/kuuji/meshrtr/internal/nhdp"
	"github.com/kuuji/meshrtr/internal/wire"
)

// fakeFIBDriver records every submitted op and always acknowledges
// immediately, so Engine.tick's Reconcile+Drain round-trip settles in one
// pass without needing a retry loop (spec scenario 6 exercises the retry
// path directly in internal/fib's own tests).
type fakeFIBDriver struct {
	mu   sync.Mutex
	subs []fib.Op
}

func (f *fakeFIBDriver) Submit(ctx context.Context, op fib.Op, route domain.RouteEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, op)
	return nil
}

func (f *fakeFIBDriver) Dump(ctx context.Context, filter domain.RouteEntry) ([]domain.RouteEntry, error) {
	return nil, nil
}

func (f *fakeFIBDriver) SupportsSourceSpecific(family addr.Family) bool { return true }

func (f *fakeFIBDriver) Close() error { return nil }

// fakeAddrBlock is a hand-built wire.AddressBlock covering just the fields
// TestEndToEndHelloThenTCInstallsRoutes needs out of a HELLO/TC address
// entry.
type fakeAddrBlock struct {
	addr addr.NetAddr

	linkStatus    int
	hasLinkStatus bool

	nbrOriginator  bool
	nbrRoutable    bool
	hasNbrAddrType bool

	metricIn, metricOut map[uint8]uint32
}

func (a fakeAddrBlock) Address() addr.NetAddr { return a.addr }

func (a fakeAddrBlock) LinkMetric(d uint8) (in, out uint32, ok bool) {
	in, inOK := a.metricIn[d]
	out, outOK := a.metricOut[d]
	return in, out, inOK || outOK
}

func (a fakeAddrBlock) Local() (bool, bool) { return false, false }

func (a fakeAddrBlock) LinkStatus() (int, bool) { return a.linkStatus, a.hasLinkStatus }

func (a fakeAddrBlock) MPRSelector() (map[uint8]bool, bool) { return nil, false }

func (a fakeAddrBlock) NbrAddrType() (originator, routable bool, ok bool) {
	return a.nbrOriginator, a.nbrRoutable, a.hasNbrAddrType
}

func (a fakeAddrBlock) Gateway() (map[uint8]wire.GatewayEntry, bool) { return nil, false }

// TestEndToEndHelloThenTCInstallsRoutes drives the whole pipeline spec §8's
// scenarios 1-2 describe, through the same entry point cmd/meshrtrd's
// readLoop/processLoop feed: handleMessage, not the nhdp/topology engines
// directly. A HELLO from B brings up a SYM link, then a TC from B
// asserting an edge to C produces both the 1-hop route to B and the 2-hop
// route to C, and the housekeeping tick's FIB reconciliation installs both.
func TestEndToEndHelloThenTCInstallsRoutes(t *testing.T) {
	self := mustAddr(t, "10.0.0.1")
	b := mustAddr(t, "10.0.0.2")
	c := mustAddr(t, "10.0.0.3")

	iface := InterfaceConfig{Name: "eth0", Transport: &fakeTransport{}}
	driver := &fakeFIBDriver{}
	cfg := testConfig(t, self, iface)
	cfg.Domains = []domain.Params{{ID: 1, ProtocolID: 10, KernelTableID: 254}}

	e, err := New(cfg, nil, driver, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.nhdpEng.LocalAddr = func(string) []addr.NetAddr { return []addr.NetAddr{self} }

	now := time.Unix(2000, 0)

	hello := fakeMessage{
		mtype:      wire.HelloMessageType,
		originator: b,
		seq:        1,
		hopLimit:   1,
		tlvs: wire.MessageTLVs{
			ValidityTimeNanos: int64(30 * time.Second),
			HasValidity:       true,
		},
		addrs: []wire.AddressBlock{
			fakeAddrBlock{addr: self, linkStatus: int(nhdp.StatusSymmetric), hasLinkStatus: true},
		},
	}
	e.handleMessage(iface.Name, hello, b, now)

	nb := e.NHDP.Neighbor(b)
	if nb == nil || nb.SymCount == 0 {
		t.Fatalf("expected a SYM link to B after hello, got %+v", nb)
	}

	tc := fakeMessage{
		mtype:      wire.TCMessageType,
		originator: b,
		seq:        1, // TC has no separate ANSN field: msg-seq-num doubles as ANSN
		hopLimit:   5,
		tlvs: wire.MessageTLVs{
			ValidityTimeNanos: int64(30 * time.Second),
			HasValidity:       true,
		},
		addrs: []wire.AddressBlock{
			fakeAddrBlock{
				addr: c, nbrOriginator: true, hasNbrAddrType: true,
				metricOut: map[uint8]uint32{1: 20},
			},
		},
	}
	e.handleMessage(iface.Name, tc, b, now)

	routes := e.Router.Compute(cfg.Domains, cfg.LANs, now)

	var toB, toC *domain.RouteEntry
	for i := range routes {
		switch {
		case routes[i].Key.Dst.Equal(b):
			toB = &routes[i]
		case routes[i].Key.Dst.Equal(c):
			toC = &routes[i]
		}
	}
	if toB == nil {
		t.Fatal("expected a route to B after the hello")
	}
	if toC == nil {
		t.Fatal("expected a route to C after the tc")
	}
	if !toC.Gateway.Equal(b) {
		t.Fatalf("route to C gateway = %s, want %s", toC.Gateway, b)
	}
	if toC.Hopcount != 2 {
		t.Fatalf("route to C hopcount = %d, want 2", toC.Hopcount)
	}

	e.FIB.Reconcile(routes)
	if err := e.FIB.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	installed := e.FIB.Installed()
	if len(installed) != len(routes) {
		t.Fatalf("installed = %d routes, want %d", len(installed), len(routes))
	}
}
