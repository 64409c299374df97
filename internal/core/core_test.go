package core

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/dupset"
	"github.com/kuuji/meshrtr/internal/nhdp"
	"github.com/kuuji/meshrtr/internal/wire"
)

func mustAddr(t *testing.T, s string) addr.NetAddr {
	t.Helper()
	ip, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return addr.FromIP(ip)
}

// fakeMessage is a hand-built wire.Message for feeding straight into
// handleMessage, bypassing any codec.
type fakeMessage struct {
	mtype      wire.MessageType
	originator addr.NetAddr
	noOrig     bool
	seq        uint16
	noSeq      bool
	hopLimit   uint8
	noHopLimit bool
	tlvs       wire.MessageTLVs
	addrs      []wire.AddressBlock
}

func (m fakeMessage) Type() wire.MessageType { return m.mtype }
func (m fakeMessage) Originator() (addr.NetAddr, bool) {
	return m.originator, !m.noOrig
}
func (m fakeMessage) SequenceNumber() (uint16, bool) { return m.seq, !m.noSeq }
func (m fakeMessage) HopCount() (uint8, bool)        { return 0, false }
func (m fakeMessage) HopLimit() (uint8, bool)        { return m.hopLimit, !m.noHopLimit }
func (m fakeMessage) TLVs() wire.MessageTLVs         { return m.tlvs }
func (m fakeMessage) Addresses() []wire.AddressBlock { return m.addrs }

type fakeCodec struct {
	encodeErr error
}

func (f *fakeCodec) Decode(pdu []byte) ([]wire.Message, error) { return nil, nil }

func (f *fakeCodec) Encode(msg wire.OutgoingMessage) ([][]byte, error) {
	if f.encodeErr != nil {
		return nil, f.encodeErr
	}
	return [][]byte{[]byte("pdu")}, nil
}

type writeCall struct {
	ifname string
	pdu    []byte
}

type fakeTransport struct {
	mu     sync.Mutex
	writes []writeCall
}

func (f *fakeTransport) ReadFrom(ctx context.Context) ([]byte, addr.NetAddr, string, error) {
	<-ctx.Done()
	return nil, addr.NetAddr{}, "", ctx.Err()
}

func (f *fakeTransport) WriteTo(ctx context.Context, pdu []byte, ifname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeCall{ifname: ifname, pdu: pdu})
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) calls() []writeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]writeCall, len(f.writes))
	copy(out, f.writes)
	return out
}

func testConfig(t *testing.T, self addr.NetAddr, ifaces ...InterfaceConfig) Config {
	t.Helper()
	return Config{
		Self:         self,
		Domains:      []domain.Params{{ID: 1}},
		Interfaces:   ifaces,
		Codec:        &fakeCodec{},
		TCInterval:   time.Minute,
		TCValidity:   time.Minute,
		TCHoldFactor: 3,
		TickInterval: time.Second,
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNewValidatesConfig(t *testing.T) {
	self := mustAddr(t, "10.0.0.1")
	iface := InterfaceConfig{Name: "eth0", Transport: &fakeTransport{}}

	if _, err := New(Config{}, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing Self")
	}
	if _, err := New(Config{Self: self}, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing Interfaces")
	}
	if _, err := New(Config{Self: self, Interfaces: []InterfaceConfig{iface}}, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing Codec")
	}
	cfg := testConfig(t, self, iface)
	if _, err := New(cfg, nil, nil, nil); err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
}

func TestHandleMessageDropsLocalOriginator(t *testing.T) {
	self := mustAddr(t, "10.0.0.1")
	iface := InterfaceConfig{Name: "eth0", Transport: &fakeTransport{}}
	e := newTestEngine(t, testConfig(t, self, iface))

	now := time.Now()
	msg := fakeMessage{
		mtype:      wire.TCMessageType,
		originator: self,
		seq:        1,
		hopLimit:   5,
	}
	e.handleMessage("eth0", msg, self, now)

	// Since handleMessage returned before ever touching the dupset, this
	// origaddr/seqno pair must still look brand new.
	result := e.processedDup.Add(byte(wire.TCMessageType), self, 1, now.Add(time.Minute))
	if result != dupset.ResultNew {
		t.Fatalf("expected a local-originator message to leave the dupset untouched, got %v", result)
	}
}

func TestHandleMessageGatesDuplicateHello(t *testing.T) {
	self := mustAddr(t, "10.0.0.1")
	neighbor := mustAddr(t, "10.0.0.2")
	iface := InterfaceConfig{Name: "eth0", Transport: &fakeTransport{}}
	e := newTestEngine(t, testConfig(t, self, iface))

	now := time.Now()
	const domainID = domain.ID(1)

	first := fakeMessage{
		mtype:      wire.HelloMessageType,
		originator: neighbor,
		seq:        1,
		hopLimit:   1,
		tlvs: wire.MessageTLVs{
			ValidityTimeNanos: int64(time.Minute),
			HasValidity:       true,
			Willingness:       map[uint8]int{uint8(domainID): 5},
			HasWillingness:    true,
		},
	}
	e.handleMessage(iface.Name, first, neighbor, now)

	nb := e.NHDP.Neighbor(neighbor)
	if nb == nil {
		t.Fatal("expected a neighbor record after processing the first hello")
	}
	ds := nb.PerDomain[domainID]
	if ds == nil || ds.Willingness != 5 {
		t.Fatalf("expected willingness 5 after first hello, got %+v", ds)
	}

	// Same origaddr/seqno again, different content: the dupset must gate
	// this as a duplicate and leave prior state untouched (spec §4.3).
	second := first
	second.tlvs.Willingness = map[uint8]int{uint8(domainID): 9}
	e.handleMessage(iface.Name, second, neighbor, now)

	ds = nb.PerDomain[domainID]
	if ds == nil || ds.Willingness != 5 {
		t.Fatalf("expected willingness to remain 5 after a duplicate hello, got %+v", ds)
	}
}

func TestForwardGateRequiresFloodingMPRSelection(t *testing.T) {
	self := mustAddr(t, "10.0.0.1")
	neighbor := mustAddr(t, "10.0.0.2")
	originator := mustAddr(t, "10.0.0.3")

	t1 := &fakeTransport{}
	t2 := &fakeTransport{}
	ifaceA := InterfaceConfig{Name: "eth0", Transport: t1}
	ifaceB := InterfaceConfig{Name: "eth1", Transport: t2}
	e := newTestEngine(t, testConfig(t, self, ifaceA, ifaceB))

	now := time.Now()
	e.nhdpEng.LocalAddr = func(string) []addr.NetAddr { return []addr.NetAddr{self} }

	// Bring up a SYM link to neighbor on eth0 via a real HELLO exchange,
	// then mark the neighbor as having selected us as flooding MPR.
	e.nhdpEng.ProcessHello(ifaceA.Name, nhdp.HelloMessage{
		Originator:   neighbor,
		Source:       neighbor,
		ValidityTime: time.Minute,
		Addresses: []nhdp.HelloAddr{
			{Addr: self, Status: nhdp.StatusSymmetric},
		},
	}, now)

	nb := e.NHDP.Neighbor(neighbor)
	if nb == nil || nb.SymCount == 0 {
		t.Fatalf("expected a SYM link to neighbor, got %+v", nb)
	}

	tc := fakeMessage{
		mtype:      wire.TCMessageType,
		originator: originator,
		seq:        1,
		hopLimit:   5,
	}

	// Not yet selected as flooding MPR: must not forward.
	e.handleMessage(ifaceA.Name, tc, neighbor, now)
	if len(t2.calls()) != 0 {
		t.Fatalf("expected no forwarding before flooding-MPR selection, got %d writes", len(t2.calls()))
	}

	nb.NeighIsFloodingMPR = true
	tc.seq = 2 // a fresh seqno so the dupset doesn't gate this as already-processed
	e.handleMessage(ifaceA.Name, tc, neighbor, now)

	calls := t2.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one forwarded write to eth1, got %d", len(calls))
	}
	if len(t1.calls()) != 0 {
		t.Fatal("must not forward back out the interface the message arrived on")
	}
}
