package l2provider

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/metric"
)

func TestStaticOriginAppliesConfiguredValues(t *testing.T) {
	t.Parallel()

	db := l2ib.New()
	so, err := NewStaticOrigin(db, nil)
	if err != nil {
		t.Fatalf("NewStaticOrigin: %v", err)
	}

	so.Apply([]StaticNetConfig{
		{
			IfName:    "wlan0",
			Type:      l2ib.TypeWireless,
			NetValues: map[metric.NetIndex]l2ib.Value{metric.NetTxBcBitrate: l2ib.I64Value(6_000_000)},
			NeighDefaults: map[metric.NeighIndex]l2ib.Value{
				metric.NeighTxBitrate: l2ib.I64Value(6_000_000),
			},
		},
	})

	net, ok := db.Net("wlan0")
	if !ok {
		t.Fatal("expected wlan0 net to exist after Apply")
	}
	if net.Type != l2ib.TypeWireless {
		t.Fatalf("expected TypeWireless, got %v", net.Type)
	}
	if v := net.DataGet(metric.NetTxBcBitrate).Value; v.I64 != 6_000_000 {
		t.Fatalf("expected broadcast bitrate 6e6, got %v", v)
	}
	if v := net.DataGetDefault(metric.NeighTxBitrate).Value; v.I64 != 6_000_000 {
		t.Fatalf("expected neighbor default bitrate 6e6, got %v", v)
	}
}

func TestStaticOriginCloseRetractsValues(t *testing.T) {
	t.Parallel()

	db := l2ib.New()
	so, err := NewStaticOrigin(db, nil)
	if err != nil {
		t.Fatalf("NewStaticOrigin: %v", err)
	}

	so.Apply([]StaticNetConfig{
		{IfName: "eth0", NetValues: map[metric.NetIndex]l2ib.Value{metric.NetTxBcBitrate: l2ib.I64Value(1000)}},
	})
	if _, ok := db.Net("eth0"); !ok {
		t.Fatal("expected eth0 to exist before Close")
	}

	so.Close()
	if _, ok := db.Net("eth0"); ok {
		t.Fatal("expected eth0 to be garbage collected once its only value was retracted")
	}
}

func TestStaticOriginAppliesNeighborsIPsAndDestinations(t *testing.T) {
	t.Parallel()

	db := l2ib.New()
	so, err := NewStaticOrigin(db, nil)
	if err != nil {
		t.Fatalf("NewStaticOrigin: %v", err)
	}

	localIP := mustFromIP(t, "10.0.0.1")
	neighIP := mustFromIP(t, "10.0.0.2")
	destMAC := mustFromMAC(t, "11:22:33:44:55:66")
	neighMAC := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

	so.Apply([]StaticNetConfig{
		{
			IfName:   "wlan0",
			LocalIPs: []addr.NetAddr{localIP},
			Neighbors: []StaticNeighborConfig{
				{
					MAC:          neighMAC,
					Values:       map[metric.NeighIndex]l2ib.Value{metric.NeighTxBitrate: l2ib.I64Value(6_000_000)},
					IPs:          []addr.NetAddr{neighIP},
					Destinations: []addr.NetAddr{destMAC},
				},
			},
		},
	})

	net, ok := db.Net("wlan0")
	if !ok {
		t.Fatal("expected wlan0 net to exist after Apply")
	}
	if len(net.LocalAddrs()) != 1 || !net.LocalAddrs()[0].Equal(localIP) {
		t.Fatalf("expected local addr %v, got %v", localIP, net.LocalAddrs())
	}

	nb, ok := net.Neighbor(l2ib.NeighKey{MAC: neighMAC})
	if !ok {
		t.Fatal("expected statically configured neighbor to exist")
	}
	if v := nb.DataGet(metric.NeighTxBitrate).Value; v.I64 != 6_000_000 {
		t.Fatalf("expected tx_bitrate 6e6, got %v", v)
	}
	if len(nb.IPs()) != 1 || !nb.IPs()[0].Equal(neighIP) {
		t.Fatalf("expected neighbor IP %v, got %v", neighIP, nb.IPs())
	}
	if len(nb.Destinations()) != 1 || !nb.Destinations()[0].Addr.Equal(destMAC) {
		t.Fatalf("expected one bridged destination %v, got %v", destMAC, nb.Destinations())
	}
}

func mustFromIP(t *testing.T, s string) addr.NetAddr {
	t.Helper()
	ip, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return addr.FromIP(ip)
}

func mustFromMAC(t *testing.T, s string) addr.NetAddr {
	t.Helper()
	hw, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("parsing MAC %q: %v", s, err)
	}
	a, err := addr.FromMAC(hw)
	if err != nil {
		t.Fatalf("FromMAC: %v", err)
	}
	return a
}

func TestDLEPSessionLifecycle(t *testing.T) {
	t.Parallel()

	db := l2ib.New()
	sess, err := NewSession(db, "wlan1", nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if sess.State() != StateDiscovery {
		t.Fatalf("expected initial state discovery, got %v", sess.State())
	}

	sess.AdvanceConnect()
	if sess.State() != StateConnect {
		t.Fatalf("expected state connect, got %v", sess.State())
	}

	now := time.Unix(1000, 0)
	mac := [6]byte{0xaa, 0xbb, 0xcc, 0, 0, 1}
	sess.Up(mac, 5*time.Second, now)
	if sess.State() != StateActive {
		t.Fatalf("expected state active, got %v", sess.State())
	}

	ifNet, ok := db.Net("wlan1")
	if !ok || !ifNet.DLEP {
		t.Fatalf("expected wlan1 net marked DLEP, got %+v ok=%v", ifNet, ok)
	}

	sess.Metrics(map[metric.NeighIndex]l2ib.Value{metric.NeighRxSignal: l2ib.I64Value(-55)}, now)
	nb, ok := ifNet.Neighbor(l2ib.NeighKey{MAC: mac})
	if !ok {
		t.Fatal("expected radio neighbor to exist after Up")
	}
	if v := nb.DataGet(metric.NeighRxSignal).Value; v.I64 != -55 {
		t.Fatalf("expected rx_signal -55, got %v", v)
	}

	if sess.HeartbeatExpired(now.Add(time.Second)) {
		t.Fatal("heartbeat should not be expired 1s after a fresh metrics message with a 5s interval")
	}
	if !sess.HeartbeatExpired(now.Add(10 * time.Second)) {
		t.Fatal("heartbeat should be expired 10s after the last update with a 5s interval")
	}

	dest, err := addr.FromMAC(net.HardwareAddr{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("FromMAC: %v", err)
	}
	sess.DestinationUp(dest)
	if len(nb.Destinations()) != 1 {
		t.Fatalf("expected one bridged destination, got %d", len(nb.Destinations()))
	}

	sess.Down()
	if sess.State() != StateDiscovery {
		t.Fatalf("expected state discovery after Down, got %v", sess.State())
	}
	if _, ok := db.Net("wlan1"); ok {
		t.Fatal("expected wlan1 net to be garbage collected after Down retracted all values")
	}
}

func TestDLEPMetricsDroppedOutsideActiveSession(t *testing.T) {
	t.Parallel()

	db := l2ib.New()
	sess, err := NewSession(db, "wlan2", nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// Still in discovery: Metrics must not panic or create a net.
	sess.Metrics(map[metric.NeighIndex]l2ib.Value{metric.NeighRxSignal: l2ib.I64Value(-40)}, time.Unix(0, 0))
	if _, ok := db.Net("wlan2"); ok {
		t.Fatal("expected no net to be created by a dropped metrics message")
	}
}
