package config

import (
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/metric"
)

func mustParseIP(t *testing.T, s string) netip.Addr {
	t.Helper()
	ip, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return ip
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.OLSRv2.AdvertisementHoldTimeFactor != 3 {
		t.Errorf("default AdvertisementHoldTimeFactor = %d, want 3", cfg.OLSRv2.AdvertisementHoldTimeFactor)
	}
	if !cfg.OLSRv2.NHDPRoutable {
		t.Error("default NHDPRoutable should be true")
	}
	if len(cfg.Domain) != 0 || len(cfg.Interface) != 0 {
		t.Error("default config should have no domains or interfaces")
	}
}

func TestSaveAndLoadConfig_roundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshrtrd", "meshrtrd.toml")

	original := DefaultConfig()
	original.OLSRv2.Originator = "10.0.0.1"
	original.OLSRv2.LAN = []LANConfig{
		{Prefix: "192.168.1.0/24", Metric: 10, Dist: 1},
	}
	original.Domain = map[string]DomainConfig{
		"1": {Protocol: 4, Table: 254, Distance: 100},
	}
	original.Interface = map[string]InterfaceConfig{
		"wlan0": {
			HelloInterval: "2s",
			HelloValidity: "6s",
			Layer2: Layer2Config{
				Type:  "wireless",
				L2Net: map[string]string{"bandwidth1": "54 Mbit/s"},
			},
		},
	}

	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if loaded.OLSRv2.Originator != "10.0.0.1" {
		t.Errorf("Originator = %q, want 10.0.0.1", loaded.OLSRv2.Originator)
	}
	if len(loaded.OLSRv2.LAN) != 1 || loaded.OLSRv2.LAN[0].Prefix != "192.168.1.0/24" {
		t.Errorf("LAN = %+v, want one 192.168.1.0/24 entry", loaded.OLSRv2.LAN)
	}
	dc, ok := loaded.Domain["1"]
	if !ok || dc.Protocol != 4 {
		t.Errorf("Domain[1] = %+v, ok=%v", dc, ok)
	}
	ic, ok := loaded.Interface["wlan0"]
	if !ok || ic.HelloInterval != "2s" {
		t.Errorf("Interface[wlan0] = %+v, ok=%v", ic, ok)
	}
}

func TestBuildResolvesDomainsInterfacesAndLANs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OLSRv2.Originator = "10.0.0.1"
	cfg.OLSRv2.TCInterval = "5s"
	cfg.OLSRv2.LAN = []LANConfig{
		{Prefix: "192.168.1.0/24", Metric: 10, Dist: 1, Domain: "all"},
	}
	cfg.OLSRv2.RoutableACL = []ACLRuleConfig{{Prefix: "10.0.0.0/8", Accept: true}}
	cfg.Domain = map[string]DomainConfig{
		"1": {Protocol: 4, Table: 254, Distance: 100},
		"2": {Protocol: 5, Table: 253, Distance: 100},
	}
	cfg.Interface = map[string]InterfaceConfig{
		"wlan0": {
			HelloInterval: "2s",
			HelloValidity: "6s",
			Willingness:   map[string]int{"all": 3},
			Layer2: Layer2Config{
				Type:  "wireless",
				L2Net: map[string]string{"bandwidth1": "54 Mbit/s"},
				L2Neighbor: []L2NeighborConfig{
					{MAC: "aa:bb:cc:dd:ee:ff", Values: map[string]string{"tx_bitrate": "6 Mbit/s"}},
				},
			},
		},
	}

	node, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if node.Codec != "rfc5444" {
		t.Errorf("Codec = %q, want default %q", node.Codec, "rfc5444")
	}
	if len(node.Domains) != 2 {
		t.Fatalf("Domains = %+v, want 2 entries", node.Domains)
	}
	if len(node.LANs) != 1 || node.LANs[0].Domain != domain.All {
		t.Fatalf("LANs = %+v, want one domain.All entry", node.LANs)
	}
	if !node.RoutableACL.Allows(mustParseIP(t, "10.1.2.3")) {
		t.Error("expected 10.1.2.3 to be allowed by routable_acl")
	}
	if node.RoutableACL.Allows(mustParseIP(t, "8.8.8.8")) {
		t.Error("expected 8.8.8.8 to fall through to the default reject")
	}

	if len(node.Interfaces) != 1 {
		t.Fatalf("Interfaces = %+v, want 1 entry", node.Interfaces)
	}
	iface := node.Interfaces[0]
	if iface.Willingness[domain.ID(1)] != 3 || iface.Willingness[domain.ID(2)] != 3 {
		t.Errorf("willingness = %+v, want 3 for both domains", iface.Willingness)
	}

	if len(node.StaticLayer2) != 1 {
		t.Fatalf("StaticLayer2 = %+v, want 1 entry", node.StaticLayer2)
	}
	l2 := node.StaticLayer2[0]
	if l2.Type != l2ib.TypeWireless {
		t.Errorf("l2.Type = %v, want TypeWireless", l2.Type)
	}
	// NetBandwidth1/NeighTxBitrate are Binary metrics: "M" scales by 1024^2,
	// not 1000^2 (metric.Metadata.Binary).
	v, ok := l2.NetValues[metric.NetBandwidth1]
	if !ok || v.I64 != 54*1024*1024 {
		t.Errorf("NetValues[bandwidth1] = %+v, ok=%v, want %d", v, ok, 54*1024*1024)
	}
	if len(l2.Neighbors) != 1 {
		t.Fatalf("Neighbors = %+v, want 1 entry", l2.Neighbors)
	}
	nv, ok := l2.Neighbors[0].Values[metric.NeighTxBitrate]
	if !ok || nv.I64 != 6*1024*1024 {
		t.Errorf("Neighbors[0].Values[tx_bitrate] = %+v, ok=%v, want %d", nv, ok, 6*1024*1024)
	}
}
