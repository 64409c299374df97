package addr

import (
	"net"
	"net/netip"
	"testing"
)

func TestContainsIPv4(t *testing.T) {
	t.Parallel()

	lan := FromPrefix(netip.MustParsePrefix("192.168.1.0/24"))
	inside := FromIP(netip.MustParseAddr("192.168.1.42"))
	outside := FromIP(netip.MustParseAddr("192.168.2.1"))

	if !lan.Contains(inside) {
		t.Errorf("expected %s to contain %s", lan, inside)
	}
	if lan.Contains(outside) {
		t.Errorf("expected %s not to contain %s", lan, outside)
	}
}

func TestLessLexicographic(t *testing.T) {
	t.Parallel()

	a := FromIP(netip.MustParseAddr("10.0.0.1"))
	b := FromIP(netip.MustParseAddr("10.0.0.2"))

	if !a.Less(b) {
		t.Errorf("expected %s < %s", a, b)
	}
	if b.Less(a) {
		t.Errorf("expected %s not < %s", b, a)
	}
	if a.Less(a) {
		t.Errorf("expected %s not < itself", a)
	}
}

func TestEncodeDecodeLinkID(t *testing.T) {
	t.Parallel()

	cases := []uint32{0, 1, 255, 256, 65535, 1<<24 + 7}
	for _, v := range cases {
		enc := EncodeLinkID(v)
		got := ParseLinkID(enc)
		if got != v {
			t.Errorf("EncodeLinkID(%d) -> %x -> ParseLinkID = %d, want %d", v, enc, got, v)
		}
	}
}

func TestMAC48RoundTrip(t *testing.T) {
	t.Parallel()

	hw, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("net.ParseMAC: %v", err)
	}
	mac, err := FromMAC(hw)
	if err != nil {
		t.Fatalf("FromMAC: %v", err)
	}
	if mac.Family() != MAC48 {
		t.Errorf("family = %v, want MAC48", mac.Family())
	}
	if got, want := mac.String(), "aa:bb:cc:dd:ee:ff"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
