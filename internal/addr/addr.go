// Package addr implements the shared network-address primitives used
// throughout the routing core: a tagged union over address families and the
// destination/source prefix pair used as a route key.
package addr

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
)

// Family identifies the address family carried by a NetAddr.
type Family uint8

const (
	Undefined Family = iota
	IPv4
	IPv6
	MAC48
	EUI64
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case MAC48:
		return "mac48"
	case EUI64:
		return "eui64"
	default:
		return "undefined"
	}
}

// maxAddrLen is the widest address this package represents (IPv6 = 16 bytes).
const maxAddrLen = 16

// NetAddr is a tagged union over {IPv4, IPv6, MAC48, EUI64} plus a prefix
// length in bits. It is distinct from a socket address (no port).
type NetAddr struct {
	family Family
	bytes  [maxAddrLen]byte
	length uint8 // number of significant bytes in `bytes`
	prefix uint8 // prefix length in bits
}

// FromIP builds a NetAddr from a stdlib netip.Addr, with a prefix length
// equal to the full address width (a host route).
func FromIP(ip netip.Addr) NetAddr {
	if ip.Is4() {
		b := ip.As4()
		na := NetAddr{family: IPv4, length: 4, prefix: 32}
		copy(na.bytes[:], b[:])
		return na
	}
	b := ip.As16()
	na := NetAddr{family: IPv6, length: 16, prefix: 128}
	copy(na.bytes[:], b[:])
	return na
}

// FromPrefix builds a NetAddr representing an IP prefix (e.g. a route
// destination or LAN).
func FromPrefix(p netip.Prefix) NetAddr {
	na := FromIP(p.Addr())
	na.prefix = uint8(p.Bits())
	return na
}

// FromMAC builds a NetAddr from a 6-byte hardware address.
func FromMAC(mac net.HardwareAddr) (NetAddr, error) {
	if len(mac) != 6 {
		return NetAddr{}, fmt.Errorf("addr: MAC48 requires 6 bytes, got %d", len(mac))
	}
	na := NetAddr{family: MAC48, length: 6, prefix: 48}
	copy(na.bytes[:], mac)
	return na, nil
}

// FromEUI64 builds a NetAddr from an 8-byte EUI-64 identifier.
func FromEUI64(id []byte) (NetAddr, error) {
	if len(id) != 8 {
		return NetAddr{}, fmt.Errorf("addr: EUI64 requires 8 bytes, got %d", len(id))
	}
	na := NetAddr{family: EUI64, length: 8, prefix: 64}
	copy(na.bytes[:], id)
	return na, nil
}

// Family reports the address family.
func (a NetAddr) Family() Family { return a.family }

// PrefixLen reports the prefix length in bits.
func (a NetAddr) PrefixLen() uint8 { return a.prefix }

// IsZero reports whether a is the zero value (Undefined family).
func (a NetAddr) IsZero() bool { return a.family == Undefined }

// Bytes returns the significant address bytes (not including the prefix
// length). The returned slice must not be mutated.
func (a NetAddr) Bytes() []byte { return a.bytes[:a.length] }

// AsIP returns the netip.Addr representation. Only valid for IPv4/IPv6.
func (a NetAddr) AsIP() (netip.Addr, bool) {
	switch a.family {
	case IPv4:
		var b [4]byte
		copy(b[:], a.bytes[:4])
		return netip.AddrFrom4(b), true
	case IPv6:
		var b [16]byte
		copy(b[:], a.bytes[:16])
		return netip.AddrFrom16(b), true
	default:
		return netip.Addr{}, false
	}
}

// AsPrefix returns the netip.Prefix representation. Only valid for IPv4/IPv6.
func (a NetAddr) AsPrefix() (netip.Prefix, bool) {
	ip, ok := a.AsIP()
	if !ok {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(ip, int(a.prefix)), true
}

// WithPrefix returns a copy of a with a different prefix length.
func (a NetAddr) WithPrefix(bits uint8) NetAddr {
	a.prefix = bits
	return a
}

// String renders a human-readable form: IP/prefix, MAC as colon-hex, etc.
func (a NetAddr) String() string {
	switch a.family {
	case IPv4, IPv6:
		ip, _ := a.AsIP()
		full := 32
		if a.family == IPv6 {
			full = 128
		}
		if int(a.prefix) == full {
			return ip.String()
		}
		return fmt.Sprintf("%s/%d", ip.String(), a.prefix)
	case MAC48:
		return net.HardwareAddr(a.bytes[:6]).String()
	case EUI64:
		return hex.EncodeToString(a.bytes[:8])
	default:
		return "<undefined>"
	}
}

// Equal reports whether two NetAddrs denote the same family/prefix/value.
func (a NetAddr) Equal(b NetAddr) bool {
	return a.family == b.family && a.prefix == b.prefix && a.length == b.length &&
		a.bytes == b.bytes
}

// Less provides a total, lexicographic order over NetAddrs, used for the
// router's "smaller originator" tie-break (spec §4.5).
func (a NetAddr) Less(b NetAddr) bool {
	if a.family != b.family {
		return a.family < b.family
	}
	c := compareBytes(a.bytes[:a.length], b.bytes[:b.length])
	if c != 0 {
		return c < 0
	}
	return a.prefix < b.prefix
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Contains reports whether a (a prefix) contains b (a host or narrower
// prefix) of the same family.
func (a NetAddr) Contains(b NetAddr) bool {
	if a.family != b.family || a.prefix > b.prefix {
		return false
	}
	return sharesPrefix(a.bytes[:a.length], b.bytes[:b.length], int(a.prefix))
}

func sharesPrefix(a, b []byte, bits int) bool {
	fullBytes := bits / 8
	if fullBytes > len(a) || fullBytes > len(b) {
		return false
	}
	for i := 0; i < fullBytes; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	rem := bits % 8
	if rem == 0 {
		return true
	}
	if fullBytes >= len(a) || fullBytes >= len(b) {
		return false
	}
	mask := byte(0xFF << (8 - rem))
	return a[fullBytes]&mask == b[fullBytes]&mask
}

// Key is a stable, comparable map key derived from a NetAddr, suitable for
// use as a Go map key (NetAddr itself is comparable too, being array-backed,
// but Key documents intent at call sites that index arenas by address).
type Key string

// AsKey returns the stable map key for a.
func (a NetAddr) AsKey() Key {
	return Key(fmt.Sprintf("%d/%d/%x", a.family, a.prefix, a.bytes[:a.length]))
}

// RouteKey is the pair (dst_prefix, src_prefix) identifying a route (spec
// §3.1). SrcPrefix is the all-zeros prefix when source-specific routing is
// unused.
type RouteKey struct {
	Dst NetAddr
	Src NetAddr // IsZero() if unused
}

func (k RouteKey) String() string {
	if k.Src.IsZero() {
		return k.Dst.String()
	}
	return fmt.Sprintf("%s from %s", k.Dst, k.Src)
}

// ParseLinkID decodes a big-endian, minimally-encoded link-id byte slice
// used as part of an L2IB neighbor key (spec §3.2, §4.1).
func ParseLinkID(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

// EncodeLinkID is the inverse of ParseLinkID: big-endian, trimmed to the
// minimal number of bytes that represent v (zero encodes as an empty slice).
func EncodeLinkID(v uint32) []byte {
	if v == 0 {
		return nil
	}
	var buf [4]byte
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
	i := 0
	for i < 3 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// LinkIDHex renders a link-id byte slice for logging/debug keys.
func LinkIDHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}
