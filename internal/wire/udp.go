package wire

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/kuuji/meshrtr/internal/addr"
)

// DefaultPort is the IANA-assigned MANET protocol port (RFC 5498).
const DefaultPort = 698

// manetGroupV4/manetGroupV6 are RFC 5498's LL-MANET-Routers multicast
// addresses, the standard destination HELLO/TC PDUs are sent to.
var (
	manetGroupV4 = net.IPv4(224, 0, 0, 109)
	manetGroupV6 = net.ParseIP("ff02::6d")
)

// UDPTransport is a plain multicast UDP wire.Transport, one per managed
// interface (spec §6.1): it moves already-framed PDUs on and off the wire
// and knows nothing about RFC 5444 — that remains an external collaborator's
// job (internal/wire's Codec contract).
//
// Grounded on the multicast-join/control-message shape of a UDP mDNS
// transport in the example pack (ipv4.PacketConn wrapping a net.UDPConn,
// context deadline propagated onto SetReadDeadline before every read), and
// on original_source/src-plugins/subsystems/os_generic/
// os_fd_generic_join_mcast.h for which group OLSRv2/NHDP actually joins.
type UDPTransport struct {
	ifName string
	family addr.Family
	port   int

	conn   *net.UDPConn
	pconn4 *ipv4.PacketConn
	pconn6 *ipv6.PacketConn

	group net.IP
	iface *net.Interface
}

// NewUDPTransport opens a multicast UDP socket on ifName and joins the
// RFC 5498 LL-MANET-Routers group for family. port of 0 uses DefaultPort.
func NewUDPTransport(ifName string, family addr.Family, port int) (*UDPTransport, error) {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("wire: resolving interface %s: %w", ifName, err)
	}
	if port == 0 {
		port = DefaultPort
	}

	var network string
	var group net.IP
	switch family {
	case addr.IPv4:
		network, group = "udp4", manetGroupV4
	case addr.IPv6:
		network, group = "udp6", manetGroupV6
	default:
		return nil, fmt.Errorf("wire: unsupported transport family %v", family)
	}

	conn, err := net.ListenUDP(network, &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("wire: listening on %s port %d: %w", ifName, port, err)
	}

	t := &UDPTransport{
		ifName: ifName,
		family: family,
		port:   port,
		conn:   conn,
		group:  group,
		iface:  iface,
	}

	switch family {
	case addr.IPv4:
		t.pconn4 = ipv4.NewPacketConn(conn)
		if err := t.pconn4.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("wire: joining %s on %s: %w", group, ifName, err)
		}
		_ = t.pconn4.SetMulticastInterface(iface)
		_ = t.pconn4.SetMulticastLoopback(false)
	case addr.IPv6:
		t.pconn6 = ipv6.NewPacketConn(conn)
		if err := t.pconn6.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("wire: joining %s on %s: %w", group, ifName, err)
		}
		_ = t.pconn6.SetMulticastInterface(iface)
		_ = t.pconn6.SetMulticastLoopback(false)
	}

	return t, nil
}

// ReadFrom blocks until a PDU arrives or ctx is done (spec §5's "readable
// socket" blocking operation). The context's deadline, if any, is
// propagated onto the underlying socket; cancellation without a deadline
// unblocks the read by setting an immediate read deadline from a watcher
// goroutine.
func (t *UDPTransport) ReadFrom(ctx context.Context) ([]byte, addr.NetAddr, string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, addr.NetAddr{}, "", fmt.Errorf("wire: setting read deadline on %s: %w", t.ifName, err)
		}
	} else {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = t.conn.SetReadDeadline(time.Now())
			case <-done:
			}
		}()
	}

	buf := make([]byte, 65535)
	n, from, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, addr.NetAddr{}, "", ctx.Err()
		}
		return nil, addr.NetAddr{}, "", fmt.Errorf("wire: reading from %s: %w", t.ifName, err)
	}

	fromIP, ok := netipAddrFromUDP(from)
	if !ok {
		return nil, addr.NetAddr{}, "", fmt.Errorf("wire: unparseable sender %v on %s", from, t.ifName)
	}
	return buf[:n], fromIP, t.ifName, nil
}

// WriteTo sends pdu to the MANET multicast group on this transport's
// interface. ifname is accepted to satisfy wire.Transport but must either
// be empty or match this transport's own interface, since one UDPTransport
// is scoped to a single interface.
func (t *UDPTransport) WriteTo(ctx context.Context, pdu []byte, ifname string) error {
	if ifname != "" && ifname != t.ifName {
		return fmt.Errorf("wire: transport for %s cannot send on %s", t.ifName, ifname)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("wire: setting write deadline on %s: %w", t.ifName, err)
		}
	}

	dst := &net.UDPAddr{IP: t.group, Port: t.port, Zone: t.ifName}
	if _, err := t.conn.WriteToUDP(pdu, dst); err != nil {
		return fmt.Errorf("wire: writing to %s: %w", t.ifName, err)
	}
	return nil
}

// Close leaves the multicast group and closes the underlying socket.
func (t *UDPTransport) Close() error {
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("wire: closing %s: %w", t.ifName, err)
	}
	return nil
}

func netipAddrFromUDP(u *net.UDPAddr) (addr.NetAddr, bool) {
	ip, ok := netip.AddrFromSlice(u.IP)
	if !ok {
		return addr.NetAddr{}, false
	}
	return addr.FromIP(ip.Unmap()), true
}
