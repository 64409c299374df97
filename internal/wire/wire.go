// Package wire defines the contracts between the routing core and an
// external RFC 5444 codec (spec §6.1): HELLO/TC message framing,
// fragmentation across the maximum PDU size, and TLV encoding are all an
// external collaborator's responsibility. This package names the shape of
// that collaboration without implementing it — no RFC 5444 parser or
// serializer lives in this module, matching spec §1's explicit scoping.
//
// Grounded on the teacher's pkg/protocol package for the shape of a
// discriminated wire-message interface (one Message type per on-wire kind,
// a registry of factories keyed by a type discriminator), without adopting
// its JSON envelope — RFC 5444 is a binary TLV format, not JSON.
package wire

import (
	"context"

	"github.com/kuuji/meshrtr/internal/addr"
)

// MessageType discriminates the two message kinds this daemon speaks (spec
// §6.1).
type MessageType int

const (
	HelloMessageType MessageType = iota
	TCMessageType
)

func (t MessageType) String() string {
	if t == TCMessageType {
		return "tc"
	}
	return "hello"
}

// Message is one decoded RFC 5444 message, exposing exactly the envelope
// fields the duplicate-entry gate and MPR forwarding decision need (spec
// §4.3, §4.6) before the core ever looks at its address block: originator,
// sequence number, hop count/limit. TLVs and Addresses carry the rest for
// the type-specific HELLO/TC conversion the core performs itself.
type Message interface {
	Type() MessageType
	Originator() (addr.NetAddr, bool)
	SequenceNumber() (uint16, bool)
	HopCount() (uint8, bool)
	HopLimit() (uint8, bool)
	TLVs() MessageTLVs
	Addresses() []AddressBlock
}

// MessageTLVs is the subset of message-level TLVs the core reads (spec
// §6.1). A zero value means "absent"; callers must check the companion
// bool.
type MessageTLVs struct {
	ValidityTimeNanos int64
	HasValidity       bool

	IntervalTimeNanos int64
	HasInterval       bool

	// Willingness decodes RFC 7181's WILLINGNESS TLV, one value per domain
	// (MPR_TYPES-indexed), only meaningful on a HELLO.
	Willingness    map[uint8]int
	HasWillingness bool

	ContSeqNum      uint16
	ContSeqComplete bool // true = COMPLETE, false = INCOMPLETE
	HasContSeqNum   bool
}

// AddressBlock is one address carried in a message, with every per-address
// TLV either message kind can carry (spec §6.1): HELLO's LOCAL_IF/
// LINK_STATUS/MPR_SELECTOR trio, TC's NBR_ADDR_TYPE/GATEWAY pair, and the
// LINK_METRIC TLV both share. A method meaningless for the message's actual
// type simply reports ok=false; the core's per-type conversion only reads
// the methods relevant to the message it is converting.
type AddressBlock interface {
	Address() addr.NetAddr

	// LinkMetric returns the decoded LINK_METRIC value for domain d and
	// direction (in/out), already mapped from the RFC 7181 12-bit
	// compressed form with INFINITE resolved to the Dijkstra sentinel.
	LinkMetric(d uint8) (in, out uint32, ok bool)

	// Local reports RFC 6130's LOCAL_IF TLV: true if this address is one of
	// the HELLO sender's own interface addresses rather than a neighbor's.
	Local() (local bool, ok bool)

	// LinkStatus decodes RFC 6130's LINK_STATUS TLV, meaningful only when
	// !Local: the values are the nhdp package's own LinkStatus constants,
	// carried here as a plain int so this package need not import nhdp.
	LinkStatus() (status int, ok bool)

	// MPRSelector decodes RFC 7181's MPR_SELECTOR TLV: whether the HELLO
	// sender has selected the owner of this (normally local) address as its
	// flooding or routing MPR, per domain.
	MPRSelector() (selected map[uint8]bool, ok bool)

	// NbrAddrType decodes TC's NBR_ADDR_TYPE bitfield: originator and
	// routable are independent bits.
	NbrAddrType() (originator, routable bool, ok bool)

	// Gateway decodes TC's GATEWAY TLV: one (cost, distance) pair per
	// domain present on this address.
	Gateway() (entries map[uint8]GatewayEntry, ok bool)
}

// GatewayEntry is one domain's GATEWAY TLV entry (spec §6.1, §3.4).
type GatewayEntry struct {
	Cost     uint32
	Distance uint8
}

// OutgoingMessage is what the core hands the codec to produce one on-wire
// message (spec §6.1: "the core provides the codec with the address block,
// the per-address TLV set, and the message TLV set; the codec handles
// fragmentation").
type OutgoingMessage struct {
	Type       MessageType
	Originator addr.NetAddr
	Sequence   uint16
	HopLimit   uint8
	TLVs       MessageTLVs
	Addresses  []OutgoingAddress
}

// OutgoingAddress is one address plus its per-address TLVs to encode. Only
// the fields relevant to OutgoingMessage.Type need to be populated.
type OutgoingAddress struct {
	Address addr.NetAddr

	LinkMetric map[uint8]LinkMetricPair // domain -> (in, out)

	HasLocal bool
	Local    bool

	HasLinkStatus bool
	LinkStatus    int

	MPRSelector map[uint8]bool

	HasNbrAddr bool
	Originator bool
	Routable   bool

	HasGateway bool
	Gateway    map[uint8]GatewayEntry
}

// LinkMetricPair is one domain's (in, out) LINK_METRIC pair to encode.
type LinkMetricPair struct {
	In, Out uint32
}

// Codec is the external collaborator that turns bytes on a socket into
// Messages and back, including RFC 5444 fragmentation across the maximum
// PDU size (spec §6.1). The core never touches RFC 5444 framing directly.
type Codec interface {
	// Decode parses zero or more messages out of one inbound PDU.
	Decode(pdu []byte) ([]Message, error)

	// Encode serializes msg, returning one or more PDUs if fragmentation
	// was required.
	Encode(msg OutgoingMessage) ([][]byte, error)
}

// Transport is the socket abstraction the core's event loop multiplexes
// (spec §5: "readable sockets, writable sockets"). Reads/writes/connects
// are the blocking operations §5 permits only via the event loop.
type Transport interface {
	ReadFrom(ctx context.Context) (pdu []byte, from addr.NetAddr, ifname string, err error)
	WriteTo(ctx context.Context, pdu []byte, ifname string) error
	Close() error
}
