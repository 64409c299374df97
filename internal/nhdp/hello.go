package nhdp

import (
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
)

// LinkStatus is the RFC 6130 LINK_STATUS an inbound HELLO reports for a
// non-local address (spec §4.2): how the sender perceives that address.
type LinkStatus int

const (
	StatusUnspecified LinkStatus = iota
	StatusHeard
	StatusSymmetric
	StatusLost
)

// HelloAddr is one decoded address entry from a HELLO's address block
// (spec §6.1: the codec hands the core address blocks plus per-address
// TLVs; this is that decoded shape for HELLO specifically).
type HelloAddr struct {
	Addr addr.NetAddr

	// Local marks this as one of the sender's own interface addresses
	// (RFC 6130 LOCAL_IF), as opposed to an address of a neighbor the
	// sender has heard from.
	Local bool

	// Status is meaningful only when !Local: the sender's view of this
	// address, which is how a link learns it has become SYM.
	Status LinkStatus

	// MPRSelector reports, per domain, whether the sender has selected the
	// owner of this address (normally us) as its MPR. Meaningful only on
	// entries matching one of our own local addresses.
	MPRSelector map[domain.ID]bool

	// Metric carries the sender's {in,out} cost to this address per
	// domain, already decoded from RFC 7181's packed form.
	Metric map[domain.ID]DomainCost
}

// HelloMessage is a decoded inbound or outbound HELLO (spec §3.3, §4.2,
// §6.1).
type HelloMessage struct {
	Originator   addr.NetAddr // msg_orig_addr
	Source       addr.NetAddr // the packet's actual L3 source address
	ValidityTime time.Duration
	IntervalTime time.Duration
	Willingness  map[domain.ID]int
	Addresses    []HelloAddr
}
