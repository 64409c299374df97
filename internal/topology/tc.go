package topology

import (
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
)

// GatewayEntry is one domain's (cost, distance) pair carried by a GATEWAY
// TLV, aligned to the message's MPRTYPES list (spec §4.4).
type GatewayEntry struct {
	Cost     uint32
	Distance uint8
}

// TCAddr is one decoded address-block entry from an inbound TC (spec §4.4,
// §6.1): the core receives these already parsed out of NBR_ADDR_TYPE,
// LINK_METRIC and GATEWAY address TLVs.
type TCAddr struct {
	Addr       addr.NetAddr
	Originator bool // NBR_ADDR_TYPE(ORIGINATOR)
	Routable   bool // NBR_ADDR_TYPE(ROUTABLE), meaningful when !Originator

	LinkMetricOut map[domain.ID]uint32
	LinkMetricIn  map[domain.ID]uint32

	Gateway        bool
	GatewayEntries map[domain.ID]GatewayEntry
}

// TCMessage is a decoded inbound or outbound TC (spec §3.4, §4.4).
type TCMessage struct {
	Originator addr.NetAddr
	ANSN       uint16
	Validity   time.Duration
	Interval   time.Duration
	Addresses  []TCAddr
}
