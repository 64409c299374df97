package core

import (
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/wire"
)

// InterfaceConfig is one managed interface's worth of runtime parameters
// (spec §6.4's `[interface=X]` section): its Transport, and the HELLO
// timing this node uses when speaking on it (spec §3.3's interval/validity
// pair).
type InterfaceConfig struct {
	Name      string
	Transport wire.Transport

	HelloInterval time.Duration
	HelloValidity time.Duration

	// Willingness is this interface's per-domain MPR willingness (spec
	// §3.3, RFC 7181's WILLINGNESS TLV), 0..7.
	Willingness map[domain.ID]int
}

// Config is everything the event loop needs to run one node (spec §5, §9).
type Config struct {
	Self addr.NetAddr

	Domains []domain.Params
	LANs    []domain.LAN

	Interfaces []InterfaceConfig

	Codec wire.Codec

	// TCInterval/TCValidity govern this node's own outbound TC emission
	// (spec §4.4); TCHoldFactor is the advertisement-hold rule's
	// HoldFactor (spec §6.4's advertisement_hold_time_factor).
	TCInterval   time.Duration
	TCValidity   time.Duration
	TCHoldFactor int

	// TickInterval drives NHDP/topology housekeeping, MPR re-selection, and
	// route (re)computation (spec §5).
	TickInterval time.Duration

	// ForwardHoldTime/ProcessingHoldTime extend a message's own VALIDITY_TIME
	// by a fixed grace period before its dupset entry expires (spec §4.3),
	// one for the forwarded-set and one for the processed-set. Zero means no
	// extra grace beyond the message's own vtime.
	ForwardHoldTime    time.Duration
	ProcessingHoldTime time.Duration

	Clock Clock
}
