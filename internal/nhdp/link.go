package nhdp

import (
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/metric"
)

// State is a link's position in the PENDING/HEARD/SYM/LOST machine (spec
// §3.3, §4.2). It is never stored directly: invariant (a) derives it from
// which timers are running, so two readers calling State at the same
// instant always agree without needing a commit step.
type State int

const (
	Pending State = iota
	Heard
	Sym
	Lost
)

func (s State) String() string {
	switch s {
	case Heard:
		return "heard"
	case Sym:
		return "sym"
	case Lost:
		return "lost"
	default:
		return "pending"
	}
}

// LinkKey identifies one per-interface link record: an interface, the
// neighbor's originator, and the address family the link was heard on
// (dualstack partners share IfName and Originator but differ in Family).
type LinkKey struct {
	IfName     string
	Originator addr.Key
	Family     addr.Family
}

// DomainCost is the directional cost NHDP has learned for one domain over a
// link or link-2hop, quantized per RFC 7181 (spec §3.3).
type DomainCost struct {
	In, Out uint32
}

// LinkAddress is an address observed as a valid source for a link (spec
// §3.3).
type LinkAddress struct {
	Addr addr.NetAddr
}

// Link2Hop is a neighbor's neighbor reachable through a link, with its own
// validity timer independent of the link's (spec §3.3).
type Link2Hop struct {
	Addr    addr.NetAddr
	Metrics map[domain.ID]DomainCost
	Expiry  time.Time
}

// Link is a per-interface record of one direct neighbor addressable on that
// interface (spec §3.3). State is never set explicitly; it is computed from
// SymUntil/HeardUntil/LostUntil by State(now).
type Link struct {
	Key        LinkKey
	IfName     string
	Originator addr.NetAddr
	LocalMAC   addr.NetAddr // MAC48/EUI64 bound to this link, if known

	// Timer deadlines; zero means "not running". Invariant (a): SYMMETRIC
	// iff SymUntil is running, else HEARD iff HeardUntil is running, else
	// LOST (whether or not the LostUntil grace period is running).
	HeardUntil time.Time
	SymUntil   time.Time
	LostUntil  time.Time

	// Validity is the most recently received HELLO's validity_time; it is
	// reused as the loss-grace VTIME (L_HOLD_TIME) when the link is lost,
	// since the protocol never signals a distinct hold-time for that case.
	Validity time.Duration
	Interval time.Duration

	Addresses map[addr.Key]*LinkAddress
	TwoHops   map[addr.Key]*Link2Hop
	Metrics   map[domain.ID]DomainCost

	Partner  *Link // dualstack partner: same interface+originator, other family
	Neighbor *Neighbor
}

// State derives the link's current state from its timers (invariant (a)).
func (l *Link) State(now time.Time) State {
	if l.SymUntil.After(now) {
		return Sym
	}
	if l.HeardUntil.After(now) {
		return Heard
	}
	if l.LostUntil.After(now) {
		return Lost
	}
	return Lost
}

// inLossGrace reports whether the link has already started its post-loss
// VTIME countdown.
func (l *Link) inLossGrace() bool { return !l.LostUntil.IsZero() }

// expired reports whether the link's loss grace period has run out and the
// record should be removed.
func (l *Link) expired(now time.Time) bool {
	return l.inLossGrace() && !l.LostUntil.After(now)
}

func (l *Link) domainCost(d domain.ID) (uint32, uint32) {
	c, ok := l.Metrics[d]
	if !ok {
		return metric.Infinite, metric.Infinite
	}
	return c.In, c.Out
}
