package nhdp

import (
	"log/slog"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/mpr"
)

// MetricSource supplies the locally measured directional cost of a link, as
// reported by the Layer-2 Information Base (spec §3.2 lookup rule). NHDP
// consults it when building outbound HELLOs; inbound HELLOs instead carry
// the sender's own view of each address's cost.
type MetricSource interface {
	LinkCost(ifname string, neighbor addr.NetAddr, d domain.ID) (in, out uint32, ok bool)
}

// LocalAddrSource reports the addresses assigned to one of our interfaces,
// used to recognize when an inbound HELLO is talking about us.
type LocalAddrSource func(ifname string) []addr.NetAddr

// Engine is the NHDP-Engine (spec §4.2): it processes inbound HELLO TLV
// blocks against a DB, runs MPR selection per routing domain, and builds
// outbound HELLOs.
type Engine struct {
	DB        *DB
	Metrics   MetricSource
	LocalAddr LocalAddrSource
	log       *slog.Logger
}

// NewEngine constructs an Engine over db. logger may be nil.
func NewEngine(db *DB, metrics MetricSource, localAddr LocalAddrSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{DB: db, Metrics: metrics, LocalAddr: localAddr, log: logger.With("component", "nhdp")}
}

// ProcessHello applies one inbound HELLO to the link/neighbor state machine
// (spec §4.2). now is the event loop's current time.
func (e *Engine) ProcessHello(ifname string, msg HelloMessage, now time.Time) {
	e.DB.mu.Lock()
	defer e.DB.mu.Unlock()

	family := msg.Source.Family()
	key := LinkKey{IfName: ifname, Originator: msg.Originator.AsKey(), Family: family}
	link, created := e.DB.linkEnsure(key, msg.Originator)
	if created {
		e.DB.emit(Event{Kind: Added, IfName: ifname, Originator: msg.Originator})
	}

	link.Interval = msg.IntervalTime
	link.Validity = msg.ValidityTime

	local := e.LocalAddr(ifname)
	becomeSym := false

	for _, a := range msg.Addresses {
		if a.Local {
			link.Addresses[a.Addr.AsKey()] = &LinkAddress{Addr: a.Addr}
			if na, ok := link.Neighbor.Addresses[a.Addr.AsKey()]; ok {
				na.Lost = false
			} else {
				link.Neighbor.Addresses[a.Addr.AsKey()] = &NeighborAddress{Addr: a.Addr}
			}
			continue
		}
		if addrIn(local, a.Addr) {
			if a.Status == StatusSymmetric {
				becomeSym = true
			}
			for d, selected := range a.MPRSelector {
				link.Neighbor.domainState(d).NeighIsMPR = selected
			}
			for d, c := range a.Metric {
				link.Metrics[d] = c
				ds := link.Neighbor.domainState(d)
				ds.In, ds.Out = c.In, c.Out
			}
			continue
		}
		// A genuine 2-hop neighbor: neither local nor us.
		if a.Status == StatusLost {
			delete(link.TwoHops, a.Addr.AsKey())
			continue
		}
		th := &Link2Hop{Addr: a.Addr, Metrics: make(map[domain.ID]DomainCost), Expiry: now.Add(msg.ValidityTime)}
		for d, c := range a.Metric {
			th.Metrics[d] = c
		}
		link.TwoHops[a.Addr.AsKey()] = th
	}

	link.HeardUntil = now.Add(msg.ValidityTime)
	if becomeSym {
		link.SymUntil = now.Add(msg.ValidityTime)
		link.LostUntil = time.Time{}
	}
	for d, w := range msg.Willingness {
		link.Neighbor.domainState(d).Willingness = w
	}

	link.Neighbor.recomputeSymCount(now)
	e.DB.emit(Event{Kind: Changed, IfName: ifname, Originator: msg.Originator})
}

func addrIn(set []addr.NetAddr, a addr.NetAddr) bool {
	for _, x := range set {
		if x.Equal(a) {
			return true
		}
	}
	return false
}

// PartnerLinks bidirectionally links a and b as dualstack partners (spec
// §4.2: same interface, same originator, opposite family) and, if both
// links' neighbors differ, partners the neighbors too.
func (e *Engine) PartnerLinks(a, b *Link) {
	e.DB.mu.Lock()
	defer e.DB.mu.Unlock()
	a.Partner, b.Partner = b, a
	if a.Neighbor != nil && b.Neighbor != nil && a.Neighbor != b.Neighbor {
		a.Neighbor.Partner, b.Neighbor.Partner = b.Neighbor, a.Neighbor
	}
}

// RunMPRSelection runs one routing domain's MPR handler over the current
// SYM neighborhood and stores the result as LocalIsMPR per neighbor (spec
// §4.2).
func (e *Engine) RunMPRSelection(d domain.ID, h mpr.Handler, now time.Time) mpr.Selection {
	e.DB.mu.Lock()
	defer e.DB.mu.Unlock()

	g := mpr.Graph{}
	for _, n := range e.DB.neighbors {
		if n.SymCount == 0 {
			continue
		}
		ds := n.domainState(d)
		g.Neighbors = append(g.Neighbors, mpr.Candidate{
			Addr: n.Originator, Willingness: ds.Willingness, In: ds.In, Out: ds.Out,
		})
		for _, l := range n.Links {
			if l.State(now) != Sym {
				continue
			}
			for _, th := range l.TwoHops {
				c := th.Metrics[d]
				g.TwoHops = append(g.TwoHops, mpr.TwoHop{
					Neighbor: n.Originator, TwoHop: th.Addr, In: c.In, Out: c.Out,
				})
			}
		}
	}

	sel := h.Select(g)
	for _, n := range e.DB.neighbors {
		n.domainState(d).LocalIsMPR = sel[n.Originator.AsKey()]
	}
	return sel
}

// RunFloodingMPRSelection selects the flooding MPR set used for message
// relaying regardless of routing domain (spec §4.2).
func (e *Engine) RunFloodingMPRSelection(h mpr.Handler, now time.Time) mpr.Selection {
	e.DB.mu.Lock()
	defer e.DB.mu.Unlock()

	g := mpr.Graph{}
	for _, n := range e.DB.neighbors {
		if n.SymCount == 0 {
			continue
		}
		g.Neighbors = append(g.Neighbors, mpr.Candidate{Addr: n.Originator, Willingness: n.domainState(domain.All).Willingness})
		for _, l := range n.Links {
			if l.State(now) != Sym {
				continue
			}
			for _, th := range l.TwoHops {
				g.TwoHops = append(g.TwoHops, mpr.TwoHop{Neighbor: n.Originator, TwoHop: th.Addr})
			}
		}
	}

	sel := h.Select(g)
	for _, n := range e.DB.neighbors {
		n.LocalIsFloodingMPR = sel[n.Originator.AsKey()]
	}
	return sel
}

// EmitHello builds the outbound HELLO for ifname (spec §4.2): interface
// addresses, link status and MPR selection per neighbor, and per-link
// per-domain metrics.
func (e *Engine) EmitHello(ifname string, domains []domain.ID, willingness map[domain.ID]int, validity, interval time.Duration, now time.Time) HelloMessage {
	e.DB.mu.RLock()
	defer e.DB.mu.RUnlock()

	msg := HelloMessage{ValidityTime: validity, IntervalTime: interval, Willingness: willingness}

	for _, a := range e.LocalAddr(ifname) {
		msg.Addresses = append(msg.Addresses, HelloAddr{Addr: a, Local: true})
	}

	for key, l := range e.DB.links {
		if key.IfName != ifname {
			continue
		}
		status := StatusHeard
		if l.State(now) == Sym {
			status = StatusSymmetric
		}
		entry := HelloAddr{
			Addr:        l.Originator,
			Status:      status,
			MPRSelector: make(map[domain.ID]bool),
			Metric:      make(map[domain.ID]DomainCost),
		}
		for _, d := range domains {
			if l.Neighbor != nil {
				entry.MPRSelector[d] = l.Neighbor.domainState(d).LocalIsMPR
			}
			if in, out, ok := e.Metrics.LinkCost(ifname, l.Originator, d); ok {
				entry.Metric[d] = DomainCost{In: in, Out: out}
			}
		}
		msg.Addresses = append(msg.Addresses, entry)
	}

	return msg
}
