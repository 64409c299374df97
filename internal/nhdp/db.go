// Package nhdp implements the NHDP (RFC 6130) per-interface link/neighbor
// state machine and engine (spec §3.3, §4.2): NHDP-DB holds link and
// neighbor records with SYM/HEARD/VTIME timers and dualstack partnering;
// NHDP-Engine processes inbound HELLOs, runs MPR selection per routing
// domain, and builds outbound HELLOs.
package nhdp

import (
	"sync"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
)

// EventKind classifies a DB change for subscribers (state export, router
// dirty-bit).
type EventKind int

const (
	Added EventKind = iota
	Changed
	Removed
)

// Event reports a link or neighbor change.
type Event struct {
	Kind       EventKind
	IfName     string
	Originator addr.NetAddr
}

// Listener receives DB change notifications.
type Listener func(Event)

// DB stores NHDP link and neighbor records. A mutex guards it even though
// the core event loop is single-threaded, matching this codebase's l2ib.DB:
// the console's state export reads the DB from outside the loop's own tick.
type DB struct {
	mu sync.RWMutex

	links     map[LinkKey]*Link
	neighbors map[addr.Key]*Neighbor

	listeners []Listener
}

// NewDB constructs an empty NHDP database.
func NewDB() *DB {
	return &DB{
		links:     make(map[LinkKey]*Link),
		neighbors: make(map[addr.Key]*Neighbor),
	}
}

// Subscribe registers a listener for link/neighbor change events.
func (db *DB) Subscribe(l Listener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listeners = append(db.listeners, l)
}

func (db *DB) emit(ev Event) {
	for _, l := range db.listeners {
		l(ev)
	}
}

// neighborEnsure returns the Neighbor for originator, creating it if absent.
// Caller holds db.mu.
func (db *DB) neighborEnsure(originator addr.NetAddr) *Neighbor {
	key := originator.AsKey()
	n, ok := db.neighbors[key]
	if !ok {
		n = newNeighbor(originator)
		db.neighbors[key] = n
	}
	return n
}

// linkEnsure returns the Link for key, creating it (and its owning
// Neighbor) if absent. Caller holds db.mu.
func (db *DB) linkEnsure(key LinkKey, originator addr.NetAddr) (*Link, bool) {
	l, ok := db.links[key]
	if ok {
		return l, false
	}
	n := db.neighborEnsure(originator)
	l = &Link{
		Key:        key,
		IfName:     key.IfName,
		Originator: originator,
		Addresses:  make(map[addr.Key]*LinkAddress),
		TwoHops:    make(map[addr.Key]*Link2Hop),
		Metrics:    make(map[domain.ID]DomainCost),
		Neighbor:   n,
	}
	db.links[key] = l
	n.Links = append(n.Links, l)
	return l, true
}

// Link returns the link for key, or nil if none exists.
func (db *DB) Link(key LinkKey) *Link {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.links[key]
}

// Neighbor returns the neighbor for originator, or nil if none exists.
func (db *DB) Neighbor(originator addr.NetAddr) *Neighbor {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.neighbors[originator.AsKey()]
}

// Neighbors returns a snapshot slice of all neighbor records.
func (db *DB) Neighbors() []*Neighbor {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Neighbor, 0, len(db.neighbors))
	for _, n := range db.neighbors {
		out = append(out, n)
	}
	return out
}

// LinksOnInterface returns a snapshot slice of links on ifname.
func (db *DB) LinksOnInterface(ifname string) []*Link {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*Link
	for k, l := range db.links {
		if k.IfName == ifname {
			out = append(out, l)
		}
	}
	return out
}

// Tick expires timers, transitions links into and out of their loss grace
// period, removes fully-expired links, and GCs empty neighbors (spec §4.2,
// invariants (a)-(c)). It must be called regularly by the event loop's
// timer wheel (spec §5).
func (db *DB) Tick(now time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var removedLinks []*Link
	for key, l := range db.links {
		for thKey, th := range l.TwoHops {
			if !th.Expiry.After(now) {
				delete(l.TwoHops, thKey)
			}
		}

		if l.State(now) != Lost {
			continue
		}
		if !l.inLossGrace() {
			l.LostUntil = now.Add(lossGraceVTime(l))
			continue
		}
		if l.expired(now) {
			delete(db.links, key)
			removedLinks = append(removedLinks, l)
		}
	}

	for _, l := range removedLinks {
		n := l.Neighbor
		if n == nil {
			continue
		}
		n.removeLink(l)
		if p := l.Partner; p != nil {
			p.Partner = nil
		}
		for _, la := range l.Addresses {
			if na, ok := n.Addresses[la.Addr.AsKey()]; ok {
				na.Lost = true
				na.LostExpiry = now.Add(lossGraceVTime(l))
			}
		}
	}

	for key, n := range db.neighbors {
		n.recomputeSymCount(now)
		for akey, na := range n.Addresses {
			if na.Lost && !na.LostExpiry.After(now) {
				delete(n.Addresses, akey)
			}
		}
		if n.isEmpty() {
			if p := n.Partner; p != nil {
				p.Partner = nil
			}
			delete(db.neighbors, key)
			db.emit(Event{Kind: Removed, Originator: n.Originator})
		}
	}
}

// lossGraceVTime is the VTIME used once a link enters loss: the protocol
// does not define a separate hold-time constant, so the link's own last
// received validity_time stands in for L_HOLD_TIME.
func lossGraceVTime(l *Link) time.Duration {
	if l.Validity > 0 {
		return l.Validity
	}
	return 0
}
