// Package l2ib implements the Layer-2 Information Base (spec §3.2, §4.1):
// the authoritative, multi-origin store of per-interface, per-neighbor and
// per-destination link measurements.
package l2ib

import (
	"fmt"
	"sync"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/metric"
)

// DB is the Layer-2 Information Base. It is mutated only through its public
// API (spec §5's ownership rule); cross-reads by the Router are safe
// snapshots between event-loop ticks.
type DB struct {
	mu sync.RWMutex

	origins map[string]*Origin
	nets    map[string]*Net

	listeners []Listener
	nextLID   uint8
}

// New constructs an empty L2IB.
func New() *DB {
	return &DB{
		origins: make(map[string]*Origin),
		nets:    make(map[string]*Net),
	}
}

// Subscribe registers a listener for commit events.
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

// OriginRegister registers a new writer. name must be unique.
func (db *DB) OriginRegister(name string, priority Priority, proactive bool) (*Origin, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.origins[name]; exists {
		return nil, fmt.Errorf("l2ib: origin %q already registered", name)
	}
	o := &Origin{Name: name, Priority: priority, Proactive: proactive, lidIndex: db.nextLID}
	db.nextLID++
	db.origins[name] = o
	return o, nil
}

// OriginRemove removes every cell and container owned by o and commits
// every touched net (spec §4.1).
func (db *DB) OriginRemove(o *Origin) {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.origins, o.Name)

	for ifName, net := range db.nets {
		changed := db.clearOriginFromNet(net, o)
		if changed {
			db.commitNetLocked(ifName, net)
		}
	}
}

func (db *DB) clearOriginFromNet(net *Net, o *Origin) bool {
	changed := false
	for i := range net.cells {
		if net.cells[i].clearIfOwnedBy(o) {
			changed = true
		}
	}
	for i := range net.neighDefault {
		if net.neighDefault[i].clearIfOwnedBy(o) {
			changed = true
		}
	}
	for key, a := range net.localAddrs {
		if a.origin == o {
			delete(net.localAddrs, key)
			changed = true
		}
	}
	for _, nb := range net.neighbors {
		for i := range nb.cells {
			if nb.cells[i].clearIfOwnedBy(o) {
				changed = true
			}
		}
		for key, d := range nb.dests {
			if d.Origin == o {
				delete(nb.dests, key)
				changed = true
			}
		}
	}
	return changed
}

// NetAdd returns the Net for ifName, creating it if absent.
func (db *DB) NetAdd(ifName string) *Net {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.netAddLocked(ifName)
}

func (db *DB) netAddLocked(ifName string) *Net {
	n, ok := db.nets[ifName]
	if !ok {
		n = newNet(ifName)
		db.nets[ifName] = n
	}
	return n
}

// Net looks up a net by interface name.
func (db *DB) Net(ifName string) (*Net, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n, ok := db.nets[ifName]
	return n, ok
}

// Nets returns all nets, for iteration by the console/router.
func (db *DB) Nets() []*Net {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Net, 0, len(db.nets))
	for _, n := range db.nets {
		out = append(out, n)
	}
	return out
}

// NetRemove clears origin's cells/destinations on net; the net itself is
// only actually dropped once empty (spec §4.1's restricted removal).
func (db *DB) NetRemove(net *Net, origin *Origin) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.clearOriginFromNet(net, origin)
	db.commitNetLocked(net.IfName, net)
}

// NetCommit garbage-collects empty containers under net and emits exactly
// one event (spec §4.1).
func (db *DB) NetCommit(net *Net) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.commitNetLocked(net.IfName, net)
}

func (db *DB) commitNetLocked(ifName string, net *Net) {
	for key, nb := range net.neighbors {
		if nb.isEmpty() {
			delete(net.neighbors, key)
		}
	}
	if net.isEmpty() {
		delete(db.nets, ifName)
		db.emit(Event{Kind: Removed, IfName: ifName})
		return
	}
	db.emit(Event{Kind: Changed, IfName: ifName})
}

// NeighAdd returns the Neighbor for (net, mac, linkID), creating it if
// absent.
func (db *DB) NeighAdd(net *Net, mac [6]byte, linkID []byte) *Neighbor {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := neighKey(mac, linkID)
	nb, ok := net.neighbors[key]
	if !ok {
		nb = newNeighbor(key, net)
		net.neighbors[key] = nb
	}
	return nb
}

// NeighAddByMAC is NeighAdd's shortcut for an empty link_id.
func (db *DB) NeighAddByMAC(net *Net, mac [6]byte) *Neighbor {
	return db.NeighAdd(net, mac, nil)
}

// NeighCommit garbage-collects net if the neighbor's removal emptied it, and
// always emits one event for the owning net (spec §4.1).
func (db *DB) NeighCommit(nb *Neighbor) {
	db.mu.Lock()
	defer db.mu.Unlock()
	net := nb.net
	if nb.isEmpty() {
		delete(net.neighbors, nb.Key)
	}
	db.commitNetLocked(net.IfName, net)
}

// DataSet writes a neighbor metric cell from origin by, applying the §3.2
// priority rule (T4).
func (db *DB) DataSet(nb *Neighbor, idx metric.NeighIndex, by *Origin, v Value) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return nb.DataSet(idx, by, v)
}

// DataFromString parses text per idx's Metadata and writes it (spec §4.1
// data_from_string).
func (db *DB) DataFromString(nb *Neighbor, idx metric.NeighIndex, by *Origin, text string) (bool, error) {
	v, err := metric.ParseValue(metric.NeighMetadata[idx], text)
	if err != nil {
		return false, err
	}
	return db.DataSet(nb, idx, by, I64Value(v)), nil
}

// NetRelabel rewrites every cell on net whose origin equals old to point to
// newOrigin, atomically (spec §4.1, T5).
func (db *DB) NetRelabel(net *Net, newOrigin, old *Origin) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := range net.cells {
		net.cells[i].relabel(newOrigin, old)
	}
	for i := range net.neighDefault {
		net.neighDefault[i].relabel(newOrigin, old)
	}
	for key, a := range net.localAddrs {
		if a.origin == old {
			a.origin = newOrigin
			net.localAddrs[key] = a
		}
	}
	for _, nb := range net.neighbors {
		db.neighRelabelLocked(nb, newOrigin, old)
	}
}

// NeighRelabel rewrites nb's cells/destinations owned by old to newOrigin.
func (db *DB) NeighRelabel(nb *Neighbor, newOrigin, old *Origin) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.neighRelabelLocked(nb, newOrigin, old)
}

func (db *DB) neighRelabelLocked(nb *Neighbor, newOrigin, old *Origin) {
	for i := range nb.cells {
		nb.cells[i].relabel(newOrigin, old)
	}
	for _, d := range nb.dests {
		if d.Origin == old {
			d.Origin = newOrigin
		}
	}
}

// NeighQuery implements the §3.2 effective-metric lookup rule: if the
// neighbor cell has a value, return it; otherwise the net's default;
// otherwise None. getDefault=false restricts the lookup to the neighbor's
// own cell.
func (db *DB) NeighQuery(net *Net, key NeighKey, idx metric.NeighIndex, getDefault bool) Value {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if nb, ok := net.neighbors[key]; ok {
		if c := nb.cells[idx]; !c.empty() {
			return c.Value
		}
	}
	if !getDefault {
		return NoneValue
	}
	if c := net.neighDefault[idx]; !c.empty() {
		return c.Value
	}
	return NoneValue
}

// AddDestination registers mac as a bridged destination reachable through
// nb, owned by origin.
func (db *DB) AddDestination(nb *Neighbor, origin *Origin, mac addr.NetAddr) *Destination {
	db.mu.Lock()
	defer db.mu.Unlock()
	d := &Destination{Addr: mac, Origin: origin, neigh: nb}
	nb.dests[mac.AsKey()] = d
	return d
}

// AddNetIP records a locally owned address on net.
func (db *DB) AddNetIP(net *Net, origin *Origin, a addr.NetAddr) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return net.AddLocalIP(origin, a)
}

// AddNeighIP records an address observed as claimed by nb, and denormalizes
// it into the owning net's remote-address cache for best-match lookups.
func (db *DB) AddNeighIP(nb *Neighbor, a addr.NetAddr) {
	db.mu.Lock()
	defer db.mu.Unlock()
	nb.AddIP(a)
	nb.net.addRemoteAddr(a)
}

// NetGetBestNeighborMatch returns the longest-prefix matching neighbor
// address across all nets (spec §4.1).
func (db *DB) NetGetBestNeighborMatch(ip addr.NetAddr) (addr.NetAddr, *Net, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var best addr.NetAddr
	var bestNet *Net
	found := false
	for _, net := range db.nets {
		for _, cand := range net.remoteAddrs {
			if !cand.Contains(ip) && !cand.Equal(ip) {
				continue
			}
			if !found || cand.PrefixLen() > best.PrefixLen() {
				best, bestNet, found = cand, net, true
			}
		}
	}
	return best, bestNet, found
}

// GenerateLID allocates a per-(origin,mac) monotonically increasing link-id
// on net for origin, as minimal big-endian bytes (spec §4.1).
func (db *DB) GenerateLID(net *Net, origin *Origin, mac [6]byte) []byte {
	db.mu.Lock()
	defer db.mu.Unlock()
	return net.generateLID(origin, mac)
}
