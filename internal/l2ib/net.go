package l2ib

import (
	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/metric"
)

// Type classifies the physical medium of a Net (spec §3.2).
type Type int

const (
	TypeUndefined Type = iota
	TypeWireless
	TypeEthernet
	TypeTunnel
)

// ownedAddr is a locally assigned IP address together with the origin that
// claimed it (spec §3.2).
type ownedAddr struct {
	addr   addr.NetAddr
	origin *Origin
}

// Net is an L2IB record keyed by interface name (spec §3.2).
type Net struct {
	IfName string
	Type   Type
	DLEP   bool

	cells        [metric.NetIndexCount()]Cell // per-interface data
	neighDefault [metric.NeighIndexCount()]Cell

	localAddrs  map[string]ownedAddr
	remoteAddrs map[string]addr.NetAddr // denormalized neighbor-address cache
	neighbors   map[NeighKey]*Neighbor

	lidCounters map[*Origin]map[[6]byte]uint32
}

func newNet(ifName string) *Net {
	return &Net{
		IfName:      ifName,
		localAddrs:  make(map[string]ownedAddr),
		remoteAddrs: make(map[string]addr.NetAddr),
		neighbors:   make(map[NeighKey]*Neighbor),
		lidCounters: make(map[*Origin]map[[6]byte]uint32),
	}
}

// DataSet writes a per-interface metric cell from origin `by`.
func (n *Net) DataSet(idx metric.NetIndex, by *Origin, v Value) bool {
	return n.cells[idx].set(by, v)
}

// DataGet returns the raw per-interface cell.
func (n *Net) DataGet(idx metric.NetIndex) Cell { return n.cells[idx] }

// DataSetDefault writes the net's default-per-neighbor cell at idx.
func (n *Net) DataSetDefault(idx metric.NeighIndex, by *Origin, v Value) bool {
	return n.neighDefault[idx].set(by, v)
}

// DataGetDefault returns the net's default-per-neighbor cell.
func (n *Net) DataGetDefault(idx metric.NeighIndex) Cell { return n.neighDefault[idx] }

// AddLocalIP registers a or overwrites its owner if `by` outranks the
// current owner (same priority rule as data cells, applied per-address).
func (n *Net) AddLocalIP(by *Origin, a addr.NetAddr) bool {
	key := string(a.AsKey())
	if cur, ok := n.localAddrs[key]; ok && !priorityAllows(cur.origin, by) {
		return false
	}
	n.localAddrs[key] = ownedAddr{addr: a, origin: by}
	return true
}

// LocalAddrs returns the net's locally assigned addresses.
func (n *Net) LocalAddrs() []addr.NetAddr {
	out := make([]addr.NetAddr, 0, len(n.localAddrs))
	for _, oa := range n.localAddrs {
		out = append(out, oa.addr)
	}
	return out
}

// AddRemoteAddr records an address observed as belonging to some neighbor on
// this net (denormalized cache for net_get_best_neighbor_match).
func (n *Net) addRemoteAddr(a addr.NetAddr) {
	n.remoteAddrs[string(a.AsKey())] = a
}

// Neighbors returns all neighbor records on this net.
func (n *Net) Neighbors() []*Neighbor {
	out := make([]*Neighbor, 0, len(n.neighbors))
	for _, nb := range n.neighbors {
		out = append(out, nb)
	}
	return out
}

// Neighbor looks up a neighbor by key.
func (n *Net) Neighbor(key NeighKey) (*Neighbor, bool) {
	nb, ok := n.neighbors[key]
	return nb, ok
}

// isEmpty reports whether the net has no neighbors and no cell with a value
// (spec §4.1 net_remove's restricted-removal condition).
func (n *Net) isEmpty() bool {
	if len(n.neighbors) != 0 {
		return false
	}
	for i := range n.cells {
		if !n.cells[i].empty() {
			return false
		}
	}
	for i := range n.neighDefault {
		if !n.neighDefault[i].empty() {
			return false
		}
	}
	return len(n.localAddrs) == 0
}

// generateLID allocates the next per-(origin,mac) link-id counter value for
// this net and encodes it as the origin's lidIndex byte followed by the
// minimal big-endian counter bytes (spec §4.1 generate_lid). Prefixing with
// lidIndex is how two origins independently calling generate_lid for the
// same MAC are kept from ever colliding on (mac, link_id): the spec's tie
// break is "two origins may claim the same (mac, link_id) only if they
// carry the same lid_index", which this encoding makes structural rather
// than a runtime check.
func (n *Net) generateLID(by *Origin, mac [6]byte) []byte {
	perOrigin, ok := n.lidCounters[by]
	if !ok {
		perOrigin = make(map[[6]byte]uint32)
		n.lidCounters[by] = perOrigin
	}
	perOrigin[mac]++
	return append([]byte{by.lidIndex}, addr.EncodeLinkID(perOrigin[mac])...)
}
