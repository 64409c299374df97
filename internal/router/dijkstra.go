package router

import (
	"container/heap"
	"time"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/metric"
	"github.com/kuuji/meshrtr/internal/nhdp"
	"github.com/kuuji/meshrtr/internal/topology"
)

// settled holds one node's final Dijkstra result: the path cost/hopcount
// to reach it from self, and the first-hop gateway/interface every node
// along the path shares (OLSRv2 routes are next-hop routes: everything
// past the first hop inherits it unchanged).
type settled struct {
	originator addr.NetAddr
	dist       uint32
	hops       int
	gateway    addr.NetAddr
	ifname     string
	isSelf     bool
}

// frontier is one container/heap entry: a candidate (not yet final)
// distance to key, ordered by (dist, hops, gateway) for the spec's
// tie-break and for making the result deterministic (R3) regardless of Go
// map iteration order.
type frontierItem struct {
	key     addr.Key
	dist    uint32
	hops    int
	gateway addr.NetAddr
	ifname  string
	index   int
}

type frontier []*frontierItem

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].dist != f[j].dist {
		return f[i].dist < f[j].dist
	}
	if f[i].hops != f[j].hops {
		return f[i].hops < f[j].hops
	}
	return f[i].gateway.Less(f[j].gateway)
}
func (f frontier) Swap(i, j int) {
	f[i], f[j] = f[j], f[i]
	f[i].index, f[j].index = i, j
}
func (f *frontier) Push(x any) {
	it := x.(*frontierItem)
	it.index = len(*f)
	*f = append(*f, it)
}
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}

// dijkstra runs one domain's shortest-path computation over self plus
// every symmetric NHDP neighbor plus the TC graph, then emits routes for
// every reached node's own address, its neighbor addresses, its TC
// endpoints, and self's configured LANs (spec §4.5).
func (r *Router) dijkstra(p domain.Params, lans []domain.LAN, now time.Time) []domain.RouteEntry {
	nodes := make(map[addr.Key]*settled)
	selfKey := r.Self.AsKey()
	nodes[selfKey] = &settled{originator: r.Self, isSelf: true}

	pq := &frontier{}
	heap.Init(pq)
	heap.Push(pq, &frontierItem{key: selfKey, dist: 0, hops: 0, gateway: r.Self})

	neighborByKey := make(map[addr.Key]*nhdp.Neighbor)
	for _, n := range r.NHDP.Neighbors() {
		neighborByKey[n.Originator.AsKey()] = n
	}

	visited := make(map[addr.Key]bool)
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*frontierItem)
		if visited[cur.key] {
			continue
		}
		visited[cur.key] = true
		st := nodes[cur.key]
		if !st.isSelf {
			st.dist, st.hops, st.gateway, st.ifname = cur.dist, cur.hops, cur.gateway, cur.ifname
		}

		if st.isSelf {
			r.relaxSelfNeighbors(p, now, neighborByKey, nodes, pq)
			continue
		}

		tcNode := r.Topology.Node(st.originator)
		if tcNode == nil {
			continue
		}
		for _, e := range tcNode.Edges {
			if !e.Valid(p.ID) {
				continue
			}
			cost, ok := e.Cost[p.ID]
			if !ok || !metricOK(cost) {
				continue
			}
			relax(nodes, pq, e.To.Originator, st.dist+cost, st.hops+1, st.gateway, st.ifname)
		}
	}

	var out []domain.RouteEntry
	for key, st := range nodes {
		if st.isSelf {
			continue
		}
		if n, ok := neighborByKey[key]; ok {
			out = append(out, r.neighborRoutes(p, n, st, now)...)
		}
		if tcNode := r.Topology.Node(st.originator); tcNode != nil {
			out = append(out, r.routeEntry(p, addr.RouteKey{Dst: st.originator}, st.dist, st.hops, st.gateway, st.ifname))
			out = append(out, r.endpointRoutes(p, tcNode, st)...)
		}
	}
	out = append(out, r.lanRoutes(p, lans)...)
	return out
}

// relax offers a candidate (dist, hops, gateway) for key; it only updates
// and re-pushes if strictly better under the spec's tie-break order.
func relax(nodes map[addr.Key]*settled, pq *frontier, to addr.NetAddr, dist uint32, hops int, gateway addr.NetAddr, ifname string) {
	key := to.AsKey()
	st, ok := nodes[key]
	if !ok {
		st = &settled{originator: to}
		nodes[key] = st
		st.dist = metric.Infinite
	}
	if better(dist, hops, gateway, st.dist, st.hops, st.gateway) || st.gateway.IsZero() {
		heap.Push(pq, &frontierItem{key: key, dist: dist, hops: hops, gateway: gateway, ifname: ifname})
	}
}

func better(dist uint32, hops int, gw addr.NetAddr, bestDist uint32, bestHops int, bestGw addr.NetAddr) bool {
	if dist != bestDist {
		return dist < bestDist
	}
	if hops != bestHops {
		return hops < bestHops
	}
	return gw.Less(bestGw)
}

// relaxSelfNeighbors offers every symmetric NHDP neighbor as a 1-hop
// candidate, at the cheapest SYM link's out-metric for this domain.
func (r *Router) relaxSelfNeighbors(p domain.Params, now time.Time, neighborByKey map[addr.Key]*nhdp.Neighbor, nodes map[addr.Key]*settled, pq *frontier) {
	for _, n := range neighborByKey {
		if n.SymCount == 0 {
			continue
		}
		link, cost, ok := bestSymLink(n, p.ID, now)
		if !ok {
			continue
		}
		gw, ifname, ok := gatewayFor(link, n.Originator.Family())
		if !ok {
			continue
		}
		relax(nodes, pq, n.Originator, cost, 1, gw, ifname)
	}
}

// bestSymLink returns the symmetric link to n with the lowest out-metric
// for domain d, ties broken by interface name; among equal links on the same
// interface the first one in n.Links wins.
func bestSymLink(n *nhdp.Neighbor, d domain.ID, now time.Time) (*nhdp.Link, uint32, bool) {
	var best *nhdp.Link
	var bestCost uint32 = metric.Infinite
	for _, l := range n.Links {
		if l.State(now) != nhdp.Sym {
			continue
		}
		c, ok := l.Metrics[d]
		if !ok || !metricOK(c.Out) {
			continue
		}
		if best == nil || c.Out < bestCost || (c.Out == bestCost && l.IfName < best.IfName) {
			best, bestCost = l, c.Out
		}
	}
	if best == nil {
		return nil, metric.Infinite, false
	}
	return best, bestCost, true
}

// neighborRoutes emits a route for every live (non-lost) address of a
// 1-hop NHDP neighbor, honoring the lost-address suppression window and
// the nhdp_routable/routable_acl gate on addresses that have no TC
// corroboration (spec §4.5).
func (r *Router) neighborRoutes(p domain.Params, n *nhdp.Neighbor, st *settled, now time.Time) []domain.RouteEntry {
	var out []domain.RouteEntry
	hasTC := r.Topology.Node(n.Originator) != nil

	if !hasTC {
		if !r.nhdpInstallAllowed(n.Originator) {
			return nil
		}
		out = append(out, r.routeEntry(p, addr.RouteKey{Dst: n.Originator}, st.dist, st.hops, st.gateway, st.ifname))
	}

	for _, na := range n.Addresses {
		if na.Addr.Equal(n.Originator) {
			continue
		}
		if na.Lost && na.LostExpiry.After(now) {
			continue
		}
		if !r.nhdpInstallAllowed(na.Addr) {
			continue
		}
		out = append(out, r.routeEntry(p, addr.RouteKey{Dst: na.Addr}, st.dist, st.hops, st.gateway, st.ifname))
	}
	return out
}

// nhdpInstallAllowed implements the nhdp_routable/routable_acl gate (spec
// §4.5) for an address known only through NHDP, with no TC backing.
func (r *Router) nhdpInstallAllowed(a addr.NetAddr) bool {
	if !r.NHDPRoutable {
		return false
	}
	if r.RoutableACL == nil {
		return true
	}
	ip, ok := a.AsIP()
	if !ok {
		return true
	}
	return r.RoutableACL.Allows(ip)
}

// endpointRoutes emits a route for every TC-endpoint attached to a reached
// node: cost and hopcount both accumulate on top of the path to that node
// (spec §4.5's "cost 0" baseline, overridden per-endpoint by its own
// GATEWAY/LINK_METRIC-derived cost/distance when present).
func (r *Router) endpointRoutes(p domain.Params, tcNode *topology.Node, st *settled) []domain.RouteEntry {
	var out []domain.RouteEntry
	for _, ep := range tcNode.Endpoints {
		cost := st.dist + ep.Cost[p.ID]
		hops := st.hops + int(ep.Distance[p.ID])
		key := ep.Key
		if !p.SourceSpecific {
			key.Src = addr.NetAddr{}
		}
		out = append(out, r.routeEntry(p, key, cost, hops, st.gateway, st.ifname))
	}
	return out
}

// lanRoutes injects self's locally configured LANs as pseudo-endpoints at
// zero path cost (spec §3.4).
func (r *Router) lanRoutes(p domain.Params, lans []domain.LAN) []domain.RouteEntry {
	var out []domain.RouteEntry
	for _, l := range lans {
		key := l.Key
		if !p.SourceSpecific {
			key.Src = addr.NetAddr{}
		}
		out = append(out, domain.RouteEntry{
			Family: key.Dst.Family(), Key: key,
			Metric: l.Metric, Table: p.KernelTableID, Protocol: p.ProtocolID,
			Type: domain.Unicast, Hopcount: int(l.Distance),
		})
	}
	return out
}

// routeEntry assembles a RouteEntry for key at the given path cost/hopcount
// via (gateway, ifname), resolving if_index and, for IPv4 when configured,
// a source IP on the outgoing interface (spec §4.5).
func (r *Router) routeEntry(p domain.Params, key addr.RouteKey, cost uint32, hops int, gateway addr.NetAddr, ifname string) domain.RouteEntry {
	e := domain.RouteEntry{
		Family: key.Dst.Family(), Key: key, Gateway: gateway,
		Metric: cost, Table: p.KernelTableID, Protocol: p.ProtocolID,
		Type: domain.Unicast, Hopcount: hops,
	}
	if r.IfIndex != nil {
		if idx, ok := r.IfIndex(ifname); ok {
			e.IfIndex = idx
		}
	}
	if p.UseSrcIPInRoutes && e.Family == addr.IPv4 && r.LocalAddr != nil {
		if src, ok := chooseSourceIP(r.LocalAddr(ifname), key.Dst); ok {
			e.SrcIP = src
		}
	}
	return e
}
