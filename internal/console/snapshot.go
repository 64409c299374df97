// Package console implements the read-only state export and live-feed
// server (spec §6.5): a point-in-time JSON snapshot of NHDP, topology, L2IB,
// and a FIB route set, served over a Unix socket, plus a websocket feed
// that pushes a fresh snapshot whenever the NHDP or topology database
// reports a change (L2IB changes alone do not trigger a push). Grounded on the teacher's Unix-socket status
// server (internal/control) for the request/response shape and its
// internal/signaling hub for the websocket push pattern.
package console

import (
	"sort"
	"time"

	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/metric"
	"github.com/kuuji/meshrtr/internal/nhdp"
	"github.com/kuuji/meshrtr/internal/topology"
)

const (
	txSignalIndex  = metric.NeighTxSignal
	rxSignalIndex  = metric.NeighRxSignal
	txBitrateIndex = metric.NeighTxBitrate
	rxBitrateIndex = metric.NeighRxBitrate
)

// i64Cell reads an integer-valued L2IB cell, returning nil if it is unset or
// holds a different value kind.
func i64Cell(c l2ib.Cell) *int64 {
	if c.Value.Kind != l2ib.KindI64 {
		return nil
	}
	v := c.Value.I64
	return &v
}

// Snapshot is the full read-only export (spec §6.5): every accessor is a
// plain value, never a pointer into a live database, so a caller holding a
// Snapshot never observes a partial update.
type Snapshot struct {
	Taken time.Time `json:"taken"`

	Neighbors []NeighborView `json:"neighbors"`
	TCNodes   []TCNodeView   `json:"tc_nodes"`
	Routes    []RouteView    `json:"routes"`
	Nets      []NetView      `json:"nets"`
}

// NeighborView is one NHDP neighbor's current aggregated state.
type NeighborView struct {
	Originator string     `json:"originator"`
	SymCount   int        `json:"sym_count"`
	Addresses  []string   `json:"addresses"`
	Links      []LinkView `json:"links"`
}

// LinkView is one NHDP link's current state.
type LinkView struct {
	IfName string `json:"ifname"`
	State  string `json:"state"`
}

// TCNodeView is one TC-node's current topology.
type TCNodeView struct {
	Originator string         `json:"originator"`
	ANSN       uint16         `json:"ansn"`
	Edges      []TCEdgeView   `json:"edges"`
	Endpoints  []EndpointView `json:"endpoints"`
}

// TCEdgeView is one outbound TC-edge.
type TCEdgeView struct {
	To      string `json:"to"`
	Virtual bool   `json:"virtual"`
}

// EndpointView is one TC-endpoint (attached network or routable neighbor).
type EndpointView struct {
	Key  string `json:"key"`
	Kind string `json:"kind"`
}

// RouteView is one computed FIB target-set entry.
type RouteView struct {
	Dst      string `json:"dst"`
	Src      string `json:"src,omitempty"`
	Gateway  string `json:"gateway,omitempty"`
	Metric   uint32 `json:"metric"`
	Table    uint8  `json:"table"`
	Hopcount int    `json:"hopcount"`
}

// NetView is one L2IB interface record.
type NetView struct {
	IfName     string          `json:"ifname"`
	LocalAddrs []string        `json:"local_addrs"`
	Neighbors  []L2NeighborView `json:"neighbors"`
}

// L2NeighborView is one L2IB neighbor record under a Net.
type L2NeighborView struct {
	Key       string   `json:"key"`
	IPs       []string `json:"ips"`
	TxSignal  *int64   `json:"tx_signal,omitempty"`
	RxSignal  *int64   `json:"rx_signal,omitempty"`
	TxBitrate *int64   `json:"tx_bitrate,omitempty"`
	RxBitrate *int64   `json:"rx_bitrate,omitempty"`
}

// Build assembles a Snapshot from the current state of every subsystem's
// database. Each database's own read lock guarantees that database's own
// internal consistency; it does not freeze the whole daemon, matching the
// oonf_viewer-style "consistent per accessor, not cross-subsystem
// transactional" read model these databases already implement.
func Build(nhdpDB *nhdp.DB, topoDB *topology.DB, l2ibDB *l2ib.DB, routes []domain.RouteEntry, now time.Time) Snapshot {
	snap := Snapshot{Taken: now}

	for _, n := range nhdpDB.Neighbors() {
		nv := NeighborView{Originator: n.Originator.String(), SymCount: n.SymCount}
		for _, na := range n.Addresses {
			nv.Addresses = append(nv.Addresses, na.Addr.String())
		}
		sort.Strings(nv.Addresses)
		for _, l := range n.Links {
			nv.Links = append(nv.Links, LinkView{IfName: l.IfName, State: l.State(now).String()})
		}
		sort.Slice(nv.Links, func(i, j int) bool { return nv.Links[i].IfName < nv.Links[j].IfName })
		snap.Neighbors = append(snap.Neighbors, nv)
	}
	sort.Slice(snap.Neighbors, func(i, j int) bool { return snap.Neighbors[i].Originator < snap.Neighbors[j].Originator })

	for _, node := range topoDB.Nodes() {
		tv := TCNodeView{Originator: node.Originator.String(), ANSN: node.ANSN}
		for _, e := range node.Edges {
			tv.Edges = append(tv.Edges, TCEdgeView{To: e.To.Originator.String(), Virtual: e.Virtual()})
		}
		sort.Slice(tv.Edges, func(i, j int) bool { return tv.Edges[i].To < tv.Edges[j].To })
		for _, ep := range node.Endpoints {
			tv.Endpoints = append(tv.Endpoints, EndpointView{Key: ep.Key.String(), Kind: endpointKindString(ep.Kind)})
		}
		sort.Slice(tv.Endpoints, func(i, j int) bool { return tv.Endpoints[i].Key < tv.Endpoints[j].Key })
		snap.TCNodes = append(snap.TCNodes, tv)
	}
	sort.Slice(snap.TCNodes, func(i, j int) bool { return snap.TCNodes[i].Originator < snap.TCNodes[j].Originator })

	for _, rt := range routes {
		rv := RouteView{Dst: rt.Key.Dst.String(), Metric: rt.Metric, Table: rt.Table, Hopcount: rt.Hopcount}
		if !rt.Key.Src.IsZero() {
			rv.Src = rt.Key.Src.String()
		}
		if !rt.Gateway.IsZero() {
			rv.Gateway = rt.Gateway.String()
		}
		snap.Routes = append(snap.Routes, rv)
	}
	sort.Slice(snap.Routes, func(i, j int) bool { return snap.Routes[i].Dst < snap.Routes[j].Dst })

	if l2ibDB != nil {
		for _, net := range l2ibDB.Nets() {
			ntv := NetView{IfName: net.IfName}
			for _, a := range net.LocalAddrs() {
				ntv.LocalAddrs = append(ntv.LocalAddrs, a.String())
			}
			sort.Strings(ntv.LocalAddrs)
			for _, nb := range net.Neighbors() {
				l2v := L2NeighborView{Key: nb.Key.String()}
				for _, ip := range nb.IPs() {
					l2v.IPs = append(l2v.IPs, ip.String())
				}
				sort.Strings(l2v.IPs)
				l2v.TxSignal = i64Cell(nb.DataGet(txSignalIndex))
				l2v.RxSignal = i64Cell(nb.DataGet(rxSignalIndex))
				l2v.TxBitrate = i64Cell(nb.DataGet(txBitrateIndex))
				l2v.RxBitrate = i64Cell(nb.DataGet(rxBitrateIndex))
				ntv.Neighbors = append(ntv.Neighbors, l2v)
			}
			sort.Slice(ntv.Neighbors, func(i, j int) bool { return ntv.Neighbors[i].Key < ntv.Neighbors[j].Key })
			snap.Nets = append(snap.Nets, ntv)
		}
		sort.Slice(snap.Nets, func(i, j int) bool { return snap.Nets[i].IfName < snap.Nets[j].IfName })
	}

	return snap
}

func endpointKindString(k topology.EndpointKind) string {
	if k == topology.RoutableNeighbor {
		return "routable_neighbor"
	}
	return "attached_network"
}
